package output

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/relaycore/channelcore/internal/actor"
	"github.com/relaycore/channelcore/internal/consumer"
	"github.com/relaycore/channelcore/internal/destroyer"
	"github.com/relaycore/channelcore/internal/frame"
	"github.com/relaycore/channelcore/internal/gpu"
	"github.com/relaycore/channelcore/internal/pixfmt"
)

// fakeConsumer is a synchronous, scriptable consumer.Consumer for exercising
// fanout, buffer-depth rings, and the reinitialize/remove failure policy.
type fakeConsumer struct {
	mu          sync.Mutex
	index       int
	depth       int
	keyOnly     bool
	hasClock    bool
	received    []*frame.ReadFrame
	failSends   int // Send fails this many more times before succeeding
	initErr     error
	initCount   int
	closed      bool
}

func (c *fakeConsumer) Initialize(pixfmt.VideoFormat, int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initCount++
	return c.initErr
}

func (c *fakeConsumer) Send(_ context.Context, rf *frame.ReadFrame) *actor.Future[consumer.SendResult] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSends > 0 {
		c.failSends--
		return actor.Resolved(consumer.SendResult{Err: errors.New("injected send failure")})
	}
	c.received = append(c.received, rf)
	return actor.Resolved(consumer.SendResult{Accepted: true})
}

func (c *fakeConsumer) HasSynchronizationClock() bool { return c.hasClock }
func (c *fakeConsumer) BufferDepth() int              { return c.depth }
func (c *fakeConsumer) KeyOnly() bool                 { return c.keyOnly }
func (c *fakeConsumer) Index() int                    { return c.index }
func (c *fakeConsumer) Close() error                  { c.closed = true; return nil }

func (c *fakeConsumer) receivedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.received)
}

func readFrame(desc pixfmt.Descriptor, device gpu.Device) *frame.ReadFrame {
	buf := device.CreateHostBuffer(desc.TotalSize(), gpu.UsageRead)
	buf.MapForRead()
	return frame.NewReadFrame(desc, frame.Silence(1, 1), buf, 1, nil)
}

func TestOutputFanoutDeliversImmediatelyAtZeroDepth(t *testing.T) {
	device := gpu.NewSoftwareDevice(gpu.NewPool())
	format := pixfmt.VideoFormat{Width: 2, Height: 2, FPS: 1000, Cadence: []int{1}}
	o := New(device, nil, nil, format, nil)
	defer o.Shutdown()

	c := &fakeConsumer{index: 0}
	if err := o.AddConsumer(0, c); err != nil {
		t.Fatal(err)
	}

	desc := pixfmt.NewPacked(pixfmt.BGRA, format.Width, format.Height)
	rf := readFrame(desc, device)
	o.fanout(context.Background(), rf, nil)

	if c.receivedCount() != 1 {
		t.Fatalf("receivedCount() = %d, want 1 (zero buffer depth delivers same tick)", c.receivedCount())
	}
}

func TestOutputFanoutHonorsBufferDepth(t *testing.T) {
	device := gpu.NewSoftwareDevice(gpu.NewPool())
	format := pixfmt.VideoFormat{Width: 2, Height: 2, FPS: 1000, Cadence: []int{1}}
	o := New(device, nil, nil, format, nil)
	defer o.Shutdown()

	c := &fakeConsumer{index: 0, depth: 2}
	if err := o.AddConsumer(0, c); err != nil {
		t.Fatal(err)
	}
	desc := pixfmt.NewPacked(pixfmt.BGRA, format.Width, format.Height)

	for i := 0; i < 2; i++ {
		o.fanout(context.Background(), readFrame(desc, device), nil)
		if c.receivedCount() != 0 {
			t.Fatalf("tick %d: receivedCount() = %d, want 0 before the ring fills to depth %d", i, c.receivedCount(), c.depth)
		}
	}
	o.fanout(context.Background(), readFrame(desc, device), nil)
	if c.receivedCount() != 1 {
		t.Fatalf("receivedCount() = %d, want 1 once the ring exceeds depth", c.receivedCount())
	}
}

func TestOutputFailureReinitializesThenRemoves(t *testing.T) {
	device := gpu.NewSoftwareDevice(gpu.NewPool())
	format := pixfmt.VideoFormat{Width: 2, Height: 2, FPS: 1000, Cadence: []int{1}}
	d := destroyer.New(nil, 4)
	defer d.Shutdown()
	o := New(device, nil, d, format, nil)
	defer o.Shutdown()

	c := &fakeConsumer{index: 0, failSends: 2}
	if err := o.AddConsumer(0, c); err != nil {
		t.Fatal(err)
	}
	desc := pixfmt.NewPacked(pixfmt.BGRA, format.Width, format.Height)

	// First failure: reinitialize, stay registered.
	o.fanout(context.Background(), readFrame(desc, device), nil)
	time.Sleep(20 * time.Millisecond)
	var stillThere bool
	o.exec.Invoke(func() { _, stillThere = o.slots[0] })
	if !stillThere {
		t.Fatal("consumer removed after its first failure; expected one reinitialize attempt first")
	}

	// Second consecutive failure: removed.
	o.fanout(context.Background(), readFrame(desc, device), nil)
	time.Sleep(20 * time.Millisecond)
	o.exec.Invoke(func() { _, stillThere = o.slots[0] })
	if stillThere {
		t.Fatal("consumer should have been removed after a second consecutive failure")
	}
}

func TestOutputKeyOnlyDerivedOncePerTick(t *testing.T) {
	device := gpu.NewSoftwareDevice(gpu.NewPool())
	factory := gpu.NewFrameFactory(device, gpu.NewPool())
	defer factory.Shutdown()
	format := pixfmt.VideoFormat{Width: 2, Height: 2, FPS: 1000, Cadence: []int{1}}
	o := New(device, factory, nil, format, nil)
	defer o.Shutdown()

	keyed := &fakeConsumer{index: 0, keyOnly: true}
	plain := &fakeConsumer{index: 1}
	if err := o.AddConsumer(0, keyed); err != nil {
		t.Fatal(err)
	}
	if err := o.AddConsumer(1, plain); err != nil {
		t.Fatal(err)
	}

	desc := pixfmt.NewPacked(pixfmt.BGRA, format.Width, format.Height)
	buf := device.CreateHostBuffer(desc.TotalSize(), gpu.UsageRead)
	buf.MapForRead()
	rf := frame.NewReadFrame(desc, frame.Silence(1, 1), buf, 1, factory)
	o.tick(context.Background(), rf, time.NewTicker(time.Millisecond))

	if keyed.receivedCount() != 1 || plain.receivedCount() != 1 {
		t.Fatalf("receivedCount() keyed=%d plain=%d, want 1 each", keyed.receivedCount(), plain.receivedCount())
	}
}

// TestOutputKeyOnlyReadFrameReleasesThroughFactory exercises the maintainer-
// flagged release path on the derived key-only variant: its buffer came off
// a real Readback (mapped for read) and must survive a full Retain/Release
// cycle down to zero without panicking (§4.1).
func TestOutputKeyOnlyReadFrameReleasesThroughFactory(t *testing.T) {
	device := gpu.NewSoftwareDevice(gpu.NewPool())
	factory := gpu.NewFrameFactory(device, gpu.NewPool())
	defer factory.Shutdown()
	format := pixfmt.VideoFormat{Width: 2, Height: 2, FPS: 1000, Cadence: []int{1}}
	o := New(device, factory, nil, format, nil)
	defer o.Shutdown()

	desc := pixfmt.NewPacked(pixfmt.BGRA, format.Width, format.Height)
	buf := device.CreateHostBuffer(desc.TotalSize(), gpu.UsageRead)
	buf.MapForRead()
	rf := frame.NewReadFrame(desc, frame.Silence(1, 1), buf, 1, factory)

	keyVariant := o.deriveKeyOnly(rf)
	if keyVariant == nil {
		t.Fatal("deriveKeyOnly returned nil")
	}
	keyVariant.Release()
	rf.Release()
}
