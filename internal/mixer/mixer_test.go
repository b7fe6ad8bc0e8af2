package mixer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/relaycore/channelcore/internal/frame"
	"github.com/relaycore/channelcore/internal/gpu"
	"github.com/relaycore/channelcore/internal/pixfmt"
	"github.com/relaycore/channelcore/internal/stage"
)

// solidTexture fills a packed 4-channel texture with fill on every color
// byte and a fully-opaque alpha byte, so that KernelComposite's own-alpha
// blend (device_software.go's composite()) passes the color through
// unattenuated rather than scaling it down by a sub-255 alpha.
func solidTexture(t *testing.T, device gpu.Device, desc pixfmt.Descriptor, fill byte) *gpu.Texture {
	t.Helper()
	buf := device.CreateHostBuffer(desc.TotalSize(), gpu.UsageWrite)
	b := buf.MapForWrite()
	for i := range b {
		if i%4 == 3 {
			b[i] = 0xFF
		} else {
			b[i] = fill
		}
	}
	tex, err := device.CreateTexture(desc)
	if err != nil {
		t.Fatalf("CreateTexture: %v", err)
	}
	buf.Unmap()
	if err := device.Upload(buf, tex); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	buf.Release()
	return tex
}

func TestMixerCompositeProducesReadFrame(t *testing.T) {
	device := gpu.NewSoftwareDevice(gpu.NewPool())
	format := pixfmt.VideoFormat{Width: 4, Height: 4, FPS: 25, Cadence: []int{1920}}
	m := New(device, format, 2, nil, nil)
	defer m.Shutdown()

	desc := pixfmt.NewPacked(pixfmt.BGRA, format.Width, format.Height)
	tex := solidTexture(t, device, desc, 0x40)
	df := frame.NewWritable(tex, frame.Silence(format.Cadence[0], 2))

	tick := stage.Frame{Layers: map[int]*frame.DrawFrame{0: df}}
	ctx := context.Background()
	rf := m.composite(ctx, tick)
	if rf == nil {
		t.Fatal("composite returned nil read-frame on a healthy tick")
	}
	defer rf.Release()

	b := rf.Bytes()
	if len(b) == 0 {
		t.Fatal("composited read-frame has no bytes")
	}
	for i, v := range b {
		want := byte(0x40)
		if i%4 == 3 {
			want = 0xFF // alpha byte, opaque
		}
		if v != want {
			t.Fatalf("byte %d = %#x, want %#x (a single full-opacity leaf should pass through)", i, v, want)
		}
	}
	if m.Degraded() {
		t.Fatal("a healthy composite must not mark the channel degraded")
	}
}

// failingDevice wraps a real device but fails Render, exercising the
// degrade-and-reemit failure policy (§7) without needing a broken texture.
type failingDevice struct {
	gpu.Device
}

func (f *failingDevice) Render(gpu.Kernel, []gpu.RenderInput, *gpu.Texture) error {
	return errors.New("injected render failure")
}

func TestMixerDegradesAfterConsecutiveFailures(t *testing.T) {
	inner := gpu.NewSoftwareDevice(gpu.NewPool())
	device := &failingDevice{Device: inner}
	format := pixfmt.VideoFormat{Width: 2, Height: 2, FPS: 25, Cadence: []int{1920}}
	m := New(device, format, 2, nil, nil)
	defer m.Shutdown()

	desc := pixfmt.NewPacked(pixfmt.BGRA, format.Width, format.Height)
	tex, err := inner.CreateTexture(desc)
	if err != nil {
		t.Fatal(err)
	}
	df := frame.NewWritable(tex, frame.Silence(format.Cadence[0], 2))
	tick := stage.Frame{Layers: map[int]*frame.DrawFrame{0: df}}

	var last *frame.ReadFrame
	for i := 0; i < degradedThreshold; i++ {
		last = m.composite(context.Background(), tick)
		if last != nil {
			t.Fatalf("tick %d: expected nil (no prior frame to re-emit), got a frame", i)
		}
	}
	if !m.Degraded() {
		t.Fatal("expected channel to be degraded after consecutiveFail reached the threshold")
	}
}

func TestMixerInterlaceCompositeRendersBothFields(t *testing.T) {
	device := gpu.NewSoftwareDevice(gpu.NewPool())
	format := pixfmt.VideoFormat{Width: 2, Height: 2, FPS: 25, Cadence: []int{1920}}
	m := New(device, format, 2, nil, nil)
	defer m.Shutdown()

	desc := pixfmt.NewPacked(pixfmt.BGRA, format.Width, format.Height)
	upperField := frame.NewWritable(solidTexture(t, device, desc, 0x01), frame.Silence(format.Cadence[0], 2))
	lowerField := frame.NewWritable(solidTexture(t, device, desc, 0x02), frame.Silence(format.Cadence[0], 2))
	df := frame.NewComposite([]*frame.DrawFrame{upperField, lowerField}, frame.InterlaceUpper)

	tick := stage.Frame{Layers: map[int]*frame.DrawFrame{0: df}}
	rf := m.composite(context.Background(), tick)
	if rf == nil {
		t.Fatal("interlaced composite returned nil")
	}
	defer rf.Release()
	// InterlaceUpper paints f1 (0x01) on the even scanlines and f2 (0x02) on
	// the odd ones (§4.5, §8 scenario S4): row 0 is upperField's fill, row 1
	// is lowerField's.
	stride := desc.Planes[0].Stride
	b := rf.Bytes()
	for row := 0; row < desc.Planes[0].Height; row++ {
		fill := byte(0x01)
		if row%2 == 1 {
			fill = 0x02
		}
		rowBytes := b[row*stride : (row+1)*stride]
		for i, v := range rowBytes {
			want := fill
			if i%4 == 3 {
				want = 0xFF
			}
			if v != want {
				t.Fatalf("row %d byte %d = %#x, want %#x", row, i, v, want)
			}
		}
	}
}

func TestMixerRunDeliversToOutputMailbox(t *testing.T) {
	device := gpu.NewSoftwareDevice(gpu.NewPool())
	format := pixfmt.VideoFormat{Width: 2, Height: 2, FPS: 25, Cadence: []int{1920}}
	m := New(device, format, 2, nil, nil)
	defer m.Shutdown()

	st := stage.New(0, 2, 4, nil)
	defer st.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx, st)

	if err := st.Tick(ctx); err != nil {
		t.Fatal(err)
	}
	select {
	case rf := <-m.Output():
		rf.Release()
	case <-time.After(time.Second):
		t.Fatal("Run never delivered a composited frame to the output mailbox")
	}
}

// TestMixerSequentialTicksReleaseThroughFactory exercises the steady-state
// path the maintainer flagged: compositeLocked releases the previous tick's
// retained read-frame on every tick after the first, which must route
// through the frame factory's Unmap-then-pool.put rather than panicking on
// a still-mapped buffer (§4.1).
func TestMixerSequentialTicksReleaseThroughFactory(t *testing.T) {
	device := gpu.NewSoftwareDevice(gpu.NewPool())
	factory := gpu.NewFrameFactory(device, gpu.NewPool())
	defer factory.Shutdown()
	format := pixfmt.VideoFormat{Width: 2, Height: 2, FPS: 25, Cadence: []int{1920}}
	m := New(device, format, 2, factory, nil)
	defer m.Shutdown()

	desc := pixfmt.NewPacked(pixfmt.BGRA, format.Width, format.Height)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		tex := solidTexture(t, device, desc, 0x40)
		df := frame.NewWritable(tex, frame.Silence(format.Cadence[0], 2))
		tick := stage.Frame{Layers: map[int]*frame.DrawFrame{0: df}}
		rf := m.composite(ctx, tick)
		if rf == nil {
			t.Fatalf("tick %d: composite returned nil", i)
		}
		rf.Release()
	}
}
