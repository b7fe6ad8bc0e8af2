package layer

import (
	"testing"

	"github.com/relaycore/channelcore/internal/frame"
	"github.com/relaycore/channelcore/internal/producer"
)

// fakeProducer is a deterministic, pre-scripted Producer for exercising the
// Layer state machine without a real GPU-backed source.
type fakeProducer struct {
	frames      []*frame.DrawFrame
	pos         int
	total       uint64
	knownLength bool
	closed      bool
}

func newFake(frames []*frame.DrawFrame, total uint64, knownLength bool) *fakeProducer {
	return &fakeProducer{frames: frames, total: total, knownLength: knownLength}
}

func (p *fakeProducer) Receive(flags producer.ReceiveFlags) *frame.DrawFrame {
	if p.pos >= len(p.frames) {
		return frame.EOFFrame
	}
	df := p.frames[p.pos]
	p.pos++
	return df
}
func (p *fakeProducer) LastFrame() *frame.DrawFrame { return frame.EmptyFrame }
func (p *fakeProducer) NBFrames() (uint64, bool)    { return p.total, p.knownLength }
func (p *fakeProducer) FrameNumber() uint64         { return uint64(p.pos) }
func (p *fakeProducer) SetPaused(bool)              {}
func (p *fakeProducer) SetLeadingProducer(producer.Producer) {}
func (p *fakeProducer) Call(string, ...string) (string, error) {
	return "", producer.ErrUnsupportedCommand
}
func (p *fakeProducer) Close() error { p.closed = true; return nil }

// fakeDestroyer records DestroyProducer calls synchronously instead of
// routing through the real async queue.
type fakeDestroyer struct {
	destroyed []producer.Producer
}

func (d *fakeDestroyer) DestroyProducer(p producer.Producer) {
	d.destroyed = append(d.destroyed, p)
}

func writable(n int) []*frame.DrawFrame {
	out := make([]*frame.DrawFrame, n)
	for i := range out {
		out[i] = frame.NewWritable(nil, frame.Silence(1, 1))
	}
	return out
}

func TestLayerEmptyYieldsEmptyFrame(t *testing.T) {
	l := New(nil)
	if got := l.Receive(); got.Kind() != frame.Empty {
		t.Fatalf("empty layer Receive().Kind() = %v, want Empty", got.Kind())
	}
}

func TestLayerPlayAdvancesFrameNumber(t *testing.T) {
	l := New(nil)
	p := newFake(writable(3), 3, true)
	l.Load(p, false, nil)
	l.Play()

	for i := uint64(1); i <= 3; i++ {
		df := l.Receive()
		if df.Kind() != frame.Writable {
			t.Fatalf("tick %d: Kind() = %v, want Writable", i, df.Kind())
		}
		if got := l.FrameNumber(); got != i {
			t.Fatalf("tick %d: FrameNumber() = %d, want %d", i, got, i)
		}
	}
}

func TestLayerPauseFreezesOnLastFrame(t *testing.T) {
	l := New(nil)
	p := newFake(writable(5), 5, true)
	l.Load(p, false, nil)
	l.Play()

	first := l.Receive()
	l.Pause()
	for i := 0; i < 3; i++ {
		if got := l.Receive(); got != first {
			t.Fatalf("paused layer advanced on tick %d", i)
		}
	}
	if got := l.FrameNumber(); got != 1 {
		t.Fatalf("FrameNumber() after pausing = %d, want 1 (unchanged)", got)
	}
}

func TestLayerEOFWithoutBackgroundStops(t *testing.T) {
	l := New(nil)
	p := newFake(writable(1), 1, true)
	l.Load(p, false, nil)
	l.Play()

	l.Receive() // consumes the one frame
	df := l.Receive() // producer now reports EOF
	if df.Kind() != frame.Empty {
		t.Fatalf("Receive() after EOF with no background = %v, want Empty", df.Kind())
	}
	if l.State() != Stopped {
		t.Fatalf("State() after EOF with no background = %v, want Stopped", l.State())
	}
}

func TestLayerEOFPromotesBackground(t *testing.T) {
	d := &fakeDestroyer{}
	l := New(d)
	fg := newFake(writable(1), 1, true)
	bg := newFake(writable(2), 2, true)
	l.Load(fg, false, nil)
	l.Play()
	l.Load(bg, false, nil)

	l.Receive()       // consumes fg's only frame
	df := l.Receive() // fg reports EOF, bg promotes and immediately emits
	if df.Kind() != frame.Writable {
		t.Fatalf("Receive() after EOF-with-background = %v, want Writable", df.Kind())
	}
	if l.FrameNumber() != 1 {
		t.Fatalf("FrameNumber() after promotion+receive = %d, want 1", l.FrameNumber())
	}
	if len(d.destroyed) != 1 {
		t.Fatalf("expected the old foreground to be scheduled for destruction, got %d destroyed", len(d.destroyed))
	}
}

func TestLayerAutoPlayPromotesAtDelta(t *testing.T) {
	l := New(nil)
	// fg reports 2 total frames regardless of how many are actually
	// scripted; auto-play keys off NBFrames(), not the fake's own list.
	fg := newFake(writable(3), 2, true)
	bg := newFake(writable(2), 2, true)
	delta := int64(1)
	l.Load(fg, false, nil)
	l.Play()
	l.Load(bg, false, &delta)

	l.Receive() // frameNumber 0->1, remaining = 2-0 = 2, no promote yet
	l.Receive() // remaining = 2-1 = 1 == delta -> promotes before this receive
	if l.Foreground() != bg {
		t.Fatal("expected auto-play to have promoted background to foreground")
	}
	if l.FrameNumber() != 1 {
		t.Fatalf("FrameNumber() right after promotion = %d, want 1", l.FrameNumber())
	}
}

func TestLayerStopClearsForeground(t *testing.T) {
	d := &fakeDestroyer{}
	l := New(d)
	p := newFake(writable(2), 2, true)
	l.Load(p, false, nil)
	l.Play()
	l.Receive()
	l.Stop()

	if l.State() != Stopped {
		t.Fatalf("State() after Stop = %v, want Stopped", l.State())
	}
	if got := l.Receive(); got.Kind() != frame.Empty {
		t.Fatalf("Receive() after Stop = %v, want Empty", got.Kind())
	}
	if len(d.destroyed) != 1 {
		t.Fatalf("Stop should schedule the foreground for destruction, got %d", len(d.destroyed))
	}
}
