package color

import (
	"testing"

	"github.com/relaycore/channelcore/internal/frame"
	"github.com/relaycore/channelcore/internal/gpu"
	"github.com/relaycore/channelcore/internal/pixfmt"
	"github.com/relaycore/channelcore/internal/producer"
)

func TestColorProducerFillsSolid(t *testing.T) {
	device := gpu.NewSoftwareDevice(gpu.NewPool())
	factory := gpu.NewFrameFactory(device, gpu.NewPool())
	defer factory.Shutdown()

	format := pixfmt.VideoFormat{Width: 2, Height: 2, FPS: 25, Cadence: []int{1920}}
	p := New(factory, format, 0x10, 0x20, 0x30, 0xFF)

	df := p.Receive(producer.ReceiveFlags{})
	if df.Kind() != frame.Writable {
		t.Fatalf("Receive().Kind() = %v, want Writable", df.Kind())
	}
	buf, err := device.Readback(df.Texture())
	if err != nil {
		t.Fatal(err)
	}
	b := buf.Bytes()
	for i := 0; i+4 <= len(b); i += 4 {
		if b[i] != 0x10 || b[i+1] != 0x20 || b[i+2] != 0x30 || b[i+3] != 0xFF {
			t.Fatalf("pixel %d = %v, want [10 20 30 ff]", i/4, b[i:i+4])
		}
	}
	if p.FrameNumber() != 1 {
		t.Fatalf("FrameNumber() = %d, want 1", p.FrameNumber())
	}
}

func TestColorProducerPausedReemitsLastFrame(t *testing.T) {
	device := gpu.NewSoftwareDevice(gpu.NewPool())
	factory := gpu.NewFrameFactory(device, gpu.NewPool())
	defer factory.Shutdown()

	format := pixfmt.VideoFormat{Width: 2, Height: 2, FPS: 25, Cadence: []int{1920}}
	p := New(factory, format, 0, 0, 0, 0xFF)

	first := p.Receive(producer.ReceiveFlags{})
	second := p.Receive(producer.ReceiveFlags{Paused: true})
	if second != first {
		t.Fatal("a paused Receive must re-emit the exact last frame, not a new one")
	}
	if p.FrameNumber() != 1 {
		t.Fatalf("FrameNumber() after a paused tick = %d, want unchanged at 1", p.FrameNumber())
	}
}

func TestColorProducerNeverEnds(t *testing.T) {
	p := New(nil, pixfmt.VideoFormat{}, 0, 0, 0, 0)
	if _, known := p.NBFrames(); known {
		t.Fatal("a color fill has no natural end; NBFrames should report unknown")
	}
}

func TestColorProducerCallUnsupported(t *testing.T) {
	p := New(nil, pixfmt.VideoFormat{}, 0, 0, 0, 0)
	if _, err := p.Call("seek", "0"); err != producer.ErrUnsupportedCommand {
		t.Fatalf("Call() error = %v, want ErrUnsupportedCommand", err)
	}
}
