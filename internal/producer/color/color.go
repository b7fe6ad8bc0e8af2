// Package color implements a fixed-color producer: every tick emits one
// writable frame filled with a constant BGRA value and a silent audio chunk
// sized to the channel's current cadence slot. Used as the deterministic
// fixture in §8's scenario S1 and the reference "no real producer
// available" test double.
package color

import (
	"github.com/relaycore/channelcore/internal/frame"
	"github.com/relaycore/channelcore/internal/gpu"
	"github.com/relaycore/channelcore/internal/pixfmt"
	"github.com/relaycore/channelcore/internal/producer"
)

// Producer emits a solid color fill every tick, advancing frame_number
// monotonically. Never ends: NBFrames reports unknown.
type Producer struct {
	factory *gpu.FrameFactory
	format  pixfmt.VideoFormat
	cursor  *pixfmt.CadenceCursor
	desc    pixfmt.Descriptor
	b, g, r, a byte

	frameNumber uint64
	last        *frame.DrawFrame
}

// New creates a color producer for the given format, filling every pixel
// with the given BGRA bytes.
func New(factory *gpu.FrameFactory, format pixfmt.VideoFormat, b, g, r, a byte) *Producer {
	return &Producer{
		factory: factory,
		format:  format,
		cursor:  pixfmt.NewCadenceCursor(format.Cadence),
		desc:    pixfmt.NewPacked(pixfmt.BGRA, format.Width, format.Height),
		b: b, g: g, r: r, a: a,
		last: frame.EmptyFrame,
	}
}

// Receive fills a fresh writable frame with the constant color and the next
// cadence-sized silent audio chunk (§4.2 Producer contract).
func (p *Producer) Receive(flags producer.ReceiveFlags) *frame.DrawFrame {
	if flags.Paused {
		return p.last
	}

	wf, err := p.factory.CreateFrame("color", p.desc)
	if err != nil {
		return frame.LateFrame
	}
	fillSolid(wf.Bytes(), p.b, p.g, p.r, p.a)
	tex, err := wf.Commit()
	if err != nil {
		return frame.LateFrame
	}

	n := p.cursor.Peek()
	p.cursor.Next()
	audio := frame.Silence(n, 2)

	df := frame.NewWritable(tex, audio)
	p.last = df
	p.frameNumber++
	return df
}

// LastFrame returns the most recently emitted frame.
func (p *Producer) LastFrame() *frame.DrawFrame { return p.last }

// NBFrames reports unknown — a color fill has no natural end.
func (p *Producer) NBFrames() (uint64, bool) { return 0, false }

// FrameNumber returns this producer's emit count.
func (p *Producer) FrameNumber() uint64 { return p.frameNumber }

// SetPaused is a no-op; pausing is driven by the layer via ReceiveFlags.
func (p *Producer) SetPaused(bool) {}

// SetLeadingProducer is a no-op: color has no notion of a leading producer.
func (p *Producer) SetLeadingProducer(producer.Producer) {}

// Call supports no commands.
func (p *Producer) Call(command string, args ...string) (string, error) {
	return "", producer.ErrUnsupportedCommand
}

var _ producer.Producer = (*Producer)(nil)

func fillSolid(dst []byte, b, g, r, a byte) {
	for i := 0; i+4 <= len(dst); i += 4 {
		dst[i+0] = b
		dst[i+1] = g
		dst[i+2] = r
		dst[i+3] = a
	}
}
