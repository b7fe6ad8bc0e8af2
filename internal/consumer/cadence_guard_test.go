package consumer

import (
	"context"
	"testing"

	"github.com/relaycore/channelcore/internal/actor"
	"github.com/relaycore/channelcore/internal/frame"
	"github.com/relaycore/channelcore/internal/pixfmt"
)

// recordingConsumer counts accepted sends without touching a real buffer.
type recordingConsumer struct {
	sent int
}

func (c *recordingConsumer) Initialize(pixfmt.VideoFormat, int) error { return nil }
func (c *recordingConsumer) Send(context.Context, *frame.ReadFrame) *actor.Future[SendResult] {
	c.sent++
	return actor.Resolved(SendResult{Accepted: true})
}
func (c *recordingConsumer) HasSynchronizationClock() bool { return false }
func (c *recordingConsumer) BufferDepth() int              { return 0 }
func (c *recordingConsumer) KeyOnly() bool                 { return false }
func (c *recordingConsumer) Index() int                    { return 0 }
func (c *recordingConsumer) Close() error                  { return nil }

func audioOf(samples int) *frame.ReadFrame {
	return &frame.ReadFrame{Audio: frame.AudioChunk{Samples: make([]int32, samples*2), Channels: 2}}
}

// TestCadenceGuardPassesThroughUniformCadence exercises the common case:
// a single-slot cadence (progressive, fixed samples-per-frame) never needs
// realignment.
func TestCadenceGuardPassesThroughUniformCadence(t *testing.T) {
	inner := &recordingConsumer{}
	g := NewCadenceGuard(inner)
	if err := g.Initialize(pixfmt.VideoFormat{Cadence: []int{1920}}, 0); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		g.Send(context.Background(), audioOf(1920))
	}
	if inner.sent != 3 {
		t.Fatalf("sent = %d, want 3 (uniform cadence needs no realignment)", inner.sent)
	}
}

// TestCadenceGuardHoldsSendsUntilRealigned exercises the NTSC-style guard:
// a consumer that joins mid-cycle must not see a chunk until the observed
// sequence matches the declared cadence starting from slot zero.
func TestCadenceGuardHoldsSendsUntilRealigned(t *testing.T) {
	inner := &recordingConsumer{}
	g := NewCadenceGuard(inner)
	cadence := []int{1602, 1601, 1602, 1601, 1602}
	if err := g.Initialize(pixfmt.VideoFormat{Cadence: cadence}, 0); err != nil {
		t.Fatal(err)
	}

	// Join mid-cycle, one slot off from zero: every send is misaligned and
	// must be swallowed rather than forwarded.
	offsets := []int{1601, 1602, 1601, 1602}
	for _, n := range offsets {
		g.Send(context.Background(), audioOf(n))
	}
	if inner.sent != 0 {
		t.Fatalf("sent = %d, want 0 while out of phase with the declared cadence", inner.sent)
	}

	// Continuing the same periodic stream for two more full cadence
	// periods must eventually bring the window back into phase with slot
	// zero, at which point the guard starts forwarding.
	continuation := append(append([]int(nil), cadence...), cadence...)
	for _, n := range continuation {
		g.Send(context.Background(), audioOf(n))
	}
	if inner.sent == 0 {
		t.Fatal("expected at least one forwarded send once the cadence realigned")
	}
}
