// Package consumer defines the sink contract every concrete output (SDI,
// file, screen, audio) implements, plus the shared empty consumer (§4.7).
package consumer

import (
	"context"

	"github.com/relaycore/channelcore/internal/actor"
	"github.com/relaycore/channelcore/internal/frame"
	"github.com/relaycore/channelcore/internal/pixfmt"
)

// Consumer is a registered output sink. Exactly one Output owns each
// registered consumer; Send is only ever called from that Output's
// per-consumer fanout goroutine for one tick at a time.
type Consumer interface {
	// Initialize is called at registration and again by the output after a
	// failed Send; implementations must reset any internal buffering. It is
	// not called when the channel's video format changes.
	Initialize(desc pixfmt.VideoFormat, channelIndex int) error

	// Send hands off a read-frame. The frame is valid until the returned
	// future resolves — Send may defer processing onto its own worker but
	// must not retain the frame past that point. A resolved false means
	// the consumer wants to be removed; a resolved Err is treated as a
	// transient failure (§7): the output reinitializes the consumer once and
	// removes it if the next Send fails as well.
	Send(ctx context.Context, rf *frame.ReadFrame) *actor.Future[SendResult]

	// HasSynchronizationClock reports whether this consumer's own pacing
	// (e.g. an SDI card's genlock) should drive the output's tick cadence
	// instead of the host clock.
	HasSynchronizationClock() bool

	// BufferDepth is how many ticks old a frame this consumer wants to
	// receive, for late-binding alignment (§4.6).
	BufferDepth() int

	// KeyOnly reports whether this consumer wants the alpha-replicated key
	// variant of each frame instead of the composited RGBA.
	KeyOnly() bool

	// Index is this consumer's registry slot, used as a tie-break for
	// deterministic fanout ordering.
	Index() int

	// Close releases any resources the consumer holds. Called from the
	// destroyer domain (§4.8), never from the output's own tick path.
	Close() error
}

// SendResult is what a Send future resolves to.
type SendResult struct {
	Accepted bool
	Err      error
}

// emptyConsumer discards every frame and never asks to be removed; used as
// a registry placeholder and in tests.
type emptyConsumer struct {
	index int
}

// NewEmpty returns a consumer that accepts and discards every frame.
func NewEmpty(index int) Consumer { return emptyConsumer{index: index} }

func (emptyConsumer) Initialize(pixfmt.VideoFormat, int) error { return nil }

func (emptyConsumer) Send(_ context.Context, _ *frame.ReadFrame) *actor.Future[SendResult] {
	return actor.Resolved(SendResult{Accepted: true})
}

func (emptyConsumer) HasSynchronizationClock() bool { return false }
func (emptyConsumer) BufferDepth() int              { return 0 }
func (emptyConsumer) KeyOnly() bool                 { return false }
func (e emptyConsumer) Index() int                  { return e.index }
func (emptyConsumer) Close() error                  { return nil }
