// Package producer defines the source-of-draw-frames contract every
// concrete input (file decoder, color generator, still image, network
// source) implements (§4.2).
package producer

import "github.com/relaycore/channelcore/internal/frame"

// ReceiveFlags modifies how a tick's receive() behaves.
type ReceiveFlags struct {
	// Paused asks the producer to re-emit its current frame instead of
	// advancing, used by a layer in the paused state.
	Paused bool
}

// Producer is an opaque source of a lazy sequence of draw-frames and
// matching audio chunks, addressed by integer layer id by its owning Layer.
// Safe to call from one goroutine at a time, never concurrently — the
// owning Layer (itself single-threaded via its Stage's executor) is the
// only caller.
type Producer interface {
	// Receive returns the next draw-frame. Must not block the caller's
	// thread beyond roughly half a tick; if the underlying source can't
	// deliver in time it returns frame.LateFrame rather than blocking
	// further (§4.2).
	Receive(flags ReceiveFlags) *frame.DrawFrame

	// LastFrame is idempotent: the last concrete frame emitted, or
	// frame.EmptyFrame before the first Receive call.
	LastFrame() *frame.DrawFrame

	// NBFrames returns the total known frame count, or (0, false) if the
	// source has no fixed length (e.g. a live feed).
	NBFrames() (uint64, bool)

	// FrameNumber returns the producer's own position counter.
	FrameNumber() uint64

	// SetPaused toggles whether Receive should advance or re-emit.
	SetPaused(paused bool)

	// SetLeadingProducer chains this producer behind other, used to
	// late-bind an upstream transition (e.g. a still image that should
	// start counting frames only once the producer ahead of it finishes).
	// The relation is a weak reference: it must not extend other's
	// lifetime.
	SetLeadingProducer(other Producer)

	// Call is an out-of-band control hook (seek, parameter change) a
	// concrete producer may expose; producers with nothing to accept
	// return an error for unrecognized commands.
	Call(command string, args ...string) (string, error)
}

// emptyProducer is the shared empty producer: every Receive/LastFrame call
// returns frame.EmptyFrame, used to fill a Layer's unoccupied slot.
type emptyProducer struct{}

// Empty is the shared empty-producer singleton. Safe to share since it is
// stateless.
var Empty Producer = emptyProducer{}

func (emptyProducer) Receive(ReceiveFlags) *frame.DrawFrame { return frame.EmptyFrame }
func (emptyProducer) LastFrame() *frame.DrawFrame           { return frame.EmptyFrame }
func (emptyProducer) NBFrames() (uint64, bool)              { return 0, false }
func (emptyProducer) FrameNumber() uint64                   { return 0 }
func (emptyProducer) SetPaused(bool)                        {}
func (emptyProducer) SetLeadingProducer(Producer) {}
func (emptyProducer) Call(string, ...string) (string, error) {
	return "", ErrUnsupportedCommand
}
