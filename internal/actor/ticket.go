package actor

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Ticket is the stage→mixer backpressure governor (§4.9): the stage
// acquires a ticket before handing a frame off to the mixer's mailbox and
// the mixer releases it as soon as it has composited that frame. The ticket
// does not cover the output's consumer fanout. Bounding outstanding tickets to a small
// constant (1–3) bounds how many frames can be in flight between stage and
// mixer without the stage blocking on a full mailbox.
type Ticket struct {
	sem *semaphore.Weighted
}

// NewTicket creates a governor allowing up to limit frames in flight.
func NewTicket(limit int64) *Ticket {
	return &Ticket{sem: semaphore.NewWeighted(limit)}
}

// Acquire blocks until a slot is free or ctx is done.
func (t *Ticket) Acquire(ctx context.Context) error {
	return t.sem.Acquire(ctx, 1)
}

// TryAcquire claims a slot without blocking, reporting success.
func (t *Ticket) TryAcquire() bool {
	return t.sem.TryAcquire(1)
}

// Release frees one in-flight slot.
func (t *Ticket) Release() {
	t.sem.Release(1)
}
