// Package stage implements the per-channel layer collection: a dedicated
// executor serializing layer mutations, a fork-join per-tick receive across
// all layers, and the bounded mailbox handing the resulting map to the
// mixer (§4.4).
package stage

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaycore/channelcore/internal/actor"
	"github.com/relaycore/channelcore/internal/frame"
	"github.com/relaycore/channelcore/internal/layer"
	"github.com/relaycore/channelcore/internal/producer"
)

const shutdownGrace = 2 * time.Second

// Frame is one tick's collected output: the layer map. The in-flight ticket
// Tick acquired for it is not carried here; the consumer of the frame frees
// it with Stage.ReleaseTicket.
type Frame struct {
	Layers map[int]*frame.DrawFrame
}

// Stage owns one channel's layer set. All mutation methods dispatch onto
// stage's own executor; Tick additionally fans layer.Receive out across a
// worker pool since producers are independent of one another.
type Stage struct {
	index int // this channel's index, used for cross-channel lock ordering

	exec   *actor.Executor
	layers map[int]*layer.Layer

	mailbox chan Frame
	ticket  *actor.Ticket

	destroyer layer.Destroyer

	ticketWaits  int64 // atomic: ticks that had to wait for a ticket
	ticketWaitNs int64 // atomic: cumulative nanoseconds spent waiting
}

// Stats is a snapshot of the stage's backpressure counters (§4.9).
type Stats struct {
	TicketWaits  int64
	TicketWaitNs int64
}

// Stats reports how often and how long Tick has blocked waiting for an
// in-flight ticket, surfaced so an operator can tell mechanical
// backpressure apart from an actually-stuck pipeline.
func (s *Stage) Stats() Stats {
	return Stats{
		TicketWaits:  atomic.LoadInt64(&s.ticketWaits),
		TicketWaitNs: atomic.LoadInt64(&s.ticketWaitNs),
	}
}

// New creates a stage for the channel at the given index (used only to
// order cross-channel swaps), with a bounded mailbox of the given capacity
// (1–2 per §4.4) feeding the mixer. destroyer may be nil in tests that don't
// care about asynchronous producer teardown.
func New(index int, mailboxCapacity int, inFlightLimit int64, destroyer layer.Destroyer) *Stage {
	return &Stage{
		index:     index,
		exec:      actor.NewExecutor("stage", 4),
		layers:    make(map[int]*layer.Layer),
		mailbox:   make(chan Frame, mailboxCapacity),
		ticket:    actor.NewTicket(inFlightLimit),
		destroyer: destroyer,
	}
}

// Index returns this stage's channel index.
func (s *Stage) Index() int { return s.index }

// Mailbox is the bounded channel the mixer reads ticks from.
func (s *Stage) Mailbox() <-chan Frame { return s.mailbox }

// Layer returns (creating if necessary) the layer at id, always dispatched
// through the stage executor so layer creation never races a Tick.
func (s *Stage) Layer(id int) *layer.Layer {
	var l *layer.Layer
	s.exec.Invoke(func() {
		l = s.layerLocked(id)
	})
	return l
}

func (s *Stage) layerLocked(id int) *layer.Layer {
	if l, ok := s.layers[id]; ok {
		return l
	}
	l := layer.New(s.destroyer)
	s.layers[id] = l
	return l
}

// Load, Play, Pause, Stop dispatch the corresponding Layer method through
// the stage executor (§4.4 "all layer mutations ... are dispatched to this
// executor and serialized").
func (s *Stage) Load(id int, p producer.Producer, preview bool, autoPlayDelta *int64) {
	s.exec.Invoke(func() {
		s.layerLocked(id).Load(p, preview, autoPlayDelta)
	})
}

func (s *Stage) Play(id int) {
	s.exec.Invoke(func() { s.layerLocked(id).Play() })
}

func (s *Stage) PauseLayer(id int) {
	s.exec.Invoke(func() { s.layerLocked(id).Pause() })
}

func (s *Stage) StopLayer(id int) {
	s.exec.Invoke(func() { s.layerLocked(id).Stop() })
}

func (s *Stage) ClearLayer(id int) {
	s.exec.Invoke(func() { s.layerLocked(id).Clear() })
}

// SwapLayer atomically exchanges the layer objects at a and b within this
// stage.
func (s *Stage) SwapLayer(a, b int) {
	s.exec.Invoke(func() {
		la, lb := s.layerLocked(a), s.layerLocked(b)
		s.layers[a], s.layers[b] = lb, la
	})
}

// SwapLayerCrossChannel atomically exchanges layer a of this stage with
// layer b of other. Cross-channel swap requires both stages' executors;
// invariants are preserved by always acquiring the lower-indexed stage's
// executor first (§9 Open Question resolution, §4.4).
func (s *Stage) SwapLayerCrossChannel(a int, other *Stage, b int) {
	first, second := s, other
	firstID, secondID := a, b
	if other.index < s.index {
		first, second = other, s
		firstID, secondID = b, a
	}
	first.exec.Invoke(func() {
		second.exec.Invoke(func() {
			la := first.layerLocked(firstID)
			lb := second.layerLocked(secondID)
			first.layers[firstID] = lb
			second.layers[secondID] = la
		})
	})
}

// Tick collects one draw-frame per populated layer, fanning Receive out
// across a worker pool (producers are independent) and merging results back
// on the stage executor, then pushes the map into the mailbox — blocking
// (not dropping) if it's full, per §4.4's backpressure direction.
func (s *Stage) Tick(ctx context.Context) error {
	if !s.ticket.TryAcquire() {
		start := time.Now()
		if err := s.ticket.Acquire(ctx); err != nil {
			return err
		}
		atomic.AddInt64(&s.ticketWaits, 1)
		atomic.AddInt64(&s.ticketWaitNs, int64(time.Since(start)))
	}

	var result Frame
	s.exec.Invoke(func() {
		result.Layers = s.forkJoinReceive()
	})

	select {
	case s.mailbox <- result:
		return nil
	case <-ctx.Done():
		s.ticket.Release()
		return ctx.Err()
	}
}

// ReleaseTicket frees one in-flight slot once the mixer has consumed a
// tick's frame (§4.9 stage→mixer governor).
func (s *Stage) ReleaseTicket() { s.ticket.Release() }

func (s *Stage) forkJoinReceive() map[int]*frame.DrawFrame {
	ids := make([]int, 0, len(s.layers))
	for id := range s.layers {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make(map[int]*frame.DrawFrame, len(ids))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, id := range ids {
		id := id
		l := s.layers[id]
		wg.Add(1)
		go func() {
			defer wg.Done()
			df := l.Receive()
			mu.Lock()
			out[id] = df
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}

// Shutdown stops the stage executor.
func (s *Stage) Shutdown() { s.exec.Shutdown(shutdownGrace) }
