// Package destroyer implements the dedicated single-thread teardown queue
// producers and consumers are routed through when released: their
// destructors may block on vendor SDK calls, so nothing on the stage,
// mixer, or output executors ever calls them directly (§4.8).
package destroyer

import (
	"log/slog"

	"github.com/relaycore/channelcore/internal/consumer"
	"github.com/relaycore/channelcore/internal/producer"
)

// backlogWarnThreshold is the queue depth at which Destroyer starts logging
// a warning per enqueue — an early sign of a stuck destructor (e.g. a
// driver deadlock) rather than of ordinary load.
const backlogWarnThreshold = 32

type job struct {
	kind string
	run  func()
}

// Destroyer runs producer/consumer Close calls one at a time on its own
// goroutine, absorbing any panic so a misbehaving destructor can never take
// down the pipeline.
type Destroyer struct {
	log   *slog.Logger
	queue chan job
	done  chan struct{}
}

// New starts a destroyer with the given queue depth.
func New(log *slog.Logger, queueDepth int) *Destroyer {
	if log == nil {
		log = slog.Default()
	}
	d := &Destroyer{
		log:   log,
		queue: make(chan job, queueDepth),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Destroyer) run() {
	for {
		select {
		case j, ok := <-d.queue:
			if !ok {
				return
			}
			d.runJob(j)
		case <-d.done:
			for {
				select {
				case j := <-d.queue:
					d.runJob(j)
				default:
					return
				}
			}
		}
	}
}

func (d *Destroyer) runJob(j job) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("destroyer: destructor panicked", "kind", j.kind, "recover", r)
		}
	}()
	j.run()
}

func (d *Destroyer) enqueue(j job) {
	if n := len(d.queue); n >= backlogWarnThreshold {
		d.log.Warn("destroyer: backlog above threshold", "depth", n, "kind", j.kind)
	}
	select {
	case d.queue <- j:
	case <-d.done:
	}
}

// DestroyProducer schedules p's teardown. Satisfies layer.Destroyer.
func (d *Destroyer) DestroyProducer(p producer.Producer) {
	closer, ok := p.(interface{ Close() error })
	if !ok {
		return
	}
	d.enqueue(job{kind: "producer", run: func() {
		if err := closer.Close(); err != nil {
			d.log.Error("destroyer: producer close failed", "error", err)
		}
	}})
}

// DestroyConsumer schedules c's teardown.
func (d *Destroyer) DestroyConsumer(c consumer.Consumer) {
	d.enqueue(job{kind: "consumer", run: func() {
		if err := c.Close(); err != nil {
			d.log.Error("destroyer: consumer close failed", "error", err)
		}
	}})
}

// Backlog reports the current queue depth, for status reporting.
func (d *Destroyer) Backlog() int { return len(d.queue) }

// Shutdown stops accepting new jobs and drains the queue.
func (d *Destroyer) Shutdown() {
	close(d.done)
}
