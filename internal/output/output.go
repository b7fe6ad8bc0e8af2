// Package output implements the consumer registry and per-tick fanout
// (§4.6): reads composited read-frames from the mixer, derives the
// key-only variant once per tick when needed, distributes to every
// registered consumer in parallel, paces against the host clock or a
// genlocked consumer, and hides consumer failures behind reinitialize-then-
// remove.
package output

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/relaycore/channelcore/internal/actor"
	"github.com/relaycore/channelcore/internal/consumer"
	"github.com/relaycore/channelcore/internal/destroyer"
	"github.com/relaycore/channelcore/internal/frame"
	"github.com/relaycore/channelcore/internal/gpu"
	"github.com/relaycore/channelcore/internal/mixer"
	"github.com/relaycore/channelcore/internal/pixfmt"
)

// slot is one registered consumer plus its reinitialize-failure bookkeeping
// and its buffer-depth ring position.
type slot struct {
	consumer    consumer.Consumer
	reinitTried bool
	ring        []*frame.ReadFrame // last N frames this consumer hasn't been shown yet, oldest first
}

// Output owns the consumer registry for one channel. The registry is only
// ever read or written from within exec.Invoke, per §5's "consumer registry
// is read/written only on the output executor".
type Output struct {
	exec      *actor.Executor
	device    gpu.Device
	releaser  gpu.ReadReleaser
	destroyer *destroyer.Destroyer
	log       *slog.Logger

	format pixfmt.VideoFormat
	slots  map[int]*slot

	tickInterval time.Duration
}

// New creates an output for the given format. device is used only to derive
// the key-only variant (a CPU kernel dispatch); releaser is the frame
// factory the derived key-only read-frame routes its final Release through
// (§4.1); destroyer receives removed consumers for asynchronous Close.
func New(device gpu.Device, releaser gpu.ReadReleaser, d *destroyer.Destroyer, format pixfmt.VideoFormat, log *slog.Logger) *Output {
	if log == nil {
		log = slog.Default()
	}
	return &Output{
		exec:         actor.NewExecutor("output", 2),
		device:       device,
		releaser:     releaser,
		destroyer:    d,
		log:          log,
		format:       format,
		slots:        make(map[int]*slot),
		tickInterval: time.Duration(float64(time.Second) / format.FPS),
	}
}

// AddConsumer registers c at index, initializing it with the current
// format. Every consumer is wrapped in a cadence_guard (§9) so a non-
// uniform audio cadence (NTSC's 1602/1601 pattern) realigns to slot zero
// before this consumer starts receiving chunks, regardless of which tick it
// joined on.
func (o *Output) AddConsumer(index int, c consumer.Consumer) error {
	guarded := consumer.NewCadenceGuard(c)
	var initErr error
	o.exec.Invoke(func() {
		if err := guarded.Initialize(o.format, index); err != nil {
			initErr = err
			return
		}
		o.slots[index] = &slot{consumer: guarded}
	})
	return initErr
}

// RemoveConsumer unregisters the consumer at index and schedules its
// asynchronous destruction.
func (o *Output) RemoveConsumer(index int) {
	o.exec.Invoke(func() {
		s, ok := o.slots[index]
		if !ok {
			return
		}
		delete(o.slots, index)
		if o.destroyer != nil {
			o.destroyer.DestroyConsumer(s.consumer)
		}
	})
}

// Run pulls composited frames from mx and fans them out until ctx is done.
func (o *Output) Run(ctx context.Context, mx *mixer.Mixer) {
	ticker := time.NewTicker(o.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case rf, ok := <-mx.Output():
			if !ok {
				return
			}
			o.tick(ctx, rf, ticker)
		}
	}
}

func (o *Output) tick(ctx context.Context, rf *frame.ReadFrame, ticker *time.Ticker) {
	var hasClock bool
	var keyVariant *frame.ReadFrame
	o.exec.Invoke(func() {
		for _, s := range o.slots {
			if s.consumer.HasSynchronizationClock() {
				hasClock = true
			}
		}
		if o.anyKeyOnlyLocked() {
			keyVariant = o.deriveKeyOnly(rf)
		}
	})
	defer rf.Release()
	if keyVariant != nil {
		defer keyVariant.Release()
	}

	if !hasClock {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}

	o.fanout(ctx, rf, keyVariant)
}

func (o *Output) anyKeyOnlyLocked() bool {
	for _, s := range o.slots {
		if s.consumer.KeyOnly() {
			return true
		}
	}
	return false
}

// deriveKeyOnly computes the alpha-replicated RGBA variant once per tick
// (§4.6) on the device's compositing kernel — a pure CPU operation for the
// software device, a GPU dispatch for a hardware one.
func (o *Output) deriveKeyOnly(rf *frame.ReadFrame) *frame.ReadFrame {
	src, err := o.device.CreateTexture(rf.Desc)
	if err != nil {
		o.log.Error("output: key-only source texture failed", "error", err)
		return nil
	}
	buf := o.device.CreateHostBuffer(len(rf.Bytes()), gpu.UsageWrite)
	copy(buf.MapForWrite(), rf.Bytes())
	buf.Unmap()
	if err := o.device.Upload(buf, src); err != nil {
		o.log.Error("output: key-only upload failed", "error", err)
		buf.Release()
		return nil
	}
	buf.Release()

	dst, err := o.device.CreateTexture(rf.Desc)
	if err != nil {
		o.log.Error("output: key-only target texture failed", "error", err)
		return nil
	}
	if err := o.device.Render(gpu.KernelKeyDerive, []gpu.RenderInput{{Source: src, Transform: gpu.IdentityTransform}}, dst); err != nil {
		o.log.Error("output: key-only derive failed", "error", err)
		return nil
	}
	readBuf, err := o.device.Readback(dst)
	if err != nil {
		o.log.Error("output: key-only readback failed", "error", err)
		return nil
	}
	return frame.NewReadFrame(rf.Desc, rf.Audio, readBuf, 1, o.releaser)
}

// fanout dispatches send() to every consumer in parallel, honoring each
// consumer's buffer depth via its own ring, and handles reinitialize/remove
// on failure (§7, §8 property 8).
func (o *Output) fanout(ctx context.Context, fresh, keyVariant *frame.ReadFrame) {
	type target struct {
		index int
		s     *slot
	}
	var targets []target
	o.exec.Invoke(func() {
		for idx, s := range o.slots {
			targets = append(targets, target{index: idx, s: s})
		}
	})

	var wg sync.WaitGroup
	for _, t := range targets {
		t := t
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.sendToSlot(ctx, t.index, t.s, fresh, keyVariant)
		}()
	}
	wg.Wait()
}

func (o *Output) sendToSlot(ctx context.Context, index int, s *slot, fresh, keyVariant *frame.ReadFrame) {
	candidate := fresh
	if s.consumer.KeyOnly() && keyVariant != nil {
		candidate = keyVariant
	}

	depth := s.consumer.BufferDepth()
	s.ring = append(s.ring, candidate)
	candidate.Retain()
	if len(s.ring) <= depth {
		return // not enough history yet to serve this depth
	}
	deliver := s.ring[0]
	s.ring = s.ring[1:]
	defer deliver.Release()

	result, err := s.consumer.Send(ctx, deliver).WaitContext(ctx)
	if err != nil {
		return
	}
	if result.Err == nil && result.Accepted {
		o.exec.Invoke(func() { s.reinitTried = false })
		return
	}
	if result.Err == nil {
		// resolved false with no error: the consumer asks to be removed.
		o.RemoveConsumer(index)
		return
	}
	o.handleFailure(index, s, result.Err)
}

// handleFailure reinitializes a failed consumer once; a second failure
// schedules removal (§7 "transient consumer failure").
func (o *Output) handleFailure(index int, s *slot, cause error) {
	o.exec.Invoke(func() {
		if s.reinitTried {
			delete(o.slots, index)
			if o.destroyer != nil {
				o.destroyer.DestroyConsumer(s.consumer)
			}
			wrapped := frame.NewOperationError("consumer_send", "repeated failure", cause)
			o.log.Warn("output: consumer removed after repeated failure", "index", index, "error", wrapped)
			return
		}
		s.reinitTried = true
		if err := s.consumer.Initialize(o.format, index); err != nil {
			delete(o.slots, index)
			if o.destroyer != nil {
				o.destroyer.DestroyConsumer(s.consumer)
			}
			wrapped := frame.NewOperationError("consumer_reinitialize", "reinitialize after send failure", err)
			o.log.Warn("output: consumer removed, reinitialize failed", "index", index, "error", wrapped)
		}
	})
}

// Shutdown stops the output's executor.
func (o *Output) Shutdown() { o.exec.Shutdown(2 * time.Second) }
