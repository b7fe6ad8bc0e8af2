// Package channel wires stage, mixer, and output into one running channel
// and exposes the imperative control-layer operations of §6: layer
// load/play/pause/stop/clear, swap_layer (same-channel and cross-channel),
// foreground/background/status queries, and consumer registration.
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/relaycore/channelcore/internal/consumer"
	"github.com/relaycore/channelcore/internal/destroyer"
	"github.com/relaycore/channelcore/internal/gpu"
	"github.com/relaycore/channelcore/internal/layer"
	"github.com/relaycore/channelcore/internal/mixer"
	"github.com/relaycore/channelcore/internal/output"
	"github.com/relaycore/channelcore/internal/pixfmt"
	"github.com/relaycore/channelcore/internal/producer"
	"github.com/relaycore/channelcore/internal/stage"
)

// Status is the snapshot returned by Status(index) (§6).
type Status struct {
	Index       int
	State       layer.State
	FrameNumber uint64
}

// Channel owns one stage, mixer, and output, plus the goroutines driving
// ticks through them for its lifetime. Channels are addressed 1..N by the
// caller; Channel itself only knows its own index (used for cross-channel
// swap lock ordering).
type Channel struct {
	index int

	mu      sync.Mutex
	format  pixfmt.VideoFormat
	running bool

	stage  *stage.Stage
	mixer  *mixer.Mixer
	output *output.Output

	destroyer *destroyer.Destroyer
	factory   *gpu.FrameFactory

	cancel context.CancelFunc
	wg     sync.WaitGroup

	log *slog.Logger
}

// Config bundles the construction-time parameters of one channel.
type Config struct {
	Index               int
	Format              pixfmt.VideoFormat
	Device              gpu.Device
	StageMailboxDepth   int
	StageInFlightLimit  int64
	MixerOutputDepth    int
	DestroyerQueueDepth int
	Log                 *slog.Logger
}

// New constructs a channel and starts its stage/mixer/output goroutines. A
// shader compile/link failure or other construction-time resource failure
// in Device is fatal to the caller per §7 ("fatal resource exhaustion").
func New(cfg Config) *Channel {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("channel", cfg.Index)

	d := destroyer.New(log, cfg.DestroyerQueueDepth)
	st := stage.New(cfg.Index, cfg.StageMailboxDepth, cfg.StageInFlightLimit, d)
	factory := gpu.NewFrameFactory(cfg.Device, gpu.NewPool())
	mx := mixer.New(cfg.Device, cfg.Format, cfg.MixerOutputDepth, factory, log)
	out := output.New(cfg.Device, factory, d, cfg.Format, log)

	c := &Channel{
		index:     cfg.Index,
		format:    cfg.Format,
		stage:     st,
		mixer:     mx,
		output:    out,
		destroyer: d,
		factory:   factory,
		log:       log,
	}
	c.start()
	return c
}

func (c *Channel) start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.running = true

	c.wg.Add(3)
	go func() {
		defer c.wg.Done()
		c.mixer.Run(ctx, c.stage)
	}()
	go func() {
		defer c.wg.Done()
		c.output.Run(ctx, c.mixer)
	}()
	go func() {
		defer c.wg.Done()
		c.tickLoop(ctx)
	}()
}

// tickLoop drives Stage.Tick continuously; the stage's own ticket blocks
// this loop whenever the mixer falls behind (§4.9 backpressure).
func (c *Channel) tickLoop(ctx context.Context) {
	for {
		if err := c.stage.Tick(ctx); err != nil {
			return
		}
	}
}

// Index returns this channel's address (1..N).
func (c *Channel) Index() int { return c.index }

// FrameFactory exposes the per-channel frame factory producers allocate
// writable frames through.
func (c *Channel) FrameFactory() *gpu.FrameFactory { return c.factory }

// Load installs p on layer id's background slot, optionally previewing and
// optionally auto-playing after autoPlayDelta frames remain (§6 `load`).
func (c *Channel) Load(id int, p producer.Producer, preview bool, autoPlayDelta *int64) {
	c.stage.Load(id, p, preview, autoPlayDelta)
}

// Play promotes layer id's background producer (if any) and starts playback.
func (c *Channel) Play(id int) { c.stage.Play(id) }

// Pause freezes layer id on its last-emitted frame.
func (c *Channel) Pause(id int) { c.stage.PauseLayer(id) }

// Stop releases layer id's foreground producer and returns it to Stopped.
func (c *Channel) Stop(id int) { c.stage.StopLayer(id) }

// ClearLayer returns layer id all the way to Empty, discarding any loaded
// background and auto-play delta (§6 `clear(index)`).
func (c *Channel) ClearLayer(id int) { c.stage.ClearLayer(id) }

// Clear returns each layer listed in layerIDs to Empty (§6 `clear()`).
// Layers not listed are left as they are; the channel does not enumerate
// its populated layers itself.
func (c *Channel) Clear(layerIDs []int) {
	for _, id := range layerIDs {
		c.stage.ClearLayer(id)
	}
}

// SwapLayer exchanges layers a and b within this channel (§6 `swap_layer`).
func (c *Channel) SwapLayer(a, b int) { c.stage.SwapLayer(a, b) }

// SwapLayerCrossChannel exchanges layer a of this channel with layer b of
// other, acquiring both stages' executors in ascending channel-index order
// (§4.4, §9 Open Question resolution).
func (c *Channel) SwapLayerCrossChannel(a int, other *Channel, b int) {
	c.stage.SwapLayerCrossChannel(a, other.stage, b)
}

// Foreground returns layer id's current foreground producer.
func (c *Channel) Foreground(id int) producer.Producer {
	return c.stage.Layer(id).Foreground()
}

// Background returns layer id's currently-loaded background producer.
func (c *Channel) Background(id int) producer.Producer {
	return c.stage.Layer(id).Background()
}

// Status returns a snapshot of layer id's playback state (§6 `status`).
func (c *Channel) Status(id int) Status {
	l := c.stage.Layer(id)
	return Status{Index: id, State: l.State(), FrameNumber: l.FrameNumber()}
}

// AddConsumer registers c's output slot (§6 `add_consumer`).
func (c *Channel) AddConsumer(slot int, cons consumer.Consumer) error {
	return c.output.AddConsumer(slot, cons)
}

// RemoveConsumer unregisters the consumer at slot (§6 `remove_consumer`).
func (c *Channel) RemoveConsumer(slot int) { c.output.RemoveConsumer(slot) }

// SetVideoFormat validates desc and records it on the Channel (§6
// `set_video_format_desc`). The mixer and output keep the format they were
// constructed with, and registered consumers are not re-initialized.
// Quiescence is the caller's responsibility.
func (c *Channel) SetVideoFormat(desc pixfmt.VideoFormat) error {
	if err := desc.Validate(); err != nil {
		return fmt.Errorf("channel: invalid video format: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.format = desc
	return nil
}

// Degraded reports whether the mixer has crossed the consecutive-GPU-failure
// threshold for this channel (§7).
func (c *Channel) Degraded() bool { return c.mixer.Degraded() }

// StageStats reports this channel's stage→mixer backpressure counters, for
// an operator surface to distinguish mechanical backpressure from a stuck
// pipeline.
func (c *Channel) StageStats() stage.Stats { return c.stage.Stats() }

// Shutdown stops the channel's tick loop and every owned executor, in
// pipeline order so a stage that's mid-tick can still hand its frame to a
// draining mixer rather than blocking forever on a full mailbox.
func (c *Channel) Shutdown() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	c.stage.Shutdown()
	c.mixer.Shutdown()
	c.output.Shutdown()
	c.factory.Shutdown()
	c.destroyer.Shutdown()
}
