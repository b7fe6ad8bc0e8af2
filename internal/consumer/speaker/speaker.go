//go:build !headless

// Package speaker provides a reference audio consumer built on oto/v3: a
// NewContext/NewPlayer setup and io.Reader pull model that drains whatever
// PCM a read-frame carries each tick into a ring buffer.
package speaker

import (
	"context"
	"math"
	"sync"

	"github.com/ebitengine/oto/v3"

	"github.com/relaycore/channelcore/internal/actor"
	"github.com/relaycore/channelcore/internal/consumer"
	"github.com/relaycore/channelcore/internal/frame"
	"github.com/relaycore/channelcore/internal/pixfmt"
)

var _ consumer.Consumer = (*Consumer)(nil)

// Consumer plays each read-frame's audio chunk through the system's default
// output device. It carries no video; KeyOnly/HasSynchronizationClock are
// both false.
type Consumer struct {
	index int

	mu      sync.Mutex
	ctx     *oto.Context
	player  *oto.Player
	ring    []float32 // pulled by Read, refilled by Send
	channels int
}

// NewConsumer creates a speaker consumer at the given registry index.
func NewConsumer(index int) *Consumer {
	return &Consumer{index: index}
}

func (c *Consumer) Initialize(desc pixfmt.VideoFormat, channelIndex int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels = 2
	opts := &oto.NewContextOptions{
		SampleRate:   desc.SampleRate(),
		ChannelCount: c.channels,
		Format:       oto.FormatFloat32LE,
		BufferSize:   0,
	}
	ctx, ready, err := oto.NewContext(opts)
	if err != nil {
		return err
	}
	<-ready
	c.ctx = ctx
	c.player = ctx.NewPlayer(c)
	c.player.Play()
	c.ring = nil
	return nil
}

// Read satisfies io.Reader for oto's pull model: it drains whatever samples
// Send has queued, zero-filling if the pipeline hasn't caught up yet rather
// than blocking the audio callback.
func (c *Consumer) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	want := len(p) / 4
	n := want
	if n > len(c.ring) {
		n = len(c.ring)
	}
	for i := 0; i < n; i++ {
		putFloat32LE(p[i*4:], c.ring[i])
	}
	for i := n * 4; i < len(p); i++ {
		p[i] = 0
	}
	c.ring = c.ring[n:]
	return len(p), nil
}

func (c *Consumer) Send(ctx context.Context, rf *frame.ReadFrame) *actor.Future[consumer.SendResult] {
	c.mu.Lock()
	samples := rf.Audio.Samples
	floats := make([]float32, len(samples))
	const int32Ceiling = 1 << 31
	for i, s := range samples {
		floats[i] = float32(s) / int32Ceiling
	}
	c.ring = append(c.ring, floats...)
	c.mu.Unlock()
	return actor.Resolved(consumer.SendResult{Accepted: true})
}

func (c *Consumer) HasSynchronizationClock() bool { return false }
func (c *Consumer) BufferDepth() int               { return 0 }
func (c *Consumer) KeyOnly() bool                  { return false }
func (c *Consumer) Index() int                     { return c.index }

func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.player != nil {
		_ = c.player.Close()
	}
	return nil
}

func putFloat32LE(b []byte, f float32) {
	bits := math.Float32bits(f)
	b[0] = byte(bits)
	b[1] = byte(bits >> 8)
	b[2] = byte(bits >> 16)
	b[3] = byte(bits >> 24)
}
