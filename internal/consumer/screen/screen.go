//go:build !headless

// Package screen provides a reference consumer that opens a window via
// ebiten and blits each read-frame into it: a window setup and
// WritePixels-per-frame draw loop, exposed as one registered Consumer
// among many.
package screen

import (
	"context"
	"fmt"
	"sync"

	"github.com/hajimehoshi/ebiten/v2"

	"github.com/relaycore/channelcore/internal/actor"
	"github.com/relaycore/channelcore/internal/consumer"
	"github.com/relaycore/channelcore/internal/frame"
	"github.com/relaycore/channelcore/internal/pixfmt"
)

var _ consumer.Consumer = (*Consumer)(nil)

// Consumer renders each read-frame into an ebiten window. It expects BGRA
// frames (ebiten.Image.WritePixels wants RGBA, so Send swaps the red and
// blue channels on the CPU without a GPU kernel round-trip).
type Consumer struct {
	mu     sync.RWMutex
	index  int
	title  string
	width  int
	height int
	image  *ebiten.Image
	pixels []byte // RGBA scratch, reused every tick to avoid per-frame allocation
	started bool
}

// NewConsumer creates a screen consumer at the given registry index.
func NewConsumer(index int, title string) *Consumer {
	return &Consumer{index: index, title: title}
}

func (c *Consumer) Initialize(desc pixfmt.VideoFormat, channelIndex int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.width, c.height = desc.Width, desc.Height
	c.pixels = make([]byte, c.width*c.height*4)
	c.image = ebiten.NewImage(c.width, c.height)
	if !c.started {
		ebiten.SetWindowSize(c.width, c.height)
		ebiten.SetWindowTitle(fmt.Sprintf("%s (channel %d)", c.title, channelIndex))
		ebiten.SetWindowResizable(true)
		ebiten.SetVsyncEnabled(true)
		// RunGame blocks its calling goroutine for the window's entire
		// lifetime, so it runs on its own goroutine here. ebiten requires
		// the OS main thread on some platforms; nothing in this package or
		// in cmd/channelsrv arranges for that.
		go func() {
			_ = ebiten.RunGame(c)
		}()
		c.started = true
	}
	return nil
}

func (c *Consumer) Send(ctx context.Context, rf *frame.ReadFrame) *actor.Future[consumer.SendResult] {
	c.mu.Lock()
	bgra := rf.Bytes()
	n := len(c.pixels)
	if len(bgra) < n {
		n = len(bgra)
	}
	for i := 0; i+3 < n; i += 4 {
		c.pixels[i] = bgra[i+2]
		c.pixels[i+1] = bgra[i+1]
		c.pixels[i+2] = bgra[i]
		c.pixels[i+3] = bgra[i+3]
	}
	c.mu.Unlock()
	return actor.Resolved(consumer.SendResult{Accepted: true})
}

func (c *Consumer) HasSynchronizationClock() bool { return false }
func (c *Consumer) BufferDepth() int               { return 0 }
func (c *Consumer) KeyOnly() bool                  { return false }
func (c *Consumer) Index() int                     { return c.index }
func (c *Consumer) Close() error                   { return nil }

// Update satisfies ebiten.Game; the window has no input handling, only
// display.
func (c *Consumer) Update() error { return nil }

// Draw satisfies ebiten.Game by blitting the latest pixel buffer.
func (c *Consumer) Draw(screen *ebiten.Image) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.image == nil {
		return
	}
	c.image.WritePixels(c.pixels)
	screen.DrawImage(c.image, nil)
}

// Layout satisfies ebiten.Game, keeping the logical screen size fixed at
// the channel's format.
func (c *Consumer) Layout(outsideWidth, outsideHeight int) (int, int) {
	return c.width, c.height
}
