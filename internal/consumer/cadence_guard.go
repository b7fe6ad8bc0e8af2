package consumer

import (
	"context"

	"github.com/relaycore/channelcore/internal/actor"
	"github.com/relaycore/channelcore/internal/frame"
	"github.com/relaycore/channelcore/internal/pixfmt"
)

// CadenceGuard wraps a Consumer so a send only reaches it once the observed
// sequence of audio-chunk sample counts has realigned with the channel's
// declared cadence (§4.6, §9 "cadence_guard"). A consumer registered
// mid-cycle against a non-uniform cadence (NTSC's 1602/1601/1602/1601/1602
// pattern) would otherwise start receiving chunks out of phase with its own
// downstream resampling; the guard silently drops sends until a full
// cadence period has been observed starting from slot zero.
type CadenceGuard struct {
	inner   Consumer
	cadence []int
	seen    []int
}

// NewCadenceGuard wraps inner with cadence realignment. A single-slot
// cadence (progressive formats with a fixed samples-per-frame count) needs
// no guarding and passes every send straight through.
func NewCadenceGuard(inner Consumer) *CadenceGuard {
	return &CadenceGuard{inner: inner}
}

func (g *CadenceGuard) Initialize(desc pixfmt.VideoFormat, channelIndex int) error {
	g.cadence = append([]int(nil), desc.Cadence...)
	g.seen = g.seen[:0]
	return g.inner.Initialize(desc, channelIndex)
}

func (g *CadenceGuard) Send(ctx context.Context, rf *frame.ReadFrame) *actor.Future[SendResult] {
	if len(g.cadence) <= 1 {
		return g.inner.Send(ctx, rf)
	}

	samples := 0
	if rf.Audio.Channels > 0 {
		samples = len(rf.Audio.Samples) / rf.Audio.Channels
	}

	aligned := cadenceEqual(g.seen, g.cadence) && g.cadence[0] == samples
	g.seen = append(g.seen, samples)
	if len(g.seen) > len(g.cadence) {
		g.seen = g.seen[len(g.seen)-len(g.cadence):]
	}
	if !aligned {
		return actor.Resolved(SendResult{Accepted: true})
	}

	result := g.inner.Send(ctx, rf)
	g.cadence = append(g.cadence[1:], g.cadence[0])
	return result
}

func cadenceEqual(seen, cadence []int) bool {
	if len(seen) != len(cadence) {
		return false
	}
	for i := range seen {
		if seen[i] != cadence[i] {
			return false
		}
	}
	return true
}

func (g *CadenceGuard) HasSynchronizationClock() bool { return g.inner.HasSynchronizationClock() }
func (g *CadenceGuard) BufferDepth() int              { return g.inner.BufferDepth() }
func (g *CadenceGuard) KeyOnly() bool                 { return g.inner.KeyOnly() }
func (g *CadenceGuard) Index() int                    { return g.inner.Index() }
func (g *CadenceGuard) Close() error                  { return g.inner.Close() }

var _ Consumer = (*CadenceGuard)(nil)
