// Package layer implements the per-layer producer sequencing state machine
// (§4.3): foreground/background producer slots, play/pause/stop, auto-play
// transitions, and the exact per-tick receive algorithm the stage depends
// on for seamless A→B swaps.
package layer

import (
	"sync"

	"github.com/relaycore/channelcore/internal/frame"
	"github.com/relaycore/channelcore/internal/producer"
)

// State is the layer's playback state.
type State int

const (
	Empty State = iota
	Stopped
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// Destroyer schedules a producer for asynchronous teardown (§4.8); layer
// depends only on this narrow interface so it doesn't import the destroyer
// package's executor/queue machinery directly.
type Destroyer interface {
	DestroyProducer(p producer.Producer)
}

// Layer sequences a foreground and background producer into one stream of
// draw-frames. Every method takes the layer's own mutex; the owning Stage
// additionally serializes mutations through its executor (§4.4).
type Layer struct {
	mu sync.Mutex

	state         State
	foreground    producer.Producer
	background    producer.Producer
	frameNumber   uint64
	autoPlayDelta *int64 // nil means "none"
	lastEmitted   *frame.DrawFrame

	destroyer Destroyer
}

// New creates an empty layer with both slots holding the empty producer.
func New(destroyer Destroyer) *Layer {
	return &Layer{
		state:       Empty,
		foreground:  producer.Empty,
		background:  producer.Empty,
		lastEmitted: frame.EmptyFrame,
		destroyer:   destroyer,
	}
}

// State returns the layer's current playback state.
func (l *Layer) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// FrameNumber returns the foreground's current position.
func (l *Layer) FrameNumber() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frameNumber
}

// Load installs p as the background producer. If preview is true and the
// foreground slot is empty, p is also promoted to foreground immediately in
// the paused state, showing its first frame (§4.3).
func (l *Layer) Load(p producer.Producer, preview bool, autoPlayDelta *int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.background = p
	l.autoPlayDelta = autoPlayDelta
	if preview && l.isForegroundEmptyLocked() {
		l.promoteLocked()
		l.state = Paused
		l.lastEmitted = l.foreground.Receive(producer.ReceiveFlags{Paused: true})
	}
}

func (l *Layer) isForegroundEmptyLocked() bool {
	return l.foreground == producer.Empty
}

// promoteLocked moves background into foreground, destroying the previous
// foreground asynchronously, and resets frame_number. Caller holds l.mu.
func (l *Layer) promoteLocked() {
	old := l.foreground
	l.foreground = l.background
	l.background = producer.Empty
	l.frameNumber = 0
	if old != producer.Empty && l.destroyer != nil {
		l.destroyer.DestroyProducer(old)
	}
}

// Play promotes a background producer to foreground if one exists
// (destroying the old foreground asynchronously), entering Playing; with no
// background producer it simply unpauses (§4.3).
func (l *Layer) Play() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.background != producer.Empty {
		l.promoteLocked()
	}
	l.state = Playing
}

// Pause freezes receive() to keep returning last_frame() until Play.
func (l *Layer) Pause() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == Playing {
		l.state = Paused
	}
}

// Stop releases the foreground (destroying it asynchronously) and
// transitions to Stopped; the next Receive returns Empty.
func (l *Layer) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.foreground != producer.Empty && l.destroyer != nil {
		l.destroyer.DestroyProducer(l.foreground)
	}
	l.foreground = producer.Empty
	l.background = producer.Empty
	l.frameNumber = 0
	l.lastEmitted = frame.EmptyFrame
	l.state = Stopped
}

// Clear is Stop plus discarding any loaded background and auto-play delta,
// returning the layer all the way to Empty (used by Channel.Clear, §6).
func (l *Layer) Clear() {
	l.Stop()
	l.mu.Lock()
	l.autoPlayDelta = nil
	l.state = Empty
	l.mu.Unlock()
}

// Foreground and Background expose the current producers, read by
// Channel.Foreground/Background. Stage's swap_layer exchanges whole Layer
// objects and does not go through these accessors.
func (l *Layer) Foreground() producer.Producer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.foreground
}

func (l *Layer) SetForeground(p producer.Producer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.foreground = p
	l.frameNumber = 0
}

// Background returns the currently-loaded background producer, queried by
// the control layer's `background(index)` operation (§6).
func (l *Layer) Background() producer.Producer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.background
}

// Receive runs the exact per-tick algorithm of §4.3: stopped/empty always
// yields frame.EmptyFrame; paused freezes on the last concrete frame;
// otherwise the foreground is asked for a frame, with late/eof/auto-promote
// handling.
func (l *Layer) Receive() *frame.DrawFrame {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case Stopped, Empty:
		return frame.EmptyFrame
	case Paused:
		return l.lastEmitted
	}

	l.maybeAutoPromoteLocked()

	df := l.foreground.Receive(producer.ReceiveFlags{})
	switch df.Kind() {
	case frame.Late:
		return l.lastEmitted
	case frame.EOF:
		if l.background != producer.Empty {
			l.promoteLocked()
			df = l.foreground.Receive(producer.ReceiveFlags{})
			l.lastEmitted = df
			l.frameNumber++
			return df
		}
		l.foreground = producer.Empty
		l.lastEmitted = frame.EmptyFrame
		l.state = Stopped
		return frame.EmptyFrame
	default:
		l.lastEmitted = df
		l.frameNumber++
		return df
	}
}

// maybeAutoPromoteLocked implements auto-play: if autoPlayDelta = d, a
// background producer exists, and foreground's remaining frames equal d,
// promote at this tick before asking for a frame (§4.3 "Auto-play").
func (l *Layer) maybeAutoPromoteLocked() {
	if l.autoPlayDelta == nil || l.background == producer.Empty {
		return
	}
	total, known := l.foreground.NBFrames()
	if !known {
		return
	}
	remaining := int64(total) - int64(l.frameNumber)
	if remaining == *l.autoPlayDelta {
		l.promoteLocked()
	}
}
