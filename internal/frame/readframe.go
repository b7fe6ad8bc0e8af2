package frame

import (
	"sync/atomic"

	"github.com/relaycore/channelcore/internal/gpu"
	"github.com/relaycore/channelcore/internal/pixfmt"
)

// ReadFrame is the mixer's per-tick output: one composited image buffer plus
// its audio chunk. Read-frames are immutable and shared by reference count
// across every consumer fanned out to in a tick (§9 "read-frames are shared
// across consumers for one tick"); the buffer is only released back to its
// pool once every holder has dropped its reference.
type ReadFrame struct {
	Desc  pixfmt.Descriptor
	Audio AudioChunk

	buf      *gpu.HostBuffer
	refCount *int32
	releaser gpu.ReadReleaser
}

// NewReadFrame wraps a read-mapped host buffer with the format and audio it
// was composited with. refs is the number of holders it starts with
// (typically the consumer count for this tick); each holder must call
// Release exactly once. releaser receives buf on the last Release, which
// unmaps it and returns it to its pool on the releaser's own executor
// (§4.1); a nil releaser falls back to releasing buf directly on the
// calling goroutine, for buffers that were never mapped for read.
func NewReadFrame(desc pixfmt.Descriptor, audio AudioChunk, buf *gpu.HostBuffer, refs int, releaser gpu.ReadReleaser) *ReadFrame {
	n := int32(refs)
	return &ReadFrame{Desc: desc, Audio: audio, buf: buf, refCount: &n, releaser: releaser}
}

// Retain adds one holder, used when a late-binding consumer's buffer-depth
// ring keeps an older frame alive alongside the fresh one (§4.7).
func (r *ReadFrame) Retain() {
	atomic.AddInt32(r.refCount, 1)
}

// Release drops one holder's reference; the underlying buffer returns to
// its pool once the count reaches zero.
func (r *ReadFrame) Release() {
	if atomic.AddInt32(r.refCount, -1) == 0 {
		if r.releaser != nil {
			r.releaser.ReleaseRead(r.buf)
			return
		}
		r.buf.Release()
	}
}

// Bytes returns the frame's pixel data. Valid for as long as the caller
// holds a reference (between receiving the frame and calling Release).
func (r *ReadFrame) Bytes() []byte { return r.buf.Bytes() }
