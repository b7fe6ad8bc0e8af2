package gpu

import (
	"fmt"
	"time"

	"github.com/relaycore/channelcore/internal/actor"
	"github.com/relaycore/channelcore/internal/pixfmt"
)

// shutdownGrace bounds how long a factory shutdown waits for in-flight
// allocations to drain before giving up (§5 "bounded grace window").
const shutdownGrace = 2 * time.Second

// WritableFrame is a host buffer mapped for write, tagged with the pixel
// format it will be committed as. A producer fills Bytes() and calls
// Commit to hand it into the upload path, or Discard to return it unmapped
// to the pool without ever being used.
type WritableFrame struct {
	Desc   pixfmt.Descriptor
	buf    *HostBuffer
	factory *FrameFactory
}

// Bytes exposes the buffer's mapped-for-write storage.
func (w *WritableFrame) Bytes() []byte { return w.buf.Bytes() }

// Commit unmaps the buffer and uploads it into a freshly created texture,
// returning the ready-to-composite texture. The WritableFrame is consumed;
// callers must not reuse it afterward.
func (w *WritableFrame) Commit() (*Texture, error) {
	w.buf.Unmap()
	defer w.buf.Release()
	tex, err := w.factory.device.CreateTexture(w.Desc)
	if err != nil {
		return nil, err
	}
	if err := w.factory.device.Upload(w.buf, tex); err != nil {
		return nil, err
	}
	return tex, nil
}

// Discard abandons the frame without committing it, returning its buffer to
// the pool unmapped.
func (w *WritableFrame) Discard() {
	w.buf.Unmap()
	w.buf.Release()
}

// FrameFactory runs host-buffer allocation on its own executor (§4.1):
// every producer's CreateFrame call is serialized through it. Texture
// creation and upload are not: WritableFrame.Commit calls the device on
// the committing producer's goroutine, relying on the device's own locking.
type FrameFactory struct {
	exec   *actor.Executor
	pool   *Pool
	device Device
}

// NewFrameFactory creates a factory driven by its own dedicated executor.
func NewFrameFactory(device Device, pool *Pool) *FrameFactory {
	return &FrameFactory{
		exec:   actor.NewExecutor("frame-factory", 4),
		pool:   pool,
		device: device,
	}
}

// CreateFrame allocates (or recycles) a host buffer sized for tag/desc and
// maps it for write. Per §4.1's allocation-failure policy, a failure here
// is never fatal to the caller's tick: producers that get an error are
// expected to fall back to emitting an empty frame for that tick rather
// than propagating the failure up through the stage.
func (f *FrameFactory) CreateFrame(tag any, desc pixfmt.Descriptor) (*WritableFrame, error) {
	var frame *WritableFrame
	var ferr error
	f.exec.Invoke(func() {
		size := desc.TotalSize()
		if size <= 0 {
			ferr = fmt.Errorf("gpu: cannot create frame for empty descriptor")
			return
		}
		buf := f.pool.GetWrite(tag, size)
		buf.MapForWrite()
		frame = &WritableFrame{Desc: desc, buf: buf, factory: f}
	})
	return frame, ferr
}

// IdleBuffers reports the pool's current idle buffer count (§8 property 6).
func (f *FrameFactory) IdleBuffers() int { return f.pool.IdleBuffers() }

// ReleaseRead unmaps a read-mapped host buffer and returns it to its pool,
// dispatched onto the factory's own executor so the calling goroutine (a
// mixer tick, a consumer fanout) never performs the unmap itself (§4.1:
// "the returning thread never performs the unmap itself"). buf must already
// carry its owning pool, as every buffer handed out by Device.Readback does.
func (f *FrameFactory) ReleaseRead(buf *HostBuffer) {
	actor.BeginInvoke(f.exec, func() any {
		buf.Unmap()
		buf.Release()
		return nil
	})
}

// ReadReleaser returns a read-mapped host buffer to its pool once every
// holder of a read-frame has released it. *FrameFactory satisfies this so
// frame.ReadFrame can route its final Release through the owning factory's
// executor instead of unmapping on the releasing goroutine.
type ReadReleaser interface {
	ReleaseRead(buf *HostBuffer)
}

var _ ReadReleaser = (*FrameFactory)(nil)

// Shutdown stops the factory's executor, waiting up to shutdownGrace for
// in-flight allocations to finish.
func (f *FrameFactory) Shutdown() { f.exec.Shutdown(shutdownGrace) }
