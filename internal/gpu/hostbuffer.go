// Package gpu implements the host-visible buffer pool, frame factory, and
// GPU device abstraction of spec §4.1 and §9 ("GPU abstraction"). All GL/
// Vulkan state lives behind the Device interface; nothing outside this
// package touches a graphics handle directly.
package gpu

import (
	"fmt"
	"sync"
)

// Usage distinguishes write-side (producer-filled, uploaded to a texture)
// from read-side (downloaded from a render target, consumer-visible) host
// buffers. Buffers of identical (size, usage) are pooled independently.
type Usage int

const (
	UsageWrite Usage = iota
	UsageRead
)

func (u Usage) String() string {
	if u == UsageWrite {
		return "write"
	}
	return "read"
}

type mapState int

const (
	unmapped mapState = iota
	mappedForWrite
	mappedForRead
)

// HostBuffer is a host-visible, GPU-DMA-mappable byte buffer with explicit
// map/unmap phases (§3). It is exclusively owned by its current holder: safe
// to hand off by passing the pointer to another goroutine, never to be
// aliased by two holders at once.
type HostBuffer struct {
	mu    sync.Mutex
	data  []byte
	size  int
	usage Usage
	state mapState

	// pool identifies where Release returns this buffer; nil pool
	// means the buffer was allocated outside any pool (e.g. a one-off test
	// buffer) and Release is a no-op.
	pool *sizePool
}

// newHostBuffer allocates a fresh, unmapped buffer of the given size.
func newHostBuffer(size int, usage Usage) *HostBuffer {
	return &HostBuffer{
		data:  make([]byte, size),
		size:  size,
		usage: usage,
		state: unmapped,
	}
}

// MapForWrite exposes the buffer for CPU writes. Must be called from the
// exclusive holder; panics if already mapped (a mapped buffer must be
// unmapped before it can be mapped again, per §3's invariant that mapped
// buffers are never pooled).
func (b *HostBuffer) MapForWrite() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != unmapped {
		panic(fmt.Sprintf("gpu: MapForWrite on buffer in state %v", b.state))
	}
	b.state = mappedForWrite
	return b.data
}

// MapForRead exposes the buffer for CPU reads after a GPU readback.
func (b *HostBuffer) MapForRead() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != unmapped {
		panic(fmt.Sprintf("gpu: MapForRead on buffer in state %v", b.state))
	}
	b.state = mappedForRead
	return b.data
}

// Unmap ends the current map phase. A buffer committed to the pipeline (its
// planes handed to the upload path) must be unmapped first — committing
// transfers ownership to the GPU upload path, which expects an unmapped
// buffer it can DMA from.
func (b *HostBuffer) Unmap() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = unmapped
}

// Mapped reports whether the buffer currently has an open map phase.
func (b *HostBuffer) Mapped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state != unmapped
}

// Bytes returns the buffer's current mapped view. Panics if unmapped, since
// reading/writing outside a map phase would race with a pool recycling the
// buffer to another holder.
func (b *HostBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == unmapped {
		panic("gpu: Bytes() called on an unmapped HostBuffer")
	}
	return b.data
}

// Size returns the buffer's byte length.
func (b *HostBuffer) Size() int { return b.size }

// Release returns the buffer to its owning pool, if any. The buffer must be
// unmapped first (§3: "frame buffers returned to a pool are unmapped").
func (b *HostBuffer) Release() {
	b.mu.Lock()
	mapped := b.state != unmapped
	pool := b.pool
	b.mu.Unlock()
	if mapped {
		panic("gpu: Release called on a mapped HostBuffer")
	}
	if pool != nil {
		pool.put(b)
	}
}
