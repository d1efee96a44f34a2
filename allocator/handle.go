package allocator

import "sync"

// BufferHandle is the descriptor a caller holds for one live allocation.
// The Allocator obtains it blank from its BufferFactory, populates Bytes,
// the owning arena, and the size class during AllocateMultiple, and
// invalidates it on Deallocate. Its interior is
// mutable only by the allocator that produced it (see §4.3).
type BufferHandle struct {
	// Bytes is the raw view into the owning arena; len(Bytes) == 1<<Class().
	Bytes []byte

	arenaIndex int
	class      uint32
	offset     uint32
}

// ArenaIndex reports which arena currently backs this handle. Only
// meaningful between a successful allocate and the matching deallocate.
func (h *BufferHandle) ArenaIndex() int { return h.arenaIndex }

// Class reports the size-class exponent this handle was rounded up to.
func (h *BufferHandle) Class() uint32 { return h.class }

func (h *BufferHandle) reset() {
	h.Bytes = nil
	h.arenaIndex = -1
	h.class = 0
	h.offset = 0
}

// BufferFactory produces blank BufferHandle instances for the allocator to
// populate, and reclaims them once a caller is done with a handle. The
// allocator never retains a handle past a matching Deallocate call.
type BufferFactory interface {
	NewHandle() *BufferHandle
	ReleaseHandle(h *BufferHandle)
}

// PooledBufferFactory recycles blank handles through a sync.Pool rather
// than allocating a new BufferHandle per request.
type PooledBufferFactory struct {
	pool sync.Pool
}

// NewPooledBufferFactory returns a BufferFactory backed by a sync.Pool.
func NewPooledBufferFactory() *PooledBufferFactory {
	return &PooledBufferFactory{
		pool: sync.Pool{
			New: func() any { return &BufferHandle{arenaIndex: -1} },
		},
	}
}

// NewHandle returns a blank handle, reused from the pool when possible.
func (f *PooledBufferFactory) NewHandle() *BufferHandle {
	return f.pool.Get().(*BufferHandle)
}

// ReleaseHandle blanks h and returns it to the pool.
func (f *PooledBufferFactory) ReleaseHandle(h *BufferHandle) {
	h.reset()
	f.pool.Put(h)
}
