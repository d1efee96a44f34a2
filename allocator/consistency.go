package allocator

import (
	"sync"

	"github.com/dolthub/swiss"
)

// consistencyTracker is an optional, off-by-default guard against
// double-free. The allocator's primary back-link is the intrusive free-list
// node threaded through each free block (see arena.go); §4.1 also allows an
// explicit side-table keyed by (class, offset) as an alternative, and that
// is what this tracker is: a swiss.Map from a packed (arenaIndex, offset)
// key to presence, turning "double free is undefined" into a caught
// ErrInternalConsistency during development instead of silent bitmap
// corruption. Normal operation never touches it.
type consistencyTracker struct {
	mu   sync.Mutex
	live *swiss.Map[uint64, struct{}]
}

func newConsistencyTracker() *consistencyTracker {
	return &consistencyTracker{live: swiss.NewMap[uint64, struct{}](1024)}
}

func consistencyKey(arenaIndex int, offset uint32) uint64 {
	return uint64(uint32(arenaIndex))<<32 | uint64(offset)
}

func (c *consistencyTracker) track(arenaIndex int, offset uint32) {
	c.mu.Lock()
	c.live.Put(consistencyKey(arenaIndex, offset), struct{}{})
	c.mu.Unlock()
}

// untrack reports whether (arenaIndex, offset) was live, removing it if so.
// A false return means the caller is attempting a double-free.
func (c *consistencyTracker) untrack(arenaIndex int, offset uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := consistencyKey(arenaIndex, offset)
	if _, ok := c.live.Get(key); !ok {
		return false
	}
	c.live.Delete(key)
	return true
}
