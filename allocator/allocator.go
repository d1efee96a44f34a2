package allocator

import (
	"fmt"
	"io"
	"math/bits"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"log/slog"
)

// Allocator is the multi-arena coordinator described in §4.2. It owns no
// locks of its own on the allocate/deallocate hot path: each arena guards
// itself, arena-count publication is lock-free, and only arena growth
// itself (a rare, budgeted event) takes a dedicated mutex.
type Allocator struct {
	minLog2   uint32
	maxLog2   uint32
	arenaSz   uint32
	maxArenas int

	mm      MemoryManager
	metrics Metrics
	factory BufferFactory
	logger  *slog.Logger

	// arenas holds one atomic.Pointer per arena slot, all pre-allocated up
	// to maxArenas; unmaterialized slots hold nil. A reader takes a
	// snapshot with materialized.Load() and then only dereferences slots
	// below that count, so growth never races a concurrent reader into
	// observing a half-built Arena (§5).
	arenas       []atomic.Pointer[Arena]
	materialized atomic.Int64
	growMu       sync.Mutex

	// hint is the next arena index to try first on AllocateMultiple,
	// advanced round-robin so repeated requests don't all hammer arena 0.
	hint atomic.Uint64

	consistency *consistencyTracker
}

// New validates cfg and returns a ready Allocator with zero arenas
// materialized; the first AllocateMultiple call grows on demand.
func New(cfg Config) (*Allocator, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	mm := cfg.MemoryManager
	if mm == nil {
		mm = NewBudgetManager(cfg.MaxTotalBytes)
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewAtomicMetrics()
	}
	factory := cfg.BufferFactory
	if factory == nil {
		factory = NewPooledBufferFactory()
	}

	maxArenas := int(cfg.MaxTotalBytes / uint64(cfg.ArenaSizeBytes))
	if maxArenas < 1 {
		maxArenas = 1
	}

	a := &Allocator{
		minLog2:   uint32(bits.Len32(cfg.MinAllocBytes) - 1),
		maxLog2:   uint32(bits.Len32(cfg.MaxAllocBytes) - 1),
		arenaSz:   cfg.ArenaSizeBytes,
		maxArenas: maxArenas,
		mm:        mm,
		metrics:   metrics,
		factory:   factory,
		logger:    logger,
		arenas:    make([]atomic.Pointer[Arena], maxArenas),
	}
	return a, nil
}

// EnableConsistencyChecking turns on the optional double-free detector
// described in §4.1. Off by default; intended for development and tests.
func (a *Allocator) EnableConsistencyChecking() {
	a.consistency = newConsistencyTracker()
}

// roundToClass returns the smallest class k with (1<<k) >= size, raised
// to minLog2 for small sizes. A size of zero or above MaxAllocBytes is
// rejected with ErrInvalidSize. A size of exactly (1<<k)-1 rounds up to k,
// matching the original allocator's documented rounding rule.
func (a *Allocator) roundToClass(size uint32) (uint32, error) {
	if size == 0 || size > (uint32(1)<<a.maxLog2) {
		return 0, errors.Wrapf(ErrInvalidSize, "size %d outside [1, MaxAllocBytes (%d)]", size, uint32(1)<<a.maxLog2)
	}
	k := uint32(bits.Len32(size - 1))
	if k < a.minLog2 {
		k = a.minLog2
	}
	return k, nil
}

// AllocateMultiple implements §4.2's phased allocation loop: try every
// currently materialized arena (Phase A), and if none can serve, reserve
// budget and grow (Phases B-C) before retrying (Phase D), until the
// request is fully served or growth is exhausted.
func (a *Allocator) AllocateMultiple(sizes []uint32) ([]*BufferHandle, error) {
	// Validate every size before touching any arena, so an invalid size
	// leaves no side effects behind.
	classes := make([]uint32, len(sizes))
	for i, size := range sizes {
		k, err := a.roundToClass(size)
		if err != nil {
			return nil, err
		}
		classes[i] = k
	}

	handles := make([]*BufferHandle, 0, len(sizes))
	served := 0

	rollback := func() {
		for _, h := range handles {
			a.Deallocate(h)
		}
	}

	for served < len(sizes) {
		k := classes[served]

		// Phase A: scan currently materialized arenas starting from hint.
		h, ok := a.allocFromExisting(k)
		if ok {
			handles = append(handles, h)
			served++
			continue
		}

		// Phase B/C: reserve budget for one more arena and grow.
		if !a.growFor() {
			rollback()
			return nil, errors.Wrapf(ErrOutOfMemory, "%s", a.mm.DebugDumpForOOM())
		}
		// Phase D: retry is implicit — loop continues without
		// incrementing served.
	}

	return handles, nil
}

// allocFromExisting tries every materialized arena, starting at the
// round-robin hint, for a free block of class k.
func (a *Allocator) allocFromExisting(k uint32) (*BufferHandle, bool) {
	n := int(a.materialized.Load())
	if n == 0 {
		return nil, false
	}
	start := int(a.hint.Add(1)-1) % n
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		arena := a.arenas[idx].Load()
		if arena == nil {
			continue
		}
		if h, ok := a.allocFromArena(idx, arena, k); ok {
			return h, true
		}
	}
	return nil, false
}

func (a *Allocator) allocFromArena(idx int, arena *Arena, k uint32) (*BufferHandle, bool) {
	arena.mu.Lock()
	offset, ok := arena.allocateLocked(k)
	arena.mu.Unlock()
	if !ok {
		return nil, false
	}

	if a.consistency != nil {
		a.consistency.track(idx, offset)
	}

	h := a.factory.NewHandle()
	h.Bytes = arena.view(offset, uint32(1)<<k)
	h.arenaIndex = idx
	h.class = k
	h.offset = offset

	a.metrics.AllocatedClass(k)
	return h, true
}

// growFor materializes one additional arena, reserving its bytes against
// the memory manager first. Returns false if growth is exhausted: either
// maxArenas is reached, or the memory manager refused the reservation.
func (a *Allocator) growFor() bool {
	a.growMu.Lock()
	defer a.growMu.Unlock()

	n := int(a.materialized.Load())
	if n >= a.maxArenas {
		a.logger.Debug("allocator: arena growth refused, MaxArenas reached", slog.Int("maxArenas", a.maxArenas))
		return false
	}

	if !a.mm.ReserveMemory(uint64(a.arenaSz), true) {
		a.logger.Warn("allocator: memory manager refused arena reservation", slog.Int("sizeBytes", int(a.arenaSz)))
		return false
	}

	arena := newArena(a.minLog2, a.maxLog2, a.arenaSz)
	a.arenas[n].Store(arena)
	a.materialized.Store(int64(n + 1))

	a.metrics.ArenaMaterialized()
	logArenaMaterialized(a.logger, n, a.arenaSz)
	return true
}

// Deallocate returns h's block to its owning arena and releases h back to
// the BufferFactory. h must not be used again afterward.
func (a *Allocator) Deallocate(h *BufferHandle) {
	idx := h.arenaIndex
	arena := a.arenas[idx].Load()

	if a.consistency != nil {
		if !a.consistency.untrack(idx, h.offset) {
			a.logger.Error("allocator: double free detected", slog.Int("arenaIndex", idx), slog.Int("offset", int(h.offset)))
			panic(errors.Wrapf(ErrInternalConsistency, "double free at arena %d offset %d", idx, h.offset))
		}
	}

	arena.mu.Lock()
	arena.deallocateLocked(h.offset, h.class)
	arena.mu.Unlock()

	a.mm.ReleaseMemory(uint64(1) << h.class)
	a.metrics.Deallocated(h.class)
	a.factory.ReleaseHandle(h)
}

// DebugDump returns a human-readable per-arena free-list census: for every
// materialized arena, the number of free blocks at each size class.
// Mirrors the kind of census the teacher's contentOfList test helper
// inspects directly.
func (a *Allocator) DebugDump() string {
	var b strings.Builder
	n := int(a.materialized.Load())
	fmt.Fprintf(&b, "allocator: %d/%d arenas materialized\n", n, a.maxArenas)
	for idx := 0; idx < n; idx++ {
		arena := a.arenas[idx].Load()
		fmt.Fprintf(&b, "arena %d:", idx)
		for k := a.minLog2; k <= a.maxLog2; k++ {
			fmt.Fprintf(&b, " class%d=%d", k, arena.freeCount(k))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// ArenaCount reports how many arenas are currently materialized.
func (a *Allocator) ArenaCount() int { return int(a.materialized.Load()) }

// MaxArenas reports the configured ceiling on materialized arenas.
func (a *Allocator) MaxArenas() int { return a.maxArenas }
