package allocator

import "sync/atomic"

// Metrics receives scalar counters from the allocator without backpressure
// (C5); emission must never be allowed to fail or slow down a caller's
// allocate/deallocate.
type Metrics interface {
	AllocatedClass(k uint32)
	Deallocated(k uint32)
	ArenaMaterialized()
}

// AtomicMetrics is a reference Metrics sink built from plain atomic
// counters. No metrics library (prometheus, go-metrics, expvar,
// OpenTelemetry) appears anywhere in the retrieved pack, so none is
// introduced here; this mirrors the plain-struct-field approach the pack's
// own arena allocator uses for its statistics.
type AtomicMetrics struct {
	byClass       [64]atomic.Uint64
	deallocations atomic.Uint64
	arenasGrown   atomic.Uint64
}

// NewAtomicMetrics returns a zeroed AtomicMetrics.
func NewAtomicMetrics() *AtomicMetrics { return &AtomicMetrics{} }

// AllocatedClass increments the counter for size class k.
func (m *AtomicMetrics) AllocatedClass(k uint32) {
	if int(k) < len(m.byClass) {
		m.byClass[k].Add(1)
	}
}

// Deallocated increments the total deallocation counter.
func (m *AtomicMetrics) Deallocated(uint32) { m.deallocations.Add(1) }

// ArenaMaterialized increments the arena-growth counter.
func (m *AtomicMetrics) ArenaMaterialized() { m.arenasGrown.Add(1) }

// AllocationCount returns the number of allocations served at class k.
func (m *AtomicMetrics) AllocationCount(k uint32) uint64 {
	if int(k) < len(m.byClass) {
		return m.byClass[k].Load()
	}
	return 0
}

// DeallocationCount returns the total number of deallocations observed.
func (m *AtomicMetrics) DeallocationCount() uint64 { return m.deallocations.Load() }

// ArenaCount returns the number of arenas materialized so far.
func (m *AtomicMetrics) ArenaCount() uint64 { return m.arenasGrown.Load() }
