package allocator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseConfig(minAlloc, maxAlloc, arenaSize uint32, maxTotal uint64) Config {
	return Config{
		MinAllocBytes:  minAlloc,
		MaxAllocBytes:  maxAlloc,
		ArenaSizeBytes: arenaSize,
		MaxTotalBytes:  maxTotal,
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	table := []struct {
		name string
		cfg  Config
	}{
		{"min-not-power-of-two", baseConfig(12, 256, 256, 256)},
		{"min-below-eight", baseConfig(4, 256, 256, 256)},
		{"max-below-min", baseConfig(64, 32, 256, 256)},
		{"arena-not-multiple-of-max", baseConfig(8, 256, 300, 600)},
		{"budget-below-one-arena", baseConfig(8, 256, 256, 100)},
	}

	for _, e := range table {
		t.Run(e.name, func(t *testing.T) {
			_, err := New(e.cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestRoundToClass(t *testing.T) {
	a, err := New(baseConfig(8, 256, 256, 256))
	require.NoError(t, err)

	table := []struct {
		size     uint32
		expected uint32
	}{
		{1, 3}, {7, 3}, {8, 3}, {9, 4},
		{15, 4}, {16, 4}, {17, 5},
		{255, 8}, {256, 8},
	}
	for _, e := range table {
		k, err := a.roundToClass(e.size)
		require.NoError(t, err)
		assert.Equal(t, e.expected, k, "size=%d", e.size)
	}

	_, err = a.roundToClass(0)
	assert.ErrorIs(t, err, ErrInvalidSize)
	_, err = a.roundToClass(257)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

// S1: same-size fill across every class with a round-trip canary write.
func TestScenarioSameSizeFill(t *testing.T) {
	a, err := New(baseConfig(8, 256, 256, 256))
	require.NoError(t, err)

	for k := uint32(8); k >= 3; k-- {
		count := int(256 >> k)
		sizes := make([]uint32, count)
		for i := range sizes {
			sizes[i] = uint32(1) << k
		}

		handles, err := a.AllocateMultiple(sizes)
		require.NoError(t, err)
		require.Len(t, handles, count)

		for _, h := range handles {
			assert.Equal(t, int(uint32(1)<<k), len(h.Bytes))
			h.Bytes[0] = 0x11
			if len(h.Bytes) >= 8 {
				h.Bytes[len(h.Bytes)/2] = 0x22
			}
		}
		for _, h := range handles {
			assert.Equal(t, byte(0x11), h.Bytes[0])
			if len(h.Bytes) >= 8 {
				assert.Equal(t, byte(0x22), h.Bytes[len(h.Bytes)/2])
			}
		}

		for _, h := range handles {
			a.Deallocate(h)
		}
		if k == 3 {
			break
		}
	}

	assert.Equal(t, 1, a.ArenaCount())
}

// S2: multi-arena spread.
func TestScenarioMultiArena(t *testing.T) {
	a, err := New(baseConfig(8, 256, 256, 1280))
	require.NoError(t, err)

	sizes := make([]uint32, 10)
	for i := range sizes {
		sizes[i] = 128
	}
	handles, err := a.AllocateMultiple(sizes)
	require.NoError(t, err)
	require.Len(t, handles, 10)

	assert.LessOrEqual(t, a.ArenaCount(), 5)

	seen := map[int]bool{}
	for _, h := range handles {
		seen[h.ArenaIndex()] = true
	}
	assert.GreaterOrEqual(t, len(seen), 2)

	for _, h := range handles {
		a.Deallocate(h)
	}
}

// S3: one buffer per class allocated in ascending size order, deallocated
// first in allocation order and then in reverse order.
func TestScenarioVariableUpDown(t *testing.T) {
	a, err := New(baseConfig(8, 256, 512, 1024))
	require.NoError(t, err)

	classes := []uint32{3, 4, 5, 6, 7, 8}
	sizes := make([]uint32, len(classes))
	for i, k := range classes {
		sizes[i] = uint32(1) << k
	}

	runSweep := func(deallocOrder []int) {
		handles, err := a.AllocateMultiple(sizes)
		require.NoError(t, err)
		for _, h := range handles {
			h.Bytes[0] = 0x42
		}
		for _, h := range handles {
			assert.Equal(t, byte(0x42), h.Bytes[0])
		}
		for _, i := range deallocOrder {
			a.Deallocate(handles[i])
		}
	}

	same := []int{0, 1, 2, 3, 4, 5}
	reverse := []int{5, 4, 3, 2, 1, 0}

	runSweep(same)
	runSweep(reverse)
}

// S6: OOM atomicity under a memory manager that refuses after N reservations.
type refuseAfterN struct {
	*BudgetManager
	allow int
}

func (r *refuseAfterN) ReserveMemory(n uint64, wait bool) bool {
	if r.allow <= 0 {
		return false
	}
	r.allow--
	return r.BudgetManager.ReserveMemory(n, wait)
}

func TestScenarioOOMAtomicity(t *testing.T) {
	mm := &refuseAfterN{BudgetManager: NewBudgetManager(1 << 30), allow: 1}
	cfg := baseConfig(8, 256, 256, 1<<30)
	cfg.MemoryManager = mm

	a, err := New(cfg)
	require.NoError(t, err)

	_, err = a.AllocateMultiple([]uint32{256})
	require.NoError(t, err)

	before := a.ArenaCount()
	_, err = a.AllocateMultiple([]uint32{256, 256})
	assert.ErrorIs(t, err, ErrOutOfMemory)
	assert.Equal(t, before, a.ArenaCount())
}

func TestDeallocateReleasesReservedMemory(t *testing.T) {
	mm := NewBudgetManager(256)
	cfg := baseConfig(8, 256, 256, 256)
	cfg.MemoryManager = mm

	a, err := New(cfg)
	require.NoError(t, err)

	handles, err := a.AllocateMultiple([]uint32{256})
	require.NoError(t, err)
	require.Equal(t, uint64(256), mm.Used())

	a.Deallocate(handles[0])
	assert.Equal(t, uint64(0), mm.Used())
}

func TestDebugDumpRendersPerArenaCensus(t *testing.T) {
	a, err := New(baseConfig(8, 256, 256, 512))
	require.NoError(t, err)

	handles, err := a.AllocateMultiple([]uint32{128})
	require.NoError(t, err)

	dump := a.DebugDump()
	assert.Contains(t, dump, "arenas materialized")
	assert.Contains(t, dump, "arena 0:")
	assert.Contains(t, dump, "class7=1")

	a.Deallocate(handles[0])
}

func TestDoubleFreeDetected(t *testing.T) {
	a, err := New(baseConfig(8, 256, 256, 256))
	require.NoError(t, err)
	a.EnableConsistencyChecking()

	handles, err := a.AllocateMultiple([]uint32{256})
	require.NoError(t, err)

	dup := &BufferHandle{arenaIndex: handles[0].arenaIndex, class: handles[0].class, offset: handles[0].offset}

	a.Deallocate(handles[0])
	assert.Panics(t, func() { a.Deallocate(dup) })
}
