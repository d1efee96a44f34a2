package allocator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBudgetManagerReserveWithinCeiling(t *testing.T) {
	m := NewBudgetManager(1024)

	assert.True(t, m.ReserveMemory(512, false))
	assert.True(t, m.ReserveMemory(512, false))
	assert.False(t, m.ReserveMemory(1, false))
	assert.Equal(t, uint64(1024), m.Used())
}

func TestBudgetManagerReleaseMemory(t *testing.T) {
	m := NewBudgetManager(1024)

	m.ReserveMemory(1024, false)
	m.ReleaseMemory(400)
	assert.Equal(t, uint64(624), m.Used())

	m.ReleaseMemory(10000)
	assert.Equal(t, uint64(0), m.Used())
}

func TestBudgetManagerUpdateMaxSize(t *testing.T) {
	m := NewBudgetManager(100)
	assert.False(t, m.ReserveMemory(200, false))

	m.UpdateMaxSize(200)
	assert.True(t, m.ReserveMemory(200, false))
}

func TestBudgetManagerDebugDump(t *testing.T) {
	m := NewBudgetManager(1024)
	m.ReserveMemory(256, false)
	dump := m.DebugDumpForOOM()
	assert.Contains(t, dump, "used=256")
	assert.Contains(t, dump, "max=1024")
}
