package allocator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPooledBufferFactoryRecyclesHandles(t *testing.T) {
	f := NewPooledBufferFactory()

	h := f.NewHandle()
	h.Bytes = make([]byte, 16)
	h.arenaIndex = 3
	h.class = 4
	h.offset = 64

	f.ReleaseHandle(h)

	assert.Nil(t, h.Bytes)
	assert.Equal(t, -1, h.ArenaIndex())
	assert.Equal(t, uint32(0), h.Class())
}

func TestNewPooledBufferFactoryYieldsBlankHandle(t *testing.T) {
	f := NewPooledBufferFactory()
	h := f.NewHandle()
	assert.Equal(t, -1, h.ArenaIndex())
	assert.Nil(t, h.Bytes)
}
