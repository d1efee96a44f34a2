package allocator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPowerOfTwo(t *testing.T) {
	table := []struct {
		n        uint64
		expected bool
	}{
		{0, false}, {1, true}, {2, true}, {3, false},
		{4, true}, {255, false}, {256, true},
	}
	for _, e := range table {
		assert.Equal(t, e.expected, isPowerOfTwo(e.n), "n=%d", e.n)
	}
}

func TestValidateConfigAccepts(t *testing.T) {
	err := validateConfig(baseConfig(8, 256, 512, 1024))
	assert.NoError(t, err)
}

func TestValidateConfigArenaTooLargeToAddress(t *testing.T) {
	cfg := baseConfig(8, 1<<31, 1<<31, 1<<32)
	err := validateConfig(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
