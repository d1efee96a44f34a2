package allocator

import (
	"math/bits"

	"github.com/cockroachdb/errors"
	"log/slog"
)

// Config is the allocator's immutable, construction-time configuration.
// All four size fields are validated together in New; an invalid
// combination fails fast with ErrInvalidConfig rather than surfacing as a
// confusing failure later on the allocate path.
type Config struct {
	// MinAllocBytes is the smallest allocation unit. Power of two, >= 8.
	MinAllocBytes uint32
	// MaxAllocBytes is the largest allocation unit and the allocator's
	// mergeable class ceiling. Power of two, >= MinAllocBytes.
	MaxAllocBytes uint32
	// ArenaSizeBytes is the size of one arena. Power of two, multiple of
	// MaxAllocBytes.
	ArenaSizeBytes uint32
	// MaxTotalBytes bounds the number of arenas the allocator may
	// materialize: MaxArenas = MaxTotalBytes / ArenaSizeBytes.
	MaxTotalBytes uint64

	// MemoryManager reserves/releases bytes against a global budget. If nil,
	// a BudgetManager sized to MaxTotalBytes is used.
	MemoryManager MemoryManager
	// Metrics receives allocation/deallocation/growth counters. If nil, an
	// AtomicMetrics is used.
	Metrics Metrics
	// BufferFactory produces blank BufferHandle values. If nil, a
	// PooledBufferFactory is used.
	BufferFactory BufferFactory
	// Logger receives structured diagnostics. If nil, logs are discarded.
	Logger *slog.Logger
}

func isPowerOfTwo(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}

func validateConfig(c Config) error {
	if !isPowerOfTwo(uint64(c.MinAllocBytes)) || c.MinAllocBytes < 8 {
		return errors.Wrapf(ErrInvalidConfig,
			"MinAllocBytes must be a power of two >= 8, got %d", c.MinAllocBytes)
	}
	if !isPowerOfTwo(uint64(c.MaxAllocBytes)) || c.MaxAllocBytes < c.MinAllocBytes {
		return errors.Wrapf(ErrInvalidConfig,
			"MaxAllocBytes must be a power of two >= MinAllocBytes (%d), got %d",
			c.MinAllocBytes, c.MaxAllocBytes)
	}
	if !isPowerOfTwo(uint64(c.ArenaSizeBytes)) ||
		c.ArenaSizeBytes < c.MaxAllocBytes ||
		c.ArenaSizeBytes%c.MaxAllocBytes != 0 {
		return errors.Wrapf(ErrInvalidConfig,
			"ArenaSizeBytes must be a power of two multiple of MaxAllocBytes (%d), got %d",
			c.MaxAllocBytes, c.ArenaSizeBytes)
	}
	if c.MaxTotalBytes < uint64(c.ArenaSizeBytes) {
		return errors.Wrapf(ErrInvalidConfig,
			"MaxTotalBytes must cover at least one arena (%d), got %d",
			c.ArenaSizeBytes, c.MaxTotalBytes)
	}
	// Offsets within an arena are addressed with uint32; the top class must
	// leave room for at least one bit of split below it.
	if bits.Len32(c.ArenaSizeBytes) > 31 {
		return errors.Wrapf(ErrInvalidConfig,
			"ArenaSizeBytes too large to address with 32-bit offsets: %d", c.ArenaSizeBytes)
	}
	return nil
}
