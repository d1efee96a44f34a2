package allocator

import "github.com/cockroachdb/errors"

// Sentinel error kinds. Callers match them with errors.Is; call sites wrap
// them with errors.Wrapf to attach request-specific detail (size, byte
// counts, the memory manager's diagnostic dump) without losing the kind.
var (
	// ErrInvalidConfig is returned by New when a Config violates one of its
	// construction-time constraints. Fatal: the allocator is never created.
	ErrInvalidConfig = errors.New("allocator: invalid config")

	// ErrInvalidSize is returned by AllocateMultiple when the requested size
	// is zero, negative, or larger than MaxAllocBytes. The call has no
	// side effects.
	ErrInvalidSize = errors.New("allocator: invalid size")

	// ErrOutOfMemory is returned when the memory manager's budget plus the
	// arena pool cannot satisfy a request after exhausting growth. Any
	// buffers populated earlier in the same call are rolled back before
	// this is returned.
	ErrOutOfMemory = errors.New("allocator: out of memory")

	// ErrInternalConsistency marks a detected invariant violation, such as a
	// double-free caught by the optional consistency tracker. It should
	// never be observed outside of a bug in the allocator or a caller
	// defect.
	ErrInternalConsistency = errors.New("allocator: internal consistency violation")
)
