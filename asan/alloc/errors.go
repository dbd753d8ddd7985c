package alloc

import "errors"

var (
	// ErrOutOfMemory indicates the memory source could not satisfy a reservation,
	// or the reservation size overflowed. It is recoverable.
	ErrOutOfMemory = errors.New("alloc: out of memory")

	// ErrInvalidAlignment indicates an alignment that is not a power of two.
	ErrInvalidAlignment = errors.New("alloc: alignment must be a power of two")

	// ErrInvalidRedzone indicates a redzone that is zero or not a multiple of
	// the default alignment.
	ErrInvalidRedzone = errors.New("alloc: redzone must be a non-zero multiple of the default alignment")

	// ErrFaulted indicates the allocator already reported a fatal violation and
	// refuses further heap operations.
	ErrFaulted = errors.New("alloc: allocator faulted")

	// ErrNoSource indicates New was called without a memory source.
	ErrNoSource = errors.New("alloc: nil memory source")
)
