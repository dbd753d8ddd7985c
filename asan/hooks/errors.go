package hooks

import "errors"

var (
	// ErrOverflow indicates a size computation (nobj*size, page rounding) that
	// does not fit in a uintptr.
	ErrOverflow = errors.New("hooks: size would overflow")

	// ErrNullPointer indicates a null pointer passed to a memory primitive with
	// a non-zero length.
	ErrNullPointer = errors.New("hooks: null pointer")

	// ErrUnmapped indicates a range that is not backed by the heap's memory source.
	ErrUnmapped = errors.New("hooks: memory not backed by the heap")
)
