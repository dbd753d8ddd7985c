package format

// Alignment utilities for the guarded heap.
// Alignments are always powers of two; callers validate with IsPowerOfTwo first.

// IsPowerOfTwo reports whether n is a non-zero power of two.
//
// Example:
//
//	IsPowerOfTwo(0)  = false
//	IsPowerOfTwo(1)  = true
//	IsPowerOfTwo(24) = false
func IsPowerOfTwo(n uintptr) bool {
	return n != 0 && n&(n-1) == 0
}

// AlignUp returns n aligned up to the next multiple of align.
// align must be a power of two. The result wraps on overflow; use
// AlignUpChecked when n is caller controlled.
//
// Example:
//
//	AlignUp(1, 16)  = 16
//	AlignUp(16, 16) = 16
//	AlignUp(17, 16) = 32
func AlignUp(n, align uintptr) uintptr {
	mask := align - 1
	return (n + mask) &^ mask
}

// AlignUpChecked is AlignUp with ok = false when the result would overflow.
func AlignUpChecked(n, align uintptr) (uintptr, bool) {
	mask := align - 1
	if n > ^uintptr(0)-mask {
		return 0, false
	}
	return (n + mask) &^ mask, true
}

// AlignDown returns n aligned down to a multiple of align.
func AlignDown(n, align uintptr) uintptr {
	return n &^ (align - 1)
}

// IsAligned reports whether n is a multiple of align.
func IsAligned(n, align uintptr) bool {
	return n&(align-1) == 0
}
