// Package buf contains overflow-safe size arithmetic and bounds helpers used
// when carving reservations out of raw memory.
package buf

import (
	"fmt"
	"math/bits"
)

// AddOverflowSafe adds a and b, returning ok = false when the result would overflow uintptr.
func AddOverflowSafe(a, b uintptr) (uintptr, bool) {
	sum, carry := bits.Add(uint(a), uint(b), 0)
	return uintptr(sum), carry == 0
}

// MulOverflowSafe multiplies a and b, returning ok = false when the result would overflow uintptr.
// This is what calloc-style count * elementSize requests are validated with.
func MulOverflowSafe(a, b uintptr) (uintptr, bool) {
	hi, lo := bits.Mul(uint(a), uint(b))
	return uintptr(lo), hi == 0
}

// SumOverflowSafe adds every part, failing on the first overflow.
func SumOverflowSafe(parts ...uintptr) (uintptr, bool) {
	var total uintptr
	for _, p := range parts {
		var ok bool
		if total, ok = AddOverflowSafe(total, p); !ok {
			return 0, false
		}
	}
	return total, true
}

// CheckArrayBounds validates that count elements of elementSize bytes fit in a
// buffer of bufLen bytes. Returns the total size if valid, or an error describing
// the specific failure (overflow or out of bounds).
//
//	total, err := buf.CheckArrayBounds(limit, nobj, size)
//	if err != nil {
//	    return fmt.Errorf("calloc: %w", err)
//	}
func CheckArrayBounds(bufLen, count, elementSize uintptr) (uintptr, error) {
	total, ok := MulOverflowSafe(count, elementSize)
	if !ok {
		return 0, fmt.Errorf("overflow: count=%d * elemSize=%d", count, elementSize)
	}
	if total > bufLen {
		return 0, fmt.Errorf("bounds: size=%d > len=%d", total, bufLen)
	}
	return total, nil
}

// Slice returns the sub-slice [off:off+n] if it fits within len(b).
// The result is capped so appends cannot spill into neighbouring memory.
func Slice(b []byte, off, n int) ([]byte, bool) {
	if off < 0 || n < 0 || off > len(b) {
		return nil, false
	}
	if n > len(b)-off {
		return nil, false
	}
	end := off + n
	return b[off:end:end], true
}

// Has reports whether b[off:off+n] is within bounds.
func Has(b []byte, off, n int) bool {
	_, ok := Slice(b, off, n)
	return ok
}
