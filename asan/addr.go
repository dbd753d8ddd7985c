package asan

import "fmt"

// Addr is a client-visible address inside memory managed by the heap.
type Addr uintptr

// String renders the address as 0x-prefixed hex.
func (a Addr) String() string {
	return fmt.Sprintf("0x%x", uintptr(a))
}

// Add returns a+n.
func (a Addr) Add(n uintptr) Addr {
	return a + Addr(n)
}

// Range is a half-open address range [Start, Start+Len).
type Range struct {
	Start Addr
	Len   uintptr
}

// End returns the first address past the range, saturating at the top of the
// address space.
func (r Range) End() Addr {
	end := r.Start + Addr(r.Len)
	if end < r.Start {
		return ^Addr(0)
	}
	return end
}

// Empty reports whether the range covers no bytes.
func (r Range) Empty() bool { return r.Len == 0 }

// Contains reports whether a lies within the range.
func (r Range) Contains(a Addr) bool {
	return a >= r.Start && a < r.End()
}

// Covers reports whether o lies entirely within r. An empty o is covered when
// its start lies within r or at r's end.
func (r Range) Covers(o Range) bool {
	return o.Start >= r.Start && o.End() <= r.End()
}

// Overlaps reports whether the two ranges share at least one byte.
func (r Range) Overlaps(o Range) bool {
	if r.Empty() || o.Empty() {
		return false
	}
	return r.Start < o.End() && o.Start < r.End()
}

func (r Range) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start, r.End())
}
