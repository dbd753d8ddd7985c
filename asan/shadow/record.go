package shadow

import (
	"fmt"

	"github.com/joshuapare/asankit/asan"
)

// Record is the metadata for one reservation. Records are values: the store
// hands out copies and replaces them wholesale on Update.
type Record struct {
	// Base is the start of the usable region returned to the client.
	Base asan.Addr
	// Size and Align are the requested values, kept verbatim.
	Size  uintptr
	Align uintptr

	// Reserve is the whole range obtained from the memory source.
	Reserve asan.Range
	// LeftRedzone is [Reserve.Start, Base).
	LeftRedzone asan.Range
	// RightRedzone is [Base+Size, Reserve.End()) and includes alignment padding.
	RightRedzone asan.Range

	State asan.State

	// Origin is the allocation sequence number.
	Origin uint64
	// PC is the program counter of the allocating call site, 0 when not captured.
	PC uintptr
}

// Usable returns the client-visible region.
func (r Record) Usable() asan.Range {
	return asan.Range{Start: r.Base, Len: r.Size}
}

// Transition returns a copy of r moved to next, or ErrIllegalTransition.
func (r Record) Transition(next asan.State) (Record, error) {
	if !r.State.CanTransition(next) {
		return r, fmt.Errorf("%w: %s -> %s at %s", ErrIllegalTransition, r.State, next, r.Base)
	}
	r.State = next
	return r, nil
}

// Validate checks the record's internal layout: the redzones and the usable
// region must tile the reservation exactly.
func (r Record) Validate() error {
	if r.LeftRedzone.Start != r.Reserve.Start || r.LeftRedzone.End() != r.Base {
		return fmt.Errorf("%w: left redzone %s does not end at base %s", ErrMismatch, r.LeftRedzone, r.Base)
	}
	if r.RightRedzone.Start != r.Base.Add(r.Size) || r.RightRedzone.End() != r.Reserve.End() {
		return fmt.Errorf("%w: right redzone %s does not close reservation %s", ErrMismatch, r.RightRedzone, r.Reserve)
	}
	if r.LeftRedzone.Empty() || r.RightRedzone.Empty() {
		return fmt.Errorf("%w: redzones must be present", ErrMismatch)
	}
	return nil
}

func (r Record) String() string {
	return fmt.Sprintf("record{base=%s size=%d align=%d reserve=%s state=%s origin=#%d}",
		r.Base, r.Size, r.Align, r.Reserve, r.State, r.Origin)
}
