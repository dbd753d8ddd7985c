package asan

import (
	"errors"
	"fmt"
	"strings"
)

// ExitCodeViolation is the process exit status dedicated to sanitizer-detected
// violations. Same value as the Go race detector.
const ExitCodeViolation = 66

// Kind classifies a violation.
type Kind uint8

const (
	// KindUnknownPointer: deallocation of an address that is not the base of any record.
	KindUnknownPointer Kind = iota + 1
	// KindDoubleFree: deallocation of a quarantined or released record.
	KindDoubleFree
	// KindHeapCorruption: redzone bytes no longer hold the poison pattern at free time.
	KindHeapCorruption
	// KindHeapBufferOverflow: an access touched a redzone or padding of a live object.
	KindHeapBufferOverflow
	// KindUseAfterFree: an access touched quarantined or released memory.
	KindUseAfterFree
	// KindOverlappingCopy: memcpy with overlapping source and destination.
	KindOverlappingCopy
)

func (k Kind) String() string {
	switch k {
	case KindUnknownPointer:
		return "unknown-pointer"
	case KindDoubleFree:
		return "double-free"
	case KindHeapCorruption:
		return "heap-corruption"
	case KindHeapBufferOverflow:
		return "heap-buffer-overflow"
	case KindUseAfterFree:
		return "heap-use-after-free"
	case KindOverlappingCopy:
		return "overlapping-copy"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Violation describes a detected breach of heap integrity.
type Violation struct {
	Kind Kind
	// Addr is the faulting address: the pointer passed to a deallocation, the
	// first corrupted redzone byte, or the first invalid byte of an access.
	Addr Addr
	// Access is the length of the access for access violations, 0 otherwise.
	Access uintptr

	// HasRecord is false when no allocation record relates to Addr.
	HasRecord bool
	Base      Addr
	Size      uintptr
	Origin    uint64
	// Site names the allocation call site when caller capture is enabled.
	Site  string
	State State
}

// Error renders the single diagnostic line for the violation:
//
//	asan: double-free on address 0x7f... (size 8, origin #3) state=quarantined
func (v *Violation) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "asan: %s on address %s", v.Kind, v.Addr)
	if v.Access > 0 {
		fmt.Fprintf(&b, " (access %d)", v.Access)
	}
	if !v.HasRecord {
		b.WriteString(" (no allocation record)")
		return b.String()
	}
	fmt.Fprintf(&b, " (base %s, size %d, origin #%d", v.Base, v.Size, v.Origin)
	if v.Site != "" {
		b.WriteString(" ")
		b.WriteString(v.Site)
	}
	fmt.Fprintf(&b, ") state=%s", v.State)
	return b.String()
}

// IsViolation reports whether err is, or wraps, a *Violation.
func IsViolation(err error) bool {
	var v *Violation
	return errors.As(err, &v)
}

// AsViolation extracts the *Violation from err.
func AsViolation(err error) (*Violation, bool) {
	var v *Violation
	ok := errors.As(err, &v)
	return v, ok
}
