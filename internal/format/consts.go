// Package format houses the layout constants of the guarded heap: the poison
// byte values written into redzones and freed memory, the default redzone and
// alignment, the quarantine budget, and the diagnostic buffer capacity, plus
// the alignment arithmetic built on them.
package format

import "math/bits"

// Poison patterns, following the AddressSanitizer shadow encoding.
const (
	// PoisonLeftRedzone fills the redzone in front of every live object.
	PoisonLeftRedzone byte = 0xfa

	// PoisonRightRedzone fills the alignment padding and redzone behind every
	// live object.
	PoisonRightRedzone byte = 0xfb

	// PoisonFreed fills the usable bytes of an object once it is deallocated.
	PoisonFreed byte = 0xfd

	// FillFresh fills the usable bytes of a new allocation so reads of
	// uninitialised heap memory are recognisable.
	FillFresh byte = 0xff
)

const (
	// WordSize is the size of a machine word in bytes.
	WordSize = bits.UintSize / 8

	// DefaultAlignment is the alignment applied when a caller asks for zero.
	// 16 bytes on 64-bit targets, 8 bytes on 32-bit targets.
	DefaultAlignment = 2 * WordSize

	// DefaultRedzone is the minimum size of each redzone flanking an object.
	DefaultRedzone = 128

	// DefaultQuarantineBytes is the reservation byte budget held in quarantine
	// before the oldest entries are returned to the memory source.
	DefaultQuarantineBytes = 50 << 20

	// DefaultReleasedHistory bounds how many released reservations are remembered
	// for double-free and use-after-free classification.
	DefaultReleasedHistory = 4096

	// LogBufferSize is the fixed capacity of the diagnostic buffer (PATH_MAX).
	LogBufferSize = 4096

	// DefaultArenaSize is the size of the mapping backing the default memory source.
	DefaultArenaSize = 64 << 20

	// DefaultPageSize is used when the platform page size cannot be queried.
	DefaultPageSize = 4096
)
