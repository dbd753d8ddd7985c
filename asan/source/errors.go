package source

import "errors"

var (
	// ErrExhausted indicates the source cannot satisfy a reservation.
	ErrExhausted = errors.New("source: memory exhausted")

	// ErrBadAddress indicates an address the source did not hand out, or one
	// already returned.
	ErrBadAddress = errors.New("source: bad address")

	// ErrBadAlign indicates an alignment that is not a power of two.
	ErrBadAlign = errors.New("source: alignment must be a power of two")

	// ErrClosed indicates use of a closed source.
	ErrClosed = errors.New("source: closed")
)
