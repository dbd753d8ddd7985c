package shadow

import "errors"

var (
	// ErrOverlap indicates a registration whose reservation overlaps a live record.
	ErrOverlap = errors.New("shadow: reservation overlaps a live record")

	// ErrIllegalTransition indicates a state change outside allocated→quarantined→released.
	ErrIllegalTransition = errors.New("shadow: illegal state transition")

	// ErrNotFound indicates an update for a reservation the store does not hold.
	ErrNotFound = errors.New("shadow: record not found")

	// ErrMismatch indicates an update that changes a record's immutable layout.
	ErrMismatch = errors.New("shadow: record layout mismatch")
)
