package asan

// State is the lifecycle state of an allocation record.
type State uint8

const (
	// StateNone is the zero value; no record exists.
	StateNone State = iota
	// StateAllocated records are owned by the client.
	StateAllocated
	// StateQuarantined records were freed but their memory is withheld from reuse.
	StateQuarantined
	// StateReleased records had their memory returned to the source.
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateAllocated:
		return "allocated"
	case StateQuarantined:
		return "quarantined"
	case StateReleased:
		return "released"
	default:
		return "invalid"
	}
}

// CanTransition reports whether a record may move from s to next.
// The only legal edges are none→allocated, allocated→quarantined and
// quarantined→released.
func (s State) CanTransition(next State) bool {
	switch s {
	case StateNone:
		return next == StateAllocated
	case StateAllocated:
		return next == StateQuarantined
	case StateQuarantined:
		return next == StateReleased
	default:
		return false
	}
}
