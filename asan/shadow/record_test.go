package shadow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/asankit/asan"
)

func TestRecord_TransitionPath(t *testing.T) {
	r := newRecord(0x1000, 8, 1)

	q, err := r.Transition(asan.StateQuarantined)
	require.NoError(t, err)
	assert.Equal(t, asan.StateQuarantined, q.State)
	assert.Equal(t, asan.StateAllocated, r.State, "Transition returns a copy")

	rel, err := q.Transition(asan.StateReleased)
	require.NoError(t, err)
	assert.Equal(t, asan.StateReleased, rel.State)

	_, err = rel.Transition(asan.StateAllocated)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	_, err = r.Transition(asan.StateReleased)
	assert.ErrorIs(t, err, ErrIllegalTransition, "allocated cannot skip quarantine")
}

func TestRecord_ValidateLayout(t *testing.T) {
	r := newRecord(0x1000, 10, 1)
	require.NoError(t, r.Validate())
	assert.Equal(t, asan.Range{Start: r.Base, Len: 10}, r.Usable())
	assert.Equal(t, uintptr(6+testRedzone), r.RightRedzone.Len, "padding belongs to the right redzone")

	bad := r
	bad.RightRedzone.Len--
	assert.ErrorIs(t, bad.Validate(), ErrMismatch)
}
