package orchestrator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfNilErrorIsInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(nil))
}

func TestKindOfNonOrchestratorErrorIsInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestKindOfUnwrapsWrappedOrchestratorError(t *testing.T) {
	base := ErrConflict("already active")
	wrapped := errors.Join(errors.New("context"), base)
	assert.Equal(t, KindConflict, KindOf(wrapped))
}

func TestErrInvalidTransitionCarriesStates(t *testing.T) {
	err := ErrInvalidTransition(StateIdle, StateComplete)
	var oe *Error
	require := assert.New(t)
	require.True(errors.As(err, &oe))
	from, to := oe.Transition()
	require.Equal(StateIdle, from)
	require.Equal(StateComplete, to)
	require.Equal(KindInvalidTransition, oe.Kind())
}

func TestErrInternalUnwraps(t *testing.T) {
	cause := errors.New("db down")
	err := ErrInternal(cause, "store unavailable")
	assert.ErrorIs(t, err, cause)
}

func TestErrorKindString(t *testing.T) {
	assert.Equal(t, "not_found", KindNotFound.String())
	assert.Equal(t, "conflict", KindConflict.String())
	assert.Equal(t, "bad_request", KindBadRequest.String())
	assert.Equal(t, "invalid_transition", KindInvalidTransition.String())
	assert.Equal(t, "internal", KindInternal.String())
}
