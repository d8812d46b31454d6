package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError(t *testing.T) {
	t.Run("error string includes code and message", func(t *testing.T) {
		err := SessionFull("s1")
		assert.Contains(t, err.Error(), "SESSION_FULL")
		assert.Contains(t, err.Error(), "Both participant slots are taken")
	})

	t.Run("cause is unwrappable", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := DebitFailed(cause)

		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("details carry context", func(t *testing.T) {
		err := NotAMember("s1", "p1")
		details, ok := err.Details.(map[string]string)
		require.True(t, ok)
		assert.Equal(t, "s1", details["sessionId"])
		assert.Equal(t, "p1", details["participantId"])
	})
}

func TestAsAppError(t *testing.T) {
	t.Run("extracts an AppError through wrapping", func(t *testing.T) {
		wrapped := fmt.Errorf("handler: %w", AlreadyClosed("s1"))

		appErr, ok := AsAppError(wrapped)
		require.True(t, ok)
		assert.Equal(t, ErrCodeAlreadyClosed, appErr.Code)
	})

	t.Run("plain errors are not AppErrors", func(t *testing.T) {
		_, ok := AsAppError(errors.New("nope"))
		assert.False(t, ok)
	})
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeSessionNotFound, GetCode(SessionNotFound("s1")))
	assert.Equal(t, ErrCodeInternal, GetCode(errors.New("nope")))
	assert.True(t, HasCode(NotAuthorized("no"), ErrCodeNotAuthorized))
	assert.False(t, HasCode(NotAuthorized("no"), ErrCodeNotAMember))
}
