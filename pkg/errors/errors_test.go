package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", http.StatusBadRequest)
	assert.Equal(t, "INVALID_INPUT: test error", err.Error())
}

func TestAppError_WithCause(t *testing.T) {
	originalErr := errors.New("original error")
	err := WrapError(originalErr, ErrCodeInternal, "wrapped error", http.StatusInternalServerError)

	assert.Same(t, originalErr, err.Cause)
	assert.Contains(t, err.Error(), "original error")
	assert.ErrorIs(t, err, originalErr)
}

func TestAppError_WithContext(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", http.StatusBadRequest)
	err.WithContext("slot", "slot3").WithContext("count", 42)

	assert.Equal(t, "slot3", err.Context["slot"])
	assert.Equal(t, 42, err.Context["count"])
}

func TestConstructors(t *testing.T) {
	cases := []struct {
		name   string
		err    *AppError
		code   ErrorCode
		status int
	}{
		{"invalid input", NewInvalidInputError("bad"), ErrCodeInvalidInput, http.StatusBadRequest},
		{"not found", NewNotFoundError("session"), ErrCodeNotFound, http.StatusNotFound},
		{"rate limit", NewRateLimitError(), ErrCodeRateLimit, http.StatusTooManyRequests},
		{"internal", NewInternalError("boom"), ErrCodeInternal, http.StatusInternalServerError},
		{"unavailable", NewServiceUnavailableError("down"), ErrCodeServiceUnavailable, http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.code, tc.err.Code)
			assert.Equal(t, tc.status, tc.err.HTTPStatus)
			assert.False(t, tc.err.Transient)
		})
	}
}

func TestNewNotFoundError_Message(t *testing.T) {
	assert.Equal(t, "session not found", NewNotFoundError("session").Message)
}

func TestCommitNotPersisted_IsTransient(t *testing.T) {
	cause := errors.New("redis: connection refused")
	err := NewCommitNotPersistedError(cause)

	assert.True(t, err.Transient)
	assert.Equal(t, ErrCodeCommitNotPersisted, err.Code)
	assert.Equal(t, http.StatusAccepted, err.HTTPStatus)
	assert.True(t, IsTransient(fmt.Errorf("commit: %w", err)))
	assert.ErrorIs(t, err, cause)
}

func TestGetAppError(t *testing.T) {
	appErr := NewAppError(ErrCodeInvalidInput, "test", http.StatusBadRequest)

	assert.Same(t, appErr, GetAppError(appErr))

	wrapped := fmt.Errorf("handler: %w", appErr)
	got := GetAppError(wrapped)
	require.NotNil(t, got)
	assert.Same(t, appErr, got)

	assert.Nil(t, GetAppError(errors.New("regular error")))
	assert.Nil(t, GetAppError(nil))
}

func TestIsAppError(t *testing.T) {
	assert.True(t, IsAppError(NewInternalError("x")))
	assert.False(t, IsAppError(errors.New("regular error")))
	assert.False(t, IsTransient(errors.New("regular error")))
}
