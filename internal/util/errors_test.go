package util

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidationError_IsInvalidInput(t *testing.T) {
	verr := NewValidationError("bad request")
	verr.AddField("capability", "capability is required")

	assert.True(t, errors.Is(verr, ErrInvalidInput))
	assert.Contains(t, verr.Error(), "bad request")
	assert.Contains(t, verr.Error(), "capability")
}

func TestBackendError_WrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewRetryableBackendError("inference", "dial failed", cause)

	assert.True(t, errors.Is(err, cause))

	var backendErr *BackendError
	assert.True(t, errors.As(err, &backendErr))
	assert.Equal(t, "inference", backendErr.Backend)
	assert.True(t, backendErr.Retryable)
}

func TestDeadlineError_IsDeadlineExceeded(t *testing.T) {
	err := NewDeadlineError("invoke", 80*time.Millisecond)

	assert.True(t, errors.Is(err, ErrDeadlineExceeded))
	assert.Contains(t, err.Error(), "invoke")
}

func TestCircuitOpenError_IsCircuitOpen(t *testing.T) {
	err := NewCircuitOpenError("inference/inference-1", "open")

	assert.True(t, errors.Is(err, ErrCircuitOpen))
}

func TestNoBackendError_IsNoBackend(t *testing.T) {
	err := NewNoBackendError("suggest", "inference")

	assert.True(t, errors.Is(err, ErrNoBackend))
	assert.Contains(t, err.Error(), "suggest")
	assert.Contains(t, err.Error(), "inference")
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"validation error", NewValidationError("bad"), false},
		{"retryable backend error", NewRetryableBackendError("inference", "502", nil), true},
		{"permanent backend error", NewPermanentBackendError("inference", "404", nil), false},
		{"resource exhausted", NewResourceExhaustedError("inference", time.Second), true},
		{"deadline error", NewDeadlineError("invoke", time.Second), false},
		{"circuit open", NewCircuitOpenError("inference/inference-1", "open"), false},
		{"wrapped retryable", fmt.Errorf("dispatch: %w", NewRetryableBackendError("inference", "503", nil)), true},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestIsResourceExhausted(t *testing.T) {
	assert.True(t, IsResourceExhausted(NewResourceExhaustedError("inference", 0)))
	assert.True(t, IsResourceExhausted(fmt.Errorf("attempt: %w", NewResourceExhaustedError("inference", 0))))
	assert.False(t, IsResourceExhausted(NewRetryableBackendError("inference", "503", nil)))
	assert.False(t, IsResourceExhausted(nil))
}

func TestCountsAsBreakerFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"validation error", NewValidationError("bad"), false},
		{"retryable backend error", NewRetryableBackendError("inference", "502", nil), true},
		{"permanent backend error", NewPermanentBackendError("inference", "401", nil), true},
		{"wrapped permanent backend error", fmt.Errorf("attempt: %w", NewPermanentBackendError("store", "bad response", nil)), true},
		{"resource exhausted", NewResourceExhaustedError("inference", time.Second), true},
		{"deadline before attempt", NewDeadlineError("retry budget", time.Second), false},
		{"deadline mid call", &DeadlineError{Operation: "invoke", Elapsed: time.Second, Cause: errors.New("context deadline exceeded")}, true},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CountsAsBreakerFailure(tt.err))
		})
	}
}

func TestIsClientError(t *testing.T) {
	assert.True(t, IsClientError(NewValidationError("bad")))
	assert.True(t, IsClientError(&BackendError{Backend: "inference", Status: 404, Message: "not found"}))
	assert.False(t, IsClientError(&BackendError{Backend: "inference", Status: 503, Retryable: true}))
	assert.False(t, IsClientError(nil))
}

func TestIsServerError(t *testing.T) {
	assert.True(t, IsServerError(NewCircuitOpenError("n", "open")))
	assert.True(t, IsServerError(NewNoBackendError("suggest", "")))
	assert.True(t, IsServerError(NewDeadlineError("invoke", time.Second)))
	assert.False(t, IsServerError(NewValidationError("bad")))
	assert.False(t, IsServerError(nil))
}

func TestWrapError(t *testing.T) {
	base := errors.New("boom")
	wrapped := WrapError(base, "loading config")

	assert.True(t, errors.Is(wrapped, base))
	assert.Contains(t, wrapped.Error(), "loading config")
	assert.NoError(t, WrapError(nil, "ignored"))
}

func TestConfigError_IsConfigInvalid(t *testing.T) {
	err := NewConfigError("server.httpPort", "must be positive")

	assert.True(t, errors.Is(err, ErrConfigInvalid))
	assert.Contains(t, err.Error(), "server.httpPort")
}
