// Package util provides utility functions and types for the AI gateway.
//
// # Error Conventions
//
// This project follows a standardized error pattern across all packages:
//
//   - Sentinel errors (errors.New) for well-known, stable conditions
//     that callers check with errors.Is(). Example: ErrNoBackend.
//   - Structured error types for context-rich errors that carry
//     additional fields (e.g., ValidationError, BackendError). Each type
//     implements Error(), Unwrap() (if wrapping), and Is().
//   - fmt.Errorf with %w for ad-hoc wrapping that adds context to an
//     existing error without introducing a new type.
//
// All custom error types must implement:
//
//	Error() string           – human-readable message
//	Unwrap() error           – if the type wraps another error
//	Is(target error) bool    – for errors.Is() compatibility
package util

import (
	"errors"
	"fmt"
	"time"
)

// Common sentinel errors.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrDeadlineExceeded = errors.New("deadline exceeded")
	ErrCircuitOpen      = errors.New("circuit breaker open")
	ErrNoBackend        = errors.New("no backend available")
	ErrServiceUnavail   = errors.New("service unavailable")
	ErrConfigInvalid    = errors.New("invalid configuration")
)

// ValidationError represents a request validation failure. Validation
// errors are terminal: they are never retried and never trip breakers.
type ValidationError struct {
	Fields  map[string]string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("validation error: %s", e.Message)
	}
	return fmt.Sprintf("validation error: %s (fields: %v)", e.Message, e.Fields)
}

// Is checks if the error matches the target.
func (e *ValidationError) Is(target error) bool {
	if target == ErrInvalidInput {
		return true
	}
	_, ok := target.(*ValidationError)
	return ok
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message, Fields: make(map[string]string)}
}

// AddField adds a field error.
func (e *ValidationError) AddField(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = message
}

// ConfigError represents a configuration-related error.
type ConfigError struct {
	Field   string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error at %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *ConfigError) Is(target error) bool {
	if target == ErrConfigInvalid {
		return true
	}
	_, ok := target.(*ConfigError)
	return ok || errors.Is(e.Cause, target)
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// NewConfigErrorWithCause creates a new ConfigError with a cause.
func NewConfigErrorWithCause(field, message string, cause error) *ConfigError {
	return &ConfigError{Field: field, Message: message, Cause: cause}
}

// BackendError represents a failure reported by (or on the way to) a
// backend instance. Retryable distinguishes transient faults (connection
// refused, 5xx, timeouts) from permanent ones (4xx other than 429).
type BackendError struct {
	Backend   string
	Instance  string
	Status    int
	Message   string
	Retryable bool
	Cause     error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "retryable"
	}
	if e.Cause != nil {
		return fmt.Sprintf("backend %s error (%s): %s: %v", e.Backend, kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("backend %s error (%s): %s", e.Backend, kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *BackendError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *BackendError) Is(target error) bool {
	_, ok := target.(*BackendError)
	return ok || errors.Is(e.Cause, target)
}

// NewRetryableBackendError creates a BackendError for a transient fault.
func NewRetryableBackendError(backend, message string, cause error) *BackendError {
	return &BackendError{Backend: backend, Message: message, Retryable: true, Cause: cause}
}

// NewPermanentBackendError creates a BackendError for a permanent fault.
func NewPermanentBackendError(backend, message string, cause error) *BackendError {
	return &BackendError{Backend: backend, Message: message, Retryable: false, Cause: cause}
}

// ResourceExhaustedError signals that a backend rejected a request due
// to load or quota pressure (HTTP 429 or an explicit overload status).
// Callers may retry with a reduced payload.
type ResourceExhaustedError struct {
	Backend    string
	RetryAfter time.Duration
	Cause      error
}

// Error implements the error interface.
func (e *ResourceExhaustedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("backend %s resource exhausted (retry after %v)", e.Backend, e.RetryAfter)
	}
	return fmt.Sprintf("backend %s resource exhausted", e.Backend)
}

// Unwrap returns the underlying error.
func (e *ResourceExhaustedError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *ResourceExhaustedError) Is(target error) bool {
	_, ok := target.(*ResourceExhaustedError)
	return ok || errors.Is(e.Cause, target)
}

// NewResourceExhaustedError creates a new ResourceExhaustedError.
func NewResourceExhaustedError(backend string, retryAfter time.Duration) *ResourceExhaustedError {
	return &ResourceExhaustedError{Backend: backend, RetryAfter: retryAfter}
}

// DeadlineError represents a request deadline expiring, either mid-call
// or before an attempt when the remaining budget is too small.
type DeadlineError struct {
	Operation string
	Elapsed   time.Duration
	Cause     error
}

// Error implements the error interface.
func (e *DeadlineError) Error() string {
	return fmt.Sprintf("deadline exceeded after %v during %s", e.Elapsed, e.Operation)
}

// Unwrap returns the underlying error.
func (e *DeadlineError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *DeadlineError) Is(target error) bool {
	if target == ErrDeadlineExceeded {
		return true
	}
	_, ok := target.(*DeadlineError)
	return ok || errors.Is(e.Cause, target)
}

// NewDeadlineError creates a new DeadlineError.
func NewDeadlineError(operation string, elapsed time.Duration) *DeadlineError {
	return &DeadlineError{Operation: operation, Elapsed: elapsed}
}

// CircuitOpenError represents a rejection by an open circuit breaker.
type CircuitOpenError struct {
	Name  string
	State string
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %s is %s", e.Name, e.State)
}

// Is checks if the error matches the target.
func (e *CircuitOpenError) Is(target error) bool {
	if target == ErrCircuitOpen {
		return true
	}
	_, ok := target.(*CircuitOpenError)
	return ok
}

// NewCircuitOpenError creates a new CircuitOpenError.
func NewCircuitOpenError(name, state string) *CircuitOpenError {
	return &CircuitOpenError{Name: name, State: state}
}

// NoBackendError reports that no healthy instance could serve a
// capability after the fallback chain was exhausted.
type NoBackendError struct {
	Capability string
	Service    string
}

// Error implements the error interface.
func (e *NoBackendError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("no backend available for capability %s (service %s)", e.Capability, e.Service)
	}
	return fmt.Sprintf("no backend available for capability %s", e.Capability)
}

// Is checks if the error matches the target.
func (e *NoBackendError) Is(target error) bool {
	if target == ErrNoBackend {
		return true
	}
	_, ok := target.(*NoBackendError)
	return ok
}

// NewNoBackendError creates a new NoBackendError.
func NewNoBackendError(capability, service string) *NoBackendError {
	return &NoBackendError{Capability: capability, Service: service}
}

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsRetryable returns true if the error may succeed on a later attempt.
// Validation errors, permanent backend errors and expired deadlines are
// not retryable; transient backend faults and resource exhaustion are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrDeadlineExceeded) {
		return false
	}

	var resErr *ResourceExhaustedError
	if errors.As(err, &resErr) {
		return true
	}

	var backendErr *BackendError
	if errors.As(err, &backendErr) {
		return backendErr.Retryable
	}

	// Open breakers are not retried against the same instance, but the
	// caller may still fail over elsewhere.
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}

	return false
}

// IsResourceExhausted returns true if the error indicates backend
// overload that calls for a reduced-payload retry.
func IsResourceExhausted(err error) bool {
	var resErr *ResourceExhaustedError
	return errors.As(err, &resErr)
}

// CountsAsBreakerFailure returns true if the error should be recorded
// as a failure on the instance's circuit breaker. Client-side mistakes
// do not indicate backend health problems.
func CountsAsBreakerFailure(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrInvalidInput) {
		return false
	}

	var backendErr *BackendError
	if errors.As(err, &backendErr) {
		// Permanent failures count too. An instance answering nothing
		// but auth failures or garbage is not serving usable traffic,
		// even though those responses are never retried.
		return true
	}

	var resErr *ResourceExhaustedError
	if errors.As(err, &resErr) {
		return true
	}

	var deadlineErr *DeadlineError
	if errors.As(err, &deadlineErr) {
		// Only count deadlines that expired while a call was in flight.
		return deadlineErr.Cause != nil
	}

	return false
}

// IsClientError returns true if the error maps to a 4xx response.
func IsClientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrNotFound) {
		return true
	}

	var backendErr *BackendError
	if errors.As(err, &backendErr) {
		return !backendErr.Retryable && backendErr.Status >= 400 && backendErr.Status < 500
	}

	return false
}

// IsServerError returns true if the error maps to a 5xx response.
func IsServerError(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, ErrNoBackend) ||
		errors.Is(err, ErrServiceUnavail) ||
		errors.Is(err, ErrDeadlineExceeded)
}
