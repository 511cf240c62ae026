// Package gateway contains the request coordinator and its HTTP
// surface. The coordinator is the only component clients talk to; it
// sequences cache lookup, load balancing, circuit breaking, retries,
// fallback and prefetch for every request.
package gateway

import (
	"encoding/json"
	"time"

	"aigw/internal/util"
)

// Response statuses.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusError    = "error"
)

// ServedBy values.
const (
	ServedByCache    = "cache"
	ServedByBackend  = "backend"
	ServedByFallback = "fallback"
)

// RequestContext carries the client-side context used for prediction.
type RequestContext struct {
	ProjectID string `json:"projectId,omitempty"`
	FileID    string `json:"fileId,omitempty"`
}

// Request is one client call to the gateway.
type Request struct {
	ID         string          `json:"id"`
	Capability string          `json:"capability"`
	Payload    json.RawMessage `json:"payload"`
	Context    RequestContext  `json:"context"`

	// DeadlineMs is the client's total budget for this request in
	// milliseconds. Zero means the server default applies.
	DeadlineMs int64 `json:"deadlineMs"`
}

// Validate checks the request shape before any work is spent on it.
func (r *Request) Validate() error {
	verr := util.NewValidationError("invalid request")
	if r.Capability == "" {
		verr.AddField("capability", "capability is required")
	}
	if r.DeadlineMs < 0 {
		verr.AddField("deadlineMs", "deadline must not be negative")
	}
	if len(r.Payload) > 0 && !json.Valid(r.Payload) {
		verr.AddField("payload", "payload must be valid JSON")
	}
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

// Deadline returns the per-request budget, falling back to def.
func (r *Request) Deadline(def time.Duration) time.Duration {
	if r.DeadlineMs > 0 {
		return time.Duration(r.DeadlineMs) * time.Millisecond
	}
	return def
}

// Response is the gateway's answer to one request.
type Response struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	Body      json.RawMessage `json:"body,omitempty"`
	ServedBy  string          `json:"servedBy,omitempty"`
	LatencyMs int64           `json:"latencyMs"`

	// Error carries diagnostic detail when Status is "error". It names
	// the capability and backend kind involved but never internal
	// addresses.
	Error *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail is the client-visible failure description.
type ErrorDetail struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	Capability string `json:"capability,omitempty"`
	Backend    string `json:"backend,omitempty"`
}
