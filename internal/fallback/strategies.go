package fallback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"aigw/internal/cache"
	"aigw/internal/config"
	"aigw/internal/util"
)

// InvokeFunc dispatches a request to a backend instance, honoring the
// request's ExcludeInstance field.
type InvokeFunc func(ctx context.Context, req *Request) (json.RawMessage, error)

// matchesBackendFailure reports whether the error is a backend-path
// failure worth falling back on. Client-side validation failures are
// the caller's problem and never enter the chain.
func matchesBackendFailure(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, util.ErrInvalidInput)
}

// AlternateBackend retries the request once against a different
// healthy instance of the same service. The answer is full fidelity,
// so the outcome is not marked degraded.
type AlternateBackend struct {
	invoke InvokeFunc
}

// NewAlternateBackend creates the alternate-backend strategy.
func NewAlternateBackend(invoke InvokeFunc) *AlternateBackend {
	return &AlternateBackend{invoke: invoke}
}

// Name implements Strategy.
func (s *AlternateBackend) Name() string { return StrategyAlternateBackend }

// Priority implements Strategy.
func (s *AlternateBackend) Priority() int { return 10 }

// Matches implements Strategy. Only failures that leave room for a
// different instance to succeed qualify; a terminal rejection of the
// request itself would fail anywhere.
func (s *AlternateBackend) Matches(err error) bool {
	if !matchesBackendFailure(err) {
		return false
	}
	return util.IsRetryable(err) ||
		errors.Is(err, util.ErrCircuitOpen) ||
		errors.Is(err, util.ErrDeadlineExceeded)
}

// Execute implements Strategy.
func (s *AlternateBackend) Execute(ctx context.Context, req *Request) (*Outcome, error) {
	body, err := s.invoke(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Body:     body,
		Strategy: StrategyAlternateBackend,
		Degraded: false,
	}, nil
}

// StaleCache serves the most recent cached value for the request's key
// even if its TTL has elapsed. The outcome is always degraded so the
// client knows the answer may be out of date.
type StaleCache struct {
	cache *cache.MultiLevel
}

// NewStaleCache creates the stale-cache strategy.
func NewStaleCache(ml *cache.MultiLevel) *StaleCache {
	return &StaleCache{cache: ml}
}

// Name implements Strategy.
func (s *StaleCache) Name() string { return StrategyStaleCache }

// Priority implements Strategy.
func (s *StaleCache) Priority() int { return 20 }

// Matches implements Strategy.
func (s *StaleCache) Matches(err error) bool {
	return matchesBackendFailure(err)
}

// Execute implements Strategy.
func (s *StaleCache) Execute(ctx context.Context, req *Request) (*Outcome, error) {
	if s.cache == nil || !s.cache.Enabled() || req.CacheKey == "" {
		return nil, cache.ErrCacheDisabled
	}

	value, _, err := s.cache.GetStale(ctx, req.CacheKey)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Body:     value,
		Strategy: StrategyStaleCache,
		Degraded: true,
	}, nil
}

// DegradedLocal produces a minimal local answer with no backend call.
// Read capabilities get an explicit empty result; learn requests are
// queued on disk for later replay so client data is not dropped.
type DegradedLocal struct {
	queueDir string
}

// NewDegradedLocal creates the degraded-local strategy. queueDir may be
// empty, in which case learn requests are not queued and the strategy
// fails for them.
func NewDegradedLocal(queueDir string) *DegradedLocal {
	return &DegradedLocal{queueDir: queueDir}
}

// Name implements Strategy.
func (s *DegradedLocal) Name() string { return StrategyDegradedLocal }

// Priority implements Strategy.
func (s *DegradedLocal) Priority() int { return 30 }

// Matches implements Strategy.
func (s *DegradedLocal) Matches(err error) bool {
	return matchesBackendFailure(err)
}

// Execute implements Strategy.
func (s *DegradedLocal) Execute(ctx context.Context, req *Request) (*Outcome, error) {
	var body json.RawMessage

	switch req.Capability {
	case config.CapabilitySuggest:
		body = json.RawMessage(`{"suggestions":[]}`)
	case config.CapabilitySearch:
		body = json.RawMessage(`{"results":[]}`)
	case config.CapabilityExplain:
		body = json.RawMessage(`{"explanation":"The explanation service is temporarily unavailable."}`)
	case config.CapabilityLearn:
		if err := s.queueLearn(req); err != nil {
			return nil, err
		}
		body = json.RawMessage(`{"queued":true}`)
	default:
		return nil, fmt.Errorf("no local answer for capability %s", req.Capability)
	}

	return &Outcome{
		Body:     body,
		Strategy: StrategyDegradedLocal,
		Degraded: true,
	}, nil
}

// queuedLearn is the on-disk record format for deferred learn requests.
type queuedLearn struct {
	ID       string          `json:"id"`
	QueuedAt time.Time       `json:"queuedAt"`
	Payload  json.RawMessage `json:"payload"`
}

// queueLearn writes the payload to the queue directory. Files are
// named by record id so replays are idempotent per queued request.
func (s *DegradedLocal) queueLearn(req *Request) error {
	if s.queueDir == "" {
		return errors.New("learn queue not configured")
	}
	if err := os.MkdirAll(s.queueDir, 0o755); err != nil {
		return fmt.Errorf("create queue dir: %w", err)
	}

	record := queuedLearn{
		ID:       uuid.NewString(),
		QueuedAt: time.Now().UTC(),
		Payload:  req.Payload,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode queued record: %w", err)
	}

	path := filepath.Join(s.queueDir, record.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write queued record: %w", err)
	}
	return os.Rename(tmp, path)
}
