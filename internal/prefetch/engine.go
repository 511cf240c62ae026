// Package prefetch implements speculative cache warming. Prediction
// strategies look at the request that just completed and nominate
// likely follow-up requests; the engine fetches them through the
// regular backend path after a deliberate delay, off the critical path
// of any client request.
package prefetch

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"aigw/internal/config"
	"aigw/internal/observability"
)

// Origin describes the request that triggers prediction.
type Origin struct {
	Capability string
	Payload    json.RawMessage
	ProjectID  string
	FileID     string
}

// Prediction is a candidate request nominated by a strategy.
type Prediction struct {
	Capability string
	Payload    json.RawMessage
	Confidence float64
}

// Predictor nominates follow-up requests for an origin.
type Predictor interface {
	Name() string
	Predict(origin Origin) []Prediction
}

// FetchFunc executes a predicted request through the backend path and
// stores the result in the cache. Failures are discarded silently.
type FetchFunc func(ctx context.Context, capability string, payload json.RawMessage) error

// CachedFunc reports whether a predicted request is already cached.
type CachedFunc func(ctx context.Context, capability string, payload json.RawMessage) bool

// Engine schedules predicted requests. Work is bounded by an
// outstanding-task cap; when the gateway is busy, excess predictions
// are dropped rather than queued.
type Engine struct {
	cfg     config.PrefetchConfig
	fetch   FetchFunc
	cached  CachedFunc
	logger  observability.Logger
	metrics *observability.Metrics

	predictors  []Predictor
	outstanding atomic.Int64

	wg        sync.WaitGroup
	closeOnce sync.Once
	stopCh    chan struct{}
}

// EngineOption is a functional option for configuring the engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the logger for the engine.
func WithEngineLogger(logger observability.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithEngineMetrics sets the metrics sink for prefetch outcomes.
func WithEngineMetrics(metrics *observability.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = metrics
	}
}

// WithPredictors sets the prediction strategies.
func WithPredictors(predictors ...Predictor) EngineOption {
	return func(e *Engine) {
		e.predictors = predictors
	}
}

// NewEngine creates a prefetch engine.
func NewEngine(cfg config.PrefetchConfig, fetch FetchFunc, cached CachedFunc, opts ...EngineOption) *Engine {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.7
	}
	if cfg.Delay.Duration() <= 0 {
		cfg.Delay = config.Duration(100 * time.Millisecond)
	}
	if cfg.MaxOutstanding <= 0 {
		cfg.MaxOutstanding = 32
	}

	e := &Engine{
		cfg:    cfg,
		fetch:  fetch,
		cached: cached,
		logger: observability.NopLogger(),
		stopCh: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Trigger runs prediction for the origin and schedules qualifying
// candidates. It never blocks the caller.
func (e *Engine) Trigger(origin Origin) {
	if !e.cfg.Enabled || e.fetch == nil {
		return
	}

	for _, predictor := range e.predictors {
		for _, p := range predictor.Predict(origin) {
			if p.Confidence < e.cfg.ConfidenceThreshold {
				continue
			}
			e.schedule(p)
		}
	}
}

// Outstanding returns the number of prefetch tasks in flight.
func (e *Engine) Outstanding() int64 {
	return e.outstanding.Load()
}

// Stop cancels pending tasks and waits for running ones.
func (e *Engine) Stop() {
	e.closeOnce.Do(func() {
		close(e.stopCh)
		e.wg.Wait()
	})
}

// schedule runs one prediction in the background after the configured
// delay. Predictions over the outstanding cap are dropped silently.
func (e *Engine) schedule(p Prediction) {
	if e.outstanding.Add(1) > int64(e.cfg.MaxOutstanding) {
		e.outstanding.Add(-1)
		e.recordResult("dropped")
		return
	}

	select {
	case <-e.stopCh:
		e.outstanding.Add(-1)
		return
	default:
	}

	e.recordResult("scheduled")
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.outstanding.Add(-1)
		e.run(p)
	}()
}

func (e *Engine) run(p Prediction) {
	timer := time.NewTimer(e.cfg.Delay.Duration())
	defer timer.Stop()
	select {
	case <-e.stopCh:
		return
	case <-timer.C:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if e.cached != nil && e.cached(ctx, p.Capability, p.Payload) {
		return
	}

	if err := e.fetch(ctx, p.Capability, p.Payload); err != nil {
		e.logger.Debug("prefetch failed",
			observability.String("capability", p.Capability),
			observability.Error(err),
		)
		e.recordResult("failed")
		return
	}
	e.recordResult("completed")
}

func (e *Engine) recordResult(result string) {
	if e.metrics != nil {
		e.metrics.RecordPrefetch(result)
	}
}
