package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"aigw/internal/backend"
	"aigw/internal/cache"
	"aigw/internal/circuitbreaker"
	"aigw/internal/config"
	"aigw/internal/fallback"
	"aigw/internal/observability"
	"aigw/internal/prefetch"
	"aigw/internal/retry"
	"aigw/internal/util"
)

// Gateway coordinates one request through the resilience pipeline:
// cache lookup, instance selection, breaker-gated retries, fallback
// and the asynchronous prefetch trigger.
type Gateway struct {
	cfg      *config.GatewayConfig
	logger   observability.Logger
	metrics  *observability.Metrics
	backends *backend.Registry
	breakers *circuitbreaker.Registry
	balancer *backend.Balancer
	client   *backend.Client
	executor *retry.Executor
	cache    *cache.MultiLevel
	chain    *fallback.Chain
	engine   *prefetch.Engine
}

// Deps bundles the collaborators the gateway orchestrates. All fields
// except Config, Backends, Breakers, Balancer and Client are optional;
// a nil cache, chain or engine disables that stage.
type Deps struct {
	Config   *config.GatewayConfig
	Logger   observability.Logger
	Metrics  *observability.Metrics
	Backends *backend.Registry
	Breakers *circuitbreaker.Registry
	Balancer *backend.Balancer
	Client   *backend.Client
	Executor *retry.Executor
	Cache    *cache.MultiLevel
}

// New creates the gateway coordinator.
func New(deps Deps) *Gateway {
	logger := deps.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	g := &Gateway{
		cfg:      deps.Config,
		logger:   logger,
		metrics:  deps.Metrics,
		backends: deps.Backends,
		breakers: deps.Breakers,
		balancer: deps.Balancer,
		client:   deps.Client,
		executor: deps.Executor,
		cache:    deps.Cache,
	}
	return g
}

// SetFallbackChain installs the fallback chain. Installed after
// construction because the alternate-backend strategy dispatches back
// through the gateway.
func (g *Gateway) SetFallbackChain(chain *fallback.Chain) {
	g.chain = chain
}

// SetPrefetchEngine installs the prefetch engine.
func (g *Gateway) SetPrefetchEngine(engine *prefetch.Engine) {
	g.engine = engine
}

// Handle processes one request end to end. The returned response is
// always non-nil; transport mapping of error statuses is the server's
// job.
func (g *Gateway) Handle(ctx context.Context, req *Request) *Response {
	start := time.Now()

	if err := req.Validate(); err != nil {
		return g.fail(req, start, err)
	}

	capCfg := g.cfg.CapabilityByName(req.Capability)
	if capCfg == nil {
		verr := util.NewValidationError("unknown capability")
		verr.AddField("capability", req.Capability)
		return g.fail(req, start, verr)
	}

	budget := req.Deadline(g.cfg.Server.RequestTimeout.Duration())
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	if g.metrics != nil {
		g.metrics.RequestStarted(req.Capability)
		defer g.metrics.RequestFinished(req.Capability)
	}

	key := g.cacheKey(capCfg, req.Payload)

	// Fast path: an already computed answer.
	if key != "" {
		if value, tier, err := g.cache.Get(ctx, key, capCfg.CacheTTL.Duration()); err == nil {
			g.logger.Debug("request served from cache",
				observability.String("capability", req.Capability),
				observability.String("tier", tier),
			)
			g.triggerPrefetch(req)
			return g.succeed(req, start, value, ServedByCache, false)
		}
	}

	body, reduced, err := g.dispatch(ctx, req.Capability, capCfg.Service, req.Payload, "")
	if err == nil {
		// Reduced-payload answers are partial; keeping them out of the
		// cache prevents serving them once the backend recovers.
		if key != "" && !reduced {
			g.writeCache(ctx, key, body, capCfg.CacheTTL.Duration())
		}
		g.triggerPrefetch(req)
		return g.succeed(req, start, body, ServedByBackend, reduced)
	}

	if errors.Is(err, util.ErrInvalidInput) {
		return g.fail(req, start, err)
	}

	outcome, ferr := g.resolveFallback(ctx, req, capCfg, key, err)
	if ferr != nil {
		return g.fail(req, start, ferr)
	}
	return g.succeedFallback(req, start, outcome)
}

// cacheKey computes the cache key for a cacheable capability, or ""
// when the request cannot be cached.
func (g *Gateway) cacheKey(capCfg *config.CapabilityConfig, payload json.RawMessage) string {
	if !capCfg.Cacheable || g.cache == nil || !g.cache.Enabled() {
		return ""
	}
	key, err := cache.Key(capCfg.Name, payload)
	if err != nil {
		g.logger.Warn("cache key derivation failed",
			observability.String("capability", capCfg.Name),
			observability.Error(err),
		)
		return ""
	}
	return key
}

// dispatch selects an instance and runs the call through its breaker
// inside the retry executor. It reports whether the final attempt used
// a reduced payload.
func (g *Gateway) dispatch(ctx context.Context, capability, service string, payload json.RawMessage, exclude string) (json.RawMessage, bool, error) {
	candidates := g.backends.ByKind(service)
	if len(candidates) == 0 {
		return nil, false, util.NewNoBackendError(capability, service)
	}

	inst, err := g.balancer.Pick(candidates, func(i *backend.Instance) bool {
		if exclude != "" && i.Name == exclude {
			return false
		}
		cb := g.breakers.Get(circuitbreaker.Key(i.Service, i.Name))
		return cb == nil || cb.CanAttempt()
	})
	if err != nil {
		return nil, false, util.NewNoBackendError(capability, service)
	}

	cb := g.breakers.GetOrCreate(inst.BreakerKey())

	var body json.RawMessage
	var reduced bool
	err = g.executor.Execute(ctx, capability, func(ctx context.Context, attempt retry.Attempt) error {
		if !cb.Allow() {
			return util.NewCircuitOpenError(cb.Name(), cb.State().String())
		}

		p := payload
		if attempt.Reduced {
			p = reducePayload(payload)
			reduced = true
		}

		result, callErr := g.client.Invoke(ctx, inst, "/v1/"+capability, p)
		cb.RecordResult(callErr)
		if callErr != nil {
			return callErr
		}

		body = result
		return nil
	})
	if err != nil {
		return nil, reduced, err
	}
	return body, reduced, nil
}

// resolveFallback runs the chain for a failed primary path.
func (g *Gateway) resolveFallback(ctx context.Context, req *Request, capCfg *config.CapabilityConfig, key string, cause error) (*fallback.Outcome, error) {
	if g.chain == nil || g.chain.Len() == 0 {
		return nil, cause
	}

	freq := &fallback.Request{
		Capability: req.Capability,
		Service:    capCfg.Service,
		Payload:    req.Payload,
		CacheKey:   key,
	}
	var berr *util.BackendError
	if errors.As(cause, &berr) {
		freq.ExcludeInstance = berr.Instance
	}

	return g.chain.Resolve(ctx, freq, cause)
}

// AlternateInvoke is the dispatch entry point for the
// alternate-backend fallback strategy. Fallback answers are not
// cached; a later request on the healthy path refreshes the entry.
func (g *Gateway) AlternateInvoke(ctx context.Context, freq *fallback.Request) (json.RawMessage, error) {
	body, _, err := g.dispatch(ctx, freq.Capability, freq.Service, freq.Payload, freq.ExcludeInstance)
	return body, err
}

// PrefetchFetch executes a predicted request and stores the result.
// Failures are discarded without touching breaker failure counts, so a
// wrong prediction can never open a circuit for real traffic.
func (g *Gateway) PrefetchFetch(ctx context.Context, capability string, payload json.RawMessage) error {
	capCfg := g.cfg.CapabilityByName(capability)
	if capCfg == nil || !capCfg.Cacheable {
		return util.NewValidationError("capability not prefetchable")
	}

	candidates := g.backends.ByKind(capCfg.Service)
	inst, err := g.balancer.Pick(candidates, func(i *backend.Instance) bool {
		cb := g.breakers.Get(circuitbreaker.Key(i.Service, i.Name))
		return cb == nil || cb.CanAttempt()
	})
	if err != nil {
		return err
	}

	cb := g.breakers.GetOrCreate(inst.BreakerKey())
	if !cb.Allow() {
		return util.NewCircuitOpenError(cb.Name(), cb.State().String())
	}

	body, err := g.client.Invoke(ctx, inst, "/v1/"+capability, payload)
	if err != nil {
		// Speculative traffic must not trip breakers; only the success
		// signal is shared with real requests.
		return err
	}
	cb.RecordSuccess()

	key, err := cache.Key(capability, payload)
	if err != nil {
		return err
	}
	return g.cache.Set(ctx, key, body, capCfg.CacheTTL.Duration())
}

// PrefetchCached reports whether a predicted request is already
// answered by the cache.
func (g *Gateway) PrefetchCached(ctx context.Context, capability string, payload json.RawMessage) bool {
	if g.cache == nil || !g.cache.Enabled() {
		return false
	}
	key, err := cache.Key(capability, payload)
	if err != nil {
		return true
	}
	ok, err := g.cache.Exists(ctx, key)
	return err == nil && ok
}

// CacheStats exposes per-tier cache statistics for the admin surface.
func (g *Gateway) CacheStats() map[string]cache.CacheStats {
	if g.cache == nil {
		return nil
	}
	return g.cache.Stats()
}

// BreakerStats exposes per-instance breaker statistics.
func (g *Gateway) BreakerStats() map[string]circuitbreaker.Stats {
	return g.breakers.Stats()
}

func (g *Gateway) writeCache(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := g.cache.Set(ctx, key, value, ttl); err != nil {
		g.logger.Warn("cache write failed", observability.Error(err))
	}
}

func (g *Gateway) triggerPrefetch(req *Request) {
	if g.engine == nil {
		return
	}
	g.engine.Trigger(prefetch.Origin{
		Capability: req.Capability,
		Payload:    req.Payload,
		ProjectID:  req.Context.ProjectID,
		FileID:     req.Context.FileID,
	})
}

func (g *Gateway) succeed(req *Request, start time.Time, body json.RawMessage, servedBy string, degraded bool) *Response {
	status := StatusOK
	if degraded {
		status = StatusDegraded
	}
	g.record(req.Capability, status, servedBy, start)
	return &Response{
		ID:        req.ID,
		Status:    status,
		Body:      body,
		ServedBy:  servedBy,
		LatencyMs: time.Since(start).Milliseconds(),
	}
}

func (g *Gateway) succeedFallback(req *Request, start time.Time, outcome *fallback.Outcome) *Response {
	status := StatusOK
	if outcome.Degraded {
		status = StatusDegraded
	}
	g.record(req.Capability, status, ServedByFallback, start)
	return &Response{
		ID:        req.ID,
		Status:    status,
		Body:      outcome.Body,
		ServedBy:  ServedByFallback,
		LatencyMs: time.Since(start).Milliseconds(),
	}
}

func (g *Gateway) fail(req *Request, start time.Time, err error) *Response {
	detail := classifyError(req.Capability, err)
	g.record(req.Capability, StatusError, "none", start)

	g.logger.Warn("request failed",
		observability.String("capability", req.Capability),
		observability.String("kind", detail.Kind),
		observability.Error(err),
	)

	return &Response{
		ID:        req.ID,
		Status:    StatusError,
		Error:     detail,
		LatencyMs: time.Since(start).Milliseconds(),
	}
}

func (g *Gateway) record(capability, outcome, servedBy string, start time.Time) {
	if g.metrics != nil {
		g.metrics.RecordRequest(capability, outcome, servedBy, time.Since(start))
	}
}

// classifyError maps an internal failure to the client-visible detail.
func classifyError(capability string, err error) *ErrorDetail {
	detail := &ErrorDetail{Capability: capability}

	switch {
	case errors.Is(err, util.ErrInvalidInput):
		detail.Kind = "invalid_request"
		detail.Message = err.Error()
	case errors.Is(err, util.ErrDeadlineExceeded):
		detail.Kind = "deadline_exceeded"
		detail.Message = "the request deadline elapsed before a response was produced"
	case util.IsResourceExhausted(err):
		detail.Kind = "resource_exhausted"
		detail.Message = "all backends are at capacity"
	case errors.Is(err, util.ErrNoBackend), errors.Is(err, util.ErrCircuitOpen), errors.Is(err, util.ErrServiceUnavail):
		detail.Kind = "service_unavailable"
		detail.Message = "no backend could serve the request and no fallback applied"
	default:
		detail.Kind = "backend_error"
		detail.Message = "the backend call failed"
	}

	var berr *util.BackendError
	if errors.As(err, &berr) {
		detail.Backend = berr.Backend
	}
	var nberr *util.NoBackendError
	if errors.As(err, &nberr) {
		detail.Backend = nberr.Service
	}

	return detail
}

// reducePayload shrinks the request before a retry against an
// exhausted backend. Size-driving knobs that the backend contracts
// accept are halved; anything else passes through unchanged.
func reducePayload(payload json.RawMessage) json.RawMessage {
	if len(payload) == 0 {
		return payload
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(payload, &obj); err != nil {
		return payload
	}

	changed := false
	for _, field := range []string{"maxContext", "topK", "limit"} {
		if v, ok := obj[field].(float64); ok && v > 1 {
			obj[field] = float64(int(v / 2))
			changed = true
		}
	}
	if !changed {
		return payload
	}

	reduced, err := json.Marshal(obj)
	if err != nil {
		return payload
	}
	return reduced
}
