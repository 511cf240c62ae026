// Package fallback implements the ordered strategy chain consulted
// when the primary backend path for a request is exhausted. Strategies
// are evaluated by priority; the first one whose condition matches the
// failure and whose action succeeds produces the response.
package fallback

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"aigw/internal/observability"
	"aigw/internal/util"
)

// Strategy names reported in outcomes and metrics.
const (
	StrategyAlternateBackend = "alternate-backend"
	StrategyStaleCache       = "stale-cache"
	StrategyDegradedLocal    = "degraded-local"
)

// Request carries the parts of the original request a strategy needs.
type Request struct {
	Capability string
	Service    string
	Payload    json.RawMessage
	CacheKey   string

	// ExcludeInstance names the instance whose failure triggered the
	// chain, so the alternate-backend strategy does not retry it.
	ExcludeInstance string
}

// Outcome is the result of a successful fallback resolution.
type Outcome struct {
	Body     json.RawMessage
	Strategy string
	Degraded bool
}

// Strategy is one alternative way to answer a request.
type Strategy interface {
	// Name identifies the strategy in outcomes and metrics.
	Name() string

	// Priority orders evaluation; lower values run first.
	Priority() int

	// Matches reports whether the strategy applies to the failure.
	Matches(err error) bool

	// Execute attempts to produce a response.
	Execute(ctx context.Context, req *Request) (*Outcome, error)
}

// Chain evaluates strategies in priority order.
type Chain struct {
	strategies []Strategy
	logger     observability.Logger
	metrics    *observability.Metrics
}

// ChainOption is a functional option for configuring the chain.
type ChainOption func(*Chain)

// WithChainLogger sets the logger for the chain.
func WithChainLogger(logger observability.Logger) ChainOption {
	return func(c *Chain) {
		c.logger = logger
	}
}

// WithChainMetrics sets the metrics sink for resolved fallbacks.
func WithChainMetrics(metrics *observability.Metrics) ChainOption {
	return func(c *Chain) {
		c.metrics = metrics
	}
}

// NewChain creates a fallback chain from the given strategies.
func NewChain(strategies []Strategy, opts ...ChainOption) *Chain {
	c := &Chain{
		strategies: append([]Strategy(nil), strategies...),
		logger:     observability.NopLogger(),
	}
	sort.SliceStable(c.strategies, func(i, j int) bool {
		return c.strategies[i].Priority() < c.strategies[j].Priority()
	})

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Len returns the number of registered strategies.
func (c *Chain) Len() int {
	return len(c.strategies)
}

// Resolve walks the chain for the given failure. A strategy whose
// condition does not match is skipped; one whose action fails hands
// over to the next candidate. When nothing resolves, the original
// failure is surfaced as service unavailability.
func (c *Chain) Resolve(ctx context.Context, req *Request, cause error) (*Outcome, error) {
	for _, strategy := range c.strategies {
		if err := ctx.Err(); err != nil {
			derr := util.NewDeadlineError("fallback "+strategy.Name(), 0)
			derr.Cause = err
			return nil, derr
		}

		if !strategy.Matches(cause) {
			continue
		}

		start := time.Now()
		outcome, err := strategy.Execute(ctx, req)
		if err != nil {
			c.logger.Debug("fallback strategy failed",
				observability.String("capability", req.Capability),
				observability.String("strategy", strategy.Name()),
				observability.Duration("elapsed", time.Since(start)),
				observability.Error(err),
			)
			continue
		}

		c.logger.Info("request resolved by fallback",
			observability.String("capability", req.Capability),
			observability.String("strategy", strategy.Name()),
			observability.Bool("degraded", outcome.Degraded),
		)
		if c.metrics != nil {
			c.metrics.RecordFallback(req.Capability, strategy.Name())
		}
		return outcome, nil
	}

	return nil, errors.Join(util.ErrServiceUnavail, cause)
}
