package backend

import (
	"sync/atomic"
	"time"

	"aigw/internal/config"
	"aigw/internal/observability"
	"aigw/internal/util"
)

// Balancer selects backend instances using a composite resource score.
// Instances with fresh resource reports are ranked by weighted CPU,
// memory, latency and connection utilization. While at least one
// candidate reports fresh telemetry, candidates with stale reports are
// left out of the ranking; only when no candidate is fresh does the
// balancer fall back to round-robin over all of them, so selection
// never stalls on missing telemetry.
type Balancer struct {
	cfg    config.BalancerConfig
	logger observability.Logger

	rr atomic.Uint64
}

// NewBalancer creates a resource-aware load balancer.
func NewBalancer(cfg config.BalancerConfig, logger observability.Logger) *Balancer {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Balancer{cfg: cfg, logger: logger}
}

// Pick selects the best instance among the candidates. Unhealthy
// instances are never selected. eligible filters out instances the
// caller cannot use, typically those with an open circuit breaker.
func (b *Balancer) Pick(candidates []*Instance, eligible func(*Instance) bool) (*Instance, error) {
	usable := make([]*Instance, 0, len(candidates))
	for _, inst := range candidates {
		if inst.State() == StateUnhealthy {
			continue
		}
		if eligible != nil && !eligible(inst) {
			continue
		}
		usable = append(usable, inst)
	}

	if len(usable) == 0 {
		return nil, util.ErrNoBackend
	}

	maxAge := b.cfg.MetricsMaxAge.Duration()
	if maxAge <= 0 {
		maxAge = 30 * time.Second
	}

	fresh := make([]*Instance, 0, len(usable))
	for _, inst := range usable {
		if !inst.Resources().Stale(maxAge) {
			fresh = append(fresh, inst)
		}
	}

	// Without telemetry there is nothing to score.
	if len(fresh) == 0 {
		inst := b.roundRobin(usable)
		GetBackendMetrics().selectionsTotal.WithLabelValues(inst.Service, inst.Name, "round_robin").Inc()
		return inst, nil
	}

	best := b.lowestScore(fresh)
	GetBackendMetrics().selectionsTotal.WithLabelValues(best.Service, best.Name, "resource_score").Inc()
	return best, nil
}

// lowestScore returns the candidate with the lowest composite score.
func (b *Balancer) lowestScore(candidates []*Instance) *Instance {
	maxLatency := 0.0
	for _, inst := range candidates {
		if l := inst.Resources().LatencyMillis; l > maxLatency {
			maxLatency = l
		}
	}

	var best *Instance
	bestScore := 0.0
	for _, inst := range candidates {
		score := b.score(inst, maxLatency)
		if best == nil || score < bestScore {
			best = inst
			bestScore = score
		}
	}
	return best
}

// score computes the composite load score. Lower is better.
func (b *Balancer) score(inst *Instance, maxLatency float64) float64 {
	res := inst.Resources()

	normLatency := 0.0
	if maxLatency > 0 {
		normLatency = res.LatencyMillis / maxLatency
	}

	connUtil := float64(inst.Connections()) / float64(inst.MaxConnections)
	if connUtil > 1 {
		connUtil = 1
	}

	score := b.cfg.CPUWeight*(res.CPUPercent/100) +
		b.cfg.MemoryWeight*(res.MemoryPercent/100) +
		b.cfg.LatencyWeight*normLatency +
		b.cfg.ConnectionWeight*connUtil

	// Degraded instances stay selectable but lose ties to healthy ones.
	if inst.State() == StateDegraded {
		score *= b.cfg.DegradedPenalty
	}

	return score
}

// roundRobin returns the next candidate in rotation.
func (b *Balancer) roundRobin(candidates []*Instance) *Instance {
	idx := b.rr.Add(1) - 1
	return candidates[idx%uint64(len(candidates))]
}
