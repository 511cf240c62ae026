// Package backend provides backend service management for the AI
// gateway: instance bookkeeping, resource-aware load balancing, health
// monitoring and the HTTP client used to call instances.
package backend

import (
	"sync"
	"sync/atomic"
	"time"

	"aigw/internal/config"
)

// HealthState represents the monitored state of a backend instance.
type HealthState int32

const (
	// StateUnknown indicates the instance has not been probed yet.
	StateUnknown HealthState = iota
	// StateHealthy indicates the instance responds quickly.
	StateHealthy
	// StateDegraded indicates the instance responds slowly.
	StateDegraded
	// StateUnhealthy indicates the instance is failing or timing out.
	StateUnhealthy
)

// String returns the string representation of the state.
func (s HealthState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// ResourceMetrics is the resource report an instance returns in its
// health probe response.
type ResourceMetrics struct {
	CPUPercent    float64   `json:"cpuPercent"`
	MemoryPercent float64   `json:"memoryPercent"`
	LatencyMillis float64   `json:"latencyMillis"`
	ReportedAt    time.Time `json:"-"`
}

// Stale reports whether the metrics are older than maxAge.
func (m ResourceMetrics) Stale(maxAge time.Duration) bool {
	if m.ReportedAt.IsZero() {
		return true
	}
	return time.Since(m.ReportedAt) > maxAge
}

// Instance represents a single backend instance.
type Instance struct {
	Service        string
	Name           string
	Address        string
	MaxConnections int
	Timeout        time.Duration

	state       atomic.Int32
	connections atomic.Int64

	mu        sync.RWMutex
	resources ResourceMetrics
}

// NewInstance creates an instance from configuration.
func NewInstance(service string, cfg config.InstanceConfig) *Instance {
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 100
	}
	inst := &Instance{
		Service:        service,
		Name:           cfg.Name,
		Address:        cfg.Address,
		MaxConnections: maxConns,
		Timeout:        cfg.Timeout.Duration(),
	}
	inst.state.Store(int32(StateUnknown))
	return inst
}

// State returns the instance health state.
func (i *Instance) State() HealthState {
	return HealthState(i.state.Load())
}

// SetState sets the instance health state.
func (i *Instance) SetState(state HealthState) {
	i.state.Store(int32(state))
}

// Connections returns the current in-flight request count.
func (i *Instance) Connections() int64 {
	return i.connections.Load()
}

// Acquire increments the in-flight request count.
func (i *Instance) Acquire() {
	i.connections.Add(1)
	GetBackendMetrics().inFlight.WithLabelValues(i.Service, i.Name).Inc()
}

// Release decrements the in-flight request count.
func (i *Instance) Release() {
	i.connections.Add(-1)
	GetBackendMetrics().inFlight.WithLabelValues(i.Service, i.Name).Dec()
}

// Resources returns the last reported resource metrics.
func (i *Instance) Resources() ResourceMetrics {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.resources
}

// SetResources records a fresh resource report.
func (i *Instance) SetResources(m ResourceMetrics) {
	m.ReportedAt = time.Now()
	i.mu.Lock()
	i.resources = m
	i.mu.Unlock()
}

// BreakerKey returns the circuit breaker registry key for this instance.
func (i *Instance) BreakerKey() string {
	return i.Service + "/" + i.Name
}

// Registry holds all configured backend instances grouped by service kind.
type Registry struct {
	mu       sync.RWMutex
	services map[string][]*Instance
}

// NewRegistry builds a registry from configuration.
func NewRegistry(backends []config.BackendConfig) *Registry {
	services := make(map[string][]*Instance, len(backends))
	for _, b := range backends {
		instances := make([]*Instance, 0, len(b.Instances))
		for _, ic := range b.Instances {
			instances = append(instances, NewInstance(b.Kind, ic))
		}
		services[b.Kind] = instances
	}
	return &Registry{services: services}
}

// ByKind returns the instances serving a backend kind.
func (r *Registry) ByKind(kind string) []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.services[kind]
}

// All returns every registered instance.
func (r *Registry) All() []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []*Instance
	for _, instances := range r.services {
		all = append(all, instances...)
	}
	return all
}

// Services returns a snapshot of all instances grouped by service kind.
func (r *Registry) Services() map[string][]*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make(map[string][]*Instance, len(r.services))
	for kind, instances := range r.services {
		snapshot[kind] = append([]*Instance(nil), instances...)
	}
	return snapshot
}

// Instance returns the named instance of a service, or nil.
func (r *Registry) Instance(service, name string) *Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, inst := range r.services[service] {
		if inst.Name == name {
			return inst
		}
	}
	return nil
}

// Update replaces the instance set from a reloaded configuration.
// Existing instances keep their state when the address is unchanged.
func (r *Registry) Update(backends []config.BackendConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	updated := make(map[string][]*Instance, len(backends))
	for _, b := range backends {
		instances := make([]*Instance, 0, len(b.Instances))
		for _, ic := range b.Instances {
			if existing := r.findLocked(b.Kind, ic.Name); existing != nil && existing.Address == ic.Address {
				instances = append(instances, existing)
				continue
			}
			instances = append(instances, NewInstance(b.Kind, ic))
		}
		updated[b.Kind] = instances
	}
	r.services = updated
}

func (r *Registry) findLocked(service, name string) *Instance {
	for _, inst := range r.services[service] {
		if inst.Name == name {
			return inst
		}
	}
	return nil
}
