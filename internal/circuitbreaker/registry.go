package circuitbreaker

import (
	"sync"

	"go.uber.org/zap"
)

// Registry holds one breaker per backend instance. Keys have the form
// "service/instance" so a misbehaving replica trips only its own
// breaker, never its siblings'.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	config   *Config
	logger   *zap.Logger
}

// NewRegistry creates a breaker registry. New breakers are created
// lazily with the given config; a nil config falls back to defaults.
func NewRegistry(config *Config, logger *zap.Logger) *Registry {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
		logger:   logger,
	}
}

// Key builds the registry key for a backend instance.
func Key(service, instance string) string {
	return service + "/" + instance
}

// Get returns the breaker for a key, or nil if none exists yet. The
// balancer uses the nil result to treat never-dispatched instances as
// eligible without allocating breakers for them.
func (r *Registry) Get(key string) *CircuitBreaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[key]
}

// GetOrCreate returns the breaker for a key, creating it on first
// dispatch to that instance.
func (r *Registry) GetOrCreate(key string) *CircuitBreaker {
	r.mu.RLock()
	cb := r.breakers[key]
	r.mu.RUnlock()
	if cb != nil {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb := r.breakers[key]; cb != nil {
		return cb
	}

	cb = NewCircuitBreaker(key, r.config, r.logger)
	r.breakers[key] = cb

	r.logger.Debug("created circuit breaker",
		zap.String("instance", key),
	)
	return cb
}

// Remove drops the breaker for an instance that left the registry.
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	delete(r.breakers, key)
	r.mu.Unlock()
}

// ResetAll forces every breaker back to closed. Used by operators
// after a known-transient incident, never by request paths.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cb := range r.breakers {
		cb.Reset()
	}
	r.logger.Info("reset all circuit breakers")
}

// Stats returns a snapshot of every breaker keyed by instance.
func (r *Registry) Stats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]Stats, len(r.breakers))
	for key, cb := range r.breakers {
		stats[key] = cb.Stats()
	}
	return stats
}

// Count returns the number of breakers currently tracked.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.breakers)
}

// UpdateConfig swaps the config used for breakers created after this
// call. Existing breakers keep their settings; a config reload takes
// effect per instance as old breakers are removed or reset.
func (r *Registry) UpdateConfig(config *Config) {
	if config == nil {
		return
	}
	r.mu.Lock()
	r.config = config
	r.mu.Unlock()
}
