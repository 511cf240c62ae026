package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// HasErrors returns true if there are validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates gateway configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// ValidateConfig validates a gateway configuration.
func ValidateConfig(config *GatewayConfig) error {
	v := NewValidator()
	return v.Validate(config)
}

// Validate validates the configuration and returns any errors.
func (v *Validator) Validate(config *GatewayConfig) error {
	v.errors = make(ValidationErrors, 0)

	if config == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	v.validateServer(&config.Server)
	v.validateObservability(&config.Observability)
	v.validateBackends(config.Backends)
	v.validateCapabilities(config)
	v.validateCircuitBreaker(&config.CircuitBreaker)
	v.validateRetry(&config.Retry)
	v.validateCache(&config.Cache)
	v.validateBalancer(&config.Balancer)
	v.validatePrefetch(&config.Prefetch)
	v.validateHealthMonitor(&config.HealthMonitor)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) addError(path, format string, args ...interface{}) {
	v.errors = append(v.errors, ValidationError{
		Path:    path,
		Message: fmt.Sprintf(format, args...),
	})
}

func (v *Validator) validateServer(s *ServerConfig) {
	v.validatePort(s.HTTPPort, "server.httpPort")
	v.validatePort(s.MetricsPort, "server.metricsPort")
	v.validatePort(s.HealthPort, "server.healthPort")
	if s.RequestTimeout <= 0 {
		v.addError("server.requestTimeout", "must be positive")
	}
}

func (v *Validator) validatePort(port int, path string) {
	if port < 1 || port > 65535 {
		v.addError(path, "port must be between 1 and 65535, got %d", port)
	}
}

func (v *Validator) validateObservability(o *ObservabilityConfig) {
	switch o.LogLevel {
	case "debug", "info", "warn", "error", "fatal":
	default:
		v.addError("observability.logLevel", "unknown level %q", o.LogLevel)
	}
	switch o.LogFormat {
	case "json", "console":
	default:
		v.addError("observability.logFormat", "must be json or console, got %q", o.LogFormat)
	}
	if o.TracingSampleRate < 0 || o.TracingSampleRate > 1 {
		v.addError("observability.tracingSampleRate", "must be between 0 and 1, got %v", o.TracingSampleRate)
	}
	if o.TracingEnabled && o.OTLPEndpoint == "" {
		v.addError("observability.otlpEndpoint", "required when tracing is enabled")
	}
}

func (v *Validator) validateBackends(backends []BackendConfig) {
	seen := make(map[string]bool)
	for i, b := range backends {
		path := fmt.Sprintf("backends[%d]", i)
		if b.Name == "" {
			v.addError(path+".name", "backend name is required")
		}
		switch b.Kind {
		case ServiceInference, ServiceRetrieval, ServiceStore:
		default:
			v.addError(path+".kind", "must be inference, retrieval or store, got %q", b.Kind)
		}
		if seen[b.Kind] {
			v.addError(path+".kind", "duplicate backend kind %q", b.Kind)
		}
		seen[b.Kind] = true
		if len(b.Instances) == 0 {
			v.addError(path+".instances", "at least one instance is required")
		}
		for j, inst := range b.Instances {
			ipath := fmt.Sprintf("%s.instances[%d]", path, j)
			if inst.Name == "" {
				v.addError(ipath+".name", "instance name is required")
			}
			if inst.Address == "" {
				v.addError(ipath+".address", "instance address is required")
			}
			if inst.MaxConnections < 0 {
				v.addError(ipath+".maxConnections", "must not be negative")
			}
		}
	}
}

func (v *Validator) validateCapabilities(config *GatewayConfig) {
	seen := make(map[string]bool)
	for i, c := range config.Capabilities {
		path := fmt.Sprintf("capabilities[%d]", i)
		switch c.Name {
		case CapabilitySuggest, CapabilitySearch, CapabilityLearn, CapabilityExplain:
		default:
			v.addError(path+".name", "unknown capability %q", c.Name)
		}
		if seen[c.Name] {
			v.addError(path+".name", "duplicate capability %q", c.Name)
		}
		seen[c.Name] = true
		switch c.Service {
		case ServiceInference, ServiceRetrieval, ServiceStore:
		default:
			v.addError(path+".service", "must be inference, retrieval or store, got %q", c.Service)
		}
		if c.Cacheable && c.CacheTTL <= 0 {
			v.addError(path+".cacheTTL", "must be positive for cacheable capabilities")
		}
	}
}

func (v *Validator) validateCircuitBreaker(cb *CircuitBreakerConfig) {
	if !cb.Enabled {
		return
	}
	if cb.FailureThreshold < 1 {
		v.addError("circuitBreaker.failureThreshold", "must be at least 1, got %d", cb.FailureThreshold)
	}
	if cb.MonitoringPeriod <= 0 {
		v.addError("circuitBreaker.monitoringPeriod", "must be positive")
	}
	if cb.RecoveryTimeout <= 0 {
		v.addError("circuitBreaker.recoveryTimeout", "must be positive")
	}
	if cb.HalfOpenMaxCalls < 1 {
		v.addError("circuitBreaker.halfOpenMaxCalls", "must be at least 1, got %d", cb.HalfOpenMaxCalls)
	}
}

func (v *Validator) validateRetry(r *RetryConfig) {
	if !r.Enabled {
		return
	}
	if r.MaxAttempts < 1 {
		v.addError("retry.maxAttempts", "must be at least 1, got %d", r.MaxAttempts)
	}
	if r.BaseDelay <= 0 {
		v.addError("retry.baseDelay", "must be positive")
	}
	if r.MaxDelay < r.BaseDelay {
		v.addError("retry.maxDelay", "must not be less than baseDelay")
	}
	if r.Multiplier < 1 {
		v.addError("retry.multiplier", "must be at least 1, got %v", r.Multiplier)
	}
	if r.JitterMax < 0 {
		v.addError("retry.jitterMax", "must not be negative")
	}
}

func (v *Validator) validateCache(c *CacheConfig) {
	if !c.Enabled {
		return
	}
	if c.Memory.Enabled {
		if c.Memory.MaxEntries < 1 {
			v.addError("cache.memory.maxEntries", "must be at least 1, got %d", c.Memory.MaxEntries)
		}
		if c.Memory.Shards < 1 {
			v.addError("cache.memory.shards", "must be at least 1, got %d", c.Memory.Shards)
		}
	}
	if c.Disk.Enabled && c.Disk.Path == "" {
		v.addError("cache.disk.path", "required when the disk tier is enabled")
	}
	if c.Distributed.Enabled && c.Distributed.Address == "" {
		v.addError("cache.distributed.address", "required when the distributed tier is enabled")
	}
}

func (v *Validator) validateBalancer(b *BalancerConfig) {
	sum := b.CPUWeight + b.MemoryWeight + b.LatencyWeight + b.ConnectionWeight
	if sum < 0.99 || sum > 1.01 {
		v.addError("balancer", "score weights must sum to 1.0, got %v", sum)
	}
	if b.DegradedPenalty < 1 {
		v.addError("balancer.degradedPenalty", "must be at least 1, got %v", b.DegradedPenalty)
	}
}

func (v *Validator) validatePrefetch(p *PrefetchConfig) {
	if !p.Enabled {
		return
	}
	if p.ConfidenceThreshold < 0 || p.ConfidenceThreshold > 1 {
		v.addError("prefetch.confidenceThreshold", "must be between 0 and 1, got %v", p.ConfidenceThreshold)
	}
	if p.MaxOutstanding < 1 {
		v.addError("prefetch.maxOutstanding", "must be at least 1, got %d", p.MaxOutstanding)
	}
}

func (v *Validator) validateHealthMonitor(h *HealthMonitorConfig) {
	if !h.Enabled {
		return
	}
	if h.Interval <= 0 {
		v.addError("healthMonitor.interval", "must be positive")
	}
	if h.Timeout <= 0 {
		v.addError("healthMonitor.timeout", "must be positive")
	}
	if h.HealthyBelow <= 0 {
		v.addError("healthMonitor.healthyBelow", "must be positive")
	}
	if h.DegradedBelow <= h.HealthyBelow {
		v.addError("healthMonitor.degradedBelow", "must be greater than healthyBelow")
	}
}
