// Package config provides configuration management for the AI gateway.
// Configuration is loaded from a YAML file with environment variable
// substitution, validated, and optionally hot-reloaded on file changes.
package config

import (
	"time"
)

// Capability names understood by the gateway.
const (
	CapabilitySuggest = "suggest"
	CapabilitySearch  = "search"
	CapabilityLearn   = "learn"
	CapabilityExplain = "explain"
)

// Backend service kinds.
const (
	ServiceInference = "inference"
	ServiceRetrieval = "retrieval"
	ServiceStore     = "store"
)

// GatewayConfig is the root configuration for the AI gateway.
type GatewayConfig struct {
	Server        ServerConfig          `yaml:"server" json:"server"`
	Observability ObservabilityConfig   `yaml:"observability" json:"observability"`
	Backends      []BackendConfig       `yaml:"backends" json:"backends"`
	Capabilities  []CapabilityConfig    `yaml:"capabilities" json:"capabilities"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker" json:"circuitBreaker"`
	Retry         RetryConfig           `yaml:"retry" json:"retry"`
	Cache         CacheConfig           `yaml:"cache" json:"cache"`
	Balancer      BalancerConfig        `yaml:"balancer" json:"balancer"`
	Prefetch      PrefetchConfig        `yaml:"prefetch" json:"prefetch"`
	HealthMonitor HealthMonitorConfig   `yaml:"healthMonitor" json:"healthMonitor"`
}

// ServerConfig holds listener and timeout settings.
type ServerConfig struct {
	HTTPPort        int      `yaml:"httpPort" json:"httpPort"`
	MetricsPort     int      `yaml:"metricsPort" json:"metricsPort"`
	HealthPort      int      `yaml:"healthPort" json:"healthPort"`
	ReadTimeout     Duration `yaml:"readTimeout" json:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout" json:"writeTimeout"`
	IdleTimeout     Duration `yaml:"idleTimeout" json:"idleTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout" json:"shutdownTimeout"`

	// RequestTimeout is the default per-request deadline applied when a
	// client does not supply its own budget.
	RequestTimeout Duration `yaml:"requestTimeout" json:"requestTimeout"`
}

// ObservabilityConfig holds logging, metrics and tracing settings.
type ObservabilityConfig struct {
	LogLevel          string  `yaml:"logLevel" json:"logLevel"`
	LogFormat         string  `yaml:"logFormat" json:"logFormat"`
	LogOutput         string  `yaml:"logOutput" json:"logOutput"`
	AccessLogEnabled  bool    `yaml:"accessLogEnabled" json:"accessLogEnabled"`
	MetricsEnabled    bool    `yaml:"metricsEnabled" json:"metricsEnabled"`
	MetricsPath       string  `yaml:"metricsPath" json:"metricsPath"`
	TracingEnabled    bool    `yaml:"tracingEnabled" json:"tracingEnabled"`
	OTLPEndpoint      string  `yaml:"otlpEndpoint" json:"otlpEndpoint"`
	TracingSampleRate float64 `yaml:"tracingSampleRate" json:"tracingSampleRate"`
	TracingInsecure   bool    `yaml:"tracingInsecure" json:"tracingInsecure"`
	ServiceName       string  `yaml:"serviceName" json:"serviceName"`
}

// BackendConfig describes one backend service and its instances.
type BackendConfig struct {
	Name      string           `yaml:"name" json:"name"`
	Kind      string           `yaml:"kind" json:"kind"` // inference, retrieval, store
	Instances []InstanceConfig `yaml:"instances" json:"instances"`

	// QueueDir, when set, enables queue degradation for store-kind
	// backends: writes are journaled locally when all instances are down.
	QueueDir string `yaml:"queueDir,omitempty" json:"queueDir,omitempty"`
}

// InstanceConfig describes a single backend instance.
type InstanceConfig struct {
	Name           string   `yaml:"name" json:"name"`
	Address        string   `yaml:"address" json:"address"`
	MaxConnections int      `yaml:"maxConnections" json:"maxConnections"`
	Timeout        Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// CapabilityConfig binds a capability to a backend kind and cache policy.
type CapabilityConfig struct {
	Name     string   `yaml:"name" json:"name"`
	Service  string   `yaml:"service" json:"service"` // backend kind serving this capability
	CacheTTL Duration `yaml:"cacheTTL" json:"cacheTTL"`

	// Cacheable is false for side-effecting capabilities.
	Cacheable bool `yaml:"cacheable" json:"cacheable"`
}

// CircuitBreakerConfig holds circuit breaker settings applied per
// backend instance.
type CircuitBreakerConfig struct {
	Enabled          bool     `yaml:"enabled" json:"enabled"`
	FailureThreshold int      `yaml:"failureThreshold" json:"failureThreshold"`
	MonitoringPeriod Duration `yaml:"monitoringPeriod" json:"monitoringPeriod"`
	RecoveryTimeout  Duration `yaml:"recoveryTimeout" json:"recoveryTimeout"`
	HalfOpenMaxCalls int      `yaml:"halfOpenMaxCalls" json:"halfOpenMaxCalls"`
}

// RetryConfig holds retry executor settings.
type RetryConfig struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`
	MaxAttempts int      `yaml:"maxAttempts" json:"maxAttempts"`
	BaseDelay   Duration `yaml:"baseDelay" json:"baseDelay"`
	MaxDelay    Duration `yaml:"maxDelay" json:"maxDelay"`
	Multiplier  float64  `yaml:"multiplier" json:"multiplier"`
	JitterMax   Duration `yaml:"jitterMax" json:"jitterMax"`

	// MinBudget is the smallest remaining deadline budget worth
	// spending on another attempt.
	MinBudget Duration `yaml:"minBudget" json:"minBudget"`
}

// CacheConfig holds the tiered cache settings.
type CacheConfig struct {
	Enabled     bool              `yaml:"enabled" json:"enabled"`
	KeyPrefix   string            `yaml:"keyPrefix" json:"keyPrefix"`
	Memory      MemoryCacheConfig `yaml:"memory" json:"memory"`
	Disk        DiskCacheConfig   `yaml:"disk" json:"disk"`
	Distributed RedisCacheConfig  `yaml:"distributed" json:"distributed"`

	// SweepInterval controls how often expired entries are purged in
	// the background, in addition to lazy expiry on read.
	SweepInterval Duration `yaml:"sweepInterval" json:"sweepInterval"`
}

// MemoryCacheConfig holds the in-process cache tier settings.
type MemoryCacheConfig struct {
	Enabled    bool `yaml:"enabled" json:"enabled"`
	MaxEntries int  `yaml:"maxEntries" json:"maxEntries"`
	Shards     int  `yaml:"shards" json:"shards"`
}

// DiskCacheConfig holds the local persistent cache tier settings.
type DiskCacheConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	MaxEntries int    `yaml:"maxEntries" json:"maxEntries"`
}

// RedisCacheConfig holds the distributed cache tier settings.
type RedisCacheConfig struct {
	Enabled  bool     `yaml:"enabled" json:"enabled"`
	Address  string   `yaml:"address" json:"address"`
	Password string   `yaml:"password" json:"password"`
	DB       int      `yaml:"db" json:"db"`
	Timeout  Duration `yaml:"timeout" json:"timeout"`
}

// BalancerConfig holds resource-aware load balancer settings.
type BalancerConfig struct {
	// Score weights. They should sum to 1.0.
	CPUWeight        float64 `yaml:"cpuWeight" json:"cpuWeight"`
	MemoryWeight     float64 `yaml:"memoryWeight" json:"memoryWeight"`
	LatencyWeight    float64 `yaml:"latencyWeight" json:"latencyWeight"`
	ConnectionWeight float64 `yaml:"connectionWeight" json:"connectionWeight"`

	// DegradedPenalty multiplies the score of degraded instances.
	DegradedPenalty float64 `yaml:"degradedPenalty" json:"degradedPenalty"`

	// MetricsMaxAge bounds how stale resource reports may be before
	// the balancer falls back to round-robin for that instance.
	MetricsMaxAge Duration `yaml:"metricsMaxAge" json:"metricsMaxAge"`
}

// PrefetchConfig holds predictive prefetch settings.
type PrefetchConfig struct {
	Enabled             bool     `yaml:"enabled" json:"enabled"`
	ConfidenceThreshold float64  `yaml:"confidenceThreshold" json:"confidenceThreshold"`
	Delay               Duration `yaml:"delay" json:"delay"`
	MaxOutstanding      int      `yaml:"maxOutstanding" json:"maxOutstanding"`
}

// HealthMonitorConfig holds backend health probing settings.
type HealthMonitorConfig struct {
	Enabled       bool     `yaml:"enabled" json:"enabled"`
	Interval      Duration `yaml:"interval" json:"interval"`
	Timeout       Duration `yaml:"timeout" json:"timeout"`
	HealthyBelow  Duration `yaml:"healthyBelow" json:"healthyBelow"`
	DegradedBelow Duration `yaml:"degradedBelow" json:"degradedBelow"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *GatewayConfig {
	return &GatewayConfig{
		Server: ServerConfig{
			HTTPPort:        8080,
			MetricsPort:     9090,
			HealthPort:      8081,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			IdleTimeout:     Duration(120 * time.Second),
			ShutdownTimeout: Duration(30 * time.Second),
			RequestTimeout:  Duration(30 * time.Second),
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogFormat:         "json",
			LogOutput:         "stdout",
			AccessLogEnabled:  true,
			MetricsEnabled:    true,
			MetricsPath:       "/metrics",
			TracingEnabled:    false,
			TracingSampleRate: 0.1,
			ServiceName:       "aigw",
		},
		Capabilities: []CapabilityConfig{
			{Name: CapabilitySuggest, Service: ServiceInference, CacheTTL: Duration(5 * time.Minute), Cacheable: true},
			{Name: CapabilitySearch, Service: ServiceRetrieval, CacheTTL: Duration(10 * time.Minute), Cacheable: true},
			{Name: CapabilityLearn, Service: ServiceStore, Cacheable: false},
			{Name: CapabilityExplain, Service: ServiceInference, CacheTTL: Duration(30 * time.Minute), Cacheable: true},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 5,
			MonitoringPeriod: Duration(10 * time.Second),
			RecoveryTimeout:  Duration(30 * time.Second),
			HalfOpenMaxCalls: 3,
		},
		Retry: RetryConfig{
			Enabled:     true,
			MaxAttempts: 3,
			BaseDelay:   Duration(1 * time.Second),
			MaxDelay:    Duration(10 * time.Second),
			Multiplier:  2.0,
			JitterMax:   Duration(1 * time.Second),
			MinBudget:   Duration(50 * time.Millisecond),
		},
		Cache: CacheConfig{
			Enabled:       true,
			KeyPrefix:     "aigw",
			SweepInterval: Duration(1 * time.Minute),
			Memory: MemoryCacheConfig{
				Enabled:    true,
				MaxEntries: 10000,
				Shards:     16,
			},
			Disk: DiskCacheConfig{
				Enabled:    false,
				Path:       "data/cache.db",
				MaxEntries: 100000,
			},
			Distributed: RedisCacheConfig{
				Enabled: false,
				Address: "localhost:6379",
				Timeout: Duration(2 * time.Second),
			},
		},
		Balancer: BalancerConfig{
			CPUWeight:        0.3,
			MemoryWeight:     0.3,
			LatencyWeight:    0.2,
			ConnectionWeight: 0.2,
			DegradedPenalty:  1.5,
			MetricsMaxAge:    Duration(30 * time.Second),
		},
		Prefetch: PrefetchConfig{
			Enabled:             true,
			ConfidenceThreshold: 0.7,
			Delay:               Duration(100 * time.Millisecond),
			MaxOutstanding:      32,
		},
		HealthMonitor: HealthMonitorConfig{
			Enabled:       true,
			Interval:      Duration(10 * time.Second),
			Timeout:       Duration(5 * time.Second),
			HealthyBelow:  Duration(1 * time.Second),
			DegradedBelow: Duration(5 * time.Second),
		},
	}
}

// CapabilityByName returns the capability configuration with the given
// name, or nil if not configured.
func (c *GatewayConfig) CapabilityByName(name string) *CapabilityConfig {
	for i := range c.Capabilities {
		if c.Capabilities[i].Name == name {
			return &c.Capabilities[i]
		}
	}
	return nil
}

// BackendByKind returns the backend configuration with the given kind,
// or nil if not configured.
func (c *GatewayConfig) BackendByKind(kind string) *BackendConfig {
	for i := range c.Backends {
		if c.Backends[i].Kind == kind {
			return &c.Backends[i]
		}
	}
	return nil
}

// ApplyDefaults fills zero-valued fields with defaults. Loaded
// configurations only need to specify what differs from the default.
func (c *GatewayConfig) ApplyDefaults() {
	d := DefaultConfig()

	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = d.Server.HTTPPort
	}
	if c.Server.MetricsPort == 0 {
		c.Server.MetricsPort = d.Server.MetricsPort
	}
	if c.Server.HealthPort == 0 {
		c.Server.HealthPort = d.Server.HealthPort
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = d.Server.ReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = d.Server.WriteTimeout
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = d.Server.IdleTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = d.Server.RequestTimeout
	}

	if c.Observability.LogLevel == "" {
		c.Observability.LogLevel = d.Observability.LogLevel
	}
	if c.Observability.LogFormat == "" {
		c.Observability.LogFormat = d.Observability.LogFormat
	}
	if c.Observability.LogOutput == "" {
		c.Observability.LogOutput = d.Observability.LogOutput
	}
	if c.Observability.MetricsPath == "" {
		c.Observability.MetricsPath = d.Observability.MetricsPath
	}
	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = d.Observability.ServiceName
	}
	if c.Observability.TracingSampleRate == 0 {
		c.Observability.TracingSampleRate = d.Observability.TracingSampleRate
	}

	if len(c.Capabilities) == 0 {
		c.Capabilities = d.Capabilities
	}

	if c.CircuitBreaker.FailureThreshold == 0 {
		c.CircuitBreaker.FailureThreshold = d.CircuitBreaker.FailureThreshold
	}
	if c.CircuitBreaker.MonitoringPeriod == 0 {
		c.CircuitBreaker.MonitoringPeriod = d.CircuitBreaker.MonitoringPeriod
	}
	if c.CircuitBreaker.RecoveryTimeout == 0 {
		c.CircuitBreaker.RecoveryTimeout = d.CircuitBreaker.RecoveryTimeout
	}
	if c.CircuitBreaker.HalfOpenMaxCalls == 0 {
		c.CircuitBreaker.HalfOpenMaxCalls = d.CircuitBreaker.HalfOpenMaxCalls
	}

	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = d.Retry.MaxAttempts
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = d.Retry.BaseDelay
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = d.Retry.MaxDelay
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = d.Retry.Multiplier
	}
	if c.Retry.JitterMax == 0 {
		c.Retry.JitterMax = d.Retry.JitterMax
	}
	if c.Retry.MinBudget == 0 {
		c.Retry.MinBudget = d.Retry.MinBudget
	}

	if c.Cache.KeyPrefix == "" {
		c.Cache.KeyPrefix = d.Cache.KeyPrefix
	}
	if c.Cache.SweepInterval == 0 {
		c.Cache.SweepInterval = d.Cache.SweepInterval
	}
	if c.Cache.Memory.MaxEntries == 0 {
		c.Cache.Memory.MaxEntries = d.Cache.Memory.MaxEntries
	}
	if c.Cache.Memory.Shards == 0 {
		c.Cache.Memory.Shards = d.Cache.Memory.Shards
	}
	if c.Cache.Disk.Path == "" {
		c.Cache.Disk.Path = d.Cache.Disk.Path
	}
	if c.Cache.Disk.MaxEntries == 0 {
		c.Cache.Disk.MaxEntries = d.Cache.Disk.MaxEntries
	}
	if c.Cache.Distributed.Address == "" {
		c.Cache.Distributed.Address = d.Cache.Distributed.Address
	}
	if c.Cache.Distributed.Timeout == 0 {
		c.Cache.Distributed.Timeout = d.Cache.Distributed.Timeout
	}

	if c.Balancer.CPUWeight == 0 && c.Balancer.MemoryWeight == 0 &&
		c.Balancer.LatencyWeight == 0 && c.Balancer.ConnectionWeight == 0 {
		c.Balancer.CPUWeight = d.Balancer.CPUWeight
		c.Balancer.MemoryWeight = d.Balancer.MemoryWeight
		c.Balancer.LatencyWeight = d.Balancer.LatencyWeight
		c.Balancer.ConnectionWeight = d.Balancer.ConnectionWeight
	}
	if c.Balancer.DegradedPenalty == 0 {
		c.Balancer.DegradedPenalty = d.Balancer.DegradedPenalty
	}
	if c.Balancer.MetricsMaxAge == 0 {
		c.Balancer.MetricsMaxAge = d.Balancer.MetricsMaxAge
	}

	if c.Prefetch.ConfidenceThreshold == 0 {
		c.Prefetch.ConfidenceThreshold = d.Prefetch.ConfidenceThreshold
	}
	if c.Prefetch.Delay == 0 {
		c.Prefetch.Delay = d.Prefetch.Delay
	}
	if c.Prefetch.MaxOutstanding == 0 {
		c.Prefetch.MaxOutstanding = d.Prefetch.MaxOutstanding
	}

	if c.HealthMonitor.Interval == 0 {
		c.HealthMonitor.Interval = d.HealthMonitor.Interval
	}
	if c.HealthMonitor.Timeout == 0 {
		c.HealthMonitor.Timeout = d.HealthMonitor.Timeout
	}
	if c.HealthMonitor.HealthyBelow == 0 {
		c.HealthMonitor.HealthyBelow = d.HealthMonitor.HealthyBelow
	}
	if c.HealthMonitor.DegradedBelow == 0 {
		c.HealthMonitor.DegradedBelow = d.HealthMonitor.DegradedBelow
	}

	for i := range c.Backends {
		for j := range c.Backends[i].Instances {
			if c.Backends[i].Instances[j].MaxConnections == 0 {
				c.Backends[i].Instances[j].MaxConnections = 100
			}
		}
	}
}
