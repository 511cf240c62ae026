// Package circuitbreaker provides per-instance circuit breakers for the
// AI gateway. It implements the circuit breaker pattern to stop sending
// requests to backend instances that are failing.
package circuitbreaker

import (
	"time"
)

// Config holds configuration for a circuit breaker.
type Config struct {
	// FailureThreshold is the number of failures within the monitoring
	// period before the circuit opens.
	FailureThreshold int

	// MonitoringPeriod is the sliding window over which failures are
	// counted. After this duration, the failure count resets.
	MonitoringPeriod time.Duration

	// RecoveryTimeout is the duration the circuit stays open before
	// transitioning to half-open.
	RecoveryTimeout time.Duration

	// HalfOpenMaxCalls is the maximum number of probe requests allowed
	// in half-open state. All of them must succeed for the circuit to
	// close; a single failure reopens it.
	HalfOpenMaxCalls int

	// IsFailure determines whether an error counts against the breaker.
	// If nil, all non-nil errors count.
	IsFailure func(err error) bool

	// OnStateChange is called when the circuit breaker state changes.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: 5,
		MonitoringPeriod: 10 * time.Second,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// Validate normalizes invalid values to defaults.
func (c *Config) Validate() error {
	if c.FailureThreshold < 1 {
		c.FailureThreshold = 5
	}
	if c.MonitoringPeriod < time.Millisecond {
		c.MonitoringPeriod = 10 * time.Second
	}
	if c.RecoveryTimeout < time.Millisecond {
		c.RecoveryTimeout = 30 * time.Second
	}
	if c.HalfOpenMaxCalls < 1 {
		c.HalfOpenMaxCalls = 3
	}
	return nil
}

// WithFailureThreshold sets the failure threshold.
func (c *Config) WithFailureThreshold(n int) *Config {
	c.FailureThreshold = n
	return c
}

// WithMonitoringPeriod sets the failure counting window.
func (c *Config) WithMonitoringPeriod(d time.Duration) *Config {
	c.MonitoringPeriod = d
	return c
}

// WithRecoveryTimeout sets the open-state duration.
func (c *Config) WithRecoveryTimeout(d time.Duration) *Config {
	c.RecoveryTimeout = d
	return c
}

// WithHalfOpenMaxCalls sets the half-open probe limit.
func (c *Config) WithHalfOpenMaxCalls(n int) *Config {
	c.HalfOpenMaxCalls = n
	return c
}

// WithIsFailure sets the failure classification function.
func (c *Config) WithIsFailure(fn func(err error) bool) *Config {
	c.IsFailure = fn
	return c
}

// WithOnStateChange sets the state change callback.
func (c *Config) WithOnStateChange(fn func(name string, from, to State)) *Config {
	c.OnStateChange = fn
	return c
}
