// Package retry provides exponential backoff retry with deadline budget
// awareness for the AI gateway.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Default retry configuration constants.
const (
	// DefaultMaxAttempts is the default number of attempts, including
	// the first one.
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is the default base backoff duration.
	DefaultBaseDelay = 1 * time.Second

	// DefaultMaxDelay is the default maximum backoff duration.
	DefaultMaxDelay = 10 * time.Second

	// DefaultMultiplier is the default backoff multiplier.
	DefaultMultiplier = 2.0

	// DefaultJitterMax is the default upper bound of the uniform jitter
	// added to every backoff delay.
	DefaultJitterMax = 1 * time.Second

	// DefaultMinBudget is the smallest remaining deadline worth
	// spending on another attempt.
	DefaultMinBudget = 50 * time.Millisecond
)

// Config contains retry configuration parameters.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the backoff before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the exponential backoff, before jitter.
	MaxDelay time.Duration

	// Multiplier is the exponential growth factor.
	Multiplier float64

	// JitterMax is the upper bound of the uniform random jitter added
	// on top of the capped delay.
	JitterMax time.Duration

	// MinBudget is the minimum remaining context deadline required to
	// start another attempt.
	MinBudget time.Duration
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Multiplier:  DefaultMultiplier,
		JitterMax:   DefaultJitterMax,
		MinBudget:   DefaultMinBudget,
	}
}

// GetMaxAttempts returns the effective attempt count.
func (c *Config) GetMaxAttempts() int {
	if c == nil || c.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return c.MaxAttempts
}

// GetBaseDelay returns the effective base delay.
func (c *Config) GetBaseDelay() time.Duration {
	if c == nil || c.BaseDelay <= 0 {
		return DefaultBaseDelay
	}
	return c.BaseDelay
}

// GetMaxDelay returns the effective maximum delay.
func (c *Config) GetMaxDelay() time.Duration {
	if c == nil || c.MaxDelay <= 0 {
		return DefaultMaxDelay
	}
	return c.MaxDelay
}

// GetMultiplier returns the effective multiplier.
func (c *Config) GetMultiplier() float64 {
	if c == nil || c.Multiplier < 1 {
		return DefaultMultiplier
	}
	return c.Multiplier
}

// GetJitterMax returns the effective jitter bound.
func (c *Config) GetJitterMax() time.Duration {
	if c == nil || c.JitterMax < 0 {
		return DefaultJitterMax
	}
	return c.JitterMax
}

// GetMinBudget returns the effective minimum attempt budget.
func (c *Config) GetMinBudget() time.Duration {
	if c == nil || c.MinBudget <= 0 {
		return DefaultMinBudget
	}
	return c.MinBudget
}

// RetryableFunc is a function that can be retried.
type RetryableFunc func() error

// ShouldRetryFunc determines if an error should trigger a retry.
type ShouldRetryFunc func(error) bool

// OnRetryFunc is called before each retry attempt.
type OnRetryFunc func(attempt int, err error, backoff time.Duration)

// Options contains optional retry behavior configuration.
type Options struct {
	// ShouldRetry determines if an error should trigger a retry.
	// If nil, all errors are retried.
	ShouldRetry ShouldRetryFunc

	// OnRetry is called before each retry attempt.
	OnRetry OnRetryFunc
}

// Do executes a function with retry logic. The first attempt counts
// toward MaxAttempts.
func Do(ctx context.Context, cfg *Config, fn RetryableFunc, opts *Options) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	maxAttempts := cfg.GetMaxAttempts()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		// Check context before each attempt
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if opts != nil && opts.ShouldRetry != nil && !opts.ShouldRetry(lastErr) {
			return lastErr
		}

		// Don't sleep after the last attempt
		if attempt < maxAttempts {
			backoff := CalculateBackoff(attempt, cfg)

			if opts != nil && opts.OnRetry != nil {
				opts.OnRetry(attempt, lastErr, backoff)
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return lastErr
}

// CalculateBackoff calculates the backoff to apply after the given
// attempt (1-based): min(base * multiplier^(attempt-1), max) plus a
// uniform random jitter in [0, jitterMax).
func CalculateBackoff(attempt int, cfg *Config) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := float64(cfg.GetBaseDelay()) * math.Pow(cfg.GetMultiplier(), float64(attempt-1))
	if base > float64(cfg.GetMaxDelay()) {
		base = float64(cfg.GetMaxDelay())
	}

	// Jitter prevents thundering herds; math/rand is fine for timing.
	//nolint:gosec // G404: jitter for retry timing is not security-sensitive
	jitter := rand.Float64() * float64(cfg.GetJitterMax())

	return time.Duration(base + jitter)
}
