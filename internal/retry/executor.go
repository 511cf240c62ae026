package retry

import (
	"context"
	"time"

	"aigw/internal/observability"
	"aigw/internal/util"
)

// Attempt describes one execution attempt.
type Attempt struct {
	// Number is 1-based; the first attempt is 1.
	Number int

	// Reduced is true when a previous attempt failed with resource
	// exhaustion and the payload should be trimmed for this one.
	Reduced bool
}

// AttemptFunc performs one attempt of a backend operation.
type AttemptFunc func(ctx context.Context, attempt Attempt) error

// Executor runs backend operations with retry, exponential backoff and
// deadline budget checks. Unlike the plain Do helper, the executor
// classifies errors using the gateway error taxonomy and switches to
// reduced payloads after resource exhaustion.
type Executor struct {
	cfg    *Config
	logger observability.Logger
}

// NewExecutor creates a retry executor.
func NewExecutor(cfg *Config, logger observability.Logger) *Executor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Executor{cfg: cfg, logger: logger}
}

// Execute runs fn until it succeeds, a terminal error occurs, the
// attempt budget is spent, or the context deadline leaves no useful
// budget for another attempt.
func (e *Executor) Execute(ctx context.Context, operation string, fn AttemptFunc) error {
	start := time.Now()
	maxAttempts := e.cfg.GetMaxAttempts()
	reduced := false

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := e.checkBudget(ctx, operation, start); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		RecordRetryAttempt(operation, attempt)

		lastErr = fn(ctx, Attempt{Number: attempt, Reduced: reduced})
		if lastErr == nil {
			if attempt > 1 {
				RetrySuccessTotal.WithLabelValues(operation).Inc()
			}
			RetryDuration.WithLabelValues(operation, "success").Observe(time.Since(start).Seconds())
			return nil
		}

		if !util.IsRetryable(lastErr) {
			RetryDuration.WithLabelValues(operation, "terminal").Observe(time.Since(start).Seconds())
			return lastErr
		}

		// Exhausted backends get a smaller payload on the next attempt.
		if util.IsResourceExhausted(lastErr) {
			reduced = true
		}

		if attempt == maxAttempts {
			break
		}

		backoff := CalculateBackoff(attempt, e.cfg)

		// Sleeping past the deadline is pointless; surface the last
		// backend error rather than waiting it out.
		if deadline, ok := ctx.Deadline(); ok {
			if time.Until(deadline) < backoff+e.cfg.GetMinBudget() {
				RetryFailureTotal.WithLabelValues(operation).Inc()
				RetryDuration.WithLabelValues(operation, "deadline").Observe(time.Since(start).Seconds())
				return lastErr
			}
		}

		e.logger.Debug("retrying operation",
			observability.String("operation", operation),
			observability.Int("attempt", attempt),
			observability.Duration("backoff", backoff),
			observability.Bool("reduced", reduced),
			observability.Error(lastErr),
		)

		RetryBackoffDuration.WithLabelValues(operation, attemptLabel(attempt)).Observe(backoff.Seconds())

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(backoff):
		}
	}

	RetryFailureTotal.WithLabelValues(operation).Inc()
	RetryDuration.WithLabelValues(operation, "exhausted").Observe(time.Since(start).Seconds())
	return lastErr
}

// checkBudget verifies the remaining context deadline is worth another
// attempt.
func (e *Executor) checkBudget(ctx context.Context, operation string, start time.Time) error {
	select {
	case <-ctx.Done():
		return util.NewDeadlineError(operation, time.Since(start))
	default:
	}

	if deadline, ok := ctx.Deadline(); ok {
		if time.Until(deadline) < e.cfg.GetMinBudget() {
			return util.NewDeadlineError(operation, time.Since(start))
		}
	}

	return nil
}
