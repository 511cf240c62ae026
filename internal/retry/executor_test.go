package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aigw/internal/util"
)

func fastConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		BaseDelay:   5 * time.Millisecond,
		MaxDelay:    20 * time.Millisecond,
		Multiplier:  2.0,
		JitterMax:   time.Millisecond,
		MinBudget:   50 * time.Millisecond,
	}
}

func TestExecutor_SuccessFirstAttempt(t *testing.T) {
	exec := NewExecutor(fastConfig(), nil)

	calls := 0
	err := exec.Execute(context.Background(), "invoke", func(ctx context.Context, attempt Attempt) error {
		calls++
		assert.Equal(t, 1, attempt.Number)
		assert.False(t, attempt.Reduced)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecutor_RetriesTransientThenSucceeds(t *testing.T) {
	exec := NewExecutor(fastConfig(), nil)

	calls := 0
	err := exec.Execute(context.Background(), "invoke", func(ctx context.Context, attempt Attempt) error {
		calls++
		if calls < 3 {
			return util.NewRetryableBackendError("inference", "bad gateway", nil)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecutor_TerminalErrorStopsImmediately(t *testing.T) {
	exec := NewExecutor(fastConfig(), nil)

	calls := 0
	verr := util.NewValidationError("bad payload")
	err := exec.Execute(context.Background(), "invoke", func(ctx context.Context, attempt Attempt) error {
		calls++
		return verr
	})

	assert.ErrorIs(t, err, util.ErrInvalidInput)
	assert.Equal(t, 1, calls)
}

func TestExecutor_PermanentBackendErrorStopsImmediately(t *testing.T) {
	exec := NewExecutor(fastConfig(), nil)

	calls := 0
	err := exec.Execute(context.Background(), "invoke", func(ctx context.Context, attempt Attempt) error {
		calls++
		return util.NewPermanentBackendError("inference", "not found", nil)
	})

	var backendErr *util.BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.False(t, backendErr.Retryable)
	assert.Equal(t, 1, calls)
}

func TestExecutor_ExhaustsAttempts(t *testing.T) {
	exec := NewExecutor(fastConfig(), nil)

	calls := 0
	transient := util.NewRetryableBackendError("inference", "bad gateway", nil)
	err := exec.Execute(context.Background(), "invoke", func(ctx context.Context, attempt Attempt) error {
		calls++
		return transient
	})

	assert.ErrorIs(t, err, transient)
	assert.Equal(t, 3, calls)
}

func TestExecutor_ResourceExhaustedReducesNextAttempt(t *testing.T) {
	exec := NewExecutor(fastConfig(), nil)

	var reduced []bool
	calls := 0
	err := exec.Execute(context.Background(), "invoke", func(ctx context.Context, attempt Attempt) error {
		calls++
		reduced = append(reduced, attempt.Reduced)
		if calls == 1 {
			return util.NewResourceExhaustedError("inference", 0)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []bool{false, true}, reduced)
}

func TestExecutor_NoAttemptWithoutBudget(t *testing.T) {
	exec := NewExecutor(fastConfig(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	calls := 0
	err := exec.Execute(ctx, "invoke", func(ctx context.Context, attempt Attempt) error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, util.ErrDeadlineExceeded)
	assert.Equal(t, 0, calls)
}

func TestExecutor_StopsWhenBackoffWouldOverrunDeadline(t *testing.T) {
	cfg := fastConfig()
	cfg.BaseDelay = 30 * time.Millisecond
	exec := NewExecutor(cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	calls := 0
	transient := util.NewRetryableBackendError("inference", "bad gateway", nil)
	err := exec.Execute(ctx, "invoke", func(ctx context.Context, attempt Attempt) error {
		calls++
		time.Sleep(80 * time.Millisecond)
		return transient
	})

	// One attempt burns most of the budget; sleeping the backoff plus a
	// second attempt would overrun, so the last backend error surfaces.
	assert.ErrorIs(t, err, transient)
	assert.Equal(t, 1, calls)
}

func TestExecutor_ReturnsLastErrorWhenCancelledDuringBackoff(t *testing.T) {
	cfg := fastConfig()
	cfg.BaseDelay = 200 * time.Millisecond
	exec := NewExecutor(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())

	transient := util.NewRetryableBackendError("inference", "bad gateway", nil)
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	calls := 0
	err := exec.Execute(ctx, "invoke", func(ctx context.Context, attempt Attempt) error {
		calls++
		return transient
	})

	assert.ErrorIs(t, err, transient)
	assert.Equal(t, 1, calls)
}

func TestExecutor_NilConfigUsesDefaults(t *testing.T) {
	exec := NewExecutor(nil, nil)

	err := exec.Execute(context.Background(), "invoke", func(ctx context.Context, attempt Attempt) error {
		return nil
	})

	require.NoError(t, err)
}

func TestExecutor_WrappedTransientErrorRetried(t *testing.T) {
	exec := NewExecutor(fastConfig(), nil)

	calls := 0
	err := exec.Execute(context.Background(), "invoke", func(ctx context.Context, attempt Attempt) error {
		calls++
		if calls == 1 {
			return errors.Join(errors.New("dispatch"), util.NewRetryableBackendError("inference", "reset", nil))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
