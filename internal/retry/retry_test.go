package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_ShouldRetryStopsEarly(t *testing.T) {
	terminal := errors.New("terminal")

	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return terminal
	}, &Options{
		ShouldRetry: func(err error) bool { return !errors.Is(err, terminal) },
	})

	assert.ErrorIs(t, err, terminal)
	assert.Equal(t, 1, calls)
}

func TestDo_OnRetryCallback(t *testing.T) {
	var attempts []int
	err := Do(context.Background(), fastConfig(), func() error {
		return errors.New("transient")
	}, &Options{
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			attempts = append(attempts, attempt)
			assert.Positive(t, backoff)
		},
	})

	require.Error(t, err)
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDo_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, fastConfig(), func() error {
		t.Fatal("must not be called")
		return nil
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalculateBackoff_ExponentialGrowth(t *testing.T) {
	cfg := &Config{
		BaseDelay:  time.Second,
		MaxDelay:   time.Minute,
		Multiplier: 2.0,
		JitterMax:  time.Millisecond,
	}

	first := CalculateBackoff(1, cfg)
	assert.GreaterOrEqual(t, first, time.Second)
	assert.Less(t, first, time.Second+cfg.JitterMax)

	third := CalculateBackoff(3, cfg)
	assert.GreaterOrEqual(t, third, 4*time.Second)
	assert.Less(t, third, 4*time.Second+cfg.JitterMax)
}

func TestCalculateBackoff_CappedAtMaxDelay(t *testing.T) {
	cfg := &Config{
		BaseDelay:  time.Second,
		MaxDelay:   3 * time.Second,
		Multiplier: 2.0,
		JitterMax:  time.Millisecond,
	}

	capped := CalculateBackoff(10, cfg)
	assert.GreaterOrEqual(t, capped, 3*time.Second)
	assert.Less(t, capped, 3*time.Second+cfg.JitterMax)
}

func TestCalculateBackoff_ClampsAttemptFloor(t *testing.T) {
	cfg := &Config{
		BaseDelay:  time.Second,
		MaxDelay:   time.Minute,
		Multiplier: 2.0,
		JitterMax:  time.Millisecond,
	}

	assert.Equal(t, CalculateBackoff(1, cfg)/time.Second, CalculateBackoff(0, cfg)/time.Second)
}

func TestConfig_Getters(t *testing.T) {
	var nilCfg *Config
	assert.Equal(t, DefaultMaxAttempts, nilCfg.GetMaxAttempts())
	assert.Equal(t, DefaultBaseDelay, nilCfg.GetBaseDelay())
	assert.Equal(t, DefaultMaxDelay, nilCfg.GetMaxDelay())
	assert.Equal(t, DefaultMultiplier, nilCfg.GetMultiplier())
	assert.Equal(t, DefaultMinBudget, nilCfg.GetMinBudget())

	zero := &Config{}
	assert.Equal(t, DefaultMaxAttempts, zero.GetMaxAttempts())

	custom := &Config{MaxAttempts: 7, Multiplier: 1.5}
	assert.Equal(t, 7, custom.GetMaxAttempts())
	assert.Equal(t, 1.5, custom.GetMultiplier())
}
