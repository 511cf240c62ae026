package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed indicates the circuit is closed and requests are allowed.
	StateClosed State = iota

	// StateOpen indicates the circuit is open and requests are rejected.
	StateOpen

	// StateHalfOpen indicates the circuit is probing whether the instance
	// has recovered.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker implements the circuit breaker pattern for a single
// backend instance.
type CircuitBreaker struct {
	name   string
	config *Config
	logger *zap.Logger

	mu    sync.RWMutex
	state State

	// Counters within the current monitoring window
	failures      int
	successes     int
	totalRequests int

	// Half-open probe tracking
	halfOpenCalls     int
	halfOpenSuccesses int

	// Timestamps
	lastFailure     time.Time
	lastStateChange time.Time
	windowStart     time.Time
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(name string, config *Config, logger *zap.Logger) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}
	config.Validate()

	if logger == nil {
		logger = zap.NewNop()
	}

	now := time.Now()
	return &CircuitBreaker{
		name:            name,
		config:          config,
		logger:          logger,
		state:           StateClosed,
		lastStateChange: now,
		windowStart:     now,
	}
}

// RecordResult records the outcome of one admitted attempt. A nil
// error is a success. Errors run through the IsFailure filter;
// filtered errors leave the counters untouched so they can neither
// trip a closed circuit nor close a half-open one.
func (cb *CircuitBreaker) RecordResult(err error) {
	if err == nil {
		cb.RecordSuccess()
		return
	}
	if cb.isFailure(err) {
		cb.RecordFailure()
	}
}

// Allow checks if a request is allowed through the circuit breaker.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	var allowed bool

	switch cb.state {
	case StateClosed:
		allowed = true

	case StateOpen:
		// Check if the recovery timeout has passed
		if now.Sub(cb.lastStateChange) >= cb.config.RecoveryTimeout {
			cb.transitionTo(StateHalfOpen)
			cb.halfOpenCalls = 1
			allowed = true
		} else {
			allowed = false
		}

	case StateHalfOpen:
		// Allow a limited number of probe requests
		if cb.halfOpenCalls < cb.config.HalfOpenMaxCalls {
			cb.halfOpenCalls++
			allowed = true
		} else {
			allowed = false
		}

	default:
		allowed = false
	}

	RecordRequest(cb.name, allowed)

	return allowed
}

// CanAttempt reports whether a call could currently be admitted,
// without consuming a half-open probe slot or transitioning state.
// The load balancer uses it to filter candidates; the winner still
// goes through Allow.
func (cb *CircuitBreaker) CanAttempt() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		return time.Since(cb.lastStateChange) >= cb.config.RecoveryTimeout
	case StateHalfOpen:
		return cb.halfOpenCalls < cb.config.HalfOpenMaxCalls
	default:
		return false
	}
}

// RecordSuccess records a successful request.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeResetWindow()

	cb.successes++
	cb.totalRequests++

	RecordSuccess(cb.name)

	if cb.state == StateHalfOpen {
		cb.halfOpenSuccesses++
		// Every probe must succeed before the circuit closes again.
		if cb.halfOpenSuccesses >= cb.config.HalfOpenMaxCalls {
			cb.transitionTo(StateClosed)
		}
	}
}

// RecordFailure records a failed request.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeResetWindow()

	cb.failures++
	cb.totalRequests++
	cb.lastFailure = time.Now()

	RecordFailure(cb.name)

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.transitionTo(StateOpen)
		}

	case StateHalfOpen:
		// Any probe failure reopens the circuit
		cb.transitionTo(StateOpen)
	}
}

// maybeResetWindow resets counters when the monitoring window has
// elapsed. Only meaningful in closed state.
func (cb *CircuitBreaker) maybeResetWindow() {
	if cb.state == StateClosed && time.Since(cb.windowStart) >= cb.config.MonitoringPeriod {
		cb.resetCounters()
	}
}

// transitionTo transitions the circuit breaker to a new state.
func (cb *CircuitBreaker) transitionTo(newState State) {
	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = time.Now()

	cb.resetCounters()

	RecordStateChange(cb.name, oldState, newState)

	cb.logger.Info("circuit breaker state changed",
		zap.String("name", cb.name),
		zap.String("from", oldState.String()),
		zap.String("to", newState.String()),
	)

	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(cb.name, oldState, newState)
	}
}

// resetCounters resets the failure and success counters.
func (cb *CircuitBreaker) resetCounters() {
	cb.failures = 0
	cb.successes = 0
	cb.totalRequests = 0
	cb.halfOpenCalls = 0
	cb.halfOpenSuccesses = 0
	cb.windowStart = time.Now()
}

// isFailure determines if the error counts against the breaker.
func (cb *CircuitBreaker) isFailure(err error) bool {
	if err == nil {
		return false
	}
	if cb.config.IsFailure != nil {
		return cb.config.IsFailure(err)
	}
	return true
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.resetCounters()
	cb.lastStateChange = time.Now()

	cb.logger.Info("circuit breaker reset",
		zap.String("name", cb.name),
	)
}

// Name returns the name of the circuit breaker.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Stats returns the current statistics of the circuit breaker.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return Stats{
		State:           cb.state,
		Failures:        cb.failures,
		Successes:       cb.successes,
		TotalRequests:   cb.totalRequests,
		LastFailure:     cb.lastFailure,
		LastStateChange: cb.lastStateChange,
	}
}

// Stats holds circuit breaker statistics.
type Stats struct {
	State           State
	Failures        int
	Successes       int
	TotalRequests   int
	LastFailure     time.Time
	LastStateChange time.Time
}

// FailureRatio returns the failure ratio within the current window.
func (s Stats) FailureRatio() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.Failures) / float64(s.TotalRequests)
}
