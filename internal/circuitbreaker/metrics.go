package circuitbreaker

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gateway",
			Name:      "breaker_state",
			Help:      "Breaker state per backend instance (0=closed, 1=open, 2=half-open)",
		},
		[]string{"service", "instance"},
	)

	breakerAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "breaker_attempts_total",
			Help:      "Dispatch attempts per backend instance by admission result",
		},
		[]string{"service", "instance", "result"},
	)

	breakerOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "breaker_outcomes_total",
			Help:      "Recorded call outcomes per backend instance",
		},
		[]string{"service", "instance", "outcome"},
	)

	breakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "breaker_transitions_total",
			Help:      "Breaker state transitions per backend instance",
		},
		[]string{"service", "instance", "from", "to"},
	)
)

// splitKey breaks a "service/instance" registry key into its labels.
// A key without a separator lands entirely in the instance label.
func splitKey(key string) (service, instance string) {
	if i := strings.IndexByte(key, '/'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return "", key
}

// RecordRequest records an admission decision for one dispatch attempt.
func RecordRequest(key string, allowed bool) {
	service, instance := splitKey(key)
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	breakerAttemptsTotal.WithLabelValues(service, instance, result).Inc()
}

// RecordSuccess records a successful call outcome.
func RecordSuccess(key string) {
	service, instance := splitKey(key)
	breakerOutcomesTotal.WithLabelValues(service, instance, "success").Inc()
}

// RecordFailure records a failed call outcome.
func RecordFailure(key string) {
	service, instance := splitKey(key)
	breakerOutcomesTotal.WithLabelValues(service, instance, "failure").Inc()
}

// RecordState records the current breaker state.
func RecordState(key string, state State) {
	service, instance := splitKey(key)
	breakerState.WithLabelValues(service, instance).Set(float64(state))
}

// RecordStateChange records a transition and updates the state gauge.
func RecordStateChange(key string, from, to State) {
	service, instance := splitKey(key)
	breakerTransitionsTotal.WithLabelValues(service, instance, from.String(), to.String()).Inc()
	breakerState.WithLabelValues(service, instance).Set(float64(to))
}
