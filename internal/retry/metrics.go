package retry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RetryAttemptsTotal counts total attempts, including first tries.
	RetryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of attempts per operation",
		},
		[]string{"operation", "attempt"},
	)

	// RetrySuccessTotal counts operations that succeeded after retrying.
	RetrySuccessTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_success_total",
			Help: "Total number of operations that succeeded after at least one retry",
		},
		[]string{"operation"},
	)

	// RetryFailureTotal counts operations that failed after all attempts.
	RetryFailureTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_failure_total",
			Help: "Total number of operations that failed after all retry attempts",
		},
		[]string{"operation"},
	)

	// RetryDuration measures the total duration of retried operations.
	RetryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retry_duration_seconds",
			Help:    "Total duration of retried operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "result"},
	)

	// RetryBackoffDuration measures backoff wait times.
	RetryBackoffDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retry_backoff_duration_seconds",
			Help:    "Duration of backoff waits in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"operation", "attempt"},
	)
)

// RecordRetryAttempt records one attempt of an operation.
func RecordRetryAttempt(operation string, attempt int) {
	RetryAttemptsTotal.WithLabelValues(operation, attemptLabel(attempt)).Inc()
}

// attemptLabel bounds the attempt label cardinality.
func attemptLabel(attempt int) string {
	if attempt > 9 {
		return "10+"
	}
	return strconv.Itoa(attempt)
}
