package backend

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BackendMetrics holds Prometheus metrics for backend management.
type BackendMetrics struct {
	instanceState   *prometheus.GaugeVec
	inFlight        *prometheus.GaugeVec
	selectionsTotal *prometheus.CounterVec
	probeDuration   *prometheus.HistogramVec
	probesTotal     *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

var (
	backendMetricsInstance *BackendMetrics
	backendMetricsOnce     sync.Once
)

// GetBackendMetrics returns the singleton backend metrics instance.
func GetBackendMetrics() *BackendMetrics {
	backendMetricsOnce.Do(func() {
		backendMetricsInstance = newBackendMetrics()
	})
	return backendMetricsInstance
}

func newBackendMetrics() *BackendMetrics {
	return &BackendMetrics{
		instanceState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "gateway",
				Subsystem: "backend",
				Name:      "instance_state",
				Help:      "Instance health state (0=unknown, 1=healthy, 2=degraded, 3=unhealthy)",
			},
			[]string{"service", "instance"},
		),
		inFlight: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "gateway",
				Subsystem: "backend",
				Name:      "in_flight_requests",
				Help:      "Number of in-flight requests per instance",
			},
			[]string{"service", "instance"},
		),
		selectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "backend",
				Name:      "selections_total",
				Help:      "Total number of load balancer selections",
			},
			[]string{"service", "instance", "strategy"},
		),
		probeDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gateway",
				Subsystem: "backend",
				Name:      "probe_duration_seconds",
				Help:      "Duration of health probes",
				Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "instance"},
		),
		probesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "backend",
				Name:      "probes_total",
				Help:      "Total number of health probes",
			},
			[]string{"service", "instance", "result"},
		),
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gateway",
				Subsystem: "backend",
				Name:      "request_duration_seconds",
				Help:      "Duration of backend requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service", "instance", "outcome"},
		),
	}
}

// RecordInstanceState records the health state of an instance.
func RecordInstanceState(service, instance string, state HealthState) {
	GetBackendMetrics().instanceState.WithLabelValues(service, instance).Set(float64(state))
}
