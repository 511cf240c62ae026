package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway-level Prometheus metrics.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	activeRequests  *prometheus.GaugeVec
	backendHealth   *prometheus.GaugeVec
	fallbacksTotal  *prometheus.CounterVec
	prefetchTotal   *prometheus.CounterVec
	buildInfo       *prometheus.GaugeVec
	startTime       prometheus.Gauge
	registry        *prometheus.Registry
}

// NewMetrics creates a new Metrics instance backed by its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "gateway"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of gateway requests",
		},
		[]string{"capability", "outcome", "served_by"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Gateway request duration in seconds",
			Buckets: []float64{
				.001, .005, .01, .025, .05,
				.1, .25, .5, 1, 2.5, 5, 10,
			},
		},
		[]string{"capability", "outcome"},
	)

	m.activeRequests = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Number of requests currently being handled",
		},
		[]string{"capability"},
	)

	m.backendHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_health",
			Help:      "Backend health state (0=unhealthy, 1=degraded, 2=healthy)",
		},
		[]string{"service", "instance"},
	)

	m.fallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Total number of requests answered by a fallback strategy",
		},
		[]string{"capability", "strategy"},
	)

	m.prefetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prefetch_tasks_total",
			Help:      "Total number of prefetch tasks by result",
		},
		[]string{"result"},
	)

	m.buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "commit", "build_time"},
	)

	m.startTime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "start_time_seconds",
			Help:      "Unix timestamp of process start",
		},
	)

	// Runtime and process collectors are left to the default registry,
	// which carries them out of the box. Registering copies here would
	// make a combined gather with the default registry fail on
	// duplicate families.
	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.activeRequests,
		m.backendHealth,
		m.fallbacksTotal,
		m.prefetchTotal,
		m.buildInfo,
		m.startTime,
	)

	m.startTime.SetToCurrentTime()

	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the metrics registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetBuildInfo records build information.
func (m *Metrics) SetBuildInfo(version, commit, buildTime string) {
	m.buildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}

// RecordRequest records one completed gateway request.
func (m *Metrics) RecordRequest(capability, outcome, servedBy string, duration time.Duration) {
	m.requestsTotal.WithLabelValues(capability, outcome, servedBy).Inc()
	m.requestDuration.WithLabelValues(capability, outcome).Observe(duration.Seconds())
}

// RequestStarted marks a request as in flight.
func (m *Metrics) RequestStarted(capability string) {
	m.activeRequests.WithLabelValues(capability).Inc()
}

// RequestFinished marks a request as no longer in flight.
func (m *Metrics) RequestFinished(capability string) {
	m.activeRequests.WithLabelValues(capability).Dec()
}

// RecordBackendHealth records the health state of a backend instance.
func (m *Metrics) RecordBackendHealth(service, instance string, state int) {
	m.backendHealth.WithLabelValues(service, instance).Set(float64(state))
}

// RecordFallback records a request answered by a fallback strategy.
func (m *Metrics) RecordFallback(capability, strategy string) {
	m.fallbacksTotal.WithLabelValues(capability, strategy).Inc()
}

// RecordPrefetch records a prefetch task result.
func (m *Metrics) RecordPrefetch(result string) {
	m.prefetchTotal.WithLabelValues(result).Inc()
}

// InitVecMetrics pre-initializes common label combinations with zero
// values so that metrics appear in /metrics output immediately after
// startup. Prometheus *Vec types only emit metric lines after
// WithLabelValues() is called at least once.
func (m *Metrics) InitVecMetrics() {
	for _, capability := range []string{"suggest", "search", "learn", "explain"} {
		m.activeRequests.WithLabelValues(capability)
		for _, outcome := range []string{"ok", "degraded", "error"} {
			m.requestDuration.WithLabelValues(capability, outcome)
			for _, servedBy := range []string{"cache", "backend", "fallback"} {
				m.requestsTotal.WithLabelValues(capability, outcome, servedBy)
			}
		}
	}
	for _, result := range []string{"scheduled", "completed", "dropped", "failed"} {
		m.prefetchTotal.WithLabelValues(result)
	}
}
