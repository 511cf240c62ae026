package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"aigw/internal/config"
	"aigw/internal/observability"
)

// StateChangeFunc is called when an instance's health state changes.
type StateChangeFunc func(service, instance string, from, to HealthState)

// healthResponse is the probe response body an instance returns.
type healthResponse struct {
	Status        string  `json:"status"`
	CPUPercent    float64 `json:"cpuPercent"`
	MemoryPercent float64 `json:"memoryPercent"`
	LatencyMillis float64 `json:"latencyMillis"`
}

// maxProbeBodySize bounds how much of a probe response is read.
const maxProbeBodySize = 64 * 1024

// Monitor periodically probes every registered instance, classifies it
// by probe round-trip time, and records the resource report carried in
// the probe response. State changes are published immediately through
// the callback so the balancer and breakers see them without waiting
// for the next request.
type Monitor struct {
	registry *Registry
	cfg      config.HealthMonitorConfig
	client   *http.Client
	logger   observability.Logger
	onChange StateChangeFunc

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// MonitorOption is a functional option for configuring the monitor.
type MonitorOption func(*Monitor)

// WithMonitorLogger sets the logger for the monitor.
func WithMonitorLogger(logger observability.Logger) MonitorOption {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// WithMonitorClient sets the HTTP client used for probes.
func WithMonitorClient(client *http.Client) MonitorOption {
	return func(m *Monitor) {
		m.client = client
	}
}

// WithStateChangeCallback sets a callback for health state changes.
func WithStateChangeCallback(fn StateChangeFunc) MonitorOption {
	return func(m *Monitor) {
		m.onChange = fn
	}
}

// NewMonitor creates a health monitor over the registry.
func NewMonitor(registry *Registry, cfg config.HealthMonitorConfig, opts ...MonitorOption) *Monitor {
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	m := &Monitor{
		registry:  registry,
		cfg:       cfg,
		client:    &http.Client{Timeout: timeout},
		logger:    observability.NopLogger(),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Start begins periodic probing. The first sweep runs immediately so
// the gateway does not route blind after startup.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	go m.run(ctx)
}

// Stop stops the monitor.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.stopCh)
	<-m.stoppedCh
}

// IsRunning reports whether the monitor loop is active.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.stoppedCh)

	interval := m.cfg.Interval.Duration()
	if interval <= 0 {
		interval = 10 * time.Second
	}

	m.sweep(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// sweep probes all instances concurrently.
func (m *Monitor) sweep(ctx context.Context) {
	var wg sync.WaitGroup
	for _, inst := range m.registry.All() {
		wg.Add(1)
		go func(inst *Instance) {
			defer wg.Done()
			m.probe(ctx, inst)
		}(inst)
	}
	wg.Wait()
}

// probe checks one instance and publishes the resulting state.
func (m *Monitor) probe(ctx context.Context, inst *Instance) {
	start := time.Now()
	report, err := m.doProbe(ctx, inst)
	rtt := time.Since(start)

	GetBackendMetrics().probeDuration.WithLabelValues(inst.Service, inst.Name).Observe(rtt.Seconds())

	var state HealthState
	if err != nil {
		state = StateUnhealthy
		GetBackendMetrics().probesTotal.WithLabelValues(inst.Service, inst.Name, "error").Inc()
		m.logger.Warn("health probe failed",
			observability.String("service", inst.Service),
			observability.String("instance", inst.Name),
			observability.Error(err),
		)
	} else {
		state = m.classify(rtt)
		GetBackendMetrics().probesTotal.WithLabelValues(inst.Service, inst.Name, "ok").Inc()
		inst.SetResources(ResourceMetrics{
			CPUPercent:    report.CPUPercent,
			MemoryPercent: report.MemoryPercent,
			LatencyMillis: report.LatencyMillis,
		})
	}

	m.publish(inst, state)
}

// doProbe performs the HTTP health request.
func (m *Monitor) doProbe(ctx context.Context, inst *Instance) (*healthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, inst.Address+"/health", nil)
	if err != nil {
		return nil, err
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBodySize))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &probeError{status: resp.StatusCode}
	}

	var report healthResponse
	if err := json.Unmarshal(body, &report); err != nil {
		// A 200 with an unparsable body still proves the instance is up.
		return &healthResponse{Status: "ok"}, nil
	}
	return &report, nil
}

// classify maps probe round-trip time to a health state.
func (m *Monitor) classify(rtt time.Duration) HealthState {
	healthyBelow := m.cfg.HealthyBelow.Duration()
	if healthyBelow <= 0 {
		healthyBelow = time.Second
	}
	degradedBelow := m.cfg.DegradedBelow.Duration()
	if degradedBelow <= 0 {
		degradedBelow = 5 * time.Second
	}

	switch {
	case rtt < healthyBelow:
		return StateHealthy
	case rtt < degradedBelow:
		return StateDegraded
	default:
		return StateUnhealthy
	}
}

// publish records the state and fires the change callback when it moved.
func (m *Monitor) publish(inst *Instance, state HealthState) {
	prev := inst.State()
	inst.SetState(state)
	RecordInstanceState(inst.Service, inst.Name, state)

	if prev == state {
		return
	}

	m.logger.Info("instance health state changed",
		observability.String("service", inst.Service),
		observability.String("instance", inst.Name),
		observability.String("from", prev.String()),
		observability.String("to", state.String()),
	)

	if m.onChange != nil {
		m.onChange(inst.Service, inst.Name, prev, state)
	}
}

// probeError reports a non-200 probe response.
type probeError struct {
	status int
}

func (e *probeError) Error() string {
	return "health probe returned status " + http.StatusText(e.status)
}
