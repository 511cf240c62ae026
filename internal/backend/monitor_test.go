package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aigw/internal/config"
)

func monitorConfig() config.HealthMonitorConfig {
	return config.HealthMonitorConfig{
		Enabled:       true,
		Interval:      config.Duration(20 * time.Millisecond),
		Timeout:       config.Duration(time.Second),
		HealthyBelow:  config.Duration(200 * time.Millisecond),
		DegradedBelow: config.Duration(time.Second),
	}
}

func registryFor(srv *httptest.Server) *Registry {
	return NewRegistry([]config.BackendConfig{
		{
			Name: "inference",
			Kind: testService,
			Instances: []config.InstanceConfig{
				{Name: "inference-1", Address: srv.URL, MaxConnections: 10},
			},
		},
	})
}

func TestMonitor_ClassifiesFastInstanceHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(healthResponse{Status: "ok", CPUPercent: 10})
	}))
	defer srv.Close()

	registry := registryFor(srv)
	m := NewMonitor(registry, monitorConfig())

	m.Start(context.Background())
	defer m.Stop()

	inst := registry.Instance(testService, "inference-1")
	require.Eventually(t, func() bool {
		return inst.State() == StateHealthy
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, 10.0, inst.Resources().CPUPercent)
	assert.False(t, inst.Resources().Stale(time.Second))
}

func TestMonitor_ClassifiesSlowInstanceDegraded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		json.NewEncoder(w).Encode(healthResponse{Status: "ok"})
	}))
	defer srv.Close()

	registry := registryFor(srv)
	m := NewMonitor(registry, monitorConfig())

	m.Start(context.Background())
	defer m.Stop()

	inst := registry.Instance(testService, "inference-1")
	require.Eventually(t, func() bool {
		return inst.State() == StateDegraded
	}, 2*time.Second, 20*time.Millisecond)
}

func TestMonitor_ClassifiesFailingInstanceUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	registry := registryFor(srv)
	m := NewMonitor(registry, monitorConfig())

	m.Start(context.Background())
	defer m.Stop()

	inst := registry.Instance(testService, "inference-1")
	require.Eventually(t, func() bool {
		return inst.State() == StateUnhealthy
	}, time.Second, 10*time.Millisecond)
}

func TestMonitor_UnreachableInstanceUnhealthy(t *testing.T) {
	registry := NewRegistry([]config.BackendConfig{
		{
			Name: "inference",
			Kind: testService,
			Instances: []config.InstanceConfig{
				{Name: "inference-1", Address: "http://127.0.0.1:1"},
			},
		},
	})

	m := NewMonitor(registry, monitorConfig())
	m.Start(context.Background())
	defer m.Stop()

	inst := registry.Instance(testService, "inference-1")
	require.Eventually(t, func() bool {
		return inst.State() == StateUnhealthy
	}, time.Second, 10*time.Millisecond)
}

func TestMonitor_OkWithBadBodyStillHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	}))
	defer srv.Close()

	registry := registryFor(srv)
	m := NewMonitor(registry, monitorConfig())

	m.Start(context.Background())
	defer m.Stop()

	inst := registry.Instance(testService, "inference-1")
	require.Eventually(t, func() bool {
		return inst.State() == StateHealthy
	}, time.Second, 10*time.Millisecond)
}

func TestMonitor_StateChangeCallback(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(healthResponse{Status: "ok"})
	}))
	defer srv.Close()

	var mu sync.Mutex
	var transitions []HealthState

	registry := registryFor(srv)
	m := NewMonitor(registry, monitorConfig(),
		WithStateChangeCallback(func(service, instance string, from, to HealthState) {
			assert.Equal(t, testService, service)
			assert.Equal(t, "inference-1", instance)
			mu.Lock()
			transitions = append(transitions, to)
			mu.Unlock()
		}),
	)

	m.Start(context.Background())
	defer m.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(transitions) >= 1 && transitions[0] == StateUnhealthy
	}, time.Second, 10*time.Millisecond)

	healthy.Store(true)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(transitions) >= 2 && transitions[len(transitions)-1] == StateHealthy
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMonitor_StopIsIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(healthResponse{Status: "ok"})
	}))
	defer srv.Close()

	m := NewMonitor(registryFor(srv), monitorConfig())
	m.Start(context.Background())
	assert.True(t, m.IsRunning())

	m.Stop()
	assert.False(t, m.IsRunning())
	m.Stop()
}

func TestRegistry_Update(t *testing.T) {
	registry := NewRegistry([]config.BackendConfig{
		{
			Name: "inference",
			Kind: testService,
			Instances: []config.InstanceConfig{
				{Name: "inference-1", Address: "http://localhost:9001"},
			},
		},
	})

	kept := registry.Instance(testService, "inference-1")
	kept.SetState(StateHealthy)

	registry.Update([]config.BackendConfig{
		{
			Name: "inference",
			Kind: testService,
			Instances: []config.InstanceConfig{
				{Name: "inference-1", Address: "http://localhost:9001"},
				{Name: "inference-2", Address: "http://localhost:9002"},
			},
		},
	})

	// Unchanged instance keeps its identity and monitored state.
	assert.Same(t, kept, registry.Instance(testService, "inference-1"))
	assert.Equal(t, StateHealthy, registry.Instance(testService, "inference-1").State())

	added := registry.Instance(testService, "inference-2")
	require.NotNil(t, added)
	assert.Equal(t, StateUnknown, added.State())

	// A changed address means a new instance with fresh state.
	registry.Update([]config.BackendConfig{
		{
			Name: "inference",
			Kind: testService,
			Instances: []config.InstanceConfig{
				{Name: "inference-1", Address: "http://localhost:9099"},
			},
		},
	})
	assert.NotSame(t, kept, registry.Instance(testService, "inference-1"))
	assert.Nil(t, registry.Instance(testService, "inference-2"))
}

func TestRegistry_ByKindAndServices(t *testing.T) {
	registry := NewRegistry([]config.BackendConfig{
		{
			Name: "inference",
			Kind: testService,
			Instances: []config.InstanceConfig{
				{Name: "inference-1", Address: "http://localhost:9001"},
				{Name: "inference-2", Address: "http://localhost:9002"},
			},
		},
	})

	assert.Len(t, registry.ByKind(testService), 2)
	assert.Empty(t, registry.ByKind("retrieval"))
	assert.Len(t, registry.All(), 2)

	services := registry.Services()
	require.Contains(t, services, testService)
	assert.Len(t, services[testService], 2)
}

func TestInstance_BreakerKey(t *testing.T) {
	inst := NewInstance(testService, config.InstanceConfig{Name: "inference-1"})
	assert.Equal(t, "inference/inference-1", inst.BreakerKey())
}
