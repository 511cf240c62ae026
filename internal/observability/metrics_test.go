package observability

import (
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherFamily(t *testing.T, m *Metrics, name string) *dto.MetricFamily {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func labelValue(metric *dto.Metric, name string) string {
	for _, lp := range metric.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func TestMetrics_RecordRequest(t *testing.T) {
	m := NewMetrics("testgw")
	m.RecordRequest("suggest", "ok", "backend", 25*time.Millisecond)
	m.RecordRequest("suggest", "ok", "backend", 75*time.Millisecond)
	m.RecordRequest("suggest", "ok", "cache", time.Millisecond)

	mf := gatherFamily(t, m, "testgw_requests_total")
	require.NotNil(t, mf)

	byServedBy := map[string]float64{}
	for _, metric := range mf.GetMetric() {
		byServedBy[labelValue(metric, "served_by")] = metric.GetCounter().GetValue()
	}
	assert.Equal(t, 2.0, byServedBy["backend"])
	assert.Equal(t, 1.0, byServedBy["cache"])

	hist := gatherFamily(t, m, "testgw_request_duration_seconds")
	require.NotNil(t, hist)
	require.Len(t, hist.GetMetric(), 1)
	assert.Equal(t, uint64(3), hist.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestMetrics_ActiveRequests(t *testing.T) {
	m := NewMetrics("testgw")
	m.RequestStarted("search")
	m.RequestStarted("search")
	m.RequestFinished("search")

	mf := gatherFamily(t, m, "testgw_active_requests")
	require.NotNil(t, mf)
	require.Len(t, mf.GetMetric(), 1)
	assert.Equal(t, 1.0, mf.GetMetric()[0].GetGauge().GetValue())
}

func TestMetrics_BackendHealth(t *testing.T) {
	m := NewMetrics("testgw")
	m.RecordBackendHealth("inference", "inference-1", 2)
	m.RecordBackendHealth("inference", "inference-2", 0)

	mf := gatherFamily(t, m, "testgw_backend_health")
	require.NotNil(t, mf)

	byInstance := map[string]float64{}
	for _, metric := range mf.GetMetric() {
		byInstance[labelValue(metric, "instance")] = metric.GetGauge().GetValue()
	}
	assert.Equal(t, 2.0, byInstance["inference-1"])
	assert.Equal(t, 0.0, byInstance["inference-2"])
}

func TestMetrics_DefaultNamespace(t *testing.T) {
	m := NewMetrics("")
	m.RecordFallback("suggest", "stale_cache")

	assert.NotNil(t, gatherFamily(t, m, "gateway_fallbacks_total"))
}

func TestMetrics_InitVecMetrics(t *testing.T) {
	m := NewMetrics("testgw")
	m.InitVecMetrics()

	mf := gatherFamily(t, m, "testgw_requests_total")
	require.NotNil(t, mf)
	// 4 capabilities x 3 outcomes x 3 served_by combinations.
	assert.Len(t, mf.GetMetric(), 36)

	prefetch := gatherFamily(t, m, "testgw_prefetch_tasks_total")
	require.NotNil(t, prefetch)
	assert.Len(t, prefetch.GetMetric(), 4)
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics("testgw")
	m.SetBuildInfo("1.2.3", "abc123", "2026-01-01")
	m.RecordPrefetch("completed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "testgw_build_info")
	assert.Contains(t, body, `version="1.2.3"`)
	assert.Contains(t, body, "testgw_prefetch_tasks_total")
	assert.Contains(t, body, "testgw_start_time_seconds")
}
