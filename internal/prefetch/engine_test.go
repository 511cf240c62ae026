package prefetch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aigw/internal/config"
)

// stubPredictor returns a fixed set of predictions for any origin.
type stubPredictor struct {
	predictions []Prediction
}

func (s *stubPredictor) Name() string                      { return "stub" }
func (s *stubPredictor) Predict(origin Origin) []Prediction { return s.predictions }

// fetchRecorder collects the capabilities fetched by the engine.
type fetchRecorder struct {
	mu      sync.Mutex
	fetched []string
	err     error
}

func (r *fetchRecorder) fetch(ctx context.Context, capability string, payload json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetched = append(r.fetched, capability)
	return r.err
}

func (r *fetchRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fetched)
}

func engineConfig() config.PrefetchConfig {
	return config.PrefetchConfig{
		Enabled:             true,
		ConfidenceThreshold: 0.7,
		Delay:               config.Duration(10 * time.Millisecond),
		MaxOutstanding:      32,
	}
}

func TestEngine_FetchesConfidentPrediction(t *testing.T) {
	rec := &fetchRecorder{}
	e := NewEngine(engineConfig(), rec.fetch, nil, WithPredictors(&stubPredictor{
		predictions: []Prediction{
			{Capability: config.CapabilityExplain, Confidence: 0.9},
		},
	}))
	defer e.Stop()

	e.Trigger(Origin{Capability: config.CapabilitySuggest})

	require.Eventually(t, func() bool {
		return rec.count() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_FiltersLowConfidence(t *testing.T) {
	rec := &fetchRecorder{}
	e := NewEngine(engineConfig(), rec.fetch, nil, WithPredictors(&stubPredictor{
		predictions: []Prediction{
			{Capability: config.CapabilitySuggest, Confidence: 0.5},
			{Capability: config.CapabilityExplain, Confidence: 0.69},
		},
	}))
	defer e.Stop()

	e.Trigger(Origin{Capability: config.CapabilitySearch})

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, rec.count())
	assert.Equal(t, int64(0), e.Outstanding())
}

func TestEngine_SkipsAlreadyCached(t *testing.T) {
	rec := &fetchRecorder{}
	cached := func(ctx context.Context, capability string, payload json.RawMessage) bool {
		return true
	}

	e := NewEngine(engineConfig(), rec.fetch, cached, WithPredictors(&stubPredictor{
		predictions: []Prediction{
			{Capability: config.CapabilityExplain, Confidence: 0.9},
		},
	}))
	defer e.Stop()

	e.Trigger(Origin{Capability: config.CapabilitySuggest})

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, rec.count())
}

func TestEngine_DropsOverOutstandingCap(t *testing.T) {
	cfg := engineConfig()
	cfg.MaxOutstanding = 2
	cfg.Delay = config.Duration(200 * time.Millisecond)

	predictions := make([]Prediction, 10)
	for i := range predictions {
		predictions[i] = Prediction{Capability: config.CapabilityExplain, Confidence: 0.9}
	}

	rec := &fetchRecorder{}
	e := NewEngine(cfg, rec.fetch, nil, WithPredictors(&stubPredictor{predictions: predictions}))
	defer e.Stop()

	e.Trigger(Origin{Capability: config.CapabilitySuggest})

	// Only the first two fit under the cap; the rest are dropped.
	assert.LessOrEqual(t, e.Outstanding(), int64(2))

	require.Eventually(t, func() bool {
		return rec.count() == 2 && e.Outstanding() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngine_FetchFailureIsSilent(t *testing.T) {
	rec := &fetchRecorder{err: errors.New("backend down")}
	e := NewEngine(engineConfig(), rec.fetch, nil, WithPredictors(&stubPredictor{
		predictions: []Prediction{
			{Capability: config.CapabilityExplain, Confidence: 0.9},
		},
	}))
	defer e.Stop()

	e.Trigger(Origin{Capability: config.CapabilitySuggest})

	require.Eventually(t, func() bool {
		return rec.count() == 1 && e.Outstanding() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_DisabledDoesNothing(t *testing.T) {
	cfg := engineConfig()
	cfg.Enabled = false

	rec := &fetchRecorder{}
	e := NewEngine(cfg, rec.fetch, nil, WithPredictors(&stubPredictor{
		predictions: []Prediction{
			{Capability: config.CapabilityExplain, Confidence: 0.9},
		},
	}))
	defer e.Stop()

	e.Trigger(Origin{Capability: config.CapabilitySuggest})

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, rec.count())
}

func TestEngine_StopCancelsDelayedTasks(t *testing.T) {
	cfg := engineConfig()
	cfg.Delay = config.Duration(500 * time.Millisecond)

	rec := &fetchRecorder{}
	e := NewEngine(cfg, rec.fetch, nil, WithPredictors(&stubPredictor{
		predictions: []Prediction{
			{Capability: config.CapabilityExplain, Confidence: 0.9},
		},
	}))

	e.Trigger(Origin{Capability: config.CapabilitySuggest})
	e.Stop()

	assert.Equal(t, 0, rec.count())
	assert.Equal(t, int64(0), e.Outstanding())
}

func TestFollowupCapability(t *testing.T) {
	p := NewFollowupCapability()

	suggest := p.Predict(Origin{Capability: config.CapabilitySuggest, Payload: json.RawMessage(`{"a":1}`)})
	require.Len(t, suggest, 1)
	assert.Equal(t, config.CapabilityExplain, suggest[0].Capability)
	assert.InDelta(t, 0.75, suggest[0].Confidence, 0.001)

	search := p.Predict(Origin{Capability: config.CapabilitySearch})
	require.Len(t, search, 1)
	assert.Equal(t, config.CapabilitySuggest, search[0].Capability)

	assert.Empty(t, p.Predict(Origin{Capability: config.CapabilityLearn}))
}

func TestActiveFile(t *testing.T) {
	p := NewActiveFile()

	assert.Empty(t, p.Predict(Origin{Capability: config.CapabilitySuggest}))

	withFile := p.Predict(Origin{Capability: config.CapabilityExplain, FileID: "f1"})
	require.Len(t, withFile, 1)
	assert.Equal(t, config.CapabilitySuggest, withFile[0].Capability)
	assert.InDelta(t, 0.7, withFile[0].Confidence, 0.001)
	assert.JSONEq(t, `{"fileId":"f1"}`, string(withFile[0].Payload))

	withProject := p.Predict(Origin{Capability: config.CapabilityExplain, FileID: "f1", ProjectID: "p1"})
	require.Len(t, withProject, 1)
	assert.InDelta(t, 0.8, withProject[0].Confidence, 0.001)
	assert.JSONEq(t, `{"projectId":"p1","fileId":"f1"}`, string(withProject[0].Payload))
}

func TestDefaultPredictors(t *testing.T) {
	assert.Len(t, DefaultPredictors(), 2)
}
