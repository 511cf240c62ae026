package prefetch

import (
	"encoding/json"

	"aigw/internal/config"
)

// FollowupCapability predicts the capability a client typically calls
// next for the same payload. A suggestion is often followed by a
// request to explain it; a search result is often fed into suggest.
type FollowupCapability struct{}

// NewFollowupCapability creates the follow-up capability predictor.
func NewFollowupCapability() *FollowupCapability {
	return &FollowupCapability{}
}

// Name implements Predictor.
func (s *FollowupCapability) Name() string { return "followup-capability" }

// Predict implements Predictor.
func (s *FollowupCapability) Predict(origin Origin) []Prediction {
	switch origin.Capability {
	case config.CapabilitySuggest:
		return []Prediction{{
			Capability: config.CapabilityExplain,
			Payload:    origin.Payload,
			Confidence: 0.75,
		}}
	case config.CapabilitySearch:
		return []Prediction{{
			Capability: config.CapabilitySuggest,
			Payload:    origin.Payload,
			Confidence: 0.55,
		}}
	default:
		return nil
	}
}

// ActiveFile predicts that the file the client is working in will be
// asked about again. Only fires when the origin carries file context.
type ActiveFile struct{}

// NewActiveFile creates the active-file predictor.
func NewActiveFile() *ActiveFile {
	return &ActiveFile{}
}

// Name implements Predictor.
func (s *ActiveFile) Name() string { return "active-file" }

// filePayload is the predicted payload shape for file-scoped requests.
type filePayload struct {
	ProjectID string `json:"projectId,omitempty"`
	FileID    string `json:"fileId"`
}

// Predict implements Predictor.
func (s *ActiveFile) Predict(origin Origin) []Prediction {
	if origin.FileID == "" {
		return nil
	}

	payload, err := json.Marshal(filePayload{
		ProjectID: origin.ProjectID,
		FileID:    origin.FileID,
	})
	if err != nil {
		return nil
	}

	confidence := 0.7
	if origin.ProjectID != "" {
		confidence = 0.8
	}

	return []Prediction{{
		Capability: config.CapabilitySuggest,
		Payload:    payload,
		Confidence: confidence,
	}}
}

// DefaultPredictors returns the standard prediction strategies.
func DefaultPredictors() []Predictor {
	return []Predictor{
		NewFollowupCapability(),
		NewActiveFile(),
	}
}
