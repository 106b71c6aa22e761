package predictor

import (
	"context"
	"encoding/json"
)

// Instance is a single object-detection input in the online prediction format.
type Instance struct {
	Content string `json:"content"`
}

// Parameters are forwarded unchanged with every prediction call.
type Parameters struct {
	ConfidenceThreshold float64 `json:"confidenceThreshold"`
	MaxPredictions      int     `json:"maxPredictions"`
}

// Result is the raw reply of the prediction service. Predictions are kept as
// JSON so callers decide how much of the model-specific shape they trust.
type Result struct {
	Predictions     []json.RawMessage
	DeployedModelID string
}

// Client exposes the subset of the prediction service used by the relay.
type Client interface {
	Predict(ctx context.Context, requestID string, instances []Instance, params Parameters) (*Result, error)
}
