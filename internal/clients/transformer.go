package clients

import (
	"context"
	"sync"
)

// ScalerParams holds per-feature standardization parameters captured at
// training time
type ScalerParams struct {
	Mean   map[string]float64 `json:"mean"`
	StdDev map[string]float64 `json:"std_dev"`
}

// StandardScaler implements FeatureTransformer with per-model
// standardization pipelines. Models without a registered pipeline pass
// through unchanged.
type StandardScaler struct {
	mu        sync.RWMutex
	pipelines map[string]ScalerParams
}

// NewStandardScaler creates an empty feature transformer
func NewStandardScaler() *StandardScaler {
	return &StandardScaler{pipelines: make(map[string]ScalerParams)}
}

// RegisterPipeline installs standardization parameters for a model
func (t *StandardScaler) RegisterPipeline(modelID string, params ScalerParams) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pipelines[modelID] = params
}

// Transform implements FeatureTransformer
func (t *StandardScaler) Transform(ctx context.Context, modelID string, input interface{}) (interface{}, error) {
	t.mu.RLock()
	params, ok := t.pipelines[modelID]
	t.mu.RUnlock()
	if !ok {
		return input, nil
	}

	features, ok := input.(map[string]interface{})
	if !ok {
		return input, nil
	}

	out := make(map[string]interface{}, len(features))
	for name, value := range features {
		v, isNum := toFloat(value)
		std, hasStd := params.StdDev[name]
		if !isNum || !hasStd || std == 0 {
			out[name] = value
			continue
		}
		out[name] = (v - params.Mean[name]) / std
	}
	return out, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}
