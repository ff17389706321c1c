package monitoring

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/propstack/mlserve/pkg/errors"
	"github.com/propstack/mlserve/pkg/interfaces"
	"github.com/propstack/mlserve/pkg/models"
)

// DriftDetector scores statistical divergence between recent inference
// inputs and a model's reference distribution. The reference is captured
// at training time and refreshed only when a new version is promoted to
// production; it does not roll forward with serving traffic.
type DriftDetector struct {
	logger  *logrus.Logger
	store   interfaces.DocumentStore
	metrics interfaces.MetricsCollector
}

// DriftResult is the outcome of one drift evaluation
type DriftResult struct {
	ModelID     string             `json:"model_id"`
	IsDrifting  bool               `json:"is_drifting"`
	DriftScore  float64            `json:"drift_score"`
	Threshold   float64            `json:"threshold"`
	Method      models.DriftMethod `json:"method"`
	WindowSize  int                `json:"window_size"`
	PerFeature  map[string]float64 `json:"per_feature,omitempty"`
	EvaluatedAt time.Time          `json:"evaluated_at"`
}

// NewDriftDetector creates a drift detector
func NewDriftDetector(store interfaces.DocumentStore, metrics interfaces.MetricsCollector, logger *logrus.Logger) *DriftDetector {
	if logger == nil {
		logger = logrus.New()
	}
	return &DriftDetector{
		logger:  logger,
		store:   store,
		metrics: metrics,
	}
}

// ConfigureDriftDetection replaces the model's drift policy wholesale
func (d *DriftDetector) ConfigureDriftDetection(ctx context.Context, policy *models.DriftPolicy) error {
	if policy.ModelID == "" {
		return errors.NewValidationError(errors.CodeMissingField, "model ID is required")
	}
	if policy.Threshold <= 0 {
		return errors.NewValidationError(errors.CodeOutOfRange, "drift threshold must be positive")
	}
	if policy.WindowSize <= 0 {
		policy.WindowSize = 100
	}
	if len(policy.Features) == 0 {
		return errors.NewValidationError(errors.CodeMissingField, "drift policy requires at least one feature")
	}
	switch policy.Method {
	case models.DriftMethodPSI, models.DriftMethodKL, models.DriftMethodKS:
	case "":
		policy.Method = models.DriftMethodPSI
	default:
		return errors.NewValidationError(errors.CodeInvalidInput, "unknown drift method")
	}

	if _, err := d.store.GetModel(ctx, policy.ModelID); err != nil {
		return err
	}

	policy.UpdatedAt = time.Now()
	if err := d.store.PutDriftPolicy(ctx, policy); err != nil {
		return err
	}

	d.logger.WithFields(logrus.Fields{
		"model_id":    policy.ModelID,
		"method":      policy.Method,
		"threshold":   policy.Threshold,
		"window_size": policy.WindowSize,
	}).Info("Configured drift detection")

	return nil
}

// DetectModelDrift evaluates the configured policy against the most
// recent windowSize prediction inputs.
func (d *DriftDetector) DetectModelDrift(ctx context.Context, modelID string) (*DriftResult, error) {
	policy, err := d.store.GetDriftPolicy(ctx, modelID)
	if err != nil {
		return nil, err
	}

	predictions, err := d.store.ListPredictions(ctx, modelID, policy.WindowSize)
	if err != nil {
		return nil, err
	}

	result := &DriftResult{
		ModelID:     modelID,
		Threshold:   policy.Threshold,
		Method:      policy.Method,
		WindowSize:  policy.WindowSize,
		PerFeature:  make(map[string]float64, len(policy.Features)),
		EvaluatedAt: time.Now(),
	}

	current := extractFeatureSamples(predictions, policy.Features)

	var total float64
	scored := 0
	for _, feature := range policy.Features {
		reference := policy.Reference.Features[feature]
		observed := current[feature]
		if len(reference) == 0 || len(observed) == 0 {
			continue
		}

		var score float64
		switch policy.Method {
		case models.DriftMethodKL:
			score = klDivergence(reference, observed)
		case models.DriftMethodKS:
			score = ksStatistic(reference, observed)
		default:
			score = populationStabilityIndex(reference, observed)
		}
		result.PerFeature[feature] = score
		total += score
		scored++
	}

	if scored > 0 {
		result.DriftScore = total / float64(scored)
	}
	result.IsDrifting = scored > 0 && result.DriftScore > policy.Threshold

	d.metrics.SetDriftScore(modelID, result.DriftScore)
	d.logger.WithFields(logrus.Fields{
		"model_id":    modelID,
		"drift_score": result.DriftScore,
		"is_drifting": result.IsDrifting,
		"features":    scored,
	}).Info("Evaluated model drift")

	return result, nil
}

func extractFeatureSamples(predictions []*models.Prediction, features []string) map[string][]float64 {
	out := make(map[string][]float64, len(features))
	for _, p := range predictions {
		input, ok := p.Input.(map[string]interface{})
		if !ok {
			continue
		}
		for _, f := range features {
			if v, ok := toFloat(input[f]); ok {
				out[f] = append(out[f], v)
			}
		}
	}
	return out
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

const driftBins = 10

// histogram builds a normalized histogram of values over bins spanning
// the combined range of reference and observed samples. Empty bins get a
// small floor so divergence measures stay finite.
func histogram(values []float64, min, max float64) []float64 {
	counts := make([]float64, driftBins)
	width := (max - min) / driftBins
	if width == 0 {
		width = 1
	}
	for _, v := range values {
		idx := int((v - min) / width)
		if idx < 0 {
			idx = 0
		}
		if idx >= driftBins {
			idx = driftBins - 1
		}
		counts[idx]++
	}

	const floor = 1e-4
	total := float64(len(values))
	for i := range counts {
		counts[i] = counts[i] / total
		if counts[i] < floor {
			counts[i] = floor
		}
	}
	return counts
}

func combinedRange(a, b []float64) (float64, float64) {
	min, max := math.Inf(1), math.Inf(-1)
	for _, v := range a {
		min = math.Min(min, v)
		max = math.Max(max, v)
	}
	for _, v := range b {
		min = math.Min(min, v)
		max = math.Max(max, v)
	}
	return min, max
}

// populationStabilityIndex computes PSI between reference and observed
// samples over shared histogram bins.
func populationStabilityIndex(reference, observed []float64) float64 {
	min, max := combinedRange(reference, observed)
	expected := histogram(reference, min, max)
	actual := histogram(observed, min, max)

	psi := 0.0
	for i := range expected {
		psi += (actual[i] - expected[i]) * math.Log(actual[i]/expected[i])
	}
	return psi
}

func klDivergence(reference, observed []float64) float64 {
	min, max := combinedRange(reference, observed)
	p := histogram(observed, min, max)
	q := histogram(reference, min, max)
	return stat.KullbackLeibler(p, q)
}

// ksStatistic computes the two-sample Kolmogorov-Smirnov statistic
func ksStatistic(reference, observed []float64) float64 {
	ref := append([]float64(nil), reference...)
	obs := append([]float64(nil), observed...)
	sort.Float64s(ref)
	sort.Float64s(obs)
	return stat.KolmogorovSmirnov(ref, nil, obs, nil)
}
