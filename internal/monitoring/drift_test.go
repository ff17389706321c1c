package monitoring

import (
	"context"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propstack/mlserve/internal/observability/metrics"
	"github.com/propstack/mlserve/internal/storage/memory"
	"github.com/propstack/mlserve/pkg/errors"
	"github.com/propstack/mlserve/pkg/models"
)

func newDriftEnv(t *testing.T) (*DriftDetector, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	require.NoError(t, store.CreateModel(context.Background(), &models.Model{
		ID:       "m1",
		MemberID: "tenant-1",
		Name:     "rental price estimator",
		Slug:     "rental-price",
		Type:     models.ModelTypeRegression,
		Status:   models.StatusReady,
	}))

	return NewDriftDetector(store, metrics.NewNoopCollector(), logger), store
}

func referenceValues(n int, offset float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = offset + float64(i%10)
	}
	return out
}

func seedPredictions(t *testing.T, store *memory.Store, n int, offset float64) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, store.CreatePrediction(context.Background(), &models.Prediction{
			ID:      fmt.Sprintf("p-%.0f-%d", offset, i),
			ModelID: "m1",
			Input: map[string]interface{}{
				"area": offset + float64(i%10),
			},
			Confidence: 0.9,
		}))
	}
}

func basePolicy(method models.DriftMethod) *models.DriftPolicy {
	return &models.DriftPolicy{
		ModelID:    "m1",
		Threshold:  0.2,
		WindowSize: 100,
		Features:   []string{"area"},
		Method:     method,
		Reference: models.ReferenceDistribution{
			Features: map[string][]float64{
				"area": referenceValues(100, 0),
			},
		},
	}
}

func TestConfigureDriftDetectionValidation(t *testing.T) {
	detector, _ := newDriftEnv(t)
	ctx := context.Background()

	err := detector.ConfigureDriftDetection(ctx, &models.DriftPolicy{
		Threshold: 0.2, Features: []string{"area"},
	})
	require.Error(t, err)

	err = detector.ConfigureDriftDetection(ctx, &models.DriftPolicy{
		ModelID: "m1", Threshold: 0, Features: []string{"area"},
	})
	require.Error(t, err)

	err = detector.ConfigureDriftDetection(ctx, &models.DriftPolicy{
		ModelID: "m1", Threshold: 0.2,
	})
	require.Error(t, err)

	err = detector.ConfigureDriftDetection(ctx, &models.DriftPolicy{
		ModelID: "m1", Threshold: 0.2, Features: []string{"area"}, Method: "chi_squared",
	})
	require.Error(t, err)
}

func TestConfigureDriftDetectionDefaults(t *testing.T) {
	detector, store := newDriftEnv(t)
	ctx := context.Background()

	policy := &models.DriftPolicy{
		ModelID:   "m1",
		Threshold: 0.2,
		Features:  []string{"area"},
	}
	require.NoError(t, detector.ConfigureDriftDetection(ctx, policy))

	stored, err := store.GetDriftPolicy(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.DriftMethodPSI, stored.Method)
	assert.Equal(t, 100, stored.WindowSize)
	assert.False(t, stored.UpdatedAt.IsZero())
}

func TestConfigureDriftDetectionUnknownModel(t *testing.T) {
	detector, _ := newDriftEnv(t)

	err := detector.ConfigureDriftDetection(context.Background(), &models.DriftPolicy{
		ModelID: "missing", Threshold: 0.2, Features: []string{"area"},
	})
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestDetectModelDriftNoPolicy(t *testing.T) {
	detector, _ := newDriftEnv(t)

	_, err := detector.DetectModelDrift(context.Background(), "m1")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestDetectModelDriftStableDistribution(t *testing.T) {
	detector, store := newDriftEnv(t)
	ctx := context.Background()

	require.NoError(t, store.PutDriftPolicy(ctx, basePolicy(models.DriftMethodPSI)))
	seedPredictions(t, store, 100, 0)

	result, err := detector.DetectModelDrift(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, result.IsDrifting)
	assert.InDelta(t, 0.0, result.DriftScore, 1e-6)
	assert.Contains(t, result.PerFeature, "area")
}

func TestDetectModelDriftShiftedDistribution(t *testing.T) {
	detector, store := newDriftEnv(t)
	ctx := context.Background()

	require.NoError(t, store.PutDriftPolicy(ctx, basePolicy(models.DriftMethodPSI)))
	// Serving traffic far outside the training range.
	seedPredictions(t, store, 100, 500)

	result, err := detector.DetectModelDrift(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, result.IsDrifting)
	assert.Greater(t, result.DriftScore, result.Threshold)
}

func TestDetectModelDriftKSMethod(t *testing.T) {
	detector, store := newDriftEnv(t)
	ctx := context.Background()

	require.NoError(t, store.PutDriftPolicy(ctx, basePolicy(models.DriftMethodKS)))
	seedPredictions(t, store, 100, 500)

	result, err := detector.DetectModelDrift(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.DriftMethodKS, result.Method)
	assert.True(t, result.IsDrifting)
	// Disjoint samples give the maximum KS statistic.
	assert.InDelta(t, 1.0, result.DriftScore, 1e-6)
}

func TestDetectModelDriftKLMethod(t *testing.T) {
	detector, store := newDriftEnv(t)
	ctx := context.Background()

	require.NoError(t, store.PutDriftPolicy(ctx, basePolicy(models.DriftMethodKL)))
	seedPredictions(t, store, 100, 500)

	result, err := detector.DetectModelDrift(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.DriftMethodKL, result.Method)
	assert.True(t, result.IsDrifting)
}

func TestDetectModelDriftNoObservedSamples(t *testing.T) {
	detector, store := newDriftEnv(t)
	ctx := context.Background()

	require.NoError(t, store.PutDriftPolicy(ctx, basePolicy(models.DriftMethodPSI)))

	// No serving traffic yet; nothing to score.
	result, err := detector.DetectModelDrift(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, result.IsDrifting)
	assert.Zero(t, result.DriftScore)
	assert.Empty(t, result.PerFeature)
}

func TestDetectModelDriftSkipsNonNumericFeatures(t *testing.T) {
	detector, store := newDriftEnv(t)
	ctx := context.Background()

	policy := basePolicy(models.DriftMethodPSI)
	policy.Features = []string{"area", "city"}
	require.NoError(t, store.PutDriftPolicy(ctx, policy))

	for i := 0; i < 50; i++ {
		require.NoError(t, store.CreatePrediction(ctx, &models.Prediction{
			ID:      fmt.Sprintf("p%d", i),
			ModelID: "m1",
			Input: map[string]interface{}{
				"area": float64(i % 10),
				"city": "Lisbon",
			},
		}))
	}

	result, err := detector.DetectModelDrift(ctx, "m1")
	require.NoError(t, err)
	assert.Contains(t, result.PerFeature, "area")
	assert.NotContains(t, result.PerFeature, "city")
}

func TestPopulationStabilityIndexSymmetricBounds(t *testing.T) {
	same := referenceValues(100, 0)
	assert.InDelta(t, 0.0, populationStabilityIndex(same, same), 1e-9)

	shifted := referenceValues(100, 1000)
	assert.Greater(t, populationStabilityIndex(same, shifted), 1.0)
}

func TestKSStatisticBounds(t *testing.T) {
	same := referenceValues(100, 0)
	assert.InDelta(t, 0.0, ksStatistic(same, same), 1e-9)

	shifted := referenceValues(100, 1000)
	assert.InDelta(t, 1.0, ksStatistic(same, shifted), 1e-9)
}
