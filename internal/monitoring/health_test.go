package monitoring

import (
	"context"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propstack/mlserve/internal/storage/memory"
	"github.com/propstack/mlserve/pkg/errors"
	"github.com/propstack/mlserve/pkg/models"
)

func newHealthEnv(t *testing.T, checks []InfraCheck) (*HealthMonitor, *memory.Store) {
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

	return NewHealthMonitor(nil, store, checks, logger), store
}

func seedConfidences(t *testing.T, store *memory.Store, confidences []float64) {
	t.Helper()
	for i, c := range confidences {
		require.NoError(t, store.CreatePrediction(context.Background(), &models.Prediction{
			ID:         fmt.Sprintf("p%d", i),
			ModelID:    "m1",
			Confidence: c,
		}))
	}
}

func repeat(value float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = value
	}
	return out
}

func TestGetModelHealthUnknownModel(t *testing.T) {
	monitor, _ := newHealthEnv(t, nil)

	_, err := monitor.GetModelHealth(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestGetModelHealthNoTraffic(t *testing.T) {
	monitor, _ := newHealthEnv(t, nil)

	health, err := monitor.GetModelHealth(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, health.Status)
	assert.Zero(t, health.RecentVolume)
	assert.Zero(t, health.MeanConfidence)
}

func TestGetModelHealthGrading(t *testing.T) {
	cases := []struct {
		name       string
		confidence float64
		expected   HealthStatus
	}{
		{"high confidence is healthy", 0.9, StatusHealthy},
		{"middling confidence is degraded", 0.5, StatusDegraded},
		{"low confidence is unhealthy", 0.3, StatusUnhealthy},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			monitor, store := newHealthEnv(t, nil)
			seedConfidences(t, store, repeat(tc.confidence, 20))

			health, err := monitor.GetModelHealth(context.Background(), "m1")
			require.NoError(t, err)
			assert.Equal(t, tc.expected, health.Status)
			assert.Equal(t, 20, health.RecentVolume)
			assert.InDelta(t, tc.confidence, health.MeanConfidence, 1e-9)
		})
	}
}

func TestGetModelHealthLowConfidenceRate(t *testing.T) {
	monitor, store := newHealthEnv(t, nil)

	// Three of four predictions above the cutoff.
	seedConfidences(t, store, []float64{0.9, 0.8, 0.7, 0.3})

	health, err := monitor.GetModelHealth(context.Background(), "m1")
	require.NoError(t, err)
	assert.InDelta(t, 0.25, health.LowConfidenceAt, 1e-9)
}

func TestGetHealthStatusAllHealthy(t *testing.T) {
	checks := []InfraCheck{
		{Name: "document_store", Ping: func(ctx context.Context) error { return nil }},
		{Name: "compute_engine", Ping: func(ctx context.Context) error { return nil }},
	}
	monitor, store := newHealthEnv(t, checks)
	seedConfidences(t, store, repeat(0.9, 10))

	health := monitor.GetHealthStatus(context.Background())
	assert.Equal(t, StatusHealthy, health.Status)
	require.Len(t, health.InfraChecks, 2)
	for _, check := range health.InfraChecks {
		assert.True(t, check.Healthy)
	}
	assert.Equal(t, 1, health.ModelCounts[models.StatusReady])
	assert.Zero(t, health.ErrorRate)
}

func TestGetHealthStatusInfraFailureIsUnhealthy(t *testing.T) {
	checks := []InfraCheck{
		{Name: "document_store", Ping: func(ctx context.Context) error { return nil }},
		{Name: "job_queue", Ping: func(ctx context.Context) error { return fmt.Errorf("connection refused") }},
	}
	monitor, store := newHealthEnv(t, checks)
	seedConfidences(t, store, repeat(0.9, 10))

	health := monitor.GetHealthStatus(context.Background())
	assert.Equal(t, StatusUnhealthy, health.Status)

	var failed *InfraResult
	for i := range health.InfraChecks {
		if health.InfraChecks[i].Name == "job_queue" {
			failed = &health.InfraChecks[i]
		}
	}
	require.NotNil(t, failed)
	assert.False(t, failed.Healthy)
	assert.Contains(t, failed.Error, "connection refused")
}

func TestGetHealthStatusHighErrorRateIsDegraded(t *testing.T) {
	monitor, store := newHealthEnv(t, nil)

	// One in ten predictions below the confidence cutoff.
	confidences := repeat(0.9, 9)
	confidences = append(confidences, 0.2)
	seedConfidences(t, store, confidences)

	health := monitor.GetHealthStatus(context.Background())
	assert.Equal(t, StatusDegraded, health.Status)
	assert.InDelta(t, 0.1, health.ErrorRate, 1e-9)
}

func TestDefaultHealthConfig(t *testing.T) {
	config := DefaultHealthConfig()
	assert.Equal(t, 100, config.RecentWindow)
	assert.Equal(t, 0.5, config.LowConfidenceCutoff)
	assert.Greater(t, config.CheckTimeout.Seconds(), 0.0)
}
