package abtest

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propstack/mlserve/internal/storage/memory"
	"github.com/propstack/mlserve/pkg/errors"
	"github.com/propstack/mlserve/pkg/interfaces"
	"github.com/propstack/mlserve/pkg/models"
)

func newTestRouter(t *testing.T) (*Router, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewRouter(store, logger), store
}

func startTest(t *testing.T, router *Router, testID string, split, minSamples int) *models.ABTest {
	t.Helper()
	test, err := router.StartABTest(context.Background(), testID,
		models.ModelRef{ModelID: "m1", Version: "v1"},
		models.ModelRef{ModelID: "m1", Version: "v2"},
		split, minSamples)
	require.NoError(t, err)
	return test
}

func TestStartABTestDefaults(t *testing.T) {
	router, _ := newTestRouter(t)

	test := startTest(t, router, "exp-1", 0, 0)
	assert.Equal(t, 50, test.TrafficSplit)
	assert.Equal(t, 100, test.MinSamples)
	assert.Equal(t, models.ABTestRunning, test.Status)
}

func TestStartABTestValidation(t *testing.T) {
	router, _ := newTestRouter(t)
	ctx := context.Background()

	_, err := router.StartABTest(ctx, "", models.ModelRef{}, models.ModelRef{}, 50, 10)
	require.Error(t, err)

	_, err = router.StartABTest(ctx, "exp", models.ModelRef{}, models.ModelRef{}, 101, 10)
	require.Error(t, err)

	_, err = router.StartABTest(ctx, "exp", models.ModelRef{}, models.ModelRef{}, -1, 10)
	require.Error(t, err)
}

func TestStartABTestDuplicate(t *testing.T) {
	router, _ := newTestRouter(t)

	startTest(t, router, "exp-1", 50, 10)

	_, err := router.StartABTest(context.Background(), "exp-1",
		models.ModelRef{ModelID: "m2", Version: "v1"},
		models.ModelRef{ModelID: "m2", Version: "v2"}, 50, 10)
	require.Error(t, err)
	appErr, ok := err.(*errors.AppError)
	require.True(t, ok)
	assert.Equal(t, errors.CodeDuplicateTest, appErr.Code)
}

func TestRouteABTestRespectsSplit(t *testing.T) {
	router, _ := newTestRouter(t)
	ctx := context.Background()

	startTest(t, router, "exp-1", 70, 10)
	router.SetSource(rand.NewSource(42))

	countA := 0
	const draws = 1000
	for i := 0; i < draws; i++ {
		arm, test, err := router.RouteABTest(ctx, "exp-1")
		require.NoError(t, err)
		require.NotNil(t, test)
		if arm == "A" {
			countA++
		}
	}

	// With a fixed seed the ratio lands close to the configured split.
	ratio := float64(countA) / draws
	assert.InDelta(t, 0.70, ratio, 0.05)
}

func TestRouteABTestDeterministicWithFixedSource(t *testing.T) {
	router, _ := newTestRouter(t)
	ctx := context.Background()
	startTest(t, router, "exp-1", 50, 10)

	draw := func(seed int64) []string {
		router.SetSource(rand.NewSource(seed))
		arms := make([]string, 20)
		for i := range arms {
			arm, _, err := router.RouteABTest(ctx, "exp-1")
			require.NoError(t, err)
			arms[i] = arm
		}
		return arms
	}

	assert.Equal(t, draw(7), draw(7))
}

func TestRouteABTestNotRunning(t *testing.T) {
	router, _ := newTestRouter(t)
	ctx := context.Background()
	startTest(t, router, "exp-1", 50, 1)

	_, err := router.StopABTest(ctx, "exp-1")
	require.NoError(t, err)

	_, _, err = router.RouteABTest(ctx, "exp-1")
	require.Error(t, err)
}

func TestRecordABTestResultInvalidArm(t *testing.T) {
	router, _ := newTestRouter(t)
	startTest(t, router, "exp-1", 50, 10)

	err := router.RecordABTestResult(context.Background(), "exp-1", "X", models.ABSample{})
	require.Error(t, err)
}

func TestRecordABTestResultAfterStopIsNoop(t *testing.T) {
	router, _ := newTestRouter(t)
	ctx := context.Background()
	startTest(t, router, "exp-1", 50, 1)

	_, err := router.StopABTest(ctx, "exp-1")
	require.NoError(t, err)

	// Late samples are dropped without error.
	err = router.RecordABTestResult(ctx, "exp-1", "A", models.ABSample{Confidence: 0.9})
	require.NoError(t, err)

	results, err := router.GetABTestResults(ctx, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, 0, results.SamplesA)
}

func TestGetABTestResultsPartial(t *testing.T) {
	router, _ := newTestRouter(t)
	ctx := context.Background()
	startTest(t, router, "exp-1", 50, 5)

	for i := 0; i < 3; i++ {
		require.NoError(t, router.RecordABTestResult(ctx, "exp-1", "A", models.ABSample{Confidence: 0.8}))
		require.NoError(t, router.RecordABTestResult(ctx, "exp-1", "B", models.ABSample{Confidence: 0.6}))
	}

	results, err := router.GetABTestResults(ctx, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, 3, results.SamplesA)
	assert.Equal(t, 3, results.SamplesB)
	assert.False(t, results.Complete)
	assert.Empty(t, results.Winner)
	assert.InDelta(t, 0.8, results.MeanA, 1e-9)
	assert.InDelta(t, 0.6, results.MeanB, 1e-9)
}

func TestStopABTestDeclaresWinner(t *testing.T) {
	router, store := newTestRouter(t)
	ctx := context.Background()
	startTest(t, router, "exp-1", 50, 5)

	for i := 0; i < 6; i++ {
		require.NoError(t, router.RecordABTestResult(ctx, "exp-1", "A", models.ABSample{Confidence: 0.62 + float64(i)*0.01}))
		require.NoError(t, router.RecordABTestResult(ctx, "exp-1", "B", models.ABSample{Confidence: 0.90 + float64(i)*0.01}))
	}

	results, err := router.StopABTest(ctx, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, models.ABTestStopped, results.Status)
	assert.True(t, results.Complete)
	assert.Equal(t, "B", results.Winner)
	assert.Greater(t, results.Confidence, 0.9)

	stored, err := store.GetABTest(ctx, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, "B", stored.Winner)
	assert.NotNil(t, stored.StoppedAt)
}

func TestStopABTestBelowMinSamples(t *testing.T) {
	router, _ := newTestRouter(t)
	ctx := context.Background()
	startTest(t, router, "exp-1", 50, 100)

	require.NoError(t, router.RecordABTestResult(ctx, "exp-1", "A", models.ABSample{Confidence: 0.9}))

	// Stopping early still stops the test; no winner is declared.
	results, err := router.StopABTest(ctx, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, models.ABTestStopped, results.Status)
	assert.False(t, results.Complete)
	assert.Empty(t, results.Winner)
	assert.Zero(t, results.Confidence)
}

func TestStopABTestTwice(t *testing.T) {
	router, _ := newTestRouter(t)
	ctx := context.Background()
	startTest(t, router, "exp-1", 50, 1)

	_, err := router.StopABTest(ctx, "exp-1")
	require.NoError(t, err)

	_, err = router.StopABTest(ctx, "exp-1")
	require.Error(t, err)
}

func TestDetermineWinnerIdenticalArms(t *testing.T) {
	samples := []models.ABSample{
		{Confidence: 0.8}, {Confidence: 0.8}, {Confidence: 0.8},
	}

	winner, confidence := determineWinner(samples, samples, "")
	assert.Equal(t, "A", winner)
	assert.Equal(t, 0.5, confidence)
}

func TestDetermineWinnerCustomMetric(t *testing.T) {
	samplesA := []models.ABSample{
		{Confidence: 0.9, Metrics: map[string]float64{"booking_rate": 0.10}},
		{Confidence: 0.9, Metrics: map[string]float64{"booking_rate": 0.12}},
	}
	samplesB := []models.ABSample{
		{Confidence: 0.5, Metrics: map[string]float64{"booking_rate": 0.30}},
		{Confidence: 0.5, Metrics: map[string]float64{"booking_rate": 0.32}},
	}

	// The named metric wins over raw confidence.
	winner, _ := determineWinner(samplesA, samplesB, "booking_rate")
	assert.Equal(t, "B", winner)
}

func TestRecordABTestResultStampsTimestamp(t *testing.T) {
	router, store := newTestRouter(t)
	ctx := context.Background()
	startTest(t, router, "exp-1", 50, 10)

	before := time.Now()
	require.NoError(t, router.RecordABTestResult(ctx, "exp-1", "A", models.ABSample{Confidence: 0.7}))

	test, err := store.GetABTest(ctx, "exp-1")
	require.NoError(t, err)
	require.Len(t, test.SamplesA, 1)
	assert.False(t, test.SamplesA[0].Timestamp.Before(before))
}

// conflictingStore injects update conflicts before delegating, simulating
// concurrent sample appends bumping the test revision.
type conflictingStore struct {
	interfaces.DocumentStore
	mu        sync.Mutex
	conflicts int
}

func (c *conflictingStore) UpdateABTest(ctx context.Context, test *models.ABTest) error {
	c.mu.Lock()
	inject := c.conflicts > 0
	if inject {
		c.conflicts--
	}
	c.mu.Unlock()
	if inject {
		return errors.NewConflictError("ab_test", test.TestID)
	}
	return c.DocumentStore.UpdateABTest(ctx, test)
}

func TestStopABTestRetriesOnConflict(t *testing.T) {
	store := memory.NewStore()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	wrapped := &conflictingStore{DocumentStore: store, conflicts: 3}
	router := NewRouter(wrapped, logger)
	ctx := context.Background()

	_, err := router.StartABTest(ctx, "exp-1",
		models.ModelRef{ModelID: "m1", Version: "v1"},
		models.ModelRef{ModelID: "m1", Version: "v2"}, 50, 5)
	require.NoError(t, err)

	results, err := router.StopABTest(ctx, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, models.ABTestStopped, results.Status)

	stored, err := store.GetABTest(ctx, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, models.ABTestStopped, stored.Status)
}

func TestStopABTestConflictRetriesExhausted(t *testing.T) {
	store := memory.NewStore()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	wrapped := &conflictingStore{DocumentStore: store, conflicts: maxStopRetries + 1}
	router := NewRouter(wrapped, logger)
	ctx := context.Background()

	_, err := router.StartABTest(ctx, "exp-1",
		models.ModelRef{ModelID: "m1", Version: "v1"},
		models.ModelRef{ModelID: "m1", Version: "v2"}, 50, 5)
	require.NoError(t, err)

	_, err = router.StopABTest(ctx, "exp-1")
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))
}
