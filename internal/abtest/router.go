package abtest

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/propstack/mlserve/pkg/errors"
	"github.com/propstack/mlserve/pkg/interfaces"
	"github.com/propstack/mlserve/pkg/models"
)

// Router splits prediction traffic between two model versions and
// accumulates per-arm outcomes. Test state is store-backed; sample
// recording uses the store's durable append so concurrent recordings
// all count.
//
// Routing is an independent weighted draw per request. There is no
// per-caller stickiness.
type Router struct {
	logger *logrus.Logger
	store  interfaces.DocumentStore

	mu  sync.Mutex
	rng *rand.Rand
}

// Results summarizes an A/B test's accumulated samples
type Results struct {
	TestID     string              `json:"test_id"`
	Status     models.ABTestStatus `json:"status"`
	SamplesA   int                 `json:"samples_a"`
	SamplesB   int                 `json:"samples_b"`
	MeanA      float64             `json:"mean_a"`
	MeanB      float64             `json:"mean_b"`
	MinSamples int                 `json:"min_samples"`
	Complete   bool                `json:"complete"`
	Winner     string              `json:"winner,omitempty"`
	Confidence float64             `json:"confidence,omitempty"`
}

// NewRouter creates a new A/B test router
func NewRouter(store interfaces.DocumentStore, logger *logrus.Logger) *Router {
	if logger == nil {
		logger = logrus.New()
	}
	return &Router{
		logger: logger,
		store:  store,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetSource replaces the router's randomness source. Tests use this to
// make routing deterministic.
func (r *Router) SetSource(src rand.Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rng = rand.New(src)
}

// StartABTest creates and starts a new A/B test
func (r *Router) StartABTest(ctx context.Context, testID string, armA, armB models.ModelRef, trafficSplit, minSamples int) (*models.ABTest, error) {
	if testID == "" {
		return nil, errors.NewValidationError(errors.CodeMissingField, "test ID is required")
	}
	if trafficSplit < 0 || trafficSplit > 100 {
		return nil, errors.NewValidationError(errors.CodeOutOfRange, "traffic split must be between 0 and 100")
	}
	if trafficSplit == 0 {
		trafficSplit = 50
	}
	if minSamples <= 0 {
		minSamples = 100
	}

	if existing, err := r.store.GetABTest(ctx, testID); err == nil && existing != nil {
		return nil, errors.NewDuplicateTestError(testID)
	}

	test := &models.ABTest{
		TestID:       testID,
		ArmA:         armA,
		ArmB:         armB,
		TrafficSplit: trafficSplit,
		MinSamples:   minSamples,
		Status:       models.ABTestRunning,
		CreatedAt:    time.Now(),
	}

	if err := r.store.CreateABTest(ctx, test); err != nil {
		if errors.IsConflict(err) {
			return nil, errors.NewDuplicateTestError(testID)
		}
		return nil, err
	}

	r.logger.WithFields(logrus.Fields{
		"test_id":       testID,
		"arm_a":         armA.ModelID + ":" + armA.Version,
		"arm_b":         armB.ModelID + ":" + armB.Version,
		"traffic_split": trafficSplit,
		"min_samples":   minSamples,
	}).Info("Started A/B test")

	return test, nil
}

// RouteABTest returns "A" with probability trafficSplit/100, else "B".
// Each call is an independent draw.
func (r *Router) RouteABTest(ctx context.Context, testID string) (string, *models.ABTest, error) {
	test, err := r.store.GetABTest(ctx, testID)
	if err != nil {
		return "", nil, err
	}
	if test.Status != models.ABTestRunning {
		return "", nil, errors.NewInvalidStateError("A/B test is not running").
			WithContext("test_id", testID)
	}

	r.mu.Lock()
	draw := r.rng.Intn(100)
	r.mu.Unlock()

	if draw < test.TrafficSplit {
		return "A", test, nil
	}
	return "B", test, nil
}

// RecordABTestResult appends a sample to the named arm. Recording against
// a stopped test is a logged no-op.
func (r *Router) RecordABTestResult(ctx context.Context, testID, arm string, sample models.ABSample) error {
	if arm != "A" && arm != "B" {
		return errors.NewValidationError(errors.CodeInvalidInput, "arm must be A or B")
	}

	test, err := r.store.GetABTest(ctx, testID)
	if err != nil {
		return err
	}
	if test.Status != models.ABTestRunning {
		r.logger.WithFields(logrus.Fields{
			"test_id": testID,
			"arm":     arm,
		}).Warn("Dropping sample for non-running A/B test")
		return nil
	}

	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}
	return r.store.AppendABSample(ctx, testID, arm, sample)
}

// GetABTestResults returns per-arm counts and aggregate statistics.
// Results are partial until both arms reach minSamples.
func (r *Router) GetABTestResults(ctx context.Context, testID string) (*Results, error) {
	test, err := r.store.GetABTest(ctx, testID)
	if err != nil {
		return nil, err
	}

	results := &Results{
		TestID:     test.TestID,
		Status:     test.Status,
		SamplesA:   len(test.SamplesA),
		SamplesB:   len(test.SamplesB),
		MeanA:      armMean(test.SamplesA, test.Metric),
		MeanB:      armMean(test.SamplesB, test.Metric),
		MinSamples: test.MinSamples,
		Winner:     test.Winner,
		Confidence: test.Confidence,
	}
	results.Complete = results.SamplesA >= test.MinSamples && results.SamplesB >= test.MinSamples
	return results, nil
}

// maxStopRetries bounds conflict retries when the stop mutation races
// concurrent sample appends.
const maxStopRetries = 5

// StopABTest stops the test and computes the winner. Stopping before both
// arms reach minSamples is not a hard failure: the test still stops, the
// winner stays empty, and the shortfall is logged.
func (r *Router) StopABTest(ctx context.Context, testID string) (*Results, error) {
	var test *models.ABTest
	var nA, nB int
	var meanA, meanB float64

	for attempt := 0; ; attempt++ {
		fresh, err := r.store.GetABTest(ctx, testID)
		if err != nil {
			return nil, err
		}
		if fresh.Status != models.ABTestRunning {
			return nil, errors.NewInvalidStateError("A/B test already stopped").
				WithContext("test_id", testID)
		}

		now := time.Now()
		fresh.Status = models.ABTestStopped
		fresh.StoppedAt = &now

		nA, nB = len(fresh.SamplesA), len(fresh.SamplesB)
		meanA = armMean(fresh.SamplesA, fresh.Metric)
		meanB = armMean(fresh.SamplesB, fresh.Metric)

		if nA >= fresh.MinSamples && nB >= fresh.MinSamples {
			winner, confidence := determineWinner(fresh.SamplesA, fresh.SamplesB, fresh.Metric)
			fresh.Winner = winner
			fresh.Confidence = confidence
		} else {
			softErr := errors.NewInsufficientSamplesError(testID, nA, nB, fresh.MinSamples)
			r.logger.WithError(softErr).WithFields(logrus.Fields{
				"test_id":   testID,
				"samples_a": nA,
				"samples_b": nB,
			}).Warn("Stopping A/B test below minimum sample count; no winner declared")
		}

		err = r.store.UpdateABTest(ctx, fresh)
		if err == nil {
			test = fresh
			break
		}
		if !errors.IsConflict(err) || attempt >= maxStopRetries {
			return nil, err
		}
		// A concurrent sample append bumped the revision; recompute on a
		// fresh read.
	}

	r.logger.WithFields(logrus.Fields{
		"test_id":    testID,
		"winner":     test.Winner,
		"confidence": test.Confidence,
	}).Info("Stopped A/B test")

	return &Results{
		TestID:     test.TestID,
		Status:     test.Status,
		SamplesA:   nA,
		SamplesB:   nB,
		MeanA:      meanA,
		MeanB:      meanB,
		MinSamples: test.MinSamples,
		Complete:   nA >= test.MinSamples && nB >= test.MinSamples,
		Winner:     test.Winner,
		Confidence: test.Confidence,
	}, nil
}

func armMean(samples []models.ABSample, metric string) float64 {
	if len(samples) == 0 {
		return 0
	}
	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = sampleValue(s, metric)
	}
	return stat.Mean(values, nil)
}

func sampleValue(s models.ABSample, metric string) float64 {
	if metric != "" && metric != "confidence" {
		if v, ok := s.Metrics[metric]; ok {
			return v
		}
	}
	return s.Confidence
}

// determineWinner picks the arm with the higher aggregate metric and
// derives a confidence value from the sample-size-weighted difference of
// means relative to the pooled standard deviation.
func determineWinner(samplesA, samplesB []models.ABSample, metric string) (string, float64) {
	valuesA := make([]float64, len(samplesA))
	for i, s := range samplesA {
		valuesA[i] = sampleValue(s, metric)
	}
	valuesB := make([]float64, len(samplesB))
	for i, s := range samplesB {
		valuesB[i] = sampleValue(s, metric)
	}

	meanA, stdA := stat.MeanStdDev(valuesA, nil)
	meanB, stdB := stat.MeanStdDev(valuesB, nil)

	winner := "A"
	if meanB > meanA {
		winner = "B"
	}

	nA, nB := float64(len(valuesA)), float64(len(valuesB))
	se := math.Sqrt(stdA*stdA/nA + stdB*stdB/nB)
	if se == 0 {
		if meanA == meanB {
			return winner, 0.5
		}
		return winner, 1.0
	}

	// Two-sided z approximation mapped to 0..1.
	z := math.Abs(meanA-meanB) / se
	confidence := math.Erf(z / math.Sqrt2)
	return winner, confidence
}
