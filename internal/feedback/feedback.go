package feedback

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/propstack/mlserve/internal/registry"
	"github.com/propstack/mlserve/pkg/errors"
	"github.com/propstack/mlserve/pkg/interfaces"
	"github.com/propstack/mlserve/pkg/models"
)

// Service attaches ground truth to predictions and batches qualifying
// samples toward incremental retraining. Incremental-learning failures
// are logged and never surface to the feedback caller; the serving path
// never waits on the job queue beyond a fire-and-forget enqueue.
type Service struct {
	logger   *logrus.Logger
	store    interfaces.DocumentStore
	registry *registry.Registry
	queue    interfaces.JobQueue
	metrics  interfaces.MetricsCollector

	mu           sync.Mutex
	accumulators map[string]*accumulator
}

// accumulator buffers incremental-learning samples per model
type accumulator struct {
	samples []models.FeedbackSample
}

// IncrementalBatch is the payload enqueued for one incremental update
type IncrementalBatch struct {
	ModelID         string                  `json:"model_id"`
	Samples         []models.FeedbackSample `json:"samples"`
	UpdateFrequency int                     `json:"update_frequency"`
	LearningRate    float64                 `json:"learning_rate"`
	Epochs          int                     `json:"epochs"`
	EnqueuedAt      time.Time               `json:"enqueued_at"`
}

// NewService creates the feedback service
func NewService(store interfaces.DocumentStore, reg *registry.Registry, queue interfaces.JobQueue, metrics interfaces.MetricsCollector, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{
		logger:       logger,
		store:        store,
		registry:     reg,
		queue:        queue,
		metrics:      metrics,
		accumulators: make(map[string]*accumulator),
	}
}

// SubmitFeedback attaches feedback to a prediction and appends the sample
// to the model's feedback log. When incremental learning is enabled and
// triggerIncremental is set, the sample feeds the model's accumulator;
// every updateFrequency qualifying samples produce exactly one enqueued
// incremental-update batch.
func (s *Service) SubmitFeedback(ctx context.Context, predictionID string, fb models.PredictionFeedback, triggerIncremental bool) error {
	prediction, err := s.store.GetPrediction(ctx, predictionID)
	if err != nil {
		return err
	}

	model, err := s.registry.GetModel(ctx, prediction.ModelID)
	if err != nil {
		return err
	}

	if fb.ProvidedAt.IsZero() {
		fb.ProvidedAt = time.Now()
	}
	prediction.Feedback = &fb
	if err := s.updatePredictionWithRetry(ctx, prediction); err != nil {
		return err
	}

	sample := models.FeedbackSample{
		Input:          prediction.Input,
		ExpectedOutput: fb.ActualValue,
		ActualOutput:   prediction.Output,
		IsCorrect:      fb.IsCorrect,
		Timestamp:      fb.ProvidedAt,
	}
	if err := s.registry.AppendFeedback(ctx, model.ID, sample); err != nil {
		return err
	}
	s.metrics.RecordFeedback(string(model.Type))

	cfg := model.Configuration.IncrementalLearning
	if triggerIncremental && cfg != nil && cfg.Enabled {
		// Errors here are recovered locally; feedback submission already
		// succeeded from the caller's perspective.
		s.accumulate(ctx, model, cfg, sample)
	}

	s.logger.WithFields(logrus.Fields{
		"prediction_id": predictionID,
		"model_id":      model.ID,
		"is_correct":    fb.IsCorrect,
	}).Info("Recorded prediction feedback")

	return nil
}

// TriggerFullRetrain enqueues a full retraining job for a model
func (s *Service) TriggerFullRetrain(ctx context.Context, modelID string) error {
	model, err := s.registry.GetModel(ctx, modelID)
	if err != nil {
		return err
	}

	payload := map[string]interface{}{
		"model_id":    model.ID,
		"model_type":  model.Type,
		"features":    model.Configuration.Features,
		"target":      model.Configuration.Target,
		"enqueued_at": time.Now(),
	}
	if err := s.queue.Enqueue(ctx, interfaces.JobTypeFullRetrain, payload); err != nil {
		return errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeInternalError,
			"failed to enqueue retraining job")
	}

	s.logger.WithField("model_id", modelID).Info("Enqueued full retraining job")
	return nil
}

// PendingSamples returns the number of buffered incremental samples for a
// model. Used by tests and the health endpoint.
func (s *Service) PendingSamples(modelID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accumulators[modelID]
	if !ok {
		return 0
	}
	return len(acc.samples)
}

func (s *Service) accumulate(ctx context.Context, model *models.Model, cfg *models.IncrementalLearningConfig, sample models.FeedbackSample) {
	frequency := cfg.UpdateFrequency
	if frequency <= 0 {
		frequency = 50
	}

	s.mu.Lock()
	acc, ok := s.accumulators[model.ID]
	if !ok {
		acc = &accumulator{}
		s.accumulators[model.ID] = acc
	}
	acc.samples = append(acc.samples, sample)

	var batch []models.FeedbackSample
	if len(acc.samples) >= frequency {
		batch = acc.samples
		acc.samples = nil
	}
	s.mu.Unlock()

	if batch == nil {
		return
	}

	payload := &IncrementalBatch{
		ModelID:         model.ID,
		Samples:         batch,
		UpdateFrequency: frequency,
		LearningRate:    cfg.LearningRate,
		Epochs:          cfg.Epochs,
		EnqueuedAt:      time.Now(),
	}
	if err := s.queue.Enqueue(ctx, interfaces.JobTypeIncrementalUpdate, payload); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"model_id": model.ID,
			"samples":  len(batch),
		}).Error("Failed to enqueue incremental update batch")
		return
	}

	s.logger.WithFields(logrus.Fields{
		"model_id": model.ID,
		"samples":  len(batch),
	}).Info("Enqueued incremental update batch")
}

func (s *Service) updatePredictionWithRetry(ctx context.Context, prediction *models.Prediction) error {
	const maxRetries = 5
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := s.store.UpdatePrediction(ctx, prediction)
		if err == nil {
			return nil
		}
		if !errors.IsConflict(err) {
			return err
		}
		fresh, gerr := s.store.GetPrediction(ctx, prediction.ID)
		if gerr != nil {
			return gerr
		}
		fresh.Feedback = prediction.Feedback
		prediction = fresh
	}
	return errors.NewConflictError("prediction", prediction.ID)
}
