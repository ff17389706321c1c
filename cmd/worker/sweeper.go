package main

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/propstack/mlserve/internal/monitoring"
	"github.com/propstack/mlserve/pkg/errors"
	"github.com/propstack/mlserve/pkg/interfaces"
)

// DriftSweeper periodically evaluates drift for every model with a
// configured policy and enqueues a full retrain when drift is detected.
type DriftSweeper struct {
	logger   *logrus.Logger
	store    interfaces.DocumentStore
	detector *monitoring.DriftDetector
	queue    interfaces.JobQueue
}

// NewDriftSweeper creates a drift sweeper
func NewDriftSweeper(store interfaces.DocumentStore, detector *monitoring.DriftDetector, queue interfaces.JobQueue, logger *logrus.Logger) *DriftSweeper {
	if logger == nil {
		logger = logrus.New()
	}
	return &DriftSweeper{
		logger:   logger,
		store:    store,
		detector: detector,
		queue:    queue,
	}
}

// Run sweeps on the given interval until the context is cancelled
func (s *DriftSweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *DriftSweeper) sweep(ctx context.Context) {
	models, err := s.store.ListModels(ctx, "")
	if err != nil {
		s.logger.WithError(err).Error("Drift sweep failed to list models")
		return
	}

	evaluated, drifting := 0, 0
	for _, model := range models {
		result, err := s.detector.DetectModelDrift(ctx, model.ID)
		if errors.IsNotFound(err) {
			// No policy configured for this model.
			continue
		}
		if err != nil {
			s.logger.WithError(err).WithField("model_id", model.ID).Warn("Drift evaluation failed")
			continue
		}

		evaluated++
		if !result.IsDrifting {
			continue
		}
		drifting++

		s.logger.WithFields(logrus.Fields{
			"model_id":    model.ID,
			"drift_score": result.DriftScore,
			"threshold":   result.Threshold,
		}).Warn("Model drift detected, enqueueing retrain")

		payload := map[string]interface{}{
			"model_id":    model.ID,
			"reason":      "drift_detected",
			"drift_score": result.DriftScore,
		}
		if err := s.queue.Enqueue(ctx, interfaces.JobTypeFullRetrain, payload); err != nil {
			s.logger.WithError(err).WithField("model_id", model.ID).Error("Failed to enqueue retrain")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"models":    len(models),
		"evaluated": evaluated,
		"drifting":  drifting,
	}).Info("Completed drift sweep")
}
