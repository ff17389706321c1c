package monitoring

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/propstack/mlserve/pkg/interfaces"
	"github.com/propstack/mlserve/pkg/models"
)

// HealthStatus grades model and service health
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// InfraCheck verifies reachability of one infrastructure dependency
type InfraCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// InfraResult is the outcome of one infrastructure check
type InfraResult struct {
	Name    string        `json:"name"`
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// ModelHealth summarizes one model's recent serving behavior
type ModelHealth struct {
	ModelID         string       `json:"model_id"`
	Status          HealthStatus `json:"status"`
	RecentVolume    int          `json:"recent_volume"`
	MeanConfidence  float64      `json:"mean_confidence"`
	LowConfidenceAt float64      `json:"low_confidence_rate"`
}

// ServiceHealth is the service-wide aggregate
type ServiceHealth struct {
	Status      HealthStatus               `json:"status"`
	InfraChecks []InfraResult              `json:"infra_checks"`
	ModelCounts map[models.ModelStatus]int `json:"model_counts"`
	ErrorRate   float64                    `json:"error_rate"`
	EvaluatedAt time.Time                  `json:"evaluated_at"`
}

// HealthMonitor aggregates per-model serving health and service-wide
// infrastructure reachability.
type HealthMonitor struct {
	logger *logrus.Logger
	config *HealthConfig
	store  interfaces.DocumentStore
	checks []InfraCheck
}

// HealthConfig configures health aggregation thresholds
type HealthConfig struct {
	RecentWindow        int           `json:"recent_window"`
	LowConfidenceCutoff float64       `json:"low_confidence_cutoff"`
	DegradedErrorRate   float64       `json:"degraded_error_rate"`
	DegradedConfidence  float64       `json:"degraded_confidence"`
	UnhealthyConfidence float64       `json:"unhealthy_confidence"`
	CheckTimeout        time.Duration `json:"check_timeout"`
}

// DefaultHealthConfig returns the default health thresholds
func DefaultHealthConfig() *HealthConfig {
	return &HealthConfig{
		RecentWindow:        100,
		LowConfidenceCutoff: 0.5,
		DegradedErrorRate:   0.05,
		DegradedConfidence:  0.6,
		UnhealthyConfidence: 0.4,
		CheckTimeout:        2 * time.Second,
	}
}

// NewHealthMonitor creates a health monitor with the given infrastructure
// checks
func NewHealthMonitor(config *HealthConfig, store interfaces.DocumentStore, checks []InfraCheck, logger *logrus.Logger) *HealthMonitor {
	if config == nil {
		config = DefaultHealthConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &HealthMonitor{
		logger: logger,
		config: config,
		store:  store,
		checks: checks,
	}
}

// GetModelHealth aggregates a model's recent prediction volume and
// confidence into a health grade.
func (hm *HealthMonitor) GetModelHealth(ctx context.Context, modelID string) (*ModelHealth, error) {
	if _, err := hm.store.GetModel(ctx, modelID); err != nil {
		return nil, err
	}

	predictions, err := hm.store.ListPredictions(ctx, modelID, hm.config.RecentWindow)
	if err != nil {
		return nil, err
	}

	health := &ModelHealth{
		ModelID:      modelID,
		Status:       StatusHealthy,
		RecentVolume: len(predictions),
	}
	if len(predictions) == 0 {
		return health, nil
	}

	confidences := make([]float64, len(predictions))
	low := 0
	for i, p := range predictions {
		confidences[i] = p.Confidence
		if p.Confidence < hm.config.LowConfidenceCutoff {
			low++
		}
	}
	health.MeanConfidence = stat.Mean(confidences, nil)
	health.LowConfidenceAt = float64(low) / float64(len(predictions))

	switch {
	case health.MeanConfidence < hm.config.UnhealthyConfidence:
		health.Status = StatusUnhealthy
	case health.MeanConfidence < hm.config.DegradedConfidence:
		health.Status = StatusDegraded
	}

	return health, nil
}

// GetHealthStatus combines infrastructure reachability, model status
// counts and the service-wide low-confidence error rate. Any failed
// infra check makes the service unhealthy; an error rate at or above the
// degraded threshold makes it degraded.
func (hm *HealthMonitor) GetHealthStatus(ctx context.Context) *ServiceHealth {
	health := &ServiceHealth{
		Status:      StatusHealthy,
		ModelCounts: make(map[models.ModelStatus]int),
		EvaluatedAt: time.Now(),
	}

	infraHealthy := true
	for _, check := range hm.checks {
		result := hm.runCheck(ctx, check)
		health.InfraChecks = append(health.InfraChecks, result)
		if !result.Healthy {
			infraHealthy = false
		}
	}

	allModels, err := hm.store.ListModels(ctx, "")
	if err != nil {
		hm.logger.WithError(err).Error("Failed to list models for health aggregation")
		infraHealthy = false
	}

	total, low := 0, 0
	for _, model := range allModels {
		health.ModelCounts[model.Status]++

		predictions, err := hm.store.ListPredictions(ctx, model.ID, hm.config.RecentWindow)
		if err != nil {
			continue
		}
		for _, p := range predictions {
			total++
			if p.Confidence < hm.config.LowConfidenceCutoff {
				low++
			}
		}
	}
	if total > 0 {
		health.ErrorRate = float64(low) / float64(total)
	}

	switch {
	case !infraHealthy:
		health.Status = StatusUnhealthy
	case health.ErrorRate >= hm.config.DegradedErrorRate:
		health.Status = StatusDegraded
	}

	return health
}

func (hm *HealthMonitor) runCheck(ctx context.Context, check InfraCheck) InfraResult {
	checkCtx, cancel := context.WithTimeout(ctx, hm.config.CheckTimeout)
	defer cancel()

	start := time.Now()
	err := check.Ping(checkCtx)
	result := InfraResult{
		Name:    check.Name,
		Healthy: err == nil,
		Latency: time.Since(start),
	}
	if err != nil {
		result.Error = err.Error()
		hm.logger.WithError(err).WithField("check", check.Name).Warn("Infrastructure check failed")
	}
	return result
}
