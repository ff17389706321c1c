package deployment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/propstack/mlserve/internal/registry"
	"github.com/propstack/mlserve/pkg/errors"
	"github.com/propstack/mlserve/pkg/interfaces"
	"github.com/propstack/mlserve/pkg/models"
)

// HealthProber checks whether a model version is serving correctly. A
// probe that exceeds its timeout is reported as unhealthy; the rollout
// keeps running and counts the timeout toward the failure threshold.
type HealthProber interface {
	Probe(ctx context.Context, modelID, version string, timeout time.Duration) models.HealthCheckResult
}

// Orchestrator runs staged deployments as independently cancellable
// supervised loops. State transitions only move forward: Pending →
// InProgress → Healthy | RolledBack | Failed. Rollback reverts the
// model's lifecycle pointer, never the deployment record.
type Orchestrator struct {
	logger   *logrus.Logger
	store    interfaces.DocumentStore
	registry *registry.Registry
	prober   HealthProber
	metrics  interfaces.MetricsCollector

	mu       sync.Mutex
	rollouts map[string]context.CancelFunc
	wg       sync.WaitGroup
}

// NewOrchestrator creates a deployment orchestrator
func NewOrchestrator(store interfaces.DocumentStore, reg *registry.Registry, prober HealthProber, metrics interfaces.MetricsCollector, logger *logrus.Logger) *Orchestrator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Orchestrator{
		logger:   logger,
		store:    store,
		registry: reg,
		prober:   prober,
		metrics:  metrics,
		rollouts: make(map[string]context.CancelFunc),
	}
}

// DeployModel starts a rollout of the given version using the supplied
// strategy configuration. The rollout runs in the background; the
// returned record is in state pending.
func (o *Orchestrator) DeployModel(ctx context.Context, modelID, version string, stage models.Stage, cfg StrategyConfig, probe *ProbeConfig, policy models.RollbackPolicy) (*models.DeploymentRecord, error) {
	if cfg == nil {
		return nil, errors.NewValidationError(errors.CodeInvalidStrategy, "strategy configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if probe == nil {
		probe = DefaultProbeConfig()
	}
	if err := probe.Validate(); err != nil {
		return nil, err
	}
	if policy.MaxRollbackAttempts <= 0 {
		policy.MaxRollbackAttempts = 1
	}

	model, err := o.registry.GetModel(ctx, modelID)
	if err != nil {
		return nil, err
	}
	if _, err := o.store.GetVersion(ctx, modelID, version); err != nil {
		return nil, err
	}

	record := &models.DeploymentRecord{
		DeploymentID:    uuid.NewString(),
		ModelID:         modelID,
		Version:         version,
		Stage:           stage,
		Strategy:        cfg.Strategy(),
		Status:          models.DeploymentPending,
		RollbackPolicy:  policy,
		PreviousVersion: model.Lifecycle.CurrentVersion,
		StartedAt:       time.Now(),
	}
	if err := o.store.CreateDeployment(ctx, record); err != nil {
		return nil, err
	}

	rolloutCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.rollouts[record.DeploymentID] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go o.runRollout(rolloutCtx, record, cfg, probe)

	o.logger.WithFields(logrus.Fields{
		"deployment_id": record.DeploymentID,
		"model_id":      modelID,
		"version":       version,
		"strategy":      cfg.Strategy(),
	}).Info("Started deployment rollout")

	return record, nil
}

// RollbackModel is an explicit out-of-band revert of the model's current
// version, independent of any in-flight deployment.
func (o *Orchestrator) RollbackModel(ctx context.Context, modelID, targetVersion string) error {
	mv, err := o.store.GetVersion(ctx, modelID, targetVersion)
	if err != nil {
		return err
	}
	if mv.Stage == models.StageArchived {
		return errors.NewInvalidStateError("cannot roll back to an archived version").
			WithContext("model_id", modelID).
			WithContext("version", targetVersion)
	}

	if err := o.registry.SetCurrentVersion(ctx, modelID, targetVersion); err != nil {
		return err
	}

	o.logger.WithFields(logrus.Fields{
		"model_id": modelID,
		"version":  targetVersion,
	}).Info("Rolled back model to target version")

	return nil
}

// GetDeployment returns a deployment record
func (o *Orchestrator) GetDeployment(ctx context.Context, deploymentID string) (*models.DeploymentRecord, error) {
	return o.store.GetDeployment(ctx, deploymentID)
}

// CancelRollout cancels an in-flight rollout loop
func (o *Orchestrator) CancelRollout(deploymentID string) {
	o.mu.Lock()
	cancel, ok := o.rollouts[deploymentID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
}

// Stop cancels all in-flight rollouts and waits for their loops to exit
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	for _, cancel := range o.rollouts {
		cancel()
	}
	o.mu.Unlock()
	o.wg.Wait()
}

// rolloutProgress tracks strategy-specific advancement
type rolloutProgress struct {
	consecutiveHealthy int
	replicasReplaced   int
	trafficPercent     int
	verified           int
}

func (o *Orchestrator) runRollout(ctx context.Context, record *models.DeploymentRecord, cfg StrategyConfig, probe *ProbeConfig) {
	defer o.wg.Done()
	defer func() {
		o.mu.Lock()
		delete(o.rollouts, record.DeploymentID)
		o.mu.Unlock()
	}()

	log := o.logger.WithFields(logrus.Fields{
		"deployment_id": record.DeploymentID,
		"model_id":      record.ModelID,
		"version":       record.Version,
		"strategy":      record.Strategy,
	})

	record.Status = models.DeploymentInProgress
	if err := o.updateDeployment(ctx, record); err != nil {
		log.WithError(err).Error("Failed to mark deployment in progress")
	}

	// Immediate strategy cuts traffic before the first probe.
	if record.Strategy == models.StrategyImmediate {
		if err := o.registry.SetCurrentVersion(ctx, record.ModelID, record.Version); err != nil {
			o.finish(ctx, record, models.DeploymentFailed, log)
			return
		}
	}

	progress := &rolloutProgress{}
	if canary, ok := cfg.(CanaryConfig); ok {
		progress.trafficPercent = canary.InitialPercent
	}

	consecutiveFailures := 0
	ticker := time.NewTicker(probe.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Warn("Rollout cancelled")
			o.finish(ctx, record, models.DeploymentFailed, log)
			return
		case <-ticker.C:
		}

		result := o.probeOnce(ctx, record, probe)
		record.HealthChecks = append(record.HealthChecks, result)
		if err := o.updateDeployment(ctx, record); err != nil {
			log.WithError(err).Error("Failed to persist health check")
		}

		if result.Healthy {
			consecutiveFailures = 0
			progress.consecutiveHealthy++
			if done := o.advance(ctx, record, cfg, probe, progress, log); done {
				return
			}
			continue
		}

		progress.consecutiveHealthy = 0
		consecutiveFailures++
		log.WithFields(logrus.Fields{
			"consecutive_failures": consecutiveFailures,
			"failure_threshold":    probe.FailureThreshold,
			"message":              result.Message,
		}).Warn("Rollout health probe failed")

		if record.Strategy == models.StrategyImmediate || consecutiveFailures >= probe.FailureThreshold {
			o.handleSustainedFailure(ctx, record, log)
			return
		}
	}
}

// advance applies one healthy probe to the strategy state machine and
// reports whether the rollout reached a terminal state.
func (o *Orchestrator) advance(ctx context.Context, record *models.DeploymentRecord, cfg StrategyConfig, probe *ProbeConfig, progress *rolloutProgress, log *logrus.Entry) bool {
	switch c := cfg.(type) {
	case ImmediateConfig:
		// Traffic already cut; the first healthy probe completes the rollout.
		o.finish(ctx, record, models.DeploymentHealthy, log)
		return true

	case RollingConfig:
		if progress.consecutiveHealthy >= probe.SuccessThreshold {
			progress.replicasReplaced++
			progress.consecutiveHealthy = 0
			log.WithFields(logrus.Fields{
				"replicas_replaced": progress.replicasReplaced,
				"replicas":          c.Replicas,
			}).Info("Rolling deployment advanced")
		}
		if progress.replicasReplaced >= c.Replicas {
			return o.cutover(ctx, record, log)
		}

	case CanaryConfig:
		if progress.consecutiveHealthy >= c.StepsToExpand {
			progress.trafficPercent += c.StepPercent
			progress.consecutiveHealthy = 0
			log.WithField("traffic_percent", progress.trafficPercent).Info("Canary traffic expanded")
		}
		if progress.trafficPercent >= 100 {
			return o.cutover(ctx, record, log)
		}

	case BlueGreenConfig:
		progress.verified++
		if progress.verified >= c.VerificationProbes {
			// Green verified; atomic cutover.
			return o.cutover(ctx, record, log)
		}
	}
	return false
}

func (o *Orchestrator) cutover(ctx context.Context, record *models.DeploymentRecord, log *logrus.Entry) bool {
	if err := o.registry.SetCurrentVersion(ctx, record.ModelID, record.Version); err != nil {
		log.WithError(err).Error("Cutover failed")
		o.handleSustainedFailure(ctx, record, log)
		return true
	}
	o.finish(ctx, record, models.DeploymentHealthy, log)
	return true
}

func (o *Orchestrator) probeOnce(ctx context.Context, record *models.DeploymentRecord, probe *ProbeConfig) models.HealthCheckResult {
	probeCtx, cancel := context.WithTimeout(ctx, probe.Timeout)
	defer cancel()
	return o.prober.Probe(probeCtx, record.ModelID, record.Version, probe.Timeout)
}

// handleSustainedFailure applies the rollback policy after the failure
// threshold is exceeded.
func (o *Orchestrator) handleSustainedFailure(ctx context.Context, record *models.DeploymentRecord, log *logrus.Entry) {
	policy := record.RollbackPolicy

	if policy.Enabled && policy.AutoRollback && record.PreviousVersion != "" {
		for record.RollbackAttemptsUsed < policy.MaxRollbackAttempts {
			record.RollbackAttemptsUsed++
			err := o.registry.SetCurrentVersion(ctx, record.ModelID, record.PreviousVersion)
			if err == nil {
				log.WithFields(logrus.Fields{
					"previous_version":  record.PreviousVersion,
					"rollback_attempts": record.RollbackAttemptsUsed,
				}).Warn("Deployment rolled back to previous stable version")
				o.finish(ctx, record, models.DeploymentRolledBack, log)
				return
			}
			log.WithError(err).Error("Rollback attempt failed")
		}
		log.Error("Rollback attempts exhausted")
	}

	o.finish(ctx, record, models.DeploymentFailed, log)
}

func (o *Orchestrator) finish(_ context.Context, record *models.DeploymentRecord, status models.DeploymentStatus, log *logrus.Entry) {
	// The rollout context may already be cancelled; terminal state still
	// has to be persisted.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now()
	record.Status = status
	record.CompletedAt = &now
	if err := o.updateDeployment(ctx, record); err != nil {
		log.WithError(err).Error("Failed to persist terminal deployment state")
	}

	o.metrics.RecordDeployment(string(record.Strategy), string(status))

	entry := log.WithFields(logrus.Fields{
		"status":        status,
		"health_checks": len(record.HealthChecks),
	})
	if status == models.DeploymentFailed {
		// Terminal failures always carry the full probe history.
		entry.WithField("health_check_history", record.HealthChecks).
			Error("Deployment failed")
		return
	}
	entry.Info("Deployment finished")
}

func (o *Orchestrator) updateDeployment(ctx context.Context, record *models.DeploymentRecord) error {
	const maxRetries = 5
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := o.store.UpdateDeployment(ctx, record)
		if err == nil {
			return nil
		}
		if !errors.IsConflict(err) {
			return err
		}
		fresh, gerr := o.store.GetDeployment(ctx, record.DeploymentID)
		if gerr != nil {
			return gerr
		}
		record.Revision = fresh.Revision
	}
	return errors.NewConflictError("deployment", record.DeploymentID)
}
