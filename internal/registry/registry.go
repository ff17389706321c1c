package registry

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/propstack/mlserve/pkg/errors"
	"github.com/propstack/mlserve/pkg/interfaces"
	"github.com/propstack/mlserve/pkg/models"
)

// Registry manages model and version lifecycle state. All mutable state
// lives in the document store; updates use conditional writes and retry
// on conflict so concurrent traffic never loses an update.
type Registry struct {
	logger *logrus.Logger
	config *Config
	store  interfaces.DocumentStore
	authz  interfaces.Authorizer
}

// Config configures the model registry
type Config struct {
	MaxConflictRetries int `json:"max_conflict_retries"`
	DefaultKeepCount   int `json:"default_keep_count"`
}

// NewRegistry creates a new model registry
func NewRegistry(config *Config, store interfaces.DocumentStore, authz interfaces.Authorizer, logger *logrus.Logger) *Registry {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		logger: logger,
		config: config,
		store:  store,
		authz:  authz,
	}
}

// DefaultConfig returns the default registry configuration
func DefaultConfig() *Config {
	return &Config{
		MaxConflictRetries: 5,
		DefaultKeepCount:   5,
	}
}

// CreateModel registers a new model for a tenant
func (r *Registry) CreateModel(ctx context.Context, model *models.Model) error {
	if model.Name == "" {
		return errors.NewValidationError(errors.CodeMissingField, "model name is required")
	}
	if model.Slug == "" {
		return errors.NewValidationError(errors.CodeMissingField, "model slug is required")
	}
	switch model.Type {
	case models.ModelTypeClassification, models.ModelTypeRegression, models.ModelTypeClustering,
		models.ModelTypeTimeSeries, models.ModelTypeNLP:
	default:
		return errors.NewValidationError(errors.CodeInvalidInput, "unknown model type")
	}

	if model.ID == "" {
		model.ID = uuid.NewString()
	}
	model.Status = models.StatusTraining
	model.Lifecycle = models.Lifecycle{Stage: models.StageDevelopment}
	model.CreatedAt = time.Now()
	model.UpdatedAt = model.CreatedAt

	if err := r.store.CreateModel(ctx, model); err != nil {
		return err
	}

	r.logger.WithFields(logrus.Fields{
		"model_id":  model.ID,
		"member_id": model.MemberID,
		"slug":      model.Slug,
		"type":      model.Type,
	}).Info("Registered new model")

	return nil
}

// GetModel returns a model by ID
func (r *Registry) GetModel(ctx context.Context, modelID string) (*models.Model, error) {
	return r.store.GetModel(ctx, modelID)
}

// ListModels returns all models owned by a tenant
func (r *Registry) ListModels(ctx context.Context, memberID string) ([]*models.Model, error) {
	return r.store.ListModels(ctx, memberID)
}

// ListVersions returns all registered versions of a model
func (r *Registry) ListVersions(ctx context.Context, modelID string) ([]*models.ModelVersion, error) {
	if _, err := r.store.GetModel(ctx, modelID); err != nil {
		return nil, err
	}
	return r.store.ListVersions(ctx, modelID)
}

// DeleteModel removes a model and cascades to its predictions. The caller
// must hold the delete permission for the owning tenant.
func (r *Registry) DeleteModel(ctx context.Context, userID, modelID string) error {
	model, err := r.store.GetModel(ctx, modelID)
	if err != nil {
		return err
	}

	allowed, err := r.authz.HasPermission(ctx, userID, model.MemberID, interfaces.PermissionDeleteModel)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeAuth, errors.CodeForbidden, "permission check failed")
	}
	if !allowed {
		return errors.NewAuthError(errors.CodeForbidden, "not permitted to delete this model")
	}

	if err := r.store.DeleteModel(ctx, modelID); err != nil {
		return err
	}

	r.logger.WithFields(logrus.Fields{
		"model_id": modelID,
		"user_id":  userID,
	}).Info("Deleted model and cascaded predictions")

	return nil
}

// RegisterVersion creates an immutable version record at stage development.
// Fails with a duplicate-version error when (modelID, version) exists.
func (r *Registry) RegisterVersion(ctx context.Context, modelID, version, artifactRef string, metadata models.VersionMetadata) (*models.ModelVersion, error) {
	if version == "" {
		return nil, errors.NewValidationError(errors.CodeMissingField, "version is required")
	}
	if artifactRef == "" {
		return nil, errors.NewValidationError(errors.CodeMissingField, "artifact reference is required")
	}

	if _, err := r.store.GetModel(ctx, modelID); err != nil {
		return nil, err
	}

	if existing, err := r.store.GetVersion(ctx, modelID, version); err == nil && existing != nil {
		return nil, errors.NewDuplicateVersionError(modelID, version)
	}

	mv := &models.ModelVersion{
		ModelID:     modelID,
		Version:     version,
		Stage:       models.StageDevelopment,
		ArtifactRef: artifactRef,
		Metadata:    metadata,
		SavedAt:     time.Now(),
	}

	if err := r.store.CreateVersion(ctx, mv); err != nil {
		if errors.IsConflict(err) {
			return nil, errors.NewDuplicateVersionError(modelID, version)
		}
		return nil, err
	}

	r.logger.WithFields(logrus.Fields{
		"model_id": modelID,
		"version":  version,
	}).Info("Registered model version")

	return mv, nil
}

// PromoteModel moves a version to the requested stage. Promotion to
// production atomically updates the model's lifecycle pointer as well.
func (r *Registry) PromoteModel(ctx context.Context, modelID, version string, toStage models.Stage) error {
	mv, err := r.store.GetVersion(ctx, modelID, version)
	if err != nil {
		return err
	}

	if !models.ValidStageTransition(mv.Stage, toStage) {
		return errors.NewInvalidStateError("stage transition not allowed").
			WithContext("from", string(mv.Stage)).
			WithContext("to", string(toStage))
	}

	mv.Stage = toStage
	if err := r.updateVersionWithRetry(ctx, mv); err != nil {
		return err
	}

	if toStage == models.StageProduction {
		err := r.withModelRetry(ctx, modelID, func(model *models.Model) error {
			model.Lifecycle.Stage = models.StageProduction
			model.Lifecycle.CurrentVersion = version
			model.Status = models.StatusReady
			model.UpdatedAt = time.Now()
			return nil
		})
		if err != nil {
			return err
		}
	}

	r.logger.WithFields(logrus.Fields{
		"model_id": modelID,
		"version":  version,
		"stage":    toStage,
	}).Info("Promoted model version")

	return nil
}

// GetBestVersion returns the non-archived version with the best stored
// aggregate for the named metric. Direction depends on the model type;
// ties break toward the most recently saved version.
func (r *Registry) GetBestVersion(ctx context.Context, modelID, metric string) (*models.ModelVersion, error) {
	model, err := r.store.GetModel(ctx, modelID)
	if err != nil {
		return nil, err
	}

	versions, err := r.store.ListVersions(ctx, modelID)
	if err != nil {
		return nil, err
	}

	higherIsBetter := models.MetricDirection(model.Type, metric)

	var best *models.ModelVersion
	for _, v := range versions {
		if v.Stage == models.StageArchived {
			continue
		}
		value, ok := v.Metrics[metric]
		if !ok {
			continue
		}
		if best == nil {
			best = v
			continue
		}
		bestValue := best.Metrics[metric]
		switch {
		case higherIsBetter && value > bestValue,
			!higherIsBetter && value < bestValue:
			best = v
		case value == bestValue && v.SavedAt.After(best.SavedAt):
			best = v
		}
	}

	if best == nil {
		return nil, errors.NewNotFoundError("version with metric "+metric, modelID)
	}
	return best, nil
}

// RecordVersionMetrics merges evaluated metrics into a version's stored
// aggregates. Used by the pipeline and evaluation jobs.
func (r *Registry) RecordVersionMetrics(ctx context.Context, modelID, version string, metrics map[string]float64) error {
	for attempt := 0; attempt <= r.config.MaxConflictRetries; attempt++ {
		mv, err := r.store.GetVersion(ctx, modelID, version)
		if err != nil {
			return err
		}
		if mv.Metrics == nil {
			mv.Metrics = make(map[string]float64, len(metrics))
		}
		for k, v := range metrics {
			mv.Metrics[k] = v
		}
		err = r.store.UpdateVersion(ctx, mv)
		if err == nil {
			return nil
		}
		if !errors.IsConflict(err) {
			return err
		}
	}
	return errors.NewConflictError("model_version", modelID+":"+version)
}

// ArchiveOldVersions archives all non-archived versions beyond keepCount,
// ordered newest first by SavedAt. The version referenced by the model's
// lifecycle pointer is never archived. Returns the number archived.
func (r *Registry) ArchiveOldVersions(ctx context.Context, modelID string, keepCount int) (int, error) {
	if keepCount <= 0 {
		keepCount = r.config.DefaultKeepCount
	}

	model, err := r.store.GetModel(ctx, modelID)
	if err != nil {
		return 0, err
	}

	versions, err := r.store.ListVersions(ctx, modelID)
	if err != nil {
		return 0, err
	}

	live := make([]*models.ModelVersion, 0, len(versions))
	for _, v := range versions {
		if v.Stage != models.StageArchived {
			live = append(live, v)
		}
	}
	sort.Slice(live, func(i, j int) bool {
		return live[i].SavedAt.After(live[j].SavedAt)
	})

	archived := 0
	for i, v := range live {
		if i < keepCount {
			continue
		}
		if v.Version == model.Lifecycle.CurrentVersion {
			continue
		}
		v.Stage = models.StageArchived
		if err := r.updateVersionWithRetry(ctx, v); err != nil {
			return archived, err
		}
		archived++
	}

	r.logger.WithFields(logrus.Fields{
		"model_id":   modelID,
		"keep_count": keepCount,
		"archived":   archived,
	}).Info("Archived old model versions")

	return archived, nil
}

// ResolveVersion resolves the effective version for a prediction request:
// explicit version, else latest matching the requested stage, else the
// model's current lifecycle version.
func (r *Registry) ResolveVersion(ctx context.Context, model *models.Model, explicit string, stage models.Stage) (*models.ModelVersion, error) {
	if explicit != "" {
		return r.store.GetVersion(ctx, model.ID, explicit)
	}

	if stage != "" {
		versions, err := r.store.ListVersions(ctx, model.ID)
		if err != nil {
			return nil, err
		}
		var latest *models.ModelVersion
		for _, v := range versions {
			if v.Stage != stage {
				continue
			}
			if latest == nil || v.SavedAt.After(latest.SavedAt) {
				latest = v
			}
		}
		if latest != nil {
			return latest, nil
		}
	}

	if model.Lifecycle.CurrentVersion == "" {
		return nil, errors.NewNotFoundError("serving version", model.ID)
	}
	return r.store.GetVersion(ctx, model.ID, model.Lifecycle.CurrentVersion)
}

// SetCurrentVersion points the model's lifecycle at the given version.
// Used by the deployment orchestrator for cutover and rollback.
func (r *Registry) SetCurrentVersion(ctx context.Context, modelID, version string) error {
	if _, err := r.store.GetVersion(ctx, modelID, version); err != nil {
		return err
	}
	return r.withModelRetry(ctx, modelID, func(model *models.Model) error {
		model.Lifecycle.CurrentVersion = version
		model.Status = models.StatusReady
		model.UpdatedAt = time.Now()
		return nil
	})
}

// AppendFeedback appends a feedback sample to the model's feedback log
func (r *Registry) AppendFeedback(ctx context.Context, modelID string, sample models.FeedbackSample) error {
	return r.withModelRetry(ctx, modelID, func(model *models.Model) error {
		model.FeedbackLog = append(model.FeedbackLog, sample)
		model.UpdatedAt = time.Now()
		return nil
	})
}

// withModelRetry applies a mutation to the model under conditional update,
// retrying on conflict with a fresh read.
func (r *Registry) withModelRetry(ctx context.Context, modelID string, mutate func(*models.Model) error) error {
	for attempt := 0; attempt <= r.config.MaxConflictRetries; attempt++ {
		model, err := r.store.GetModel(ctx, modelID)
		if err != nil {
			return err
		}
		if err := mutate(model); err != nil {
			return err
		}
		err = r.store.UpdateModel(ctx, model)
		if err == nil {
			return nil
		}
		if !errors.IsConflict(err) {
			return err
		}
	}
	return errors.NewConflictError("model", modelID)
}

func (r *Registry) updateVersionWithRetry(ctx context.Context, mv *models.ModelVersion) error {
	for attempt := 0; attempt <= r.config.MaxConflictRetries; attempt++ {
		err := r.store.UpdateVersion(ctx, mv)
		if err == nil {
			return nil
		}
		if !errors.IsConflict(err) {
			return err
		}
		fresh, gerr := r.store.GetVersion(ctx, mv.ModelID, mv.Version)
		if gerr != nil {
			return gerr
		}
		fresh.Stage = mv.Stage
		if mv.Metrics != nil {
			fresh.Metrics = mv.Metrics
		}
		mv = fresh
	}
	return errors.NewConflictError("model_version", mv.ModelID+":"+mv.Version)
}
