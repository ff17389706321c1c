package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/propstack/mlserve/internal/abtest"
	"github.com/propstack/mlserve/internal/deployment"
	"github.com/propstack/mlserve/internal/feedback"
	"github.com/propstack/mlserve/internal/monitoring"
	"github.com/propstack/mlserve/internal/pipeline"
	"github.com/propstack/mlserve/internal/registry"
	"github.com/propstack/mlserve/pkg/errors"
	"github.com/propstack/mlserve/pkg/models"
)

// Handlers contains all HTTP handlers for the serving API
type Handlers struct {
	logger       *logrus.Logger
	registry     *registry.Registry
	pipeline     *pipeline.Pipeline
	abRouter     *abtest.Router
	feedback     *feedback.Service
	orchestrator *deployment.Orchestrator
	drift        *monitoring.DriftDetector
	health       *monitoring.HealthMonitor
	version      string
	startTime    time.Time
}

// NewHandlers creates a new handlers instance
func NewHandlers(
	reg *registry.Registry,
	pl *pipeline.Pipeline,
	abRouter *abtest.Router,
	fb *feedback.Service,
	orchestrator *deployment.Orchestrator,
	drift *monitoring.DriftDetector,
	health *monitoring.HealthMonitor,
	version string,
	logger *logrus.Logger,
) *Handlers {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handlers{
		logger:       logger,
		registry:     reg,
		pipeline:     pl,
		abRouter:     abRouter,
		feedback:     fb,
		orchestrator: orchestrator,
		drift:        drift,
		health:       health,
		version:      version,
		startTime:    time.Now(),
	}
}

// writeJSON writes a JSON response with the given status
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			h.logger.WithError(err).Error("Failed to encode response")
		}
	}
}

// writeError maps application errors onto HTTP responses
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := map[string]interface{}{
		"error": map[string]interface{}{
			"code":    errors.CodeInternalError,
			"message": err.Error(),
		},
	}

	if appErr, ok := err.(*errors.AppError); ok {
		status = appErr.HTTPStatus
		body["error"] = appErr
	}

	h.writeJSON(w, status, body)
}

// decodeBody decodes a JSON request body
func (h *Handlers) decodeBody(r *http.Request, out interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return errors.NewValidationError(errors.CodeInvalidFormat, "invalid JSON body").WithCause(err)
	}
	return nil
}

// Model registry handlers

// CreateModel handles POST /api/v1/models
func (h *Handlers) CreateModel(w http.ResponseWriter, r *http.Request) {
	var model models.Model
	if err := h.decodeBody(r, &model); err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.registry.CreateModel(r.Context(), &model); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, model)
}

// GetModel handles GET /api/v1/models/{id}
func (h *Handlers) GetModel(w http.ResponseWriter, r *http.Request) {
	model, err := h.registry.GetModel(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, model)
}

// ListModels handles GET /api/v1/models
func (h *Handlers) ListModels(w http.ResponseWriter, r *http.Request) {
	list, err := h.registry.ListModels(r.Context(), r.URL.Query().Get("member_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"models": list,
		"count":  len(list),
	})
}

// DeleteModel handles DELETE /api/v1/models/{id}
func (h *Handlers) DeleteModel(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if err := h.registry.DeleteModel(r.Context(), userID, mux.Vars(r)["id"]); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusNoContent, nil)
}

// RegisterVersion handles POST /api/v1/models/{id}/versions
func (h *Handlers) RegisterVersion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Version     string                 `json:"version"`
		ArtifactRef string                 `json:"artifact_ref"`
		Metadata    models.VersionMetadata `json:"metadata"`
	}
	if err := h.decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	mv, err := h.registry.RegisterVersion(r.Context(), mux.Vars(r)["id"], req.Version, req.ArtifactRef, req.Metadata)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, mv)
}

// ListVersions handles GET /api/v1/models/{id}/versions
func (h *Handlers) ListVersions(w http.ResponseWriter, r *http.Request) {
	modelID := mux.Vars(r)["id"]
	model, err := h.registry.GetModel(r.Context(), modelID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if metric := r.URL.Query().Get("best"); metric != "" {
		best, err := h.registry.GetBestVersion(r.Context(), modelID, metric)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, best)
		return
	}

	versions, err := h.registry.ListVersions(r.Context(), modelID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"model_id":        model.ID,
		"current_version": model.Lifecycle.CurrentVersion,
		"versions":        versions,
		"count":           len(versions),
	})
}

// PromoteModel handles POST /api/v1/models/{id}/versions/{version}/promote
func (h *Handlers) PromoteModel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Stage models.Stage `json:"stage"`
	}
	if err := h.decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	vars := mux.Vars(r)
	if err := h.registry.PromoteModel(r.Context(), vars["id"], vars["version"], req.Stage); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"model_id": vars["id"],
		"version":  vars["version"],
		"stage":    req.Stage,
	})
}

// RecordVersionMetrics handles POST /api/v1/models/{id}/versions/{version}/metrics
func (h *Handlers) RecordVersionMetrics(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Metrics map[string]float64 `json:"metrics"`
	}
	if err := h.decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	vars := mux.Vars(r)
	if err := h.registry.RecordVersionMetrics(r.Context(), vars["id"], vars["version"], req.Metrics); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

// ArchiveOldVersions handles POST /api/v1/models/{id}/versions/archive
func (h *Handlers) ArchiveOldVersions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		KeepCount int `json:"keep_count"`
	}
	if err := h.decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	archived, err := h.registry.ArchiveOldVersions(r.Context(), mux.Vars(r)["id"], req.KeepCount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"archived": archived})
}

// Prediction handlers

// Predict handles POST /api/v1/predict
func (h *Handlers) Predict(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	if err := h.decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	resp, err := h.pipeline.Predict(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// BatchPredict handles POST /api/v1/predict/batch
func (h *Handlers) BatchPredict(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Requests []*pipeline.Request `json:"requests"`
	}
	if err := h.decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if len(req.Requests) == 0 {
		h.writeError(w, errors.NewValidationError(errors.CodeMissingField, "batch requires at least one request"))
		return
	}

	items := h.pipeline.BatchPredict(r.Context(), req.Requests)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": items,
		"count":   len(items),
	})
}

// Feedback handlers

// SubmitFeedback handles POST /api/v1/predictions/{id}/feedback
func (h *Handlers) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Feedback           models.PredictionFeedback `json:"feedback"`
		TriggerIncremental *bool                     `json:"trigger_incremental"`
	}
	if err := h.decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	// Incremental learning is on unless the caller opts out.
	trigger := req.TriggerIncremental == nil || *req.TriggerIncremental

	if err := h.feedback.SubmitFeedback(r.Context(), mux.Vars(r)["id"], req.Feedback, trigger); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// TriggerRetrain handles POST /api/v1/models/{id}/retrain
func (h *Handlers) TriggerRetrain(w http.ResponseWriter, r *http.Request) {
	if err := h.feedback.TriggerFullRetrain(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "enqueued"})
}

// A/B test handlers

// StartABTest handles POST /api/v1/abtests
func (h *Handlers) StartABTest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TestID       string          `json:"test_id"`
		ArmA         models.ModelRef `json:"arm_a"`
		ArmB         models.ModelRef `json:"arm_b"`
		TrafficSplit int             `json:"traffic_split"`
		MinSamples   int             `json:"min_samples"`
	}
	if err := h.decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	test, err := h.abRouter.StartABTest(r.Context(), req.TestID, req.ArmA, req.ArmB, req.TrafficSplit, req.MinSamples)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, test)
}

// GetABTestResults handles GET /api/v1/abtests/{id}/results
func (h *Handlers) GetABTestResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.abRouter.GetABTestResults(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, results)
}

// StopABTest handles POST /api/v1/abtests/{id}/stop
func (h *Handlers) StopABTest(w http.ResponseWriter, r *http.Request) {
	results, err := h.abRouter.StopABTest(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, results)
}

// Deployment handlers

type deployRequest struct {
	ModelID        string                    `json:"model_id"`
	Version        string                    `json:"version"`
	Stage          models.Stage              `json:"stage"`
	Strategy       models.DeploymentStrategy `json:"strategy"`
	Config         json.RawMessage           `json:"config,omitempty"`
	Probe          *deployment.ProbeConfig   `json:"probe,omitempty"`
	RollbackPolicy models.RollbackPolicy     `json:"rollback_policy"`
}

// decodeStrategyConfig builds the typed strategy config from the raw
// request payload, falling back to strategy defaults when absent.
func decodeStrategyConfig(strategy models.DeploymentStrategy, raw json.RawMessage) (deployment.StrategyConfig, error) {
	if len(raw) == 0 {
		return deployment.ConfigForStrategy(strategy)
	}

	switch strategy {
	case models.StrategyImmediate:
		return deployment.ImmediateConfig{}, nil
	case models.StrategyRolling:
		var cfg deployment.RollingConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, errors.NewValidationError(errors.CodeInvalidFormat, "invalid rolling config").WithCause(err)
		}
		return cfg, nil
	case models.StrategyCanary:
		var cfg deployment.CanaryConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, errors.NewValidationError(errors.CodeInvalidFormat, "invalid canary config").WithCause(err)
		}
		return cfg, nil
	case models.StrategyBlueGreen:
		var cfg deployment.BlueGreenConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, errors.NewValidationError(errors.CodeInvalidFormat, "invalid blue/green config").WithCause(err)
		}
		return cfg, nil
	default:
		return nil, errors.NewValidationError(errors.CodeInvalidStrategy, "unknown deployment strategy")
	}
}

// DeployModel handles POST /api/v1/deployments
func (h *Handlers) DeployModel(w http.ResponseWriter, r *http.Request) {
	var req deployRequest
	if err := h.decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	cfg, err := decodeStrategyConfig(req.Strategy, req.Config)
	if err != nil {
		h.writeError(w, err)
		return
	}

	record, err := h.orchestrator.DeployModel(r.Context(), req.ModelID, req.Version, req.Stage, cfg, req.Probe, req.RollbackPolicy)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, record)
}

// GetDeployment handles GET /api/v1/deployments/{id}
func (h *Handlers) GetDeployment(w http.ResponseWriter, r *http.Request) {
	record, err := h.orchestrator.GetDeployment(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, record)
}

// CancelDeployment handles POST /api/v1/deployments/{id}/cancel
func (h *Handlers) CancelDeployment(w http.ResponseWriter, r *http.Request) {
	h.orchestrator.CancelRollout(mux.Vars(r)["id"])
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// RollbackModel handles POST /api/v1/models/{id}/rollback
func (h *Handlers) RollbackModel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TargetVersion string `json:"target_version"`
	}
	if err := h.decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.orchestrator.RollbackModel(r.Context(), mux.Vars(r)["id"], req.TargetVersion); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "rolled_back",
		"version": req.TargetVersion,
	})
}

// Monitoring handlers

// ConfigureDrift handles PUT /api/v1/models/{id}/drift-policy
func (h *Handlers) ConfigureDrift(w http.ResponseWriter, r *http.Request) {
	var policy models.DriftPolicy
	if err := h.decodeBody(r, &policy); err != nil {
		h.writeError(w, err)
		return
	}
	policy.ModelID = mux.Vars(r)["id"]

	if err := h.drift.ConfigureDriftDetection(r.Context(), &policy); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, policy)
}

// DetectDrift handles GET /api/v1/models/{id}/drift
func (h *Handlers) DetectDrift(w http.ResponseWriter, r *http.Request) {
	result, err := h.drift.DetectModelDrift(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// GetModelHealth handles GET /api/v1/models/{id}/health
func (h *Handlers) GetModelHealth(w http.ResponseWriter, r *http.Request) {
	health, err := h.health.GetModelHealth(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, health)
}

// Service handlers

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := h.health.GetHealthStatus(r.Context())

	status := http.StatusOK
	if health.Status == monitoring.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, health)
}

// Ready handles GET /health/ready
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	health := h.health.GetHealthStatus(r.Context())
	ready := health.Status != monitoring.StatusUnhealthy

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, map[string]interface{}{
		"ready":     ready,
		"timestamp": time.Now().UTC(),
	})
}

// Live handles GET /health/live
func (h *Handlers) Live(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"alive":     true,
		"timestamp": time.Now().UTC(),
	})
}

// Version handles GET /version
func (h *Handlers) Version(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"version": h.version,
		"uptime":  time.Since(h.startTime).String(),
	})
}

// NotFound handles unmatched routes
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusNotFound, map[string]interface{}{
		"error": map[string]string{
			"code":    errors.CodeNotFound,
			"message": "route not found",
		},
	})
}
