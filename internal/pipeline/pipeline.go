package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/propstack/mlserve/internal/abtest"
	"github.com/propstack/mlserve/internal/registry"
	"github.com/propstack/mlserve/internal/security"
	"github.com/propstack/mlserve/pkg/errors"
	"github.com/propstack/mlserve/pkg/interfaces"
	"github.com/propstack/mlserve/pkg/models"
)

// requestState tracks a request through the serving state machine
type requestState string

const (
	stateReceived    requestState = "received"
	stateValidated   requestState = "validated"
	stateRouted      requestState = "routed"
	stateTransformed requestState = "transformed"
	stateInferred    requestState = "inferred"
	stateRecorded    requestState = "recorded"
	stateDone        requestState = "done"
	stateRejected    requestState = "rejected"
)

// Pipeline orchestrates a single prediction request: validation, routing,
// feature transform, inference, persistence and metrics. Rejections leave
// no persistent side effects beyond a rejection counter.
type Pipeline struct {
	logger      *logrus.Logger
	validator   *security.Validator
	registry    *registry.Registry
	router      *abtest.Router
	pool        *ModelPool
	store       interfaces.DocumentStore
	compute     interfaces.ComputeEngine
	transformer interfaces.FeatureTransformer
	metrics     interfaces.MetricsCollector
}

// Request is one prediction request
type Request struct {
	ModelID  string       `json:"model_id"`
	Input    interface{}  `json:"input"`
	Version  string       `json:"version,omitempty"`
	Stage    models.Stage `json:"stage,omitempty"`
	ABTestID string       `json:"ab_test_id,omitempty"`
}

// ResponseMetadata carries security context back to the caller
type ResponseMetadata struct {
	SecurityRiskScore    float64                     `json:"security_risk_score"`
	AdversarialDetection *security.AdversarialResult `json:"adversarial_detection"`
	SanitizationActions  []string                    `json:"sanitization_actions"`
}

// Response is the result of a served prediction
type Response struct {
	ID             string           `json:"id"`
	Data           interface{}      `json:"data"`
	Confidence     float64          `json:"confidence"`
	ModelVersion   string           `json:"model_version"`
	ProcessingTime time.Duration    `json:"processing_time"`
	Metadata       ResponseMetadata `json:"metadata"`
}

// BatchItem is one entry of a batch prediction result. Failed items carry
// the error; successful items carry the response.
type BatchItem struct {
	Index    int       `json:"index"`
	Response *Response `json:"response,omitempty"`
	Err      error     `json:"-"`
	Error    string    `json:"error,omitempty"`
}

// NewPipeline creates a prediction pipeline with explicit collaborators
func NewPipeline(
	validator *security.Validator,
	reg *registry.Registry,
	router *abtest.Router,
	pool *ModelPool,
	store interfaces.DocumentStore,
	compute interfaces.ComputeEngine,
	transformer interfaces.FeatureTransformer,
	metrics interfaces.MetricsCollector,
	logger *logrus.Logger,
) *Pipeline {
	if logger == nil {
		logger = logrus.New()
	}
	return &Pipeline{
		logger:      logger,
		validator:   validator,
		registry:    reg,
		router:      router,
		pool:        pool,
		store:       store,
		compute:     compute,
		transformer: transformer,
		metrics:     metrics,
	}
}

// Predict serves one prediction request through the full state machine
func (p *Pipeline) Predict(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	state := stateReceived

	if req == nil || req.ModelID == "" {
		return nil, errors.NewValidationError(errors.CodeMissingField, "model ID is required")
	}
	if req.Input == nil {
		return nil, errors.NewValidationError(errors.CodeMissingField, "input is required")
	}

	// Security validation. Rejected requests persist nothing.
	sanitization := p.validator.SanitizeInput(req.Input)
	if sanitization.RiskScore > p.validator.RejectThreshold() {
		p.reject(req, "security_risk", state)
		return nil, errors.NewSecurityRiskError(sanitization.RiskScore)
	}
	state = stateValidated

	adversarial := p.validator.DetectAdversarial(sanitization.Sanitized)
	if adversarial.IsAdversarial && adversarial.RiskLevel == security.RiskLevelHigh {
		p.reject(req, "adversarial_input", state)
		return nil, errors.NewAdversarialInputError(adversarial.Indicators)
	}

	// Model resolution, through the A/B router when the request names a test.
	model, err := p.registry.GetModel(ctx, req.ModelID)
	if err != nil {
		return nil, err
	}
	if model.Status != models.StatusReady {
		return nil, errors.NewInvalidStateError("model is not ready for serving").
			WithContext("model_id", model.ID).
			WithContext("status", string(model.Status))
	}

	var arm string
	var version *models.ModelVersion
	if req.ABTestID != "" {
		selected, test, rerr := p.router.RouteABTest(ctx, req.ABTestID)
		if rerr != nil {
			return nil, rerr
		}
		arm = selected
		ref := test.ArmA
		if arm == "B" {
			ref = test.ArmB
		}
		// An arm names its own (model, version) pair and may point at a
		// different model than the request did.
		if ref.ModelID != "" && ref.ModelID != model.ID {
			model, err = p.registry.GetModel(ctx, ref.ModelID)
			if err != nil {
				return nil, err
			}
			if model.Status != models.StatusReady {
				return nil, errors.NewInvalidStateError("model is not ready for serving").
					WithContext("model_id", model.ID).
					WithContext("status", string(model.Status))
			}
		}
		version, err = p.registry.ResolveVersion(ctx, model, ref.Version, "")
	} else {
		version, err = p.registry.ResolveVersion(ctx, model, req.Version, req.Stage)
	}
	if err != nil {
		return nil, err
	}
	state = stateRouted

	// Optional feature transform on the sanitized input.
	input := sanitization.Sanitized
	if p.transformer != nil {
		transformed, terr := p.transformer.Transform(ctx, model.ID, input)
		if terr != nil {
			return nil, errors.WrapError(terr, errors.ErrorTypeInternal, errors.CodeTransformFailed,
				"feature transform failed")
		}
		input = transformed
	}
	state = stateTransformed

	loaded, err := p.pool.Get(ctx, model.ID, version.Version, version.ArtifactRef)
	if err != nil {
		p.metrics.RecordPrediction(string(model.Type), "error", time.Since(start))
		return nil, err
	}

	inference, err := p.compute.Infer(ctx, loaded.Data, version.Version, input)
	if err != nil {
		p.metrics.RecordPrediction(string(model.Type), "error", time.Since(start))
		return nil, errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeInferenceFailed,
			"inference failed")
	}
	state = stateInferred

	prediction := &models.Prediction{
		ID:             uuid.NewString(),
		ModelID:        model.ID,
		Version:        version.Version,
		Input:          sanitization.Sanitized,
		Output:         inference.Output,
		Confidence:     inference.Confidence,
		ProcessingTime: time.Since(start),
		CreatedAt:      time.Now(),
	}
	if err := p.store.CreatePrediction(ctx, prediction); err != nil {
		p.metrics.RecordPrediction(string(model.Type), "error", time.Since(start))
		return nil, err
	}
	state = stateRecorded

	if req.ABTestID != "" {
		sample := models.ABSample{Confidence: inference.Confidence, Timestamp: time.Now()}
		if err := p.router.RecordABTestResult(ctx, req.ABTestID, arm, sample); err != nil {
			p.logger.WithError(err).WithFields(logrus.Fields{
				"test_id": req.ABTestID,
				"arm":     arm,
			}).Error("Failed to record A/B sample")
		} else {
			p.metrics.RecordABSample(req.ABTestID, arm)
		}
	}

	p.metrics.RecordPrediction(string(model.Type), "success", prediction.ProcessingTime)
	p.metrics.SetModelsLoaded(float64(p.pool.Len()))
	state = stateDone

	p.logger.WithFields(logrus.Fields{
		"prediction_id": prediction.ID,
		"model_id":      model.ID,
		"version":       version.Version,
		"state":         state,
		"duration":      prediction.ProcessingTime,
	}).Debug("Served prediction")

	return &Response{
		ID:             prediction.ID,
		Data:           inference.Output,
		Confidence:     inference.Confidence,
		ModelVersion:   version.Version,
		ProcessingTime: prediction.ProcessingTime,
		Metadata: ResponseMetadata{
			SecurityRiskScore:    sanitization.RiskScore,
			AdversarialDetection: adversarial,
			SanitizationActions:  sanitization.Actions,
		},
	}, nil
}

// BatchPredict serves a batch of requests sequentially, capturing per-item
// errors instead of failing the batch.
func (p *Pipeline) BatchPredict(ctx context.Context, reqs []*Request) []BatchItem {
	items := make([]BatchItem, len(reqs))
	for i, req := range reqs {
		resp, err := p.Predict(ctx, req)
		items[i] = BatchItem{Index: i, Response: resp, Err: err}
		if err != nil {
			items[i].Error = err.Error()
		}
	}
	return items
}

// StreamPredict serves requests from a channel and emits results until the
// input channel closes or the context is cancelled.
func (p *Pipeline) StreamPredict(ctx context.Context, reqs <-chan *Request) <-chan BatchItem {
	out := make(chan BatchItem)
	go func() {
		defer close(out)
		index := 0
		for {
			select {
			case <-ctx.Done():
				return
			case req, ok := <-reqs:
				if !ok {
					return
				}
				resp, err := p.Predict(ctx, req)
				item := BatchItem{Index: index, Response: resp, Err: err}
				if err != nil {
					item.Error = err.Error()
				}
				select {
				case out <- item:
				case <-ctx.Done():
					return
				}
				index++
			}
		}
	}()
	return out
}

func (p *Pipeline) reject(req *Request, reason string, state requestState) {
	p.metrics.RecordRejection(req.ModelID, reason)
	p.logger.WithFields(logrus.Fields{
		"model_id": req.ModelID,
		"reason":   reason,
		"state":    state,
	}).Warn("Rejected prediction request")
}
