package interfaces

import (
	"context"
	"time"
)

// InferenceResult is the output of a single inference call
type InferenceResult struct {
	Output     interface{} `json:"output"`
	Confidence float64     `json:"confidence"`
}

// ComputeEngine is the tensor computation collaborator. The orchestrator
// never trains models itself; training requests go through the JobQueue.
type ComputeEngine interface {
	Infer(ctx context.Context, artifact []byte, version string, input interface{}) (*InferenceResult, error)
	Evaluate(ctx context.Context, artifact []byte, testSet interface{}) (map[string]float64, error)
	Ping(ctx context.Context) error
}

// JobQueue hands long-running work to a durable external queue.
// Enqueue is fire-and-forget; job status is polled separately.
type JobQueue interface {
	Enqueue(ctx context.Context, jobType string, payload interface{}) error
	Ping(ctx context.Context) error
}

// Job types enqueued by the orchestrator
const (
	JobTypeFullRetrain       = "full_retrain"
	JobTypeIncrementalUpdate = "incremental_update"
)

// Authorizer checks tenant permissions before destructive operations
type Authorizer interface {
	HasPermission(ctx context.Context, userID, memberID, permission string) (bool, error)
}

// Permissions consulted by the orchestrator
const (
	PermissionDeleteModel = "model:delete"
	PermissionDeploy      = "model:deploy"
)

// MetricsCollector emits counters and histograms labeled by model type
// and outcome
type MetricsCollector interface {
	RecordPrediction(modelType, outcome string, duration time.Duration)
	RecordRejection(modelID, reason string)
	RecordDeployment(strategy, status string)
	RecordFeedback(modelType string)
	RecordABSample(testID, arm string)
	SetModelsLoaded(count float64)
	SetDriftScore(modelID string, score float64)
}

// FeatureTransformer applies a registered feature pipeline to sanitized
// input before inference. Implementations return the input unchanged when
// no pipeline is registered for the model.
type FeatureTransformer interface {
	Transform(ctx context.Context, modelID string, input interface{}) (interface{}, error)
}
