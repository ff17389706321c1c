package models

import (
	"time"
)

// ModelType defines the kind of problem a model solves
type ModelType string

const (
	ModelTypeClassification ModelType = "classification"
	ModelTypeRegression     ModelType = "regression"
	ModelTypeClustering     ModelType = "clustering"
	ModelTypeTimeSeries     ModelType = "time_series"
	ModelTypeNLP            ModelType = "nlp"
)

// ModelStatus defines the training status of a model
type ModelStatus string

const (
	StatusTraining ModelStatus = "training"
	StatusReady    ModelStatus = "ready"
	StatusError    ModelStatus = "error"
	StatusArchived ModelStatus = "archived"
)

// Stage defines the lifecycle phase of a model version
type Stage string

const (
	StageDevelopment Stage = "development"
	StageStaging     Stage = "staging"
	StageProduction  Stage = "production"
	StageArchived    Stage = "archived"
)

// Model represents a registered machine learning model owned by a tenant
type Model struct {
	ID            string             `json:"id"`
	MemberID      string             `json:"member_id"`
	Name          string             `json:"name"`
	Slug          string             `json:"slug"`
	Type          ModelType          `json:"type"`
	Status        ModelStatus        `json:"status"`
	Configuration ModelConfiguration `json:"configuration"`
	Lifecycle     Lifecycle          `json:"lifecycle"`
	TrainingData  TrainingDataInfo   `json:"training_data"`
	FeedbackLog   []FeedbackSample   `json:"feedback_log,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	Revision      int64              `json:"revision"`
}

// ModelConfiguration contains the training configuration of a model
type ModelConfiguration struct {
	Features            []string                   `json:"features"`
	Target              string                     `json:"target,omitempty"`
	Parameters          map[string]interface{}     `json:"parameters,omitempty"`
	IncrementalLearning *IncrementalLearningConfig `json:"incremental_learning,omitempty"`
}

// IncrementalLearningConfig configures incremental model updates from feedback
type IncrementalLearningConfig struct {
	Enabled         bool    `json:"enabled"`
	UpdateFrequency int     `json:"update_frequency"`
	LearningRate    float64 `json:"learning_rate"`
	Epochs          int     `json:"epochs"`
}

// Lifecycle tracks which version of a model currently serves traffic
type Lifecycle struct {
	Stage          Stage  `json:"stage"`
	CurrentVersion string `json:"current_version,omitempty"`
}

// TrainingDataInfo describes the data a model was trained on
type TrainingDataInfo struct {
	Source      string    `json:"source"`
	RecordCount int64     `json:"record_count"`
	LastTrained time.Time `json:"last_trained"`
}

// FeedbackSample is one labeled sample appended to a model's feedback log
type FeedbackSample struct {
	Input          interface{} `json:"input"`
	ExpectedOutput interface{} `json:"expected_output"`
	ActualOutput   interface{} `json:"actual_output"`
	IsCorrect      bool        `json:"is_correct"`
	Timestamp      time.Time   `json:"timestamp"`
}

// ModelVersion is an immutable registered artifact of a model.
// Only the Stage field changes after creation.
type ModelVersion struct {
	ModelID     string             `json:"model_id"`
	Version     string             `json:"version"`
	Stage       Stage              `json:"stage"`
	ArtifactRef string             `json:"artifact_ref"`
	Metadata    VersionMetadata    `json:"metadata"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	SavedAt     time.Time          `json:"saved_at"`
	Revision    int64              `json:"revision"`
}

// VersionMetadata describes how a version was produced
type VersionMetadata struct {
	ModelType ModelType `json:"model_type"`
	DataSize  int64     `json:"data_size"`
	Epochs    int       `json:"epochs"`
}

// Prediction records one served inference request
type Prediction struct {
	ID             string              `json:"id"`
	ModelID        string              `json:"model_id"`
	Version        string              `json:"version"`
	Input          interface{}         `json:"input"`
	Output         interface{}         `json:"output"`
	Confidence     float64             `json:"confidence"`
	ProcessingTime time.Duration       `json:"processing_time"`
	Feedback       *PredictionFeedback `json:"feedback,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	Revision       int64               `json:"revision"`
}

// PredictionFeedback is ground truth attached to a prediction after the fact
type PredictionFeedback struct {
	ActualValue interface{} `json:"actual_value"`
	IsCorrect   bool        `json:"is_correct"`
	Comments    string      `json:"comments,omitempty"`
	ProvidedAt  time.Time   `json:"provided_at"`
	ProvidedBy  string      `json:"provided_by,omitempty"`
}

// ABTestStatus defines the state of an A/B test
type ABTestStatus string

const (
	ABTestRunning ABTestStatus = "running"
	ABTestStopped ABTestStatus = "stopped"
)

// ModelRef identifies one arm of an A/B test
type ModelRef struct {
	ModelID string `json:"model_id"`
	Version string `json:"version"`
}

// ABSample is one recorded outcome for an A/B test arm
type ABSample struct {
	Confidence float64            `json:"confidence"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

// ABTest is a controlled experiment routing traffic between two model versions
type ABTest struct {
	TestID       string       `json:"test_id"`
	ArmA         ModelRef     `json:"arm_a"`
	ArmB         ModelRef     `json:"arm_b"`
	TrafficSplit int          `json:"traffic_split"`
	MinSamples   int          `json:"min_samples"`
	Metric       string       `json:"metric,omitempty"`
	Status       ABTestStatus `json:"status"`
	SamplesA     []ABSample   `json:"samples_a,omitempty"`
	SamplesB     []ABSample   `json:"samples_b,omitempty"`
	Winner       string       `json:"winner,omitempty"`
	Confidence   float64      `json:"confidence,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	StoppedAt    *time.Time   `json:"stopped_at,omitempty"`
	Revision     int64        `json:"revision"`
}

// DriftMethod names the statistical method used for drift scoring
type DriftMethod string

const (
	DriftMethodPSI DriftMethod = "psi"
	DriftMethodKL  DriftMethod = "kl_divergence"
	DriftMethodKS  DriftMethod = "ks_test"
)

// DriftPolicy is the active drift-detection configuration for a model.
// Replaced wholesale on reconfiguration.
type DriftPolicy struct {
	ModelID    string                `json:"model_id"`
	Threshold  float64               `json:"threshold"`
	WindowSize int                   `json:"window_size"`
	Features   []string              `json:"features"`
	Method     DriftMethod           `json:"method"`
	Reference  ReferenceDistribution `json:"reference"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

// ReferenceDistribution holds per-feature baseline samples captured at
// training time for drift comparison.
type ReferenceDistribution struct {
	Features   map[string][]float64 `json:"features"`
	CapturedAt time.Time            `json:"captured_at"`
}

// DeploymentStrategy defines how traffic shifts to a new version
type DeploymentStrategy string

const (
	StrategyImmediate DeploymentStrategy = "immediate"
	StrategyRolling   DeploymentStrategy = "rolling"
	StrategyCanary    DeploymentStrategy = "canary"
	StrategyBlueGreen DeploymentStrategy = "blue_green"
)

// DeploymentStatus defines the state of a rollout
type DeploymentStatus string

const (
	DeploymentPending    DeploymentStatus = "pending"
	DeploymentInProgress DeploymentStatus = "in_progress"
	DeploymentHealthy    DeploymentStatus = "healthy"
	DeploymentRolledBack DeploymentStatus = "rolled_back"
	DeploymentFailed     DeploymentStatus = "failed"
)

// RollbackTrigger defines a metric condition that triggers rollback
type RollbackTrigger struct {
	Metric    string        `json:"metric"`
	Threshold float64       `json:"threshold"`
	Duration  time.Duration `json:"duration"`
}

// RollbackPolicy controls automatic rollback behavior during a rollout
type RollbackPolicy struct {
	Enabled             bool              `json:"enabled"`
	AutoRollback        bool              `json:"auto_rollback"`
	Triggers            []RollbackTrigger `json:"triggers,omitempty"`
	MaxRollbackAttempts int               `json:"max_rollback_attempts"`
}

// HealthCheckResult records one health probe outcome during a rollout
type HealthCheckResult struct {
	Probe     string        `json:"probe"`
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// DeploymentRecord tracks one rollout of a model version.
// Status transitions only move forward; rollback reverts the Model's
// lifecycle pointer, not this record.
type DeploymentRecord struct {
	DeploymentID         string              `json:"deployment_id"`
	ModelID              string              `json:"model_id"`
	Version              string              `json:"version"`
	Stage                Stage               `json:"stage"`
	Strategy             DeploymentStrategy  `json:"strategy"`
	Status               DeploymentStatus    `json:"status"`
	HealthChecks         []HealthCheckResult `json:"health_checks,omitempty"`
	RollbackPolicy       RollbackPolicy      `json:"rollback_policy"`
	RollbackAttemptsUsed int                 `json:"rollback_attempts_used"`
	PreviousVersion      string              `json:"previous_version,omitempty"`
	StartedAt            time.Time           `json:"started_at"`
	CompletedAt          *time.Time          `json:"completed_at,omitempty"`
	Revision             int64               `json:"revision"`
}

// ValidStageTransition reports whether a version may move from one stage
// to another. Archival is allowed from any stage.
func ValidStageTransition(from, to Stage) bool {
	if to == StageArchived {
		return true
	}
	switch from {
	case StageDevelopment:
		return to == StageStaging
	case StageStaging:
		return to == StageProduction
	default:
		return false
	}
}

// MetricDirection reports whether higher values of the named metric are
// better for the given model type.
func MetricDirection(modelType ModelType, metric string) bool {
	switch metric {
	case "mse", "rmse", "mae", "loss", "log_loss", "latency":
		return false
	}
	switch modelType {
	case ModelTypeRegression, ModelTypeTimeSeries:
		switch metric {
		case "r2_score", "accuracy", "confidence":
			return true
		}
		return false
	default:
		return true
	}
}
