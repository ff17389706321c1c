package interfaces

import (
	"context"

	"github.com/propstack/mlserve/pkg/models"
)

// DocumentStore provides persistence for orchestrator entities.
//
// Update operations are conditional: they compare the entity's Revision
// against the stored revision and fail with a conflict error when another
// writer got there first. Callers retry with a fresh read.
type DocumentStore interface {
	// Models
	CreateModel(ctx context.Context, model *models.Model) error
	GetModel(ctx context.Context, id string) (*models.Model, error)
	GetModelBySlug(ctx context.Context, memberID, slug string) (*models.Model, error)
	ListModels(ctx context.Context, memberID string) ([]*models.Model, error)
	UpdateModel(ctx context.Context, model *models.Model) error
	// DeleteModel removes the model and cascades to its predictions.
	DeleteModel(ctx context.Context, id string) error

	// Versions
	CreateVersion(ctx context.Context, version *models.ModelVersion) error
	GetVersion(ctx context.Context, modelID, version string) (*models.ModelVersion, error)
	ListVersions(ctx context.Context, modelID string) ([]*models.ModelVersion, error)
	UpdateVersion(ctx context.Context, version *models.ModelVersion) error

	// Predictions
	CreatePrediction(ctx context.Context, prediction *models.Prediction) error
	GetPrediction(ctx context.Context, id string) (*models.Prediction, error)
	UpdatePrediction(ctx context.Context, prediction *models.Prediction) error
	// ListPredictions returns the most recent predictions for a model,
	// newest first, at most limit entries.
	ListPredictions(ctx context.Context, modelID string, limit int) ([]*models.Prediction, error)

	// A/B tests
	CreateABTest(ctx context.Context, test *models.ABTest) error
	GetABTest(ctx context.Context, testID string) (*models.ABTest, error)
	UpdateABTest(ctx context.Context, test *models.ABTest) error
	// AppendABSample durably appends a sample to one arm. Concurrent
	// appends must all be counted.
	AppendABSample(ctx context.Context, testID, arm string, sample models.ABSample) error

	// Drift policies
	PutDriftPolicy(ctx context.Context, policy *models.DriftPolicy) error
	GetDriftPolicy(ctx context.Context, modelID string) (*models.DriftPolicy, error)

	// Deployments
	CreateDeployment(ctx context.Context, record *models.DeploymentRecord) error
	GetDeployment(ctx context.Context, deploymentID string) (*models.DeploymentRecord, error)
	UpdateDeployment(ctx context.Context, record *models.DeploymentRecord) error
	ListDeployments(ctx context.Context, modelID string) ([]*models.DeploymentRecord, error)

	// Ping verifies connectivity to the backing store.
	Ping(ctx context.Context) error

	// Close releases store resources.
	Close() error
}
