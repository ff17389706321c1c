package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/propstack/mlserve/pkg/errors"
	"github.com/propstack/mlserve/pkg/models"
)

// Store is an in-memory DocumentStore used by tests and single-node
// deployments. Conditional updates compare entity revisions, matching
// the semantics of the distributed backends.
type Store struct {
	mu          sync.RWMutex
	models      map[string]*models.Model
	versions    map[string]*models.ModelVersion // modelID:version
	predictions map[string]*models.Prediction
	abTests     map[string]*models.ABTest
	policies    map[string]*models.DriftPolicy
	deployments map[string]*models.DeploymentRecord
	// insertion order for prediction recency, per model
	predictionOrder map[string][]string
}

// NewStore creates an empty in-memory store
func NewStore() *Store {
	return &Store{
		models:          make(map[string]*models.Model),
		versions:        make(map[string]*models.ModelVersion),
		predictions:     make(map[string]*models.Prediction),
		abTests:         make(map[string]*models.ABTest),
		policies:        make(map[string]*models.DriftPolicy),
		deployments:     make(map[string]*models.DeploymentRecord),
		predictionOrder: make(map[string][]string),
	}
}

func versionKey(modelID, version string) string {
	return modelID + ":" + version
}

// clone deep-copies an entity through JSON so callers never share memory
// with the store.
func clone(src, dst interface{}) {
	data, _ := json.Marshal(src)
	_ = json.Unmarshal(data, dst)
}

// CreateModel implements DocumentStore
func (s *Store) CreateModel(ctx context.Context, model *models.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.models[model.ID]; exists {
		return errors.NewConflictError("model", model.ID)
	}
	for _, m := range s.models {
		if m.MemberID == model.MemberID && m.Slug == model.Slug {
			return errors.NewConflictError("model", model.Slug)
		}
	}

	model.Revision = 1
	stored := &models.Model{}
	clone(model, stored)
	s.models[model.ID] = stored
	return nil
}

// GetModel implements DocumentStore
func (s *Store) GetModel(ctx context.Context, id string) (*models.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.models[id]
	if !ok {
		return nil, errors.NewNotFoundError("model", id)
	}
	out := &models.Model{}
	clone(stored, out)
	return out, nil
}

// GetModelBySlug implements DocumentStore
func (s *Store) GetModelBySlug(ctx context.Context, memberID, slug string) (*models.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.models {
		if m.MemberID == memberID && m.Slug == slug {
			out := &models.Model{}
			clone(m, out)
			return out, nil
		}
	}
	return nil, errors.NewNotFoundError("model", slug)
}

// ListModels implements DocumentStore. An empty memberID lists all models.
func (s *Store) ListModels(ctx context.Context, memberID string) ([]*models.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Model
	for _, m := range s.models {
		if memberID != "" && m.MemberID != memberID {
			continue
		}
		c := &models.Model{}
		clone(m, c)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// UpdateModel implements DocumentStore with revision CAS
func (s *Store) UpdateModel(ctx context.Context, model *models.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.models[model.ID]
	if !ok {
		return errors.NewNotFoundError("model", model.ID)
	}
	if stored.Revision != model.Revision {
		return errors.NewConflictError("model", model.ID)
	}

	model.Revision++
	updated := &models.Model{}
	clone(model, updated)
	s.models[model.ID] = updated
	return nil
}

// DeleteModel implements DocumentStore, cascading to predictions
func (s *Store) DeleteModel(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.models[id]; !ok {
		return errors.NewNotFoundError("model", id)
	}
	delete(s.models, id)

	for _, pid := range s.predictionOrder[id] {
		delete(s.predictions, pid)
	}
	delete(s.predictionOrder, id)

	for key, v := range s.versions {
		if v.ModelID == id {
			delete(s.versions, key)
		}
	}
	delete(s.policies, id)
	return nil
}

// CreateVersion implements DocumentStore
func (s *Store) CreateVersion(ctx context.Context, version *models.ModelVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := versionKey(version.ModelID, version.Version)
	if _, exists := s.versions[key]; exists {
		return errors.NewConflictError("model_version", key)
	}

	version.Revision = 1
	stored := &models.ModelVersion{}
	clone(version, stored)
	s.versions[key] = stored
	return nil
}

// GetVersion implements DocumentStore
func (s *Store) GetVersion(ctx context.Context, modelID, version string) (*models.ModelVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.versions[versionKey(modelID, version)]
	if !ok {
		return nil, errors.NewNotFoundError("model_version", versionKey(modelID, version))
	}
	out := &models.ModelVersion{}
	clone(stored, out)
	return out, nil
}

// ListVersions implements DocumentStore
func (s *Store) ListVersions(ctx context.Context, modelID string) ([]*models.ModelVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.ModelVersion
	for _, v := range s.versions {
		if v.ModelID != modelID {
			continue
		}
		c := &models.ModelVersion{}
		clone(v, c)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SavedAt.Before(out[j].SavedAt) })
	return out, nil
}

// UpdateVersion implements DocumentStore with revision CAS
func (s *Store) UpdateVersion(ctx context.Context, version *models.ModelVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := versionKey(version.ModelID, version.Version)
	stored, ok := s.versions[key]
	if !ok {
		return errors.NewNotFoundError("model_version", key)
	}
	if stored.Revision != version.Revision {
		return errors.NewConflictError("model_version", key)
	}

	version.Revision++
	updated := &models.ModelVersion{}
	clone(version, updated)
	s.versions[key] = updated
	return nil
}

// CreatePrediction implements DocumentStore
func (s *Store) CreatePrediction(ctx context.Context, prediction *models.Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.predictions[prediction.ID]; exists {
		return errors.NewConflictError("prediction", prediction.ID)
	}

	prediction.Revision = 1
	stored := &models.Prediction{}
	clone(prediction, stored)
	s.predictions[prediction.ID] = stored
	s.predictionOrder[prediction.ModelID] = append(s.predictionOrder[prediction.ModelID], prediction.ID)
	return nil
}

// GetPrediction implements DocumentStore
func (s *Store) GetPrediction(ctx context.Context, id string) (*models.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.predictions[id]
	if !ok {
		return nil, errors.NewNotFoundError("prediction", id)
	}
	out := &models.Prediction{}
	clone(stored, out)
	return out, nil
}

// UpdatePrediction implements DocumentStore with revision CAS
func (s *Store) UpdatePrediction(ctx context.Context, prediction *models.Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.predictions[prediction.ID]
	if !ok {
		return errors.NewNotFoundError("prediction", prediction.ID)
	}
	if stored.Revision != prediction.Revision {
		return errors.NewConflictError("prediction", prediction.ID)
	}

	prediction.Revision++
	updated := &models.Prediction{}
	clone(prediction, updated)
	s.predictions[prediction.ID] = updated
	return nil
}

// ListPredictions implements DocumentStore, newest first
func (s *Store) ListPredictions(ctx context.Context, modelID string, limit int) ([]*models.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order := s.predictionOrder[modelID]
	var out []*models.Prediction
	for i := len(order) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if p, ok := s.predictions[order[i]]; ok {
			c := &models.Prediction{}
			clone(p, c)
			out = append(out, c)
		}
	}
	return out, nil
}

// CreateABTest implements DocumentStore
func (s *Store) CreateABTest(ctx context.Context, test *models.ABTest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.abTests[test.TestID]; exists {
		return errors.NewConflictError("ab_test", test.TestID)
	}

	test.Revision = 1
	stored := &models.ABTest{}
	clone(test, stored)
	s.abTests[test.TestID] = stored
	return nil
}

// GetABTest implements DocumentStore
func (s *Store) GetABTest(ctx context.Context, testID string) (*models.ABTest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.abTests[testID]
	if !ok {
		return nil, errors.NewNotFoundError("ab_test", testID)
	}
	out := &models.ABTest{}
	clone(stored, out)
	return out, nil
}

// UpdateABTest implements DocumentStore with revision CAS
func (s *Store) UpdateABTest(ctx context.Context, test *models.ABTest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.abTests[test.TestID]
	if !ok {
		return errors.NewNotFoundError("ab_test", test.TestID)
	}
	if stored.Revision != test.Revision {
		return errors.NewConflictError("ab_test", test.TestID)
	}

	test.Revision++
	updated := &models.ABTest{}
	clone(test, updated)
	s.abTests[test.TestID] = updated
	return nil
}

// AppendABSample implements DocumentStore. The append happens under the
// store lock so concurrent recordings are all counted.
func (s *Store) AppendABSample(ctx context.Context, testID, arm string, sample models.ABSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.abTests[testID]
	if !ok {
		return errors.NewNotFoundError("ab_test", testID)
	}

	switch arm {
	case "A":
		stored.SamplesA = append(stored.SamplesA, sample)
	case "B":
		stored.SamplesB = append(stored.SamplesB, sample)
	default:
		return errors.NewValidationError(errors.CodeInvalidInput, "arm must be A or B")
	}
	stored.Revision++
	return nil
}

// PutDriftPolicy implements DocumentStore
func (s *Store) PutDriftPolicy(ctx context.Context, policy *models.DriftPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := &models.DriftPolicy{}
	clone(policy, stored)
	s.policies[policy.ModelID] = stored
	return nil
}

// GetDriftPolicy implements DocumentStore
func (s *Store) GetDriftPolicy(ctx context.Context, modelID string) (*models.DriftPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.policies[modelID]
	if !ok {
		return nil, errors.NewNotFoundError("drift_policy", modelID)
	}
	out := &models.DriftPolicy{}
	clone(stored, out)
	return out, nil
}

// CreateDeployment implements DocumentStore
func (s *Store) CreateDeployment(ctx context.Context, record *models.DeploymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.deployments[record.DeploymentID]; exists {
		return errors.NewConflictError("deployment", record.DeploymentID)
	}

	record.Revision = 1
	stored := &models.DeploymentRecord{}
	clone(record, stored)
	s.deployments[record.DeploymentID] = stored
	return nil
}

// GetDeployment implements DocumentStore
func (s *Store) GetDeployment(ctx context.Context, deploymentID string) (*models.DeploymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.deployments[deploymentID]
	if !ok {
		return nil, errors.NewNotFoundError("deployment", deploymentID)
	}
	out := &models.DeploymentRecord{}
	clone(stored, out)
	return out, nil
}

// UpdateDeployment implements DocumentStore with revision CAS
func (s *Store) UpdateDeployment(ctx context.Context, record *models.DeploymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.deployments[record.DeploymentID]
	if !ok {
		return errors.NewNotFoundError("deployment", record.DeploymentID)
	}
	if stored.Revision != record.Revision {
		return errors.NewConflictError("deployment", record.DeploymentID)
	}

	record.Revision++
	updated := &models.DeploymentRecord{}
	clone(record, updated)
	s.deployments[record.DeploymentID] = updated
	return nil
}

// ListDeployments implements DocumentStore
func (s *Store) ListDeployments(ctx context.Context, modelID string) ([]*models.DeploymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.DeploymentRecord
	for _, d := range s.deployments {
		if d.ModelID != modelID {
			continue
		}
		c := &models.DeploymentRecord{}
		clone(d, c)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// Ping implements DocumentStore
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// Close implements DocumentStore
func (s *Store) Close() error {
	return nil
}
