package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propstack/mlserve/internal/abtest"
	"github.com/propstack/mlserve/internal/deployment"
	"github.com/propstack/mlserve/internal/feedback"
	"github.com/propstack/mlserve/internal/monitoring"
	"github.com/propstack/mlserve/internal/observability/metrics"
	"github.com/propstack/mlserve/internal/pipeline"
	"github.com/propstack/mlserve/internal/registry"
	"github.com/propstack/mlserve/internal/security"
	"github.com/propstack/mlserve/internal/storage/memory"
	"github.com/propstack/mlserve/pkg/interfaces"
	"github.com/propstack/mlserve/pkg/models"
)

type stubCompute struct{}

func (stubCompute) Infer(ctx context.Context, artifact []byte, version string, input interface{}) (*interfaces.InferenceResult, error) {
	return &interfaces.InferenceResult{
		Output:     map[string]interface{}{"price": 1250.0},
		Confidence: 0.92,
	}, nil
}

func (stubCompute) Evaluate(ctx context.Context, artifact []byte, testSet interface{}) (map[string]float64, error) {
	return map[string]float64{}, nil
}

func (stubCompute) Ping(ctx context.Context) error { return nil }

// stubQueue records enqueued job types
type stubQueue struct {
	mu   sync.Mutex
	jobs []string
}

func (q *stubQueue) Enqueue(ctx context.Context, jobType string, payload interface{}) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, jobType)
	return nil
}

func (q *stubQueue) Ping(ctx context.Context) error { return nil }

func (q *stubQueue) enqueued(jobType string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	count := 0
	for _, j := range q.jobs {
		if j == jobType {
			count++
		}
	}
	return count
}

type allowAll struct{}

func (allowAll) HasPermission(ctx context.Context, userID, memberID, permission string) (bool, error) {
	return true, nil
}

type apiEnv struct {
	server *Server
	store  *memory.Store
	queue  *stubQueue
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	store := memory.NewStore()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	collector := metrics.NewNoopCollector()

	reg := registry.NewRegistry(nil, store, allowAll{}, logger)
	router := abtest.NewRouter(store, logger)
	pool := pipeline.NewModelPool(memArtifacts{data: map[string][]byte{"ref-v1": []byte("weights")}}, 8, 1, logger)
	pl := pipeline.NewPipeline(security.NewValidator(nil), reg, router, pool, store, stubCompute{}, nil, collector, logger)
	queue := &stubQueue{}
	fb := feedback.NewService(store, reg, queue, collector, logger)
	prober := deployment.NewInferenceProber(store, pool, stubCompute{}, logger)
	orch := deployment.NewOrchestrator(store, reg, prober, collector, logger)
	t.Cleanup(orch.Stop)
	drift := monitoring.NewDriftDetector(store, collector, logger)
	health := monitoring.NewHealthMonitor(nil, store, []monitoring.InfraCheck{
		{Name: "model_cache", Ping: pool.Ping},
	}, logger)

	handlers := NewHandlers(reg, pl, router, fb, orch, drift, health, "test", logger)
	srv := NewServer(&DefaultConfig().Server, handlers, logger)

	return &apiEnv{server: srv, store: store, queue: queue}
}

// memArtifacts is a minimal artifact store for the pool
type memArtifacts struct {
	data map[string][]byte
}

func (m memArtifacts) Put(ctx context.Context, modelID, version string, artifact io.Reader) (string, error) {
	return "", nil
}

func (m memArtifacts) Fetch(ctx context.Context, ref string) ([]byte, error) {
	data, ok := m.data[ref]
	if !ok {
		return nil, fmt.Errorf("artifact %s not found", ref)
	}
	return data, nil
}

func (m memArtifacts) Delete(ctx context.Context, ref string) error { return nil }

func (m memArtifacts) Exists(ctx context.Context, ref string) (bool, error) {
	_, ok := m.data[ref]
	return ok, nil
}

func (m memArtifacts) Ping(ctx context.Context) error { return nil }

func (env *apiEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.server.GetRouter().ServeHTTP(rec, req)
	return rec
}

func (env *apiEnv) seedReadyModel(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, env.store.CreateModel(ctx, &models.Model{
		ID:       "m1",
		MemberID: "tenant-1",
		Name:     "rental price estimator",
		Slug:     "rental-price",
		Type:     models.ModelTypeRegression,
		Status:   models.StatusReady,
		Configuration: models.ModelConfiguration{
			Features: []string{"area", "bedrooms"},
			Target:   "price",
			IncrementalLearning: &models.IncrementalLearningConfig{
				Enabled:         true,
				UpdateFrequency: 1,
				LearningRate:    0.01,
				Epochs:          3,
			},
		},
		Lifecycle: models.Lifecycle{
			Stage:          models.StageProduction,
			CurrentVersion: "v1",
		},
	}))
	require.NoError(t, env.store.CreateVersion(ctx, &models.ModelVersion{
		ModelID:     "m1",
		Version:     "v1",
		Stage:       models.StageProduction,
		ArtifactRef: "ref-v1",
	}))
}

func TestHealthEndpoints(t *testing.T) {
	env := newAPIEnv(t)

	for _, path := range []string{"/health", "/health/ready", "/health/live", "/version"} {
		rec := env.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	// The model cache participates in the infra checks.
	rec := env.do(t, http.MethodGet, "/health", nil)
	var health monitoring.ServiceHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	require.Len(t, health.InfraChecks, 1)
	assert.Equal(t, "model_cache", health.InfraChecks[0].Name)
	assert.True(t, health.InfraChecks[0].Healthy)
}

func TestCreateAndGetModelEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/models", map[string]interface{}{
		"member_id": "tenant-1",
		"name":      "rental price estimator",
		"slug":      "rental-price",
		"type":      "regression",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created models.Model
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, models.StatusTraining, created.Status)

	rec = env.do(t, http.MethodGet, "/api/v1/models/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateModelInvalidBody(t *testing.T) {
	env := newAPIEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/models", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	env.server.GetRouter().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetModelNotFoundMapsTo404(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/models/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPredictEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	env.seedReadyModel(t)

	rec := env.do(t, http.MethodPost, "/api/v1/predict", map[string]interface{}{
		"model_id": "m1",
		"input":    map[string]interface{}{"area": 70, "bedrooms": 2},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp pipeline.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "v1", resp.ModelVersion)
	assert.Equal(t, 0.92, resp.Confidence)
}

func TestPredictEndpointRejectsInjection(t *testing.T) {
	env := newAPIEnv(t)
	env.seedReadyModel(t)

	rec := env.do(t, http.MethodPost, "/api/v1/predict", map[string]interface{}{
		"model_id": "m1",
		"input": map[string]interface{}{
			"note": "<script>x()</script>; DROP TABLE listings; -- ",
		},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchPredictEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	env.seedReadyModel(t)

	rec := env.do(t, http.MethodPost, "/api/v1/predict/batch", map[string]interface{}{
		"requests": []map[string]interface{}{
			{"model_id": "m1", "input": map[string]interface{}{"area": 50}},
			{"model_id": "missing", "input": map[string]interface{}{"area": 50}},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Results []pipeline.BatchItem `json:"results"`
		Count   int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Results, 2)
	assert.NotNil(t, body.Results[0].Response)
	assert.NotEmpty(t, body.Results[1].Error)
}

func TestVersionLifecycleEndpoints(t *testing.T) {
	env := newAPIEnv(t)
	env.seedReadyModel(t)

	rec := env.do(t, http.MethodPost, "/api/v1/models/m1/versions", map[string]interface{}{
		"version":      "v2",
		"artifact_ref": "ref-v2",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/v1/models/m1/versions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/models/m1/versions/v2/promote", map[string]interface{}{
		"stage": "staging",
	})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Duplicate registration conflicts.
	rec = env.do(t, http.MethodPost, "/api/v1/models/m1/versions", map[string]interface{}{
		"version":      "v2",
		"artifact_ref": "ref-v2",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestABTestEndpoints(t *testing.T) {
	env := newAPIEnv(t)
	env.seedReadyModel(t)

	rec := env.do(t, http.MethodPost, "/api/v1/abtests", map[string]interface{}{
		"test_id":       "exp-1",
		"arm_a":         map[string]string{"model_id": "m1", "version": "v1"},
		"arm_b":         map[string]string{"model_id": "m1", "version": "v1"},
		"traffic_split": 50,
		"min_samples":   5,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/v1/abtests/exp-1/results", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var results abtest.Results
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	assert.Equal(t, "exp-1", results.TestID)
	assert.False(t, results.Complete)

	rec = env.do(t, http.MethodPost, "/api/v1/abtests/exp-1/stop", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// A second stop is an invalid state transition.
	rec = env.do(t, http.MethodPost, "/api/v1/abtests/exp-1/stop", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestFeedbackEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	env.seedReadyModel(t)

	// Serve one prediction so there is something to attach feedback to.
	rec := env.do(t, http.MethodPost, "/api/v1/predict", map[string]interface{}{
		"model_id": "m1",
		"input":    map[string]interface{}{"area": 70},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp pipeline.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	rec = env.do(t, http.MethodPost, "/api/v1/predictions/"+resp.ID+"/feedback", map[string]interface{}{
		"feedback": map[string]interface{}{
			"actual_value": 1300.0,
			"is_correct":   false,
		},
	})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestFeedbackEndpointDefaultsToIncremental(t *testing.T) {
	env := newAPIEnv(t)
	env.seedReadyModel(t)

	rec := env.do(t, http.MethodPost, "/api/v1/predict", map[string]interface{}{
		"model_id": "m1",
		"input":    map[string]interface{}{"area": 70},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp pipeline.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	// No trigger_incremental field in the body; incremental learning is
	// opt-out, so the sample still reaches the accumulator.
	rec = env.do(t, http.MethodPost, "/api/v1/predictions/"+resp.ID+"/feedback", map[string]interface{}{
		"feedback": map[string]interface{}{
			"actual_value": 1300.0,
			"is_correct":   false,
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, env.queue.enqueued(interfaces.JobTypeIncrementalUpdate))

	// An explicit opt-out does not enqueue.
	rec = env.do(t, http.MethodPost, "/api/v1/predict", map[string]interface{}{
		"model_id": "m1",
		"input":    map[string]interface{}{"area": 80},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	rec = env.do(t, http.MethodPost, "/api/v1/predictions/"+resp.ID+"/feedback", map[string]interface{}{
		"feedback": map[string]interface{}{
			"actual_value": 1250.0,
			"is_correct":   true,
		},
		"trigger_incremental": false,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, env.queue.enqueued(interfaces.JobTypeIncrementalUpdate))
}

func TestDriftEndpoints(t *testing.T) {
	env := newAPIEnv(t)
	env.seedReadyModel(t)

	rec := env.do(t, http.MethodPut, "/api/v1/models/m1/drift-policy", map[string]interface{}{
		"threshold": 0.2,
		"features":  []string{"area"},
		"reference": map[string]interface{}{
			"features": map[string][]float64{"area": {1, 2, 3, 4, 5}},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/v1/models/m1/drift", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result monitoring.DriftResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "m1", result.ModelID)
	assert.False(t, result.IsDrifting)
}

func TestModelHealthEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	env.seedReadyModel(t)

	rec := env.do(t, http.MethodGet, "/api/v1/models/m1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health monitoring.ModelHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "m1", health.ModelID)
}

func TestDeploymentEndpoints(t *testing.T) {
	env := newAPIEnv(t)
	env.seedReadyModel(t)

	require.NoError(t, env.store.CreateVersion(context.Background(), &models.ModelVersion{
		ModelID:     "m1",
		Version:     "v2",
		Stage:       models.StageProduction,
		ArtifactRef: "ref-v1",
	}))

	rec := env.do(t, http.MethodPost, "/api/v1/deployments", map[string]interface{}{
		"model_id": "m1",
		"version":  "v2",
		"stage":    "production",
		"strategy": "immediate",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var record models.DeploymentRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	require.NotEmpty(t, record.DeploymentID)

	rec = env.do(t, http.MethodGet, "/api/v1/deployments/"+record.DeploymentID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/deployments/"+record.DeploymentID+"/cancel", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRollbackEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	env.seedReadyModel(t)

	rec := env.do(t, http.MethodPost, "/api/v1/models/m1/rollback", map[string]interface{}{
		"target_version": "v1",
	})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestUnknownRouteReturns404(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
