package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propstack/mlserve/pkg/errors"
	"github.com/propstack/mlserve/pkg/models"
)

func newTestModel(id, memberID, slug string) *models.Model {
	return &models.Model{
		ID:       id,
		MemberID: memberID,
		Name:     "price estimator",
		Slug:     slug,
		Type:     models.ModelTypeRegression,
		Status:   models.StatusReady,
	}
}

func TestCreateAndGetModel(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	model := newTestModel("m1", "tenant-1", "price-estimator")
	require.NoError(t, store.CreateModel(ctx, model))
	assert.Equal(t, int64(1), model.Revision)

	got, err := store.GetModel(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "price-estimator", got.Slug)
	assert.Equal(t, int64(1), got.Revision)
}

func TestCreateModelDuplicateID(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.CreateModel(ctx, newTestModel("m1", "tenant-1", "a")))
	err := store.CreateModel(ctx, newTestModel("m1", "tenant-2", "b"))
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))
}

func TestCreateModelDuplicateSlugPerTenant(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.CreateModel(ctx, newTestModel("m1", "tenant-1", "estimator")))

	// Same slug under the same tenant conflicts.
	err := store.CreateModel(ctx, newTestModel("m2", "tenant-1", "estimator"))
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))

	// Same slug under a different tenant is fine.
	require.NoError(t, store.CreateModel(ctx, newTestModel("m3", "tenant-2", "estimator")))
}

func TestGetModelNotFound(t *testing.T) {
	store := NewStore()

	_, err := store.GetModel(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestGetModelBySlug(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.CreateModel(ctx, newTestModel("m1", "tenant-1", "estimator")))

	got, err := store.GetModelBySlug(ctx, "tenant-1", "estimator")
	require.NoError(t, err)
	assert.Equal(t, "m1", got.ID)

	_, err = store.GetModelBySlug(ctx, "tenant-2", "estimator")
	assert.True(t, errors.IsNotFound(err))
}

func TestListModelsFiltersByMember(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.CreateModel(ctx, newTestModel("m1", "tenant-1", "a")))
	require.NoError(t, store.CreateModel(ctx, newTestModel("m2", "tenant-1", "b")))
	require.NoError(t, store.CreateModel(ctx, newTestModel("m3", "tenant-2", "c")))

	all, err := store.ListModels(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	mine, err := store.ListModels(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Len(t, mine, 2)
}

func TestUpdateModelConflictOnStaleRevision(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.CreateModel(ctx, newTestModel("m1", "tenant-1", "a")))

	first, err := store.GetModel(ctx, "m1")
	require.NoError(t, err)
	second, err := store.GetModel(ctx, "m1")
	require.NoError(t, err)

	first.Name = "updated by first"
	require.NoError(t, store.UpdateModel(ctx, first))
	assert.Equal(t, int64(2), first.Revision)

	// The second reader's revision is now stale.
	second.Name = "updated by second"
	err = store.UpdateModel(ctx, second)
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))

	got, err := store.GetModel(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "updated by first", got.Name)
}

func TestUpdateModelConcurrentWritersNeverLoseAll(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.CreateModel(ctx, newTestModel("m1", "tenant-1", "a")))

	const writers = 10
	var wg sync.WaitGroup
	var conflicts int64
	var mu sync.Mutex

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := store.GetModel(ctx, "m1")
			if err != nil {
				return
			}
			if err := store.UpdateModel(ctx, m); err != nil {
				mu.Lock()
				conflicts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, err := store.GetModel(ctx, "m1")
	require.NoError(t, err)
	// Every non-conflicting write bumped the revision exactly once.
	assert.Equal(t, int64(1+writers)-conflicts, got.Revision)
}

func TestDeleteModelCascades(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.CreateModel(ctx, newTestModel("m1", "tenant-1", "a")))
	require.NoError(t, store.CreateVersion(ctx, &models.ModelVersion{
		ModelID: "m1", Version: "v1", Stage: models.StageDevelopment, ArtifactRef: "ref",
	}))
	require.NoError(t, store.CreatePrediction(ctx, &models.Prediction{
		ID: "p1", ModelID: "m1", Confidence: 0.9,
	}))
	require.NoError(t, store.PutDriftPolicy(ctx, &models.DriftPolicy{
		ModelID: "m1", Threshold: 0.2, Features: []string{"area"},
	}))

	require.NoError(t, store.DeleteModel(ctx, "m1"))

	_, err := store.GetModel(ctx, "m1")
	assert.True(t, errors.IsNotFound(err))
	_, err = store.GetVersion(ctx, "m1", "v1")
	assert.True(t, errors.IsNotFound(err))
	_, err = store.GetPrediction(ctx, "p1")
	assert.True(t, errors.IsNotFound(err))
	_, err = store.GetDriftPolicy(ctx, "m1")
	assert.True(t, errors.IsNotFound(err))
}

func TestCreateVersionDuplicate(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	v := &models.ModelVersion{ModelID: "m1", Version: "v1", ArtifactRef: "ref"}
	require.NoError(t, store.CreateVersion(ctx, v))

	err := store.CreateVersion(ctx, &models.ModelVersion{ModelID: "m1", Version: "v1", ArtifactRef: "other"})
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))
}

func TestListVersionsSortedBySavedAt(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	base := time.Now()

	for i := 3; i >= 1; i-- {
		require.NoError(t, store.CreateVersion(ctx, &models.ModelVersion{
			ModelID: "m1",
			Version: fmt.Sprintf("v%d", i),
			SavedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	versions, err := store.ListVersions(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, "v1", versions[0].Version)
	assert.Equal(t, "v3", versions[2].Version)
}

func TestListPredictionsNewestFirstWithLimit(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, store.CreatePrediction(ctx, &models.Prediction{
			ID:      fmt.Sprintf("p%d", i),
			ModelID: "m1",
		}))
	}

	recent, err := store.ListPredictions(ctx, "m1", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "p5", recent[0].ID)
	assert.Equal(t, "p4", recent[1].ID)
	assert.Equal(t, "p3", recent[2].ID)

	all, err := store.ListPredictions(ctx, "m1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestUpdatePredictionConflict(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.CreatePrediction(ctx, &models.Prediction{ID: "p1", ModelID: "m1"}))

	stale, err := store.GetPrediction(ctx, "p1")
	require.NoError(t, err)

	fresh, err := store.GetPrediction(ctx, "p1")
	require.NoError(t, err)
	require.NoError(t, store.UpdatePrediction(ctx, fresh))

	err = store.UpdatePrediction(ctx, stale)
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))
}

func TestAppendABSampleConcurrent(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.CreateABTest(ctx, &models.ABTest{
		TestID: "exp-1",
		Status: models.ABTestRunning,
	}))

	const perArm = 25
	var wg sync.WaitGroup
	for i := 0; i < perArm; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = store.AppendABSample(ctx, "exp-1", "A", models.ABSample{Confidence: 0.8})
		}()
		go func() {
			defer wg.Done()
			_ = store.AppendABSample(ctx, "exp-1", "B", models.ABSample{Confidence: 0.7})
		}()
	}
	wg.Wait()

	test, err := store.GetABTest(ctx, "exp-1")
	require.NoError(t, err)
	assert.Len(t, test.SamplesA, perArm)
	assert.Len(t, test.SamplesB, perArm)
}

func TestAppendABSampleInvalidArm(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.CreateABTest(ctx, &models.ABTest{TestID: "exp-1"}))

	err := store.AppendABSample(ctx, "exp-1", "C", models.ABSample{})
	require.Error(t, err)
}

func TestPutDriftPolicyReplacesWholesale(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.PutDriftPolicy(ctx, &models.DriftPolicy{
		ModelID:   "m1",
		Threshold: 0.2,
		Features:  []string{"area", "price"},
	}))
	require.NoError(t, store.PutDriftPolicy(ctx, &models.DriftPolicy{
		ModelID:   "m1",
		Threshold: 0.5,
		Features:  []string{"bedrooms"},
	}))

	policy, err := store.GetDriftPolicy(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 0.5, policy.Threshold)
	assert.Equal(t, []string{"bedrooms"}, policy.Features)
}

func TestDeploymentLifecycle(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	record := &models.DeploymentRecord{
		DeploymentID: "d1",
		ModelID:      "m1",
		Version:      "v2",
		Status:       models.DeploymentPending,
		StartedAt:    time.Now(),
	}
	require.NoError(t, store.CreateDeployment(ctx, record))

	record.Status = models.DeploymentInProgress
	require.NoError(t, store.UpdateDeployment(ctx, record))

	got, err := store.GetDeployment(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentInProgress, got.Status)
	assert.Equal(t, int64(2), got.Revision)

	list, err := store.ListDeployments(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestClonePreventsAliasing(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	model := newTestModel("m1", "tenant-1", "a")
	require.NoError(t, store.CreateModel(ctx, model))

	// Mutating the caller's copy must not affect stored state.
	model.Name = "mutated after create"

	got, err := store.GetModel(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "price estimator", got.Name)

	// Mutating a read result must not affect stored state either.
	got.Name = "mutated after read"
	again, err := store.GetModel(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "price estimator", again.Name)
}
