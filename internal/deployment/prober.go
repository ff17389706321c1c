package deployment

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/propstack/mlserve/internal/pipeline"
	"github.com/propstack/mlserve/pkg/interfaces"
	"github.com/propstack/mlserve/pkg/models"
)

// InferenceProber probes a version by running a lightweight inference
// against its artifact through the shared model pool.
type InferenceProber struct {
	logger  *logrus.Logger
	store   interfaces.DocumentStore
	pool    *pipeline.ModelPool
	compute interfaces.ComputeEngine
}

// NewInferenceProber creates the default health prober
func NewInferenceProber(store interfaces.DocumentStore, pool *pipeline.ModelPool, compute interfaces.ComputeEngine, logger *logrus.Logger) *InferenceProber {
	if logger == nil {
		logger = logrus.New()
	}
	return &InferenceProber{
		logger:  logger,
		store:   store,
		pool:    pool,
		compute: compute,
	}
}

// Probe implements HealthProber
func (ip *InferenceProber) Probe(ctx context.Context, modelID, version string, timeout time.Duration) models.HealthCheckResult {
	start := time.Now()
	result := models.HealthCheckResult{
		Probe:     "inference",
		Timestamp: start,
	}

	mv, err := ip.store.GetVersion(ctx, modelID, version)
	if err != nil {
		result.Message = "version lookup failed: " + err.Error()
		result.Latency = time.Since(start)
		return result
	}

	loaded, err := ip.pool.Get(ctx, modelID, version, mv.ArtifactRef)
	if err != nil {
		result.Message = "artifact load failed: " + err.Error()
		result.Latency = time.Since(start)
		return result
	}

	probeInput := map[string]interface{}{"__probe__": true}
	if _, err := ip.compute.Infer(ctx, loaded.Data, version, probeInput); err != nil {
		result.Message = "probe inference failed: " + err.Error()
		result.Latency = time.Since(start)
		return result
	}

	result.Healthy = true
	result.Latency = time.Since(start)
	return result
}
