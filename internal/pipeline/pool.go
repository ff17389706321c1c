package pipeline

import (
	"container/list"
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/propstack/mlserve/internal/artifacts"
	"github.com/propstack/mlserve/pkg/errors"
)

// LoadedModel is one resident artifact in the pool
type LoadedModel struct {
	ModelID     string
	Version     string
	ArtifactRef string
	Data        []byte
}

// ModelPool is a bounded in-memory cache of loaded model artifacts keyed
// by (modelID, version) with LRU eviction. Concurrent requests for the
// same cold key coalesce into a single load.
type ModelPool struct {
	logger    *logrus.Logger
	artifacts artifacts.Store
	capacity  int
	retries   int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used

	group singleflight.Group
}

type poolEntry struct {
	key   string
	model *LoadedModel
}

// NewModelPool creates a bounded model pool backed by the artifact store
func NewModelPool(store artifacts.Store, capacity, loadRetries int, logger *logrus.Logger) *ModelPool {
	if capacity <= 0 {
		capacity = 16
	}
	if loadRetries < 0 {
		loadRetries = 2
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &ModelPool{
		logger:    logger,
		artifacts: store,
		capacity:  capacity,
		retries:   loadRetries,
		entries:   make(map[string]*list.Element),
		order:     list.New(),
	}
}

// Get returns the loaded artifact for (modelID, version), loading it from
// the artifact store on a cold hit. A cold load blocks only the calling
// request; other requests for the same key wait on that one load.
func (p *ModelPool) Get(ctx context.Context, modelID, version, artifactRef string) (*LoadedModel, error) {
	key := modelID + ":" + version

	p.mu.Lock()
	if elem, ok := p.entries[key]; ok {
		p.order.MoveToFront(elem)
		model := elem.Value.(*poolEntry).model
		p.mu.Unlock()
		return model, nil
	}
	p.mu.Unlock()

	v, err, shared := p.group.Do(key, func() (interface{}, error) {
		model, err := p.load(ctx, modelID, version, artifactRef)
		if err != nil {
			return nil, err
		}
		p.insert(key, model)
		return model, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		p.logger.WithField("key", key).Debug("Coalesced cold model load")
	}
	return v.(*LoadedModel), nil
}

// Ping verifies the pool's artifact backend is reachable. The health
// monitor uses this as the model-cache infra check.
func (p *ModelPool) Ping(ctx context.Context) error {
	return p.artifacts.Ping(ctx)
}

// Len returns the number of resident models
func (p *ModelPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.order.Len()
}

// Evict removes a specific (modelID, version) entry if resident
func (p *ModelPool) Evict(modelID, version string) {
	key := modelID + ":" + version
	p.mu.Lock()
	defer p.mu.Unlock()
	if elem, ok := p.entries[key]; ok {
		p.order.Remove(elem)
		delete(p.entries, key)
	}
}

func (p *ModelPool) load(ctx context.Context, modelID, version, artifactRef string) (*LoadedModel, error) {
	var lastErr error
	for attempt := 0; attempt <= p.retries; attempt++ {
		data, err := p.artifacts.Fetch(ctx, artifactRef)
		if err == nil {
			p.logger.WithFields(logrus.Fields{
				"model_id": modelID,
				"version":  version,
				"bytes":    len(data),
				"attempt":  attempt + 1,
			}).Info("Loaded model artifact")
			return &LoadedModel{
				ModelID:     modelID,
				Version:     version,
				ArtifactRef: artifactRef,
				Data:        data,
			}, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.NewModelLoadError(lastErr, artifactRef)
}

func (p *ModelPool) insert(key string, model *LoadedModel) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if elem, ok := p.entries[key]; ok {
		p.order.MoveToFront(elem)
		elem.Value.(*poolEntry).model = model
		return
	}

	p.entries[key] = p.order.PushFront(&poolEntry{key: key, model: model})

	for p.order.Len() > p.capacity {
		oldest := p.order.Back()
		if oldest == nil {
			break
		}
		entry := oldest.Value.(*poolEntry)
		p.order.Remove(oldest)
		delete(p.entries, entry.key)
		p.logger.WithField("key", entry.key).Debug("Evicted model from pool")
	}
}
