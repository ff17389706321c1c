package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/propstack/mlserve/pkg/errors"
	"github.com/propstack/mlserve/pkg/models"
)

// RedisConfig holds configuration for Redis-backed persistence
type RedisConfig struct {
	Addr         string        `json:"addr"`
	Password     string        `json:"password"`
	DB           int           `json:"db"`
	DialTimeout  time.Duration `json:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	PoolSize     int           `json:"pool_size"`
	MinIdleConns int           `json:"min_idle_conns"`
	MaxRetries   int           `json:"max_retries"`
	KeyPrefix    string        `json:"key_prefix"`
}

// DefaultRedisConfig returns a config suitable for a local Redis
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		KeyPrefix:    "mlserve",
	}
}

// Store implements DocumentStore on Redis. Entities are stored as JSON
// documents; conditional updates run inside WATCH transactions so the
// revision check and the write are atomic.
type Store struct {
	config *RedisConfig
	client *redis.Client
	logger *logrus.Logger
}

// casRetries bounds the internal WATCH retry loop used by appends. CAS
// updates surface conflicts to the caller instead.
const casRetries = 10

// NewStore creates and connects a Redis-backed store
func NewStore(ctx context.Context, config *RedisConfig, logger *logrus.Logger) (*Store, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}
	if config.Addr == "" {
		return nil, errors.NewStorageError("INVALID_CONFIG", "Redis address is required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		MaxRetries:   config.MaxRetries,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Failed to connect to Redis")
	}

	logger.WithFields(logrus.Fields{
		"addr": config.Addr,
		"db":   config.DB,
	}).Info("Connected to Redis")

	return &Store{
		config: config,
		client: client,
		logger: logger,
	}, nil
}

func (s *Store) key(parts ...string) string {
	key := s.config.KeyPrefix
	for _, p := range parts {
		key += ":" + p
	}
	return key
}

func (s *Store) modelKey(id string) string { return s.key("model", id) }
func (s *Store) modelIndexKey() string     { return s.key("models") }

func (s *Store) slugKey(member, slug string) string {
	return s.key("model_slug", member, slug)
}

func (s *Store) versionKey(modelID, version string) string {
	return s.key("version", modelID, version)
}

func (s *Store) versionIndexKey(modelID string) string { return s.key("versions", modelID) }
func (s *Store) predictionKey(id string) string        { return s.key("prediction", id) }

func (s *Store) predictionIndexKey(modelID string) string {
	return s.key("predictions", modelID)
}

func (s *Store) abTestKey(id string) string      { return s.key("abtest", id) }
func (s *Store) policyKey(modelID string) string { return s.key("drift_policy", modelID) }
func (s *Store) deploymentKey(id string) string  { return s.key("deployment", id) }

func (s *Store) deploymentIndexKey(modelID string) string {
	return s.key("deployments", modelID)
}

// getDoc reads and decodes one JSON document
func (s *Store) getDoc(ctx context.Context, key, entity, id string, out interface{}) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return errors.NewNotFoundError(entity, id)
	}
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageError, "Redis read failed")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeInvalidFormat, "Failed to decode stored document")
	}
	return nil
}

// createDoc stores a new JSON document, failing on duplicates
func (s *Store) createDoc(ctx context.Context, key, entity, id string, doc interface{}, index ...string) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeInvalidFormat, "Failed to encode document")
	}

	created, err := s.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageError, "Redis write failed")
	}
	if !created {
		return errors.NewConflictError(entity, id)
	}

	for i := 0; i+1 < len(index); i += 2 {
		if err := s.client.RPush(ctx, index[i], index[i+1]).Err(); err != nil {
			return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageError, "Redis index write failed")
		}
	}
	return nil
}

// casUpdate performs a conditional update inside a WATCH transaction.
// The readRevision callback decodes the stored document and returns its
// revision; write receives the pipeline after the revision check passed.
func (s *Store) casUpdate(ctx context.Context, key, entity, id string, expected int64, encode func(rev int64) ([]byte, error)) error {
	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return errors.NewNotFoundError(entity, id)
		}
		if err != nil {
			return err
		}

		var probe struct {
			Revision int64 `json:"revision"`
		}
		if err := json.Unmarshal(data, &probe); err != nil {
			return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeInvalidFormat, "Failed to decode stored document")
		}
		if probe.Revision != expected {
			return errors.NewConflictError(entity, id)
		}

		encoded, err := encode(expected + 1)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txn, key)
	if err == redis.TxFailedErr {
		return errors.NewConflictError(entity, id)
	}
	return err
}

// CreateModel implements DocumentStore
func (s *Store) CreateModel(ctx context.Context, model *models.Model) error {
	slugKey := s.slugKey(model.MemberID, model.Slug)
	reserved, err := s.client.SetNX(ctx, slugKey, model.ID, 0).Result()
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageError, "Redis write failed")
	}
	if !reserved {
		return errors.NewConflictError("model", model.Slug)
	}

	model.Revision = 1
	if err := s.createDoc(ctx, s.modelKey(model.ID), "model", model.ID, model, s.modelIndexKey(), model.ID); err != nil {
		s.client.Del(ctx, slugKey)
		return err
	}
	return nil
}

// GetModel implements DocumentStore
func (s *Store) GetModel(ctx context.Context, id string) (*models.Model, error) {
	model := &models.Model{}
	if err := s.getDoc(ctx, s.modelKey(id), "model", id, model); err != nil {
		return nil, err
	}
	return model, nil
}

// GetModelBySlug implements DocumentStore
func (s *Store) GetModelBySlug(ctx context.Context, memberID, slug string) (*models.Model, error) {
	id, err := s.client.Get(ctx, s.slugKey(memberID, slug)).Result()
	if err == redis.Nil {
		return nil, errors.NewNotFoundError("model", slug)
	}
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageError, "Redis read failed")
	}
	return s.GetModel(ctx, id)
}

// ListModels implements DocumentStore. An empty memberID lists all models.
func (s *Store) ListModels(ctx context.Context, memberID string) ([]*models.Model, error) {
	ids, err := s.client.LRange(ctx, s.modelIndexKey(), 0, -1).Result()
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageError, "Redis read failed")
	}

	var out []*models.Model
	for _, id := range ids {
		model, err := s.GetModel(ctx, id)
		if errors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if memberID != "" && model.MemberID != memberID {
			continue
		}
		out = append(out, model)
	}
	return out, nil
}

// UpdateModel implements DocumentStore with revision CAS
func (s *Store) UpdateModel(ctx context.Context, model *models.Model) error {
	return s.casUpdate(ctx, s.modelKey(model.ID), "model", model.ID, model.Revision, func(rev int64) ([]byte, error) {
		model.Revision = rev
		return json.Marshal(model)
	})
}

// DeleteModel implements DocumentStore, cascading to predictions
func (s *Store) DeleteModel(ctx context.Context, id string) error {
	model, err := s.GetModel(ctx, id)
	if err != nil {
		return err
	}

	predIDs, err := s.client.LRange(ctx, s.predictionIndexKey(id), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageError, "Redis read failed")
	}
	for _, pid := range predIDs {
		s.client.Del(ctx, s.predictionKey(pid))
	}

	versions, err := s.client.LRange(ctx, s.versionIndexKey(id), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageError, "Redis read failed")
	}
	for _, v := range versions {
		s.client.Del(ctx, s.versionKey(id, v))
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.predictionIndexKey(id))
	pipe.Del(ctx, s.versionIndexKey(id))
	pipe.Del(ctx, s.policyKey(id))
	pipe.Del(ctx, s.slugKey(model.MemberID, model.Slug))
	pipe.Del(ctx, s.modelKey(id))
	pipe.LRem(ctx, s.modelIndexKey(), 0, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageError, "Redis delete failed")
	}
	return nil
}

// CreateVersion implements DocumentStore
func (s *Store) CreateVersion(ctx context.Context, version *models.ModelVersion) error {
	version.Revision = 1
	id := version.ModelID + ":" + version.Version
	return s.createDoc(ctx, s.versionKey(version.ModelID, version.Version), "model_version", id,
		version, s.versionIndexKey(version.ModelID), version.Version)
}

// GetVersion implements DocumentStore
func (s *Store) GetVersion(ctx context.Context, modelID, version string) (*models.ModelVersion, error) {
	mv := &models.ModelVersion{}
	if err := s.getDoc(ctx, s.versionKey(modelID, version), "model_version", modelID+":"+version, mv); err != nil {
		return nil, err
	}
	return mv, nil
}

// ListVersions implements DocumentStore
func (s *Store) ListVersions(ctx context.Context, modelID string) ([]*models.ModelVersion, error) {
	versions, err := s.client.LRange(ctx, s.versionIndexKey(modelID), 0, -1).Result()
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageError, "Redis read failed")
	}

	var out []*models.ModelVersion
	for _, v := range versions {
		mv, err := s.GetVersion(ctx, modelID, v)
		if errors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, mv)
	}
	return out, nil
}

// UpdateVersion implements DocumentStore with revision CAS
func (s *Store) UpdateVersion(ctx context.Context, version *models.ModelVersion) error {
	id := version.ModelID + ":" + version.Version
	return s.casUpdate(ctx, s.versionKey(version.ModelID, version.Version), "model_version", id, version.Revision, func(rev int64) ([]byte, error) {
		version.Revision = rev
		return json.Marshal(version)
	})
}

// CreatePrediction implements DocumentStore
func (s *Store) CreatePrediction(ctx context.Context, prediction *models.Prediction) error {
	prediction.Revision = 1
	return s.createDoc(ctx, s.predictionKey(prediction.ID), "prediction", prediction.ID,
		prediction, s.predictionIndexKey(prediction.ModelID), prediction.ID)
}

// GetPrediction implements DocumentStore
func (s *Store) GetPrediction(ctx context.Context, id string) (*models.Prediction, error) {
	p := &models.Prediction{}
	if err := s.getDoc(ctx, s.predictionKey(id), "prediction", id, p); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdatePrediction implements DocumentStore with revision CAS
func (s *Store) UpdatePrediction(ctx context.Context, prediction *models.Prediction) error {
	return s.casUpdate(ctx, s.predictionKey(prediction.ID), "prediction", prediction.ID, prediction.Revision, func(rev int64) ([]byte, error) {
		prediction.Revision = rev
		return json.Marshal(prediction)
	})
}

// ListPredictions implements DocumentStore, newest first
func (s *Store) ListPredictions(ctx context.Context, modelID string, limit int) ([]*models.Prediction, error) {
	stop := int64(-1)
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	ids, err := s.client.LRange(ctx, s.predictionIndexKey(modelID), start, stop).Result()
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageError, "Redis read failed")
	}

	var out []*models.Prediction
	for i := len(ids) - 1; i >= 0; i-- {
		p, err := s.GetPrediction(ctx, ids[i])
		if errors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// CreateABTest implements DocumentStore
func (s *Store) CreateABTest(ctx context.Context, test *models.ABTest) error {
	test.Revision = 1
	return s.createDoc(ctx, s.abTestKey(test.TestID), "ab_test", test.TestID, test)
}

// GetABTest implements DocumentStore
func (s *Store) GetABTest(ctx context.Context, testID string) (*models.ABTest, error) {
	test := &models.ABTest{}
	if err := s.getDoc(ctx, s.abTestKey(testID), "ab_test", testID, test); err != nil {
		return nil, err
	}
	return test, nil
}

// UpdateABTest implements DocumentStore with revision CAS
func (s *Store) UpdateABTest(ctx context.Context, test *models.ABTest) error {
	return s.casUpdate(ctx, s.abTestKey(test.TestID), "ab_test", test.TestID, test.Revision, func(rev int64) ([]byte, error) {
		test.Revision = rev
		return json.Marshal(test)
	})
}

// AppendABSample implements DocumentStore. The sample is appended inside
// a WATCH retry loop so concurrent recordings are never lost.
func (s *Store) AppendABSample(ctx context.Context, testID, arm string, sample models.ABSample) error {
	if arm != "A" && arm != "B" {
		return errors.NewValidationError(errors.CodeInvalidInput, "arm must be A or B")
	}

	key := s.abTestKey(testID)
	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return errors.NewNotFoundError("ab_test", testID)
		}
		if err != nil {
			return err
		}

		test := &models.ABTest{}
		if err := json.Unmarshal(data, test); err != nil {
			return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeInvalidFormat, "Failed to decode stored document")
		}

		if arm == "A" {
			test.SamplesA = append(test.SamplesA, sample)
		} else {
			test.SamplesB = append(test.SamplesB, sample)
		}
		test.Revision++

		encoded, err := json.Marshal(test)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		return err
	}

	var err error
	for attempt := 0; attempt < casRetries; attempt++ {
		err = s.client.Watch(ctx, txn, key)
		if err != redis.TxFailedErr {
			return err
		}
	}
	return errors.NewConflictError("ab_test", testID).
		WithDetails(fmt.Sprintf("sample append contended after %d attempts", casRetries))
}

// PutDriftPolicy implements DocumentStore
func (s *Store) PutDriftPolicy(ctx context.Context, policy *models.DriftPolicy) error {
	data, err := json.Marshal(policy)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeInvalidFormat, "Failed to encode document")
	}
	if err := s.client.Set(ctx, s.policyKey(policy.ModelID), data, 0).Err(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageError, "Redis write failed")
	}
	return nil
}

// GetDriftPolicy implements DocumentStore
func (s *Store) GetDriftPolicy(ctx context.Context, modelID string) (*models.DriftPolicy, error) {
	policy := &models.DriftPolicy{}
	if err := s.getDoc(ctx, s.policyKey(modelID), "drift_policy", modelID, policy); err != nil {
		return nil, err
	}
	return policy, nil
}

// CreateDeployment implements DocumentStore
func (s *Store) CreateDeployment(ctx context.Context, record *models.DeploymentRecord) error {
	record.Revision = 1
	return s.createDoc(ctx, s.deploymentKey(record.DeploymentID), "deployment", record.DeploymentID,
		record, s.deploymentIndexKey(record.ModelID), record.DeploymentID)
}

// GetDeployment implements DocumentStore
func (s *Store) GetDeployment(ctx context.Context, deploymentID string) (*models.DeploymentRecord, error) {
	record := &models.DeploymentRecord{}
	if err := s.getDoc(ctx, s.deploymentKey(deploymentID), "deployment", deploymentID, record); err != nil {
		return nil, err
	}
	return record, nil
}

// UpdateDeployment implements DocumentStore with revision CAS
func (s *Store) UpdateDeployment(ctx context.Context, record *models.DeploymentRecord) error {
	return s.casUpdate(ctx, s.deploymentKey(record.DeploymentID), "deployment", record.DeploymentID, record.Revision, func(rev int64) ([]byte, error) {
		record.Revision = rev
		return json.Marshal(record)
	})
}

// ListDeployments implements DocumentStore
func (s *Store) ListDeployments(ctx context.Context, modelID string) ([]*models.DeploymentRecord, error) {
	ids, err := s.client.LRange(ctx, s.deploymentIndexKey(modelID), 0, -1).Result()
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageError, "Redis read failed")
	}

	var out []*models.DeploymentRecord
	for _, id := range ids {
		record, err := s.GetDeployment(ctx, id)
		if errors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, nil
}

// Ping implements DocumentStore
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.Ping(ctx).Result(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Redis ping failed")
	}
	return nil
}

// Close implements DocumentStore
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageError, "Failed to close Redis connection")
	}
	s.logger.Info("Redis connection closed")
	return nil
}
