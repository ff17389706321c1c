package clients

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/propstack/mlserve/pkg/errors"
)

// QueueConfig configures the Redis-backed job queue
type QueueConfig struct {
	Addr     string `mapstructure:"addr" json:"addr"`
	Password string `mapstructure:"password" json:"password"`
	DB       int    `mapstructure:"db" json:"db"`
	Queue    string `mapstructure:"queue" json:"queue"`
}

// DefaultQueueConfig returns the default queue configuration
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		Addr:  "localhost:6379",
		Queue: "mlserve:jobs",
	}
}

// queuedJob is the envelope pushed onto the training queue. Workers pop
// with BLPOP and process by type.
type queuedJob struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	Payload    interface{} `json:"payload"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
}

// RedisQueue implements JobQueue on a Redis list
type RedisQueue struct {
	logger *logrus.Logger
	config *QueueConfig
	client *redis.Client
}

// NewRedisQueue creates a Redis-backed job queue
func NewRedisQueue(config *QueueConfig, logger *logrus.Logger) *RedisQueue {
	if config == nil {
		config = DefaultQueueConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &RedisQueue{
		logger: logger,
		config: config,
		client: redis.NewClient(&redis.Options{
			Addr:     config.Addr,
			Password: config.Password,
			DB:       config.DB,
		}),
	}
}

// Enqueue implements JobQueue
func (q *RedisQueue) Enqueue(ctx context.Context, jobType string, payload interface{}) error {
	job := queuedJob{
		ID:         uuid.New().String(),
		Type:       jobType,
		Payload:    payload,
		EnqueuedAt: time.Now(),
	}

	data, err := json.Marshal(job)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeInvalidFormat, "failed to encode job")
	}

	if err := q.client.RPush(ctx, q.config.Queue, data).Err(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageError, "failed to enqueue job")
	}

	q.logger.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"job_type": jobType,
		"queue":    q.config.Queue,
	}).Info("Enqueued job")

	return nil
}

// Ping implements JobQueue
func (q *RedisQueue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "job queue unreachable")
	}
	return nil
}

// Close releases the queue connection
func (q *RedisQueue) Close() error {
	return q.client.Close()
}
