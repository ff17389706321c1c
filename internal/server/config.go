package server

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/propstack/mlserve/internal/clients"
	"github.com/propstack/mlserve/internal/observability/metrics"
	"github.com/propstack/mlserve/internal/storage/redis"
)

// Config contains the full service configuration
type Config struct {
	Server    ServerConfig             `mapstructure:"server" json:"server"`
	Storage   StorageConfig            `mapstructure:"storage" json:"storage"`
	Artifacts ArtifactsConfig          `mapstructure:"artifacts" json:"artifacts"`
	Pool      PoolConfig               `mapstructure:"pool" json:"pool"`
	Compute   clients.ComputeConfig    `mapstructure:"compute" json:"compute"`
	Queue     clients.QueueConfig      `mapstructure:"queue" json:"queue"`
	Metrics   metrics.PrometheusConfig `mapstructure:"metrics" json:"metrics"`
	Logging   LoggingConfig            `mapstructure:"logging" json:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host" json:"host"`
	Port            int           `mapstructure:"port" json:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout"`
	MaxRequestSize  int64         `mapstructure:"max_request_size" json:"max_request_size"`
	EnableCORS      bool          `mapstructure:"enable_cors" json:"enable_cors"`
}

// StorageConfig selects and configures the document store backend
type StorageConfig struct {
	Backend string            `mapstructure:"backend" json:"backend"`
	Redis   redis.RedisConfig `mapstructure:"redis" json:"redis"`
}

// ArtifactsConfig selects and configures the artifact store backend
type ArtifactsConfig struct {
	Backend  string `mapstructure:"backend" json:"backend"`
	BasePath string `mapstructure:"base_path" json:"base_path"`
	S3Bucket string `mapstructure:"s3_bucket" json:"s3_bucket"`
	S3Region string `mapstructure:"s3_region" json:"s3_region"`
	S3Prefix string `mapstructure:"s3_prefix" json:"s3_prefix"`
}

// PoolConfig configures the in-memory model pool
type PoolConfig struct {
	Capacity    int `mapstructure:"capacity" json:"capacity"`
	LoadRetries int `mapstructure:"load_retries" json:"load_retries"`
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// DefaultConfig returns the default service configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxRequestSize:  10 << 20,
			EnableCORS:      true,
		},
		Storage: StorageConfig{
			Backend: "memory",
			Redis:   *redis.DefaultRedisConfig(),
		},
		Artifacts: ArtifactsConfig{
			Backend:  "local",
			BasePath: "/var/lib/mlserve/artifacts",
			S3Region: "us-east-1",
		},
		Pool: PoolConfig{
			Capacity:    16,
			LoadRetries: 3,
		},
		Compute: *clients.DefaultComputeConfig(),
		Queue:   *clients.DefaultQueueConfig(),
		Metrics: *metrics.DefaultPrometheusConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig reads configuration from an optional YAML file with
// MLSERVE_-prefixed environment overrides.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MLSERVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	config := DefaultConfig()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, err
	}
	return config, nil
}
