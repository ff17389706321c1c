package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/propstack/mlserve/internal/abtest"
	"github.com/propstack/mlserve/internal/artifacts"
	"github.com/propstack/mlserve/internal/clients"
	"github.com/propstack/mlserve/internal/deployment"
	"github.com/propstack/mlserve/internal/feedback"
	"github.com/propstack/mlserve/internal/monitoring"
	"github.com/propstack/mlserve/internal/observability/metrics"
	"github.com/propstack/mlserve/internal/pipeline"
	"github.com/propstack/mlserve/internal/registry"
	"github.com/propstack/mlserve/internal/security"
	"github.com/propstack/mlserve/internal/server"
	"github.com/propstack/mlserve/internal/storage/memory"
	redisstore "github.com/propstack/mlserve/internal/storage/redis"
	"github.com/propstack/mlserve/pkg/interfaces"
)

func main() {
	flags := ParseFlags()

	config, err := server.LoadConfig(flags.ConfigFile)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if flags.LogLevel != "" {
		config.Logging.Level = flags.LogLevel
	}
	if flags.LogFormat != "" {
		config.Logging.Format = flags.LogFormat
	}

	logger := setupLogger(config.Logging.Level, config.Logging.Format)

	logger.WithFields(logrus.Fields{
		"version":   Version,
		"commit":    GitCommit,
		"buildDate": BuildDate,
	}).Info("Starting model serving orchestrator")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Document store
	store, err := buildStore(ctx, config, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize document store")
	}
	defer store.Close()

	// Artifact store
	artifactStore, err := buildArtifactStore(config, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize artifact store")
	}

	// Metrics
	collector, err := metrics.NewPrometheusCollector(&config.Metrics, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize metrics")
	}
	if err := collector.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start metrics server")
	}

	// Collaborators
	compute := clients.NewComputeClient(&config.Compute, logger)
	queue := clients.NewRedisQueue(&config.Queue, logger)
	authz := clients.NewAllowAllAuthorizer()
	transformer := clients.NewStandardScaler()

	// Core services
	validator := security.NewValidator(security.DefaultValidatorConfig())
	reg := registry.NewRegistry(registry.DefaultConfig(), store, authz, logger)
	abRouter := abtest.NewRouter(store, logger)
	pool := pipeline.NewModelPool(artifactStore, config.Pool.Capacity, config.Pool.LoadRetries, logger)
	pl := pipeline.NewPipeline(validator, reg, abRouter, pool, store, compute, transformer, collector, logger)
	fb := feedback.NewService(store, reg, queue, collector, logger)
	prober := deployment.NewInferenceProber(store, pool, compute, logger)
	orchestrator := deployment.NewOrchestrator(store, reg, prober, collector, logger)
	drift := monitoring.NewDriftDetector(store, collector, logger)
	health := monitoring.NewHealthMonitor(nil, store, []monitoring.InfraCheck{
		{Name: "document_store", Ping: store.Ping},
		{Name: "model_cache", Ping: pool.Ping},
		{Name: "compute_engine", Ping: compute.Ping},
		{Name: "job_queue", Ping: queue.Ping},
	}, logger)

	handlers := server.NewHandlers(reg, pl, abRouter, fb, orchestrator, drift, health, Version, logger)
	srv := server.NewServer(&config.Server, handlers, logger)

	go func() {
		if err := srv.Start(ctx); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	orchestrator.Stop()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}
	if err := collector.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Metrics shutdown failed")
	}

	logger.Info("Server stopped")
}

func buildStore(ctx context.Context, config *server.Config, logger *logrus.Logger) (interfaces.DocumentStore, error) {
	switch config.Storage.Backend {
	case "redis":
		return redisstore.NewStore(ctx, &config.Storage.Redis, logger)
	default:
		logger.Info("Using in-memory document store")
		return memory.NewStore(), nil
	}
}

func buildArtifactStore(config *server.Config, logger *logrus.Logger) (artifacts.Store, error) {
	switch config.Artifacts.Backend {
	case "s3":
		return artifacts.NewS3Store(&artifacts.S3Config{
			Region: config.Artifacts.S3Region,
			Bucket: config.Artifacts.S3Bucket,
			Prefix: config.Artifacts.S3Prefix,
		}, logger)
	default:
		return artifacts.NewLocalStore(config.Artifacts.BasePath, logger)
	}
}

func setupLogger(level, format string) *logrus.Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}
