package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/propstack/mlserve/internal/clients"
	"github.com/propstack/mlserve/internal/monitoring"
	"github.com/propstack/mlserve/internal/observability/metrics"
	"github.com/propstack/mlserve/internal/server"
	"github.com/propstack/mlserve/internal/storage/memory"
	redisstore "github.com/propstack/mlserve/internal/storage/redis"
	"github.com/propstack/mlserve/pkg/interfaces"
)

// The worker runs scheduled drift sweeps across all models with a
// configured drift policy and enqueues retraining when drift sustains.

type workerFlags struct {
	ConfigFile    string
	SweepInterval time.Duration
	LogLevel      string
	LogFormat     string
}

func main() {
	flags := parseFlags()

	config, err := server.LoadConfig(flags.ConfigFile)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if flags.LogLevel != "" {
		config.Logging.Level = flags.LogLevel
	}

	logger := setupLogger(config.Logging.Level, config.Logging.Format)
	logger.WithField("sweep_interval", flags.SweepInterval).Info("Starting drift monitor worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := buildStore(ctx, config, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize document store")
	}
	defer store.Close()

	collector, err := metrics.NewPrometheusCollector(&config.Metrics, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize metrics")
	}
	if err := collector.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start metrics server")
	}

	queue := clients.NewRedisQueue(&config.Queue, logger)
	detector := monitoring.NewDriftDetector(store, collector, logger)

	sweeper := NewDriftSweeper(store, detector, queue, logger)
	go sweeper.Run(ctx, flags.SweepInterval)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := collector.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Metrics shutdown failed")
	}

	logger.Info("Worker stopped")
}

func parseFlags() *workerFlags {
	flags := &workerFlags{}

	flag.StringVar(&flags.ConfigFile, "config", "", "Path to configuration file")
	flag.DurationVar(&flags.SweepInterval, "sweep-interval", 15*time.Minute, "Interval between drift sweeps")
	flag.StringVar(&flags.LogLevel, "log-level", "", "Log level override")
	flag.StringVar(&flags.LogFormat, "log-format", "", "Log format override")

	flag.Parse()
	return flags
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
