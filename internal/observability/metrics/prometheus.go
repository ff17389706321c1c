package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// PrometheusConfig configures the metrics endpoint
type PrometheusConfig struct {
	Enabled   bool   `json:"enabled"`
	Port      int    `json:"port"`
	Path      string `json:"path"`
	Namespace string `json:"namespace"`
}

// DefaultPrometheusConfig returns the default metrics configuration
func DefaultPrometheusConfig() *PrometheusConfig {
	return &PrometheusConfig{
		Enabled:   true,
		Port:      9090,
		Path:      "/metrics",
		Namespace: "mlserve",
	}
}

// PrometheusCollector implements MetricsCollector on a dedicated
// Prometheus registry with its own scrape endpoint.
type PrometheusCollector struct {
	logger   *logrus.Logger
	config   *PrometheusConfig
	registry *prometheus.Registry
	server   *http.Server

	predictionsTotal   *prometheus.CounterVec
	predictionDuration *prometheus.HistogramVec
	rejectionsTotal    *prometheus.CounterVec
	deploymentsTotal   *prometheus.CounterVec
	feedbackTotal      *prometheus.CounterVec
	abSamplesTotal     *prometheus.CounterVec
	modelsLoaded       prometheus.Gauge
	driftScore         *prometheus.GaugeVec
}

// NewPrometheusCollector creates and registers the orchestrator metrics
func NewPrometheusCollector(config *PrometheusConfig, logger *logrus.Logger) (*PrometheusCollector, error) {
	if config == nil {
		config = DefaultPrometheusConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}

	pc := &PrometheusCollector{
		logger:   logger,
		config:   config,
		registry: prometheus.NewRegistry(),
	}

	ns := config.Namespace
	pc.predictionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "predictions_total",
		Help:      "Total predictions served, by model type and outcome",
	}, []string{"model_type", "outcome"})

	pc.predictionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns,
		Name:      "prediction_duration_seconds",
		Help:      "End-to-end prediction latency",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"model_type"})

	pc.rejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "rejections_total",
		Help:      "Inputs rejected by security validation, by model and reason",
	}, []string{"model_id", "reason"})

	pc.deploymentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "deployments_total",
		Help:      "Deployment outcomes, by strategy and terminal status",
	}, []string{"strategy", "status"})

	pc.feedbackTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "feedback_total",
		Help:      "Feedback submissions, by model type",
	}, []string{"model_type"})

	pc.abSamplesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "ab_samples_total",
		Help:      "A/B test samples recorded, by test and arm",
	}, []string{"test_id", "arm"})

	pc.modelsLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "models_loaded",
		Help:      "Model artifacts currently resident in the serving pool",
	})

	pc.driftScore = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "drift_score",
		Help:      "Latest drift score per model",
	}, []string{"model_id"})

	collectors := []prometheus.Collector{
		pc.predictionsTotal,
		pc.predictionDuration,
		pc.rejectionsTotal,
		pc.deploymentsTotal,
		pc.feedbackTotal,
		pc.abSamplesTotal,
		pc.modelsLoaded,
		pc.driftScore,
	}
	for _, c := range collectors {
		if err := pc.registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return pc, nil
}

// Start serves the scrape endpoint until Stop is called
func (pc *PrometheusCollector) Start(ctx context.Context) error {
	if !pc.config.Enabled {
		pc.logger.Info("Prometheus metrics disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(pc.config.Path, promhttp.HandlerFor(pc.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	pc.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", pc.config.Port),
		Handler: mux,
	}

	pc.logger.WithFields(logrus.Fields{
		"port": pc.config.Port,
		"path": pc.config.Path,
	}).Info("Starting Prometheus metrics server")

	go func() {
		if err := pc.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			pc.logger.WithError(err).Error("Prometheus metrics server failed")
		}
	}()

	return nil
}

// Stop shuts the scrape endpoint down
func (pc *PrometheusCollector) Stop(ctx context.Context) error {
	if pc.server == nil {
		return nil
	}
	return pc.server.Shutdown(ctx)
}

// RecordPrediction implements MetricsCollector
func (pc *PrometheusCollector) RecordPrediction(modelType, outcome string, duration time.Duration) {
	pc.predictionsTotal.WithLabelValues(modelType, outcome).Inc()
	pc.predictionDuration.WithLabelValues(modelType).Observe(duration.Seconds())
}

// RecordRejection implements MetricsCollector
func (pc *PrometheusCollector) RecordRejection(modelID, reason string) {
	pc.rejectionsTotal.WithLabelValues(modelID, reason).Inc()
}

// RecordDeployment implements MetricsCollector
func (pc *PrometheusCollector) RecordDeployment(strategy, status string) {
	pc.deploymentsTotal.WithLabelValues(strategy, status).Inc()
}

// RecordFeedback implements MetricsCollector
func (pc *PrometheusCollector) RecordFeedback(modelType string) {
	pc.feedbackTotal.WithLabelValues(modelType).Inc()
}

// RecordABSample implements MetricsCollector
func (pc *PrometheusCollector) RecordABSample(testID, arm string) {
	pc.abSamplesTotal.WithLabelValues(testID, arm).Inc()
}

// SetModelsLoaded implements MetricsCollector
func (pc *PrometheusCollector) SetModelsLoaded(count float64) {
	pc.modelsLoaded.Set(count)
}

// SetDriftScore implements MetricsCollector
func (pc *PrometheusCollector) SetDriftScore(modelID string, score float64) {
	pc.driftScore.WithLabelValues(modelID).Set(score)
}
