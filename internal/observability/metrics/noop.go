package metrics

import "time"

// NoopCollector discards all metrics. Used in tests and when metrics
// are disabled.
type NoopCollector struct{}

// NewNoopCollector creates a collector that records nothing
func NewNoopCollector() *NoopCollector { return &NoopCollector{} }

func (NoopCollector) RecordPrediction(modelType, outcome string, duration time.Duration) {}
func (NoopCollector) RecordRejection(modelID, reason string)                             {}
func (NoopCollector) RecordDeployment(strategy, status string)                           {}
func (NoopCollector) RecordFeedback(modelType string)                                    {}
func (NoopCollector) RecordABSample(testID, arm string)                                  {}
func (NoopCollector) SetModelsLoaded(count float64)                                      {}
func (NoopCollector) SetDriftScore(modelID string, score float64)                        {}
