package deployment

import (
	"time"

	"github.com/propstack/mlserve/pkg/errors"
	"github.com/propstack/mlserve/pkg/models"
)

// StrategyConfig is a validated, strategy-specific rollout configuration.
// Each strategy has its own typed struct; validation happens at
// construction, not at use.
type StrategyConfig interface {
	Strategy() models.DeploymentStrategy
	Validate() error
}

// ImmediateConfig cuts all traffic to the new version at once. The first
// probe result decides the outcome.
type ImmediateConfig struct{}

// Strategy implements StrategyConfig
func (c ImmediateConfig) Strategy() models.DeploymentStrategy { return models.StrategyImmediate }

// Validate implements StrategyConfig
func (c ImmediateConfig) Validate() error { return nil }

// RollingConfig replaces replicas one at a time, advancing only while
// probes stay within thresholds.
type RollingConfig struct {
	Replicas       int `json:"replicas"`
	MaxUnavailable int `json:"max_unavailable"`
}

// Strategy implements StrategyConfig
func (c RollingConfig) Strategy() models.DeploymentStrategy { return models.StrategyRolling }

// Validate implements StrategyConfig
func (c RollingConfig) Validate() error {
	if c.Replicas <= 0 {
		return errors.NewValidationError(errors.CodeOutOfRange, "rolling deployment requires at least one replica")
	}
	if c.MaxUnavailable < 0 || c.MaxUnavailable >= c.Replicas {
		return errors.NewValidationError(errors.CodeOutOfRange, "max unavailable must be less than replica count")
	}
	return nil
}

// CanaryConfig routes a small traffic fraction first and expands in steps
// on sustained health.
type CanaryConfig struct {
	InitialPercent int `json:"initial_percent"`
	StepPercent    int `json:"step_percent"`
	// StepsToExpand is the number of consecutive healthy probes required
	// before traffic expands by StepPercent.
	StepsToExpand int `json:"steps_to_expand"`
}

// Strategy implements StrategyConfig
func (c CanaryConfig) Strategy() models.DeploymentStrategy { return models.StrategyCanary }

// Validate implements StrategyConfig
func (c CanaryConfig) Validate() error {
	if c.InitialPercent <= 0 || c.InitialPercent > 100 {
		return errors.NewValidationError(errors.CodeOutOfRange, "canary initial percent must be in (0, 100]")
	}
	if c.StepPercent <= 0 {
		return errors.NewValidationError(errors.CodeOutOfRange, "canary step percent must be positive")
	}
	if c.StepsToExpand <= 0 {
		return errors.NewValidationError(errors.CodeOutOfRange, "canary steps to expand must be positive")
	}
	return nil
}

// BlueGreenConfig stands the new version up fully in parallel and cuts
// over atomically once verification probes pass. The old version stays as
// an instant rollback target.
type BlueGreenConfig struct {
	VerificationProbes int `json:"verification_probes"`
}

// Strategy implements StrategyConfig
func (c BlueGreenConfig) Strategy() models.DeploymentStrategy { return models.StrategyBlueGreen }

// Validate implements StrategyConfig
func (c BlueGreenConfig) Validate() error {
	if c.VerificationProbes <= 0 {
		return errors.NewValidationError(errors.CodeOutOfRange, "blue/green requires at least one verification probe")
	}
	return nil
}

// ProbeConfig configures rollout health probes
type ProbeConfig struct {
	Type             string        `json:"type"`
	Timeout          time.Duration `json:"timeout"`
	Interval         time.Duration `json:"interval"`
	Retries          int           `json:"retries"`
	SuccessThreshold int           `json:"success_threshold"`
	FailureThreshold int           `json:"failure_threshold"`
}

// Validate checks probe configuration bounds
func (c *ProbeConfig) Validate() error {
	if c.Interval <= 0 {
		return errors.NewValidationError(errors.CodeOutOfRange, "probe interval must be positive")
	}
	if c.Timeout <= 0 || c.Timeout > c.Interval {
		return errors.NewValidationError(errors.CodeOutOfRange, "probe timeout must be positive and at most the interval")
	}
	if c.SuccessThreshold <= 0 || c.FailureThreshold <= 0 {
		return errors.NewValidationError(errors.CodeOutOfRange, "probe thresholds must be positive")
	}
	return nil
}

// DefaultProbeConfig returns the default probe configuration
func DefaultProbeConfig() *ProbeConfig {
	return &ProbeConfig{
		Type:             "inference",
		Timeout:          2 * time.Second,
		Interval:         5 * time.Second,
		Retries:          1,
		SuccessThreshold: 3,
		FailureThreshold: 3,
	}
}

// ConfigForStrategy builds the default typed config for a named strategy
func ConfigForStrategy(strategy models.DeploymentStrategy) (StrategyConfig, error) {
	switch strategy {
	case models.StrategyImmediate:
		return ImmediateConfig{}, nil
	case models.StrategyRolling:
		return RollingConfig{Replicas: 3, MaxUnavailable: 1}, nil
	case models.StrategyCanary:
		return CanaryConfig{InitialPercent: 10, StepPercent: 30, StepsToExpand: 2}, nil
	case models.StrategyBlueGreen:
		return BlueGreenConfig{VerificationProbes: 3}, nil
	default:
		return nil, errors.NewValidationError(errors.CodeInvalidStrategy, "unknown deployment strategy")
	}
}
