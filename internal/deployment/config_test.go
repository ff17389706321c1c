package deployment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propstack/mlserve/pkg/models"
)

func TestRollingConfigValidate(t *testing.T) {
	assert.NoError(t, RollingConfig{Replicas: 3, MaxUnavailable: 1}.Validate())
	assert.Error(t, RollingConfig{Replicas: 0}.Validate())
	assert.Error(t, RollingConfig{Replicas: 2, MaxUnavailable: -1}.Validate())
	assert.Error(t, RollingConfig{Replicas: 2, MaxUnavailable: 2}.Validate())
}

func TestCanaryConfigValidate(t *testing.T) {
	assert.NoError(t, CanaryConfig{InitialPercent: 10, StepPercent: 30, StepsToExpand: 2}.Validate())
	assert.Error(t, CanaryConfig{InitialPercent: 0, StepPercent: 30, StepsToExpand: 2}.Validate())
	assert.Error(t, CanaryConfig{InitialPercent: 101, StepPercent: 30, StepsToExpand: 2}.Validate())
	assert.Error(t, CanaryConfig{InitialPercent: 10, StepPercent: 0, StepsToExpand: 2}.Validate())
	assert.Error(t, CanaryConfig{InitialPercent: 10, StepPercent: 30, StepsToExpand: 0}.Validate())
}

func TestBlueGreenConfigValidate(t *testing.T) {
	assert.NoError(t, BlueGreenConfig{VerificationProbes: 1}.Validate())
	assert.Error(t, BlueGreenConfig{VerificationProbes: 0}.Validate())
}

func TestImmediateConfigValidate(t *testing.T) {
	assert.NoError(t, ImmediateConfig{}.Validate())
}

func TestProbeConfigValidate(t *testing.T) {
	valid := &ProbeConfig{
		Timeout:          time.Second,
		Interval:         2 * time.Second,
		SuccessThreshold: 1,
		FailureThreshold: 1,
	}
	assert.NoError(t, valid.Validate())

	assert.Error(t, (&ProbeConfig{Interval: 0}).Validate())
	assert.Error(t, (&ProbeConfig{Interval: time.Second, Timeout: 2 * time.Second, SuccessThreshold: 1, FailureThreshold: 1}).Validate())
	assert.Error(t, (&ProbeConfig{Interval: time.Second, Timeout: time.Second, SuccessThreshold: 0, FailureThreshold: 1}).Validate())
}

func TestDefaultProbeConfigIsValid(t *testing.T) {
	assert.NoError(t, DefaultProbeConfig().Validate())
}

func TestConfigForStrategy(t *testing.T) {
	for _, strategy := range []models.DeploymentStrategy{
		models.StrategyImmediate,
		models.StrategyRolling,
		models.StrategyCanary,
		models.StrategyBlueGreen,
	} {
		cfg, err := ConfigForStrategy(strategy)
		require.NoError(t, err)
		assert.Equal(t, strategy, cfg.Strategy())
		assert.NoError(t, cfg.Validate())
	}

	_, err := ConfigForStrategy("weighted")
	require.Error(t, err)
}
