package clients

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformWithoutPipelinePassesThrough(t *testing.T) {
	scaler := NewStandardScaler()
	input := map[string]interface{}{"area": 70.0}

	out, err := scaler.Transform(context.Background(), "m1", input)
	require.NoError(t, err)
	assert.Equal(t, input, out)
}

func TestTransformStandardizesRegisteredFeatures(t *testing.T) {
	scaler := NewStandardScaler()
	scaler.RegisterPipeline("m1", ScalerParams{
		Mean:   map[string]float64{"area": 50, "rooms": 2},
		StdDev: map[string]float64{"area": 25, "rooms": 1},
	})

	out, err := scaler.Transform(context.Background(), "m1", map[string]interface{}{
		"area":  75.0,
		"rooms": 3,
		"city":  "Lisbon",
	})
	require.NoError(t, err)

	features, ok := out.(map[string]interface{})
	require.True(t, ok)
	assert.InDelta(t, 1.0, features["area"].(float64), 1e-9)
	assert.InDelta(t, 1.0, features["rooms"].(float64), 1e-9)
	// Non-numeric features pass through untouched.
	assert.Equal(t, "Lisbon", features["city"])
}

func TestTransformSkipsZeroStdDev(t *testing.T) {
	scaler := NewStandardScaler()
	scaler.RegisterPipeline("m1", ScalerParams{
		Mean:   map[string]float64{"area": 50},
		StdDev: map[string]float64{"area": 0},
	})

	out, err := scaler.Transform(context.Background(), "m1", map[string]interface{}{"area": 75.0})
	require.NoError(t, err)

	features := out.(map[string]interface{})
	assert.Equal(t, 75.0, features["area"])
}

func TestTransformNonMapInputPassesThrough(t *testing.T) {
	scaler := NewStandardScaler()
	scaler.RegisterPipeline("m1", ScalerParams{
		Mean:   map[string]float64{"area": 50},
		StdDev: map[string]float64{"area": 25},
	})

	out, err := scaler.Transform(context.Background(), "m1", []float64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, out)
}

func TestStaticAuthorizerGrants(t *testing.T) {
	authz := NewStaticAuthorizer()
	authz.Grant("alice", "model:delete")
	ctx := context.Background()

	allowed, err := authz.HasPermission(ctx, "alice", "tenant-1", "model:delete")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = authz.HasPermission(ctx, "alice", "tenant-1", "model:promote")
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = authz.HasPermission(ctx, "bob", "tenant-1", "model:delete")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestAllowAllAuthorizer(t *testing.T) {
	authz := NewAllowAllAuthorizer()

	allowed, err := authz.HasPermission(context.Background(), "anyone", "tenant-1", "model:delete")
	require.NoError(t, err)
	assert.True(t, allowed)
}
