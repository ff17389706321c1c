package clients

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/propstack/mlserve/pkg/errors"
	"github.com/propstack/mlserve/pkg/interfaces"
)

// ComputeConfig configures the compute engine client
type ComputeConfig struct {
	BaseURL string        `mapstructure:"base_url" json:"base_url"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
}

// DefaultComputeConfig returns the default compute client configuration
func DefaultComputeConfig() *ComputeConfig {
	return &ComputeConfig{
		BaseURL: "http://localhost:8501",
		Timeout: 10 * time.Second,
	}
}

// ComputeClient talks HTTP to the external tensor computation service.
// Artifacts travel base64-encoded; the service keeps no state between
// calls.
type ComputeClient struct {
	logger *logrus.Logger
	config *ComputeConfig
	client *http.Client
}

// NewComputeClient creates a compute engine client
func NewComputeClient(config *ComputeConfig, logger *logrus.Logger) *ComputeClient {
	if config == nil {
		config = DefaultComputeConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &ComputeClient{
		logger: logger,
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

type inferRequest struct {
	Artifact string      `json:"artifact"`
	Version  string      `json:"version"`
	Input    interface{} `json:"input"`
}

type evaluateRequest struct {
	Artifact string      `json:"artifact"`
	TestSet  interface{} `json:"test_set"`
}

// Infer implements ComputeEngine
func (c *ComputeClient) Infer(ctx context.Context, artifact []byte, version string, input interface{}) (*interfaces.InferenceResult, error) {
	req := inferRequest{
		Artifact: base64.StdEncoding.EncodeToString(artifact),
		Version:  version,
		Input:    input,
	}

	var result interfaces.InferenceResult
	if err := c.post(ctx, "/v1/infer", req, &result); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeInferenceFailed, "inference call failed")
	}
	return &result, nil
}

// Evaluate implements ComputeEngine
func (c *ComputeClient) Evaluate(ctx context.Context, artifact []byte, testSet interface{}) (map[string]float64, error) {
	req := evaluateRequest{
		Artifact: base64.StdEncoding.EncodeToString(artifact),
		TestSet:  testSet,
	}

	var result struct {
		Metrics map[string]float64 `json:"metrics"`
	}
	if err := c.post(ctx, "/v1/evaluate", req, &result); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeInferenceFailed, "evaluation call failed")
	}
	return result.Metrics, nil
}

// Ping implements ComputeEngine
func (c *ComputeClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "compute engine unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.NewStorageError(errors.CodeConnectionFailed, fmt.Sprintf("compute engine health returned %d", resp.StatusCode))
	}
	return nil
}

func (c *ComputeClient) post(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("compute engine returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
