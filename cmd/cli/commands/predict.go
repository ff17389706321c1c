package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

// NewPredictCmd creates the predict command
func NewPredictCmd() *cobra.Command {
	var (
		modelID string
		version string
		stage   string
		testID  string
		input   string
		file    string
	)

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Serve a prediction through the pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := []byte(input)
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				raw = data
			}
			if len(raw) == 0 {
				return fmt.Errorf("provide --input or --file")
			}

			var parsed interface{}
			if err := json.Unmarshal(raw, &parsed); err != nil {
				return fmt.Errorf("invalid input JSON: %w", err)
			}

			body := map[string]interface{}{
				"model_id": modelID,
				"input":    parsed,
			}
			if version != "" {
				body["version"] = version
			}
			if stage != "" {
				body["stage"] = stage
			}
			if testID != "" {
				body["ab_test_id"] = testID
			}

			var out map[string]interface{}
			if err := newAPIClient().do(http.MethodPost, "/api/v1/predict", body, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}

	cmd.Flags().StringVar(&modelID, "model", "", "Model ID")
	cmd.Flags().StringVar(&version, "version", "", "Explicit version override")
	cmd.Flags().StringVar(&stage, "stage", "", "Resolve latest version at this stage")
	cmd.Flags().StringVar(&testID, "abtest", "", "Route through this A/B test")
	cmd.Flags().StringVar(&input, "input", "", "Input features as inline JSON")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Input features from a JSON file")
	_ = cmd.MarkFlagRequired("model")

	return cmd
}
