package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

// NewDriftCmd creates the drift command group
func NewDriftCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Configure and evaluate model drift detection",
	}

	cmd.AddCommand(newDriftConfigureCmd())
	cmd.AddCommand(newDriftCheckCmd())
	cmd.AddCommand(newModelHealthCmd())

	return cmd
}

func newDriftConfigureCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "configure <model-id>",
		Short: "Install a drift policy from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}

			var policy map[string]interface{}
			if err := json.Unmarshal(data, &policy); err != nil {
				return fmt.Errorf("invalid drift policy: %w", err)
			}

			var out map[string]interface{}
			if err := newAPIClient().do(http.MethodPut, "/api/v1/models/"+args[0]+"/drift-policy", policy, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to drift policy JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newDriftCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <model-id>",
		Short: "Evaluate drift against the configured policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]interface{}
			if err := newAPIClient().do(http.MethodGet, "/api/v1/models/"+args[0]+"/drift", nil, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}

func newModelHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health <model-id>",
		Short: "Show a model's serving health",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]interface{}
			if err := newAPIClient().do(http.MethodGet, "/api/v1/models/"+args[0]+"/health", nil, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}
