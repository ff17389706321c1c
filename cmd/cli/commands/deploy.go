package commands

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

// NewDeployCmd creates the deploy command group
func NewDeployCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Manage deployments and rollbacks",
	}

	cmd.AddCommand(newDeployStartCmd())
	cmd.AddCommand(newDeployStatusCmd())
	cmd.AddCommand(newDeployCancelCmd())
	cmd.AddCommand(newRollbackCmd())

	return cmd
}

func newDeployStartCmd() *cobra.Command {
	var (
		version      string
		stage        string
		strategy     string
		configJSON   string
		autoRollback bool
		maxAttempts  int
	)

	cmd := &cobra.Command{
		Use:   "start <model-id>",
		Short: "Deploy a model version with a rollout strategy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{
				"model_id": args[0],
				"version":  version,
				"stage":    stage,
				"strategy": strategy,
				"rollback_policy": map[string]interface{}{
					"enabled":               true,
					"auto_rollback":         autoRollback,
					"max_rollback_attempts": maxAttempts,
				},
			}
			if configJSON != "" {
				var cfg json.RawMessage
				if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
					return fmt.Errorf("invalid strategy config: %w", err)
				}
				body["config"] = cfg
			}

			var out map[string]interface{}
			if err := newAPIClient().do(http.MethodPost, "/api/v1/deployments", body, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}

	cmd.Flags().StringVar(&version, "version", "", "Version to deploy")
	cmd.Flags().StringVar(&stage, "stage", "production", "Target stage")
	cmd.Flags().StringVar(&strategy, "strategy", "canary", "Rollout strategy (immediate, rolling, canary, blue_green)")
	cmd.Flags().StringVar(&configJSON, "strategy-config", "", "Strategy configuration as inline JSON")
	cmd.Flags().BoolVar(&autoRollback, "auto-rollback", true, "Roll back automatically on sustained failure")
	cmd.Flags().IntVar(&maxAttempts, "max-rollback-attempts", 3, "Maximum automatic rollback attempts")
	_ = cmd.MarkFlagRequired("version")

	return cmd
}

func newDeployStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <deployment-id>",
		Short: "Show a deployment's status and health history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]interface{}
			if err := newAPIClient().do(http.MethodGet, "/api/v1/deployments/"+args[0], nil, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}

func newDeployCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <deployment-id>",
		Short: "Cancel an in-flight rollout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]interface{}
			if err := newAPIClient().do(http.MethodPost, "/api/v1/deployments/"+args[0]+"/cancel", nil, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}

func newRollbackCmd() *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "rollback <model-id>",
		Short: "Roll a model back to a previous version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"target_version": target}

			var out map[string]interface{}
			if err := newAPIClient().do(http.MethodPost, "/api/v1/models/"+args[0]+"/rollback", body, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}

	cmd.Flags().StringVar(&target, "to", "", "Target version to restore")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
