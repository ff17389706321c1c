package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

// NewModelsCmd creates the models command group
func NewModelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Manage registered models and versions",
	}

	cmd.AddCommand(newModelsListCmd())
	cmd.AddCommand(newModelsGetCmd())
	cmd.AddCommand(newModelsCreateCmd())
	cmd.AddCommand(newModelsDeleteCmd())
	cmd.AddCommand(newVersionsCmd())
	cmd.AddCommand(newPromoteCmd())
	cmd.AddCommand(newArchiveCmd())

	return cmd
}

func newModelsListCmd() *cobra.Command {
	var memberID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered models",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/models"
			if memberID != "" {
				path += "?member_id=" + memberID
			}

			var out map[string]interface{}
			if err := newAPIClient().do(http.MethodGet, path, nil, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}

	cmd.Flags().StringVar(&memberID, "member", "", "Filter by tenant member ID")
	return cmd
}

func newModelsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <model-id>",
		Short: "Show one model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]interface{}
			if err := newAPIClient().do(http.MethodGet, "/api/v1/models/"+args[0], nil, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}

func newModelsCreateCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a model from a JSON definition file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}

			var model map[string]interface{}
			if err := json.Unmarshal(data, &model); err != nil {
				return fmt.Errorf("invalid model definition: %w", err)
			}

			var out map[string]interface{}
			if err := newAPIClient().do(http.MethodPost, "/api/v1/models", model, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to model definition JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newModelsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <model-id>",
		Short: "Delete a model and its predictions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newAPIClient().do(http.MethodDelete, "/api/v1/models/"+args[0], nil, nil); err != nil {
				return err
			}
			fmt.Println("deleted", args[0])
			return nil
		},
	}
}

func newVersionsCmd() *cobra.Command {
	var best string

	cmd := &cobra.Command{
		Use:   "versions <model-id>",
		Short: "List a model's versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/models/" + args[0] + "/versions"
			if best != "" {
				path += "?best=" + best
			}

			var out map[string]interface{}
			if err := newAPIClient().do(http.MethodGet, path, nil, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}

	cmd.Flags().StringVar(&best, "best", "", "Return only the best version by this metric")
	return cmd
}

func newPromoteCmd() *cobra.Command {
	var stage string

	cmd := &cobra.Command{
		Use:   "promote <model-id> <version>",
		Short: "Promote a version to the next lifecycle stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"stage": stage}
			path := fmt.Sprintf("/api/v1/models/%s/versions/%s/promote", args[0], args[1])

			var out map[string]interface{}
			if err := newAPIClient().do(http.MethodPost, path, body, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}

	cmd.Flags().StringVar(&stage, "stage", "", "Target stage (staging, production, archived)")
	_ = cmd.MarkFlagRequired("stage")
	return cmd
}

func newArchiveCmd() *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "archive <model-id>",
		Short: "Archive old versions, keeping the most recent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]int{"keep_count": keep}

			var out map[string]interface{}
			if err := newAPIClient().do(http.MethodPost, "/api/v1/models/"+args[0]+"/versions/archive", body, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 5, "Number of recent versions to keep")
	return cmd
}
