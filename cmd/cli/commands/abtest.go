package commands

import (
	"net/http"

	"github.com/spf13/cobra"
)

// NewABTestCmd creates the abtest command group
func NewABTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "abtest",
		Short: "Manage A/B tests between model versions",
	}

	cmd.AddCommand(newABTestStartCmd())
	cmd.AddCommand(newABTestResultsCmd())
	cmd.AddCommand(newABTestStopCmd())

	return cmd
}

func newABTestStartCmd() *cobra.Command {
	var (
		modelA, versionA string
		modelB, versionB string
		split            int
		minSamples       int
	)

	cmd := &cobra.Command{
		Use:   "start <test-id>",
		Short: "Start an A/B test between two model versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{
				"test_id":       args[0],
				"arm_a":         map[string]string{"model_id": modelA, "version": versionA},
				"arm_b":         map[string]string{"model_id": modelB, "version": versionB},
				"traffic_split": split,
				"min_samples":   minSamples,
			}

			var out map[string]interface{}
			if err := newAPIClient().do(http.MethodPost, "/api/v1/abtests", body, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}

	cmd.Flags().StringVar(&modelA, "model-a", "", "Arm A model ID")
	cmd.Flags().StringVar(&versionA, "version-a", "", "Arm A version")
	cmd.Flags().StringVar(&modelB, "model-b", "", "Arm B model ID")
	cmd.Flags().StringVar(&versionB, "version-b", "", "Arm B version")
	cmd.Flags().IntVar(&split, "split", 50, "Percentage of traffic routed to arm A")
	cmd.Flags().IntVar(&minSamples, "min-samples", 100, "Minimum samples per arm before a winner is declared")
	_ = cmd.MarkFlagRequired("model-a")
	_ = cmd.MarkFlagRequired("version-a")
	_ = cmd.MarkFlagRequired("model-b")
	_ = cmd.MarkFlagRequired("version-b")

	return cmd
}

func newABTestResultsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "results <test-id>",
		Short: "Show accumulated A/B test results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]interface{}
			if err := newAPIClient().do(http.MethodGet, "/api/v1/abtests/"+args[0]+"/results", nil, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}

func newABTestStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <test-id>",
		Short: "Stop an A/B test and determine the winner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]interface{}
			if err := newAPIClient().do(http.MethodPost, "/api/v1/abtests/"+args[0]+"/stop", nil, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}
