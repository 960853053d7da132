package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/davidthor/orochestra/pkg/errors"
)

func newPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Instantiate, merge, and deploy the network, printing the resulting plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := runPipeline(cmd.Context(), catalogPath, networkPath, nil)
			if p != nil {
				printPlan(cmd, p)
			}
			if err != nil {
				if e, ok := err.(*errors.Error); ok && e.Code == errors.CodeMissingDeployments {
					fmt.Fprintln(cmd.OutOrStdout())
					printMissingDeployments(cmd, e)
					return nil
				}
				return err
			}
			return nil
		},
	}
}

func printMissingDeployments(cmd *cobra.Command, e *errors.Error) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "missing deployments:")
	candidates, _ := e.Details["candidates"].(map[string][]errors.CandidateReport)
	for taskID, reports := range candidates {
		fmt.Fprintf(out, "  %s:\n", taskID)
		if len(reports) == 0 {
			fmt.Fprintln(out, "    no candidates found")
			continue
		}
		for _, r := range reports {
			fmt.Fprintf(out, "    %s/%s/%s: %s", r.ProcessServer, r.Deployment, r.Slot, r.Rejected)
			if r.UsedBy != "" {
				fmt.Fprintf(out, " (used by %s)", r.UsedBy)
			}
			fmt.Fprintln(out)
		}
	}
}
