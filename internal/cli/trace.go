package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	orerrors "github.com/davidthor/orochestra/pkg/errors"
	"github.com/davidthor/orochestra/pkg/trace"
)

func newTraceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trace",
		Short: "Run the pipeline and print its diagnostic trace",
		Long: `trace runs the same instantiate -> merge -> deploy pipeline as "plan" but
records every merge candidate considered, accepted merge, rejected
default, and disambiguation decision along the way. The
trace format is not part of any external contract; this is a plain
line-per-event report for a human reading a CLI run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tr := trace.New()
			_, err := runPipeline(cmd.Context(), catalogPath, networkPath, tr)
			fmt.Fprint(cmd.OutOrStdout(), tr.String())
			if err != nil {
				if e, ok := err.(*orerrors.Error); ok && e.Code == orerrors.CodeMissingDeployments {
					return nil
				}
				return err
			}
			return nil
		},
	}
}
