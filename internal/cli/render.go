package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/davidthor/orochestra/pkg/plan"
)

// printPlan renders every task in p in topological order (falling back
// to an unordered walk if the plan contains a dependency cycle, which
// should never happen for a committed plan but shouldn't crash the CLI
// if it somehow does).
func printPlan(cmd *cobra.Command, p *plan.Plan) {
	out := cmd.OutOrStdout()

	tasks, err := p.TopologicalSort()
	if err != nil {
		for _, t := range p.Tasks {
			tasks = append(tasks, t)
		}
	}

	fmt.Fprintf(out, "plan: %d task(s)\n", len(tasks))
	for _, t := range tasks {
		fmt.Fprintf(out, "  %s  [%s]", t.String(), t.State)
		if t.Binding != nil {
			fmt.Fprintf(out, "  -> %s/%s/%s", t.Binding.ProcessServer, t.Binding.Deployment, t.Binding.Slot)
		}
		fmt.Fprintln(out)
	}

	if len(p.Edges) > 0 {
		fmt.Fprintf(out, "edges: %d\n", len(p.Edges))
		for _, e := range p.Edges {
			fmt.Fprintf(out, "  %s.%s -> %s.%s\n", e.FromTask, e.FromPort, e.ToTask, e.ToPort)
		}
	}
}
