// Package cli implements the orochestra CLI commands: a thin entry
// point over the network transformation pipeline (instantiate -> merge
// -> deploy). No config DSL, no persistence, no process-server
// lifecycle lives here.
package cli

import (
	"github.com/spf13/cobra"
)

var (
	catalogPath      string
	networkPath      string
	defaultGroupFlag string
	gitCatalogFlag   string
	gitRefFlag       string
	gitDirFlag       string
)

// rootCmd is the base orochestra command.
var rootCmd = &cobra.Command{
	Use:   "orochestra",
	Short: "Plan and deploy robotic component networks",
	Long: `orochestra turns an abstract, declarative description of a component
network into a concrete, deployable graph of tasks wired to physical
deployments on process servers.

It runs the network transformation pipeline end to end against a
demo YAML catalog and network description:

  orochestra plan --catalog catalog.yml --network network.yml
  orochestra trace --catalog catalog.yml --network network.yml

The catalog descriptor set can also come from a git repository, cloned
once and reused on later runs:

  orochestra plan --git-catalog https://example.com/models.git --git-ref v1.2 \
    --catalog catalog.yml --network network.yml`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&catalogPath, "catalog", "catalog.yml", "path to the model catalog descriptor")
	rootCmd.PersistentFlags().StringVar(&networkPath, "network", "network.yml", "path to the network descriptor")
	rootCmd.PersistentFlags().StringVar(&defaultGroupFlag, "default-group", "", "override the network descriptor's default deployment group")
	rootCmd.PersistentFlags().StringVar(&gitCatalogFlag, "git-catalog", "", "git repository to clone the catalog descriptor set from; --catalog is then read relative to the clone")
	rootCmd.PersistentFlags().StringVar(&gitRefFlag, "git-ref", "main", "branch or tag to clone with --git-catalog")
	rootCmd.PersistentFlags().StringVar(&gitDirFlag, "git-dir", ".orochestra/catalog", "directory the --git-catalog clone is placed in")

	rootCmd.AddCommand(newPlanCmd())
	rootCmd.AddCommand(newTraceCmd())
}
