package cli

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "planner",
	Short: "Hybrid task-decomposition planner",
	Long: `planner turns natural-language intents into validated hierarchical task
networks. A generator (a language model or the offline template expander)
proposes candidate decompositions and a symbolic validator checks them against
the domain's operators and methods before they are accepted.

Configuration is read from --config (YAML) and PLANNER_* environment
variables, e.g. PLANNER_DATABASE_PATH or PLANNER_DECOMPOSER_PROVIDER.

EXAMPLES:
  # Serve gRPC on :50051 and HTTP on :8080
  planner serve --config configs/planner.yaml

  # Plan once against the local database
  planner plan --domain travel "book trip to paris"

  # Ask a running server instead
  planner plan --remote localhost:50051 --domain travel "book trip to paris"

  # List the versions of a lineage
  planner versions <lineage-id>

  # Check a domain file
  planner domains configs/domains.yaml`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML configuration file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(versionsCmd)
	rootCmd.AddCommand(domainsCmd)
}
