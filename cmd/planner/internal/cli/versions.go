package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var versionsJSON bool

var versionsCmd = &cobra.Command{
	Use:   "versions <lineage-id>",
	Short: "List the versions of a plan lineage",
	Long: `List every stored version of a lineage, oldest first.

EXAMPLES:
  planner versions 1f0c6f8e-...
  planner versions --remote localhost:50051 --json 1f0c6f8e-...`,
	Args: cobra.ExactArgs(1),
	RunE: runVersions,
}

func init() {
	versionsCmd.Flags().BoolVar(&versionsJSON, "json", false, "print JSON instead of a table")
	versionsCmd.Flags().StringVar(&planRemote, "remote", "", "gRPC address of a running planner")
}

func runVersions(cmd *cobra.Command, args []string) error {
	return withPlanner(cmd, func(ctx context.Context, p remotePlanner) error {
		versions, err := p.ListVersions(ctx, args[0])
		if err != nil {
			return err
		}
		if versionsJSON {
			return printJSON(cmd.OutOrStdout(), versions)
		}
		if len(versions) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "no versions for lineage %s\n", args[0])
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VERSION\tPLAN\tCREATED\tINTENT")
		for _, v := range versions {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", v.Version, v.PlanID, v.CreatedAt.Format(time.RFC3339), v.Intent)
		}
		return tw.Flush()
	})
}
