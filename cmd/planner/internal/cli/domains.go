package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/hybridplanner/internal/domain"
)

var domainsCmd = &cobra.Command{
	Use:   "domains [file]",
	Short: "Check and summarise a domain definition file",
	Long: `Load a domain definition file, report definition errors and list the
operators and methods of every domain. Without an argument the file named by
domains.file in the configuration is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDomains,
}

func runDomains(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path = cfg.Domains.File
	}
	if path == "" {
		return fmt.Errorf("no domain file given and domains.file is not configured")
	}

	catalog, err := domain.LoadDomainFile(path)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for _, id := range catalog.IDs() {
		snap, err := catalog.Snapshot(id, 0)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s (version %d)\n", id, snap.Version)
		for _, op := range snap.Operators() {
			fmt.Fprintf(tw, "  operator\t%s\tpre=%v\teff=%v\n", op.Name, op.Preconditions, op.Effects)
		}
		for _, m := range snap.Methods() {
			fmt.Fprintf(tw, "  method\t%s\ttask=%s\tsubtasks=%d\n", m.Name, m.Task, len(m.Subtasks))
		}
	}
	return tw.Flush()
}
