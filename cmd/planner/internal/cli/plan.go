package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/example/hybridplanner/internal/endpoint"
	"github.com/example/hybridplanner/internal/storage"
	grpcTransport "github.com/example/hybridplanner/internal/transport/grpc"
)

var (
	planDomain      string
	planContext     []string
	planMaxAttempts int
	planTimeout     time.Duration
	planLineage     string
	planRemote      string
)

var planCmd = &cobra.Command{
	Use:   "plan <intent>",
	Short: "Produce a plan for an intent",
	Long: `Decompose an intent into a validated plan and print it as JSON.

Without --remote the planner runs in-process against the configured
database. With --lineage the plan is appended to an existing lineage as its
next version.

EXAMPLES:
  planner plan --domain travel "book trip to paris"
  planner plan --domain travel --context city=oslo "get weather"
  planner plan --lineage 1f0c... "book trip to rome"`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planDomain, "domain", "d", "", "domain id (required unless --lineage is set)")
	planCmd.Flags().StringArrayVar(&planContext, "context", nil, "context entry as key=value (repeatable)")
	planCmd.Flags().IntVar(&planMaxAttempts, "max-attempts", 0, "generator call ceiling (0 uses the configured default)")
	planCmd.Flags().DurationVar(&planTimeout, "timeout", 0, "request timeout (0 uses the configured default)")
	planCmd.Flags().StringVar(&planLineage, "lineage", "", "replan this lineage")
	planCmd.Flags().StringVar(&planRemote, "remote", "", "gRPC address of a running planner")
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctxMap, err := parseContext(planContext)
	if err != nil {
		return err
	}
	var timeout string
	if planTimeout > 0 {
		timeout = planTimeout.String()
	}

	if planLineage != "" {
		body := endpoint.ReplanBody{
			LineageID:   planLineage,
			Intent:      args[0],
			Context:     ctxMap,
			MaxAttempts: planMaxAttempts,
			Timeout:     timeout,
		}
		return withPlanner(cmd, func(ctx context.Context, p remotePlanner) error {
			resp, err := p.Replan(ctx, body)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		})
	}

	if planDomain == "" {
		return fmt.Errorf("--domain is required")
	}
	body := endpoint.PlanBody{
		Intent:      args[0],
		Context:     ctxMap,
		DomainID:    planDomain,
		MaxAttempts: planMaxAttempts,
		Timeout:     timeout,
	}
	return withPlanner(cmd, func(ctx context.Context, p remotePlanner) error {
		resp, err := p.CreatePlan(ctx, body)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), resp)
	})
}

// remotePlanner is the JSON-level planner API both the gRPC client and the
// in-process adapter offer.
type remotePlanner interface {
	CreatePlan(ctx context.Context, body endpoint.PlanBody) (*endpoint.PlanResponse, error)
	Replan(ctx context.Context, body endpoint.ReplanBody) (*endpoint.PlanResponse, error)
	ListVersions(ctx context.Context, lineageID string) ([]storage.VersionInfo, error)
}

// withPlanner runs fn against --remote when set, otherwise against an
// in-process planner built from the configuration.
func withPlanner(cmd *cobra.Command, fn func(context.Context, remotePlanner) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if planRemote != "" {
		client, err := grpcTransport.NewClient(planRemote, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return err
		}
		defer client.Close()
		return fn(ctx, client)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return fn(ctx, &localPlanner{endpoints: endpoint.MakeEndpoints(a.orch)})
}

func parseContext(entries []string) (map[string]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		k, v, ok := strings.Cut(e, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --context %q: want key=value", e)
		}
		out[k] = v
	}
	return out, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
