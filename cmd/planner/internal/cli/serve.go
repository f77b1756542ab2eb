package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/example/hybridplanner/internal/endpoint"
	grpcTransport "github.com/example/hybridplanner/internal/transport/grpc"
	"github.com/example/hybridplanner/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the planner over gRPC and HTTP",
	Long: `Start the planner service.

The gRPC API (planner.v1.Planner) listens on server.grpc_addr and the HTTP
JSON API, /metrics and /healthz on server.http_addr. Either listener is
disabled by setting its address to the empty string.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	endpoints := endpoint.MakeEndpoints(a.orch)
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.GRPCAddr != "" {
		server := grpcTransport.NewServer(endpoints, grpcTransport.WithLogger(a.logger))
		g.Go(func() error { return server.Serve(cfg.Server.GRPCAddr) })
		g.Go(func() error {
			<-gctx.Done()
			server.GracefulStop()
			return nil
		})
	}

	if cfg.Server.HTTPAddr != "" {
		webServer := web.NewServer(cfg.Server.HTTPAddr, endpoints,
			web.WithMetrics(a.metrics),
			web.WithLogger(a.logger),
		)
		g.Go(webServer.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return webServer.Shutdown(shutdownCtx)
		})
	}

	<-gctx.Done()
	a.logger.Info("shutting down")
	return g.Wait()
}
