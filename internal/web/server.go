package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/example/hybridplanner/internal/endpoint"
	"github.com/example/hybridplanner/internal/observability"
)

// Server is the planner's HTTP server
type Server struct {
	addr     string
	handlers *Handlers
	mux      *http.ServeMux
	metrics  http.Handler
	logger   *slog.Logger
	srv      *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics exposes h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates a new web server
func NewServer(addr string, endpoints endpoint.Endpoints, opts ...Option) *Server {
	s := &Server{
		addr:   addr,
		mux:    http.NewServeMux(),
		logger: observability.DiscardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handlers = NewHandlers(endpoints, s.logger)
	s.setupRoutes()
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("POST /api/plans", s.handlers.CreatePlan)
	s.mux.HandleFunc("GET /api/plans/{id}", s.handlers.GetPlan)
	s.mux.HandleFunc("GET /api/lineages/{id}/versions", s.handlers.ListVersions)
	s.mux.HandleFunc("POST /api/lineages/{id}/replan", s.handlers.Replan)
	s.mux.HandleFunc("GET /healthz", s.handlers.Health)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start starts the HTTP server. It returns nil after Shutdown.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.logger.Info("web server listening", "addr", lis.Addr().String())
	if err := s.srv.Serve(lis); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler returns the HTTP handler for the server
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.mux)
}
