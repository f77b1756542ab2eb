package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/example/hybridplanner/internal/cache"
	"github.com/example/hybridplanner/internal/config"
	"github.com/example/hybridplanner/internal/decomposer"
	"github.com/example/hybridplanner/internal/domain"
	"github.com/example/hybridplanner/internal/learning"
	"github.com/example/hybridplanner/internal/observability"
	"github.com/example/hybridplanner/internal/service"
	"github.com/example/hybridplanner/internal/storage/sqlite"
)

// app holds the wired planner and everything that needs closing.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *observability.Metrics
	store    *sqlite.SQLiteStorage
	catalog  *domain.Catalog
	recorder *learning.AsyncRecorder
	tracing  *sdktrace.TracerProvider
	orch     *service.Orchestrator
}

func newApp(ctx context.Context, cfg *config.Config, logOut io.Writer) (*app, error) {
	logger, err := observability.NewLogger(logOut, cfg.Logging.Format, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, metrics: observability.NewMetrics()}

	if cfg.Domains.File == "" {
		return nil, errors.New("domains.file is required")
	}
	a.catalog, err = domain.LoadDomainFile(cfg.Domains.File)
	if err != nil {
		return nil, err
	}
	logger.Info("loaded domains", "file", cfg.Domains.File, "domains", a.catalog.IDs())

	a.store, err = sqlite.NewWithOptions(cfg.Database.Path, sqlite.Options{
		BusyTimeoutMS: int(cfg.Database.BusyTimeout / time.Millisecond),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := a.store.Migrate(ctx); err != nil {
		a.store.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	sinks := observability.MultiSink{
		observability.NewLogSink(logger),
		observability.NewMetricsSink(a.metrics),
	}
	if cfg.Tracing.Enabled {
		a.tracing = observability.NewTracerProvider(cfg.Tracing.ServiceName, observability.NewLogExporter(logger))
		otel.SetTracerProvider(a.tracing)
		sinks = append(sinks, observability.NewTraceSink(a.tracing.Tracer("github.com/example/hybridplanner")))
	}

	gen, err := newGenerator(cfg.Decomposer)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	adapter := decomposer.NewAdapter(gen, decomposer.Config{
		AttemptTimeout: cfg.Decomposer.AttemptTimeout,
		BaseBackoff:    cfg.Decomposer.BaseBackoff,
		MaxBackoff:     cfg.Decomposer.MaxBackoff,
		RateLimit:      cfg.Decomposer.RateLimit,
		RateBurst:      cfg.Decomposer.RateBurst,
	}, decomposer.WithSink(sinks))

	deps := service.Dependencies{
		Catalog: a.catalog,
		Adapter: adapter,
		Storage: a.store,
		Cache: cache.NewMemoryCache(
			cache.WithTTL(cfg.Cache.TTL),
			cache.WithVersionSource(a.catalog),
			cache.WithMetrics(a.metrics),
		),
		Sink:    sinks,
		Metrics: a.metrics,
		Logger:  logger,
	}
	if cfg.Learning.Enabled {
		fm := learning.NewFeedbackModule(learning.Config{
			MinSupport:     cfg.Learning.MinSupport,
			MaxSuggestions: cfg.Learning.MaxSuggestions,
		}, a.store, logger)
		if err := fm.Load(ctx); err != nil {
			logger.Warn("could not load learned lessons", "error", err)
		}
		a.recorder = learning.NewAsyncRecorder(fm, cfg.Learning.QueueSize, logger, a.metrics)
		deps.Suggester = fm
		deps.Recorder = a.recorder
	}

	a.orch, err = service.NewOrchestrator(service.Config{
		MaxAttempts:      cfg.Planner.MaxAttempts,
		MaxAttemptsLimit: cfg.Planner.MaxAttemptsLimit,
		RequestTimeout:   cfg.Planner.RequestTimeout,
		ConfidenceDecay:  cfg.Planner.ConfidenceDecay,
		PersistRetries:   cfg.Planner.PersistRetries,
		PersistBackoff:   cfg.Planner.PersistBackoff,
		BatchConcurrency: cfg.Planner.BatchConcurrency,
	}, deps)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

// Close drains the outcome queue and flushes spans before closing storage.
func (a *app) Close(ctx context.Context) {
	if a.recorder != nil {
		a.recorder.Close()
	}
	if a.tracing != nil {
		if err := a.tracing.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", "error", err)
		}
	}
	if a.store != nil {
		a.store.Close()
	}
}

func newGenerator(cfg config.DecomposerConfig) (decomposer.Generator, error) {
	var (
		model llms.Model
		err   error
	)
	switch cfg.Provider {
	case "", "template":
		return decomposer.NewTemplateGenerator(), nil
	case "openai":
		opts := []openai.Option{}
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		if cfg.APIKey != "" {
			opts = append(opts, openai.WithToken(cfg.APIKey))
		}
		model, err = openai.New(opts...)
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		model, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unknown decomposer provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s model: %w", cfg.Provider, err)
	}
	return decomposer.NewLLMGenerator(model, cfg.Temperature, cfg.MaxTokens), nil
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}
