package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/example/hybridplanner/internal/cache"
	"github.com/example/hybridplanner/internal/decomposer"
	"github.com/example/hybridplanner/internal/domain"
	"github.com/example/hybridplanner/internal/learning"
	"github.com/example/hybridplanner/internal/observability"
	"github.com/example/hybridplanner/internal/storage"
	"github.com/example/hybridplanner/pkg/id"
)

// Config tunes the planning loop.
type Config struct {
	// MaxAttempts is the default generator call ceiling per request.
	MaxAttempts int
	// MaxAttemptsLimit caps per-request overrides of MaxAttempts.
	MaxAttemptsLimit int
	RequestTimeout   time.Duration
	// ConfidenceDecay is raised to (attempts-1) to score accepted plans.
	ConfidenceDecay float64
	// PersistRetries is how often a transient storage failure is retried.
	PersistRetries   int
	PersistBackoff   time.Duration
	BatchConcurrency int
}

// DefaultConfig returns the default planning loop settings.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:      3,
		MaxAttemptsLimit: 10,
		RequestTimeout:   2 * time.Minute,
		ConfidenceDecay:  0.85,
		PersistRetries:   3,
		PersistBackoff:   50 * time.Millisecond,
		BatchConcurrency: 4,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.MaxAttemptsLimit < c.MaxAttempts {
		c.MaxAttemptsLimit = max(def.MaxAttemptsLimit, c.MaxAttempts)
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.ConfidenceDecay <= 0 || c.ConfidenceDecay > 1 {
		c.ConfidenceDecay = def.ConfidenceDecay
	}
	if c.PersistRetries < 0 {
		c.PersistRetries = 0
	}
	if c.PersistBackoff < 0 {
		c.PersistBackoff = 0
	}
	if c.BatchConcurrency <= 0 {
		c.BatchConcurrency = def.BatchConcurrency
	}
	return c
}

// Dependencies are the collaborators of an Orchestrator. Catalog, Adapter
// and Storage are required; everything else has a default.
type Dependencies struct {
	Catalog *domain.Catalog
	Adapter *decomposer.Adapter
	Storage storage.Storage

	// Cache defaults to an in-memory cache keyed to Catalog versions.
	Cache cache.Cache
	// Suggester supplies soft constraints. Optional.
	Suggester learning.Suggester
	// Recorder receives every finished request. Optional; should not block.
	Recorder learning.Recorder

	Sink    observability.Sink
	Metrics *observability.Metrics
	Logger  *slog.Logger
	Clock   decomposer.Clock
}

// Orchestrator runs the generate/validate/finalize loop.
type Orchestrator struct {
	cfg       Config
	catalog   *domain.Catalog
	adapter   *decomposer.Adapter
	storage   storage.Storage
	cache     cache.Cache
	suggester learning.Suggester
	recorder  learning.Recorder
	sink      observability.Sink
	metrics   *observability.Metrics
	logger    *slog.Logger
	clock     decomposer.Clock
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cfg Config, deps Dependencies) (*Orchestrator, error) {
	if deps.Catalog == nil || deps.Adapter == nil || deps.Storage == nil {
		return nil, fmt.Errorf("orchestrator needs a catalog, an adapter and storage: %w", domain.ErrInvalidArgument)
	}
	o := &Orchestrator{
		cfg:       cfg.withDefaults(),
		catalog:   deps.Catalog,
		adapter:   deps.Adapter,
		storage:   deps.Storage,
		cache:     deps.Cache,
		suggester: deps.Suggester,
		recorder:  deps.Recorder,
		sink:      deps.Sink,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		clock:     deps.Clock,
	}
	if o.metrics == nil {
		o.metrics = observability.NewMetrics()
	}
	if o.cache == nil {
		o.cache = cache.NewMemoryCache(cache.WithVersionSource(o.catalog), cache.WithMetrics(o.metrics))
	}
	if o.sink == nil {
		o.sink = observability.NopSink{}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With("component", "orchestrator")
	if o.clock == nil {
		o.clock = decomposer.RealClock
	}
	return o, nil
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// PlanRequest asks for a plan for an intent.
type PlanRequest struct {
	Intent string
	// Context is the caller's situation. It also seeds the initial world
	// state the plan is validated against.
	Context  map[string]string
	DomainID string
	// DomainVersion pins a domain snapshot; zero selects the latest.
	DomainVersion uint64
	MaxAttempts   int
	Timeout       time.Duration

	// LineageID, when set, appends the plan to that lineage as its next
	// version. Such requests bypass the cache.
	LineageID string
	// ExpectedVersion, when non-zero, must be the lineage's latest version
	// at write time.
	ExpectedVersion int64
}

// PlanResult is a successful planning request.
type PlanResult struct {
	Plan   *domain.Plan
	Source cache.Source
	// States is the path the request took through the planning state
	// machine. Empty for cached and coalesced results.
	States []domain.PlanningState
}

// Plan produces an accepted plan for req. Identical concurrent requests
// share one computation and accepted plans are served from the cache.
func (o *Orchestrator) Plan(ctx context.Context, req PlanRequest) (*PlanResult, error) {
	start := o.clock.Now()
	o.metrics.InFlight().Inc()
	defer o.metrics.InFlight().Dec()

	res, fp, err := o.plan(ctx, req)
	o.emitPlan(ctx, req, fp, res, err, o.clock.Now().Sub(start))
	return res, err
}

func (o *Orchestrator) plan(ctx context.Context, req PlanRequest) (*PlanResult, domain.Fingerprint, error) {
	if err := o.normalize(&req); err != nil {
		return nil, "", err
	}
	snap, err := o.catalog.Snapshot(req.DomainID, req.DomainVersion)
	if err != nil {
		return nil, "", asPlanError(err)
	}
	fp := domain.ComputeFingerprint(req.Intent, req.Context, snap.DomainID, snap.Version)

	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	if req.LineageID != "" {
		r := o.newRun(req, snap, fp)
		p, err := r.execute(ctx)
		if err != nil {
			return nil, fp, asPlanError(err)
		}
		o.cache.Invalidate(fp)
		return &PlanResult{Plan: p, Source: cache.SourceComputed, States: r.states}, fp, nil
	}

	var r *planRun
	// The shared computation outlives this caller's context but not the
	// request timeout of the caller that started it.
	p, src, err := o.cache.PutIfAbsent(ctx, fp, func(cctx context.Context) (*domain.Plan, error) {
		cctx, cancel := context.WithTimeout(cctx, req.Timeout)
		defer cancel()
		r = o.newRun(req, snap, fp)
		return r.execute(cctx)
	})
	if err != nil {
		return nil, fp, asPlanError(err)
	}
	out := &PlanResult{Plan: p, Source: src}
	if src == cache.SourceComputed && r != nil {
		out.States = r.states
	}
	return out, fp, nil
}

// normalize validates req and fills defaults.
func (o *Orchestrator) normalize(req *PlanRequest) error {
	req.Intent = strings.TrimSpace(req.Intent)
	if req.Intent == "" {
		return invalidRequest("intent is required")
	}
	if req.DomainID == "" {
		return invalidRequest("domain id is required")
	}
	switch {
	case req.MaxAttempts < 0:
		return invalidRequest("max attempts must not be negative")
	case req.MaxAttempts == 0:
		req.MaxAttempts = o.cfg.MaxAttempts
	case req.MaxAttempts > o.cfg.MaxAttemptsLimit:
		return invalidRequest("max attempts %d exceeds the limit of %d", req.MaxAttempts, o.cfg.MaxAttemptsLimit)
	}
	if req.Timeout < 0 {
		return invalidRequest("timeout must not be negative")
	}
	if req.Timeout == 0 {
		req.Timeout = o.cfg.RequestTimeout
	}
	if req.ExpectedVersion < 0 {
		return invalidRequest("expected version must not be negative")
	}
	if req.ExpectedVersion > 0 && req.LineageID == "" {
		return invalidRequest("expected version needs a lineage id")
	}
	return nil
}

// ReplanRequest derives a new version of an existing lineage. Empty fields
// are taken from the lineage's latest plan; Context entries are merged over
// the previous context.
type ReplanRequest struct {
	Intent          string
	Context         map[string]string
	DomainVersion   uint64
	MaxAttempts     int
	Timeout         time.Duration
	ExpectedVersion int64
}

// Replan produces the next version of a lineage.
func (o *Orchestrator) Replan(ctx context.Context, lineageID string, req ReplanRequest) (*PlanResult, error) {
	if lineageID == "" {
		return nil, invalidRequest("lineage id is required")
	}
	prev, err := o.Latest(ctx, lineageID)
	if err != nil {
		return nil, err
	}
	o.cache.Invalidate(domain.Fingerprint(prev.Metadata.Fingerprint))

	merged := make(map[string]string, len(prev.Context)+len(req.Context))
	for k, v := range prev.Context {
		merged[k] = v
	}
	for k, v := range req.Context {
		merged[k] = v
	}
	intent := req.Intent
	if intent == "" {
		intent = prev.Intent
	}
	return o.Plan(ctx, PlanRequest{
		Intent:          intent,
		Context:         merged,
		DomainID:        prev.DomainID,
		DomainVersion:   req.DomainVersion,
		MaxAttempts:     req.MaxAttempts,
		Timeout:         req.Timeout,
		LineageID:       lineageID,
		ExpectedVersion: req.ExpectedVersion,
	})
}

// GetPlan retrieves a persisted plan version by id.
func (o *Orchestrator) GetPlan(ctx context.Context, planID string) (*domain.Plan, error) {
	uow, err := o.storage.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	return uow.Plans().Load(ctx, planID)
}

// Latest retrieves the highest version of a lineage.
func (o *Orchestrator) Latest(ctx context.Context, lineageID string) (*domain.Plan, error) {
	uow, err := o.storage.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	return uow.Plans().Latest(ctx, lineageID)
}

// ListVersions lists a lineage's versions in ascending order.
func (o *Orchestrator) ListVersions(ctx context.Context, lineageID string) ([]storage.VersionInfo, error) {
	uow, err := o.storage.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	return uow.Plans().ListVersions(ctx, lineageID)
}

// RecordExecution feeds the result of executing an accepted plan back into
// learning.
func (o *Orchestrator) RecordExecution(ctx context.Context, planID string, report learning.ExecutionReport) error {
	p, err := o.GetPlan(ctx, planID)
	if err != nil {
		return err
	}
	kind := learning.KindSuccess
	if !report.Succeeded {
		kind = learning.KindExecutionFailed
	}
	o.record(ctx, learning.Outcome{
		PlanID:    p.ID,
		Intent:    p.Intent,
		Kind:      kind,
		Attempts:  p.Metadata.Attempts,
		Execution: &report,
	})
	return nil
}

func (o *Orchestrator) record(ctx context.Context, out learning.Outcome) {
	if o.recorder == nil {
		return
	}
	out.RecordedAt = o.clock.Now().UTC()
	if err := o.recorder.RecordOutcome(ctx, out); err != nil {
		o.logger.Warn("outcome not recorded", "intent", out.Intent, "kind", out.Kind, "error", err)
	}
}

func (o *Orchestrator) emitPlan(ctx context.Context, req PlanRequest, fp domain.Fingerprint, res *PlanResult, err error, d time.Duration) {
	ev := observability.Event{
		Phase:       observability.PhasePlan,
		Intent:      req.Intent,
		Fingerprint: string(fp),
		Duration:    d,
	}
	switch {
	case err != nil:
		var pe *PlanError
		if errors.As(err, &pe) {
			ev.Outcome = string(pe.Kind)
			ev.Attempt = pe.Attempts
			ev.Count = len(pe.Violations)
		} else {
			ev.Outcome = string(KindInternal)
		}
		ev.Err = err
	default:
		ev.Outcome = res.Source.String()
		ev.Attempt = res.Plan.Metadata.Attempts
	}
	o.sink.Emit(ctx, ev)
}

// confidence decays with every extra attempt the plan needed.
func (o *Orchestrator) confidence(attempts int) float64 {
	if attempts <= 1 {
		return 1
	}
	return math.Pow(o.cfg.ConfidenceDecay, float64(attempts-1))
}

func (o *Orchestrator) newRun(req PlanRequest, snap *domain.Snapshot, fp domain.Fingerprint) *planRun {
	requestID := id.NewRequestID()
	return &planRun{
		o:         o,
		req:       req,
		snap:      snap,
		fp:        fp,
		requestID: requestID,
		logger:    o.logger.With("request_id", requestID, "fingerprint", fp.Short()),
	}
}
