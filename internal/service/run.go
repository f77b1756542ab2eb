package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/hybridplanner/internal/decomposer"
	"github.com/example/hybridplanner/internal/domain"
	"github.com/example/hybridplanner/internal/learning"
	"github.com/example/hybridplanner/internal/observability"
	"github.com/example/hybridplanner/internal/storage"
	"github.com/example/hybridplanner/internal/validator"
	"github.com/example/hybridplanner/pkg/id"
)

// planRun is one pass through the planning state machine. It is confined to
// a single goroutine.
type planRun struct {
	o         *Orchestrator
	req       PlanRequest
	snap      *domain.Snapshot
	fp        domain.Fingerprint
	requestID string
	logger    *slog.Logger

	state  domain.PlanningState
	states []domain.PlanningState
}

func (r *planRun) transition(to domain.PlanningState) error {
	if !domain.ValidPlanningTransition(r.state, to) {
		return &PlanError{
			Kind:    KindInternal,
			Message: fmt.Sprintf("invalid planning transition %s -> %s", r.state, to),
			Cause:   domain.ErrInvalidState,
		}
	}
	r.logger.Debug("planning state", "from", r.state.String(), "to", to.String())
	r.state = to
	r.states = append(r.states, to)
	return nil
}

// fail moves the run to FAILED and records the outcome for learning.
func (r *planRun) fail(ctx context.Context, err *PlanError) error {
	if r.state != domain.PlanningStateFailed {
		if terr := r.transition(domain.PlanningStateFailed); terr != nil {
			r.logger.Error("cannot fail planning run", "state", r.state.String(), "error", terr)
		}
	}
	var kind learning.Kind
	switch err.Kind {
	case KindUnsolvableIntent:
		kind = learning.KindUnsolvable
	case KindGeneratorExhausted:
		kind = learning.KindExhausted
	}
	if kind != "" {
		r.o.record(context.WithoutCancel(ctx), learning.Outcome{
			Intent:     r.req.Intent,
			Kind:       kind,
			Attempts:   err.Attempts,
			Violations: err.Violations,
		})
	}
	r.logger.Info("planning failed", "kind", err.Kind, "attempts", err.Attempts, "violations", len(err.Violations))
	return err
}

func (r *planRun) execute(ctx context.Context) (*domain.Plan, error) {
	if err := r.transition(domain.PlanningStateReceived); err != nil {
		return nil, err
	}

	sess := r.o.adapter.NewSession(r.req.MaxAttempts)
	sess.RequestID = r.requestID
	state := domain.NewWorldState(r.req.Context)

	var soft []decomposer.Constraint
	if r.o.suggester != nil {
		soft = r.o.suggester.SuggestConstraints(ctx, learning.Categorize(r.req.Intent))
	}

	var hard []decomposer.Constraint
	var seen []validator.Violation
	for {
		if err := r.transition(domain.PlanningStateGenerating); err != nil {
			return nil, err
		}
		cand, err := sess.Decompose(ctx, decomposer.Request{
			Intent:      r.req.Intent,
			Context:     r.req.Context,
			Snapshot:    r.snap,
			State:       state,
			Constraints: decomposer.DedupeConstraints(append(append([]decomposer.Constraint(nil), hard...), soft...)),
		})
		if err != nil {
			if errors.Is(err, decomposer.ErrCanceled) {
				return nil, r.fail(ctx, &PlanError{Kind: KindCanceled, Message: "request canceled",
					Attempts: sess.Attempts(), Violations: seen, Cause: err})
			}
			return nil, r.fail(ctx, &PlanError{Kind: KindGeneratorExhausted, Message: err.Error(),
				Attempts: sess.Attempts(), Violations: seen, Cause: err})
		}

		if err := r.transition(domain.PlanningStateValidating); err != nil {
			return nil, err
		}
		plan := cand.Plan
		plan.DomainID, plan.DomainVersion = r.snap.DomainID, r.snap.Version
		res, err := r.validate(ctx, plan, state, sess.Attempts())
		if err != nil {
			return nil, r.fail(ctx, &PlanError{Kind: KindInternal, Message: "validation failed",
				Attempts: sess.Attempts(), Cause: err})
		}

		if res.Valid {
			if err := r.transition(domain.PlanningStateValid); err != nil {
				return nil, err
			}
			// Once a candidate is accepted, finalization runs to completion
			// even if the caller goes away.
			return r.finalize(context.WithoutCancel(ctx), plan, res, sess.Attempts(), seen)
		}

		if err := r.transition(domain.PlanningStateInvalid); err != nil {
			return nil, err
		}
		seen = validator.MergeViolations(seen, res.Violations)
		hard = ConstraintsFromViolations(res.Violations)
		if sess.Remaining() == 0 {
			return nil, r.fail(ctx, &PlanError{Kind: KindUnsolvableIntent,
				Message:  fmt.Sprintf("no valid plan after %d attempts", sess.Attempts()),
				Attempts: sess.Attempts(), Violations: seen})
		}
		r.logger.Info("candidate rejected, regenerating", "attempt", sess.Attempts(),
			"violations", validator.Summarize(res.Violations))
	}
}

func (r *planRun) validate(ctx context.Context, plan *domain.Plan, state domain.WorldState, attempt int) (validator.Result, error) {
	start := r.o.clock.Now()
	res, err := validator.Validate(plan, r.snap, state)
	ev := observability.Event{
		Phase:       observability.PhaseValidate,
		RequestID:   r.requestID,
		Intent:      r.req.Intent,
		Fingerprint: string(r.fp),
		Attempt:     attempt,
		Duration:    r.o.clock.Now().Sub(start),
		Outcome:     "valid",
		Count:       len(res.Violations),
	}
	switch {
	case err != nil:
		ev.Outcome = "error"
		ev.Err = err
	case !res.Valid:
		ev.Outcome = "invalid"
		for _, v := range res.Violations {
			r.o.metrics.Violations().WithLabels(string(v.Kind)).Inc()
		}
	}
	r.o.sink.Emit(ctx, ev)
	return res, err
}

// finalize annotates, scores and persists an accepted candidate.
func (r *planRun) finalize(ctx context.Context, plan *domain.Plan, res validator.Result, attempts int, rejected []validator.Violation) (*domain.Plan, error) {
	if err := r.transition(domain.PlanningStateFinalizing); err != nil {
		return nil, err
	}
	start := r.o.clock.Now()

	if err := validator.Annotate(plan, r.snap, res); err != nil {
		return nil, r.fail(ctx, &PlanError{Kind: KindInternal, Message: "annotation failed", Attempts: attempts, Cause: err})
	}
	plan.ID = id.NewPlanID()
	plan.LineageID = r.req.LineageID
	if plan.LineageID == "" {
		plan.LineageID = id.NewLineageID()
	}
	plan.Intent = r.req.Intent
	plan.Context = copyContext(r.req.Context)
	plan.CreatedAt = start.UTC()
	plan.Metadata = domain.PlanMetadata{
		Complexity:        float64(len(plan.Tasks) * res.Depth),
		EstimatedDuration: res.CriticalPath,
		Confidence:        r.o.confidence(attempts),
		Attempts:          attempts,
		Fingerprint:       string(r.fp),
		Linearization:     append([]string(nil), res.Linearization...),
	}

	saved, err := r.o.persist(ctx, plan, r.req.ExpectedVersion)
	if err != nil {
		kind := KindPersistenceUnavailable
		if errors.Is(err, storage.ErrConflict) {
			kind = KindPersistenceConflict
		}
		return nil, r.fail(ctx, &PlanError{Kind: kind, Message: err.Error(), Attempts: attempts, Cause: err})
	}

	if err := r.transition(domain.PlanningStateDone); err != nil {
		return nil, err
	}
	d := r.o.clock.Now().Sub(start)
	r.o.sink.Emit(ctx, observability.Event{
		Phase:       observability.PhaseFinalize,
		RequestID:   r.requestID,
		Intent:      r.req.Intent,
		Fingerprint: string(r.fp),
		Attempt:     attempts,
		Duration:    d,
		Cost:        res.TotalCost,
		Outcome:     "ok",
		Count:       len(saved.Tasks),
	})
	r.o.record(ctx, learning.Outcome{
		PlanID:     saved.ID,
		Intent:     r.req.Intent,
		Kind:       learning.KindSuccess,
		Attempts:   attempts,
		Violations: rejected,
	})
	r.logger.Info("plan accepted", "plan_id", saved.ID, "lineage_id", saved.LineageID,
		"version", saved.Version, "attempts", attempts)
	return saved, nil
}

// persist writes plan as the next version of its lineage, retrying
// transient storage failures with exponential backoff.
func (o *Orchestrator) persist(ctx context.Context, plan *domain.Plan, expected int64) (*domain.Plan, error) {
	var lastErr error
	for try := 0; try <= o.cfg.PersistRetries; try++ {
		if try > 0 {
			o.metrics.PersistRetries().Inc()
			if err := o.clock.Sleep(ctx, o.cfg.PersistBackoff<<(try-1)); err != nil {
				return nil, err
			}
		}
		start := o.clock.Now()
		saved, err := o.saveVersion(ctx, plan, expected)
		o.metrics.SaveDuration().Observe(o.clock.Now().Sub(start))
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, storage.ErrTransient) {
			return nil, err
		}
		lastErr = err
		o.logger.Warn("transient storage failure", "lineage_id", plan.LineageID, "try", try+1, "error", err)
	}
	return nil, fmt.Errorf("storage unavailable after %d tries: %w", o.cfg.PersistRetries+1, lastErr)
}

func (o *Orchestrator) saveVersion(ctx context.Context, plan *domain.Plan, expected int64) (*domain.Plan, error) {
	uow, err := o.storage.BeginImmediate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	latest, err := uow.Plans().LatestVersion(ctx, plan.LineageID)
	if err != nil {
		return nil, fmt.Errorf("failed to read latest version: %w", err)
	}
	if expected > 0 && latest != expected {
		return nil, &storage.PersistenceError{
			Kind: storage.KindConflict,
			Op:   "save plan",
			Err:  fmt.Errorf("lineage %s is at version %d, expected %d", plan.LineageID, latest, expected),
		}
	}

	p := plan.Clone()
	p.Version = latest + 1
	p.Freeze()
	if err := uow.Plans().Save(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save plan: %w", err)
	}
	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return p, nil
}

func copyContext(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
