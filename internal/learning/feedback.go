// Package learning turns planning outcomes into soft constraints for future
// requests in the same intent category.
package learning

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/hybridplanner/internal/decomposer"
	"github.com/example/hybridplanner/internal/domain"
	"github.com/example/hybridplanner/internal/storage"
	"github.com/example/hybridplanner/internal/validator"
)

// Kind is how a planning request ended.
type Kind string

const (
	KindSuccess         Kind = "success"
	KindUnsolvable      Kind = "unsolvable"
	KindExhausted       Kind = "exhausted"
	KindExecutionFailed Kind = "execution_failed"
)

// ExecutionReport describes how an accepted plan fared when executed by an
// external runtime.
type ExecutionReport struct {
	Succeeded  bool
	FailedTask string // task name
	Detail     string
}

// Outcome is one finished planning request.
type Outcome struct {
	PlanID   string
	Intent   string
	Category string // derived from Intent when empty
	Kind     Kind
	Attempts int

	// Violations are the union of everything validation rejected on the
	// way to this outcome.
	Violations []validator.Violation

	Execution  *ExecutionReport
	RecordedAt time.Time
}

// Recorder accepts outcomes.
type Recorder interface {
	RecordOutcome(ctx context.Context, o Outcome) error
}

// Suggester produces soft constraints for a category.
type Suggester interface {
	SuggestConstraints(ctx context.Context, category string) []decomposer.Constraint
}

const (
	DefaultMinSupport     = 2
	DefaultMaxSuggestions = 5
)

// Config tunes the FeedbackModule.
type Config struct {
	// MinSupport is how many outcomes must share a lesson before it is
	// suggested.
	MinSupport int
	// MaxSuggestions caps the constraints returned per category.
	MaxSuggestions int
}

type lessonStat struct {
	lesson storage.Lesson
	count  int
}

type categoryStats struct {
	outcomes  int
	successes int
	lessons   map[storage.Lesson]*lessonStat
}

// FeedbackModule aggregates lessons per intent category. Safe for
// concurrent use. Persistence is optional.
type FeedbackModule struct {
	cfg    Config
	store  storage.Storage
	logger *slog.Logger

	mu         sync.RWMutex
	categories map[string]*categoryStats
}

// NewFeedbackModule creates a FeedbackModule. store may be nil.
func NewFeedbackModule(cfg Config, store storage.Storage, logger *slog.Logger) *FeedbackModule {
	if cfg.MinSupport <= 0 {
		cfg.MinSupport = DefaultMinSupport
	}
	if cfg.MaxSuggestions <= 0 {
		cfg.MaxSuggestions = DefaultMaxSuggestions
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedbackModule{
		cfg:        cfg,
		store:      store,
		logger:     logger.With("component", "learning"),
		categories: make(map[string]*categoryStats),
	}
}

// Load replays persisted outcomes into memory. Call once at startup.
func (f *FeedbackModule) Load(ctx context.Context) error {
	if f.store == nil {
		return nil
	}
	uow, err := f.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	recs, err := uow.Outcomes().List(ctx, "", 0)
	if err != nil {
		return fmt.Errorf("failed to list outcomes: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range recs {
		f.apply(r.Category, r.Success, r.Lessons)
	}
	f.logger.Info("loaded learning outcomes", "count", len(recs))
	return nil
}

// RecordOutcome folds an outcome into the category statistics and persists
// it when a store is configured. A persistence failure is returned but the
// in-memory statistics are still updated.
func (f *FeedbackModule) RecordOutcome(ctx context.Context, o Outcome) error {
	if o.Category == "" {
		o.Category = Categorize(o.Intent)
	}
	if o.RecordedAt.IsZero() {
		o.RecordedAt = time.Now().UTC()
	}
	lessons := Lessons(o)
	success := o.Kind == KindSuccess && (o.Execution == nil || o.Execution.Succeeded)

	f.mu.Lock()
	f.apply(o.Category, success, lessons)
	f.mu.Unlock()

	if f.store == nil {
		return nil
	}
	uow, err := f.store.BeginImmediate(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	rec := &storage.OutcomeRecord{
		PlanID:     o.PlanID,
		Intent:     o.Intent,
		Category:   o.Category,
		Success:    success,
		Attempts:   o.Attempts,
		Lessons:    lessons,
		RecordedAt: o.RecordedAt,
	}
	if err := uow.Outcomes().Append(ctx, rec); err != nil {
		return fmt.Errorf("failed to append outcome: %w", err)
	}
	return uow.Commit()
}

// apply requires f.mu held for writing.
func (f *FeedbackModule) apply(category string, success bool, lessons []storage.Lesson) {
	cs, ok := f.categories[category]
	if !ok {
		cs = &categoryStats{lessons: make(map[storage.Lesson]*lessonStat)}
		f.categories[category] = cs
	}
	cs.outcomes++
	if success {
		cs.successes++
	}
	for _, l := range lessons {
		st, ok := cs.lessons[l]
		if !ok {
			st = &lessonStat{lesson: l}
			cs.lessons[l] = st
		}
		st.count++
	}
}

// SuggestConstraints returns soft constraints for lessons seen in at least
// MinSupport outcomes of the category, strongest first. Weight is the
// fraction of the category's outcomes that taught the lesson.
func (f *FeedbackModule) SuggestConstraints(_ context.Context, category string) []decomposer.Constraint {
	f.mu.RLock()
	defer f.mu.RUnlock()

	cs, ok := f.categories[category]
	if !ok {
		return nil
	}

	var stats []*lessonStat
	for _, st := range cs.lessons {
		if st.count >= f.cfg.MinSupport {
			stats = append(stats, st)
		}
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].count != stats[j].count {
			return stats[i].count > stats[j].count
		}
		return lessonKey(stats[i].lesson) < lessonKey(stats[j].lesson)
	})
	if len(stats) > f.cfg.MaxSuggestions {
		stats = stats[:f.cfg.MaxSuggestions]
	}

	out := make([]decomposer.Constraint, 0, len(stats))
	for _, st := range stats {
		c := toConstraint(st.lesson)
		c.Soft = true
		c.Weight = float64(st.count) / float64(cs.outcomes)
		c.Reason = fmt.Sprintf("seen in %d of %d %q outcomes", st.count, cs.outcomes, category)
		out = append(out, c)
	}
	return out
}

// CategoryStats summarises one category.
type CategoryStats struct {
	Category  string `json:"category"`
	Outcomes  int    `json:"outcomes"`
	Successes int    `json:"successes"`
	Lessons   int    `json:"lessons"`
}

// Stats returns per-category summaries sorted by category.
func (f *FeedbackModule) Stats() []CategoryStats {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]CategoryStats, 0, len(f.categories))
	for name, cs := range f.categories {
		out = append(out, CategoryStats{Category: name, Outcomes: cs.outcomes, Successes: cs.successes, Lessons: len(cs.lessons)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

// Lessons extracts the distinct lessons an outcome teaches.
func Lessons(o Outcome) []storage.Lesson {
	seen := make(map[storage.Lesson]bool)
	var out []storage.Lesson
	add := func(l storage.Lesson) {
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}

	for _, v := range o.Violations {
		fact := ""
		if v.Fact != nil {
			fact = v.Fact.String()
		}
		switch v.Kind {
		case validator.ViolationUnsatisfiedPrecondition:
			if v.RelatedName != "" {
				add(storage.Lesson{Kind: string(decomposer.ConstraintOrder), Task: v.TaskName, Before: v.RelatedName, Fact: fact})
			} else {
				add(storage.Lesson{Kind: string(decomposer.ConstraintEstablish), Task: v.TaskName, Fact: fact})
			}
		case validator.ViolationConflictingEffects:
			add(storage.Lesson{Kind: string(decomposer.ConstraintOrder), Task: v.RelatedName, Before: v.TaskName, Fact: fact})
		case validator.ViolationUnknownOperator:
			add(storage.Lesson{Kind: string(decomposer.ConstraintAvoid), Task: v.TaskName})
		case validator.ViolationNoApplicableMethod, validator.ViolationEmptyDecomposition:
			add(storage.Lesson{Kind: string(decomposer.ConstraintDecompose), Task: v.TaskName})
		}
	}
	if o.Execution != nil && !o.Execution.Succeeded && o.Execution.FailedTask != "" {
		add(storage.Lesson{Kind: string(decomposer.ConstraintAvoid), Task: o.Execution.FailedTask})
	}
	return out
}

func toConstraint(l storage.Lesson) decomposer.Constraint {
	c := decomposer.Constraint{
		Kind:   decomposer.ConstraintKind(l.Kind),
		Task:   l.Task,
		Before: l.Before,
	}
	if l.Fact != "" {
		name, value, ok := strings.Cut(l.Fact, "=")
		f := domain.NewFact(name)
		if ok {
			f.Value = value
		}
		c.Fact = &f
	}
	return c
}

func lessonKey(l storage.Lesson) string {
	return strings.Join([]string{l.Kind, l.Task, l.Before, l.Fact}, "|")
}
