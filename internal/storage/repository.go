package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/hybridplanner/internal/domain"
)

// ErrorKind classifies persistence failures for the caller's retry policy.
type ErrorKind string

const (
	// KindTransient failures (a busy or locked database) may succeed on retry.
	KindTransient ErrorKind = "transient"
	// KindConflict means the write would break version monotonicity in a
	// lineage or reuse an identity. Retrying the same write cannot succeed.
	KindConflict ErrorKind = "conflict"
)

// PersistenceError is returned by storage writes that fail for a
// classifiable reason.
type PersistenceError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *PersistenceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s persistence failure", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s persistence failure: %v", e.Op, e.Kind, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Is matches any PersistenceError of the same kind.
func (e *PersistenceError) Is(target error) bool {
	var t *PersistenceError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrTransient = &PersistenceError{Kind: KindTransient}
	ErrConflict  = &PersistenceError{Kind: KindConflict}
)

// VersionInfo summarises one stored plan version of a lineage.
type VersionInfo struct {
	PlanID      string    `json:"planId"`
	LineageID   string    `json:"lineageId"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"createdAt"`
	Intent      string    `json:"intent"`
	Fingerprint string    `json:"fingerprint,omitempty"`
}

// PlanRepository stores accepted plans.
type PlanRepository interface {
	// Save writes a frozen plan with all of its tasks and edges.
	// A version not above the lineage's latest fails with ErrConflict.
	Save(ctx context.Context, plan *domain.Plan) error

	// Load retrieves a plan by id, or domain.ErrNotFound.
	Load(ctx context.Context, id string) (*domain.Plan, error)

	// ListVersions lists a lineage's versions in ascending order.
	ListVersions(ctx context.Context, lineageID string) ([]VersionInfo, error)

	// Latest retrieves the highest version of a lineage, or domain.ErrNotFound.
	Latest(ctx context.Context, lineageID string) (*domain.Plan, error)

	// LatestVersion returns the highest stored version of a lineage, 0 if none.
	LatestVersion(ctx context.Context, lineageID string) (int64, error)
}

// Lesson is one learned fact about a planning attempt, keyed by task names
// rather than plan-scoped ids.
type Lesson struct {
	Kind   string `json:"kind"`
	Task   string `json:"task,omitempty"`
	Before string `json:"before,omitempty"`
	Fact   string `json:"fact,omitempty"`
}

// OutcomeRecord is a persisted planning or execution outcome.
type OutcomeRecord struct {
	ID         int64
	PlanID     string
	Intent     string
	Category   string
	Success    bool
	Attempts   int
	Lessons    []Lesson
	RecordedAt time.Time
}

// OutcomeRepository stores learning outcomes so feedback survives restarts.
type OutcomeRepository interface {
	// Append stores an outcome and assigns its ID.
	Append(ctx context.Context, rec *OutcomeRecord) error

	// List returns outcomes oldest first. An empty category lists every
	// category; a non-positive limit means no limit.
	List(ctx context.Context, category string, limit int) ([]*OutcomeRecord, error)
}

// UnitOfWork provides transactional access to all repositories.
type UnitOfWork interface {
	// Repository accessors
	Plans() PlanRepository
	Outcomes() OutcomeRepository

	// Transaction control
	Commit() error
	Rollback() error
}

// Storage provides the main entry point for storage operations.
type Storage interface {
	// Begin starts a read transaction and returns a UnitOfWork.
	Begin(ctx context.Context) (UnitOfWork, error)

	// BeginImmediate starts a transaction that takes the write lock up front.
	BeginImmediate(ctx context.Context) (UnitOfWork, error)

	// Close closes the storage connection.
	Close() error

	// Migrate runs database migrations.
	Migrate(ctx context.Context) error
}
