package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/hybridplanner/internal/decomposer"
	"github.com/example/hybridplanner/internal/domain"
	"github.com/example/hybridplanner/internal/validator"
)

// ErrorKind is the terminal failure taxonomy reported to plan-request callers.
type ErrorKind string

const (
	// KindUnsolvableIntent: every attempt produced an invalid candidate.
	KindUnsolvableIntent ErrorKind = "UnsolvableIntent"
	// KindGeneratorExhausted: the decomposer failed on its final allowed attempt.
	KindGeneratorExhausted ErrorKind = "GeneratorExhausted"
	// KindPersistenceConflict: the lineage moved past the version being written.
	KindPersistenceConflict ErrorKind = "PersistenceConflict"
	// KindPersistenceUnavailable: storage kept failing after retries.
	KindPersistenceUnavailable ErrorKind = "PersistenceUnavailable"
	KindInvalidRequest         ErrorKind = "InvalidRequest"
	KindUnknownDomain          ErrorKind = "UnknownDomain"
	KindCanceled               ErrorKind = "Canceled"
	KindInternal               ErrorKind = "Internal"
)

// PlanError is returned by every failed planning request.
type PlanError struct {
	Kind    ErrorKind
	Message string

	// Violations is the union of everything validation rejected.
	Violations []validator.Violation
	Attempts   int

	Cause error
}

func (e *PlanError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if len(e.Violations) > 0 {
		msg += " [" + validator.Summarize(e.Violations) + "]"
	}
	return msg
}

func (e *PlanError) Unwrap() error {
	return e.Cause
}

// Is matches PlanErrors by kind.
func (e *PlanError) Is(target error) bool {
	var t *PlanError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrUnsolvableIntent       = &PlanError{Kind: KindUnsolvableIntent}
	ErrGeneratorExhausted     = &PlanError{Kind: KindGeneratorExhausted}
	ErrPersistenceConflict    = &PlanError{Kind: KindPersistenceConflict}
	ErrPersistenceUnavailable = &PlanError{Kind: KindPersistenceUnavailable}
	ErrInvalidRequest         = &PlanError{Kind: KindInvalidRequest}
	ErrUnknownDomain          = &PlanError{Kind: KindUnknownDomain}
	ErrCanceled               = &PlanError{Kind: KindCanceled}
	ErrInternal               = &PlanError{Kind: KindInternal}
)

func invalidRequest(format string, args ...any) *PlanError {
	return &PlanError{Kind: KindInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

// asPlanError gives any failure a taxonomy kind.
func asPlanError(err error) error {
	if err == nil {
		return nil
	}
	var pe *PlanError
	if errors.As(err, &pe) {
		return err
	}
	switch {
	case errors.Is(err, decomposer.ErrCanceled),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return &PlanError{Kind: KindCanceled, Message: "request canceled", Cause: err}
	case errors.Is(err, domain.ErrUnknownDomain):
		return &PlanError{Kind: KindUnknownDomain, Message: err.Error(), Cause: err}
	default:
		return &PlanError{Kind: KindInternal, Message: err.Error(), Cause: err}
	}
}
