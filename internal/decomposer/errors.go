package decomposer

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies generation failures.
type ErrorKind string

const (
	KindTimeout       ErrorKind = "timeout"
	KindInvalidOutput ErrorKind = "invalid_output"
	KindProviderError ErrorKind = "provider_error"
)

// ErrCanceled is returned when the caller's context ends before a
// candidate is produced.
var ErrCanceled = errors.New("generation canceled")

// GenerationError is the only failure type that leaves the adapter.
// Provider errors are flattened into Message so that no provider-specific
// type crosses the boundary.
type GenerationError struct {
	Kind    ErrorKind
	Attempt int

	// Exhausted is set when the attempt ceiling was reached.
	Exhausted bool

	Message string
}

func (e *GenerationError) Error() string {
	prefix := fmt.Sprintf("generation attempt %d: %s", e.Attempt, e.Kind)
	if e.Exhausted {
		prefix += " (attempts exhausted)"
	}
	if e.Message == "" {
		return prefix
	}
	return prefix + ": " + e.Message
}

// Is matches GenerationErrors by kind, and by exhaustion when the target
// sets it.
func (e *GenerationError) Is(target error) bool {
	var t *GenerationError
	if !errors.As(target, &t) {
		return false
	}
	if t.Kind != "" && t.Kind != e.Kind {
		return false
	}
	return !t.Exhausted || e.Exhausted
}

var (
	// ErrTimeout matches any timed-out attempt.
	ErrTimeout = &GenerationError{Kind: KindTimeout}
	// ErrInvalidOutput matches any unparsable candidate.
	ErrInvalidOutput = &GenerationError{Kind: KindInvalidOutput}
	// ErrProvider matches any other provider failure.
	ErrProvider = &GenerationError{Kind: KindProviderError}
	// ErrExhausted matches a failure that hit the attempt ceiling.
	ErrExhausted = &GenerationError{Exhausted: true}
)

// InvalidOutput builds an invalid-output error for generator implementations.
func InvalidOutput(format string, args ...any) *GenerationError {
	return &GenerationError{Kind: KindInvalidOutput, Message: fmt.Sprintf(format, args...)}
}

// classify maps any generator failure onto the taxonomy. attemptCtx is the
// per-attempt context, so a deadline on it means the attempt timed out.
func classify(attemptCtx context.Context, err error, attempt int) *GenerationError {
	var ge *GenerationError
	if errors.As(err, &ge) {
		out := *ge
		out.Attempt = attempt
		return &out
	}
	kind := KindProviderError
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &GenerationError{Kind: kind, Attempt: attempt, Message: err.Error()}
}

func canceled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrCanceled, context.Cause(ctx))
}
