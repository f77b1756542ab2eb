// Package decomposer wraps the generative decomposition capability behind a
// bounded-retry call discipline. Generators produce candidate plans; the
// Adapter owns timeouts, backoff and the attempt ceiling, and normalises every
// failure into a GenerationError.
package decomposer

import (
	"context"
	"fmt"
	"strings"

	"github.com/example/hybridplanner/internal/domain"
)

// Generator is the external decomposition capability.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Candidate, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (*Candidate, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (*Candidate, error) {
	return f(ctx, req)
}

// Request is one decomposition call.
type Request struct {
	Intent   string
	Context  map[string]string
	Snapshot *domain.Snapshot
	State    domain.WorldState

	// Constraints carry the violations of earlier attempts (hard) and
	// learning suggestions (soft).
	Constraints []Constraint

	// Attempt is the 1-based generator call number within the planning request.
	// Set by the Session.
	Attempt int
}

// Candidate is an unvalidated plan returned by a generator.
type Candidate struct {
	Plan *domain.Plan

	// Cost is the provider cost of producing the candidate, in provider
	// units (tokens for language models).
	Cost float64

	// Raw is the unparsed provider output, kept for diagnostics.
	Raw string
}

// ConstraintKind says what a constraint asks of the next candidate.
type ConstraintKind string

const (
	// ConstraintOrder requires Before to complete before Task.
	ConstraintOrder ConstraintKind = "order"
	// ConstraintEstablish requires Fact to hold before Task runs.
	ConstraintEstablish ConstraintKind = "establish"
	// ConstraintAvoid forbids using Task (an operator or method name).
	ConstraintAvoid ConstraintKind = "avoid"
	// ConstraintDecompose requires Task to be decomposed with a registered method.
	ConstraintDecompose ConstraintKind = "decompose"
	// ConstraintNote is free text.
	ConstraintNote ConstraintKind = "note"
)

// Constraint is a hint for the next generation attempt. Task names, not
// plan-scoped ids, are used so constraints survive regeneration.
type Constraint struct {
	Kind   ConstraintKind `json:"kind"`
	Task   string         `json:"task,omitempty"`
	Before string         `json:"before,omitempty"`
	Fact   *domain.Fact   `json:"fact,omitempty"`

	// Soft constraints are suggestions; hard ones come from validation.
	Soft   bool    `json:"soft,omitempty"`
	Weight float64 `json:"weight,omitempty"`
	Reason string  `json:"reason,omitempty"`
}

// Key identifies equivalent constraints.
func (c Constraint) Key() string {
	fact := ""
	if c.Fact != nil {
		fact = c.Fact.String()
	}
	return strings.Join([]string{string(c.Kind), c.Task, c.Before, fact}, "|")
}

func (c Constraint) String() string {
	var s string
	switch c.Kind {
	case ConstraintOrder:
		s = fmt.Sprintf("%s must complete before %s starts", c.Before, c.Task)
	case ConstraintEstablish:
		s = fmt.Sprintf("%s must be established before %s", c.Fact, c.Task)
	case ConstraintAvoid:
		s = fmt.Sprintf("do not use %s", c.Task)
	case ConstraintDecompose:
		s = fmt.Sprintf("%s must be decomposed with a registered method", c.Task)
	default:
		s = c.Reason
	}
	if c.Soft {
		s = fmt.Sprintf("(suggested, weight %.2f) %s", c.Weight, s)
	}
	return s
}

// DedupeConstraints drops repeated constraints, keeping the first and
// preferring hard over soft.
func DedupeConstraints(cs []Constraint) []Constraint {
	idx := make(map[string]int, len(cs))
	var out []Constraint
	for _, c := range cs {
		k := c.Key()
		if i, ok := idx[k]; ok {
			if out[i].Soft && !c.Soft {
				out[i] = c
			}
			continue
		}
		idx[k] = len(out)
		out = append(out, c)
	}
	return out
}
