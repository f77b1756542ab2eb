package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/example/hybridplanner/internal/domain"
)

// ViolationKind classifies why a candidate plan was rejected.
type ViolationKind string

const (
	ViolationNoApplicableMethod      ViolationKind = "NoApplicableMethod"
	ViolationUnknownOperator         ViolationKind = "UnknownOperator"
	ViolationUnsatisfiedPrecondition ViolationKind = "UnsatisfiedPrecondition"
	ViolationConflictingEffects      ViolationKind = "ConflictingEffects"
	ViolationEmptyDecomposition      ViolationKind = "EmptyDecomposition"
	ViolationCyclicDependency        ViolationKind = "CyclicDependency"
	ViolationDanglingReference       ViolationKind = "DanglingReference"
	ViolationMalformedPlan           ViolationKind = "MalformedPlan"
)

// Violation explains one reason a candidate is invalid. It is plain data
// that drives constrained regeneration.
type Violation struct {
	Kind     ViolationKind `json:"kind"`
	TaskID   string        `json:"taskId,omitempty"`
	TaskName string        `json:"taskName,omitempty"`

	// Related names the other task involved in a conflict.
	Related     string `json:"related,omitempty"`
	RelatedName string `json:"relatedName,omitempty"`

	Fact *domain.Fact `json:"fact,omitempty"`

	// Suggested is an edge that would fix an unsatisfied precondition.
	Suggested *domain.Dependency `json:"suggested,omitempty"`

	Message string `json:"message"`
}

// Key identifies a violation independently of plan-scoped task ids, so the
// same mistake made on different attempts is recognised as one reason.
func (v Violation) Key() string {
	var b strings.Builder
	b.WriteString(string(v.Kind))
	b.WriteByte('|')
	b.WriteString(v.TaskName)
	b.WriteByte('|')
	b.WriteString(v.RelatedName)
	if v.Fact != nil {
		b.WriteByte('|')
		b.WriteString(v.Fact.String())
	}
	if v.Kind == ViolationMalformedPlan || v.Kind == ViolationDanglingReference || v.Kind == ViolationCyclicDependency {
		b.WriteByte('|')
		b.WriteString(v.Message)
	}
	return b.String()
}

func (v Violation) String() string {
	if v.TaskID != "" {
		return fmt.Sprintf("%s[%s]: %s", v.Kind, v.TaskID, v.Message)
	}
	return fmt.Sprintf("%s: %s", v.Kind, v.Message)
}

// MergeViolations returns the union of violation sets keyed by Key, keeping
// the first occurrence and sorting by kind then key.
func MergeViolations(sets ...[]Violation) []Violation {
	seen := make(map[string]bool)
	var out []Violation
	for _, set := range sets {
		for _, v := range set {
			k := v.Key()
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Key() < out[j].Key()
	})
	return out
}

// Summarize renders violations as a single human-readable line.
func Summarize(vs []Violation) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.String()
	}
	return strings.Join(parts, "; ")
}
