package service

import (
	"github.com/example/hybridplanner/internal/decomposer"
	"github.com/example/hybridplanner/internal/validator"
)

// ConstraintsFromViolations turns a rejected candidate's violations into
// hard constraints for the next generation attempt.
func ConstraintsFromViolations(vs []validator.Violation) []decomposer.Constraint {
	out := make([]decomposer.Constraint, 0, len(vs))
	for _, v := range vs {
		c := decomposer.Constraint{Task: v.TaskName, Fact: v.Fact, Reason: v.String()}
		switch v.Kind {
		case validator.ViolationUnsatisfiedPrecondition:
			if v.RelatedName != "" {
				c.Kind = decomposer.ConstraintOrder
				c.Before = v.RelatedName
			} else {
				c.Kind = decomposer.ConstraintEstablish
			}
		case validator.ViolationConflictingEffects:
			// Serialising the pair resolves the conflict either way round.
			c.Kind = decomposer.ConstraintOrder
			c.Task, c.Before = v.RelatedName, v.TaskName
		case validator.ViolationUnknownOperator:
			c.Kind = decomposer.ConstraintAvoid
			c.Fact = nil
		case validator.ViolationNoApplicableMethod, validator.ViolationEmptyDecomposition:
			c.Kind = decomposer.ConstraintDecompose
			c.Fact = nil
		default:
			c = decomposer.Constraint{Kind: decomposer.ConstraintNote, Reason: v.String()}
		}
		out = append(out, c)
	}
	return decomposer.DedupeConstraints(out)
}
