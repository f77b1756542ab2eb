package validator

import (
	"fmt"
	"sort"

	"github.com/example/hybridplanner/internal/domain"
)

// Annotate propagates declared preconditions, effects, cost and duration
// onto the tasks of a validated plan. Primitives take their bound operator
// definition; composites take their method's bound preconditions and the
// aggregated effects of their descendants. res must come from a successful
// Validate of the same plan.
func Annotate(plan *domain.Plan, snap *domain.Snapshot, res Result) error {
	if !res.Valid {
		return fmt.Errorf("cannot annotate an invalid plan: %w", domain.ErrInvalidState)
	}
	if plan.Frozen() {
		return domain.ErrFrozen
	}

	pos := make(map[string]int, len(res.Linearization))
	for i, id := range res.Linearization {
		pos[id] = i
	}
	idx := plan.TaskIndex()

	for _, t := range plan.Tasks {
		if !t.IsPrimitive() {
			continue
		}
		op, ok := snap.Operator(t.OperatorName())
		if !ok {
			return fmt.Errorf("task %s operator %s: %w", t.ID, t.OperatorName(), domain.ErrUnknownTask)
		}
		t.Operator = op.Name
		t.Preconditions = domain.BindFacts(op.Preconditions, t.Params)
		t.Effects = domain.BindFacts(op.Effects, t.Params)
		t.Cost = op.Cost
		t.Duration = op.Duration
	}

	var leaves func(id string) []*domain.Task
	leaves = func(id string) []*domain.Task {
		t := idx[id]
		if t.IsPrimitive() {
			return []*domain.Task{t}
		}
		var out []*domain.Task
		for _, c := range t.Children {
			out = append(out, leaves(c)...)
		}
		return out
	}

	for _, t := range plan.Tasks {
		if t.IsPrimitive() {
			continue
		}
		if name, ok := res.Methods[t.ID]; ok {
			t.Method = name
			if m, ok := snap.Method(name); ok {
				t.Preconditions = domain.BindFacts(m.Preconditions, t.Params)
			}
		}

		ls := leaves(t.ID)
		sort.SliceStable(ls, func(i, j int) bool { return pos[ls[i].ID] < pos[ls[j].ID] })
		final := make(map[string]string)
		var names []string
		t.Cost, t.Duration = 0, 0
		for _, l := range ls {
			t.Cost += l.Cost
			t.Duration += l.Duration
			for _, e := range l.Effects {
				if _, seen := final[e.Name]; !seen {
					names = append(names, e.Name)
				}
				final[e.Name] = e.Val()
			}
		}
		t.Effects = nil
		for _, n := range names {
			t.Effects = append(t.Effects, domain.Fact{Name: n, Value: final[n]})
		}
	}
	return nil
}
