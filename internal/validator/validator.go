// Package validator checks candidate plans against a domain symbolically.
//
// Validation is a pure function of (plan, domain snapshot, initial state):
// it never mutates its inputs and never fails on malformed candidates.
// Problems with the candidate are reported as Violations; only an unusable
// domain snapshot is returned as an error.
package validator

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/example/hybridplanner/internal/domain"
)

// ErrDomainMismatch is returned when the snapshot is not the domain version
// the plan references.
var ErrDomainMismatch = errors.New("plan references a different domain version")

// Result is the outcome of validating a candidate.
type Result struct {
	Valid      bool
	Violations []Violation

	// Linearization lists primitive task ids in execution order. Set only
	// when the plan is valid.
	Linearization []string

	// Methods maps composite task ids to the method that applies to them.
	Methods map[string]string

	CriticalPath time.Duration
	Depth        int
	TotalCost    float64
}

// Validator is the symbolic consistency checker. It holds no state.
type Validator struct{}

// New creates a Validator.
func New() *Validator {
	return &Validator{}
}

// Validate decides whether plan is executable from state under snap.
func (v *Validator) Validate(plan *domain.Plan, snap *domain.Snapshot, state domain.WorldState) (Result, error) {
	return Validate(plan, snap, state)
}

// Validate decides whether plan is executable from state under snap.
func Validate(plan *domain.Plan, snap *domain.Snapshot, state domain.WorldState) (Result, error) {
	if snap == nil {
		return Result{}, fmt.Errorf("nil domain snapshot: %w", domain.ErrUnknownDomain)
	}
	if plan == nil {
		return Result{Violations: []Violation{{Kind: ViolationMalformedPlan, Message: "plan is nil"}}}, nil
	}
	if plan.DomainID != snap.DomainID || plan.DomainVersion != snap.Version {
		return Result{}, fmt.Errorf("plan %s wants %s@%d, snapshot is %s@%d: %w",
			plan.ID, plan.DomainID, plan.DomainVersion, snap.DomainID, snap.Version, ErrDomainMismatch)
	}

	g := newGraph(plan, snap)

	var violations []Violation
	structural := g.checkStructure()
	violations = append(violations, structural...)
	violations = append(violations, g.checkDefinitions()...)
	if len(structural) > 0 {
		return Result{Violations: violations}, nil
	}

	if cyc := g.linearize(); cyc != nil {
		violations = append(violations, *cyc)
		return Result{Violations: violations}, nil
	}

	methods, methodViolations := g.checkMethods(state)
	violations = append(violations, methodViolations...)
	if pv := g.checkPreconditions(state); pv != nil {
		violations = append(violations, *pv)
	}
	violations = append(violations, g.checkConflicts()...)

	res := Result{
		Valid:      len(violations) == 0,
		Violations: violations,
		Methods:    methods,
	}
	if res.Valid {
		res.Linearization = append([]string(nil), g.order...)
		res.CriticalPath, res.Depth = g.longestPath(g.order)
		for _, id := range g.order {
			res.TotalCost += g.cost[id]
		}
	}
	return res, nil
}

// ApplyEffects returns a new state with the task's effects merged in.
// The input state is never modified.
func ApplyEffects(state domain.WorldState, task *domain.Task) domain.WorldState {
	if task == nil {
		return state
	}
	return state.With(task.Effects...)
}

// graph is the per-call working set. It is discarded after Validate returns.
type graph struct {
	plan   *domain.Plan
	snap   *domain.Snapshot
	tasks  map[string]*domain.Task
	parent map[string]string
	deps   *domain.DependencyIndex

	pre  map[string][]domain.Fact
	eff  map[string][]domain.Fact
	cost map[string]float64
	dur  map[string]time.Duration

	leafMemo  map[string][]string
	leafPreds map[string]map[string]bool
	order     []string
	pos       map[string]int
	anc       map[string]map[string]bool
}

func newGraph(plan *domain.Plan, snap *domain.Snapshot) *graph {
	return &graph{
		plan:     plan,
		snap:     snap,
		tasks:    make(map[string]*domain.Task, len(plan.Tasks)),
		parent:   make(map[string]string),
		deps:     domain.NewDependencyIndex(plan.Dependencies),
		pre:      make(map[string][]domain.Fact),
		eff:      make(map[string][]domain.Fact),
		cost:     make(map[string]float64),
		dur:      make(map[string]time.Duration),
		leafMemo: make(map[string][]string),
	}
}

func malformed(taskID, format string, args ...any) Violation {
	return Violation{Kind: ViolationMalformedPlan, TaskID: taskID, Message: fmt.Sprintf(format, args...)}
}

// checkStructure verifies ids, containment and edge endpoints.
func (g *graph) checkStructure() []Violation {
	var vs []Violation
	if len(g.plan.Tasks) == 0 {
		return []Violation{malformed("", "plan has no tasks")}
	}

	for i, t := range g.plan.Tasks {
		switch {
		case t == nil:
			vs = append(vs, malformed("", "task %d is nil", i))
		case t.ID == "":
			vs = append(vs, malformed("", "task %d (%s) has no id", i, t.Name))
		case g.tasks[t.ID] != nil:
			vs = append(vs, malformed(t.ID, "duplicate task id %s", t.ID))
		default:
			g.tasks[t.ID] = t
		}
	}

	for _, t := range g.ownTasks() {
		switch t.Kind {
		case domain.TaskKindPrimitive:
			if len(t.Children) > 0 {
				vs = append(vs, malformed(t.ID, "primitive task %s has children", t.ID))
			}
		case domain.TaskKindComposite:
		default:
			vs = append(vs, malformed(t.ID, "task %s has unknown kind %q", t.ID, t.Kind))
		}
		for _, c := range t.Children {
			if _, ok := g.tasks[c]; !ok {
				vs = append(vs, Violation{Kind: ViolationDanglingReference, TaskID: t.ID, TaskName: t.Name,
					Message: fmt.Sprintf("task %s references unknown child %s", t.ID, c)})
				continue
			}
			if c == t.ID {
				vs = append(vs, Violation{Kind: ViolationCyclicDependency, TaskID: t.ID, TaskName: t.Name,
					Message: fmt.Sprintf("task %s contains itself", t.ID)})
				continue
			}
			if p, ok := g.parent[c]; ok && p != t.ID {
				vs = append(vs, malformed(c, "task %s is a child of both %s and %s", c, p, t.ID))
				continue
			}
			g.parent[c] = t.ID
		}
	}

	for _, t := range g.ownTasks() {
		if g.inContainmentCycle(t.ID) {
			vs = append(vs, Violation{Kind: ViolationCyclicDependency, TaskID: t.ID, TaskName: t.Name,
				Message: fmt.Sprintf("containment cycle through %s", t.ID)})
			return vs
		}
	}

	if root := g.plan.RootID; root != "" {
		if _, ok := g.tasks[root]; !ok {
			vs = append(vs, Violation{Kind: ViolationDanglingReference, TaskID: root,
				Message: fmt.Sprintf("root task %s does not exist", root)})
		} else {
			if _, hasParent := g.parent[root]; hasParent {
				vs = append(vs, malformed(root, "root task %s has a parent", root))
			}
			for _, t := range g.ownTasks() {
				if _, hasParent := g.parent[t.ID]; !hasParent && t.ID != root {
					vs = append(vs, malformed(t.ID, "task %s is not reachable from root %s", t.ID, root))
				}
			}
		}
	}

	for _, d := range g.plan.Dependencies {
		_, fromOK := g.tasks[d.From]
		_, toOK := g.tasks[d.To]
		switch {
		case !fromOK || !toOK:
			vs = append(vs, Violation{Kind: ViolationDanglingReference,
				Message: fmt.Sprintf("dependency %s references an unknown task", d)})
		case d.From == d.To:
			vs = append(vs, Violation{Kind: ViolationCyclicDependency, TaskID: d.From, TaskName: g.tasks[d.From].Name,
				Message: fmt.Sprintf("task %s depends on itself", d.From)})
		case g.isAncestor(d.From, d.To) || g.isAncestor(d.To, d.From):
			vs = append(vs, Violation{Kind: ViolationCyclicDependency, TaskID: d.To, TaskName: g.tasks[d.To].Name,
				Message: fmt.Sprintf("dependency %s links a task to its own subtask", d)})
		}
	}
	return vs
}

// ownTasks returns the indexed tasks in plan order.
func (g *graph) ownTasks() []*domain.Task {
	out := make([]*domain.Task, 0, len(g.tasks))
	for _, t := range g.plan.Tasks {
		if t != nil && t.ID != "" && g.tasks[t.ID] == t {
			out = append(out, t)
		}
	}
	return out
}

func (g *graph) inContainmentCycle(id string) bool {
	cur := id
	for i := 0; i <= len(g.tasks); i++ {
		p, ok := g.parent[cur]
		if !ok {
			return false
		}
		if p == id {
			return true
		}
		cur = p
	}
	return false
}

// isAncestor reports whether a contains b, directly or transitively.
func (g *graph) isAncestor(a, b string) bool {
	cur := b
	for i := 0; i <= len(g.tasks); i++ {
		p, ok := g.parent[cur]
		if !ok {
			return false
		}
		if p == a {
			return true
		}
		cur = p
	}
	return false
}

// checkDefinitions resolves operators for primitives and flags empty composites.
func (g *graph) checkDefinitions() []Violation {
	var vs []Violation
	for _, t := range g.ownTasks() {
		switch t.Kind {
		case domain.TaskKindPrimitive:
			op, ok := g.snap.Operator(t.OperatorName())
			if !ok {
				vs = append(vs, Violation{Kind: ViolationUnknownOperator, TaskID: t.ID, TaskName: t.Name,
					Message: fmt.Sprintf("operator %q is not registered in domain %s@%d", t.OperatorName(), g.snap.DomainID, g.snap.Version)})
				g.pre[t.ID] = domain.BindFacts(t.Preconditions, t.Params)
				g.eff[t.ID] = domain.BindFacts(t.Effects, t.Params)
				g.cost[t.ID] = t.Cost
				g.dur[t.ID] = t.Duration
				continue
			}
			for _, p := range op.Params {
				if _, ok := t.Params[p]; !ok {
					vs = append(vs, malformed(t.ID, "task %s is missing parameter %q of operator %s", t.ID, p, op.Name))
				}
			}
			g.pre[t.ID] = domain.BindFacts(op.Preconditions, t.Params)
			g.eff[t.ID] = domain.BindFacts(op.Effects, t.Params)
			g.cost[t.ID] = op.Cost
			g.dur[t.ID] = op.Duration
		case domain.TaskKindComposite:
			if len(t.Children) == 0 && !t.Terminal {
				vs = append(vs, Violation{Kind: ViolationEmptyDecomposition, TaskID: t.ID, TaskName: t.Name,
					Message: fmt.Sprintf("composite task %s has no subtasks", t.ID)})
			}
		}
	}
	return vs
}

// leavesOf returns the primitive tasks under id, in child order.
func (g *graph) leavesOf(id string) []string {
	if l, ok := g.leafMemo[id]; ok {
		return l
	}
	t := g.tasks[id]
	var out []string
	if t.IsPrimitive() {
		out = []string{id}
	} else {
		for _, c := range t.Children {
			out = append(out, g.leavesOf(c)...)
		}
	}
	g.leafMemo[id] = out
	return out
}

// effectivePreds returns the direct predecessors of id and of all its
// containing composites.
func (g *graph) effectivePreds(id string) []string {
	var out []string
	cur := id
	for {
		out = append(out, g.deps.Predecessors(cur)...)
		p, ok := g.parent[cur]
		if !ok {
			return out
		}
		cur = p
	}
}

// linearize orders the primitive tasks with Kahn's algorithm. Among ready
// tasks the one with the lowest cost runs first, ties broken by id. A cycle
// is returned as a violation.
func (g *graph) linearize() *Violation {
	var leaves []string
	for _, t := range g.ownTasks() {
		if t.IsPrimitive() {
			leaves = append(leaves, t.ID)
		}
	}

	g.leafPreds = make(map[string]map[string]bool, len(leaves))
	succs := make(map[string][]string, len(leaves))
	indeg := make(map[string]int, len(leaves))
	for _, l := range leaves {
		preds := make(map[string]bool)
		for _, p := range g.effectivePreds(l) {
			for _, pl := range g.leavesOf(p) {
				if pl != l {
					preds[pl] = true
				}
			}
		}
		g.leafPreds[l] = preds
		indeg[l] = len(preds)
		for p := range preds {
			succs[p] = append(succs[p], l)
		}
	}

	var ready []string
	for _, l := range leaves {
		if indeg[l] == 0 {
			ready = append(ready, l)
		}
	}

	g.order = make([]string, 0, len(leaves))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			ci, cj := g.cost[ready[i]], g.cost[ready[j]]
			if ci != cj {
				return ci < cj
			}
			return ready[i] < ready[j]
		})
		n := ready[0]
		ready = ready[1:]
		g.order = append(g.order, n)
		for _, s := range succs[n] {
			indeg[s]--
			if indeg[s] == 0 {
				ready = append(ready, s)
			}
		}
	}

	if len(g.order) < len(leaves) {
		var stuck []string
		for _, l := range leaves {
			if indeg[l] > 0 {
				stuck = append(stuck, l)
			}
		}
		sort.Strings(stuck)
		return &Violation{Kind: ViolationCyclicDependency, TaskID: stuck[0], TaskName: g.tasks[stuck[0]].Name,
			Message: fmt.Sprintf("dependency cycle among tasks %s", strings.Join(stuck, ", "))}
	}

	g.pos = make(map[string]int, len(g.order))
	g.anc = make(map[string]map[string]bool, len(g.order))
	for i, n := range g.order {
		g.pos[n] = i
		a := make(map[string]bool)
		for p := range g.leafPreds[n] {
			a[p] = true
			for pp := range g.anc[p] {
				a[pp] = true
			}
		}
		g.anc[n] = a
	}
	return nil
}

// stateAfter applies, in linearization order, the effects of every leaf in set.
func (g *graph) stateAfter(initial domain.WorldState, set map[string]bool) domain.WorldState {
	st := initial
	for _, n := range g.order {
		if set[n] {
			st = st.With(g.eff[n]...)
		}
	}
	return st
}

// stateBefore is the state guaranteed when the composite id may start.
func (g *graph) stateBefore(initial domain.WorldState, id string) domain.WorldState {
	set := make(map[string]bool)
	for _, p := range g.effectivePreds(id) {
		for _, l := range g.leavesOf(p) {
			set[l] = true
			for a := range g.anc[l] {
				set[a] = true
			}
		}
	}
	return g.stateAfter(initial, set)
}

// checkMethods finds an applicable method for every composite task.
func (g *graph) checkMethods(initial domain.WorldState) (map[string]string, []Violation) {
	chosen := make(map[string]string)
	var vs []Violation
	for _, t := range g.ownTasks() {
		if t.Kind != domain.TaskKindComposite {
			continue
		}
		if _, isOp := g.snap.Operator(t.Name); isOp {
			vs = append(vs, Violation{Kind: ViolationNoApplicableMethod, TaskID: t.ID, TaskName: t.Name,
				Message: fmt.Sprintf("%s is a primitive task in domain %s and cannot be decomposed", t.Name, g.snap.DomainID)})
			continue
		}

		var candidates []*domain.Method
		if t.Method != "" {
			if m, ok := g.snap.Method(t.Method); ok && m.Task == t.Name {
				candidates = []*domain.Method{m}
			}
		} else {
			candidates = g.snap.MethodsFor(t.Name)
		}
		if len(candidates) == 0 {
			vs = append(vs, Violation{Kind: ViolationNoApplicableMethod, TaskID: t.ID, TaskName: t.Name,
				Message: fmt.Sprintf("no method registered for %s", describeMethodRef(t))})
			continue
		}

		childNames := make([]string, 0, len(t.Children))
		for _, c := range t.Children {
			childNames = append(childNames, g.tasks[c].Name)
		}
		state := g.stateBefore(initial, t.ID)

		var reasons []string
		for _, m := range candidates {
			if !m.Accepts(t.Params) {
				reasons = append(reasons, fmt.Sprintf("%s: missing parameters", m.Name))
				continue
			}
			if !(t.Terminal && len(t.Children) == 0) && !m.MatchesChildren(childNames) {
				reasons = append(reasons, fmt.Sprintf("%s: subtasks %v do not match", m.Name, childNames))
				continue
			}
			if f, ok := state.HoldsAll(domain.BindFacts(m.Preconditions, t.Params)); !ok {
				reasons = append(reasons, fmt.Sprintf("%s: precondition %s does not hold", m.Name, f))
				continue
			}
			if why, ok := g.respectsOrder(m, t.Children); !ok {
				reasons = append(reasons, fmt.Sprintf("%s: %s", m.Name, why))
				continue
			}
			chosen[t.ID] = m.Name
			break
		}
		if _, ok := chosen[t.ID]; !ok {
			vs = append(vs, Violation{Kind: ViolationNoApplicableMethod, TaskID: t.ID, TaskName: t.Name,
				Message: fmt.Sprintf("no applicable method for %s (%s)", t.Name, strings.Join(reasons, "; "))})
		}
	}
	return chosen, vs
}

// respectsOrder checks the children against the method's subtask ordering.
// Children are matched to templates of the same name in execution order.
func (g *graph) respectsOrder(m *domain.Method, children []string) (string, bool) {
	edges := m.Edges()
	if len(edges) == 0 {
		return "", true
	}
	byExec := append([]string(nil), children...)
	sort.SliceStable(byExec, func(a, b int) bool {
		return g.firstPos(byExec[a]) < g.firstPos(byExec[b])
	})
	slot := make([]string, len(m.Subtasks))
	for _, c := range byExec {
		for i, st := range m.Subtasks {
			if slot[i] == "" && st.Name == g.tasks[c].Name {
				slot[i] = c
				break
			}
		}
	}
	for _, e := range edges {
		if e[0] < 0 || e[1] < 0 || e[0] >= len(slot) || e[1] >= len(slot) {
			continue
		}
		before, after := slot[e[0]], slot[e[1]]
		if before == "" || after == "" {
			continue
		}
		if !g.precedes(g.leavesOf(before), g.leavesOf(after)) {
			return fmt.Sprintf("%s (%s) must be ordered before %s (%s)",
				before, g.tasks[before].Name, after, g.tasks[after].Name), false
		}
	}
	return "", true
}

// firstPos is the linearization position of the earliest leaf under id.
func (g *graph) firstPos(id string) int {
	first := len(g.order)
	for _, l := range g.leavesOf(id) {
		if p, ok := g.pos[l]; ok && p < first {
			first = p
		}
	}
	return first
}

func describeMethodRef(t *domain.Task) string {
	if t.Method != "" {
		return fmt.Sprintf("%s via method %s", t.Name, t.Method)
	}
	return t.Name
}

// checkPreconditions simulates the linearization. Each primitive must have
// its preconditions established by the initial state plus the effects of
// tasks ordered before it by dependency edges. The first failure is reported.
func (g *graph) checkPreconditions(initial domain.WorldState) *Violation {
	for _, n := range g.order {
		state := g.stateAfter(initial, g.anc[n])
		missing, ok := state.HoldsAll(g.pre[n])
		if ok {
			continue
		}
		t := g.tasks[n]
		f := missing
		v := Violation{Kind: ViolationUnsatisfiedPrecondition, TaskID: n, TaskName: t.Name, Fact: &f,
			Message: fmt.Sprintf("precondition %s of task %s is not established by any predecessor", f, n)}
		if producer := g.producerOf(f, n); producer != "" {
			v.Suggested = &domain.Dependency{From: producer, To: n}
			v.Related = producer
			v.RelatedName = g.tasks[producer].Name
			v.Message += fmt.Sprintf("; %s establishes it but is not ordered before it", producer)
		}
		return &v
	}
	return nil
}

// producerOf finds a task establishing f that could be ordered before n
// without creating a cycle.
func (g *graph) producerOf(f domain.Fact, n string) string {
	for _, m := range g.order {
		if m == n || g.anc[m][n] {
			continue
		}
		for _, e := range g.eff[m] {
			if e.Name == f.Name && e.Val() == f.Val() {
				return m
			}
		}
	}
	return ""
}

// checkConflicts reports unordered siblings that assert different values
// for the same fact.
func (g *graph) checkConflicts() []Violation {
	var groups [][]string
	var roots []string
	for _, t := range g.ownTasks() {
		if len(t.Children) > 1 {
			groups = append(groups, t.Children)
		}
		if _, ok := g.parent[t.ID]; !ok {
			roots = append(roots, t.ID)
		}
	}
	if len(roots) > 1 {
		groups = append(groups, roots)
	}

	var vs []Violation
	for _, siblings := range groups {
		for i := 0; i < len(siblings); i++ {
			for j := i + 1; j < len(siblings); j++ {
				a, b := siblings[i], siblings[j]
				la, lb := g.leavesOf(a), g.leavesOf(b)
				if len(la) == 0 || len(lb) == 0 || g.precedes(la, lb) || g.precedes(lb, la) {
					continue
				}
				ea, eb := g.finalEffects(la), g.finalEffects(lb)
				names := make([]string, 0, len(ea))
				for name := range ea {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					if vb, ok := eb[name]; ok && vb != ea[name] {
						f := domain.Fact{Name: name, Value: ea[name]}
						vs = append(vs, Violation{Kind: ViolationConflictingEffects,
							TaskID: a, TaskName: g.tasks[a].Name, Related: b, RelatedName: g.tasks[b].Name, Fact: &f,
							Message: fmt.Sprintf("unordered tasks %s and %s set %s to %q and %q", a, b, name, ea[name], vb)})
						break
					}
				}
			}
		}
	}
	return vs
}

// precedes reports whether every leaf in before is ordered ahead of every leaf in after.
func (g *graph) precedes(before, after []string) bool {
	for _, y := range after {
		for _, x := range before {
			if !g.anc[y][x] {
				return false
			}
		}
	}
	return true
}

func (g *graph) finalEffects(leaves []string) map[string]string {
	set := make(map[string]bool, len(leaves))
	for _, l := range leaves {
		set[l] = true
	}
	out := make(map[string]string)
	for _, n := range g.order {
		if !set[n] {
			continue
		}
		for _, e := range g.eff[n] {
			out[e.Name] = e.Val()
		}
	}
	return out
}

// longestPath returns the duration of the critical path and the length of
// the longest dependency chain over the given leaves, which must be in
// linearization order.
func (g *graph) longestPath(leaves []string) (time.Duration, int) {
	in := make(map[string]bool, len(leaves))
	for _, l := range leaves {
		in[l] = true
	}
	finish := make(map[string]time.Duration, len(leaves))
	depth := make(map[string]int, len(leaves))
	var critical time.Duration
	var maxDepth int
	for _, n := range leaves {
		var start time.Duration
		d := 0
		for p := range g.leafPreds[n] {
			if !in[p] {
				continue
			}
			if finish[p] > start {
				start = finish[p]
			}
			if depth[p] > d {
				d = depth[p]
			}
		}
		finish[n] = start + g.dur[n]
		depth[n] = d + 1
		if finish[n] > critical {
			critical = finish[n]
		}
		if depth[n] > maxDepth {
			maxDepth = depth[n]
		}
	}
	return critical, maxDepth
}
