package decomposer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/example/hybridplanner/internal/domain"
)

// maxExpansionDepth stops runaway recursive methods.
const maxExpansionDepth = 32

// TemplateGenerator expands the intent offline using the domain's own
// methods, the way a classic HTN planner would. It needs no provider and is
// the fallback when no language model is configured.
type TemplateGenerator struct{}

// NewTemplateGenerator creates a TemplateGenerator.
func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{}
}

func (g *TemplateGenerator) Generate(ctx context.Context, req Request) (*Candidate, error) {
	if req.Snapshot == nil {
		return nil, &GenerationError{Kind: KindProviderError, Message: "request has no domain snapshot"}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root, ok := MatchTask(req.Intent, req.Snapshot)
	if !ok {
		return nil, InvalidOutput("no task in domain %s matches intent %q", req.Snapshot.DomainID, req.Intent)
	}

	e := &expansion{
		snap:    req.Snapshot,
		state:   req.State,
		avoid:   make(map[string]bool),
		plan:    &domain.Plan{Intent: req.Intent, Context: req.Context, DomainID: req.Snapshot.DomainID, DomainVersion: req.Snapshot.Version},
		byName:  make(map[string][]string),
		intent:  strings.Fields(domain.NormalizeIntent(req.Intent)),
		context: req.Context,
	}
	for _, c := range req.Constraints {
		if c.Kind == ConstraintAvoid && !c.Soft {
			e.avoid[c.Task] = true
		}
	}

	rootID, err := e.expand(root, e.bindParams(root, nil), 0)
	if err != nil {
		return nil, err
	}
	e.plan.RootID = rootID
	e.applyOrderConstraints(req.Constraints)
	return &Candidate{Plan: e.plan}, nil
}

// MatchTask picks the domain task whose name best matches the intent: every
// word of the task name must appear in the intent; more words win, then
// composites, then the name.
func MatchTask(intent string, snap *domain.Snapshot) (string, bool) {
	words := make(map[string]bool)
	for _, w := range strings.Fields(domain.NormalizeIntent(intent)) {
		words[w] = true
	}

	best, bestScore, bestComposite := "", 0, false
	for _, name := range snap.TaskNames() {
		parts := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
		score := 0
		for _, p := range parts {
			if words[p] {
				score++
			}
		}
		if score == 0 || score < len(parts) {
			continue
		}
		_, isOp := snap.Operator(name)
		composite := !isOp
		if score > bestScore || (score == bestScore && composite && !bestComposite) {
			best, bestScore, bestComposite = name, score, composite
		}
	}
	return best, best != ""
}

type expansion struct {
	snap    *domain.Snapshot
	state   domain.WorldState
	avoid   map[string]bool
	plan    *domain.Plan
	byName  map[string][]string
	intent  []string
	context map[string]string
	next    int
}

func (e *expansion) newID() string {
	e.next++
	return fmt.Sprintf("t%d", e.next)
}

// bindParams resolves the parameters a task needs: inherited values first,
// then the request context, then the word following the parameter name in
// the intent ("weather for city paris" binds city=paris).
func (e *expansion) bindParams(task string, inherited map[string]string) map[string]string {
	var names []string
	if op, ok := e.snap.Operator(task); ok {
		names = op.Params
	}
	for _, m := range e.snap.MethodsFor(task) {
		names = append(names, m.Params...)
	}

	params := make(map[string]string, len(inherited)+len(names))
	for k, v := range inherited {
		params[k] = v
	}
	for _, n := range names {
		if _, ok := params[n]; ok {
			continue
		}
		if v, ok := e.context[n]; ok {
			params[n] = v
			continue
		}
		for i := 0; i+1 < len(e.intent); i++ {
			if e.intent[i] == strings.ToLower(n) {
				params[n] = e.intent[i+1]
				break
			}
		}
	}
	if len(params) == 0 {
		return nil
	}
	return params
}

func (e *expansion) expand(name string, params map[string]string, depth int) (string, error) {
	if depth > maxExpansionDepth {
		return "", InvalidOutput("expansion of %s exceeds depth %d", name, maxExpansionDepth)
	}
	id := e.newID()
	e.byName[name] = append(e.byName[name], id)

	if op, ok := e.snap.Operator(name); ok {
		e.plan.Tasks = append(e.plan.Tasks, &domain.Task{
			ID: id, Name: name, Kind: domain.TaskKindPrimitive, Operator: op.Name,
			Params: params, Status: domain.TaskStatusPending,
		})
		e.state = e.state.With(domain.BindFacts(op.Effects, params)...)
		return id, nil
	}

	m := e.chooseMethod(name, params)
	if m == nil {
		return "", InvalidOutput("no usable method for task %s", name)
	}
	task := &domain.Task{
		ID: id, Name: name, Kind: domain.TaskKindComposite, Method: m.Name,
		Params: params, Terminal: len(m.Subtasks) == 0, Status: domain.TaskStatusPending,
	}
	e.plan.Tasks = append(e.plan.Tasks, task)

	children := make([]string, len(m.Subtasks))
	for i, st := range m.Subtasks {
		childParams := e.bindParams(st.Name, merge(params, st.Bind(params)))
		cid, err := e.expand(st.Name, childParams, depth+1)
		if err != nil {
			return "", err
		}
		children[i] = cid
	}
	if len(children) > 0 {
		task.Children = children
	}
	for _, edge := range m.Edges() {
		e.plan.Dependencies = append(e.plan.Dependencies, domain.NewDependency(children[edge[0]], children[edge[1]]))
	}
	return id, nil
}

// chooseMethod prefers the first method, by name, whose parameters are bound
// and whose preconditions hold now. A method that merely accepts the
// parameters is the fallback, leaving the verdict to validation.
func (e *expansion) chooseMethod(task string, params map[string]string) *domain.Method {
	var fallback *domain.Method
	for _, m := range e.snap.MethodsFor(task) {
		if e.avoid[m.Name] || !m.Accepts(params) {
			continue
		}
		if _, ok := e.state.HoldsAll(domain.BindFacts(m.Preconditions, params)); ok {
			return m
		}
		if fallback == nil {
			fallback = m
		}
	}
	return fallback
}

// applyOrderConstraints adds the edges earlier attempts were missing.
func (e *expansion) applyOrderConstraints(cs []Constraint) {
	seen := make(map[domain.Dependency]bool, len(e.plan.Dependencies))
	for _, d := range e.plan.Dependencies {
		seen[d] = true
	}
	for _, c := range cs {
		if c.Kind != ConstraintOrder {
			continue
		}
		froms, tos := e.byName[c.Before], e.byName[c.Task]
		sort.Strings(froms)
		sort.Strings(tos)
		for _, from := range froms {
			for _, to := range tos {
				d := domain.NewDependency(from, to)
				if from == to || seen[d] {
					continue
				}
				seen[d] = true
				e.plan.Dependencies = append(e.plan.Dependencies, d)
			}
		}
	}
}

func merge(a, b map[string]string) map[string]string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make(map[string]string, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}
