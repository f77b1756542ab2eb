package decomposer

import (
	"context"
	"sync"

	"github.com/example/hybridplanner/internal/domain"
)

// Step is one scripted generator response.
type Step struct {
	// Plan is returned as a fresh clone. Domain id and version default to
	// the request's snapshot.
	Plan *domain.Plan
	// Output is parsed with ParseCandidate when Plan is nil.
	Output string
	Err    error
	Cost   float64
	// Wait, when set, blocks the call until it is closed or the context ends.
	Wait <-chan struct{}
}

// ScriptedGenerator replays a fixed sequence of responses. Once the script
// runs out the last step repeats. Safe for concurrent use.
type ScriptedGenerator struct {
	mu       sync.Mutex
	steps    []Step
	requests []Request
}

// NewScriptedGenerator creates a generator that plays steps in order.
func NewScriptedGenerator(steps ...Step) *ScriptedGenerator {
	return &ScriptedGenerator{steps: steps}
}

func (g *ScriptedGenerator) Generate(ctx context.Context, req Request) (*Candidate, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	n := len(g.requests)
	var step Step
	if len(g.steps) > 0 {
		step = g.steps[min(n, len(g.steps))-1]
	}
	g.mu.Unlock()

	if step.Wait != nil {
		select {
		case <-step.Wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if step.Err != nil {
		return nil, step.Err
	}

	var plan *domain.Plan
	switch {
	case step.Plan != nil:
		plan = step.Plan.Clone()
		if plan.DomainID == "" && req.Snapshot != nil {
			plan.DomainID = req.Snapshot.DomainID
			plan.DomainVersion = req.Snapshot.Version
		}
	case step.Output != "":
		p, err := ParseCandidate(step.Output, req)
		if err != nil {
			return nil, err
		}
		plan = p
	default:
		return nil, InvalidOutput("script has no response for call %d", n)
	}
	return &Candidate{Plan: plan, Cost: step.Cost, Raw: step.Output}, nil
}

// Calls returns how many times Generate was invoked.
func (g *ScriptedGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

// Requests returns a copy of every request received.
func (g *ScriptedGenerator) Requests() []Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Request(nil), g.requests...)
}
