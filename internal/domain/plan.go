package domain

import (
	"fmt"
	"time"
)

// PlanMetadata summarises an accepted plan.
type PlanMetadata struct {
	Complexity        float64       `json:"complexity"`
	EstimatedDuration time.Duration `json:"estimatedDuration"`
	Confidence        float64       `json:"confidence"`
	Attempts          int           `json:"attempts"`
	Fingerprint       string        `json:"fingerprint,omitempty"`
	Linearization     []string      `json:"linearization,omitempty"`
}

// Plan is the top-level planning artifact.
type Plan struct {
	ID            string            `json:"planId"`
	Version       int64             `json:"version"`
	LineageID     string            `json:"lineageId"`
	CreatedAt     time.Time         `json:"createdAt"`
	Intent        string            `json:"intent"`
	Context       map[string]string `json:"context,omitempty"`
	DomainID      string            `json:"domainId"`
	DomainVersion uint64            `json:"domainVersion"`
	RootID        string            `json:"rootId"`
	Tasks         []*Task           `json:"tasks"`
	Dependencies  []Dependency      `json:"dependencies"`
	Metadata      PlanMetadata      `json:"metadata"`

	frozen bool
}

// NewPlan creates an empty candidate plan.
func NewPlan(id, lineageID, intent string) *Plan {
	return &Plan{
		ID:        id,
		LineageID: lineageID,
		Intent:    intent,
		CreatedAt: time.Now().UTC(),
		Version:   1,
	}
}

// Frozen reports whether the plan has been accepted.
func (p *Plan) Frozen() bool {
	return p.frozen
}

// Freeze marks the plan and all its tasks accepted. A frozen plan must not be mutated.
func (p *Plan) Freeze() {
	for _, t := range p.Tasks {
		t.Status = TaskStatusAccepted
	}
	p.frozen = true
}

// AddTask appends a task to the arena.
func (p *Plan) AddTask(t *Task) error {
	if p.frozen {
		return ErrFrozen
	}
	if t.ID == "" {
		return fmt.Errorf("task id is required: %w", ErrInvalidArgument)
	}
	for _, existing := range p.Tasks {
		if existing.ID == t.ID {
			return fmt.Errorf("task %s: %w", t.ID, ErrDuplicateDefinition)
		}
	}
	if t.Status == "" {
		t.Status = TaskStatusPending
	}
	p.Tasks = append(p.Tasks, t)
	return nil
}

// AddDependency appends an ordering edge.
func (p *Plan) AddDependency(from, to string) error {
	if p.frozen {
		return ErrFrozen
	}
	p.Dependencies = append(p.Dependencies, NewDependency(from, to))
	return nil
}

// SetStatus updates a task's construction status.
func (p *Plan) SetStatus(taskID string, status TaskStatus) error {
	if p.frozen {
		return ErrFrozen
	}
	for _, t := range p.Tasks {
		if t.ID == taskID {
			t.Status = status
			return nil
		}
	}
	return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
}

// TaskIndex returns the arena keyed by task id.
func (p *Plan) TaskIndex() map[string]*Task {
	idx := make(map[string]*Task, len(p.Tasks))
	for _, t := range p.Tasks {
		idx[t.ID] = t
	}
	return idx
}

// Task returns a task by id.
func (p *Plan) Task(id string) (*Task, bool) {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

// Parents maps each child id to the id of the composite that owns it.
func (p *Plan) Parents() map[string]string {
	parents := make(map[string]string)
	for _, t := range p.Tasks {
		for _, c := range t.Children {
			parents[c] = t.ID
		}
	}
	return parents
}

// Primitives returns the primitive tasks in arena order.
func (p *Plan) Primitives() []*Task {
	var out []*Task
	for _, t := range p.Tasks {
		if t.IsPrimitive() {
			out = append(out, t)
		}
	}
	return out
}

// Clone returns a mutable deep copy. The copy is never frozen.
func (p *Plan) Clone() *Plan {
	cp := *p
	cp.frozen = false
	if p.Context != nil {
		cp.Context = make(map[string]string, len(p.Context))
		for k, v := range p.Context {
			cp.Context[k] = v
		}
	}
	cp.Tasks = make([]*Task, len(p.Tasks))
	for i, t := range p.Tasks {
		cp.Tasks[i] = t.Clone()
	}
	cp.Dependencies = append([]Dependency(nil), p.Dependencies...)
	cp.Metadata.Linearization = append([]string(nil), p.Metadata.Linearization...)
	return &cp
}
