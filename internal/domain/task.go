package domain

import "time"

// TaskKind distinguishes executable tasks from decomposable ones.
type TaskKind string

const (
	TaskKindPrimitive TaskKind = "primitive"
	TaskKindComposite TaskKind = "composite"
)

// TaskStatus is only meaningful while a plan is a candidate.
type TaskStatus string

const (
	TaskStatusPending  TaskStatus = "pending"
	TaskStatusInvalid  TaskStatus = "invalid"
	TaskStatusAccepted TaskStatus = "accepted"
)

// Task is one entry of a plan's task arena. Children are referenced by id.
type Task struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Kind     TaskKind          `json:"kind"`
	Operator string            `json:"operator,omitempty"`
	Method   string            `json:"method,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
	Children []string          `json:"children,omitempty"`

	// Terminal marks a composite that intentionally has no children.
	Terminal bool `json:"terminal,omitempty"`

	Preconditions []Fact        `json:"preconditions,omitempty"`
	Effects       []Fact        `json:"effects,omitempty"`
	Cost          float64       `json:"cost,omitempty"`
	Duration      time.Duration `json:"duration,omitempty"`
	Status        TaskStatus    `json:"status,omitempty"`
}

// IsPrimitive reports whether the task is directly executable.
func (t *Task) IsPrimitive() bool {
	return t.Kind == TaskKindPrimitive
}

// OperatorName returns the operator the task references, defaulting to its name.
func (t *Task) OperatorName() string {
	if t.Operator != "" {
		return t.Operator
	}
	return t.Name
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	cp := *t
	if t.Params != nil {
		cp.Params = make(map[string]string, len(t.Params))
		for k, v := range t.Params {
			cp.Params[k] = v
		}
	}
	cp.Children = append([]string(nil), t.Children...)
	cp.Preconditions = append([]Fact(nil), t.Preconditions...)
	cp.Effects = append([]Fact(nil), t.Effects...)
	return &cp
}
