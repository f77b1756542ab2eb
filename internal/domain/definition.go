package domain

import (
	"fmt"
	"time"
)

// Operator is a primitive, directly executable action.
type Operator struct {
	Name          string        `yaml:"name"`
	Params        []string      `yaml:"params,omitempty"`
	Preconditions []Fact        `yaml:"preconditions,omitempty"`
	Effects       []Fact        `yaml:"effects,omitempty"`
	Cost          float64       `yaml:"cost,omitempty"`
	Duration      time.Duration `yaml:"duration,omitempty"`
}

// Validate checks that the operator is well formed.
func (o *Operator) Validate() error {
	if o.Name == "" {
		return fmt.Errorf("operator name is required: %w", ErrInvalidArgument)
	}
	if o.Cost < 0 {
		return fmt.Errorf("operator %s: negative cost: %w", o.Name, ErrInvalidArgument)
	}
	return nil
}

// SubtaskTemplate describes one child produced by a method.
// Param values starting with '?' are copied from the parent task's params.
type SubtaskTemplate struct {
	Name   string            `yaml:"name"`
	Params map[string]string `yaml:"params,omitempty"`
}

// Bind resolves the template parameters against the parent's parameters.
func (t SubtaskTemplate) Bind(parent map[string]string) map[string]string {
	if len(t.Params) == 0 {
		return nil
	}
	out := make(map[string]string, len(t.Params))
	for k, v := range t.Params {
		if len(v) > 1 && v[0] == '?' {
			if pv, ok := parent[v[1:]]; ok {
				out[k] = pv
				continue
			}
		}
		out[k] = v
	}
	return out
}

// Method is a decomposition rule for a composite task.
type Method struct {
	Name          string            `yaml:"name"`
	Task          string            `yaml:"task"`
	Params        []string          `yaml:"params,omitempty"`
	Preconditions []Fact            `yaml:"preconditions,omitempty"`
	Subtasks      []SubtaskTemplate `yaml:"subtasks,omitempty"`

	// Ordered means every subtask follows the previous one.
	Ordered bool `yaml:"ordered,omitempty"`

	// Orderings lists [before, after] subtask index pairs for partial orders.
	Orderings [][2]int `yaml:"orderings,omitempty"`
}

// Validate checks that the method is well formed.
func (m *Method) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("method name is required: %w", ErrInvalidArgument)
	}
	if m.Task == "" {
		return fmt.Errorf("method %s: trigger task is required: %w", m.Name, ErrInvalidArgument)
	}
	for _, o := range m.Orderings {
		if o[0] < 0 || o[1] < 0 || o[0] >= len(m.Subtasks) || o[1] >= len(m.Subtasks) || o[0] == o[1] {
			return fmt.Errorf("method %s: ordering %v out of range: %w", m.Name, o, ErrInvalidArgument)
		}
	}
	return nil
}

// Edges returns the ordering constraints between subtask indexes.
func (m *Method) Edges() [][2]int {
	if m.Ordered {
		edges := make([][2]int, 0, len(m.Subtasks))
		for i := 1; i < len(m.Subtasks); i++ {
			edges = append(edges, [2]int{i - 1, i})
		}
		return edges
	}
	return m.Orderings
}

// Accepts reports whether the task parameters satisfy the method's parameter shape.
func (m *Method) Accepts(params map[string]string) bool {
	for _, p := range m.Params {
		if _, ok := params[p]; !ok {
			return false
		}
	}
	return true
}

// MatchesChildren reports whether the child task names are exactly the
// method's subtask names, as a multiset.
func (m *Method) MatchesChildren(names []string) bool {
	if len(names) != len(m.Subtasks) {
		return false
	}
	counts := make(map[string]int, len(names))
	for _, st := range m.Subtasks {
		counts[st.Name]++
	}
	for _, n := range names {
		counts[n]--
		if counts[n] < 0 {
			return false
		}
	}
	return true
}
