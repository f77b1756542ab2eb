package domain

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultFactValue is the value a fact takes when none is given.
const DefaultFactValue = "true"

// Fact is a named assertion about the world.
type Fact struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value,omitempty" yaml:"value,omitempty"`
}

// NewFact creates a fact with the default value.
func NewFact(name string) Fact {
	return Fact{Name: name, Value: DefaultFactValue}
}

// Val returns the fact value, applying the default for an empty value.
func (f Fact) Val() string {
	if f.Value == "" {
		return DefaultFactValue
	}
	return f.Value
}

func (f Fact) String() string {
	if f.Val() == DefaultFactValue {
		return f.Name
	}
	return f.Name + "=" + f.Value
}

// Bind substitutes ?param placeholders in the fact name with parameter values.
// Placeholders without a binding are left as-is.
func (f Fact) Bind(params map[string]string) Fact {
	if len(params) == 0 || !strings.Contains(f.Name, "?") {
		return Fact{Name: f.Name, Value: f.Val()}
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	// Longest first so ?city_code is not clobbered by ?city.
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	name := f.Name
	for _, k := range keys {
		name = strings.ReplaceAll(name, "?"+k, params[k])
	}
	return Fact{Name: name, Value: f.Val()}
}

// BindFacts binds every fact in the list.
func BindFacts(facts []Fact, params map[string]string) []Fact {
	if len(facts) == 0 {
		return nil
	}
	out := make([]Fact, len(facts))
	for i, f := range facts {
		out[i] = f.Bind(params)
	}
	return out
}

// WorldState is an immutable mapping from fact name to value.
// The zero value is an empty state.
type WorldState struct {
	facts map[string]string
}

// NewWorldState builds a state from a fact mapping. The map is copied.
func NewWorldState(facts map[string]string) WorldState {
	if len(facts) == 0 {
		return WorldState{}
	}
	cp := make(map[string]string, len(facts))
	for k, v := range facts {
		cp[k] = v
	}
	return WorldState{facts: cp}
}

// Get returns the value of a fact and whether it is known.
func (s WorldState) Get(name string) (string, bool) {
	v, ok := s.facts[name]
	return v, ok
}

// Holds reports whether the fact is true in this state.
func (s WorldState) Holds(f Fact) bool {
	return s.facts[f.Name] == f.Val()
}

// HoldsAll reports whether every fact holds, returning the first that does not.
func (s WorldState) HoldsAll(facts []Fact) (Fact, bool) {
	for _, f := range facts {
		if !s.Holds(f) {
			return f, false
		}
	}
	return Fact{}, true
}

// With returns a new state with the given facts merged in.
func (s WorldState) With(facts ...Fact) WorldState {
	if len(facts) == 0 {
		return s
	}
	next := make(map[string]string, len(s.facts)+len(facts))
	for k, v := range s.facts {
		next[k] = v
	}
	for _, f := range facts {
		next[f.Name] = f.Val()
	}
	return WorldState{facts: next}
}

// Len returns the number of known facts.
func (s WorldState) Len() int {
	return len(s.facts)
}

// Facts returns a copy of the underlying mapping.
func (s WorldState) Facts() map[string]string {
	out := make(map[string]string, len(s.facts))
	for k, v := range s.facts {
		out[k] = v
	}
	return out
}

// Equal reports whether both states hold exactly the same facts.
func (s WorldState) Equal(other WorldState) bool {
	if len(s.facts) != len(other.facts) {
		return false
	}
	for k, v := range s.facts {
		if ov, ok := other.facts[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

func (s WorldState) String() string {
	keys := make([]string, 0, len(s.facts))
	for k := range s.facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%s", k, s.facts[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
