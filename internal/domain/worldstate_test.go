package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorldState_WithIsImmutable(t *testing.T) {
	src := map[string]string{"a": "true"}
	s := NewWorldState(src)
	src["a"] = "false"

	next := s.With(Fact{Name: "b", Value: "2"})

	assert.True(t, s.Holds(NewFact("a")))
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 2, next.Len())
	assert.True(t, next.Holds(Fact{Name: "b", Value: "2"}))
	assert.False(t, s.Equal(next))
	assert.Equal(t, "{a=true, b=2}", next.String())
}

func TestWorldState_HoldsAll(t *testing.T) {
	var s WorldState
	f, ok := s.HoldsAll(nil)
	assert.True(t, ok)
	assert.Equal(t, Fact{}, f)

	s = s.With(NewFact("x"))
	f, ok = s.HoldsAll([]Fact{NewFact("x"), {Name: "y", Value: "1"}})
	assert.False(t, ok)
	assert.Equal(t, "y", f.Name)
}

func TestFact_Bind(t *testing.T) {
	f := Fact{Name: "weather_known_?city_?city_code"}
	bound := f.Bind(map[string]string{"city": "paris", "city_code": "PAR"})
	assert.Equal(t, Fact{Name: "weather_known_paris_PAR", Value: "true"}, bound)

	assert.Equal(t, "x=1", Fact{Name: "x", Value: "1"}.String())
	assert.Equal(t, "x", Fact{Name: "x"}.String())
}

func TestSubtaskTemplate_Bind(t *testing.T) {
	st := SubtaskTemplate{Name: "get_weather", Params: map[string]string{"city": "?destination", "units": "metric"}}
	assert.Equal(t,
		map[string]string{"city": "rome", "units": "metric"},
		st.Bind(map[string]string{"destination": "rome"}))
}

func TestMethod_Edges(t *testing.T) {
	m := Method{Subtasks: []SubtaskTemplate{{Name: "a"}, {Name: "b"}, {Name: "c"}}, Ordered: true}
	assert.Equal(t, [][2]int{{0, 1}, {1, 2}}, m.Edges())

	m.Ordered = false
	m.Orderings = [][2]int{{0, 2}}
	assert.Equal(t, [][2]int{{0, 2}}, m.Edges())
	assert.True(t, m.MatchesChildren([]string{"c", "a", "b"}))
	assert.False(t, m.MatchesChildren([]string{"a", "a", "b"}))
}
