// Package domain is a stub for testing the domain linter.
package domain

type Fact struct {
	Name  string
	Value string
}

type Operator struct {
	Name          string
	Preconditions []Fact
	Effects       []Fact
	Cost          float64
}

type SubtaskTemplate struct {
	Name string
}

type Method struct {
	Name      string
	Task      string
	Subtasks  []SubtaskTemplate
	Orderings [][2]int
}

type Domain struct{}

func NewDomain(id string) *Domain { return &Domain{} }

func NewFact(name string) Fact { return Fact{Name: name} }
