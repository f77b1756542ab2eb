// Package a is a test package for the domain linter.
package a

import "domain"

func emptyNames() {
	domain.NewDomain("") // want "NewDomain called with empty string literal"
	domain.NewFact("")   // want "NewFact called with empty string literal"
}

func unnamed() {
	_ = domain.Operator{Cost: 1}  // want "Operator literal has no name"
	_ = domain.Operator{Name: ""} // want "Operator literal has no name"
	_ = []domain.Method{
		{Task: "book_trip"}, // want "Method literal has no name"
	}
}

func badOrderings() {
	_ = domain.Method{
		Name: "book_trip_standard",
		Task: "book_trip",
		Subtasks: []domain.SubtaskTemplate{
			{Name: "search_flight"},
			{Name: "book_flight"},
		},
		Orderings: [][2]int{
			{0, 1},
			{1, 2}, // want `ordering \{1, 2\} references subtask 2 but the method has 2 subtasks`
			{1, 1}, // want `ordering \{1, 1\} orders a subtask after itself`
		},
	}
}

func duplicateFacts() {
	_ = domain.Operator{
		Name: "book_flight",
		Effects: []domain.Fact{
			domain.NewFact("flight_booked"),
			domain.NewFact("flight_booked"), // want `duplicate fact "flight_booked"`
		},
	}
}

// Valid cases - should NOT produce warnings

func valid() {
	_ = domain.NewDomain("travel")
	_ = domain.Operator{
		Name:          "book_hotel",
		Preconditions: []domain.Fact{domain.NewFact("hotels_found")},
		Effects:       []domain.Fact{domain.NewFact("hotel_booked"), {Name: "hotels_found", Value: "false"}},
	}
	_ = domain.Method{
		Name:      "book_trip_standard",
		Task:      "book_trip",
		Subtasks:  []domain.SubtaskTemplate{{Name: "a"}, {Name: "b"}, {Name: "c"}},
		Orderings: [][2]int{{0, 2}, {1, 2}},
	}
	_ = domain.Operator{"positional", nil, nil, 1}
}
