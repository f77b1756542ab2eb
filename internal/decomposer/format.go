package decomposer

import (
	"encoding/json"
	"strings"

	"github.com/example/hybridplanner/internal/domain"
)

// candidateDoc is the JSON shape generators are asked to produce.
type candidateDoc struct {
	Root         string    `json:"root"`
	Tasks        []taskDoc `json:"tasks"`
	Dependencies []edgeDoc `json:"dependencies"`
}

type taskDoc struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Kind     string            `json:"kind"`
	Operator string            `json:"operator,omitempty"`
	Method   string            `json:"method,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
	Children []string          `json:"children,omitempty"`
	Terminal bool              `json:"terminal,omitempty"`
}

type edgeDoc struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ParseCandidate decodes generator output into a candidate plan. Output may
// wrap the JSON document in prose or a fenced block. Only syntactic problems
// are reported here; structural ones are left to validation.
func ParseCandidate(output string, req Request) (*domain.Plan, error) {
	raw, err := extractJSON(output)
	if err != nil {
		return nil, InvalidOutput("%v", err)
	}
	var doc candidateDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, InvalidOutput("decode candidate: %v", err)
	}
	if len(doc.Tasks) == 0 {
		return nil, InvalidOutput("candidate has no tasks")
	}

	p := &domain.Plan{
		Intent:  req.Intent,
		Context: req.Context,
		RootID:  doc.Root,
	}
	if req.Snapshot != nil {
		p.DomainID = req.Snapshot.DomainID
		p.DomainVersion = req.Snapshot.Version
	}
	for _, td := range doc.Tasks {
		kind := domain.TaskKind(strings.ToLower(td.Kind))
		if kind == "" {
			kind = domain.TaskKindPrimitive
			if len(td.Children) > 0 || td.Method != "" {
				kind = domain.TaskKindComposite
			}
		}
		// Appended directly so duplicate ids reach the validator as violations.
		p.Tasks = append(p.Tasks, &domain.Task{
			ID:       td.ID,
			Name:     td.Name,
			Kind:     kind,
			Operator: td.Operator,
			Method:   td.Method,
			Params:   td.Params,
			Children: td.Children,
			Terminal: td.Terminal,
			Status:   domain.TaskStatusPending,
		})
	}
	for _, e := range doc.Dependencies {
		p.Dependencies = append(p.Dependencies, domain.NewDependency(e.From, e.To))
	}
	return p, nil
}

// EncodeCandidate renders a plan in the generator wire format. Used for
// few-shot examples and by test doubles.
func EncodeCandidate(p *domain.Plan) string {
	doc := candidateDoc{Root: p.RootID, Tasks: []taskDoc{}, Dependencies: []edgeDoc{}}
	for _, t := range p.Tasks {
		doc.Tasks = append(doc.Tasks, taskDoc{
			ID:       t.ID,
			Name:     t.Name,
			Kind:     string(t.Kind),
			Operator: t.Operator,
			Method:   t.Method,
			Params:   t.Params,
			Children: t.Children,
			Terminal: t.Terminal,
		})
	}
	for _, d := range p.Dependencies {
		doc.Dependencies = append(doc.Dependencies, edgeDoc{From: d.From, To: d.To})
	}
	b, _ := json.Marshal(doc)
	return string(b)
}
