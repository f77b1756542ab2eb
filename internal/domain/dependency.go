package domain

// Dependency is an ordering edge: From must complete before To starts.
type Dependency struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// NewDependency creates a new dependency.
func NewDependency(from, to string) Dependency {
	return Dependency{From: from, To: to}
}

func (d Dependency) String() string {
	return d.From + "->" + d.To
}

// DependencyIndex answers predecessor/successor queries over a set of edges.
type DependencyIndex struct {
	preds map[string][]string
	succs map[string][]string
}

// NewDependencyIndex indexes the given edges. Duplicate edges are collapsed.
func NewDependencyIndex(deps []Dependency) *DependencyIndex {
	idx := &DependencyIndex{
		preds: make(map[string][]string),
		succs: make(map[string][]string),
	}
	seen := make(map[Dependency]bool, len(deps))
	for _, d := range deps {
		if seen[d] {
			continue
		}
		seen[d] = true
		idx.preds[d.To] = append(idx.preds[d.To], d.From)
		idx.succs[d.From] = append(idx.succs[d.From], d.To)
	}
	return idx
}

// Predecessors returns the direct predecessors of a node.
func (i *DependencyIndex) Predecessors(id string) []string {
	return i.preds[id]
}

// Successors returns the direct successors of a node.
func (i *DependencyIndex) Successors(id string) []string {
	return i.succs[id]
}

// Reaches reports whether there is a path from -> ... -> to.
func (i *DependencyIndex) Reaches(from, to string) bool {
	if from == to {
		return false
	}
	visited := map[string]bool{from: true}
	stack := []string{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range i.succs[n] {
			if next == to {
				return true
			}
			if !visited[next] {
				visited[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}
