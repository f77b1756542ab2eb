package domain

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Resolution holds the definitions registered for a task name.
type Resolution struct {
	Operators []*Operator
	Methods   []*Method
}

// IsPrimitive reports whether the task resolves to an operator.
func (r Resolution) IsPrimitive() bool {
	return len(r.Operators) > 0
}

// Snapshot is an immutable view of a domain at one version.
// Snapshots are safe for concurrent use without locking.
type Snapshot struct {
	DomainID  string
	Version   uint64
	operators map[string]*Operator
	methods   map[string]*Method   // by method name
	byTask    map[string][]*Method // by trigger task name, sorted by name
}

func emptySnapshot(id string) *Snapshot {
	return &Snapshot{
		DomainID:  id,
		operators: make(map[string]*Operator),
		methods:   make(map[string]*Method),
		byTask:    make(map[string][]*Method),
	}
}

// Resolve returns the operators and methods for a task name.
func (s *Snapshot) Resolve(taskName string) (Resolution, error) {
	var res Resolution
	if op, ok := s.operators[taskName]; ok {
		res.Operators = []*Operator{op}
	}
	if ms := s.byTask[taskName]; len(ms) > 0 {
		res.Methods = append([]*Method(nil), ms...)
	}
	if len(res.Operators) == 0 && len(res.Methods) == 0 {
		return Resolution{}, fmt.Errorf("%s in domain %s@%d: %w", taskName, s.DomainID, s.Version, ErrUnknownTask)
	}
	return res, nil
}

// Operator returns the operator registered under name.
func (s *Snapshot) Operator(name string) (*Operator, bool) {
	op, ok := s.operators[name]
	return op, ok
}

// Method returns the method registered under name.
func (s *Snapshot) Method(name string) (*Method, bool) {
	m, ok := s.methods[name]
	return m, ok
}

// MethodsFor returns the methods triggered by a task name, sorted by name.
func (s *Snapshot) MethodsFor(taskName string) []*Method {
	return s.byTask[taskName]
}

// Operators returns all operators sorted by name.
func (s *Snapshot) Operators() []*Operator {
	out := make([]*Operator, 0, len(s.operators))
	for _, op := range s.operators {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Methods returns all methods sorted by name.
func (s *Snapshot) Methods() []*Method {
	out := make([]*Method, 0, len(s.methods))
	for _, m := range s.methods {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// TaskNames returns every task name the domain can resolve, sorted.
func (s *Snapshot) TaskNames() []string {
	seen := make(map[string]bool, len(s.operators)+len(s.byTask))
	for n := range s.operators {
		seen[n] = true
	}
	for n := range s.byTask {
		seen[n] = true
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (s *Snapshot) clone(version uint64) *Snapshot {
	next := emptySnapshot(s.DomainID)
	next.Version = version
	for k, v := range s.operators {
		next.operators[k] = v
	}
	for k, v := range s.methods {
		next.methods[k] = v
	}
	for k, v := range s.byTask {
		next.byTask[k] = append([]*Method(nil), v...)
	}
	return next
}

// Domain is a versioned registry of operators and methods.
// Writes are serialised; reads go through an atomically published snapshot.
type Domain struct {
	id string

	mu      sync.Mutex // serialises writers
	current atomic.Pointer[Snapshot]
	history sync.Map // version -> *Snapshot
}

// NewDomain creates an empty domain at version 0.
func NewDomain(id string) *Domain {
	d := &Domain{id: id}
	snap := emptySnapshot(id)
	d.current.Store(snap)
	d.history.Store(snap.Version, snap)
	return d
}

// ID returns the domain identity.
func (d *Domain) ID() string {
	return d.id
}

// Version returns the current version.
func (d *Domain) Version() uint64 {
	return d.current.Load().Version
}

// Snapshot returns the current immutable snapshot.
func (d *Domain) Snapshot() *Snapshot {
	return d.current.Load()
}

// At returns the snapshot published at the given version.
func (d *Domain) At(version uint64) (*Snapshot, error) {
	v, ok := d.history.Load(version)
	if !ok {
		return nil, fmt.Errorf("domain %s version %d: %w", d.id, version, ErrUnknownDomain)
	}
	return v.(*Snapshot), nil
}

// Resolve resolves a task name against the current snapshot.
func (d *Domain) Resolve(taskName string) (Resolution, error) {
	return d.Snapshot().Resolve(taskName)
}

// RegisterOperator adds an operator and bumps the domain version.
func (d *Domain) RegisterOperator(op Operator) error {
	if err := op.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	cur := d.current.Load()
	if _, exists := cur.operators[op.Name]; exists {
		return fmt.Errorf("operator %s in domain %s: %w", op.Name, d.id, ErrDuplicateDefinition)
	}
	if _, exists := cur.byTask[op.Name]; exists {
		return fmt.Errorf("operator %s collides with composite task in domain %s: %w", op.Name, d.id, ErrDuplicateDefinition)
	}

	next := cur.clone(cur.Version + 1)
	stored := op
	stored.Params = append([]string(nil), op.Params...)
	stored.Preconditions = append([]Fact(nil), op.Preconditions...)
	stored.Effects = append([]Fact(nil), op.Effects...)
	next.operators[op.Name] = &stored
	d.publish(next)
	return nil
}

// RegisterMethod adds a method and bumps the domain version.
func (d *Domain) RegisterMethod(m Method) error {
	if err := m.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	cur := d.current.Load()
	if _, exists := cur.methods[m.Name]; exists {
		return fmt.Errorf("method %s in domain %s: %w", m.Name, d.id, ErrDuplicateDefinition)
	}
	if _, exists := cur.operators[m.Task]; exists {
		return fmt.Errorf("method %s targets primitive task %s in domain %s: %w", m.Name, m.Task, d.id, ErrDuplicateDefinition)
	}

	next := cur.clone(cur.Version + 1)
	stored := m
	stored.Params = append([]string(nil), m.Params...)
	stored.Preconditions = append([]Fact(nil), m.Preconditions...)
	stored.Subtasks = append([]SubtaskTemplate(nil), m.Subtasks...)
	stored.Orderings = append([][2]int(nil), m.Orderings...)
	next.methods[m.Name] = &stored
	list := append(next.byTask[m.Task], &stored)
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	next.byTask[m.Task] = list
	d.publish(next)
	return nil
}

func (d *Domain) publish(snap *Snapshot) {
	d.history.Store(snap.Version, snap)
	d.current.Store(snap)
}

// Catalog owns the domains available to the planner.
type Catalog struct {
	mu      sync.RWMutex
	domains map[string]*Domain
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{domains: make(map[string]*Domain)}
}

// Add registers a domain. Adding a second domain with the same id fails.
func (c *Catalog) Add(d *Domain) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.domains[d.ID()]; exists {
		return fmt.Errorf("domain %s: %w", d.ID(), ErrDuplicateDefinition)
	}
	c.domains[d.ID()] = d
	return nil
}

// Get returns the domain with the given id.
func (c *Catalog) Get(id string) (*Domain, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.domains[id]
	if !ok {
		return nil, fmt.Errorf("domain %s: %w", id, ErrUnknownDomain)
	}
	return d, nil
}

// Snapshot resolves a domain snapshot. A zero version selects the latest.
func (c *Catalog) Snapshot(id string, version uint64) (*Snapshot, error) {
	d, err := c.Get(id)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		return d.Snapshot(), nil
	}
	return d.At(version)
}

// CurrentVersion returns the latest version of a domain.
func (c *Catalog) CurrentVersion(id string) (uint64, bool) {
	d, err := c.Get(id)
	if err != nil {
		return 0, false
	}
	return d.Version(), true
}

// IDs returns the registered domain ids, sorted.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.domains))
	for id := range c.domains {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
