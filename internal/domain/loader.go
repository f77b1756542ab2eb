package domain

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DomainFile is the on-disk layout of domain definitions.
type DomainFile struct {
	Domains []DomainDefinition `yaml:"domains"`
}

// DomainDefinition declares one domain's operators and methods.
type DomainDefinition struct {
	ID        string     `yaml:"id"`
	Operators []Operator `yaml:"operators"`
	Methods   []Method   `yaml:"methods"`
}

// Build registers every definition into a new Domain.
func (def DomainDefinition) Build() (*Domain, error) {
	if def.ID == "" {
		return nil, fmt.Errorf("domain id is required: %w", ErrInvalidArgument)
	}
	d := NewDomain(def.ID)
	for _, op := range def.Operators {
		if err := d.RegisterOperator(op); err != nil {
			return nil, err
		}
	}
	for _, m := range def.Methods {
		if err := d.RegisterMethod(m); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// LoadDomains decodes YAML domain definitions into a catalog.
func LoadDomains(r io.Reader) (*Catalog, error) {
	var file DomainFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode domains: %w", err)
	}

	catalog := NewCatalog()
	for _, def := range file.Domains {
		d, err := def.Build()
		if err != nil {
			return nil, fmt.Errorf("domain %q: %w", def.ID, err)
		}
		if err := catalog.Add(d); err != nil {
			return nil, err
		}
	}
	return catalog, nil
}

// LoadDomainFile reads domain definitions from a YAML file.
func LoadDomainFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open domain file: %w", err)
	}
	defer f.Close()
	return LoadDomains(f)
}

// UnmarshalYAML accepts either a mapping {name, value} or a scalar
// "name" / "name=value".
func (f *Fact) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		name, value, found := strings.Cut(node.Value, "=")
		f.Name = strings.TrimSpace(name)
		f.Value = DefaultFactValue
		if found {
			f.Value = strings.TrimSpace(value)
		}
		return nil
	}
	type rawFact Fact
	var raw rawFact
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*f = Fact(raw)
	return nil
}
