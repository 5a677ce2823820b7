package grid

import (
	"fmt"
	"strings"

	"github.com/dante-gpu/dante-sweep/internal/models"
	"gopkg.in/yaml.v3"
)

// Param is one entry of the grid spec: either a fixed scalar or a list of
// candidate values. List-valued params are the grid dimensions.
type Param struct {
	Name   string
	Value  Value   // set when IsList is false
	Values []Value // set when IsList is true
	IsList bool
}

// Scalar returns a fixed-value param.
func Scalar(name string, v Value) Param {
	return Param{Name: name, Value: v}
}

// List returns a grid dimension.
func List(name string, values ...Value) Param {
	return Param{Name: name, Values: values, IsList: true}
}

// Params is an ordered set of params. Order is the order in the source document.
type Params []Param

// Spec is the full grid search definition: the program to invoke and its params.
type Spec struct {
	Program []string `yaml:"program"`
	Params  Params   `yaml:"params"`
}

// Validate checks the spec can be expanded and rendered.
func (s *Spec) Validate() error {
	if len(s.Program) == 0 {
		return fmt.Errorf("%w: program is required", models.ErrInvalidSpec)
	}
	for i, tok := range s.Program {
		if strings.TrimSpace(tok) == "" {
			return fmt.Errorf("%w: program token %d is empty", models.ErrInvalidSpec, i)
		}
	}
	if len(s.Params) == 0 {
		return fmt.Errorf("%w: at least one param is required", models.ErrInvalidSpec)
	}

	seen := make(map[string]struct{}, len(s.Params))
	for _, p := range s.Params {
		if p.Name == "" || strings.ContainsAny(p.Name, " \t\r\n='\"") {
			return fmt.Errorf("%w: invalid param name %q", models.ErrInvalidSpec, p.Name)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("%w: duplicate param %q", models.ErrInvalidSpec, p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

// GridKeys returns the names of the list-valued params in order.
func (s *Spec) GridKeys() []string {
	var keys []string
	for _, p := range s.Params {
		if p.IsList {
			keys = append(keys, p.Name)
		}
	}
	return keys
}

// UnmarshalYAML decodes a mapping node while preserving key order.
func (ps *Params) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: line %d: params must be a mapping", models.ErrInvalidSpec, node.Line)
	}

	params := make(Params, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]
		name := keyNode.Value

		if valNode.Kind == yaml.SequenceNode {
			values := make([]Value, 0, len(valNode.Content))
			for _, item := range valNode.Content {
				v, err := valueFromYAML(item)
				if err != nil {
					return fmt.Errorf("param %q: %w", name, err)
				}
				values = append(values, v)
			}
			params = append(params, List(name, values...))
			continue
		}

		v, err := valueFromYAML(valNode)
		if err != nil {
			return fmt.Errorf("param %q: %w", name, err)
		}
		params = append(params, Scalar(name, v))
	}

	*ps = params
	return nil
}

// MarshalYAML encodes the params as an ordered mapping.
func (ps Params) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, p := range ps {
		key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: p.Name}
		if !p.IsList {
			node.Content = append(node.Content, key, p.Value.toYAML())
			continue
		}
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", Style: yaml.FlowStyle}
		for _, v := range p.Values {
			seq.Content = append(seq.Content, v.toYAML())
		}
		node.Content = append(node.Content, key, seq)
	}
	return node, nil
}
