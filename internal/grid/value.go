package grid

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/dante-gpu/dante-sweep/internal/models"
	"github.com/shopspring/decimal"
	"github.com/zclconf/go-cty/cty"
	"gopkg.in/yaml.v3"
)

// Kind is the scalar type of a grid value.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Value is a single scalar from the grid spec. Text is what ends up on the
// command line.
type Value struct {
	Kind Kind
	Text string
	Bool bool // only meaningful for KindBool
}

// Str returns a string value.
func Str(s string) Value { return Value{Kind: KindString, Text: s} }

// Int returns an integer value.
func Int(i int64) Value { return Value{Kind: KindInt, Text: strconv.FormatInt(i, 10)} }

// Float returns a float value rendered in plain decimal notation.
func Float(f float64) Value {
	return Value{Kind: KindFloat, Text: decimal.NewFromFloat(f).String()}
}

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{Kind: KindBool, Text: strconv.FormatBool(b), Bool: b} }

// String implements fmt.Stringer.
func (v Value) String() string { return v.Text }

// plainDecimal rewrites exponent notation ("1e-06") as plain decimal text.
// Text without an exponent is returned unchanged so "0.990" stays "0.990".
func plainDecimal(text string) (string, error) {
	if !strings.ContainsAny(text, "eE") {
		if _, err := decimal.NewFromString(text); err != nil {
			return "", err
		}
		return text, nil
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return "", err
	}
	return d.String(), nil
}

// valueFromYAML converts a scalar YAML node, keeping the text as written.
func valueFromYAML(node *yaml.Node) (Value, error) {
	if node.Kind == yaml.AliasNode && node.Alias != nil {
		node = node.Alias
	}
	if node.Kind != yaml.ScalarNode {
		return Value{}, fmt.Errorf("%w: line %d: expected a scalar value", models.ErrInvalidSpec, node.Line)
	}

	switch node.ShortTag() {
	case "!!str":
		return Str(node.Value), nil
	case "!!int":
		return Value{Kind: KindInt, Text: node.Value}, nil
	case "!!float":
		text, err := plainDecimal(node.Value)
		if err != nil {
			return Value{}, fmt.Errorf("%w: line %d: float %q cannot be formatted", models.ErrInvalidSpec, node.Line, node.Value)
		}
		return Value{Kind: KindFloat, Text: text}, nil
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return Value{}, fmt.Errorf("%w: line %d: %v", models.ErrInvalidSpec, node.Line, err)
		}
		return Value{Kind: KindBool, Text: node.Value, Bool: b}, nil
	case "!!null":
		return Value{}, fmt.Errorf("%w: line %d: null values are not allowed", models.ErrInvalidSpec, node.Line)
	}
	return Value{}, fmt.Errorf("%w: line %d: unsupported value type %s", models.ErrInvalidSpec, node.Line, node.ShortTag())
}

// toYAML renders the value back into a scalar node with its original text.
func (v Value) toYAML() *yaml.Node {
	node := &yaml.Node{Kind: yaml.ScalarNode, Value: v.Text}
	switch v.Kind {
	case KindInt:
		node.Tag = "!!int"
	case KindFloat:
		node.Tag = "!!float"
	case KindBool:
		node.Tag = "!!bool"
	default:
		node.Tag = "!!str"
	}
	return node
}

// valueFromCty converts a known, non-null primitive cty value.
func valueFromCty(v cty.Value) (Value, error) {
	if v.IsNull() || !v.IsKnown() {
		return Value{}, fmt.Errorf("%w: null or unknown value", models.ErrInvalidSpec)
	}

	switch v.Type() {
	case cty.String:
		return Str(v.AsString()), nil
	case cty.Bool:
		return Bool(v.True()), nil
	case cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInf() {
			return Value{}, fmt.Errorf("%w: infinite number", models.ErrInvalidSpec)
		}
		if bf.IsInt() {
			i, _ := bf.Int(new(big.Int))
			return Value{Kind: KindInt, Text: i.String()}, nil
		}
		text, err := plainDecimal(bf.Text('g', -1))
		if err != nil {
			return Value{}, fmt.Errorf("%w: number cannot be formatted: %v", models.ErrInvalidSpec, err)
		}
		return Value{Kind: KindFloat, Text: text}, nil
	}
	return Value{}, fmt.Errorf("%w: unsupported value type %s", models.ErrInvalidSpec, v.Type().FriendlyName())
}
