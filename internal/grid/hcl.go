package grid

import (
	"fmt"
	"sort"

	"github.com/dante-gpu/dante-sweep/internal/models"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// hclSchema describes a grid file:
//
//	program = ["python", "training.py"]
//
//	params {
//	  env  = ["arm_reach", "arm_grasp"]
//	  seed = [2, 3, 4]
//	  h_dim = 1024
//	}
var hclSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "program", Required: true},
	},
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "params"},
	},
}

// LoadHCLFile parses a grid spec from an HCL file.
func LoadHCLFile(path string) (*Spec, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: failed to parse HCL file %s: %v", models.ErrInvalidSpec, path, diags)
	}
	return decodeHCLBody(file.Body, path)
}

// ParseHCL parses a grid spec from HCL source held in memory.
func ParseHCL(src []byte, filename string) (*Spec, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: failed to parse HCL %s: %v", models.ErrInvalidSpec, filename, diags)
	}
	return decodeHCLBody(file.Body, filename)
}

func decodeHCLBody(body hcl.Body, filename string) (*Spec, error) {
	content, diags := body.Content(hclSchema)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: failed to decode HCL %s: %v", models.ErrInvalidSpec, filename, diags)
	}
	if len(content.Blocks) != 1 {
		return nil, fmt.Errorf("%w: %s: expected exactly one \"params\" block, found %d", models.ErrInvalidSpec, filename, len(content.Blocks))
	}

	progVal, diags := content.Attributes["program"].Expr.Value(nil)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: %s: program: %v", models.ErrInvalidSpec, filename, diags)
	}
	program, err := ctyStrings(progVal)
	if err != nil {
		return nil, fmt.Errorf("%s: program: %w", filename, err)
	}

	attrs, diags := content.Blocks[0].Body.JustAttributes()
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: %s: params: %v", models.ErrInvalidSpec, filename, diags)
	}

	// hcl.Attributes is a map; restore source order.
	ordered := make([]*hcl.Attribute, 0, len(attrs))
	for _, attr := range attrs {
		ordered = append(ordered, attr)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Range.Start.Byte < ordered[j].Range.Start.Byte
	})

	params := make(Params, 0, len(ordered))
	for _, attr := range ordered {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("%w: %s: param %q: %v", models.ErrInvalidSpec, filename, attr.Name, diags)
		}
		p, err := paramFromCty(attr.Name, val)
		if err != nil {
			return nil, fmt.Errorf("%s: param %q: %w", filename, attr.Name, err)
		}
		params = append(params, p)
	}

	spec := &Spec{Program: program, Params: params}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return spec, nil
}

func paramFromCty(name string, val cty.Value) (Param, error) {
	ty := val.Type()
	if !val.IsNull() && (ty.IsTupleType() || ty.IsListType()) {
		values := make([]Value, 0, val.LengthInt())
		for it := val.ElementIterator(); it.Next(); {
			_, elem := it.Element()
			v, err := valueFromCty(elem)
			if err != nil {
				return Param{}, err
			}
			values = append(values, v)
		}
		return List(name, values...), nil
	}

	v, err := valueFromCty(val)
	if err != nil {
		return Param{}, err
	}
	return Scalar(name, v), nil
}

func ctyStrings(val cty.Value) ([]string, error) {
	ty := val.Type()
	if val.IsNull() || !(ty.IsTupleType() || ty.IsListType()) {
		return nil, fmt.Errorf("%w: expected a list of strings", models.ErrInvalidSpec)
	}
	out := make([]string, 0, val.LengthInt())
	for it := val.ElementIterator(); it.Next(); {
		_, elem := it.Element()
		if elem.IsNull() || elem.Type() != cty.String {
			return nil, fmt.Errorf("%w: expected a list of strings", models.ErrInvalidSpec)
		}
		out = append(out, elem.AsString())
	}
	return out, nil
}
