package grid

import "strings"

// Combination is one point of the grid, aligned with Expansion.Keys.
type Combination []Value

// String renders the combination as a tuple, e.g. "(1, 10)".
func (c Combination) String() string {
	parts := make([]string, len(c))
	for i, v := range c {
		parts[i] = v.Text
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Expansion is the result of expanding a Spec.
type Expansion struct {
	Keys         []string
	Combinations []Combination
	Template     *Template
}

// Expand validates the spec and enumerates the Cartesian product of its
// list-valued params. The first grid key varies slowest and the last one
// fastest. A spec without list-valued params yields exactly one empty
// combination; a spec with an empty list yields none.
func Expand(spec *Spec) (*Expansion, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	var dims [][]Value
	for _, p := range spec.Params {
		if p.IsList {
			dims = append(dims, p.Values)
		}
	}

	return &Expansion{
		Keys:         spec.GridKeys(),
		Combinations: product(dims),
		Template:     newTemplate(spec),
	}, nil
}

// product enumerates dims in lexicographic order using an odometer over the
// per-dimension indices.
func product(dims [][]Value) []Combination {
	total := 1
	for _, d := range dims {
		total *= len(d)
	}
	if total == 0 {
		return []Combination{}
	}

	combos := make([]Combination, 0, total)
	idx := make([]int, len(dims))
	for {
		combo := make(Combination, len(dims))
		for i, d := range dims {
			combo[i] = d[idx[i]]
		}
		combos = append(combos, combo)

		pos := len(dims) - 1
		for pos >= 0 {
			idx[pos]++
			if idx[pos] < len(dims[pos]) {
				break
			}
			idx[pos] = 0
			pos--
		}
		if pos < 0 {
			return combos
		}
	}
}
