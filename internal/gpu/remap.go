package gpu

// Remap is a static table from discovered to effective device ids, e.g. to
// swap two devices whose enumeration order disagrees with CUDA's.
type Remap struct {
	table map[ResourceID]ResourceID
}

// NewRemap copies the table so later changes to the source map are not observed.
func NewRemap(table map[int]int) Remap {
	r := Remap{table: make(map[ResourceID]ResourceID, len(table))}
	for from, to := range table {
		r.table[ResourceID(from)] = ResourceID(to)
	}
	return r
}

// Apply looks id up once. Unmapped ids map to themselves.
func (r Remap) Apply(id ResourceID) ResourceID {
	if to, ok := r.table[id]; ok {
		return to
	}
	return id
}
