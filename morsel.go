package opteryx

import "fmt"

// Morsel is the unit of data flowing between operators: a schema, its
// column arrays, a row count, and an optional selection vector. Once
// handed to Operator.Next's caller a Morsel is immutable — operators that
// need to narrow or reorder rows build a new Morsel (usually via
// WithSelection or Materialize) rather than mutating one in place.
//
// A selection vector defers the cost of physically compacting a batch: a
// Filter operator can mark rows "out" without copying column data, and
// only Materialize pays the copy, once, right before the morsel crosses an
// operator boundary that cannot tolerate a selection vector (e.g. a spill
// writer).
type Morsel struct {
	Schema    *Schema
	Columns   []*Column
	RowCount  int
	Selection []uint32 // indices into the underlying columns, ascending, or nil meaning "all rows"
}

// NewMorsel builds a Morsel from a schema and fully-materialized columns.
// All columns must have length equal to rowCount.
func NewMorsel(schema *Schema, columns []*Column, rowCount int) (*Morsel, error) {
	if len(columns) != schema.Len() {
		return nil, NewSchemaError("NewMorsel", fmt.Sprintf("schema has %d columns, got %d", schema.Len(), len(columns)))
	}
	for i, col := range columns {
		if col.Length != rowCount {
			return nil, NewSchemaError("NewMorsel", fmt.Sprintf("column %q has length %d, expected %d", schema.Field(i).Name, col.Length, rowCount))
		}
	}
	return &Morsel{Schema: schema, Columns: columns, RowCount: rowCount}, nil
}

// WithSelection returns a new Morsel over the same columns restricted to
// the given row indices. indices index the underlying columns (for a morsel
// that already carries a selection vector they are absolute row indices,
// not positions within that selection); they must be strictly ascending
// and within the underlying column length — violating either is a
// programming error in the calling operator, not a data error, so it
// panics rather than returning an error.
func (m *Morsel) WithSelection(indices []uint32) *Morsel {
	bound := m.RowCount
	if m.Selection != nil && len(m.Columns) > 0 {
		bound = m.Columns[0].Length
	}
	validateSelection(indices, bound)
	return &Morsel{Schema: m.Schema, Columns: m.Columns, RowCount: len(indices), Selection: indices}
}

func (m *Morsel) effectiveLen() int {
	if m.Selection != nil {
		return len(m.Selection)
	}
	return m.RowCount
}

func validateSelection(indices []uint32, bound int) {
	prev := int64(-1)
	for _, idx := range indices {
		if int64(idx) <= prev {
			panic(fmt.Sprintf("opteryx: selection vector not strictly ascending at value %d", idx))
		}
		if int(idx) >= bound {
			panic(fmt.Sprintf("opteryx: selection vector index %d out of range [0,%d)", idx, bound))
		}
		prev = int64(idx)
	}
}

// Materialize collapses any selection vector by physically copying the
// selected rows into fresh columns, returning a Morsel with Selection nil.
// A Morsel with no selection vector returns itself unchanged.
func (m *Morsel) Materialize() *Morsel {
	if m.Selection == nil {
		return m
	}
	cols := make([]*Column, len(m.Columns))
	for i, col := range m.Columns {
		cols[i] = col.Gather(m.Selection)
	}
	return &Morsel{Schema: m.Schema, Columns: cols, RowCount: len(m.Selection)}
}

// Column returns the column at index i, applying the selection vector
// first if one is present.
func (m *Morsel) Column(i int) *Column {
	col := m.Columns[i]
	if m.Selection == nil {
		return col
	}
	return col.Gather(m.Selection)
}

// ColumnByName returns the column named name, or an error if the schema
// has no such field.
func (m *Morsel) ColumnByName(name string) (*Column, error) {
	idx := m.Schema.IndexOf(name)
	if idx < 0 {
		return nil, NewSchemaError("ColumnByName", fmt.Sprintf("no such column: %s", name))
	}
	return m.Column(idx), nil
}

// ConcatMorsels concatenates row-wise compatible morsels (equal schema)
// into a single materialized Morsel. Used by operators that must merge
// several upstream morsels into one batch (the hash join's build side, and
// a sort run assembled from buffered input morsels).
func ConcatMorsels(morsels []*Morsel) (*Morsel, error) {
	if len(morsels) == 0 {
		return nil, NewSchemaError("ConcatMorsels", "no morsels to concatenate")
	}
	schema := morsels[0].Schema
	total := 0
	for _, m := range morsels {
		if !m.Schema.Equal(schema) {
			return nil, NewSchemaError("ConcatMorsels", "schema mismatch across morsels")
		}
		total += m.effectiveLen()
	}

	numCols := schema.Len()
	outCols := make([]*Column, numCols)
	for c := 0; c < numCols; c++ {
		parts := make([]*Column, len(morsels))
		for i, m := range morsels {
			parts[i] = m.Column(c)
		}
		outCols[c] = concatColumns(parts)
	}
	return &Morsel{Schema: schema, Columns: outCols, RowCount: total}, nil
}

// concatColumns appends same-typed columns into one. All parts share the
// same DType (guaranteed by schema equality upstream).
func concatColumns(parts []*Column) *Column {
	if len(parts) == 1 {
		return parts[0]
	}
	total := 0
	for _, p := range parts {
		total += p.Length
	}
	first := parts[0]
	out := &Column{Name: first.Name, DType: first.DType, Length: total, decimalParams: first.decimalParams, structType: first.structType}

	switch first.DType {
	case Float64:
		vals := make([]float64, 0, total)
		for _, p := range parts {
			vals = append(vals, p.f64...)
		}
		out.f64 = vals
	case Float32:
		vals := make([]float32, 0, total)
		for _, p := range parts {
			vals = append(vals, p.f32...)
		}
		out.f32 = vals
	case Int64, TimestampNanos, Decimal:
		vals := make([]int64, 0, total)
		for _, p := range parts {
			vals = append(vals, p.i64...)
		}
		out.i64 = vals
	case Int32, Date32:
		vals := make([]int32, 0, total)
		for _, p := range parts {
			vals = append(vals, p.i32...)
		}
		out.i32 = vals
	case Bool:
		vals := make([]bool, 0, total)
		for _, p := range parts {
			vals = append(vals, p.b...)
		}
		out.b = vals
	case String:
		vals := make([]string, 0, total)
		for _, p := range parts {
			vals = append(vals, p.str...)
		}
		out.str = vals
	case Binary:
		vals := make([][]byte, 0, total)
		for _, p := range parts {
			vals = append(vals, p.bin...)
		}
		out.bin = vals
	case Categorical:
		dict, remaps := mergeCategoricalDicts(parts)
		codes := make([]int32, 0, total)
		for i, p := range parts {
			remap := remaps[i]
			for _, code := range p.catCodes {
				if code < 0 {
					codes = append(codes, -1)
				} else {
					codes = append(codes, remap[code])
				}
			}
		}
		out.catDict = dict
		out.catCodes = codes
	case List:
		offsets := make([]int32, 0, total+1)
		children := make([]*Column, 0, len(parts))
		cursor := int32(0)
		offsets = append(offsets, 0)
		for _, p := range parts {
			base := p.listOffsets[0]
			for i := 1; i < len(p.listOffsets); i++ {
				offsets = append(offsets, cursor+(p.listOffsets[i]-base))
			}
			cursor += p.listOffsets[len(p.listOffsets)-1] - base
			children = append(children, p.listChild)
		}
		out.listOffsets = offsets
		out.listChild = concatColumns(children)
	case Struct:
		numFields := len(first.structChildren)
		children := make([]*Column, numFields)
		for f := 0; f < numFields; f++ {
			fieldParts := make([]*Column, len(parts))
			for i, p := range parts {
				fieldParts[i] = p.structChildren[f]
			}
			children[f] = concatColumns(fieldParts)
		}
		out.structChildren = children
	}

	anyNulls := false
	for _, p := range parts {
		if p.HasNulls() || p.DType == Null {
			anyNulls = true
			break
		}
	}
	if anyNulls {
		flags := make([]bool, 0, total)
		for _, p := range parts {
			for i := 0; i < p.Length; i++ {
				flags = append(flags, p.IsValid(i))
			}
		}
		out.valid, out.nullCount = newBitmapFromBools(flags)
	}
	return out
}

// mergeCategoricalDicts builds a single dictionary covering all parts'
// distinct strings and returns, per part, the remap from its old codes to
// the merged dictionary's codes.
func mergeCategoricalDicts(parts []*Column) ([]string, [][]int32) {
	index := make(map[string]int32)
	var dict []string
	remaps := make([][]int32, len(parts))
	for i, p := range parts {
		remap := make([]int32, len(p.catDict))
		for code, s := range p.catDict {
			if existing, ok := index[s]; ok {
				remap[code] = existing
			} else {
				newCode := int32(len(dict))
				dict = append(dict, s)
				index[s] = newCode
				remap[code] = newCode
			}
		}
		remaps[i] = remap
	}
	return dict, remaps
}
