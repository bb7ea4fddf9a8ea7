package opteryx

import "fmt"

// Column is a tagged-variant columnar array: one typed data slice paired
// with an optional validity bitmap. Every operator dispatches on DType
// through this fixed set of typed fields rather than through reflection or
// an interface per element — the same "duck-typed array, dispatch through
// a per-type table" shape the teacher's Series used, minus the native
// backing store.
//
// Only the fields matching Column.DType are populated; the rest are nil.
// Decimal values are stored as scaled int64 mantissas (see DecimalParams
// for precision/scale) rather than a 128-bit representation — the spec
// does not require precision beyond what fits in 18 significant digits,
// and a scaled int64 avoids pulling in a big-decimal dependency nothing
// else in this core needs.
type Column struct {
	Name   string
	DType  DType
	Length int

	f64 []float64
	f32 []float32
	i64 []int64 // also backs Decimal (scaled mantissa) and TimestampNanos
	i32 []int32 // also backs Date32
	b   []bool
	str []string
	bin [][]byte

	listOffsets []int32 // length Length+1; child[listOffsets[i]:listOffsets[i+1]] is row i's list
	listChild   *Column

	structChildren []*Column
	structType     *StructType

	catDict  []string
	catCodes []int32 // index into catDict per row

	decimalParams DecimalParams // valid only when DType == Decimal

	// valid is a packed validity bitmap, LSB-first, bit=1 means the value
	// at that row index is present (matches the data model's "null bitmap
	// semantics, 1 = valid" contract). valid == nil means no nulls at all.
	valid     []uint64
	nullCount int
}

func bitmapWords(n int) int { return (n + 63) / 64 }

func newBitmapFromBools(validFlags []bool) ([]uint64, int) {
	n := len(validFlags)
	words := make([]uint64, bitmapWords(n))
	nullCount := 0
	for i, ok := range validFlags {
		if ok {
			words[i/64] |= 1 << uint(i%64)
		} else {
			nullCount++
		}
	}
	return words, nullCount
}

// IsValid reports whether the value at row i is present (not SQL NULL).
func (c *Column) IsValid(i int) bool {
	if c.valid == nil {
		return i >= 0 && i < c.Length
	}
	if i < 0 || i >= c.Length {
		return false
	}
	return c.valid[i/64]&(1<<uint(i%64)) != 0
}

// NullCount returns the number of SQL NULL values in the column.
func (c *Column) NullCount() int { return c.nullCount }

// HasNulls reports whether the column contains any SQL NULL value.
func (c *Column) HasNulls() bool { return c.nullCount > 0 }

func newColumn(name string, dtype DType, length int, validFlags []bool) *Column {
	col := &Column{Name: name, DType: dtype, Length: length}
	if validFlags != nil {
		col.valid, col.nullCount = newBitmapFromBools(validFlags)
	}
	return col
}

// NewColumnF64 builds a non-nullable Float64 column from data.
func NewColumnF64(name string, data []float64) *Column {
	c := newColumn(name, Float64, len(data), nil)
	c.f64 = data
	return c
}

// NewColumnF64WithNulls builds a Float64 column with a per-row validity flag.
func NewColumnF64WithNulls(name string, data []float64, validFlags []bool) *Column {
	c := newColumn(name, Float64, len(data), validFlags)
	c.f64 = data
	return c
}

// NewColumnF32 builds a non-nullable Float32 column from data.
func NewColumnF32(name string, data []float32) *Column {
	c := newColumn(name, Float32, len(data), nil)
	c.f32 = data
	return c
}

// NewColumnF32WithNulls builds a Float32 column with a per-row validity flag.
func NewColumnF32WithNulls(name string, data []float32, validFlags []bool) *Column {
	c := newColumn(name, Float32, len(data), validFlags)
	c.f32 = data
	return c
}

// NewColumnI64 builds a non-nullable Int64 column from data.
func NewColumnI64(name string, data []int64) *Column {
	c := newColumn(name, Int64, len(data), nil)
	c.i64 = data
	return c
}

// NewColumnI64WithNulls builds an Int64 column with a per-row validity flag.
func NewColumnI64WithNulls(name string, data []int64, validFlags []bool) *Column {
	c := newColumn(name, Int64, len(data), validFlags)
	c.i64 = data
	return c
}

// NewColumnI32 builds a non-nullable Int32 column from data.
func NewColumnI32(name string, data []int32) *Column {
	c := newColumn(name, Int32, len(data), nil)
	c.i32 = data
	return c
}

// NewColumnI32WithNulls builds an Int32 column with a per-row validity flag.
func NewColumnI32WithNulls(name string, data []int32, validFlags []bool) *Column {
	c := newColumn(name, Int32, len(data), validFlags)
	c.i32 = data
	return c
}

// NewColumnBool builds a non-nullable Bool column from data.
func NewColumnBool(name string, data []bool) *Column {
	c := newColumn(name, Bool, len(data), nil)
	c.b = data
	return c
}

// NewColumnBoolWithNulls builds a Bool column with a per-row validity flag.
func NewColumnBoolWithNulls(name string, data []bool, validFlags []bool) *Column {
	c := newColumn(name, Bool, len(data), validFlags)
	c.b = data
	return c
}

// NewColumnString builds a non-nullable String column from data.
func NewColumnString(name string, data []string) *Column {
	c := newColumn(name, String, len(data), nil)
	c.str = data
	return c
}

// NewColumnStringWithNulls builds a String column with a per-row validity flag.
func NewColumnStringWithNulls(name string, data []string, validFlags []bool) *Column {
	c := newColumn(name, String, len(data), validFlags)
	c.str = data
	return c
}

// NewColumnBinary builds a non-nullable Binary column from data.
func NewColumnBinary(name string, data [][]byte) *Column {
	c := newColumn(name, Binary, len(data), nil)
	c.bin = data
	return c
}

// NewColumnDate32 builds a non-nullable Date32 column (days since epoch).
func NewColumnDate32(name string, data []int32) *Column {
	c := newColumn(name, Date32, len(data), nil)
	c.i32 = data
	return c
}

// NewColumnTimestampNanos builds a non-nullable nanosecond-timestamp column.
func NewColumnTimestampNanos(name string, data []int64) *Column {
	c := newColumn(name, TimestampNanos, len(data), nil)
	c.i64 = data
	return c
}

// NewColumnDecimal builds a non-nullable Decimal column from scaled mantissas.
func NewColumnDecimal(name string, mantissas []int64, params DecimalParams) *Column {
	c := newColumn(name, Decimal, len(mantissas), nil)
	c.i64 = mantissas
	c.decimalParams = params
	return c
}

// NewColumnNull builds an all-null column of length n with no backing data.
func NewColumnNull(name string, n int) *Column {
	c := &Column{Name: name, DType: Null, Length: n, nullCount: n}
	c.valid = make([]uint64, bitmapWords(n))
	return c
}

// NewColumnCategorical builds a dictionary-encoded string column: codes
// index into dict. A code of -1 denotes SQL NULL.
func NewColumnCategorical(name string, dict []string, codes []int32) *Column {
	validFlags := make([]bool, len(codes))
	for i, code := range codes {
		validFlags[i] = code >= 0
	}
	c := newColumn(name, Categorical, len(codes), validFlags)
	c.catDict = dict
	c.catCodes = codes
	return c
}

// NewColumnList builds a List column. offsets has length n+1; child holds
// the flattened element values referenced by offsets[i]:offsets[i+1].
func NewColumnList(name string, offsets []int32, child *Column, elemType DType) *Column {
	n := len(offsets) - 1
	c := newColumn(name, List, n, nil)
	c.listOffsets = offsets
	c.listChild = child
	_ = elemType
	return c
}

// NewColumnStruct builds a Struct column from named child columns, all of
// equal length.
func NewColumnStruct(name string, st *StructType, children []*Column) *Column {
	n := 0
	if len(children) > 0 {
		n = children[0].Length
	}
	c := newColumn(name, Struct, n, nil)
	c.structType = st
	c.structChildren = children
	return c
}

// --- typed accessors; each returns (value, validity) ---

func (c *Column) AtF64(i int) (float64, bool) {
	if !c.IsValid(i) {
		return 0, false
	}
	return c.f64[i], true
}

func (c *Column) AtF32(i int) (float32, bool) {
	if !c.IsValid(i) {
		return 0, false
	}
	return c.f32[i], true
}

func (c *Column) AtI64(i int) (int64, bool) {
	if !c.IsValid(i) {
		return 0, false
	}
	return c.i64[i], true
}

func (c *Column) AtI32(i int) (int32, bool) {
	if !c.IsValid(i) {
		return 0, false
	}
	return c.i32[i], true
}

func (c *Column) AtBool(i int) (bool, bool) {
	if !c.IsValid(i) {
		return false, false
	}
	return c.b[i], true
}

func (c *Column) AtString(i int) (string, bool) {
	if !c.IsValid(i) {
		return "", false
	}
	if c.DType == Categorical {
		code := c.catCodes[i]
		if code < 0 {
			return "", false
		}
		return c.catDict[code], true
	}
	return c.str[i], true
}

func (c *Column) AtBinary(i int) ([]byte, bool) {
	if !c.IsValid(i) {
		return nil, false
	}
	return c.bin[i], true
}

// Slice returns a new Column containing rows [start, end). Backing slices
// are re-sliced, not copied, except for the validity bitmap which is
// rebuilt because bit offsets don't align with byte/word boundaries.
func (c *Column) Slice(start, end int) *Column {
	if start < 0 {
		start = 0
	}
	if end > c.Length {
		end = c.Length
	}
	if start >= end {
		return newColumn(c.Name, c.DType, 0, nil)
	}
	n := end - start
	out := &Column{Name: c.Name, DType: c.DType, Length: n, decimalParams: c.decimalParams,
		structType: c.structType}

	switch c.DType {
	case Float64:
		out.f64 = c.f64[start:end]
	case Float32:
		out.f32 = c.f32[start:end]
	case Int64, TimestampNanos, Decimal:
		out.i64 = c.i64[start:end]
	case Int32, Date32:
		out.i32 = c.i32[start:end]
	case Bool:
		out.b = c.b[start:end]
	case String:
		out.str = c.str[start:end]
	case Binary:
		out.bin = c.bin[start:end]
	case Categorical:
		out.catDict = c.catDict
		out.catCodes = c.catCodes[start:end]
	case List:
		out.listOffsets = c.listOffsets[start : end+1]
		out.listChild = c.listChild
	case Struct:
		children := make([]*Column, len(c.structChildren))
		for i, ch := range c.structChildren {
			children[i] = ch.Slice(start, end)
		}
		out.structChildren = children
	}

	if c.valid != nil {
		flags := make([]bool, n)
		for i := 0; i < n; i++ {
			flags[i] = c.IsValid(start + i)
		}
		out.valid, out.nullCount = newBitmapFromBools(flags)
	}
	return out
}

// Gather builds a new Column by selecting rows at the given indices, in
// order — the columnar analogue of a join/sort permutation. Used by
// operators applying a selection vector or a sort/merge permutation.
func (c *Column) Gather(indices []uint32) *Column {
	n := len(indices)
	out := &Column{Name: c.Name, DType: c.DType, Length: n, decimalParams: c.decimalParams,
		structType: c.structType}

	switch c.DType {
	case Float64:
		vals := make([]float64, n)
		for i, idx := range indices {
			vals[i] = c.f64[idx]
		}
		out.f64 = vals
	case Float32:
		vals := make([]float32, n)
		for i, idx := range indices {
			vals[i] = c.f32[idx]
		}
		out.f32 = vals
	case Int64, TimestampNanos, Decimal:
		vals := make([]int64, n)
		for i, idx := range indices {
			vals[i] = c.i64[idx]
		}
		out.i64 = vals
	case Int32, Date32:
		vals := make([]int32, n)
		for i, idx := range indices {
			vals[i] = c.i32[idx]
		}
		out.i32 = vals
	case Bool:
		vals := make([]bool, n)
		for i, idx := range indices {
			vals[i] = c.b[idx]
		}
		out.b = vals
	case String:
		vals := make([]string, n)
		for i, idx := range indices {
			vals[i] = c.str[idx]
		}
		out.str = vals
	case Binary:
		vals := make([][]byte, n)
		for i, idx := range indices {
			vals[i] = c.bin[idx]
		}
		out.bin = vals
	case Categorical:
		codes := make([]int32, n)
		for i, idx := range indices {
			codes[i] = c.catCodes[idx]
		}
		out.catDict = c.catDict
		out.catCodes = codes
	case List:
		offsets := make([]int32, n+1)
		var childIdx []uint32
		cursor := int32(0)
		for i, idx := range indices {
			lo, hi := c.listOffsets[idx], c.listOffsets[idx+1]
			offsets[i] = cursor
			for j := lo; j < hi; j++ {
				childIdx = append(childIdx, uint32(j))
			}
			cursor += hi - lo
		}
		offsets[n] = cursor
		out.listOffsets = offsets
		out.listChild = c.listChild.Gather(childIdx)
	case Struct:
		children := make([]*Column, len(c.structChildren))
		for i, ch := range c.structChildren {
			children[i] = ch.Gather(indices)
		}
		out.structChildren = children
	}

	if c.valid != nil || c.DType == Null {
		flags := make([]bool, n)
		for i, idx := range indices {
			flags[i] = c.IsValid(int(idx))
		}
		out.valid, out.nullCount = newBitmapFromBools(flags)
	}
	return out
}

func (c *Column) String() string {
	return fmt.Sprintf("Column{%s: %s, len=%d, nulls=%d}", c.Name, c.DType, c.Length, c.nullCount)
}
