package opteryx

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// ============================================================================
// Arrow export: Morsel -> arrow.Record
// ============================================================================

// ToArrowRecord converts m to an Arrow Record using mem (memory.DefaultAllocator
// if nil). The caller owns Release()ing the returned Record — Arrow arrays
// are reference-counted memory outside the Go heap, unlike every other type
// in this package.
func (m *Morsel) ToArrowRecord(mem memory.Allocator) (arrow.Record, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	mat := m.Materialize()

	fields := make([]arrow.Field, mat.Schema.Len())
	arrays := make([]arrow.Array, mat.Schema.Len())
	for i, f := range mat.Schema.Fields() {
		arrowType, err := dtypeToArrowType(f.DType)
		if err != nil {
			for j := 0; j < i; j++ {
				arrays[j].Release()
			}
			return nil, err
		}
		fields[i] = arrow.Field{Name: f.Name, Type: arrowType, Nullable: f.Nullable}

		arr, err := columnToArrowArray(mat.Columns[i], mem)
		if err != nil {
			for j := 0; j < i; j++ {
				arrays[j].Release()
			}
			return nil, err
		}
		arrays[i] = arr
	}

	schema := arrow.NewSchema(fields, nil)
	record := array.NewRecord(schema, arrays, int64(mat.RowCount))
	for _, arr := range arrays {
		arr.Release()
	}
	return record, nil
}

func dtypeToArrowType(dtype DType) (arrow.DataType, error) {
	switch dtype {
	case Float64:
		return arrow.PrimitiveTypes.Float64, nil
	case Float32:
		return arrow.PrimitiveTypes.Float32, nil
	case Int64, TimestampNanos:
		return arrow.PrimitiveTypes.Int64, nil
	case Int32, Date32:
		return arrow.PrimitiveTypes.Int32, nil
	case Bool:
		return arrow.FixedWidthTypes.Boolean, nil
	case String:
		return arrow.BinaryTypes.String, nil
	case Binary:
		return arrow.BinaryTypes.Binary, nil
	case Categorical:
		return &arrow.DictionaryType{IndexType: arrow.PrimitiveTypes.Int32, ValueType: arrow.BinaryTypes.String}, nil
	default:
		return nil, NewTypeError("dtypeToArrowType", dtype, Null)
	}
}

func columnToArrowArray(c *Column, mem memory.Allocator) (arrow.Array, error) {
	valid := func(i int) bool { return c.IsValid(i) }

	switch c.DType {
	case Float64:
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		for i := 0; i < c.Length; i++ {
			if !valid(i) {
				b.AppendNull()
				continue
			}
			v, _ := c.AtF64(i)
			b.Append(v)
		}
		return b.NewArray(), nil

	case Float32:
		b := array.NewFloat32Builder(mem)
		defer b.Release()
		for i := 0; i < c.Length; i++ {
			if !valid(i) {
				b.AppendNull()
				continue
			}
			v, _ := c.AtF32(i)
			b.Append(v)
		}
		return b.NewArray(), nil

	case Int64, TimestampNanos:
		b := array.NewInt64Builder(mem)
		defer b.Release()
		for i := 0; i < c.Length; i++ {
			if !valid(i) {
				b.AppendNull()
				continue
			}
			v, _ := c.AtI64(i)
			b.Append(v)
		}
		return b.NewArray(), nil

	case Int32, Date32:
		b := array.NewInt32Builder(mem)
		defer b.Release()
		for i := 0; i < c.Length; i++ {
			if !valid(i) {
				b.AppendNull()
				continue
			}
			v, _ := c.AtI32(i)
			b.Append(v)
		}
		return b.NewArray(), nil

	case Bool:
		b := array.NewBooleanBuilder(mem)
		defer b.Release()
		for i := 0; i < c.Length; i++ {
			if !valid(i) {
				b.AppendNull()
				continue
			}
			v, _ := c.AtBool(i)
			b.Append(v)
		}
		return b.NewArray(), nil

	case String:
		b := array.NewStringBuilder(mem)
		defer b.Release()
		for i := 0; i < c.Length; i++ {
			if !valid(i) {
				b.AppendNull()
				continue
			}
			v, _ := c.AtString(i)
			b.Append(v)
		}
		return b.NewArray(), nil

	case Categorical:
		dt := &arrow.DictionaryType{IndexType: arrow.PrimitiveTypes.Int32, ValueType: arrow.BinaryTypes.String}
		b := array.NewDictionaryBuilder(mem, dt).(*array.BinaryDictionaryBuilder)
		defer b.Release()
		for i := 0; i < c.Length; i++ {
			if !valid(i) {
				b.AppendNull()
				continue
			}
			v, _ := c.AtString(i)
			if err := b.AppendString(v); err != nil {
				return nil, err
			}
		}
		return b.NewArray(), nil

	case Binary:
		b := array.NewBinaryBuilder(mem, arrow.BinaryTypes.Binary)
		defer b.Release()
		for i := 0; i < c.Length; i++ {
			if !valid(i) {
				b.AppendNull()
				continue
			}
			v, _ := c.AtBinary(i)
			b.Append(v)
		}
		return b.NewArray(), nil

	default:
		return nil, NewTypeError("columnToArrowArray", c.DType, Null)
	}
}

// ============================================================================
// Arrow import: arrow.Record -> Reader
// ============================================================================

// ArrowReader is a Reader (driver.go) over a sequence of already-materialized
// Arrow Records — the shape an upstream Arrow Flight stream or IPC file
// reader hands off once it has decoded its own framing. ArrowReader's job
// starts where decoding already ended: convert each Record into this
// package's own Morsel representation, re-batching to cfg.MorselSize rather
// than trusting the upstream record batching.
type ArrowReader struct {
	records  []arrow.Record
	schema   *Schema
	cfg      *ExecutorConfig
	recIdx   int
	rowIdx   int64
	projIdx  []int
}

// NewArrowReader wraps records (retained until Close) as a Reader. projection,
// if non-empty, narrows the emitted columns to those field names.
func NewArrowReader(records []arrow.Record, cfg *ExecutorConfig, projection []string) (*ArrowReader, error) {
	if cfg == nil {
		cfg = GetExecutorConfig()
	}
	if len(records) == 0 {
		return nil, NewSchemaError("NewArrowReader", "no records supplied")
	}
	arrowSchema := records[0].Schema()
	fields := make([]Field, arrowSchema.NumFields())
	for i, af := range arrowSchema.Fields() {
		dtype, err := arrowTypeToDType(af.Type)
		if err != nil {
			return nil, err
		}
		fields[i] = Field{Name: af.Name, DType: dtype, Nullable: af.Nullable}
	}
	schema, err := NewSchema(fields)
	if err != nil {
		return nil, err
	}

	for _, rec := range records {
		rec.Retain()
	}

	outSchema := schema
	projIdx := make([]int, schema.Len())
	for i := range projIdx {
		projIdx[i] = i
	}
	if len(projection) > 0 {
		outSchema, err = schema.Project(projection)
		if err != nil {
			return nil, err
		}
		projIdx = make([]int, len(projection))
		for i, name := range projection {
			projIdx[i] = schema.IndexOf(name)
		}
	}

	return &ArrowReader{records: records, schema: outSchema, cfg: cfg, projIdx: projIdx}, nil
}

func arrowTypeToDType(t arrow.DataType) (DType, error) {
	switch t.ID() {
	case arrow.FLOAT64:
		return Float64, nil
	case arrow.FLOAT32:
		return Float32, nil
	case arrow.INT64:
		return Int64, nil
	case arrow.INT32:
		return Int32, nil
	case arrow.BOOL:
		return Bool, nil
	case arrow.STRING, arrow.LARGE_STRING:
		return String, nil
	case arrow.BINARY, arrow.LARGE_BINARY:
		return Binary, nil
	case arrow.DICTIONARY:
		return Categorical, nil
	case arrow.DATE32:
		return Date32, nil
	case arrow.TIMESTAMP:
		return TimestampNanos, nil
	default:
		return 0, NewSchemaError("arrowTypeToDType", "unsupported Arrow type: "+t.Name())
	}
}

func (r *ArrowReader) Schema() *Schema { return r.schema }

func (r *ArrowReader) Next() (*Morsel, error) {
	for r.recIdx < len(r.records) {
		rec := r.records[r.recIdx]
		if r.rowIdx >= rec.NumRows() {
			r.recIdx++
			r.rowIdx = 0
			continue
		}

		size := int64(r.cfg.MorselSize)
		if size <= 0 {
			size = rec.NumRows()
		}
		end := r.rowIdx + size
		if end > rec.NumRows() {
			end = rec.NumRows()
		}

		cols := make([]*Column, len(r.projIdx))
		for i, idx := range r.projIdx {
			col, err := arrowArrayToColumn(r.schema.Field(i).Name, rec.Column(idx), int(r.rowIdx), int(end))
			if err != nil {
				return nil, err
			}
			cols[i] = col
		}
		out, err := NewMorsel(r.schema, cols, int(end-r.rowIdx))
		if err != nil {
			return nil, err
		}
		r.rowIdx = end
		return out, nil
	}
	return nil, nil
}

func arrowArrayToColumn(name string, arr arrow.Array, start, end int) (*Column, error) {
	n := end - start
	validFlags := make([]bool, n)
	for i := 0; i < n; i++ {
		validFlags[i] = arr.IsValid(start + i)
	}

	switch a := arr.(type) {
	case *array.Float64:
		data := make([]float64, n)
		for i := 0; i < n; i++ {
			if validFlags[i] {
				data[i] = a.Value(start + i)
			}
		}
		return NewColumnF64WithNulls(name, data, validFlags), nil

	case *array.Float32:
		data := make([]float32, n)
		for i := 0; i < n; i++ {
			if validFlags[i] {
				data[i] = a.Value(start + i)
			}
		}
		return NewColumnF32WithNulls(name, data, validFlags), nil

	case *array.Int64:
		data := make([]int64, n)
		for i := 0; i < n; i++ {
			if validFlags[i] {
				data[i] = a.Value(start + i)
			}
		}
		return NewColumnI64WithNulls(name, data, validFlags), nil

	case *array.Int32:
		data := make([]int32, n)
		for i := 0; i < n; i++ {
			if validFlags[i] {
				data[i] = a.Value(start + i)
			}
		}
		return NewColumnI32WithNulls(name, data, validFlags), nil

	case *array.Boolean:
		data := make([]bool, n)
		for i := 0; i < n; i++ {
			if validFlags[i] {
				data[i] = a.Value(start + i)
			}
		}
		return NewColumnBoolWithNulls(name, data, validFlags), nil

	case *array.String:
		data := make([]string, n)
		for i := 0; i < n; i++ {
			if validFlags[i] {
				data[i] = a.Value(start + i)
			}
		}
		return NewColumnStringWithNulls(name, data, validFlags), nil

	case *array.Binary:
		data := make([][]byte, n)
		for i := 0; i < n; i++ {
			if validFlags[i] {
				data[i] = a.Value(start + i)
			}
		}
		return NewColumnBinary(name, data), nil

	case *array.Dictionary:
		dict, ok := a.Dictionary().(*array.String)
		if !ok {
			return nil, NewSchemaError("arrowArrayToColumn", "unsupported dictionary value type")
		}
		categories := make([]string, dict.Len())
		for i := 0; i < dict.Len(); i++ {
			categories[i] = dict.Value(i)
		}
		codes := make([]int32, n)
		switch idx := a.Indices().(type) {
		case *array.Int32:
			for i := 0; i < n; i++ {
				if !validFlags[i] {
					codes[i] = -1
					continue
				}
				codes[i] = idx.Value(start + i)
			}
		case *array.Int64:
			for i := 0; i < n; i++ {
				if !validFlags[i] {
					codes[i] = -1
					continue
				}
				codes[i] = int32(idx.Value(start + i))
			}
		default:
			return nil, NewSchemaError("arrowArrayToColumn", "unsupported dictionary index type")
		}
		return NewColumnCategorical(name, categories, codes), nil

	default:
		return nil, NewSchemaError("arrowArrayToColumn", "unsupported Arrow array type")
	}
}

func (r *ArrowReader) Close() error {
	for _, rec := range r.records {
		rec.Release()
	}
	return nil
}
