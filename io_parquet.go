package opteryx

import (
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
)

// ParquetReadOptions configures ParquetReader.
type ParquetReadOptions struct {
	Columns []string // only read these columns (nil = all, honoring projection pushdown)
}

// DefaultParquetReadOptions returns the options ParquetReader uses when none
// are supplied.
func DefaultParquetReadOptions() ParquetReadOptions {
	return ParquetReadOptions{}
}

// ParquetReader is a Reader (driver.go) over a Parquet file. Unlike
// CSVReader and JSONReader, Parquet already carries its own schema and
// column statistics, so ParquetReader streams row groups directly rather
// than scanning the file twice — each call to Next reads whole row batches
// out of the current row group, moving to the next row group once
// exhausted, until at least cfg.MorselSize rows are collected.
type ParquetReader struct {
	f      *os.File
	pf     *parquet.File
	schema *Schema

	colIndices []int // schema-leaf index per emitted column, in schema.Field order
	dtypes     []DType

	cfg       *ExecutorConfig
	rowGroups []parquet.RowGroup
	rgIdx     int
	rows      parquet.Rows
	rowBuf    []parquet.Row
}

// NewParquetReader opens path and returns a Reader producing morsels.
func NewParquetReader(path string, cfg *ExecutorConfig, opts ...ParquetReadOptions) (*ParquetReader, error) {
	if cfg == nil {
		cfg = GetExecutorConfig()
	}
	opt := DefaultParquetReadOptions()
	if len(opts) > 0 {
		opt = opts[0]
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, NewIoError("NewParquetReader", err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, NewIoError("NewParquetReader", err)
	}
	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		f.Close()
		return nil, NewIoError("NewParquetReader", err)
	}

	pschema := pf.Schema()
	var names []string
	if len(opt.Columns) > 0 {
		names = opt.Columns
	} else {
		for _, pf := range pschema.Fields() {
			names = append(names, pf.Name())
		}
	}

	leafIndex := make(map[string]int)
	for i, col := range pschema.Columns() {
		if len(col) > 0 {
			leafIndex[col[0]] = i
		}
	}

	colIndices := make([]int, len(names))
	dtypes := make([]DType, len(names))
	fields := make([]Field, len(names))
	for i, name := range names {
		idx, ok := leafIndex[name]
		if !ok {
			f.Close()
			return nil, NewSchemaError("NewParquetReader", "column not found: "+name)
		}
		colIndices[i] = idx
		dt := parquetLeafToDType(pschema, pschema.Columns()[idx])
		dtypes[i] = dt
		fields[i] = Field{Name: name, DType: dt, Nullable: true}
	}
	schema, err := NewSchema(fields)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &ParquetReader{
		f: f, pf: pf, schema: schema,
		colIndices: colIndices, dtypes: dtypes,
		cfg: cfg, rowGroups: pf.RowGroups(),
		rowBuf: make([]parquet.Row, 1024),
	}, nil
}

func parquetLeafToDType(schema *parquet.Schema, leaf []string) DType {
	if len(leaf) == 0 {
		return String
	}
	for _, col := range schema.Fields() {
		if col.Name() != leaf[0] {
			continue
		}
		t := col.Type()
		if t == nil {
			return String
		}
		switch t.Kind() {
		case parquet.Boolean:
			return Bool
		case parquet.Int32:
			return Int32
		case parquet.Int64:
			return Int64
		case parquet.Float:
			return Float32
		case parquet.Double:
			return Float64
		default:
			return String
		}
	}
	return String
}

func (r *ParquetReader) Schema() *Schema { return r.schema }

// Next reads whole batches of up to 1024 rows until at least cfg.MorselSize
// rows are collected or the file ends, spanning row-group boundaries
// transparently — callers never see a short morsel purely because a row
// group ended, only at true end of file. A fetched batch is never split,
// so a morsel can exceed cfg.MorselSize by up to 1023 rows.
func (r *ParquetReader) Next() (*Morsel, error) {
	size := r.cfg.MorselSize
	if size <= 0 {
		size = 4096
	}

	type cellBuf struct {
		f64  []float64
		f32  []float32
		i64  []int64
		i32  []int32
		b    []bool
		str  []string
		vals []bool
	}
	bufs := make([]cellBuf, len(r.colIndices))
	collected := 0

	for collected < size {
		if r.rows == nil {
			if r.rgIdx >= len(r.rowGroups) {
				break
			}
			r.rows = r.rowGroups[r.rgIdx].Rows()
		}

		n, err := r.rows.ReadRows(r.rowBuf)
		if err != nil && err != io.EOF {
			r.rows.Close()
			return nil, NewIoError("ParquetReader.Next", err)
		}
		if n == 0 {
			r.rows.Close()
			r.rows = nil
			r.rgIdx++
			continue
		}

		for _, row := range r.rowBuf[:n] {
			for i, colIdx := range r.colIndices {
				var val parquet.Value
				if colIdx < len(row) {
					val = row[colIdx]
				}
				appendParquetCell(&bufs[i].f64, &bufs[i].f32, &bufs[i].i64, &bufs[i].i32, &bufs[i].b, &bufs[i].str, &bufs[i].vals, r.dtypes[i], val)
			}
			collected++
		}
	}

	if collected == 0 {
		return nil, nil
	}

	cols := make([]*Column, len(r.colIndices))
	for i := range r.colIndices {
		b := &bufs[i]
		name := r.schema.Field(i).Name
		switch r.dtypes[i] {
		case Float64:
			cols[i] = NewColumnF64WithNulls(name, b.f64, b.vals)
		case Float32:
			cols[i] = NewColumnF32WithNulls(name, b.f32, b.vals)
		case Int64:
			cols[i] = NewColumnI64WithNulls(name, b.i64, b.vals)
		case Int32:
			cols[i] = NewColumnI32WithNulls(name, b.i32, b.vals)
		case Bool:
			cols[i] = NewColumnBoolWithNulls(name, b.b, b.vals)
		default:
			cols[i] = NewColumnStringWithNulls(name, b.str, b.vals)
		}
	}
	return NewMorsel(r.schema, cols, collected)
}

func appendParquetCell(f64 *[]float64, f32 *[]float32, i64 *[]int64, i32 *[]int32, b *[]bool, str *[]string, valid *[]bool, dtype DType, val parquet.Value) {
	ok := !val.IsNull()
	*valid = append(*valid, ok)
	switch dtype {
	case Float64:
		v := 0.0
		if ok {
			v = val.Double()
		}
		*f64 = append(*f64, v)
	case Float32:
		v := float32(0)
		if ok {
			v = val.Float()
		}
		*f32 = append(*f32, v)
	case Int64:
		v := int64(0)
		if ok {
			v = val.Int64()
		}
		*i64 = append(*i64, v)
	case Int32:
		v := int32(0)
		if ok {
			v = val.Int32()
		}
		*i32 = append(*i32, v)
	case Bool:
		v := false
		if ok {
			v = val.Boolean()
		}
		*b = append(*b, v)
	default:
		v := ""
		if ok {
			v = string(val.ByteArray())
		}
		*str = append(*str, v)
	}
}

func (r *ParquetReader) Close() error {
	if r.rows != nil {
		r.rows.Close()
		r.rows = nil
	}
	return r.f.Close()
}

// ParquetWriteOptions configures WriteParquet.
type ParquetWriteOptions struct {
	Compression  string // "snappy", "gzip", "zstd", "none" (default "snappy")
	RowGroupSize int    // rows per row group — not read by WriteParquetToWriter
}

// DefaultParquetWriteOptions returns the options WriteParquet uses when none
// are supplied.
func DefaultParquetWriteOptions() ParquetWriteOptions {
	return ParquetWriteOptions{Compression: "snappy", RowGroupSize: 1_000_000}
}

// WriteParquet drains reader and writes every morsel to path as a Parquet
// file, deriving the file's schema from reader.Schema().
func WriteParquet(reader Reader, path string, opts ...ParquetWriteOptions) error {
	f, err := os.Create(path)
	if err != nil {
		return NewIoError("WriteParquet", err)
	}
	defer f.Close()
	return WriteParquetToWriter(reader, f, opts...)
}

// WriteParquetToWriter drains reader and writes every morsel to w.
func WriteParquetToWriter(reader Reader, w io.Writer, opts ...ParquetWriteOptions) error {
	opt := DefaultParquetWriteOptions()
	if len(opts) > 0 {
		opt = opts[0]
	}

	schema := reader.Schema()
	if schema.Len() == 0 {
		return nil
	}

	group := make(parquet.Group)
	for _, f := range schema.Fields() {
		group[f.Name] = dtypeToParquetNode(f.DType)
	}
	pschema := parquet.NewSchema("morsel", group)

	writerOpts := []parquet.WriterOption{pschema}
	switch opt.Compression {
	case "snappy":
		writerOpts = append(writerOpts, parquet.Compression(&parquet.Snappy))
	case "gzip":
		writerOpts = append(writerOpts, parquet.Compression(&parquet.Gzip))
	case "zstd":
		writerOpts = append(writerOpts, parquet.Compression(&parquet.Zstd))
	}

	pw := parquet.NewWriter(w, writerOpts...)
	width := schema.Len()

	for {
		m, err := reader.Next()
		if err != nil {
			pw.Close()
			return err
		}
		if m == nil {
			break
		}
		rows := make([]parquet.Row, m.effectiveLen())
		for i := 0; i < m.effectiveLen(); i++ {
			row := make(parquet.Row, width)
			for c := 0; c < width; c++ {
				row[c] = columnToParquetValue(m.Column(c), i)
			}
			rows[i] = row
		}
		if len(rows) > 0 {
			if _, err := pw.WriteRows(rows); err != nil {
				pw.Close()
				return NewIoError("WriteParquetToWriter", err)
			}
		}
	}
	if err := pw.Close(); err != nil {
		return NewIoError("WriteParquetToWriter", err)
	}
	return nil
}

func dtypeToParquetNode(dtype DType) parquet.Node {
	switch dtype {
	case Float64:
		return parquet.Leaf(parquet.DoubleType)
	case Float32:
		return parquet.Leaf(parquet.FloatType)
	case Int64, TimestampNanos:
		return parquet.Leaf(parquet.Int64Type)
	case Int32, Date32:
		return parquet.Leaf(parquet.Int32Type)
	case Bool:
		return parquet.Leaf(parquet.BooleanType)
	default:
		return parquet.Leaf(parquet.ByteArrayType)
	}
}

func columnToParquetValue(c *Column, i int) parquet.Value {
	if !c.IsValid(i) {
		return parquet.NullValue()
	}
	switch c.DType {
	case Float64:
		v, _ := c.AtF64(i)
		return parquet.DoubleValue(v)
	case Float32:
		v, _ := c.AtF32(i)
		return parquet.FloatValue(v)
	case Int64, TimestampNanos:
		v, _ := c.AtI64(i)
		return parquet.Int64Value(v)
	case Int32, Date32:
		v, _ := c.AtI32(i)
		return parquet.Int32Value(v)
	case Bool:
		v, _ := c.AtBool(i)
		return parquet.BooleanValue(v)
	case String, Categorical:
		v, _ := c.AtString(i)
		return parquet.ByteArrayValue([]byte(v))
	default:
		return parquet.NullValue()
	}
}
