package opteryx

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
)

// CSVReadOptions configures CSVReader's parsing behavior.
type CSVReadOptions struct {
	Delimiter   rune     // field delimiter (default ',')
	HasHeader   bool     // first row is a header (default true)
	ColumnNames []string // used when HasHeader is false
	NullValues  []string // strings treated as SQL NULL
	TrimSpace   bool     // trim leading/trailing whitespace from values
	Comment     rune     // lines starting with this rune are skipped
}

// DefaultCSVReadOptions returns the options CSVReader uses when none are
// supplied.
func DefaultCSVReadOptions() CSVReadOptions {
	return CSVReadOptions{
		Delimiter:  ',',
		HasHeader:  true,
		NullValues: []string{"", "null", "NULL", "NA", "N/A", "nan", "NaN"},
		TrimSpace:  true,
	}
}

// CSVReader is a Reader (driver.go) over a delimited text file. Like the
// teacher's ReadCSVFromReader, it infers one dtype per column by scanning
// every value up front rather than sniffing a sample — the whole file is
// read into memory once at construction, then streamed back out through
// Next in ExecutorConfig.MorselSize-row morsels. A projection is applied
// after every column has been parsed and built, so only the projected
// columns are emitted but all of them are materialized once.
type CSVReader struct {
	schema   *Schema
	outIdx   []int // indices into schema.Fields(), in projected order
	columns  []*Column
	rowCount int
	cfg      *ExecutorConfig
	cursor   int
}

// NewCSVReader opens path, infers a schema, and returns a Reader. projection,
// if non-empty, narrows the columns Next emits to those names, in that
// order (§6 "connectors honor projection pushdown").
func NewCSVReader(path string, cfg *ExecutorConfig, projection []string, opts ...CSVReadOptions) (*CSVReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, NewIoError("NewCSVReader", err)
	}
	defer f.Close()
	return NewCSVReaderFromReader(f, cfg, projection, opts...)
}

// NewCSVReaderFromReader builds a CSVReader from an already-open io.Reader;
// the caller owns closing it.
func NewCSVReaderFromReader(r io.Reader, cfg *ExecutorConfig, projection []string, opts ...CSVReadOptions) (*CSVReader, error) {
	if cfg == nil {
		cfg = GetExecutorConfig()
	}
	opt := DefaultCSVReadOptions()
	if len(opts) > 0 {
		opt = opts[0]
	}

	reader := csv.NewReader(r)
	reader.Comma = opt.Delimiter
	if opt.Comment != 0 {
		reader.Comment = opt.Comment
	}
	reader.TrimLeadingSpace = opt.TrimSpace
	reader.FieldsPerRecord = -1

	var headers []string
	if opt.HasHeader {
		h, err := reader.Read()
		if err != nil && err != io.EOF {
			return nil, NewIoError("NewCSVReaderFromReader: read header", err)
		}
		headers = h
	} else if len(opt.ColumnNames) > 0 {
		headers = opt.ColumnNames
	}

	var records [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, NewIoError("NewCSVReaderFromReader: read row", err)
		}
		if headers == nil {
			headers = make([]string, len(record))
			for i := range record {
				headers[i] = "column_" + strconv.Itoa(i)
			}
		}
		records = append(records, record)
	}

	colTypes := ParallelMap(len(headers), func(i int) DType {
		return inferCSVColumnType(records, i, opt.NullValues)
	})

	columns := make([]*Column, len(headers))
	buildErrs := make([]error, len(headers))
	ParallelFor(len(headers), func(start, end int) {
		for i := start; i < end; i++ {
			columns[i], buildErrs[i] = buildCSVColumn(headers[i], colTypes[i], records, i, opt.NullValues, opt.TrimSpace)
		}
	})
	for i, err := range buildErrs {
		if err != nil {
			return nil, NewIoError("NewCSVReaderFromReader: build column "+headers[i], err)
		}
	}

	fields := make([]Field, len(headers))
	for i, h := range headers {
		fields[i] = Field{Name: h, DType: colTypes[i], Nullable: columns[i].HasNulls()}
	}
	schema, err := NewSchema(fields)
	if err != nil {
		return nil, err
	}

	outIdx := make([]int, schema.Len())
	for i := range outIdx {
		outIdx[i] = i
	}
	outSchema := schema
	if len(projection) > 0 {
		outSchema, err = schema.Project(projection)
		if err != nil {
			return nil, err
		}
		outIdx = make([]int, len(projection))
		for i, name := range projection {
			outIdx[i] = schema.IndexOf(name)
		}
	}

	projCols := make([]*Column, len(outIdx))
	for i, idx := range outIdx {
		projCols[i] = columns[idx]
	}

	return &CSVReader{schema: outSchema, columns: projCols, rowCount: len(records), cfg: cfg}, nil
}

func inferCSVColumnType(records [][]string, colIdx int, nullValues []string) DType {
	hasInt, hasFloat, hasBool, hasString := false, false, false, false

	for _, record := range records {
		if colIdx >= len(record) {
			continue
		}
		val := strings.TrimSpace(record[colIdx])
		if isCSVNull(val, nullValues) {
			continue
		}
		lower := strings.ToLower(val)
		if lower == "true" || lower == "false" {
			hasBool = true
			continue
		}
		if _, err := strconv.ParseInt(val, 10, 64); err == nil {
			hasInt = true
			continue
		}
		if _, err := strconv.ParseFloat(val, 64); err == nil {
			hasFloat = true
			continue
		}
		hasString = true
	}

	switch {
	case hasString:
		return String
	case hasFloat:
		return Float64
	case hasInt:
		return Int64
	case hasBool:
		return Bool
	default:
		return String
	}
}

func buildCSVColumn(name string, dtype DType, records [][]string, colIdx int, nullValues []string, trim bool) (*Column, error) {
	n := len(records)
	validFlags := make([]bool, n)

	switch dtype {
	case Float64:
		data := make([]float64, n)
		for i, record := range records {
			val, ok := csvCellFor(record, colIdx, nullValues, trim)
			if !ok {
				continue
			}
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return nil, NewIoError("buildCSVColumn", err)
			}
			data[i] = f
			validFlags[i] = true
		}
		return NewColumnF64WithNulls(name, data, validFlags), nil

	case Int64:
		data := make([]int64, n)
		for i, record := range records {
			val, ok := csvCellFor(record, colIdx, nullValues, trim)
			if !ok {
				continue
			}
			v, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return nil, NewIoError("buildCSVColumn", err)
			}
			data[i] = v
			validFlags[i] = true
		}
		return NewColumnI64WithNulls(name, data, validFlags), nil

	case Bool:
		data := make([]bool, n)
		for i, record := range records {
			val, ok := csvCellFor(record, colIdx, nullValues, trim)
			if !ok {
				continue
			}
			lower := strings.ToLower(val)
			data[i] = lower == "true" || lower == "1" || lower == "yes"
			validFlags[i] = true
		}
		return NewColumnBoolWithNulls(name, data, validFlags), nil

	case String:
		data := make([]string, n)
		for i, record := range records {
			val, ok := csvCellFor(record, colIdx, nullValues, trim)
			if !ok {
				continue
			}
			data[i] = val
			validFlags[i] = true
		}
		return NewColumnStringWithNulls(name, data, validFlags), nil

	default:
		return nil, NewSchemaError("buildCSVColumn", "unsupported inferred dtype: "+dtype.String())
	}
}

func csvCellFor(record []string, colIdx int, nullValues []string, trim bool) (string, bool) {
	if colIdx >= len(record) {
		return "", false
	}
	val := record[colIdx]
	if trim {
		val = strings.TrimSpace(val)
	}
	if isCSVNull(val, nullValues) {
		return "", false
	}
	return val, true
}

func isCSVNull(val string, nullValues []string) bool {
	for _, nv := range nullValues {
		if val == nv {
			return true
		}
	}
	return false
}

func (r *CSVReader) Schema() *Schema { return r.schema }

func (r *CSVReader) Next() (*Morsel, error) {
	if r.cursor >= r.rowCount {
		return nil, nil
	}
	size := r.cfg.MorselSize
	if size <= 0 {
		size = r.rowCount
	}
	end := r.cursor + size
	if end > r.rowCount {
		end = r.rowCount
	}

	cols := make([]*Column, len(r.columns))
	for i, c := range r.columns {
		cols[i] = c.Slice(r.cursor, end)
	}
	out, err := NewMorsel(r.schema, cols, end-r.cursor)
	if err != nil {
		return nil, err
	}
	r.cursor = end
	return out, nil
}

func (r *CSVReader) Close() error { return nil }

// CSVWriteOptions configures WriteCSV's output formatting.
type CSVWriteOptions struct {
	Delimiter   rune
	WriteHeader bool
	NullString  string
}

// DefaultCSVWriteOptions returns the options WriteCSV uses when none are
// supplied.
func DefaultCSVWriteOptions() CSVWriteOptions {
	return CSVWriteOptions{Delimiter: ',', WriteHeader: true}
}

// WriteCSV drains reader and writes every morsel to path as delimited text,
// in schema order — the inverse connector to CSVReader, used by query
// output sinks and by tests asserting on a materialized result set.
func WriteCSV(reader Reader, path string, opts ...CSVWriteOptions) error {
	f, err := os.Create(path)
	if err != nil {
		return NewIoError("WriteCSV", err)
	}
	defer f.Close()
	return WriteCSVToWriter(reader, f, opts...)
}

// WriteCSVToWriter drains reader and writes every morsel to w as delimited
// text.
func WriteCSVToWriter(reader Reader, w io.Writer, opts ...CSVWriteOptions) error {
	opt := DefaultCSVWriteOptions()
	if len(opts) > 0 {
		opt = opts[0]
	}

	writer := csv.NewWriter(w)
	writer.Comma = opt.Delimiter

	schema := reader.Schema()
	if opt.WriteHeader {
		if err := writer.Write(schema.Names()); err != nil {
			return NewIoError("WriteCSVToWriter: header", err)
		}
	}

	width := schema.Len()
	for {
		m, err := reader.Next()
		if err != nil {
			return err
		}
		if m == nil {
			break
		}
		row := make([]string, width)
		for i := 0; i < m.effectiveLen(); i++ {
			for c := 0; c < width; c++ {
				row[c] = formatCSVValue(m.Column(c), i, opt.NullString)
			}
			if err := writer.Write(row); err != nil {
				return NewIoError("WriteCSVToWriter: row", err)
			}
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return NewIoError("WriteCSVToWriter", err)
	}
	return nil
}

func formatCSVValue(c *Column, i int, nullString string) string {
	if !c.IsValid(i) {
		return nullString
	}
	switch c.DType {
	case Float64:
		v, _ := c.AtF64(i)
		return strconv.FormatFloat(v, 'f', -1, 64)
	case Float32:
		v, _ := c.AtF32(i)
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case Int64, TimestampNanos:
		v, _ := c.AtI64(i)
		return strconv.FormatInt(v, 10)
	case Int32, Date32:
		v, _ := c.AtI32(i)
		return strconv.FormatInt(int64(v), 10)
	case Bool:
		v, _ := c.AtBool(i)
		return strconv.FormatBool(v)
	case String, Categorical:
		v, _ := c.AtString(i)
		return v
	default:
		return ""
	}
}
