package opteryx

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
)

// JSONFormat selects how JSONReader parses its input.
type JSONFormat int

const (
	// JSONLines expects one JSON object per line (newline-delimited JSON,
	// the common log/event-stream shape).
	JSONLines JSONFormat = iota
	// JSONArray expects a single top-level JSON array of objects.
	JSONArray
)

// JSONReadOptions configures JSONReader.
type JSONReadOptions struct {
	Format JSONFormat
}

// DefaultJSONReadOptions returns the options JSONReader uses when none are
// supplied.
func DefaultJSONReadOptions() JSONReadOptions {
	return JSONReadOptions{Format: JSONLines}
}

// JSONReader is a Reader (driver.go) over JSON records: like CSVReader, it
// scans every record up front to infer one dtype per field (first
// non-null value wins, missing/null fields fall back to String), then
// streams morsels of cfg.MorselSize rows back through Next.
type JSONReader struct {
	schema   *Schema
	columns  []*Column
	rowCount int
	cfg      *ExecutorConfig
	cursor   int
}

// NewJSONReader opens path and returns a Reader producing morsels.
// projection, if non-empty, narrows the emitted columns to those names.
func NewJSONReader(path string, cfg *ExecutorConfig, projection []string, opts ...JSONReadOptions) (*JSONReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, NewIoError("NewJSONReader", err)
	}
	defer f.Close()
	return NewJSONReaderFromReader(f, cfg, projection, opts...)
}

// NewJSONReaderFromReader builds a JSONReader from an already-open
// io.Reader; the caller owns closing it.
func NewJSONReaderFromReader(r io.Reader, cfg *ExecutorConfig, projection []string, opts ...JSONReadOptions) (*JSONReader, error) {
	if cfg == nil {
		cfg = GetExecutorConfig()
	}
	opt := DefaultJSONReadOptions()
	if len(opts) > 0 {
		opt = opts[0]
	}

	records, err := readJSONObjects(r, opt.Format)
	if err != nil {
		return nil, err
	}

	names := collectJSONFieldNames(records)
	colTypes := ParallelMap(len(names), func(i int) DType {
		return inferJSONFieldType(records, names[i])
	})

	columns := make([]*Column, len(names))
	ParallelFor(len(names), func(start, end int) {
		for i := start; i < end; i++ {
			columns[i] = buildJSONColumn(names[i], colTypes[i], records)
		}
	})

	fields := make([]Field, len(names))
	for i, name := range names {
		fields[i] = Field{Name: name, DType: colTypes[i], Nullable: columns[i].HasNulls()}
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

	return &JSONReader{schema: outSchema, columns: projCols, rowCount: len(records), cfg: cfg}, nil
}

func readJSONObjects(r io.Reader, format JSONFormat) ([]map[string]interface{}, error) {
	switch format {
	case JSONArray:
		var records []map[string]interface{}
		if err := json.NewDecoder(r).Decode(&records); err != nil {
			return nil, NewIoError("readJSONObjects", err)
		}
		return records, nil
	default: // JSONLines
		var records []map[string]interface{}
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var rec map[string]interface{}
			if err := json.Unmarshal(line, &rec); err != nil {
				return nil, NewIoError("readJSONObjects", err)
			}
			records = append(records, rec)
		}
		if err := scanner.Err(); err != nil {
			return nil, NewIoError("readJSONObjects", err)
		}
		return records, nil
	}
}

func collectJSONFieldNames(records []map[string]interface{}) []string {
	seen := make(map[string]bool)
	var names []string
	for _, rec := range records {
		for key := range rec {
			if !seen[key] {
				seen[key] = true
				names = append(names, key)
			}
		}
	}
	return names
}

func inferJSONFieldType(records []map[string]interface{}, name string) DType {
	for _, rec := range records {
		val, ok := rec[name]
		if !ok || val == nil {
			continue
		}
		switch v := val.(type) {
		case bool:
			return Bool
		case float64:
			if v == float64(int64(v)) {
				return Int64
			}
			return Float64
		case string:
			return String
		default:
			return String
		}
	}
	return String
}

func buildJSONColumn(name string, dtype DType, records []map[string]interface{}) *Column {
	n := len(records)
	validFlags := make([]bool, n)

	switch dtype {
	case Float64:
		data := make([]float64, n)
		for i, rec := range records {
			if v, ok := jsonNumberAt(rec, name); ok {
				data[i] = v
				validFlags[i] = true
			}
		}
		return NewColumnF64WithNulls(name, data, validFlags)

	case Int64:
		data := make([]int64, n)
		for i, rec := range records {
			if v, ok := jsonNumberAt(rec, name); ok {
				data[i] = int64(v)
				validFlags[i] = true
			}
		}
		return NewColumnI64WithNulls(name, data, validFlags)

	case Bool:
		data := make([]bool, n)
		for i, rec := range records {
			val, ok := rec[name]
			if !ok || val == nil {
				continue
			}
			if b, ok := val.(bool); ok {
				data[i] = b
				validFlags[i] = true
			}
		}
		return NewColumnBoolWithNulls(name, data, validFlags)

	default: // String
		data := make([]string, n)
		for i, rec := range records {
			val, ok := rec[name]
			if !ok || val == nil {
				continue
			}
			if s, ok := val.(string); ok {
				data[i] = s
			} else {
				b, _ := json.Marshal(val)
				data[i] = string(b)
			}
			validFlags[i] = true
		}
		return NewColumnStringWithNulls(name, data, validFlags)
	}
}

func jsonNumberAt(rec map[string]interface{}, name string) (float64, bool) {
	val, ok := rec[name]
	if !ok || val == nil {
		return 0, false
	}
	v, ok := val.(float64)
	return v, ok
}

func (r *JSONReader) Schema() *Schema { return r.schema }

func (r *JSONReader) Next() (*Morsel, error) {
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

func (r *JSONReader) Close() error { return nil }

// JSONWriteOptions configures WriteJSONLines.
type JSONWriteOptions struct {
	Indent string
}

// WriteJSONLines drains reader, writing one JSON object per row, one row
// per line — the inverse connector to JSONReader's JSONLines format.
func WriteJSONLines(reader Reader, w io.Writer, opts ...JSONWriteOptions) error {
	opt := JSONWriteOptions{}
	if len(opts) > 0 {
		opt = opts[0]
	}
	schema := reader.Schema()
	names := schema.Names()
	enc := json.NewEncoder(w)
	if opt.Indent != "" {
		enc.SetIndent("", opt.Indent)
	}
	for {
		m, err := reader.Next()
		if err != nil {
			return err
		}
		if m == nil {
			return nil
		}
		for i := 0; i < m.effectiveLen(); i++ {
			rec := make(map[string]interface{}, len(names))
			for c, name := range names {
				rec[name] = jsonCellValue(m.Column(c), i)
			}
			if err := enc.Encode(rec); err != nil {
				return NewIoError("WriteJSONLines", err)
			}
		}
	}
}

func jsonCellValue(c *Column, i int) interface{} {
	if !c.IsValid(i) {
		return nil
	}
	switch c.DType {
	case Float64:
		v, _ := c.AtF64(i)
		return v
	case Float32:
		v, _ := c.AtF32(i)
		return v
	case Int64, TimestampNanos:
		v, _ := c.AtI64(i)
		return v
	case Int32, Date32:
		v, _ := c.AtI32(i)
		return v
	case Bool:
		v, _ := c.AtBool(i)
		return v
	case String, Categorical:
		v, _ := c.AtString(i)
		return v
	default:
		return nil
	}
}
