package opteryx

import (
	"os"
	"path/filepath"
	"testing"
)

// singleMorselReader is a minimal Reader yielding one morsel then EOF, used
// to drive writers in tests without needing a real connector on the input
// side.
type singleMorselReader struct {
	schema *Schema
	m      *Morsel
	done   bool
}

func (r *singleMorselReader) Schema() *Schema { return r.schema }

func (r *singleMorselReader) Next() (*Morsel, error) {
	if r.done {
		return nil, nil
	}
	r.done = true
	return r.m, nil
}

func (r *singleMorselReader) Close() error { return nil }

func TestParquetWriteAndReadRoundTrip(t *testing.T) {
	m := buildTestMorsel(t)
	src := &singleMorselReader{schema: m.Schema, m: m}

	dir := t.TempDir()
	path := filepath.Join(dir, "morsel.parquet")
	if err := WriteParquet(src, path); err != nil {
		t.Fatalf("WriteParquet: %v", err)
	}

	cfg := testCSVConfig(4096)
	r, err := NewParquetReader(path, cfg)
	if err != nil {
		t.Fatalf("NewParquetReader: %v", err)
	}
	defer r.Close()

	out, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if out == nil {
		t.Fatal("expected a morsel, got nil")
	}
	if out.RowCount != 3 {
		t.Fatalf("RowCount = %d, want 3", out.RowCount)
	}

	i64Col, err := out.ColumnByName("i64")
	if err != nil {
		t.Fatalf("ColumnByName(i64): %v", err)
	}
	v, ok := i64Col.AtI64(2)
	if !ok || v != 30 {
		t.Errorf("i64[2] = %v, %v; want 30, true", v, ok)
	}

	if m2, err := r.Next(); err != nil || m2 != nil {
		t.Errorf("expected nil morsel and nil error at EOF, got %v, %v", m2, err)
	}
}

func TestParquetReaderColumnSelection(t *testing.T) {
	m := buildTestMorsel(t)
	src := &singleMorselReader{schema: m.Schema, m: m}

	dir := t.TempDir()
	path := filepath.Join(dir, "morsel.parquet")
	if err := WriteParquet(src, path); err != nil {
		t.Fatalf("WriteParquet: %v", err)
	}

	cfg := testCSVConfig(4096)
	r, err := NewParquetReader(path, cfg, ParquetReadOptions{Columns: []string{"name"}})
	if err != nil {
		t.Fatalf("NewParquetReader: %v", err)
	}
	defer r.Close()

	if got := r.Schema().Names(); len(got) != 1 || got[0] != "name" {
		t.Fatalf("schema names = %v, want [name]", got)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("parquet file missing: %v", err)
	}
}
