package opteryx

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

func buildTestMorsel(t *testing.T) *Morsel {
	t.Helper()
	schema, err := NewSchema([]Field{
		{Name: "f64", DType: Float64, Nullable: true},
		{Name: "i64", DType: Int64, Nullable: false},
		{Name: "name", DType: String, Nullable: true},
		{Name: "active", DType: Bool, Nullable: false},
	})
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	cols := []*Column{
		NewColumnF64WithNulls("f64", []float64{1.5, 0, 3.5}, []bool{true, false, true}),
		NewColumnI64("i64", []int64{10, 20, 30}),
		NewColumnStringWithNulls("name", []string{"alice", "", "carol"}, []bool{true, false, true}),
		NewColumnBool("active", []bool{true, false, true}),
	}
	m, err := NewMorsel(schema, cols, 3)
	if err != nil {
		t.Fatalf("NewMorsel: %v", err)
	}
	return m
}

func TestToArrowRecordShape(t *testing.T) {
	m := buildTestMorsel(t)

	record, err := m.ToArrowRecord(memory.DefaultAllocator)
	if err != nil {
		t.Fatalf("ToArrowRecord: %v", err)
	}
	defer record.Release()

	if record.NumCols() != 4 {
		t.Fatalf("NumCols = %d, want 4", record.NumCols())
	}
	if record.NumRows() != 3 {
		t.Fatalf("NumRows = %d, want 3", record.NumRows())
	}
}

func TestArrowReaderRoundTripsColumns(t *testing.T) {
	m := buildTestMorsel(t)
	record, err := m.ToArrowRecord(memory.DefaultAllocator)
	if err != nil {
		t.Fatalf("ToArrowRecord: %v", err)
	}
	defer record.Release()

	cfg := testCSVConfig(4096)
	r, err := NewArrowReader([]arrow.Record{record}, cfg, nil)
	if err != nil {
		t.Fatalf("NewArrowReader: %v", err)
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

	f64Col, err := out.ColumnByName("f64")
	if err != nil {
		t.Fatalf("ColumnByName(f64): %v", err)
	}
	if f64Col.IsValid(1) {
		t.Errorf("row 1 f64 should be null")
	}
	v, ok := f64Col.AtF64(0)
	if !ok || v != 1.5 {
		t.Errorf("f64[0] = %v, %v; want 1.5, true", v, ok)
	}

	if m2, err := r.Next(); err != nil || m2 != nil {
		t.Errorf("expected nil morsel and nil error at EOF, got %v, %v", m2, err)
	}
}

func TestArrowReaderProjection(t *testing.T) {
	m := buildTestMorsel(t)
	record, err := m.ToArrowRecord(memory.DefaultAllocator)
	if err != nil {
		t.Fatalf("ToArrowRecord: %v", err)
	}
	defer record.Release()

	cfg := testCSVConfig(4096)
	r, err := NewArrowReader([]arrow.Record{record}, cfg, []string{"name", "i64"})
	if err != nil {
		t.Fatalf("NewArrowReader: %v", err)
	}
	defer r.Close()

	if got := r.Schema().Names(); len(got) != 2 || got[0] != "name" || got[1] != "i64" {
		t.Fatalf("projected names = %v, want [name i64]", got)
	}
}
