package opteryx

import (
	"strings"
	"testing"
)

func testCSVConfig(morselSize int) *ExecutorConfig {
	cfg := DefaultExecutorConfig()
	cfg.MorselSize = morselSize
	return cfg
}

func TestCSVReaderInfersTypes(t *testing.T) {
	data := "id,name,score,active\n1,alice,9.5,true\n2,bob,7.25,false\n3,carol,,true\n"
	r, err := NewCSVReaderFromReader(strings.NewReader(data), testCSVConfig(4096), nil)
	if err != nil {
		t.Fatalf("NewCSVReaderFromReader: %v", err)
	}
	defer r.Close()

	schema := r.Schema()
	wantTypes := map[string]DType{"id": Int64, "name": String, "score": Float64, "active": Bool}
	for name, want := range wantTypes {
		f, ok := schema.FieldByName(name)
		if !ok {
			t.Fatalf("missing field %q", name)
		}
		if f.DType != want {
			t.Errorf("field %q: got %v, want %v", name, f.DType, want)
		}
	}

	m, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if m.RowCount != 3 {
		t.Fatalf("RowCount = %d, want 3", m.RowCount)
	}

	scoreCol, err := m.ColumnByName("score")
	if err != nil {
		t.Fatalf("ColumnByName(score): %v", err)
	}
	if scoreCol.IsValid(2) {
		t.Errorf("row 2 score should be null")
	}
	v, ok := scoreCol.AtF64(0)
	if !ok || v != 9.5 {
		t.Errorf("row 0 score = %v, %v; want 9.5, true", v, ok)
	}

	if m2, err := r.Next(); err != nil || m2 != nil {
		t.Errorf("expected nil morsel and nil error at EOF, got %v, %v", m2, err)
	}
}

func TestCSVReaderMorselChunking(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("n\n")
	for i := 0; i < 10; i++ {
		sb.WriteString("1\n")
	}
	r, err := NewCSVReaderFromReader(strings.NewReader(sb.String()), testCSVConfig(4), nil)
	if err != nil {
		t.Fatalf("NewCSVReaderFromReader: %v", err)
	}
	defer r.Close()

	var total int
	var sizes []int
	for {
		m, err := r.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if m == nil {
			break
		}
		sizes = append(sizes, m.RowCount)
		total += m.RowCount
	}
	if total != 10 {
		t.Fatalf("total rows = %d, want 10", total)
	}
	if len(sizes) != 3 || sizes[0] != 4 || sizes[1] != 4 || sizes[2] != 2 {
		t.Errorf("chunk sizes = %v, want [4 4 2]", sizes)
	}
}

func TestCSVReaderProjection(t *testing.T) {
	data := "a,b,c\n1,2,3\n4,5,6\n"
	r, err := NewCSVReaderFromReader(strings.NewReader(data), testCSVConfig(4096), []string{"c", "a"})
	if err != nil {
		t.Fatalf("NewCSVReaderFromReader: %v", err)
	}
	defer r.Close()

	if got := r.Schema().Names(); len(got) != 2 || got[0] != "c" || got[1] != "a" {
		t.Fatalf("projected names = %v, want [c a]", got)
	}
	m, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	aCol, _ := m.ColumnByName("a")
	v, _ := aCol.AtI64(0)
	if v != 1 {
		t.Errorf("a[0] = %d, want 1", v)
	}
}

func TestWriteCSVRoundTrip(t *testing.T) {
	data := "a,b\n1,x\n2,y\n3,\n"
	r, err := NewCSVReaderFromReader(strings.NewReader(data), testCSVConfig(4096), nil)
	if err != nil {
		t.Fatalf("NewCSVReaderFromReader: %v", err)
	}
	defer r.Close()

	var out strings.Builder
	if err := WriteCSVToWriter(r, &out); err != nil {
		t.Fatalf("WriteCSVToWriter: %v", err)
	}

	r2, err := NewCSVReaderFromReader(strings.NewReader(out.String()), testCSVConfig(4096), nil)
	if err != nil {
		t.Fatalf("round-trip NewCSVReaderFromReader: %v", err)
	}
	defer r2.Close()
	m, err := r2.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if m.RowCount != 3 {
		t.Fatalf("round-trip RowCount = %d, want 3", m.RowCount)
	}
}
