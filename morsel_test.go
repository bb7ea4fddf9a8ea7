package opteryx

import "testing"

func TestNewMorselRejectsSchemaMismatch(t *testing.T) {
	schema, err := NewSchema([]Field{{Name: "a", DType: Int64}, {Name: "b", DType: String}})
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	if _, err := NewMorsel(schema, []*Column{NewColumnI64("a", []int64{1, 2})}, 2); err == nil {
		t.Fatal("expected an error for a column-count mismatch")
	}
	if _, err := NewMorsel(schema, []*Column{
		NewColumnI64("a", []int64{1, 2}),
		NewColumnString("b", []string{"x"}),
	}, 2); err == nil {
		t.Fatal("expected an error for a column-length mismatch")
	}
}

func TestMorselWithSelectionAndMaterialize(t *testing.T) {
	m := intMorselForTest(t, []int64{10, 20, 30, 40})
	sel := m.WithSelection([]uint32{1, 3})
	if sel.RowCount != 2 {
		t.Fatalf("RowCount = %d, want 2", sel.RowCount)
	}
	v, ok := sel.Column(0).AtI64(0)
	if !ok || v != 20 {
		t.Fatalf("selected[0] = %v, %v; want 20, true", v, ok)
	}

	mat := sel.Materialize()
	if mat.Selection != nil {
		t.Fatal("Materialize should clear the selection vector")
	}
	v, ok = mat.Column(1).AtI64(1)
	if !ok || v != 40 {
		t.Fatalf("materialized[1] = %v, %v; want 40, true", v, ok)
	}
}

func TestMorselWithSelectionRejectsNonAscending(t *testing.T) {
	m := intMorselForTest(t, []int64{1, 2, 3})
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic for a non-ascending selection vector")
		}
	}()
	m.WithSelection([]uint32{1, 0})
}

func TestConcatMorselsCombinesRows(t *testing.T) {
	a := intMorselForTest(t, []int64{1, 2})
	b := intMorselForTest(t, []int64{3, 4, 5})
	out, err := ConcatMorsels([]*Morsel{a, b})
	if err != nil {
		t.Fatalf("ConcatMorsels: %v", err)
	}
	if out.RowCount != 5 {
		t.Fatalf("RowCount = %d, want 5", out.RowCount)
	}
	v, ok := out.Column(0).AtI64(4)
	if !ok || v != 5 {
		t.Fatalf("out[4] = %v, %v; want 5, true", v, ok)
	}
}

func TestConcatMorselsRejectsSchemaMismatch(t *testing.T) {
	a := intMorselForTest(t, []int64{1})
	bSchema, _ := NewSchema([]Field{{Name: "k", DType: String}})
	b, err := NewMorsel(bSchema, []*Column{NewColumnString("k", []string{"x"})}, 1)
	if err != nil {
		t.Fatalf("NewMorsel: %v", err)
	}
	if _, err := ConcatMorsels([]*Morsel{a, b}); err == nil {
		t.Fatal("expected a schema mismatch error")
	}
}

func intMorselForTest(t *testing.T, values []int64) *Morsel {
	t.Helper()
	schema, err := NewSchema([]Field{{Name: "k", DType: Int64}})
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	m, err := NewMorsel(schema, []*Column{NewColumnI64("k", values)}, len(values))
	if err != nil {
		t.Fatalf("NewMorsel: %v", err)
	}
	return m
}
