package opteryx

import "testing"

func sortTestMorsel(t *testing.T, values []int64) *Morsel {
	t.Helper()
	schema, err := NewSchema([]Field{{Name: "v", DType: Int64, Nullable: true}})
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	m, err := NewMorsel(schema, []*Column{NewColumnI64("v", values)}, len(values))
	if err != nil {
		t.Fatalf("NewMorsel: %v", err)
	}
	return m
}

func drainInt64Column(t *testing.T, op Operator) []int64 {
	t.Helper()
	var got []int64
	for {
		m, err := op.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if m == nil {
			break
		}
		for i := 0; i < m.RowCount; i++ {
			v, _ := m.Column(0).AtI64(i)
			got = append(got, v)
		}
	}
	return got
}

func TestSortOperatorInMemoryAscending(t *testing.T) {
	child := &sliceOperator{schema: mustSchema(t, "v", Int64), morsels: []*Morsel{sortTestMorsel(t, []int64{5, 1, 4, 2, 3})}}
	specs := []SortKeySpec{{Expr: &ColumnRef{Name: "v"}, Ascending: true}}
	s := NewSortOperator(child, specs, DefaultExecutorConfig())

	got := drainInt64Column(t, s)
	want := []int64{1, 2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestSortOperatorDescending(t *testing.T) {
	child := &sliceOperator{schema: mustSchema(t, "v", Int64), morsels: []*Morsel{sortTestMorsel(t, []int64{1, 3, 2})}}
	specs := []SortKeySpec{{Expr: &ColumnRef{Name: "v"}, Ascending: false}}
	s := NewSortOperator(child, specs, DefaultExecutorConfig())

	got := drainInt64Column(t, s)
	want := []int64{3, 2, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestSortOperatorSpillsAcrossMultipleRuns(t *testing.T) {
	values := make([]int64, 500)
	for i := range values {
		values[i] = int64(len(values) - i) // descending input, sort ascending
	}
	var morsels []*Morsel
	for start := 0; start < len(values); start += 100 {
		morsels = append(morsels, sortTestMorsel(t, values[start:start+100]))
	}
	child := &sliceOperator{schema: mustSchema(t, "v", Int64), morsels: morsels}

	cfg := DefaultExecutorConfig()
	cfg.SortSpillRows = 50 // each 100-row input morsel crosses the threshold, so five runs are spilled
	specs := []SortKeySpec{{Expr: &ColumnRef{Name: "v"}, Ascending: true}}
	s := NewSortOperator(child, specs, cfg)
	defer s.Close()

	got := drainInt64Column(t, s)
	if len(got) != len(values) {
		t.Fatalf("got %d rows, want %d", len(got), len(values))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1] > got[i] {
			t.Fatalf("output not sorted at index %d: %v", i, got)
		}
	}
	if got[0] != 1 || got[len(got)-1] != int64(len(values)) {
		t.Fatalf("got bounds [%d, %d], want [1, %d]", got[0], got[len(got)-1], len(values))
	}
}

func TestTopNOperatorReturnsKBest(t *testing.T) {
	child := &sliceOperator{schema: mustSchema(t, "v", Int64), morsels: []*Morsel{sortTestMorsel(t, []int64{9, 1, 8, 2, 7, 3, 6, 4, 5})}}
	specs := []SortKeySpec{{Expr: &ColumnRef{Name: "v"}, Ascending: false}}
	topN, ok := NewTopNOperator(child, specs, 3, DefaultExecutorConfig())
	if !ok {
		t.Fatal("expected NewTopNOperator to accept k=3")
	}

	got := drainInt64Column(t, topN)
	want := []int64{9, 8, 7}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestNewTopNOperatorRejectsKAboveCeiling(t *testing.T) {
	child := &sliceOperator{schema: mustSchema(t, "v", Int64), morsels: nil}
	specs := []SortKeySpec{{Expr: &ColumnRef{Name: "v"}, Ascending: true}}
	if _, ok := NewTopNOperator(child, specs, topNMaxK+1, DefaultExecutorConfig()); ok {
		t.Fatal("expected NewTopNOperator to reject k above topNMaxK")
	}
}
