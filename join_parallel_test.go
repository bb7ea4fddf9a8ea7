package opteryx

import "testing"

// sliceOperator is a minimal in-memory Operator over a fixed set of
// morsels, used to drive HashJoinOperator in tests without a real upstream
// plan.
type sliceOperator struct {
	schema  *Schema
	morsels []*Morsel
	idx     int
}

func (s *sliceOperator) Schema() *Schema { return s.schema }

func (s *sliceOperator) Next() (*Morsel, error) {
	if s.idx >= len(s.morsels) {
		return nil, nil
	}
	m := s.morsels[s.idx]
	s.idx++
	return m, nil
}

func (s *sliceOperator) Statistics() OperatorStats { return OperatorStats{} }
func (s *sliceOperator) Close() error              { return nil }

func intSchema(t *testing.T, colName string) *Schema {
	t.Helper()
	schema, err := NewSchema([]Field{{Name: colName, DType: Int64}})
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	return schema
}

func intMorsel(t *testing.T, colName string, values []int64) *Morsel {
	t.Helper()
	m, err := NewMorsel(intSchema(t, colName), []*Column{NewColumnI64(colName, values)}, len(values))
	if err != nil {
		t.Fatalf("NewMorsel: %v", err)
	}
	return m
}

// TestHashJoinParallelBuildMatchesSequential builds the same join with a
// build side large enough to trigger buildHashTableParallel (§4.4) and
// checks the output row count matches what a plain inner join on the same
// data should produce — partitioning the build side must not lose or
// duplicate rows relative to the single-threaded path. InnerJoin builds
// on the right side (sideFor), so the large input goes on the right.
func TestHashJoinParallelBuildMatchesSequential(t *testing.T) {
	const n = 20000 // exceeds DefaultExecutorConfig's MinRowsForParallel (8192)

	buildKeys := make([]int64, n)
	for i := range buildKeys {
		buildKeys[i] = int64(i)
	}
	probeKeys := []int64{0, 1, n - 1, n / 2}

	left := &sliceOperator{schema: intSchema(t, "k"), morsels: []*Morsel{intMorsel(t, "k", probeKeys)}}
	right := &sliceOperator{schema: intSchema(t, "k"), morsels: []*Morsel{intMorsel(t, "k", buildKeys)}}

	cfg := DefaultExecutorConfig()
	cfg.MorselSize = 100000

	opts := DefaultJoinOptions().On("k")
	join, err := NewHashJoinOperator(InnerJoin, left, right, opts, cfg, newCancelFlag())
	if err != nil {
		t.Fatalf("NewHashJoinOperator: %v", err)
	}
	defer join.Close()

	var total int
	for {
		m, err := join.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if m == nil {
			break
		}
		total += m.RowCount
	}
	if total != len(probeKeys) {
		t.Fatalf("matched rows = %d, want %d", total, len(probeKeys))
	}
}

// TestHashJoinRightOuterPreservesUnmatchedRightRows mirrors spec scenario 2
// (left outer join, unmatched left rows) with the sides reversed: the
// "plain ints" side is now on the right and the "(k,label)" side is on the
// left, joined with RightOuterJoin. sideFor builds RightOuterJoin on the
// right, so the right side here is both the build side and the side that
// must be fully preserved in the output.
func TestHashJoinRightOuterPreservesUnmatchedRightRows(t *testing.T) {
	leftSchema, err := NewSchema([]Field{{Name: "k", DType: Int64}, {Name: "label", DType: String}})
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	leftMorsel, err := NewMorsel(leftSchema, []*Column{
		NewColumnI64("k", []int64{1, 3}),
		NewColumnString("label", []string{"x", "y"}),
	}, 2)
	if err != nil {
		t.Fatalf("NewMorsel: %v", err)
	}

	left := &sliceOperator{schema: leftSchema, morsels: []*Morsel{leftMorsel}}
	right := &sliceOperator{schema: intSchema(t, "k"), morsels: []*Morsel{intMorsel(t, "k", []int64{1, 2, 3})}}

	cfg := DefaultExecutorConfig()
	opts := DefaultJoinOptions().On("k")
	join, err := NewHashJoinOperator(RightOuterJoin, left, right, opts, cfg, newCancelFlag())
	if err != nil {
		t.Fatalf("NewHashJoinOperator: %v", err)
	}
	defer join.Close()

	labelIdx := join.Schema().IndexOf("label")
	kRightIdx := join.Schema().IndexOf("k_right")
	if labelIdx < 0 || kRightIdx < 0 {
		t.Fatalf("output schema missing label/k_right column: %+v", join.Schema().Fields())
	}

	got := map[int64]string{}
	var total int
	for {
		m, err := join.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if m == nil {
			break
		}
		kCol := m.Columns[kRightIdx]
		labelCol := m.Columns[labelIdx]
		for i := 0; i < m.RowCount; i++ {
			k := boxColumnValue(kCol, i).(int64)
			if s, ok := labelCol.AtString(i); ok {
				got[k] = s
			} else {
				got[k] = ""
			}
			total++
		}
	}

	if total != 3 {
		t.Fatalf("row count = %d, want 3 (every right row preserved)", total)
	}
	want := map[int64]string{1: "x", 2: "", 3: "y"}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("row k=%d label = %q, want %q (got %v)", k, got[k], v, got)
		}
	}
}

func TestHashJoinSmallBuildStaysSequential(t *testing.T) {
	left := &sliceOperator{schema: intSchema(t, "k"), morsels: []*Morsel{intMorsel(t, "k", []int64{1, 2, 3})}}
	right := &sliceOperator{schema: intSchema(t, "k"), morsels: []*Morsel{intMorsel(t, "k", []int64{2, 3, 4})}}

	cfg := DefaultExecutorConfig()
	opts := DefaultJoinOptions().On("k")
	join, err := NewHashJoinOperator(InnerJoin, left, right, opts, cfg, newCancelFlag())
	if err != nil {
		t.Fatalf("NewHashJoinOperator: %v", err)
	}
	defer join.Close()

	var total int
	for {
		m, err := join.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if m == nil {
			break
		}
		total += m.RowCount
	}
	if total != 2 {
		t.Fatalf("matched rows = %d, want 2", total)
	}
}
