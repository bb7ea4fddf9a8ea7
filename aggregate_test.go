package opteryx

import "testing"

func valueMorsel(t *testing.T, colName string, values []float64) *Morsel {
	t.Helper()
	schema, err := NewSchema([]Field{{Name: colName, DType: Float64}})
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	m, err := NewMorsel(schema, []*Column{NewColumnF64(colName, values)}, len(values))
	if err != nil {
		t.Fatalf("NewMorsel: %v", err)
	}
	return m
}

func TestSimpleAggregateSum(t *testing.T) {
	child := &sliceOperator{schema: mustSchema(t, "v", Float64), morsels: []*Morsel{
		valueMorsel(t, "v", []float64{1, 2, 3}),
		valueMorsel(t, "v", []float64{4, 5}),
	}}
	specs := []AggSpec{{Func: AggSum, Input: &ColumnRef{Name: "v"}, OutputName: "total"}}
	agg, err := NewSimpleAggregateOperator(child, specs, DefaultExecutorConfig())
	if err != nil {
		t.Fatalf("NewSimpleAggregateOperator: %v", err)
	}
	out, err := agg.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	v, ok := out.Column(0).AtF64(0)
	if !ok || v != 15 {
		t.Fatalf("SUM = %v, %v; want 15, true", v, ok)
	}
	if end, err := agg.Next(); err != nil || end != nil {
		t.Fatalf("expected a single emitted row, got %v, %v", end, err)
	}
}

func TestSimpleAggregateCountStar(t *testing.T) {
	child := &sliceOperator{schema: mustSchema(t, "v", Float64), morsels: []*Morsel{valueMorsel(t, "v", []float64{1, 2, 3, 4})}}
	specs := []AggSpec{{Func: AggCountStar, OutputName: "n"}}
	agg, err := NewSimpleAggregateOperator(child, specs, DefaultExecutorConfig())
	if err != nil {
		t.Fatalf("NewSimpleAggregateOperator: %v", err)
	}
	out, err := agg.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	v, ok := out.Column(0).AtI64(0)
	if !ok || v != 4 {
		t.Fatalf("COUNT(*) = %v, %v; want 4, true", v, ok)
	}
}

func TestSimpleAggregateAvgMinMax(t *testing.T) {
	child := &sliceOperator{schema: mustSchema(t, "v", Float64), morsels: []*Morsel{valueMorsel(t, "v", []float64{10, 20, 30})}}
	specs := []AggSpec{
		{Func: AggAvg, Input: &ColumnRef{Name: "v"}, OutputName: "avg"},
		{Func: AggMin, Input: &ColumnRef{Name: "v"}, OutputName: "min"},
		{Func: AggMax, Input: &ColumnRef{Name: "v"}, OutputName: "max"},
	}
	agg, err := NewSimpleAggregateOperator(child, specs, DefaultExecutorConfig())
	if err != nil {
		t.Fatalf("NewSimpleAggregateOperator: %v", err)
	}
	out, err := agg.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if v, ok := out.Column(0).AtF64(0); !ok || v != 20 {
		t.Fatalf("AVG = %v, %v; want 20, true", v, ok)
	}
	if v, ok := out.Column(1).AtF64(0); !ok || v != 10 {
		t.Fatalf("MIN = %v, %v; want 10, true", v, ok)
	}
	if v, ok := out.Column(2).AtF64(0); !ok || v != 30 {
		t.Fatalf("MAX = %v, %v; want 30, true", v, ok)
	}
}

func TestSimpleAggregateEmptyInputIsNull(t *testing.T) {
	child := &sliceOperator{schema: mustSchema(t, "v", Float64), morsels: nil}
	specs := []AggSpec{{Func: AggSum, Input: &ColumnRef{Name: "v"}, OutputName: "total"}}
	agg, err := NewSimpleAggregateOperator(child, specs, DefaultExecutorConfig())
	if err != nil {
		t.Fatalf("NewSimpleAggregateOperator: %v", err)
	}
	out, err := agg.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if out.Column(0).IsValid(0) {
		t.Fatal("SUM over no rows should be null")
	}
}

func TestGroupedAggregateSumsPerKey(t *testing.T) {
	schema, err := NewSchema([]Field{{Name: "k", DType: String}, {Name: "v", DType: Float64}})
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	m, err := NewMorsel(schema, []*Column{
		NewColumnString("k", []string{"a", "b", "a", "b", "a"}),
		NewColumnF64("v", []float64{1, 10, 2, 20, 3}),
	}, 5)
	if err != nil {
		t.Fatalf("NewMorsel: %v", err)
	}
	child := &sliceOperator{schema: schema, morsels: []*Morsel{m}}

	specs := []AggSpec{{Func: AggSum, Input: &ColumnRef{Name: "v"}, OutputName: "total"}}
	g, err := NewGroupedAggregateOperator(child, []Expr{&ColumnRef{Name: "k"}}, []string{"k"}, specs, DefaultExecutorConfig())
	if err != nil {
		t.Fatalf("NewGroupedAggregateOperator: %v", err)
	}

	totals := map[string]float64{}
	for {
		out, err := g.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if out == nil {
			break
		}
		for i := 0; i < out.RowCount; i++ {
			key, _ := out.Column(0).AtString(i)
			v, _ := out.Column(1).AtF64(i)
			totals[key] = v
		}
	}
	if totals["a"] != 6 || totals["b"] != 30 {
		t.Fatalf("totals = %+v, want a=6, b=30", totals)
	}
}

func TestDistinctOperatorDedupesKeys(t *testing.T) {
	schema, err := NewSchema([]Field{{Name: "k", DType: String}})
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	m, err := NewMorsel(schema, []*Column{NewColumnString("k", []string{"a", "b", "a", "a", "c", "b"})}, 6)
	if err != nil {
		t.Fatalf("NewMorsel: %v", err)
	}
	child := &sliceOperator{schema: schema, morsels: []*Morsel{m}}

	d, err := NewDistinctOperator(child, []Expr{&ColumnRef{Name: "k"}}, []string{"k"}, DefaultExecutorConfig())
	if err != nil {
		t.Fatalf("NewDistinctOperator: %v", err)
	}

	seen := map[string]bool{}
	var total int
	for {
		out, err := d.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if out == nil {
			break
		}
		total += out.RowCount
		for i := 0; i < out.RowCount; i++ {
			v, _ := out.Column(0).AtString(i)
			seen[v] = true
		}
	}
	if total != 3 || len(seen) != 3 {
		t.Fatalf("distinct rows = %d, distinct keys = %v; want 3 rows over {a,b,c}", total, seen)
	}
}

func TestHyperLogLogEstimateIsWithinTolerance(t *testing.T) {
	h := newHyperLogLog()
	const n = 10000
	cols := []*Column{NewColumnI64("k", func() []int64 {
		vals := make([]int64, n)
		for i := range vals {
			vals[i] = int64(i)
		}
		return vals
	}())}
	hashes := HashKeyColumns(cols)
	for _, hv := range hashes {
		h.Add(hv)
	}
	est := h.Estimate()
	lo, hi := float64(n)*0.9, float64(n)*1.1
	if est < lo || est > hi {
		t.Fatalf("Estimate() = %v, want within 10%% of %d", est, n)
	}
}

func mustSchema(t *testing.T, colName string, dtype DType) *Schema {
	t.Helper()
	schema, err := NewSchema([]Field{{Name: colName, DType: dtype}})
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	return schema
}
