package opteryx

import "fmt"

// AggFunc enumerates the aggregate functions the engine supports (§4.6).
type AggFunc int

const (
	AggCount AggFunc = iota
	AggCountStar
	AggSum
	AggAvg
	AggMin
	AggMax
	AggCountDistinct
)

func (f AggFunc) String() string {
	switch f {
	case AggCount:
		return "COUNT"
	case AggCountStar:
		return "COUNT(*)"
	case AggSum:
		return "SUM"
	case AggAvg:
		return "AVG"
	case AggMin:
		return "MIN"
	case AggMax:
		return "MAX"
	case AggCountDistinct:
		return "COUNT(DISTINCT)"
	default:
		return "UNKNOWN"
	}
}

// AggSpec describes one aggregate function call: the input it reduces, an
// optional FILTER predicate evaluated per row before the accumulator
// updates (§4.6.2), and whether COUNT DISTINCT should use the approximate
// HyperLogLog path instead of an exact hash set (decided default is exact;
// Approx opts a query into the ≤2% error mode).
type AggSpec struct {
	Func       AggFunc
	Input      Expr // nil only for AggCountStar
	Filter     Expr // nil means no FILTER clause
	Approx     bool // COUNT DISTINCT only
	OutputName string
}

// accState is a tagged accumulator holding whichever fields its AggFunc
// needs; one instance per (spec, group). Modeled as a single struct rather
// than per-kind types so grouped aggregation can grow a flat []accState per
// spec without boxing through an interface per group.
type accState struct {
	count       uint64
	sumF        float64
	sumI        int64
	sumIsFloat  bool
	sumOverflow bool
	hasValue    bool
	minMaxF     float64
	minMaxI     int64
	minMaxStr   string
	minMaxDType DType
	distinct    map[uint64]struct{}
	hll         *hyperLogLog
}

func newAccState(spec AggSpec) *accState {
	a := &accState{}
	if spec.Func == AggCountDistinct && spec.Approx {
		a.hll = newHyperLogLog()
	} else if spec.Func == AggCountDistinct {
		a.distinct = make(map[uint64]struct{})
	}
	return a
}

// updateAcc folds one row of col (or no column, for COUNT(*)) into a.
func updateAcc(a *accState, spec AggSpec, col *Column, row int, cfg *ExecutorConfig) error {
	switch spec.Func {
	case AggCountStar:
		a.count++
		return nil
	case AggCount:
		if col.IsValid(row) {
			a.count++
		}
		return nil
	case AggCountDistinct:
		if !col.IsValid(row) {
			return nil
		}
		var h [1]uint64
		hashScalarInto(col, row, h[:])
		if spec.Approx {
			a.hll.Add(h[0])
		} else {
			a.distinct[h[0]] = struct{}{}
		}
		return nil
	case AggSum, AggAvg:
		if !col.IsValid(row) {
			return nil
		}
		return accumulateSum(a, col, row, cfg)
	case AggMin:
		if !col.IsValid(row) {
			return nil
		}
		return accumulateExtremum(a, col, row, true)
	case AggMax:
		if !col.IsValid(row) {
			return nil
		}
		return accumulateExtremum(a, col, row, false)
	default:
		return fmt.Errorf("opteryx: unknown aggregate function %v", spec.Func)
	}
}

func hashScalarInto(col *Column, row int, out []uint64) {
	single := col.Slice(row, row+1)
	HashColumn(single, out)
}

func accumulateSum(a *accState, col *Column, row int, cfg *ExecutorConfig) error {
	if col.DType.IsFloat() {
		v, _, _ := asFloat64(col, row)
		a.sumIsFloat = true
		a.sumF += v
		a.count++
		return nil
	}
	var v int64
	switch col.DType {
	case Int64, TimestampNanos, Decimal:
		v, _ = col.AtI64(row)
	case Int32, Date32:
		iv, _ := col.AtI32(row)
		v = int64(iv)
	default:
		return NewTypeError("SUM", col.DType, Null)
	}
	newSum := a.sumI + v
	overflowed := (v > 0 && newSum < a.sumI) || (v < 0 && newSum > a.sumI)
	if overflowed {
		if cfg.Strict {
			return NewValueError(ValueErrorOverflow, row, "SUM overflow")
		}
		a.sumOverflow = true
	} else {
		a.sumI = newSum
	}
	a.count++
	return nil
}

func accumulateExtremum(a *accState, col *Column, row int, isMin bool) error {
	a.minMaxDType = col.DType
	switch col.DType {
	case Float64, Float32:
		v, _, _ := asFloat64(col, row)
		if !a.hasValue || (isMin && v < a.minMaxF) || (!isMin && v > a.minMaxF) {
			a.minMaxF = v
		}
	case Int64, Int32, Date32, TimestampNanos, Decimal:
		v, _ := asInt64Value(col, row)
		if !a.hasValue || (isMin && v < a.minMaxI) || (!isMin && v > a.minMaxI) {
			a.minMaxI = v
		}
	case String, Categorical:
		v, _ := col.AtString(row)
		if !a.hasValue || (isMin && v < a.minMaxStr) || (!isMin && v > a.minMaxStr) {
			a.minMaxStr = v
		}
	default:
		return NewTypeError("MIN/MAX", col.DType, Null)
	}
	a.hasValue = true
	return nil
}

// finalizeScalar returns the accumulator's final value and its output
// dtype, matching §4.6.1's null-until-first-input rules.
func finalizeScalar(a *accState, spec AggSpec, inputDType DType) (value interface{}, valid bool, dtype DType) {
	switch spec.Func {
	case AggCount, AggCountStar:
		return int64(a.count), true, Int64
	case AggCountDistinct:
		if spec.Approx {
			return int64(a.hll.Estimate()), true, Int64
		}
		return int64(len(a.distinct)), true, Int64
	case AggSum:
		if a.count == 0 {
			return nil, false, sumOutputDType(inputDType)
		}
		if a.sumIsFloat {
			return a.sumF, true, Float64
		}
		return a.sumI, true, Int64
	case AggAvg:
		if a.count == 0 {
			return nil, false, Float64
		}
		if a.sumIsFloat {
			return a.sumF / float64(a.count), true, Float64
		}
		return float64(a.sumI) / float64(a.count), true, Float64
	case AggMin, AggMax:
		if !a.hasValue {
			return nil, false, inputDType
		}
		switch a.minMaxDType {
		case Float64, Float32:
			return a.minMaxF, true, Float64
		case String, Categorical:
			return a.minMaxStr, true, String
		default:
			return a.minMaxI, true, a.minMaxDType
		}
	default:
		return nil, false, Null
	}
}

func sumOutputDType(input DType) DType {
	if input.IsFloat() {
		return Float64
	}
	return Int64
}

// ---------------------------------------------------------------------
// Simple aggregation (no GROUP BY)
// ---------------------------------------------------------------------

// SimpleAggregateOperator implements §4.6.1: one accumulator per spec, fed
// from every input row, emitting exactly one output row at end of stream.
type SimpleAggregateOperator struct {
	child Operator
	specs []AggSpec
	cfg   *ExecutorConfig

	accs      []*accState
	inDTypes  []DType
	outSchema *Schema
	emitted   bool
	stats     OperatorStats
}

func NewSimpleAggregateOperator(child Operator, specs []AggSpec, cfg *ExecutorConfig) (*SimpleAggregateOperator, error) {
	if cfg == nil {
		cfg = GetExecutorConfig()
	}
	fields := make([]Field, len(specs))
	accs := make([]*accState, len(specs))
	for i, s := range specs {
		accs[i] = newAccState(s)
		fields[i] = Field{Name: s.OutputName, DType: outputDTypeHint(s), Nullable: true}
	}
	schema, err := NewSchema(fields)
	if err != nil {
		return nil, err
	}
	return &SimpleAggregateOperator{child: child, specs: specs, cfg: cfg, accs: accs, inDTypes: make([]DType, len(specs)), outSchema: schema}, nil
}

// outputDTypeHint is the schema-construction-time guess at an aggregate's
// output dtype; MIN/MAX on a String or Date32 column ends up with a
// differently-typed actual result column once finalizeScalar runs (Schema
// carries no runtime enforcement against a Morsel's actual column dtypes,
// so this is a metadata approximation, not a type error).
func outputDTypeHint(s AggSpec) DType {
	switch s.Func {
	case AggCount, AggCountStar, AggCountDistinct:
		return Int64
	case AggAvg:
		return Float64
	default:
		return Float64
	}
}

func (a *SimpleAggregateOperator) Schema() *Schema { return a.outSchema }

func (a *SimpleAggregateOperator) Next() (*Morsel, error) {
	if a.emitted {
		return nil, nil
	}
	for {
		m, err := a.child.Next()
		if err != nil {
			return nil, err
		}
		if m == nil {
			break
		}
		a.stats.MorselsIn++
		a.stats.RowsIn += int64(m.RowCount)
		if err := a.absorb(m); err != nil {
			return nil, err
		}
	}

	cols := make([]*Column, len(a.specs))
	for i, s := range a.specs {
		val, valid, dtype := finalizeScalar(a.accs[i], s, a.inDTypes[i])
		cols[i] = scalarColumn(s.OutputName, dtype, val, valid)
	}
	out, err := NewMorsel(a.outSchema, cols, 1)
	if err != nil {
		return nil, err
	}
	a.emitted = true
	a.stats.MorselsOut++
	a.stats.RowsOut++
	return out, nil
}

func (a *SimpleAggregateOperator) absorb(m *Morsel) error {
	colCache := make([]*Column, len(a.specs))
	maskCache := make([][]bool, len(a.specs))
	for i, s := range a.specs {
		if s.Input != nil {
			c, err := s.Input.Eval(m, a.cfg)
			if err != nil {
				return err
			}
			colCache[i] = c
			a.inDTypes[i] = c.DType
		}
		if s.Filter != nil {
			fc, err := s.Filter.Eval(m, a.cfg)
			if err != nil {
				return err
			}
			mask := make([]bool, m.RowCount)
			for r := 0; r < m.RowCount; r++ {
				v, ok := fc.AtBool(r)
				mask[r] = ok && v
			}
			maskCache[i] = mask
		}
	}
	for r := 0; r < m.RowCount; r++ {
		for i, s := range a.specs {
			if maskCache[i] != nil && !maskCache[i][r] {
				continue
			}
			if err := updateAcc(a.accs[i], s, colCache[i], r, a.cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *SimpleAggregateOperator) Statistics() OperatorStats { return a.stats }
func (a *SimpleAggregateOperator) Close() error              { return a.child.Close() }

// scalarColumn builds a length-1 column of dtype holding val, or NULL if
// !valid.
func scalarColumn(name string, dtype DType, val interface{}, valid bool) *Column {
	if !valid {
		c := NewColumnNull(name, 1)
		c.DType = dtype
		return c
	}
	switch dtype {
	case Int64:
		return NewColumnI64(name, []int64{toInt64(val)})
	case Int32:
		return NewColumnI32(name, []int32{int32(toInt64(val))})
	case Float64:
		return NewColumnF64(name, []float64{toFloat64(val)})
	case String:
		s, _ := val.(string)
		return NewColumnString(name, []string{s})
	case Bool:
		b, _ := val.(bool)
		return NewColumnBool(name, []bool{b})
	default:
		return NewColumnF64(name, []float64{toFloat64(val)})
	}
}

func toInt64(v interface{}) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int32:
		return int64(x)
	case float64:
		return int64(x)
	default:
		return 0
	}
}

func toFloat64(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int64:
		return float64(x)
	case int32:
		return float64(x)
	default:
		return 0
	}
}

// ---------------------------------------------------------------------
// Grouped aggregation / Distinct
// ---------------------------------------------------------------------

// groupEntry retains the first-seen key values for one group_id, boxed
// rather than stored in typed column builders — a deliberate simplification
// since a group key snapshot is written once per group (not a per-row hot
// path), unlike Column's tagged-variant dispatch used everywhere else.
type groupEntry struct {
	keys []interface{}
}

// GroupedAggregateOperator implements §4.6.2: a hash-based group table
// mapping a row's key hash to a dense group_id, with one accState per
// (spec, group_id). Passing zero specs turns this into Distinct (§4.6.3):
// group keys alone, emitted in insertion (first-seen) order, since
// ascending group_id assignment already is insertion order.
type GroupedAggregateOperator struct {
	child    Operator
	keyExprs []Expr
	keyNames []string
	specs    []AggSpec
	cfg      *ExecutorConfig

	table     *HashTable
	groups    []groupEntry
	accs      [][]*accState // accs[specIdx][groupID]
	inDTypes  []DType
	keyDTypes []DType

	outSchema *Schema
	built     bool
	emitIdx   int
	stats     OperatorStats
}

func NewGroupedAggregateOperator(child Operator, keyExprs []Expr, keyNames []string, specs []AggSpec, cfg *ExecutorConfig) (*GroupedAggregateOperator, error) {
	if cfg == nil {
		cfg = GetExecutorConfig()
	}
	fields := make([]Field, 0, len(keyNames)+len(specs))
	for _, n := range keyNames {
		fields = append(fields, Field{Name: n, DType: String, Nullable: true}) // refined once the first group is seen
	}
	for _, s := range specs {
		fields = append(fields, Field{Name: s.OutputName, DType: outputDTypeHint(s), Nullable: true})
	}
	schema, err := NewSchema(fields)
	if err != nil {
		return nil, err
	}
	accs := make([][]*accState, len(specs))
	return &GroupedAggregateOperator{
		child: child, keyExprs: keyExprs, keyNames: keyNames, specs: specs, cfg: cfg,
		table: NewHashTable(1024), accs: accs,
		inDTypes: make([]DType, len(specs)), keyDTypes: make([]DType, len(keyNames)),
		outSchema: schema,
	}, nil
}

func (g *GroupedAggregateOperator) Schema() *Schema { return g.outSchema }

func (g *GroupedAggregateOperator) Next() (*Morsel, error) {
	if !g.built {
		for {
			m, err := g.child.Next()
			if err != nil {
				return nil, err
			}
			if m == nil {
				break
			}
			g.stats.MorselsIn++
			g.stats.RowsIn += int64(m.RowCount)
			if err := g.absorb(m); err != nil {
				return nil, err
			}
		}
		g.built = true
		g.refineKeySchema()
	}

	if g.emitIdx >= len(g.groups) {
		return nil, nil
	}
	batch := g.cfg.MorselSize
	end := g.emitIdx + batch
	if end > len(g.groups) {
		end = len(g.groups)
	}
	out, err := g.materialize(g.emitIdx, end)
	g.emitIdx = end
	if err != nil {
		return nil, err
	}
	g.stats.MorselsOut++
	g.stats.RowsOut += int64(out.RowCount)
	return out, nil
}

func (g *GroupedAggregateOperator) absorb(m *Morsel) error {
	keyCols := make([]*Column, len(g.keyExprs))
	for i, e := range g.keyExprs {
		c, err := e.Eval(m, g.cfg)
		if err != nil {
			return err
		}
		keyCols[i] = c
		g.keyDTypes[i] = c.DType
	}
	inputCols := make([]*Column, len(g.specs))
	maskCols := make([][]bool, len(g.specs))
	for i, s := range g.specs {
		if s.Input != nil {
			c, err := s.Input.Eval(m, g.cfg)
			if err != nil {
				return err
			}
			inputCols[i] = c
			g.inDTypes[i] = c.DType
		}
		if s.Filter != nil {
			fc, err := s.Filter.Eval(m, g.cfg)
			if err != nil {
				return err
			}
			mask := make([]bool, m.RowCount)
			for r := 0; r < m.RowCount; r++ {
				v, ok := fc.AtBool(r)
				mask[r] = ok && v
			}
			maskCols[i] = mask
		}
	}

	hashes := HashKeyColumns(keyCols)
	for r := 0; r < m.RowCount; r++ {
		gid := g.groupIDFor(keyCols, r, hashes[r])
		for i, s := range g.specs {
			if maskCols[i] != nil && !maskCols[i][r] {
				continue
			}
			if err := updateAcc(g.accs[i][gid], s, inputCols[i], r, g.cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// groupIDFor finds or creates the group_id for the key at row r, verifying
// true key equality against retained first-seen values for every
// hash-colliding candidate (a shared hash between two distinct key tuples
// must not merge their groups).
func (g *GroupedAggregateOperator) groupIDFor(keyCols []*Column, r int, hash uint64) int {
	if ids, ok := g.table.Get(hash); ok {
		for _, gid := range ids {
			if g.keyMatches(keyCols, r, int(gid)) {
				return int(gid)
			}
		}
	}
	gid := len(g.groups)
	keys := make([]interface{}, len(keyCols))
	for i, c := range keyCols {
		keys[i] = boxColumnValue(c, r)
	}
	g.groups = append(g.groups, groupEntry{keys: keys})
	for i := range g.specs {
		g.accs[i] = append(g.accs[i], newAccState(g.specs[i]))
	}
	g.table.Insert(hash, uint32(gid))
	return gid
}

func (g *GroupedAggregateOperator) keyMatches(keyCols []*Column, r int, gid int) bool {
	entry := g.groups[gid]
	for i, c := range keyCols {
		if !boxedEqual(boxColumnValue(c, r), entry.keys[i]) {
			return false
		}
	}
	return true
}

func boxColumnValue(c *Column, i int) interface{} {
	if !c.IsValid(i) {
		return nil
	}
	switch c.DType {
	case Float64:
		v, _ := c.AtF64(i)
		return v
	case Float32:
		v, _ := c.AtF32(i)
		return float64(v)
	case Int64, TimestampNanos, Decimal:
		v, _ := c.AtI64(i)
		return v
	case Int32, Date32:
		v, _ := c.AtI32(i)
		return int64(v)
	case Bool:
		v, _ := c.AtBool(i)
		return v
	case String, Categorical:
		v, _ := c.AtString(i)
		return v
	case Binary:
		v, _ := c.AtBinary(i)
		return string(v)
	default:
		return nil
	}
}

func boxedEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a == b
}

// refineKeySchema replaces the placeholder String dtype used for key
// columns before any group was seen with the dtype actually observed.
func (g *GroupedAggregateOperator) refineKeySchema() {
	fields := g.outSchema.Fields()
	for i := range g.keyNames {
		fields[i].DType = g.keyDTypes[i]
	}
	schema, err := NewSchema(fields)
	if err == nil {
		g.outSchema = schema
	}
}

func (g *GroupedAggregateOperator) materialize(start, end int) (*Morsel, error) {
	n := end - start
	cols := make([]*Column, 0, len(g.keyNames)+len(g.specs))
	for ki, name := range g.keyNames {
		cols = append(cols, buildKeyColumn(name, g.keyDTypes[ki], g.groups[start:end], ki))
	}
	for si, s := range g.specs {
		dtype := outputDTypeHint(s)
		vals := make([]interface{}, n)
		valids := make([]bool, n)
		for i := 0; i < n; i++ {
			v, valid, d := finalizeScalar(g.accs[si][start+i], s, g.inDTypes[si])
			vals[i], valids[i] = v, valid
			if i == 0 {
				dtype = d
			}
		}
		cols = append(cols, buildValueColumn(s.OutputName, dtype, vals, valids))
	}
	return NewMorsel(g.outSchema, cols, n)
}

func buildKeyColumn(name string, dtype DType, groups []groupEntry, keyIdx int) *Column {
	n := len(groups)
	valids := make([]bool, n)
	switch dtype {
	case Float64:
		vals := make([]float64, n)
		for i, e := range groups {
			if v, ok := e.keys[keyIdx].(float64); ok {
				vals[i], valids[i] = v, true
			}
		}
		return NewColumnF64WithNulls(name, vals, valids)
	case Int64, Int32, TimestampNanos, Decimal, Date32:
		vals := make([]int64, n)
		for i, e := range groups {
			if v, ok := e.keys[keyIdx].(int64); ok {
				vals[i], valids[i] = v, true
			}
		}
		return NewColumnI64WithNulls(name, vals, valids)
	case Bool:
		vals := make([]bool, n)
		for i, e := range groups {
			if v, ok := e.keys[keyIdx].(bool); ok {
				vals[i], valids[i] = v, true
			}
		}
		return NewColumnBoolWithNulls(name, vals, valids)
	default:
		vals := make([]string, n)
		for i, e := range groups {
			if v, ok := e.keys[keyIdx].(string); ok {
				vals[i], valids[i] = v, true
			}
		}
		return NewColumnStringWithNulls(name, vals, valids)
	}
}

func buildValueColumn(name string, dtype DType, vals []interface{}, valids []bool) *Column {
	n := len(vals)
	switch dtype {
	case Int64:
		data := make([]int64, n)
		for i, v := range vals {
			if valids[i] {
				data[i] = toInt64(v)
			}
		}
		return NewColumnI64WithNulls(name, data, valids)
	case Float64:
		data := make([]float64, n)
		for i, v := range vals {
			if valids[i] {
				data[i] = toFloat64(v)
			}
		}
		return NewColumnF64WithNulls(name, data, valids)
	case String:
		data := make([]string, n)
		for i, v := range vals {
			if valids[i] {
				data[i], _ = v.(string)
			}
		}
		return NewColumnStringWithNulls(name, data, valids)
	default:
		data := make([]float64, n)
		for i, v := range vals {
			if valids[i] {
				data[i] = toFloat64(v)
			}
		}
		return NewColumnF64WithNulls(name, data, valids)
	}
}

func (g *GroupedAggregateOperator) Statistics() OperatorStats { return g.stats }
func (g *GroupedAggregateOperator) Close() error               { return g.child.Close() }

// NewDistinctOperator builds Distinct (§4.6.3) as grouped aggregation with
// no aggregate specs: the output is exactly the group keys, one row per
// distinct input tuple, in first-seen order.
func NewDistinctOperator(child Operator, keyExprs []Expr, keyNames []string, cfg *ExecutorConfig) (*GroupedAggregateOperator, error) {
	return NewGroupedAggregateOperator(child, keyExprs, keyNames, nil, cfg)
}

// ---------------------------------------------------------------------
// HyperLogLog (approximate COUNT DISTINCT, §4.6.1)
// ---------------------------------------------------------------------

const hllPrecision = 14 // 2^14 = 16384 registers, ~0.8% standard error

type hyperLogLog struct {
	registers [1 << hllPrecision]uint8
}

func newHyperLogLog() *hyperLogLog { return &hyperLogLog{} }

func (h *hyperLogLog) Add(hash uint64) {
	idx := hash >> (64 - hllPrecision)
	rest := hash<<hllPrecision | (1 << (hllPrecision - 1)) // keep a guaranteed-set top bit so rank is bounded
	rank := uint8(leadingZeros64(rest) + 1)
	if rank > h.registers[idx] {
		h.registers[idx] = rank
	}
}

func leadingZeros64(x uint64) int {
	n := 0
	for i := 63; i >= 0; i-- {
		if x&(1<<uint(i)) != 0 {
			break
		}
		n++
	}
	return n
}

// Estimate returns the approximate distinct count, using the standard HLL
// harmonic-mean estimator with small-range linear-counting correction.
func (h *hyperLogLog) Estimate() float64 {
	m := float64(uint64(1) << hllPrecision)
	sum := 0.0
	zeros := 0
	for _, r := range h.registers {
		sum += 1.0 / float64(uint64(1)<<r)
		if r == 0 {
			zeros++
		}
	}
	alpha := 0.7213 / (1 + 1.079/m)
	estimate := alpha * m * m / sum
	if estimate <= 2.5*m && zeros > 0 {
		return m * logApprox(m/float64(zeros))
	}
	return estimate
}

// logApprox approximates natural log via a short series for linear-counting
// small-range correction; avoids pulling in math.Log for an estimator that
// is already only approximate.
func logApprox(x float64) float64 {
	// ln(x) = 2*atanh((x-1)/(x+1)), series in y=(x-1)/(x+1)
	y := (x - 1) / (x + 1)
	y2 := y * y
	term := y
	sum := 0.0
	for i := 0; i < 20; i++ {
		sum += term / float64(2*i+1)
		term *= y2
	}
	return 2 * sum
}
