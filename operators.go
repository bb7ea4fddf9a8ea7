package opteryx

// ---------------------------------------------------------------------
// Filter (§2 "Simple operators", §4.2 "Predicates reduce to a boolean
// column that the Filter operator converts into a selection vector by
// scanning only true, non-null positions")
// ---------------------------------------------------------------------

// FilterOperator evaluates Predicate against each input morsel and narrows
// it to a selection vector of rows where the predicate is true and not
// null — three-valued logic means a null predicate result excludes the
// row, same as false, but is tracked separately only inside the predicate
// column itself.
type FilterOperator struct {
	child     Operator
	predicate Expr
	cfg       *ExecutorConfig
	stats     OperatorStats
}

func NewFilterOperator(child Operator, predicate Expr, cfg *ExecutorConfig) *FilterOperator {
	if cfg == nil {
		cfg = GetExecutorConfig()
	}
	return &FilterOperator{child: child, predicate: predicate, cfg: cfg}
}

func (f *FilterOperator) Schema() *Schema { return f.child.Schema() }

// Next pulls input morsels until one yields at least one surviving row or
// the child is exhausted, so callers never see a spurious zero-row morsel
// sitting between real output — only the final (nil, nil) signals end of
// stream.
func (f *FilterOperator) Next() (*Morsel, error) {
	for {
		m, err := f.child.Next()
		if err != nil {
			return nil, err
		}
		if m == nil {
			return nil, nil
		}
		f.stats.MorselsIn++
		f.stats.RowsIn += int64(m.RowCount)

		predCol, err := f.predicate.Eval(m, f.cfg)
		if err != nil {
			return nil, err
		}
		sel := selectionFromPredicate(predCol, m)
		if len(sel) == 0 {
			continue
		}
		out := m.WithSelection(sel)
		f.stats.MorselsOut++
		f.stats.RowsOut += int64(out.RowCount)
		return out, nil
	}
}

// selectionFromPredicate scans predCol for true, non-null positions,
// composing with any selection vector already on m (predCol is evaluated
// over m's effective rows, so positions line up 1:1 with m's live rows —
// translate back to absolute row indices when m already carries one).
func selectionFromPredicate(predCol *Column, m *Morsel) []uint32 {
	n := m.effectiveLen()
	sel := make([]uint32, 0, n)
	for i := 0; i < n; i++ {
		v, ok := predCol.AtBool(i)
		if ok && v {
			sel = append(sel, absoluteRow(m, i))
		}
	}
	return sel
}

func absoluteRow(m *Morsel, i int) uint32 {
	if m.Selection == nil {
		return uint32(i)
	}
	return m.Selection[i]
}

func (f *FilterOperator) Statistics() OperatorStats { return f.stats }
func (f *FilterOperator) Close() error              { return f.child.Close() }

// ---------------------------------------------------------------------
// Projection (§2 "Simple operators")
// ---------------------------------------------------------------------

// ProjectionExpr names one output column of a ProjectionOperator.
type ProjectionExpr struct {
	Expr Expr
	Name string
}

// ProjectionOperator evaluates a fixed list of expressions against each
// input morsel, producing an output morsel with a new schema built from
// the expressions' names. Row count is always preserved — Projection never
// changes which rows flow, only which columns.
type ProjectionOperator struct {
	child     Operator
	exprs     []ProjectionExpr
	cfg       *ExecutorConfig
	outSchema *Schema
	stats     OperatorStats
}

func NewProjectionOperator(child Operator, exprs []ProjectionExpr, cfg *ExecutorConfig) (*ProjectionOperator, error) {
	if cfg == nil {
		cfg = GetExecutorConfig()
	}
	fields := make([]Field, len(exprs))
	childSchema := child.Schema()
	for i, pe := range exprs {
		dtype, nullable, decimal, err := inferProjectionFieldType(pe.Expr, childSchema)
		if err != nil {
			return nil, err
		}
		fields[i] = Field{Name: pe.Name, DType: dtype, Nullable: nullable, Decimal: decimal}
	}
	schema, err := NewSchema(fields)
	if err != nil {
		return nil, err
	}
	return &ProjectionOperator{child: child, exprs: exprs, cfg: cfg, outSchema: schema}, nil
}

// inferProjectionFieldType resolves a projected column's declared dtype by
// the cheapest means available: a direct ColumnRef inherits the source
// field verbatim (including its Decimal params), anything else falls back
// to evaluating against an empty morsel the way GroupedAggregateOperator's
// refineKeySchema defers to a runtime-observed dtype — except here there is
// no per-group refinement step, so an empty-morsel probe is the only
// chance to get it right before the first real row arrives.
func inferProjectionFieldType(e Expr, childSchema *Schema) (DType, bool, DecimalParams, error) {
	if ref, ok := e.(*ColumnRef); ok {
		idx := childSchema.IndexOf(ref.Name)
		if idx >= 0 {
			f := childSchema.Field(idx)
			return f.DType, f.Nullable, f.Decimal, nil
		}
	}
	empty := make([]*Column, childSchema.Len())
	for i, f := range childSchema.Fields() {
		empty[i] = emptyColumn(f)
	}
	probe, err := NewMorsel(childSchema, empty, 0)
	if err != nil {
		return 0, false, DecimalParams{}, err
	}
	col, err := e.Eval(probe, GetExecutorConfig())
	if err != nil {
		return 0, false, DecimalParams{}, err
	}
	return col.DType, true, col.decimalParams, nil
}

func (p *ProjectionOperator) Schema() *Schema { return p.outSchema }

func (p *ProjectionOperator) Next() (*Morsel, error) {
	m, err := p.child.Next()
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, nil
	}
	p.stats.MorselsIn++
	p.stats.RowsIn += int64(m.RowCount)

	cols := make([]*Column, len(p.exprs))
	for i, pe := range p.exprs {
		col, err := pe.Expr.Eval(m, p.cfg)
		if err != nil {
			return nil, err
		}
		col.Name = pe.Name
		cols[i] = col
	}
	out, err := NewMorsel(p.outSchema, cols, m.RowCount)
	if err != nil {
		return nil, err
	}
	p.stats.MorselsOut++
	p.stats.RowsOut += int64(out.RowCount)
	return out, nil
}

func (p *ProjectionOperator) Statistics() OperatorStats { return p.stats }
func (p *ProjectionOperator) Close() error              { return p.child.Close() }

// ---------------------------------------------------------------------
// Limit (§2 "Simple operators")
// ---------------------------------------------------------------------

// LimitOperator passes through at most Limit rows after skipping the first
// Offset. Once satisfied it cancels the shared cancel flag (if one was
// given) so an upstream subtree — a sort, a join build — stops doing work
// that can no longer affect the output.
type LimitOperator struct {
	child  Operator
	offset int64
	limit  int64
	cancel *cancelFlag

	skipped int64
	emitted int64
	done    bool
	stats   OperatorStats
}

func NewLimitOperator(child Operator, offset, limit int64, cancel *cancelFlag) *LimitOperator {
	return &LimitOperator{child: child, offset: offset, limit: limit, cancel: cancel}
}

func (l *LimitOperator) Schema() *Schema { return l.child.Schema() }

func (l *LimitOperator) Next() (*Morsel, error) {
	if l.done || l.limit == 0 {
		return nil, nil
	}
	for {
		m, err := l.child.Next()
		if err != nil {
			return nil, err
		}
		if m == nil {
			l.done = true
			return nil, nil
		}
		l.stats.MorselsIn++
		l.stats.RowsIn += int64(m.RowCount)

		mat := m.Materialize()
		start := int64(0)
		if l.skipped < l.offset {
			need := l.offset - l.skipped
			if need >= int64(mat.RowCount) {
				l.skipped += int64(mat.RowCount)
				continue
			}
			start = need
			l.skipped = l.offset
		}

		remaining := l.limit - l.emitted
		end := int64(mat.RowCount)
		if end-start > remaining {
			end = start + remaining
		}
		if start >= end {
			continue
		}

		idx := make([]uint32, end-start)
		for i := range idx {
			idx[i] = uint32(start) + uint32(i)
		}
		cols := make([]*Column, mat.Schema.Len())
		for c := range cols {
			cols[c] = mat.Column(c).Gather(idx)
		}
		out, err := NewMorsel(mat.Schema, cols, len(idx))
		if err != nil {
			return nil, err
		}
		l.emitted += int64(len(idx))
		l.stats.MorselsOut++
		l.stats.RowsOut += int64(out.RowCount)

		if l.emitted >= l.limit {
			l.done = true
			if l.cancel != nil {
				l.cancel.Cancel()
			}
		}
		return out, nil
	}
}

func (l *LimitOperator) Statistics() OperatorStats { return l.stats }
func (l *LimitOperator) Close() error              { return l.child.Close() }

// ---------------------------------------------------------------------
// Union (§2 "Simple operators")
// ---------------------------------------------------------------------

// UnionOperator concatenates its children's streams in order: every morsel
// of children[0] before any morsel of children[1], and so on — UNION ALL
// semantics. SQL UNION (duplicate elimination) is obtained by composing a
// UnionOperator with NewDistinctOperator the same way HAVING composes with
// a Filter above an aggregate (§4.6.2).
type UnionOperator struct {
	children  []Operator
	outSchema *Schema
	idx       int
	stats     OperatorStats
}

func NewUnionOperator(children []Operator) (*UnionOperator, error) {
	if len(children) == 0 {
		return nil, NewSchemaError("NewUnionOperator", "union requires at least one input")
	}
	schema := children[0].Schema()
	for _, c := range children[1:] {
		if !c.Schema().Equal(schema) {
			return nil, NewSchemaError("NewUnionOperator", "union inputs must share a schema")
		}
	}
	return &UnionOperator{children: children, outSchema: schema}, nil
}

func (u *UnionOperator) Schema() *Schema { return u.outSchema }

func (u *UnionOperator) Next() (*Morsel, error) {
	for u.idx < len(u.children) {
		m, err := u.children[u.idx].Next()
		if err != nil {
			return nil, err
		}
		if m == nil {
			u.idx++
			continue
		}
		u.stats.MorselsIn++
		u.stats.RowsIn += int64(m.RowCount)
		u.stats.MorselsOut++
		u.stats.RowsOut += int64(m.RowCount)
		return m, nil
	}
	return nil, nil
}

func (u *UnionOperator) Statistics() OperatorStats { return u.stats }

func (u *UnionOperator) Close() error {
	var first error
	for _, c := range u.children {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
