package opteryx

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Expr is a node in a scalar expression tree, evaluated column-at-a-time
// against a Morsel to produce one output Column. Kept as a small closed
// set of node kinds (Literal, ColumnRef, UnaryOp, BinaryOp, FunctionCall,
// Case) rather than the teacher's much larger exprKind enum (60+ node
// kinds spanning window functions, list/struct accessors, string
// builtins) — this core only needs the operators the filter/project/join
// paths evaluate; a planner above this layer would lower richer SQL
// expressions down to these nodes.
type Expr interface {
	String() string
	columns() []string
	// Eval evaluates the expression against m, honoring cfg's strict/lenient
	// numeric-error policy.
	Eval(m *Morsel, cfg *ExecutorConfig) (*Column, error)
}

// ---------------------------------------------------------------------------
// Literal
// ---------------------------------------------------------------------------

// Literal is a constant value broadcast to every row. When DType is List
// (the right-hand side of an IN predicate), Value holds []interface{} —
// already-boxed scalars of ListElemType — rather than a single scalar.
type Literal struct {
	DType        DType
	Value        interface{} // nil means SQL NULL
	ListElemType DType       // valid only when DType == List
}

// NewListLiteral builds the Literal an IN predicate's right-hand side
// evaluates to: values are boxed scalars (the same types boxColumnValue
// produces), broadcast as one identical list per row.
func NewListLiteral(values []interface{}, elemType DType) *Literal {
	return &Literal{DType: List, Value: values, ListElemType: elemType}
}

func (l *Literal) String() string {
	if l.Value == nil {
		return "NULL"
	}
	return fmt.Sprintf("%v", l.Value)
}

func (l *Literal) columns() []string { return nil }

func (l *Literal) Eval(m *Morsel, cfg *ExecutorConfig) (*Column, error) {
	n := m.RowCount
	if l.Value == nil {
		return NewColumnNull("", n), nil
	}
	switch l.DType {
	case Float64:
		v := l.Value.(float64)
		data := make([]float64, n)
		for i := range data {
			data[i] = v
		}
		return NewColumnF64("", data), nil
	case Int64:
		v := l.Value.(int64)
		data := make([]int64, n)
		for i := range data {
			data[i] = v
		}
		return NewColumnI64("", data), nil
	case Bool:
		v := l.Value.(bool)
		data := make([]bool, n)
		for i := range data {
			data[i] = v
		}
		return NewColumnBool("", data), nil
	case String:
		v := l.Value.(string)
		data := make([]string, n)
		for i := range data {
			data[i] = v
		}
		return NewColumnString("", data), nil
	case List:
		values := l.Value.([]interface{})
		child, err := boxedValuesToColumn(l.ListElemType, values)
		if err != nil {
			return nil, err
		}
		offsets := make([]int32, n+1)
		for i := range offsets {
			offsets[i] = int32(i * len(values))
		}
		replicated := child
		switch {
		case n == 0:
			replicated = child.Slice(0, 0)
		case n != 1:
			replicated = replicateColumn(child, n)
		}
		return NewColumnList("", offsets, replicated, l.ListElemType), nil
	default:
		return nil, NewTypeError("literal", l.DType, Null)
	}
}

// boxedValuesToColumn builds a single column from already-boxed scalars,
// one per IN-list element, nil meaning SQL NULL at that element.
func boxedValuesToColumn(elemType DType, values []interface{}) (*Column, error) {
	n := len(values)
	validFlags := make([]bool, n)
	for i, v := range values {
		validFlags[i] = v != nil
	}
	switch elemType {
	case Float64:
		data := make([]float64, n)
		for i, v := range values {
			if v != nil {
				data[i] = v.(float64)
			}
		}
		return NewColumnF64WithNulls("", data, validFlags), nil
	case Int64:
		data := make([]int64, n)
		for i, v := range values {
			if v != nil {
				data[i] = v.(int64)
			}
		}
		return NewColumnI64WithNulls("", data, validFlags), nil
	case Bool:
		data := make([]bool, n)
		for i, v := range values {
			if v != nil {
				data[i] = v.(bool)
			}
		}
		return NewColumnBoolWithNulls("", data, validFlags), nil
	case String:
		data := make([]string, n)
		for i, v := range values {
			if v != nil {
				data[i] = v.(string)
			}
		}
		return NewColumnStringWithNulls("", data, validFlags), nil
	default:
		return nil, NewTypeError("IN list literal", elemType, Null)
	}
}

// replicateColumn concatenates count copies of col, used to broadcast an
// IN list's element column across every row's identical list range.
func replicateColumn(col *Column, count int) *Column {
	parts := make([]*Column, count)
	for i := range parts {
		parts[i] = col
	}
	return concatColumns(parts)
}

// ---------------------------------------------------------------------------
// ColumnRef
// ---------------------------------------------------------------------------

// ColumnRef resolves a column by name from the input Morsel.
type ColumnRef struct {
	Name string
}

func (c *ColumnRef) String() string   { return c.Name }
func (c *ColumnRef) columns() []string { return []string{c.Name} }

func (c *ColumnRef) Eval(m *Morsel, cfg *ExecutorConfig) (*Column, error) {
	return m.ColumnByName(c.Name)
}

// ---------------------------------------------------------------------------
// UnaryOp
// ---------------------------------------------------------------------------

type UnaryOperator int

const (
	OpNeg UnaryOperator = iota
	OpNot
	OpIsNull
	OpIsNotNull
)

type UnaryOp struct {
	Op      UnaryOperator
	Operand Expr
}

func (u *UnaryOp) String() string {
	names := map[UnaryOperator]string{OpNeg: "-", OpNot: "NOT", OpIsNull: "IS NULL", OpIsNotNull: "IS NOT NULL"}
	return fmt.Sprintf("%s(%s)", names[u.Op], u.Operand.String())
}

func (u *UnaryOp) columns() []string { return u.Operand.columns() }

func (u *UnaryOp) Eval(m *Morsel, cfg *ExecutorConfig) (*Column, error) {
	operand, err := u.Operand.Eval(m, cfg)
	if err != nil {
		return nil, err
	}

	switch u.Op {
	case OpIsNull:
		data := make([]bool, operand.Length)
		for i := range data {
			data[i] = !operand.IsValid(i)
		}
		return NewColumnBool("", data), nil
	case OpIsNotNull:
		data := make([]bool, operand.Length)
		for i := range data {
			data[i] = operand.IsValid(i)
		}
		return NewColumnBool("", data), nil
	case OpNot:
		if operand.DType != Bool {
			return nil, NewTypeError("NOT", operand.DType, Null)
		}
		data := make([]bool, operand.Length)
		validFlags := make([]bool, operand.Length)
		for i := range data {
			v, ok := operand.AtBool(i)
			validFlags[i] = ok
			if ok {
				data[i] = !v
			}
		}
		return NewColumnBoolWithNulls("", data, validFlags), nil
	case OpNeg:
		return negateColumn(operand)
	default:
		return nil, NewSchemaError("UnaryOp.Eval", "unknown unary operator")
	}
}

func negateColumn(col *Column) (*Column, error) {
	switch col.DType {
	case Float64:
		data := make([]float64, col.Length)
		flags := make([]bool, col.Length)
		for i := range data {
			v, ok := col.AtF64(i)
			flags[i] = ok
			if ok {
				data[i] = -v
			}
		}
		return NewColumnF64WithNulls("", data, flags), nil
	case Int64:
		data := make([]int64, col.Length)
		flags := make([]bool, col.Length)
		for i := range data {
			v, ok := col.AtI64(i)
			flags[i] = ok
			if ok {
				data[i] = -v
			}
		}
		return NewColumnI64WithNulls("", data, flags), nil
	default:
		return nil, NewTypeError("negate", col.DType, Null)
	}
}

// ---------------------------------------------------------------------------
// BinaryOp
// ---------------------------------------------------------------------------

type BinaryOperator int

const (
	OpAdd BinaryOperator = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
	OpLike
	OpILike
	OpIn
	OpRegex
	OpConcat
)

type BinaryOp struct {
	Op    BinaryOperator
	Left  Expr
	Right Expr
}

var binaryOpNames = map[BinaryOperator]string{
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpMod: "%",
	OpEq: "=", OpNe: "!=", OpLt: "<", OpLe: "<=", OpGt: ">", OpGe: ">=",
	OpAnd: "AND", OpOr: "OR",
	OpLike: "LIKE", OpILike: "ILIKE", OpIn: "IN", OpRegex: "REGEX", OpConcat: "||",
}

func (b *BinaryOp) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left.String(), binaryOpNames[b.Op], b.Right.String())
}

func (b *BinaryOp) columns() []string {
	return append(b.Left.columns(), b.Right.columns()...)
}

func (b *BinaryOp) Eval(m *Morsel, cfg *ExecutorConfig) (*Column, error) {
	// Both sides are evaluated in full, over every row, before the per-row
	// combine below applies SQL's three-valued truth table for AND/OR
	// (rather than Go's bool &&/||). The right side is not skipped for rows
	// the left side alone settles, so an error it raises (e.g. a strict-mode
	// division by zero) fails the evaluation even on those rows.
	left, err := b.Left.Eval(m, cfg)
	if err != nil {
		return nil, err
	}
	right, err := b.Right.Eval(m, cfg)
	if err != nil {
		return nil, err
	}

	switch b.Op {
	case OpAnd:
		return evalAnd(left, right)
	case OpOr:
		return evalOr(left, right)
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return evalComparison(b.Op, left, right)
	case OpAdd, OpSub, OpMul, OpDiv, OpMod:
		return evalArithmetic(b.Op, left, right, cfg)
	case OpLike:
		return evalLike(left, right, false)
	case OpILike:
		return evalLike(left, right, true)
	case OpIn:
		return evalIn(left, right)
	case OpRegex:
		return evalRegex(left, right, cfg)
	case OpConcat:
		return evalConcat(left, right)
	default:
		return nil, NewSchemaError("BinaryOp.Eval", "unknown binary operator")
	}
}

// evalAnd implements SQL three-valued AND: FALSE dominates (FALSE AND
// anything is FALSE, even FALSE AND NULL), otherwise NULL dominates,
// otherwise TRUE.
func evalAnd(left, right *Column) (*Column, error) {
	if left.DType != Bool || right.DType != Bool {
		return nil, NewTypeError("AND", left.DType, right.DType)
	}
	n := left.Length
	data := make([]bool, n)
	flags := make([]bool, n)
	for i := 0; i < n; i++ {
		lv, lok := left.AtBool(i)
		rv, rok := right.AtBool(i)
		switch {
		case lok && !lv, rok && !rv:
			data[i], flags[i] = false, true
		case lok && rok:
			data[i], flags[i] = lv && rv, true
		default:
			flags[i] = false
		}
	}
	return NewColumnBoolWithNulls("", data, flags), nil
}

// evalOr implements SQL three-valued OR: TRUE dominates, otherwise NULL
// dominates, otherwise FALSE.
func evalOr(left, right *Column) (*Column, error) {
	if left.DType != Bool || right.DType != Bool {
		return nil, NewTypeError("OR", left.DType, right.DType)
	}
	n := left.Length
	data := make([]bool, n)
	flags := make([]bool, n)
	for i := 0; i < n; i++ {
		lv, lok := left.AtBool(i)
		rv, rok := right.AtBool(i)
		switch {
		case lok && lv, rok && rv:
			data[i], flags[i] = true, true
		case lok && rok:
			data[i], flags[i] = lv || rv, true
		default:
			flags[i] = false
		}
	}
	return NewColumnBoolWithNulls("", data, flags), nil
}

func asFloat64(col *Column, i int) (float64, bool, error) {
	switch col.DType {
	case Float64:
		v, ok := col.AtF64(i)
		return v, ok, nil
	case Float32:
		v, ok := col.AtF32(i)
		return float64(v), ok, nil
	case Int64:
		v, ok := col.AtI64(i)
		return float64(v), ok, nil
	case Int32:
		v, ok := col.AtI32(i)
		return float64(v), ok, nil
	default:
		return 0, false, NewTypeError("numeric comparison", col.DType, Null)
	}
}

// evalComparison produces a Bool column; NaN never compares equal or
// ordered to anything, including itself, matching IEEE-754 rather than
// SQL's usual NULL-propagation rules (a non-null NaN is still a known
// value, just one with no ordering).
func evalComparison(op BinaryOperator, left, right *Column) (*Column, error) {
	n := left.Length
	data := make([]bool, n)
	flags := make([]bool, n)

	if left.DType == String && right.DType == String {
		for i := 0; i < n; i++ {
			lv, lok := left.AtString(i)
			rv, rok := right.AtString(i)
			if !lok || !rok {
				continue
			}
			data[i] = compareOrdered(op, strings.Compare(lv, rv))
			flags[i] = true
		}
		return NewColumnBoolWithNulls("", data, flags), nil
	}

	for i := 0; i < n; i++ {
		lv, lok, err := asFloat64(left, i)
		if err != nil {
			return nil, err
		}
		rv, rok, err := asFloat64(right, i)
		if err != nil {
			return nil, err
		}
		if !lok || !rok {
			continue
		}
		if math.IsNaN(lv) || math.IsNaN(rv) {
			data[i] = op == OpNe
			flags[i] = true
			continue
		}
		cmp := 0
		switch {
		case lv < rv:
			cmp = -1
		case lv > rv:
			cmp = 1
		}
		data[i] = compareOrdered(op, cmp)
		flags[i] = true
	}
	return NewColumnBoolWithNulls("", data, flags), nil
}

func compareOrdered(op BinaryOperator, cmp int) bool {
	switch op {
	case OpEq:
		return cmp == 0
	case OpNe:
		return cmp != 0
	case OpLt:
		return cmp < 0
	case OpLe:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGe:
		return cmp >= 0
	default:
		return false
	}
}

// evalArithmetic evaluates +,-,*,/,% element-wise. Integer results are
// checked for overflow; division and modulo check for a zero divisor.
// Both failure modes raise a *ValueError in strict mode (cfg.Strict) or
// produce a null at that row in lenient mode.
func evalArithmetic(op BinaryOperator, left, right *Column, cfg *ExecutorConfig) (*Column, error) {
	if !left.DType.IsNumeric() || !right.DType.IsNumeric() {
		return nil, NewTypeError(binaryOpNames[op], left.DType, right.DType)
	}

	useFloat := left.DType.IsFloat() || right.DType.IsFloat() || op == OpDiv
	n := left.Length

	if useFloat {
		data := make([]float64, n)
		flags := make([]bool, n)
		for i := 0; i < n; i++ {
			lv, lok, _ := asFloat64(left, i)
			rv, rok, _ := asFloat64(right, i)
			if !lok || !rok {
				continue
			}
			switch op {
			case OpAdd:
				data[i] = lv + rv
			case OpSub:
				data[i] = lv - rv
			case OpMul:
				data[i] = lv * rv
			case OpDiv:
				if rv == 0 {
					if cfg != nil && cfg.Strict {
						return nil, NewValueError(ValueErrorDivisionByZero, i, "")
					}
					continue
				}
				data[i] = lv / rv
			case OpMod:
				if rv == 0 {
					if cfg != nil && cfg.Strict {
						return nil, NewValueError(ValueErrorDivisionByZero, i, "")
					}
					continue
				}
				data[i] = math.Mod(lv, rv)
			}
			flags[i] = true
		}
		return NewColumnF64WithNulls("", data, flags), nil
	}

	// Both operands integer: checked arithmetic, overflow is a ValueError.
	data := make([]int64, n)
	flags := make([]bool, n)
	for i := 0; i < n; i++ {
		var lv, rv int64
		var lok, rok bool
		if left.DType == Int32 {
			v, ok := left.AtI32(i)
			lv, lok = int64(v), ok
		} else {
			lv, lok = left.AtI64(i)
		}
		if right.DType == Int32 {
			v, ok := right.AtI32(i)
			rv, rok = int64(v), ok
		} else {
			rv, rok = right.AtI64(i)
		}
		if !lok || !rok {
			continue
		}
		var result int64
		var overflow bool
		switch op {
		case OpAdd:
			result = lv + rv
			overflow = (rv > 0 && lv > math.MaxInt64-rv) || (rv < 0 && lv < math.MinInt64-rv)
		case OpSub:
			result = lv - rv
			overflow = (rv < 0 && lv > math.MaxInt64+rv) || (rv > 0 && lv < math.MinInt64+rv)
		case OpMul:
			result = lv * rv
			overflow = (lv != 0 && result/lv != rv) || (lv == -1 && rv == math.MinInt64)
		case OpMod:
			if rv == 0 {
				if cfg != nil && cfg.Strict {
					return nil, NewValueError(ValueErrorDivisionByZero, i, "")
				}
				continue
			}
			result = lv % rv
		}
		if overflow {
			if cfg != nil && cfg.Strict {
				return nil, NewValueError(ValueErrorOverflow, i, fmt.Sprintf("%d %s %d", lv, binaryOpNames[op], rv))
			}
			continue
		}
		data[i] = result
		flags[i] = true
	}
	return NewColumnI64WithNulls("", data, flags), nil
}

// evalConcat joins two string columns row-wise; NULL in either operand
// propagates to NULL, matching the rest of this evaluator's null handling
// rather than treating NULL as empty string.
func evalConcat(left, right *Column) (*Column, error) {
	if left.DType != String || right.DType != String {
		return nil, NewTypeError("CONCAT", left.DType, right.DType)
	}
	n := left.Length
	data := make([]string, n)
	flags := make([]bool, n)
	for i := 0; i < n; i++ {
		lv, lok := left.AtString(i)
		rv, rok := right.AtString(i)
		if !lok || !rok {
			continue
		}
		data[i] = lv + rv
		flags[i] = true
	}
	return NewColumnStringWithNulls("", data, flags), nil
}

// evalLike implements SQL LIKE/ILIKE: '%' matches any run of characters
// (including none), '_' matches exactly one character, everything else
// matches literally. ilike lower-cases both sides first.
func evalLike(left, right *Column, ilike bool) (*Column, error) {
	if left.DType != String || right.DType != String {
		return nil, NewTypeError("LIKE", left.DType, right.DType)
	}
	n := left.Length
	data := make([]bool, n)
	flags := make([]bool, n)
	for i := 0; i < n; i++ {
		lv, lok := left.AtString(i)
		rv, rok := right.AtString(i)
		if !lok || !rok {
			continue
		}
		if ilike {
			lv, rv = strings.ToLower(lv), strings.ToLower(rv)
		}
		data[i] = likeMatch(lv, rv)
		flags[i] = true
	}
	return NewColumnBoolWithNulls("", data, flags), nil
}

// likeMatch is the classic greedy wildcard matcher: '%' records a
// backtrack point and consumes as much of s as needed, '_' consumes
// exactly one rune. Backtracking makes it correct for patterns with more
// than one '%', not just a single trailing wildcard.
func likeMatch(s, pattern string) bool {
	sr, pr := []rune(s), []rune(pattern)
	si, pi := 0, 0
	starIdx, starMatch := -1, 0
	for si < len(sr) {
		switch {
		case pi < len(pr) && (pr[pi] == '_' || pr[pi] == sr[si]):
			si++
			pi++
		case pi < len(pr) && pr[pi] == '%':
			starIdx = pi
			starMatch = si
			pi++
		case starIdx != -1:
			pi = starIdx + 1
			starMatch++
			si = starMatch
		default:
			return false
		}
	}
	for pi < len(pr) && pr[pi] == '%' {
		pi++
	}
	return pi == len(pr)
}

// evalRegex implements REGEX: right is a pattern string, recompiled only
// when it changes row-to-row (it's almost always a literal, so broadcast
// to every row). A compile failure raises ValueErrorRegexCompile in strict
// mode or nulls that row in lenient mode.
func evalRegex(left, right *Column, cfg *ExecutorConfig) (*Column, error) {
	if left.DType != String || right.DType != String {
		return nil, NewTypeError("REGEX", left.DType, right.DType)
	}
	n := left.Length
	data := make([]bool, n)
	flags := make([]bool, n)
	var compiled *regexp.Regexp
	var compiledPattern string
	havePattern := false
	for i := 0; i < n; i++ {
		lv, lok := left.AtString(i)
		rv, rok := right.AtString(i)
		if !lok || !rok {
			continue
		}
		if !havePattern || rv != compiledPattern {
			re, err := regexp.Compile(rv)
			if err != nil {
				if cfg != nil && cfg.Strict {
					return nil, NewValueError(ValueErrorRegexCompile, i, err.Error())
				}
				compiled = nil
				compiledPattern = rv
				havePattern = true
				continue
			}
			compiled = re
			compiledPattern = rv
			havePattern = true
		}
		if compiled == nil {
			continue
		}
		data[i] = compiled.MatchString(lv)
		flags[i] = true
	}
	return NewColumnBoolWithNulls("", data, flags), nil
}

// evalIn implements SQL IN against a list literal: a match anywhere in the
// row's list yields TRUE; no match but a NULL element present yields NULL
// (per SQL's three-valued IN semantics); no match and no NULL yields
// FALSE; a NULL left operand always yields NULL.
func evalIn(left, right *Column) (*Column, error) {
	if right.DType != List {
		return nil, NewTypeError("IN", right.DType, List)
	}
	n := left.Length
	data := make([]bool, n)
	flags := make([]bool, n)
	for i := 0; i < n; i++ {
		if !left.IsValid(i) {
			continue
		}
		lv := boxColumnValue(left, i)
		lo, hi := right.listOffsets[i], right.listOffsets[i+1]
		found, sawNull := false, false
		for j := lo; j < hi; j++ {
			if !right.listChild.IsValid(int(j)) {
				sawNull = true
				continue
			}
			if boxedEqual(lv, boxColumnValue(right.listChild, int(j))) {
				found = true
				break
			}
		}
		switch {
		case found:
			data[i], flags[i] = true, true
		case sawNull:
			flags[i] = false
		default:
			data[i], flags[i] = false, true
		}
	}
	return NewColumnBoolWithNulls("", data, flags), nil
}

// ---------------------------------------------------------------------------
// FunctionCall
// ---------------------------------------------------------------------------

// FunctionCall evaluates a named scalar function over its arguments. The
// supported set is deliberately small: COALESCE and the string builtins a
// filter/projection path commonly needs.
type FunctionCall struct {
	Name string
	Args []Expr
}

func (f *FunctionCall) String() string {
	parts := make([]string, len(f.Args))
	for i, a := range f.Args {
		parts[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", f.Name, strings.Join(parts, ", "))
}

func (f *FunctionCall) columns() []string {
	var cols []string
	for _, a := range f.Args {
		cols = append(cols, a.columns()...)
	}
	return cols
}

func (f *FunctionCall) Eval(m *Morsel, cfg *ExecutorConfig) (*Column, error) {
	args := make([]*Column, len(f.Args))
	for i, a := range f.Args {
		col, err := a.Eval(m, cfg)
		if err != nil {
			return nil, err
		}
		args[i] = col
	}

	switch strings.ToUpper(f.Name) {
	case "COALESCE":
		return evalCoalesce(args)
	case "UPPER":
		return evalStringMap(args, strings.ToUpper)
	case "LOWER":
		return evalStringMap(args, strings.ToLower)
	case "LENGTH", "LEN":
		return evalStringLen(args)
	case "TRIM":
		return evalStringMap(args, strings.TrimSpace)
	default:
		return nil, NewSchemaError("FunctionCall.Eval", fmt.Sprintf("unknown function: %s", f.Name))
	}
}

// evalCoalesce returns, per row, the first argument that is valid (not
// NULL) in argument order, or NULL if every argument is NULL at that row.
// All arguments must share a dtype.
func evalCoalesce(args []*Column) (*Column, error) {
	if len(args) == 0 {
		return nil, NewSchemaError("COALESCE", "requires at least one argument")
	}
	n := args[0].Length
	dtype := args[0].DType
	selected := make([]int, n)
	for row := 0; row < n; row++ {
		selected[row] = -1
		for argIdx, col := range args {
			if col.IsValid(row) {
				selected[row] = argIdx
				break
			}
		}
	}
	return buildCaseResult(dtype, n, selected, args, nil)
}

func evalStringMap(args []*Column, fn func(string) string) (*Column, error) {
	if len(args) != 1 || args[0].DType != String {
		return nil, NewTypeError("string function", String, Null)
	}
	col := args[0]
	data := make([]string, col.Length)
	flags := make([]bool, col.Length)
	for i := range data {
		v, ok := col.AtString(i)
		flags[i] = ok
		if ok {
			data[i] = fn(v)
		}
	}
	return NewColumnStringWithNulls("", data, flags), nil
}

func evalStringLen(args []*Column) (*Column, error) {
	if len(args) != 1 || args[0].DType != String {
		return nil, NewTypeError("LENGTH", String, Null)
	}
	col := args[0]
	data := make([]int64, col.Length)
	flags := make([]bool, col.Length)
	for i := range data {
		v, ok := col.AtString(i)
		flags[i] = ok
		if ok {
			data[i] = int64(len([]rune(v)))
		}
	}
	return NewColumnI64WithNulls("", data, flags), nil
}

// ---------------------------------------------------------------------------
// Case
// ---------------------------------------------------------------------------

// CaseWhen pairs a boolean condition with the expression to evaluate when
// it holds.
type CaseWhen struct {
	Cond   Expr
	Result Expr
}

// Case evaluates its Whens in order, taking the first one whose condition
// is TRUE (not just truthy — a NULL condition does not match, matching SQL
// CASE semantics), falling back to Else, or NULL if Else is nil.
type Case struct {
	Whens []CaseWhen
	Else  Expr
}

func (c *Case) String() string {
	var b strings.Builder
	b.WriteString("CASE")
	for _, w := range c.Whens {
		fmt.Fprintf(&b, " WHEN %s THEN %s", w.Cond.String(), w.Result.String())
	}
	if c.Else != nil {
		fmt.Fprintf(&b, " ELSE %s", c.Else.String())
	}
	b.WriteString(" END")
	return b.String()
}

func (c *Case) columns() []string {
	var cols []string
	for _, w := range c.Whens {
		cols = append(cols, w.Cond.columns()...)
		cols = append(cols, w.Result.columns()...)
	}
	if c.Else != nil {
		cols = append(cols, c.Else.columns()...)
	}
	return cols
}

// Eval evaluates every branch's condition and result over all rows up
// front, then per row selects the first TRUE branch's value; values of the
// branches not taken are not copied into the final column. Branches are
// not skipped for rows an earlier WHEN already matched, so a strict-mode
// error raised by any branch fails the whole evaluation.
func (c *Case) Eval(m *Morsel, cfg *ExecutorConfig) (*Column, error) {
	n := m.RowCount
	conds := make([]*Column, len(c.Whens))
	results := make([]*Column, len(c.Whens))
	for i, w := range c.Whens {
		cond, err := w.Cond.Eval(m, cfg)
		if err != nil {
			return nil, err
		}
		if cond.DType != Bool {
			return nil, NewTypeError("CASE WHEN", cond.DType, Bool)
		}
		conds[i] = cond
		res, err := w.Result.Eval(m, cfg)
		if err != nil {
			return nil, err
		}
		results[i] = res
	}

	var elseCol *Column
	if c.Else != nil {
		col, err := c.Else.Eval(m, cfg)
		if err != nil {
			return nil, err
		}
		elseCol = col
	}

	resultType := String
	if len(results) > 0 {
		resultType = results[0].DType
	} else if elseCol != nil {
		resultType = elseCol.DType
	}

	selected := make([]int, n) // -1 = no branch matched, else index into results
	for row := 0; row < n; row++ {
		selected[row] = -1
		for branch, cond := range conds {
			if v, ok := cond.AtBool(row); ok && v {
				selected[row] = branch
				break
			}
		}
	}

	return buildCaseResult(resultType, n, selected, results, elseCol)
}

func buildCaseResult(dtype DType, n int, selected []int, results []*Column, elseCol *Column) (*Column, error) {
	switch dtype {
	case Float64:
		data := make([]float64, n)
		flags := make([]bool, n)
		for row, branch := range selected {
			src := elseCol
			if branch >= 0 {
				src = results[branch]
			}
			if src != nil {
				if v, ok := src.AtF64(row); ok {
					data[row], flags[row] = v, true
				}
			}
		}
		return NewColumnF64WithNulls("", data, flags), nil
	case Int64:
		data := make([]int64, n)
		flags := make([]bool, n)
		for row, branch := range selected {
			src := elseCol
			if branch >= 0 {
				src = results[branch]
			}
			if src != nil {
				if v, ok := src.AtI64(row); ok {
					data[row], flags[row] = v, true
				}
			}
		}
		return NewColumnI64WithNulls("", data, flags), nil
	case Bool:
		data := make([]bool, n)
		flags := make([]bool, n)
		for row, branch := range selected {
			src := elseCol
			if branch >= 0 {
				src = results[branch]
			}
			if src != nil {
				if v, ok := src.AtBool(row); ok {
					data[row], flags[row] = v, true
				}
			}
		}
		return NewColumnBoolWithNulls("", data, flags), nil
	case String:
		data := make([]string, n)
		flags := make([]bool, n)
		for row, branch := range selected {
			src := elseCol
			if branch >= 0 {
				src = results[branch]
			}
			if src != nil {
				if v, ok := src.AtString(row); ok {
					data[row], flags[row] = v, true
				}
			}
		}
		return NewColumnStringWithNulls("", data, flags), nil
	default:
		return nil, NewTypeError("CASE", dtype, Null)
	}
}
