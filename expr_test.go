package opteryx

import "testing"

func testMorselXY(t *testing.T) *Morsel {
	t.Helper()
	schema, err := NewSchema([]Field{{Name: "x", DType: Int64}, {Name: "y", DType: Float64}})
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	m, err := NewMorsel(schema, []*Column{
		NewColumnI64("x", []int64{1, 2, 3}),
		NewColumnF64WithNulls("y", []float64{10, 0, 30}, []bool{true, false, true}),
	}, 3)
	if err != nil {
		t.Fatalf("NewMorsel: %v", err)
	}
	return m
}

func TestLiteralEvalBroadcastsValue(t *testing.T) {
	m := testMorselXY(t)
	lit := &Literal{DType: Int64, Value: int64(7)}
	col, err := lit.Eval(m, DefaultExecutorConfig())
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	for i := 0; i < 3; i++ {
		v, ok := col.AtI64(i)
		if !ok || v != 7 {
			t.Fatalf("row %d = %v, %v; want 7, true", i, v, ok)
		}
	}
}

func TestLiteralNullEvalProducesAllInvalid(t *testing.T) {
	m := testMorselXY(t)
	lit := &Literal{DType: Null, Value: nil}
	col, err := lit.Eval(m, DefaultExecutorConfig())
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if col.NullCount() != 3 {
		t.Fatalf("NullCount = %d, want 3", col.NullCount())
	}
}

func TestColumnRefResolvesByName(t *testing.T) {
	m := testMorselXY(t)
	ref := &ColumnRef{Name: "x"}
	col, err := ref.Eval(m, DefaultExecutorConfig())
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	v, ok := col.AtI64(1)
	if !ok || v != 2 {
		t.Fatalf("x[1] = %v, %v; want 2, true", v, ok)
	}
}

func TestColumnRefUnknownNameErrors(t *testing.T) {
	m := testMorselXY(t)
	ref := &ColumnRef{Name: "nope"}
	if _, err := ref.Eval(m, DefaultExecutorConfig()); err == nil {
		t.Fatal("expected an error for an unknown column name")
	}
}

func TestUnaryOpNegate(t *testing.T) {
	m := testMorselXY(t)
	u := &UnaryOp{Op: OpNeg, Operand: &ColumnRef{Name: "x"}}
	col, err := u.Eval(m, DefaultExecutorConfig())
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	v, ok := col.AtI64(0)
	if !ok || v != -1 {
		t.Fatalf("-x[0] = %v, %v; want -1, true", v, ok)
	}
}

func TestUnaryOpIsNullAndIsNotNull(t *testing.T) {
	m := testMorselXY(t)
	isNull := &UnaryOp{Op: OpIsNull, Operand: &ColumnRef{Name: "y"}}
	col, err := isNull.Eval(m, DefaultExecutorConfig())
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	v, ok := col.AtBool(1)
	if !ok || !v {
		t.Fatalf("IS NULL at the null row = %v, %v; want true, true", v, ok)
	}
	v, ok = col.AtBool(0)
	if !ok || v {
		t.Fatalf("IS NULL at a non-null row = %v, %v; want false, true", v, ok)
	}

	isNotNull := &UnaryOp{Op: OpIsNotNull, Operand: &ColumnRef{Name: "y"}}
	col2, err := isNotNull.Eval(m, DefaultExecutorConfig())
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	v, ok = col2.AtBool(1)
	if !ok || v {
		t.Fatalf("IS NOT NULL at the null row = %v, %v; want false, true", v, ok)
	}
}

func TestBinaryOpArithmeticAdd(t *testing.T) {
	m := testMorselXY(t)
	b := &BinaryOp{Op: OpAdd, Left: &ColumnRef{Name: "x"}, Right: &Literal{DType: Int64, Value: int64(100)}}
	col, err := b.Eval(m, DefaultExecutorConfig())
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	v, ok := col.AtI64(2)
	if !ok || v != 103 {
		t.Fatalf("x[2]+100 = %v, %v; want 103, true", v, ok)
	}
}

func TestBinaryOpComparisonEq(t *testing.T) {
	m := testMorselXY(t)
	b := &BinaryOp{Op: OpEq, Left: &ColumnRef{Name: "x"}, Right: &Literal{DType: Int64, Value: int64(2)}}
	col, err := b.Eval(m, DefaultExecutorConfig())
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if v, ok := col.AtBool(1); !ok || !v {
		t.Fatalf("x[1] = 2 comparison = %v, %v; want true, true", v, ok)
	}
	if v, ok := col.AtBool(0); !ok || v {
		t.Fatalf("x[0] = 2 comparison = %v, %v; want false, true", v, ok)
	}
}

func TestEvalAndThreeValuedLogicFalseDominatesNull(t *testing.T) {
	// FALSE AND NULL must be FALSE, not NULL, per SQL's three-valued truth table.
	left := NewColumnBool("", []bool{false})
	right := NewColumnBoolWithNulls("", []bool{false}, []bool{false})
	col, err := evalAnd(left, right)
	if err != nil {
		t.Fatalf("evalAnd: %v", err)
	}
	v, ok := col.AtBool(0)
	if !ok || v {
		t.Fatalf("FALSE AND NULL = %v, %v; want false, true", v, ok)
	}
}

func TestEvalOrThreeValuedLogicTrueDominatesNull(t *testing.T) {
	left := NewColumnBool("", []bool{true})
	right := NewColumnBoolWithNulls("", []bool{false}, []bool{false})
	col, err := evalOr(left, right)
	if err != nil {
		t.Fatalf("evalOr: %v", err)
	}
	v, ok := col.AtBool(0)
	if !ok || !v {
		t.Fatalf("TRUE OR NULL = %v, %v; want true, true", v, ok)
	}
}

func TestEvalOrBothNullIsNull(t *testing.T) {
	left := NewColumnBoolWithNulls("", []bool{false}, []bool{false})
	right := NewColumnBoolWithNulls("", []bool{false}, []bool{false})
	col, err := evalOr(left, right)
	if err != nil {
		t.Fatalf("evalOr: %v", err)
	}
	if col.IsValid(0) {
		t.Fatal("NULL OR NULL should be null")
	}
}

func TestFunctionCallCoalesceReturnsFirstNonNull(t *testing.T) {
	m := testMorselXY(t)
	f := &FunctionCall{Name: "coalesce", Args: []Expr{&ColumnRef{Name: "y"}, &Literal{DType: Float64, Value: float64(999)}}}
	col, err := f.Eval(m, DefaultExecutorConfig())
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	v, ok := col.AtF64(1)
	if !ok || v != 999 {
		t.Fatalf("coalesce at the null row = %v, %v; want 999, true", v, ok)
	}
	v, ok = col.AtF64(0)
	if !ok || v != 10 {
		t.Fatalf("coalesce at a non-null row = %v, %v; want 10, true", v, ok)
	}
}

func testMorselStrings(t *testing.T) *Morsel {
	t.Helper()
	schema, err := NewSchema([]Field{{Name: "s", DType: String}})
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	m, err := NewMorsel(schema, []*Column{
		NewColumnStringWithNulls("s", []string{"hello", "World", ""}, []bool{true, true, false}),
	}, 3)
	if err != nil {
		t.Fatalf("NewMorsel: %v", err)
	}
	return m
}

func TestBinaryOpLikeMatchesWildcards(t *testing.T) {
	m := testMorselStrings(t)
	b := &BinaryOp{Op: OpLike, Left: &ColumnRef{Name: "s"}, Right: &Literal{DType: String, Value: "he%o"}}
	col, err := b.Eval(m, DefaultExecutorConfig())
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if v, ok := col.AtBool(0); !ok || !v {
		t.Fatalf("'hello' LIKE 'he%%o' = %v, %v; want true, true", v, ok)
	}
	if v, ok := col.AtBool(1); !ok || v {
		t.Fatalf("'World' LIKE 'he%%o' = %v, %v; want false, true", v, ok)
	}
	if col.IsValid(2) {
		t.Fatal("LIKE against a NULL operand should be NULL")
	}
}

func TestBinaryOpLikeUnderscoreMatchesSingleChar(t *testing.T) {
	m := testMorselStrings(t)
	b := &BinaryOp{Op: OpLike, Left: &ColumnRef{Name: "s"}, Right: &Literal{DType: String, Value: "h_llo"}}
	col, err := b.Eval(m, DefaultExecutorConfig())
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if v, ok := col.AtBool(0); !ok || !v {
		t.Fatalf("'hello' LIKE 'h_llo' = %v, %v; want true, true", v, ok)
	}
}

func TestBinaryOpILikeIsCaseInsensitive(t *testing.T) {
	m := testMorselStrings(t)
	b := &BinaryOp{Op: OpILike, Left: &ColumnRef{Name: "s"}, Right: &Literal{DType: String, Value: "world"}}
	col, err := b.Eval(m, DefaultExecutorConfig())
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if v, ok := col.AtBool(1); !ok || !v {
		t.Fatalf("'World' ILIKE 'world' = %v, %v; want true, true", v, ok)
	}
}

func TestBinaryOpConcatJoinsStringsAndPropagatesNull(t *testing.T) {
	m := testMorselStrings(t)
	b := &BinaryOp{Op: OpConcat, Left: &ColumnRef{Name: "s"}, Right: &Literal{DType: String, Value: "!"}}
	col, err := b.Eval(m, DefaultExecutorConfig())
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if v, ok := col.AtString(0); !ok || v != "hello!" {
		t.Fatalf("concat[0] = %v, %v; want hello!, true", v, ok)
	}
	if col.IsValid(2) {
		t.Fatal("concat with a NULL operand should be NULL")
	}
}

func TestBinaryOpRegexMatchesPattern(t *testing.T) {
	m := testMorselStrings(t)
	b := &BinaryOp{Op: OpRegex, Left: &ColumnRef{Name: "s"}, Right: &Literal{DType: String, Value: "^[a-z]+$"}}
	col, err := b.Eval(m, DefaultExecutorConfig())
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if v, ok := col.AtBool(0); !ok || !v {
		t.Fatalf("'hello' REGEX '^[a-z]+$' = %v, %v; want true, true", v, ok)
	}
	if v, ok := col.AtBool(1); !ok || v {
		t.Fatalf("'World' REGEX '^[a-z]+$' = %v, %v; want false, true", v, ok)
	}
}

func TestBinaryOpRegexInvalidPatternRaisesValueErrorInStrictMode(t *testing.T) {
	m := testMorselStrings(t)
	b := &BinaryOp{Op: OpRegex, Left: &ColumnRef{Name: "s"}, Right: &Literal{DType: String, Value: "("}}
	cfg := DefaultExecutorConfig()
	cfg.Strict = true
	_, err := b.Eval(m, cfg)
	if err == nil {
		t.Fatal("expected a ValueError for an invalid regex pattern")
	}
	ve, ok := err.(*ValueError)
	if !ok || ve.Kind != ValueErrorRegexCompile {
		t.Fatalf("err = %v, want *ValueError{Kind: ValueErrorRegexCompile}", err)
	}
}

func TestBinaryOpRegexInvalidPatternNullsInLenientMode(t *testing.T) {
	m := testMorselStrings(t)
	b := &BinaryOp{Op: OpRegex, Left: &ColumnRef{Name: "s"}, Right: &Literal{DType: String, Value: "("}}
	col, err := b.Eval(m, DefaultExecutorConfig())
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if col.IsValid(0) {
		t.Fatal("an invalid regex pattern should null every row in lenient mode")
	}
}

func TestBinaryOpInMatchesListMembership(t *testing.T) {
	m := testMorselXY(t)
	list := NewListLiteral([]interface{}{int64(1), int64(3)}, Int64)
	b := &BinaryOp{Op: OpIn, Left: &ColumnRef{Name: "x"}, Right: list}
	col, err := b.Eval(m, DefaultExecutorConfig())
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if v, ok := col.AtBool(0); !ok || !v {
		t.Fatalf("x[0]=1 IN (1,3) = %v, %v; want true, true", v, ok)
	}
	if v, ok := col.AtBool(1); !ok || v {
		t.Fatalf("x[1]=2 IN (1,3) = %v, %v; want false, true", v, ok)
	}
	if v, ok := col.AtBool(2); !ok || !v {
		t.Fatalf("x[2]=3 IN (1,3) = %v, %v; want true, true", v, ok)
	}
}

func TestBinaryOpInWithNullElementYieldsNullOnNoMatch(t *testing.T) {
	m := testMorselXY(t)
	list := NewListLiteral([]interface{}{int64(99), nil}, Int64)
	b := &BinaryOp{Op: OpIn, Left: &ColumnRef{Name: "x"}, Right: list}
	col, err := b.Eval(m, DefaultExecutorConfig())
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if col.IsValid(0) {
		t.Fatal("x[0]=1 IN (99, NULL) with no match should be NULL, not FALSE")
	}
}

func TestCaseWhenFirstMatchWins(t *testing.T) {
	m := testMorselXY(t)
	c := &Case{
		Whens: []CaseWhen{
			{Cond: &BinaryOp{Op: OpEq, Left: &ColumnRef{Name: "x"}, Right: &Literal{DType: Int64, Value: int64(1)}}, Result: &Literal{DType: String, Value: "one"}},
			{Cond: &BinaryOp{Op: OpEq, Left: &ColumnRef{Name: "x"}, Right: &Literal{DType: Int64, Value: int64(2)}}, Result: &Literal{DType: String, Value: "two"}},
		},
		Else: &Literal{DType: String, Value: "other"},
	}
	col, err := c.Eval(m, DefaultExecutorConfig())
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	for i, want := range []string{"one", "two", "other"} {
		v, ok := col.AtString(i)
		if !ok || v != want {
			t.Fatalf("case[%d] = %v, %v; want %s, true", i, v, ok, want)
		}
	}
}
