package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/QuantaFrame/internal/batch"
	"github.com/dshills/QuantaFrame/internal/datatype"
	"github.com/dshills/QuantaFrame/internal/expr"
)

func salesBatch(t *testing.T) *batch.Batch {
	t.Helper()
	schema := datatype.MustSchema(
		datatype.Column{Name: "category", Type: datatype.String},
		datatype.Column{Name: "price", Type: datatype.Int64},
		datatype.Column{Name: "qty", Type: datatype.Int32},
		datatype.Column{Name: "rate", Type: datatype.Float64},
	)
	b, err := batch.FromRows(schema,
		[]any{"A", 10, 1, 0.5},
		[]any{"B", 5, 2, nil},
		[]any{"A", 20, 3, 1.5},
	)
	require.NoError(t, err)
	return b
}

func TestEvalArithmeticAndComparison(t *testing.T) {
	b := salesBatch(t)

	s, err := Eval(expr.Mul(expr.Col("price"), expr.Col("qty")), b)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(10), int64(10), int64(60)}, s.Data)
	assert.Equal(t, "price", s.Name)

	s, err = Eval(expr.Add(expr.Col("price"), expr.Col("rate")), b)
	require.NoError(t, err)
	assert.Equal(t, []any{10.5, nil, 21.5}, s.Data)

	s, err = Eval(expr.Div(expr.Col("price"), expr.Lit(4)), b)
	require.NoError(t, err)
	assert.Equal(t, []any{2.5, 1.25, 5.0}, s.Data)

	s, err = Eval(expr.Gt(expr.Col("price"), expr.Lit(5)), b)
	require.NoError(t, err)
	assert.Equal(t, []any{true, false, true}, s.Data)
}

func TestKleeneLogic(t *testing.T) {
	b := salesBatch(t)
	// rate > 1 is null on row 1
	pred := expr.Or(expr.Gt(expr.Col("rate"), expr.Lit(1)), expr.Eq(expr.Col("category"), expr.Lit("B")))
	s, err := Eval(pred, b)
	require.NoError(t, err)
	assert.Equal(t, []any{false, true, true}, s.Data)

	s, err = Eval(expr.And(expr.Gt(expr.Col("rate"), expr.Lit(1)), expr.Lit(false)), b)
	require.NoError(t, err)
	assert.Equal(t, []any{false, false, false}, s.Data)

	s, err = Eval(expr.And(expr.Gt(expr.Col("rate"), expr.Lit(1)), expr.Lit(true)), b)
	require.NoError(t, err)
	assert.Equal(t, []any{false, nil, true}, s.Data)
}

func TestFilter(t *testing.T) {
	b := salesBatch(t)
	out, err := Filter(expr.Gt(expr.Col("rate"), expr.Lit(0.0)), b)
	require.NoError(t, err)
	assert.Equal(t, 2, out.NumRows())
}

func TestCastAndFunctions(t *testing.T) {
	b := salesBatch(t)

	s, err := Eval(expr.CastTo(expr.Col("price"), datatype.String), b)
	require.NoError(t, err)
	assert.Equal(t, []any{"10", "5", "20"}, s.Data)

	s, err = Eval(expr.Call("coalesce", expr.Col("rate"), expr.Col("qty")), b)
	require.NoError(t, err)
	assert.Equal(t, []any{0.5, 2.0, 1.5}, s.Data)

	s, err = Eval(expr.Call("lower", expr.Col("category")), b)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "a"}, s.Data)

	s, err = Eval(expr.Call("if_else", expr.Gt(expr.Col("price"), expr.Lit(8)), expr.Col("price"), expr.Lit(0)), b)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(10), int64(0), int64(20)}, s.Data)

	s, err = Eval(expr.Call("cum_sum", expr.Col("price")), b)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(10), int64(15), int64(35)}, s.Data)

	s, err = Eval(expr.CallWith("shift", map[string]string{"n": "1"}, expr.Col("price")), b)
	require.NoError(t, err)
	assert.Equal(t, []any{nil, int64(10), int64(5)}, s.Data)
}

func TestGroupedAggregation(t *testing.T) {
	b := salesBatch(t)
	keys, err := EvalAll([]expr.Expr{expr.Col("category")}, b)
	require.NoError(t, err)
	groups := GroupRows(keys, b.NumRows())
	require.Equal(t, [][]int{{0, 2}, {1}}, groups)

	sum, err := EvalGrouped(expr.Sum(expr.Col("price")), b, groups)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(30), int64(5)}, sum.Data)

	count, err := EvalGrouped(expr.Count(), b, groups)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(2), int64(1)}, count.Data)

	avg, err := EvalGrouped(expr.As(expr.Div(expr.Sum(expr.Col("price")), expr.Count()), "avg"), b, groups)
	require.NoError(t, err)
	assert.Equal(t, "avg", avg.Name)
	assert.Equal(t, []any{15.0, 5.0}, avg.Data)

	mean, err := EvalGrouped(expr.Mean(expr.Col("rate")), b, groups)
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, nil}, mean.Data)
}

func TestWindowBroadcast(t *testing.T) {
	b := salesBatch(t)
	s, err := Eval(expr.Over(expr.Sum(expr.Col("price")), expr.Col("category")), b)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(30), int64(5), int64(30)}, s.Data)
}

func TestWindowOrderedCumulative(t *testing.T) {
	b := salesBatch(t)
	w := expr.Over(expr.Call("cum_sum", expr.Col("qty")), expr.Col("category")).OrderedBy(expr.Desc(expr.Col("price")))
	s, err := Eval(w, b)
	require.NoError(t, err)
	// category A ordered by price desc: row 2 (qty 3) then row 0 (qty 1)
	assert.Equal(t, []any{int64(4), int64(2), int64(3)}, s.Data)
}

func TestRollingMean(t *testing.T) {
	schema := datatype.MustSchema(datatype.Column{Name: "x", Type: datatype.Float64})
	b, err := batch.FromRows(schema, []any{1.0}, []any{2.0}, []any{3.0}, []any{4.0}, []any{5.0})
	require.NoError(t, err)

	s, err := Eval(expr.RollingMean(expr.Col("x"), 3), b)
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 1.5, 2.0, 3.0, 4.0}, s.Data)

	centered, err := Eval(expr.Over(expr.Sum(expr.Col("x"))).Rows(-1, 1), b)
	require.NoError(t, err)
	assert.Equal(t, []any{3.0, 6.0, 9.0, 12.0, 9.0}, centered.Data)
}

func TestSortIndicesNulls(t *testing.T) {
	vals := []any{int64(3), nil, int64(1), int64(2)}
	asc := SortIndices([]int{0, 1, 2, 3}, []SortKey{{Values: vals}})
	assert.Equal(t, []int{1, 2, 3, 0}, asc)

	descNullsLast := SortIndices([]int{0, 1, 2, 3}, []SortKey{{Values: vals, Descending: true, NullsLast: true}})
	assert.Equal(t, []int{0, 3, 2, 1}, descNullsLast)
}
