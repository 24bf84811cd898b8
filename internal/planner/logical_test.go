package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/QuantaFrame/internal/datatype"
	qerrors "github.com/dshills/QuantaFrame/internal/errors"
	"github.com/dshills/QuantaFrame/internal/expr"
	"github.com/dshills/QuantaFrame/internal/feature"
)

func salesFrame(t *testing.T, opts ...FrameOption) *LazyFrame {
	t.Helper()
	src := memSource(t, "sales", []datatype.Column{
		col("category", datatype.String),
		col("price", datatype.Int64),
		col("qty", datatype.Int32),
	}, [][]any{{"A", 10, 1}, {"B", 5, 2}, {"A", 20, 3}})
	return ScanSource(src, opts...)
}

func TestBuilderResolvesSchemas(t *testing.T) {
	lf := salesFrame(t)
	ok := must[*LazyFrame](t)

	out := ok(lf.WithColumns(expr.As(expr.Mul(expr.Col("price"), expr.Col("qty")), "total")))
	assert.Equal(t, "{category: str, price: i64, qty: i32, total: i64}", out.Schema().String())

	out = ok(out.Select(expr.Col("total"), expr.Col("category")))
	assert.Equal(t, []string{"total", "category"}, out.Schema().Names())

	grouped := ok(lf.GroupBy(expr.Col("category")).Agg(expr.Sum(expr.Col("price")), expr.As(expr.Count(), "n")))
	assert.Equal(t, []string{"category", "price", "n"}, grouped.Schema().Names())

	// Filter, Sort and Slice keep the input schema.
	for _, f := range []*LazyFrame{
		ok(lf.Filter(expr.Gt(expr.Col("price"), expr.Lit(5)))),
		ok(lf.Sort(expr.Desc(expr.Col("price")))),
		ok(lf.Head(2)),
	} {
		assert.True(t, f.Schema().Equal(lf.Schema()))
	}
}

func TestBuilderSelectorsExpand(t *testing.T) {
	lf := salesFrame(t)
	out, err := lf.Select(expr.All("qty"))
	require.NoError(t, err)
	assert.Equal(t, []string{"category", "price"}, out.Schema().Names())

	out, err = lf.Select(expr.ByType(datatype.Int64, datatype.Int32))
	require.NoError(t, err)
	assert.Equal(t, []string{"price", "qty"}, out.Schema().Names())

	out, err = lf.Select(expr.ByPrefix("pr"), expr.Col("category"))
	require.NoError(t, err)
	assert.Equal(t, []string{"price", "category"}, out.Schema().Names())

	_, err = lf.Select(expr.All("missing"))
	assert.True(t, qerrors.IsKind(err, qerrors.KindSchema))
}

func TestBuilderValidatesEagerly(t *testing.T) {
	lf := salesFrame(t)
	other := ScanSource(intSource(t, "ids", 3, "id"))

	tests := []struct {
		name  string
		build func() error
		kind  qerrors.Kind
	}{
		{"unknown column", func() error {
			_, err := lf.Filter(expr.Gt(expr.Col("nope"), expr.Lit(1)))
			return err
		}, qerrors.KindSchema},
		{"non boolean predicate", func() error {
			_, err := lf.Filter(expr.Add(expr.Col("price"), expr.Lit(1)))
			return err
		}, qerrors.KindType},
		{"incompatible operands", func() error {
			_, err := lf.Select(expr.Add(expr.Col("category"), expr.Col("price")))
			return err
		}, qerrors.KindType},
		{"duplicate output", func() error {
			_, err := lf.Select(expr.Col("price"), expr.Col("price"))
			return err
		}, qerrors.KindSchema},
		{"aggregate outside group by", func() error {
			_, err := lf.Select(expr.Col("price"), expr.Sum(expr.Col("qty")))
			return err
		}, qerrors.KindValidation},
		{"plain column in aggregation", func() error {
			_, err := lf.GroupBy(expr.Col("category")).Agg(expr.Col("price"))
			return err
		}, qerrors.KindValidation},
		{"negative slice", func() error {
			_, err := lf.Slice(-1, 2)
			return err
		}, qerrors.KindValidation},
		{"join key count", func() error {
			_, err := lf.Join(other, InnerJoin, expr.Cols("price", "qty"), expr.Cols("id"))
			return err
		}, qerrors.KindValidation},
		{"join key types", func() error {
			_, err := lf.Join(other, InnerJoin, expr.Cols("category"), expr.Cols("id"))
			return err
		}, qerrors.KindType},
		{"union schemas", func() error {
			_, err := lf.Concat(other)
			return err
		}, qerrors.KindSchema},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.build()
			require.Error(t, err)
			assert.Equal(t, tt.kind, qerrors.KindOf(err), err.Error())
		})
	}
}

func TestFeatureGatedOperators(t *testing.T) {
	disabled := feature.NewSet()
	disabled.Disable(feature.AsofJoin)
	disabled.Disable(feature.DynamicGroupBy)
	disabled.Disable(feature.InequalityJoin)
	disabled.Disable(feature.CrossJoin)

	lf := ScanSource(intSource(t, "l", 5, "t", "v"), WithFeatures(disabled))
	right := ScanSource(intSource(t, "r", 5, "t2", "w"), WithFeatures(disabled))

	_, err := lf.JoinAsof(right, "t", "t2", AsofBackward)
	require.Error(t, err)
	assert.True(t, qerrors.IsKind(err, qerrors.KindUnsupportedOperator))
	assert.Contains(t, err.Error(), "asof_join")

	_, err = lf.CrossJoin(right)
	assert.True(t, qerrors.IsKind(err, qerrors.KindUnsupportedOperator))

	_, err = lf.JoinWhere(right, expr.Lt(expr.Col("t"), expr.Col("t2")))
	assert.True(t, qerrors.IsKind(err, qerrors.KindUnsupportedOperator))

	_, err = lf.GroupByDynamic(DynamicWindow{Index: "t", Every: 2, Period: 2}).Agg(expr.Sum(expr.Col("v")))
	assert.True(t, qerrors.IsKind(err, qerrors.KindUnsupportedOperator))

	// The optimizer checks plans that were built with the flags enabled.
	enabled := ScanSource(intSource(t, "l", 5, "t", "v"), WithFeatures(allFeatures()))
	asof, err := enabled.JoinAsof(ScanSource(intSource(t, "r", 5, "t2", "w")), "t", "t2", AsofNearest)
	require.NoError(t, err)
	_, err = optimizer(disabled).Optimize(asof.Plan())
	assert.True(t, qerrors.IsKind(err, qerrors.KindUnsupportedOperator))
}

func TestJoinSchemas(t *testing.T) {
	left := ScanSource(memSource(t, "l", []datatype.Column{
		col("id", datatype.Int64), col("name", datatype.String),
	}, nil), WithFeatures(allFeatures()))
	right := ScanSource(memSource(t, "r", []datatype.Column{
		col("id", datatype.Int32), col("name", datatype.String), col("score", datatype.Float64),
	}, nil), WithFeatures(allFeatures()))
	ok := must[*LazyFrame](t)

	tests := []struct {
		name string
		lf   *LazyFrame
		want string
	}{
		{"inner drops right key", ok(left.JoinUsing(right, InnerJoin, []string{"id"})),
			"{id: i64, name: str, name_right: str, score: f64}"},
		{"full keeps right key", ok(left.JoinUsing(right, FullJoin, []string{"id"})),
			"{id: i64, name: str, id_right: i32, name_right: str, score: f64}"},
		{"semi keeps left", ok(left.JoinUsing(right, SemiJoin, []string{"id"})),
			"{id: i64, name: str}"},
		{"custom suffix", ok(left.JoinUsing(right, LeftJoin, []string{"id"}, WithSuffix("_r"))),
			"{id: i64, name: str, name_r: str, score: f64}"},
		{"cross", ok(left.CrossJoin(right)),
			"{id: i64, name: str, id_right: i32, name_right: str, score: f64}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.lf.Schema().String())
		})
	}

	_, err := left.JoinWhere(right, expr.Lt(expr.Col("id"), expr.Col("id_right")))
	assert.NoError(t, err)
	_, err = left.JoinAsof(right, "name", "name", AsofBackward)
	assert.True(t, qerrors.IsKind(err, qerrors.KindValidation))
}

func TestDynamicGroupBySchema(t *testing.T) {
	lf := ScanSource(intSource(t, "ticks", 10, "ts", "v"), WithFeatures(allFeatures()))
	out, err := lf.GroupByDynamic(DynamicWindow{Index: "ts", Every: 3, Period: 3}).Agg(expr.Sum(expr.Col("v")))
	require.NoError(t, err)
	assert.Equal(t, "{ts: i64, v: i64}", out.Schema().String())

	_, err = lf.GroupByDynamic(DynamicWindow{Index: "ts", Every: 0, Period: 3}).Agg(expr.Sum(expr.Col("v")))
	assert.True(t, qerrors.IsKind(err, qerrors.KindValidation))
}

func TestResolveMatchesDeclaredSchema(t *testing.T) {
	lf := salesFrame(t)
	ok := must[*LazyFrame](t)
	plan := ok(ok(ok(lf.Filter(expr.Gt(expr.Col("price"), expr.Lit(1)))).
		WithColumns(expr.As(expr.Lit(1.5), "w"))).Unique([]string{"category"}, KeepFirst)).Plan()
	schema, err := Resolve(plan)
	require.NoError(t, err)
	assert.True(t, schema.Equal(plan.Schema()))
}
