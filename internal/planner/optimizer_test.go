package planner

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/QuantaFrame/internal/config"
	"github.com/dshills/QuantaFrame/internal/datatype"
	qerrors "github.com/dshills/QuantaFrame/internal/errors"
	"github.com/dshills/QuantaFrame/internal/expr"
	"github.com/dshills/QuantaFrame/internal/feature"
	"github.com/dshills/QuantaFrame/internal/log"
	"github.com/dshills/QuantaFrame/internal/source"
)

func TestFilterAndSelectFoldIntoScan(t *testing.T) {
	lf := ScanSource(intSource(t, "t", 10, "a", "b", "c"))
	ok := must[*LazyFrame](t)
	lf = ok(ok(lf.Filter(expr.Gt(expr.Col("a"), expr.Lit(5)))).Select(expr.Col("a"), expr.Col("b")))

	out := mustOptimize(t, lf.Plan())
	scan, isScan := out.(*Scan)
	require.True(t, isScan, ExplainPlan(out))
	assert.Equal(t, []string{"a", "b"}, scan.Projection)
	assert.Equal(t, `(col("a") > 5)`, scan.Predicate.String())
	assert.Nil(t, scan.Slice)
	assert.True(t, out.Schema().Equal(lf.Schema()))
}

func TestPredicateKeptWhenSourceRefuses(t *testing.T) {
	src := memSource(t, "t", []datatype.Column{col("a", datatype.Int64)}, [][]any{{1}, {7}},
		source.WithoutPredicatePushdown())
	lf, err := ScanSource(src).Filter(expr.Gt(expr.Col("a"), expr.Lit(5)))
	require.NoError(t, err)

	out := mustOptimize(t, lf.Plan())
	assert.Equal(t, "Filter (col(\"a\") > 5)\n  Scan(t)\n", ExplainPlan(out))
}

func joinInputs(t *testing.T) (*LazyFrame, *LazyFrame) {
	t.Helper()
	left := ScanSource(intSource(t, "l", 10, "id", "x"), WithFeatures(allFeatures()))
	right := ScanSource(intSource(t, "r", 5, "id", "y"), WithFeatures(allFeatures()))
	return left, right
}

func TestPredicatePushdownThroughJoins(t *testing.T) {
	left, right := joinInputs(t)
	pred := expr.And(expr.Gt(expr.Col("x"), expr.Lit(1)), expr.Lt(expr.Col("y"), expr.Lit(3)))

	scanPredicates := func(plan LogicalPlan) map[string]string {
		preds := map[string]string{}
		Walk(plan, func(p LogicalPlan) bool {
			if s, ok := p.(*Scan); ok && s.Predicate != nil {
				preds[s.Source.Name()] = s.Predicate.String()
			}
			return true
		})
		return preds
	}

	t.Run("inner pushes to both sides", func(t *testing.T) {
		j := must[*LazyFrame](t)(left.JoinUsing(right, InnerJoin, []string{"id"}))
		f := must[*LazyFrame](t)(j.Filter(pred))
		out := mustOptimize(t, f.Plan())
		_, isJoin := out.(*Join)
		assert.True(t, isJoin, ExplainPlan(out))
		assert.Equal(t, map[string]string{
			"l": `(col("x") > 1)`,
			"r": `(col("y") < 3)`,
		}, scanPredicates(out))
	})

	t.Run("left join keeps right predicate above", func(t *testing.T) {
		j := must[*LazyFrame](t)(left.JoinUsing(right, LeftJoin, []string{"id"}))
		f := must[*LazyFrame](t)(j.Filter(pred))
		out := mustOptimize(t, f.Plan())
		filter, isFilter := out.(*Filter)
		require.True(t, isFilter, ExplainPlan(out))
		assert.Equal(t, `(col("y") < 3)`, filter.Predicate.String())
		assert.Equal(t, map[string]string{"l": `(col("x") > 1)`}, scanPredicates(out))
	})

	t.Run("anti join keeps filter above", func(t *testing.T) {
		j := must[*LazyFrame](t)(left.JoinUsing(right, AntiJoin, []string{"id"}))
		f := must[*LazyFrame](t)(j.Filter(expr.Gt(expr.Col("x"), expr.Lit(1))))
		out := mustOptimize(t, f.Plan())
		filter, isFilter := out.(*Filter)
		require.True(t, isFilter, ExplainPlan(out))
		_, isJoin := filter.input().(*Join)
		assert.True(t, isJoin)
		assert.Empty(t, scanPredicates(out))
	})

	t.Run("full join copies null rejecting predicate once", func(t *testing.T) {
		j := must[*LazyFrame](t)(left.JoinUsing(right, FullJoin, []string{"id"}))
		f := must[*LazyFrame](t)(j.Filter(expr.Lt(expr.Col("y"), expr.Lit(3))))
		out := mustOptimize(t, f.Plan())
		filter, isFilter := out.(*Filter)
		require.True(t, isFilter, ExplainPlan(out))
		assert.Equal(t, `(col("y") < 3)`, filter.Predicate.String())
		assert.Equal(t, map[string]string{"r": `(col("y") < 3)`}, scanPredicates(out))

		again := mustOptimize(t, out)
		assert.Equal(t, Fingerprint(out), Fingerprint(again))
	})

	t.Run("full join keeps is null above only", func(t *testing.T) {
		j := must[*LazyFrame](t)(left.JoinUsing(right, FullJoin, []string{"id"}))
		f := must[*LazyFrame](t)(j.Filter(expr.IsNull(expr.Col("y"))))
		out := mustOptimize(t, f.Plan())
		assert.Empty(t, scanPredicates(out))
	})
}

func TestPredicateStopsAtSliceAndAggregates(t *testing.T) {
	lf := ScanSource(intSource(t, "t", 10, "a", "b"))
	ok := must[*LazyFrame](t)

	sliced := ok(ok(lf.Head(5)).Filter(expr.Gt(expr.Col("a"), expr.Lit(1))))
	out := mustOptimize(t, sliced.Plan())
	assert.Equal(t, "Filter (col(\"a\") > 1)\n  Scan(t) slice=(0, 5)\n", ExplainPlan(out))

	grouped := ok(lf.GroupBy(expr.Col("a")).Agg(expr.Sum(expr.Col("b"))))
	filtered := ok(grouped.Filter(expr.And(expr.Gt(expr.Col("a"), expr.Lit(2)), expr.Gt(expr.Col("b"), expr.Lit(100)))))
	out = mustOptimize(t, filtered.Plan())
	filter, isFilter := out.(*Filter)
	require.True(t, isFilter, ExplainPlan(out))
	assert.Equal(t, `(col("b") > 100)`, filter.Predicate.String())
	scan := filter.input().Children()[0].(*Scan)
	assert.Equal(t, `(col("a") > 2)`, scan.Predicate.String())
}

func TestProjectionPushdown(t *testing.T) {
	left, _ := joinInputs(t)
	right := ScanSource(intSource(t, "r", 5, "id", "y", "z"), WithFeatures(allFeatures()))
	ok := must[*LazyFrame](t)
	lf := ok(ok(left.JoinUsing(right, InnerJoin, []string{"id"})).Select(expr.Col("y")))

	pass := &ProjectionPushdown{}
	once, changed, err := pass.Apply(lf.Plan())
	require.NoError(t, err)
	assert.True(t, changed)

	var projections [][]string
	Walk(once, func(p LogicalPlan) bool {
		if s, ok := p.(*Scan); ok {
			projections = append(projections, s.Projection)
		}
		return true
	})
	assert.Equal(t, [][]string{{"id"}, {"id", "y"}}, projections)

	// A scan that needs every column it has keeps a nil projection.
	full, _, err := pass.Apply(ok(ok(left.JoinUsing(right, InnerJoin, []string{"id"})).Select(expr.Col("x"), expr.Col("z"))).Plan())
	require.NoError(t, err)
	projections = nil
	Walk(full, func(p LogicalPlan) bool {
		if s, ok := p.(*Scan); ok {
			projections = append(projections, s.Projection)
		}
		return true
	})
	assert.Equal(t, [][]string{nil, {"id", "z"}}, projections)

	twice, changed, err := pass.Apply(once)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, Fingerprint(once), Fingerprint(twice))
}

func TestProjectionPushdownKeepsCountedRows(t *testing.T) {
	lf := ScanSource(intSource(t, "t", 10, "a", "b"))
	out, err := lf.GroupBy().Agg(expr.Count())
	require.NoError(t, err)
	plan := mustOptimize(t, out.Plan())
	scan := plan.Children()[0].(*Scan)
	assert.Equal(t, []string{"a"}, scan.Projection)
}

func TestSlicePushdown(t *testing.T) {
	lf := ScanSource(intSource(t, "t", 10, "a", "b"))
	ok := must[*LazyFrame](t)

	tests := []struct {
		name string
		lf   *LazyFrame
		want string
	}{
		{"through select", ok(ok(lf.Select(expr.Col("a"))).Slice(2, 3)),
			"Scan(t) columns=[a] slice=(2, 3)\n"},
		{"nested slices combine", ok(ok(lf.Slice(2, 5)).Slice(1, 10)),
			"Scan(t) slice=(3, 4)\n"},
		{"zero length", ok(lf.Slice(4, 0)),
			"Scan(t) slice=(4, 0)\n"},
		{"sort is a barrier", ok(ok(lf.Sort(expr.Desc(expr.Col("a")))).Head(2)),
			"Slice offset=0 length=2\n  Sort [col(\"a\") desc]\n    Scan(t)\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExplainPlan(mustOptimize(t, tt.lf.Plan())))
		})
	}
}

func TestSlicePushdownIntoUnion(t *testing.T) {
	a := ScanSource(intSource(t, "a", 10, "v"))
	b := ScanSource(intSource(t, "b", 10, "v"))
	ok := must[*LazyFrame](t)
	lf := ok(ok(a.Concat(b)).Slice(3, 4))

	out := mustOptimize(t, lf.Plan())
	assert.Equal(t, "Slice offset=3 length=4\n  Union\n    Scan(a) slice=(0, 7)\n    Scan(b) slice=(0, 7)\n", ExplainPlan(out))
}

func TestSimplify(t *testing.T) {
	narrow := memSource(t, "n", []datatype.Column{col("a", datatype.Int32), col("b", datatype.Int64)}, nil)
	lf := ScanSource(narrow)
	ok := must[*LazyFrame](t)

	tests := []struct {
		name string
		lf   *LazyFrame
		want string
	}{
		{"constant folding", ok(lf.Filter(expr.Gt(expr.Add(expr.Col("b"), expr.Add(expr.Lit(1), expr.Lit(2))), expr.Lit(4)))),
			`Scan(n) predicate=((col("b") + 3) > 4)` + "\n"},
		{"explicit casts", ok(lf.Filter(expr.Gt(expr.Col("a"), expr.Col("b")))),
			`Scan(n) predicate=(col("a").cast(i64) > col("b"))` + "\n"},
		{"literal operand cast", ok(lf.Filter(expr.Eq(expr.Col("b"), expr.Lit(int32(2))))),
			`Scan(n) predicate=(col("b") == 2)` + "\n"},
		{"true conjunct", ok(lf.Filter(expr.And(expr.Lit(true), expr.Gt(expr.Col("b"), expr.Lit(0))))),
			`Scan(n) predicate=(col("b") > 0)` + "\n"},
		{"always true", ok(lf.Filter(expr.Or(expr.Lit(true), expr.Gt(expr.Col("b"), expr.Lit(0))))),
			"Scan(n)\n"},
		{"double negation", ok(lf.Filter(expr.Not(expr.Not(expr.Gt(expr.Col("b"), expr.Lit(0)))))),
			`Scan(n) predicate=(col("b") > 0)` + "\n"},
		{"cast to own type", ok(lf.Select(expr.CastTo(expr.Col("b"), datatype.Int64))),
			"Scan(n) columns=[b]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := mustOptimize(t, tt.lf.Plan())
			assert.Equal(t, tt.want, ExplainPlan(out))
			assert.True(t, out.Schema().Equal(tt.lf.Schema()))
		})
	}
}

func TestSimplifyKeepsNarrowingCast(t *testing.T) {
	lf := ScanSource(memSource(t, "n", []datatype.Column{col("b", datatype.Int64)}, nil))
	out, err := lf.Select(expr.CastTo(expr.Col("b"), datatype.Int32))
	require.NoError(t, err)
	plan := mustOptimize(t, out.Plan())
	assert.Equal(t, "Select [col(\"b\").cast(i32)]\n  Scan(n)\n", ExplainPlan(plan))
}

func TestCSE(t *testing.T) {
	lf := ScanSource(intSource(t, "t", 10, "a", "b"))
	sum := expr.Add(expr.Col("a"), expr.Col("b"))
	out, err := lf.Select(
		expr.As(expr.Mul(sum, expr.Lit(2)), "x"),
		expr.As(expr.Mul(expr.Add(expr.Col("a"), expr.Col("b")), expr.Lit(3)), "y"),
	)
	require.NoError(t, err)

	plan, changed, err := (&CSE{}).Apply(out.Plan())
	require.NoError(t, err)
	require.True(t, changed)
	assert.True(t, plan.Schema().Equal(out.Schema()))

	sel := plan.(*Select)
	stack, isStack := sel.input().(*HStack)
	require.True(t, isStack, ExplainPlan(plan))
	require.Len(t, stack.Exprs, 1)
	helper := expr.OutputName(stack.Exprs[0])
	assert.Equal(t, `(col("a") + col("b"))`, expr.Unalias(stack.Exprs[0]).String())
	assert.Equal(t, []string{helper}, expr.ColumnsOf(sel.Exprs))

	// A second run finds nothing left to share.
	_, changed, err = (&CSE{}).Apply(plan)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestCSESkipsNonDeterministic(t *testing.T) {
	lf := ScanSource(intSource(t, "t", 10, "a"))
	noisy := func() expr.Expr { return expr.Add(expr.Call("random"), expr.Col("a")) }
	out, err := lf.Select(
		expr.As(expr.Mul(noisy(), expr.Lit(2)), "x"),
		expr.As(expr.Mul(noisy(), expr.Lit(3)), "y"),
	)
	require.NoError(t, err)

	_, changed, err := (&CSE{}).Apply(out.Plan())
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestJoinStrategyPicksSmallerBuildSide(t *testing.T) {
	big := ScanSource(intSource(t, "big", 100, "id", "x"))
	small := ScanSource(intSource(t, "small", 3, "id", "y"))
	ok := must[*LazyFrame](t)

	inner := ok(small.JoinUsing(big, InnerJoin, []string{"id"}))
	out, _, err := (&JoinStrategy{}).Apply(inner.Plan())
	require.NoError(t, err)
	assert.Equal(t, LeftSide, out.(*Join).BuildSide)

	full := ok(small.JoinUsing(big, FullJoin, []string{"id"}))
	out, changed, err := (&JoinStrategy{}).Apply(full.Plan())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, RightSide, out.(*Join).BuildSide)
}

func TestJoinReorderGreedy(t *testing.T) {
	big := ScanSource(intSource(t, "big", 1000, "a", "x"))
	mid := ScanSource(intSource(t, "mid", 100, "b", "y"))
	small := ScanSource(intSource(t, "small", 10, "c", "z"))
	ok := must[*LazyFrame](t)
	lf := ok(ok(big.Join(mid, InnerJoin, expr.Cols("a"), expr.Cols("b"))).
		Join(small, InnerJoin, expr.Cols("a"), expr.Cols("c")))

	opt := optimizer(allFeatures(), WithPasses(&JoinReorder{}))
	out, err := opt.Optimize(lf.Plan())
	require.NoError(t, err)
	assert.Equal(t, `Select [col("c").alias("a"), col("x"), col("y"), col("z")]
  InnerJoin on [col("c")] = [col("a")] build=right
    InnerJoin on [col("c")] = [col("b")] build=right
      Scan(small)
      Scan(mid)
    Scan(big)
`, ExplainPlan(out))
	assert.True(t, out.Schema().Equal(lf.Schema()))

	again, changed, err := (&JoinReorder{}).Apply(out)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, Fingerprint(out), Fingerprint(again))
}

func TestJoinReorderSkipsOuterAndShortChains(t *testing.T) {
	a := ScanSource(intSource(t, "a", 1000, "a"))
	b := ScanSource(intSource(t, "b", 10, "b"))
	c := ScanSource(intSource(t, "c", 1, "c"))
	ok := must[*LazyFrame](t)

	two := ok(a.Join(b, InnerJoin, expr.Cols("a"), expr.Cols("b")))
	_, changed, err := (&JoinReorder{}).Apply(two.Plan())
	require.NoError(t, err)
	assert.False(t, changed)

	outer := ok(ok(a.Join(b, LeftJoin, expr.Cols("a"), expr.Cols("b"))).Join(c, InnerJoin, expr.Cols("a"), expr.Cols("c")))
	_, changed, err = (&JoinReorder{}).Apply(outer.Plan())
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestJoinReorderNeedsFeature(t *testing.T) {
	cfg := config.Default().Optimizer
	assert.NotContains(t, NewOptimizer(cfg, feature.NewSet()).Passes(), "join_reorder")
	assert.Contains(t, NewOptimizer(cfg, allFeatures()).Passes(), "join_reorder")

	cfg.CSE = false
	assert.NotContains(t, NewOptimizer(cfg, nil).Passes(), "cse")
}

func TestCommonSubplansAreCached(t *testing.T) {
	src := intSource(t, "t", 10, "a")
	ok := must[*LazyFrame](t)
	branch := func() *LazyFrame {
		return ok(ScanSource(src).Filter(expr.Gt(expr.Col("a"), expr.Lit(1))))
	}
	lf := ok(branch().Concat(branch()))

	out := mustOptimize(t, lf.Plan())
	assert.Equal(t, "Union\n  Cache\n    Scan(t) predicate=(col(\"a\") > 1)\n  Cache\n    Scan(t) predicate=(col(\"a\") > 1)\n", ExplainPlan(out))
	ids := map[uint64]bool{}
	for _, c := range out.Children() {
		ids[c.(*Cache).ID] = true
	}
	assert.Len(t, ids, 1)

	// Scans of different sources with the same name are not shared.
	other := intSource(t, "t", 10, "a")
	lf = ok(branch().Concat(ok(ScanSource(other).Filter(expr.Gt(expr.Col("a"), expr.Lit(1))))))
	out = mustOptimize(t, lf.Plan())
	_, cached := out.Children()[0].(*Cache)
	assert.False(t, cached)
}

// growPass adds a slice on every application, so the plan never settles.
type growPass struct{}

func (growPass) Name() string { return "grow" }

func (growPass) Apply(plan LogicalPlan) (LogicalPlan, bool, error) {
	out, err := NewSlice(plan, 0, 100)
	return out, true, err
}

// dropColumnPass changes the output schema.
type dropColumnPass struct{}

func (dropColumnPass) Name() string { return "drop_column" }

func (dropColumnPass) Apply(plan LogicalPlan) (LogicalPlan, bool, error) {
	out, err := NewSelect(plan, expr.Cols(plan.Schema().Names()[0]))
	return out, true, err
}

func TestOptimizerIterationBound(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewWriterLogger(&buf, "text", slog.LevelDebug)
	cfg := config.Default().Optimizer
	cfg.MaxIterations = 3
	opt := NewOptimizer(cfg, nil, WithLogger(logger), WithPasses(growPass{}))

	lf := ScanSource(intSource(t, "t", 10, "a"))
	out, err := opt.Optimize(lf.Plan())
	require.NoError(t, err)

	depth := 0
	Walk(out, func(p LogicalPlan) bool {
		if _, ok := p.(*Slice); ok {
			depth++
		}
		return true
	})
	assert.Equal(t, 3, depth)
	assert.Contains(t, buf.String(), "optimizer stopped at iteration bound")
	assert.Contains(t, buf.String(), "max_iterations=3")
}

func TestOptimizerRejectsSchemaChange(t *testing.T) {
	opt := optimizer(nil, WithPasses(dropColumnPass{}))
	lf := ScanSource(intSource(t, "t", 10, "a", "b"))
	_, err := opt.Optimize(lf.Plan())
	require.Error(t, err)
	assert.True(t, qerrors.IsKind(err, qerrors.KindOptimizerInvariant))
}

func TestOptimizationPreservesSchemaAndSettles(t *testing.T) {
	left, right := joinInputs(t)
	ok := must[*LazyFrame](t)
	plans := map[string]*LazyFrame{
		"join then group": ok(ok(ok(left.JoinUsing(right, InnerJoin, []string{"id"})).
			Filter(expr.Gt(expr.Col("y"), expr.Lit(0)))).
			GroupBy(expr.Col("x")).Agg(expr.Sum(expr.Col("y")), expr.As(expr.Count(), "n"))),
		"stacked columns": ok(ok(ok(left.WithColumns(expr.As(expr.Mul(expr.Col("x"), expr.Col("x")), "x2"))).
			Filter(expr.Gt(expr.Col("x2"), expr.Lit(4)))).Select(expr.Col("id"), expr.Col("x2"))),
		"semi join slice": ok(ok(ok(left.JoinUsing(right, SemiJoin, []string{"id"})).
			Sort(expr.Asc(expr.Col("x")))).Head(3)),
		"unique concat": ok(ok(left.Concat(left)).Unique([]string{"id"}, KeepLast)),
		"full join": ok(ok(left.JoinUsing(right, FullJoin, []string{"id"})).
			Filter(expr.And(expr.IsNotNull(expr.Col("x")), expr.Lt(expr.Col("y"), expr.Lit(4))))),
	}
	for name, lf := range plans {
		t.Run(name, func(t *testing.T) {
			out := mustOptimize(t, lf.Plan())
			assert.True(t, out.Schema().Equal(lf.Schema()), "%s != %s", out.Schema(), lf.Schema())
			resolved, err := Resolve(out)
			require.NoError(t, err)
			assert.True(t, resolved.Equal(lf.Schema()))

			again := mustOptimize(t, out)
			assert.Equal(t, ExplainPlan(out), ExplainPlan(again))
		})
	}
}
