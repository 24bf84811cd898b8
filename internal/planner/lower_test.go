package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/QuantaFrame/internal/config"
	qerrors "github.com/dshills/QuantaFrame/internal/errors"
	"github.com/dshills/QuantaFrame/internal/expr"
)

type fakeExecutor struct {
	name      string
	streaming bool
	missing   map[OperatorKind]bool
	noFuncs   bool
}

func (f *fakeExecutor) Name() string    { return f.name }
func (f *fakeExecutor) Streaming() bool { return f.streaming }

func (f *fakeExecutor) Supports(kind OperatorKind) bool { return !f.missing[kind] }

func (f *fakeExecutor) SupportsExpr(e expr.Expr) bool {
	if !f.noFuncs {
		return true
	}
	found := false
	expr.Walk(e, func(n expr.Expr) bool {
		if _, ok := n.(*expr.Function); ok {
			found = true
		}
		return !found
	})
	return !found
}

func TestLowerBindsExpressions(t *testing.T) {
	left := ScanSource(intSource(t, "l", 10, "id", "x"))
	right := ScanSource(intSource(t, "r", 5, "id", "y"))
	ok := must[*LazyFrame](t)
	lf := ok(ok(ok(left.JoinUsing(right, LeftJoin, []string{"id"})).
		Filter(expr.Gt(expr.Col("y"), expr.Lit(1)))).
		Select(expr.Col("y"), expr.Col("x")))

	mem := &fakeExecutor{name: "memory"}
	phys, ex, err := Lower(lf.Plan(), []Capability{mem}, config.Default().Executor)
	require.NoError(t, err)
	assert.Same(t, mem, ex)

	project := phys.(*PhysicalProject)
	assert.Equal(t, 2, project.Exprs[0].(*expr.Column).Index)
	assert.Equal(t, 1, project.Exprs[1].(*expr.Column).Index)

	join := project.Input().(*PhysicalFilter).Input().(*PhysicalHashJoin)
	assert.Equal(t, LeftJoin, join.Type)
	assert.Equal(t, RightSide, join.BuildSide)
	assert.Equal(t, []JoinOutput{{LeftSide, 0}, {LeftSide, 1}, {RightSide, 1}}, join.Columns)
	assert.Equal(t, 0, join.RightKeys[0].(*expr.Column).Index)
}

func TestLowerJoinOperators(t *testing.T) {
	features := allFeatures()
	left := ScanSource(intSource(t, "l", 10, "ts", "x"), WithFeatures(features))
	right := ScanSource(intSource(t, "r", 5, "ts", "y"), WithFeatures(features))
	ok := must[*LazyFrame](t)
	mem := []Capability{&fakeExecutor{name: "memory"}}

	tests := []struct {
		name string
		lf   *LazyFrame
		kind OperatorKind
	}{
		{"cross", ok(left.CrossJoin(right)), OperatorNestedLoopJoin},
		{"range", ok(left.JoinWhere(right, expr.Lt(expr.Col("x"), expr.Col("y")))), OperatorNestedLoopJoin},
		{"asof", ok(left.JoinAsof(right, "ts", "ts", AsofBackward)), OperatorAsofJoin},
		{"equi", ok(left.JoinUsing(right, SemiJoin, []string{"ts"})), OperatorHashJoin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			phys, _, err := Lower(tt.lf.Plan(), mem, config.Default().Executor)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, phys.Kind())
			assert.True(t, phys.Schema().Equal(tt.lf.Schema()))
		})
	}
}

func TestLowerExecutorSelection(t *testing.T) {
	small := ScanSource(intSource(t, "small", 10, "a"))
	ok := must[*LazyFrame](t)
	sorted := ok(small.Sort(expr.Asc(expr.Col("a"))))
	filtered := ok(small.Filter(expr.Gt(expr.Col("a"), expr.Lit(3))))

	streaming := &fakeExecutor{name: "streaming", streaming: true, missing: map[OperatorKind]bool{OperatorSort: true}}
	memory := &fakeExecutor{name: "memory"}
	cfg := config.Default().Executor

	t.Run("small inputs skip streaming", func(t *testing.T) {
		_, ex, err := Lower(filtered.Plan(), []Capability{streaming, memory}, cfg)
		require.NoError(t, err)
		assert.Equal(t, "memory", ex.Name())
	})

	t.Run("large inputs stream", func(t *testing.T) {
		cfg := cfg
		cfg.StreamingMinRows = 1
		_, ex, err := Lower(filtered.Plan(), []Capability{streaming, memory}, cfg)
		require.NoError(t, err)
		assert.Equal(t, "streaming", ex.Name())
	})

	t.Run("unsupported operator falls through", func(t *testing.T) {
		cfg := cfg
		cfg.StreamingMinRows = 1
		_, ex, err := Lower(sorted.Plan(), []Capability{streaming, memory}, cfg)
		require.NoError(t, err)
		assert.Equal(t, "memory", ex.Name())
	})

	t.Run("streaming is the only choice", func(t *testing.T) {
		_, ex, err := Lower(filtered.Plan(), []Capability{streaming}, cfg)
		require.NoError(t, err)
		assert.Equal(t, "streaming", ex.Name())
	})

	t.Run("nothing fits", func(t *testing.T) {
		_, _, err := Lower(sorted.Plan(), []Capability{streaming}, cfg)
		require.Error(t, err)
		assert.True(t, qerrors.IsKind(err, qerrors.KindUnsupportedPlan))
		assert.Contains(t, err.Error(), "sort")
	})
}

func TestLowerChecksExpressions(t *testing.T) {
	lf := ScanSource(intSource(t, "t", 10, "a"))
	out, err := lf.Select(expr.As(expr.Call("abs", expr.Col("a")), "b"))
	require.NoError(t, err)

	plain := &fakeExecutor{name: "plain", noFuncs: true}
	_, _, err = Lower(out.Plan(), []Capability{plain}, config.Default().Executor)
	require.Error(t, err)
	assert.True(t, qerrors.IsKind(err, qerrors.KindUnsupportedPlan))
	assert.Contains(t, err.Error(), "project expression")
}

func TestLowerScanRequest(t *testing.T) {
	lf := ScanSource(intSource(t, "t", 10, "a", "b"))
	ok := must[*LazyFrame](t)
	lf = ok(ok(ok(lf.Filter(expr.Gt(expr.Col("b"), expr.Lit(2)))).Select(expr.Col("a"))).Head(4))
	plan := mustOptimize(t, lf.Plan())

	cfg := config.Default().Executor
	cfg.BatchSize = 7
	phys, _, err := Lower(plan, []Capability{&fakeExecutor{name: "memory"}}, cfg)
	require.NoError(t, err)

	scan := phys.(*PhysicalScan)
	assert.Equal(t, []string{"a"}, scan.Request.Columns)
	assert.Equal(t, 7, scan.Request.BatchSize)
	assert.Equal(t, 1, scan.Request.Predicate.(*expr.Binary).Left.(*expr.Column).Index)
}
