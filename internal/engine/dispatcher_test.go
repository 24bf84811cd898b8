package engine

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/QuantaFrame/internal/batch"
	"github.com/dshills/QuantaFrame/internal/config"
	"github.com/dshills/QuantaFrame/internal/engine/memexec"
	"github.com/dshills/QuantaFrame/internal/engine/streamexec"
	qerrors "github.com/dshills/QuantaFrame/internal/errors"
	"github.com/dshills/QuantaFrame/internal/expr"
	"github.com/dshills/QuantaFrame/internal/log"
	"github.com/dshills/QuantaFrame/internal/planner"
	"github.com/dshills/QuantaFrame/internal/testutil"
)

func sales(t *testing.T) *planner.LazyFrame {
	return planner.ScanSource(testutil.Sales(t))
}

func testConfig(streamingMinRows int64) *config.Config {
	cfg := config.Default()
	cfg.Executor.StreamingMinRows = streamingMinRows
	cfg.Executor.BatchSize = 2
	return cfg
}

func newDispatcher(t *testing.T, cfg *config.Config, opts ...Option) *Dispatcher {
	t.Helper()
	opts = append([]Option{WithLogger(log.Discard())}, opts...)
	d, err := NewDispatcher(cfg, []Executor{
		memexec.New(memexec.WithBatchSize(cfg.Executor.BatchSize), memexec.WithLogger(log.Discard())),
		streamexec.New(streamexec.WithLogger(log.Discard())),
	}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestCollectGroupBy(t *testing.T) {
	d := newDispatcher(t, testConfig(1))
	lf, err := sales(t).GroupBy(expr.Col("category")).Agg(
		expr.Sum(expr.Col("amount")),
		expr.As(expr.Count(), "n"),
	)
	require.NoError(t, err)

	out, err := d.Collect(context.Background(), lf)
	require.NoError(t, err)
	assert.Equal(t, [][]any{
		{"A", int64(30), int64(2)},
		{"B", int64(5), int64(1)},
	}, out.Rows())
	assert.Empty(t, d.InFlight())
}

func TestExecutorSelection(t *testing.T) {
	lf, err := sales(t).Select(expr.Col("amount"))
	require.NoError(t, err)

	tests := []struct {
		name     string
		minRows  int64
		executor string
	}{
		{"large input streams", 1, streamexec.Name},
		{"small input stays in memory", 1000, memexec.Name},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDispatcher(t, testConfig(tt.minRows))
			q, err := d.Run(context.Background(), lf)
			require.NoError(t, err)
			assert.Equal(t, tt.executor, q.Executor)

			out, err := batch.Collect(context.Background(), q)
			require.NoError(t, err)
			assert.Equal(t, []any{int64(10), int64(5), int64(20)}, out.Columns[0].Data)
		})
	}
}

func TestPreferenceOrder(t *testing.T) {
	cfg := testConfig(1)
	cfg.Executor.Preference = []string{memexec.Name}
	d := newDispatcher(t, cfg)

	caps := d.Capabilities()
	require.Len(t, caps, 2)
	assert.Equal(t, memexec.Name, caps[0].Name())
	assert.Equal(t, streamexec.Name, caps[1].Name())

	explain, err := d.Explain(sales(t))
	require.NoError(t, err)
	assert.Equal(t, "executor: memory\nScan(sales)\n", explain)
}

func TestUnknownPreference(t *testing.T) {
	cfg := testConfig(1)
	cfg.Executor.Preference = []string{"gpu"}
	_, err := NewDispatcher(cfg, []Executor{memexec.New()})
	assert.ErrorIs(t, err, ErrUnknownExecutor)
}

func TestUnsupportedPlan(t *testing.T) {
	cfg := testConfig(1)
	cfg.Executor.Preference = []string{streamexec.Name}
	d, err := NewDispatcher(cfg, []Executor{streamexec.New()}, WithLogger(log.Discard()))
	require.NoError(t, err)
	lf, err := sales(t).Sort(expr.Asc(expr.Col("amount")))
	require.NoError(t, err)

	_, err = d.Run(context.Background(), lf)
	require.Error(t, err)
	assert.True(t, qerrors.IsKind(err, qerrors.KindUnsupportedPlan), err.Error())
	assert.Empty(t, d.InFlight())
}

func TestInFlightQueries(t *testing.T) {
	d := newDispatcher(t, testConfig(1000))
	ctx := context.Background()

	first, err := d.Run(ctx, sales(t))
	require.NoError(t, err)
	second, err := d.Run(ctx, sales(t))
	require.NoError(t, err)
	require.Len(t, d.InFlight(), 2)

	b, err := first.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, b.NumRows())
	info := first.Info()
	assert.Equal(t, int64(1), info.Batches)
	assert.Equal(t, int64(2), info.Rows)

	_, err = batch.Collect(ctx, first)
	require.NoError(t, err)
	inflight := d.InFlight()
	require.Len(t, inflight, 1)
	assert.Equal(t, second.ID, inflight[0].ID)

	require.NoError(t, second.Close())
	assert.Empty(t, d.InFlight())
	require.NoError(t, second.Close())
}

func TestDispatcherClose(t *testing.T) {
	d := newDispatcher(t, testConfig(1000))
	ctx := context.Background()

	q, err := d.Run(ctx, sales(t))
	require.NoError(t, err)
	require.Len(t, d.InFlight(), 1)

	require.NoError(t, d.Close())
	assert.Empty(t, d.InFlight())

	t.Run("RunAfterClose", func(t *testing.T) {
		_, err := d.Run(ctx, sales(t))
		assert.ErrorIs(t, err, ErrDispatcherClosed)
	})

	t.Run("QueryAfterClose", func(t *testing.T) {
		assert.NoError(t, q.Close())
	})

	t.Run("MultipleClose", func(t *testing.T) {
		assert.NoError(t, d.Close())
	})
}

func TestRunWithCancelledContext(t *testing.T) {
	d := newDispatcher(t, testConfig(1000))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Run(ctx, sales(t))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, d.InFlight())
}

func TestQueryLifecycleIsLogged(t *testing.T) {
	var buf bytes.Buffer
	d := newDispatcher(t, testConfig(1000), WithLogger(log.NewWriterLogger(&buf, "text", slog.LevelInfo)))

	q, err := d.Run(context.Background(), sales(t))
	require.NoError(t, err)
	_, err = batch.Collect(context.Background(), q)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "query started")
	assert.Contains(t, out, "query finished")
	assert.Contains(t, out, "query_id="+q.ID.String())
	assert.Contains(t, out, "executor=memory")
	assert.Contains(t, out, "rows=3")
}

func TestPrepareUsesFrameFeatures(t *testing.T) {
	d := newDispatcher(t, testConfig(1000))
	chain := func(opts ...planner.FrameOption) *planner.LazyFrame {
		big := planner.ScanSource(testutil.IntSource(t, "big", 1000, "a", "x"), opts...)
		mid := planner.ScanSource(testutil.IntSource(t, "mid", 100, "b", "y"), opts...)
		small := planner.ScanSource(testutil.IntSource(t, "small", 10, "c", "z"), opts...)
		lf, err := big.Join(mid, planner.InnerJoin, expr.Cols("a"), expr.Cols("b"))
		require.NoError(t, err)
		lf, err = lf.Join(small, planner.InnerJoin, expr.Cols("a"), expr.Cols("c"))
		require.NoError(t, err)
		return lf
	}
	scanOrder := func(lf *planner.LazyFrame) bool {
		p, err := d.Prepare(lf)
		require.NoError(t, err)
		plan := planner.ExplainPlan(p.Logical)
		return strings.Index(plan, "Scan(small)") < strings.Index(plan, "Scan(big)")
	}

	// Join reorder is experimental and only runs when the frame enables it.
	assert.False(t, scanOrder(chain()))
	assert.True(t, scanOrder(chain(planner.WithFeatures(testutil.AllFeatures()))))
}
