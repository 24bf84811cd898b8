package streamexec

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/QuantaFrame/internal/batch"
	"github.com/dshills/QuantaFrame/internal/config"
	"github.com/dshills/QuantaFrame/internal/datatype"
	"github.com/dshills/QuantaFrame/internal/expr"
	"github.com/dshills/QuantaFrame/internal/log"
	"github.com/dshills/QuantaFrame/internal/planner"
	"github.com/dshills/QuantaFrame/internal/source"
)

var nSchema = datatype.MustSchema(datatype.Column{Name: "n", Type: datatype.Int64})

// counter is a source producing 0..rows-1 lazily, one batch per Next.
type counter struct {
	name     string
	rows     int64
	produced atomic.Int64
}

func (c *counter) Name() string                     { return c.name }
func (c *counter) Schema() *datatype.Schema         { return nSchema }
func (c *counter) Statistics() (int64, bool)        { return c.rows, true }
func (c *counter) SupportsPredicate(expr.Expr) bool { return false }

func (c *counter) Scan(_ context.Context, req source.ScanRequest) (batch.Stream, error) {
	size := int64(req.BatchSize)
	if size <= 0 {
		size = 10
	}
	return &counterStream{src: c, size: size}, nil
}

type counterStream struct {
	src  *counter
	next int64
	size int64
}

func (s *counterStream) Schema() *datatype.Schema { return nSchema }

func (s *counterStream) Next(ctx context.Context) (*batch.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= s.src.rows {
		return nil, io.EOF
	}
	end := min(s.next+s.size, s.src.rows)
	data := make([]any, 0, end-s.next)
	for i := s.next; i < end; i++ {
		data = append(data, i)
	}
	s.next = end
	s.src.produced.Add(1)
	return &batch.Batch{Schema: nSchema, Columns: []*batch.Series{{Name: "n", Type: datatype.Int64, Data: data}}}, nil
}

func (s *counterStream) Close() error { return nil }

func executorConfig() config.ExecutorConfig {
	return config.ExecutorConfig{StreamingMinRows: 1, BatchSize: 10}
}

func start(t *testing.T, ctx context.Context, lf *planner.LazyFrame) batch.Stream {
	t.Helper()
	exec := New(WithLogger(log.Discard()))
	phys, chosen, err := planner.Lower(lf.Plan(), []planner.Capability{exec}, executorConfig())
	require.NoError(t, err)
	require.Equal(t, Name, chosen.Name())
	stream, err := exec.Execute(ctx, phys)
	require.NoError(t, err)
	return stream
}

func must[T any](t *testing.T) func(T, error) T {
	return func(v T, err error) T {
		t.Helper()
		require.NoError(t, err)
		return v
	}
}

func values(b *batch.Batch, name string) []any {
	s, _ := b.Column(name)
	return s.Data
}

func TestPipelineFilterProjectSlice(t *testing.T) {
	ok := must[*planner.LazyFrame](t)
	lf := planner.ScanSource(&counter{name: "c", rows: 100})
	lf = ok(lf.Filter(expr.Eq(expr.Mod(expr.Col("n"), expr.Lit(2)), expr.Lit(0))))
	lf = ok(lf.WithColumns(expr.As(expr.Mul(expr.Col("n"), expr.Lit(10)), "m")))
	lf = ok(lf.Select(expr.Col("m")))
	lf = ok(lf.Slice(3, 4))

	out, err := batch.Collect(context.Background(), start(t, context.Background(), lf))
	require.NoError(t, err)
	assert.Equal(t, []string{"m"}, out.Schema.Names())
	assert.Equal(t, []any{int64(60), int64(80), int64(100), int64(120)}, values(out, "m"))
}

func TestSliceStopsUpstream(t *testing.T) {
	src := &counter{name: "c", rows: 1_000_000}
	lf := must[*planner.LazyFrame](t)(planner.ScanSource(src).Head(5))

	out, err := batch.Collect(context.Background(), start(t, context.Background(), lf))
	require.NoError(t, err)
	assert.Equal(t, 5, out.NumRows())
	assert.Less(t, src.produced.Load(), int64(20))
}

func TestSliceOfZeroRows(t *testing.T) {
	lf := must[*planner.LazyFrame](t)(planner.ScanSource(&counter{name: "c", rows: 50}).Slice(0, 0))
	out, err := batch.Collect(context.Background(), start(t, context.Background(), lf))
	require.NoError(t, err)
	assert.Equal(t, 0, out.NumRows())
	assert.True(t, out.Schema.Equal(nSchema))
}

func TestUnionKeepsBranchOrder(t *testing.T) {
	ok := must[*planner.LazyFrame](t)
	first := planner.ScanSource(&counter{name: "a", rows: 25})
	second := ok(planner.ScanSource(&counter{name: "b", rows: 25}).
		Select(expr.As(expr.Add(expr.Col("n"), expr.Lit(100)), "n")))
	lf := ok(first.Concat(second))

	out, err := batch.Collect(context.Background(), start(t, context.Background(), lf))
	require.NoError(t, err)
	got := values(out, "n")
	require.Len(t, got, 50)
	assert.Equal(t, int64(0), got[0])
	assert.Equal(t, int64(24), got[24])
	assert.Equal(t, int64(100), got[25])
	assert.Equal(t, int64(124), got[49])
}

func TestStageErrorIsReported(t *testing.T) {
	lf := must[*planner.LazyFrame](t)(planner.ScanSource(&counter{name: "c", rows: 100}).
		Select(expr.StrictCast(expr.Mul(expr.Col("n"), expr.Lit(10)), datatype.Int8)))

	exec := New(WithLogger(log.Discard()))
	phys, _, err := planner.Lower(lf.Plan(), []planner.Capability{exec}, executorConfig())
	require.NoError(t, err)
	stream, err := exec.Execute(context.Background(), phys)
	require.NoError(t, err)
	_, err = batch.Collect(context.Background(), stream)
	assert.Error(t, err)
}

func TestCloseStopsPipeline(t *testing.T) {
	src := &counter{name: "c", rows: 1 << 40}
	stream := start(t, context.Background(), planner.ScanSource(src))

	_, err := stream.Next(context.Background())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- stream.Close() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
}

func TestCancelledContextEndsStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stream := start(t, ctx, planner.ScanSource(&counter{name: "c", rows: 1 << 40}))
	defer stream.Close()

	_, err := stream.Next(context.Background())
	require.NoError(t, err)
	cancel()

	for i := 0; i < 100; i++ {
		if _, err = stream.Next(context.Background()); err != nil {
			break
		}
	}
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCapabilities(t *testing.T) {
	e := New()
	assert.True(t, e.Streaming())
	assert.True(t, e.Supports(planner.OperatorFilter))
	assert.True(t, e.Supports(planner.OperatorUnion))
	assert.False(t, e.Supports(planner.OperatorGroupBy))
	assert.False(t, e.Supports(planner.OperatorSort))
	assert.False(t, e.Supports(planner.OperatorHashJoin))

	assert.True(t, e.SupportsExpr(expr.Add(expr.Col("a"), expr.Lit(1))))
	assert.False(t, e.SupportsExpr(expr.Sum(expr.Col("a"))))
	assert.False(t, e.SupportsExpr(expr.Call("random")))
	assert.False(t, e.SupportsExpr(expr.Call("row_index")))
}

func TestLowerPrefersMemoryForSmallInputs(t *testing.T) {
	lf := planner.ScanSource(&counter{name: "c", rows: 10})
	cfg := executorConfig()
	cfg.StreamingMinRows = 1000

	_, chosen, err := planner.Lower(lf.Plan(), []planner.Capability{New(), memoryLike{}}, cfg)
	require.NoError(t, err)
	assert.Equal(t, "memory", chosen.Name())
}

type memoryLike struct{}

func (memoryLike) Name() string                       { return "memory" }
func (memoryLike) Streaming() bool                    { return false }
func (memoryLike) Supports(planner.OperatorKind) bool { return true }
func (memoryLike) SupportsExpr(expr.Expr) bool        { return true }
