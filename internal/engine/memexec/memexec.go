// Package memexec is the default executor. It materializes every operator's
// output in memory and supports every physical operator.
package memexec

import (
	"context"
	"fmt"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/QuantaFrame/internal/batch"
	"github.com/dshills/QuantaFrame/internal/eval"
	"github.com/dshills/QuantaFrame/internal/expr"
	"github.com/dshills/QuantaFrame/internal/log"
	"github.com/dshills/QuantaFrame/internal/planner"
)

// Name is the executor name used in the preference list.
const Name = "memory"

// Executor runs physical plans in memory.
type Executor struct {
	batchSize int
	logger    log.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithBatchSize sets the number of rows per output batch.
func WithBatchSize(n int) Option {
	return func(e *Executor) { e.batchSize = n }
}

// WithLogger sets the executor logger.
func WithLogger(l log.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates an in-memory executor.
func New(opts ...Option) *Executor {
	e := &Executor{batchSize: 1024, logger: log.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Name() string                       { return Name }
func (e *Executor) Streaming() bool                    { return false }
func (e *Executor) Supports(planner.OperatorKind) bool { return true }
func (e *Executor) SupportsExpr(expr.Expr) bool        { return true }

// Execute runs plan to completion and serves the result in batches.
func (e *Executor) Execute(ctx context.Context, plan planner.PhysicalPlan) (batch.Stream, error) {
	r := &run{caches: xsync.NewMapOf[uint64, *cached](), logger: e.logger}
	out, err := r.exec(ctx, plan)
	if err != nil {
		return nil, err
	}
	return batch.Chunked(out, e.batchSize), nil
}

// cached holds the result of a cache node, computed once per execution.
type cached struct {
	once sync.Once
	out  *batch.Batch
	err  error
}

// run is the state of one execution.
type run struct {
	caches *xsync.MapOf[uint64, *cached]
	logger log.Logger
}

func (r *run) exec(ctx context.Context, plan planner.PhysicalPlan) (*batch.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch p := plan.(type) {
	case *planner.PhysicalScan:
		stream, err := p.Source.Scan(ctx, p.Request)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", p.Source.Name(), err)
		}
		out, err := batch.Collect(ctx, stream)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", p.Source.Name(), err)
		}
		return out, nil

	case *planner.PhysicalUnion:
		return r.union(ctx, p)

	case *planner.PhysicalCache:
		entry, _ := r.caches.LoadOrStore(p.ID, &cached{})
		entry.once.Do(func() {
			entry.out, entry.err = r.exec(ctx, p.Input())
		})
		return entry.out, entry.err
	}

	children := plan.Children()
	inputs := make([]*batch.Batch, len(children))
	for i, c := range children {
		in, err := r.exec(ctx, c)
		if err != nil {
			return nil, err
		}
		inputs[i] = in
	}

	switch p := plan.(type) {
	case *planner.PhysicalFilter:
		return eval.Filter(p.Predicate, inputs[0])
	case *planner.PhysicalProject:
		return project(p.Exprs, inputs[0], p)
	case *planner.PhysicalHStack:
		return hstack(p.Exprs, inputs[0], p)
	case *planner.PhysicalHashJoin:
		return hashJoin(p, inputs[0], inputs[1])
	case *planner.PhysicalNestedLoopJoin:
		return nestedLoopJoin(p, inputs[0], inputs[1])
	case *planner.PhysicalAsofJoin:
		return asofJoin(p, inputs[0], inputs[1])
	case *planner.PhysicalGroupBy:
		return groupBy(p, inputs[0])
	case *planner.PhysicalDynamicGroupBy:
		return dynamicGroupBy(p, inputs[0])
	case *planner.PhysicalSort:
		return sortBatch(p, inputs[0])
	case *planner.PhysicalSlice:
		return inputs[0].Slice(clampInt(p.Offset), clampInt(p.Length)), nil
	case *planner.PhysicalDistinct:
		return distinct(p, inputs[0]), nil
	}
	return nil, fmt.Errorf("memexec: unsupported operator %s", plan.Kind())
}

// union evaluates its branches concurrently and concatenates them in order.
func (r *run) union(ctx context.Context, p *planner.PhysicalUnion) (*batch.Batch, error) {
	children := p.Children()
	parts := make([]*batch.Batch, len(children))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range children {
		i, c := i, c
		g.Go(func() error {
			out, err := r.exec(gctx, c)
			parts[i] = out
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, part := range parts {
		// Branches may name columns differently; the union's names win.
		parts[i] = &batch.Batch{Schema: p.Schema(), Columns: part.Columns}
	}
	return batch.Concat(p.Schema(), parts...), nil
}

func project(exprs []expr.Expr, in *batch.Batch, plan planner.PhysicalPlan) (*batch.Batch, error) {
	cols, err := eval.EvalAll(exprs, in)
	if err != nil {
		return nil, err
	}
	return withSchema(plan, cols), nil
}

func hstack(exprs []expr.Expr, in *batch.Batch, plan planner.PhysicalPlan) (*batch.Batch, error) {
	added, err := eval.EvalAll(exprs, in)
	if err != nil {
		return nil, err
	}
	schema := plan.Schema()
	cols := make([]*batch.Series, schema.Len())
	copy(cols, in.Columns)
	for _, s := range added {
		idx, ok := schema.Index(s.Name)
		if !ok {
			return nil, fmt.Errorf("memexec: with_columns output %s is not in the schema", s.Name)
		}
		cols[idx] = s
	}
	return withSchema(plan, cols), nil
}

// withSchema labels cols with the plan's output names and types.
func withSchema(plan planner.PhysicalPlan, cols []*batch.Series) *batch.Batch {
	schema := plan.Schema()
	out := make([]*batch.Series, len(cols))
	for i, s := range cols {
		c := schema.Column(i)
		out[i] = &batch.Series{Name: c.Name, Type: c.Type, Data: s.Data}
	}
	return &batch.Batch{Schema: schema, Columns: out}
}

func clampInt(v int64) int {
	const maxInt = int64(^uint(0) >> 1)
	if v > maxInt {
		return int(maxInt)
	}
	return int(v)
}
