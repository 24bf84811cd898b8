// Package streamexec runs elementwise plans as a pipeline of goroutines
// connected by bounded channels, so memory stays proportional to the batch
// size rather than the input size.
package streamexec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/QuantaFrame/internal/batch"
	"github.com/dshills/QuantaFrame/internal/datatype"
	"github.com/dshills/QuantaFrame/internal/eval"
	"github.com/dshills/QuantaFrame/internal/expr"
	"github.com/dshills/QuantaFrame/internal/log"
	"github.com/dshills/QuantaFrame/internal/planner"
)

// Name is the executor name used in the preference list.
const Name = "streaming"

// Executor runs scan, filter, projection, slice and union pipelines.
type Executor struct {
	buffer int
	logger log.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithBuffer sets how many batches each stage may hold ahead of its
// consumer.
func WithBuffer(n int) Option {
	return func(e *Executor) { e.buffer = n }
}

// WithLogger sets the executor logger.
func WithLogger(l log.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates a streaming executor.
func New(opts ...Option) *Executor {
	e := &Executor{buffer: 2, logger: log.Default()}
	for _, opt := range opts {
		opt(e)
	}
	if e.buffer < 0 {
		e.buffer = 0
	}
	return e
}

func (e *Executor) Name() string    { return Name }
func (e *Executor) Streaming() bool { return true }

func (e *Executor) Supports(kind planner.OperatorKind) bool {
	switch kind {
	case planner.OperatorScan, planner.OperatorFilter, planner.OperatorProject,
		planner.OperatorHStack, planner.OperatorSlice, planner.OperatorUnion:
		return true
	}
	return false
}

// SupportsExpr accepts expressions that can be evaluated one batch at a
// time without changing their result.
func (e *Executor) SupportsExpr(x expr.Expr) bool {
	return expr.IsElementwise(x) && expr.IsDeterministic(x) && !expr.IsIndexDependent(x)
}

// Execute starts the pipeline for plan. The returned stream must be closed.
func (e *Executor) Execute(ctx context.Context, plan planner.PhysicalPlan) (batch.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	b := &builder{g: g, buffer: e.buffer}
	out, err := b.stage(gctx, plan)
	if err != nil {
		cancel()
		_ = g.Wait()
		return nil, err
	}
	e.logger.Debug("pipeline started", log.Int("stages", b.stages))
	return &pipeline{schema: plan.Schema(), out: out, parent: ctx, cancel: cancel, g: g}, nil
}

// builder starts one goroutine per operator.
type builder struct {
	g      *errgroup.Group
	buffer int
	stages int
}

// spawn runs fn as a stage writing to a fresh channel. Errors caused by
// cancellation are dropped; the cause is reported by whoever cancelled.
func (b *builder) spawn(ctx context.Context, fn func(out chan<- *batch.Batch) error) <-chan *batch.Batch {
	out := make(chan *batch.Batch, b.buffer)
	b.stages++
	b.g.Go(func() error {
		defer close(out)
		err := fn(out)
		if err != nil && ctx.Err() != nil {
			return nil
		}
		return err
	})
	return out
}

func send(ctx context.Context, out chan<- *batch.Batch, b *batch.Batch) bool {
	select {
	case out <- b:
		return true
	case <-ctx.Done():
		return false
	}
}

func (b *builder) stage(ctx context.Context, plan planner.PhysicalPlan) (<-chan *batch.Batch, error) {
	switch p := plan.(type) {
	case *planner.PhysicalScan:
		stream, err := p.Source.Scan(ctx, p.Request)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", p.Source.Name(), err)
		}
		return b.spawn(ctx, func(out chan<- *batch.Batch) error {
			defer stream.Close()
			for {
				next, err := stream.Next(ctx)
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return fmt.Errorf("scan %s: %w", p.Source.Name(), err)
				}
				if !send(ctx, out, next) {
					return nil
				}
			}
		}), nil

	case *planner.PhysicalFilter:
		return b.mapStage(ctx, p, func(in *batch.Batch) (*batch.Batch, error) {
			return eval.Filter(p.Predicate, in)
		})

	case *planner.PhysicalProject:
		return b.mapStage(ctx, p, func(in *batch.Batch) (*batch.Batch, error) {
			cols, err := eval.EvalAll(p.Exprs, in)
			if err != nil {
				return nil, err
			}
			return relabel(p.Schema(), cols), nil
		})

	case *planner.PhysicalHStack:
		return b.mapStage(ctx, p, func(in *batch.Batch) (*batch.Batch, error) {
			return hstack(p, in)
		})

	case *planner.PhysicalSlice:
		return b.slice(ctx, p)

	case *planner.PhysicalUnion:
		return b.union(ctx, p)
	}
	return nil, fmt.Errorf("streamexec: unsupported operator %s", plan.Kind())
}

// mapStage applies fn to every batch of the plan's input.
func (b *builder) mapStage(ctx context.Context, plan planner.PhysicalPlan, fn func(*batch.Batch) (*batch.Batch, error)) (<-chan *batch.Batch, error) {
	in, err := b.stage(ctx, plan.Children()[0])
	if err != nil {
		return nil, err
	}
	return b.spawn(ctx, func(out chan<- *batch.Batch) error {
		for batchIn := range in {
			next, err := fn(batchIn)
			if err != nil {
				return err
			}
			if next.NumRows() == 0 {
				continue
			}
			if !send(ctx, out, next) {
				return nil
			}
		}
		return nil
	}), nil
}

// slice forwards the requested window and cancels its input once the
// window is full.
func (b *builder) slice(ctx context.Context, p *planner.PhysicalSlice) (<-chan *batch.Batch, error) {
	upstream, stop := context.WithCancel(ctx)
	in, err := b.stage(upstream, p.Input())
	if err != nil {
		stop()
		return nil, err
	}
	return b.spawn(ctx, func(out chan<- *batch.Batch) error {
		defer stop()
		skip, remaining := p.Offset, p.Length
		if remaining <= 0 {
			return nil
		}
		for batchIn := range in {
			n := int64(batchIn.NumRows())
			if skip >= n {
				skip -= n
				continue
			}
			take := min(n-skip, remaining)
			next := batchIn.Slice(int(skip), int(take))
			skip = 0
			remaining -= take
			if !send(ctx, out, next) || remaining == 0 {
				return nil
			}
		}
		return nil
	}), nil
}

// union drains its inputs one after another, preserving branch order.
func (b *builder) union(ctx context.Context, p *planner.PhysicalUnion) (<-chan *batch.Batch, error) {
	children := p.Children()
	inputs := make([]<-chan *batch.Batch, len(children))
	for i, c := range children {
		in, err := b.stage(ctx, c)
		if err != nil {
			return nil, err
		}
		inputs[i] = in
	}
	schema := p.Schema()
	return b.spawn(ctx, func(out chan<- *batch.Batch) error {
		for _, in := range inputs {
			for batchIn := range in {
				if !send(ctx, out, relabel(schema, batchIn.Columns)) {
					return nil
				}
			}
		}
		return nil
	}), nil
}

func hstack(p *planner.PhysicalHStack, in *batch.Batch) (*batch.Batch, error) {
	added, err := eval.EvalAll(p.Exprs, in)
	if err != nil {
		return nil, err
	}
	schema := p.Schema()
	cols := make([]*batch.Series, schema.Len())
	copy(cols, in.Columns)
	for _, s := range added {
		idx, ok := schema.Index(s.Name)
		if !ok {
			return nil, fmt.Errorf("streamexec: with_columns output %s is not in the schema", s.Name)
		}
		cols[idx] = s
	}
	return relabel(schema, cols), nil
}

// relabel names cols after schema.
func relabel(schema *datatype.Schema, cols []*batch.Series) *batch.Batch {
	out := make([]*batch.Series, len(cols))
	for i, s := range cols {
		c := schema.Column(i)
		out[i] = &batch.Series{Name: c.Name, Type: c.Type, Data: s.Data}
	}
	return &batch.Batch{Schema: schema, Columns: out}
}

// pipeline is the consumer end of a running pipeline.
type pipeline struct {
	schema *datatype.Schema
	out    <-chan *batch.Batch
	parent context.Context
	cancel context.CancelFunc
	g      *errgroup.Group

	once sync.Once
	err  error
}

func (p *pipeline) Schema() *datatype.Schema { return p.schema }

func (p *pipeline) Next(ctx context.Context) (*batch.Batch, error) {
	select {
	case b, ok := <-p.out:
		if ok {
			return b, nil
		}
		if err := p.wait(); err != nil {
			return nil, err
		}
		// The stages swallow cancellation, so a closed channel alone does
		// not mean the input was exhausted.
		if err := p.parent.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops every stage and waits for them to exit.
func (p *pipeline) Close() error {
	p.cancel()
	err := p.wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *pipeline) wait() error {
	p.once.Do(func() { p.err = p.g.Wait() })
	return p.err
}
