package engine

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/dshills/QuantaFrame/internal/batch"
	"github.com/dshills/QuantaFrame/internal/config"
	"github.com/dshills/QuantaFrame/internal/datatype"
	"github.com/dshills/QuantaFrame/internal/log"
	"github.com/dshills/QuantaFrame/internal/planner"
)

// Dispatcher optimizes, lowers and executes lazy frames. It is safe for
// concurrent use; each query owns its physical plan exclusively.
type Dispatcher struct {
	cfg       *config.Config
	executors []Executor
	logger    log.Logger

	queries *xsync.MapOf[uuid.UUID, *Query]
	closed  atomic.Bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher and optimizer logger.
func WithLogger(l log.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher creates a dispatcher over executors. Executors named in
// cfg.Executor.Preference are tried in that order; the rest follow in the
// order given.
func NewDispatcher(cfg *config.Config, executors []Executor, opts ...Option) (*Dispatcher, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	byName := make(map[string]Executor, len(executors))
	for _, ex := range executors {
		byName[ex.Name()] = ex
	}

	ordered := make([]Executor, 0, len(executors))
	for _, name := range cfg.Executor.Preference {
		ex, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownExecutor, name)
		}
		ordered = append(ordered, ex)
	}
	for _, ex := range executors {
		if !slices.Contains(cfg.Executor.Preference, ex.Name()) {
			ordered = append(ordered, ex)
		}
	}

	d := &Dispatcher{
		cfg:       cfg,
		executors: ordered,
		logger:    log.Default(),
		queries:   xsync.NewMapOf[uuid.UUID, *Query](),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Capabilities returns the executors in the order lowering tries them.
func (d *Dispatcher) Capabilities() []planner.Capability {
	caps := make([]planner.Capability, len(d.executors))
	for i, ex := range d.executors {
		caps[i] = ex
	}
	return caps
}

// Prepared is a query that has been optimized and lowered but not started.
type Prepared struct {
	Logical  planner.LogicalPlan
	Physical planner.PhysicalPlan
	Executor Executor
}

// Prepare optimizes and lowers the plan of lf without running it.
func (d *Dispatcher) Prepare(lf *planner.LazyFrame) (*Prepared, error) {
	opt := planner.NewOptimizer(d.cfg.Optimizer, lf.Features(), planner.WithLogger(d.logger))
	logical, err := opt.Optimize(lf.Plan())
	if err != nil {
		return nil, err
	}
	phys, chosen, err := planner.Lower(logical, d.Capabilities(), d.cfg.Executor)
	if err != nil {
		return nil, err
	}
	// Lower only returns capabilities it was given.
	ex := chosen.(Executor)
	return &Prepared{Logical: logical, Physical: phys, Executor: ex}, nil
}

// Explain renders the physical plan lf would run with, prefixed by the
// chosen executor.
func (d *Dispatcher) Explain(lf *planner.LazyFrame) (string, error) {
	p, err := d.Prepare(lf)
	if err != nil {
		return "", err
	}
	return "executor: " + p.Executor.Name() + "\n" + planner.ExplainPhysicalPlan(p.Physical), nil
}

// Run starts lf on the selected executor. The query runs until the returned
// stream is drained or closed; there is no fallback to another executor
// once it has started.
func (d *Dispatcher) Run(ctx context.Context, lf *planner.LazyFrame) (*Query, error) {
	if d.closed.Load() {
		return nil, ErrDispatcherClosed
	}
	p, err := d.Prepare(lf)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	qctx, cancel := context.WithCancel(ctx)
	logger := d.logger.With(log.QueryID(id.String()), log.Executor(p.Executor.Name()))

	stream, err := p.Executor.Execute(qctx, p.Physical)
	if err != nil {
		cancel()
		logger.Warn("query failed to start", log.Any("error", err))
		return nil, err
	}

	q := &Query{
		ID:       id,
		Executor: p.Executor.Name(),
		Plan:     p.Physical,
		Started:  time.Now(),
		stream:   stream,
		cancel:   cancel,
		logger:   logger,
		owner:    d,
	}
	d.queries.Store(id, q)
	logger.Info("query started")

	// A Close racing with this Run must still stop the new query.
	if d.closed.Load() {
		q.Close()
		return nil, ErrDispatcherClosed
	}
	return q, nil
}

// Collect runs lf and concatenates all of its batches.
func (d *Dispatcher) Collect(ctx context.Context, lf *planner.LazyFrame) (*batch.Batch, error) {
	q, err := d.Run(ctx, lf)
	if err != nil {
		return nil, err
	}
	return batch.Collect(ctx, q)
}

// QueryInfo describes a running query.
type QueryInfo struct {
	ID       uuid.UUID
	Executor string
	Started  time.Time
	Batches  int64
	Rows     int64
}

// InFlight lists the queries that have not finished.
func (d *Dispatcher) InFlight() []QueryInfo {
	var out []QueryInfo
	d.queries.Range(func(_ uuid.UUID, q *Query) bool {
		out = append(out, q.Info())
		return true
	})
	slices.SortFunc(out, func(a, b QueryInfo) int { return a.Started.Compare(b.Started) })
	return out
}

// Close cancels every running query and rejects new ones. Closing twice is
// a no-op.
func (d *Dispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	var running []*Query
	d.queries.Range(func(_ uuid.UUID, q *Query) bool {
		running = append(running, q)
		return true
	})
	var firstErr error
	for _, q := range running {
		if err := q.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Query is a running query. It is the stream of its result batches.
type Query struct {
	ID       uuid.UUID
	Executor string
	Plan     planner.PhysicalPlan
	Started  time.Time

	stream  batch.Stream
	cancel  context.CancelFunc
	logger  log.Logger
	owner   *Dispatcher
	batches atomic.Int64
	rows    atomic.Int64
	once    sync.Once
}

func (q *Query) Schema() *datatype.Schema { return q.stream.Schema() }

// Next returns the next batch of the executor's output, unchanged.
func (q *Query) Next(ctx context.Context) (*batch.Batch, error) {
	b, err := q.stream.Next(ctx)
	switch {
	case err == io.EOF:
		q.finish(nil)
		return nil, io.EOF
	case err != nil:
		q.finish(err)
		return nil, err
	}
	q.batches.Add(1)
	q.rows.Add(int64(b.NumRows()))
	return b, nil
}

// Close stops the query and releases the executor's resources.
func (q *Query) Close() error {
	var err error
	q.once.Do(func() {
		q.cancel()
		err = q.stream.Close()
		q.unregister("query closed", err)
	})
	return err
}

// Info returns a snapshot of the query's progress.
func (q *Query) Info() QueryInfo {
	return QueryInfo{
		ID:       q.ID,
		Executor: q.Executor,
		Started:  q.Started,
		Batches:  q.batches.Load(),
		Rows:     q.rows.Load(),
	}
}

func (q *Query) finish(runErr error) {
	q.once.Do(func() {
		err := q.stream.Close()
		q.cancel()
		if runErr != nil {
			err = runErr
		}
		q.unregister("query finished", err)
	})
}

func (q *Query) unregister(msg string, err error) {
	q.owner.queries.Delete(q.ID)
	args := []any{
		log.Int64("batches", q.batches.Load()),
		log.Int64("rows", q.rows.Load()),
		log.Duration("elapsed", time.Since(q.Started)),
	}
	if err != nil {
		q.logger.Warn(msg, append(args, log.Any("error", err))...)
		return
	}
	q.logger.Info(msg, args...)
}
