package source

import (
	"context"

	"github.com/dshills/QuantaFrame/internal/batch"
	"github.com/dshills/QuantaFrame/internal/datatype"
	"github.com/dshills/QuantaFrame/internal/eval"
	"github.com/dshills/QuantaFrame/internal/expr"
)

// MemorySource serves an in-memory batch.
type MemorySource struct {
	name       string
	data       *batch.Batch
	predicates bool
	statistics bool
}

// MemoryOption configures a MemorySource.
type MemoryOption func(*MemorySource)

// WithoutPredicatePushdown makes the source refuse pushed predicates.
func WithoutPredicatePushdown() MemoryOption {
	return func(m *MemorySource) { m.predicates = false }
}

// WithoutStatistics hides the row count from the planner.
func WithoutStatistics() MemoryOption {
	return func(m *MemorySource) { m.statistics = false }
}

// NewMemorySource wraps data as a named source.
func NewMemorySource(name string, data *batch.Batch, opts ...MemoryOption) *MemorySource {
	m := &MemorySource{name: name, data: data, predicates: true, statistics: true}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemorySource) Name() string             { return m.name }
func (m *MemorySource) Schema() *datatype.Schema { return m.data.Schema }

func (m *MemorySource) Statistics() (int64, bool) {
	return int64(m.data.NumRows()), m.statistics
}

// SupportsPredicate accepts deterministic elementwise predicates.
func (m *MemorySource) SupportsPredicate(pred expr.Expr) bool {
	return m.predicates && expr.IsElementwise(pred) && expr.IsDeterministic(pred)
}

func (m *MemorySource) Scan(ctx context.Context, req ScanRequest) (batch.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := m.data
	if req.Predicate != nil {
		var err error
		if out, err = eval.Filter(req.Predicate, out); err != nil {
			return nil, err
		}
	}
	if req.Slice != nil {
		start, end := req.Slice.Bounds(int64(out.NumRows()))
		out = out.Slice(int(start), int(end-start))
	}
	if req.Columns != nil {
		schema, err := m.data.Schema.Project(req.Columns)
		if err != nil {
			return nil, err
		}
		if out, err = out.Project(schema); err != nil {
			return nil, err
		}
	}
	return batch.Chunked(out, req.BatchSize), nil
}
