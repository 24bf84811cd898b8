package planner

import (
	"strings"

	"github.com/dshills/QuantaFrame/internal/config"
	"github.com/dshills/QuantaFrame/internal/datatype"
	qerrors "github.com/dshills/QuantaFrame/internal/errors"
	"github.com/dshills/QuantaFrame/internal/expr"
	"github.com/dshills/QuantaFrame/internal/feature"
	"github.com/dshills/QuantaFrame/internal/log"
	"github.com/dshills/QuantaFrame/internal/source"
)

// LazyFrame builds a logical plan one operation at a time. Every method
// validates its arguments against the current schema and returns a new
// frame; the receiver is never modified.
type LazyFrame struct {
	plan     LogicalPlan
	features *feature.Set
	cfg      *config.Config
}

// FrameOption configures a LazyFrame.
type FrameOption func(*LazyFrame)

// WithFeatures sets the operator families the frame may use.
func WithFeatures(features *feature.Set) FrameOption {
	return func(lf *LazyFrame) { lf.features = features }
}

// WithConfig sets the configuration Explain and ExplainPhysical use.
func WithConfig(cfg *config.Config) FrameOption {
	return func(lf *LazyFrame) { lf.cfg = cfg }
}

// ScanSource starts a frame that reads every column of src.
func ScanSource(src source.Source, opts ...FrameOption) *LazyFrame {
	return FromPlan(NewScan(src), opts...)
}

// FromPlan wraps an existing logical plan.
func FromPlan(plan LogicalPlan, opts ...FrameOption) *LazyFrame {
	lf := &LazyFrame{plan: plan, cfg: config.Default()}
	for _, opt := range opts {
		opt(lf)
	}
	return lf
}

// Plan returns the logical plan built so far.
func (lf *LazyFrame) Plan() LogicalPlan { return lf.plan }

// Schema returns the output schema of the plan.
func (lf *LazyFrame) Schema() *datatype.Schema { return lf.plan.Schema() }

// Features returns the frame's feature set.
func (lf *LazyFrame) Features() *feature.Set { return lf.features }

// Config returns the frame's configuration.
func (lf *LazyFrame) Config() *config.Config { return lf.cfg }

func (lf *LazyFrame) derive(plan LogicalPlan, err error) (*LazyFrame, error) {
	if err != nil {
		return nil, err
	}
	if err := checkNodeFeatures(plan, lf.features); err != nil {
		return nil, err
	}
	return &LazyFrame{plan: plan, features: lf.features, cfg: lf.cfg}, nil
}

// Filter keeps the rows for which pred is true.
func (lf *LazyFrame) Filter(pred expr.Expr) (*LazyFrame, error) {
	return lf.derive(NewFilter(lf.plan, pred))
}

// Select replaces the columns with exprs. Top-level selectors expand to the
// columns they match.
func (lf *LazyFrame) Select(exprs ...expr.Expr) (*LazyFrame, error) {
	expanded, err := expandSelectors(exprs, lf.Schema())
	if err != nil {
		return nil, err
	}
	return lf.derive(NewSelect(lf.plan, expanded))
}

// WithColumns adds or replaces columns.
func (lf *LazyFrame) WithColumns(exprs ...expr.Expr) (*LazyFrame, error) {
	expanded, err := expandSelectors(exprs, lf.Schema())
	if err != nil {
		return nil, err
	}
	return lf.derive(NewHStack(lf.plan, expanded))
}

// JoinOption adjusts a join.
type JoinOption func(*JoinSpec)

// WithSuffix sets the suffix for right columns whose names collide.
func WithSuffix(suffix string) JoinOption {
	return func(s *JoinSpec) { s.Suffix = suffix }
}

// WithTolerance bounds the key distance an asof join accepts.
func WithTolerance(tolerance float64) JoinOption {
	return func(s *JoinSpec) {
		if s.Asof == nil {
			s.Asof = &AsofOptions{}
		}
		s.Asof.Tolerance = &tolerance
	}
}

func (lf *LazyFrame) join(other *LazyFrame, spec JoinSpec, opts []JoinOption) (*LazyFrame, error) {
	spec.BuildSide = RightSide
	for _, opt := range opts {
		opt(&spec)
	}
	return lf.derive(NewJoin(lf.plan, other.plan, spec))
}

// Join joins other on key expressions.
func (lf *LazyFrame) Join(other *LazyFrame, how JoinType, leftOn, rightOn []expr.Expr, opts ...JoinOption) (*LazyFrame, error) {
	if how == CrossJoin || how == AsofJoin {
		return nil, qerrors.InvalidJoinKeysError("use CrossJoin or JoinAsof for " + how.String() + " joins")
	}
	return lf.join(other, JoinSpec{Type: how, LeftOn: leftOn, RightOn: rightOn}, opts)
}

// JoinUsing joins other on columns with the same names on both sides.
func (lf *LazyFrame) JoinUsing(other *LazyFrame, how JoinType, on []string, opts ...JoinOption) (*LazyFrame, error) {
	return lf.Join(other, how, expr.Cols(on...), expr.Cols(on...), opts...)
}

// CrossJoin pairs every row with every row of other.
func (lf *LazyFrame) CrossJoin(other *LazyFrame, opts ...JoinOption) (*LazyFrame, error) {
	return lf.join(other, JoinSpec{Type: CrossJoin}, opts)
}

// JoinAsof matches each row with the nearest key of other in the direction
// strategy names.
func (lf *LazyFrame) JoinAsof(other *LazyFrame, leftOn, rightOn string, strategy AsofStrategy, opts ...JoinOption) (*LazyFrame, error) {
	spec := JoinSpec{
		Type:    AsofJoin,
		LeftOn:  []expr.Expr{expr.Col(leftOn)},
		RightOn: []expr.Expr{expr.Col(rightOn)},
		Asof:    &AsofOptions{Strategy: strategy},
	}
	return lf.join(other, spec, opts)
}

// JoinWhere keeps the pairs of rows for which cond holds. Columns in cond
// use the joined names, so colliding right columns carry the suffix.
func (lf *LazyFrame) JoinWhere(other *LazyFrame, cond expr.Expr, opts ...JoinOption) (*LazyFrame, error) {
	return lf.join(other, JoinSpec{Type: InnerJoin, Condition: cond}, opts)
}

// GroupByBuilder collects the aggregations of a grouping.
type GroupByBuilder struct {
	frame   *LazyFrame
	keys    []expr.Expr
	dynamic *DynamicWindow
	err     error
}

// GroupBy groups rows by keys.
func (lf *LazyFrame) GroupBy(keys ...expr.Expr) *GroupByBuilder {
	expanded, err := expandSelectors(keys, lf.Schema())
	return &GroupByBuilder{frame: lf, keys: expanded, err: err}
}

// GroupByDynamic groups rows into windows over an index column, and by keys
// within each window.
func (lf *LazyFrame) GroupByDynamic(window DynamicWindow, keys ...expr.Expr) *GroupByBuilder {
	g := lf.GroupBy(keys...)
	g.dynamic = &window
	return g
}

// Agg computes aggs per group.
func (g *GroupByBuilder) Agg(aggs ...expr.Expr) (*LazyFrame, error) {
	if g.err != nil {
		return nil, g.err
	}
	return g.frame.derive(NewGroupBy(g.frame.plan, g.keys, aggs, g.dynamic))
}

// Sort orders rows by keys.
func (lf *LazyFrame) Sort(keys ...*expr.SortBy) (*LazyFrame, error) {
	return lf.derive(NewSort(lf.plan, keys))
}

// Slice keeps length rows starting at offset.
func (lf *LazyFrame) Slice(offset, length int64) (*LazyFrame, error) {
	return lf.derive(NewSlice(lf.plan, offset, length))
}

// Head keeps the first n rows.
func (lf *LazyFrame) Head(n int64) (*LazyFrame, error) {
	return lf.Slice(0, n)
}

// Unique removes duplicate rows, comparing subset or every column when
// subset is nil.
func (lf *LazyFrame) Unique(subset []string, keep DistinctKeep) (*LazyFrame, error) {
	return lf.derive(NewDistinct(lf.plan, subset, keep))
}

// Concat appends the rows of others, which must have the same schema.
func (lf *LazyFrame) Concat(others ...*LazyFrame) (*LazyFrame, error) {
	inputs := []LogicalPlan{lf.plan}
	for _, o := range others {
		inputs = append(inputs, o.plan)
	}
	return lf.derive(NewUnion(inputs...))
}

// Cache marks the plan so executors compute it once when it is used more
// than once.
func (lf *LazyFrame) Cache() *LazyFrame {
	return &LazyFrame{plan: NewCache(lf.plan, Fingerprint(lf.plan)), features: lf.features, cfg: lf.cfg}
}

// Optimize returns a frame over the optimized plan.
func (lf *LazyFrame) Optimize(opts ...OptimizerOption) (*LazyFrame, error) {
	opt := NewOptimizer(lf.cfg.Optimizer, lf.features, opts...)
	plan, err := opt.Optimize(lf.plan)
	if err != nil {
		return nil, err
	}
	return &LazyFrame{plan: plan, features: lf.features, cfg: lf.cfg}, nil
}

// Explain renders the plan, optimized first when optimized is set.
func (lf *LazyFrame) Explain(optimized bool) (string, error) {
	if !optimized {
		return ExplainPlan(lf.plan), nil
	}
	o, err := lf.Optimize(WithLogger(log.Discard()))
	if err != nil {
		return "", err
	}
	return ExplainPlan(o.plan), nil
}

// ExplainPhysical optimizes and lowers the plan for executors and renders
// the physical plan with the chosen executor on the first line.
func (lf *LazyFrame) ExplainPhysical(executors []Capability) (string, error) {
	o, err := lf.Optimize(WithLogger(log.Discard()))
	if err != nil {
		return "", err
	}
	phys, ex, err := Lower(o.plan, executors, lf.cfg.Executor)
	if err != nil {
		return "", err
	}
	return "executor: " + ex.Name() + "\n" + ExplainPhysicalPlan(phys), nil
}

// expandSelectors replaces top-level selectors with the columns of schema
// they match, in schema order.
func expandSelectors(exprs []expr.Expr, schema *datatype.Schema) ([]expr.Expr, error) {
	out := make([]expr.Expr, 0, len(exprs))
	for _, e := range exprs {
		sel, ok := e.(*expr.Selector)
		if !ok {
			out = append(out, e)
			continue
		}
		excluded := map[string]bool{}
		for _, name := range sel.Exclude {
			if _, _, err := schema.Resolve(name); err != nil {
				return nil, err
			}
			excluded[name] = true
		}
		for _, c := range schema.Columns() {
			if excluded[c.Name] || !selects(sel, c) {
				continue
			}
			out = append(out, expr.Col(c.Name))
		}
	}
	return out, nil
}

func selects(sel *expr.Selector, c datatype.Column) bool {
	switch sel.Mode {
	case expr.SelectByType:
		for _, t := range sel.Types {
			if t.Equal(c.Type) {
				return true
			}
		}
		return false
	case expr.SelectByPrefix:
		return strings.HasPrefix(c.Name, sel.Prefix)
	}
	return true
}
