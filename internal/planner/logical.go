package planner

import (
	"fmt"
	"strings"

	"github.com/dshills/QuantaFrame/internal/datatype"
	qerrors "github.com/dshills/QuantaFrame/internal/errors"
	"github.com/dshills/QuantaFrame/internal/expr"
	"github.com/dshills/QuantaFrame/internal/source"
)

// Scan reads a source. Projection, predicate and slice are the parts of the
// plan pushed into the source by the optimizer.
type Scan struct {
	basePlan
	Source     source.Source
	Projection []string // nil means every column
	Predicate  expr.Expr
	Slice      *source.Slice
}

// NewScan creates a scan of every column of src.
func NewScan(src source.Source) *Scan {
	return &Scan{basePlan: basePlan{schema: src.Schema()}, Source: src}
}

func newScan(src source.Source, projection []string, predicate expr.Expr, slice *source.Slice) (*Scan, error) {
	schema := src.Schema()
	if projection != nil {
		var err error
		if schema, err = schema.Project(projection); err != nil {
			return nil, err
		}
	}
	if predicate != nil {
		if err := checkPredicate(predicate, src.Schema(), "scan predicate"); err != nil {
			return nil, err
		}
	}
	return &Scan{
		basePlan:   basePlan{schema: schema},
		Source:     src,
		Projection: projection,
		Predicate:  predicate,
		Slice:      slice,
	}, nil
}

func (s *Scan) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Scan(%s)", s.Source.Name())
	if s.Projection != nil {
		sb.WriteString(" columns=" + columnList(s.Projection))
	}
	if s.Predicate != nil {
		sb.WriteString(" predicate=" + s.Predicate.String())
	}
	if s.Slice != nil {
		fmt.Fprintf(&sb, " slice=(%d, %d)", s.Slice.Offset, s.Slice.Length)
	}
	return sb.String()
}

func (s *Scan) WithChildren([]LogicalPlan) (LogicalPlan, error) {
	return s, nil
}

// Request returns the scan request the source receives.
func (s *Scan) Request(batchSize int) source.ScanRequest {
	return source.ScanRequest{
		Columns:   s.Projection,
		Predicate: s.Predicate,
		Slice:     s.Slice,
		BatchSize: batchSize,
	}
}

// Filter keeps the rows for which Predicate is true.
type Filter struct {
	basePlan
	Predicate expr.Expr
}

// NewFilter creates a filter node.
func NewFilter(input LogicalPlan, predicate expr.Expr) (*Filter, error) {
	if err := checkPredicate(predicate, input.Schema(), "filter"); err != nil {
		return nil, err
	}
	return &Filter{
		basePlan:  basePlan{children: []LogicalPlan{input}, schema: input.Schema()},
		Predicate: predicate,
	}, nil
}

func (f *Filter) String() string {
	return "Filter " + f.Predicate.String()
}

func (f *Filter) WithChildren(children []LogicalPlan) (LogicalPlan, error) {
	return NewFilter(children[0], f.Predicate)
}

// Select replaces the columns of its input with Exprs.
type Select struct {
	basePlan
	Exprs []expr.Expr
}

// NewSelect creates a projection node.
func NewSelect(input LogicalPlan, exprs []expr.Expr) (*Select, error) {
	if len(exprs) == 0 {
		return nil, qerrors.InvalidArgumentError("select", "at least one expression is required")
	}
	schema, err := projectSchema(exprs, input.Schema())
	if err != nil {
		return nil, err
	}
	return &Select{
		basePlan: basePlan{children: []LogicalPlan{input}, schema: schema},
		Exprs:    exprs,
	}, nil
}

func (s *Select) String() string {
	return "Select " + exprList(s.Exprs)
}

func (s *Select) WithChildren(children []LogicalPlan) (LogicalPlan, error) {
	return NewSelect(children[0], s.Exprs)
}

// HStack adds columns to its input. A column with an existing name replaces
// that column in place.
type HStack struct {
	basePlan
	Exprs []expr.Expr
}

// NewHStack creates a with-columns node.
func NewHStack(input LogicalPlan, exprs []expr.Expr) (*HStack, error) {
	if len(exprs) == 0 {
		return nil, qerrors.InvalidArgumentError("with_columns", "at least one expression is required")
	}
	added, err := projectSchema(exprs, input.Schema())
	if err != nil {
		return nil, err
	}
	cols := input.Schema().Columns()
	for _, c := range added.Columns() {
		if i, ok := input.Schema().Index(c.Name); ok {
			cols[i] = c
			continue
		}
		cols = append(cols, c)
	}
	schema, err := datatype.NewSchema(cols...)
	if err != nil {
		return nil, err
	}
	return &HStack{
		basePlan: basePlan{children: []LogicalPlan{input}, schema: schema},
		Exprs:    exprs,
	}, nil
}

func (h *HStack) String() string {
	return "WithColumns " + exprList(h.Exprs)
}

func (h *HStack) WithChildren(children []LogicalPlan) (LogicalPlan, error) {
	return NewHStack(children[0], h.Exprs)
}

// GroupBy groups rows by Keys and reduces each group with Aggs. With
// Dynamic set, rows are additionally bucketed into index windows.
type GroupBy struct {
	basePlan
	Keys    []expr.Expr
	Aggs    []expr.Expr
	Dynamic *DynamicWindow
}

// NewGroupBy creates a grouping node. The output holds the keys, then the
// window start for dynamic groupings, then the aggregations.
func NewGroupBy(input LogicalPlan, keys, aggs []expr.Expr, dynamic *DynamicWindow) (*GroupBy, error) {
	in := input.Schema()
	if len(keys) == 0 && len(aggs) == 0 && dynamic == nil {
		return nil, qerrors.InvalidArgumentError("group_by", "at least one key or aggregation is required")
	}

	cols := make([]datatype.Column, 0, len(keys)+len(aggs)+1)
	for _, k := range keys {
		if err := expr.Validate(k, expr.Elementwise); err != nil {
			return nil, err
		}
		if expr.ContainsWindow(k) || !expr.IsElementwise(k) {
			return nil, qerrors.InvalidArgumentError("group_by", "key "+k.String()+" must be elementwise")
		}
		f, err := expr.Field(k, in)
		if err != nil {
			return nil, err
		}
		cols = append(cols, f)
	}

	if dynamic != nil {
		_, t, err := in.Resolve(dynamic.Index)
		if err != nil {
			return nil, err
		}
		if !t.IsInteger() && t.Kind != datatype.KindDate && t.Kind != datatype.KindDatetime {
			return nil, qerrors.InvalidArgumentError("group_by_dynamic",
				fmt.Sprintf("index column %s must be an integer or temporal column, not %s", dynamic.Index, t))
		}
		if dynamic.Every <= 0 || dynamic.Period <= 0 {
			return nil, qerrors.InvalidArgumentError("group_by_dynamic", "every and period must be positive")
		}
		cols = append(cols, datatype.Column{Name: dynamic.Index, Type: t})
	}

	for _, a := range aggs {
		if err := expr.Validate(a, expr.Aggregation); err != nil {
			return nil, err
		}
		f, err := expr.Field(a, in)
		if err != nil {
			return nil, err
		}
		cols = append(cols, f)
	}

	schema, err := datatype.NewSchema(cols...)
	if err != nil {
		return nil, err
	}
	return &GroupBy{
		basePlan: basePlan{children: []LogicalPlan{input}, schema: schema},
		Keys:     keys,
		Aggs:     aggs,
		Dynamic:  dynamic,
	}, nil
}

func (g *GroupBy) String() string {
	if g.Dynamic != nil {
		return fmt.Sprintf("GroupByDynamic %s keys=%s aggs=%s", g.Dynamic, exprList(g.Keys), exprList(g.Aggs))
	}
	return fmt.Sprintf("GroupBy keys=%s aggs=%s", exprList(g.Keys), exprList(g.Aggs))
}

func (g *GroupBy) WithChildren(children []LogicalPlan) (LogicalPlan, error) {
	return NewGroupBy(children[0], g.Keys, g.Aggs, g.Dynamic)
}

// Sort orders rows by Keys. Rows with equal keys keep their input order.
type Sort struct {
	basePlan
	Keys []*expr.SortBy
}

// NewSort creates a sort node.
func NewSort(input LogicalPlan, keys []*expr.SortBy) (*Sort, error) {
	if len(keys) == 0 {
		return nil, qerrors.InvalidArgumentError("sort", "at least one sort key is required")
	}
	for _, k := range keys {
		if err := expr.Validate(k, expr.Elementwise); err != nil {
			return nil, err
		}
		if _, err := expr.TypeOf(k, input.Schema()); err != nil {
			return nil, err
		}
	}
	return &Sort{
		basePlan: basePlan{children: []LogicalPlan{input}, schema: input.Schema()},
		Keys:     keys,
	}, nil
}

func (s *Sort) String() string {
	parts := make([]string, len(s.Keys))
	for i, k := range s.Keys {
		parts[i] = k.String()
	}
	return "Sort [" + strings.Join(parts, ", ") + "]"
}

func (s *Sort) WithChildren(children []LogicalPlan) (LogicalPlan, error) {
	return NewSort(children[0], s.Keys)
}

// Slice keeps Length rows starting at Offset.
type Slice struct {
	basePlan
	Offset int64
	Length int64
}

// NewSlice creates a slice node. Offset and length must be non-negative.
func NewSlice(input LogicalPlan, offset, length int64) (*Slice, error) {
	if offset < 0 || length < 0 {
		return nil, qerrors.InvalidSliceError(offset, length)
	}
	return &Slice{
		basePlan: basePlan{children: []LogicalPlan{input}, schema: input.Schema()},
		Offset:   offset,
		Length:   length,
	}, nil
}

func (s *Slice) String() string {
	return fmt.Sprintf("Slice offset=%d length=%d", s.Offset, s.Length)
}

func (s *Slice) WithChildren(children []LogicalPlan) (LogicalPlan, error) {
	return NewSlice(children[0], s.Offset, s.Length)
}

// Distinct removes duplicate rows, comparing only Subset when it is set.
type Distinct struct {
	basePlan
	Subset []string // nil compares every column
	Keep   DistinctKeep
}

// NewDistinct creates a unique node.
func NewDistinct(input LogicalPlan, subset []string, keep DistinctKeep) (*Distinct, error) {
	for _, name := range subset {
		if _, _, err := input.Schema().Resolve(name); err != nil {
			return nil, err
		}
	}
	return &Distinct{
		basePlan: basePlan{children: []LogicalPlan{input}, schema: input.Schema()},
		Subset:   subset,
		Keep:     keep,
	}, nil
}

func (d *Distinct) String() string {
	subset := "*"
	if d.Subset != nil {
		subset = columnList(d.Subset)
	}
	return fmt.Sprintf("Unique subset=%s keep=%s", subset, d.Keep)
}

func (d *Distinct) WithChildren(children []LogicalPlan) (LogicalPlan, error) {
	return NewDistinct(children[0], d.Subset, d.Keep)
}

// Union concatenates inputs with identical schemas.
type Union struct {
	basePlan
}

// NewUnion creates a union node.
func NewUnion(inputs ...LogicalPlan) (*Union, error) {
	if len(inputs) == 0 {
		return nil, qerrors.InvalidArgumentError("concat", "at least one input is required")
	}
	first := inputs[0].Schema()
	for i, in := range inputs[1:] {
		if !in.Schema().Equal(first) {
			return nil, qerrors.SchemaMismatchError("concat",
				fmt.Sprintf("input %d has schema %s, expected %s", i+1, in.Schema(), first))
		}
	}
	return &Union{basePlan: basePlan{children: inputs, schema: first}}, nil
}

func (u *Union) String() string {
	return "Union"
}

func (u *Union) WithChildren(children []LogicalPlan) (LogicalPlan, error) {
	return NewUnion(children...)
}

// Cache marks a sub-plan that appears more than once. Every Cache with the
// same ID produces the same rows, so executors may compute it once.
type Cache struct {
	basePlan
	ID uint64
}

// NewCache wraps input in a cache node.
func NewCache(input LogicalPlan, id uint64) *Cache {
	return &Cache{
		basePlan: basePlan{children: []LogicalPlan{input}, schema: input.Schema()},
		ID:       id,
	}
}

func (c *Cache) String() string {
	return "Cache"
}

func (c *Cache) WithChildren(children []LogicalPlan) (LogicalPlan, error) {
	return NewCache(children[0], c.ID), nil
}

func checkPredicate(pred expr.Expr, schema *datatype.Schema, context string) error {
	if err := expr.Validate(pred, expr.Elementwise); err != nil {
		return err
	}
	t, err := expr.TypeOf(pred, schema)
	if err != nil {
		return err
	}
	if t.Kind != datatype.KindBoolean && t.Kind != datatype.KindNull {
		return qerrors.PredicateTypeError(context, t.String())
	}
	return nil
}

// projectSchema resolves the fields produced by a list of projections.
func projectSchema(exprs []expr.Expr, in *datatype.Schema) (*datatype.Schema, error) {
	cols := make([]datatype.Column, len(exprs))
	for i, e := range exprs {
		if err := expr.Validate(e, expr.Elementwise); err != nil {
			return nil, err
		}
		f, err := expr.Field(e, in)
		if err != nil {
			return nil, err
		}
		cols[i] = f
	}
	return datatype.NewSchema(cols...)
}

func exprList(exprs []expr.Expr) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = e.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
