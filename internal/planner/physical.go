package planner

import (
	"fmt"
	"strings"

	"github.com/dshills/QuantaFrame/internal/datatype"
	"github.com/dshills/QuantaFrame/internal/expr"
	"github.com/dshills/QuantaFrame/internal/source"
)

// OperatorKind identifies a physical operator. Executors declare which
// kinds they implement.
type OperatorKind int

const (
	OperatorScan OperatorKind = iota
	OperatorFilter
	OperatorProject
	OperatorHStack
	OperatorHashJoin
	OperatorNestedLoopJoin
	OperatorAsofJoin
	OperatorGroupBy
	OperatorDynamicGroupBy
	OperatorSort
	OperatorSlice
	OperatorDistinct
	OperatorUnion
	OperatorCache
)

var operatorNames = [...]string{
	OperatorScan:           "scan",
	OperatorFilter:         "filter",
	OperatorProject:        "project",
	OperatorHStack:         "hstack",
	OperatorHashJoin:       "hash_join",
	OperatorNestedLoopJoin: "nested_loop_join",
	OperatorAsofJoin:       "asof_join",
	OperatorGroupBy:        "group_by",
	OperatorDynamicGroupBy: "dynamic_group_by",
	OperatorSort:           "sort",
	OperatorSlice:          "slice",
	OperatorDistinct:       "distinct",
	OperatorUnion:          "union",
	OperatorCache:          "cache",
}

func (k OperatorKind) String() string {
	if int(k) < len(operatorNames) {
		return operatorNames[k]
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// OperatorKinds lists every operator kind.
func OperatorKinds() []OperatorKind {
	kinds := make([]OperatorKind, len(operatorNames))
	for i := range kinds {
		kinds[i] = OperatorKind(i)
	}
	return kinds
}

// PhysicalPlan is an executable operator tree. Expressions in physical
// nodes are bound to the schema of the node's input.
type PhysicalPlan interface {
	Children() []PhysicalPlan
	Schema() *datatype.Schema
	Kind() OperatorKind
	String() string
	physicalNode()
}

type physicalBase struct {
	children []PhysicalPlan
	schema   *datatype.Schema
}

func (p *physicalBase) Children() []PhysicalPlan { return p.children }
func (p *physicalBase) Schema() *datatype.Schema  { return p.schema }
func (p *physicalBase) physicalNode()             {}

// Input returns the first input of the node.
func (p *physicalBase) Input() PhysicalPlan { return p.children[0] }

type PhysicalScan struct {
	physicalBase
	Source  source.Source
	Request source.ScanRequest
}

func (*PhysicalScan) Kind() OperatorKind { return OperatorScan }

func (s *PhysicalScan) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Scan(%s)", s.Source.Name())
	if s.Request.Columns != nil {
		sb.WriteString(" columns=" + columnList(s.Request.Columns))
	}
	if s.Request.Predicate != nil {
		sb.WriteString(" predicate=" + s.Request.Predicate.String())
	}
	if s.Request.Slice != nil {
		fmt.Fprintf(&sb, " slice=(%d, %d)", s.Request.Slice.Offset, s.Request.Slice.Length)
	}
	return sb.String()
}

type PhysicalFilter struct {
	physicalBase
	Predicate expr.Expr
}

func (*PhysicalFilter) Kind() OperatorKind { return OperatorFilter }
func (f *PhysicalFilter) String() string   { return "Filter " + f.Predicate.String() }

type PhysicalProject struct {
	physicalBase
	Exprs []expr.Expr
}

func (*PhysicalProject) Kind() OperatorKind { return OperatorProject }
func (p *PhysicalProject) String() string   { return "Project " + exprList(p.Exprs) }

// PhysicalHStack evaluates Exprs and places each result at the matching
// output position: replacing an input column or appended after them.
type PhysicalHStack struct {
	physicalBase
	Exprs []expr.Expr
}

func (*PhysicalHStack) Kind() OperatorKind { return OperatorHStack }
func (h *PhysicalHStack) String() string   { return "HStack " + exprList(h.Exprs) }

// JoinOutput locates an output column of a join by input side and column
// index in that input.
type JoinOutput struct {
	Side  Side
	Index int
}

type PhysicalHashJoin struct {
	physicalBase
	Type      JoinType
	LeftKeys  []expr.Expr
	RightKeys []expr.Expr
	KeyTypes  []datatype.DataType
	BuildSide Side
	Columns   []JoinOutput
}

func (*PhysicalHashJoin) Kind() OperatorKind { return OperatorHashJoin }

func (j *PhysicalHashJoin) String() string {
	return fmt.Sprintf("HashJoin %s on %s = %s build=%s", strings.ToLower(j.Type.String()),
		exprList(j.LeftKeys), exprList(j.RightKeys), j.BuildSide)
}

// PhysicalNestedLoopJoin pairs every left row with every right row and
// keeps the pairs Condition accepts. A nil Condition keeps every pair.
// Condition is bound to the output schema.
type PhysicalNestedLoopJoin struct {
	physicalBase
	Condition expr.Expr
	Columns   []JoinOutput
}

func (*PhysicalNestedLoopJoin) Kind() OperatorKind { return OperatorNestedLoopJoin }

func (j *PhysicalNestedLoopJoin) String() string {
	if j.Condition == nil {
		return "NestedLoopJoin"
	}
	return "NestedLoopJoin where " + j.Condition.String()
}

type PhysicalAsofJoin struct {
	physicalBase
	LeftKey   expr.Expr
	RightKey  expr.Expr
	KeyType   datatype.DataType
	Strategy  AsofStrategy
	Tolerance *float64
	Columns   []JoinOutput
}

func (*PhysicalAsofJoin) Kind() OperatorKind { return OperatorAsofJoin }

func (j *PhysicalAsofJoin) String() string {
	s := fmt.Sprintf("AsofJoin %s on %s = %s", j.Strategy, j.LeftKey, j.RightKey)
	if j.Tolerance != nil {
		s += fmt.Sprintf(" tolerance=%g", *j.Tolerance)
	}
	return s
}

type PhysicalGroupBy struct {
	physicalBase
	Keys []expr.Expr
	Aggs []expr.Expr
}

func (*PhysicalGroupBy) Kind() OperatorKind { return OperatorGroupBy }

func (g *PhysicalGroupBy) String() string {
	return fmt.Sprintf("GroupBy keys=%s aggs=%s", exprList(g.Keys), exprList(g.Aggs))
}

// PhysicalDynamicGroupBy groups rows into windows of the Index column:
// window i starts at offset + i*every and spans period. A row belongs to
// every window that contains it.
type PhysicalDynamicGroupBy struct {
	physicalBase
	Keys   []expr.Expr
	Aggs   []expr.Expr
	Window DynamicWindow
	Index  *expr.Column
}

func (*PhysicalDynamicGroupBy) Kind() OperatorKind { return OperatorDynamicGroupBy }

func (g *PhysicalDynamicGroupBy) String() string {
	return fmt.Sprintf("DynamicGroupBy %s keys=%s aggs=%s", g.Window, exprList(g.Keys), exprList(g.Aggs))
}

type PhysicalSort struct {
	physicalBase
	Keys []*expr.SortBy
}

func (*PhysicalSort) Kind() OperatorKind { return OperatorSort }

func (s *PhysicalSort) String() string {
	parts := make([]string, len(s.Keys))
	for i, k := range s.Keys {
		parts[i] = k.String()
	}
	return "Sort [" + strings.Join(parts, ", ") + "]"
}

type PhysicalSlice struct {
	physicalBase
	Offset int64
	Length int64
}

func (*PhysicalSlice) Kind() OperatorKind { return OperatorSlice }

func (s *PhysicalSlice) String() string {
	return fmt.Sprintf("Slice offset=%d length=%d", s.Offset, s.Length)
}

// PhysicalDistinct compares the columns at Subset, or every column when
// Subset is nil.
type PhysicalDistinct struct {
	physicalBase
	Subset []int
	Keep   DistinctKeep
}

func (*PhysicalDistinct) Kind() OperatorKind { return OperatorDistinct }

func (d *PhysicalDistinct) String() string {
	subset := "*"
	if d.Subset != nil {
		names := make([]string, len(d.Subset))
		for i, idx := range d.Subset {
			names[i] = d.schema.Column(idx).Name
		}
		subset = columnList(names)
	}
	return fmt.Sprintf("Unique subset=%s keep=%s", subset, d.Keep)
}

type PhysicalUnion struct {
	physicalBase
}

func (*PhysicalUnion) Kind() OperatorKind { return OperatorUnion }
func (*PhysicalUnion) String() string     { return "Union" }

// PhysicalCache produces the rows of its input once per ID and query.
type PhysicalCache struct {
	physicalBase
	ID uint64
}

func (*PhysicalCache) Kind() OperatorKind { return OperatorCache }
func (c *PhysicalCache) String() string   { return fmt.Sprintf("Cache id=%016x", c.ID) }

// WalkPhysical calls fn for plan and its inputs, depth first, until fn
// returns false.
func WalkPhysical(plan PhysicalPlan, fn func(PhysicalPlan) bool) {
	if !fn(plan) {
		return
	}
	for _, c := range plan.Children() {
		WalkPhysical(c, fn)
	}
}
