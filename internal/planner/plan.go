package planner

import (
	"fmt"
	"strings"

	"github.com/dshills/QuantaFrame/internal/datatype"
)

// LogicalPlan represents a node in a logical plan tree.
type LogicalPlan interface {
	// Children returns the input plans.
	Children() []LogicalPlan
	// Schema returns the output schema of this node.
	Schema() *datatype.Schema
	// String describes this node without its children.
	String() string
	// WithChildren rebuilds the node over new inputs, resolving its schema
	// again.
	WithChildren(children []LogicalPlan) (LogicalPlan, error)
	logicalNode()
}

// basePlan provides common functionality for plan nodes.
type basePlan struct {
	children []LogicalPlan
	schema   *datatype.Schema
}

func (p *basePlan) Children() []LogicalPlan {
	return p.children
}

func (p *basePlan) Schema() *datatype.Schema {
	return p.schema
}

func (p *basePlan) logicalNode() {}

func (p *basePlan) input() LogicalPlan {
	return p.children[0]
}

// JoinType represents the type of join.
type JoinType int

const (
	InnerJoin JoinType = iota
	LeftJoin
	FullJoin
	SemiJoin
	AntiJoin
	CrossJoin
	AsofJoin
)

func (j JoinType) String() string {
	switch j {
	case InnerJoin:
		return "Inner"
	case LeftJoin:
		return "Left"
	case FullJoin:
		return "Full"
	case SemiJoin:
		return "Semi"
	case AntiJoin:
		return "Anti"
	case CrossJoin:
		return "Cross"
	case AsofJoin:
		return "Asof"
	default:
		return fmt.Sprintf("Unknown(%d)", j)
	}
}

// ParseJoinType accepts the lower-case join names.
func ParseJoinType(s string) (JoinType, bool) {
	switch strings.ToLower(s) {
	case "inner":
		return InnerJoin, true
	case "left":
		return LeftJoin, true
	case "full", "outer":
		return FullJoin, true
	case "semi":
		return SemiJoin, true
	case "anti":
		return AntiJoin, true
	case "cross":
		return CrossJoin, true
	case "asof":
		return AsofJoin, true
	}
	return 0, false
}

// Side names one input of a join.
type Side int

const (
	LeftSide Side = iota
	RightSide
)

func (s Side) String() string {
	if s == RightSide {
		return "right"
	}
	return "left"
}

// AsofStrategy selects which neighbouring key an asof join matches.
type AsofStrategy int

const (
	// AsofBackward matches the last right key less than or equal to the
	// left key.
	AsofBackward AsofStrategy = iota
	// AsofForward matches the first right key greater than or equal to the
	// left key.
	AsofForward
	// AsofNearest matches the closest right key; ties go backward.
	AsofNearest
)

func (s AsofStrategy) String() string {
	switch s {
	case AsofForward:
		return "forward"
	case AsofNearest:
		return "nearest"
	}
	return "backward"
}

// ParseAsofStrategy parses backward, forward or nearest.
func ParseAsofStrategy(s string) (AsofStrategy, bool) {
	switch strings.ToLower(s) {
	case "", "backward":
		return AsofBackward, true
	case "forward":
		return AsofForward, true
	case "nearest":
		return AsofNearest, true
	}
	return 0, false
}

// AsofOptions configures an asof join.
type AsofOptions struct {
	Strategy AsofStrategy
	// Tolerance bounds the key distance of a match. Nil means unbounded.
	Tolerance *float64
}

// DistinctKeep selects which duplicate row Unique retains.
type DistinctKeep int

const (
	KeepFirst DistinctKeep = iota
	KeepLast
	KeepAny
	// KeepNone drops every row whose key occurs more than once.
	KeepNone
)

func (k DistinctKeep) String() string {
	switch k {
	case KeepLast:
		return "last"
	case KeepAny:
		return "any"
	case KeepNone:
		return "none"
	}
	return "first"
}

// ParseDistinctKeep parses first, last, any or none.
func ParseDistinctKeep(s string) (DistinctKeep, bool) {
	switch strings.ToLower(s) {
	case "", "first":
		return KeepFirst, true
	case "last":
		return KeepLast, true
	case "any":
		return KeepAny, true
	case "none":
		return KeepNone, true
	}
	return 0, false
}

// DynamicWindow buckets rows by an integer or temporal index column. Window
// k covers [start+k*Every, start+k*Every+Period) where start is the first
// index value rounded down to a multiple of Every, shifted by Offset.
type DynamicWindow struct {
	Index  string
	Every  int64
	Period int64
	Offset int64
}

func (w DynamicWindow) String() string {
	return fmt.Sprintf("index=%s every=%d period=%d offset=%d", w.Index, w.Every, w.Period, w.Offset)
}

// Walk visits plan and its inputs in pre-order. Returning false from fn
// skips the inputs of the current node.
func Walk(plan LogicalPlan, fn func(LogicalPlan) bool) {
	if plan == nil || !fn(plan) {
		return
	}
	for _, c := range plan.Children() {
		Walk(c, fn)
	}
}

// Resolve recomputes the output schema of plan bottom-up from its leaves.
func Resolve(plan LogicalPlan) (*datatype.Schema, error) {
	rebuilt, err := rebuild(plan)
	if err != nil {
		return nil, err
	}
	return rebuilt.Schema(), nil
}

func rebuild(plan LogicalPlan) (LogicalPlan, error) {
	children := plan.Children()
	if len(children) == 0 {
		return plan, nil
	}
	next := make([]LogicalPlan, len(children))
	for i, c := range children {
		r, err := rebuild(c)
		if err != nil {
			return nil, err
		}
		next[i] = r
	}
	return plan.WithChildren(next)
}

func columnList(names []string) string {
	return "[" + strings.Join(names, ", ") + "]"
}
