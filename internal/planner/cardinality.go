package planner

import (
	"math"

	"github.com/dshills/QuantaFrame/internal/expr"
)

const (
	// defaultRows is assumed for sources without statistics.
	defaultRows = 1000
	// defaultSelectivity is the fraction of rows a predicate of unknown
	// shape keeps.
	defaultSelectivity    = 0.1
	equalitySelectivity   = 0.05
	rangeSelectivity      = 0.3
	groupingReduction     = 0.1
	inequalitySelectivity = 0.3
)

// Estimate is an estimated row count. Known is false when any source in the
// sub-plan lacked statistics.
type Estimate struct {
	Rows  float64
	Known bool
}

// RowCount returns the estimate rounded to whole rows.
func (e Estimate) RowCount() int64 {
	return int64(math.Ceil(e.Rows))
}

// EstimateRows estimates the number of rows plan produces.
func EstimateRows(plan LogicalPlan) Estimate {
	switch p := plan.(type) {
	case *Scan:
		est := Estimate{Rows: defaultRows}
		if n, ok := p.Source.Statistics(); ok {
			est = Estimate{Rows: float64(n), Known: true}
		}
		if p.Predicate != nil {
			est.Rows *= Selectivity(p.Predicate)
		}
		if p.Slice != nil {
			est.Rows = sliceRows(est.Rows, p.Slice.Offset, p.Slice.Length)
		}
		return est

	case *Filter:
		est := EstimateRows(p.input())
		est.Rows *= Selectivity(p.Predicate)
		return est

	case *Slice:
		est := EstimateRows(p.input())
		est.Rows = sliceRows(est.Rows, p.Offset, p.Length)
		return est

	case *GroupBy:
		est := EstimateRows(p.input())
		if len(p.Keys) == 0 && p.Dynamic == nil {
			return Estimate{Rows: 1, Known: est.Known}
		}
		est.Rows = math.Max(1, est.Rows*groupingReduction)
		return est

	case *Join:
		l, r := EstimateRows(p.left()), EstimateRows(p.right())
		est := Estimate{Known: l.Known && r.Known}
		switch {
		case p.Type == CrossJoin:
			est.Rows = l.Rows * r.Rows
		case p.Condition != nil:
			est.Rows = l.Rows * r.Rows * inequalitySelectivity
		case p.Type == InnerJoin:
			est.Rows = math.Max(l.Rows, r.Rows)
		case p.Type == FullJoin:
			est.Rows = l.Rows + r.Rows
		case p.Type == SemiJoin, p.Type == AntiJoin:
			est.Rows = l.Rows / 2
		default:
			est.Rows = l.Rows
		}
		return est

	case *Union:
		est := Estimate{Known: true}
		for _, c := range p.children {
			ce := EstimateRows(c)
			est.Rows += ce.Rows
			est.Known = est.Known && ce.Known
		}
		return est
	}

	// Select, HStack, Sort, Distinct and Cache keep the row count of their
	// input.
	children := plan.Children()
	if len(children) == 0 {
		return Estimate{Rows: defaultRows}
	}
	return EstimateRows(children[0])
}

func sliceRows(rows float64, offset, length int64) float64 {
	return math.Max(0, math.Min(rows-float64(offset), float64(length)))
}

// Selectivity estimates the fraction of rows pred keeps.
func Selectivity(pred expr.Expr) float64 {
	b, ok := pred.(*expr.Binary)
	if !ok {
		if l, isLit := pred.(*expr.Literal); isLit {
			if v, isBool := l.Value.(bool); isBool && v {
				return 1
			}
		}
		return defaultSelectivity
	}
	switch b.Op {
	case expr.OpAnd:
		return Selectivity(b.Left) * Selectivity(b.Right)
	case expr.OpOr:
		l, r := Selectivity(b.Left), Selectivity(b.Right)
		return l + r - l*r
	case expr.OpEq:
		return equalitySelectivity
	case expr.OpNotEq:
		return 1 - equalitySelectivity
	case expr.OpLt, expr.OpLtEq, expr.OpGt, expr.OpGtEq:
		return rangeSelectivity
	}
	return defaultSelectivity
}
