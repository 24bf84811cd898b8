package planner

import (
	"math"

	"github.com/dshills/QuantaFrame/internal/expr"
	"github.com/dshills/QuantaFrame/internal/source"
)

// SlicePushdown moves offset/length windows into scans. A slice only passes
// operators that keep every row in place: elementwise projections and the
// branches of a union. Sort, GroupBy, Join and Filter stop it.
type SlicePushdown struct {
	walker *walker
}

func (r *SlicePushdown) Name() string { return "slice_pushdown" }

func (r *SlicePushdown) Apply(plan LogicalPlan) (LogicalPlan, bool, error) {
	out, _, err := r.walker.bottomUp(plan, func(p LogicalPlan) (LogicalPlan, bool, error) {
		s, ok := p.(*Slice)
		if !ok {
			return p, false, nil
		}
		n, err := r.place(s.input(), s.Offset, s.Length)
		return n, true, err
	})
	if err != nil {
		return nil, false, err
	}
	return out, Fingerprint(out) != Fingerprint(plan), nil
}

// place applies the window [offset, offset+length) to child as deep as it
// can go.
func (r *SlicePushdown) place(child LogicalPlan, offset, length int64) (LogicalPlan, error) {
	switch c := child.(type) {
	case *Slice:
		off, n := combineSlices(c.Offset, c.Length, offset, length)
		return r.place(c.input(), off, n)

	case *Scan:
		window := &source.Slice{Offset: offset, Length: length}
		if c.Slice != nil {
			off, n := combineSlices(c.Slice.Offset, c.Slice.Length, offset, length)
			window = &source.Slice{Offset: off, Length: n}
		}
		return newScan(c.Source, c.Projection, c.Predicate, window)

	case *Select:
		if allElementwise(c.Exprs) {
			return r.placeBelow(c, offset, length)
		}

	case *HStack:
		if allElementwise(c.Exprs) {
			return r.placeBelow(c, offset, length)
		}

	case *Union:
		// Each branch contributes at most offset+length rows.
		limit := saturatingAdd(offset, length)
		branches, _, err := r.walker.mapChildren(c, func(b LogicalPlan) (LogicalPlan, bool, error) {
			n, err := r.place(b, 0, limit)
			return n, true, err
		})
		if err != nil {
			return nil, err
		}
		return NewSlice(branches, offset, length)
	}
	return NewSlice(child, offset, length)
}

func (r *SlicePushdown) placeBelow(plan LogicalPlan, offset, length int64) (LogicalPlan, error) {
	inner, err := r.place(plan.Children()[0], offset, length)
	if err != nil {
		return nil, err
	}
	return plan.WithChildren([]LogicalPlan{inner})
}

// combineSlices returns the single window equal to applying (o2, l2) to
// the output of (o1, l1).
func combineSlices(o1, l1, o2, l2 int64) (offset, length int64) {
	return saturatingAdd(o1, o2), min(l2, max(0, l1-o2))
}

func saturatingAdd(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

func allElementwise(exprs []expr.Expr) bool {
	for _, e := range exprs {
		if !expr.IsElementwise(e) {
			return false
		}
	}
	return true
}
