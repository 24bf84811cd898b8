package planner

import (
	"slices"

	"github.com/dshills/QuantaFrame/internal/expr"
)

// ProjectionPushdown prunes every operator to the columns its ancestors
// consume. It walks the plan top-down, accumulating the required columns.
type ProjectionPushdown struct {
	walker *walker
}

func (r *ProjectionPushdown) Name() string { return "projection_pushdown" }

func (r *ProjectionPushdown) Apply(plan LogicalPlan) (LogicalPlan, bool, error) {
	out, err := r.prune(plan, nil)
	if err != nil {
		return nil, false, err
	}
	return out, Fingerprint(out) != Fingerprint(plan), nil
}

// prune rewrites plan to produce at least the required columns. A nil
// requirement keeps every column.
func (r *ProjectionPushdown) prune(plan LogicalPlan, required *ColumnSet) (LogicalPlan, error) {
	switch p := plan.(type) {
	case *Scan:
		return r.pruneScan(p, required)

	case *Select:
		exprs := p.Exprs
		if required != nil {
			exprs = keepRequired(exprs, required)
		}
		child, err := r.prune(p.input(), columnsOf(exprs))
		if err != nil {
			return nil, err
		}
		if names, ok := plainColumns(exprs); ok {
			if scan, isScan := child.(*Scan); isScan {
				return newScan(scan.Source, names, scan.Predicate, scan.Slice)
			}
			if slices.Equal(names, child.Schema().Names()) {
				return child, nil
			}
		}
		return NewSelect(child, exprs)

	case *HStack:
		if required == nil {
			required = NewColumnSet(p.Schema().Names()...)
		}
		var kept []expr.Expr
		for _, e := range p.Exprs {
			if required.Contains(expr.OutputName(e)) {
				kept = append(kept, e)
			}
		}
		childReq := required.Clone()
		childReq.AddExprs(kept...)
		child, err := r.prune(p.input(), childReq)
		if err != nil || len(kept) == 0 {
			return child, err
		}
		return NewHStack(child, kept)

	case *Filter:
		return r.pruneInput(p, withExprs(required, p.Predicate))

	case *Sort:
		keys := make([]expr.Expr, len(p.Keys))
		for i, k := range p.Keys {
			keys[i] = k
		}
		return r.pruneInput(p, withExprs(required, keys...))

	case *Slice:
		return r.pruneInput(p, required)

	case *Distinct:
		if p.Subset == nil {
			return r.pruneInput(p, nil)
		}
		req := withExprs(required)
		if req != nil {
			req.Add(p.Subset...)
		}
		return r.pruneInput(p, req)

	case *Cache:
		// Every cache with this id must produce the same columns.
		return r.pruneInput(p, nil)

	case *GroupBy:
		aggs := p.Aggs
		if required != nil {
			aggs = nil
			for _, a := range p.Aggs {
				if required.Contains(expr.OutputName(a)) {
					aggs = append(aggs, a)
				}
			}
			if len(p.Keys) == 0 && len(aggs) == 0 && p.Dynamic == nil {
				aggs = p.Aggs[:1]
			}
		}
		childReq := NewColumnSet()
		childReq.AddExprs(p.Keys...)
		childReq.AddExprs(aggs...)
		if p.Dynamic != nil {
			childReq.Add(p.Dynamic.Index)
		}
		child, err := r.prune(p.input(), childReq)
		if err != nil {
			return nil, err
		}
		return NewGroupBy(child, p.Keys, aggs, p.Dynamic)

	case *Join:
		return r.pruneJoin(p, required)

	case *Union:
		return r.pruneUnion(p, required)
	}
	return plan, nil
}

func (r *ProjectionPushdown) pruneInput(plan LogicalPlan, required *ColumnSet) (LogicalPlan, error) {
	child, err := r.prune(plan.Children()[0], required)
	if err != nil {
		return nil, err
	}
	return plan.WithChildren([]LogicalPlan{child})
}

func (r *ProjectionPushdown) pruneScan(s *Scan, required *ColumnSet) (LogicalPlan, error) {
	if required == nil {
		return s, nil
	}
	names := s.Schema().Names()
	keep := required.Filter(names)
	if len(keep) == 0 && len(names) > 0 {
		// Something above still counts the rows.
		keep = names[:1]
	}
	if len(keep) == len(names) {
		return s, nil
	}
	return newScan(s.Source, keep, s.Predicate, s.Slice)
}

func (r *ProjectionPushdown) pruneJoin(j *Join, required *ColumnSet) (LogicalPlan, error) {
	sides := [2]*ColumnSet{NewColumnSet(), NewColumnSet()}
	need := func(name string) {
		idx, ok := j.schema.Index(name)
		if !ok {
			return
		}
		out := j.outputs[idx]
		sides[out.Side].Add(out.Name)
		if out.Side == RightSide && out.Name != name {
			// Keep the colliding left column so the suffix still applies.
			sides[LeftSide].Add(out.Name)
		}
	}
	if required == nil {
		for _, name := range j.schema.Names() {
			need(name)
		}
	} else {
		for _, name := range required.ToSlice() {
			need(name)
		}
	}
	sides[LeftSide].AddExprs(j.LeftOn...)
	sides[RightSide].AddExprs(j.RightOn...)
	if j.Condition != nil {
		for _, c := range expr.Columns(j.Condition) {
			need(c)
		}
	}

	out, _, err := r.walker.mapChildrenIndexed(j, func(i int, c LogicalPlan) (LogicalPlan, bool, error) {
		n, err := r.prune(c, sides[i])
		return n, true, err
	})
	return out, err
}

func (r *ProjectionPushdown) pruneUnion(u *Union, required *ColumnSet) (LogicalPlan, error) {
	var target []string
	if required != nil {
		target = required.Filter(u.Schema().Names())
		if len(target) == 0 {
			target = u.Schema().Names()[:1]
		}
	}
	out, _, err := r.walker.mapChildren(u, func(c LogicalPlan) (LogicalPlan, bool, error) {
		n, err := r.prune(c, required)
		if err != nil || target == nil || slices.Equal(n.Schema().Names(), target) {
			return n, true, err
		}
		sel, err := NewSelect(n, expr.Cols(target...))
		return sel, true, err
	})
	return out, err
}

// keepRequired returns the projections whose output is required, or the
// first projection when none is.
func keepRequired(exprs []expr.Expr, required *ColumnSet) []expr.Expr {
	var kept []expr.Expr
	for _, e := range exprs {
		if required.Contains(expr.OutputName(e)) {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		kept = exprs[:1]
	}
	return kept
}

// plainColumns returns the names of exprs when every one is an unaliased
// column reference.
func plainColumns(exprs []expr.Expr) ([]string, bool) {
	names := make([]string, len(exprs))
	for i, e := range exprs {
		c, ok := e.(*expr.Column)
		if !ok {
			return nil, false
		}
		names[i] = c.Name
	}
	return names, true
}

func columnsOf(exprs []expr.Expr) *ColumnSet {
	cs := NewColumnSet()
	cs.AddExprs(exprs...)
	return cs
}

// withExprs extends a requirement with the columns of exprs. The nil
// requirement stays nil.
func withExprs(required *ColumnSet, exprs ...expr.Expr) *ColumnSet {
	if required == nil {
		return nil
	}
	out := required.Clone()
	out.AddExprs(exprs...)
	return out
}
