package planner

import (
	"fmt"

	"github.com/dshills/QuantaFrame/internal/expr"
)

const csePrefix = "__cse_"

// CSE evaluates repeated subexpressions of a Select, HStack or GroupBy
// once. Each repeated subtree is computed by a with-columns node below the
// operator and referenced by name. Only deterministic, elementwise
// subtrees that do not depend on row positions qualify.
type CSE struct {
	walker *walker
}

func (r *CSE) Name() string { return "cse" }

func (r *CSE) Apply(plan LogicalPlan) (LogicalPlan, bool, error) {
	return r.walker.bottomUp(plan, func(p LogicalPlan) (LogicalPlan, bool, error) {
		switch n := p.(type) {
		case *Select:
			return r.rewriteSelect(n)
		case *HStack:
			return r.rewriteHStack(n)
		case *GroupBy:
			return r.rewriteGroupBy(n)
		}
		return p, false, nil
	})
}

func (r *CSE) rewriteSelect(s *Select) (LogicalPlan, bool, error) {
	hoisted, exprs := eliminate(s.Exprs, s.input().Schema().Names())
	if hoisted == nil {
		return s, false, nil
	}
	stack, err := NewHStack(s.input(), hoisted)
	if err != nil {
		return nil, false, err
	}
	out, err := NewSelect(stack, exprs)
	return out, err == nil, err
}

func (r *CSE) rewriteHStack(h *HStack) (LogicalPlan, bool, error) {
	hoisted, exprs := eliminate(h.Exprs, h.Schema().Names())
	if hoisted == nil {
		return h, false, nil
	}
	stack, err := NewHStack(h.input(), hoisted)
	if err != nil {
		return nil, false, err
	}
	top, err := NewHStack(stack, exprs)
	if err != nil {
		return nil, false, err
	}
	// Drop the helper columns again.
	out, err := NewSelect(top, expr.Cols(h.Schema().Names()...))
	return out, err == nil, err
}

func (r *CSE) rewriteGroupBy(g *GroupBy) (LogicalPlan, bool, error) {
	all := append(append([]expr.Expr(nil), g.Keys...), g.Aggs...)
	hoisted, exprs := eliminate(all, g.input().Schema().Names())
	if hoisted == nil {
		return g, false, nil
	}
	stack, err := NewHStack(g.input(), hoisted)
	if err != nil {
		return nil, false, err
	}
	out, err := NewGroupBy(stack, exprs[:len(g.Keys)], exprs[len(g.Keys):], g.Dynamic)
	return out, err == nil, err
}

// eliminate finds the maximal repeated subtrees of exprs. It returns them
// as aliased helper columns and exprs rewritten to reference those columns.
// taken lists names the helper columns must avoid.
func eliminate(exprs []expr.Expr, taken []string) (hoisted, rewritten []expr.Expr) {
	arena := expr.NewArena()
	for _, e := range exprs {
		arena.Add(e)
	}

	var common []expr.Expr
	chosen := map[expr.NodeID]bool{}
	for _, e := range exprs {
		expr.Walk(e, func(n expr.Expr) bool {
			if !cseCandidate(n) {
				return true
			}
			id, _ := arena.Lookup(n)
			if arena.Uses(id) < 2 {
				return true
			}
			if !chosen[id] {
				chosen[id] = true
				common = append(common, arena.Expr(id))
			}
			return false
		})
	}
	if len(common) == 0 {
		return nil, exprs
	}

	used := NewColumnSet(taken...)
	for _, e := range exprs {
		used.Add(expr.OutputName(e))
	}
	names := make(map[expr.NodeID]string, len(common))
	next := 0
	for _, c := range common {
		name := fmt.Sprintf("%s%d", csePrefix, next)
		for used.Contains(name) {
			next++
			name = fmt.Sprintf("%s%d", csePrefix, next)
		}
		next++
		used.Add(name)
		id, _ := arena.Lookup(c)
		names[id] = name
		hoisted = append(hoisted, expr.As(c, name))
	}

	rewritten = make([]expr.Expr, len(exprs))
	for i, e := range exprs {
		out := expr.TransformDown(e, func(n expr.Expr) (expr.Expr, bool) {
			if !cseCandidate(n) {
				return n, false
			}
			id, ok := arena.Lookup(n)
			if !ok || !chosen[id] {
				return n, false
			}
			return expr.Col(names[id]), true
		})
		if name := expr.OutputName(e); expr.OutputName(out) != name {
			out = expr.As(out, name)
		}
		rewritten[i] = out
	}
	return hoisted, rewritten
}

func cseCandidate(n expr.Expr) bool {
	switch n.(type) {
	case *expr.Column, *expr.Literal, *expr.Alias, *expr.SortBy, *expr.Selector, *expr.Agg, *expr.Window:
		return false
	}
	return len(expr.Columns(n)) > 0 &&
		expr.IsElementwise(n) &&
		expr.IsDeterministic(n) &&
		!expr.IsIndexDependent(n)
}
