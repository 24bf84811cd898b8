package planner

import (
	"maps"

	"github.com/dshills/QuantaFrame/internal/expr"
)

// PredicatePushdown moves filter conjuncts towards the scans. A conjunct
// passes an operator only when that cannot change which rows it keeps.
type PredicatePushdown struct {
	walker *walker
}

func (r *PredicatePushdown) Name() string { return "predicate_pushdown" }

func (r *PredicatePushdown) Apply(plan LogicalPlan) (LogicalPlan, bool, error) {
	out, err := r.push(plan, nil)
	if err != nil {
		return nil, false, err
	}
	return out, Fingerprint(out) != Fingerprint(plan), nil
}

// push returns plan with preds applied on top of it, as deep as they can go.
// preds reference the output columns of plan.
func (r *PredicatePushdown) push(plan LogicalPlan, preds []expr.Expr) (LogicalPlan, error) {
	switch p := plan.(type) {
	case *Filter:
		conj := expr.SplitConjunction(p.Predicate)
		for _, c := range conj {
			if !pushable(c) {
				// The filter sees the rows of its input as a whole, so
				// neither its own conjuncts nor those above may cross it.
				child, err := r.push(p.input(), nil)
				if err != nil {
					return nil, err
				}
				node, err := NewFilter(child, p.Predicate)
				if err != nil {
					return nil, err
				}
				return withFilter(node, preds)
			}
		}
		return r.push(p.input(), mergePredicates(conj, preds))

	case *Scan:
		return r.pushIntoScan(p, preds)

	case *Select:
		return r.pushThroughProjection(p, p.Exprs, preds)

	case *HStack:
		return r.pushThroughProjection(p, p.Exprs, preds)

	case *Sort:
		child, err := r.push(p.input(), preds)
		if err != nil {
			return nil, err
		}
		return p.WithChildren([]LogicalPlan{child})

	case *Join:
		return r.pushThroughJoin(p, preds)

	case *GroupBy:
		var below, above []expr.Expr
		for _, pred := range preds {
			if renamed, ok := renameThroughKeys(p, pred); ok {
				below = append(below, renamed)
			} else {
				above = append(above, pred)
			}
		}
		return r.pushAndWrap(p, below, above)

	case *Distinct:
		var below, above []expr.Expr
		subset := NewColumnSet(p.Subset...)
		for _, pred := range preds {
			cols := expr.Columns(pred)
			if p.Subset == nil || len(subset.Filter(cols)) == len(cols) {
				below = append(below, pred)
			} else {
				above = append(above, pred)
			}
		}
		return r.pushAndWrap(p, below, above)

	case *Union:
		out, _, err := r.walker.mapChildren(p, func(c LogicalPlan) (LogicalPlan, bool, error) {
			n, err := r.push(c, preds)
			return n, true, err
		})
		return out, err
	}

	// Slice and Cache are barriers.
	return r.pushAndWrap(plan, nil, preds)
}

// pushAndWrap pushes below into the single input of plan and keeps above
// as a filter over it.
func (r *PredicatePushdown) pushAndWrap(plan LogicalPlan, below, above []expr.Expr) (LogicalPlan, error) {
	child, err := r.push(plan.Children()[0], below)
	if err != nil {
		return nil, err
	}
	node, err := plan.WithChildren([]LogicalPlan{child})
	if err != nil {
		return nil, err
	}
	return withFilter(node, above)
}

func (r *PredicatePushdown) pushIntoScan(s *Scan, preds []expr.Expr) (LogicalPlan, error) {
	if len(preds) == 0 || s.Slice != nil {
		// A scan filters before it slices.
		return withFilter(s, preds)
	}
	var conj []expr.Expr
	if s.Predicate != nil {
		conj = expr.SplitConjunction(s.Predicate)
	}
	var above []expr.Expr
	for _, pred := range preds {
		if s.Source.SupportsPredicate(pred) {
			conj = mergePredicates(conj, []expr.Expr{pred})
		} else {
			above = append(above, pred)
		}
	}
	var predicate expr.Expr
	if len(conj) > 0 {
		predicate = expr.And(conj...)
	}
	scan, err := newScan(s.Source, s.Projection, predicate, nil)
	if err != nil {
		return nil, err
	}
	return withFilter(scan, above)
}

// pushThroughProjection moves predicates on passed-through columns below a
// Select or HStack. Predicates on computed columns stay above.
func (r *PredicatePushdown) pushThroughProjection(plan LogicalPlan, exprs []expr.Expr, preds []expr.Expr) (LogicalPlan, error) {
	for _, e := range exprs {
		if !expr.IsElementwise(e) {
			return r.pushAndWrap(plan, nil, preds)
		}
	}
	_, replacesAll := plan.(*Select)
	produced := make(map[string]expr.Expr, len(exprs))
	for _, e := range exprs {
		produced[expr.OutputName(e)] = e
	}

	var below, above []expr.Expr
	for _, pred := range preds {
		mapping := map[string]string{}
		ok := true
		for _, col := range expr.Columns(pred) {
			e, found := produced[col]
			if !found {
				if replacesAll {
					ok = false
				}
				continue
			}
			name, isRef := expr.IsColumnRef(e)
			if !isRef {
				ok = false
				break
			}
			mapping[col] = name
		}
		if ok {
			below = append(below, expr.RenameColumns(pred, mapping))
		} else {
			above = append(above, pred)
		}
	}
	return r.pushAndWrap(plan, below, above)
}

func (r *PredicatePushdown) pushThroughJoin(j *Join, preds []expr.Expr) (LogicalPlan, error) {
	var above []expr.Expr
	sides := [2][]expr.Expr{}
	pushed := j.pushed

	for _, pred := range preds {
		cols := expr.Columns(pred)
		side, names, ok := j.sideOf(cols)
		if !ok {
			above = append(above, pred)
			continue
		}
		renamed := expr.RenameColumns(pred, names)

		switch j.Type {
		case InnerJoin, CrossJoin:
			sides[side] = append(sides[side], renamed)
		case LeftJoin, AsofJoin, SemiJoin:
			if side == LeftSide {
				sides[side] = append(sides[side], renamed)
			} else {
				above = append(above, pred)
			}
		case FullJoin:
			// A predicate that rejects the nulls a full join pads one side
			// with may also filter that side's input. It stays above to
			// drop the padded rows.
			above = append(above, pred)
			h := expr.Hash(pred)
			if nullRejecting(pred, NewColumnSet(cols...)) && !pushed[h] {
				sides[side] = append(sides[side], renamed)
				pushed = maps.Clone(pushed)
				if pushed == nil {
					pushed = map[uint64]bool{}
				}
				pushed[h] = true
			}
		default:
			// Anti joins keep rows by the absence of a match; nothing moves.
			above = append(above, pred)
		}
	}

	out, _, err := r.walker.mapChildrenIndexed(j, func(i int, c LogicalPlan) (LogicalPlan, bool, error) {
		n, err := r.push(c, sides[i])
		return n, true, err
	})
	if err != nil {
		return nil, err
	}
	out.(*Join).pushed = pushed
	return withFilter(out, above)
}

// renameThroughKeys rewrites pred over the input of a group-by when it only
// references keys that are plain columns.
func renameThroughKeys(g *GroupBy, pred expr.Expr) (expr.Expr, bool) {
	if g.Dynamic != nil {
		return nil, false
	}
	keys := map[string]string{}
	for _, k := range g.Keys {
		if name, ok := expr.IsColumnRef(k); ok {
			keys[expr.OutputName(k)] = name
		}
	}
	cols := expr.Columns(pred)
	if len(cols) == 0 {
		return nil, false
	}
	mapping := map[string]string{}
	for _, c := range cols {
		name, ok := keys[c]
		if !ok {
			return nil, false
		}
		mapping[c] = name
	}
	return expr.RenameColumns(pred, mapping), true
}

// pushable reports whether a conjunct evaluates each row on its own.
func pushable(pred expr.Expr) bool {
	return expr.IsElementwise(pred) && expr.IsDeterministic(pred) && !expr.IsIndexDependent(pred)
}

// mergePredicates appends more to preds, skipping duplicates.
func mergePredicates(preds, more []expr.Expr) []expr.Expr {
	out := append([]expr.Expr(nil), preds...)
	for _, m := range more {
		dup := false
		for _, p := range out {
			if expr.Equal(p, m) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, m)
		}
	}
	return out
}

func withFilter(plan LogicalPlan, preds []expr.Expr) (LogicalPlan, error) {
	if len(preds) == 0 {
		return plan, nil
	}
	return NewFilter(plan, expr.And(preds...))
}

// nullPropagatingFunctions return null when any argument is null.
var nullPropagatingFunctions = map[string]bool{
	"abs": true, "round": true, "sqrt": true, "exp": true, "log": true,
	"lower": true, "upper": true, "str_len": true, "contains": true, "year": true,
}

// nullRejecting reports whether pred is false or null whenever every column
// in cols is null.
func nullRejecting(pred expr.Expr, cols *ColumnSet) bool {
	switch e := pred.(type) {
	case *expr.Binary:
		switch e.Op {
		case expr.OpAnd:
			return nullRejecting(e.Left, cols) || nullRejecting(e.Right, cols)
		case expr.OpOr:
			return nullRejecting(e.Left, cols) && nullRejecting(e.Right, cols)
		}
	case *expr.Unary:
		if e.Op == expr.OpIsNotNull || e.Op == expr.OpNot {
			return nullPropagating(e.Input, cols)
		}
		if e.Op == expr.OpIsNull {
			return false
		}
	}
	return nullPropagating(pred, cols)
}

// nullPropagating reports whether e is null whenever every column in cols
// is null.
func nullPropagating(e expr.Expr, cols *ColumnSet) bool {
	switch n := e.(type) {
	case *expr.Column:
		return cols.Contains(n.Name)
	case *expr.Binary:
		if n.Op.IsLogical() {
			return false
		}
		return nullPropagating(n.Left, cols) || nullPropagating(n.Right, cols)
	case *expr.Unary:
		if n.Op == expr.OpNot || n.Op == expr.OpNeg {
			return nullPropagating(n.Input, cols)
		}
	case *expr.Cast:
		return nullPropagating(n.Input, cols)
	case *expr.Alias:
		return nullPropagating(n.Input, cols)
	case *expr.Function:
		if !nullPropagatingFunctions[n.Name] {
			return false
		}
		for _, a := range n.Args {
			if nullPropagating(a, cols) {
				return true
			}
		}
	}
	return false
}
