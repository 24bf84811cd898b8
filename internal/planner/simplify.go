package planner

import (
	"github.com/dshills/QuantaFrame/internal/datatype"
	"github.com/dshills/QuantaFrame/internal/eval"
	"github.com/dshills/QuantaFrame/internal/expr"
)

// Simplify folds constant subexpressions, turns the implicit numeric casts
// of binary operators into explicit Cast nodes and removes casts to the
// type a value already has.
type Simplify struct {
	walker *walker
}

func (r *Simplify) Name() string { return "simplify" }

func (r *Simplify) Apply(plan LogicalPlan) (LogicalPlan, bool, error) {
	out, _, err := r.walker.bottomUp(plan, r.rewrite)
	if err != nil {
		return nil, false, err
	}
	return out, Fingerprint(out) != Fingerprint(plan), nil
}

func (r *Simplify) rewrite(plan LogicalPlan) (LogicalPlan, bool, error) {
	switch p := plan.(type) {
	case *Scan:
		if p.Predicate == nil {
			return p, false, nil
		}
		pred, err := simplifyExpr(p.Predicate, p.Source.Schema())
		if err != nil {
			return nil, false, err
		}
		if isTrue(pred) {
			pred = nil
		}
		s, err := newScan(p.Source, p.Projection, pred, p.Slice)
		return s, err == nil, err

	case *Filter:
		pred, err := simplifyExpr(p.Predicate, p.input().Schema())
		if err != nil {
			return nil, false, err
		}
		if isTrue(pred) {
			return p.input(), true, nil
		}
		f, err := NewFilter(p.input(), pred)
		return f, err == nil, err

	case *Select:
		exprs, err := simplifyProjections(p.Exprs, p.input().Schema())
		if err != nil {
			return nil, false, err
		}
		s, err := NewSelect(p.input(), exprs)
		return s, err == nil, err

	case *HStack:
		exprs, err := simplifyProjections(p.Exprs, p.input().Schema())
		if err != nil {
			return nil, false, err
		}
		h, err := NewHStack(p.input(), exprs)
		return h, err == nil, err

	case *GroupBy:
		keys, err := simplifyProjections(p.Keys, p.input().Schema())
		if err != nil {
			return nil, false, err
		}
		aggs, err := simplifyProjections(p.Aggs, p.input().Schema())
		if err != nil {
			return nil, false, err
		}
		g, err := NewGroupBy(p.input(), keys, aggs, p.Dynamic)
		return g, err == nil, err

	case *Sort:
		keys := make([]*expr.SortBy, len(p.Keys))
		for i, k := range p.Keys {
			in, err := simplifyExpr(k.Input, p.input().Schema())
			if err != nil {
				return nil, false, err
			}
			keys[i] = &expr.SortBy{Input: in, Descending: k.Descending, NullsLast: k.NullsLast}
		}
		s, err := NewSort(p.input(), keys)
		return s, err == nil, err

	case *Join:
		if p.Condition == nil {
			return p, false, nil
		}
		cond, err := simplifyExpr(p.Condition, p.Schema())
		if err != nil {
			return nil, false, err
		}
		spec := p.JoinSpec
		spec.Condition = cond
		j, err := p.withSpec(spec)
		return j, err == nil, err
	}
	return plan, false, nil
}

// simplifyProjections simplifies each expression without changing the
// name or type of the column it produces.
func simplifyProjections(exprs []expr.Expr, schema *datatype.Schema) ([]expr.Expr, error) {
	out := make([]expr.Expr, len(exprs))
	for i, e := range exprs {
		before, err := expr.Field(e, schema)
		if err != nil {
			return nil, err
		}
		s, err := simplifyExpr(e, schema)
		if err != nil {
			return nil, err
		}
		after, err := expr.Field(s, schema)
		if err != nil || !after.Type.Equal(before.Type) {
			out[i] = e
			continue
		}
		if after.Name != before.Name {
			s = expr.As(s, before.Name)
		}
		out[i] = s
	}
	return out, nil
}

func simplifyExpr(e expr.Expr, schema *datatype.Schema) (expr.Expr, error) {
	return expr.Transform(e, func(n expr.Expr) (expr.Expr, error) {
		switch x := n.(type) {
		case *expr.Cast:
			from, err := expr.TypeOf(x.Input, schema)
			if err != nil {
				return nil, err
			}
			if from.Equal(x.To) {
				return x.Input, nil
			}
			if lit, ok := x.Input.(*expr.Literal); ok {
				if folded, ok := castLiteral(lit, x.To); ok {
					return folded, nil
				}
			}
			return x, nil

		case *expr.Binary:
			if out, ok := simplifyLogical(x); ok {
				return out, nil
			}
			if isLiteral(x.Left) && isLiteral(x.Right) {
				return foldConstant(x), nil
			}
			return explicitCasts(x, schema)

		case *expr.Unary:
			if inner, ok := x.Input.(*expr.Unary); ok && x.Op == expr.OpNot && inner.Op == expr.OpNot {
				return inner.Input, nil
			}
			if isLiteral(x.Input) {
				return foldConstant(x), nil
			}

		case *expr.Function:
			spec, ok := expr.LookupFunction(x.Name)
			if !ok || !spec.Deterministic || !spec.Elementwise || len(x.Args) == 0 {
				return x, nil
			}
			for _, a := range x.Args {
				if !isLiteral(a) {
					return x, nil
				}
			}
			return foldConstant(x), nil
		}
		return n, nil
	})
}

// simplifyLogical applies the identities of and/or with a boolean literal.
func simplifyLogical(b *expr.Binary) (expr.Expr, bool) {
	if b.Op != expr.OpAnd && b.Op != expr.OpOr {
		return nil, false
	}
	for _, pair := range [][2]expr.Expr{{b.Left, b.Right}, {b.Right, b.Left}} {
		v, ok := boolLiteral(pair[0])
		if !ok {
			continue
		}
		switch {
		case b.Op == expr.OpAnd && v, b.Op == expr.OpOr && !v:
			return pair[1], true
		default:
			return expr.Lit(v), true
		}
	}
	return nil, false
}

// explicitCasts casts the operands of a numeric binary expression to the
// type they are compared or computed in.
func explicitCasts(b *expr.Binary, schema *datatype.Schema) (expr.Expr, error) {
	if b.Op.IsLogical() {
		return b, nil
	}
	lt, err := expr.TypeOf(b.Left, schema)
	if err != nil {
		return nil, err
	}
	rt, err := expr.TypeOf(b.Right, schema)
	if err != nil {
		return nil, err
	}
	if !lt.IsNumeric() || !rt.IsNumeric() || lt.Equal(rt) {
		return b, nil
	}
	st, ok := expr.OperandType(b.Op, lt, rt)
	if !ok || !st.IsNumeric() {
		return b, nil
	}
	left, right := castOperand(b.Left, lt, st), castOperand(b.Right, rt, st)
	if left == b.Left && right == b.Right {
		return b, nil
	}
	return &expr.Binary{Op: b.Op, Left: left, Right: right}, nil
}

func castOperand(e expr.Expr, from, to datatype.DataType) expr.Expr {
	if from.Equal(to) {
		return e
	}
	if lit, ok := e.(*expr.Literal); ok {
		if folded, ok := castLiteral(lit, to); ok {
			return folded
		}
		return e
	}
	return expr.CastTo(e, to)
}

func castLiteral(lit *expr.Literal, to datatype.DataType) (*expr.Literal, bool) {
	v, err := datatype.CastValue(lit.Value, lit.Type, to, true)
	if err != nil {
		return nil, false
	}
	out, err := expr.TypedLit(v, to)
	return out, err == nil
}

// foldConstant evaluates e, keeping it unchanged when evaluation fails so
// the error surfaces at execution.
func foldConstant(e expr.Expr) expr.Expr {
	lit, err := eval.Constant(e)
	if err != nil {
		return e
	}
	return lit
}

func isLiteral(e expr.Expr) bool {
	_, ok := e.(*expr.Literal)
	return ok
}

func boolLiteral(e expr.Expr) (value, ok bool) {
	lit, isLit := e.(*expr.Literal)
	if !isLit {
		return false, false
	}
	value, ok = lit.Value.(bool)
	return value, ok
}

func isTrue(e expr.Expr) bool {
	v, ok := boolLiteral(e)
	return ok && v
}
