package expr

import (
	"github.com/dshills/QuantaFrame/internal/datatype"
)

// Walk visits e and its descendants in pre-order. Returning false from fn
// skips the children of the current node.
func Walk(e Expr, fn func(Expr) bool) {
	if e == nil || !fn(e) {
		return
	}
	for _, c := range e.Children() {
		Walk(c, fn)
	}
}

// WithChildren returns a copy of e with its children replaced. children
// must be in the order returned by e.Children().
func WithChildren(e Expr, children []Expr) Expr {
	switch n := e.(type) {
	case *Column, *Literal, *Selector:
		return e
	case *Binary:
		return &Binary{Op: n.Op, Left: children[0], Right: children[1]}
	case *Unary:
		return &Unary{Op: n.Op, Input: children[0]}
	case *Function:
		return &Function{Name: n.Name, Args: children, Options: n.Options}
	case *Agg:
		if n.Input == nil {
			return e
		}
		return &Agg{Func: n.Func, Input: children[0]}
	case *Window:
		w := &Window{Input: children[0], Frame: n.Frame}
		np := len(n.PartitionBy)
		w.PartitionBy = append([]Expr(nil), children[1:1+np]...)
		for _, c := range children[1+np:] {
			w.OrderBy = append(w.OrderBy, c.(*SortBy))
		}
		return w
	case *Alias:
		return &Alias{Input: children[0], Name: n.Name}
	case *Cast:
		return &Cast{Input: children[0], To: n.To, Strict: n.Strict}
	case *SortBy:
		return &SortBy{Input: children[0], Descending: n.Descending, NullsLast: n.NullsLast}
	}
	return e
}

// Transform rewrites e bottom-up: children first, then fn on the rebuilt
// node.
func Transform(e Expr, fn func(Expr) (Expr, error)) (Expr, error) {
	children := e.Children()
	if len(children) > 0 {
		rewritten := make([]Expr, len(children))
		changed := false
		for i, c := range children {
			nc, err := Transform(c, fn)
			if err != nil {
				return nil, err
			}
			rewritten[i] = nc
			changed = changed || nc != c
		}
		if changed {
			e = WithChildren(e, rewritten)
		}
	}
	return fn(e)
}

// TransformDown rewrites e top-down. When fn returns replaced=true the
// returned expression is used as is and its children are not visited.
func TransformDown(e Expr, fn func(Expr) (out Expr, replaced bool)) Expr {
	if out, replaced := fn(e); replaced {
		return out
	}
	children := e.Children()
	if len(children) == 0 {
		return e
	}
	rewritten := make([]Expr, len(children))
	changed := false
	for i, c := range children {
		rewritten[i] = TransformDown(c, fn)
		changed = changed || rewritten[i] != c
	}
	if !changed {
		return e
	}
	return WithChildren(e, rewritten)
}

// Columns returns the distinct column names e references, in first-use
// order.
func Columns(e Expr) []string {
	var out []string
	seen := map[string]bool{}
	Walk(e, func(n Expr) bool {
		if c, ok := n.(*Column); ok && !seen[c.Name] {
			seen[c.Name] = true
			out = append(out, c.Name)
		}
		return true
	})
	return out
}

// ColumnsOf returns the distinct columns referenced by any of exprs.
func ColumnsOf(exprs []Expr) []string {
	var out []string
	seen := map[string]bool{}
	for _, e := range exprs {
		for _, c := range Columns(e) {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}

// ContainsAgg reports whether e has an aggregation outside any window.
func ContainsAgg(e Expr) bool {
	found := false
	Walk(e, func(n Expr) bool {
		switch n.(type) {
		case *Agg:
			found = true
		case *Window:
			return false
		}
		return !found
	})
	return found
}

// ContainsWindow reports whether e has a window expression.
func ContainsWindow(e Expr) bool {
	found := false
	Walk(e, func(n Expr) bool {
		if _, ok := n.(*Window); ok {
			found = true
		}
		return !found
	})
	return found
}

// IsElementwise reports whether each output row of e depends only on the
// same input row. Such expressions commute with filters and slices.
func IsElementwise(e Expr) bool {
	ok := true
	Walk(e, func(n Expr) bool {
		switch f := n.(type) {
		case *Agg, *Window:
			ok = false
		case *Function:
			if spec, found := LookupFunction(f.Name); !found || !spec.Elementwise {
				ok = false
			}
		}
		return ok
	})
	return ok
}

// IsDeterministic reports whether e yields the same values for the same
// input.
func IsDeterministic(e Expr) bool {
	ok := true
	Walk(e, func(n Expr) bool {
		if f, isFn := n.(*Function); isFn {
			if spec, found := LookupFunction(f.Name); !found || !spec.Deterministic {
				ok = false
			}
		}
		return ok
	})
	return ok
}

// IsIndexDependent reports whether e depends on row positions.
func IsIndexDependent(e Expr) bool {
	found := false
	Walk(e, func(n Expr) bool {
		if f, isFn := n.(*Function); isFn {
			if spec, ok := LookupFunction(f.Name); ok && spec.IndexDependent {
				found = true
			}
		}
		return !found
	})
	return found
}

// Unalias strips a top-level alias.
func Unalias(e Expr) Expr {
	if a, ok := e.(*Alias); ok {
		return a.Input
	}
	return e
}

// IsColumnRef reports whether e is a plain column reference, possibly
// aliased, and returns the referenced name.
func IsColumnRef(e Expr) (string, bool) {
	if c, ok := Unalias(e).(*Column); ok {
		return c.Name, true
	}
	return "", false
}

// Bind returns a copy of e with every column reference resolved to its index
// in schema.
func Bind(e Expr, schema *datatype.Schema) (Expr, error) {
	return Transform(e, func(n Expr) (Expr, error) {
		c, ok := n.(*Column)
		if !ok {
			return n, nil
		}
		idx, _, err := schema.Resolve(c.Name)
		if err != nil {
			return nil, err
		}
		return &Column{Name: c.Name, Index: idx}, nil
	})
}

// BindAll binds every expression in exprs.
func BindAll(exprs []Expr, schema *datatype.Schema) ([]Expr, error) {
	out := make([]Expr, len(exprs))
	for i, e := range exprs {
		b, err := Bind(e, schema)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// RenameColumns replaces column references according to mapping.
func RenameColumns(e Expr, mapping map[string]string) Expr {
	out, _ := Transform(e, func(n Expr) (Expr, error) {
		if c, ok := n.(*Column); ok {
			if to, found := mapping[c.Name]; found {
				return Col(to), nil
			}
		}
		return n, nil
	})
	return out
}

// SplitConjunction flattens a tree of and-ed predicates.
func SplitConjunction(e Expr) []Expr {
	if b, ok := e.(*Binary); ok && b.Op == OpAnd {
		return append(SplitConjunction(b.Left), SplitConjunction(b.Right)...)
	}
	return []Expr{e}
}
