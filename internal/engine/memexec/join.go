package memexec

import (
	"math"

	"github.com/tidwall/btree"

	"github.com/dshills/QuantaFrame/internal/batch"
	"github.com/dshills/QuantaFrame/internal/datatype"
	"github.com/dshills/QuantaFrame/internal/eval"
	"github.com/dshills/QuantaFrame/internal/expr"
	"github.com/dshills/QuantaFrame/internal/planner"
)

// joinKeys evaluates keys over b and encodes each row's tuple, cast to the
// comparison types. A row with a null key gets ok=false and never matches.
func joinKeys(keys []expr.Expr, types []datatype.DataType, b *batch.Batch) (encoded []string, ok []bool, err error) {
	cols := make([][]any, len(keys))
	for i, k := range keys {
		s, err := eval.Eval(k, b)
		if err != nil {
			return nil, nil, err
		}
		data := s.Data
		if !s.Type.Equal(types[i]) {
			data = make([]any, len(s.Data))
			for r, v := range s.Data {
				if data[r], err = datatype.CastValue(v, s.Type, types[i], false); err != nil {
					return nil, nil, err
				}
			}
		}
		cols[i] = data
	}

	n := b.NumRows()
	encoded = make([]string, n)
	ok = make([]bool, n)
	tuple := make([]any, len(keys))
	for r := 0; r < n; r++ {
		ok[r] = true
		for i := range cols {
			tuple[i] = cols[i][r]
			if tuple[i] == nil {
				ok[r] = false
			}
		}
		if ok[r] {
			encoded[r] = eval.GroupKey(tuple)
		}
	}
	return encoded, ok, nil
}

// hashJoin builds a table over the build side and probes it with the other.
// Whichever side is built, matches are emitted in left row order and, per
// left row, in right row order.
func hashJoin(p *planner.PhysicalHashJoin, left, right *batch.Batch) (*batch.Batch, error) {
	lkeys, lok, err := joinKeys(p.LeftKeys, p.KeyTypes, left)
	if err != nil {
		return nil, err
	}
	rkeys, rok, err := joinKeys(p.RightKeys, p.KeyTypes, right)
	if err != nil {
		return nil, err
	}

	matches := make([][]int, left.NumRows())
	if p.BuildSide == planner.LeftSide {
		table := make(map[string][]int)
		for i, k := range lkeys {
			if lok[i] {
				table[k] = append(table[k], i)
			}
		}
		for j, k := range rkeys {
			if !rok[j] {
				continue
			}
			for _, i := range table[k] {
				matches[i] = append(matches[i], j)
			}
		}
	} else {
		table := make(map[string][]int)
		for j, k := range rkeys {
			if rok[j] {
				table[k] = append(table[k], j)
			}
		}
		for i, k := range lkeys {
			if lok[i] {
				matches[i] = table[k]
			}
		}
	}

	var li, ri []int
	switch p.Type {
	case planner.SemiJoin, planner.AntiJoin:
		want := p.Type == planner.SemiJoin
		for i, m := range matches {
			if (len(m) > 0) == want {
				li = append(li, i)
			}
		}
		ri = make([]int, len(li))
		for i := range ri {
			ri[i] = -1
		}

	default:
		matched := make([]bool, right.NumRows())
		for i, m := range matches {
			for _, j := range m {
				li, ri = append(li, i), append(ri, j)
				matched[j] = true
			}
			if len(m) == 0 && (p.Type == planner.LeftJoin || p.Type == planner.FullJoin) {
				li, ri = append(li, i), append(ri, -1)
			}
		}
		if p.Type == planner.FullJoin {
			for j, m := range matched {
				if !m {
					li, ri = append(li, -1), append(ri, j)
				}
			}
		}
	}
	return joinOutput(p, p.Columns, left, right, li, ri), nil
}

// nestedLoopJoin pairs every left row with every right row and keeps the
// pairs the condition accepts.
func nestedLoopJoin(p *planner.PhysicalNestedLoopJoin, left, right *batch.Batch) (*batch.Batch, error) {
	ln, rn := left.NumRows(), right.NumRows()
	li := make([]int, 0, ln*rn)
	ri := make([]int, 0, ln*rn)
	for i := 0; i < ln; i++ {
		for j := 0; j < rn; j++ {
			li, ri = append(li, i), append(ri, j)
		}
	}
	out := joinOutput(p, p.Columns, left, right, li, ri)
	if p.Condition == nil {
		return out, nil
	}
	return eval.Filter(p.Condition, out)
}

type asofItem struct {
	key any
	row int
}

// asofJoin matches each left row with one right row by nearest key. Right
// rows are indexed in a B-tree ordered by key, then row.
func asofJoin(p *planner.PhysicalAsofJoin, left, right *batch.Batch) (*batch.Batch, error) {
	lk, err := asofKeys(p.LeftKey, p.KeyType, left)
	if err != nil {
		return nil, err
	}
	rk, err := asofKeys(p.RightKey, p.KeyType, right)
	if err != nil {
		return nil, err
	}

	tree := btree.NewBTreeG(func(a, b asofItem) bool {
		if c := datatype.Compare(a.key, b.key); c != 0 {
			return c < 0
		}
		return a.row < b.row
	})
	for j, k := range rk {
		if k != nil {
			tree.Set(asofItem{key: k, row: j})
		}
	}

	li := make([]int, len(lk))
	ri := make([]int, len(lk))
	for i, k := range lk {
		li[i], ri[i] = i, -1
		if k == nil {
			continue
		}
		back, hasBack := backward(tree, k)
		fwd, hasFwd := forward(tree, k)
		var pick asofItem
		found := false
		switch p.Strategy {
		case planner.AsofBackward:
			pick, found = back, hasBack
		case planner.AsofForward:
			pick, found = fwd, hasFwd
		case planner.AsofNearest:
			switch {
			case hasBack && hasFwd:
				pick, found = back, true
				if distance(k, fwd.key) < distance(k, back.key) {
					pick = fwd
				}
			case hasBack:
				pick, found = back, true
			case hasFwd:
				pick, found = fwd, true
			}
		}
		if found && (p.Tolerance == nil || distance(k, pick.key) <= *p.Tolerance) {
			ri[i] = pick.row
		}
	}
	return joinOutput(p, p.Columns, left, right, li, ri), nil
}

// backward returns the last item with a key at most k.
func backward(tree *btree.BTreeG[asofItem], k any) (asofItem, bool) {
	var out asofItem
	found := false
	tree.Descend(asofItem{key: k, row: math.MaxInt}, func(item asofItem) bool {
		out, found = item, true
		return false
	})
	return out, found
}

// forward returns the first item with a key at least k.
func forward(tree *btree.BTreeG[asofItem], k any) (asofItem, bool) {
	var out asofItem
	found := false
	tree.Ascend(asofItem{key: k, row: -1}, func(item asofItem) bool {
		out, found = item, true
		return false
	})
	return out, found
}

func asofKeys(key expr.Expr, t datatype.DataType, b *batch.Batch) ([]any, error) {
	s, err := eval.Eval(key, b)
	if err != nil {
		return nil, err
	}
	if s.Type.Equal(t) {
		return s.Data, nil
	}
	out := make([]any, len(s.Data))
	for i, v := range s.Data {
		if out[i], err = datatype.CastValue(v, s.Type, t, false); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func distance(a, b any) float64 {
	return math.Abs(toFloat(a) - toFloat(b))
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case int64:
		return float64(x)
	case float64:
		return x
	}
	return math.NaN()
}

// joinOutput gathers the output columns of a join from the matched row
// indices. An index of -1 produces nulls for that side.
func joinOutput(plan planner.PhysicalPlan, columns []planner.JoinOutput, left, right *batch.Batch, li, ri []int) *batch.Batch {
	lt, rt := left.Take(li), right.Take(ri)
	cols := make([]*batch.Series, len(columns))
	for i, c := range columns {
		if c.Side == planner.LeftSide {
			cols[i] = lt.Columns[c.Index]
		} else {
			cols[i] = rt.Columns[c.Index]
		}
	}
	return withSchema(plan, cols)
}
