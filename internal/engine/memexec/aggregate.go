package memexec

import (
	"math"
	"sort"

	"github.com/dshills/QuantaFrame/internal/batch"
	"github.com/dshills/QuantaFrame/internal/eval"
	"github.com/dshills/QuantaFrame/internal/planner"
)

// groupBy groups rows by the key values, in order of first appearance, and
// evaluates each aggregation per group.
func groupBy(p *planner.PhysicalGroupBy, in *batch.Batch) (*batch.Batch, error) {
	keys, err := eval.EvalAll(p.Keys, in)
	if err != nil {
		return nil, err
	}
	groups := eval.GroupRows(keys, in.NumRows())

	cols := make([]*batch.Series, 0, len(keys)+len(p.Aggs))
	for _, k := range keys {
		cols = append(cols, firstOfGroups(k, groups))
	}
	for _, a := range p.Aggs {
		s, err := eval.EvalGrouped(a, in, groups)
		if err != nil {
			return nil, err
		}
		cols = append(cols, s)
	}
	return withSchema(p, cols), nil
}

// dynamicGroupBy groups rows by key and by index window. Windows are
// reported by their start; a row falls in every window that covers it.
func dynamicGroupBy(p *planner.PhysicalDynamicGroupBy, in *batch.Batch) (*batch.Batch, error) {
	keys, err := eval.EvalAll(p.Keys, in)
	if err != nil {
		return nil, err
	}
	index, err := eval.Eval(p.Index, in)
	if err != nil {
		return nil, err
	}

	w := p.Window
	var groups [][]int
	var starts []any
	var keyRows []int
	for _, rows := range eval.GroupRows(keys, in.NumRows()) {
		lo, hi, ok := indexRange(index.Data, rows)
		if !ok {
			continue
		}
		first := floorDiv(lo, w.Every)*w.Every + w.Offset
		for first > lo {
			first -= w.Every
		}
		for start := first; start <= hi; start += w.Every {
			var members []int
			for _, r := range rows {
				v, ok := index.Data[r].(int64)
				if ok && v >= start && v < start+w.Period {
					members = append(members, r)
				}
			}
			if len(members) == 0 {
				continue
			}
			groups = append(groups, members)
			starts = append(starts, start)
			keyRows = append(keyRows, rows[0])
		}
	}

	cols := make([]*batch.Series, 0, len(keys)+1+len(p.Aggs))
	for _, k := range keys {
		data := make([]any, len(keyRows))
		for g, r := range keyRows {
			data[g] = k.Data[r]
		}
		cols = append(cols, &batch.Series{Name: k.Name, Type: k.Type, Data: data})
	}
	cols = append(cols, &batch.Series{Name: p.Index.Name, Type: index.Type, Data: starts})
	for _, a := range p.Aggs {
		s, err := eval.EvalGrouped(a, in, groups)
		if err != nil {
			return nil, err
		}
		cols = append(cols, s)
	}
	return withSchema(p, cols), nil
}

func indexRange(values []any, rows []int) (lo, hi int64, ok bool) {
	lo, hi = math.MaxInt64, math.MinInt64
	for _, r := range rows {
		v, isInt := values[r].(int64)
		if !isInt {
			continue
		}
		lo, hi, ok = min(lo, v), max(hi, v), true
	}
	return lo, hi, ok
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func firstOfGroups(s *batch.Series, groups [][]int) *batch.Series {
	data := make([]any, len(groups))
	for g, rows := range groups {
		data[g] = s.Data[rows[0]]
	}
	return &batch.Series{Name: s.Name, Type: s.Type, Data: data}
}

func sortBatch(p *planner.PhysicalSort, in *batch.Batch) (*batch.Batch, error) {
	keys := make([]eval.SortKey, len(p.Keys))
	for i, k := range p.Keys {
		s, err := eval.Eval(k.Input, in)
		if err != nil {
			return nil, err
		}
		keys[i] = eval.SortKey{Values: s.Data, Descending: k.Descending, NullsLast: k.NullsLast}
	}
	rows := make([]int, in.NumRows())
	for i := range rows {
		rows[i] = i
	}
	return in.Take(eval.SortIndices(rows, keys)), nil
}

// distinct keeps one row per distinct subset tuple, or drops every
// duplicated tuple with KeepNone. Kept rows stay in input order.
func distinct(p *planner.PhysicalDistinct, in *batch.Batch) *batch.Batch {
	subset := p.Subset
	if subset == nil {
		subset = make([]int, len(in.Columns))
		for i := range subset {
			subset[i] = i
		}
	}
	keys := make([]*batch.Series, len(subset))
	for i, idx := range subset {
		keys[i] = in.Columns[idx]
	}

	var keep []int
	for _, rows := range eval.GroupRows(keys, in.NumRows()) {
		switch p.Keep {
		case planner.KeepLast:
			keep = append(keep, rows[len(rows)-1])
		case planner.KeepNone:
			if len(rows) == 1 {
				keep = append(keep, rows[0])
			}
		default:
			keep = append(keep, rows[0])
		}
	}
	sort.Ints(keep)
	return in.Take(keep)
}
