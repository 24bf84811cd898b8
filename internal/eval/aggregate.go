package eval

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dshills/QuantaFrame/internal/batch"
	"github.com/dshills/QuantaFrame/internal/datatype"
	"github.com/dshills/QuantaFrame/internal/expr"
)

// GroupKey encodes a tuple of values so equal tuples produce equal keys.
func GroupKey(values []any) string {
	var sb strings.Builder
	for _, v := range values {
		if v == nil {
			sb.WriteString("\x00N")
		} else {
			fmt.Fprintf(&sb, "\x00%T:%s", v, datatype.FormatValue(v))
		}
	}
	return sb.String()
}

// GroupRows partitions row indices by the values of keys. Groups appear in
// the order of their first row.
func GroupRows(keys []*batch.Series, n int) [][]int {
	if len(keys) == 0 {
		return [][]int{allRows(n)}
	}
	index := make(map[string]int)
	var groups [][]int
	tuple := make([]any, len(keys))
	for r := 0; r < n; r++ {
		for k, s := range keys {
			tuple[k] = s.Data[r]
		}
		key := GroupKey(tuple)
		g, ok := index[key]
		if !ok {
			g = len(groups)
			index[key] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], r)
	}
	return groups
}

// SortKey is one evaluated sort column.
type SortKey struct {
	Values     []any
	Descending bool
	NullsLast  bool
}

// SortIndices returns rows ordered by keys. The sort is stable.
func SortIndices(rows []int, keys []SortKey) []int {
	out := append([]int(nil), rows...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		for _, k := range keys {
			va, vb := k.Values[a], k.Values[b]
			if va == nil || vb == nil {
				if va == nil && vb == nil {
					continue
				}
				// nulls first unless NullsLast
				return (va == nil) != k.NullsLast
			}
			c := datatype.Compare(va, vb)
			if c == 0 {
				continue
			}
			if k.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return out
}

// Aggregate reduces agg over each group of rows of b.
func Aggregate(agg *expr.Agg, b *batch.Batch, groups [][]int) ([]any, error) {
	var values []any
	if agg.Input != nil {
		var err error
		if values, err = evalData(agg.Input, b); err != nil {
			return nil, err
		}
	}
	out := make([]any, len(groups))
	for g, rows := range groups {
		out[g] = reduce(agg.Func, values, rows)
	}
	return out, nil
}

func reduce(f expr.AggFunc, values []any, rows []int) any {
	if values == nil {
		// count()
		return int64(len(rows))
	}
	switch f {
	case expr.AggCount:
		var c int64
		for _, r := range rows {
			if values[r] != nil {
				c++
			}
		}
		return c
	case expr.AggNUnique:
		seen := make(map[string]bool)
		for _, r := range rows {
			seen[GroupKey([]any{values[r]})] = true
		}
		return int64(len(seen))
	case expr.AggFirst:
		if len(rows) == 0 {
			return nil
		}
		return values[rows[0]]
	case expr.AggLast:
		if len(rows) == 0 {
			return nil
		}
		return values[rows[len(rows)-1]]
	case expr.AggMin, expr.AggMax:
		var best any
		for _, r := range rows {
			v := values[r]
			if v == nil {
				continue
			}
			c := datatype.Compare(v, best)
			if best == nil || (f == expr.AggMin && c < 0) || (f == expr.AggMax && c > 0) {
				best = v
			}
		}
		return best
	case expr.AggSum, expr.AggMean:
		var isum int64
		var fsum float64
		var count int
		isFloat := false
		for _, r := range rows {
			switch x := values[r].(type) {
			case int64:
				isum += x
				count++
			case bool:
				isum += boolInt(x)
				count++
			case float64:
				fsum += x
				isFloat = true
				count++
			}
		}
		if f == expr.AggMean {
			if count == 0 {
				return nil
			}
			return (fsum + float64(isum)) / float64(count)
		}
		if isFloat {
			return fsum + float64(isum)
		}
		return isum
	}
	return nil
}

// EvalGrouped evaluates an aggregation expression once per group. Every
// aggregation inside e is reduced per group and the elementwise remainder
// is evaluated over the reduced values.
func EvalGrouped(e expr.Expr, b *batch.Batch, groups [][]int) (*batch.Series, error) {
	outType, err := expr.TypeOf(e, b.Schema)
	if err != nil {
		return nil, err
	}
	var reduced []*batch.Series
	var rewriteErr error
	rewritten := expr.TransformDown(e, func(n expr.Expr) (expr.Expr, bool) {
		agg, ok := n.(*expr.Agg)
		if !ok || rewriteErr != nil {
			return n, false
		}
		t, err := expr.TypeOf(agg, b.Schema)
		if err != nil {
			rewriteErr = err
			return n, true
		}
		vals, err := Aggregate(agg, b, groups)
		if err != nil {
			rewriteErr = err
			return n, true
		}
		name := fmt.Sprintf("__agg_%d", len(reduced))
		reduced = append(reduced, &batch.Series{Name: name, Type: t, Data: vals})
		return expr.Col(name), true
	})
	if rewriteErr != nil {
		return nil, rewriteErr
	}

	name := expr.OutputName(e)
	if len(reduced) == 0 {
		// constant expression
		reduced = append(reduced, &batch.Series{Name: "__groups", Type: datatype.Null, Data: make([]any, len(groups))})
	}
	gb, err := batch.New(reduced...)
	if err != nil {
		return nil, err
	}
	data, err := evalData(rewritten, gb)
	if err != nil {
		return nil, err
	}
	return &batch.Series{Name: name, Type: outType, Data: data}, nil
}
