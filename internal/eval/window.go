package eval

import (
	"github.com/dshills/QuantaFrame/internal/batch"
	"github.com/dshills/QuantaFrame/internal/expr"
)

// evalWindow evaluates a window expression. Rows are split into partitions
// and, within each, ordered by the order keys. Aggregations without a frame
// are broadcast over their partition; with a frame each row aggregates the
// rows inside its frame, trimmed at the partition edges. Other expressions
// are evaluated over each ordered partition and scattered back.
func evalWindow(w *expr.Window, b *batch.Batch) ([]any, error) {
	n := b.NumRows()
	keys, err := EvalAll(w.PartitionBy, b)
	if err != nil {
		return nil, err
	}
	partitions := GroupRows(keys, n)

	if len(w.OrderBy) > 0 {
		sortKeys := make([]SortKey, len(w.OrderBy))
		for i, k := range w.OrderBy {
			vals, err := evalData(k.Input, b)
			if err != nil {
				return nil, err
			}
			sortKeys[i] = SortKey{Values: vals, Descending: k.Descending, NullsLast: k.NullsLast}
		}
		for i, p := range partitions {
			partitions[i] = SortIndices(p, sortKeys)
		}
	}

	out := make([]any, n)
	aggregating := expr.ContainsAgg(w.Input)

	switch {
	case aggregating && w.Frame == nil:
		s, err := EvalGrouped(w.Input, b, partitions)
		if err != nil {
			return nil, err
		}
		for g, rows := range partitions {
			for _, r := range rows {
				out[r] = s.Data[g]
			}
		}

	case aggregating:
		var frames [][]int
		var targets []int
		for _, rows := range partitions {
			for pos, r := range rows {
				lo := max(pos+w.Frame.Start, 0)
				hi := min(pos+w.Frame.End+1, len(rows))
				if lo > hi {
					lo = hi
				}
				frames = append(frames, rows[lo:hi])
				targets = append(targets, r)
			}
		}
		s, err := EvalGrouped(w.Input, b, frames)
		if err != nil {
			return nil, err
		}
		for i, r := range targets {
			out[r] = s.Data[i]
		}

	default:
		for _, rows := range partitions {
			part := b.Take(rows)
			vals, err := evalData(w.Input, part)
			if err != nil {
				return nil, err
			}
			for i, r := range rows {
				out[r] = vals[i]
			}
		}
	}
	return out, nil
}
