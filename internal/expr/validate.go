package expr

import (
	"fmt"

	qerrors "github.com/dshills/QuantaFrame/internal/errors"
)

// Context is where an expression is evaluated.
type Context int

const (
	// Elementwise contexts produce one value per input row: projections,
	// filters, sort keys and join keys.
	Elementwise Context = iota
	// Aggregation contexts produce one value per group.
	Aggregation
)

// Validate checks that e is well formed for ctx: aggregations only where
// rows are reduced, no nested aggregations, and unambiguous windows.
func Validate(e Expr, ctx Context) error {
	if ctx == Aggregation && !ContainsAgg(e) {
		return qerrors.NotAnAggregationError(e.String())
	}
	return validate(e, ctx, false, false)
}

func validate(e Expr, ctx Context, inAgg, inWindow bool) error {
	switch n := e.(type) {
	case *Selector:
		return qerrors.InvalidArgumentError("expression", "selector "+n.String()+" can only appear as a top-level projection")

	case *Column:
		if ctx == Aggregation && !inAgg {
			return qerrors.NotAnAggregationError(n.String())
		}

	case *Agg:
		if inAgg {
			return qerrors.NestedAggregateError(n.String())
		}
		if ctx == Elementwise && !inWindow {
			return qerrors.AggregateOutsideGroupByError(n.String())
		}
		if n.Input != nil {
			return validate(n.Input, ctx, true, inWindow)
		}
		return nil

	case *Window:
		if inWindow {
			return qerrors.WindowError(n.String(), "window expressions cannot be nested")
		}
		if ctx == Aggregation || inAgg {
			return qerrors.WindowError(n.String(), "window expressions are not allowed inside an aggregation")
		}
		if err := validateWindowKeys(n); err != nil {
			return err
		}
		return validate(n.Input, ctx, false, true)
	}

	for _, c := range e.Children() {
		if err := validate(c, ctx, inAgg, inWindow); err != nil {
			return err
		}
	}
	return nil
}

func validateWindowKeys(w *Window) error {
	if len(w.PartitionBy) == 0 && len(w.OrderBy) == 0 && w.Frame == nil {
		return qerrors.WindowError(w.String(), "a window needs partition_by, order_by or a row frame")
	}
	if w.Frame != nil && w.Frame.Start > w.Frame.End {
		return qerrors.WindowError(w.String(), fmt.Sprintf("frame start %d is after frame end %d", w.Frame.Start, w.Frame.End))
	}
	keys := make([]Expr, 0, len(w.PartitionBy)+len(w.OrderBy))
	keys = append(keys, w.PartitionBy...)
	for _, k := range w.OrderBy {
		keys = append(keys, k.Input)
	}
	for i, k := range keys {
		if ContainsAgg(k) || ContainsWindow(k) || !IsElementwise(k) {
			return qerrors.WindowError(w.String(), "partition and order keys must be elementwise: "+k.String())
		}
		if i >= len(w.PartitionBy) {
			continue
		}
		for _, prev := range keys[:i] {
			if Equal(prev, k) {
				return qerrors.WindowError(w.String(), "ambiguous partition key "+k.String()+" listed more than once")
			}
		}
	}
	return nil
}
