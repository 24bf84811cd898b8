// Package eval is the reference expression evaluator. It works on whole
// batches and is shared by sources and executors.
package eval

import (
	"fmt"
	"math"
	"strings"

	"github.com/dshills/QuantaFrame/internal/batch"
	"github.com/dshills/QuantaFrame/internal/datatype"
	qerrors "github.com/dshills/QuantaFrame/internal/errors"
	"github.com/dshills/QuantaFrame/internal/expr"
)

// Eval evaluates e over every row of b.
func Eval(e expr.Expr, b *batch.Batch) (*batch.Series, error) {
	t, err := expr.TypeOf(e, b.Schema)
	if err != nil {
		return nil, err
	}
	data, err := evalData(e, b)
	if err != nil {
		return nil, err
	}
	return &batch.Series{Name: expr.OutputName(e), Type: t, Data: data}, nil
}

// EvalAll evaluates a projection list.
func EvalAll(exprs []expr.Expr, b *batch.Batch) ([]*batch.Series, error) {
	out := make([]*batch.Series, len(exprs))
	for i, e := range exprs {
		s, err := Eval(e, b)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// Constant evaluates an expression that references no columns and returns
// the result as a literal.
func Constant(e expr.Expr) (*expr.Literal, error) {
	unit, err := batch.New(&batch.Series{Name: "__unit", Type: datatype.Null, Data: []any{nil}})
	if err != nil {
		return nil, err
	}
	s, err := Eval(e, unit)
	if err != nil {
		return nil, err
	}
	return expr.TypedLit(s.Data[0], s.Type)
}

// Filter keeps the rows where pred is true. Null counts as false.
func Filter(pred expr.Expr, b *batch.Batch) (*batch.Batch, error) {
	mask, err := evalData(pred, b)
	if err != nil {
		return nil, err
	}
	keep := make([]int, 0, len(mask))
	for i, v := range mask {
		if ok, _ := v.(bool); ok {
			keep = append(keep, i)
		}
	}
	if len(keep) == len(mask) {
		return b, nil
	}
	return b.Take(keep), nil
}

func evalData(e expr.Expr, b *batch.Batch) ([]any, error) {
	n := b.NumRows()
	switch x := e.(type) {
	case *expr.Column:
		if x.Index >= 0 && x.Index < len(b.Columns) && b.Columns[x.Index].Name == x.Name {
			return b.Columns[x.Index].Data, nil
		}
		s, ok := b.Column(x.Name)
		if !ok {
			return nil, qerrors.ColumnNotFoundError(x.Name, b.Schema.Names())
		}
		return s.Data, nil

	case *expr.Literal:
		out := make([]any, n)
		for i := range out {
			out[i] = x.Value
		}
		return out, nil

	case *expr.Alias:
		return evalData(x.Input, b)

	case *expr.SortBy:
		return evalData(x.Input, b)

	case *expr.Cast:
		from, err := expr.TypeOf(x.Input, b.Schema)
		if err != nil {
			return nil, err
		}
		in, err := evalData(x.Input, b)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(in))
		for i, v := range in {
			c, err := datatype.CastValue(v, from, x.To, x.Strict)
			if err != nil {
				return nil, qerrors.InvalidCastError(from.String(), x.To.String()).WithDetail(err.Error())
			}
			out[i] = c
		}
		return out, nil

	case *expr.Unary:
		in, err := evalData(x.Input, b)
		if err != nil {
			return nil, err
		}
		return evalUnary(x.Op, in), nil

	case *expr.Binary:
		return evalBinary(x, b)

	case *expr.Function:
		return evalFunction(x, b)

	case *expr.Window:
		return evalWindow(x, b)

	case *expr.Agg:
		// A bare aggregation over a batch reduces all rows to one value that
		// is broadcast back; window evaluation relies on this.
		vals, err := Aggregate(x, b, [][]int{allRows(n)})
		if err != nil {
			return nil, err
		}
		out := make([]any, n)
		for i := range out {
			out[i] = vals[0]
		}
		return out, nil
	}
	return nil, qerrors.InvalidArgumentError("evaluate", fmt.Sprintf("cannot evaluate %s", e))
}

func allRows(n int) []int {
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	return rows
}

func evalUnary(op expr.UnaryOp, in []any) []any {
	out := make([]any, len(in))
	for i, v := range in {
		switch op {
		case expr.OpIsNull:
			out[i] = v == nil
		case expr.OpIsNotNull:
			out[i] = v != nil
		case expr.OpNot:
			if bv, ok := v.(bool); ok {
				out[i] = !bv
			}
		case expr.OpNeg:
			switch n := v.(type) {
			case int64:
				out[i] = -n
			case float64:
				out[i] = -n
			}
		}
	}
	return out
}

func evalBinary(x *expr.Binary, b *batch.Batch) ([]any, error) {
	lt, err := expr.TypeOf(x.Left, b.Schema)
	if err != nil {
		return nil, err
	}
	rt, err := expr.TypeOf(x.Right, b.Schema)
	if err != nil {
		return nil, err
	}
	target, ok := expr.OperandType(x.Op, lt, rt)
	if !ok {
		return nil, qerrors.TypeMismatchError(x.Op.String(), lt.String(), rt.String())
	}
	left, err := evalData(x.Left, b)
	if err != nil {
		return nil, err
	}
	right, err := evalData(x.Right, b)
	if err != nil {
		return nil, err
	}
	if left, err = coerce(left, lt, target); err != nil {
		return nil, err
	}
	if right, err = coerce(right, rt, target); err != nil {
		return nil, err
	}

	out := make([]any, len(left))
	for i := range left {
		out[i] = applyBinary(x.Op, left[i], right[i])
	}
	return out, nil
}

func coerce(values []any, from, to datatype.DataType) ([]any, error) {
	switch {
	case from.Equal(to), from.Kind == datatype.KindNull:
		return values, nil
	case from.IsTemporal() && to.IsTemporal():
		return rescaleTemporal(values, from, to), nil
	case repr(from) != 0 && repr(from) == repr(to):
		return values, nil
	}
	out := make([]any, len(values))
	for i, v := range values {
		c, err := datatype.CastValue(v, from, to, false)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

// repr groups types that share a Go representation.
func repr(t datatype.DataType) int {
	switch {
	case t.IsInteger(), t.IsTemporal():
		return 1
	case t.IsFloat(), t.Kind == datatype.KindDecimal:
		return 2
	case t.IsStringLike():
		return 3
	}
	return 0
}

var unitsPerDay = map[datatype.TimeUnit]int64{
	datatype.Milliseconds: 86_400_000,
	datatype.Microseconds: 86_400_000_000,
	datatype.Nanoseconds:  86_400_000_000_000,
}

// rescaleTemporal converts dates to datetimes and between time units.
func rescaleTemporal(values []any, from, to datatype.DataType) []any {
	var num, den int64 = 1, 1
	switch {
	case from.Kind == datatype.KindDate && to.Kind == datatype.KindDatetime:
		num = unitsPerDay[to.Unit]
	case from.Unit != "" && to.Unit != "" && from.Unit != to.Unit:
		num, den = unitsPerDay[to.Unit], unitsPerDay[from.Unit]
	default:
		return values
	}
	out := make([]any, len(values))
	for i, v := range values {
		n, ok := v.(int64)
		switch {
		case !ok:
		case num >= den:
			out[i] = n * (num / den)
		default:
			out[i] = n / (den / num)
		}
	}
	return out
}

func applyBinary(op expr.BinaryOp, l, r any) any {
	switch op {
	case expr.OpAnd:
		lb, lok := l.(bool)
		rb, rok := r.(bool)
		switch {
		case lok && !lb, rok && !rb:
			return false
		case lok && rok:
			return true
		}
		return nil
	case expr.OpOr:
		lb, lok := l.(bool)
		rb, rok := r.(bool)
		switch {
		case lok && lb, rok && rb:
			return true
		case lok && rok:
			return false
		}
		return nil
	}

	if l == nil || r == nil {
		return nil
	}
	if op.IsComparison() {
		c := datatype.Compare(l, r)
		switch op {
		case expr.OpEq:
			return c == 0
		case expr.OpNotEq:
			return c != 0
		case expr.OpLt:
			return c < 0
		case expr.OpLtEq:
			return c <= 0
		case expr.OpGt:
			return c > 0
		}
		return c >= 0
	}

	switch lv := l.(type) {
	case string:
		return lv + r.(string)
	case int64:
		rv := r.(int64)
		switch op {
		case expr.OpAdd:
			return lv + rv
		case expr.OpSub:
			return lv - rv
		case expr.OpMul:
			return lv * rv
		case expr.OpDiv:
			if rv == 0 {
				return nil
			}
			return float64(lv) / float64(rv)
		case expr.OpMod:
			if rv == 0 {
				return nil
			}
			return lv % rv
		}
	case float64:
		rv := r.(float64)
		switch op {
		case expr.OpAdd:
			return lv + rv
		case expr.OpSub:
			return lv - rv
		case expr.OpMul:
			return lv * rv
		case expr.OpDiv:
			return lv / rv
		case expr.OpMod:
			return math.Mod(lv, rv)
		}
	case bool:
		li, ri := boolInt(lv), boolInt(r.(bool))
		return applyBinary(op, li, ri)
	}
	return nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// FormatRow renders values for error messages and keys.
func FormatRow(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = datatype.FormatValue(v)
	}
	return strings.Join(parts, ", ")
}
