package expr

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dshills/QuantaFrame/internal/datatype"
)

// Expr is a scalar or aggregate expression. The set of implementations is
// closed; every traversal switches over all of them.
type Expr interface {
	// String renders the expression for plan display.
	String() string

	// Children returns the direct sub-expressions in a fixed order.
	Children() []Expr

	exprNode()
}

// Column references an input column by name. Index is the resolved position
// in the input schema, or -1 until the expression is bound.
type Column struct {
	Name  string
	Index int
}

// Literal is a constant of a known type. A nil Value is a typed null.
type Literal struct {
	Value any
	Type  datatype.DataType
}

// Binary applies an infix operator.
type Binary struct {
	Op    BinaryOp
	Left  Expr
	Right Expr
}

// Unary applies a prefix or postfix operator.
type Unary struct {
	Op    UnaryOp
	Input Expr
}

// Function calls a named scalar function from the registry.
type Function struct {
	Name    string
	Args    []Expr
	Options map[string]string
}

// Agg reduces the rows of a group to one value. Input is nil for count().
type Agg struct {
	Func  AggFunc
	Input Expr
}

// Frame bounds a window to rows relative to the current one; Start and End
// are inclusive offsets, so a trailing window of three rows is {-2, 0}.
type Frame struct {
	Start int
	End   int
}

// Window evaluates Input within partitions of rows, optionally ordered and
// framed.
type Window struct {
	Input       Expr
	PartitionBy []Expr
	OrderBy     []*SortBy
	Frame       *Frame
}

// Alias renames the output of Input.
type Alias struct {
	Input Expr
	Name  string
}

// Cast converts Input to another type. A strict cast fails on values that
// do not convert; a non-strict one yields null.
type Cast struct {
	Input  Expr
	To     datatype.DataType
	Strict bool
}

// SortBy marks Input as a sort key.
type SortBy struct {
	Input      Expr
	Descending bool
	NullsLast  bool
}

// SelectorMode picks which columns a Selector expands to.
type SelectorMode int

const (
	SelectAll SelectorMode = iota
	SelectByType
	SelectByPrefix
)

// Selector stands for a set of input columns and is expanded into Column
// references against the input schema when a plan node is built.
type Selector struct {
	Mode    SelectorMode
	Types   []datatype.DataType
	Prefix  string
	Exclude []string
}

func (*Column) exprNode()   {}
func (*Literal) exprNode()  {}
func (*Binary) exprNode()   {}
func (*Unary) exprNode()    {}
func (*Function) exprNode() {}
func (*Agg) exprNode()      {}
func (*Window) exprNode()   {}
func (*Alias) exprNode()    {}
func (*Cast) exprNode()     {}
func (*SortBy) exprNode()   {}
func (*Selector) exprNode() {}

func (*Column) Children() []Expr   { return nil }
func (*Literal) Children() []Expr  { return nil }
func (*Selector) Children() []Expr { return nil }
func (e *Binary) Children() []Expr { return []Expr{e.Left, e.Right} }
func (e *Unary) Children() []Expr  { return []Expr{e.Input} }
func (e *Function) Children() []Expr {
	return append([]Expr(nil), e.Args...)
}
func (e *Alias) Children() []Expr  { return []Expr{e.Input} }
func (e *Cast) Children() []Expr   { return []Expr{e.Input} }
func (e *SortBy) Children() []Expr { return []Expr{e.Input} }

func (e *Agg) Children() []Expr {
	if e.Input == nil {
		return nil
	}
	return []Expr{e.Input}
}

// Children of a window are its input, then the partition keys, then the
// order keys.
func (e *Window) Children() []Expr {
	out := make([]Expr, 0, 1+len(e.PartitionBy)+len(e.OrderBy))
	out = append(out, e.Input)
	out = append(out, e.PartitionBy...)
	for _, k := range e.OrderBy {
		out = append(out, k)
	}
	return out
}

func (e *Column) String() string {
	return fmt.Sprintf("col(%q)", e.Name)
}

func (e *Literal) String() string {
	switch v := e.Value.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(v)
	}
	return datatype.FormatValue(e.Value)
}

func (e *Binary) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Left, e.Op, e.Right)
}

func (e *Unary) String() string {
	switch e.Op {
	case OpNot:
		return fmt.Sprintf("not(%s)", e.Input)
	case OpNeg:
		return fmt.Sprintf("-(%s)", e.Input)
	}
	return fmt.Sprintf("%s.%s()", e.Input, e.Op)
}

func (e *Function) String() string {
	parts := make([]string, 0, len(e.Args)+len(e.Options))
	for _, a := range e.Args {
		parts = append(parts, a.String())
	}
	for _, k := range sortedKeys(e.Options) {
		parts = append(parts, k+"="+e.Options[k])
	}
	return e.Name + "(" + strings.Join(parts, ", ") + ")"
}

func (e *Agg) String() string {
	if e.Input == nil {
		return e.Func.String() + "()"
	}
	return fmt.Sprintf("%s.%s()", e.Input, e.Func)
}

func (e *Window) String() string {
	var parts []string
	if len(e.PartitionBy) > 0 {
		parts = append(parts, "partition_by=["+joinExprs(e.PartitionBy)+"]")
	}
	if len(e.OrderBy) > 0 {
		keys := make([]Expr, len(e.OrderBy))
		for i, k := range e.OrderBy {
			keys[i] = k
		}
		parts = append(parts, "order_by=["+joinExprs(keys)+"]")
	}
	if e.Frame != nil {
		parts = append(parts, fmt.Sprintf("rows=(%d, %d)", e.Frame.Start, e.Frame.End))
	}
	return fmt.Sprintf("%s.over(%s)", e.Input, strings.Join(parts, ", "))
}

func (e *Alias) String() string {
	return fmt.Sprintf("%s.alias(%q)", e.Input, e.Name)
}

func (e *Cast) String() string {
	if e.Strict {
		return fmt.Sprintf("%s.strict_cast(%s)", e.Input, e.To)
	}
	return fmt.Sprintf("%s.cast(%s)", e.Input, e.To)
}

func (e *SortBy) String() string {
	s := e.Input.String()
	if e.Descending {
		s += " desc"
	}
	if e.NullsLast {
		s += " nulls_last"
	}
	return s
}

func (e *Selector) String() string {
	var s string
	switch e.Mode {
	case SelectByType:
		types := make([]string, len(e.Types))
		for i, t := range e.Types {
			types[i] = t.String()
		}
		s = "cs.by_dtype(" + strings.Join(types, ", ") + ")"
	case SelectByPrefix:
		s = fmt.Sprintf("cs.starts_with(%q)", e.Prefix)
	default:
		s = "all()"
	}
	if len(e.Exclude) > 0 {
		s += fmt.Sprintf(".exclude(%q)", e.Exclude)
	}
	return s
}

func joinExprs(exprs []Expr) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Constructors

// Col references a column by name.
func Col(name string) *Column {
	return &Column{Name: name, Index: -1}
}

// Cols references several columns.
func Cols(names ...string) []Expr {
	out := make([]Expr, len(names))
	for i, n := range names {
		out[i] = Col(n)
	}
	return out
}

// Lit builds a literal, inferring its type from the Go value.
func Lit(v any) *Literal {
	t := datatype.InferType(v)
	n, err := datatype.Normalize(t, v)
	if err != nil {
		return &Literal{Value: v, Type: datatype.Unknown}
	}
	return &Literal{Value: n, Type: t}
}

// TypedLit builds a literal of an explicit type.
func TypedLit(v any, t datatype.DataType) (*Literal, error) {
	n, err := datatype.Normalize(t, v)
	if err != nil {
		return nil, err
	}
	return &Literal{Value: n, Type: t}, nil
}

// NullLit is a typed null.
func NullLit(t datatype.DataType) *Literal {
	return &Literal{Type: t}
}

func bin(op BinaryOp, l, r Expr) *Binary { return &Binary{Op: op, Left: l, Right: r} }

func Add(l, r Expr) *Binary   { return bin(OpAdd, l, r) }
func Sub(l, r Expr) *Binary   { return bin(OpSub, l, r) }
func Mul(l, r Expr) *Binary   { return bin(OpMul, l, r) }
func Div(l, r Expr) *Binary   { return bin(OpDiv, l, r) }
func Mod(l, r Expr) *Binary   { return bin(OpMod, l, r) }
func Eq(l, r Expr) *Binary    { return bin(OpEq, l, r) }
func NotEq(l, r Expr) *Binary { return bin(OpNotEq, l, r) }
func Lt(l, r Expr) *Binary    { return bin(OpLt, l, r) }
func LtEq(l, r Expr) *Binary  { return bin(OpLtEq, l, r) }
func Gt(l, r Expr) *Binary    { return bin(OpGt, l, r) }
func GtEq(l, r Expr) *Binary  { return bin(OpGtEq, l, r) }

// And joins predicates with logical and. With no arguments it is the
// literal true.
func And(preds ...Expr) Expr {
	if len(preds) == 0 {
		return Lit(true)
	}
	out := preds[0]
	for _, p := range preds[1:] {
		out = bin(OpAnd, out, p)
	}
	return out
}

// Or joins predicates with logical or.
func Or(l, r Expr) *Binary { return bin(OpOr, l, r) }

func Not(e Expr) *Unary       { return &Unary{Op: OpNot, Input: e} }
func Neg(e Expr) *Unary       { return &Unary{Op: OpNeg, Input: e} }
func IsNull(e Expr) *Unary    { return &Unary{Op: OpIsNull, Input: e} }
func IsNotNull(e Expr) *Unary { return &Unary{Op: OpIsNotNull, Input: e} }

// Call invokes a registered function.
func Call(name string, args ...Expr) *Function {
	return &Function{Name: name, Args: args}
}

// CallWith invokes a registered function with options.
func CallWith(name string, options map[string]string, args ...Expr) *Function {
	return &Function{Name: name, Args: args, Options: options}
}

func Sum(e Expr) *Agg     { return &Agg{Func: AggSum, Input: e} }
func Mean(e Expr) *Agg    { return &Agg{Func: AggMean, Input: e} }
func Min(e Expr) *Agg     { return &Agg{Func: AggMin, Input: e} }
func Max(e Expr) *Agg     { return &Agg{Func: AggMax, Input: e} }
func First(e Expr) *Agg   { return &Agg{Func: AggFirst, Input: e} }
func Last(e Expr) *Agg    { return &Agg{Func: AggLast, Input: e} }
func NUnique(e Expr) *Agg { return &Agg{Func: AggNUnique, Input: e} }

// Count counts rows. With an argument it counts the non-null values of that
// expression.
func Count(e ...Expr) *Agg {
	if len(e) == 0 {
		return &Agg{Func: AggCount}
	}
	return &Agg{Func: AggCount, Input: e[0]}
}

// Over wraps e in a window partitioned by the given keys.
func Over(e Expr, partitionBy ...Expr) *Window {
	return &Window{Input: e, PartitionBy: partitionBy}
}

// OrderedBy returns a copy of the window with order keys.
func (e *Window) OrderedBy(keys ...*SortBy) *Window {
	c := *e
	c.OrderBy = keys
	return &c
}

// Rows returns a copy of the window with a row frame.
func (e *Window) Rows(start, end int) *Window {
	c := *e
	c.Frame = &Frame{Start: start, End: end}
	return &c
}

// RollingMean is the trailing mean over size rows.
func RollingMean(e Expr, size int) *Window {
	return &Window{Input: Mean(e), Frame: &Frame{Start: -(size - 1), End: 0}}
}

// As names an expression's output.
func As(e Expr, name string) *Alias {
	return &Alias{Input: e, Name: name}
}

// CastTo casts e to t without failing on unconvertible values.
func CastTo(e Expr, t datatype.DataType) *Cast {
	return &Cast{Input: e, To: t}
}

// StrictCast casts e to t, failing on unconvertible values.
func StrictCast(e Expr, t datatype.DataType) *Cast {
	return &Cast{Input: e, To: t, Strict: true}
}

// Asc is an ascending sort key.
func Asc(e Expr) *SortBy { return &SortBy{Input: e} }

// Desc is a descending sort key.
func Desc(e Expr) *SortBy { return &SortBy{Input: e, Descending: true} }

// All selects every column except the excluded ones.
func All(exclude ...string) *Selector {
	return &Selector{Mode: SelectAll, Exclude: exclude}
}

// ByType selects the columns of the given types.
func ByType(types ...datatype.DataType) *Selector {
	return &Selector{Mode: SelectByType, Types: types}
}

// ByPrefix selects the columns whose names start with prefix.
func ByPrefix(prefix string) *Selector {
	return &Selector{Mode: SelectByPrefix, Prefix: prefix}
}
