package expr

import (
	"github.com/dshills/QuantaFrame/internal/datatype"
	qerrors "github.com/dshills/QuantaFrame/internal/errors"
)

// OutputName returns the column name an expression produces.
func OutputName(e Expr) string {
	switch n := e.(type) {
	case *Column:
		return n.Name
	case *Alias:
		return n.Name
	case *Literal:
		return "literal"
	case *Binary:
		return OutputName(n.Left)
	case *Unary:
		return OutputName(n.Input)
	case *Function:
		if len(n.Args) == 0 {
			return n.Name
		}
		return OutputName(n.Args[0])
	case *Agg:
		if n.Input == nil {
			return n.Func.String()
		}
		return OutputName(n.Input)
	case *Window:
		return OutputName(n.Input)
	case *Cast:
		return OutputName(n.Input)
	case *SortBy:
		return OutputName(n.Input)
	case *Selector:
		return n.String()
	}
	return ""
}

// Field resolves the output name and type of e against schema.
func Field(e Expr, schema *datatype.Schema) (datatype.Column, error) {
	t, err := TypeOf(e, schema)
	if err != nil {
		return datatype.Column{}, err
	}
	return datatype.Column{Name: OutputName(e), Type: t}, nil
}

// TypeOf derives the output type of e from the types of its inputs. Implicit
// casts follow datatype.Supertype; anything else is a type error.
func TypeOf(e Expr, schema *datatype.Schema) (datatype.DataType, error) {
	switch n := e.(type) {
	case *Column:
		_, t, err := schema.Resolve(n.Name)
		return t, err

	case *Literal:
		if n.Type.Kind == datatype.KindUnknown {
			return datatype.Unknown, qerrors.Newf(qerrors.KindType, qerrors.IndeterminateDatatype,
				"cannot determine type of literal %v", n.Value)
		}
		return n.Type, nil

	case *Binary:
		l, err := TypeOf(n.Left, schema)
		if err != nil {
			return datatype.Unknown, err
		}
		r, err := TypeOf(n.Right, schema)
		if err != nil {
			return datatype.Unknown, err
		}
		return binaryType(n.Op, l, r)

	case *Unary:
		t, err := TypeOf(n.Input, schema)
		if err != nil {
			return datatype.Unknown, err
		}
		switch n.Op {
		case OpNot:
			if t.Kind != datatype.KindBoolean && t.Kind != datatype.KindNull {
				return datatype.Unknown, qerrors.PredicateTypeError("NOT", t.String())
			}
			return datatype.Boolean, nil
		case OpNeg:
			if !t.IsNumeric() && t.Kind != datatype.KindDuration && t.Kind != datatype.KindNull {
				return datatype.Unknown, qerrors.TypeMismatchError("-", t.String(), t.String())
			}
			return t, nil
		}
		return datatype.Boolean, nil

	case *Function:
		spec, ok := LookupFunction(n.Name)
		if !ok {
			return datatype.Unknown, qerrors.FunctionNotFoundError(n.Name)
		}
		if len(n.Args) < spec.MinArgs || (spec.MaxArgs >= 0 && len(n.Args) > spec.MaxArgs) {
			return datatype.Unknown, qerrors.FunctionArgumentError(n.Name, "wrong number of arguments")
		}
		args := make([]datatype.DataType, len(n.Args))
		for i, a := range n.Args {
			t, err := TypeOf(a, schema)
			if err != nil {
				return datatype.Unknown, err
			}
			args[i] = t
		}
		return spec.ReturnType(args, n.Options)

	case *Agg:
		if n.Input == nil {
			if n.Func != AggCount {
				return datatype.Unknown, qerrors.FunctionArgumentError(n.Func.String(), "missing input expression")
			}
			return datatype.UInt32, nil
		}
		t, err := TypeOf(n.Input, schema)
		if err != nil {
			return datatype.Unknown, err
		}
		return aggType(n.Func, t)

	case *Window:
		for _, p := range n.PartitionBy {
			if _, err := TypeOf(p, schema); err != nil {
				return datatype.Unknown, err
			}
		}
		for _, o := range n.OrderBy {
			if _, err := TypeOf(o, schema); err != nil {
				return datatype.Unknown, err
			}
		}
		return TypeOf(n.Input, schema)

	case *Alias:
		return TypeOf(n.Input, schema)

	case *Cast:
		from, err := TypeOf(n.Input, schema)
		if err != nil {
			return datatype.Unknown, err
		}
		if !datatype.CanCast(from, n.To) {
			return datatype.Unknown, qerrors.InvalidCastError(from.String(), n.To.String())
		}
		return n.To, nil

	case *SortBy:
		t, err := TypeOf(n.Input, schema)
		if err != nil {
			return datatype.Unknown, err
		}
		if t.Kind == datatype.KindStruct {
			return datatype.Unknown, qerrors.InvalidArgumentError("sort", "cannot sort by struct column "+OutputName(n.Input))
		}
		return t, nil

	case *Selector:
		return datatype.Unknown, qerrors.InvalidArgumentError("expression", "selector "+n.String()+" can only appear as a top-level projection")
	}
	return datatype.Unknown, qerrors.Newf(qerrors.KindType, qerrors.InternalError, "unknown expression %T", e)
}

func binaryType(op BinaryOp, l, r datatype.DataType) (datatype.DataType, error) {
	switch {
	case op.IsLogical():
		if !isBoolish(l) || !isBoolish(r) {
			return datatype.Unknown, qerrors.TypeMismatchError(op.String(), l.String(), r.String())
		}
		return datatype.Boolean, nil

	case op.IsComparison():
		if l.Kind == datatype.KindStruct || r.Kind == datatype.KindStruct {
			if op != OpEq && op != OpNotEq {
				return datatype.Unknown, qerrors.TypeMismatchError(op.String(), l.String(), r.String())
			}
		}
		if _, ok := datatype.Supertype(l, r); !ok {
			return datatype.Unknown, qerrors.TypeMismatchError(op.String(), l.String(), r.String())
		}
		return datatype.Boolean, nil
	}

	if op == OpAdd && l.Kind == datatype.KindString && r.Kind == datatype.KindString {
		return datatype.String, nil
	}
	if l.IsNested() || r.IsNested() || !arithmetic(l) || !arithmetic(r) {
		return datatype.Unknown, qerrors.TypeMismatchError(op.String(), l.String(), r.String())
	}
	st, ok := datatype.Supertype(l, r)
	if !ok {
		return datatype.Unknown, qerrors.TypeMismatchError(op.String(), l.String(), r.String())
	}
	switch {
	case st.Kind == datatype.KindNull:
		return datatype.Null, nil
	case st.Kind == datatype.KindBoolean, st.IsTemporal():
		st = datatype.Int64
	}
	if op == OpDiv && st.IsInteger() {
		return datatype.Float64, nil
	}
	return st, nil
}

// OperandType returns the type both operands of a binary expression are
// cast to before evaluation. For logical operators it is Boolean.
func OperandType(op BinaryOp, l, r datatype.DataType) (datatype.DataType, bool) {
	if op.IsLogical() {
		return datatype.Boolean, true
	}
	if op == OpAdd && l.Kind == datatype.KindString && r.Kind == datatype.KindString {
		return datatype.String, true
	}
	st, ok := datatype.Supertype(l, r)
	if !ok {
		return datatype.Unknown, false
	}
	if op.IsArithmetic() && (st.Kind == datatype.KindBoolean || st.IsTemporal()) {
		st = datatype.Int64
	}
	return st, true
}

func isBoolish(t datatype.DataType) bool {
	return t.Kind == datatype.KindBoolean || t.Kind == datatype.KindNull
}

func arithmetic(t datatype.DataType) bool {
	return t.IsNumeric() || t.IsTemporal() || t.Kind == datatype.KindBoolean || t.Kind == datatype.KindNull
}

func aggType(f AggFunc, t datatype.DataType) (datatype.DataType, error) {
	switch f {
	case AggSum:
		switch {
		case t.Kind == datatype.KindBoolean, t.IsInteger(), t.Kind == datatype.KindNull:
			return datatype.Int64, nil
		case t.IsFloat(), t.Kind == datatype.KindDecimal, t.Kind == datatype.KindDuration:
			return t, nil
		}
	case AggMean:
		if t.IsNumeric() || t.Kind == datatype.KindBoolean || t.Kind == datatype.KindNull {
			return datatype.Float64, nil
		}
	case AggMin, AggMax:
		if !t.IsNested() {
			return t, nil
		}
	case AggFirst, AggLast:
		return t, nil
	case AggCount, AggNUnique:
		return datatype.UInt32, nil
	}
	return datatype.Unknown, qerrors.FunctionArgumentError(f.String(), "cannot aggregate type "+t.String())
}
