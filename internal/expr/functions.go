package expr

import (
	"github.com/dshills/QuantaFrame/internal/datatype"
	qerrors "github.com/dshills/QuantaFrame/internal/errors"
)

// FunctionSpec describes a scalar function: its arity, its result type and
// the properties the optimizer relies on.
type FunctionSpec struct {
	Name    string
	MinArgs int
	MaxArgs int // -1 for variadic

	// Deterministic functions return the same output for the same input.
	Deterministic bool

	// Elementwise functions compute each output row from the same input row
	// only. Non-elementwise functions see the whole column in row order.
	Elementwise bool

	// IndexDependent functions depend on a row's position.
	IndexDependent bool

	ReturnType func(args []datatype.DataType, opts map[string]string) (datatype.DataType, error)
}

var functions = map[string]*FunctionSpec{}

func register(spec *FunctionSpec) {
	functions[spec.Name] = spec
}

// LookupFunction returns the registered function with the given name.
func LookupFunction(name string) (*FunctionSpec, bool) {
	spec, ok := functions[name]
	return spec, ok
}

func sameAsFirst(args []datatype.DataType, _ map[string]string) (datatype.DataType, error) {
	return args[0], nil
}

func numericArg(name string) func([]datatype.DataType, map[string]string) (datatype.DataType, error) {
	return func(args []datatype.DataType, _ map[string]string) (datatype.DataType, error) {
		if !args[0].IsNumeric() && args[0].Kind != datatype.KindNull {
			return datatype.Unknown, qerrors.FunctionArgumentError(name, "expected a numeric argument, got "+args[0].String())
		}
		return args[0], nil
	}
}

func floatResult(name string) func([]datatype.DataType, map[string]string) (datatype.DataType, error) {
	check := numericArg(name)
	return func(args []datatype.DataType, opts map[string]string) (datatype.DataType, error) {
		if _, err := check(args, opts); err != nil {
			return datatype.Unknown, err
		}
		return datatype.Float64, nil
	}
}

func stringArg(name string, result datatype.DataType) func([]datatype.DataType, map[string]string) (datatype.DataType, error) {
	return func(args []datatype.DataType, _ map[string]string) (datatype.DataType, error) {
		if !args[0].IsStringLike() && args[0].Kind != datatype.KindNull {
			return datatype.Unknown, qerrors.FunctionArgumentError(name, "expected a string argument, got "+args[0].String())
		}
		return result, nil
	}
}

func supertypeOf(name string, args []datatype.DataType) (datatype.DataType, error) {
	out := args[0]
	for _, a := range args[1:] {
		st, ok := datatype.Supertype(out, a)
		if !ok {
			return datatype.Unknown, qerrors.FunctionArgumentError(name, "arguments "+out.String()+" and "+a.String()+" have no common type")
		}
		out = st
	}
	return out, nil
}

func init() {
	register(&FunctionSpec{Name: "abs", MinArgs: 1, MaxArgs: 1, Deterministic: true, Elementwise: true, ReturnType: numericArg("abs")})
	register(&FunctionSpec{Name: "round", MinArgs: 1, MaxArgs: 1, Deterministic: true, Elementwise: true, ReturnType: numericArg("round")})
	register(&FunctionSpec{Name: "sqrt", MinArgs: 1, MaxArgs: 1, Deterministic: true, Elementwise: true, ReturnType: floatResult("sqrt")})
	register(&FunctionSpec{Name: "exp", MinArgs: 1, MaxArgs: 1, Deterministic: true, Elementwise: true, ReturnType: floatResult("exp")})
	register(&FunctionSpec{Name: "log", MinArgs: 1, MaxArgs: 1, Deterministic: true, Elementwise: true, ReturnType: floatResult("log")})
	register(&FunctionSpec{Name: "lower", MinArgs: 1, MaxArgs: 1, Deterministic: true, Elementwise: true, ReturnType: stringArg("lower", datatype.String)})
	register(&FunctionSpec{Name: "upper", MinArgs: 1, MaxArgs: 1, Deterministic: true, Elementwise: true, ReturnType: stringArg("upper", datatype.String)})
	register(&FunctionSpec{Name: "str_len", MinArgs: 1, MaxArgs: 1, Deterministic: true, Elementwise: true, ReturnType: stringArg("str_len", datatype.UInt32)})
	register(&FunctionSpec{Name: "contains", MinArgs: 1, MaxArgs: 1, Deterministic: true, Elementwise: true,
		ReturnType: func(args []datatype.DataType, opts map[string]string) (datatype.DataType, error) {
			if _, ok := opts["pattern"]; !ok {
				return datatype.Unknown, qerrors.FunctionArgumentError("contains", "missing pattern option")
			}
			return stringArg("contains", datatype.Boolean)(args, opts)
		}})
	register(&FunctionSpec{Name: "concat_str", MinArgs: 1, MaxArgs: -1, Deterministic: true, Elementwise: true,
		ReturnType: func(args []datatype.DataType, _ map[string]string) (datatype.DataType, error) {
			for _, a := range args {
				if a.IsNested() {
					return datatype.Unknown, qerrors.FunctionArgumentError("concat_str", "cannot concatenate "+a.String())
				}
			}
			return datatype.String, nil
		}})
	register(&FunctionSpec{Name: "coalesce", MinArgs: 1, MaxArgs: -1, Deterministic: true, Elementwise: true,
		ReturnType: func(args []datatype.DataType, _ map[string]string) (datatype.DataType, error) {
			return supertypeOf("coalesce", args)
		}})
	register(&FunctionSpec{Name: "if_else", MinArgs: 3, MaxArgs: 3, Deterministic: true, Elementwise: true,
		ReturnType: func(args []datatype.DataType, _ map[string]string) (datatype.DataType, error) {
			if args[0].Kind != datatype.KindBoolean && args[0].Kind != datatype.KindNull {
				return datatype.Unknown, qerrors.PredicateTypeError("if_else", args[0].String())
			}
			return supertypeOf("if_else", args[1:])
		}})
	register(&FunctionSpec{Name: "year", MinArgs: 1, MaxArgs: 1, Deterministic: true, Elementwise: true,
		ReturnType: func(args []datatype.DataType, _ map[string]string) (datatype.DataType, error) {
			if args[0].Kind != datatype.KindDate && args[0].Kind != datatype.KindDatetime {
				return datatype.Unknown, qerrors.FunctionArgumentError("year", "expected a date or datetime, got "+args[0].String())
			}
			return datatype.Int32, nil
		}})
	register(&FunctionSpec{Name: "random", MinArgs: 0, MaxArgs: 0, Deterministic: false, Elementwise: true,
		ReturnType: func([]datatype.DataType, map[string]string) (datatype.DataType, error) {
			return datatype.Float64, nil
		}})
	register(&FunctionSpec{Name: "row_index", MinArgs: 0, MaxArgs: 0, Deterministic: true, IndexDependent: true,
		ReturnType: func([]datatype.DataType, map[string]string) (datatype.DataType, error) {
			return datatype.UInt32, nil
		}})
	register(&FunctionSpec{Name: "cum_sum", MinArgs: 1, MaxArgs: 1, Deterministic: true,
		ReturnType: func(args []datatype.DataType, opts map[string]string) (datatype.DataType, error) {
			return aggType(AggSum, args[0])
		}})
	register(&FunctionSpec{Name: "shift", MinArgs: 1, MaxArgs: 1, Deterministic: true, ReturnType: sameAsFirst})
}
