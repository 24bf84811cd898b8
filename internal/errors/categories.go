package errors

import "strings"

// Category-specific error constructors for planning operations

// Schema errors
func ColumnNotFoundError(columnName string, available []string) *Error {
	return Newf(KindSchema, UndefinedColumn, "column \"%s\" does not exist", columnName).
		WithColumn(columnName).
		WithDetailf("Available columns: [%s].", strings.Join(available, ", "))
}

func AmbiguousColumnError(columnName string) *Error {
	return Newf(KindSchema, AmbiguousColumn, "column reference \"%s\" is ambiguous", columnName).
		WithColumn(columnName)
}

func DuplicateColumnError(columnName string) *Error {
	return Newf(KindSchema, DuplicateColumn, "column \"%s\" specified more than once", columnName).
		WithColumn(columnName).
		WithHint("Use an alias to give the column a unique name.")
}

func SchemaMismatchError(operator string, detail string) *Error {
	return Newf(KindSchema, DatatypeMismatch, "%s inputs have incompatible schemas", operator).
		WithOperator(operator).
		WithDetail(detail)
}

// Type errors
func TypeMismatchError(op, left, right string) *Error {
	return Newf(KindType, DatatypeMismatch, "operator %s cannot be applied to types %s and %s", op, left, right).
		WithHintf("You will need to rewrite or cast the expression.")
}

func InvalidCastError(fromType, toType string) *Error {
	return Newf(KindType, CannotCoerce, "cannot cast type %s to %s", fromType, toType).
		WithDataType(toType)
}

func PredicateTypeError(context, actual string) *Error {
	return Newf(KindType, DatatypeMismatch, "argument of %s must be type Boolean, not type %s", context, actual).
		WithDataType(actual)
}

func FunctionNotFoundError(funcName string) *Error {
	return Newf(KindType, UndefinedFunction, "function %s() does not exist", funcName)
}

func FunctionArgumentError(funcName string, detail string) *Error {
	return Newf(KindType, DatatypeMismatch, "invalid arguments for function %s()", funcName).
		WithDetail(detail)
}

// Validation errors
func AggregateOutsideGroupByError(expr string) *Error {
	return Newf(KindValidation, GroupingError, "aggregate expression %s is not allowed here", expr).
		WithHint("Aggregations are only valid inside a group-by aggregation list or a window expression.")
}

func NestedAggregateError(expr string) *Error {
	return Newf(KindValidation, GroupingError, "aggregate function calls cannot be nested: %s", expr)
}

func NotAnAggregationError(expr string) *Error {
	return Newf(KindValidation, GroupingError, "expression %s in the aggregation list does not aggregate", expr).
		WithHint("Wrap the expression in an aggregate function such as sum() or first().")
}

func WindowError(expr string, detail string) *Error {
	return Newf(KindValidation, WindowingError, "invalid window expression %s", expr).
		WithDetail(detail)
}

func InvalidJoinKeysError(detail string) *Error {
	return New(KindValidation, InvalidColumnReference, "malformed join keys").
		WithDetail(detail)
}

func InvalidSliceError(offset, length int64) *Error {
	return Newf(KindValidation, InvalidRowCountInResultOffsetClause, "invalid slice offset %d length %d", offset, length).
		WithHint("Offset and length must be non-negative.")
}

func InvalidArgumentError(operator string, detail string) *Error {
	return Newf(KindValidation, InvalidParameterValue, "invalid argument for %s", operator).
		WithOperator(operator).
		WithDetail(detail)
}

// Configuration errors
func UnsupportedOperatorError(operator string) *Error {
	return Newf(KindUnsupportedOperator, FeatureNotSupported, "operator %s is disabled by configuration", operator).
		WithOperator(operator).
		WithHintf("Enable the %s feature to use this operator.", operator)
}

// Lowering errors
func UnsupportedPlanError(operator string, executors []string) *Error {
	return Newf(KindUnsupportedPlan, FeatureNotSupported, "no executor supports operator %s", operator).
		WithOperator(operator).
		WithDetailf("Executors tried: [%s].", strings.Join(executors, ", "))
}

// Optimizer errors
func OptimizerInvariantError(pass string, before, after string) *Error {
	return Newf(KindOptimizerInvariant, InternalError, "optimizer pass %s changed the plan output schema", pass).
		WithDetailf("before: %s after: %s", before, after)
}
