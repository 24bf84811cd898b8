package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies an error by the planning stage contract it violates.
type Kind int

const (
	KindUnknown Kind = iota
	// KindSchema is an unknown column or an ambiguous column after a join.
	KindSchema
	// KindType is an incompatible operand type or an invalid cast.
	KindType
	// KindValidation is an expression used outside its valid context or malformed join keys.
	KindValidation
	// KindUnsupportedOperator is an operator disabled by configuration.
	KindUnsupportedOperator
	// KindUnsupportedPlan means no executor supports the lowered plan.
	KindUnsupportedPlan
	// KindOptimizerInvariant means a rewrite pass changed the plan's output schema.
	KindOptimizerInvariant
)

func (k Kind) String() string {
	switch k {
	case KindSchema:
		return "SchemaError"
	case KindType:
		return "TypeError"
	case KindValidation:
		return "ValidationError"
	case KindUnsupportedOperator:
		return "UnsupportedOperatorError"
	case KindUnsupportedPlan:
		return "UnsupportedPlanError"
	case KindOptimizerInvariant:
		return "OptimizerInvariantError"
	default:
		return "Error"
	}
}

// Error is a planning error with an SQLSTATE-style code.
type Error struct {
	Code     string // SQLSTATE code
	Kind     Kind   // Planner error kind
	Message  string // Primary error message
	Detail   string // Optional detailed error message
	Hint     string // Optional hint message
	Column   string // Column name if applicable
	DataType string // Data type name if applicable
	Operator string // Plan operator if applicable
	Where    string // Context where error occurred
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (SQLSTATE %s) DETAIL: %s", e.Kind, e.Message, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s: %s (SQLSTATE %s)", e.Kind, e.Message, e.Code)
}

// New creates a new Error with the given code and message
func New(kind Kind, code string, message string) *Error {
	return &Error{
		Code:    code,
		Kind:    kind,
		Message: message,
	}
}

// Newf creates a new Error with a formatted message
func Newf(kind Kind, code string, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// WithDetail adds detail to the error
func (e *Error) WithDetail(detail string) *Error {
	e.Detail = detail
	return e
}

// WithDetailf adds formatted detail to the error
func (e *Error) WithDetailf(format string, args ...interface{}) *Error {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// WithHint adds a hint to the error
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// WithHintf adds a formatted hint to the error
func (e *Error) WithHintf(format string, args ...interface{}) *Error {
	e.Hint = fmt.Sprintf(format, args...)
	return e
}

// WithColumn sets the column name
func (e *Error) WithColumn(column string) *Error {
	e.Column = column
	return e
}

// WithDataType sets the data type name
func (e *Error) WithDataType(dataType string) *Error {
	e.DataType = dataType
	return e
}

// WithOperator sets the plan operator name
func (e *Error) WithOperator(op string) *Error {
	e.Operator = op
	return e
}

// WithWhere sets the context where the error occurred
func (e *Error) WithWhere(where string) *Error {
	e.Where = where
	return e
}

// As finds the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err's chain contains an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindUnknown
}
