package errors

// SQLSTATE-style error codes used by the planner.
// Based on PostgreSQL error codes: https://www.postgresql.org/docs/current/errcodes-appendix.html

// Class 0A - Feature Not Supported
const (
	FeatureNotSupported = "0A000"
)

// Class 22 - Data Exception
const (
	DataException                       = "22000"
	InvalidParameterValue               = "22023"
	InvalidRowCountInLimitClause        = "2201W"
	InvalidRowCountInResultOffsetClause = "2201X"
	InvalidPrecedingOrFollowingSize     = "22013"
)

// Class 42 - Syntax Error or Access Rule Violation
const (
	SyntaxErrorOrAccessRuleViolation = "42000"
	CannotCoerce                     = "42846"
	GroupingError                    = "42803"
	WindowingError                   = "42P20"
	DatatypeMismatch                 = "42804"
	IndeterminateDatatype            = "42P18"
	UndefinedColumn                  = "42703"
	UndefinedFunction                = "42883"
	DuplicateColumn                  = "42701"
	AmbiguousColumn                  = "42702"
	InvalidColumnReference           = "42P10"
)

// Class 54 - Program Limit Exceeded
const (
	StatementTooComplex = "54001"
)

// Class XX - Internal Error
const (
	InternalError = "XX000"
)
