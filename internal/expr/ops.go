package expr

// BinaryOp is an infix operator.
type BinaryOp int

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEq
	OpNotEq
	OpLt
	OpLtEq
	OpGt
	OpGtEq
	OpAnd
	OpOr
)

var binaryOpSymbols = [...]string{"+", "-", "*", "/", "%", "==", "!=", "<", "<=", ">", ">=", "&", "|"}

func (op BinaryOp) String() string {
	if int(op) < len(binaryOpSymbols) {
		return binaryOpSymbols[op]
	}
	return "?"
}

// IsArithmetic reports whether op computes a number.
func (op BinaryOp) IsArithmetic() bool {
	return op <= OpMod
}

// IsComparison reports whether op compares its operands.
func (op BinaryOp) IsComparison() bool {
	return op >= OpEq && op <= OpGtEq
}

// IsLogical reports whether op is and/or.
func (op BinaryOp) IsLogical() bool {
	return op == OpAnd || op == OpOr
}

// Flip returns the comparison with its operands swapped: a < b is b > a.
func (op BinaryOp) Flip() BinaryOp {
	switch op {
	case OpLt:
		return OpGt
	case OpLtEq:
		return OpGtEq
	case OpGt:
		return OpLt
	case OpGtEq:
		return OpLtEq
	}
	return op
}

// UnaryOp is a single-operand operator.
type UnaryOp int

const (
	OpNot UnaryOp = iota
	OpNeg
	OpIsNull
	OpIsNotNull
)

func (op UnaryOp) String() string {
	switch op {
	case OpNot:
		return "not"
	case OpNeg:
		return "neg"
	case OpIsNull:
		return "is_null"
	case OpIsNotNull:
		return "is_not_null"
	}
	return "?"
}

// AggFunc is an aggregation.
type AggFunc int

const (
	AggSum AggFunc = iota
	AggMean
	AggMin
	AggMax
	AggCount
	AggFirst
	AggLast
	AggNUnique
)

var aggNames = [...]string{"sum", "mean", "min", "max", "count", "first", "last", "n_unique"}

func (f AggFunc) String() string {
	if int(f) < len(aggNames) {
		return aggNames[f]
	}
	return "?"
}

// ParseAggFunc looks an aggregation up by name.
func ParseAggFunc(name string) (AggFunc, bool) {
	for i, n := range aggNames {
		if n == name {
			return AggFunc(i), true
		}
	}
	return 0, false
}

// ParseBinaryOp looks an operator up by its short name (add, gt, and, ...).
func ParseBinaryOp(name string) (BinaryOp, bool) {
	op, ok := binaryOpNames[name]
	return op, ok
}

var binaryOpNames = map[string]BinaryOp{
	"add": OpAdd, "sub": OpSub, "mul": OpMul, "div": OpDiv, "mod": OpMod,
	"eq": OpEq, "neq": OpNotEq, "lt": OpLt, "lte": OpLtEq, "gt": OpGt, "gte": OpGtEq,
	"and": OpAnd, "or": OpOr,
}
