package sqlsource

import (
	"fmt"
	"strings"

	"github.com/dshills/QuantaFrame/internal/datatype"
	"github.com/dshills/QuantaFrame/internal/expr"
	"github.com/dshills/QuantaFrame/internal/source"
)

var sqlOperators = map[expr.BinaryOp]string{
	expr.OpAdd: "+", expr.OpSub: "-", expr.OpMul: "*", expr.OpMod: "%",
	expr.OpEq: "=", expr.OpNotEq: "<>", expr.OpLt: "<", expr.OpLtEq: "<=",
	expr.OpGt: ">", expr.OpGtEq: ">=", expr.OpAnd: "AND", expr.OpOr: "OR",
}

var sqlFunctions = map[string]string{"abs": "ABS", "lower": "LOWER", "upper": "UPPER"}

// renderer turns expressions into SQL with bound arguments.
type renderer struct {
	dialect Dialect
	schema  *datatype.Schema
	args    []any
}

func (r *renderer) render(e expr.Expr) (string, error) {
	switch n := e.(type) {
	case *expr.Column:
		if !r.schema.Contains(n.Name) {
			return "", fmt.Errorf("unknown column %s", n.Name)
		}
		return r.dialect.QuoteIdentifier(n.Name), nil
	case *expr.Literal:
		if n.Value == nil {
			return "NULL", nil
		}
		if n.Type.IsNested() || n.Type.IsTemporal() {
			return "", fmt.Errorf("cannot bind %s literal", n.Type)
		}
		r.args = append(r.args, n.Value)
		return r.dialect.Placeholder(len(r.args)), nil
	case *expr.Alias:
		return r.render(n.Input)
	case *expr.Binary:
		op, ok := sqlOperators[n.Op]
		if !ok {
			return "", fmt.Errorf("operator %s has no SQL form", n.Op)
		}
		if n.Op == expr.OpAdd {
			if t, err := expr.TypeOf(n, r.schema); err != nil || t.IsStringLike() {
				return "", fmt.Errorf("string concatenation is not pushed down")
			}
		}
		l, err := r.render(n.Left)
		if err != nil {
			return "", err
		}
		rt, err := r.render(n.Right)
		if err != nil {
			return "", err
		}
		return "(" + l + " " + op + " " + rt + ")", nil
	case *expr.Unary:
		in, err := r.render(n.Input)
		if err != nil {
			return "", err
		}
		switch n.Op {
		case expr.OpNot:
			return "(NOT " + in + ")", nil
		case expr.OpNeg:
			return "(-" + in + ")", nil
		case expr.OpIsNull:
			return "(" + in + " IS NULL)", nil
		case expr.OpIsNotNull:
			return "(" + in + " IS NOT NULL)", nil
		}
	case *expr.Function:
		name, ok := sqlFunctions[n.Name]
		if !ok || len(n.Args) != 1 {
			return "", fmt.Errorf("function %s has no SQL form", n.Name)
		}
		in, err := r.render(n.Args[0])
		if err != nil {
			return "", err
		}
		return name + "(" + in + ")", nil
	}
	return "", fmt.Errorf("expression %s has no SQL form", e)
}

// BuildQuery renders the SELECT statement for a scan of table.
func BuildQuery(dialect Dialect, table string, schema *datatype.Schema, req source.ScanRequest) (string, []any, error) {
	cols := req.Columns
	if cols == nil {
		cols = schema.Names()
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		if !schema.Contains(c) {
			return "", nil, fmt.Errorf("unknown column %s", c)
		}
		quoted[i] = dialect.QuoteIdentifier(c)
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	if len(quoted) == 0 {
		sb.WriteString("1")
	} else {
		sb.WriteString(strings.Join(quoted, ", "))
	}
	sb.WriteString(" FROM ")
	sb.WriteString(dialect.QuoteIdentifier(table))

	r := &renderer{dialect: dialect, schema: schema}
	if req.Predicate != nil {
		where, err := r.render(req.Predicate)
		if err != nil {
			return "", nil, err
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}
	if req.Slice != nil {
		fmt.Fprintf(&sb, " LIMIT %d OFFSET %d", max(req.Slice.Length, 0), max(req.Slice.Offset, 0))
	}
	return sb.String(), r.args, nil
}
