package planspec

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/dshills/QuantaFrame/internal/datatype"
	"github.com/dshills/QuantaFrame/internal/expr"
)

// Expr is the YAML form of an expression. A bare string is a column
// reference; otherwise one of col, lit, op, agg, fn or cast is set.
type Expr struct {
	Col     string            `yaml:"col"`
	Op      string            `yaml:"op"`
	Agg     string            `yaml:"agg"`
	Fn      string            `yaml:"fn"`
	Cast    string            `yaml:"cast"`
	Strict  bool              `yaml:"strict"`
	Type    string            `yaml:"type"`
	Args    []Expr            `yaml:"args"`
	Options map[string]string `yaml:"options"`
	Over    []Expr            `yaml:"over"`
	OrderBy []SortSpec        `yaml:"order_by"`
	Rows    []int             `yaml:"rows"`
	As      string            `yaml:"as"`

	HasLit bool `yaml:"-"`
	Lit    any  `yaml:"-"`
}

// UnmarshalYAML accepts a column name or a mapping. lit is decoded apart
// so that an explicit null is kept.
func (e *Expr) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		e.Col = n.Value
		return nil
	}
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expression must be a column name or a mapping", n.Line)
	}
	rest := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		if key.Value == "lit" {
			e.HasLit = true
			if err := val.Decode(&e.Lit); err != nil {
				return err
			}
			continue
		}
		rest.Content = append(rest.Content, key, val)
	}
	type fields Expr
	return rest.Decode((*fields)(e))
}

// Build converts the YAML form into an expression.
func (e *Expr) Build() (expr.Expr, error) {
	out, err := e.build()
	if err != nil {
		return nil, err
	}
	if e.Over != nil || e.OrderBy != nil || e.Rows != nil {
		if out, err = e.window(out); err != nil {
			return nil, err
		}
	}
	if e.As != "" {
		out = expr.As(out, e.As)
	}
	return out, nil
}

func (e *Expr) build() (expr.Expr, error) {
	switch {
	case e.Col != "":
		return expr.Col(e.Col), nil

	case e.HasLit:
		if e.Type == "" {
			if e.Lit == nil {
				return expr.NullLit(datatype.Null), nil
			}
			return expr.Lit(e.Lit), nil
		}
		t, err := datatype.Parse(e.Type)
		if err != nil {
			return nil, err
		}
		if e.Lit == nil {
			return expr.NullLit(t), nil
		}
		return expr.TypedLit(e.Lit, t)

	case e.Op != "":
		args, err := buildAll(e.Args)
		if err != nil {
			return nil, err
		}
		return operator(e.Op, args)

	case e.Agg != "":
		f, ok := expr.ParseAggFunc(e.Agg)
		if !ok {
			return nil, fmt.Errorf("unknown aggregation %q", e.Agg)
		}
		args, err := buildAll(e.Args)
		if err != nil {
			return nil, err
		}
		switch {
		case len(args) == 0 && f == expr.AggCount:
			return expr.Count(), nil
		case len(args) != 1:
			return nil, fmt.Errorf("aggregation %s takes one argument", e.Agg)
		}
		return &expr.Agg{Func: f, Input: args[0]}, nil

	case e.Fn != "":
		args, err := buildAll(e.Args)
		if err != nil {
			return nil, err
		}
		return expr.CallWith(e.Fn, e.Options, args...), nil

	case e.Cast != "":
		t, err := datatype.Parse(e.Cast)
		if err != nil {
			return nil, err
		}
		if len(e.Args) != 1 {
			return nil, fmt.Errorf("cast takes one argument")
		}
		in, err := e.Args[0].Build()
		if err != nil {
			return nil, err
		}
		if e.Strict {
			return expr.StrictCast(in, t), nil
		}
		return expr.CastTo(in, t), nil
	}
	return nil, fmt.Errorf("empty expression")
}

func operator(name string, args []expr.Expr) (expr.Expr, error) {
	switch name {
	case "not", "neg", "is_null", "is_not_null":
		if len(args) != 1 {
			return nil, fmt.Errorf("%s takes one argument", name)
		}
		switch name {
		case "not":
			return expr.Not(args[0]), nil
		case "neg":
			return expr.Neg(args[0]), nil
		case "is_null":
			return expr.IsNull(args[0]), nil
		}
		return expr.IsNotNull(args[0]), nil
	}

	op, ok := expr.ParseBinaryOp(name)
	if !ok {
		return nil, fmt.Errorf("unknown operator %q", name)
	}
	if len(args) < 2 {
		return nil, fmt.Errorf("%s takes at least two arguments", name)
	}
	if op == expr.OpAnd {
		return expr.And(args...), nil
	}
	if len(args) != 2 && op != expr.OpOr {
		return nil, fmt.Errorf("%s takes two arguments", name)
	}
	out := args[0]
	for _, a := range args[1:] {
		out = &expr.Binary{Op: op, Left: out, Right: a}
	}
	return out, nil
}

func (e *Expr) window(in expr.Expr) (expr.Expr, error) {
	partition, err := buildAll(e.Over)
	if err != nil {
		return nil, err
	}
	w := expr.Over(in, partition...)
	if e.OrderBy != nil {
		keys, err := buildSort(e.OrderBy)
		if err != nil {
			return nil, err
		}
		w = w.OrderedBy(keys...)
	}
	if e.Rows != nil {
		if len(e.Rows) != 2 {
			return nil, fmt.Errorf("rows takes [start, end]")
		}
		w = w.Rows(e.Rows[0], e.Rows[1])
	}
	return w, nil
}

func buildAll(specs []Expr) ([]expr.Expr, error) {
	out := make([]expr.Expr, len(specs))
	for i := range specs {
		e, err := specs[i].Build()
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func buildSort(specs []SortSpec) ([]*expr.SortBy, error) {
	out := make([]*expr.SortBy, len(specs))
	for i, s := range specs {
		by, err := s.By.Build()
		if err != nil {
			return nil, err
		}
		out[i] = &expr.SortBy{Input: by, Descending: s.Descending, NullsLast: s.NullsLast}
	}
	return out, nil
}
