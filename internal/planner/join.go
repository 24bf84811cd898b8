package planner

import (
	"fmt"
	"strings"

	"github.com/dshills/QuantaFrame/internal/datatype"
	qerrors "github.com/dshills/QuantaFrame/internal/errors"
	"github.com/dshills/QuantaFrame/internal/expr"
)

// DefaultSuffix is appended to right-side column names that collide with a
// left-side name.
const DefaultSuffix = "_right"

// JoinSpec describes how two inputs are joined.
type JoinSpec struct {
	Type    JoinType
	LeftOn  []expr.Expr
	RightOn []expr.Expr

	// Condition is a range predicate over the joined columns. It is only
	// valid for inner joins without keys.
	Condition expr.Expr

	Suffix string
	Asof   *AsofOptions

	// BuildSide is the input a hash join builds its table from.
	BuildSide Side
}

// JoinColumn locates an output column of a join in one of its inputs.
type JoinColumn struct {
	Side Side
	Name string
}

// Join combines two inputs.
type Join struct {
	basePlan
	JoinSpec

	outputs  []JoinColumn
	keyTypes []datatype.DataType

	// pushed holds the hashes of predicates already copied below a full
	// join, so predicate pushdown does not copy them twice.
	pushed map[uint64]bool
}

// NewJoin validates the keys and resolves the joined schema.
func NewJoin(left, right LogicalPlan, spec JoinSpec) (*Join, error) {
	if spec.Suffix == "" {
		spec.Suffix = DefaultSuffix
	}
	keyTypes, err := checkJoinKeys(left.Schema(), right.Schema(), &spec)
	if err != nil {
		return nil, err
	}

	outputs, schema, err := joinSchema(left.Schema(), right.Schema(), spec)
	if err != nil {
		return nil, err
	}
	if spec.Condition != nil {
		if err := checkPredicate(spec.Condition, schema, "join condition"); err != nil {
			return nil, err
		}
		if !expr.IsElementwise(spec.Condition) {
			return nil, qerrors.InvalidJoinKeysError("join condition " + spec.Condition.String() + " must be elementwise")
		}
	}

	return &Join{
		basePlan: basePlan{children: []LogicalPlan{left, right}, schema: schema},
		JoinSpec: spec,
		outputs:  outputs,
		keyTypes: keyTypes,
	}, nil
}

func checkJoinKeys(left, right *datatype.Schema, spec *JoinSpec) ([]datatype.DataType, error) {
	if len(spec.LeftOn) != len(spec.RightOn) {
		return nil, qerrors.InvalidJoinKeysError(fmt.Sprintf("%d left keys and %d right keys", len(spec.LeftOn), len(spec.RightOn)))
	}

	switch {
	case spec.Type == CrossJoin:
		if len(spec.LeftOn) > 0 || spec.Condition != nil {
			return nil, qerrors.InvalidJoinKeysError("a cross join takes no keys")
		}
		return nil, nil
	case spec.Condition != nil:
		if spec.Type != InnerJoin || len(spec.LeftOn) > 0 {
			return nil, qerrors.InvalidJoinKeysError("a join condition requires an inner join without keys")
		}
		return nil, nil
	case len(spec.LeftOn) == 0:
		return nil, qerrors.InvalidJoinKeysError(strings.ToLower(spec.Type.String()) + " join requires at least one key")
	}

	if spec.Type == AsofJoin {
		if len(spec.LeftOn) != 1 {
			return nil, qerrors.InvalidJoinKeysError("an asof join takes exactly one key per side")
		}
		if spec.Asof == nil {
			spec.Asof = &AsofOptions{}
		}
		for _, k := range []expr.Expr{spec.LeftOn[0], spec.RightOn[0]} {
			if _, ok := k.(*expr.Column); !ok {
				return nil, qerrors.InvalidJoinKeysError("asof join keys must be column references, got " + k.String())
			}
		}
	}

	types := make([]datatype.DataType, len(spec.LeftOn))
	for i := range spec.LeftOn {
		lt, err := joinKeyType(spec.LeftOn[i], left)
		if err != nil {
			return nil, err
		}
		rt, err := joinKeyType(spec.RightOn[i], right)
		if err != nil {
			return nil, err
		}
		st, ok := datatype.Supertype(lt, rt)
		if !ok {
			return nil, qerrors.TypeMismatchError("join", lt.String(), rt.String()).
				WithDetailf("Join keys %s and %s have incompatible types.", spec.LeftOn[i], spec.RightOn[i])
		}
		if spec.Type == AsofJoin && !st.IsNumeric() && !st.IsTemporal() {
			return nil, qerrors.InvalidJoinKeysError("asof join keys must be numeric or temporal, not " + st.String())
		}
		types[i] = st
	}
	return types, nil
}

func joinKeyType(key expr.Expr, schema *datatype.Schema) (datatype.DataType, error) {
	if err := expr.Validate(key, expr.Elementwise); err != nil {
		return datatype.Unknown, err
	}
	if !expr.IsElementwise(key) {
		return datatype.Unknown, qerrors.InvalidJoinKeysError("join key " + key.String() + " must be elementwise")
	}
	return expr.TypeOf(key, schema)
}

// joinSchema lays out the output columns: all left columns, then the right
// columns the join type keeps. Right key columns are dropped for inner,
// left and asof joins because they equal the left keys.
func joinSchema(left, right *datatype.Schema, spec JoinSpec) ([]JoinColumn, *datatype.Schema, error) {
	outputs := make([]JoinColumn, 0, left.Len()+right.Len())
	cols := left.Columns()
	for _, c := range cols {
		outputs = append(outputs, JoinColumn{Side: LeftSide, Name: c.Name})
	}
	if spec.Type == SemiJoin || spec.Type == AntiJoin {
		schema, err := datatype.NewSchema(cols...)
		return outputs, schema, err
	}

	dropped := map[string]bool{}
	if spec.Type == InnerJoin || spec.Type == LeftJoin || spec.Type == AsofJoin {
		for _, k := range spec.RightOn {
			if c, ok := k.(*expr.Column); ok {
				dropped[c.Name] = true
			}
		}
	}

	for _, c := range right.Columns() {
		if dropped[c.Name] {
			continue
		}
		name := c.Name
		if left.Contains(name) {
			name += spec.Suffix
		}
		outputs = append(outputs, JoinColumn{Side: RightSide, Name: c.Name})
		cols = append(cols, datatype.Column{Name: name, Type: c.Type})
	}
	schema, err := datatype.NewSchema(cols...)
	if err != nil {
		return nil, nil, err
	}
	return outputs, schema, nil
}

func (j *Join) left() LogicalPlan  { return j.children[0] }
func (j *Join) right() LogicalPlan { return j.children[1] }

// Outputs maps each output column to its input column.
func (j *Join) Outputs() []JoinColumn {
	return j.outputs
}

// KeyTypes returns the type each key pair is compared in.
func (j *Join) KeyTypes() []datatype.DataType {
	return j.keyTypes
}

// IsEquiJoin reports whether the join matches rows on key equality and can
// run as a hash join.
func (j *Join) IsEquiJoin() bool {
	return len(j.LeftOn) > 0 && j.Type != AsofJoin && j.Type != CrossJoin
}

// sideOf returns the input side every named output column comes from and
// the input names of those columns. ok is false when the names span both
// sides or name no column.
func (j *Join) sideOf(names []string) (side Side, inputNames map[string]string, ok bool) {
	if len(names) == 0 {
		return LeftSide, nil, false
	}
	inputNames = make(map[string]string, len(names))
	for i, name := range names {
		idx, found := j.schema.Index(name)
		if !found {
			return LeftSide, nil, false
		}
		out := j.outputs[idx]
		if i == 0 {
			side = out.Side
		} else if out.Side != side {
			return LeftSide, nil, false
		}
		inputNames[name] = out.Name
	}
	return side, inputNames, true
}

func (j *Join) String() string {
	var sb strings.Builder
	sb.WriteString(j.Type.String())
	sb.WriteString("Join")
	switch {
	case j.Condition != nil:
		sb.WriteString(" where " + j.Condition.String())
	case j.Type == AsofJoin:
		fmt.Fprintf(&sb, " %s on %s = %s", j.Asof.Strategy, j.LeftOn[0], j.RightOn[0])
		if j.Asof.Tolerance != nil {
			fmt.Fprintf(&sb, " tolerance=%g", *j.Asof.Tolerance)
		}
	case len(j.LeftOn) > 0:
		sb.WriteString(" on " + exprList(j.LeftOn) + " = " + exprList(j.RightOn))
		if j.IsEquiJoin() {
			sb.WriteString(" build=" + j.BuildSide.String())
		}
	}
	if j.Suffix != DefaultSuffix {
		fmt.Fprintf(&sb, " suffix=%q", j.Suffix)
	}
	return sb.String()
}

func (j *Join) WithChildren(children []LogicalPlan) (LogicalPlan, error) {
	n, err := NewJoin(children[0], children[1], j.JoinSpec)
	if err != nil {
		return nil, err
	}
	n.pushed = j.pushed
	return n, nil
}

// withSpec rebuilds the join with a modified spec over the same inputs.
func (j *Join) withSpec(spec JoinSpec) (*Join, error) {
	n, err := NewJoin(j.left(), j.right(), spec)
	if err != nil {
		return nil, err
	}
	n.pushed = j.pushed
	return n, nil
}
