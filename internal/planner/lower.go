package planner

import (
	"fmt"

	"github.com/dshills/QuantaFrame/internal/config"
	qerrors "github.com/dshills/QuantaFrame/internal/errors"
	"github.com/dshills/QuantaFrame/internal/expr"
)

// Capability describes what an executor can run. Lowering picks the first
// executor, in preference order, whose capability covers the whole plan.
type Capability interface {
	Name() string
	Supports(kind OperatorKind) bool
	SupportsExpr(e expr.Expr) bool

	// Streaming executors run with bounded memory. They are only chosen
	// for inputs large enough to benefit when the size is known.
	Streaming() bool
}

// Lower maps an optimized logical plan to a physical plan and selects the
// executor that runs it. Executors are tried in order; a streaming executor
// is passed over for known-small inputs unless no other executor fits.
func Lower(plan LogicalPlan, executors []Capability, cfg config.ExecutorConfig) (PhysicalPlan, Capability, error) {
	phys, err := lowerNode(plan, cfg)
	if err != nil {
		return nil, nil, err
	}

	rows := int64(-1)
	if est := EstimateRows(plan); est.Known {
		rows = est.RowCount()
	}

	names := make([]string, len(executors))
	for i, ex := range executors {
		names[i] = ex.Name()
	}
	for _, ex := range executors {
		if ex.Streaming() && !cfg.ShouldStream(rows) {
			continue
		}
		if _, ok := unsupported(phys, ex); ok {
			return phys, ex, nil
		}
	}

	var missing string
	for _, ex := range executors {
		m, ok := unsupported(phys, ex)
		if ok {
			return phys, ex, nil
		}
		missing = m
	}
	if missing == "" {
		missing = phys.Kind().String()
	}
	return nil, nil, qerrors.UnsupportedPlanError(missing, names)
}

// unsupported returns the first operator or expression of plan, in depth
// first order, that ex cannot run. ok is true when ex runs all of plan.
func unsupported(plan PhysicalPlan, ex Capability) (missing string, ok bool) {
	WalkPhysical(plan, func(p PhysicalPlan) bool {
		if missing != "" {
			return false
		}
		if !ex.Supports(p.Kind()) {
			missing = p.Kind().String()
			return false
		}
		for _, e := range physicalExprs(p) {
			if !ex.SupportsExpr(e) {
				missing = fmt.Sprintf("%s expression %s", p.Kind(), e)
				return false
			}
		}
		return true
	})
	return missing, missing == ""
}

// physicalExprs returns the expressions an operator evaluates.
func physicalExprs(plan PhysicalPlan) []expr.Expr {
	switch p := plan.(type) {
	case *PhysicalScan:
		if p.Request.Predicate != nil {
			return []expr.Expr{p.Request.Predicate}
		}
	case *PhysicalFilter:
		return []expr.Expr{p.Predicate}
	case *PhysicalProject:
		return p.Exprs
	case *PhysicalHStack:
		return p.Exprs
	case *PhysicalHashJoin:
		return append(append([]expr.Expr(nil), p.LeftKeys...), p.RightKeys...)
	case *PhysicalNestedLoopJoin:
		if p.Condition != nil {
			return []expr.Expr{p.Condition}
		}
	case *PhysicalAsofJoin:
		return []expr.Expr{p.LeftKey, p.RightKey}
	case *PhysicalGroupBy:
		return append(append([]expr.Expr(nil), p.Keys...), p.Aggs...)
	case *PhysicalDynamicGroupBy:
		return append(append([]expr.Expr(nil), p.Keys...), p.Aggs...)
	case *PhysicalSort:
		out := make([]expr.Expr, len(p.Keys))
		for i, k := range p.Keys {
			out[i] = k
		}
		return out
	}
	return nil
}

func lowerNode(plan LogicalPlan, cfg config.ExecutorConfig) (PhysicalPlan, error) {
	children := make([]PhysicalPlan, len(plan.Children()))
	for i, c := range plan.Children() {
		pc, err := lowerNode(c, cfg)
		if err != nil {
			return nil, err
		}
		children[i] = pc
	}
	base := physicalBase{children: children, schema: plan.Schema()}

	switch p := plan.(type) {
	case *Scan:
		req := p.Request(cfg.BatchSize)
		if req.Predicate != nil {
			pred, err := expr.Bind(req.Predicate, p.Source.Schema())
			if err != nil {
				return nil, err
			}
			req.Predicate = pred
		}
		return &PhysicalScan{physicalBase: base, Source: p.Source, Request: req}, nil

	case *Filter:
		pred, err := expr.Bind(p.Predicate, p.input().Schema())
		if err != nil {
			return nil, err
		}
		return &PhysicalFilter{physicalBase: base, Predicate: pred}, nil

	case *Select:
		exprs, err := expr.BindAll(p.Exprs, p.input().Schema())
		if err != nil {
			return nil, err
		}
		return &PhysicalProject{physicalBase: base, Exprs: exprs}, nil

	case *HStack:
		exprs, err := expr.BindAll(p.Exprs, p.input().Schema())
		if err != nil {
			return nil, err
		}
		return &PhysicalHStack{physicalBase: base, Exprs: exprs}, nil

	case *Join:
		return lowerJoin(p, base)

	case *GroupBy:
		in := p.input().Schema()
		keys, err := expr.BindAll(p.Keys, in)
		if err != nil {
			return nil, err
		}
		aggs, err := expr.BindAll(p.Aggs, in)
		if err != nil {
			return nil, err
		}
		if p.Dynamic == nil {
			return &PhysicalGroupBy{physicalBase: base, Keys: keys, Aggs: aggs}, nil
		}
		idx, _, err := in.Resolve(p.Dynamic.Index)
		if err != nil {
			return nil, err
		}
		return &PhysicalDynamicGroupBy{
			physicalBase: base,
			Keys:         keys,
			Aggs:         aggs,
			Window:       *p.Dynamic,
			Index:        &expr.Column{Name: p.Dynamic.Index, Index: idx},
		}, nil

	case *Sort:
		keys := make([]*expr.SortBy, len(p.Keys))
		for i, k := range p.Keys {
			in, err := expr.Bind(k.Input, p.input().Schema())
			if err != nil {
				return nil, err
			}
			keys[i] = &expr.SortBy{Input: in, Descending: k.Descending, NullsLast: k.NullsLast}
		}
		return &PhysicalSort{physicalBase: base, Keys: keys}, nil

	case *Slice:
		return &PhysicalSlice{physicalBase: base, Offset: p.Offset, Length: p.Length}, nil

	case *Distinct:
		var subset []int
		if p.Subset != nil {
			subset = make([]int, len(p.Subset))
			for i, name := range p.Subset {
				idx, _, err := p.Schema().Resolve(name)
				if err != nil {
					return nil, err
				}
				subset[i] = idx
			}
		}
		return &PhysicalDistinct{physicalBase: base, Subset: subset, Keep: p.Keep}, nil

	case *Union:
		return &PhysicalUnion{physicalBase: base}, nil

	case *Cache:
		return &PhysicalCache{physicalBase: base, ID: p.ID}, nil
	}
	return nil, qerrors.UnsupportedOperatorError(fmt.Sprintf("%T", plan))
}

func lowerJoin(j *Join, base physicalBase) (PhysicalPlan, error) {
	left, right := j.left().Schema(), j.right().Schema()
	columns := make([]JoinOutput, len(j.outputs))
	for i, out := range j.outputs {
		schema := left
		if out.Side == RightSide {
			schema = right
		}
		idx, _, err := schema.Resolve(out.Name)
		if err != nil {
			return nil, err
		}
		columns[i] = JoinOutput{Side: out.Side, Index: idx}
	}

	switch {
	case j.Type == CrossJoin || j.Condition != nil:
		var cond expr.Expr
		if j.Condition != nil {
			var err error
			if cond, err = expr.Bind(j.Condition, j.Schema()); err != nil {
				return nil, err
			}
		}
		return &PhysicalNestedLoopJoin{physicalBase: base, Condition: cond, Columns: columns}, nil

	case j.Type == AsofJoin:
		lk, err := expr.Bind(j.LeftOn[0], left)
		if err != nil {
			return nil, err
		}
		rk, err := expr.Bind(j.RightOn[0], right)
		if err != nil {
			return nil, err
		}
		return &PhysicalAsofJoin{
			physicalBase: base,
			LeftKey:      lk,
			RightKey:     rk,
			KeyType:      j.keyTypes[0],
			Strategy:     j.Asof.Strategy,
			Tolerance:    j.Asof.Tolerance,
			Columns:      columns,
		}, nil
	}

	lk, err := expr.BindAll(j.LeftOn, left)
	if err != nil {
		return nil, err
	}
	rk, err := expr.BindAll(j.RightOn, right)
	if err != nil {
		return nil, err
	}
	return &PhysicalHashJoin{
		physicalBase: base,
		Type:         j.Type,
		LeftKeys:     lk,
		RightKeys:    rk,
		KeyTypes:     j.keyTypes,
		BuildSide:    j.BuildSide,
		Columns:      columns,
	}, nil
}
