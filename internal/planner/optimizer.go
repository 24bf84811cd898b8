package planner

import (
	"fmt"
	"io"
	"reflect"
	"slices"

	"github.com/spaolacci/murmur3"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/QuantaFrame/internal/config"
	qerrors "github.com/dshills/QuantaFrame/internal/errors"
	"github.com/dshills/QuantaFrame/internal/expr"
	"github.com/dshills/QuantaFrame/internal/feature"
	"github.com/dshills/QuantaFrame/internal/log"
	"github.com/dshills/QuantaFrame/internal/source"
)

// Pass is a rewrite of a logical plan. Apply returns the rewritten plan and
// whether anything changed. A pass must keep the plan's output schema and
// must skip rewrites it cannot prove safe.
type Pass interface {
	Name() string
	Apply(plan LogicalPlan) (LogicalPlan, bool, error)
}

// Optimizer runs its passes until the plan stops changing or the iteration
// bound is reached.
type Optimizer struct {
	cfg      config.OptimizerConfig
	features *feature.Set
	logger   log.Logger
	passes   []Pass
}

// OptimizerOption configures an Optimizer.
type OptimizerOption func(*Optimizer)

// WithLogger sets the logger passes report to.
func WithLogger(l log.Logger) OptimizerOption {
	return func(o *Optimizer) { o.logger = l }
}

// WithPasses replaces the default pass pipeline.
func WithPasses(passes ...Pass) OptimizerOption {
	return func(o *Optimizer) { o.passes = passes }
}

// NewOptimizer creates an optimizer with the passes cfg enables, in their
// default order.
func NewOptimizer(cfg config.OptimizerConfig, features *feature.Set, opts ...OptimizerOption) *Optimizer {
	o := &Optimizer{cfg: cfg, features: features, logger: log.Default()}
	w := &walker{parallel: cfg.Parallel, threshold: cfg.ParallelThreshold}

	candidates := []Pass{
		&Simplify{walker: w},
		&PredicatePushdown{walker: w},
		&ProjectionPushdown{walker: w},
		&SlicePushdown{walker: w},
		&CSE{walker: w},
		&JoinReorder{walker: w},
		&JoinStrategy{walker: w},
		&CommSubplan{walker: w},
	}
	for _, p := range candidates {
		if !cfg.PassEnabled(p.Name()) {
			continue
		}
		if p.Name() == "join_reorder" && !features.IsEnabled(feature.ExperimentalJoinReorder) {
			continue
		}
		o.passes = append(o.passes, p)
	}

	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Passes returns the names of the passes in pipeline order.
func (o *Optimizer) Passes() []string {
	names := make([]string, len(o.passes))
	for i, p := range o.passes {
		names[i] = p.Name()
	}
	return names
}

// Optimize rewrites plan. Reaching the iteration bound is not an error: the
// last plan is returned, which is as correct as any earlier one.
func (o *Optimizer) Optimize(plan LogicalPlan) (LogicalPlan, error) {
	if err := CheckFeatures(plan, o.features); err != nil {
		return nil, err
	}
	want := plan.Schema()

	maxIterations := o.cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 1
	}
	seen := map[uint64]bool{}
	for i := 0; i < maxIterations; i++ {
		current := Fingerprint(plan)
		if seen[current] {
			// Two passes with opposite preferences keep undoing each other.
			o.logger.Debug("optimizer plan cycle detected", log.Int("iteration", i))
			return plan, nil
		}
		seen[current] = true

		changed := false
		for _, pass := range o.passes {
			next, applied, err := pass.Apply(plan)
			if err != nil {
				return nil, fmt.Errorf("optimizer pass %s: %w", pass.Name(), err)
			}
			if !applied {
				continue
			}
			got, err := Resolve(next)
			if err != nil {
				return nil, qerrors.OptimizerInvariantError(pass.Name(), want.String(), err.Error())
			}
			if !got.Equal(want) {
				return nil, qerrors.OptimizerInvariantError(pass.Name(), want.String(), got.String())
			}
			if Fingerprint(next) != Fingerprint(plan) {
				o.logger.Debug("optimizer pass applied", log.Pass(pass.Name()), log.Int("iteration", i))
				plan = next
				changed = true
			}
		}
		if !changed {
			return plan, nil
		}
	}

	o.logger.Warn("optimizer stopped at iteration bound", log.Int("max_iterations", maxIterations))
	return plan, nil
}

// Fingerprint hashes the whole plan tree, children included.
func Fingerprint(plan LogicalPlan) uint64 {
	h := murmur3.New64()
	writeFingerprint(h, plan)
	return h.Sum64()
}

func writeFingerprint(w io.Writer, plan LogicalPlan) {
	fmt.Fprintf(w, "%T:%s", plan, plan.String())
	switch p := plan.(type) {
	case *Scan:
		fmt.Fprintf(w, "@%s", sourceKey(p.Source))
	case *Cache:
		fmt.Fprintf(w, "#%x", p.ID)
	}
	io.WriteString(w, "[")
	for _, c := range plan.Children() {
		writeFingerprint(w, c)
		io.WriteString(w, ",")
	}
	io.WriteString(w, "]")
}

// sourceKey tells apart distinct sources that share a name.
func sourceKey(src source.Source) string {
	v := reflect.ValueOf(src)
	if v.Kind() == reflect.Pointer {
		return fmt.Sprintf("%x", v.Pointer())
	}
	return src.Name()
}

// walker maps a rewrite over the inputs of a node, fanning out over
// goroutines for nodes with enough inputs.
type walker struct {
	parallel  bool
	threshold int
}

type rewriteFunc func(LogicalPlan) (LogicalPlan, bool, error)

func (w *walker) mapChildren(plan LogicalPlan, fn rewriteFunc) (LogicalPlan, bool, error) {
	return w.mapChildrenIndexed(plan, func(_ int, c LogicalPlan) (LogicalPlan, bool, error) {
		return fn(c)
	})
}

// mapChildrenIndexed is mapChildren for rewrites that differ per input.
func (w *walker) mapChildrenIndexed(plan LogicalPlan, fn func(int, LogicalPlan) (LogicalPlan, bool, error)) (LogicalPlan, bool, error) {
	children := plan.Children()
	if len(children) == 0 {
		return plan, false, nil
	}
	next := make([]LogicalPlan, len(children))
	changed := make([]bool, len(children))

	if w != nil && w.parallel && len(children) >= max(w.threshold, 2) {
		var g errgroup.Group
		for i, c := range children {
			i, c := i, c
			g.Go(func() error {
				n, ch, err := fn(i, c)
				next[i], changed[i] = n, ch
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return nil, false, err
		}
	} else {
		for i, c := range children {
			n, ch, err := fn(i, c)
			if err != nil {
				return nil, false, err
			}
			next[i], changed[i] = n, ch
		}
	}

	if !slices.Contains(changed, true) {
		return plan, false, nil
	}
	out, err := plan.WithChildren(next)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// bottomUp applies fn to every node after its inputs were rewritten.
func (w *walker) bottomUp(plan LogicalPlan, fn rewriteFunc) (LogicalPlan, bool, error) {
	next, changed, err := w.mapChildren(plan, func(c LogicalPlan) (LogicalPlan, bool, error) {
		return w.bottomUp(c, fn)
	})
	if err != nil {
		return nil, false, err
	}
	out, applied, err := fn(next)
	if err != nil {
		return nil, false, err
	}
	return out, changed || applied, nil
}

// nodeExprs returns the expressions a node evaluates.
func nodeExprs(plan LogicalPlan) []expr.Expr {
	switch p := plan.(type) {
	case *Scan:
		if p.Predicate != nil {
			return []expr.Expr{p.Predicate}
		}
	case *Filter:
		return []expr.Expr{p.Predicate}
	case *Select:
		return p.Exprs
	case *HStack:
		return p.Exprs
	case *GroupBy:
		return append(slices.Clone(p.Keys), p.Aggs...)
	case *Sort:
		out := make([]expr.Expr, len(p.Keys))
		for i, k := range p.Keys {
			out[i] = k
		}
		return out
	case *Join:
		out := append(slices.Clone(p.LeftOn), p.RightOn...)
		if p.Condition != nil {
			out = append(out, p.Condition)
		}
		return out
	}
	return nil
}

// CheckFeatures rejects plans that use an operator the feature set
// disables.
func CheckFeatures(plan LogicalPlan, features *feature.Set) error {
	var err error
	Walk(plan, func(p LogicalPlan) bool {
		err = checkNodeFeatures(p, features)
		return err == nil
	})
	return err
}

func checkNodeFeatures(plan LogicalPlan, features *feature.Set) error {
	switch p := plan.(type) {
	case *Join:
		switch {
		case p.Type == CrossJoin:
			return requireFeature(features, feature.CrossJoin)
		case p.Type == AsofJoin:
			return requireFeature(features, feature.AsofJoin)
		case p.Condition != nil:
			return requireFeature(features, feature.InequalityJoin)
		}
	case *GroupBy:
		if p.Dynamic != nil {
			return requireFeature(features, feature.DynamicGroupBy)
		}
	}
	for _, e := range nodeExprs(plan) {
		if expr.ContainsWindow(e) {
			return requireFeature(features, feature.WindowExpressions)
		}
	}
	return nil
}

func requireFeature(features *feature.Set, flag feature.Flag) error {
	if !features.IsEnabled(flag) {
		return qerrors.UnsupportedOperatorError(string(flag))
	}
	return nil
}
