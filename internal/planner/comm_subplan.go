package planner

// CommSubplan wraps structurally identical subtrees below a Join or Union
// in Cache nodes that share an id, so the executor computes them once.
type CommSubplan struct {
	walker *walker
}

func (r *CommSubplan) Name() string { return "comm_subplan" }

func (r *CommSubplan) Apply(plan LogicalPlan) (LogicalPlan, bool, error) {
	out, _, err := r.rewrite(plan)
	if err != nil {
		return nil, false, err
	}
	return out, Fingerprint(out) != Fingerprint(plan), nil
}

func (r *CommSubplan) rewrite(plan LogicalPlan) (LogicalPlan, bool, error) {
	switch plan.(type) {
	case *Join, *Union:
		counts := map[uint64]int{}
		for _, c := range plan.Children() {
			countSubplans(c, counts)
		}
		next, _, err := r.walker.mapChildren(plan, func(c LogicalPlan) (LogicalPlan, bool, error) {
			return wrapRepeated(c, counts)
		})
		if err != nil {
			return nil, false, err
		}
		plan = next
	}
	return r.walker.mapChildren(plan, r.rewrite)
}

// countSubplans counts every subtree of plan by fingerprint. The inside of
// a Cache is already shared and is not counted.
func countSubplans(plan LogicalPlan, counts map[uint64]int) {
	counts[Fingerprint(plan)]++
	if _, ok := plan.(*Cache); ok {
		return
	}
	for _, c := range plan.Children() {
		countSubplans(c, counts)
	}
}

func wrapRepeated(plan LogicalPlan, counts map[uint64]int) (LogicalPlan, bool, error) {
	if _, ok := plan.(*Cache); ok {
		return plan, false, nil
	}
	if fp := Fingerprint(plan); counts[fp] > 1 {
		return NewCache(plan, fp), true, nil
	}
	var w *walker
	return w.mapChildren(plan, func(c LogicalPlan) (LogicalPlan, bool, error) {
		return wrapRepeated(c, counts)
	})
}
