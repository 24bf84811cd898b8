package planner

import (
	"cmp"
	"slices"

	"github.com/dshills/QuantaFrame/internal/expr"
)

// JoinStrategy picks the build side of every hash join: the input with the
// smaller estimated row count, or the right input on a tie.
type JoinStrategy struct {
	walker *walker
}

func (r *JoinStrategy) Name() string { return "join_strategy" }

func (r *JoinStrategy) Apply(plan LogicalPlan) (LogicalPlan, bool, error) {
	return r.walker.bottomUp(plan, func(p LogicalPlan) (LogicalPlan, bool, error) {
		j, ok := p.(*Join)
		if !ok || !j.IsEquiJoin() {
			return p, false, nil
		}
		side := RightSide
		switch j.Type {
		case InnerJoin, LeftJoin, SemiJoin:
			if EstimateRows(j.left()).Rows < EstimateRows(j.right()).Rows {
				side = LeftSide
			}
		}
		if side == j.BuildSide {
			return p, false, nil
		}
		spec := j.JoinSpec
		spec.BuildSide = side
		out, err := j.withSpec(spec)
		if err != nil {
			return nil, false, err
		}
		return out, true, nil
	})
}

// JoinReorder reorders chains of inner equi-joins greedily: it starts from
// the smallest input and repeatedly joins the connected input that keeps the
// estimated intermediate result smallest. A Select on top restores the
// original column order and names.
type JoinReorder struct {
	walker *walker
}

func (r *JoinReorder) Name() string { return "join_reorder" }

func (r *JoinReorder) Apply(plan LogicalPlan) (LogicalPlan, bool, error) {
	return r.rewrite(plan, false)
}

// joinEdge is a key equality between two leaf columns.
type joinEdge struct {
	left, right string
}

// reorderable reports whether j can be part of a reordered chain.
func reorderable(j *Join) bool {
	if j.Type != InnerJoin || j.Condition != nil || len(j.LeftOn) == 0 {
		return false
	}
	for _, k := range append(slices.Clone(j.LeftOn), j.RightOn...) {
		if _, ok := k.(*expr.Column); !ok {
			return false
		}
	}
	return true
}

// rewrite reorders the chain rooted at plan unless plan is an inner node of
// a chain, then descends into the chain's leaves.
func (r *JoinReorder) rewrite(plan LogicalPlan, inChain bool) (LogicalPlan, bool, error) {
	j, ok := plan.(*Join)
	if !ok || !reorderable(j) {
		return r.walker.mapChildren(plan, func(c LogicalPlan) (LogicalPlan, bool, error) {
			return r.rewrite(c, false)
		})
	}
	if inChain {
		return r.walker.mapChildren(plan, func(c LogicalPlan) (LogicalPlan, bool, error) {
			return r.rewrite(c, true)
		})
	}

	var leaves []LogicalPlan
	var edges []joinEdge
	flattenChain(j, &leaves, &edges)

	changed := false
	for i, leaf := range leaves {
		n, ch, err := r.rewrite(leaf, false)
		if err != nil {
			return nil, false, err
		}
		leaves[i] = n
		changed = changed || ch
	}

	if out, ok := reorderChain(j, leaves, edges); ok {
		return out, true, nil
	}
	if !changed {
		return plan, false, nil
	}
	idx := 0
	out, err := replaceLeaves(j, leaves, &idx)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func flattenChain(plan LogicalPlan, leaves *[]LogicalPlan, edges *[]joinEdge) {
	j, ok := plan.(*Join)
	if !ok || !reorderable(j) {
		*leaves = append(*leaves, plan)
		return
	}
	flattenChain(j.left(), leaves, edges)
	flattenChain(j.right(), leaves, edges)
	for i := range j.LeftOn {
		*edges = append(*edges, joinEdge{
			left:  j.LeftOn[i].(*expr.Column).Name,
			right: j.RightOn[i].(*expr.Column).Name,
		})
	}
}

// replaceLeaves rebuilds the chain in its original shape over new leaves,
// visiting them in the order flattenChain produced them.
func replaceLeaves(plan LogicalPlan, leaves []LogicalPlan, idx *int) (LogicalPlan, error) {
	j, ok := plan.(*Join)
	if !ok || !reorderable(j) {
		leaf := leaves[*idx]
		*idx++
		return leaf, nil
	}
	left, err := replaceLeaves(j.left(), leaves, idx)
	if err != nil {
		return nil, err
	}
	right, err := replaceLeaves(j.right(), leaves, idx)
	if err != nil {
		return nil, err
	}
	return j.WithChildren([]LogicalPlan{left, right})
}

// reorderChain builds the greedy join order over leaves. ok is false when
// the chain is too short, its leaves share column names, its join graph is
// disconnected or the greedy order is the current one.
func reorderChain(root *Join, leaves []LogicalPlan, edges []joinEdge) (LogicalPlan, bool) {
	if len(leaves) < 3 {
		return nil, false
	}
	owner := map[string]int{}
	for i, leaf := range leaves {
		for _, name := range leaf.Schema().Names() {
			if _, dup := owner[name]; dup {
				return nil, false
			}
			owner[name] = i
		}
	}
	for _, e := range edges {
		_, lok := owner[e.left]
		_, rok := owner[e.right]
		if !lok || !rok {
			return nil, false
		}
	}

	edges = closeEdges(edges, owner)
	order, ok := greedyOrder(leaves, edges, owner)
	if !ok || slices.IsSorted(order) {
		return nil, false
	}

	// replaced maps a dropped right key to the left column it equals.
	replaced := map[string]string{}
	resolve := func(name string) string {
		if to, ok := replaced[name]; ok {
			return to
		}
		return name
	}

	used := map[int]bool{order[0]: true}
	var cur LogicalPlan = leaves[order[0]]
	for _, next := range order[1:] {
		var leftOn, rightOn []expr.Expr
		seen := map[joinEdge]bool{}
		for _, e := range edges {
			var inSet, inLeaf string
			switch {
			case used[owner[e.left]] && owner[e.right] == next:
				inSet, inLeaf = e.left, e.right
			case used[owner[e.right]] && owner[e.left] == next:
				inSet, inLeaf = e.right, e.left
			default:
				continue
			}
			pair := joinEdge{left: resolve(inSet), right: inLeaf}
			if seen[pair] {
				continue
			}
			seen[pair] = true
			leftOn = append(leftOn, expr.Col(pair.left))
			rightOn = append(rightOn, expr.Col(pair.right))
		}
		j, err := NewJoin(cur, leaves[next], JoinSpec{
			Type:      InnerJoin,
			LeftOn:    leftOn,
			RightOn:   rightOn,
			Suffix:    root.Suffix,
			BuildSide: RightSide,
		})
		if err != nil {
			return nil, false
		}
		for i := range rightOn {
			name := rightOn[i].(*expr.Column).Name
			if _, ok := replaced[name]; !ok {
				replaced[name] = leftOn[i].(*expr.Column).Name
			}
		}
		used[next] = true
		cur = j
	}

	schema := cur.Schema()
	exprs := make([]expr.Expr, 0, root.Schema().Len())
	for _, c := range root.Schema().Columns() {
		if schema.Contains(c.Name) {
			exprs = append(exprs, expr.Col(c.Name))
			continue
		}
		from := resolve(c.Name)
		t, ok := schema.Lookup(from)
		if !ok {
			return nil, false
		}
		var e expr.Expr = expr.Col(from)
		if !t.Equal(c.Type) {
			e = expr.CastTo(e, c.Type)
		}
		exprs = append(exprs, expr.As(e, c.Name))
	}
	out, err := NewSelect(cur, exprs)
	if err != nil {
		return nil, false
	}
	return out, true
}

// greedyOrder returns leaf indices in join order, or false when some leaf
// is not connected to the others by a key.
func greedyOrder(leaves []LogicalPlan, edges []joinEdge, owner map[string]int) ([]int, bool) {
	rows := make([]float64, len(leaves))
	for i, leaf := range leaves {
		rows[i] = EstimateRows(leaf).Rows
	}
	connected := func(used map[int]bool, leaf int) bool {
		for _, e := range edges {
			l, r := owner[e.left], owner[e.right]
			if (used[l] && r == leaf) || (used[r] && l == leaf) {
				return true
			}
		}
		return false
	}
	better := func(a, b int, cost func(int) float64) bool {
		if c := cmp.Compare(cost(a), cost(b)); c != 0 {
			return c < 0
		}
		if c := cmp.Compare(rows[a], rows[b]); c != 0 {
			return c < 0
		}
		return a < b
	}

	start := 0
	for i := range leaves {
		if better(i, start, func(k int) float64 { return rows[k] }) {
			start = i
		}
	}
	order := []int{start}
	used := map[int]bool{start: true}
	current := rows[start]
	for len(order) < len(leaves) {
		best := -1
		cost := func(k int) float64 { return max(current, rows[k]) }
		for i := range leaves {
			if used[i] || !connected(used, i) {
				continue
			}
			if best < 0 || better(i, best, cost) {
				best = i
			}
		}
		if best < 0 {
			return nil, false
		}
		order = append(order, best)
		used[best] = true
		current = cost(best)
	}
	return order, true
}

// closeEdges adds the key equalities implied by transitivity: a = b and
// a = c give b = c, which lets the greedy order join b and c directly.
func closeEdges(edges []joinEdge, owner map[string]int) []joinEdge {
	parent := map[string]string{}
	var find func(string) string
	find = func(n string) string {
		p, ok := parent[n]
		if !ok || p == n {
			return n
		}
		root := find(p)
		parent[n] = root
		return root
	}

	var names []string
	for _, e := range edges {
		for _, n := range []string{e.left, e.right} {
			if _, ok := parent[n]; !ok {
				parent[n] = n
				names = append(names, n)
			}
		}
		if l, r := find(e.left), find(e.right); l != r {
			parent[r] = l
		}
	}

	classes := map[string][]string{}
	var roots []string
	for _, n := range names {
		root := find(n)
		if _, ok := classes[root]; !ok {
			roots = append(roots, root)
		}
		classes[root] = append(classes[root], n)
	}

	var out []joinEdge
	for _, root := range roots {
		members := classes[root]
		for i := range members {
			for j := i + 1; j < len(members); j++ {
				if owner[members[i]] != owner[members[j]] {
					out = append(out, joinEdge{left: members[i], right: members[j]})
				}
			}
		}
	}
	return out
}
