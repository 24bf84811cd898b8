package planner

import (
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/dshills/QuantaFrame/internal/expr"
)

// ColumnSet is a set of column names required by the operators above a plan
// node. A nil *ColumnSet stands for every column.
type ColumnSet struct {
	set mapset.Set[string]
}

// NewColumnSet creates a set holding names.
func NewColumnSet(names ...string) *ColumnSet {
	return &ColumnSet{set: mapset.NewThreadUnsafeSet(names...)}
}

// Add adds columns to the set.
func (cs *ColumnSet) Add(names ...string) {
	for _, n := range names {
		cs.set.Add(n)
	}
}

// AddExprs adds every column referenced by exprs.
func (cs *ColumnSet) AddExprs(exprs ...expr.Expr) {
	for _, e := range exprs {
		cs.Add(expr.Columns(e)...)
	}
}

// AddAll adds all columns from another set.
func (cs *ColumnSet) AddAll(other *ColumnSet) {
	cs.set = cs.set.Union(other.set)
}

// Contains reports whether name is in the set.
func (cs *ColumnSet) Contains(name string) bool {
	return cs.set.Contains(name)
}

// Size returns the number of columns in the set.
func (cs *ColumnSet) Size() int {
	return cs.set.Cardinality()
}

// Clone copies the set.
func (cs *ColumnSet) Clone() *ColumnSet {
	return &ColumnSet{set: cs.set.Clone()}
}

// Filter returns the names in the set, in the order given.
func (cs *ColumnSet) Filter(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if cs.set.Contains(n) {
			out = append(out, n)
		}
	}
	return out
}

// ToSlice returns the columns sorted by name.
func (cs *ColumnSet) ToSlice() []string {
	out := cs.set.ToSlice()
	sort.Strings(out)
	return out
}

func (cs *ColumnSet) String() string {
	if cs == nil {
		return "[*]"
	}
	return "[" + strings.Join(cs.ToSlice(), ", ") + "]"
}
