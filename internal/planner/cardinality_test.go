package planner

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dshills/QuantaFrame/internal/datatype"
	"github.com/dshills/QuantaFrame/internal/expr"
)

// leaf is a source-less node with no statistics.
type leaf struct {
	basePlan
}

func (l *leaf) String() string { return "Leaf" }

func (l *leaf) WithChildren([]LogicalPlan) (LogicalPlan, error) { return l, nil }

func TestEstimateRows(t *testing.T) {
	ok := must[*LazyFrame](t)
	lf := ScanSource(intSource(t, "t", 10, "a"))

	tests := []struct {
		name  string
		plan  LogicalPlan
		rows  float64
		known bool
	}{
		{"scan", lf.Plan(), 10, true},
		{"filter", ok(lf.Filter(expr.Eq(expr.Col("a"), expr.Lit(1)))).Plan(), 0.5, true},
		{"slice to the end", ok(lf.Slice(2, math.MaxInt64)).Plan(), 8, true},
		{"sort keeps input rows", ok(lf.Sort(expr.Asc(expr.Col("a")))).Plan(), 10, true},
		{"global aggregate", ok(lf.GroupBy().Agg(expr.Count())).Plan(), 1, true},
		{"leaf without statistics", &leaf{basePlan{schema: datatype.MustSchema(col("a", datatype.Int64))}}, defaultRows, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est := EstimateRows(tt.plan)
			assert.InDelta(t, tt.rows, est.Rows, 1e-9)
			assert.Equal(t, tt.known, est.Known)
		})
	}
}
