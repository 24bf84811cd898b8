package planner

import "strings"

// ExplainPlan renders a logical plan as an indented tree, one node per line.
func ExplainPlan(plan LogicalPlan) string {
	var sb strings.Builder
	explainPlan(&sb, plan, "")
	return sb.String()
}

func explainPlan(sb *strings.Builder, plan LogicalPlan, indent string) {
	sb.WriteString(indent + plan.String() + "\n")
	for _, child := range plan.Children() {
		explainPlan(sb, child, indent+"  ")
	}
}

// ExplainPhysicalPlan renders a physical plan the same way.
func ExplainPhysicalPlan(plan PhysicalPlan) string {
	var sb strings.Builder
	explainPhysical(&sb, plan, "")
	return sb.String()
}

func explainPhysical(sb *strings.Builder, plan PhysicalPlan, indent string) {
	sb.WriteString(indent + plan.String() + "\n")
	for _, child := range plan.Children() {
		explainPhysical(sb, child, indent+"  ")
	}
}
