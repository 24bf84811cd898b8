package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := ColumnNotFoundError("price", []string{"a", "b"})
	assert.Equal(t, KindSchema, err.Kind)
	assert.Equal(t, UndefinedColumn, err.Code)
	assert.Equal(t, "price", err.Column)
	assert.Contains(t, err.Error(), "SchemaError")
	assert.Contains(t, err.Error(), "Available columns: [a, b].")
}

func TestIsKindThroughWrapping(t *testing.T) {
	base := UnsupportedOperatorError("asof_join")
	wrapped := fmt.Errorf("build join: %w", base)

	assert.True(t, IsKind(wrapped, KindUnsupportedOperator))
	assert.False(t, IsKind(wrapped, KindSchema))
	assert.Equal(t, KindUnsupportedOperator, KindOf(wrapped))

	e, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, "asof_join", e.Operator)

	assert.Equal(t, KindUnknown, KindOf(fmt.Errorf("plain")))
}

func TestKindString(t *testing.T) {
	tests := map[Kind]string{
		KindSchema:              "SchemaError",
		KindType:                "TypeError",
		KindValidation:          "ValidationError",
		KindUnsupportedOperator: "UnsupportedOperatorError",
		KindUnsupportedPlan:     "UnsupportedPlanError",
		KindOptimizerInvariant:  "OptimizerInvariantError",
		KindUnknown:             "Error",
	}
	for kind, want := range tests {
		assert.Equal(t, want, kind.String())
	}
}
