// Package testutil holds fixtures shared by the executor, dispatcher and
// CLI tests.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dshills/QuantaFrame/internal/batch"
	"github.com/dshills/QuantaFrame/internal/datatype"
	"github.com/dshills/QuantaFrame/internal/feature"
	"github.com/dshills/QuantaFrame/internal/source"
)

// SalesSchema is the schema of Sales.
var SalesSchema = datatype.MustSchema(
	datatype.Column{Name: "category", Type: datatype.String},
	datatype.Column{Name: "amount", Type: datatype.Int64},
)

// Sales is a three row table: (A, 10), (B, 5), (A, 20).
func Sales(t testing.TB) *source.MemorySource {
	t.Helper()
	return Source(t, "sales", SalesSchema.Columns(), []any{"A", 10}, []any{"B", 5}, []any{"A", 20})
}

// Source builds an in-memory source from row-major values.
func Source(t testing.TB, name string, cols []datatype.Column, rows ...[]any) *source.MemorySource {
	t.Helper()
	b, err := batch.FromRows(datatype.MustSchema(cols...), rows...)
	require.NoError(t, err)
	return source.NewMemorySource(name, b)
}

// IntSource is a source of n rows with the given int64 columns, where row i
// holds i in every column.
func IntSource(t testing.TB, name string, n int, names ...string) *source.MemorySource {
	t.Helper()
	cols := make([]datatype.Column, len(names))
	for i, c := range names {
		cols[i] = datatype.Column{Name: c, Type: datatype.Int64}
	}
	rows := make([][]any, n)
	for i := range rows {
		row := make([]any, len(names))
		for j := range row {
			row[j] = i
		}
		rows[i] = row
	}
	return Source(t, name, cols, rows...)
}

// AllFeatures returns a set with every operator family enabled, the
// experimental ones included.
func AllFeatures() *feature.Set {
	s := feature.NewSet()
	for flag := range s.All() {
		s.Enable(flag)
	}
	return s
}
