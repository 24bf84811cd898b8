package planner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dshills/QuantaFrame/internal/batch"
	"github.com/dshills/QuantaFrame/internal/config"
	"github.com/dshills/QuantaFrame/internal/datatype"
	"github.com/dshills/QuantaFrame/internal/feature"
	"github.com/dshills/QuantaFrame/internal/log"
	"github.com/dshills/QuantaFrame/internal/source"
)

func col(name string, t datatype.DataType) datatype.Column {
	return datatype.Column{Name: name, Type: t}
}

func memSource(t *testing.T, name string, cols []datatype.Column, rows [][]any, opts ...source.MemoryOption) *source.MemorySource {
	t.Helper()
	b, err := batch.FromRows(datatype.MustSchema(cols...), rows...)
	require.NoError(t, err)
	return source.NewMemorySource(name, b, opts...)
}

// intSource is a source of n rows with the given int64 columns, where row i
// holds i in every column.
func intSource(t *testing.T, name string, n int, names ...string) *source.MemorySource {
	t.Helper()
	cols := make([]datatype.Column, len(names))
	for i, c := range names {
		cols[i] = col(c, datatype.Int64)
	}
	rows := make([][]any, n)
	for i := range rows {
		row := make([]any, len(names))
		for j := range row {
			row[j] = i
		}
		rows[i] = row
	}
	return memSource(t, name, cols, rows)
}

func allFeatures() *feature.Set {
	s := feature.NewSet()
	for flag := range s.All() {
		s.Enable(flag)
	}
	return s
}

func optimizer(features *feature.Set, opts ...OptimizerOption) *Optimizer {
	cfg := config.Default().Optimizer
	opts = append([]OptimizerOption{WithLogger(log.Discard())}, opts...)
	return NewOptimizer(cfg, features, opts...)
}

func mustOptimize(t *testing.T, plan LogicalPlan) LogicalPlan {
	t.Helper()
	out, err := optimizer(allFeatures()).Optimize(plan)
	require.NoError(t, err)
	return out
}

func must[T any](t *testing.T) func(T, error) T {
	return func(v T, err error) T {
		t.Helper()
		require.NoError(t, err)
		return v
	}
}
