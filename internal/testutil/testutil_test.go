package testutil

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/QuantaFrame/internal/feature"
)

func TestSales(t *testing.T) {
	src := Sales(t)
	rows, ok := src.Statistics()
	assert.True(t, ok)
	assert.Equal(t, int64(3), rows)
	assert.True(t, src.Schema().Equal(SalesSchema))
}

func TestIntSource(t *testing.T) {
	src := IntSource(t, "t", 4, "a", "b")
	assert.Equal(t, []string{"a", "b"}, src.Schema().Names())
	rows, _ := src.Statistics()
	assert.Equal(t, int64(4), rows)
}

func TestAllFeatures(t *testing.T) {
	s := AllFeatures()
	assert.True(t, s.IsEnabled(feature.ExperimentalJoinReorder))
	for _, enabled := range s.All() {
		assert.True(t, enabled)
	}
}

func TestWriteFile(t *testing.T) {
	path := WriteFile(t, "x.yaml", "a: 1\n")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a: 1\n", string(data))
}
