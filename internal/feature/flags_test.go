package feature

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	s := NewSet()
	assert.True(t, s.IsEnabled(AsofJoin))
	assert.True(t, s.IsEnabled(CrossJoin))
	assert.False(t, s.IsEnabled(ExperimentalJoinReorder))
	assert.False(t, s.IsEnabled(Flag("no_such_flag")))

	var nilSet *Set
	assert.True(t, nilSet.IsEnabled(WindowExpressions))
	assert.False(t, nilSet.IsEnabled(ExperimentalJoinReorder))
}

func TestEnableDisable(t *testing.T) {
	s := NewSet()
	s.Disable(AsofJoin)
	assert.False(t, s.IsEnabled(AsofJoin))
	s.Enable(AsofJoin)
	assert.True(t, s.IsEnabled(AsofJoin))

	other := NewSet()
	s.Disable(CrossJoin)
	assert.True(t, other.IsEnabled(CrossJoin), "sets must not share state")
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("QUANTAFRAME_FEATURE_CROSS_JOIN", "false")
	t.Setenv("QUANTAFRAME_FEATURE_EXPERIMENTAL_JOIN_REORDER", "true")
	t.Setenv("QUANTAFRAME_FEATURE_ASOF_JOIN", "notabool")

	s := FromEnvironment()
	assert.False(t, s.IsEnabled(CrossJoin))
	assert.True(t, s.IsEnabled(ExperimentalJoinReorder))
	assert.True(t, s.IsEnabled(AsofJoin))
	assert.Contains(t, s.DebugString(), "(overridden)")

	s.Reset()
	assert.True(t, s.IsEnabled(CrossJoin))
	assert.NotContains(t, s.DebugString(), "(overridden)")
}

func TestFromMap(t *testing.T) {
	s, err := FromMap(map[string]bool{"asof_join": false})
	require.NoError(t, err)
	assert.False(t, s.IsEnabled(AsofJoin))

	_, err = FromMap(map[string]bool{"bogus": true})
	assert.Error(t, err)
}

func TestOnChangeCallbacks(t *testing.T) {
	s := NewSet()
	var mu sync.Mutex
	var changes []Flag
	s.OnChange(func(flag Flag, enabled bool) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, flag)
	})

	s.Disable(CrossJoin)
	s.Disable(CrossJoin) // no change
	s.Enable(CrossJoin)

	assert.Equal(t, []Flag{CrossJoin, CrossJoin}, changes)
}

func TestMetadataAndCategories(t *testing.T) {
	s := NewSet()
	md, ok := s.Metadata(ExperimentalJoinReorder)
	require.True(t, ok)
	assert.Equal(t, "experimental", md.Stability)

	assert.Equal(t, []Flag{AsofJoin, CrossJoin, InequalityJoin}, s.ByCategory("join"))
	assert.Len(t, s.All(), len(registry))
}

func TestClone(t *testing.T) {
	s := NewSet()
	s.Disable(WindowExpressions)
	c := s.Clone()
	assert.False(t, c.IsEnabled(WindowExpressions))
	c.Enable(WindowExpressions)
	assert.False(t, s.IsEnabled(WindowExpressions))
}

func TestConcurrentAccess(t *testing.T) {
	s := NewSet()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if (i+j)%2 == 0 {
					s.Enable(DynamicGroupBy)
				} else {
					s.Disable(DynamicGroupBy)
				}
				_ = s.IsEnabled(DynamicGroupBy)
			}
		}(i)
	}
	wg.Wait()
}
