package games

import (
	"testing"

	"github.com/arcade-scores/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTable(t *testing.T) {
	table := Default()
	require.Equal(t, 12, table.Len())

	rule, ok := table.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, int64(10000), rule.MaxScore)
	assert.Equal(t, int64(10), rule.MinDuration)

	_, ok = table.Lookup(13)
	assert.False(t, ok)
	_, ok = table.Lookup(0)
	assert.False(t, ok)

	all := table.All()
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID, all[i].ID)
	}
}

func TestNewTableRejectsBadRules(t *testing.T) {
	testCases := []struct {
		name  string
		rules []domain.GameRule
	}{
		{name: "empty", rules: nil},
		{name: "zero id", rules: []domain.GameRule{{ID: 0, MaxScore: 1}}},
		{name: "duplicate id", rules: []domain.GameRule{{ID: 1, MaxScore: 1}, {ID: 1, MaxScore: 2}}},
		{name: "zero max score", rules: []domain.GameRule{{ID: 1, MaxScore: 0}}},
		{name: "negative duration", rules: []domain.GameRule{{ID: 1, MaxScore: 5, MinDuration: -1}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewTable(tc.rules)
			require.Error(t, err)
		})
	}
}

func TestFromConfig(t *testing.T) {
	table, err := FromConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, 12, table.Len())

	table, err = FromConfig([]domain.GameRule{{ID: 7, Name: "Custom", MaxScore: 10, MinDuration: 1}})
	require.NoError(t, err)
	assert.Equal(t, 1, table.Len())
	_, ok := table.Lookup(1)
	assert.False(t, ok)
}
