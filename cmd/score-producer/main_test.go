package main

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcade-scores/internal/domain"
	"github.com/arcade-scores/internal/games"
	"github.com/arcade-scores/internal/validator"
)

func TestNewPlayersStableAndValid(t *testing.T) {
	first := newPlayers(40)
	second := newPlayers(40)
	assert.Equal(t, first, second)

	seen := make(map[string]bool)
	for _, p := range first {
		assert.True(t, validator.IsValidAddress(p.address), p.address)
		assert.Equal(t, validator.NormalizeAddress(p.address), p.address)
		assert.False(t, seen[p.address], "duplicate address")
		seen[p.address] = true
	}
}

func TestRandomSubmissionPassesValidation(t *testing.T) {
	table := games.Default()
	v := validator.New(table)
	rng := rand.New(rand.NewSource(1))
	p := newPlayers(1)[0]

	for _, rule := range table.All() {
		for i := 0; i < 50; i++ {
			sub := randomSubmission(rng, rule, p)
			require.True(t, v.Validate(sub).Valid, "game %d", rule.ID)
			assert.NotEmpty(t, sub.Nonce)

			// The consumer decodes exactly what the producer encodes
			data, err := json.Marshal(sub)
			require.NoError(t, err)
			decoded, err := domain.ParseSubmission(data)
			require.NoError(t, err)
			assert.Equal(t, sub, decoded)
		}
	}
}
