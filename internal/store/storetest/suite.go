// Package storetest holds the behavioral contract every ScoreStore backend
// must satisfy. Never import this in production code.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/arcade-scores/internal/domain"
	"github.com/arcade-scores/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store for one subtest
type Factory func(t *testing.T) store.ScoreStore

// Address returns a deterministic lowercase account id
func Address(n int) string {
	return fmt.Sprintf("0x%040x", n)
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func insert(t *testing.T, s store.ScoreStore, gameID int, player int, score int64, at time.Duration) domain.ScoreRecord {
	t.Helper()
	rec := domain.ScoreRecord{
		GameID:          gameID,
		Score:           score,
		PlayerAddress:   Address(player),
		DurationSeconds: 60,
		SubmittedAt:     base.Add(at),
	}
	id, err := s.Insert(context.Background(), &rec)
	require.NoError(t, err)
	require.Equal(t, id, rec.ID)
	return rec
}

// Run executes the full contract against stores built by newStore
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("insert assigns increasing ids", func(t *testing.T) {
		s := newStore(t)
		a := insert(t, s, 1, 1, 100, 0)
		b := insert(t, s, 1, 2, 100, time.Second)
		assert.Greater(t, b.ID, a.ID)
		assert.Positive(t, a.ID)
	})

	t.Run("top n ordering and limit", func(t *testing.T) {
		s := newStore(t)
		insert(t, s, 1, 1, 300, 0)
		insert(t, s, 1, 2, 500, time.Second)
		insert(t, s, 1, 3, 300, -time.Second)
		insert(t, s, 1, 4, 100, 2*time.Second)
		insert(t, s, 2, 5, 900, 0)

		top, err := s.QueryTopN(ctx, 1, 3)
		require.NoError(t, err)
		require.Len(t, top, 3)
		assert.Equal(t, Address(2), top[0].PlayerAddress)
		// Equal scores: earliest submission first
		assert.Equal(t, Address(3), top[1].PlayerAddress)
		assert.Equal(t, Address(1), top[2].PlayerAddress)

		again, err := s.QueryTopN(ctx, 1, 3)
		require.NoError(t, err)
		assert.Equal(t, top, again)

		empty, err := s.QueryTopN(ctx, 7, 10)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("records round trip", func(t *testing.T) {
		s := newStore(t)
		rec := domain.ScoreRecord{
			GameID:          4,
			Score:           42,
			PlayerAddress:   Address(9),
			DisplayName:     "neo",
			DurationSeconds: 33,
			Nonce:           "nonce-1",
			SubmittedAt:     base,
		}
		_, err := s.Insert(ctx, &rec)
		require.NoError(t, err)

		top, err := s.QueryTopN(ctx, 4, 1)
		require.NoError(t, err)
		require.Len(t, top, 1)
		got := top[0]
		assert.Equal(t, rec.ID, got.ID)
		assert.Equal(t, rec.Score, got.Score)
		assert.Equal(t, rec.PlayerAddress, got.PlayerAddress)
		assert.Equal(t, "neo", got.DisplayName)
		assert.Equal(t, int64(33), got.DurationSeconds)
		assert.True(t, rec.SubmittedAt.Equal(got.SubmittedAt))
		assert.Empty(t, got.ChainTxHash)
	})

	t.Run("recent duplicate window", func(t *testing.T) {
		s := newStore(t)
		insert(t, s, 1, 1, 500, 0)

		q := store.DuplicateQuery{GameID: 1, PlayerAddress: Address(1), Score: 500, MatchScore: true, Since: base.Add(-time.Minute)}
		dup, err := s.QueryRecentDuplicate(ctx, q)
		require.NoError(t, err)
		assert.True(t, dup)

		q.Since = base.Add(time.Millisecond)
		dup, err = s.QueryRecentDuplicate(ctx, q)
		require.NoError(t, err)
		assert.False(t, dup, "record older than the window")

		q.Since = base.Add(-time.Minute)
		q.Score = 501
		dup, err = s.QueryRecentDuplicate(ctx, q)
		require.NoError(t, err)
		assert.False(t, dup, "different score")

		q.MatchScore = false
		dup, err = s.QueryRecentDuplicate(ctx, q)
		require.NoError(t, err)
		assert.True(t, dup, "looser key ignores score")

		q.GameID = 2
		dup, err = s.QueryRecentDuplicate(ctx, q)
		require.NoError(t, err)
		assert.False(t, dup, "different game")
	})

	t.Run("global aggregate", func(t *testing.T) {
		s := newStore(t)
		insert(t, s, 1, 1, 50, 0)
		insert(t, s, 2, 1, 30, time.Minute)
		insert(t, s, 1, 2, 70, 2*time.Minute)
		insert(t, s, 3, 3, 80, 3*time.Minute)

		totals, err := s.AggregateGlobal(ctx, 10)
		require.NoError(t, err)
		require.Len(t, totals, 3)

		assert.Equal(t, Address(1), totals[0].PlayerAddress)
		assert.Equal(t, int64(80), totals[0].TotalScore)
		assert.Equal(t, int64(2), totals[0].GamesPlayed)
		assert.True(t, base.Add(time.Minute).Equal(totals[0].LastPlayedAt))
		// Ties on total fall back to address order
		assert.Equal(t, Address(3), totals[1].PlayerAddress)
		assert.Equal(t, Address(2), totals[2].PlayerAddress)

		limited, err := s.AggregateGlobal(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("global keeps latest display name", func(t *testing.T) {
		s := newStore(t)
		first := domain.ScoreRecord{GameID: 1, Score: 10, PlayerAddress: Address(1), DisplayName: "old", SubmittedAt: base}
		second := domain.ScoreRecord{GameID: 2, Score: 10, PlayerAddress: Address(1), DisplayName: "new", SubmittedAt: base.Add(time.Second)}
		third := domain.ScoreRecord{GameID: 3, Score: 10, PlayerAddress: Address(1), SubmittedAt: base.Add(2 * time.Second)}
		for _, r := range []*domain.ScoreRecord{&first, &second, &third} {
			_, err := s.Insert(ctx, r)
			require.NoError(t, err)
		}

		totals, err := s.AggregateGlobal(ctx, 10)
		require.NoError(t, err)
		require.Len(t, totals, 1)
		assert.Equal(t, "new", totals[0].DisplayName)
	})

	t.Run("rank of", func(t *testing.T) {
		s := newStore(t)
		a := insert(t, s, 1, 1, 500, 0)
		rank, err := s.RankOf(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, int64(1), rank)

		b := insert(t, s, 1, 2, 600, time.Second)
		rank, err = s.RankOf(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, int64(1), rank)

		rank, err = s.RankOf(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, int64(2), rank)

		c := insert(t, s, 1, 3, 500, 2*time.Second)
		rank, err = s.RankOf(ctx, c)
		require.NoError(t, err)
		assert.Equal(t, int64(3), rank, "tie ranks behind the earlier submission")
	})

	t.Run("best for player", func(t *testing.T) {
		s := newStore(t)
		insert(t, s, 1, 1, 200, 0)
		insert(t, s, 1, 1, 400, time.Second)
		insert(t, s, 1, 1, 300, 2*time.Second)

		best, err := s.BestForPlayer(ctx, 1, Address(1))
		require.NoError(t, err)
		assert.Equal(t, int64(400), best.Score)

		_, err = s.BestForPlayer(ctx, 1, Address(2))
		require.ErrorIs(t, err, domain.ErrPlayerNotFound)
	})

	t.Run("nonce uniqueness", func(t *testing.T) {
		s := newStore(t)
		rec := domain.ScoreRecord{GameID: 1, Score: 5, PlayerAddress: Address(1), Nonce: "abc", SubmittedAt: base}
		_, err := s.Insert(ctx, &rec)
		require.NoError(t, err)

		used, err := s.HasNonce(ctx, Address(1), "abc")
		require.NoError(t, err)
		assert.True(t, used)

		used, err = s.HasNonce(ctx, Address(2), "abc")
		require.NoError(t, err)
		assert.False(t, used)

		again := rec
		again.ID = 0
		_, err = s.Insert(ctx, &again)
		require.ErrorIs(t, err, domain.ErrNonceExists)

		top, err := s.QueryTopN(ctx, 1, 10)
		require.NoError(t, err)
		assert.Len(t, top, 1)
	})

	t.Run("anchoring bookkeeping", func(t *testing.T) {
		s := newStore(t)
		a := insert(t, s, 1, 1, 10, 0)
		b := insert(t, s, 1, 2, 20, time.Minute)
		insert(t, s, 1, 3, 30, 10*time.Minute)

		pending, err := s.ListUnanchored(ctx, 10, base.Add(5*time.Minute))
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, a.ID, pending[0].ID)
		assert.Equal(t, b.ID, pending[1].ID)

		require.NoError(t, s.SetChainTxHash(ctx, a.ID, "0xfeed"))

		pending, err = s.ListUnanchored(ctx, 10, base.Add(5*time.Minute))
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, b.ID, pending[0].ID)

		top, err := s.QueryTopN(ctx, 1, 10)
		require.NoError(t, err)
		for _, r := range top {
			if r.ID == a.ID {
				assert.Equal(t, "0xfeed", r.ChainTxHash)
			}
		}

		err = s.SetChainTxHash(ctx, 9999, "0xdead")
		require.ErrorIs(t, err, domain.ErrRecordNotFound)

		limited, err := s.ListUnanchored(ctx, 1, base.Add(time.Hour))
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("failed anchors leave the sweep", func(t *testing.T) {
		s := newStore(t)
		a := insert(t, s, 1, 1, 10, 0)
		b := insert(t, s, 1, 2, 20, time.Minute)

		require.NoError(t, s.MarkAnchorFailed(ctx, a.ID, "0xabc"))

		pending, err := s.ListUnanchored(ctx, 1, base.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, b.ID, pending[0].ID)

		best, err := s.BestForPlayer(ctx, 1, Address(1))
		require.NoError(t, err)
		assert.Empty(t, best.ChainTxHash, "an unconfirmed transaction is not an anchor")

		err = s.MarkAnchorFailed(ctx, 9999, "0xdead")
		require.ErrorIs(t, err, domain.ErrRecordNotFound)
	})

	t.Run("ping", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Ping(ctx))
	})
}
