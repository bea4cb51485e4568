// Package store defines the score persistence contract and an in-memory
// implementation used by tests and single-node development runs.
package store

import (
	"context"
	"time"

	"github.com/arcade-scores/internal/domain"
)

// DuplicateQuery describes a trailing-window lookup for a prior submission.
// When MatchScore is false the score is ignored and any record from the same
// player on the same game counts.
type DuplicateQuery struct {
	GameID        int
	PlayerAddress string
	Score         int64
	MatchScore    bool
	Since         time.Time
}

// ScoreStore persists score records and answers leaderboard reads.
//
// Per-game ordering is score descending, then SubmittedAt ascending, then ID
// ascending. Global ordering is total score descending, then player address ascending.
type ScoreStore interface {
	// Insert stores rec, assigns its ID and returns it. A reused
	// (player, nonce) pair fails with domain.ErrNonceExists.
	Insert(ctx context.Context, rec *domain.ScoreRecord) (int64, error)
	QueryTopN(ctx context.Context, gameID int, n int) ([]domain.ScoreRecord, error)
	QueryRecentDuplicate(ctx context.Context, q DuplicateQuery) (bool, error)
	AggregateGlobal(ctx context.Context, limit int) ([]domain.PlayerTotal, error)
	// RankOf returns the 1-based position of a stored record on its game board.
	RankOf(ctx context.Context, rec domain.ScoreRecord) (int64, error)
	// BestForPlayer returns the player's highest-ranked record on a game,
	// or domain.ErrPlayerNotFound.
	BestForPlayer(ctx context.Context, gameID int, playerAddress string) (*domain.ScoreRecord, error)
	HasNonce(ctx context.Context, playerAddress, nonce string) (bool, error)
	SetChainTxHash(ctx context.Context, id int64, txHash string) error
	// MarkAnchorFailed records a transaction that was broadcast but not
	// confirmed. The record stays local-only and is never swept again.
	MarkAnchorFailed(ctx context.Context, id int64, txHash string) error
	// ListUnanchored returns records without a chain hash submitted at or
	// before olderThan, oldest first. Records marked failed are excluded.
	ListUnanchored(ctx context.Context, limit int, olderThan time.Time) ([]domain.ScoreRecord, error)
	Ping(ctx context.Context) error
	Close() error
}

// Before reports whether a ranks ahead of b on a game board
func Before(a, b domain.ScoreRecord) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.SubmittedAt.Equal(b.SubmittedAt) {
		return a.SubmittedAt.Before(b.SubmittedAt)
	}
	return a.ID < b.ID
}
