// Package leaderboard builds ranked per-game and global views over the score store.
package leaderboard

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/arcade-scores/internal/config"
	"github.com/arcade-scores/internal/domain"
	"github.com/arcade-scores/internal/games"
	"github.com/arcade-scores/internal/store"
)

// Anonymous is shown when a row has neither a name nor an address
const Anonymous = "Anonymous"

// DisplayName returns the name to show for a row: the stored name, else a
// shortened address (first 6 and last 4 characters), else Anonymous.
func DisplayName(name, playerAddress string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	if len(playerAddress) > 10 {
		return playerAddress[:6] + "..." + playerAddress[len(playerAddress)-4:]
	}
	if playerAddress != "" {
		return playerAddress
	}
	return Anonymous
}

// Engine answers leaderboard reads
type Engine struct {
	store  store.ScoreStore
	games  *games.Table
	config *config.LeaderboardConfig
}

// NewEngine creates a new leaderboard engine
func NewEngine(s store.ScoreStore, table *games.Table, cfg *config.LeaderboardConfig) *Engine {
	return &Engine{
		store:  s,
		games:  table,
		config: cfg,
	}
}

// ParseLimit interprets a limit query parameter. Empty means the default;
// values above the maximum are clamped; anything else that is not a
// positive integer is an invalid_request rejection.
func (e *Engine) ParseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return e.config.DefaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, domain.Rejectf(domain.ReasonInvalidRequest, "limit must be a positive integer")
	}
	return e.ClampLimit(n), nil
}

// ClampLimit applies the default and maximum to n
func (e *Engine) ClampLimit(n int) int {
	if n <= 0 {
		n = e.config.DefaultLimit
	}
	if n > e.config.MaxLimit {
		n = e.config.MaxLimit
	}
	return n
}

// PerGame returns the top records of one game
func (e *Engine) PerGame(ctx context.Context, gameID int, limit int) (*domain.GameLeaderboard, error) {
	rule, ok := e.games.Lookup(gameID)
	if !ok {
		return nil, fmt.Errorf("game %d: %w", gameID, domain.ErrGameNotFound)
	}

	records, err := e.store.QueryTopN(ctx, gameID, e.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying game %d: %w", gameID, err)
	}

	entries := make([]domain.LeaderboardEntry, len(records))
	for i, rec := range records {
		entries[i] = entry(rec, int64(i+1))
	}
	return &domain.GameLeaderboard{
		GameID:   gameID,
		GameName: rule.Name,
		Entries:  entries,
	}, nil
}

// Global returns players ranked by their summed score across every game
func (e *Engine) Global(ctx context.Context, limit int) (*domain.GlobalLeaderboard, error) {
	totals, err := e.store.AggregateGlobal(ctx, e.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("aggregating global leaderboard: %w", err)
	}

	entries := make([]domain.GlobalEntry, len(totals))
	for i, t := range totals {
		entries[i] = domain.GlobalEntry{
			Rank:          int64(i + 1),
			PlayerAddress: t.PlayerAddress,
			DisplayName:   DisplayName(t.DisplayName, t.PlayerAddress),
			TotalScore:    t.TotalScore,
			GamesPlayed:   t.GamesPlayed,
			LastPlayedAt:  t.LastPlayedAt,
			SubmittedAt:   t.LastPlayedAt,
		}
	}
	return &domain.GlobalLeaderboard{
		GameID:  domain.GlobalBoard,
		Entries: entries,
	}, nil
}

// PlayerStanding returns the player's best record on a game and its rank
func (e *Engine) PlayerStanding(ctx context.Context, gameID int, playerAddress string) (*domain.LeaderboardEntry, error) {
	if _, ok := e.games.Lookup(gameID); !ok {
		return nil, fmt.Errorf("game %d: %w", gameID, domain.ErrGameNotFound)
	}

	best, err := e.store.BestForPlayer(ctx, gameID, playerAddress)
	if err != nil {
		return nil, err
	}
	rank, err := e.store.RankOf(ctx, *best)
	if err != nil {
		return nil, fmt.Errorf("ranking player: %w", err)
	}

	result := entry(*best, rank)
	return &result, nil
}

func entry(rec domain.ScoreRecord, rank int64) domain.LeaderboardEntry {
	return domain.LeaderboardEntry{
		Rank:          rank,
		PlayerAddress: rec.PlayerAddress,
		DisplayName:   DisplayName(rec.DisplayName, rec.PlayerAddress),
		Score:         rec.Score,
		SubmittedAt:   rec.SubmittedAt,
		ChainTxHash:   rec.ChainTxHash,
	}
}
