// Package dedup rejects replayed score submissions.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/arcade-scores/internal/config"
	"github.com/arcade-scores/internal/domain"
	"github.com/arcade-scores/internal/store"
)

// Guard checks a candidate record against recent history in the store.
//
// The window check is check-then-insert and therefore best-effort under
// concurrent identical submissions. Submissions carrying a nonce are strict
// because the store rejects a reused (player, nonce) pair on insert.
type Guard struct {
	store      store.ScoreStore
	window     time.Duration
	matchScore bool
	now        func() time.Time
}

// Option configures a Guard
type Option func(*Guard)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		g.now = now
	}
}

// NewGuard creates a guard over s
func NewGuard(s store.ScoreStore, cfg *config.DedupConfig, opts ...Option) *Guard {
	g := &Guard{
		store:      s,
		window:     cfg.Window,
		matchScore: cfg.ScoreMatched(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Window returns the trailing duplicate window
func (g *Guard) Window() time.Duration {
	return g.window
}

// Check returns a duplicate_submission rejection when rec repeats a recent
// submission or reuses a nonce. Store failures are returned as plain errors.
func (g *Guard) Check(ctx context.Context, rec domain.ScoreRecord) error {
	if rec.Nonce != "" {
		used, err := g.store.HasNonce(ctx, rec.PlayerAddress, rec.Nonce)
		if err != nil {
			return fmt.Errorf("checking nonce: %w", err)
		}
		if used {
			return domain.Rejectf(domain.ReasonDuplicateSubmission, "nonce %q already used", rec.Nonce)
		}
	}

	if g.window <= 0 {
		return nil
	}

	dup, err := g.store.QueryRecentDuplicate(ctx, store.DuplicateQuery{
		GameID:        rec.GameID,
		PlayerAddress: rec.PlayerAddress,
		Score:         rec.Score,
		MatchScore:    g.matchScore,
		Since:         g.now().Add(-g.window),
	})
	if err != nil {
		return fmt.Errorf("checking recent submissions: %w", err)
	}
	if dup {
		return domain.Reject(domain.ReasonDuplicateSubmission)
	}
	return nil
}
