package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/arcade-scores/internal/chain"
	"github.com/arcade-scores/internal/config"
	"github.com/arcade-scores/internal/dedup"
	"github.com/arcade-scores/internal/domain"
	"github.com/arcade-scores/internal/games"
	"github.com/arcade-scores/internal/leaderboard"
	"github.com/arcade-scores/internal/store"
	"github.com/arcade-scores/internal/validator"
	"github.com/arcade-scores/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	playerA = "0xAbC0000000000000000000000000000000000123"
	playerB = "0x00000000000000000000000000000000000000b2"
)

type fakeResolver struct {
	names map[string]string
}

func (f *fakeResolver) Resolve(ctx context.Context, address string) (string, bool) {
	name, ok := f.names[address]
	return name, ok
}

type fakeAnchor struct {
	mu      sync.Mutex
	enabled bool
	fail    string
	calls   int
}

func (f *fakeAnchor) Enabled() bool { return f.enabled }

func (f *fakeAnchor) Anchor(ctx context.Context, playerAddress string, score, transactionCount int64) chain.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if !f.enabled {
		return chain.Result{Error: chain.ErrorDisabled}
	}
	if f.fail != "" {
		return chain.Result{Error: f.fail}
	}
	return chain.Result{Success: true, TxHash: "0xfeed"}
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	scores []domain.ScoreRecord
	boards []string
}

func (f *fakeBroadcaster) BroadcastScore(rec domain.ScoreRecord, rank int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores = append(f.scores, rec)
}

func (f *fakeBroadcaster) BroadcastLeaderboard(board string, snapshot interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.boards = append(f.boards, board)
}

func (f *fakeBroadcaster) SubscriberCount(board string) int { return 1 }

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	svc    *ScoreService
	store  *store.Memory
	anchor *fakeAnchor
	clock  *clock
	cfg    *config.Config
}

func newHarness(t *testing.T, mutate func(*config.Config, *Dependencies)) *harness {
	t.Helper()
	cfg := config.DefaultConfig()
	table := games.Default()
	s := store.NewMemory()
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	anchor := &fakeAnchor{}

	deps := Dependencies{
		Store:     s,
		Games:     table,
		Validator: validator.New(table),
		Guard:     dedup.NewGuard(s, &cfg.Dedup, dedup.WithClock(clk.Now)),
		Engine:    leaderboard.NewEngine(s, table, &cfg.Leaderboard),
		Resolver:  &fakeResolver{},
		Anchor:    anchor,
	}
	if mutate != nil {
		mutate(cfg, &deps)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &harness{
		svc:    NewScoreService(deps, &cfg.Chain, logger, WithClock(clk.Now)),
		store:  s,
		anchor: anchor,
		clock:  clk,
		cfg:    cfg,
	}
}

func requireReason(t *testing.T, err error, want domain.Reason) {
	t.Helper()
	reason, ok := domain.RejectionReason(err)
	require.True(t, ok, "expected rejection %s, got %v", want, err)
	assert.Equal(t, want, reason)
}

func TestSubmitScoreRejectsUnknownGame(t *testing.T) {
	h := newHarness(t, nil)
	for _, gameID := range []int{0, 13, 99, -1} {
		_, err := h.svc.SubmitScore(context.Background(), domain.NewSubmission(gameID, 10, 60, playerA))
		requireReason(t, err, domain.ReasonInvalidGameType)
	}
	assert.Equal(t, 0, h.store.Count())
}

func TestSubmitScoreBounds(t *testing.T) {
	for _, rule := range games.Default().All() {
		t.Run(rule.Name, func(t *testing.T) {
			h := newHarness(t, nil)
			ctx := context.Background()

			_, err := h.svc.SubmitScore(ctx, domain.NewSubmission(rule.ID, rule.MaxScore+1, rule.MinDuration, playerA))
			requireReason(t, err, domain.ReasonScoreOutOfBounds)

			_, err = h.svc.SubmitScore(ctx, domain.NewSubmission(rule.ID, 0, rule.MinDuration, playerA))
			requireReason(t, err, domain.ReasonScoreOutOfBounds)

			if rule.MinDuration > 0 {
				_, err = h.svc.SubmitScore(ctx, domain.NewSubmission(rule.ID, rule.MaxScore, rule.MinDuration-1, playerA))
				requireReason(t, err, domain.ReasonDurationTooShort)
			}

			res, err := h.svc.SubmitScore(ctx, domain.NewSubmission(rule.ID, rule.MaxScore, rule.MinDuration, playerA))
			require.NoError(t, err)
			assert.Equal(t, int64(1), res.Rank)
			assert.Equal(t, 1, h.store.Count())
		})
	}
}

func TestSubmitScoreMissingFields(t *testing.T) {
	h := newHarness(t, nil)
	sub := domain.NewSubmission(1, 500, 15, playerA)
	sub.Score = nil
	_, err := h.svc.SubmitScore(context.Background(), sub)
	requireReason(t, err, domain.ReasonMissingField)

	sub = domain.NewSubmission(1, 500, 15, "")
	_, err = h.svc.SubmitScore(context.Background(), sub)
	requireReason(t, err, domain.ReasonInvalidPlayerAddress)
}

func TestSubmitScoreDuplicateWindow(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	sub := domain.NewSubmission(1, 500, 15, playerA)

	_, err := h.svc.SubmitScore(ctx, sub)
	require.NoError(t, err)

	h.clock.Advance(30 * time.Second)
	_, err = h.svc.SubmitScore(ctx, sub)
	requireReason(t, err, domain.ReasonDuplicateSubmission)
	assert.Equal(t, 1, h.store.Count())

	h.clock.Advance(31 * time.Second)
	_, err = h.svc.SubmitScore(ctx, sub)
	require.NoError(t, err)
	assert.Equal(t, 2, h.store.Count())
}

func TestSubmitScoreNonceReuse(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	sub := domain.NewSubmission(1, 500, 15, playerA)
	sub.Nonce = "session-1"
	_, err := h.svc.SubmitScore(ctx, sub)
	require.NoError(t, err)

	h.clock.Advance(time.Hour)
	again := domain.NewSubmission(2, 900, 60, playerA)
	again.Nonce = "session-1"
	_, err = h.svc.SubmitScore(ctx, again)
	requireReason(t, err, domain.ReasonDuplicateSubmission)
	assert.Equal(t, 1, h.store.Count())
}

func TestSubmitScoreRanks(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	res, err := h.svc.SubmitScore(ctx, domain.NewSubmission(1, 500, 15, playerA))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Rank)
	assert.Empty(t, res.ChainTxHash)

	h.clock.Advance(time.Second)
	res, err = h.svc.SubmitScore(ctx, domain.NewSubmission(1, 600, 15, playerB))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Rank)

	standing, err := h.svc.GetPlayerStanding(ctx, "1", playerA)
	require.NoError(t, err)
	assert.Equal(t, int64(2), standing.Rank)
	assert.Equal(t, "0xabc0...0123", standing.DisplayName)
}

func TestSubmitScoreDisplayName(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config, deps *Dependencies) {
		deps.Resolver = &fakeResolver{names: map[string]string{
			"0xabc0000000000000000000000000000000000123": "neo",
		}}
	})
	ctx := context.Background()

	sub := domain.NewSubmission(1, 500, 15, playerA)
	sub.DisplayName = "client label"
	_, err := h.svc.SubmitScore(ctx, sub)
	require.NoError(t, err)

	sub = domain.NewSubmission(1, 400, 15, playerB)
	sub.DisplayName = "  trinity "
	_, err = h.svc.SubmitScore(ctx, sub)
	require.NoError(t, err)

	board, err := h.svc.GetLeaderboard(ctx, "1", 10)
	require.NoError(t, err)
	entries := board.(*domain.GameLeaderboard).Entries
	require.Len(t, entries, 2)
	assert.Equal(t, "neo", entries[0].DisplayName)
	assert.Equal(t, "0xabc0000000000000000000000000000000000123", entries[0].PlayerAddress)
	assert.Equal(t, "trinity", entries[1].DisplayName)
}

func TestSubmitScoreChainFailureIsInvisible(t *testing.T) {
	testCases := []struct {
		name    string
		enabled bool
		fail    string
	}{
		{name: "disabled signer"},
		{name: "failing ledger", enabled: true, fail: "insufficient funds"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.anchor.enabled = tc.enabled
			h.anchor.fail = tc.fail
			q := worker.NewAnchorWorker(h.anchor, h.store, &h.cfg.AnchorWorker, slog.New(slog.NewTextHandler(io.Discard, nil)))
			h.svc.deps.Queue = q

			res, err := h.svc.SubmitScore(context.Background(), domain.NewSubmission(1, 500, 15, playerA))
			require.NoError(t, err)
			assert.Equal(t, int64(1), res.Rank)
			assert.Empty(t, res.ChainTxHash)
			assert.Equal(t, 1, h.store.Count())
		})
	}
}

func TestSubmitScoreBestEffortWaitsForAnchor(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config, deps *Dependencies) {
		cfg.Chain.ResponseWait = 2 * time.Second
	})
	h.anchor.enabled = true
	q := worker.NewAnchorWorker(h.anchor, h.store, &h.cfg.AnchorWorker, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, q.Start(context.Background()))
	defer q.Stop()
	h.svc.deps.Queue = q

	res, err := h.svc.SubmitScore(context.Background(), domain.NewSubmission(1, 500, 15, playerA))
	require.NoError(t, err)
	assert.Equal(t, "0xfeed", res.ChainTxHash)

	require.Eventually(t, func() bool {
		best, err := h.store.BestForPlayer(context.Background(), 1, "0xabc0000000000000000000000000000000000123")
		return err == nil && best.Anchored()
	}, time.Second, 10*time.Millisecond)
}

func TestSubmitScoreMandatoryPolicy(t *testing.T) {
	mandatory := func(cfg *config.Config, deps *Dependencies) {
		cfg.Chain.Policy = config.PolicyMandatory
	}

	t.Run("anchor failure stores nothing", func(t *testing.T) {
		h := newHarness(t, mandatory)
		h.anchor.enabled = true
		h.anchor.fail = "execution reverted"

		_, err := h.svc.SubmitScore(context.Background(), domain.NewSubmission(1, 500, 15, playerA))
		requireReason(t, err, domain.ReasonChainAnchorFailed)
		assert.True(t, domain.ReasonChainAnchorFailed.Retryable())
		assert.Equal(t, 0, h.store.Count())
	})

	t.Run("anchor success stores hash", func(t *testing.T) {
		h := newHarness(t, mandatory)
		h.anchor.enabled = true

		res, err := h.svc.SubmitScore(context.Background(), domain.NewSubmission(1, 500, 15, playerA))
		require.NoError(t, err)
		assert.Equal(t, "0xfeed", res.ChainTxHash)

		top, err := h.store.QueryTopN(context.Background(), 1, 1)
		require.NoError(t, err)
		require.Len(t, top, 1)
		assert.Equal(t, "0xfeed", top[0].ChainTxHash)
	})

	t.Run("rejections never reach the ledger", func(t *testing.T) {
		h := newHarness(t, mandatory)
		h.anchor.enabled = true

		_, err := h.svc.SubmitScore(context.Background(), domain.NewSubmission(1, 50000, 15, playerA))
		requireReason(t, err, domain.ReasonScoreOutOfBounds)
		assert.Equal(t, 0, h.anchor.calls)
	})
}

func TestSubmitScoreBroadcasts(t *testing.T) {
	b := &fakeBroadcaster{}
	h := newHarness(t, func(cfg *config.Config, deps *Dependencies) {
		deps.Broadcaster = b
	})

	_, err := h.svc.SubmitScore(context.Background(), domain.NewSubmission(3, 100, 60, playerA))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.scores) == 1 && len(b.boards) == 2
	}, time.Second, 5*time.Millisecond)
	b.mu.Lock()
	defer b.mu.Unlock()
	assert.ElementsMatch(t, []string{"game:3", domain.GlobalBoard}, b.boards)
}

func TestGetLeaderboard(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.svc.SubmitScore(ctx, domain.NewSubmission(1, 50, 15, playerA))
	require.NoError(t, err)
	_, err = h.svc.SubmitScore(ctx, domain.NewSubmission(2, 30, 60, playerA))
	require.NoError(t, err)

	board, err := h.svc.GetLeaderboard(ctx, domain.GlobalBoard, 10)
	require.NoError(t, err)
	global := board.(*domain.GlobalLeaderboard)
	require.Len(t, global.Entries, 1)
	assert.Equal(t, int64(80), global.Entries[0].TotalScore)
	assert.Equal(t, int64(2), global.Entries[0].GamesPlayed)

	board, err = h.svc.GetLeaderboard(ctx, "2", 10)
	require.NoError(t, err)
	assert.Len(t, board.(*domain.GameLeaderboard).Entries, 1)

	_, err = h.svc.GetLeaderboard(ctx, "snake", 10)
	requireReason(t, err, domain.ReasonInvalidRequest)

	_, err = h.svc.GetLeaderboard(ctx, "99", 10)
	require.ErrorIs(t, err, domain.ErrGameNotFound)
}

func TestReadyAndGames(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.svc.Ready(context.Background()))
	assert.Len(t, h.svc.Games(), 12)
}
