package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arcade-scores/internal/chain"
	"github.com/arcade-scores/internal/config"
	"github.com/arcade-scores/internal/dedup"
	"github.com/arcade-scores/internal/domain"
	"github.com/arcade-scores/internal/games"
	"github.com/arcade-scores/internal/leaderboard"
	"github.com/arcade-scores/internal/store"
	"github.com/arcade-scores/internal/validator"
)

// publishTimeout bounds the snapshot reads made for live broadcasts
const publishTimeout = 5 * time.Second

// Resolver looks up a registered username for an address
type Resolver interface {
	Resolve(ctx context.Context, address string) (string, bool)
}

// Anchorer writes a score to the ledger
type Anchorer interface {
	Enabled() bool
	Anchor(ctx context.Context, playerAddress string, score, transactionCount int64) chain.Result
}

// AnchorQueue schedules background anchoring of stored records
type AnchorQueue interface {
	Enqueue(rec domain.ScoreRecord) (<-chan chain.Result, bool)
}

// Broadcaster pushes live updates to subscribed clients
type Broadcaster interface {
	BroadcastScore(rec domain.ScoreRecord, rank int64)
	BroadcastLeaderboard(board string, snapshot interface{})
	SubscriberCount(board string) int
}

// Dependencies are the collaborators of a ScoreService. Resolver, Queue and
// Broadcaster are optional.
type Dependencies struct {
	Store       store.ScoreStore
	Games       *games.Table
	Validator   *validator.Validator
	Guard       *dedup.Guard
	Engine      *leaderboard.Engine
	Resolver    Resolver
	Anchor      Anchorer
	Queue       AnchorQueue
	Broadcaster Broadcaster
}

// ScoreService runs the submission pipeline and serves leaderboard reads
type ScoreService struct {
	deps   Dependencies
	chain  *config.ChainConfig
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a ScoreService
type Option func(*ScoreService)

// WithClock overrides the time source used for SubmittedAt
func WithClock(now func() time.Time) Option {
	return func(s *ScoreService) {
		s.now = now
	}
}

// NewScoreService creates a new score service
func NewScoreService(deps Dependencies, cfg *config.ChainConfig, logger *slog.Logger, opts ...Option) *ScoreService {
	s := &ScoreService{
		deps:   deps,
		chain:  cfg,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitScore validates, deduplicates and stores a submission, then anchors
// it according to the configured chain policy and returns the caller's rank.
// Client-visible failures are *domain.RejectionError; anything else is a
// server fault.
func (s *ScoreService) SubmitScore(ctx context.Context, sub domain.ScoreSubmission) (*domain.SubmitResult, error) {
	if res := s.deps.Validator.Validate(sub); !res.Valid {
		s.logger.Debug("score rejected", "reason", res.Reason, "player_address", sub.PlayerAddress)
		return nil, domain.Reject(res.Reason)
	}

	rec := validator.Record(sub)
	rec.SubmittedAt = s.now().UTC().Truncate(time.Microsecond)

	// Dedup and name lookup are independent; a rejection cancels the lookup.
	var resolved string
	var found bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.deps.Guard.Check(gctx, rec)
	})
	if s.deps.Resolver != nil {
		g.Go(func() error {
			resolved, found = s.deps.Resolver.Resolve(gctx, rec.PlayerAddress)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if reason, ok := domain.RejectionReason(err); ok {
			s.logger.Info("score rejected", "reason", reason, "game_id", rec.GameID, "player_address", rec.PlayerAddress)
			return nil, err
		}
		return nil, fmt.Errorf("checking duplicates: %w", err)
	}
	if found {
		if name := validator.SanitizeDisplayName(resolved); name != "" {
			rec.DisplayName = name
		}
	}

	if s.chain.Mandatory() {
		res := chain.Result{Error: chain.ErrorDisabled}
		if s.deps.Anchor != nil {
			res = s.deps.Anchor.Anchor(ctx, rec.PlayerAddress, rec.Score, 1)
		}
		if !res.Success {
			s.logger.Warn("score rejected, chain anchor failed",
				"game_id", rec.GameID,
				"player_address", rec.PlayerAddress,
				"error", res.Error,
			)
			return nil, domain.Rejectf(domain.ReasonChainAnchorFailed, "%s", res.Error)
		}
		rec.ChainTxHash = res.TxHash
	}

	id, err := s.deps.Store.Insert(ctx, &rec)
	if err != nil {
		if rec.ChainTxHash != "" {
			s.logger.Error("score anchored but not stored",
				"player_address", rec.PlayerAddress,
				"tx_hash", rec.ChainTxHash,
				"error", err,
			)
		}
		if errors.Is(err, domain.ErrNonceExists) {
			return nil, domain.Rejectf(domain.ReasonDuplicateSubmission, "nonce %q already used", rec.Nonce)
		}
		return nil, fmt.Errorf("storing score: %w", err)
	}

	if !s.chain.Mandatory() {
		s.anchorLater(ctx, &rec)
	}

	rank, err := s.deps.Store.RankOf(ctx, rec)
	if err != nil {
		s.logger.Warn("failed to compute rank", "record_id", id, "error", err)
		rank = 0
	}

	s.logger.Info("score accepted",
		"record_id", id,
		"game_id", rec.GameID,
		"player_address", rec.PlayerAddress,
		"score", rec.Score,
		"rank", rank,
		"anchored", rec.Anchored(),
	)

	if s.deps.Broadcaster != nil {
		go s.publish(rec, rank)
	}

	return &domain.SubmitResult{
		RecordID:    id,
		Rank:        rank,
		ChainTxHash: rec.ChainTxHash,
	}, nil
}

// anchorLater queues rec for the background anchor worker and, if
// configured, waits briefly so a fast anchor can be reported inline.
func (s *ScoreService) anchorLater(ctx context.Context, rec *domain.ScoreRecord) {
	if s.deps.Queue == nil || s.deps.Anchor == nil || !s.deps.Anchor.Enabled() {
		return
	}
	results, queued := s.deps.Queue.Enqueue(*rec)
	if !queued || s.chain.ResponseWait <= 0 {
		return
	}

	timer := time.NewTimer(s.chain.ResponseWait)
	defer timer.Stop()
	select {
	case res := <-results:
		if res.Success {
			rec.ChainTxHash = res.TxHash
		}
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (s *ScoreService) publish(rec domain.ScoreRecord, rank int64) {
	s.deps.Broadcaster.BroadcastScore(rec, rank)

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if board := domain.GameBoard(rec.GameID); s.deps.Broadcaster.SubscriberCount(board) > 0 {
		snapshot, err := s.deps.Engine.PerGame(ctx, rec.GameID, 0)
		if err != nil {
			s.logger.Warn("failed to build leaderboard snapshot", "board", board, "error", err)
		} else {
			s.deps.Broadcaster.BroadcastLeaderboard(board, snapshot)
		}
	}
	if s.deps.Broadcaster.SubscriberCount(domain.GlobalBoard) > 0 {
		snapshot, err := s.deps.Engine.Global(ctx, 0)
		if err != nil {
			s.logger.Warn("failed to build leaderboard snapshot", "board", domain.GlobalBoard, "error", err)
		} else {
			s.deps.Broadcaster.BroadcastLeaderboard(domain.GlobalBoard, snapshot)
		}
	}
}

// GetLeaderboard returns the per-game board for a numeric game id or the
// global board for "global". The result is a *domain.GameLeaderboard or a
// *domain.GlobalLeaderboard.
func (s *ScoreService) GetLeaderboard(ctx context.Context, board string, limit int) (interface{}, error) {
	if board == domain.GlobalBoard {
		return s.deps.Engine.Global(ctx, limit)
	}
	gameID, err := parseGameID(board)
	if err != nil {
		return nil, err
	}
	return s.deps.Engine.PerGame(ctx, gameID, limit)
}

// GetPlayerStanding returns a player's best entry on a game board
func (s *ScoreService) GetPlayerStanding(ctx context.Context, board, playerAddress string) (*domain.LeaderboardEntry, error) {
	gameID, err := parseGameID(board)
	if err != nil {
		return nil, err
	}
	if !validator.IsValidAddress(playerAddress) {
		return nil, domain.Reject(domain.ReasonInvalidPlayerAddress)
	}
	return s.deps.Engine.PlayerStanding(ctx, gameID, validator.NormalizeAddress(playerAddress))
}

// ParseLimit interprets a client limit parameter
func (s *ScoreService) ParseLimit(raw string) (int, error) {
	return s.deps.Engine.ParseLimit(raw)
}

// Games returns the configured game rules
func (s *ScoreService) Games() []domain.GameRule {
	return s.deps.Games.All()
}

// Ready reports whether the score store is reachable
func (s *ScoreService) Ready(ctx context.Context) error {
	return s.deps.Store.Ping(ctx)
}

func parseGameID(board string) (int, error) {
	gameID, err := strconv.Atoi(board)
	if err != nil || gameID <= 0 {
		return 0, domain.Rejectf(domain.ReasonInvalidRequest, "unknown leaderboard %q", board)
	}
	return gameID, nil
}
