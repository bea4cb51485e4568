package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/arcade-scores/internal/config"
	"github.com/arcade-scores/internal/domain"
	"github.com/arcade-scores/internal/store"
	"github.com/redis/go-redis/v9"
)

// keepMax stores ARGV[2] under field ARGV[1] only if it exceeds the current value
var keepMax = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], ARGV[1])
if (not current) or (tonumber(current) < tonumber(ARGV[2])) then
	redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
end
return 1
`)

// ScoreStore provides a Redis-backed store.ScoreStore.
//
// Game boards are sorted sets scored by the negated score so that ascending
// order is best-first, with members encoded as "<submittedAt nanos>:<id>" so
// equal scores fall back to earliest submission.
type ScoreStore struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

var _ store.ScoreStore = (*ScoreStore)(nil)

// NewScoreStore connects to Redis and verifies the connection
func NewScoreStore(cfg *config.RedisConfig, logger *slog.Logger) (*ScoreStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewScoreStoreWithClient(client, cfg.KeyPrefix, logger), nil
}

// NewScoreStoreWithClient wraps an existing client
func NewScoreStoreWithClient(client *redis.Client, prefix string, logger *slog.Logger) *ScoreStore {
	if prefix == "" {
		prefix = "arcade"
	}
	return &ScoreStore{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

// Close closes the Redis connection
func (s *ScoreStore) Close() error {
	return s.client.Close()
}

// Ping checks the connection
func (s *ScoreStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *ScoreStore) seqKey() string {
	return s.prefix + ":score:seq"
}

func (s *ScoreStore) recordKey(id int64) string {
	return fmt.Sprintf("%s:score:%d", s.prefix, id)
}

// boardKey returns the sorted set holding every record of a game
func (s *ScoreStore) boardKey(gameID int) string {
	return fmt.Sprintf("%s:game:%d:board", s.prefix, gameID)
}

// playerKey returns the sorted set of a player's records on a game, scored by submission time
func (s *ScoreStore) playerKey(gameID int, playerAddress string) string {
	return fmt.Sprintf("%s:game:%d:player:%s", s.prefix, gameID, playerAddress)
}

func (s *ScoreStore) nonceKey(playerAddress, nonce string) string {
	return fmt.Sprintf("%s:nonce:%s:%s", s.prefix, playerAddress, nonce)
}

func (s *ScoreStore) totalsKey() string     { return s.prefix + ":global:totals" }
func (s *ScoreStore) gamesKey() string      { return s.prefix + ":global:games" }
func (s *ScoreStore) lastKey() string       { return s.prefix + ":global:last" }
func (s *ScoreStore) namesKey() string      { return s.prefix + ":global:names" }
func (s *ScoreStore) unanchoredKey() string { return s.prefix + ":unanchored" }
func (s *ScoreStore) failedKey() string     { return s.prefix + ":anchor:failed" }

func boardMember(rec domain.ScoreRecord) string {
	return fmt.Sprintf("%020d:%020d", rec.SubmittedAt.UnixNano(), rec.ID)
}

func playerMember(rec domain.ScoreRecord) string {
	return fmt.Sprintf("%d:%d", rec.Score, rec.ID)
}

func idMember(id int64) string {
	return fmt.Sprintf("%020d", id)
}

// memberID extracts the record id from the last ':'-separated field of a member
func memberID(member string) (int64, error) {
	if i := strings.LastIndexByte(member, ':'); i >= 0 {
		member = member[i+1:]
	}
	return strconv.ParseInt(member, 10, 64)
}

// Insert stores a record and updates every index in one transaction
func (s *ScoreStore) Insert(ctx context.Context, rec *domain.ScoreRecord) (int64, error) {
	if rec.Nonce != "" {
		claimed, err := s.client.SetNX(ctx, s.nonceKey(rec.PlayerAddress, rec.Nonce), "pending", 0).Result()
		if err != nil {
			return 0, fmt.Errorf("claiming nonce: %w", err)
		}
		if !claimed {
			return 0, domain.ErrNonceExists
		}
	}

	id, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		s.releaseNonce(ctx, rec)
		return 0, fmt.Errorf("allocating record id: %w", err)
	}
	rec.ID = id

	data, err := json.Marshal(rec)
	if err != nil {
		s.releaseNonce(ctx, rec)
		return 0, fmt.Errorf("marshaling record: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(id), data, 0)
		pipe.ZAdd(ctx, s.boardKey(rec.GameID), redis.Z{Score: -float64(rec.Score), Member: boardMember(*rec)})
		pipe.ZAdd(ctx, s.playerKey(rec.GameID, rec.PlayerAddress), redis.Z{
			Score:  float64(rec.SubmittedAt.UnixMilli()),
			Member: playerMember(*rec),
		})
		if rec.ChainTxHash == "" {
			pipe.ZAdd(ctx, s.unanchoredKey(), redis.Z{
				Score:  float64(rec.SubmittedAt.UnixMilli()),
				Member: idMember(id),
			})
		}
		pipe.ZIncrBy(ctx, s.totalsKey(), -float64(rec.Score), rec.PlayerAddress)
		pipe.HIncrBy(ctx, s.gamesKey(), rec.PlayerAddress, 1)
		if rec.DisplayName != "" {
			pipe.HSet(ctx, s.namesKey(), rec.PlayerAddress, rec.DisplayName)
		}
		if rec.Nonce != "" {
			pipe.Set(ctx, s.nonceKey(rec.PlayerAddress, rec.Nonce), id, 0)
		}
		return nil
	})
	if err != nil {
		s.releaseNonce(ctx, rec)
		return 0, fmt.Errorf("storing record: %w", err)
	}

	err = keepMax.Run(ctx, s.client, []string{s.lastKey()}, rec.PlayerAddress, rec.SubmittedAt.UnixMilli()).Err()
	if err != nil {
		s.logger.Warn("failed to update last played time", "player_address", rec.PlayerAddress, "error", err)
	}

	return id, nil
}

func (s *ScoreStore) releaseNonce(ctx context.Context, rec *domain.ScoreRecord) {
	if rec.Nonce == "" {
		return
	}
	if err := s.client.Del(ctx, s.nonceKey(rec.PlayerAddress, rec.Nonce)).Err(); err != nil {
		s.logger.Warn("failed to release nonce", "player_address", rec.PlayerAddress, "error", err)
	}
}

// loadRecords fetches records by id, preserving order and skipping missing ones
func (s *ScoreStore) loadRecords(ctx context.Context, ids []int64) ([]domain.ScoreRecord, error) {
	if len(ids) == 0 {
		return []domain.ScoreRecord{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("loading records: %w", err)
	}

	records := make([]domain.ScoreRecord, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			s.logger.Warn("score record missing from index", "record_id", ids[i])
			continue
		}
		var rec domain.ScoreRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decoding record %d: %w", ids[i], err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func membersToIDs(members []string) ([]int64, error) {
	ids := make([]int64, len(members))
	for i, m := range members {
		id, err := memberID(m)
		if err != nil {
			return nil, fmt.Errorf("parsing member %q: %w", m, err)
		}
		ids[i] = id
	}
	return ids, nil
}

// QueryTopN returns the best n records of a game
func (s *ScoreStore) QueryTopN(ctx context.Context, gameID int, n int) ([]domain.ScoreRecord, error) {
	if n <= 0 {
		return []domain.ScoreRecord{}, nil
	}
	members, err := s.client.ZRange(ctx, s.boardKey(gameID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting top n: %w", err)
	}
	ids, err := membersToIDs(members)
	if err != nil {
		return nil, err
	}
	return s.loadRecords(ctx, ids)
}

// QueryRecentDuplicate looks for a player's record on the game inside the window
func (s *ScoreStore) QueryRecentDuplicate(ctx context.Context, q store.DuplicateQuery) (bool, error) {
	members, err := s.client.ZRangeByScore(ctx, s.playerKey(q.GameID, q.PlayerAddress), &redis.ZRangeBy{
		Min: strconv.FormatInt(q.Since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return false, fmt.Errorf("querying recent submissions: %w", err)
	}
	if !q.MatchScore {
		return len(members) > 0, nil
	}

	prefix := strconv.FormatInt(q.Score, 10) + ":"
	for _, m := range members {
		if strings.HasPrefix(m, prefix) {
			return true, nil
		}
	}
	return false, nil
}

// AggregateGlobal returns the top players by summed score
func (s *ScoreStore) AggregateGlobal(ctx context.Context, limit int) ([]domain.PlayerTotal, error) {
	if limit <= 0 {
		return []domain.PlayerTotal{}, nil
	}
	results, err := s.client.ZRangeWithScores(ctx, s.totalsKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting global totals: %w", err)
	}
	if len(results) == 0 {
		return []domain.PlayerTotal{}, nil
	}

	players := make([]string, len(results))
	for i, r := range results {
		players[i] = r.Member.(string)
	}

	// Use pipeline to fetch the per-player side tables together
	pipe := s.client.Pipeline()
	gamesCmd := pipe.HMGet(ctx, s.gamesKey(), players...)
	lastCmd := pipe.HMGet(ctx, s.lastKey(), players...)
	namesCmd := pipe.HMGet(ctx, s.namesKey(), players...)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("getting player aggregates: %w", err)
	}

	games, lasts, names := gamesCmd.Val(), lastCmd.Val(), namesCmd.Val()
	totals := make([]domain.PlayerTotal, len(results))
	for i, r := range results {
		t := domain.PlayerTotal{
			PlayerAddress: players[i],
			TotalScore:    -int64(r.Score),
		}
		if v, ok := games[i].(string); ok {
			t.GamesPlayed, _ = strconv.ParseInt(v, 10, 64)
		}
		if v, ok := lasts[i].(string); ok {
			ms, _ := strconv.ParseInt(v, 10, 64)
			t.LastPlayedAt = time.UnixMilli(ms).UTC()
		}
		if v, ok := names[i].(string); ok {
			t.DisplayName = v
		}
		totals[i] = t
	}
	return totals, nil
}

// RankOf returns the record's 1-based position on its board
func (s *ScoreStore) RankOf(ctx context.Context, rec domain.ScoreRecord) (int64, error) {
	rank, err := s.client.ZRank(ctx, s.boardKey(rec.GameID), boardMember(rec)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, domain.ErrRecordNotFound
		}
		return 0, fmt.Errorf("getting rank: %w", err)
	}
	return rank + 1, nil
}

// BestForPlayer returns the player's top record on a game
func (s *ScoreStore) BestForPlayer(ctx context.Context, gameID int, playerAddress string) (*domain.ScoreRecord, error) {
	members, err := s.client.ZRange(ctx, s.playerKey(gameID, playerAddress), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("getting player records: %w", err)
	}
	if len(members) == 0 {
		return nil, domain.ErrPlayerNotFound
	}

	var bestScore int64 = -1
	var candidates []int64
	for _, m := range members {
		scorePart, idPart, ok := strings.Cut(m, ":")
		if !ok {
			continue
		}
		score, err1 := strconv.ParseInt(scorePart, 10, 64)
		id, err2 := strconv.ParseInt(idPart, 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		switch {
		case score > bestScore:
			bestScore = score
			candidates = []int64{id}
		case score == bestScore:
			candidates = append(candidates, id)
		}
	}

	records, err := s.loadRecords(ctx, candidates)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, domain.ErrPlayerNotFound
	}
	best := records[0]
	for _, r := range records[1:] {
		if store.Before(r, best) {
			best = r
		}
	}
	return &best, nil
}

// HasNonce reports whether the player already used the nonce
func (s *ScoreStore) HasNonce(ctx context.Context, playerAddress, nonce string) (bool, error) {
	n, err := s.client.Exists(ctx, s.nonceKey(playerAddress, nonce)).Result()
	if err != nil {
		return false, fmt.Errorf("checking nonce: %w", err)
	}
	return n > 0, nil
}

// SetChainTxHash attaches a ledger transaction hash to a stored record
func (s *ScoreStore) SetChainTxHash(ctx context.Context, id int64, txHash string) error {
	raw, err := s.client.Get(ctx, s.recordKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ErrRecordNotFound
		}
		return fmt.Errorf("getting record: %w", err)
	}

	var rec domain.ScoreRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return fmt.Errorf("decoding record %d: %w", id, err)
	}
	rec.ChainTxHash = txHash
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(id), data, 0)
		pipe.ZRem(ctx, s.unanchoredKey(), idMember(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("setting chain tx hash: %w", err)
	}
	return nil
}

// MarkAnchorFailed keeps the unconfirmed transaction hash and drops the record from the sweep set
func (s *ScoreStore) MarkAnchorFailed(ctx context.Context, id int64, txHash string) error {
	n, err := s.client.Exists(ctx, s.recordKey(id)).Result()
	if err != nil {
		return fmt.Errorf("getting record: %w", err)
	}
	if n == 0 {
		return domain.ErrRecordNotFound
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.failedKey(), strconv.FormatInt(id, 10), txHash)
		pipe.ZRem(ctx, s.unanchoredKey(), idMember(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("marking anchor failed: %w", err)
	}
	return nil
}

// ListUnanchored returns the oldest records still lacking a chain hash
func (s *ScoreStore) ListUnanchored(ctx context.Context, limit int, olderThan time.Time) ([]domain.ScoreRecord, error) {
	if limit <= 0 {
		return []domain.ScoreRecord{}, nil
	}
	members, err := s.client.ZRangeByScore(ctx, s.unanchoredKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(olderThan.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("listing unanchored records: %w", err)
	}
	ids, err := membersToIDs(members)
	if err != nil {
		return nil, err
	}
	return s.loadRecords(ctx, ids)
}
