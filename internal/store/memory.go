package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arcade-scores/internal/domain"
)

// Memory is a thread-safe in-memory ScoreStore
type Memory struct {
	mu      sync.RWMutex
	records []domain.ScoreRecord
	nonces  map[string]int64
	failed  map[int64]string
	nextID  int64
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		nonces: make(map[string]int64),
		failed: make(map[int64]string),
	}
}

func nonceKey(playerAddress, nonce string) string {
	return playerAddress + "|" + nonce
}

// Insert stores a copy of rec
func (m *Memory) Insert(ctx context.Context, rec *domain.ScoreRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.Nonce != "" {
		key := nonceKey(rec.PlayerAddress, rec.Nonce)
		if _, used := m.nonces[key]; used {
			return 0, domain.ErrNonceExists
		}
		m.nonces[key] = m.nextID + 1
	}

	m.nextID++
	rec.ID = m.nextID
	m.records = append(m.records, *rec)
	return rec.ID, nil
}

// QueryTopN returns the best n records of a game
func (m *Memory) QueryTopN(ctx context.Context, gameID int, n int) ([]domain.ScoreRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	board := []domain.ScoreRecord{}
	for _, r := range m.records {
		if r.GameID == gameID {
			board = append(board, r)
		}
	}
	sort.Slice(board, func(i, j int) bool { return Before(board[i], board[j]) })
	if n >= 0 && len(board) > n {
		board = board[:n]
	}
	return board, nil
}

// QueryRecentDuplicate scans for a matching record inside the window
func (m *Memory) QueryRecentDuplicate(ctx context.Context, q DuplicateQuery) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.records {
		if r.GameID != q.GameID || r.PlayerAddress != q.PlayerAddress {
			continue
		}
		if q.MatchScore && r.Score != q.Score {
			continue
		}
		if !r.SubmittedAt.Before(q.Since) {
			return true, nil
		}
	}
	return false, nil
}

// AggregateGlobal sums scores per player across all games
func (m *Memory) AggregateGlobal(ctx context.Context, limit int) ([]domain.PlayerTotal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totals := make(map[string]*domain.PlayerTotal)
	// Latest non-empty name wins; records are kept in insertion order.
	for _, r := range m.records {
		t, ok := totals[r.PlayerAddress]
		if !ok {
			t = &domain.PlayerTotal{PlayerAddress: r.PlayerAddress}
			totals[r.PlayerAddress] = t
		}
		t.TotalScore += r.Score
		t.GamesPlayed++
		if r.SubmittedAt.After(t.LastPlayedAt) {
			t.LastPlayedAt = r.SubmittedAt
		}
		if r.DisplayName != "" {
			t.DisplayName = r.DisplayName
		}
	}

	out := make([]domain.PlayerTotal, 0, len(totals))
	for _, t := range totals {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalScore != out[j].TotalScore {
			return out[i].TotalScore > out[j].TotalScore
		}
		return out[i].PlayerAddress < out[j].PlayerAddress
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RankOf counts the records ahead of rec on its board
func (m *Memory) RankOf(ctx context.Context, rec domain.ScoreRecord) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rank := int64(1)
	for _, r := range m.records {
		if r.GameID == rec.GameID && r.ID != rec.ID && Before(r, rec) {
			rank++
		}
	}
	return rank, nil
}

// BestForPlayer returns the player's top record on a game
func (m *Memory) BestForPlayer(ctx context.Context, gameID int, playerAddress string) (*domain.ScoreRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *domain.ScoreRecord
	for i := range m.records {
		r := m.records[i]
		if r.GameID != gameID || r.PlayerAddress != playerAddress {
			continue
		}
		if best == nil || Before(r, *best) {
			best = &r
		}
	}
	if best == nil {
		return nil, domain.ErrPlayerNotFound
	}
	return best, nil
}

// HasNonce reports whether the nonce was already used by the player
func (m *Memory) HasNonce(ctx context.Context, playerAddress, nonce string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.nonces[nonceKey(playerAddress, nonce)]
	return ok, nil
}

// SetChainTxHash attaches a ledger transaction hash to a record
func (m *Memory) SetChainTxHash(ctx context.Context, id int64, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.records {
		if m.records[i].ID == id {
			m.records[i].ChainTxHash = txHash
			return nil
		}
	}
	return domain.ErrRecordNotFound
}

// MarkAnchorFailed removes a record from the sweep
func (m *Memory) MarkAnchorFailed(ctx context.Context, id int64, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.records {
		if r.ID == id {
			m.failed[id] = txHash
			return nil
		}
	}
	return domain.ErrRecordNotFound
}

// ListUnanchored returns records still lacking a chain hash
func (m *Memory) ListUnanchored(ctx context.Context, limit int, olderThan time.Time) ([]domain.ScoreRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.ScoreRecord
	for _, r := range m.records {
		if len(out) >= limit {
			break
		}
		if _, failed := m.failed[r.ID]; failed {
			continue
		}
		if r.ChainTxHash == "" && !r.SubmittedAt.After(olderThan) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Count returns the number of stored records
func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
