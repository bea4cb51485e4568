package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/arcade-scores/internal/config"
	"github.com/arcade-scores/internal/domain"
	"github.com/arcade-scores/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the SQLSTATE raised by a unique index conflict
const uniqueViolation = "23505"

const recordColumns = `id, game_id, score, player_address, COALESCE(display_name, ''),
	duration_seconds, COALESCE(nonce, ''), submitted_at, COALESCE(chain_tx_hash, '')`

// ScoreStore provides a PostgreSQL-backed store.ScoreStore
type ScoreStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ store.ScoreStore = (*ScoreStore)(nil)

// NewScoreStore creates a connection pool and verifies connectivity
func NewScoreStore(cfg *config.PostgresConfig, logger *slog.Logger) (*ScoreStore, error) {
	return Connect(context.Background(), cfg.ConnectionString(), cfg, logger)
}

// Connect opens a pool for dsn. Pool sizing comes from cfg when it is non-nil.
func Connect(ctx context.Context, dsn string, cfg *config.PostgresConfig, logger *slog.Logger) (*ScoreStore, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	if cfg != nil {
		poolConfig.MaxConns = int32(cfg.MaxConnections)
		poolConfig.MinConns = int32(cfg.MinConnections)
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &ScoreStore{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (s *ScoreStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection
func (s *ScoreStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// RunMigrations creates the score table and its indexes
func (s *ScoreStore) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS score_records (
			id BIGSERIAL PRIMARY KEY,
			game_id INT NOT NULL,
			score BIGINT NOT NULL CHECK (score > 0),
			player_address VARCHAR(42) NOT NULL,
			display_name VARCHAR(64),
			duration_seconds BIGINT NOT NULL,
			nonce VARCHAR(128),
			submitted_at TIMESTAMPTZ NOT NULL,
			chain_tx_hash VARCHAR(66)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_score_records_nonce
			ON score_records(player_address, nonce) WHERE nonce IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_score_records_board
			ON score_records(game_id, score DESC, submitted_at ASC, id ASC)`,
		`CREATE INDEX IF NOT EXISTS idx_score_records_player
			ON score_records(game_id, player_address, submitted_at DESC)`,
		`ALTER TABLE score_records ADD COLUMN IF NOT EXISTS anchor_failed_tx VARCHAR(66)`,
		`ALTER TABLE score_records ADD COLUMN IF NOT EXISTS anchor_failed_at TIMESTAMPTZ`,
		`DROP INDEX IF EXISTS idx_score_records_unanchored`,
		`CREATE INDEX IF NOT EXISTS idx_score_records_sweep
			ON score_records(submitted_at) WHERE chain_tx_hash IS NULL AND anchor_failed_at IS NULL`,
	}

	for _, migration := range migrations {
		_, err := s.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	s.logger.Info("database migrations completed")
	return nil
}

// Truncate removes every record and resets the id sequence
func (s *ScoreStore) Truncate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE score_records RESTART IDENTITY`)
	if err != nil {
		return fmt.Errorf("truncating score records: %w", err)
	}
	return nil
}

// Insert stores a record and returns its id
func (s *ScoreStore) Insert(ctx context.Context, rec *domain.ScoreRecord) (int64, error) {
	query := `
		INSERT INTO score_records
			(game_id, score, player_address, display_name, duration_seconds, nonce, submitted_at, chain_tx_hash)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7, NULLIF($8, ''))
		RETURNING id
	`
	var id int64
	err := s.pool.QueryRow(ctx, query,
		rec.GameID,
		rec.Score,
		rec.PlayerAddress,
		rec.DisplayName,
		rec.DurationSeconds,
		rec.Nonce,
		rec.SubmittedAt,
		rec.ChainTxHash,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, domain.ErrNonceExists
		}
		return 0, fmt.Errorf("inserting score record: %w", err)
	}
	rec.ID = id
	return id, nil
}

func scanRecord(row pgx.Row) (domain.ScoreRecord, error) {
	var rec domain.ScoreRecord
	err := row.Scan(
		&rec.ID,
		&rec.GameID,
		&rec.Score,
		&rec.PlayerAddress,
		&rec.DisplayName,
		&rec.DurationSeconds,
		&rec.Nonce,
		&rec.SubmittedAt,
		&rec.ChainTxHash,
	)
	rec.SubmittedAt = rec.SubmittedAt.UTC()
	return rec, err
}

func (s *ScoreStore) queryRecords(ctx context.Context, query string, args ...any) ([]domain.ScoreRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []domain.ScoreRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning score record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// QueryTopN returns the best n records of a game
func (s *ScoreStore) QueryTopN(ctx context.Context, gameID int, n int) ([]domain.ScoreRecord, error) {
	if n <= 0 {
		return []domain.ScoreRecord{}, nil
	}
	query := `
		SELECT ` + recordColumns + `
		FROM score_records
		WHERE game_id = $1
		ORDER BY score DESC, submitted_at ASC, id ASC
		LIMIT $2
	`
	records, err := s.queryRecords(ctx, query, gameID, n)
	if err != nil {
		return nil, fmt.Errorf("getting top n: %w", err)
	}
	return records, nil
}

// QueryRecentDuplicate looks for a player's record on the game inside the window
func (s *ScoreStore) QueryRecentDuplicate(ctx context.Context, q store.DuplicateQuery) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM score_records
			WHERE game_id = $1 AND player_address = $2 AND submitted_at >= $3
				AND (NOT $4 OR score = $5)
		)
	`
	var exists bool
	err := s.pool.QueryRow(ctx, query, q.GameID, q.PlayerAddress, q.Since, q.MatchScore, q.Score).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("querying recent submissions: %w", err)
	}
	return exists, nil
}

// AggregateGlobal returns the top players by summed score
func (s *ScoreStore) AggregateGlobal(ctx context.Context, limit int) ([]domain.PlayerTotal, error) {
	if limit <= 0 {
		return []domain.PlayerTotal{}, nil
	}
	query := `
		SELECT
			r.player_address,
			COALESCE((
				SELECT n.display_name FROM score_records n
				WHERE n.player_address = r.player_address AND n.display_name IS NOT NULL
				ORDER BY n.id DESC
				LIMIT 1
			), '') AS display_name,
			SUM(r.score) AS total_score,
			COUNT(*) AS games_played,
			MAX(r.submitted_at) AS last_played_at
		FROM score_records r
		GROUP BY r.player_address
		ORDER BY total_score DESC, r.player_address ASC
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("aggregating global totals: %w", err)
	}
	defer rows.Close()

	totals := []domain.PlayerTotal{}
	for rows.Next() {
		var t domain.PlayerTotal
		if err := rows.Scan(&t.PlayerAddress, &t.DisplayName, &t.TotalScore, &t.GamesPlayed, &t.LastPlayedAt); err != nil {
			return nil, fmt.Errorf("scanning player total: %w", err)
		}
		t.LastPlayedAt = t.LastPlayedAt.UTC()
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// RankOf returns the record's 1-based position on its game board
func (s *ScoreStore) RankOf(ctx context.Context, rec domain.ScoreRecord) (int64, error) {
	query := `
		SELECT COUNT(*) + 1
		FROM score_records
		WHERE game_id = $1 AND id <> $4 AND (
			score > $2
			OR (score = $2 AND submitted_at < $3)
			OR (score = $2 AND submitted_at = $3 AND id < $4)
		)
	`
	var rank int64
	err := s.pool.QueryRow(ctx, query, rec.GameID, rec.Score, rec.SubmittedAt, rec.ID).Scan(&rank)
	if err != nil {
		return 0, fmt.Errorf("getting rank: %w", err)
	}
	return rank, nil
}

// BestForPlayer returns the player's top record on a game
func (s *ScoreStore) BestForPlayer(ctx context.Context, gameID int, playerAddress string) (*domain.ScoreRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM score_records
		WHERE game_id = $1 AND player_address = $2
		ORDER BY score DESC, submitted_at ASC, id ASC
		LIMIT 1
	`
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, gameID, playerAddress))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("getting player best: %w", err)
	}
	return &rec, nil
}

// HasNonce reports whether the player already used the nonce
func (s *ScoreStore) HasNonce(ctx context.Context, playerAddress, nonce string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM score_records WHERE player_address = $1 AND nonce = $2)`
	var exists bool
	if err := s.pool.QueryRow(ctx, query, playerAddress, nonce).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking nonce: %w", err)
	}
	return exists, nil
}

// SetChainTxHash attaches a ledger transaction hash to a stored record
func (s *ScoreStore) SetChainTxHash(ctx context.Context, id int64, txHash string) error {
	result, err := s.pool.Exec(ctx, `UPDATE score_records SET chain_tx_hash = $2 WHERE id = $1`, id, txHash)
	if err != nil {
		return fmt.Errorf("setting chain tx hash: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrRecordNotFound
	}
	return nil
}

// MarkAnchorFailed stores the unconfirmed transaction and takes the record out of the sweep
func (s *ScoreStore) MarkAnchorFailed(ctx context.Context, id int64, txHash string) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE score_records
		SET anchor_failed_tx = NULLIF($2, ''), anchor_failed_at = NOW()
		WHERE id = $1
	`, id, txHash)
	if err != nil {
		return fmt.Errorf("marking anchor failed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrRecordNotFound
	}
	return nil
}

// ListUnanchored returns the oldest records still lacking a chain hash
func (s *ScoreStore) ListUnanchored(ctx context.Context, limit int, olderThan time.Time) ([]domain.ScoreRecord, error) {
	if limit <= 0 {
		return []domain.ScoreRecord{}, nil
	}
	query := `
		SELECT ` + recordColumns + `
		FROM score_records
		WHERE chain_tx_hash IS NULL AND anchor_failed_at IS NULL AND submitted_at <= $1
		ORDER BY submitted_at ASC, id ASC
		LIMIT $2
	`
	records, err := s.queryRecords(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("listing unanchored records: %w", err)
	}
	return records, nil
}
