package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/arcade-scores/internal/chain"
	"github.com/arcade-scores/internal/config"
	"github.com/arcade-scores/internal/dedup"
	"github.com/arcade-scores/internal/domain"
	"github.com/arcade-scores/internal/games"
	"github.com/arcade-scores/internal/leaderboard"
	"github.com/arcade-scores/internal/service"
	"github.com/arcade-scores/internal/store"
	"github.com/arcade-scores/internal/validator"
	"github.com/arcade-scores/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	playerA = "0xabc0000000000000000000000000000000000123"
	playerB = "0xdef0000000000000000000000000000000000456"
)

// brokenStore fails every write and ping
type brokenStore struct {
	*store.Memory
}

func (brokenStore) Insert(ctx context.Context, rec *domain.ScoreRecord) (int64, error) {
	return 0, errors.New("connection reset by peer")
}

func (brokenStore) Ping(ctx context.Context) error {
	return errors.New("connection refused")
}

type failingAnchor struct{}

func (failingAnchor) Enabled() bool { return true }

func (failingAnchor) Anchor(ctx context.Context, playerAddress string, score, transactionCount int64) chain.Result {
	return chain.Result{Error: "execution reverted"}
}

type testServer struct {
	handler http.Handler
	now     time.Time
}

func newTestServer(t *testing.T, s store.ScoreStore, mutate func(*config.Config, *service.Dependencies)) *testServer {
	t.Helper()
	cfg := config.DefaultConfig()
	table := games.Default()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ts := &testServer{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return ts.now }

	deps := service.Dependencies{
		Store:     s,
		Games:     table,
		Validator: validator.New(table),
		Guard:     dedup.NewGuard(s, &cfg.Dedup, dedup.WithClock(clock)),
		Engine:    leaderboard.NewEngine(s, table, &cfg.Leaderboard),
		Anchor:    chain.Disabled(),
	}
	if mutate != nil {
		mutate(cfg, &deps)
	}

	hub := websocket.NewHub(logger)
	svc := service.NewScoreService(deps, &cfg.Chain, logger, service.WithClock(clock))
	ts.handler = NewHandler(svc, hub, logger).Router()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), rec.Body.String())
	return rec, decoded
}

func (ts *testServer) submit(t *testing.T, body string) (int, map[string]interface{}) {
	t.Helper()
	rec, decoded := ts.do(t, http.MethodPost, "/api/v1/scores", body)
	return rec.Code, decoded
}

func submission(gameID, score, duration int, player string) string {
	b, _ := json.Marshal(map[string]interface{}{
		"gameId":          gameID,
		"score":           score,
		"durationSeconds": duration,
		"playerAddress":   player,
	})
	return string(b)
}

func TestSubmitScoreEndToEnd(t *testing.T) {
	ts := newTestServer(t, store.NewMemory(), nil)

	code, body := ts.submit(t, submission(1, 500, 15, playerA))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(1), body["rank"])
	assert.NotContains(t, body, "chainTxHash")
	assert.NotContains(t, body, "error")

	ts.now = ts.now.Add(time.Second)
	code, body = ts.submit(t, submission(1, 600, 15, playerB))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["rank"])

	rec, board := ts.do(t, http.MethodGet, "/api/v1/leaderboards/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, board["success"])
	assert.Equal(t, float64(1), board["gameId"])
	entries := board["entries"].([]interface{})
	require.Len(t, entries, 2)
	second := entries[1].(map[string]interface{})
	assert.Equal(t, playerA, second["playerAddress"])
	assert.Equal(t, float64(2), second["rank"])
	assert.Equal(t, "0xabc0...0123", second["displayName"])

	rec, standing := ts.do(t, http.MethodGet, "/api/v1/leaderboards/1/players/"+playerA, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), standing["data"].(map[string]interface{})["rank"])
}

func TestSubmitScoreRejections(t *testing.T) {
	testCases := []struct {
		name   string
		body   string
		status int
		reason string
	}{
		{name: "unknown game", body: submission(42, 10, 60, playerA), status: http.StatusBadRequest, reason: "invalid_game_type"},
		{name: "bad address", body: submission(1, 10, 60, "0xnothex"), status: http.StatusBadRequest, reason: "invalid_player_address"},
		{name: "over max", body: submission(1, 10001, 60, playerA), status: http.StatusBadRequest, reason: "score_out_of_bounds"},
		{name: "zero score", body: submission(1, 0, 60, playerA), status: http.StatusBadRequest, reason: "score_out_of_bounds"},
		{name: "too fast", body: submission(1, 100, 9, playerA), status: http.StatusBadRequest, reason: "duration_too_short"},
		{name: "missing score", body: `{"gameId":1,"durationSeconds":60,"playerAddress":"` + playerA + `"}`, status: http.StatusBadRequest, reason: "missing_field"},
		{name: "score as string", body: `{"gameId":1,"score":"500","durationSeconds":60,"playerAddress":"` + playerA + `"}`, status: http.StatusBadRequest, reason: "missing_field"},
		{name: "malformed json", body: `{"gameId":`, status: http.StatusBadRequest, reason: "invalid_request"},
		{name: "not an object", body: `[1,2,3]`, status: http.StatusBadRequest, reason: "invalid_request"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := store.NewMemory()
			ts := newTestServer(t, s, nil)

			code, body := ts.submit(t, tc.body)
			assert.Equal(t, tc.status, code)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tc.reason, body["error"])
			assert.Equal(t, 0, s.Count())
		})
	}
}

func TestSubmitScoreBoundaries(t *testing.T) {
	ts := newTestServer(t, store.NewMemory(), nil)

	code, _ := ts.submit(t, submission(1, 10000, 10, playerA))
	assert.Equal(t, http.StatusOK, code)

	code, _ = ts.submit(t, submission(1, 9999, 10, playerB))
	assert.Equal(t, http.StatusOK, code)
}

func TestSubmitScoreDuplicate(t *testing.T) {
	s := store.NewMemory()
	ts := newTestServer(t, s, nil)
	body := submission(1, 500, 15, playerA)

	code, _ := ts.submit(t, body)
	require.Equal(t, http.StatusOK, code)

	ts.now = ts.now.Add(10 * time.Second)
	code, resp := ts.submit(t, body)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "duplicate_submission", resp["error"])
	assert.Equal(t, 1, s.Count())

	ts.now = ts.now.Add(time.Minute)
	code, _ = ts.submit(t, body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, s.Count())
}

func TestSubmitScoreStoreFailure(t *testing.T) {
	ts := newTestServer(t, brokenStore{store.NewMemory()}, nil)

	code, body := ts.submit(t, submission(1, 500, 15, playerA))
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "internal_error", body["error"])
}

func TestSubmitScoreMandatoryAnchorFailure(t *testing.T) {
	s := store.NewMemory()
	ts := newTestServer(t, s, func(cfg *config.Config, deps *service.Dependencies) {
		cfg.Chain.Policy = config.PolicyMandatory
		deps.Anchor = failingAnchor{}
	})

	code, body := ts.submit(t, submission(1, 500, 15, playerA))
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, "chain_anchor_failed", body["error"])
	assert.Equal(t, 0, s.Count())
}

func TestGetLeaderboard(t *testing.T) {
	ts := newTestServer(t, store.NewMemory(), nil)
	for i, sub := range []string{
		submission(1, 50, 15, playerA),
		submission(2, 30, 60, playerA),
		submission(1, 70, 15, playerB),
	} {
		ts.now = ts.now.Add(time.Duration(i) * time.Second)
		code, _ := ts.submit(t, sub)
		require.Equal(t, http.StatusOK, code)
	}

	t.Run("global sums across games", func(t *testing.T) {
		rec, body := ts.do(t, http.MethodGet, "/api/v1/leaderboards/global", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "global", body["gameId"])
		entries := body["entries"].([]interface{})
		require.Len(t, entries, 2)
		top := entries[0].(map[string]interface{})
		assert.Equal(t, playerA, top["playerAddress"])
		assert.Equal(t, float64(80), top["totalScore"])
		assert.Equal(t, float64(2), top["gamesPlayed"])
		assert.Contains(t, top, "submittedAt")
	})

	t.Run("limit", func(t *testing.T) {
		rec, body := ts.do(t, http.MethodGet, "/api/v1/leaderboards/1?limit=1", "")
		require.Equal(t, http.StatusOK, rec.Code)
		entries := body["entries"].([]interface{})
		require.Len(t, entries, 1)
		assert.Equal(t, float64(70), entries[0].(map[string]interface{})["score"])
	})

	testCases := []struct {
		name   string
		path   string
		status int
		code   string
	}{
		{name: "bad limit", path: "/api/v1/leaderboards/1?limit=abc", status: http.StatusBadRequest, code: "invalid_request"},
		{name: "zero limit", path: "/api/v1/leaderboards/1?limit=0", status: http.StatusBadRequest, code: "invalid_request"},
		{name: "bad selector", path: "/api/v1/leaderboards/snake", status: http.StatusBadRequest, code: "invalid_request"},
		{name: "unknown game", path: "/api/v1/leaderboards/99", status: http.StatusNotFound, code: "game_not_found"},
		{name: "unknown player", path: "/api/v1/leaderboards/1/players/0x00000000000000000000000000000000000000ff", status: http.StatusNotFound, code: "player_not_found"},
		{name: "bad player", path: "/api/v1/leaderboards/1/players/bob", status: http.StatusBadRequest, code: "invalid_player_address"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec, body := ts.do(t, http.MethodGet, tc.path, "")
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tc.code, body["error"])
		})
	}
}

func TestListGames(t *testing.T) {
	ts := newTestServer(t, store.NewMemory(), nil)
	rec, body := ts.do(t, http.MethodGet, "/api/v1/games", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := body["data"].([]interface{})
	require.Len(t, list, 12)
	first := list[0].(map[string]interface{})
	assert.Equal(t, "Snake", first["name"])
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t, store.NewMemory(), nil)
	rec, _ := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = ts.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	broken := newTestServer(t, brokenStore{store.NewMemory()}, nil)
	rec, body := broken.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not_ready", body["error"])
}

func TestWebSocketStats(t *testing.T) {
	ts := newTestServer(t, store.NewMemory(), nil)
	rec, body := ts.do(t, http.MethodGet, "/api/v1/ws/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(0), data["total_connections"])
}
