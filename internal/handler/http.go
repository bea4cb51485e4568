package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/arcade-scores/internal/domain"
	"github.com/arcade-scores/internal/service"
	"github.com/arcade-scores/internal/websocket"
)

// maxBodyBytes bounds a score submission body
const maxBodyBytes = 64 << 10

// Error codes that are not submission rejections
const (
	codeGameNotFound   = "game_not_found"
	codePlayerNotFound = "player_not_found"
	codeInternal       = "internal_error"
	codeNotReady       = "not_ready"
)

// Handler provides HTTP handlers for the score API
type Handler struct {
	service *service.ScoreService
	hub     *websocket.Hub
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(service *service.ScoreService, hub *websocket.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		hub:     hub,
		logger:  logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// SubmitResponse is the body returned by POST /api/v1/scores
type SubmitResponse struct {
	Success     bool   `json:"success"`
	Rank        int64  `json:"rank,omitempty"`
	ChainTxHash string `json:"chainTxHash,omitempty"`
	Error       string `json:"error,omitempty"`
}

type gameBoardResponse struct {
	Success bool `json:"success"`
	*domain.GameLeaderboard
}

type globalBoardResponse struct {
	Success bool `json:"success"`
	*domain.GlobalLeaderboard
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/scores", h.SubmitScore)
		r.Get("/games", h.ListGames)

		r.Route("/leaderboards/{board}", func(r chi.Router) {
			r.Get("/", h.GetLeaderboard)
			r.Get("/players/{address}", h.GetPlayerStanding)
		})

		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to write response", "error", err)
	}
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, code string) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   code,
	})
}

// errorStatus maps a service error onto an HTTP status and a client-facing code
func errorStatus(err error) (int, string) {
	if reason, ok := domain.RejectionReason(err); ok {
		if reason == domain.ReasonChainAnchorFailed {
			return http.StatusBadGateway, string(reason)
		}
		return http.StatusBadRequest, string(reason)
	}
	switch {
	case errors.Is(err, domain.ErrGameNotFound):
		return http.StatusNotFound, codeGameNotFound
	case errors.Is(err, domain.ErrPlayerNotFound):
		return http.StatusNotFound, codePlayerNotFound
	}
	return http.StatusInternalServerError, codeInternal
}

// writeServiceError logs server faults and writes the mapped error response
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
	}
	h.writeError(w, status, code)
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.hub.Stats())
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck reports whether the score store is reachable
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ready(r.Context()); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		h.writeError(w, http.StatusServiceUnavailable, codeNotReady)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// SubmitScore handles score submission requests
func (h *Handler) SubmitScore(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, SubmitResponse{Error: string(domain.ReasonInvalidRequest)})
		return
	}

	submission, err := domain.ParseSubmission(body)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, SubmitResponse{Error: string(domain.ReasonInvalidRequest)})
		return
	}

	result, err := h.service.SubmitScore(r.Context(), submission)
	if err != nil {
		status, code := errorStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("failed to submit score",
				"request_id", middleware.GetReqID(r.Context()),
				"error", err,
			)
		}
		h.writeJSON(w, status, SubmitResponse{Error: code})
		return
	}

	h.writeJSON(w, http.StatusOK, SubmitResponse{
		Success:     true,
		Rank:        result.Rank,
		ChainTxHash: result.ChainTxHash,
	})
}

// GetLeaderboard returns a game board or the global board
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	board := chi.URLParam(r, "board")

	limit, err := h.service.ParseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	result, err := h.service.GetLeaderboard(r.Context(), board, limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	switch lb := result.(type) {
	case *domain.GameLeaderboard:
		h.writeJSON(w, http.StatusOK, gameBoardResponse{Success: true, GameLeaderboard: lb})
	case *domain.GlobalLeaderboard:
		h.writeJSON(w, http.StatusOK, globalBoardResponse{Success: true, GlobalLeaderboard: lb})
	default:
		h.writeSuccess(w, result)
	}
}

// GetPlayerStanding returns a player's best entry and rank on a game board
func (h *Handler) GetPlayerStanding(w http.ResponseWriter, r *http.Request) {
	board := chi.URLParam(r, "board")
	address := chi.URLParam(r, "address")

	entry, err := h.service.GetPlayerStanding(r.Context(), board, address)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeSuccess(w, entry)
}

// ListGames returns the game rule table
func (h *Handler) ListGames(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.service.Games())
}
