package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arcade-scores/internal/domain"
)

// Message types
const (
	MessageTypeScoreAccepted     = "score_accepted"
	MessageTypeLeaderboardUpdate = "leaderboard_update"
	MessageTypeSubscribe         = "subscribe"
	MessageTypeUnsubscribe       = "unsubscribe"
	MessageTypeSubscribed        = "subscribed"
	MessageTypeUnsubscribed      = "unsubscribed"
	MessageTypePing              = "ping"
	MessageTypePong              = "pong"
	MessageTypeError             = "error"
)

// gameBoardPrefix prefixes per-game board subscriptions, e.g. "game:3"
const gameBoardPrefix = "game:"

// ValidBoard reports whether board names a subscribable leaderboard
func ValidBoard(board string) bool {
	if board == domain.GlobalBoard {
		return true
	}
	id, ok := strings.CutPrefix(board, gameBoardPrefix)
	if !ok {
		return false
	}
	n, err := strconv.Atoi(id)
	return err == nil && n > 0
}

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	Board     string      `json:"board,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ScoreEvent announces an accepted score
type ScoreEvent struct {
	GameID        int       `json:"gameId"`
	PlayerAddress string    `json:"playerAddress"`
	DisplayName   string    `json:"displayName,omitempty"`
	Score         int64     `json:"score"`
	Rank          int64     `json:"rank,omitempty"`
	SubmittedAt   time.Time `json:"submittedAt"`
	ChainTxHash   string    `json:"chainTxHash,omitempty"`
}

// Hub maintains the set of active clients and broadcasts messages
type Hub struct {
	// Registered clients by board
	clients map[string]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	broadcast   chan *Message
	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest

	mu     sync.RWMutex
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client *Client
	board  string
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[string]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("websocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("websocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				for board, clients := range h.clients {
					if _, ok := clients[client]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.clients, board)
						}
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.allClients[req.client]; ok {
				if _, ok := h.clients[req.board]; !ok {
					h.clients[req.board] = make(map[*Client]bool)
				}
				h.clients[req.board][req.client] = true
			}
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "board", req.board)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.clients[req.board]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.clients, req.board)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "board", req.board)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// broadcastMessage sends a message to the board's subscribers, or to every
// client when the message has no board
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	targets := h.allClients
	if message.Board != "" {
		targets = h.clients[message.Board]
	}
	for client := range targets {
		select {
		case client.send <- data:
		default:
			// Client's buffer is full, skip
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

func (h *Hub) enqueue(message *Message) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "type", message.Type, "board", message.Board)
	}
}

// BroadcastScore announces an accepted score on its game board and the global board
func (h *Hub) BroadcastScore(rec domain.ScoreRecord, rank int64) {
	event := ScoreEvent{
		GameID:        rec.GameID,
		PlayerAddress: rec.PlayerAddress,
		DisplayName:   rec.DisplayName,
		Score:         rec.Score,
		Rank:          rank,
		SubmittedAt:   rec.SubmittedAt,
		ChainTxHash:   rec.ChainTxHash,
	}
	now := time.Now()
	for _, board := range []string{domain.GameBoard(rec.GameID), domain.GlobalBoard} {
		h.enqueue(&Message{
			Type:      MessageTypeScoreAccepted,
			Board:     board,
			Data:      event,
			Timestamp: now,
		})
	}
}

// BroadcastLeaderboard sends a fresh leaderboard snapshot to a board's subscribers
func (h *Hub) BroadcastLeaderboard(board string, snapshot interface{}) {
	h.enqueue(&Message{
		Type:      MessageTypeLeaderboardUpdate,
		Board:     board,
		Data:      snapshot,
		Timestamp: time.Now(),
	})
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Subscribe adds a client to a board subscription
func (h *Hub) Subscribe(client *Client, board string) error {
	if !ValidBoard(board) {
		return fmt.Errorf("unknown board %q", board)
	}
	h.subscribe <- &subscriptionRequest{client: client, board: board}
	return nil
}

// Unsubscribe removes a client from a board subscription
func (h *Hub) Unsubscribe(client *Client, board string) {
	h.unsubscribe <- &subscriptionRequest{client: client, board: board}
}

// SubscriberCount returns the number of subscribers for a board
func (h *Hub) SubscriberCount(board string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[board])
}

// TotalConnections returns the total number of connected clients
func (h *Hub) TotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}

// Stats returns connection counts per board
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	boards := make(map[string]int, len(h.clients))
	for board, clients := range h.clients {
		boards[board] = len(clients)
	}
	return map[string]interface{}{
		"total_connections": len(h.allClients),
		"boards":            boards,
	}
}
