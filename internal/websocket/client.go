package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// boardParam names the query parameter carrying boards to join at connect time
const boardParam = "board"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Client is one leaderboard viewer connected over WebSocket
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger
}

// ClientMessage is a subscription command sent by a viewer
type ClientMessage struct {
	Type  string `json:"type"`
	Board string `json:"board,omitempty"`
}

// NewClient creates a client bound to hub. conn may be nil in tests that
// only inspect the send buffer.
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	id := uuid.New().String()
	return &Client{
		id:     id,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		logger: logger.With("client_id", id),
	}
}

// ServeWs upgrades the request and registers the viewer. Boards listed as
// ?board=global&board=game:3 are joined before any command is read.
func ServeWs(hub *Hub, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	boards := r.URL.Query()[boardParam]
	for _, board := range boards {
		if !ValidBoard(board) {
			http.Error(w, "invalid board "+board, http.StatusBadRequest)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(hub, conn, logger)
	hub.Register(client)
	for _, board := range boards {
		client.join(board)
	}

	go client.writePump()
	go client.readPump()

	client.logger.Debug("new websocket connection", "boards", boards)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket read failed", "error", err)
			}
			return
		}
		c.dispatch(data)
	}
}

// dispatch decodes one command frame and answers it on the send buffer
func (c *Client) dispatch(data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("invalid message format", "error", err)
		c.reply(Message{Type: MessageTypeError, Data: errorBody("invalid message format")})
		return
	}

	switch msg.Type {
	case MessageTypeSubscribe:
		c.join(msg.Board)
	case MessageTypeUnsubscribe:
		if msg.Board == "" {
			c.reply(Message{Type: MessageTypeError, Data: errorBody("board required for unsubscribe")})
			return
		}
		c.hub.Unsubscribe(c, msg.Board)
		c.reply(Message{Type: MessageTypeUnsubscribed, Board: msg.Board})
	case MessageTypePing:
		c.reply(Message{Type: MessageTypePong})
	default:
		c.logger.Debug("unknown message type", "type", msg.Type)
		c.reply(Message{Type: MessageTypeError, Data: errorBody("unknown message type")})
	}
}

func (c *Client) join(board string) {
	if board == "" {
		c.reply(Message{Type: MessageTypeError, Data: errorBody("board required for subscribe")})
		return
	}
	if err := c.hub.Subscribe(c, board); err != nil {
		c.reply(Message{Type: MessageTypeError, Board: board, Data: errorBody(err.Error())})
		return
	}
	c.reply(Message{Type: MessageTypeSubscribed, Board: board})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// One frame per message so viewers can decode each as JSON
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reply queues msg for this client only, dropping it when the buffer is full
func (c *Client) reply(msg Message) {
	msg.Timestamp = time.Now()
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("send buffer full, reply dropped", "type", msg.Type)
	}
}

func errorBody(text string) map[string]string {
	return map[string]string{"error": text}
}
