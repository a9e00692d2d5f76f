// Package ws exposes the broadcast hub over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/BearBump/TagGuard/internal/hub"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const defaultWriteTimeout = 5 * time.Second

type Handler struct {
	hub          *hub.Hub
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
}

func New(h *hub.Hub) *Handler {
	return &Handler{
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		writeTimeout: defaultWriteTimeout,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err.Error(), "remote", r.RemoteAddr)
		return
	}

	c := &client{id: uuid.NewString(), conn: conn, writeTimeout: h.writeTimeout}
	h.hub.Connect(c)
	defer h.hub.Disconnect(c)

	ctx := r.Context()
	welcome := hub.NewMessage(hub.TypeWelcome, map[string]string{"client_id": c.id})
	welcome.Message = "Connected to TagGuard real-time feed"
	if err := h.hub.SendPersonal(ctx, welcome, c); err != nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("websocket read failed", "error", err.Error(), "subscriber_id", c.id)
			}
			return
		}
		if err := h.hub.SendPersonal(ctx, Reply(data), c); err != nil {
			return
		}
	}
}

type command struct {
	Command   string `json:"command"`
	Timestamp any    `json:"timestamp,omitempty"`
}

// Reply answers one client control message.
func Reply(data []byte) hub.Message {
	var cmd command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return hub.ErrorMessage("Invalid JSON format")
	}
	switch cmd.Command {
	case "ping":
		return hub.Message{Type: hub.TypePong, Timestamp: cmd.Timestamp}
	case "subscribe":
		return hub.Message{Type: hub.TypeSubscribed, Message: "Subscribed to tag events"}
	default:
		return hub.ErrorMessage("Unknown command: " + cmd.Command)
	}
}

// client is a hub subscriber backed by one WebSocket connection. Writes are
// serialized since gorilla connections allow a single concurrent writer.
type client struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu sync.Mutex
}

func (c *client) ID() string { return c.id }

func (c *client) Send(ctx context.Context, msg hub.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteJSON(msg)
}

func (c *client) Close() error { return c.conn.Close() }
