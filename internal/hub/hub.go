// Package hub fans real-time messages out to connected subscribers.
package hub

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	TypeTagScanned = "tag_scanned"
	TypeTheftAlert = "theft_alert"
	TypeWelcome    = "welcome"
	TypePong       = "pong"
	TypeSubscribed = "subscribed"
	TypeError      = "error"
)

// Message is the JSON envelope sent to subscribers.
type Message struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp any    `json:"timestamp,omitempty"`
}

func NewMessage(typ string, data any) Message {
	return Message{Type: typ, Data: data, Timestamp: time.Now().UTC().Format(time.RFC3339Nano)}
}

func ErrorMessage(text string) Message {
	return Message{Type: TypeError, Message: text}
}

type Subscriber interface {
	ID() string
	Send(ctx context.Context, msg Message) error
}

type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]Subscriber

	totalSent   atomic.Int64
	totalPruned atomic.Int64
}

func New() *Hub {
	return &Hub{subscribers: make(map[string]Subscriber)}
}

func (h *Hub) Connect(s Subscriber) {
	h.mu.Lock()
	h.subscribers[s.ID()] = s
	n := len(h.subscribers)
	h.mu.Unlock()
	slog.Info("subscriber connected", "subscriber_id", s.ID(), "subscribers", n)
}

// Disconnect removes s. Removing an unknown subscriber is a no-op.
func (h *Hub) Disconnect(s Subscriber) {
	h.mu.Lock()
	_, ok := h.subscribers[s.ID()]
	delete(h.subscribers, s.ID())
	n := len(h.subscribers)
	h.mu.Unlock()

	if !ok {
		return
	}
	if c, ok := s.(io.Closer); ok {
		_ = c.Close()
	}
	slog.Info("subscriber disconnected", "subscriber_id", s.ID(), "subscribers", n)
}

// Broadcast delivers msg to every subscriber and drops the ones whose send
// fails. It returns the number of successful deliveries.
func (h *Hub) Broadcast(ctx context.Context, msg Message) int {
	h.mu.RLock()
	subs := make([]Subscriber, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range subs {
		if err := s.Send(ctx, msg); err != nil {
			slog.Warn("subscriber send failed, dropping",
				"subscriber_id", s.ID(),
				"type", msg.Type,
				"error", err.Error(),
			)
			h.totalPruned.Add(1)
			h.Disconnect(s)
			continue
		}
		delivered++
	}
	h.totalSent.Add(int64(delivered))
	return delivered
}

// SendPersonal delivers msg to s only; on failure s is disconnected.
func (h *Hub) SendPersonal(ctx context.Context, msg Message, s Subscriber) error {
	if err := s.Send(ctx, msg); err != nil {
		h.totalPruned.Add(1)
		h.Disconnect(s)
		return err
	}
	h.totalSent.Add(1)
	return nil
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

func (h *Hub) Has(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.subscribers[id]
	return ok
}

type Stats struct {
	Subscribers int   `json:"subscribers"`
	TotalSent   int64 `json:"totalSent"`
	TotalPruned int64 `json:"totalPruned"`
}

func (h *Hub) Stats() Stats {
	return Stats{
		Subscribers: h.Len(),
		TotalSent:   h.totalSent.Load(),
		TotalPruned: h.totalPruned.Load(),
	}
}
