// Package realtime fans sync-cycle summaries out to connected clients.
package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/opsboard/flowmirror/internal/logger"
)

// Conn is one subscriber's transport. The hub only writes; reading to
// detect disconnect is the endpoint's job.
type Conn interface {
	Write(ctx context.Context, payload []byte) error
	Close() error
}

// Hub owns the live subscriber set. Membership is self-healing: a
// subscriber whose delivery fails is dropped during the same broadcast.
// No acknowledgment, no retry, no replay for late joiners.
type Hub struct {
	mu          sync.Mutex
	subscribers map[Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{subscribers: make(map[Conn]struct{})}
}

func (h *Hub) Subscribe(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[conn] = struct{}{}
}

func (h *Hub) Unsubscribe(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscribers, conn)
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Broadcast delivers event to every current subscriber, pruning any whose
// send fails. Delivery order across subscribers is unspecified.
func (h *Hub) Broadcast(ctx context.Context, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		logger.Error("broadcast marshal failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	conns := make([]Conn, 0, len(h.subscribers))
	for conn := range h.subscribers {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	var dead []Conn
	for _, conn := range conns {
		if err := conn.Write(ctx, payload); err != nil {
			dead = append(dead, conn)
		}
	}
	if len(dead) == 0 {
		return
	}
	h.mu.Lock()
	for _, conn := range dead {
		delete(h.subscribers, conn)
	}
	h.mu.Unlock()
	for _, conn := range dead {
		_ = conn.Close()
	}
	logger.Info("pruned dead subscribers", zap.Int("count", len(dead)))
}
