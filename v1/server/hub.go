package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/mirkobrombin/go-ipcbridge/v1/metrics"
	"github.com/mirkobrombin/go-ipcbridge/v1/transport"
)

var errSendBufferFull = errors.New("send buffer full")

// Hub is the set of connected push clients. It holds no per-client state
// besides the connection itself.
type Hub struct {
	mu      sync.RWMutex
	clients map[*conn]struct{}
	closed  bool
	log     *slog.Logger
}

// NewHub returns an empty Hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{clients: make(map[*conn]struct{}), log: log}
}

// add registers c. Once the hub is closed, c is closed instead and add
// reports false.
func (h *Hub) add(c *conn) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		c.close()
		return false
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.ClientGauge.Set(float64(n))
	c.log.Info("client connected", "clients", n)
	return true
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		metrics.ClientGauge.Set(float64(n))
		c.log.Info("client disconnected", "clients", n)
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Send implements registry.Sender by broadcasting to every client.
func (h *Hub) Send(ctx context.Context, channel string, args ...any) error {
	return h.Broadcast(ctx, channel, args...)
}

// Broadcast pushes {channel, args} to every connected client.
func (h *Hub) Broadcast(ctx context.Context, channel string, args ...any) error {
	env, err := transport.NewEnvelope(channel, args...)
	if err != nil {
		return err
	}
	return h.Publish(ctx, env)
}

// Publish pushes an already encoded envelope. Delivery is best effort: a
// client that is gone or too slow misses the envelope, the others still get
// it. With no clients connected the envelope is dropped without error.
func (h *Hub) Publish(ctx context.Context, env transport.Envelope) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if env.Args == nil {
		env.Args = []json.RawMessage{}
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	h.mu.RLock()
	clients := make([]*conn, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	metrics.PushCounter.Inc()
	if len(clients) == 0 {
		h.log.Debug("broadcast with no clients", "channel", env.Channel)
		return nil
	}
	for _, c := range clients {
		if err := c.enqueue(data); err != nil {
			metrics.PushDroppedCounter.Inc()
			c.log.Warn("push dropped", "channel", env.Channel, "err", err)
		}
	}
	return nil
}

// closeAll disconnects every client and refuses later ones.
func (h *Hub) closeAll() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*conn, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}
