// Package ws serves the viewer channel over websockets.
package ws

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/okian/matchcast/internal/dispatcher"
	"github.com/okian/matchcast/internal/registry"
	"github.com/okian/matchcast/internal/simulation"
	"github.com/okian/matchcast/pkg/logger"
	"github.com/okian/matchcast/pkg/metrics"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	defaultPingPeriod      = 54 * time.Second
	defaultSendBuffer      = 256
	defaultMaxMessageBytes = 64 * 1024
)

// Hub owns the live connections and routes their commands to the registry
// and the simulator.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Conn

	registry *registry.Registry
	starter  simulation.Starter
	upgrader websocket.Upgrader

	sendBuffer      int
	maxMessageBytes int64
	pingPeriod      time.Duration
	authToken       string
	allowedOrigins  []string

	ctx    context.Context
	cancel context.CancelFunc
	logger logger.Logger
}

// NewHub creates a hub bound to reg.
func NewHub(reg *registry.Registry, opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		conns:           make(map[string]*Conn),
		registry:        reg,
		sendBuffer:      defaultSendBuffer,
		maxMessageBytes: defaultMaxMessageBytes,
		pingPeriod:      defaultPingPeriod,
		ctx:             ctx,
		cancel:          cancel,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = logger.Get().Named("hub")
	}
	if h.starter == nil {
		h.starter = simulation.NewNoopStarter(h.logger)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// pongWait is how long a connection may stay silent. It must exceed the
// ping period.
func (h *Hub) pongWait() time.Duration {
	return h.pingPeriod * 10 / 9
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (h *Hub) authorized(r *http.Request) bool {
	if h.authToken == "" {
		return true
	}
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.authToken)) == 1
}

// ServeHTTP upgrades the request and starts the connection pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		metrics.RecordErrorByComponent("hub", "unauthorized")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if h.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		metrics.RecordErrorByComponent("hub", "upgrade")
		h.logger.Warn(r.Context(), "websocket upgrade failed", logger.Error(err))
		return
	}

	c := newConn(uuid.NewString(), h, wsConn)
	if !h.register(c) {
		return
	}

	go c.writePump()
	go c.readPump()
}

// register adds c to the hub. A hub that is already closed turns c away
// with a going-away close frame and reports false.
func (h *Hub) register(c *Conn) bool {
	h.mu.Lock()
	if h.ctx.Err() != nil {
		h.mu.Unlock()
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = c.conn.Close()
		return false
	}
	h.conns[c.id] = c
	total := len(h.conns)
	h.mu.Unlock()

	metrics.RecordConnectionOpened()
	h.logger.Info(h.ctx, "viewer connected",
		logger.String("conn_id", c.id),
		logger.Int("total_connections", total),
	)
	return true
}

// unregister is the only cleanup trigger for a connection's subscriptions.
func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	_, ok := h.conns[c.id]
	delete(h.conns, c.id)
	total := len(h.conns)
	h.mu.Unlock()
	if !ok {
		return
	}

	removed := h.registry.OnDisconnect(c.id)
	c.close()
	h.updateSubscriptionMetrics()
	metrics.RecordConnectionClosed()
	h.logger.Info(h.ctx, "viewer disconnected",
		logger.String("conn_id", c.id),
		logger.Any("matches", removed),
		logger.Int("total_connections", total),
	)
}

func (h *Hub) updateSubscriptionMetrics() {
	st := h.registry.Stats()
	metrics.UpdateSubscriptions(st.Pairs, st.Rooms)
}

// Lookup returns the sender for connID.
func (h *Hub) Lookup(connID string) (dispatcher.Sender, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[connID]
	if !ok {
		return nil, false
	}
	return c, true
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close refuses new connections and closes the open ones with a close frame.
func (h *Hub) Close() {
	h.cancel()

	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.close()
	}
}
