package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/matchcast/internal/domain/model"
	"github.com/okian/matchcast/internal/protocol"
	"github.com/okian/matchcast/internal/registry"
	"github.com/okian/matchcast/pkg/logger"
	"github.com/okian/matchcast/pkg/metrics"
)

// Conn is one viewer channel.
type Conn struct {
	id   string
	hub  *Hub
	conn *websocket.Conn

	mu     sync.RWMutex
	send   chan protocol.Envelope
	closed bool

	logger logger.Logger
}

func newConn(id string, h *Hub, c *websocket.Conn) *Conn {
	return &Conn{
		id:     id,
		hub:    h,
		conn:   c,
		send:   make(chan protocol.Envelope, h.sendBuffer),
		logger: h.logger.With(logger.String("conn_id", id)),
	}
}

// ID returns the connection id.
func (c *Conn) ID() string {
	return c.id
}

// Send enqueues env without blocking. It reports false when the connection
// is closed or its buffer is full; the message is then lost for this
// connection only.
func (c *Conn) Send(env protocol.Envelope) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}

func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// readPump reads commands until the peer goes away, then unregisters.
func (c *Conn) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	pongWait := c.hub.pongWait()
	c.conn.SetReadLimit(c.hub.maxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn(c.hub.ctx, "websocket read error", logger.Error(err))
			}
			return
		}
		c.handle(c.hub.ctx, data)
	}
}

// writePump owns every write to the socket.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.hub.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			data, err := json.Marshal(env)
			if err != nil {
				c.logger.Error(c.hub.ctx, "failed to marshal envelope", logger.Error(err))
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Conn) handle(ctx context.Context, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		metrics.RecordErrorByComponent("hub", "malformed")
		c.sendError("", err)
		return
	}

	switch env.Type {
	case protocol.TypeSubscribe, protocol.TypeUnsubscribe:
		c.handleSubscription(ctx, env)
	case protocol.TypeStartMatch:
		c.handleStartMatch(ctx, env)
	default:
		metrics.RecordErrorByComponent("hub", "unknown_type")
		c.sendError(env.ID, fmt.Errorf("%w: %s", protocol.ErrUnknownType, env.Type))
	}
}

func (c *Conn) handleSubscription(ctx context.Context, env protocol.Envelope) {
	var ref protocol.MatchRef
	if err := env.DecodePayload(&ref); err != nil {
		c.ack(env, false, err.Error())
		return
	}
	if ref.MatchID == "" {
		c.ack(env, false, "matchId is required")
		return
	}

	var res registry.Ack
	if env.Type == protocol.TypeSubscribe {
		res = c.hub.registry.Subscribe(c.id, ref.MatchID)
	} else {
		res = c.hub.registry.Unsubscribe(c.id, ref.MatchID)
	}
	if res.Changed {
		c.hub.updateSubscriptionMetrics()
	}
	c.logger.Debug(ctx, string(env.Type),
		logger.String("match_id", ref.MatchID),
		logger.Bool("changed", res.Changed),
	)
	c.ack(env, res.Success, res.Message)
}

func (c *Conn) handleStartMatch(ctx context.Context, env protocol.Envelope) {
	var req model.StartMatchRequest
	if err := env.DecodePayload(&req); err != nil {
		c.ack(env, false, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		var verr *model.ValidationError
		if errors.As(err, &verr) && len(verr.FieldErrors) > 0 {
			c.ack(env, false, model.FormatFieldErrors(verr.FieldErrors))
		} else {
			c.ack(env, false, err.Error())
		}
		c.sendError(env.ID, err)
		return
	}

	if err := c.hub.starter.StartMatch(ctx, req); err != nil {
		c.logger.Warn(ctx, "start match failed",
			logger.String("match_id", req.MatchID),
			logger.Error(err),
		)
		c.ack(env, false, err.Error())
		return
	}
	c.logger.Info(ctx, "match start requested", logger.String("match_id", req.MatchID))
	c.ack(env, true, "match "+req.MatchID+" started")
}

func (c *Conn) ack(env protocol.Envelope, success bool, message string) {
	metrics.RecordCommandAck(string(env.Type), success)
	c.Send(protocol.MustEncode(protocol.TypeAck, env.ID, protocol.Ack{Success: success, Message: message}))
}

func (c *Conn) sendError(id string, err error) {
	c.Send(protocol.MustEncode(protocol.TypeError, id, protocol.ErrorPayload(err)))
}
