package ws

import (
	"time"

	"github.com/okian/matchcast/internal/simulation"
	"github.com/okian/matchcast/pkg/logger"
)

// Option applies a configuration option to the Hub.
type Option func(*Hub)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithStarter sets the simulator boundary used by start_match.
func WithStarter(s simulation.Starter) Option {
	return func(h *Hub) {
		if s != nil {
			h.starter = s
		}
	}
}

// WithSendBuffer sets the per-connection outbound buffer size.
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithMaxMessageBytes limits inbound frame size.
func WithMaxMessageBytes(n int64) Option {
	return func(h *Hub) {
		if n > 0 {
			h.maxMessageBytes = n
		}
	}
}

// WithPingInterval sets the keepalive period. The pong deadline is derived
// from it.
func WithPingInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.pingPeriod = d
		}
	}
}

// WithAuthToken requires "Authorization: Bearer <token>" on upgrade.
func WithAuthToken(token string) Option {
	return func(h *Hub) {
		h.authToken = token
	}
}

// WithAllowedOrigins restricts the Origin header accepted on upgrade. An
// empty list accepts every origin.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Hub) {
		h.allowedOrigins = origins
	}
}
