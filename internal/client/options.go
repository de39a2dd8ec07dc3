package client

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/matchcast/internal/client/state"
	"github.com/okian/matchcast/pkg/logger"
)

// Defaults for a Manager.
const (
	DefaultMaxReconnectAttempts = 3
	DefaultBackoffFloor         = time.Second
	DefaultBackoffCeiling       = 5 * time.Second
	DefaultCommandTimeout       = 10 * time.Second
	DefaultStreamBuffer         = 64

	writeWait = 10 * time.Second
)

// Option configures a Manager.
type Option func(*Manager)

// WithToken attaches "Authorization: Bearer <token>" when dialing.
func WithToken(token string) Option {
	return func(m *Manager) {
		m.token = token
	}
}

// WithMaxReconnectAttempts sets the attempt budget per connect cycle.
func WithMaxReconnectAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

// WithBackoff sets the delay floor and ceiling between attempts.
func WithBackoff(floor, ceiling time.Duration) Option {
	return func(m *Manager) {
		if floor > 0 {
			m.backoffFloor = floor
		}
		if ceiling >= m.backoffFloor {
			m.backoffCeiling = ceiling
		}
	}
}

// WithCommandTimeout bounds how long a command waits for its ack.
func WithCommandTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.commandTimeout = d
		}
	}
}

// WithStreamBuffer sets the per-listener buffer of every stream.
func WithStreamBuffer(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.streamBuffer = n
		}
	}
}

// WithAutoReconnect enables or disables reconnecting after an involuntary
// disconnect. It is on by default.
func WithAutoReconnect(enabled bool) Option {
	return func(m *Manager) {
		m.autoReconnect = enabled
	}
}

// WithStore makes the manager apply inbound traffic to s and track
// StartMatch through it.
func WithStore(s *state.Store) Option {
	return func(m *Manager) {
		m.store = s
	}
}

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(m *Manager) {
		if d != nil {
			m.dialer = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}
