package client

import (
	"errors"
	"fmt"
)

// Error kinds. Check them with errors.Is.
var (
	// ErrNotConnected is returned by commands issued without a live channel.
	// The server is never contacted.
	ErrNotConnected = errors.New("not connected to match server")
	// ErrRejected wraps an acknowledgement that reported failure.
	ErrRejected = errors.New("rejected by match server")
	// ErrChannel covers malformed or unexpected traffic and lost sends.
	ErrChannel = errors.New("channel error")
	// ErrConnectionFailed covers dial failures and dropped channels.
	ErrConnectionFailed = errors.New("connection failed")
)

// ConnectionError describes a dropped channel or, when Fatal, an exhausted
// reconnect budget. A fatal error stays terminal until Connect is called
// again.
type ConnectionError struct {
	Attempts int
	Fatal    bool
	Cause    error
}

func (e *ConnectionError) Error() string {
	if e.Fatal {
		return fmt.Sprintf("failed to connect to match server after %d attempts, please try again", e.Attempts)
	}
	if e.Cause == nil {
		return "disconnected from match server"
	}
	return "disconnected from match server: " + e.Cause.Error()
}

// Is makes errors.Is(err, ErrConnectionFailed) hold.
func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnectionFailed
}

func (e *ConnectionError) Unwrap() error {
	return e.Cause
}
