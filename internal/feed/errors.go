package feed

import "errors"

// Sentinel errors.
var (
	// ErrInvalidScript is returned when a script cannot be replayed.
	ErrInvalidScript = errors.New("invalid match script")
	// ErrUnhealthy is returned when the server fails its health check.
	ErrUnhealthy = errors.New("server is not healthy")
	// ErrRejected is returned when the server refuses an event for good.
	ErrRejected = errors.New("event rejected")
)
