package service

import "errors"

// Sentinel errors returned by the ingest operations.
var (
	ErrNotStarted   = errors.New("service not started")
	ErrBackpressure = errors.New("ingest queue full")
	ErrMatchID      = errors.New("match id mismatch")
)
