// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	service "github.com/okian/matchcast/internal/app"
	"github.com/okian/matchcast/internal/domain/model"
)

// maxEventBytes bounds one simulator request body.
const maxEventBytes = 64 * 1024

// EventDependencies defines the interface for event ingestion.
type EventDependencies interface {
	IngestEvent(ctx context.Context, matchID string, ev model.MatchEvent) (service.IngestResult, error)
	EndMatch(ctx context.Context, matchID string) error
}

// EventsHandler handles simulator ingress.
type EventsHandler struct {
	deps EventDependencies
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps EventDependencies) *EventsHandler {
	return &EventsHandler{deps: deps}
}

// HandlePostEvent handles POST /matches/{matchID}/events.
func (h *EventsHandler) HandlePostEvent(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_event"
	matchID := r.PathValue("matchID")

	var ev model.MatchEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes)).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	res, err := h.deps.IngestEvent(r.Context(), matchID, ev)
	if err != nil {
		writeIngestError(w, op, err)
		return
	}
	if res == service.IngestDuplicate {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", Duplicate: true})
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
}

// HandleEndMatch handles POST /matches/{matchID}/end.
func (h *EventsHandler) HandleEndMatch(w http.ResponseWriter, r *http.Request) {
	const op = "api.end_match"
	if err := h.deps.EndMatch(r.Context(), r.PathValue("matchID")); err != nil {
		writeIngestError(w, op, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
}

func writeIngestError(w http.ResponseWriter, op string, err error) {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, "validation_failed", verr)
	case errors.Is(err, service.ErrMatchID):
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
	case errors.Is(err, service.ErrBackpressure):
		writeError(w, http.StatusTooManyRequests, "backpressure", NewKind(op, ErrBackpressure))
	case errors.Is(err, service.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, "unavailable", WrapKind(op, ErrUnavailable, err))
	default:
		writeError(w, http.StatusInternalServerError, "internal", err)
	}
}
