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

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// IngestEvent accepts one simulator event for matchID.
	IngestEvent(ctx context.Context, matchID string, ev model.MatchEvent) (service.IngestResult, error)
	// EndMatch queues the end of matchID.
	EndMatch(ctx context.Context, matchID string) error
	// Subscribers returns the room size of matchID.
	Subscribers(matchID string) int
	// Channel serves the viewer websocket.
	Channel() http.Handler
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	eventsHandler  *EventsHandler
	matchesHandler *MatchesHandler
	channel        http.Handler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(statsProvider),
		eventsHandler:  NewEventsHandler(deps),
		matchesHandler: NewMatchesHandler(deps),
		channel:        deps.Channel(),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("POST /matches/{matchID}/events", MetricsMiddleware(s.eventsHandler.HandlePostEvent, "match_events"))
	mux.HandleFunc("POST /matches/{matchID}/end", MetricsMiddleware(s.eventsHandler.HandleEndMatch, "match_end"))
	mux.HandleFunc("GET /matches/{matchID}/subscribers", MetricsMiddleware(s.matchesHandler.HandleSubscribers, "match_subscribers"))
	// The channel hijacks the connection, so it cannot sit behind the
	// status-capturing middleware.
	mux.Handle("GET /ws", s.channel)
}

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

type errorResponse struct {
	Code        string              `json:"code"`
	Message     string              `json:"message"`
	FieldErrors map[string][]string `json:"fieldErrors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	resp := errorResponse{Code: code, Message: msg}
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		resp.FieldErrors = verr.FieldErrors
	}
	writeJSON(w, status, resp)
}
