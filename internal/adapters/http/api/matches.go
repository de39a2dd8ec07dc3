package api

import (
	"net/http"
)

// SubscriberCounter reports room sizes.
type SubscriberCounter interface {
	Subscribers(matchID string) int
}

// MatchesHandler serves read-only match views.
type MatchesHandler struct {
	deps SubscriberCounter
}

// NewMatchesHandler creates a new matches handler.
func NewMatchesHandler(deps SubscriberCounter) *MatchesHandler {
	return &MatchesHandler{deps: deps}
}

type subscribersResponse struct {
	MatchID     string `json:"matchId"`
	Subscribers int    `json:"subscribers"`
}

// HandleSubscribers handles GET /matches/{matchID}/subscribers.
func (h *MatchesHandler) HandleSubscribers(w http.ResponseWriter, r *http.Request) {
	matchID := r.PathValue("matchID")
	writeJSON(w, http.StatusOK, subscribersResponse{
		MatchID:     matchID,
		Subscribers: h.deps.Subscribers(matchID),
	})
}
