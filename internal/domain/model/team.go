package model

import (
	"strconv"
	"strings"
)

// HomeRosterSize is the number of players a home team must field at kick-off.
const HomeRosterSize = 11

// Team is one side of a match. The away roster may be unknown to a viewer.
type Team struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Players []Player `json:"players,omitempty"`
}

// StartMatchRequest asks the simulator to start emitting events for a match.
type StartMatchRequest struct {
	MatchID  string `json:"matchId"`
	HomeTeam Team   `json:"homeTeam"`
	AwayTeam Team   `json:"awayTeam"`
}

// Validate checks the request. The home roster is pinned to exactly eleven
// players; the away roster is optional.
func (r *StartMatchRequest) Validate() error {
	v := NewValidationError("invalid start match request")
	if strings.TrimSpace(r.MatchID) == "" {
		v.Add("matchId", "is required")
	}
	if r.HomeTeam.ID == 0 {
		v.Add("homeTeam.id", "is required")
	}
	if strings.TrimSpace(r.HomeTeam.Name) == "" {
		v.Add("homeTeam.name", "is required")
	}
	if n := len(r.HomeTeam.Players); n != HomeRosterSize {
		v.Add("homeTeam.players", "must contain exactly 11 players, got "+strconv.Itoa(n))
	}
	for i := range r.HomeTeam.Players {
		validatePlayer(v, "homeTeam.players["+strconv.Itoa(i)+"]", &r.HomeTeam.Players[i])
	}
	if r.AwayTeam.ID == 0 {
		v.Add("awayTeam.id", "is required")
	}
	if strings.TrimSpace(r.AwayTeam.Name) == "" {
		v.Add("awayTeam.name", "is required")
	}
	if r.HomeTeam.ID != 0 && r.HomeTeam.ID == r.AwayTeam.ID {
		v.Add("awayTeam.id", "must differ from homeTeam.id")
	}
	return v.OrNil()
}
