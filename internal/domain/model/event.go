// Package model contains the match domain types shared by server and client.
package model

import (
	"strings"
	"time"
)

// Minute bounds for a match event, extra time included.
const (
	MinMinute = 0
	MaxMinute = 120
)

// EventType is the closed set of things that can happen in a match.
type EventType string

// Event types.
const (
	EventGoal          EventType = "goal"
	EventShotOnTarget  EventType = "shot_on_target"
	EventShotOffTarget EventType = "shot_off_target"
	EventCorner        EventType = "corner"
	EventFoul          EventType = "foul"
	EventCardYellow    EventType = "card_yellow"
	EventCardRed       EventType = "card_red"
	EventOffside       EventType = "offside"
	EventSubstitution  EventType = "substitution"
	EventMatchStart    EventType = "match_start"
	EventHalfTime      EventType = "half_time"
	EventMatchEnd      EventType = "match_end"
	EventPenalty       EventType = "penalty"
)

var eventTypes = map[EventType]struct{}{
	EventGoal: {}, EventShotOnTarget: {}, EventShotOffTarget: {}, EventCorner: {},
	EventFoul: {}, EventCardYellow: {}, EventCardRed: {}, EventOffside: {},
	EventSubstitution: {}, EventMatchStart: {}, EventHalfTime: {}, EventMatchEnd: {},
	EventPenalty: {},
}

// EventTypes returns every known event type.
func EventTypes() []EventType {
	return []EventType{
		EventGoal, EventShotOnTarget, EventShotOffTarget, EventCorner, EventFoul,
		EventCardYellow, EventCardRed, EventOffside, EventSubstitution,
		EventMatchStart, EventHalfTime, EventMatchEnd, EventPenalty,
	}
}

// Valid reports whether t belongs to the closed enumeration.
func (t EventType) Valid() bool {
	_, ok := eventTypes[t]
	return ok
}

// ParseEventType accepts both snake_case and kebab-case spellings.
func ParseEventType(s string) (EventType, bool) {
	t := EventType(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	return t, t.Valid()
}

// Player identifies one player on a roster.
type Player struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	JerseyNumber int    `json:"jerseyNumber"`
}

// MatchEvent is an immutable fact about a match. It is created once by the
// simulator, transmitted once, and then owned by every receiver's timeline.
type MatchEvent struct {
	ID            string    `json:"id"`
	MatchID       string    `json:"matchId"`
	Type          EventType `json:"type"`
	Minute        int       `json:"minute"`
	Timestamp     time.Time `json:"timestamp"`
	TeamID        int64     `json:"teamId"`
	TeamName      string    `json:"teamName"`
	Player        *Player   `json:"player,omitempty"`
	RelatedPlayer *Player   `json:"relatedPlayer,omitempty"`
}

// Validate checks the event against the data model. All failing fields are
// reported at once.
func (e *MatchEvent) Validate() error {
	v := NewValidationError("invalid match event")
	if strings.TrimSpace(e.ID) == "" {
		v.Add("id", "is required")
	}
	if strings.TrimSpace(e.MatchID) == "" {
		v.Add("matchId", "is required")
	}
	if !e.Type.Valid() {
		v.Add("type", "unknown event type "+quote(string(e.Type)))
	}
	if e.Minute < MinMinute || e.Minute > MaxMinute {
		v.Add("minute", "must be between 0 and 120")
	}
	if e.Timestamp.IsZero() {
		v.Add("timestamp", "is required")
	}
	if e.TeamID == 0 {
		v.Add("teamId", "is required")
	}
	validatePlayer(v, "player", e.Player)
	validatePlayer(v, "relatedPlayer", e.RelatedPlayer)
	return v.OrNil()
}

func validatePlayer(v *ValidationError, field string, p *Player) {
	if p == nil {
		return
	}
	if p.ID == 0 {
		v.Add(field+".id", "is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		v.Add(field+".name", "is required")
	}
	if p.JerseyNumber < 1 || p.JerseyNumber > 99 {
		v.Add(field+".jerseyNumber", "must be between 1 and 99")
	}
}

func quote(s string) string {
	return `"` + s + `"`
}

// UnmarshalText normalizes the wire spelling so "card-yellow" and
// "card_yellow" decode to the same type. Unknown values are kept verbatim and
// rejected by Validate.
func (t *EventType) UnmarshalText(b []byte) error {
	*t = EventType(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(string(b))), "-", "_"))
	return nil
}
