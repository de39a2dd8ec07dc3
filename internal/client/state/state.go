// Package state projects a match event stream into displayable match state.
//
// Store is a single-writer reducer: it performs no I/O, never validates and
// never fails. Events are applied in the order they are given.
package state

import (
	"slices"
	"sync"
	"time"

	"github.com/okian/matchcast/internal/domain/model"
)

// Status is the lifecycle of a projection.
type Status string

// Projection statuses.
const (
	StatusPending Status = "pending"
	StatusLive    Status = "live"
	StatusEnded   Status = "ended"
)

// Score is derived from goal events only.
type Score struct {
	Home int `json:"home"`
	Away int `json:"away"`
}

// MatchState is the client-side view of one match.
type MatchState struct {
	MatchID       string             `json:"matchId"`
	HomeTeam      model.Team         `json:"homeTeam"`
	AwayTeam      model.Team         `json:"awayTeam"`
	Score         Score              `json:"score"`
	CurrentMinute int                `json:"currentMinute"`
	Events        []model.MatchEvent `json:"events"`
	StartTime     time.Time          `json:"startTime"`
	Status        Status             `json:"status"`
	Active        bool               `json:"active"`
}

func (s *MatchState) clone() *MatchState {
	if s == nil {
		return nil
	}
	out := *s
	out.HomeTeam.Players = slices.Clone(s.HomeTeam.Players)
	out.AwayTeam.Players = slices.Clone(s.AwayTeam.Players)
	out.Events = slices.Clone(s.Events)
	return &out
}

// Option configures a Store.
type Option func(*Store)

// WithDuplicateSuppression drops events whose id was already applied.
func WithDuplicateSuppression() Option {
	return func(s *Store) {
		s.suppressDuplicates = true
	}
}

// WithClock overrides the time source used for StartTime.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store holds at most one match projection and the last surfaced error.
type Store struct {
	mu       sync.RWMutex
	current  *MatchState
	previous *MatchState // restored by Rollback
	lastErr  string

	suppressDuplicates bool
	seen               map[string]struct{}
	now                func() time.Time
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartMatch replaces the projection with a fresh pending one. It stays
// pending until Confirm or Rollback.
func (s *Store) StartMatch(req model.StartMatchRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.previous = s.current
	s.current = s.fresh(req, StatusPending)
}

// Track replaces the projection with a live one without waiting for any
// acknowledgement. Viewers use it to follow a match someone else started.
func (s *Store) Track(req model.StartMatchRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.previous = nil
	s.current = s.fresh(req, StatusLive)
}

func (s *Store) fresh(req model.StartMatchRequest, status Status) *MatchState {
	s.seen = nil
	return &MatchState{
		MatchID:   req.MatchID,
		HomeTeam:  req.HomeTeam,
		AwayTeam:  req.AwayTeam,
		Events:    []model.MatchEvent{},
		StartTime: s.now(),
		Status:    status,
		Active:    true,
	}
}

// Confirm promotes a pending projection of matchID to live.
func (s *Store) Confirm(matchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.MatchID == matchID && s.current.Status == StatusPending {
		s.current.Status = StatusLive
		s.previous = nil
	}
}

// Rollback discards a pending projection of matchID and restores whatever
// was shown before it.
func (s *Store) Rollback(matchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.MatchID == matchID && s.current.Status == StatusPending {
		s.current = s.previous
		s.previous = nil
		s.seen = nil
	}
}

// AddMatchEvent applies ev. Without a projection one is opened for the
// event's match with unknown teams. A goal counts for the side whose team id
// matches; any other team id is accepted and scores for nobody.
func (s *Store) AddMatchEvent(ev model.MatchEvent) { //nolint:gocritic // hugeParam
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		s.current = &MatchState{
			MatchID:   ev.MatchID,
			Events:    []model.MatchEvent{},
			StartTime: s.now(),
			Status:    StatusLive,
			Active:    true,
		}
	}
	if s.suppressDuplicates && ev.ID != "" {
		if _, dup := s.seen[ev.ID]; dup {
			return
		}
		if s.seen == nil {
			s.seen = make(map[string]struct{})
		}
		s.seen[ev.ID] = struct{}{}
	}

	cur := s.current
	cur.CurrentMinute = ev.Minute
	cur.Events = append(cur.Events, ev)
	if ev.Type == model.EventGoal {
		switch ev.TeamID {
		case cur.HomeTeam.ID:
			cur.Score.Home++
		case cur.AwayTeam.ID:
			cur.Score.Away++
		}
	}
	s.lastErr = ""
}

// EndMatch marks the match inactive. Timeline and score are kept.
func (s *Store) EndMatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.Active = false
		s.current.Status = StatusEnded
	}
}

// ClearMatch drops the projection.
func (s *Store) ClearMatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	s.previous = nil
	s.seen = nil
}

// MatchID returns the id of the projected match, or "".
func (s *Store) MatchID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return ""
	}
	return s.current.MatchID
}

// Snapshot returns a deep copy of the projection.
func (s *Store) Snapshot() (MatchState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return MatchState{}, false
	}
	return *s.current.clone(), true
}

// SetError records a user-visible error.
func (s *Store) SetError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = msg
}

// Err returns the last surfaced error, or "" after a valid event cleared it.
func (s *Store) Err() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}
