// Package feed replays scripted matches against the ingest endpoint of a
// matchcast server, standing in for the simulator during local runs.
package feed

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/okian/matchcast/internal/domain/model"
)

// Script is a match as written in a YAML file.
//
//	matchId: "42"
//	kickOff: 2026-05-01T18:00:00Z
//	homeTeam: {id: 1, name: A, players: [...]}
//	awayTeam: {id: 2, name: B}
//	events:
//	  - {type: goal, team: 1, minute: 10, player: {id: 9, name: Striker, jerseyNumber: 9}}
//	end: true
type Script struct {
	MatchID  string        `yaml:"matchId"`
	KickOff  time.Time     `yaml:"kickOff"`
	HomeTeam ScriptTeam    `yaml:"homeTeam"`
	AwayTeam ScriptTeam    `yaml:"awayTeam"`
	Events   []ScriptEvent `yaml:"events"`
	End      bool          `yaml:"end"`
}

// ScriptTeam is one side of a scripted match.
type ScriptTeam struct {
	ID      int64          `yaml:"id"`
	Name    string         `yaml:"name"`
	Players []ScriptPlayer `yaml:"players"`
}

// ScriptPlayer is one roster entry.
type ScriptPlayer struct {
	ID     int64  `yaml:"id"`
	Name   string `yaml:"name"`
	Jersey int    `yaml:"jerseyNumber"`
}

// ScriptEvent is one line of the timeline. ID is generated when empty.
type ScriptEvent struct {
	ID      string        `yaml:"id"`
	Type    string        `yaml:"type"`
	Team    int64         `yaml:"team"`
	Minute  int           `yaml:"minute"`
	Player  *ScriptPlayer `yaml:"player"`
	Related *ScriptPlayer `yaml:"relatedPlayer"`
}

// Load reads a script from path.
func Load(path string) (*Script, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("open script: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Parse(f)
}

// Parse decodes a script. Unknown keys are errors.
func Parse(r io.Reader) (*Script, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var s Script
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScript, err)
	}
	if strings.TrimSpace(s.MatchID) == "" {
		return nil, fmt.Errorf("%w: matchId is required", ErrInvalidScript)
	}
	if s.KickOff.IsZero() {
		s.KickOff = time.Now().UTC()
	}
	return &s, nil
}

// StartRequest returns the start command for the scripted match.
func (s *Script) StartRequest() model.StartMatchRequest {
	return model.StartMatchRequest{
		MatchID:  s.MatchID,
		HomeTeam: s.HomeTeam.team(),
		AwayTeam: s.AwayTeam.team(),
	}
}

// MatchEvents expands the timeline into wire events. Every event is
// validated; the first invalid one fails the whole script.
func (s *Script) MatchEvents() ([]model.MatchEvent, error) {
	names := map[int64]string{s.HomeTeam.ID: s.HomeTeam.Name, s.AwayTeam.ID: s.AwayTeam.Name}
	out := make([]model.MatchEvent, 0, len(s.Events))
	for i, se := range s.Events {
		t, _ := model.ParseEventType(se.Type)
		ev := model.MatchEvent{
			ID:            se.ID,
			MatchID:       s.MatchID,
			Type:          t,
			Minute:        se.Minute,
			Timestamp:     s.KickOff.Add(time.Duration(se.Minute) * time.Minute),
			TeamID:        se.Team,
			TeamName:      names[se.Team],
			Player:        se.Player.player(),
			RelatedPlayer: se.Related.player(),
		}
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		if err := ev.Validate(); err != nil {
			return nil, fmt.Errorf("%w: events[%d]: %w", ErrInvalidScript, i, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

func (t ScriptTeam) team() model.Team {
	out := model.Team{ID: t.ID, Name: t.Name}
	for i := range t.Players {
		out.Players = append(out.Players, *t.Players[i].player())
	}
	return out
}

func (p *ScriptPlayer) player() *model.Player {
	if p == nil {
		return nil
	}
	return &model.Player{ID: p.ID, Name: p.Name, JerseyNumber: p.Jersey}
}
