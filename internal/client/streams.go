package client

import (
	"github.com/okian/matchcast/internal/domain/model"
)

// Streams are the long-lived flows derived from one channel session. They
// all complete when the session is torn down by Disconnect.
type Streams struct {
	status     *Feed[bool]
	events     *Feed[model.MatchEvent]
	errors     *Feed[string]
	matchEnded *Feed[string]
}

func newStreams(buffer int) *Streams {
	return &Streams{
		status:     NewFeed[bool](buffer, true),
		events:     NewFeed[model.MatchEvent](buffer, false),
		errors:     NewFeed[string](buffer, false),
		matchEnded: NewFeed[string](buffer, false),
	}
}

// Status emits true on connect and false on disconnect. A new listener
// first receives the current value.
func (s *Streams) Status() *Subscription[bool] {
	return s.status.Subscribe()
}

// Events emits every inbound match event in arrival order.
func (s *Streams) Events() *Subscription[model.MatchEvent] {
	return s.events.Subscribe()
}

// ByType emits only events of type t. It is a filter over Events and costs
// nothing on the channel.
func (s *Streams) ByType(t model.EventType) *Subscription[model.MatchEvent] {
	return s.events.SubscribeFunc(func(ev model.MatchEvent) bool { return ev.Type == t })
}

// Errors emits user-visible error messages.
func (s *Streams) Errors() *Subscription[string] {
	return s.errors.Subscribe()
}

// MatchEnded emits the id of every match the server reports as ended.
func (s *Streams) MatchEnded() *Subscription[string] {
	return s.matchEnded.Subscribe()
}

// Connected returns the last published status.
func (s *Streams) Connected() bool {
	v, _ := s.status.Latest()
	return v
}

func (s *Streams) close() {
	s.status.Close()
	s.events.Close()
	s.errors.Close()
	s.matchEnded.Close()
}

func (s *Streams) closed() bool {
	return s.status.Closed()
}
