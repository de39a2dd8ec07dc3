package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/okian/matchcast/internal/adapters/ws"
	"github.com/okian/matchcast/internal/client"
	"github.com/okian/matchcast/internal/client/state"
	"github.com/okian/matchcast/internal/dispatcher"
	"github.com/okian/matchcast/internal/domain/model"
	"github.com/okian/matchcast/internal/registry"
	"github.com/okian/matchcast/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

type refusingStarter struct{}

func (refusingStarter) StartMatch(context.Context, model.StartMatchRequest) error {
	return errors.New("simulator busy")
}

// backend is one hub generation. restart swaps in a fresh one so a client
// sees its channel drop and has to rejoin.
type backend struct {
	reg  *registry.Registry
	hub  *ws.Hub
	disp *dispatcher.Dispatcher
}

type server struct {
	mu     sync.Mutex
	cur    *backend
	refuse bool
	opts   []ws.Option
	srv    *httptest.Server
}

func newServer(opts ...ws.Option) *server {
	s := &server{opts: append([]ws.Option{ws.WithLogger(logger.Nop())}, opts...)}
	s.cur = s.backend()
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		refuse := s.refuse
		s.mu.Unlock()
		if refuse {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
			return
		}
		s.current().hub.ServeHTTP(w, r)
	}))
	return s
}

func (s *server) backend() *backend {
	reg := registry.New()
	hub := ws.NewHub(reg, s.opts...)
	return &backend{reg: reg, hub: hub, disp: dispatcher.New(reg, hub, dispatcher.WithLogger(logger.Nop()))}
}

func (s *server) current() *backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

func (s *server) restart() {
	s.mu.Lock()
	old := s.cur
	s.cur = s.backend()
	s.mu.Unlock()
	old.hub.Close()
}

// setRefusing makes new dials fail with 503 until called with false.
func (s *server) setRefusing(refuse bool) {
	s.mu.Lock()
	s.refuse = refuse
	s.mu.Unlock()
}

func (s *server) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *server) close() {
	s.current().hub.Close()
	s.srv.Close()
}

func (s *server) broadcast(matchID string, ev model.MatchEvent) {
	_, err := s.current().disp.Broadcast(context.Background(), matchID, ev)
	So(err, ShouldBeNil)
}

func newManager(url string, opts ...client.Option) *client.Manager {
	base := []client.Option{
		client.WithLogger(logger.Nop()),
		client.WithBackoff(5*time.Millisecond, 20*time.Millisecond),
		client.WithCommandTimeout(2 * time.Second),
	}
	return client.New(url, append(base, opts...)...)
}

func goal(id, matchID string, teamID int64, minute int) model.MatchEvent {
	return model.MatchEvent{ID: id, MatchID: matchID, Type: model.EventGoal, TeamID: teamID, Minute: minute}
}

func startRequest(matchID string) model.StartMatchRequest {
	players := make([]model.Player, model.HomeRosterSize)
	for i := range players {
		players[i] = model.Player{ID: int64(100 + i), Name: "P", JerseyNumber: i + 1}
	}
	return model.StartMatchRequest{
		MatchID:  matchID,
		HomeTeam: model.Team{ID: 1, Name: "A", Players: players},
		AwayTeam: model.Team{ID: 2, Name: "B"},
	}
}

func receive[T any](c <-chan T) (T, bool) {
	select {
	case v, ok := <-c:
		return v, ok
	case <-time.After(2 * time.Second):
		var zero T
		return zero, false
	}
}

func silent[T any](c <-chan T) bool {
	select {
	case <-c:
		return false
	case <-time.After(100 * time.Millisecond):
		return true
	}
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestManager_Commands(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()

	Convey("Given a connected manager", t, func() {
		srv := newServer()
		defer srv.close()

		store := state.New()
		m := newManager(srv.url(), client.WithStore(store))
		defer m.Disconnect()

		status := m.Streams().Status()
		So(m.Connect(ctx), ShouldBeNil)
		So(m.State(), ShouldEqual, client.StateConnected)
		v, _ := receive(status.C)
		So(v, ShouldBeFalse)
		v, _ = receive(status.C)
		So(v, ShouldBeTrue)

		events := m.Streams().Events()
		goals := m.Streams().ByType(model.EventGoal)

		Convey("When it subscribes to 42 and a goal is broadcast", func() {
			So(m.SubscribeToMatch(ctx, "42"), ShouldBeNil)
			So(m.Watching(), ShouldResemble, []string{"42"})
			srv.broadcast("42", goal("g1", "42", 1, 10))

			Convey("Then the event reaches both streams and the store", func() {
				ev, ok := receive(events.C)
				So(ok, ShouldBeTrue)
				So(ev.ID, ShouldEqual, "g1")
				ev, ok = receive(goals.C)
				So(ok, ShouldBeTrue)
				So(ev.ID, ShouldEqual, "g1")

				snap, ok := store.Snapshot()
				So(ok, ShouldBeTrue)
				So(snap.MatchID, ShouldEqual, "42")
				So(snap.Events, ShouldHaveLength, 1)
			})

			Convey("And the match ends", func() {
				ended := m.Streams().MatchEnded()
				srv.current().disp.BroadcastMatchEnded(ctx, "42")

				id, ok := receive(ended.C)
				So(ok, ShouldBeTrue)
				So(id, ShouldEqual, "42")
			})
		})

		Convey("When it unsubscribes from 42 before a goal", func() {
			So(m.SubscribeToMatch(ctx, "42"), ShouldBeNil)
			So(m.UnsubscribeFromMatch(ctx, "42"), ShouldBeNil)
			srv.broadcast("42", goal("g1", "42", 1, 10))

			Convey("Then nothing arrives", func() {
				So(silent(events.C), ShouldBeTrue)
				So(m.Watching(), ShouldBeEmpty)
			})
		})

		Convey("When a valid match is started", func() {
			So(m.StartMatch(ctx, startRequest("42")), ShouldBeNil)

			Convey("Then the projection is live", func() {
				snap, ok := store.Snapshot()
				So(ok, ShouldBeTrue)
				So(snap.Status, ShouldEqual, state.StatusLive)
			})
		})

		Convey("When the server rejects a start", func() {
			req := startRequest("42")
			req.HomeTeam.Players = req.HomeTeam.Players[:3]
			errs := m.Streams().Errors()
			err := m.StartMatch(ctx, req)

			Convey("Then the error is surfaced and the projection rolled back", func() {
				So(errors.Is(err, client.ErrRejected), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "homeTeam.players")
				_, ok := store.Snapshot()
				So(ok, ShouldBeFalse)

				msg, ok := receive(errs.C)
				So(ok, ShouldBeTrue)
				So(msg, ShouldStartWith, "homeTeam.players: ")
				So(store.Err(), ShouldContainSubstring, "homeTeam.players")
			})
		})

		Convey("When it disconnects", func() {
			m.Disconnect()
			m.Disconnect()

			Convey("Then every stream completes", func() {
				for {
					if _, ok := <-status.C; !ok {
						break
					}
				}
				_, ok := <-events.C
				So(ok, ShouldBeFalse)
				So(m.State(), ShouldEqual, client.StateDisconnected)
			})

			Convey("Then commands fail locally", func() {
				err := m.SubscribeToMatch(ctx, "42")
				So(errors.Is(err, client.ErrNotConnected), ShouldBeTrue)
				err = m.StartMatch(ctx, startRequest("42"))
				So(errors.Is(err, client.ErrNotConnected), ShouldBeTrue)
				_, ok := store.Snapshot()
				So(ok, ShouldBeFalse)
			})

			Convey("And connects again", func() {
				So(m.Connect(ctx), ShouldBeNil)
				So(m.Attempts(), ShouldEqual, 0)
				So(m.Streams().Connected(), ShouldBeTrue)

				fresh := m.Streams().Events()
				So(m.SubscribeToMatch(ctx, "7"), ShouldBeNil)
				srv.broadcast("7", goal("g7", "7", 2, 3))

				Convey("Then the new streams work", func() {
					ev, ok := receive(fresh.C)
					So(ok, ShouldBeTrue)
					So(ev.ID, ShouldEqual, "g7")
				})
			})
		})
	})

	Convey("Given a server whose simulator refuses", t, func() {
		srv := newServer(ws.WithStarter(refusingStarter{}))
		defer srv.close()

		store := state.New()
		m := newManager(srv.url(), client.WithStore(store))
		defer m.Disconnect()
		So(m.Connect(ctx), ShouldBeNil)

		Convey("Then StartMatch fails and leaves no projection", func() {
			err := m.StartMatch(ctx, startRequest("42"))
			So(errors.Is(err, client.ErrRejected), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "simulator busy")
			_, ok := store.Snapshot()
			So(ok, ShouldBeFalse)
			So(store.Err(), ShouldContainSubstring, "simulator busy")
		})
	})
}

func TestManager_Reconnect(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()

	Convey("Given an unreachable server", t, func() {
		dead := httptest.NewServer(http.NotFoundHandler())
		url := "ws" + strings.TrimPrefix(dead.URL, "http")
		dead.Close()

		m := newManager(url, client.WithMaxReconnectAttempts(3))
		defer m.Disconnect()
		errs := m.Streams().Errors()

		Convey("When Connect exhausts its attempts", func() {
			err := m.Connect(ctx)

			Convey("Then exactly one fatal error is reported", func() {
				var cerr *client.ConnectionError
				So(errors.As(err, &cerr), ShouldBeTrue)
				So(cerr.Fatal, ShouldBeTrue)
				So(cerr.Attempts, ShouldEqual, 3)
				So(errors.Is(err, client.ErrConnectionFailed), ShouldBeTrue)
				So(m.Attempts(), ShouldEqual, 3)
				So(m.State(), ShouldEqual, client.StateDisconnected)

				msg, ok := receive(errs.C)
				So(ok, ShouldBeTrue)
				So(msg, ShouldEqual, "failed to connect to match server after 3 attempts, please try again")
				So(silent(errs.C), ShouldBeTrue)
			})
		})
	})

	Convey("Given a manager watching 42", t, func() {
		srv := newServer()
		defer srv.close()

		m := newManager(srv.url())
		defer m.Disconnect()
		So(m.Connect(ctx), ShouldBeNil)
		So(m.SubscribeToMatch(ctx, "42"), ShouldBeNil)

		status := m.Streams().Status()
		receive(status.C)
		errs := m.Streams().Errors()
		events := m.Streams().Events()

		Convey("When the server drops the channel", func() {
			srv.restart()

			Convey("Then the drop is reported and the manager rejoins 42", func() {
				v, _ := receive(status.C)
				So(v, ShouldBeFalse)
				msg, ok := receive(errs.C)
				So(ok, ShouldBeTrue)
				So(msg, ShouldStartWith, "disconnected from match server")

				v, _ = receive(status.C)
				So(v, ShouldBeTrue)
				So(waitFor(func() bool { return srv.current().reg.SubscriberCount("42") == 1 }), ShouldBeTrue)

				srv.broadcast("42", goal("g2", "42", 1, 55))
				ev, ok := receive(events.C)
				So(ok, ShouldBeTrue)
				So(ev.ID, ShouldEqual, "g2")
			})
		})
	})

	Convey("Given a manager watching 42 whose reconnect budget runs out", t, func() {
		srv := newServer()
		defer srv.close()

		m := newManager(srv.url(), client.WithMaxReconnectAttempts(2))
		defer m.Disconnect()
		So(m.Connect(ctx), ShouldBeNil)
		So(m.SubscribeToMatch(ctx, "42"), ShouldBeNil)
		errs := m.Streams().Errors()
		events := m.Streams().Events()

		srv.setRefusing(true)
		srv.restart()

		msg, ok := receive(errs.C)
		So(ok, ShouldBeTrue)
		So(msg, ShouldStartWith, "disconnected from match server")
		msg, ok = receive(errs.C)
		So(ok, ShouldBeTrue)
		So(msg, ShouldEqual, "failed to connect to match server after 2 attempts, please try again")
		So(waitFor(func() bool { return m.State() == client.StateDisconnected }), ShouldBeTrue)

		Convey("When the user connects again", func() {
			srv.setRefusing(false)
			So(m.Connect(ctx), ShouldBeNil)

			Convey("Then the watched match is rejoined and its events arrive", func() {
				So(m.Watching(), ShouldResemble, []string{"42"})
				So(waitFor(func() bool { return srv.current().reg.SubscriberCount("42") == 1 }), ShouldBeTrue)

				srv.broadcast("42", goal("g3", "42", 2, 70))
				ev, ok := receive(events.C)
				So(ok, ShouldBeTrue)
				So(ev.ID, ShouldEqual, "g3")
			})
		})
	})

	Convey("Given a manager reconnecting in the background", t, func() {
		srv := newServer()
		defer srv.close()

		m := newManager(srv.url(),
			client.WithMaxReconnectAttempts(10),
			client.WithBackoff(20*time.Millisecond, 40*time.Millisecond),
		)
		defer m.Disconnect()
		So(m.Connect(ctx), ShouldBeNil)

		srv.setRefusing(true)
		srv.restart()
		So(waitFor(func() bool { return m.State() == client.StateConnecting }), ShouldBeTrue)

		Convey("When Connect is called during the cycle", func() {
			go func() {
				time.Sleep(60 * time.Millisecond)
				srv.setRefusing(false)
			}()
			err := m.Connect(ctx)

			Convey("Then it returns once the channel is live", func() {
				So(err, ShouldBeNil)
				So(m.State(), ShouldEqual, client.StateConnected)
				So(m.SubscribeToMatch(ctx, "7"), ShouldBeNil)
			})
		})
	})

	Convey("Given auto-reconnect is off", t, func() {
		srv := newServer()
		defer srv.close()

		m := newManager(srv.url(), client.WithAutoReconnect(false))
		defer m.Disconnect()
		So(m.Connect(ctx), ShouldBeNil)

		Convey("When the server drops the channel", func() {
			srv.restart()

			Convey("Then the manager stays disconnected", func() {
				So(waitFor(func() bool { return m.State() == client.StateDisconnected }), ShouldBeTrue)
				So(silent(m.Streams().Events().C), ShouldBeTrue)
				So(m.State(), ShouldEqual, client.StateDisconnected)
			})
		})
	})
}
