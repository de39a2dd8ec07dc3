package feed_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/okian/matchcast/internal/domain/model"
	"github.com/okian/matchcast/internal/feed"
	"github.com/okian/matchcast/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

const script = `
matchId: "42"
kickOff: 2026-05-01T18:00:00Z
homeTeam:
  id: 1
  name: A
  players:
    - {id: 9, name: Striker, jerseyNumber: 9}
awayTeam: {id: 2, name: B}
events:
  - {id: k1, type: match_start, team: 1, minute: 0}
  - {type: goal, team: 1, minute: 10, player: {id: 9, name: Striker, jerseyNumber: 9}}
  - {type: card-yellow, team: 2, minute: 33}
end: true
`

type ingest struct {
	mu     sync.Mutex
	events []model.MatchEvent
	ended  []string
	busy   int
	reject bool
}

func (in *ingest) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	in.mu.Lock()
	defer in.mu.Unlock()
	switch {
	case r.URL.Path == "/healthz":
		w.WriteHeader(http.StatusOK)
	case strings.HasSuffix(r.URL.Path, "/end"):
		in.ended = append(in.ended, strings.Split(r.URL.Path, "/")[2])
		w.WriteHeader(http.StatusAccepted)
	case in.reject:
		http.Error(w, `{"error":"bad_request"}`, http.StatusBadRequest)
	case in.busy > 0:
		in.busy--
		w.WriteHeader(http.StatusTooManyRequests)
	default:
		var ev model.MatchEvent
		_ = json.NewDecoder(r.Body).Decode(&ev)
		for _, seen := range in.events {
			if seen.ID == ev.ID {
				w.WriteHeader(http.StatusOK)
				return
			}
		}
		in.events = append(in.events, ev)
		w.WriteHeader(http.StatusAccepted)
	}
}

func TestParse(t *testing.T) {
	Convey("Given a match script", t, func() {
		s, err := feed.Parse(strings.NewReader(script))
		So(err, ShouldBeNil)

		Convey("Then the start request carries both teams", func() {
			req := s.StartRequest()
			So(req.MatchID, ShouldEqual, "42")
			So(req.HomeTeam.Players, ShouldHaveLength, 1)
			So(req.AwayTeam.Name, ShouldEqual, "B")
		})

		Convey("Then events expand with ids, team names and timestamps", func() {
			events, err := s.MatchEvents()
			So(err, ShouldBeNil)
			So(events, ShouldHaveLength, 3)
			So(events[0].ID, ShouldEqual, "k1")
			So(events[1].ID, ShouldNotBeBlank)
			So(events[1].TeamName, ShouldEqual, "A")
			So(events[1].Player.JerseyNumber, ShouldEqual, 9)
			So(events[2].Type, ShouldEqual, model.EventCardYellow)
			So(events[2].Timestamp.Sub(s.KickOff).Minutes(), ShouldEqual, 33)
		})
	})

	Convey("Given broken scripts", t, func() {
		Convey("Then a missing match id is refused", func() {
			_, err := feed.Parse(strings.NewReader("events: []\n"))
			So(errors.Is(err, feed.ErrInvalidScript), ShouldBeTrue)
		})

		Convey("Then unknown keys are refused", func() {
			_, err := feed.Parse(strings.NewReader("matchId: \"1\"\nscore: 3\n"))
			So(errors.Is(err, feed.ErrInvalidScript), ShouldBeTrue)
		})

		Convey("Then an invalid event names its index", func() {
			s, err := feed.Parse(strings.NewReader("matchId: \"1\"\nevents:\n  - {type: dance, team: 1, minute: 3}\n"))
			So(err, ShouldBeNil)
			_, err = s.MatchEvents()
			So(errors.Is(err, feed.ErrInvalidScript), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "events[0]")
		})
	})
}

func TestReplayer(t *testing.T) {
	ctx := context.Background()

	Convey("Given an ingest endpoint", t, func() {
		in := &ingest{}
		srv := httptest.NewServer(in)
		defer srv.Close()

		s, err := feed.Parse(strings.NewReader(script))
		So(err, ShouldBeNil)
		r := feed.NewReplayer(srv.URL, feed.WithLogger(logger.Nop()))

		Convey("When the script is replayed", func() {
			stats, err := r.Run(ctx, s)

			Convey("Then every event arrives in order and the match ends", func() {
				So(err, ShouldBeNil)
				So(stats.Submitted, ShouldEqual, 3)
				So(stats.Accepted, ShouldEqual, 3)
				So(stats.Ended, ShouldBeTrue)
				So(in.events[0].ID, ShouldEqual, "k1")
				So(in.events[1].Type, ShouldEqual, model.EventGoal)
				So(in.ended, ShouldResemble, []string{"42"})
			})

			Convey("And replayed again", func() {
				stats, err := r.Run(ctx, s)

				Convey("Then the fixed id is reported as a duplicate", func() {
					So(err, ShouldBeNil)
					So(stats.Duplicate, ShouldEqual, 1)
					So(stats.Accepted, ShouldEqual, 2)
				})
			})
		})

		Convey("When the server is briefly saturated", func() {
			in.busy = 2
			stats, err := r.Run(ctx, s)

			Convey("Then the post is retried", func() {
				So(err, ShouldBeNil)
				So(stats.Retried, ShouldEqual, 2)
				So(in.events, ShouldHaveLength, 3)
			})
		})

		Convey("When the server rejects events", func() {
			in.reject = true
			stats, err := r.Run(ctx, s)

			Convey("Then the replay stops at the first one", func() {
				So(errors.Is(err, feed.ErrRejected), ShouldBeTrue)
				So(stats.Submitted, ShouldEqual, 1)
				So(stats.Ended, ShouldBeFalse)
			})
		})
	})

	Convey("Given a paced replay", t, func() {
		in := &ingest{}
		srv := httptest.NewServer(in)
		defer srv.Close()

		s, err := feed.Parse(strings.NewReader(script))
		So(err, ShouldBeNil)
		r := feed.NewReplayer(srv.URL, feed.WithLogger(logger.Nop()), feed.WithPace(20*time.Millisecond))

		Convey("Then the reported duration covers the pauses", func() {
			stats, err := r.Run(ctx, s)
			So(err, ShouldBeNil)
			So(stats.Submitted, ShouldEqual, 3)
			So(stats.Duration, ShouldBeGreaterThanOrEqualTo, 40*time.Millisecond)
		})

		Convey("Then a failed replay still reports its duration", func() {
			in.reject = true
			stats, err := r.Run(ctx, s)
			So(errors.Is(err, feed.ErrRejected), ShouldBeTrue)
			So(stats.Duration > 0, ShouldBeTrue)
		})
	})

	Convey("Given an unhealthy server", t, func() {
		srv := httptest.NewServer(http.NotFoundHandler())
		defer srv.Close()

		s, _ := feed.Parse(strings.NewReader(script))
		r := feed.NewReplayer(srv.URL, feed.WithLogger(logger.Nop()))

		Convey("Then nothing is posted", func() {
			stats, err := r.Run(ctx, s)
			So(errors.Is(err, feed.ErrUnhealthy), ShouldBeTrue)
			So(stats.Submitted, ShouldEqual, 0)
		})
	})
}
