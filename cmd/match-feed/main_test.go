package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/smartystreets/goconvey/convey"
)

func TestRun(t *testing.T) {
	convey.Convey("Given the match-feed command", t, func() {
		ctx := context.Background()

		convey.Convey("When no script is given", func() {
			convey.Convey("Then it refuses to run", func() {
				convey.So(run(ctx, nil, &bytes.Buffer{}), convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When an unknown flag is given", func() {
			convey.Convey("Then parsing fails", func() {
				convey.So(run(ctx, []string{"--speed", "2"}, &bytes.Buffer{}), convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When a script is replayed", func() {
			var posts atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method == http.MethodPost {
					posts.Add(1)
					w.WriteHeader(http.StatusAccepted)
				}
			}))
			defer srv.Close()

			path := filepath.Join(t.TempDir(), "match.yaml")
			body := "matchId: \"7\"\nhomeTeam: {id: 1, name: A}\nawayTeam: {id: 2, name: B}\n" +
				"events:\n  - {type: corner, team: 2, minute: 4}\n  - {type: goal, team: 2, minute: 5}\nend: true\n"
			convey.So(os.WriteFile(path, []byte(body), 0o600), convey.ShouldBeNil)

			var out bytes.Buffer
			err := run(ctx, []string{"--url", srv.URL, "--file", path, "--pace", "10ms"}, &out)

			convey.Convey("Then every event and the end signal are posted", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(posts.Load(), convey.ShouldEqual, 3)
			})

			convey.Convey("Then the run summary is printed", func() {
				convey.So(out.String(), convey.ShouldContainSubstring, "match 7: submitted=2 accepted=2 duplicate=0 retried=0 ended=true")
				convey.So(out.String(), convey.ShouldNotContainSubstring, "duration=0s")
			})
		})
	})
}
