package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/matchcast/internal/config"
	"github.com/okian/matchcast/pkg/logger"
)

func TestConfigFromEnv(t *testing.T) {
	convey.Convey("Given matchcast environment variables", t, func() {
		_ = os.Setenv("MATCHCAST_ADDR", ":8080")
		_ = os.Setenv("MATCHCAST_QUEUE_SIZE", "1000")
		_ = os.Setenv("MATCHCAST_SHARD_COUNT", "4")
		defer func() {
			_ = os.Unsetenv("MATCHCAST_ADDR")
			_ = os.Unsetenv("MATCHCAST_QUEUE_SIZE")
			_ = os.Unsetenv("MATCHCAST_SHARD_COUNT")
		}()

		convey.Convey("Then they override the defaults", func() {
			cfg, err := config.Load(context.Background())
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
			convey.So(cfg.QueueSize, convey.ShouldEqual, 1000)
			convey.So(cfg.ShardCount, convey.ShouldEqual, 4)
		})
	})

	convey.Convey("Given an empty listen address", t, func() {
		_ = os.Setenv("MATCHCAST_ADDR", " ")
		defer func() { _ = os.Unsetenv("MATCHCAST_ADDR") }()

		convey.Convey("Then loading fails", func() {
			cfg, err := config.Load(context.Background())
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			convey.So(cfg, convey.ShouldBeNil)
		})
	})
}

func TestWiring(t *testing.T) {
	convey.Convey("Given a service built from defaults", t, func() {
		ctx := context.Background()
		cfg := config.New(ctx)
		cfg.ShardCount = 2
		svc := newService(cfg, logger.Nop())
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer svc.Stop()

		srv := httptest.NewServer(newMux(ctx, svc))
		defer srv.Close()

		convey.Convey("Then every public route is mounted", func() {
			for _, path := range []string{"/healthz", "/stats", "/openapi.yaml", "/api-docs", "/matches/42/subscribers"} {
				resp, err := http.Get(srv.URL + path)
				convey.So(err, convey.ShouldBeNil)
				_ = resp.Body.Close()
				convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)
			}
		})

		convey.Convey("Then the channel refuses plain HTTP", func() {
			resp, err := http.Get(srv.URL + "/ws")
			convey.So(err, convey.ShouldBeNil)
			_ = resp.Body.Close()
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusBadRequest)
		})
	})

	convey.Convey("Given a configured simulator", t, func() {
		cfg := config.New(context.Background())
		cfg.SimulatorURL = "http://127.0.0.1:1"

		convey.Convey("Then the service is still constructible", func() {
			convey.So(newService(cfg, logger.Nop()), convey.ShouldNotBeNil)
		})
	})
}

func TestRun(t *testing.T) {
	convey.Convey("Given run on an ephemeral port", t, func() {
		cfg := config.New(context.Background())
		cfg.Addr = "127.0.0.1:0"
		cfg.ShardCount = 1

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		convey.Convey("Then it returns cleanly when the context ends", func() {
			convey.So(run(ctx, cfg, logger.Nop()), convey.ShouldBeNil)
		})
	})

	convey.Convey("Given the metrics updater", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		convey.Convey("Then it stops with its context", func() {
			convey.So(func() { startSystemMetricsUpdater(ctx) }, convey.ShouldNotPanic)
			convey.So(updateSystemMetrics, convey.ShouldNotPanic)
		})
	})
}
