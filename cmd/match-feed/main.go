// Command match-feed replays a scripted match against a matchcast server's
// ingest endpoint.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/okian/matchcast/internal/feed"
	"github.com/okian/matchcast/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		os.Stderr.WriteString("match-feed: " + err.Error() + "\n")
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("match-feed", pflag.ContinueOnError)
	var (
		baseURL = fs.StringP("url", "u", "http://localhost:9080", "base URL of the matchcast server")
		file    = fs.StringP("file", "f", "", "match script (YAML)")
		pace    = fs.Duration("pace", time.Second, "delay between two events")
		timeout = fs.Duration("timeout", feed.DefaultTimeout, "HTTP request timeout")
		retries = fs.Uint64("retries", feed.DefaultRetries, "retries per event while the server is busy")
		format  = fs.String("log-format", "text", "log format: text or json")
		verbose = fs.BoolP("verbose", "v", false, "log every event")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("--file is required")
	}

	if err := logger.InitWith(os.Stdout, logger.Format(*format)); err != nil {
		return err
	}
	if *verbose {
		_ = logger.SetLevelString("debug")
	}

	s, err := feed.Load(*file)
	if err != nil {
		return err
	}
	r := feed.NewReplayer(*baseURL,
		feed.WithPace(*pace),
		feed.WithRetries(*retries),
		feed.WithHTTPClient(newHTTPClient(*timeout)),
	)
	stats, err := r.Run(ctx, s)
	printSummary(out, s.MatchID, stats)
	return err
}

// printSummary writes the run statistics, whether or not the replay finished.
func printSummary(out io.Writer, matchID string, st feed.Stats) {
	var perSecond float64
	if st.Duration > 0 {
		perSecond = float64(st.Submitted) / st.Duration.Seconds()
	}
	fmt.Fprintf(out, "match %s: submitted=%d accepted=%d duplicate=%d retried=%d ended=%t duration=%s events/s=%.2f\n",
		matchID, st.Submitted, st.Accepted, st.Duplicate, st.Retried, st.Ended,
		st.Duration.Round(time.Millisecond), perSecond)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
