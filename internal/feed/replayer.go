package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/okian/matchcast/pkg/logger"
)

// Defaults for a Replayer.
const (
	DefaultTimeout = 10 * time.Second
	DefaultRetries = 5

	retryBase = 100 * time.Millisecond
	retryCap  = 2 * time.Second
	errorBody = 512
)

// Stats summarizes one replay.
type Stats struct {
	Submitted int
	Accepted  int
	Duplicate int
	Retried   int
	Ended     bool
	Duration  time.Duration
}

// Replayer posts a script to a matchcast server one event at a time, in
// script order, sleeping Pace between events.
type Replayer struct {
	baseURL string
	client  *http.Client
	pace    time.Duration
	retries uint64
	health  bool
	logger  logger.Logger
}

// Option configures a Replayer.
type Option func(*Replayer)

// WithPace sets the delay between two events.
func WithPace(d time.Duration) Option {
	return func(r *Replayer) {
		if d >= 0 {
			r.pace = d
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Replayer) {
		if c != nil {
			r.client = c
		}
	}
}

// WithRetries sets how often a backpressured post is retried.
func WithRetries(n uint64) Option {
	return func(r *Replayer) {
		r.retries = n
	}
}

// WithHealthCheck toggles the /healthz probe before replaying.
func WithHealthCheck(enabled bool) Option {
	return func(r *Replayer) {
		r.health = enabled
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Replayer) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewReplayer creates a replayer for the server at baseURL.
func NewReplayer(baseURL string, opts ...Option) *Replayer {
	r := &Replayer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: DefaultTimeout},
		retries: DefaultRetries,
		health:  true,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.Get().Named("feed")
	}
	return r
}

// Run replays s. It stops at the first event the server refuses for good.
func (r *Replayer) Run(ctx context.Context, s *Script) (stats Stats, err error) {
	start := time.Now()
	defer func() { stats.Duration = time.Since(start) }()

	events, err := s.MatchEvents()
	if err != nil {
		return stats, err
	}
	if r.health {
		if err := r.checkHealth(ctx); err != nil {
			return stats, err
		}
	}

	r.logger.Info(ctx, "replaying match",
		logger.String("match_id", s.MatchID),
		logger.Int("events", len(events)),
		logger.Duration("pace", r.pace),
	)

	eventsURL := r.baseURL + "/matches/" + url.PathEscape(s.MatchID) + "/events"
	for i := range events {
		if i > 0 && r.pace > 0 {
			if err := sleep(ctx, r.pace); err != nil {
				return stats, err
			}
		}
		status, retried, err := r.post(ctx, eventsURL, events[i])
		stats.Submitted++
		stats.Retried += retried
		if err != nil {
			return stats, fmt.Errorf("event %s: %w", events[i].ID, err)
		}
		if status == http.StatusOK {
			stats.Duplicate++
		} else {
			stats.Accepted++
		}
		r.logger.Debug(ctx, "event posted",
			logger.String("event_id", events[i].ID),
			logger.String("type", string(events[i].Type)),
			logger.Int("minute", events[i].Minute),
		)
	}

	if s.End {
		if _, _, err := r.post(ctx, r.baseURL+"/matches/"+url.PathEscape(s.MatchID)+"/end", nil); err != nil {
			return stats, fmt.Errorf("end match: %w", err)
		}
		stats.Ended = true
	}

	r.logger.Info(ctx, "replay finished",
		logger.Int("submitted", stats.Submitted),
		logger.Int("accepted", stats.Accepted),
		logger.Int("duplicate", stats.Duplicate),
		logger.Int("retried", stats.Retried),
		logger.Bool("ended", stats.Ended),
	)
	return stats, nil
}

func (r *Replayer) checkHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnhealthy, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnhealthy, resp.StatusCode)
	}
	return nil
}

// post sends body to target, retrying while the server reports backpressure
// or is briefly unavailable. It returns the final status and the number of
// retries.
func (r *Replayer) post(ctx context.Context, target string, body any) (int, int, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return 0, 0, err
		}
	}

	b := retry.WithMaxRetries(r.retries, retry.WithCappedDuration(retryCap, retry.NewExponential(retryBase)))
	attempts, status := 0, 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempts++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := r.client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer func() { _ = resp.Body.Close() }()
		status = resp.StatusCode

		switch {
		case status == http.StatusOK || status == http.StatusAccepted:
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		case status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable:
			return retry.RetryableError(fmt.Errorf("server busy: status %d", status))
		default:
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBody))
			return fmt.Errorf("%w: status %d: %s", ErrRejected, status, strings.TrimSpace(string(msg)))
		}
	})
	if attempts > 0 {
		attempts--
	}
	return status, attempts, err
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
