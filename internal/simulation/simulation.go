// Package simulation is the boundary to the external match simulator.
package simulation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/okian/matchcast/internal/domain/model"
	"github.com/okian/matchcast/pkg/logger"
	"github.com/okian/matchcast/pkg/metrics"
)

// Sentinel errors.
var (
	ErrSimulatorRejected    = errors.New("simulator rejected start request")
	ErrSimulatorUnavailable = errors.New("simulator unavailable")
)

// Starter asks the simulator to begin emitting events for a match.
type Starter interface {
	StartMatch(ctx context.Context, req model.StartMatchRequest) error
}

// HTTPStarter posts start commands to the simulator.
type HTTPStarter struct {
	url    string
	client *http.Client
	logger logger.Logger
}

// Option configures an HTTPStarter.
type Option func(*HTTPStarter)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *HTTPStarter) {
		if c != nil {
			s.client = c
		}
	}
}

// WithTimeout sets the request timeout of the default client.
func WithTimeout(d time.Duration) Option {
	return func(s *HTTPStarter) {
		if d > 0 {
			s.client = &http.Client{Timeout: d}
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *HTTPStarter) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewHTTPStarter creates a starter that POSTs to baseURL.
func NewHTTPStarter(baseURL string, opts ...Option) *HTTPStarter {
	s := &HTTPStarter{
		url:    strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("simulation")
	}
	return s
}

// StartMatch sends the request. A 4xx reply maps to ErrSimulatorRejected
// carrying the simulator's message, anything else that is not 2xx maps to
// ErrSimulatorUnavailable.
func (s *HTTPStarter) StartMatch(ctx context.Context, req model.StartMatchRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal start request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/matches/"+url.PathEscape(req.MatchID)+"/start", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build start request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		metrics.RecordErrorByComponent("simulation", "transport")
		return fmt.Errorf("%w: %w", ErrSimulatorUnavailable, err)
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		s.logger.Info(ctx, "simulation started", logger.String("match_id", req.MatchID))
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		metrics.RecordErrorByComponent("simulation", "rejected")
		return fmt.Errorf("%w: %s", ErrSimulatorRejected, replyMessage(msg, resp.Status))
	default:
		metrics.RecordErrorByComponent("simulation", "unavailable")
		return fmt.Errorf("%w: %s", ErrSimulatorUnavailable, resp.Status)
	}
}

// replyMessage extracts {"message": ...} or falls back to the raw body.
func replyMessage(body []byte, status string) string {
	var reply struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &reply); err == nil {
		if reply.Message != "" {
			return reply.Message
		}
		if reply.Error != "" {
			return reply.Error
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return status
}

// NoopStarter accepts every request and remembers it. It is used when no
// simulator URL is configured, e.g. when events are replayed by match-feed.
type NoopStarter struct {
	mu      sync.Mutex
	started []model.StartMatchRequest
	logger  logger.Logger
}

// NewNoopStarter creates a NoopStarter.
func NewNoopStarter(l logger.Logger) *NoopStarter {
	if l == nil {
		l = logger.Get().Named("simulation")
	}
	return &NoopStarter{logger: l}
}

// StartMatch records req.
func (n *NoopStarter) StartMatch(ctx context.Context, req model.StartMatchRequest) error {
	n.mu.Lock()
	n.started = append(n.started, req)
	n.mu.Unlock()
	n.logger.Info(ctx, "no simulator configured, start request recorded",
		logger.String("match_id", req.MatchID),
		logger.String("home_team", req.HomeTeam.Name),
		logger.String("away_team", req.AwayTeam.Name),
	)
	return nil
}

// Started returns the recorded requests.
func (n *NoopStarter) Started() []model.StartMatchRequest {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.StartMatchRequest(nil), n.started...)
}
