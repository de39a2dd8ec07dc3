// Package service wires the registry, dispatcher, websocket hub and ingest
// pipeline into the matchcast server.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	eventqueue "github.com/okian/matchcast/internal/adapters/mq/queue"
	workerpool "github.com/okian/matchcast/internal/adapters/mq/worker"
	"github.com/okian/matchcast/internal/adapters/ws"
	"github.com/okian/matchcast/internal/dispatcher"
	"github.com/okian/matchcast/internal/domain/dedupe"
	"github.com/okian/matchcast/internal/domain/model"
	"github.com/okian/matchcast/internal/registry"
	"github.com/okian/matchcast/internal/simulation"
	"github.com/okian/matchcast/pkg/logger"
	"github.com/okian/matchcast/pkg/metrics"
)

const stopTimeout = 10 * time.Second

// IngestResult tells the caller what happened to a delivered event.
type IngestResult int

// Ingest outcomes.
const (
	IngestAccepted IngestResult = iota
	IngestDuplicate
)

// Service owns every server component.
type Service struct {
	mu sync.RWMutex

	registry   *registry.Registry
	hub        *ws.Hub
	dispatcher *dispatcher.Dispatcher
	deduper    dedupe.Deduper
	queue      *eventqueue.Sharded
	pool       *workerpool.Pool
	starter    simulation.Starter

	shardCount int
	queueSize  int
	dedupeSize int
	hubOpts    []ws.Option

	started   bool
	startedAt time.Time

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithShardCount sets the number of ingest shards, one worker each.
func WithShardCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.shardCount = count
		}
	}
}

// WithQueueSize sets the capacity of each ingest shard.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many event ids are remembered for retry detection.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStarter sets the simulator boundary.
func WithStarter(st simulation.Starter) Option {
	return func(s *Service) {
		if st != nil {
			s.starter = st
		}
	}
}

// WithHubOptions passes options through to the websocket hub.
func WithHubOptions(opts ...ws.Option) Option {
	return func(s *Service) {
		s.hubOpts = append(s.hubOpts, opts...)
	}
}

// New constructs the service. The channel is usable right away; ingest
// needs Start.
func New(opts ...Option) *Service {
	s := &Service{
		shardCount: runtime.NumCPU(),
		queueSize:  1024,
		dedupeSize: 50000,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	if s.starter == nil {
		s.starter = simulation.NewNoopStarter(s.logger.Named("simulation"))
	}

	s.registry = registry.New()
	hubOpts := append([]ws.Option{
		ws.WithLogger(s.logger.Named("hub")),
		ws.WithStarter(s.starter),
	}, s.hubOpts...)
	s.hub = ws.NewHub(s.registry, hubOpts...)
	s.dispatcher = dispatcher.New(s.registry, s.hub, dispatcher.WithLogger(s.logger.Named("dispatcher")))
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	return s
}

// Start builds the ingest pipeline and starts its workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.Info(ctx, "starting matchcast service...")

	s.queue = eventqueue.NewSharded(
		eventqueue.WithShards(s.shardCount),
		eventqueue.WithShardCapacity(s.queueSize),
	)
	// Workers outlive the start request; Stop drains them.
	s.pool = workerpool.NewPool(s.queue, s.dispatcher, workerpool.WithPoolLogger(s.logger.Named("worker")))
	s.pool.Start(context.WithoutCancel(ctx))

	s.started = true
	s.startedAt = time.Now()
	s.logger.Info(ctx, "matchcast service started",
		logger.Int("shards", s.shardCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
	)
	return nil
}

// Stop drains the ingest pipeline and closes every viewer channel.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	s.logger.Info(ctx, "stopping matchcast service...")
	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool shutdown incomplete", logger.Error(err))
	}
	s.hub.Close()

	s.started = false
	s.logger.Info(ctx, "matchcast service stopped")
}

// Channel returns the websocket endpoint handler.
func (s *Service) Channel() http.Handler {
	return s.hub
}

// Dispatcher returns the broadcast dispatcher.
func (s *Service) Dispatcher() *dispatcher.Dispatcher {
	return s.dispatcher
}

// Registry returns the subscription registry.
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// IngestEvent validates ev, drops retried deliveries and queues it for its
// match. An empty event match id is taken from matchID.
func (s *Service) IngestEvent(ctx context.Context, matchID string, ev model.MatchEvent) (IngestResult, error) { //nolint:gocritic // hugeParam
	q, err := s.ingestQueue()
	if err != nil {
		return 0, err
	}

	if strings.TrimSpace(ev.MatchID) == "" {
		ev.MatchID = matchID
	}
	if ev.MatchID != matchID {
		metrics.RecordIngest("invalid")
		return 0, fmt.Errorf("%w: path %q, body %q", ErrMatchID, matchID, ev.MatchID)
	}
	if err := ev.Validate(); err != nil {
		metrics.RecordIngest("invalid")
		return 0, err
	}

	if s.deduper.SeenAndRecord(ctx, ev.ID) {
		metrics.RecordIngest("duplicate")
		s.logger.Debug(ctx, "duplicate event dropped",
			logger.String("match_id", matchID),
			logger.String("event_id", ev.ID),
		)
		return IngestDuplicate, nil
	}

	item := eventqueue.Item{Kind: eventqueue.KindEvent, MatchID: matchID, Event: ev, Received: time.Now()}
	if err := q.Enqueue(ctx, item); err != nil {
		// Let the simulator retry the same id.
		s.deduper.Unrecord(ctx, ev.ID)
		return 0, s.enqueueError(err)
	}
	metrics.RecordIngest("accepted")
	return IngestAccepted, nil
}

// EndMatch queues the terminal signal behind the match's pending events.
func (s *Service) EndMatch(ctx context.Context, matchID string) error {
	q, err := s.ingestQueue()
	if err != nil {
		return err
	}
	if strings.TrimSpace(matchID) == "" {
		v := model.NewValidationError("invalid match end")
		v.Add("matchId", "is required")
		return v
	}
	item := eventqueue.Item{Kind: eventqueue.KindEnded, MatchID: matchID, Received: time.Now()}
	if err := q.Enqueue(ctx, item); err != nil {
		return s.enqueueError(err)
	}
	return nil
}

func (s *Service) enqueueError(err error) error {
	if errors.Is(err, eventqueue.ErrFull) {
		metrics.RecordIngest("backpressure")
		return fmt.Errorf("%w: %w", ErrBackpressure, err)
	}
	if errors.Is(err, eventqueue.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrNotStarted, err)
	}
	return err
}

func (s *Service) ingestQueue() (*eventqueue.Sharded, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.queue, nil
}

// Subscribers returns the number of viewers of matchID.
func (s *Service) Subscribers(matchID string) int {
	return s.registry.SubscriberCount(matchID)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reg := s.registry.Stats()
	stats := map[string]interface{}{
		"started":       s.started,
		"shardCount":    s.shardCount,
		"queueSize":     s.queueSize,
		"dedupeSize":    s.dedupeSize,
		"connections":   s.hub.Count(),
		"rooms":         reg.Rooms,
		"subscriptions": reg.Pairs,
		"dedupeEntries": s.deduper.Size(),
	}

	if s.started {
		ctx := context.Background()
		queueLen := s.queue.Len(ctx)
		stats["queueLength"] = queueLen
		stats["processed"] = s.pool.Processed()
		stats["uptimeSeconds"] = int64(time.Since(s.startedAt).Seconds())

		metrics.UpdateQueueSize(queueLen)
		metrics.UpdateWorkerCount(s.pool.Size())
	}
	metrics.UpdateSubscriptions(reg.Pairs, reg.Rooms)

	return stats
}
