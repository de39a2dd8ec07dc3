// Package worker drains ingest shards into the broadcast dispatcher.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/okian/matchcast/internal/adapters/mq/queue"
	"github.com/okian/matchcast/internal/dispatcher"
	"github.com/okian/matchcast/internal/domain/model"
	"github.com/okian/matchcast/pkg/logger"
	"github.com/okian/matchcast/pkg/metrics"
)

// Default worker configuration constants.
const (
	metricsUpdateInterval = 5 * time.Second
	poolShutdownTimeout   = 30 * time.Second
)

// Dispatcher is what workers hand items to.
type Dispatcher interface {
	Broadcast(ctx context.Context, matchID string, ev model.MatchEvent) (dispatcher.Result, error)
	BroadcastMatchEnded(ctx context.Context, matchID string) dispatcher.Result
}

// Queue defines how workers receive items.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Item
}

// Worker processes items from one queue.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue closes.
	Run(ctx context.Context)

	// Shutdown stops the worker without draining its queue.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker reads one queue and dispatches each item in order.
type InMemoryWorker struct {
	queue      Queue
	dispatcher Dispatcher
	name       string
	processed  atomic.Int64

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, d Dispatcher, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:      q,
		dispatcher: d,
		name:       "worker",
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Get().Named("worker")
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop. When the queue is closed the remaining items
// are dispatched before Run returns.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	items := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case it, ok := <-items:
			if !ok {
				return
			}
			if err := w.process(ctx, it); err != nil {
				w.logger.Error(ctx, "error processing item",
					logger.String("match_id", it.MatchID),
					logger.Error(err),
				)
			}
		}
	}
}

// Shutdown stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.shutdown:
	default:
		close(w.shutdown)
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Processed returns how many items this worker handled.
func (w *InMemoryWorker) Processed() int64 {
	return w.processed.Load()
}

func (w *InMemoryWorker) process(ctx context.Context, it queue.Item) error { //nolint:gocritic // hugeParam
	defer w.processed.Add(1)

	switch it.Kind {
	case queue.KindEnded:
		w.dispatcher.BroadcastMatchEnded(ctx, it.MatchID)
		return nil
	case queue.KindEvent:
		if _, err := w.dispatcher.Broadcast(ctx, it.MatchID, it.Event); err != nil {
			metrics.RecordErrorByComponent("worker", "broadcast")
			return fmt.Errorf("broadcast event %s: %w", it.Event.ID, err)
		}
		return nil
	default:
		metrics.RecordErrorByComponent("worker", "unknown_kind")
		return fmt.Errorf("unknown item kind %d", it.Kind)
	}
}

// Pool runs exactly one worker per shard, so a match is never handled by
// two workers at once.
type Pool struct {
	workers []*InMemoryWorker
	queue   *queue.Sharded

	shutdown chan struct{}
	started  atomic.Bool

	lastProcessed int64
	lastTick      time.Time

	logger logger.Logger
}

// NewPool creates one worker per shard of q.
func NewPool(q *queue.Sharded, d Dispatcher, opts ...PoolOption) *Pool {
	p := &Pool{
		queue:    q,
		shutdown: make(chan struct{}),
		lastTick: time.Now(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Get().Named("worker-pool")
	}

	shards := q.Shards()
	p.workers = make([]*InMemoryWorker, len(shards))
	for i, shard := range shards {
		p.workers[i] = NewInMemoryWorker(shard, d,
			WithName("worker-"+strconv.Itoa(i)),
			WithLogger(p.logger),
		)
	}
	metrics.UpdateWorkerCount(len(p.workers))
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Processed returns the total items handled by all workers.
func (p *Pool) Processed() int64 {
	var total int64
	for _, w := range p.workers {
		total += w.Processed()
	}
	return total
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	go p.startMetricsUpdater(ctx)
}

func (p *Pool) startMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case <-ticker.C:
			p.updateMetrics(ctx)
		}
	}
}

func (p *Pool) updateMetrics(ctx context.Context) {
	metrics.UpdateQueueSize(p.queue.Len(ctx))

	now := time.Now()
	total := p.Processed()
	if secs := now.Sub(p.lastTick).Seconds(); secs > 0 {
		p.logger.Debug(ctx, "worker throughput",
			logger.Float64("items_per_second", float64(total-p.lastProcessed)/secs),
			logger.Int("queued", p.queue.Len(ctx)),
		)
	}
	p.lastProcessed = total
	p.lastTick = now
}

// Shutdown closes the queue and waits for the workers to drain it.
func (p *Pool) Shutdown(ctx context.Context) error {
	if err := p.queue.Close(); err != nil {
		p.logger.Error(ctx, "error closing queue", logger.Error(err))
	}
	select {
	case <-p.shutdown:
	default:
		close(p.shutdown)
	}
	if !p.started.Load() {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			return fmt.Errorf("worker %d: %w", i, shutdownCtx.Err())
		}
	}
	metrics.UpdateQueueSize(0)
	return nil
}
