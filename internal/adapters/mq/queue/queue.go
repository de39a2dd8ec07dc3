// Package queue buffers ingested match items between the HTTP ingress and the
// dispatch workers.
package queue

import (
	"context"
	"hash/fnv"
	"runtime"
	"sync"
	"time"

	"github.com/okian/matchcast/internal/domain/model"
	"github.com/okian/matchcast/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultQueueCapacity = 1024
)

// Kind tells a worker what to do with an item.
type Kind int

// Item kinds.
const (
	KindEvent Kind = iota
	KindEnded
)

// Item is one unit of ingest work for a match.
type Item struct {
	Kind     Kind
	MatchID  string
	Event    model.MatchEvent
	Received time.Time
}

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds an item. It never blocks; ErrFull and ErrClosed report
	// why an item was refused.
	Enqueue(ctx context.Context, it Item) error

	// Dequeue returns the channel items are read from. It is closed by Close.
	Dequeue(ctx context.Context) <-chan Item

	// Len returns the current number of queued items.
	Len(ctx context.Context) int

	// Close stops accepting items. Buffered items stay readable.
	Close() error
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	items    chan Item
	capacity int
	mu       sync.RWMutex
	closed   bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.items = make(chan Item, q.capacity)
	return q
}

// Enqueue adds an item to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, it Item) error { //nolint:gocritic // hugeParam: Item is passed by value for channel semantics
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordErrorByComponent("queue", "closed")
		return ErrClosed
	}

	select {
	case q.items <- it:
		return nil
	case <-ctx.Done():
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return ctx.Err()
	default:
		metrics.RecordErrorByComponent("queue", "queue_full")
		return ErrFull
	}
}

// Dequeue returns the item channel. A single reader preserves enqueue order.
func (q *InMemoryQueue) Dequeue(_ context.Context) <-chan Item {
	return q.items
}

// Len returns the current number of queued items.
func (q *InMemoryQueue) Len(_ context.Context) int {
	return len(q.items)
}

// Capacity returns the configured capacity.
func (q *InMemoryQueue) Capacity() int {
	return q.capacity
}

// Close gracefully shuts down the queue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.items)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

// Sharded routes items onto a fixed set of queues by match id, so all items
// of one match land on the same queue and keep their order.
type Sharded struct {
	shards        []*InMemoryQueue
	shardCount    int
	shardCapacity int
}

// NewSharded creates the shards.
func NewSharded(opts ...ShardedOption) *Sharded {
	s := &Sharded{
		shardCount:    runtime.NumCPU(),
		shardCapacity: defaultQueueCapacity,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.shards = make([]*InMemoryQueue, s.shardCount)
	for i := range s.shards {
		s.shards[i] = NewInMemoryQueue(WithCapacity(s.shardCapacity))
	}
	metrics.UpdateQueueCapacity(s.shardCount * s.shardCapacity)
	metrics.UpdateQueueSize(0)
	return s
}

// ShardFor returns the shard index for matchID.
func (s *Sharded) ShardFor(matchID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(matchID))
	return int(h.Sum32() % uint32(len(s.shards))) //nolint:gosec // shard count is small and positive
}

// Enqueue routes it to its match's shard.
func (s *Sharded) Enqueue(ctx context.Context, it Item) error { //nolint:gocritic // hugeParam
	if err := s.shards[s.ShardFor(it.MatchID)].Enqueue(ctx, it); err != nil {
		return err
	}
	metrics.UpdateQueueSize(s.Len(ctx))
	return nil
}

// Shards returns every shard, in index order.
func (s *Sharded) Shards() []*InMemoryQueue {
	return s.shards
}

// Len returns the total number of queued items.
func (s *Sharded) Len(ctx context.Context) int {
	total := 0
	for _, q := range s.shards {
		total += q.Len(ctx)
	}
	return total
}

// Capacity returns the total capacity across shards.
func (s *Sharded) Capacity() int {
	return len(s.shards) * s.shardCapacity
}

// Close closes every shard.
func (s *Sharded) Close() error {
	for _, q := range s.shards {
		_ = q.Close()
	}
	return nil
}
