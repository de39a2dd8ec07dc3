package client

import "sync"

// Feed fans one producer out to any number of listeners. Publishing never
// blocks: a listener whose buffer is full misses that value. Close completes
// every listener.
type Feed[T any] struct {
	mu        sync.Mutex
	listeners map[uint64]*listener[T]
	nextID    uint64
	buffer    int
	replay    bool
	last      T
	hasLast   bool
	closed    bool
}

type listener[T any] struct {
	ch   chan T
	keep func(T) bool
}

// Subscription is one listener on a Feed.
type Subscription[T any] struct {
	// C receives values until the feed closes or Cancel is called.
	C      <-chan T
	cancel func()
	once   sync.Once
}

// Cancel detaches the listener and closes C. It never affects the feed or
// other listeners.
func (s *Subscription[T]) Cancel() {
	s.once.Do(s.cancel)
}

// NewFeed creates a feed whose listeners buffer up to buffer values. With
// replayLatest a new listener first receives the most recent value.
func NewFeed[T any](buffer int, replayLatest bool) *Feed[T] {
	if buffer < 1 {
		buffer = 1
	}
	return &Feed[T]{
		listeners: make(map[uint64]*listener[T]),
		buffer:    buffer,
		replay:    replayLatest,
	}
}

// Subscribe adds a listener for every value.
func (f *Feed[T]) Subscribe() *Subscription[T] {
	return f.SubscribeFunc(nil)
}

// SubscribeFunc adds a listener that only receives values keep accepts.
func (f *Feed[T]) SubscribeFunc(keep func(T) bool) *Subscription[T] {
	f.mu.Lock()
	defer f.mu.Unlock()

	l := &listener[T]{ch: make(chan T, f.buffer), keep: keep}
	if f.closed {
		close(l.ch)
		return &Subscription[T]{C: l.ch, cancel: func() {}}
	}
	if f.replay && f.hasLast && l.accepts(f.last) {
		l.ch <- f.last
	}

	id := f.nextID
	f.nextID++
	f.listeners[id] = l
	return &Subscription[T]{C: l.ch, cancel: func() { f.remove(id) }}
}

func (l *listener[T]) accepts(v T) bool {
	return l.keep == nil || l.keep(v)
}

func (f *Feed[T]) remove(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.listeners[id]; ok {
		delete(f.listeners, id)
		close(l.ch)
	}
}

// Publish hands v to every listener and returns how many took it.
func (f *Feed[T]) Publish(v T) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0
	}
	f.last, f.hasLast = v, true

	delivered := 0
	for _, l := range f.listeners {
		if !l.accepts(v) {
			continue
		}
		select {
		case l.ch <- v:
			delivered++
		default:
		}
	}
	return delivered
}

// Latest returns the last published value.
func (f *Feed[T]) Latest() (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last, f.hasLast
}

// Listeners returns the number of attached listeners.
func (f *Feed[T]) Listeners() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

// Close completes every listener. Later publishes are dropped and later
// subscriptions receive an already closed channel.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, l := range f.listeners {
		delete(f.listeners, id)
		close(l.ch)
	}
}

// Closed reports whether Close was called.
func (f *Feed[T]) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
