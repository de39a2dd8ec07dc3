// Package dispatcher fans match events out to the connections subscribed to
// their match.
package dispatcher

import (
	"context"
	"time"

	"github.com/okian/matchcast/internal/domain/model"
	"github.com/okian/matchcast/internal/protocol"
	"github.com/okian/matchcast/pkg/logger"
	"github.com/okian/matchcast/pkg/metrics"
)

// Subscribers lists the connections currently in a match room.
type Subscribers interface {
	Subscribers(matchID string) []string
}

// Sender pushes one envelope to a connection without blocking. It returns
// false when the connection is gone or its buffer is full.
type Sender interface {
	Send(env protocol.Envelope) bool
}

// Connections resolves a connection id to its sender.
type Connections interface {
	Lookup(connID string) (Sender, bool)
}

// Result describes one fan-out.
type Result struct {
	Subscribers int
	Delivered   int
	Dropped     int
}

// Dispatcher delivers events at most once and best effort: nothing is
// persisted and nothing is retried.
type Dispatcher struct {
	subs   Subscribers
	conns  Connections
	logger logger.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a dispatcher over a subscriber source and a connection lookup.
func New(subs Subscribers, conns Connections, opts ...Option) *Dispatcher {
	d := &Dispatcher{subs: subs, conns: conns}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = logger.Get().Named("dispatcher")
	}
	return d
}

// Broadcast pushes ev to every connection subscribed to matchID.
func (d *Dispatcher) Broadcast(ctx context.Context, matchID string, ev model.MatchEvent) (Result, error) {
	start := time.Now()
	env, err := protocol.Encode(protocol.TypeMatchEvent, "", ev)
	if err != nil {
		metrics.RecordErrorByComponent("dispatcher", "encode")
		return Result{}, err
	}
	res := d.fanOut(matchID, env)
	latency := time.Since(start)
	metrics.RecordBroadcast(string(ev.Type), res.Delivered, res.Dropped, float64(latency.Microseconds())/1000)

	d.logger.Info(ctx, "match event broadcast",
		logger.String("match_id", matchID),
		logger.String("event_id", ev.ID),
		logger.String("type", string(ev.Type)),
		logger.Int("minute", ev.Minute),
		logger.Int("subscribers", res.Subscribers),
		logger.Int("delivered", res.Delivered),
		logger.Int("dropped", res.Dropped),
	)
	return res, nil
}

// BroadcastMatchEnded tells every subscriber that the stream for matchID is
// closed.
func (d *Dispatcher) BroadcastMatchEnded(ctx context.Context, matchID string) Result {
	env := protocol.MustEncode(protocol.TypeMatchEnded, "", protocol.MatchRef{MatchID: matchID})
	res := d.fanOut(matchID, env)
	metrics.RecordMatchEnded()

	d.logger.Info(ctx, "match ended broadcast",
		logger.String("match_id", matchID),
		logger.Int("subscribers", res.Subscribers),
		logger.Int("delivered", res.Delivered),
	)
	return res
}

// fanOut pushes env to each subscriber independently. A slow or dead
// subscriber only loses its own copy.
func (d *Dispatcher) fanOut(matchID string, env protocol.Envelope) Result {
	ids := d.subs.Subscribers(matchID)
	res := Result{Subscribers: len(ids)}
	for _, id := range ids {
		sender, ok := d.conns.Lookup(id)
		if ok && sender.Send(env) {
			res.Delivered++
			continue
		}
		res.Dropped++
	}
	return res
}
