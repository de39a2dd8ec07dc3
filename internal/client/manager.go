// Package client is the viewer side of the match channel: a connection
// manager with a bounded reconnect budget, the derived event streams and the
// channel commands.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"

	"github.com/okian/matchcast/internal/client/state"
	"github.com/okian/matchcast/internal/domain/model"
	"github.com/okian/matchcast/internal/protocol"
	"github.com/okian/matchcast/pkg/logger"
)

// State is the connection state.
type State int

// Connection states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// session spans from the first Connect to Disconnect. Its context is the
// teardown signal every goroutine and stream listens for.
type session struct {
	ctx     context.Context
	cancel  context.CancelFunc
	streams *Streams
}

// Manager owns one channel to the match server.
type Manager struct {
	url            string
	token          string
	maxAttempts    int
	backoffFloor   time.Duration
	backoffCeiling time.Duration
	commandTimeout time.Duration
	streamBuffer   int
	autoReconnect  bool
	dialer         *websocket.Dialer
	store          *state.Store
	logger         logger.Logger

	mu       sync.Mutex
	state    State
	attempts int
	conn     *websocket.Conn
	sess     *session
	pending  map[string]chan protocol.Ack
	watching map[string]struct{}
	// cycle is closed when the connect cycle in progress ends.
	cycle chan struct{}

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// New creates a manager for the websocket url. Nothing is dialed until
// Connect.
func New(url string, opts ...Option) *Manager {
	m := &Manager{
		url:            url,
		maxAttempts:    DefaultMaxReconnectAttempts,
		backoffFloor:   DefaultBackoffFloor,
		backoffCeiling: DefaultBackoffCeiling,
		commandTimeout: DefaultCommandTimeout,
		streamBuffer:   DefaultStreamBuffer,
		autoReconnect:  true,
		dialer:         websocket.DefaultDialer,
		pending:        make(map[string]chan protocol.Ack),
		watching:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logger.Get().Named("client")
	}
	m.sess = m.newSession()
	return m
}

func (m *Manager) newSession() *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{ctx: ctx, cancel: cancel, streams: newStreams(m.streamBuffer)}
	s.streams.status.Publish(false)
	return s
}

// Streams returns the flows of the current session. After Disconnect they
// are complete; the next Connect starts fresh ones.
func (m *Manager) Streams() *Streams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess.streams
}

// State returns the connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns the failed attempts of the current connect cycle.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Watching returns the matches this manager is subscribed to, sorted.
func (m *Manager) Watching() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.watching))
	for id := range m.watching {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Connect opens the channel. It is a no-op while connected. While a
// reconnect is in progress it waits for that cycle and reports its outcome.
// Failed attempts are retried with capped exponential backoff; when the
// budget is spent a fatal *ConnectionError is published once on the error
// stream and returned.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateConnected:
		m.mu.Unlock()
		return nil
	case StateConnecting:
		cycle := m.cycle
		m.mu.Unlock()
		return m.await(ctx, cycle)
	}
	if m.sess.streams.closed() {
		m.sess = m.newSession()
	}
	m.beginCycle()
	m.attempts = 0
	sess := m.sess
	m.mu.Unlock()

	return m.connect(ctx, sess)
}

// await blocks until cycle ends and reports whether it left the manager
// connected.
func (m *Manager) await(ctx context.Context, cycle <-chan struct{}) error {
	select {
	case <-cycle:
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.state == StateConnected:
		return nil
	case m.attempts == 0:
		return fmt.Errorf("%w: disconnected while connecting", ErrNotConnected)
	default:
		return &ConnectionError{Attempts: m.attempts, Fatal: true}
	}
}

// beginCycle and endCycle must be called with m.mu held.
func (m *Manager) beginCycle() {
	m.state = StateConnecting
	m.cycle = make(chan struct{})
}

func (m *Manager) endCycle(st State) {
	m.state = st
	if m.cycle != nil {
		close(m.cycle)
		m.cycle = nil
	}
}

func (m *Manager) backoff() retry.Backoff {
	b := retry.NewExponential(m.backoffFloor)
	b = retry.WithCappedDuration(m.backoffCeiling, b)
	return retry.WithMaxRetries(uint64(m.maxAttempts-1), b) //nolint:gosec // maxAttempts is positive
}

func (m *Manager) connect(ctx context.Context, sess *session) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(sess.ctx, cancel)
	defer stop()

	var lastErr error
	err := retry.Do(ctx, m.backoff(), func(ctx context.Context) error {
		conn, err := m.dial(ctx)
		if err != nil {
			lastErr = err
			m.mu.Lock()
			m.attempts++
			n := m.attempts
			m.mu.Unlock()
			m.logger.Warn(ctx, "connect attempt failed",
				logger.Int("attempt", n),
				logger.Int("max_attempts", m.maxAttempts),
				logger.Error(err),
			)
			return retry.RetryableError(err)
		}
		return m.attach(sess, conn)
	})
	if err == nil {
		return nil
	}

	m.mu.Lock()
	if m.sess == sess && m.state == StateConnecting {
		m.endCycle(StateDisconnected)
	}
	attempts := m.attempts
	m.mu.Unlock()

	if sess.ctx.Err() != nil {
		return fmt.Errorf("%w: disconnected while connecting", ErrNotConnected)
	}
	if ctx.Err() != nil && attempts < m.maxAttempts {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	}

	fatal := &ConnectionError{Attempts: attempts, Fatal: true, Cause: lastErr}
	m.logger.Error(ctx, "giving up on match server", logger.Int("attempts", attempts), logger.Error(lastErr))
	sess.streams.errors.Publish(fatal.Error())
	if m.store != nil {
		m.store.SetError(fatal.Error())
	}
	return fatal
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if m.token != "" {
		header.Set("Authorization", "Bearer "+m.token)
	}
	conn, resp, err := m.dialer.DialContext(ctx, m.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", m.url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", m.url, err)
	}
	return conn, nil
}

// attach installs conn as the live channel unless the session was torn down
// meanwhile, then rejoins every watched match.
func (m *Manager) attach(sess *session, conn *websocket.Conn) error {
	m.mu.Lock()
	if sess.ctx.Err() != nil || m.sess != sess {
		m.mu.Unlock()
		_ = conn.Close()
		return sess.ctx.Err()
	}
	m.conn = conn
	m.endCycle(StateConnected)
	m.attempts = 0
	matches := make([]string, 0, len(m.watching))
	for id := range m.watching {
		matches = append(matches, id)
	}
	sort.Strings(matches)
	m.wg.Add(1)
	m.mu.Unlock()

	go m.readLoop(sess, conn)
	sess.streams.status.Publish(true)
	m.logger.Info(sess.ctx, "connected to match server", logger.String("url", m.url))

	// Rejoin rooms kept from before a drop. Acks carry ids nobody waits for
	// and are dropped.
	for _, id := range matches {
		env := protocol.MustEncode(protocol.TypeSubscribe, "rejoin-"+uuid.NewString(), protocol.MatchRef{MatchID: id})
		if err := m.write(conn, env); err != nil {
			m.logger.Warn(sess.ctx, "rejoin failed", logger.String("match_id", id), logger.Error(err))
			break
		}
	}
	return nil
}

func (m *Manager) readLoop(sess *session, conn *websocket.Conn) {
	defer m.wg.Done()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.dropped(sess, conn, err)
			return
		}
		m.route(sess, data)
	}
}

func (m *Manager) route(sess *session, data []byte) {
	streams := sess.streams
	env, err := protocol.Decode(data)
	if err != nil {
		m.channelError(sess, fmt.Errorf("%w: %w", ErrChannel, err))
		return
	}

	switch env.Type {
	case protocol.TypeAck:
		var ack protocol.Ack
		if err := env.DecodePayload(&ack); err != nil {
			m.channelError(sess, fmt.Errorf("%w: %w", ErrChannel, err))
			return
		}
		m.mu.Lock()
		ch, ok := m.pending[env.ID]
		delete(m.pending, env.ID)
		m.mu.Unlock()
		if ok {
			ch <- ack
		}

	case protocol.TypeMatchEvent:
		var ev model.MatchEvent
		if err := env.DecodePayload(&ev); err != nil {
			m.channelError(sess, fmt.Errorf("%w: %w", ErrChannel, err))
			return
		}
		if m.store != nil {
			if id := m.store.MatchID(); id == "" || id == ev.MatchID {
				m.store.AddMatchEvent(ev)
			}
		}
		streams.events.Publish(ev)

	case protocol.TypeMatchEnded:
		var ref protocol.MatchRef
		if err := env.DecodePayload(&ref); err != nil {
			m.channelError(sess, fmt.Errorf("%w: %w", ErrChannel, err))
			return
		}
		if m.store != nil && m.store.MatchID() == ref.MatchID {
			m.store.EndMatch()
		}
		streams.matchEnded.Publish(ref.MatchID)

	case protocol.TypeError:
		msg := protocol.NormalizeError(env.Payload)
		if m.store != nil {
			m.store.SetError(msg)
		}
		streams.errors.Publish(msg)

	default:
		m.channelError(sess, fmt.Errorf("%w: unexpected message type %q", ErrChannel, env.Type))
	}
}

func (m *Manager) channelError(sess *session, err error) {
	m.logger.Warn(sess.ctx, "bad message from match server", logger.Error(err))
	if m.store != nil {
		m.store.SetError(err.Error())
	}
	sess.streams.errors.Publish(err.Error())
}

// dropped handles the end of a read loop. A drop nobody asked for is
// published as a non-fatal error and, when enabled, starts a new connect
// cycle that rejoins the watched matches.
func (m *Manager) dropped(sess *session, conn *websocket.Conn, cause error) {
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.state = StateDisconnected
	pending := m.takePending()
	voluntary := sess.ctx.Err() != nil
	reconnect := !voluntary && m.autoReconnect
	if reconnect {
		m.beginCycle()
		m.attempts = 0
		m.wg.Add(1)
	}
	m.mu.Unlock()

	_ = conn.Close()
	failPending(pending)
	if voluntary {
		return
	}

	lost := &ConnectionError{Cause: cause}
	m.logger.Warn(sess.ctx, "lost connection to match server", logger.Error(cause))
	sess.streams.status.Publish(false)
	sess.streams.errors.Publish(lost.Error())
	if m.store != nil {
		m.store.SetError(lost.Error())
	}

	if reconnect {
		go func() {
			defer m.wg.Done()
			_ = m.connect(sess.ctx, sess)
		}()
	}
}

// takePending must be called with m.mu held.
func (m *Manager) takePending() map[string]chan protocol.Ack {
	pending := m.pending
	m.pending = make(map[string]chan protocol.Ack)
	return pending
}

func failPending(pending map[string]chan protocol.Ack) {
	for _, ch := range pending {
		close(ch)
	}
}

// Disconnect tears the session down: the channel is closed, background
// goroutines exit, every stream completes and the attempt counter resets.
// Calling it again is a no-op.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	sess := m.sess
	if sess.streams.closed() {
		m.mu.Unlock()
		return
	}
	sess.cancel()
	conn := m.conn
	m.conn = nil
	m.endCycle(StateDisconnected)
	m.attempts = 0
	pending := m.takePending()
	m.watching = make(map[string]struct{})
	m.mu.Unlock()

	failPending(pending)
	if conn != nil {
		m.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		m.writeMu.Unlock()
		_ = conn.Close()
	}
	m.wg.Wait()

	sess.streams.status.Publish(false)
	sess.streams.close()
	m.logger.Info(context.Background(), "disconnected from match server")
}

func (m *Manager) write(conn *websocket.Conn, env protocol.Envelope) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(env)
}

// command sends one envelope and waits for its ack.
func (m *Manager) command(ctx context.Context, t protocol.Type, payload any) error {
	env, err := protocol.Encode(t, uuid.NewString(), payload)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrChannel, err)
	}

	m.mu.Lock()
	if m.state != StateConnected || m.conn == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot %s", ErrNotConnected, t)
	}
	conn := m.conn
	ch := make(chan protocol.Ack, 1)
	m.pending[env.ID] = ch
	m.mu.Unlock()

	if err := m.write(conn, env); err != nil {
		m.forget(env.ID)
		return fmt.Errorf("%w: send %s: %w", ErrChannel, t, err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.commandTimeout)
	defer cancel()
	select {
	case ack, ok := <-ch:
		if !ok {
			return fmt.Errorf("%w: channel closed before %s was acknowledged", ErrNotConnected, t)
		}
		if !ack.Success {
			return fmt.Errorf("%w: %s", ErrRejected, ack.Message)
		}
		return nil
	case <-ctx.Done():
		m.forget(env.ID)
		return fmt.Errorf("%w: waiting for %s ack: %w", ErrChannel, t, ctx.Err())
	}
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}

// SubscribeToMatch joins the room of matchID. Without a live channel it
// fails with ErrNotConnected and sends nothing.
func (m *Manager) SubscribeToMatch(ctx context.Context, matchID string) error {
	if err := m.command(ctx, protocol.TypeSubscribe, protocol.MatchRef{MatchID: matchID}); err != nil {
		m.surface(err)
		return err
	}
	m.mu.Lock()
	m.watching[matchID] = struct{}{}
	m.mu.Unlock()
	return nil
}

// UnsubscribeFromMatch leaves the room of matchID.
func (m *Manager) UnsubscribeFromMatch(ctx context.Context, matchID string) error {
	if err := m.command(ctx, protocol.TypeUnsubscribe, protocol.MatchRef{MatchID: matchID}); err != nil {
		m.surface(err)
		return err
	}
	m.mu.Lock()
	delete(m.watching, matchID)
	m.mu.Unlock()
	return nil
}

// StartMatch asks the server to start req. With a store the projection is
// created as pending first, confirmed on a successful ack and rolled back
// otherwise.
func (m *Manager) StartMatch(ctx context.Context, req model.StartMatchRequest) error {
	if m.State() != StateConnected {
		err := fmt.Errorf("%w: cannot %s", ErrNotConnected, protocol.TypeStartMatch)
		m.surface(err)
		return err
	}
	if m.store != nil {
		m.store.StartMatch(req)
	}
	if err := m.command(ctx, protocol.TypeStartMatch, req); err != nil {
		if m.store != nil {
			m.store.Rollback(req.MatchID)
		}
		m.surface(err)
		return err
	}
	if m.store != nil {
		m.store.Confirm(req.MatchID)
	}
	return nil
}

// surface records a command error in the store so a view can show it.
func (m *Manager) surface(err error) {
	if m.store != nil && !errors.Is(err, context.Canceled) {
		m.store.SetError(err.Error())
	}
}
