// Package realtime maintains the single live socket of a session and fans
// decoded events out to subscribers.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/projecthub/hubchat/internal/metrics"
	"github.com/projecthub/hubchat/internal/models"
)

// ErrNoIdentity is returned by Connect when no viewer is known.
var ErrNoIdentity = errors.New("no viewer identity")

// State is the connection state of the bridge.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Default reconnect delays.
const (
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 10 * time.Second
)

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the bridge logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithBackoff sets the first and the largest reconnect delay.
func WithBackoff(initial, max time.Duration) Option {
	return func(b *Bridge) {
		if initial > 0 {
			b.initialBackoff = initial
		}
		if max >= b.initialBackoff {
			b.maxBackoff = max
		}
	}
}

// WithMetrics records connection and event counters into m.
func WithMetrics(m *metrics.Collector) Option {
	return func(b *Bridge) {
		b.metrics = m
	}
}

// Bridge owns the session's socket. It reconnects until Disconnect is called
// and is the only writer on the connection.
// Callbacks run on the bridge's read goroutine and must not call Connect or
// Disconnect.
type Bridge struct {
	dialer         Dialer
	logger         *slog.Logger
	metrics        *metrics.Collector
	initialBackoff time.Duration
	maxBackoff     time.Duration

	// lifecycle serializes Connect and Disconnect.
	lifecycle sync.Mutex

	mu       sync.Mutex
	state    State
	identity models.Identity
	conn     Conn
	cancel   context.CancelFunc
	done     chan struct{}
	nextID   int
	subs     map[int]func(models.Event)
	watchers map[int]func(State)
}

// NewBridge creates a disconnected bridge.
func NewBridge(dialer Dialer, opts ...Option) *Bridge {
	b := &Bridge{
		dialer:         dialer,
		logger:         slog.Default(),
		initialBackoff: DefaultInitialBackoff,
		maxBackoff:     DefaultMaxBackoff,
		subs:           make(map[int]func(models.Event)),
		watchers:       make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "realtime")
	return b
}

// Connect starts the connection for identity. Calling it again with the same
// identity is a no-op; a different identity tears the old connection down
// before the new one starts.
func (b *Bridge) Connect(identity models.Identity) error {
	if identity.IsZero() {
		return ErrNoIdentity
	}

	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	b.mu.Lock()
	running := b.done != nil
	same := running && models.SameID(b.identity.UserID, identity.UserID) && b.identity.Role == identity.Role
	b.mu.Unlock()

	if same {
		return nil
	}
	if running {
		b.logger.Info("viewer changed, reconnecting", "user_id", identity.UserID)
		b.teardown()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	b.mu.Lock()
	b.identity = identity
	b.cancel = cancel
	b.done = done
	b.mu.Unlock()

	b.setState(StateConnecting)
	go func() {
		defer close(done)
		b.run(ctx, identity)
	}()
	return nil
}

// Disconnect closes the connection and waits for the read loop to exit.
// No subscriber or watcher is called after it returns.
func (b *Bridge) Disconnect() {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()
	b.teardown()
}

// teardown stops the running connection. Caller must hold lifecycle.
func (b *Bridge) teardown() {
	b.mu.Lock()
	cancel, done, conn := b.cancel, b.done, b.conn
	b.cancel, b.done, b.conn = nil, nil, nil
	b.identity = models.Identity{}
	// Cancel under the lock so a concurrent attach sees it.
	if cancel != nil {
		cancel()
	}
	b.mu.Unlock()

	if cancel == nil {
		return
	}
	if conn != nil {
		_ = conn.Close()
	}
	<-done
	b.setState(StateDisconnected)
}

// State returns the current connection state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Identity returns the viewer the bridge is connected for.
func (b *Bridge) Identity() models.Identity {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.identity
}

// Subscribe registers fn for every decoded event and returns a function that
// removes it.
func (b *Bridge) Subscribe(fn func(models.Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Watch registers fn for state changes and returns a function that removes it.
func (b *Bridge) Watch(fn func(State)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.watchers[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.watchers, id)
	}
}

func (b *Bridge) setState(s State) {
	b.mu.Lock()
	if b.state == s {
		b.mu.Unlock()
		return
	}
	b.state = s
	watchers := make([]func(State), 0, len(b.watchers))
	for _, fn := range b.watchers {
		watchers = append(watchers, fn)
	}
	b.mu.Unlock()

	b.logger.Debug("connection state changed", "state", s.String())
	for _, fn := range watchers {
		fn(s)
	}
}

func (b *Bridge) publish(ev models.Event) {
	b.mu.Lock()
	subs := make([]func(models.Event), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}

func (b *Bridge) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.initialBackoff
	bo.MaxInterval = b.maxBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.2
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// run dials, announces and reads until ctx is cancelled, retrying with
// backoff after every failure.
func (b *Bridge) run(ctx context.Context, identity models.Identity) {
	bo := b.newBackOff()
	connectedOnce := false

	for ctx.Err() == nil {
		conn, err := b.dialer.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.metrics.Inc(metrics.CounterDialFailures)
			delay := bo.NextBackOff()
			b.logger.Warn("connect failed", "error", err, "retry_in", delay)
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		if !b.attach(ctx, conn) {
			_ = conn.Close()
			return
		}

		if err := b.announce(conn, identity); err != nil {
			b.detach(conn)
			if ctx.Err() != nil {
				return
			}
			delay := bo.NextBackOff()
			b.logger.Warn("join failed", "error", err, "retry_in", delay)
			b.setState(b.retryState(connectedOnce))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		bo.Reset()
		b.metrics.Inc(metrics.CounterConnects)
		if connectedOnce {
			b.metrics.Inc(metrics.CounterReconnects)
		}
		connectedOnce = true
		b.setState(StateConnected)
		b.logger.Info("connected", "user_id", identity.UserID, "role", identity.Role)

		err = b.readLoop(ctx, conn)
		b.detach(conn)
		if ctx.Err() != nil {
			return
		}

		b.setState(StateReconnecting)
		delay := bo.NextBackOff()
		b.logger.Warn("connection lost", "error", err, "retry_in", delay)
		if !sleep(ctx, delay) {
			return
		}
	}
}

func (b *Bridge) retryState(connectedOnce bool) State {
	if connectedOnce {
		return StateReconnecting
	}
	return StateConnecting
}

// attach records conn so Disconnect can close it. It reports false if the
// bridge was stopped while dialing.
func (b *Bridge) attach(ctx context.Context, conn Conn) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	b.conn = conn
	return true
}

func (b *Bridge) detach(conn Conn) {
	b.mu.Lock()
	if b.conn == conn {
		b.conn = nil
	}
	b.mu.Unlock()
	_ = conn.Close()
}

// announce joins the viewer's user and role channels.
func (b *Bridge) announce(conn Conn, identity models.Identity) error {
	frames, err := joinFrames(identity)
	if err != nil {
		return err
	}
	for _, f := range frames {
		if err := conn.WriteJSON(f); err != nil {
			return fmt.Errorf("send %s: %w", f.Event, err)
		}
	}
	return nil
}

func (b *Bridge) readLoop(ctx context.Context, conn Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read frame: %w", err)
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			b.metrics.Inc(metrics.CounterEventsIgnored)
			b.logger.Warn("malformed frame", "error", err, "frame", truncate(string(data), 120))
			continue
		}

		ev, err := DecodeEvent(f)
		if err != nil {
			b.metrics.Inc(metrics.CounterEventsIgnored)
			if errors.Is(err, errUnknownEvent) {
				b.logger.Debug("ignoring event", "event", f.Name())
			} else {
				b.logger.Warn("malformed event", "event", f.Name(), "error", err)
			}
			continue
		}
		b.metrics.Inc(metrics.CounterEventsReceived)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.publish(ev)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// truncate shortens s to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen < 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
