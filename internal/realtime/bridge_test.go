package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/projecthub/hubchat/internal/metrics"
	"github.com/projecthub/hubchat/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn is an in-memory Conn fed through a channel.
type fakeConn struct {
	in      chan []byte
	closed  chan struct{}
	once    sync.Once
	mu      sync.Mutex
	written []Frame
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.in:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	select {
	case <-c.closed:
		return errors.New("use of closed connection")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, v.(Frame))
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) writtenEvents() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.written))
	for i, f := range c.written {
		out[i] = f.Event
	}
	return out
}

// fakeDialer hands out queued conns, failing when the queue is empty.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials atomic.Int32
}

func (d *fakeDialer) push(c *fakeConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns = append(d.conns, c)
}

func (d *fakeDialer) Dial(ctx context.Context) (Conn, error) {
	d.dials.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil, errors.New("connection refused")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func newTestBridge(d Dialer, m *metrics.Collector) *Bridge {
	return NewBridge(d,
		WithLogger(quietLogger()),
		WithBackoff(5*time.Millisecond, 20*time.Millisecond),
		WithMetrics(m),
	)
}

func frame(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestConnectRequiresIdentity(t *testing.T) {
	b := newTestBridge(&fakeDialer{}, nil)
	require.ErrorIs(t, b.Connect(models.Identity{}), ErrNoIdentity)
	assert.Equal(t, StateDisconnected, b.State())
}

func TestBridgeDeliversEvents(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{}
	d.push(conn)
	m := metrics.NewCollector()
	b := newTestBridge(d, m)

	events := make(chan models.Event, 4)
	unsub := b.Subscribe(func(ev models.Event) { events <- ev })
	defer unsub()

	require.NoError(t, b.Connect(models.Identity{UserID: "u1", Role: "developer"}))
	defer b.Disconnect()

	require.Eventually(t, func() bool { return b.State() == StateConnected }, waitFor, time.Millisecond)
	assert.Equal(t, []string{eventJoinUser, eventJoinRole}, conn.writtenEvents())

	conn.in <- []byte(`not json`)
	conn.in <- frame(t, map[string]any{"event": "typing", "data": map[string]any{}})
	conn.in <- frame(t, map[string]any{
		"event": "new_message",
		"data":  map[string]any{"conversationId": "c1", "message": map[string]any{"id": "m1", "content": "hi"}},
	})

	select {
	case ev := <-events:
		assert.Equal(t, models.EventNewMessage, ev.Type)
		assert.Equal(t, models.ID("c1"), ev.ConversationID)
	case <-time.After(waitFor):
		t.Fatal("event not delivered")
	}
	assert.Equal(t, int64(1), m.Counter(metrics.CounterEventsReceived))
	assert.Equal(t, int64(2), m.Counter(metrics.CounterEventsIgnored))
}

func TestBridgeReconnectsAndRejoins(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	d := &fakeDialer{}
	d.push(first)
	m := metrics.NewCollector()
	b := newTestBridge(d, m)

	var mu sync.Mutex
	var states []State
	b.Watch(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
	})

	require.NoError(t, b.Connect(models.Identity{UserID: "u1", Role: "admin"}))
	require.Eventually(t, func() bool { return b.State() == StateConnected }, waitFor, time.Millisecond)

	// Drop the connection; the next dials fail until a conn is queued.
	first.Close()
	require.Eventually(t, func() bool { return d.dials.Load() >= 3 }, waitFor, time.Millisecond)
	assert.Equal(t, StateReconnecting, b.State())

	d.push(second)
	require.Eventually(t, func() bool { return b.State() == StateConnected }, waitFor, time.Millisecond)
	assert.Equal(t, []string{eventJoinUser, eventJoinRole}, second.writtenEvents(), "channels re-announced")

	b.Disconnect()
	assert.Equal(t, StateDisconnected, b.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateConnecting, StateConnected, StateReconnecting, StateConnected, StateDisconnected}, states)
	assert.Equal(t, int64(2), m.Counter(metrics.CounterConnects))
	assert.Equal(t, int64(1), m.Counter(metrics.CounterReconnects))
	assert.GreaterOrEqual(t, m.Counter(metrics.CounterDialFailures), int64(2))
}

func TestDisconnectStopsCallbacks(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{}
	d.push(conn)
	b := newTestBridge(d, nil)

	var delivered atomic.Int32
	b.Subscribe(func(models.Event) { delivered.Add(1) })

	require.NoError(t, b.Connect(models.Identity{UserID: "u1"}))
	require.Eventually(t, func() bool { return b.State() == StateConnected }, waitFor, time.Millisecond)

	b.Disconnect()
	assert.Equal(t, StateDisconnected, b.State())

	// Frames queued after teardown are never read.
	conn.in <- frame(t, map[string]any{"event": "message_deleted", "data": map[string]any{"messageId": "m1"}})
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, delivered.Load())

	// Disconnect is idempotent.
	b.Disconnect()
}

func TestDisconnectWhileDialing(t *testing.T) {
	d := &fakeDialer{}
	b := newTestBridge(d, nil)

	require.NoError(t, b.Connect(models.Identity{UserID: "u1"}))
	require.Eventually(t, func() bool { return d.dials.Load() >= 2 }, waitFor, time.Millisecond)
	assert.Equal(t, StateConnecting, b.State(), "never connected, so not reconnecting")

	b.Disconnect()
	assert.Equal(t, StateDisconnected, b.State())
}

func TestConnectWithNewIdentityReplacesConnection(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	d := &fakeDialer{}
	d.push(first)
	d.push(second)
	b := newTestBridge(d, nil)
	defer b.Disconnect()

	require.NoError(t, b.Connect(models.Identity{UserID: "u1"}))
	require.Eventually(t, func() bool { return b.State() == StateConnected }, waitFor, time.Millisecond)

	require.NoError(t, b.Connect(models.Identity{UserID: "u1"}), "same identity is a no-op")
	assert.Equal(t, int32(1), d.dials.Load())

	require.NoError(t, b.Connect(models.Identity{UserID: "u2"}))
	select {
	case <-first.closed:
	default:
		t.Fatal("old connection must be closed before the new one starts")
	}
	require.Eventually(t, func() bool { return b.State() == StateConnected }, waitFor, time.Millisecond)
	assert.Equal(t, models.ID("u2"), b.Identity().UserID)
}

func TestUnsubscribe(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{}
	d.push(conn)
	b := newTestBridge(d, nil)
	defer b.Disconnect()

	var kept, dropped atomic.Int32
	b.Subscribe(func(models.Event) { kept.Add(1) })
	unsub := b.Subscribe(func(models.Event) { dropped.Add(1) })
	unsub()

	require.NoError(t, b.Connect(models.Identity{UserID: "u1"}))
	conn.in <- frame(t, map[string]any{"event": "message_deleted", "data": map[string]any{"messageId": "m1"}})

	require.Eventually(t, func() bool { return kept.Load() == 1 }, waitFor, time.Millisecond)
	assert.Zero(t, dropped.Load())
}

func TestBackoffIsCapped(t *testing.T) {
	b := NewBridge(&fakeDialer{}, WithBackoff(10*time.Millisecond, 40*time.Millisecond))
	bo := b.newBackOff()
	for i := 0; i < 20; i++ {
		d := bo.NextBackOff()
		assert.Greater(t, d, time.Duration(0), "retries are unbounded")
		assert.LessOrEqual(t, d, 48*time.Millisecond, "capped including jitter")
	}
}

func TestWebsocketEndToEnd(t *testing.T) {
	upgrader := websocket.Upgrader{}
	joined := make(chan Frame, 8)
	var connections atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := connections.Add(1)

		for i := 0; i < 2; i++ {
			var f Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			joined <- f
		}

		if n == 1 {
			// Kill the first connection to force a reconnect.
			return
		}
		_ = conn.WriteJSON(map[string]any{
			"event": "new_message",
			"data": map[string]any{
				"conversationId": 9,
				"message":        map[string]any{"id": 100, "content": "over the wire", "sender": map[string]any{"userId": "u2"}},
			},
		})
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	dialer := WebsocketDialer{URL: SocketURL(srv.URL), Token: "tok"}
	require.True(t, strings.HasPrefix(dialer.URL, "ws://"))

	b := newTestBridge(dialer, nil)
	events := make(chan models.Event, 1)
	b.Subscribe(func(ev models.Event) { events <- ev })

	require.NoError(t, b.Connect(models.Identity{UserID: "u1", Role: "admin"}))
	defer b.Disconnect()

	select {
	case ev := <-events:
		assert.Equal(t, models.ID("9"), ev.ConversationID)
		assert.Equal(t, models.ID("100"), ev.Message.ID)
		assert.Equal(t, "over the wire", ev.Message.Content)
	case <-time.After(5 * time.Second):
		t.Fatal("no event over websocket")
	}

	assert.Equal(t, int32(2), connections.Load())
	require.Len(t, joined, 4)
	for i := 0; i < 2; i++ {
		user, role := <-joined, <-joined
		assert.Equal(t, eventJoinUser, user.Event)
		assert.JSONEq(t, `{"userId":"u1"}`, string(user.Data))
		assert.Equal(t, eventJoinRole, role.Event)
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short", "héllo", 10, "héllo"},
		{"ascii", "abcdefgh", 5, "ab..."},
		{"multi-byte", "ääääääää", 5, "ää..."},
		{"emoji", "👋👋👋👋", 2, "👋👋"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.max)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}
