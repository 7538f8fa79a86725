package live

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"vitals-service/internal/models"
)

// fakeConn serves scripted frames and records writes.
type fakeConn struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	writes [][]byte
}

func newFakeConn(frames ...[]byte) *fakeConn {
	c := &fakeConn{frames: make(chan []byte, 16), closed: make(chan struct{})}
	for _, f := range frames {
		c.frames <- f
	}
	return c
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f, ok := <-c.frames:
		if !ok {
			return 0, nil, io.EOF
		}
		return 1, f, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

// scriptedDialer hands out conns in order, then fails.
type scriptedDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials atomic.Int32
}

func (d *scriptedDialer) Dial(ctx context.Context, url string) (Conn, error) {
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

func (d *scriptedDialer) push(c *fakeConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns = append(d.conns, c)
}

func mustEncode(t *testing.T, event string, data any) []byte {
	t.Helper()
	b, err := encode(event, data)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func nextEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestClientDeliversTypedEvents(t *testing.T) {
	sample := models.Sample{ID: "s-1", Score: 75}
	conn := newFakeConn(
		mustEncode(t, EventConnect, ConnectPayload{SessionID: "sess-1"}),
		mustEncode(t, EventUpdate, models.MetricUpdate{Metric: sample, Trend: models.TrendImproving}),
		mustEncode(t, EventPing, ProbePayload{Seq: 7}),
	)
	dialer := &scriptedDialer{conns: []*fakeConn{conn}}

	clock := time.Unix(1700000000, 0)
	var clockMu sync.Mutex
	now := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		clock = clock.Add(15 * time.Millisecond)
		return clock
	}

	client := NewClient(ClientOptions{URL: "ws://test/ws", Dialer: dialer, ReconnectDelay: time.Millisecond, Now: now})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	if ev, ok := nextEvent(t, client.Events()).(Connect); !ok || ev.SessionID != "sess-1" {
		t.Fatalf("expected connect event, got %#v", ev)
	}
	if ev, ok := nextEvent(t, client.Events()).(Update); !ok || ev.Metric.ID != "s-1" || ev.Trend != models.TrendImproving {
		t.Fatalf("expected update event, got %#v", ev)
	}

	waitFor(t, func() bool { return len(conn.written()) == 1 })
	env, err := decode(conn.written()[0])
	if err != nil || env.Event != EventPong {
		t.Fatalf("expected pong frame, got %s (%v)", conn.written()[0], err)
	}

	conn.frames <- mustEncode(t, EventPongAck, ProbePayload{Seq: 7})
	ev, ok := nextEvent(t, client.Events()).(Ping)
	if !ok || ev.Seq != 7 || ev.Latency != 15*time.Millisecond {
		t.Fatalf("expected ping with 15ms latency, got %#v", ev)
	}
}

func TestClientIgnoresMismatchedAck(t *testing.T) {
	conn := newFakeConn(
		mustEncode(t, EventPongAck, ProbePayload{Seq: 3}),
		[]byte("not json"),
		mustEncode(t, EventConnect, ConnectPayload{SessionID: "after"}),
	)
	client := NewClient(ClientOptions{Dialer: &scriptedDialer{conns: []*fakeConn{conn}}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	if ev, ok := nextEvent(t, client.Events()).(Connect); !ok || ev.SessionID != "after" {
		t.Fatalf("expected only the connect event, got %#v", ev)
	}
}

func TestClientStopsAfterMaxReconnectAttempts(t *testing.T) {
	conn := newFakeConn(mustEncode(t, EventConnect, ConnectPayload{SessionID: "s"}))
	close(conn.frames)
	dialer := &scriptedDialer{conns: []*fakeConn{conn}}

	client := NewClient(ClientOptions{
		Dialer:            dialer,
		ReconnectDelay:    time.Millisecond,
		ReconnectAttempts: 5,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	if _, ok := nextEvent(t, client.Events()).(Connect); !ok {
		t.Fatal("expected connect")
	}
	if _, ok := nextEvent(t, client.Events()).(Disconnect); !ok {
		t.Fatal("expected disconnect")
	}

	// One successful dial plus five failed reconnection attempts.
	waitFor(t, func() bool { return dialer.dials.Load() == 6 })
	time.Sleep(50 * time.Millisecond)
	if got := dialer.dials.Load(); got != 6 {
		t.Fatalf("expected no 6th reconnection attempt, got %d dials", got)
	}

	select {
	case ev := <-client.Events():
		t.Fatalf("unexpected event while exhausted: %#v", ev)
	default:
	}

	dialer.push(newFakeConn(mustEncode(t, EventConnect, ConnectPayload{SessionID: "again"})))
	client.Reconnect()
	if ev, ok := nextEvent(t, client.Events()).(Connect); !ok || ev.SessionID != "again" {
		t.Fatalf("expected reconnect after manual trigger, got %#v", ev)
	}
	if got := dialer.dials.Load(); got != 7 {
		t.Fatalf("expected 7 dials, got %d", got)
	}
}

func TestClientServerDisconnectReason(t *testing.T) {
	conn := newFakeConn(mustEncode(t, EventDisconnect, DisconnectPayload{Reason: "server shutdown"}))
	client := NewClient(ClientOptions{Dialer: &scriptedDialer{conns: []*fakeConn{conn}}, ReconnectDelay: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	ev, ok := nextEvent(t, client.Events()).(Disconnect)
	if !ok || ev.Reason != "server shutdown" {
		t.Fatalf("expected disconnect with reason, got %#v", ev)
	}
}

func TestClientRunEndsWithContext(t *testing.T) {
	conn := newFakeConn()
	client := NewClient(ClientOptions{Dialer: &scriptedDialer{conns: []*fakeConn{conn}}})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	// Drain so a pending Disconnect does not block shutdown.
	go func() {
		for range client.Events() {
		}
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
