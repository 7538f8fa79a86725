package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"vitals-service/internal/logger"
	"vitals-service/internal/models"
)

const (
	DefaultReconnectDelay    = time.Second
	DefaultReconnectAttempts = 5
)

// Conn is the subset of *websocket.Conn the client uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type ClientOptions struct {
	URL               string
	Dialer            Dialer
	ReconnectDelay    time.Duration
	ReconnectAttempts int
	Logger            *slog.Logger
	Now               func() time.Time
}

// Client keeps one live-channel session open and turns frames into Events.
// After a disconnect it retries at a fixed delay, up to a bounded number of
// attempts, then waits for Reconnect.
type Client struct {
	url         string
	dialer      Dialer
	delay       time.Duration
	maxAttempts int
	log         *slog.Logger
	now         func() time.Time

	events  chan Event
	restart chan struct{}
}

func NewClient(opts ClientOptions) *Client {
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.ReconnectAttempts <= 0 {
		opts.ReconnectAttempts = DefaultReconnectAttempts
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Client{
		url:         opts.URL,
		dialer:      opts.Dialer,
		delay:       opts.ReconnectDelay,
		maxAttempts: opts.ReconnectAttempts,
		log:         opts.Logger.With("component", "live_client"),
		now:         opts.Now,
		events:      make(chan Event, 16),
		restart:     make(chan struct{}, 1),
	}
}

// Events is closed when Run returns.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Reconnect restarts the policy after attempts were exhausted. It is a no-op
// while a session is up or retries are still running.
func (c *Client) Reconnect() {
	select {
	case c.restart <- struct{}{}:
	default:
	}
}

// Run dials, serves sessions and applies the reconnection policy until ctx
// is cancelled.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.events)

	// 0 is the initial dial; 1..maxAttempts are delayed retries.
	attempt := 0
	for {
		if attempt > c.maxAttempts {
			c.log.Warn("live channel reconnect attempts exhausted", "attempts", c.maxAttempts)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.restart:
				c.log.Info("live channel reconnect requested")
				attempt = 0
				continue
			}
		}
		if attempt > 0 {
			if err := sleep(ctx, c.delay); err != nil {
				return err
			}
		}
		// Drain a stale restart request; this attempt already serves it.
		select {
		case <-c.restart:
		default:
		}

		conn, err := c.dialer.Dial(ctx, c.url)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("live channel dial failed", "attempt", attempt, "url", c.url, "error", err)
			attempt++
			continue
		}

		reason := c.session(ctx, conn)
		c.emit(ctx, Disconnect{Reason: reason})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Info("live channel disconnected", "reason", reason)
		attempt = 1
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) emit(ctx context.Context, ev Event) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}

// session reads frames until the connection ends and returns why it ended.
// It is the only writer on conn.
func (c *Client) session(ctx context.Context, conn Conn) string {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		_ = conn.Close()
	}()

	var (
		pendingSeq uint64
		pendingAt  time.Time
		pending    bool
	)

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return "client shutdown"
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return fmt.Sprintf("closed: %d %s", closeErr.Code, closeErr.Text)
			}
			return fmt.Sprintf("read: %v", err)
		}

		env, err := decode(frame)
		if err != nil {
			c.log.Warn("ignoring malformed frame", "error", err)
			continue
		}

		switch env.Event {
		case EventConnect:
			var p ConnectPayload
			if err := json.Unmarshal(env.Data, &p); err != nil {
				c.log.Warn("malformed connect payload", "error", err)
			}
			c.emit(ctx, Connect{SessionID: p.SessionID})

		case EventDisconnect:
			var p DisconnectPayload
			_ = json.Unmarshal(env.Data, &p)
			if p.Reason == "" {
				p.Reason = "server disconnect"
			}
			return p.Reason

		case EventUpdate:
			var update models.MetricUpdate
			if err := json.Unmarshal(env.Data, &update); err != nil {
				c.log.Warn("malformed metrics update", "error", err)
				continue
			}
			c.emit(ctx, Update{Metric: update.Metric, Trend: update.Trend})

		case EventPing:
			var p ProbePayload
			if err := json.Unmarshal(env.Data, &p); err != nil {
				c.log.Warn("malformed ping", "error", err)
				continue
			}
			pong, err := encode(EventPong, p)
			if err != nil {
				continue
			}
			pendingSeq, pendingAt, pending = p.Seq, c.now(), true
			if err := conn.WriteMessage(websocket.TextMessage, pong); err != nil {
				return fmt.Sprintf("write pong: %v", err)
			}

		case EventPongAck:
			var p ProbePayload
			if err := json.Unmarshal(env.Data, &p); err != nil || !pending || p.Seq != pendingSeq {
				continue
			}
			pending = false
			c.emit(ctx, Ping{Seq: p.Seq, Latency: c.now().Sub(pendingAt)})

		default:
			c.log.Debug("ignoring unknown event", "event", env.Event)
		}
	}
}
