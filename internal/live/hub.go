package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"vitals-service/internal/logger"
	"vitals-service/internal/models"
)

const (
	DefaultPingInterval = 25 * time.Second
	DefaultQueueSize    = 64

	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

var liveSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "vitals_live_subscribers",
	Help: "Number of dashboards connected to the live channel",
})

var liveDropped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "vitals_live_dropped_subscribers_total",
	Help: "Subscribers disconnected because their outbound queue was full",
})

type HubOptions struct {
	PingInterval time.Duration
	QueueSize    int
	Logger       *slog.Logger
}

// Hub fans metric updates out to every connected dashboard. Its subscriber
// set is owned by Run.
type Hub struct {
	register   chan *subscriber
	unregister chan *subscriber
	broadcast  chan []byte
	done       chan struct{}

	upgrader     websocket.Upgrader
	pingInterval time.Duration
	queueSize    int
	log          *slog.Logger
	count        atomic.Int64
}

type subscriber struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	acks chan uint64
	once sync.Once
}

func (s *subscriber) closeSend() {
	s.once.Do(func() { close(s.send) })
}

func NewHub(opts HubOptions) *Hub {
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	return &Hub{
		register:   make(chan *subscriber),
		unregister: make(chan *subscriber),
		broadcast:  make(chan []byte),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		pingInterval: opts.PingInterval,
		queueSize:    opts.QueueSize,
		log:          opts.Logger.With("component", "live_hub"),
	}
}

// Run owns the subscriber set until ctx is cancelled, then tells every
// subscriber the server is going away.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	clients := make(map[*subscriber]struct{})

	for {
		select {
		case <-ctx.Done():
			bye, _ := encode(EventDisconnect, DisconnectPayload{Reason: "server shutdown"})
			for c := range clients {
				select {
				case c.send <- bye:
				default:
				}
				h.drop(clients, c)
			}
			h.log.Info("live hub stopped")
			return
		case c := <-h.register:
			clients[c] = struct{}{}
			h.count.Add(1)
			liveSubscribers.Inc()
			h.log.Debug("subscriber registered", "session", c.id)
		case c := <-h.unregister:
			if _, ok := clients[c]; ok {
				h.drop(clients, c)
				h.log.Debug("subscriber unregistered", "session", c.id)
			}
		case msg := <-h.broadcast:
			for c := range clients {
				select {
				case c.send <- msg:
				default:
					liveDropped.Inc()
					h.log.Warn("dropping slow subscriber", "session", c.id)
					h.drop(clients, c)
				}
			}
		}
	}
}

func (h *Hub) drop(clients map[*subscriber]struct{}, c *subscriber) {
	delete(clients, c)
	c.closeSend()
	h.count.Add(-1)
	liveSubscribers.Dec()
}

// Subscribers reports how many dashboards are currently registered.
func (h *Hub) Subscribers() int {
	return int(h.count.Load())
}

// Broadcast pushes a metrics:update to every subscriber. It returns false
// once the hub has stopped.
func (h *Hub) Broadcast(update models.MetricUpdate) bool {
	msg, err := encode(EventUpdate, update)
	if err != nil {
		h.log.Error("encode update failed", "error", err)
		return false
	}
	select {
	case h.broadcast <- msg:
		return true
	case <-h.done:
		return false
	}
}

// ServeHTTP upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &subscriber{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.queueSize),
		acks: make(chan uint64, 8),
	}
	hello, _ := encode(EventConnect, ConnectPayload{SessionID: c.id})
	c.send <- hello

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

// readPump consumes client frames; only pong is meaningful.
func (h *Hub) readPump(c *subscriber) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()

	pongWait := 2 * h.pingInterval
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("subscriber read failed", "session", c.id, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		env, err := decode(frame)
		if err != nil {
			h.log.Warn("ignoring malformed frame", "session", c.id, "error", err)
			continue
		}
		if env.Event != EventPong {
			continue
		}
		var probe ProbePayload
		if err := json.Unmarshal(env.Data, &probe); err != nil {
			h.log.Warn("ignoring malformed pong", "session", c.id, "error", err)
			continue
		}
		select {
		case c.acks <- probe.Seq:
		default:
		}
	}
}

// writePump is the only writer for c.conn.
func (h *Hub) writePump(c *subscriber) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	var seq uint64
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.Warn("websocket send failed", "session", c.id, "error", err)
				return
			}
		case ackSeq := <-c.acks:
			msg, _ := encode(EventPongAck, ProbePayload{Seq: ackSeq})
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.Warn("websocket ack failed", "session", c.id, "error", err)
				return
			}
		case <-ticker.C:
			seq++
			msg, _ := encode(EventPing, ProbePayload{Seq: seq})
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.Warn("websocket ping failed", "session", c.id, "error", err)
				return
			}
		}
	}
}
