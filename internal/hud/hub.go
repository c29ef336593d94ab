// Package hud broadcasts pipeline events to the e-ink display process over
// WebSocket.
//
// The display runs out of process and subscribes to /ws/hud on the admin
// server. Every pipeline event (state transition, transcript, reply,
// announcement) is fanned out to all connected clients as a JSON frame. The
// pipeline must never wait on a display: each client has a small buffered
// queue and a client that cannot keep up is disconnected.
package hud

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/hearthware/auricle/internal/observe"
	"github.com/hearthware/auricle/internal/pipeline"
)

const (
	// clientBuffer is the per-client frame queue. The pipeline emits a
	// handful of events per interaction; a display that falls this far
	// behind is gone.
	clientBuffer = 32

	// writeTimeout bounds one frame write to a client.
	writeTimeout = 5 * time.Second
)

// Frame is the JSON message sent to HUD clients.
type Frame struct {
	// Kind is the event kind: "state", "transcript", "reply", or
	// "announcement".
	Kind string `json:"kind"`

	// State is the pipeline state name, set on "state" frames.
	State string `json:"state,omitempty"`

	// Text carries the transcript, reply, or announcement text.
	Text string `json:"text,omitempty"`

	At time.Time `json:"at"`
}

// client is one connected display.
type client struct {
	conn *websocket.Conn
	send chan Frame
}

// Hub fans pipeline events out to connected WebSocket clients. All methods
// are safe for concurrent use.
type Hub struct {
	log     *slog.Logger
	metrics *observe.Metrics

	mu      sync.Mutex
	clients map[*client]struct{}
	last    *Frame // most recent state frame, replayed to new clients
	closed  bool
}

// Option configures a Hub.
type Option func(*Hub)

// WithMetrics tracks the connected client count.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		log:     slog.Default().With("component", "hud"),
		clients: make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Observer returns the pipeline observer feeding this hub. It never
// blocks: frames to slow clients are dropped along with the client.
func (h *Hub) Observer() pipeline.Observer {
	return func(ev pipeline.Event) {
		h.Broadcast(frameFor(ev))
	}
}

// Broadcast queues a frame for every connected client. Clients whose queue
// is full are disconnected.
func (h *Hub) Broadcast(f Frame) {
	h.mu.Lock()
	if f.Kind == "state" {
		cp := f
		h.last = &cp
	}
	var evict []*client
	for c := range h.clients {
		select {
		case c.send <- f:
		default:
			evict = append(evict, c)
		}
	}
	for _, c := range evict {
		delete(h.clients, c)
	}
	h.mu.Unlock()

	for _, c := range evict {
		h.log.Warn("disconnecting slow client")
		close(c.send)
		h.clientGone(context.Background())
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request to a WebSocket subscription. The
// connection stays open until the client disconnects or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn("websocket accept failed", "err", err)
		return
	}

	c := &client{conn: conn, send: make(chan Frame, clientBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	h.clients[c] = struct{}{}
	if h.last != nil {
		c.send <- *h.last
	}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.HUDClients.Add(r.Context(), 1)
	}
	h.log.Info("hud client connected", "remote", r.RemoteAddr)

	h.writeLoop(r.Context(), c)
}

// writeLoop drains the client's queue into its connection. Returns when the
// queue closes (eviction or hub close) or a write fails.
func (h *Hub) writeLoop(ctx context.Context, c *client) {
	defer func() {
		h.drop(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-c.send:
			if !ok {
				return
			}
			if err := h.write(ctx, c.conn, f); err != nil {
				h.log.Debug("hud client write failed", "err", err)
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, f Frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, payload)
}

// drop removes c if it is still registered and updates the gauge.
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	_, present := h.clients[c]
	if present {
		delete(h.clients, c)
	}
	h.mu.Unlock()
	if present {
		h.clientGone(context.Background())
	}
}

func (h *Hub) clientGone(ctx context.Context) {
	if h.metrics != nil {
		h.metrics.HUDClients.Add(ctx, -1)
	}
}

// Close disconnects all clients. The hub accepts no new subscriptions
// afterwards.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		close(c.send)
		h.clientGone(context.Background())
	}
	return nil
}

// frameFor converts a pipeline event to its wire form.
func frameFor(ev pipeline.Event) Frame {
	f := Frame{Kind: ev.Kind.String(), Text: ev.Text, At: ev.At}
	if ev.Kind == pipeline.EventState {
		f.State = ev.State.String()
	}
	return f
}
