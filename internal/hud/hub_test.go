package hud

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/hearthware/auricle/internal/pipeline"
)

func newTestHub(t *testing.T) (*Hub, string) {
	t.Helper()
	h := NewHub()
	t.Cleanup(func() { h.Close() })
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, payload, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var f Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		t.Fatalf("unmarshal frame %q: %v", payload, err)
	}
	return f
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.ClientCount() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("ClientCount = %d, want %d", h.ClientCount(), n)
}

func TestBroadcastReachesAllClients(t *testing.T) {
	h, url := newTestHub(t)
	first := dial(t, url)
	second := dial(t, url)
	waitClients(t, h, 2)

	h.Broadcast(Frame{Kind: "transcript", Text: "add milk", At: time.Now()})

	for _, conn := range []*websocket.Conn{first, second} {
		f := readFrame(t, conn)
		if f.Kind != "transcript" || f.Text != "add milk" {
			t.Errorf("frame = %+v", f)
		}
	}
}

func TestNewClientGetsCurrentState(t *testing.T) {
	h, url := newTestHub(t)
	h.Broadcast(Frame{Kind: "state", State: "speaking", At: time.Now()})

	conn := dial(t, url)
	f := readFrame(t, conn)
	if f.Kind != "state" || f.State != "speaking" {
		t.Errorf("replayed frame = %+v, want current state", f)
	}
}

func TestObserverTranslatesEvents(t *testing.T) {
	h, url := newTestHub(t)
	conn := dial(t, url)
	waitClients(t, h, 1)

	obs := h.Observer()
	obs(pipeline.Event{Kind: pipeline.EventState, State: pipeline.StateRecording, At: time.Now()})
	obs(pipeline.Event{Kind: pipeline.EventReply, Text: "Added milk.", At: time.Now()})

	f := readFrame(t, conn)
	if f.Kind != "state" || f.State != "recording" {
		t.Errorf("state frame = %+v", f)
	}
	f = readFrame(t, conn)
	if f.Kind != "reply" || f.Text != "Added milk." {
		t.Errorf("reply frame = %+v", f)
	}
}

func TestSlowClientIsEvicted(t *testing.T) {
	h := NewHub()
	defer h.Close()

	// A client whose queue is already full: the next broadcast must evict
	// it rather than wait.
	stuck := &client{send: make(chan Frame)}
	h.mu.Lock()
	h.clients[stuck] = struct{}{}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.Broadcast(Frame{Kind: "state", State: "idle"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked on a slow client")
	}
	if got := h.ClientCount(); got != 0 {
		t.Errorf("ClientCount = %d after eviction, want 0", got)
	}
	if _, open := <-stuck.send; open {
		t.Error("evicted client's queue was not closed")
	}
}

func TestCloseDisconnectsClients(t *testing.T) {
	h, url := newTestHub(t)
	conn := dial(t, url)
	waitClients(t, h, 1)

	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, _, err := conn.Read(ctx); err == nil {
		t.Error("client read succeeded after hub close")
	}
	if got := h.ClientCount(); got != 0 {
		t.Errorf("ClientCount = %d after close, want 0", got)
	}
}

func TestRejectsAfterClose(t *testing.T) {
	h, url := newTestHub(t)
	h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return // handshake refused outright is fine too
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	if _, _, err := conn.Read(ctx); err == nil {
		t.Error("connection stayed open after hub close")
	}
}
