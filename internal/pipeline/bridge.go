package pipeline

import (
	"log/slog"
	"sync"
)

// defaultBridgeCapacity bounds the announcement queue. Announcements are
// short household notices; a backlog this deep means nobody is home to hear
// them, so the oldest are the right ones to lose.
const defaultBridgeCapacity = 64

// Bridge carries announcements from background producers (the reminder
// scheduler, startup and update notices) into the voice loop. Submit is
// fire-and-forget and safe for concurrent use; the pipeline drains the
// queue in FIFO order during idle windows, never while recording or
// speaking a reply.
type Bridge struct {
	mu       sync.Mutex
	queue    []string
	capacity int
	log      *slog.Logger
}

// NewBridge creates a bridge with the default capacity.
func NewBridge() *Bridge {
	return &Bridge{
		capacity: defaultBridgeCapacity,
		log:      slog.Default().With("component", "bridge"),
	}
}

// Submit queues text to be spoken at the next idle opportunity. When the
// queue is full the oldest announcement is dropped with a warning.
func (b *Bridge) Submit(text string) {
	if text == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) >= b.capacity {
		dropped := b.queue[0]
		b.queue = b.queue[1:]
		b.log.Warn("announcement queue full, dropping oldest", "dropped", dropped)
	}
	b.queue = append(b.queue, text)
}

// Len reports the number of queued announcements.
func (b *Bridge) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// next pops the oldest announcement, if any.
func (b *Bridge) next() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return "", false
	}
	text := b.queue[0]
	b.queue = b.queue[1:]
	return text, true
}
