package router

import (
	"sync"
	"time"

	"github.com/hearthware/auricle/pkg/types"
)

// Conversation history bounds, mirrored by the llm config section.
const (
	defaultMaxTurns   = 10
	defaultHistoryTTL = 5 * time.Minute
)

// Exchange is one completed user/assistant turn.
type Exchange struct {
	User      string
	Assistant string
	At        time.Time
}

// History is the bounded conversation context fed to the LLM on the
// conversation path. Entries expire after a TTL and the list is trimmed to
// the most recent turns, so a stale morning exchange never colours an
// evening question. Safe for concurrent use.
type History struct {
	maxTurns int
	ttl      time.Duration
	now      func() time.Time

	mu      sync.Mutex
	entries []Exchange
}

// NewHistory creates a History keeping at most maxTurns exchanges, each for
// at most ttl. maxTurns <= 0 falls back to 10; ttl <= 0 disables expiry.
func NewHistory(maxTurns int, ttl time.Duration) *History {
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	return &History{
		maxTurns: maxTurns,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Record appends a completed exchange, dropping the oldest entries beyond
// the turn limit.
func (h *History) Record(user, assistant string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, Exchange{User: user, Assistant: assistant, At: h.now()})
	if len(h.entries) > h.maxTurns {
		h.entries = h.entries[len(h.entries)-h.maxTurns:]
	}
}

// Messages returns the unexpired history as alternating user/assistant
// messages, ending with text as the new user message.
func (h *History) Messages(text string) []types.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.expireLocked()

	msgs := make([]types.Message, 0, len(h.entries)*2+1)
	for _, e := range h.entries {
		msgs = append(msgs,
			types.Message{Role: "user", Content: e.User},
			types.Message{Role: "assistant", Content: e.Assistant})
	}
	return append(msgs, types.Message{Role: "user", Content: text})
}

// Len returns the number of unexpired exchanges.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.expireLocked()
	return len(h.entries)
}

// Clear drops all recorded exchanges.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
}

// expireLocked removes entries older than the TTL. Caller holds h.mu.
func (h *History) expireLocked() {
	if h.ttl <= 0 {
		return
	}
	cutoff := h.now().Add(-h.ttl)
	kept := h.entries[:0]
	for _, e := range h.entries {
		if e.At.After(cutoff) {
			kept = append(kept, e)
		}
	}
	h.entries = kept
}
