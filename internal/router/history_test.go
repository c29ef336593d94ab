package router

import (
	"testing"
	"time"
)

func TestHistoryMessagesEndWithNewText(t *testing.T) {
	h := NewHistory(10, 0)
	h.Record("turn on the lights", "Done.")
	h.Record("and the kitchen", "Kitchen lights are on.")

	msgs := h.Messages("what's new")
	if len(msgs) != 5 {
		t.Fatalf("len(msgs) = %d, want 5", len(msgs))
	}
	wantRoles := []string{"user", "assistant", "user", "assistant", "user"}
	for i, m := range msgs {
		if m.Role != wantRoles[i] {
			t.Errorf("msgs[%d].Role = %q, want %q", i, m.Role, wantRoles[i])
		}
	}
	if msgs[0].Content != "turn on the lights" {
		t.Errorf("msgs[0].Content = %q, want %q", msgs[0].Content, "turn on the lights")
	}
	if got := msgs[len(msgs)-1].Content; got != "what's new" {
		t.Errorf("last message = %q, want %q", got, "what's new")
	}
}

func TestHistoryTrimsToMaxTurns(t *testing.T) {
	h := NewHistory(2, 0)
	h.Record("q1", "a1")
	h.Record("q2", "a2")
	h.Record("q3", "a3")

	if got := h.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
	msgs := h.Messages("q4")
	if msgs[0].Content != "q2" {
		t.Errorf("oldest kept exchange = %q, want %q", msgs[0].Content, "q2")
	}
}

func TestHistoryExpiresOldEntries(t *testing.T) {
	current := time.Unix(1700000000, 0)
	h := NewHistory(10, time.Minute)
	h.now = func() time.Time { return current }

	h.Record("old question", "old answer")
	current = current.Add(2 * time.Minute)
	h.Record("new question", "new answer")

	msgs := h.Messages("latest")
	if len(msgs) != 3 {
		t.Fatalf("len(msgs) = %d, want 3", len(msgs))
	}
	if msgs[0].Content != "new question" {
		t.Errorf("msgs[0].Content = %q, want %q", msgs[0].Content, "new question")
	}
}

func TestHistoryZeroTTLNeverExpires(t *testing.T) {
	current := time.Unix(1700000000, 0)
	h := NewHistory(10, 0)
	h.now = func() time.Time { return current }

	h.Record("question", "answer")
	current = current.Add(24 * time.Hour)

	if got := h.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
}

func TestHistoryClear(t *testing.T) {
	h := NewHistory(10, 0)
	h.Record("question", "answer")
	h.Clear()

	if got := h.Len(); got != 0 {
		t.Fatalf("Len() = %d, want 0", got)
	}
	if msgs := h.Messages("hello"); len(msgs) != 1 {
		t.Fatalf("len(msgs) after Clear = %d, want 1", len(msgs))
	}
}

func TestHistoryDefaultTurnLimit(t *testing.T) {
	h := NewHistory(0, 0)
	for i := 0; i < 15; i++ {
		h.Record("question", "answer")
	}
	if got := h.Len(); got != defaultMaxTurns {
		t.Fatalf("Len() = %d, want %d", got, defaultMaxTurns)
	}
}
