package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"
)

const reminderPrefix = "reminder/"

// Reminder is one pending timed reminder.
type Reminder struct {
	ID      string    `json:"id"`
	Text    string    `json:"text"`
	Due     time.Time `json:"due"`
	Created time.Time `json:"created"`
}

// ReminderStore persists pending reminders until they fire or are
// cancelled.
type ReminderStore interface {
	// Add stores a new reminder and returns it with its assigned ID.
	Add(ctx context.Context, text string, due time.Time) (Reminder, error)

	// List returns all pending reminders, soonest first.
	List(ctx context.Context) ([]Reminder, error)

	// Remove deletes a reminder by ID. Returns ErrNotFound if absent.
	Remove(ctx context.Context, id string) error

	// Clear deletes all pending reminders.
	Clear(ctx context.Context) error

	// PopDue removes and returns every reminder due at or before now,
	// soonest first. Called by the scheduler; a fired reminder is gone
	// even if announcing it later fails.
	PopDue(ctx context.Context, now time.Time) ([]Reminder, error)
}

// Reminders is the KV-backed ReminderStore.
type Reminders struct {
	kv KV
}

var _ ReminderStore = (*Reminders)(nil)

// NewReminders creates a reminder store on top of kv.
func NewReminders(kv KV) *Reminders {
	return &Reminders{kv: kv}
}

func (r *Reminders) Add(ctx context.Context, text string, due time.Time) (Reminder, error) {
	rem := Reminder{
		ID:      newID(),
		Text:    text,
		Due:     due,
		Created: time.Now(),
	}
	data, err := json.Marshal(rem)
	if err != nil {
		return Reminder{}, fmt.Errorf("store: encode reminder: %w", err)
	}
	if err := r.kv.Set(ctx, reminderPrefix+rem.ID, data); err != nil {
		return Reminder{}, fmt.Errorf("store: save reminder: %w", err)
	}
	return rem, nil
}

func (r *Reminders) List(ctx context.Context) ([]Reminder, error) {
	entries, err := r.kv.List(ctx, reminderPrefix)
	if err != nil {
		return nil, fmt.Errorf("store: list reminders: %w", err)
	}
	var rems []Reminder
	for _, e := range entries {
		var rem Reminder
		if err := json.Unmarshal(e.Value, &rem); err != nil {
			slog.Warn("store: skipping corrupted reminder", "key", e.Key, "error", err)
			continue
		}
		rems = append(rems, rem)
	}
	sort.Slice(rems, func(i, j int) bool { return rems[i].Due.Before(rems[j].Due) })
	return rems, nil
}

func (r *Reminders) Remove(ctx context.Context, id string) error {
	key := reminderPrefix + id
	if _, err := r.kv.Get(ctx, key); err != nil {
		return err
	}
	if err := r.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("store: delete reminder: %w", err)
	}
	return nil
}

func (r *Reminders) Clear(ctx context.Context) error {
	entries, err := r.kv.List(ctx, reminderPrefix)
	if err != nil {
		return fmt.Errorf("store: list reminders: %w", err)
	}
	for _, e := range entries {
		if err := r.kv.Delete(ctx, e.Key); err != nil {
			return fmt.Errorf("store: delete reminder: %w", err)
		}
	}
	return nil
}

func (r *Reminders) PopDue(ctx context.Context, now time.Time) ([]Reminder, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	var due []Reminder
	for _, rem := range all {
		if rem.Due.After(now) {
			continue
		}
		if err := r.kv.Delete(ctx, reminderPrefix+rem.ID); err != nil {
			return due, fmt.Errorf("store: delete fired reminder: %w", err)
		}
		due = append(due, rem)
	}
	return due, nil
}

// newID returns a random 16-character hex ID.
func newID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(b[:])
}
