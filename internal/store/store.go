// Package store persists the assistant's small durable state, the grocery
// list and pending reminders, in a local Badger database.
//
// A narrow KV interface separates the feature-facing stores from the
// engine: BadgerKV is the on-disk implementation and MemoryKV serves both
// as the fallback when no data directory is configured and as the test
// double.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key or item does not exist in the store.
var ErrNotFound = errors.New("store: not found")

// Entry is a key-value pair returned by List.
type Entry struct {
	Key   string
	Value []byte
}

// KV is a minimal key-value store. Keys are flat strings; callers scope
// them with a path-style prefix ("reminder/<id>").
type KV interface {
	// Get retrieves the value for a key. Returns ErrNotFound if not present.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a key-value pair, overwriting any existing value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes a key. No error if the key does not exist.
	Delete(ctx context.Context, key string) error

	// List returns all entries whose key starts with prefix, in
	// lexicographic key order.
	List(ctx context.Context, prefix string) ([]Entry, error)

	// Close releases any resources held by the store.
	Close() error
}
