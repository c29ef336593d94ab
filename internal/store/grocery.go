package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// groceryKey holds the whole list as one JSON array, matching how small
// the list stays in practice.
const groceryKey = "grocery/items"

// GroceryStore persists the grocery list in insertion order.
type GroceryStore interface {
	// Items returns the list in insertion order. An empty list is not an
	// error.
	Items(ctx context.Context) ([]string, error)

	// Add appends an item. Deduplication is the caller's concern.
	Add(ctx context.Context, item string) error

	// Remove deletes the first item equal to the given one, ignoring case.
	// Returns ErrNotFound if no item matches.
	Remove(ctx context.Context, item string) error

	// Clear empties the list.
	Clear(ctx context.Context) error
}

// Grocery is the KV-backed GroceryStore.
type Grocery struct {
	kv KV
}

var _ GroceryStore = (*Grocery)(nil)

// NewGrocery creates a grocery store on top of kv.
func NewGrocery(kv KV) *Grocery {
	return &Grocery{kv: kv}
}

func (g *Grocery) Items(ctx context.Context) ([]string, error) {
	data, err := g.kv.Get(ctx, groceryKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: load grocery list: %w", err)
	}
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		// A corrupted record starts the list over rather than wedging
		// every grocery command.
		slog.Warn("store: grocery list corrupted, resetting", "error", err)
		return nil, nil
	}
	return items, nil
}

func (g *Grocery) Add(ctx context.Context, item string) error {
	items, err := g.Items(ctx)
	if err != nil {
		return err
	}
	return g.save(ctx, append(items, item))
}

func (g *Grocery) Remove(ctx context.Context, item string) error {
	items, err := g.Items(ctx)
	if err != nil {
		return err
	}
	for i, it := range items {
		if strings.EqualFold(it, item) {
			return g.save(ctx, append(items[:i], items[i+1:]...))
		}
	}
	return ErrNotFound
}

func (g *Grocery) Clear(ctx context.Context) error {
	if err := g.kv.Delete(ctx, groceryKey); err != nil {
		return fmt.Errorf("store: clear grocery list: %w", err)
	}
	return nil
}

func (g *Grocery) save(ctx context.Context, items []string) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("store: encode grocery list: %w", err)
	}
	if err := g.kv.Set(ctx, groceryKey, data); err != nil {
		return fmt.Errorf("store: save grocery list: %w", err)
	}
	return nil
}
