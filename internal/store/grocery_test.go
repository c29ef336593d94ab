package store_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/hearthware/auricle/internal/store"
)

func newGrocery(t *testing.T) (*store.Grocery, store.KV) {
	t.Helper()
	kv := store.NewMemoryKV()
	t.Cleanup(func() { kv.Close() })
	return store.NewGrocery(kv), kv
}

func TestGrocery_EmptyList(t *testing.T) {
	ctx := context.Background()
	g, _ := newGrocery(t)

	items, err := g.Items(ctx)
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("items = %v, want empty", items)
	}
}

func TestGrocery_AddKeepsOrder(t *testing.T) {
	ctx := context.Background()
	g, _ := newGrocery(t)

	for _, it := range []string{"milk", "eggs", "bread"} {
		if err := g.Add(ctx, it); err != nil {
			t.Fatalf("Add(%s): %v", it, err)
		}
	}

	items, err := g.Items(ctx)
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	if !slices.Equal(items, []string{"milk", "eggs", "bread"}) {
		t.Fatalf("items = %v, want insertion order", items)
	}
}

func TestGrocery_RemoveIgnoresCase(t *testing.T) {
	ctx := context.Background()
	g, _ := newGrocery(t)

	if err := g.Add(ctx, "Almond Milk"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := g.Remove(ctx, "almond milk"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	items, err := g.Items(ctx)
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("items = %v, want empty after remove", items)
	}
}

func TestGrocery_RemoveMissing(t *testing.T) {
	ctx := context.Background()
	g, _ := newGrocery(t)

	if err := g.Add(ctx, "milk"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := g.Remove(ctx, "caviar"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Remove(caviar) err = %v, want ErrNotFound", err)
	}
}

func TestGrocery_Clear(t *testing.T) {
	ctx := context.Background()
	g, _ := newGrocery(t)

	if err := g.Add(ctx, "milk"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := g.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	items, err := g.Items(ctx)
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("items = %v, want empty after clear", items)
	}
}

func TestGrocery_CorruptedDataResets(t *testing.T) {
	ctx := context.Background()
	g, kv := newGrocery(t)

	if err := kv.Set(ctx, "grocery/items", []byte("{not json")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	items, err := g.Items(ctx)
	if err != nil {
		t.Fatalf("Items on corrupted data: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("items = %v, want empty for corrupted data", items)
	}

	// The list is usable again after the reset.
	if err := g.Add(ctx, "milk"); err != nil {
		t.Fatalf("Add after corruption: %v", err)
	}
	items, err = g.Items(ctx)
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	if !slices.Equal(items, []string{"milk"}) {
		t.Fatalf("items = %v, want [milk]", items)
	}
}
