package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/hearthware/auricle/internal/store"
)

func newTestKV(t *testing.T) store.KV {
	t.Helper()
	kv := store.NewMemoryKV()
	t.Cleanup(func() { kv.Close() })
	return kv
}

func TestMemoryGetSetDelete(t *testing.T) {
	ctx := context.Background()
	kv := newTestKV(t)

	if _, err := kv.Get(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get(missing) err = %v, want ErrNotFound", err)
	}

	if err := kv.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := kv.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("Get = %q, want v", got)
	}

	if err := kv.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := kv.Get(ctx, "k"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get after delete err = %v, want ErrNotFound", err)
	}

	// Deleting an absent key is not an error.
	if err := kv.Delete(ctx, "k"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}

func TestMemoryList(t *testing.T) {
	ctx := context.Background()
	kv := newTestKV(t)

	for _, k := range []string{"reminder/2", "reminder/1", "grocery/items"} {
		if err := kv.Set(ctx, k, []byte(k)); err != nil {
			t.Fatalf("Set(%s): %v", k, err)
		}
	}

	entries, err := kv.List(ctx, "reminder/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Key != "reminder/1" || entries[1].Key != "reminder/2" {
		t.Fatalf("entries not in key order: %q, %q", entries[0].Key, entries[1].Key)
	}

	all, err := kv.List(ctx, "")
	if err != nil {
		t.Fatalf("List(\"\"): %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d entries for empty prefix, want 3", len(all))
	}

	none, err := kv.List(ctx, "solar/")
	if err != nil {
		t.Fatalf("List(solar/): %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("got %d entries for unused prefix, want 0", len(none))
	}
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	kv := newTestKV(t)

	if err := kv.Set(ctx, "k", []byte("abc")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := kv.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got[0] = 'x'

	again, err := kv.Get(ctx, "k")
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if string(again) != "abc" {
		t.Fatalf("stored value mutated through returned slice: %q", again)
	}
}
