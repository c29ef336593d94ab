package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/hearthware/auricle/internal/store"
)

func newBadgerKV(t *testing.T) store.KV {
	t.Helper()
	kv, err := store.NewBadgerKV(store.BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatalf("NewBadgerKV: %v", err)
	}
	t.Cleanup(func() { kv.Close() })
	return kv
}

func TestBadgerGetSetDelete(t *testing.T) {
	ctx := context.Background()
	kv := newBadgerKV(t)

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
}

func TestBadgerList(t *testing.T) {
	ctx := context.Background()
	kv := newBadgerKV(t)

	for _, k := range []string{"reminder/b", "reminder/a", "grocery/items"} {
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
	if entries[0].Key != "reminder/a" || entries[1].Key != "reminder/b" {
		t.Fatalf("entries not in key order: %q, %q", entries[0].Key, entries[1].Key)
	}
}

func TestBadgerDirRequired(t *testing.T) {
	if _, err := store.NewBadgerKV(store.BadgerOptions{}); err == nil {
		t.Fatal("expected error for on-disk mode without Dir")
	}
}

func TestBadgerReopenPersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	kv, err := store.NewBadgerKV(store.BadgerOptions{Dir: dir})
	if err != nil {
		t.Fatalf("NewBadgerKV: %v", err)
	}
	if err := kv.Set(ctx, "grocery/items", []byte(`["milk"]`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := kv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	kv, err = store.NewBadgerKV(store.BadgerOptions{Dir: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer kv.Close()

	got, err := kv.Get(ctx, "grocery/items")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if string(got) != `["milk"]` {
		t.Fatalf("Get = %q, want persisted value", got)
	}
}
