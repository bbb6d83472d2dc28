package cache

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestMemoryStoreExpiresEntries(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore(WithClock(func() time.Time { return now }))
	ctx := context.Background()

	if err := store.Set(ctx, "shipping.defaultShippingCost", Entry{Value: "29.90", Found: true}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set(ctx, "missing", Entry{}, time.Minute); err != nil {
		t.Fatalf("set absent: %v", err)
	}

	entry, ok, err := store.Get(ctx, "shipping.defaultShippingCost")
	if err != nil || !ok || entry.Value != "29.90" || !entry.Found {
		t.Fatalf("unexpected hit %+v %v %v", entry, ok, err)
	}
	entry, ok, _ = store.Get(ctx, "missing")
	if !ok || entry.Found {
		t.Fatalf("expected cached absence, got %+v %v", entry, ok)
	}

	now = now.Add(time.Minute)
	if _, ok, _ := store.Get(ctx, "shipping.defaultShippingCost"); ok {
		t.Fatalf("expected entry to expire at ttl")
	}
	if removed := store.Sweep(); removed != 1 {
		t.Fatalf("expected sweep to drop the remaining expired entry, got %d", removed)
	}
}

func TestMemoryStoreDeleteAndClear(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, key := range []string{"a", "b", "c"} {
		if err := store.Set(ctx, key, Entry{Value: key, Found: true}, time.Hour); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}
	if err := store.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "a"); ok {
		t.Fatalf("expected a to be deleted")
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "b"); ok {
		t.Fatalf("expected clear to drop b")
	}
	if err := store.Set(ctx, "x", Entry{}, 0); !errors.Is(err, ErrInvalidTTL) {
		t.Fatalf("expected ErrInvalidTTL, got %v", err)
	}
}

func TestEntryEncoding(t *testing.T) {
	cases := []Entry{{}, {Value: "", Found: true}, {Value: "0", Found: true}, {Value: "true", Found: true}}
	for _, entry := range cases {
		if got := decodeEntry(encodeEntry(entry)); got != entry {
			t.Fatalf("expected %+v, got %+v", entry, got)
		}
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("API_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("API_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	store, err := NewRedisStore(client, "storefront:test:"+t.Name())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := store.Set(ctx, "k", Entry{Value: "v", Found: true}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	entry, ok, err := store.Get(ctx, "k")
	if err != nil || !ok || entry.Value != "v" {
		t.Fatalf("unexpected get %+v %v %v", entry, ok, err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatalf("expected clear to remove k")
	}
}
