package cache

import (
	"context"
	"errors"
	"time"
)

// Entry is a cached lookup result. Found is false for keys known to be absent upstream.
type Entry struct {
	Value string
	Found bool
}

// Store caches string lookups with a per-entry TTL.
type Store interface {
	// Get returns the entry and whether it was present and unexpired.
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// Clear drops every entry owned by the store.
	Clear(ctx context.Context) error
}

// ErrInvalidTTL is returned when an entry is stored without a positive TTL.
var ErrInvalidTTL = errors.New("cache: ttl must be positive")
