// Package cache implements the layered cache: a common tier interface, the
// memory, disk, and remote backends, write-through composition with
// promotion, statistics, and the background cleanup worker.
package cache

import (
	"context"
	"time"
)

// Entry is the unit every tier stores: an opaque payload with a semantic
// type tag and absolute expiry. Payloads are serialized by the caller so
// tiers never interpret them.
type Entry struct {
	Type      string    `json:"type"`
	Data      []byte    `json:"data"`
	StoredAt  time.Time `json:"storedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the entry's lifetime has passed.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// Store is one tier of the cache hierarchy.
//
// Implementations must be safe for concurrent use. A failing tier must be
// treated by callers as a miss or no-op: caching is an optimization and is
// never allowed to fail the proxied request.
type Store interface {
	// Name identifies the tier in statistics and telemetry.
	Name() string
	// Get returns the live entry for key. Expired entries are reported as
	// absent and may be purged as a side effect.
	Get(ctx context.Context, key string) (Entry, bool, error)
	// Set stores the entry under key for the given lifetime, replacing any
	// previous value. A non-positive ttl falls back to the tier default.
	Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error
	// Delete removes the entry for key if present.
	Delete(ctx context.Context, key string) error
	// Clear removes every entry in the tier.
	Clear(ctx context.Context) error
	// Len returns the number of live entries.
	Len(ctx context.Context) (int64, error)
	// Close releases tier resources.
	Close(ctx context.Context) error
}
