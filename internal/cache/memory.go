package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// TierMemory names the in-process tier.
const TierMemory = "memory"

type memoryStore struct {
	defaultTTL time.Duration
	maxEntries int

	mu      sync.Mutex
	entries map[string]Entry

	// count mirrors len(entries) so readers never need the map lock.
	count atomic.Int64
}

// NewMemory builds the bounded in-process tier. Each entry counts as one
// unit toward maxEntries; when full, the entry closest to expiry is evicted.
func NewMemory(defaultTTL time.Duration, maxEntries int) Store {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 100
	}
	return &memoryStore{
		defaultTTL: defaultTTL,
		maxEntries: maxEntries,
		entries:    make(map[string]Entry),
	}
}

func (m *memoryStore) Name() string { return TierMemory }

func (m *memoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	if entry.Expired(time.Now()) {
		delete(m.entries, key)
		m.count.Add(-1)
		return Entry{}, false, nil
	}
	return entry, true, nil
}

func (m *memoryStore) Set(_ context.Context, key string, entry Entry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	now := time.Now()
	if entry.StoredAt.IsZero() {
		entry.StoredAt = now.UTC()
	}
	entry.ExpiresAt = now.Add(ttl)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[key]; !exists {
		if len(m.entries) >= m.maxEntries {
			m.evictLocked(now)
		}
		m.count.Add(1)
	}
	m.entries[key] = entry
	return nil
}

// evictLocked removes the entry with the earliest expiry, preferring any
// already-expired one. Caller holds the lock.
func (m *memoryStore) evictLocked(now time.Time) {
	var victim string
	var victimExpiry time.Time
	for key, entry := range m.entries {
		if entry.Expired(now) {
			victim = key
			break
		}
		if victim == "" || entry.ExpiresAt.Before(victimExpiry) {
			victim = key
			victimExpiry = entry.ExpiresAt
		}
	}
	if victim != "" {
		delete(m.entries, victim)
		m.count.Add(-1)
	}
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; ok {
		delete(m.entries, key)
		m.count.Add(-1)
	}
	return nil
}

func (m *memoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]Entry)
	m.count.Store(0)
	return nil
}

func (m *memoryStore) Len(_ context.Context) (int64, error) {
	return m.count.Load(), nil
}

func (m *memoryStore) Close(_ context.Context) error {
	return nil
}
