package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// TierDisk names the SQLite-backed tier.
const TierDisk = "disk"

const createCacheTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	data BLOB NOT NULL,
	expires_at INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	hit_count INTEGER NOT NULL DEFAULT 0,
	size_bytes INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries (expires_at);
CREATE INDEX IF NOT EXISTS idx_cache_entries_created_at ON cache_entries (created_at);
`

// SQLiteStore is the persistent tier. Every operation is serialized through
// a single mutex: concurrent writers to the embedded file must not corrupt
// it, and the disk tier is not the bottleneck at proxy-scale load.
type SQLiteStore struct {
	db         *sql.DB
	defaultTTL time.Duration
	mu         sync.Mutex
}

// NewSQLite opens (or creates) the cache database at path and prepares the
// schema.
func NewSQLite(path string, defaultTTL time.Duration) (*SQLiteStore, error) {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open sqlite %s: %w", path, err)
	}
	if _, err := db.Exec(createCacheTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cache: migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db, defaultTTL: defaultTTL}, nil
}

func (s *SQLiteStore) Name() string { return TierDisk }

// Get returns the live entry for key and increments its hit counter.
func (s *SQLiteStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var entry Entry
	var expiresAt, createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT type, data, expires_at, created_at FROM cache_entries WHERE key = ? AND expires_at > ?`,
		key, now.UnixMilli(),
	).Scan(&entry.Type, &entry.Data, &expiresAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache: sqlite get: %w", err)
	}
	entry.ExpiresAt = time.UnixMilli(expiresAt)
	entry.StoredAt = time.UnixMilli(createdAt)

	if _, err := s.db.ExecContext(ctx,
		`UPDATE cache_entries SET hit_count = hit_count + 1 WHERE key = ?`, key); err != nil {
		return Entry{}, false, fmt.Errorf("cache: sqlite hit count: %w", err)
	}
	return entry, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	now := time.Now()
	if entry.StoredAt.IsZero() {
		entry.StoredAt = now.UTC()
	}
	expiresAt := now.Add(ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (key, type, data, expires_at, created_at, hit_count, size_bytes)
		 VALUES (?, ?, ?, ?, ?, 0, ?)`,
		key, entry.Type, entry.Data, expiresAt.UnixMilli(), entry.StoredAt.UnixMilli(), int64(len(entry.Data)))
	if err != nil {
		return fmt.Errorf("cache: sqlite set: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("cache: sqlite delete: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("cache: sqlite clear: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Len(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cache_entries WHERE expires_at > ?`, time.Now().UnixMilli(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("cache: sqlite len: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// PurgeExpired removes entries whose lifetime has passed and reports how
// many were deleted.
func (s *SQLiteStore) PurgeExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at <= ?`, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("cache: sqlite purge: %w", err)
	}
	purged, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cache: sqlite purge count: %w", err)
	}
	return purged, nil
}

// SizeBytes reports the summed payload size of all rows, expired included.
func (s *SQLiteStore) SizeBytes(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var size sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT SUM(size_bytes) FROM cache_entries`).Scan(&size)
	if err != nil {
		return 0, fmt.Errorf("cache: sqlite size: %w", err)
	}
	return size.Int64, nil
}

// Record is one persisted row, used by the operator inspection commands.
type Record struct {
	Key       string    `json:"key"`
	Type      string    `json:"type"`
	Data      []byte    `json:"data,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	HitCount  int64     `json:"hitCount"`
	SizeBytes int64     `json:"sizeBytes"`
}

// Dump returns all rows, optionally substring-filtered by key. Payload bytes
// are included only when detailed is set.
func (s *SQLiteStore) Dump(ctx context.Context, filter string, detailed bool) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, type, data, expires_at, created_at, hit_count, size_bytes
		 FROM cache_entries ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("cache: sqlite dump: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var rec Record
		var expiresAt, createdAt int64
		if err := rows.Scan(&rec.Key, &rec.Type, &rec.Data, &expiresAt, &createdAt, &rec.HitCount, &rec.SizeBytes); err != nil {
			return nil, fmt.Errorf("cache: sqlite dump scan: %w", err)
		}
		if filter != "" && !strings.Contains(rec.Key, filter) {
			continue
		}
		rec.ExpiresAt = time.UnixMilli(expiresAt)
		rec.CreatedAt = time.UnixMilli(createdAt)
		if !detailed {
			rec.Data = nil
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cache: sqlite dump rows: %w", err)
	}
	return records, nil
}
