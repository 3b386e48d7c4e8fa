package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLite(filepath.Join(t.TempDir(), "cache.db"), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store
}

func TestSQLiteRoundTrip(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	entry := Entry{Type: "http-response", Data: []byte(`{"status":200}`)}
	require.NoError(t, store.Set(ctx, "key-1", entry, time.Minute))

	got, ok, err := store.Get(ctx, "key-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry.Type, got.Type)
	assert.Equal(t, entry.Data, got.Data)
	assert.True(t, got.ExpiresAt.After(time.Now()))
}

func TestSQLiteMiss(t *testing.T) {
	store := newTestSQLite(t)

	_, ok, err := store.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteExpiredFiltered(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "short", Entry{Type: "http-response", Data: []byte("v")}, 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	_, ok, err := store.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok)

	count, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSQLiteHitCount(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "counted", Entry{Type: "http-response", Data: []byte("v")}, time.Minute))
	for range 3 {
		_, ok, err := store.Get(ctx, "counted")
		require.NoError(t, err)
		require.True(t, ok)
	}

	records, err := store.Dump(ctx, "", false)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(3), records[0].HitCount)
	assert.Equal(t, int64(1), records[0].SizeBytes)
}

func TestSQLiteOverwriteResetsHitCount(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "key", Entry{Type: "http-response", Data: []byte("v1")}, time.Minute))
	_, _, _ = store.Get(ctx, "key")
	require.NoError(t, store.Set(ctx, "key", Entry{Type: "http-response", Data: []byte("v2")}, time.Minute))

	records, err := store.Dump(ctx, "", true)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Zero(t, records[0].HitCount)
	assert.Equal(t, []byte("v2"), records[0].Data)
}

func TestSQLitePurgeExpired(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "stale-a", Entry{Type: "http-response", Data: []byte("a")}, 5*time.Millisecond))
	require.NoError(t, store.Set(ctx, "stale-b", Entry{Type: "http-response", Data: []byte("b")}, 5*time.Millisecond))
	require.NoError(t, store.Set(ctx, "live", Entry{Type: "http-response", Data: []byte("c")}, time.Minute))
	time.Sleep(15 * time.Millisecond)

	purged, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), purged)

	records, err := store.Dump(ctx, "", false)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "live", records[0].Key)
}

func TestSQLiteSizeBytes(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	size, err := store.SizeBytes(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)

	require.NoError(t, store.Set(ctx, "a", Entry{Type: "http-response", Data: make([]byte, 100)}, time.Minute))
	require.NoError(t, store.Set(ctx, "b", Entry{Type: "http-response", Data: make([]byte, 50)}, time.Minute))

	size, err = store.SizeBytes(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(150), size)
}

func TestSQLiteDumpFilter(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "alpha-1", Entry{Type: "http-response", Data: []byte("a")}, time.Minute))
	require.NoError(t, store.Set(ctx, "beta-1", Entry{Type: "http-response", Data: []byte("b")}, time.Minute))

	records, err := store.Dump(ctx, "alpha", false)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "alpha-1", records[0].Key)
	assert.Nil(t, records[0].Data)
}

func TestSQLiteDeleteAndClear(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a", Entry{Type: "http-response", Data: []byte("a")}, time.Minute))
	require.NoError(t, store.Set(ctx, "b", Entry{Type: "http-response", Data: []byte("b")}, time.Minute))

	require.NoError(t, store.Delete(ctx, "a"))
	count, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.NoError(t, store.Clear(ctx))
	count, err = store.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.db")
	ctx := context.Background()

	store, err := NewSQLite(path, time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "durable", Entry{Type: "http-response", Data: []byte("v")}, time.Minute))
	require.NoError(t, store.Close(ctx))

	reopened, err := NewSQLite(path, time.Hour)
	require.NoError(t, err)
	defer func() { _ = reopened.Close(ctx) }()

	got, ok, err := reopened.Get(ctx, "durable")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got.Data)
}
