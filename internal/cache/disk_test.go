package cache

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aigw/internal/config"
)

func newTestDiskCache(t *testing.T, path string, maxEntries int) *diskCache {
	t.Helper()
	c, err := NewDiskCache(&config.DiskCacheConfig{
		Enabled:    true,
		Path:       path,
		MaxEntries: maxEntries,
	}, time.Minute, nil)
	require.NoError(t, err)
	return c
}

func TestDiskCache_SetGet(t *testing.T) {
	c := newTestDiskCache(t, filepath.Join(t.TempDir(), "cache.db"), 100)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), time.Minute))

	value, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), value)
}

func TestDiskCache_MissReturnsCacheMiss(t *testing.T) {
	c := newTestDiskCache(t, filepath.Join(t.TempDir(), "cache.db"), 100)
	defer c.Close()

	_, err := c.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestDiskCache_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	c := newTestDiskCache(t, path, 100)
	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), time.Hour))
	require.NoError(t, c.Close())

	reopened := newTestDiskCache(t, path, 100)
	defer reopened.Close()

	value, err := reopened.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), value)
}

func TestDiskCache_ExpiredEntryMissesButStaysReadableStale(t *testing.T) {
	c := newTestDiskCache(t, filepath.Join(t.TempDir(), "cache.db"), 100)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), 20*time.Millisecond))
	time.Sleep(40 * time.Millisecond)

	_, err := c.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	value, err := c.GetStale(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), value)
}

func TestDiskCache_GetStaleMissForAbsentKey(t *testing.T) {
	c := newTestDiskCache(t, filepath.Join(t.TempDir(), "cache.db"), 100)
	defer c.Close()

	_, err := c.GetStale(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestDiskCache_SweepKeepsRecentlyExpiredRows(t *testing.T) {
	c := newTestDiskCache(t, filepath.Join(t.TempDir(), "cache.db"), 100)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "recent", []byte("v1"), 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	c.sweep()

	// Expired less than the retention window ago, so still stale-readable.
	_, err := c.GetStale(ctx, "recent")
	assert.NoError(t, err)
}

func TestDiskCache_SweepDeletesRowsPastRetention(t *testing.T) {
	c := newTestDiskCache(t, filepath.Join(t.TempDir(), "cache.db"), 100)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "ancient", []byte("v1"), time.Minute))

	// Backdate the expiry past the retention window.
	_, err := c.db.Exec(`UPDATE cache_entries SET expires_at = ? WHERE key = ?`,
		time.Now().Add(-staleRetention-time.Minute).UnixNano(), "ancient")
	require.NoError(t, err)

	c.sweep()

	_, err = c.GetStale(ctx, "ancient")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestDiskCache_EvictsLeastRecentlyAccessed(t *testing.T) {
	c := newTestDiskCache(t, filepath.Join(t.TempDir(), "cache.db"), 3)
	defer c.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), time.Hour))
		time.Sleep(2 * time.Millisecond)
	}

	// Adding a fourth entry pushes out the oldest by access time.
	require.NoError(t, c.Set(ctx, "k3", []byte("v"), time.Hour))

	_, err := c.Get(ctx, "k0")
	assert.ErrorIs(t, err, ErrCacheMiss)

	_, err = c.Get(ctx, "k3")
	assert.NoError(t, err)
}

func TestDiskCache_Overwrite(t *testing.T) {
	c := newTestDiskCache(t, filepath.Join(t.TempDir(), "cache.db"), 100)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("old"), time.Minute))
	require.NoError(t, c.Set(ctx, "k1", []byte("new"), time.Minute))

	value, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), value)
}

func TestDiskCache_DeleteAndExists(t *testing.T) {
	c := newTestDiskCache(t, filepath.Join(t.TempDir(), "cache.db"), 100)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), time.Minute))

	exists, err := c.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, c.Delete(ctx, "k1"))

	exists, err = c.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDiskCache_Stats(t *testing.T) {
	c := newTestDiskCache(t, filepath.Join(t.TempDir(), "cache.db"), 100)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), time.Minute))
	_, _ = c.Get(ctx, "k1")
	_, _ = c.Get(ctx, "absent")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Size)
}

func TestDiskCache_RequiresPath(t *testing.T) {
	_, err := NewDiskCache(&config.DiskCacheConfig{Enabled: true}, time.Minute, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
