package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aigw/internal/config"
)

func newTestMemoryCache(t *testing.T, maxEntries, shards int) *memoryCache {
	t.Helper()
	c := NewMemoryCache(&config.MemoryCacheConfig{
		Enabled:    true,
		MaxEntries: maxEntries,
		Shards:     shards,
	}, time.Minute, nil)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestMemoryCache_SetGet(t *testing.T) {
	c := newTestMemoryCache(t, 16, 1)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), time.Minute))

	value, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), value)
}

func TestMemoryCache_MissReturnsCacheMiss(t *testing.T) {
	c := newTestMemoryCache(t, 16, 1)

	_, err := c.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	c := newTestMemoryCache(t, 16, 1)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), 20*time.Millisecond))

	_, err := c.Get(ctx, "k1")
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)

	_, err = c.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCache_GetStaleServesExpiredEntry(t *testing.T) {
	c := newTestMemoryCache(t, 16, 1)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), 20*time.Millisecond))
	time.Sleep(40 * time.Millisecond)

	value, err := c.GetStale(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), value)
}

func TestMemoryCache_ZeroTTLNeverExpires(t *testing.T) {
	c := newTestMemoryCache(t, 16, 1)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), 0))
	time.Sleep(20 * time.Millisecond)

	_, err := c.Get(ctx, "k1")
	assert.NoError(t, err)
}

func TestMemoryCache_LRUEviction(t *testing.T) {
	// Single shard with room for 4 entries.
	c := newTestMemoryCache(t, 4, 1)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), time.Minute))
	}

	// Touch k0 so k1 becomes the least recently used.
	_, err := c.Get(ctx, "k0")
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "k4", []byte("v"), time.Minute))

	_, err = c.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	_, err = c.Get(ctx, "k0")
	assert.NoError(t, err)
}

func TestMemoryCache_OverwriteExistingKey(t *testing.T) {
	c := newTestMemoryCache(t, 16, 1)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("old"), time.Minute))
	require.NoError(t, c.Set(ctx, "k1", []byte("new"), time.Minute))

	value, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), value)
}

func TestMemoryCache_ReturnedValueIsCopy(t *testing.T) {
	c := newTestMemoryCache(t, 16, 1)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), time.Minute))

	value, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	value[0] = 'X'

	again, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), again)
}

func TestMemoryCache_Delete(t *testing.T) {
	c := newTestMemoryCache(t, 16, 1)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), time.Minute))
	require.NoError(t, c.Delete(ctx, "k1"))

	_, err := c.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	exists, err := c.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryCache_Exists(t *testing.T) {
	c := newTestMemoryCache(t, 16, 1)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), 20*time.Millisecond))

	exists, err := c.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, exists)

	time.Sleep(40 * time.Millisecond)

	exists, err = c.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryCache_Stats(t *testing.T) {
	c := newTestMemoryCache(t, 16, 1)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), time.Minute))

	_, _ = c.Get(ctx, "k1")
	_, _ = c.Get(ctx, "absent")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 50.0, stats.HitRate(), 0.001)
}

func TestMemoryCache_ConcurrentAccess(t *testing.T) {
	c := newTestMemoryCache(t, 256, 16)
	ctx := context.Background()

	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 50; i++ {
				key := fmt.Sprintf("k%d-%d", g, i)
				_ = c.Set(ctx, key, []byte("v"), time.Minute)
				_, _ = c.Get(ctx, key)
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}
}
