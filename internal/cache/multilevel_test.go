package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aigw/internal/config"
)

func newTestMultiLevel(t *testing.T) *MultiLevel {
	t.Helper()

	ml, err := NewMultiLevel(&config.CacheConfig{
		Enabled: true,
		Memory: config.MemoryCacheConfig{
			Enabled:    true,
			MaxEntries: 64,
			Shards:     1,
		},
		Disk: config.DiskCacheConfig{
			Enabled:    true,
			Path:       filepath.Join(t.TempDir(), "cache.db"),
			MaxEntries: 100,
		},
		SweepInterval: config.Duration(time.Minute),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ml.Close() })

	return ml
}

func TestMultiLevel_SetThenGet(t *testing.T) {
	ml := newTestMultiLevel(t)
	ctx := context.Background()

	require.NoError(t, ml.Set(ctx, "k1", []byte("v1"), time.Minute))

	value, tier, err := ml.Get(ctx, "k1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), value)
	assert.Equal(t, TierMemory, tier)
}

func TestMultiLevel_SetPropagatesToSlowerTiers(t *testing.T) {
	ml := newTestMultiLevel(t)
	ctx := context.Background()

	require.NoError(t, ml.Set(ctx, "k1", []byte("v1"), time.Minute))

	// The disk write happens in the background.
	disk := ml.tiers[1]
	require.Eventually(t, func() bool {
		_, err := disk.Get(ctx, "k1")
		return err == nil
	}, time.Second, 10*time.Millisecond)
}

func TestMultiLevel_PromotesDiskHitToMemory(t *testing.T) {
	ml := newTestMultiLevel(t)
	ctx := context.Background()

	// Seed only the disk tier, as if the process had restarted.
	disk := ml.tiers[1]
	require.NoError(t, disk.Set(ctx, "k1", []byte("v1"), time.Minute))

	value, tier, err := ml.Get(ctx, "k1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), value)
	assert.Equal(t, TierDisk, tier)

	memory := ml.tiers[0]
	require.Eventually(t, func() bool {
		_, err := memory.Get(ctx, "k1")
		return err == nil
	}, time.Second, 10*time.Millisecond)
}

func TestMultiLevel_MissReturnsCacheMiss(t *testing.T) {
	ml := newTestMultiLevel(t)

	_, _, err := ml.Get(context.Background(), "absent", time.Minute)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMultiLevel_GetStaleServesExpiredDiskEntry(t *testing.T) {
	ml := newTestMultiLevel(t)
	ctx := context.Background()

	require.NoError(t, ml.Set(ctx, "k1", []byte("v1"), 20*time.Millisecond))

	disk := ml.tiers[1].(StaleReader)
	require.Eventually(t, func() bool {
		_, err := disk.GetStale(ctx, "k1")
		return err == nil
	}, time.Second, 10*time.Millisecond)

	time.Sleep(40 * time.Millisecond)

	_, _, err := ml.Get(ctx, "k1", time.Minute)
	require.ErrorIs(t, err, ErrCacheMiss)

	value, _, err := ml.GetStale(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), value)
}

func TestMultiLevel_Exists(t *testing.T) {
	ml := newTestMultiLevel(t)
	ctx := context.Background()

	require.NoError(t, ml.Set(ctx, "k1", []byte("v1"), time.Minute))

	exists, err := ml.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = ml.Exists(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMultiLevel_DeleteRemovesFromAllTiers(t *testing.T) {
	ml := newTestMultiLevel(t)
	ctx := context.Background()

	require.NoError(t, ml.Set(ctx, "k1", []byte("v1"), time.Minute))

	disk := ml.tiers[1]
	require.Eventually(t, func() bool {
		_, err := disk.Get(ctx, "k1")
		return err == nil
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, ml.Delete(ctx, "k1"))

	_, _, err := ml.Get(ctx, "k1", time.Minute)
	assert.ErrorIs(t, err, ErrCacheMiss)

	_, err = disk.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMultiLevel_DisabledCache(t *testing.T) {
	ml, err := NewMultiLevel(&config.CacheConfig{Enabled: false}, nil)
	require.NoError(t, err)
	defer ml.Close()

	assert.False(t, ml.Enabled())

	_, _, err = ml.Get(context.Background(), "k1", time.Minute)
	assert.ErrorIs(t, err, ErrCacheDisabled)

	err = ml.Set(context.Background(), "k1", []byte("v1"), time.Minute)
	assert.ErrorIs(t, err, ErrCacheDisabled)
}

func TestMultiLevel_NilConfig(t *testing.T) {
	_, err := NewMultiLevel(nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestMultiLevel_Stats(t *testing.T) {
	ml := newTestMultiLevel(t)
	ctx := context.Background()

	require.NoError(t, ml.Set(ctx, "k1", []byte("v1"), time.Minute))
	_, _, _ = ml.Get(ctx, "k1", time.Minute)

	stats := ml.Stats()
	assert.Contains(t, stats, TierMemory)
	assert.Contains(t, stats, TierDisk)
	assert.Equal(t, int64(1), stats[TierMemory].Hits)
}
