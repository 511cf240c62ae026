package cache

import (
	"container/list"
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"aigw/internal/config"
	"aigw/internal/observability"
)

// memoryCache implements an in-process LRU cache sharded by key hash
// so that concurrent requests do not contend on a single lock.
type memoryCache struct {
	logger observability.Logger
	shards []*memoryShard

	hits      int64
	misses    int64
	evictions int64

	sweepInterval time.Duration
	stopCh        chan struct{}
	stoppedCh     chan struct{}
	closeOnce     sync.Once
}

// memoryShard is one independently locked LRU segment.
type memoryShard struct {
	mu         sync.Mutex
	maxEntries int
	items      map[string]*list.Element
	eviction   *list.List
}

// memoryEntry represents an entry in the memory cache.
type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewMemoryCache creates the in-process cache tier.
func NewMemoryCache(cfg *config.MemoryCacheConfig, sweepInterval time.Duration, logger observability.Logger) *memoryCache {
	if logger == nil {
		logger = observability.NopLogger()
	}

	shardCount := cfg.Shards
	if shardCount < 1 {
		shardCount = 16
	}
	maxEntries := cfg.MaxEntries
	if maxEntries < shardCount {
		maxEntries = shardCount
	}

	shards := make([]*memoryShard, shardCount)
	perShard := maxEntries / shardCount
	if perShard < 1 {
		perShard = 1
	}
	for i := range shards {
		shards[i] = &memoryShard{
			maxEntries: perShard,
			items:      make(map[string]*list.Element),
			eviction:   list.New(),
		}
	}

	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}

	c := &memoryCache{
		logger:        logger,
		shards:        shards,
		sweepInterval: sweepInterval,
		stopCh:        make(chan struct{}),
		stoppedCh:     make(chan struct{}),
	}

	go c.sweepLoop()

	logger.Info("memory cache initialized",
		observability.Int("maxEntries", maxEntries),
		observability.Int("shards", shardCount),
	)

	return c
}

// shardFor returns the shard responsible for the key.
func (c *memoryCache) shardFor(key string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[int(h.Sum32())%len(c.shards)]
}

// Name implements Cache.
func (c *memoryCache) Name() string { return TierMemory }

// Get retrieves a value from the cache.
func (c *memoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	defer func() {
		GetCacheMetrics().operationDuration.WithLabelValues(
			TierMemory, "get",
		).Observe(time.Since(start).Seconds())
	}()

	shard := c.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	elem, exists := shard.items[key]
	if !exists {
		atomic.AddInt64(&c.misses, 1)
		GetCacheMetrics().missesTotal.WithLabelValues(TierMemory).Inc()
		return nil, ErrCacheMiss
	}

	entry := elem.Value.(*memoryEntry)

	// Lazy expiry on read
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		shard.removeElement(elem)
		atomic.AddInt64(&c.misses, 1)
		GetCacheMetrics().missesTotal.WithLabelValues(TierMemory).Inc()
		return nil, ErrCacheMiss
	}

	shard.eviction.MoveToFront(elem)
	atomic.AddInt64(&c.hits, 1)
	GetCacheMetrics().hitsTotal.WithLabelValues(TierMemory).Inc()

	// Copy so callers cannot mutate the cached bytes
	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, nil
}

// GetStale implements StaleReader. An expired entry still present in
// the shard is returned as-is without refreshing its LRU position.
func (c *memoryCache) GetStale(ctx context.Context, key string) ([]byte, error) {
	shard := c.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	elem, exists := shard.items[key]
	if !exists {
		return nil, ErrCacheMiss
	}

	entry := elem.Value.(*memoryEntry)
	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, nil
}

// Set stores a value in the cache.
func (c *memoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	defer func() {
		GetCacheMetrics().operationDuration.WithLabelValues(
			TierMemory, "set",
		).Observe(time.Since(start).Seconds())
	}()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	shard := c.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if elem, exists := shard.items[key]; exists {
		entry := elem.Value.(*memoryEntry)
		entry.value = stored
		entry.expiresAt = expiresAt
		shard.eviction.MoveToFront(elem)
		return nil
	}

	entry := &memoryEntry{key: key, value: stored, expiresAt: expiresAt}
	shard.items[key] = shard.eviction.PushFront(entry)
	GetCacheMetrics().sizeGauge.WithLabelValues(TierMemory).Inc()

	// Evict the least recently used entry when the shard is full
	if shard.eviction.Len() > shard.maxEntries {
		if oldest := shard.eviction.Back(); oldest != nil {
			shard.removeElement(oldest)
			atomic.AddInt64(&c.evictions, 1)
			GetCacheMetrics().evictionsTotal.WithLabelValues(TierMemory).Inc()
		}
	}

	return nil
}

// Delete removes a value from the cache.
func (c *memoryCache) Delete(ctx context.Context, key string) error {
	start := time.Now()
	defer func() {
		GetCacheMetrics().operationDuration.WithLabelValues(
			TierMemory, "delete",
		).Observe(time.Since(start).Seconds())
	}()

	shard := c.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if elem, exists := shard.items[key]; exists {
		shard.removeElement(elem)
	}
	return nil
}

// Exists checks if a key exists in the cache.
func (c *memoryCache) Exists(ctx context.Context, key string) (bool, error) {
	shard := c.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	elem, exists := shard.items[key]
	if !exists {
		return false, nil
	}

	entry := elem.Value.(*memoryEntry)
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		shard.removeElement(elem)
		return false, nil
	}
	return true, nil
}

// Close stops the background sweeper.
func (c *memoryCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopCh)
		<-c.stoppedCh
	})
	return nil
}

// Stats implements CacheWithStats.
func (c *memoryCache) Stats() CacheStats {
	var size int64
	for _, shard := range c.shards {
		shard.mu.Lock()
		size += int64(shard.eviction.Len())
		shard.mu.Unlock()
	}

	return CacheStats{
		Hits:      atomic.LoadInt64(&c.hits),
		Misses:    atomic.LoadInt64(&c.misses),
		Size:      size,
		Evictions: atomic.LoadInt64(&c.evictions),
	}
}

// removeElement removes an element from the shard. Caller holds the lock.
func (s *memoryShard) removeElement(elem *list.Element) {
	entry := elem.Value.(*memoryEntry)
	delete(s.items, entry.key)
	s.eviction.Remove(elem)
	GetCacheMetrics().sizeGauge.WithLabelValues(TierMemory).Dec()
}

// sweepLoop periodically purges expired entries so memory is not held
// by keys that are never read again.
func (c *memoryCache) sweepLoop() {
	defer close(c.stoppedCh)

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep removes all expired entries.
func (c *memoryCache) sweep() {
	now := time.Now()
	removed := 0

	for _, shard := range c.shards {
		shard.mu.Lock()
		for elem := shard.eviction.Back(); elem != nil; {
			prev := elem.Prev()
			entry := elem.Value.(*memoryEntry)
			if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
				shard.removeElement(elem)
				removed++
			}
			elem = prev
		}
		shard.mu.Unlock()
	}

	if removed > 0 {
		c.logger.Debug("memory cache sweep completed",
			observability.Int("removed", removed),
		)
	}
}
