package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"aigw/internal/config"
	"aigw/internal/observability"
)

// staleRetention is how long expired rows stay readable through
// GetStale before the sweeper deletes them.
const staleRetention = time.Hour

// diskCache implements the local persistent cache tier on SQLite. It
// survives process restarts, which keeps warm responses available after
// a deploy without touching the distributed tier.
type diskCache struct {
	logger     observability.Logger
	db         *sql.DB
	maxEntries int

	hits      int64
	misses    int64
	evictions int64

	sweepInterval time.Duration
	stopCh        chan struct{}
	stoppedCh     chan struct{}
	closeOnce     sync.Once
}

// NewDiskCache opens or creates the SQLite-backed cache tier.
func NewDiskCache(cfg *config.DiskCacheConfig, sweepInterval time.Duration, logger observability.Logger) (*diskCache, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if cfg.Path == "" {
		return nil, ErrInvalidConfig
	}

	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 100000
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}

	c := &diskCache{
		logger:        logger,
		db:            db,
		maxEntries:    maxEntries,
		sweepInterval: sweepInterval,
		stopCh:        make(chan struct{}),
		stoppedCh:     make(chan struct{}),
	}

	if err := c.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	go c.sweepLoop()

	logger.Info("disk cache initialized",
		observability.String("path", cfg.Path),
		observability.Int("maxEntries", maxEntries),
	)

	return c, nil
}

func (c *diskCache) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cache_entries (
		key         TEXT PRIMARY KEY,
		value       BLOB NOT NULL,
		created_at  INTEGER NOT NULL,
		expires_at  INTEGER NOT NULL DEFAULT 0,
		accessed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache_entries(expires_at);
	CREATE INDEX IF NOT EXISTS idx_cache_accessed ON cache_entries(accessed_at);
	`
	_, err := c.db.Exec(schema)
	return err
}

// Name implements Cache.
func (c *diskCache) Name() string { return TierDisk }

// Get retrieves a value from the cache.
func (c *diskCache) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	defer func() {
		GetCacheMetrics().operationDuration.WithLabelValues(
			TierDisk, "get",
		).Observe(time.Since(start).Seconds())
	}()

	now := time.Now().UnixNano()

	var value []byte
	var expiresAt int64
	err := c.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&value, &expiresAt)

	if errors.Is(err, sql.ErrNoRows) {
		atomic.AddInt64(&c.misses, 1)
		GetCacheMetrics().missesTotal.WithLabelValues(TierDisk).Inc()
		return nil, ErrCacheMiss
	}
	if err != nil {
		GetCacheMetrics().errorsTotal.WithLabelValues(TierDisk, "get").Inc()
		return nil, err
	}

	// Lazy expiry on read. The row is left in place so the fallback
	// path can still serve it stale until the sweeper reclaims it.
	if expiresAt > 0 && now > expiresAt {
		atomic.AddInt64(&c.misses, 1)
		GetCacheMetrics().missesTotal.WithLabelValues(TierDisk).Inc()
		return nil, ErrCacheMiss
	}

	_, _ = c.db.ExecContext(ctx,
		`UPDATE cache_entries SET accessed_at = ? WHERE key = ?`, now, key)

	atomic.AddInt64(&c.hits, 1)
	GetCacheMetrics().hitsTotal.WithLabelValues(TierDisk).Inc()
	return value, nil
}

// GetStale implements StaleReader. Rows past their TTL remain readable
// until the sweeper reclaims them after the stale retention window.
func (c *diskCache) GetStale(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT value FROM cache_entries WHERE key = ?`, key,
	).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Set stores a value in the cache.
func (c *diskCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	defer func() {
		GetCacheMetrics().operationDuration.WithLabelValues(
			TierDisk, "set",
		).Observe(time.Since(start).Seconds())
	}()

	now := time.Now().UnixNano()
	var expiresAt int64
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).UnixNano()
	}

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, value, created_at, expires_at, accessed_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   value = excluded.value,
		   created_at = excluded.created_at,
		   expires_at = excluded.expires_at,
		   accessed_at = excluded.accessed_at`,
		key, value, now, expiresAt, now,
	)
	if err != nil {
		GetCacheMetrics().errorsTotal.WithLabelValues(TierDisk, "set").Inc()
		return err
	}

	return c.evictIfFull(ctx)
}

// evictIfFull removes the least recently accessed entries when the tier
// grows past its configured capacity.
func (c *diskCache) evictIfFull(ctx context.Context) error {
	var count int
	if err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cache_entries`).Scan(&count); err != nil {
		return err
	}
	if count <= c.maxEntries {
		return nil
	}

	overflow := count - c.maxEntries
	result, err := c.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE key IN (
			SELECT key FROM cache_entries ORDER BY accessed_at ASC LIMIT ?
		)`, overflow)
	if err != nil {
		return err
	}

	if evicted, err := result.RowsAffected(); err == nil && evicted > 0 {
		atomic.AddInt64(&c.evictions, evicted)
		for i := int64(0); i < evicted; i++ {
			GetCacheMetrics().evictionsTotal.WithLabelValues(TierDisk).Inc()
		}
	}
	return nil
}

// Delete removes a value from the cache.
func (c *diskCache) Delete(ctx context.Context, key string) error {
	start := time.Now()
	defer func() {
		GetCacheMetrics().operationDuration.WithLabelValues(
			TierDisk, "delete",
		).Observe(time.Since(start).Seconds())
	}()

	_, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
	if err != nil {
		GetCacheMetrics().errorsTotal.WithLabelValues(TierDisk, "delete").Inc()
	}
	return err
}

// Exists checks if a key exists in the cache.
func (c *diskCache) Exists(ctx context.Context, key string) (bool, error) {
	var expiresAt int64
	err := c.db.QueryRowContext(ctx,
		`SELECT expires_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&expiresAt)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if expiresAt > 0 && time.Now().UnixNano() > expiresAt {
		return false, nil
	}
	return true, nil
}

// Close stops the sweeper and closes the database.
func (c *diskCache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stopCh)
		<-c.stoppedCh
		err = c.db.Close()
	})
	return err
}

// Stats implements CacheWithStats.
func (c *diskCache) Stats() CacheStats {
	var size int64
	_ = c.db.QueryRow(`SELECT COUNT(*) FROM cache_entries`).Scan(&size)

	return CacheStats{
		Hits:      atomic.LoadInt64(&c.hits),
		Misses:    atomic.LoadInt64(&c.misses),
		Size:      size,
		Evictions: atomic.LoadInt64(&c.evictions),
	}
}

// sweepLoop periodically purges expired rows.
func (c *diskCache) sweepLoop() {
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

// sweep removes expired entries whose stale retention window has also
// elapsed. Keeping freshly expired rows around gives the fallback path
// something to serve when every backend is down.
func (c *diskCache) sweep() {
	result, err := c.db.Exec(
		`DELETE FROM cache_entries WHERE expires_at > 0 AND expires_at < ?`,
		time.Now().Add(-staleRetention).UnixNano(),
	)
	if err != nil {
		c.logger.Warn("disk cache sweep failed", observability.Error(err))
		return
	}

	if removed, err := result.RowsAffected(); err == nil && removed > 0 {
		c.logger.Debug("disk cache sweep completed",
			observability.Int64("removed", removed),
		)
	}
}
