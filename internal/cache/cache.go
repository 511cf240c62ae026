// Package cache provides the tiered response cache for the AI gateway.
// Three tiers are supported: an in-process sharded LRU, a local
// persistent store backed by SQLite, and a distributed Redis tier.
package cache

import (
	"context"
	"errors"
	"time"
)

// Tier names used in logs and metric labels.
const (
	TierMemory      = "memory"
	TierDisk        = "disk"
	TierDistributed = "distributed"
)

// Common cache errors.
var (
	// ErrCacheMiss indicates that the key was not found in the cache.
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheDisabled indicates that caching is disabled.
	ErrCacheDisabled = errors.New("cache disabled")

	// ErrInvalidConfig indicates that the cache configuration is invalid.
	ErrInvalidConfig = errors.New("invalid cache configuration")

	// ErrConnectionFailed indicates that the cache connection failed.
	ErrConnectionFailed = errors.New("cache connection failed")
)

// Cache is the interface implemented by every cache tier.
type Cache interface {
	// Get retrieves a value from the cache.
	// Returns ErrCacheMiss if the key is not found or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with the given TTL.
	// A TTL of 0 means the entry never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the cache.
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists in the cache.
	Exists(ctx context.Context, key string) (bool, error)

	// Name returns the tier name for logs and metrics.
	Name() string

	// Close closes the cache.
	Close() error
}

// StaleReader is implemented by tiers that can return an entry past
// its TTL. The fallback path uses it when every backend is down and a
// stale answer beats no answer.
type StaleReader interface {
	// GetStale retrieves a value even if its TTL has elapsed.
	// Returns ErrCacheMiss if the key is not physically present.
	GetStale(ctx context.Context, key string) ([]byte, error)
}

// CacheWithStats extends Cache with statistics.
type CacheWithStats interface {
	Cache

	// Stats returns cache statistics.
	Stats() CacheStats
}

// CacheStats contains cache statistics.
type CacheStats struct {
	// Hits is the number of cache hits.
	Hits int64

	// Misses is the number of cache misses.
	Misses int64

	// Size is the current number of entries in the cache.
	Size int64

	// Evictions is the number of entries evicted to make room.
	Evictions int64
}

// HitRate returns the cache hit rate as a percentage.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// Entry represents a cached entry with metadata.
type Entry struct {
	Value     []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsExpired returns true if the entry has expired.
func (e *Entry) IsExpired() bool {
	if e.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(e.ExpiresAt)
}

// TTL returns the remaining time-to-live.
func (e *Entry) TTL() time.Duration {
	if e.ExpiresAt.IsZero() {
		return 0
	}
	ttl := time.Until(e.ExpiresAt)
	if ttl < 0 {
		return 0
	}
	return ttl
}
