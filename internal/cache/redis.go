package cache

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"net"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"aigw/internal/config"
	"aigw/internal/observability"
	"aigw/internal/retry"
)

// redisRetryConfig returns the retry configuration for Redis operations.
// These are short, local retries; the gateway's request-level retry
// executor is a separate concern.
func redisRetryConfig() *retry.Config {
	return &retry.Config{
		MaxAttempts: 3,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    500 * time.Millisecond,
		Multiplier:  2.0,
		JitterMax:   50 * time.Millisecond,
	}
}

// isRetryableRedisError reports whether a redis failure is worth a
// short local retry. Misses and context errors are not; transport
// failures are.
func isRetryableRedisError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

// redisCache implements the distributed cache tier.
type redisCache struct {
	logger    observability.Logger
	client    *redis.Client
	keyPrefix string
	ttlJitter float64

	hits   int64
	misses int64
}

// defaultTTLJitter spreads expirations by ±10% to avoid synchronized
// cache refills across gateway replicas.
const defaultTTLJitter = 0.1

// NewRedisCache creates the distributed cache tier.
func NewRedisCache(cfg *config.RedisCacheConfig, keyPrefix string, logger observability.Logger) (*redisCache, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if cfg.Address == "" {
		return nil, ErrInvalidConfig
	}

	opts := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.Timeout > 0 {
		opts.DialTimeout = cfg.Timeout.Duration()
		opts.ReadTimeout = cfg.Timeout.Duration()
		opts.WriteTimeout = cfg.Timeout.Duration()
	}

	client := redis.NewClient(opts)

	if err := pingRedis(client); err != nil {
		_ = client.Close()
		return nil, errors.Join(ErrConnectionFailed, err)
	}

	if keyPrefix != "" {
		keyPrefix += ":"
	}

	c := &redisCache{
		logger:    logger,
		client:    client,
		keyPrefix: keyPrefix,
		ttlJitter: defaultTTLJitter,
	}

	logger.Info("distributed cache initialized",
		observability.String("address", cfg.Address),
		observability.String("keyPrefix", keyPrefix),
	)

	return c, nil
}

// pingRedis tests the Redis connection with a timeout.
func pingRedis(client *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return client.Ping(ctx).Err()
}

// applyTTLJitter adds random jitter to a TTL value to prevent thundering herd.
// The jitterFactor controls the maximum percentage of variation (0.0 to 1.0).
func applyTTLJitter(ttl time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 || ttl <= 0 {
		return ttl
	}
	if jitterFactor > 1.0 {
		jitterFactor = 1.0
	}
	//nolint:gosec // G404: TTL jitter does not require cryptographic randomness
	jitter := time.Duration(float64(ttl) * jitterFactor * (2*rand.Float64() - 1))
	result := ttl + jitter
	if result <= 0 {
		return ttl
	}
	return result
}

// resolveKey applies the key prefix.
func (c *redisCache) resolveKey(key string) string {
	return c.keyPrefix + key
}

// Name implements Cache.
func (c *redisCache) Name() string { return TierDistributed }

// Get retrieves a value from the cache with exponential backoff retry.
func (c *redisCache) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	defer func() {
		GetCacheMetrics().operationDuration.WithLabelValues(
			TierDistributed, "get",
		).Observe(time.Since(start).Seconds())
	}()

	fullKey := c.resolveKey(key)

	var result []byte

	err := retry.Do(ctx, redisRetryConfig(), func() error {
		val, getErr := c.client.Get(ctx, fullKey).Bytes()
		if getErr == nil {
			result = val
			return nil
		}
		return getErr
	}, &retry.Options{
		ShouldRetry: isRetryableRedisError,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			c.logger.Debug("retrying redis get",
				observability.String("key", key),
				observability.Int("attempt", attempt))
		},
	})

	if err == nil {
		atomic.AddInt64(&c.hits, 1)
		GetCacheMetrics().hitsTotal.WithLabelValues(TierDistributed).Inc()
		return result, nil
	}

	if errors.Is(err, redis.Nil) {
		atomic.AddInt64(&c.misses, 1)
		GetCacheMetrics().missesTotal.WithLabelValues(TierDistributed).Inc()
		return nil, ErrCacheMiss
	}

	GetCacheMetrics().errorsTotal.WithLabelValues(TierDistributed, "get").Inc()
	c.logger.Error("redis get failed",
		observability.String("key", key),
		observability.Error(err))
	return nil, err
}

// Set stores a value in the cache with exponential backoff retry.
func (c *redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	defer func() {
		GetCacheMetrics().operationDuration.WithLabelValues(
			TierDistributed, "set",
		).Observe(time.Since(start).Seconds())
	}()

	ttl = applyTTLJitter(ttl, c.ttlJitter)
	fullKey := c.resolveKey(key)

	err := retry.Do(ctx, redisRetryConfig(), func() error {
		return c.client.Set(ctx, fullKey, value, ttl).Err()
	}, &retry.Options{
		ShouldRetry: isRetryableRedisError,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			c.logger.Debug("retrying redis set",
				observability.String("key", key),
				observability.Int("attempt", attempt))
		},
	})

	if err != nil {
		GetCacheMetrics().errorsTotal.WithLabelValues(TierDistributed, "set").Inc()
		c.logger.Error("redis set failed",
			observability.String("key", key),
			observability.Error(err))
	}
	return err
}

// Delete removes a value from the cache.
func (c *redisCache) Delete(ctx context.Context, key string) error {
	start := time.Now()
	defer func() {
		GetCacheMetrics().operationDuration.WithLabelValues(
			TierDistributed, "delete",
		).Observe(time.Since(start).Seconds())
	}()

	err := c.client.Del(ctx, c.resolveKey(key)).Err()
	if err != nil {
		GetCacheMetrics().errorsTotal.WithLabelValues(TierDistributed, "delete").Inc()
	}
	return err
}

// Exists checks if a key exists in the cache.
func (c *redisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, c.resolveKey(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close closes the Redis connection.
func (c *redisCache) Close() error {
	return c.client.Close()
}

// Stats implements CacheWithStats.
func (c *redisCache) Stats() CacheStats {
	return CacheStats{
		Hits:   atomic.LoadInt64(&c.hits),
		Misses: atomic.LoadInt64(&c.misses),
	}
}
