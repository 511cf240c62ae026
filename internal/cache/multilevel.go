package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"aigw/internal/config"
	"aigw/internal/observability"
)

// asyncWriteTimeout bounds background writes to slower tiers.
const asyncWriteTimeout = 5 * time.Second

// MultiLevel coordinates the cache tiers. Reads check the fastest tier
// first and fall through; a hit in a slower tier is promoted into the
// faster ones. Writes land in the in-process tier synchronously and
// propagate to slower tiers in the background, so request latency never
// pays for disk or network round trips.
type MultiLevel struct {
	logger observability.Logger
	tiers  []Cache

	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    chan struct{}
}

// NewMultiLevel builds the tiered cache from configuration. Tiers that
// are disabled or fail to initialize are skipped; a gateway with no
// reachable Redis still runs with its local tiers.
func NewMultiLevel(cfg *config.CacheConfig, logger observability.Logger) (*MultiLevel, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	ml := &MultiLevel{
		logger: logger,
		closed: make(chan struct{}),
	}

	if !cfg.Enabled {
		return ml, nil
	}

	sweep := cfg.SweepInterval.Duration()

	if cfg.Memory.Enabled {
		ml.tiers = append(ml.tiers, NewMemoryCache(&cfg.Memory, sweep, logger))
	}

	if cfg.Disk.Enabled {
		disk, err := NewDiskCache(&cfg.Disk, sweep, logger)
		if err != nil {
			logger.Warn("disk cache tier unavailable", observability.Error(err))
		} else {
			ml.tiers = append(ml.tiers, disk)
		}
	}

	if cfg.Distributed.Enabled {
		dist, err := NewRedisCache(&cfg.Distributed, cfg.KeyPrefix, logger)
		if err != nil {
			logger.Warn("distributed cache tier unavailable", observability.Error(err))
		} else {
			ml.tiers = append(ml.tiers, dist)
		}
	}

	return ml, nil
}

// Enabled reports whether at least one tier is active.
func (m *MultiLevel) Enabled() bool {
	return len(m.tiers) > 0
}

// Get looks the key up tier by tier. The ttl is used when promoting a
// hit from a slower tier into the faster ones.
func (m *MultiLevel) Get(ctx context.Context, key string, ttl time.Duration) ([]byte, string, error) {
	if len(m.tiers) == 0 {
		return nil, "", ErrCacheDisabled
	}

	for i, tier := range m.tiers {
		value, err := tier.Get(ctx, key)
		if err == nil {
			if i > 0 {
				m.promote(key, value, ttl, i)
			}
			return value, tier.Name(), nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			m.logger.Warn("cache tier read failed",
				observability.String("tier", tier.Name()),
				observability.Error(err),
			)
		}
	}

	return nil, "", ErrCacheMiss
}

// GetStale returns the most recent value for the key even if its TTL
// has elapsed, checking tiers fastest first. Only tiers that retain
// expired entries participate. The value is never promoted.
func (m *MultiLevel) GetStale(ctx context.Context, key string) ([]byte, string, error) {
	if len(m.tiers) == 0 {
		return nil, "", ErrCacheDisabled
	}

	for _, tier := range m.tiers {
		sr, ok := tier.(StaleReader)
		if !ok {
			continue
		}
		value, err := sr.GetStale(ctx, key)
		if err == nil {
			return value, tier.Name(), nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			m.logger.Warn("stale cache read failed",
				observability.String("tier", tier.Name()),
				observability.Error(err),
			)
		}
	}

	return nil, "", ErrCacheMiss
}

// promote copies a value into all tiers faster than the one it was
// found in.
func (m *MultiLevel) promote(key string, value []byte, ttl time.Duration, foundAt int) {
	faster := m.tiers[:foundAt]
	m.async(func(ctx context.Context) {
		for _, tier := range faster {
			if err := tier.Set(ctx, key, value, ttl); err != nil {
				m.logger.Warn("cache promotion failed",
					observability.String("tier", tier.Name()),
					observability.Error(err),
				)
				continue
			}
			GetCacheMetrics().promotionsTotal.WithLabelValues(tier.Name()).Inc()
		}
	})
}

// Set writes the value to the fastest tier synchronously and to the
// remaining tiers in the background.
func (m *MultiLevel) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if len(m.tiers) == 0 {
		return ErrCacheDisabled
	}

	if err := m.tiers[0].Set(ctx, key, value, ttl); err != nil {
		return err
	}

	if len(m.tiers) > 1 {
		slower := m.tiers[1:]
		m.async(func(ctx context.Context) {
			for _, tier := range slower {
				if err := tier.Set(ctx, key, value, ttl); err != nil {
					m.logger.Warn("cache write-through failed",
						observability.String("tier", tier.Name()),
						observability.Error(err),
					)
				}
			}
		})
	}

	return nil
}

// Exists reports whether any tier holds a live entry for the key. It
// does not promote and does not count as a hit or miss.
func (m *MultiLevel) Exists(ctx context.Context, key string) (bool, error) {
	if len(m.tiers) == 0 {
		return false, ErrCacheDisabled
	}

	for _, tier := range m.tiers {
		ok, err := tier.Exists(ctx, key)
		if err != nil {
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Delete removes the key from every tier.
func (m *MultiLevel) Delete(ctx context.Context, key string) error {
	var firstErr error
	for _, tier := range m.tiers {
		if err := tier.Delete(ctx, key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stats returns per-tier statistics.
func (m *MultiLevel) Stats() map[string]CacheStats {
	stats := make(map[string]CacheStats, len(m.tiers))
	for _, tier := range m.tiers {
		if ws, ok := tier.(CacheWithStats); ok {
			stats[tier.Name()] = ws.Stats()
		}
	}
	return stats
}

// Close waits for in-flight background writes and closes all tiers.
func (m *MultiLevel) Close() error {
	var firstErr error
	m.closeOnce.Do(func() {
		close(m.closed)
		m.wg.Wait()
		for _, tier := range m.tiers {
			if err := tier.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}

// async runs fn in the background with its own timeout, detached from
// the request context.
func (m *MultiLevel) async(fn func(ctx context.Context)) {
	select {
	case <-m.closed:
		return
	default:
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), asyncWriteTimeout)
		defer cancel()
		fn(ctx)
	}()
}
