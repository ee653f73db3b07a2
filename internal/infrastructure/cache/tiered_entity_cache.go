package cache

import (
	"context"
	"sync/atomic"

	"github.com/collab/admin/internal/domain/directory"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Publisher sends invalidations to other instances
type Publisher interface {
	Publish(ctx context.Context, msg InvalidationMessage) error
}

// TieredEntityCache reads through a local L1 into a shared Redis L2.
// Invalidations clear both tiers here and are published so that peers drop
// their L1 copies.
type TieredEntityCache struct {
	l1        *MemoryEntityCache
	l2        directory.EntityCache
	publisher Publisher
	logger    *zap.Logger

	l1Hits int64
	l2Hits int64
	misses int64
}

// NewTieredEntityCache combines the tiers; publisher may be nil on a single instance
func NewTieredEntityCache(l1 *MemoryEntityCache, l2 directory.EntityCache, publisher Publisher, logger *zap.Logger) *TieredEntityCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TieredEntityCache{l1: l1, l2: l2, publisher: publisher, logger: logger}
}

// Get tries L1, then L2, warming L1 on an L2 hit
func (c *TieredEntityCache) Get(ctx context.Context, region directory.CacheRegion, key directory.CacheKey) ([]byte, bool, error) {
	if data, ok, _ := c.l1.Get(ctx, region, key); ok {
		atomic.AddInt64(&c.l1Hits, 1)
		return data, true, nil
	}

	data, ok, err := c.l2.Get(ctx, region, key)
	if err != nil {
		c.logger.Warn("L2 cache error", zap.Stringer("key", key), zap.Error(err))
		atomic.AddInt64(&c.misses, 1)
		return nil, false, nil
	}
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return nil, false, nil
	}

	atomic.AddInt64(&c.l2Hits, 1)
	_ = c.l1.Set(ctx, region, key, data)
	return data, true, nil
}

// Set writes L2 first so that L1 never holds a value peers cannot see
func (c *TieredEntityCache) Set(ctx context.Context, region directory.CacheRegion, key directory.CacheKey, value []byte) error {
	if err := c.l2.Set(ctx, region, key, value); err != nil {
		return err
	}
	return c.l1.Set(ctx, region, key, value)
}

// Invalidate clears both tiers and notifies peers. Every step runs; the
// combined error reports whatever failed.
func (c *TieredEntityCache) Invalidate(ctx context.Context, region directory.CacheRegion, keys ...directory.CacheKey) error {
	err := c.l1.Invalidate(ctx, region, keys...)
	err = multierr.Append(err, c.l2.Invalidate(ctx, region, keys...))
	if c.publisher != nil {
		err = multierr.Append(err, c.publisher.Publish(ctx, InvalidationMessage{Region: region, Keys: keys}))
	}
	return err
}

// HandleInvalidation applies a peer's message to L1
func (c *TieredEntityCache) HandleInvalidation(msg InvalidationMessage) {
	ctx := context.Background()
	if msg.All {
		_ = c.l1.InvalidateAll(ctx)
		return
	}
	_ = c.l1.Invalidate(ctx, msg.Region, msg.Keys...)
	c.logger.Debug("Applied peer cache invalidation",
		zap.String("origin", msg.Origin),
		zap.String("region", string(msg.Region)),
		zap.Int("keys", len(msg.Keys)))
}

// Stats returns L1 hits, L2 hits and misses
func (c *TieredEntityCache) Stats() (l1Hits, l2Hits, misses int64) {
	return atomic.LoadInt64(&c.l1Hits), atomic.LoadInt64(&c.l2Hits), atomic.LoadInt64(&c.misses)
}

var _ directory.EntityCache = (*TieredEntityCache)(nil)
