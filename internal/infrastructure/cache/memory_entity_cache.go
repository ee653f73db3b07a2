package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/collab/admin/internal/domain/directory"
	"go.uber.org/zap"
)

const (
	defaultTTL             = 10 * time.Minute
	defaultCleanupInterval = 30 * time.Second
)

// MemoryEntityCache keeps entity views in process memory. It serves as the
// cache on single-instance deployments and as L1 of the tiered cache.
type MemoryEntityCache struct {
	entries         sync.Map // map[string]*cacheEntry
	ttl             time.Duration
	cleanupInterval time.Duration
	logger          *zap.Logger
	stopCh          chan struct{}
	stopped         int32

	hits   int64
	misses int64
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e *cacheEntry) isExpired() bool {
	return time.Now().After(e.expiresAt)
}

// MemoryOption configures a MemoryEntityCache
type MemoryOption func(*MemoryEntityCache)

// WithMemoryTTL sets how long entries live
func WithMemoryTTL(ttl time.Duration) MemoryOption {
	return func(c *MemoryEntityCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithCleanupInterval sets how often expired entries are swept
func WithCleanupInterval(d time.Duration) MemoryOption {
	return func(c *MemoryEntityCache) {
		if d > 0 {
			c.cleanupInterval = d
		}
	}
}

// WithMemoryLogger sets the logger
func WithMemoryLogger(logger *zap.Logger) MemoryOption {
	return func(c *MemoryEntityCache) {
		c.logger = logger
	}
}

// NewMemoryEntityCache creates the cache and starts its cleanup loop.
// Close stops the loop.
func NewMemoryEntityCache(opts ...MemoryOption) *MemoryEntityCache {
	c := &MemoryEntityCache{
		ttl:             defaultTTL,
		cleanupInterval: defaultCleanupInterval,
		logger:          zap.NewNop(),
		stopCh:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.cleanupExpired()
	return c
}

func entryKey(region directory.CacheRegion, key directory.CacheKey) string {
	return string(region) + "|" + key.String()
}

// Get returns the cached bytes, reporting a miss for absent or expired entries
func (c *MemoryEntityCache) Get(_ context.Context, region directory.CacheRegion, key directory.CacheKey) ([]byte, bool, error) {
	k := entryKey(region, key)
	if value, ok := c.entries.Load(k); ok {
		entry := value.(*cacheEntry)
		if !entry.isExpired() {
			atomic.AddInt64(&c.hits, 1)
			return entry.value, true, nil
		}
		c.entries.Delete(k)
	}

	atomic.AddInt64(&c.misses, 1)
	return nil, false, nil
}

// Set stores a copy of value
func (c *MemoryEntityCache) Set(_ context.Context, region directory.CacheRegion, key directory.CacheKey, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	c.entries.Store(entryKey(region, key), &cacheEntry{
		value:     stored,
		expiresAt: time.Now().Add(c.ttl),
	})
	return nil
}

// Invalidate drops the given keys from the region
func (c *MemoryEntityCache) Invalidate(_ context.Context, region directory.CacheRegion, keys ...directory.CacheKey) error {
	for _, key := range keys {
		c.entries.Delete(entryKey(region, key))
	}
	return nil
}

// InvalidateAll drops every entry
func (c *MemoryEntityCache) InvalidateAll(_ context.Context) error {
	c.entries.Range(func(key, _ any) bool {
		c.entries.Delete(key)
		return true
	})
	c.logger.Info("Invalidated all in-memory entity cache entries")
	return nil
}

// Close stops the cleanup loop
func (c *MemoryEntityCache) Close() error {
	if atomic.CompareAndSwapInt32(&c.stopped, 0, 1) {
		close(c.stopCh)
	}
	return nil
}

// Stats returns hit and miss counts
func (c *MemoryEntityCache) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
}

// Len returns the number of stored entries, expired ones included
func (c *MemoryEntityCache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (c *MemoryEntityCache) cleanupExpired() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						c.logger.Error("Panic in cache cleanup", zap.Any("panic", r))
					}
				}()
				c.doCleanup()
			}()
		}
	}
}

func (c *MemoryEntityCache) doCleanup() {
	removed := 0
	c.entries.Range(func(key, value any) bool {
		if value.(*cacheEntry).isExpired() {
			c.entries.Delete(key)
			removed++
		}
		return true
	})

	if removed > 0 {
		c.logger.Debug("Cleaned up expired entity cache entries", zap.Int("removed", removed))
	}
}

var _ directory.EntityCache = (*MemoryEntityCache)(nil)
