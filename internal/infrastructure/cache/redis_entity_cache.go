package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/collab/admin/internal/domain/directory"
	"github.com/collab/admin/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultKeyPrefix     = "admin:cache:"
	defaultScanBatchSize = 100
	connectTimeout       = 5 * time.Second
)

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisEntityCache stores entity views in Redis so that every instance
// shares them. The caller owns the client.
type RedisEntityCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// RedisOption configures a RedisEntityCache
type RedisOption func(*RedisEntityCache)

// WithKeyPrefix sets the key namespace
func WithKeyPrefix(prefix string) RedisOption {
	return func(c *RedisEntityCache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithRedisTTL sets the entry expiry
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(c *RedisEntityCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithRedisLogger sets the logger
func WithRedisLogger(logger *zap.Logger) RedisOption {
	return func(c *RedisEntityCache) {
		c.logger = logger
	}
}

// NewRedisEntityCache creates a cache over an existing client
func NewRedisEntityCache(client redis.UniversalClient, opts ...RedisOption) *RedisEntityCache {
	c := &RedisEntityCache{
		client: client,
		prefix: defaultKeyPrefix,
		ttl:    defaultTTL,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisEntityCache) redisKey(region directory.CacheRegion, key directory.CacheKey) string {
	return c.prefix + string(region) + ":" + key.String()
}

// Get returns the cached bytes; redis.Nil is a miss
func (c *RedisEntityCache) Get(ctx context.Context, region directory.CacheRegion, key directory.CacheKey) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, c.redisKey(region, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return data, true, nil
}

// Set stores value with the configured TTL
func (c *RedisEntityCache) Set(ctx context.Context, region directory.CacheRegion, key directory.CacheKey, value []byte) error {
	if err := c.client.Set(ctx, c.redisKey(region, key), value, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Invalidate deletes the keys from the region in one round trip
func (c *RedisEntityCache) Invalidate(ctx context.Context, region directory.CacheRegion, keys ...directory.CacheKey) error {
	if len(keys) == 0 {
		return nil
	}
	rk := make([]string, len(keys))
	for i, key := range keys {
		rk[i] = c.redisKey(region, key)
	}
	if err := c.client.Del(ctx, rk...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// InvalidateAll removes every key under the prefix
func (c *RedisEntityCache) InvalidateAll(ctx context.Context) error {
	var cursor uint64
	var total int64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", defaultScanBatchSize).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			deleted, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
			total += deleted
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	c.logger.Info("Invalidated all Redis entity cache entries", zap.Int64("deleted", total))
	return nil
}

var _ directory.EntityCache = (*RedisEntityCache)(nil)
