package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/collab/admin/internal/domain/directory"
	"github.com/collab/admin/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Backend names accepted in cache.backend
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendTiered = "tiered"
	BackendNone   = "none"
)

// EntityCaches is the entity cache selected by configuration together with
// the resources it owns
type EntityCaches struct {
	// Cache is nil for the "none" backend
	Cache directory.EntityCache

	memory *MemoryEntityCache
	tiered *TieredEntityCache
	bus    *InvalidationBus
	logger *zap.Logger
}

// NewEntityCaches builds the configured backend. client is required for the
// redis and tiered backends and remains owned by the caller.
func NewEntityCaches(cfg config.CacheConfig, client redis.UniversalClient, logger *zap.Logger) (*EntityCaches, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("cache")
	ec := &EntityCaches{logger: logger}

	newMemory := func() *MemoryEntityCache {
		return NewMemoryEntityCache(
			WithMemoryTTL(cfg.TTL),
			WithCleanupInterval(cfg.CleanupInterval),
			WithMemoryLogger(logger))
	}
	newRedis := func() *RedisEntityCache {
		return NewRedisEntityCache(client,
			WithKeyPrefix(cfg.KeyPrefix),
			WithRedisTTL(cfg.TTL),
			WithRedisLogger(logger))
	}

	switch cfg.Backend {
	case BackendNone:
		logger.Info("Entity cache disabled")
	case BackendMemory, "":
		ec.memory = newMemory()
		ec.Cache = ec.memory
	case BackendRedis:
		if client == nil {
			return nil, errors.New("redis cache backend requires a Redis client")
		}
		ec.Cache = newRedis()
	case BackendTiered:
		if client == nil {
			return nil, errors.New("tiered cache backend requires a Redis client")
		}
		ec.memory = newMemory()
		ec.bus = NewInvalidationBus(client, WithChannel(cfg.InvalidationChannel), WithBusLogger(logger))
		ec.tiered = NewTieredEntityCache(ec.memory, newRedis(), ec.bus, logger)
		ec.Cache = ec.tiered
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}

	logger.Info("Entity cache configured", zap.String("backend", cfg.Backend))
	return ec, nil
}

// Run listens for peer invalidations on the tiered backend and blocks until
// ctx ends. Other backends return immediately.
func (ec *EntityCaches) Run(ctx context.Context) error {
	if ec.bus == nil {
		return nil
	}
	err := ec.bus.Subscribe(ctx, ec.tiered.HandleInvalidation)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close stops background work
func (ec *EntityCaches) Close() error {
	var err error
	if ec.bus != nil {
		err = multierr.Append(err, ec.bus.Close())
	}
	if ec.memory != nil {
		err = multierr.Append(err, ec.memory.Close())
	}
	return err
}
