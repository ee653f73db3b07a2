package admin

import (
	"context"

	"github.com/collab/admin/internal/domain/directory"
	"github.com/collab/admin/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Invalidation describes a committed mutation whose cached views must go
type Invalidation struct {
	TenantID int64
	Kind     directory.Kind
	ID       int64

	// Names holds every name the entity was cached under (old and new on rename)
	Names []string

	// Related are entities whose projections embed this one, such as the
	// members of a changed group
	Related []directory.Ref
}

// Broadcaster clears every cache region of committed entities. It never
// fails the caller: a stale cache heals on the next read, storage does not.
type Broadcaster struct {
	cache   directory.EntityCache
	metrics *telemetry.AdminMetrics
	logger  *zap.Logger
}

// NewBroadcaster creates a broadcaster; a nil cache makes it a no-op
func NewBroadcaster(cache directory.EntityCache, metrics *telemetry.AdminMetrics, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{cache: cache, metrics: metrics, logger: logger}
}

// Keys returns every cache key an invalidation covers
func (inv Invalidation) Keys() []directory.CacheKey {
	keys := []directory.CacheKey{directory.IDKey(inv.TenantID, inv.Kind, inv.ID)}

	seen := make(map[string]bool)
	for _, name := range inv.Names {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		keys = append(keys, directory.NameKey(inv.TenantID, inv.Kind, name))
	}

	for _, r := range inv.Related {
		if r.ID != 0 {
			keys = append(keys, directory.IDKey(inv.TenantID, r.Kind, r.ID))
		}
		if r.Name != "" {
			keys = append(keys, directory.NameKey(inv.TenantID, r.Kind, r.Name))
		}
	}
	return keys
}

// Invalidate clears all regions for the entity and its related entities
func (b *Broadcaster) Invalidate(ctx context.Context, inv Invalidation) {
	if b == nil || b.cache == nil {
		return
	}

	keys := inv.Keys()
	for _, region := range directory.Regions {
		if err := b.cache.Invalidate(ctx, region, keys...); err != nil {
			b.logger.Error("Cache invalidation failed",
				zap.Int64("tenant_id", inv.TenantID),
				zap.String("region", string(region)),
				zap.String("kind", string(inv.Kind)),
				zap.Int64("id", inv.ID),
				zap.Error(err))
			continue
		}
		b.metrics.RecordInvalidation(ctx, string(region), len(keys))
	}
}
