package migration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/collab/admin/internal/domain/shared"
	"go.uber.org/zap"
)

// VersionReader reports the applied schema version
type VersionReader interface {
	Version() (uint, bool, error)
}

// SchemaGuard refuses administrative calls while the schema is dirty or
// behind the migrations shipped with the binary. Results are cached for a
// short interval so the check does not query the database on every call.
type SchemaGuard struct {
	source   VersionReader
	required uint
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	checked time.Time
	last    error
}

// NewSchemaGuard creates a guard that requires at least the given version
func NewSchemaGuard(source VersionReader, required uint, interval time.Duration, logger *zap.Logger) *SchemaGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchemaGuard{
		source:   source,
		required: required,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Check returns a DatabaseNeedsUpgrade failure for an unusable schema
func (g *SchemaGuard) Check(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if !g.checked.IsZero() && now.Sub(g.checked) < g.interval {
		return g.last
	}

	g.last = g.check()
	g.checked = now
	return g.last
}

// Reset forgets the cached result
func (g *SchemaGuard) Reset() {
	g.mu.Lock()
	g.checked = time.Time{}
	g.last = nil
	g.mu.Unlock()
}

func (g *SchemaGuard) check() error {
	version, dirty, err := g.source.Version()
	if err != nil {
		return shared.StorageFailure("read schema version", err)
	}
	if dirty {
		g.logger.Error("Database schema is dirty", zap.Uint("version", version))
		return shared.DatabaseNeedsUpgrade(fmt.Errorf("schema version %d is dirty", version))
	}
	if version < g.required {
		g.logger.Error("Database schema is behind",
			zap.Uint("version", version),
			zap.Uint("required", g.required),
		)
		return shared.DatabaseNeedsUpgrade(fmt.Errorf("schema version %d, need %d", version, g.required))
	}
	return nil
}
