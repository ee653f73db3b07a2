package extension

import (
	"context"
	"fmt"

	"github.com/collab/admin/internal/domain/directory"
	"github.com/collab/admin/internal/domain/tenancy"
	"github.com/collab/admin/internal/infrastructure/storage"
	"go.uber.org/zap"
)

// AttrFilestorePrefix is set on accounts whose file area exists
const AttrFilestorePrefix = "filestore.prefix"

const markerName = ".keep"

// FilestoreExtension keeps a per-account prefix in object storage. The prefix
// is materialized by a marker object holding the account name.
type FilestoreExtension struct {
	store  storage.ObjectStore
	logger *zap.Logger
}

// NewFilestoreExtension creates a FilestoreExtension over an object store
func NewFilestoreExtension(store storage.ObjectStore, logger *zap.Logger) *FilestoreExtension {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FilestoreExtension{store: store, logger: logger}
}

// Name returns the extension identifier
func (f *FilestoreExtension) Name() string {
	return "filestore"
}

// Supports reports whether kind has a file area
func (f *FilestoreExtension) Supports(kind directory.Kind) bool {
	return kind == directory.KindAccount
}

// Prefix returns the object key prefix of an account
func Prefix(tenantID, accountID int64) string {
	return fmt.Sprintf("tenants/%d/accounts/%d/", tenantID, accountID)
}

// Create writes the marker object
func (f *FilestoreExtension) Create(ctx context.Context, tenant *tenancy.Tenant, e directory.Entity, _ tenancy.Credentials) error {
	return f.writeMarker(ctx, tenant.ID, e)
}

// Change rewrites the marker so a renamed account is reflected
func (f *FilestoreExtension) Change(ctx context.Context, tenant *tenancy.Tenant, e directory.Entity, _ tenancy.Credentials) error {
	return f.writeMarker(ctx, tenant.ID, e)
}

// Delete removes the marker object
func (f *FilestoreExtension) Delete(ctx context.Context, tenant *tenancy.Tenant, e directory.Entity, _ tenancy.Credentials) error {
	if err := f.store.Delete(ctx, Prefix(tenant.ID, e.EntityID())+markerName); err != nil {
		return fmt.Errorf("delete file area: %w", err)
	}
	return nil
}

// Get reports the prefix when the file area exists
func (f *FilestoreExtension) Get(ctx context.Context, tenant *tenancy.Tenant, e directory.Entity, _ tenancy.Credentials) error {
	prefix := Prefix(tenant.ID, e.EntityID())
	ok, err := f.store.Exists(ctx, prefix+markerName)
	if err != nil {
		return fmt.Errorf("check file area: %w", err)
	}
	if ok {
		e.SetAttribute(AttrFilestorePrefix, prefix)
	}
	return nil
}

func (f *FilestoreExtension) writeMarker(ctx context.Context, tenantID int64, e directory.Entity) error {
	key := Prefix(tenantID, e.EntityID()) + markerName
	if err := f.store.Put(ctx, key, []byte(e.EntityName()), "text/plain"); err != nil {
		return fmt.Errorf("write file area: %w", err)
	}
	f.logger.Debug("File area marker written", zap.String("key", key))
	return nil
}
