// Package extension defines the pluggable handlers that run after the core
// store on every administrative operation.
package extension

import (
	"context"

	"github.com/collab/admin/internal/domain/directory"
	"github.com/collab/admin/internal/domain/tenancy"
)

// Extension augments a managed entity with module-specific side effects.
// Delete is also used to compensate a Create that must be rolled back, so it
// must tolerate being called for an entity whose Create it applied.
type Extension interface {
	// Name returns the unique extension identifier
	Name() string

	// Supports reports whether the extension handles entities of kind
	Supports(kind directory.Kind) bool

	Create(ctx context.Context, tenant *tenancy.Tenant, e directory.Entity, creds tenancy.Credentials) error
	Change(ctx context.Context, tenant *tenancy.Tenant, e directory.Entity, creds tenancy.Credentials) error
	Delete(ctx context.Context, tenant *tenancy.Tenant, e directory.Entity, creds tenancy.Credentials) error
	Get(ctx context.Context, tenant *tenancy.Tenant, e directory.Entity, creds tenancy.Credentials) error
}

// Handle is a registered extension
type Handle struct {
	Name      string
	Extension Extension

	// CanActOnTenantAdmin allows the extension to run when the target
	// entity is the tenant administrator's account
	CanActOnTenantAdmin bool
}

// NewHandle creates a handle named after the extension
func NewHandle(ext Extension, canActOnTenantAdmin bool) Handle {
	h := Handle{Extension: ext, CanActOnTenantAdmin: canActOnTenantAdmin}
	if ext != nil {
		h.Name = ext.Name()
	}
	return h
}

// AppliesTo reports whether the handle should run for an entity
func (h Handle) AppliesTo(tenant *tenancy.Tenant, e directory.Entity) bool {
	if !h.Extension.Supports(e.Kind()) {
		return false
	}
	if !h.CanActOnTenantAdmin && e.Kind() == directory.KindAccount && tenant.IsAdminAccount(e.EntityID()) {
		return false
	}
	return true
}
