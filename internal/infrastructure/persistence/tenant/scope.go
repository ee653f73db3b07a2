// Package tenant keeps directory statements inside one tenant.
//
// Every directory table carries a tenant_id column. Repositories scope their
// statements explicitly with Scope or Scoped.For; the Filter plugin adds the
// request tenant to any statement on a tenant-owned table that forgot to.
package tenant

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Column is the tenant key carried by every tenant-owned table
const Column = "tenant_id"

var (
	ErrTenantIDRequired = errors.New("tenant: no tenant in context")
	ErrInvalidTenantID  = errors.New("tenant: tenant id must be positive")
)

func condition(tenantID int64) clause.Eq {
	return clause.Eq{Column: clause.Column{Name: Column}, Value: tenantID}
}

// Scope restricts a statement to tenantID
func Scope(tenantID int64) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(condition(tenantID))
	}
}

// Scoped hands out sessions bound to a single tenant
type Scoped struct {
	db *gorm.DB
}

func NewScoped(db *gorm.DB) *Scoped {
	return &Scoped{db: db}
}

// For starts a session on ctx restricted to tenantID. A non-positive id
// yields a session that fails with ErrInvalidTenantID on execution.
func (s *Scoped) For(ctx context.Context, tenantID int64) *gorm.DB {
	db := s.db.WithContext(ctx)
	if tenantID <= 0 {
		_ = db.AddError(ErrInvalidTenantID)
		return db
	}
	return db.Scopes(Scope(tenantID))
}
