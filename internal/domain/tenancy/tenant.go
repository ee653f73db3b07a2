package tenancy

import (
	"context"
	"time"
)

// TenantStatus represents the status of a tenant
type TenantStatus string

const (
	TenantStatusActive   TenantStatus = "active"
	TenantStatusDisabled TenantStatus = "disabled"
)

// Tenant is the per-call tenant context an administrative operation runs in.
// It is loaded once per call and not mutated by the orchestrator.
type Tenant struct {
	ID              int64
	Name            string
	Status          TenantStatus
	AdminLogin      string
	AdminSecretHash string
	AdminAccountID  int64
	LowercaseLogins bool
	AuthEnabled     bool

	// PrimaryEmailImmutable forbids changing an account's primary address
	PrimaryEmailImmutable bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsActive reports whether the tenant accepts administrative calls
func (t *Tenant) IsActive() bool {
	return t.Status == "" || t.Status == TenantStatusActive
}

// IsAdminLogin reports whether login names the tenant administrator.
// Both sides are folded with the tenant's rule.
func (t *Tenant) IsAdminLogin(login string) bool {
	if t.AdminLogin == "" {
		return false
	}
	return SameLogin(t.AdminLogin, login, t.LowercaseLogins)
}

// IsAdminAccount reports whether id is the tenant administrator's account
func (t *Tenant) IsAdminAccount(id int64) bool {
	return t.AdminAccountID != 0 && t.AdminAccountID == id
}

// MasterIdentity is the system-wide administrator
type MasterIdentity struct {
	Login      string
	SecretHash string
}

// IsConfigured reports whether a master login is set
func (m MasterIdentity) IsConfigured() bool {
	return m.Login != "" && m.SecretHash != ""
}

// TenantRepository defines the interface for tenant persistence
type TenantRepository interface {
	// FindByID finds a tenant by its ID
	FindByID(ctx context.Context, id int64) (*Tenant, error)

	// FindByName finds a tenant by its unique name
	FindByName(ctx context.Context, name string) (*Tenant, error)

	// Create persists a new tenant and assigns its ID
	Create(ctx context.Context, tenant *Tenant) error

	// UpdateAdmin replaces the administrator login, secret hash and account link
	UpdateAdmin(ctx context.Context, id int64, login, secretHash string, accountID int64) error
}
