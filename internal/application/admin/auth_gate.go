// Package admin orchestrates administrative operations on tenant entities:
// authentication, validation, core persistence, the extension chain with its
// compensation, and cache invalidation.
package admin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/collab/admin/internal/domain/directory"
	"github.com/collab/admin/internal/domain/shared"
	"github.com/collab/admin/internal/domain/tenancy"
	"github.com/collab/admin/internal/infrastructure/auth"
	"go.uber.org/zap"
)

// Role is what an authenticated caller may act as
type Role string

const (
	RoleMaster      Role = "master"
	RoleTenantAdmin Role = "tenant_admin"
	RoleMember      Role = "member"
)

// Principal is an authenticated caller
type Principal struct {
	Role      Role
	TenantID  int64
	AccountID int64
	Login     string
}

// IsAdmin reports whether the principal administers the tenant
func (p Principal) IsAdmin() bool {
	return p.Role == RoleMaster || p.Role == RoleTenantAdmin
}

// Session is the outcome of a tenant-scoped authentication
type Session struct {
	Principal Principal
	Tenant    *tenancy.Tenant
}

// Authenticator intercepts authentication entirely when registered
type Authenticator interface {
	// Name identifies the authenticator in logs
	Name() string
	AuthenticateMaster(ctx context.Context, creds tenancy.Credentials) error
	AuthenticateTenant(ctx context.Context, creds tenancy.Credentials, tenant *tenancy.Tenant) (Principal, error)
}

// TenantAdminResolver decides whether credentials belong to the tenant administrator
type TenantAdminResolver interface {
	IsTenantAdmin(ctx context.Context, creds tenancy.Credentials, tenant *tenancy.Tenant) (bool, error)
}

// SecretVerifier compares a secret with a stored hash
type SecretVerifier interface {
	Verify(hash, secret string) bool
}

// GateConfig holds the authentication switches
type GateConfig struct {
	MasterAuthEnabled bool
	TenantAuthEnabled bool

	// MasterMayManageTenants lets the master identity act on any tenant
	MasterMayManageTenants bool

	// LowercaseMasterLogin folds the master login before comparison
	LowercaseMasterLogin bool

	// DelegateAdminResolution lets a registered TenantAdminResolver decide
	// who the tenant administrator is
	DelegateAdminResolution bool
}

// DefaultGateConfig returns the default authentication switches
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MasterAuthEnabled:      true,
		TenantAuthEnabled:      true,
		MasterMayManageTenants: true,
	}
}

// masterCacheTenant is the credential cache slot of the master identity
const masterCacheTenant int64 = 0

// Gate authenticates administrative callers
type Gate struct {
	master   tenancy.MasterIdentity
	config   GateConfig
	tenants  tenancy.TenantRepository
	store    directory.Store
	verifier SecretVerifier
	cache    auth.CredentialCache
	logger   *zap.Logger

	mu        sync.RWMutex
	overrides []Authenticator
	resolver  TenantAdminResolver
}

// NewGate creates an authentication gate. cache may be nil.
func NewGate(
	master tenancy.MasterIdentity,
	config GateConfig,
	tenants tenancy.TenantRepository,
	store directory.Store,
	verifier SecretVerifier,
	cache auth.CredentialCache,
	logger *zap.Logger,
) *Gate {
	return &Gate{
		master:   master,
		config:   config,
		tenants:  tenants,
		store:    store,
		verifier: verifier,
		cache:    cache,
		logger:   logger,
	}
}

// RegisterOverride adds an authenticator; only the first one registered is consulted
func (g *Gate) RegisterOverride(a Authenticator) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.overrides = append(g.overrides, a)
}

// RegisterAdminResolver sets the tenant administrator resolver
func (g *Gate) RegisterAdminResolver(r TenantAdminResolver) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resolver = r
}

func (g *Gate) override() Authenticator {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.overrides) == 0 {
		return nil
	}
	return g.overrides[0]
}

func (g *Gate) adminResolver() TenantAdminResolver {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.resolver
}

// AuthenticateMaster authenticates a system-wide operation
func (g *Gate) AuthenticateMaster(ctx context.Context, creds tenancy.Credentials) error {
	creds = tenancy.Normalize(creds, g.config.LowercaseMasterLogin)

	if ov := g.override(); ov != nil && (!g.config.MasterAuthEnabled || !g.isMaster(ctx, creds)) {
		if err := ov.AuthenticateMaster(ctx, creds); err != nil {
			g.logger.Warn("Master authentication rejected by override",
				zap.String("authenticator", ov.Name()),
				zap.Object("credentials", creds),
				zap.Error(err))
			return shared.InvalidCredentials(err)
		}
		return nil
	}

	if !g.config.MasterAuthEnabled {
		return nil
	}

	if !g.isMaster(ctx, creds) {
		g.logger.Warn("Master authentication failed", zap.Object("credentials", creds))
		return shared.InvalidCredentials(errors.New("master credentials mismatch"))
	}
	return nil
}

// AuthenticateTenant authenticates a tenant-scoped operation and returns the
// loaded tenant with the caller's principal. A missing tenant fails exactly
// like a wrong secret.
func (g *Gate) AuthenticateTenant(ctx context.Context, creds tenancy.Credentials, tenantID int64) (*Session, error) {
	tenant, err := g.tenants.FindByID(ctx, tenantID)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			g.logger.Error("Failed to load tenant", zap.Int64("tenant_id", tenantID), zap.Error(err))
		}
		return nil, shared.InvalidCredentials(fmt.Errorf("tenant %d: %w", tenantID, err))
	}
	if !tenant.IsActive() {
		return nil, shared.InvalidCredentials(fmt.Errorf("tenant %d is %s", tenantID, tenant.Status))
	}

	masterCreds := tenancy.Normalize(creds, g.config.LowercaseMasterLogin)

	if ov := g.override(); ov != nil && (!g.config.MasterAuthEnabled || !g.isMaster(ctx, masterCreds)) {
		p, err := ov.AuthenticateTenant(ctx, tenancy.Normalize(creds, tenant.LowercaseLogins), tenant)
		if err != nil {
			g.logger.Warn("Tenant authentication rejected by override",
				zap.String("authenticator", ov.Name()),
				zap.Int64("tenant_id", tenantID),
				zap.Error(err))
			return nil, shared.InvalidCredentials(err)
		}
		p.TenantID = tenant.ID
		return &Session{Principal: p, Tenant: tenant}, nil
	}

	if g.config.MasterAuthEnabled && g.config.MasterMayManageTenants && g.isMasterLogin(masterCreds.Login) {
		if !g.isMaster(ctx, masterCreds) {
			g.logger.Warn("Master authentication failed", zap.Int64("tenant_id", tenantID))
			return nil, shared.InvalidCredentials(errors.New("master credentials mismatch"))
		}
		return &Session{
			Principal: Principal{Role: RoleMaster, TenantID: tenant.ID, Login: masterCreds.Login},
			Tenant:    tenant,
		}, nil
	}

	tenantCreds := tenancy.Normalize(creds, tenant.LowercaseLogins)

	if !g.config.TenantAuthEnabled || !tenant.AuthEnabled {
		return &Session{
			Principal: Principal{Role: RoleTenantAdmin, TenantID: tenant.ID, AccountID: tenant.AdminAccountID, Login: tenantCreds.Login},
			Tenant:    tenant,
		}, nil
	}

	isAdmin, err := g.isTenantAdmin(ctx, tenantCreds, tenant)
	if err != nil {
		return nil, shared.InvalidCredentials(err)
	}

	var p Principal
	if isAdmin {
		p, err = g.authenticateTenantAdmin(ctx, tenantCreds, tenant)
	} else {
		p, err = g.authenticateMember(ctx, tenantCreds, tenant)
	}
	if err != nil {
		g.logger.Warn("Tenant authentication failed",
			zap.Int64("tenant_id", tenantID),
			zap.Object("credentials", tenantCreds),
			zap.Bool("admin_path", isAdmin))
		return nil, shared.InvalidCredentials(err)
	}
	return &Session{Principal: p, Tenant: tenant}, nil
}

// RemoveFromAuthCache drops the cached administrator authentication of a tenant
func (g *Gate) RemoveFromAuthCache(ctx context.Context, tenantID int64) {
	if g.cache == nil {
		return
	}
	if err := g.cache.Remove(ctx, tenantID); err != nil {
		g.logger.Error("Failed to clear credential cache", zap.Int64("tenant_id", tenantID), zap.Error(err))
	}
}

func (g *Gate) isMasterLogin(login string) bool {
	if !g.master.IsConfigured() {
		return false
	}
	return tenancy.SameLogin(g.master.Login, login, g.config.LowercaseMasterLogin)
}

// isMaster reports whether normalized credentials match the master identity
func (g *Gate) isMaster(ctx context.Context, creds tenancy.Credentials) bool {
	if !g.isMasterLogin(creds.Login) {
		return false
	}
	if g.cached(ctx, masterCacheTenant, creds, g.master.SecretHash, auth.MechanismMaster) {
		return true
	}
	if !g.verifier.Verify(g.master.SecretHash, creds.Secret) {
		return false
	}
	g.remember(ctx, masterCacheTenant, creds, g.master.SecretHash, auth.MechanismMaster)
	return true
}

func (g *Gate) isTenantAdmin(ctx context.Context, creds tenancy.Credentials, tenant *tenancy.Tenant) (bool, error) {
	if r := g.adminResolver(); r != nil && g.config.DelegateAdminResolution {
		return r.IsTenantAdmin(ctx, creds, tenant)
	}
	return tenant.IsAdminLogin(creds.Login), nil
}

func (g *Gate) authenticateTenantAdmin(ctx context.Context, creds tenancy.Credentials, tenant *tenancy.Tenant) (Principal, error) {
	p := Principal{Role: RoleTenantAdmin, TenantID: tenant.ID, AccountID: tenant.AdminAccountID, Login: creds.Login}

	if g.cached(ctx, tenant.ID, creds, tenant.AdminSecretHash, auth.MechanismTenantAdmin) {
		return p, nil
	}
	if !g.verifier.Verify(tenant.AdminSecretHash, creds.Secret) {
		return Principal{}, errors.New("tenant administrator secret mismatch")
	}
	g.remember(ctx, tenant.ID, creds, tenant.AdminSecretHash, auth.MechanismTenantAdmin)
	return p, nil
}

func (g *Gate) authenticateMember(ctx context.Context, creds tenancy.Credentials, tenant *tenancy.Tenant) (Principal, error) {
	accountID, hash, err := g.store.AccountByLogin(ctx, tenant.ID, creds.Login)
	if err != nil {
		return Principal{}, fmt.Errorf("member lookup: %w", err)
	}
	if !g.verifier.Verify(hash, creds.Secret) {
		return Principal{}, errors.New("member secret mismatch")
	}
	return Principal{Role: RoleMember, TenantID: tenant.ID, AccountID: accountID, Login: creds.Login}, nil
}

// cached reports whether creds were already verified against hash
func (g *Gate) cached(ctx context.Context, tenantID int64, creds tenancy.Credentials, hash string, want auth.Mechanism) bool {
	if g.cache == nil {
		return false
	}
	mech, ok, err := g.cache.Check(ctx, tenantID, creds.Login, creds.Secret, hash)
	if err != nil {
		g.logger.Warn("Credential cache lookup failed", zap.Int64("tenant_id", tenantID), zap.Error(err))
		return false
	}
	return ok && mech == want
}

func (g *Gate) remember(ctx context.Context, tenantID int64, creds tenancy.Credentials, hash string, mech auth.Mechanism) {
	if g.cache == nil {
		return
	}
	if err := g.cache.Remember(ctx, tenantID, creds.Login, creds.Secret, hash, mech); err != nil {
		g.logger.Warn("Failed to cache credentials", zap.Int64("tenant_id", tenantID), zap.Error(err))
	}
}
