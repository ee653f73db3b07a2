package extension

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/collab/admin/internal/domain/directory"
	"github.com/collab/admin/internal/domain/tenancy"
	"github.com/collab/admin/internal/infrastructure/persistence/models"
	"github.com/collab/admin/internal/infrastructure/persistence/tenant"
	"gorm.io/gorm"
)

// Audited operations
const (
	AuditCreate = "create"
	AuditChange = "change"
	AuditDelete = "delete"
)

// AuditExtension writes an admin_audit row for every mutation of every kind.
// It is registered with CanActOnTenantAdmin so changes to the administrator
// account are recorded too.
type AuditExtension struct {
	db     *gorm.DB
	scoped *tenant.Scoped
	now    func() time.Time
}

// NewAuditExtension creates an AuditExtension
func NewAuditExtension(db *gorm.DB) *AuditExtension {
	return &AuditExtension{db: db, scoped: tenant.NewScoped(db), now: time.Now}
}

// Name returns the extension identifier
func (a *AuditExtension) Name() string {
	return "audit"
}

// Supports reports true for every kind
func (a *AuditExtension) Supports(directory.Kind) bool {
	return true
}

func (a *AuditExtension) Create(ctx context.Context, tenant *tenancy.Tenant, e directory.Entity, creds tenancy.Credentials) error {
	return a.record(ctx, tenant, e, creds, AuditCreate)
}

func (a *AuditExtension) Change(ctx context.Context, tenant *tenancy.Tenant, e directory.Entity, creds tenancy.Credentials) error {
	return a.record(ctx, tenant, e, creds, AuditChange)
}

func (a *AuditExtension) Delete(ctx context.Context, tenant *tenancy.Tenant, e directory.Entity, creds tenancy.Credentials) error {
	return a.record(ctx, tenant, e, creds, AuditDelete)
}

// Get is not audited
func (a *AuditExtension) Get(context.Context, *tenancy.Tenant, directory.Entity, tenancy.Credentials) error {
	return nil
}

type auditDetails struct {
	DisplayName string   `json:"display_name,omitempty"`
	Addresses   []string `json:"addresses,omitempty"`
}

func (a *AuditExtension) record(ctx context.Context, tenant *tenancy.Tenant, e directory.Entity, creds tenancy.Credentials, op string) error {
	details := auditDetails{Addresses: directory.Addresses(e)}
	switch v := e.(type) {
	case *directory.Account:
		details.DisplayName = v.DisplayName
	case *directory.Group:
		details.DisplayName = v.DisplayName
	case *directory.Resource:
		details.DisplayName = v.DisplayName
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}

	entry := models.AuditEntryModel{
		TenantID:   tenant.ID,
		Kind:       string(e.Kind()),
		EntityID:   e.EntityID(),
		EntityName: e.EntityName(),
		Operation:  op,
		Actor:      creds.Login,
		Details:    string(raw),
		CreatedAt:  a.now().UTC(),
	}
	if err := a.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

// Entries returns the audit trail of one entity, oldest first
func (a *AuditExtension) Entries(ctx context.Context, tenantID int64, kind directory.Kind, id int64) ([]models.AuditEntryModel, error) {
	var rows []models.AuditEntryModel
	err := a.scoped.For(ctx, tenantID).
		Where("kind = ? AND entity_id = ?", string(kind), id).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
