// Package extension contains the built-in admin extensions registered at
// startup. Each one owns its own storage and runs after the core store.
package extension

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/collab/admin/internal/domain/directory"
	"github.com/collab/admin/internal/domain/tenancy"
	"github.com/collab/admin/internal/infrastructure/persistence/models"
	"github.com/collab/admin/internal/infrastructure/persistence/tenant"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Attribute keys set on entities returned by Get
const (
	AttrMailboxAddress = "mailbox.address"
	AttrMailboxQuotaMB = "mailbox.quota_mb"
)

// MailboxExtension provisions a mailbox for every account and resource
type MailboxExtension struct {
	db      *gorm.DB
	scoped  *tenant.Scoped
	quotaMB int
	logger  *zap.Logger
}

// NewMailboxExtension creates a MailboxExtension with a default quota per mailbox
func NewMailboxExtension(db *gorm.DB, quotaMB int, logger *zap.Logger) *MailboxExtension {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MailboxExtension{db: db, scoped: tenant.NewScoped(db), quotaMB: quotaMB, logger: logger}
}

// Name returns the extension identifier
func (m *MailboxExtension) Name() string {
	return "mailbox"
}

// Supports reports whether kind owns a mailbox
func (m *MailboxExtension) Supports(kind directory.Kind) bool {
	return kind == directory.KindAccount || kind == directory.KindResource
}

// Create provisions the mailbox
func (m *MailboxExtension) Create(ctx context.Context, tenant *tenancy.Tenant, e directory.Entity, _ tenancy.Credentials) error {
	return m.upsert(ctx, tenant.ID, e)
}

// Change updates the mailbox address, provisioning it when missing
func (m *MailboxExtension) Change(ctx context.Context, tenant *tenancy.Tenant, e directory.Entity, _ tenancy.Credentials) error {
	return m.upsert(ctx, tenant.ID, e)
}

// Delete removes the mailbox. A missing mailbox is not an error.
func (m *MailboxExtension) Delete(ctx context.Context, tenant *tenancy.Tenant, e directory.Entity, _ tenancy.Credentials) error {
	err := m.scoped.For(ctx, tenant.ID).
		Where("owner_kind = ? AND owner_id = ?", string(e.Kind()), e.EntityID()).
		Delete(&models.MailboxModel{}).Error
	if err != nil {
		return fmt.Errorf("delete mailbox: %w", err)
	}
	return nil
}

// Get adds the mailbox address and quota to the entity's attributes
func (m *MailboxExtension) Get(ctx context.Context, tenant *tenancy.Tenant, e directory.Entity, _ tenancy.Credentials) error {
	var row models.MailboxModel
	err := m.scoped.For(ctx, tenant.ID).
		Where("owner_kind = ? AND owner_id = ?", string(e.Kind()), e.EntityID()).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load mailbox: %w", err)
	}
	e.SetAttribute(AttrMailboxAddress, row.Address)
	e.SetAttribute(AttrMailboxQuotaMB, strconv.Itoa(row.QuotaMB))
	return nil
}

func (m *MailboxExtension) upsert(ctx context.Context, tenantID int64, e directory.Entity) error {
	row := models.MailboxModel{
		TenantID:  tenantID,
		OwnerKind: string(e.Kind()),
		OwnerID:   e.EntityID(),
		Address:   mailboxAddress(e),
		QuotaMB:   m.quotaMB,
	}
	err := m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "owner_kind"}, {Name: "owner_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"address", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("provision mailbox: %w", err)
	}
	m.logger.Debug("Mailbox provisioned",
		zap.Int64("tenant_id", tenantID),
		zap.String("kind", string(e.Kind())),
		zap.Int64("owner_id", e.EntityID()),
	)
	return nil
}

// mailboxAddress is the first address the entity claims
func mailboxAddress(e directory.Entity) string {
	if addrs := directory.Addresses(e); len(addrs) > 0 {
		return addrs[0]
	}
	return ""
}
