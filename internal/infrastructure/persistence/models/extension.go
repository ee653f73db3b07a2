package models

import (
	"time"
)

// MailboxModel is the mailbox provisioned for an account or resource
type MailboxModel struct {
	BaseModel
	TenantID  int64  `gorm:"not null;uniqueIndex:idx_mailboxes_tenant_owner,priority:1"`
	OwnerKind string `gorm:"type:varchar(20);not null;uniqueIndex:idx_mailboxes_tenant_owner,priority:2"`
	OwnerID   int64  `gorm:"not null;uniqueIndex:idx_mailboxes_tenant_owner,priority:3"`
	Address   string `gorm:"type:varchar(254)"`
	QuotaMB   int    `gorm:"not null"`
}

// TableName returns the table name for GORM
func (MailboxModel) TableName() string {
	return "mailboxes"
}

// AuditEntryModel records one administrative mutation
type AuditEntryModel struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	TenantID   int64     `gorm:"not null;index:idx_admin_audit_tenant_entity,priority:1"`
	Kind       string    `gorm:"type:varchar(20);not null;index:idx_admin_audit_tenant_entity,priority:2"`
	EntityID   int64     `gorm:"not null;index:idx_admin_audit_tenant_entity,priority:3"`
	EntityName string    `gorm:"type:varchar(128)"`
	Operation  string    `gorm:"type:varchar(20);not null"`
	Actor      string    `gorm:"type:varchar(128)"`
	Details    string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (AuditEntryModel) TableName() string {
	return "admin_audit"
}
