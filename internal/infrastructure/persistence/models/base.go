package models

import (
	"time"
)

// BaseModel provides the surrogate key and timestamps shared by all tables.
// Tenant-owned models declare TenantID themselves because it leads their
// composite unique indexes.
type BaseModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// All lists every model for AutoMigrate, parents before children
func All() []any {
	return []any{
		&TenantModel{},
		&AccountModel{},
		&GroupModel{},
		&GroupMemberModel{},
		&ResourceModel{},
		&MailAddressModel{},
		&MailboxModel{},
		&AuditEntryModel{},
	}
}
