package models

import (
	"github.com/collab/admin/internal/domain/tenancy"
)

// TenantModel is the persistence model for a tenant
type TenantModel struct {
	BaseModel
	Name                  string               `gorm:"type:varchar(128);not null;uniqueIndex"`
	Status                tenancy.TenantStatus `gorm:"type:varchar(20);not null;default:'active'"`
	AdminLogin            string               `gorm:"type:varchar(128)"`
	AdminSecretHash       string               `gorm:"type:varchar(255)"`
	AdminAccountID        int64                `gorm:"not null;default:0"`
	LowercaseLogins       bool                 `gorm:"not null;default:false"`
	AuthEnabled           bool                 `gorm:"not null"`
	PrimaryEmailImmutable bool                 `gorm:"not null;default:false"`
}

// TableName returns the table name for GORM
func (TenantModel) TableName() string {
	return "tenants"
}

// ToDomain converts the persistence model to a domain Tenant
func (m *TenantModel) ToDomain() *tenancy.Tenant {
	return &tenancy.Tenant{
		ID:                    m.ID,
		Name:                  m.Name,
		Status:                m.Status,
		AdminLogin:            m.AdminLogin,
		AdminSecretHash:       m.AdminSecretHash,
		AdminAccountID:        m.AdminAccountID,
		LowercaseLogins:       m.LowercaseLogins,
		AuthEnabled:           m.AuthEnabled,
		PrimaryEmailImmutable: m.PrimaryEmailImmutable,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain Tenant
func (m *TenantModel) FromDomain(t *tenancy.Tenant) {
	m.ID = t.ID
	m.CreatedAt = t.CreatedAt
	m.UpdatedAt = t.UpdatedAt
	m.Name = t.Name
	m.Status = t.Status
	if m.Status == "" {
		m.Status = tenancy.TenantStatusActive
	}
	m.AdminLogin = t.AdminLogin
	m.AdminSecretHash = t.AdminSecretHash
	m.AdminAccountID = t.AdminAccountID
	m.LowercaseLogins = t.LowercaseLogins
	m.AuthEnabled = t.AuthEnabled
	m.PrimaryEmailImmutable = t.PrimaryEmailImmutable
}
