package models

import (
	"strings"

	"github.com/collab/admin/internal/domain/directory"
)

// AccountModel is the persistence model for an account. Aliases and group
// memberships live in mail_addresses and group_members.
type AccountModel struct {
	BaseModel
	TenantID     int64             `gorm:"not null;uniqueIndex:idx_accounts_tenant_name,priority:1;uniqueIndex:idx_accounts_tenant_login,priority:1"`
	Name         string            `gorm:"type:varchar(128);not null;uniqueIndex:idx_accounts_tenant_name,priority:2"`
	LoginKey     string            `gorm:"type:varchar(128);not null;uniqueIndex:idx_accounts_tenant_login,priority:2"`
	DisplayName  string            `gorm:"type:varchar(256)"`
	PrimaryEmail string            `gorm:"type:varchar(254)"`
	SecretHash   string            `gorm:"type:varchar(255);not null"`
	Attributes   map[string]string `gorm:"serializer:json;type:text"`
}

// TableName returns the table name for GORM
func (AccountModel) TableName() string {
	return "accounts"
}

// ToDomain converts the model; aliases and groups are filled in by the store
func (m *AccountModel) ToDomain() *directory.Account {
	return &directory.Account{
		Base: directory.Base{
			ID:          m.ID,
			Name:        m.Name,
			DisplayName: m.DisplayName,
			Attributes:  m.Attributes,
		},
		PrimaryEmail: m.PrimaryEmail,
		SecretHash:   m.SecretHash,
		LoginKey:     m.LoginKey,
	}
}

// FromDomain populates the model from a domain Account
func (m *AccountModel) FromDomain(tenantID int64, a *directory.Account) {
	m.ID = a.ID
	m.TenantID = tenantID
	m.Name = a.Name
	m.LoginKey = a.LoginKey
	if m.LoginKey == "" {
		m.LoginKey = a.Name
	}
	m.DisplayName = a.DisplayName
	m.PrimaryEmail = a.PrimaryEmail
	m.SecretHash = a.SecretHash
	m.Attributes = a.Attributes
}

// GroupModel is the persistence model for a group
type GroupModel struct {
	BaseModel
	TenantID    int64             `gorm:"not null;uniqueIndex:idx_groups_tenant_name,priority:1"`
	Name        string            `gorm:"type:varchar(128);not null;uniqueIndex:idx_groups_tenant_name,priority:2"`
	DisplayName string            `gorm:"type:varchar(256)"`
	MailAddress string            `gorm:"type:varchar(254)"`
	Attributes  map[string]string `gorm:"serializer:json;type:text"`
}

// TableName returns the table name for GORM
func (GroupModel) TableName() string {
	return "groups"
}

// ToDomain converts the model; members are filled in by the store
func (m *GroupModel) ToDomain() *directory.Group {
	return &directory.Group{
		Base: directory.Base{
			ID:          m.ID,
			Name:        m.Name,
			DisplayName: m.DisplayName,
			Attributes:  m.Attributes,
		},
		MailAddress: m.MailAddress,
	}
}

// FromDomain populates the model from a domain Group
func (m *GroupModel) FromDomain(tenantID int64, g *directory.Group) {
	m.ID = g.ID
	m.TenantID = tenantID
	m.Name = g.Name
	m.DisplayName = g.DisplayName
	m.MailAddress = g.MailAddress
	m.Attributes = g.Attributes
}

// GroupMemberModel links an account to a group
type GroupMemberModel struct {
	TenantID  int64 `gorm:"not null;index"`
	GroupID   int64 `gorm:"primaryKey;autoIncrement:false"`
	AccountID int64 `gorm:"primaryKey;autoIncrement:false;index"`
}

// TableName returns the table name for GORM
func (GroupMemberModel) TableName() string {
	return "group_members"
}

// ResourceModel is the persistence model for a resource
type ResourceModel struct {
	BaseModel
	TenantID    int64             `gorm:"not null;uniqueIndex:idx_resources_tenant_name,priority:1"`
	Name        string            `gorm:"type:varchar(128);not null;uniqueIndex:idx_resources_tenant_name,priority:2"`
	DisplayName string            `gorm:"type:varchar(256)"`
	MailAddress string            `gorm:"type:varchar(254);not null"`
	Description string            `gorm:"type:text"`
	Attributes  map[string]string `gorm:"serializer:json;type:text"`
}

// TableName returns the table name for GORM
func (ResourceModel) TableName() string {
	return "resources"
}

// ToDomain converts the model to a domain Resource
func (m *ResourceModel) ToDomain() *directory.Resource {
	return &directory.Resource{
		Base: directory.Base{
			ID:          m.ID,
			Name:        m.Name,
			DisplayName: m.DisplayName,
			Attributes:  m.Attributes,
		},
		MailAddress: m.MailAddress,
		Description: m.Description,
	}
}

// FromDomain populates the model from a domain Resource
func (m *ResourceModel) FromDomain(tenantID int64, r *directory.Resource) {
	m.ID = r.ID
	m.TenantID = tenantID
	m.Name = r.Name
	m.DisplayName = r.DisplayName
	m.MailAddress = r.MailAddress
	m.Description = r.Description
	m.Attributes = r.Attributes
}

// MailAddressModel records which entity claims an address. AddressKey is
// the lowercased address and is unique per tenant.
type MailAddressModel struct {
	ID         int64          `gorm:"primaryKey;autoIncrement"`
	TenantID   int64          `gorm:"not null;uniqueIndex:idx_mail_addresses_tenant_key,priority:1"`
	AddressKey string         `gorm:"type:varchar(254);not null;uniqueIndex:idx_mail_addresses_tenant_key,priority:2"`
	Address    string         `gorm:"type:varchar(254);not null"`
	OwnerKind  directory.Kind `gorm:"type:varchar(20);not null;index:idx_mail_addresses_owner,priority:1"`
	OwnerID    int64          `gorm:"not null;index:idx_mail_addresses_owner,priority:2"`
	IsPrimary  bool           `gorm:"not null;default:false"`
	Position   int            `gorm:"not null;default:0"`
}

// TableName returns the table name for GORM
func (MailAddressModel) TableName() string {
	return "mail_addresses"
}

// AddressKey folds an address for uniqueness checks
func AddressKey(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
