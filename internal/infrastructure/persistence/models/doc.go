// Package models holds the GORM rows behind the directory. Domain types stay
// free of ORM tags; each row type converts with FromDomain and ToDomain.
//
// Tenant-owned rows carry TenantID, and every unique index leads with it so
// names and addresses are unique per tenant only. Tables owned by the
// built-in extensions (mailboxes, admin_audit) live beside the directory
// tables and are listed in All for sqlite AutoMigrate.
package models
