// Package directory models the tenant-scoped entities an administrator manages:
// accounts, groups and resources.
package directory

import (
	"fmt"
	"strings"
)

// Kind identifies an entity variant
type Kind string

const (
	KindAccount  Kind = "account"
	KindGroup    Kind = "group"
	KindResource Kind = "resource"
)

// Kinds lists every entity variant in a stable order
var Kinds = []Kind{KindAccount, KindGroup, KindResource}

// ParseKind parses a kind from its singular or plural path form
func ParseKind(s string) (Kind, error) {
	switch strings.TrimSuffix(strings.ToLower(s), "s") {
	case "account":
		return KindAccount, nil
	case "group":
		return KindGroup, nil
	case "resource":
		return KindResource, nil
	}
	return "", fmt.Errorf("unknown entity kind %q", s)
}

// Entity is implemented by every managed entity variant.
// An entity has no identity (ID 0) until the store assigns one on create.
type Entity interface {
	Kind() Kind
	EntityID() int64
	SetEntityID(id int64)
	EntityName() string
	SetEntityName(name string)

	// MandatoryCreate names the struct fields that must be set on create
	MandatoryCreate() []string
	// MandatoryChange names the struct fields that must be set on change
	MandatoryChange() []string

	SetAttribute(key, value string)
}

// New returns an empty entity of the given kind
func New(kind Kind) (Entity, error) {
	switch kind {
	case KindAccount:
		return &Account{}, nil
	case KindGroup:
		return &Group{}, nil
	case KindResource:
		return &Resource{}, nil
	}
	return nil, fmt.Errorf("unknown entity kind %q", kind)
}

// Base holds the fields common to all entities
type Base struct {
	ID          int64             `json:"id"`
	Name        string            `json:"name" validate:"max=128"`
	DisplayName string            `json:"display_name,omitempty" validate:"max=256"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

func (b *Base) EntityID() int64           { return b.ID }
func (b *Base) SetEntityID(id int64)      { b.ID = id }
func (b *Base) EntityName() string        { return b.Name }
func (b *Base) SetEntityName(name string) { b.Name = name }

// SetAttribute sets one attribute, allocating the map on first use
func (b *Base) SetAttribute(key, value string) {
	if b.Attributes == nil {
		b.Attributes = make(map[string]string)
	}
	b.Attributes[key] = value
}

// Account is a user account. Its name is the login.
type Account struct {
	Base
	PrimaryEmail string   `json:"primary_email,omitempty" validate:"omitempty,email,max=254"`
	Aliases      []string `json:"aliases,omitempty" validate:"omitempty,dive,email,max=254"`
	GroupIDs     []int64  `json:"group_ids,omitempty"`

	// Secret is only accepted inbound and is replaced by SecretHash before storage
	Secret     string `json:"password,omitempty" validate:"omitempty,min=8,max=72"`
	SecretHash string `json:"-"`

	// LoginKey is the normalized login used for authentication lookups
	LoginKey string `json:"-"`
}

func (*Account) Kind() Kind                { return KindAccount }
func (*Account) MandatoryCreate() []string { return []string{"Name", "Secret"} }
func (*Account) MandatoryChange() []string { return []string{"Name"} }

// Addresses returns the primary address followed by the aliases
func (a *Account) Addresses() []string {
	out := make([]string, 0, len(a.Aliases)+1)
	if a.PrimaryEmail != "" {
		out = append(out, a.PrimaryEmail)
	}
	return append(out, a.Aliases...)
}

// Group is a set of accounts
type Group struct {
	Base
	MailAddress string  `json:"mail_address,omitempty" validate:"omitempty,email,max=254"`
	Members     []int64 `json:"members,omitempty"`
}

func (*Group) Kind() Kind                { return KindGroup }
func (*Group) MandatoryCreate() []string { return []string{"Name"} }
func (*Group) MandatoryChange() []string { return []string{"Name"} }

// Resource is a bookable resource such as a room or equipment
type Resource struct {
	Base
	MailAddress string `json:"mail_address" validate:"omitempty,email,max=254"`
	Description string `json:"description,omitempty" validate:"max=1024"`
}

func (*Resource) Kind() Kind                { return KindResource }
func (*Resource) MandatoryCreate() []string { return []string{"Name", "MailAddress"} }
func (*Resource) MandatoryChange() []string { return []string{"Name", "MailAddress"} }

// Addresses returns every mail address the entity claims
func Addresses(e Entity) []string {
	switch v := e.(type) {
	case *Account:
		return v.Addresses()
	case *Group:
		if v.MailAddress != "" {
			return []string{v.MailAddress}
		}
	case *Resource:
		if v.MailAddress != "" {
			return []string{v.MailAddress}
		}
	}
	return nil
}

// Clone returns a deep copy of an entity
func Clone(e Entity) Entity {
	switch v := e.(type) {
	case *Account:
		c := *v
		c.Base = v.Base.clone()
		c.Aliases = append([]string(nil), v.Aliases...)
		c.GroupIDs = append([]int64(nil), v.GroupIDs...)
		return &c
	case *Group:
		c := *v
		c.Base = v.Base.clone()
		c.Members = append([]int64(nil), v.Members...)
		return &c
	case *Resource:
		c := *v
		c.Base = v.Base.clone()
		return &c
	}
	return e
}

func (b Base) clone() Base {
	if b.Attributes != nil {
		attrs := make(map[string]string, len(b.Attributes))
		for k, v := range b.Attributes {
			attrs[k] = v
		}
		b.Attributes = attrs
	}
	return b
}
