package dto

import (
	"fmt"

	"github.com/collab/admin/internal/domain/directory"
)

// EntityRequest is implemented by the per-kind request bodies
type EntityRequest interface {
	ToEntity() directory.Entity
}

// AccountRequest is the body of an account create or change
type AccountRequest struct {
	Name         string            `json:"name"`
	DisplayName  string            `json:"display_name"`
	Password     string            `json:"password"`
	PrimaryEmail string            `json:"primary_email"`
	Aliases      []string          `json:"aliases"`
	GroupIDs     []int64           `json:"group_ids"`
	Attributes   map[string]string `json:"attributes"`
}

// ToEntity converts the request to a domain account
func (r *AccountRequest) ToEntity() directory.Entity {
	return &directory.Account{
		Base:         base(r.Name, r.DisplayName, r.Attributes),
		Secret:       r.Password,
		PrimaryEmail: r.PrimaryEmail,
		Aliases:      r.Aliases,
		GroupIDs:     r.GroupIDs,
	}
}

// GroupRequest is the body of a group create or change
type GroupRequest struct {
	Name        string            `json:"name"`
	DisplayName string            `json:"display_name"`
	MailAddress string            `json:"mail_address"`
	Members     []int64           `json:"members"`
	Attributes  map[string]string `json:"attributes"`
}

// ToEntity converts the request to a domain group
func (r *GroupRequest) ToEntity() directory.Entity {
	return &directory.Group{
		Base:        base(r.Name, r.DisplayName, r.Attributes),
		MailAddress: r.MailAddress,
		Members:     r.Members,
	}
}

// ResourceRequest is the body of a resource create or change
type ResourceRequest struct {
	Name        string            `json:"name"`
	DisplayName string            `json:"display_name"`
	MailAddress string            `json:"mail_address"`
	Description string            `json:"description"`
	Attributes  map[string]string `json:"attributes"`
}

// ToEntity converts the request to a domain resource
func (r *ResourceRequest) ToEntity() directory.Entity {
	return &directory.Resource{
		Base:        base(r.Name, r.DisplayName, r.Attributes),
		MailAddress: r.MailAddress,
		Description: r.Description,
	}
}

func base(name, displayName string, attrs map[string]string) directory.Base {
	return directory.Base{Name: name, DisplayName: displayName, Attributes: attrs}
}

// NewEntityRequest returns an empty request body for a kind
func NewEntityRequest(kind directory.Kind) (EntityRequest, error) {
	switch kind {
	case directory.KindAccount:
		return &AccountRequest{}, nil
	case directory.KindGroup:
		return &GroupRequest{}, nil
	case directory.KindResource:
		return &ResourceRequest{}, nil
	}
	return nil, fmt.Errorf("unknown entity kind %q", kind)
}

// AccountResponse renders an account. The secret never leaves the server.
type AccountResponse struct {
	ID           int64             `json:"id"`
	Kind         directory.Kind    `json:"kind"`
	Name         string            `json:"name"`
	DisplayName  string            `json:"display_name,omitempty"`
	PrimaryEmail string            `json:"primary_email,omitempty"`
	Aliases      []string          `json:"aliases,omitempty"`
	GroupIDs     []int64           `json:"group_ids,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// GroupResponse renders a group
type GroupResponse struct {
	ID          int64             `json:"id"`
	Kind        directory.Kind    `json:"kind"`
	Name        string            `json:"name"`
	DisplayName string            `json:"display_name,omitempty"`
	MailAddress string            `json:"mail_address,omitempty"`
	Members     []int64           `json:"members,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// ResourceResponse renders a resource
type ResourceResponse struct {
	ID          int64             `json:"id"`
	Kind        directory.Kind    `json:"kind"`
	Name        string            `json:"name"`
	DisplayName string            `json:"display_name,omitempty"`
	MailAddress string            `json:"mail_address"`
	Description string            `json:"description,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// ToEntityResponse converts a domain entity to its response body
func ToEntityResponse(e directory.Entity) any {
	switch v := e.(type) {
	case *directory.Account:
		return AccountResponse{
			ID:           v.ID,
			Kind:         directory.KindAccount,
			Name:         v.Name,
			DisplayName:  v.DisplayName,
			PrimaryEmail: v.PrimaryEmail,
			Aliases:      v.Aliases,
			GroupIDs:     v.GroupIDs,
			Attributes:   v.Attributes,
		}
	case *directory.Group:
		return GroupResponse{
			ID:          v.ID,
			Kind:        directory.KindGroup,
			Name:        v.Name,
			DisplayName: v.DisplayName,
			MailAddress: v.MailAddress,
			Members:     v.Members,
			Attributes:  v.Attributes,
		}
	case *directory.Resource:
		return ResourceResponse{
			ID:          v.ID,
			Kind:        directory.KindResource,
			Name:        v.Name,
			DisplayName: v.DisplayName,
			MailAddress: v.MailAddress,
			Description: v.Description,
			Attributes:  v.Attributes,
		}
	}
	return nil
}

// ToEntityResponses converts a page of entities
func ToEntityResponses(items []directory.Entity) []any {
	out := make([]any, len(items))
	for i, e := range items {
		out[i] = ToEntityResponse(e)
	}
	return out
}

// DeleteRequest names the entities of one kind to delete in a single call
type DeleteRequest struct {
	IDs   []int64  `json:"ids"`
	Names []string `json:"names"`
}

// Refs converts the request to entity references. IDs come first.
func (r DeleteRequest) Refs(kind directory.Kind) []directory.Ref {
	refs := make([]directory.Ref, 0, len(r.IDs)+len(r.Names))
	for _, id := range r.IDs {
		refs = append(refs, directory.ByID(kind, id))
	}
	for _, name := range r.Names {
		refs = append(refs, directory.ByName(kind, name))
	}
	return refs
}

// IsEmpty reports whether nothing was named
func (r DeleteRequest) IsEmpty() bool {
	return len(r.IDs) == 0 && len(r.Names) == 0
}
