package directory

import (
	"context"

	"github.com/collab/admin/internal/domain/shared"
)

// Store is the core storage for managed entities. Implementations return
// shared.ErrNotFound and shared.ErrAlreadyExists (possibly wrapped) for
// missing and duplicate records; any other error is a storage fault.
type Store interface {
	// Exists reports whether the referenced entity exists
	Exists(ctx context.Context, tenantID int64, ref Ref) (bool, error)

	// Create persists a new entity and returns its assigned ID
	Create(ctx context.Context, tenantID int64, e Entity) (int64, error)

	// Change updates an existing entity identified by its ID
	Change(ctx context.Context, tenantID int64, e Entity) error

	// Delete removes the referenced entity
	Delete(ctx context.Context, tenantID int64, ref Ref) error

	// Get loads the referenced entity
	Get(ctx context.Context, tenantID int64, ref Ref) (Entity, error)

	// ResolveID returns the ID of the named entity
	ResolveID(ctx context.Context, tenantID int64, kind Kind, name string) (int64, error)

	// ResolveName returns the name of the entity with the given ID
	ResolveName(ctx context.Context, tenantID int64, kind Kind, id int64) (string, error)

	// List returns one page of entities of a kind and the total count
	List(ctx context.Context, tenantID int64, kind Kind, filter shared.Filter) ([]Entity, int64, error)

	// AccountByLogin returns the account ID and secret hash for a normalized login
	AccountByLogin(ctx context.Context, tenantID int64, loginKey string) (int64, string, error)

	// AddressOwner returns the entity that claims a mail address
	AddressOwner(ctx context.Context, tenantID int64, address string) (Ref, error)

	// GroupsOf returns the IDs of the groups an account is a member of
	GroupsOf(ctx context.Context, tenantID int64, accountID int64) ([]int64, error)
}
