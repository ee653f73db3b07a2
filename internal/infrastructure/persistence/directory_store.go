package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/collab/admin/internal/domain/directory"
	"github.com/collab/admin/internal/domain/shared"
	"github.com/collab/admin/internal/infrastructure/persistence/models"
	"github.com/collab/admin/internal/infrastructure/persistence/tenant"
	"gorm.io/gorm"
)

// GormDirectoryStore implements directory.Store using GORM. Every query is
// scoped to the tenant it is given. Addresses and memberships are written
// in the same transaction as the entity.
type GormDirectoryStore struct {
	db *gorm.DB
}

// NewGormDirectoryStore creates a new GormDirectoryStore
func NewGormDirectoryStore(db *gorm.DB) *GormDirectoryStore {
	return &GormDirectoryStore{db: db}
}

func modelFor(kind directory.Kind) (any, error) {
	switch kind {
	case directory.KindAccount:
		return &models.AccountModel{}, nil
	case directory.KindGroup:
		return &models.GroupModel{}, nil
	case directory.KindResource:
		return &models.ResourceModel{}, nil
	}
	return nil, fmt.Errorf("%w: unknown entity kind %q", shared.ErrInvalidInput, kind)
}

// where scopes a query to the tenant and the referenced entity
func where(db *gorm.DB, tenantID int64, ref directory.Ref) *gorm.DB {
	db = db.Scopes(tenant.Scope(tenantID))
	if ref.ID != 0 {
		return db.Where("id = ?", ref.ID)
	}
	return db.Where("name = ?", ref.Name)
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return shared.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", shared.ErrAlreadyExists, err)
	}
	return err
}

// Exists reports whether the referenced entity exists
func (s *GormDirectoryStore) Exists(ctx context.Context, tenantID int64, ref directory.Ref) (bool, error) {
	model, err := modelFor(ref.Kind)
	if err != nil {
		return false, err
	}
	var count int64
	if err := where(s.db.WithContext(ctx).Model(model), tenantID, ref).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Create persists a new entity and returns its assigned ID
func (s *GormDirectoryStore) Create(ctx context.Context, tenantID int64, e directory.Entity) (int64, error) {
	var id int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		switch v := e.(type) {
		case *directory.Account:
			var m models.AccountModel
			m.FromDomain(tenantID, v)
			m.ID = 0
			if err := tx.Create(&m).Error; err != nil {
				return err
			}
			id = m.ID
			if err := replaceAddresses(tx, tenantID, directory.KindAccount, id, v.PrimaryEmail, v.Aliases); err != nil {
				return err
			}
			return replaceMemberships(tx, tenantID, "account_id", id, v.GroupIDs)
		case *directory.Group:
			var m models.GroupModel
			m.FromDomain(tenantID, v)
			m.ID = 0
			if err := tx.Create(&m).Error; err != nil {
				return err
			}
			id = m.ID
			if err := replaceAddresses(tx, tenantID, directory.KindGroup, id, v.MailAddress, nil); err != nil {
				return err
			}
			return replaceMemberships(tx, tenantID, "group_id", id, v.Members)
		case *directory.Resource:
			var m models.ResourceModel
			m.FromDomain(tenantID, v)
			m.ID = 0
			if err := tx.Create(&m).Error; err != nil {
				return err
			}
			id = m.ID
			return replaceAddresses(tx, tenantID, directory.KindResource, id, v.MailAddress, nil)
		}
		return fmt.Errorf("%w: unsupported entity %T", shared.ErrInvalidInput, e)
	})
	if err != nil {
		return 0, translate(err)
	}
	return id, nil
}

// Change replaces an existing entity. An empty account secret hash keeps
// the stored one.
func (s *GormDirectoryStore) Change(ctx context.Context, tenantID int64, e directory.Entity) error {
	ref := directory.ByID(e.Kind(), e.EntityID())
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		switch v := e.(type) {
		case *directory.Account:
			var m models.AccountModel
			if err := where(tx, tenantID, ref).First(&m).Error; err != nil {
				return err
			}
			hash := m.SecretHash
			m.FromDomain(tenantID, v)
			if m.SecretHash == "" {
				m.SecretHash = hash
			}
			if err := tx.Save(&m).Error; err != nil {
				return err
			}
			if err := replaceAddresses(tx, tenantID, directory.KindAccount, m.ID, v.PrimaryEmail, v.Aliases); err != nil {
				return err
			}
			return replaceMemberships(tx, tenantID, "account_id", m.ID, v.GroupIDs)
		case *directory.Group:
			var m models.GroupModel
			if err := where(tx, tenantID, ref).First(&m).Error; err != nil {
				return err
			}
			m.FromDomain(tenantID, v)
			if err := tx.Save(&m).Error; err != nil {
				return err
			}
			if err := replaceAddresses(tx, tenantID, directory.KindGroup, m.ID, v.MailAddress, nil); err != nil {
				return err
			}
			return replaceMemberships(tx, tenantID, "group_id", m.ID, v.Members)
		case *directory.Resource:
			var m models.ResourceModel
			if err := where(tx, tenantID, ref).First(&m).Error; err != nil {
				return err
			}
			m.FromDomain(tenantID, v)
			if err := tx.Save(&m).Error; err != nil {
				return err
			}
			return replaceAddresses(tx, tenantID, directory.KindResource, m.ID, v.MailAddress, nil)
		}
		return fmt.Errorf("%w: unsupported entity %T", shared.ErrInvalidInput, e)
	})
	return translate(err)
}

// Delete removes the referenced entity with its addresses and memberships
func (s *GormDirectoryStore) Delete(ctx context.Context, tenantID int64, ref directory.Ref) error {
	model, err := modelFor(ref.Kind)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		id, err := pluckID(where(tx.Model(model), tenantID, ref))
		if err != nil {
			return err
		}

		if err := tx.Where("tenant_id = ? AND owner_kind = ? AND owner_id = ?", tenantID, ref.Kind, id).
			Delete(&models.MailAddressModel{}).Error; err != nil {
			return err
		}
		switch ref.Kind {
		case directory.KindAccount:
			if err := tx.Where("tenant_id = ? AND account_id = ?", tenantID, id).Delete(&models.GroupMemberModel{}).Error; err != nil {
				return err
			}
		case directory.KindGroup:
			if err := tx.Where("tenant_id = ? AND group_id = ?", tenantID, id).Delete(&models.GroupMemberModel{}).Error; err != nil {
				return err
			}
		}

		result := tx.Where("tenant_id = ? AND id = ?", tenantID, id).Delete(model)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	return translate(err)
}

// Get loads the referenced entity
func (s *GormDirectoryStore) Get(ctx context.Context, tenantID int64, ref directory.Ref) (directory.Entity, error) {
	db := s.db.WithContext(ctx)
	var e directory.Entity

	switch ref.Kind {
	case directory.KindAccount:
		var m models.AccountModel
		if err := where(db, tenantID, ref).First(&m).Error; err != nil {
			return nil, translate(err)
		}
		accounts := []*directory.Account{m.ToDomain()}
		if err := s.hydrateAccounts(db, tenantID, accounts); err != nil {
			return nil, err
		}
		e = accounts[0]
	case directory.KindGroup:
		var m models.GroupModel
		if err := where(db, tenantID, ref).First(&m).Error; err != nil {
			return nil, translate(err)
		}
		groups := []*directory.Group{m.ToDomain()}
		if err := s.hydrateGroups(db, tenantID, groups); err != nil {
			return nil, err
		}
		e = groups[0]
	case directory.KindResource:
		var m models.ResourceModel
		if err := where(db, tenantID, ref).First(&m).Error; err != nil {
			return nil, translate(err)
		}
		e = m.ToDomain()
	default:
		_, err := modelFor(ref.Kind)
		return nil, err
	}
	return e, nil
}

// ResolveID returns the ID of the named entity
func (s *GormDirectoryStore) ResolveID(ctx context.Context, tenantID int64, kind directory.Kind, name string) (int64, error) {
	model, err := modelFor(kind)
	if err != nil {
		return 0, err
	}
	id, err := pluckID(where(s.db.WithContext(ctx).Model(model), tenantID, directory.ByName(kind, name)))
	if err != nil {
		return 0, translate(err)
	}
	return id, nil
}

// ResolveName returns the name of the entity with the given ID
func (s *GormDirectoryStore) ResolveName(ctx context.Context, tenantID int64, kind directory.Kind, id int64) (string, error) {
	model, err := modelFor(kind)
	if err != nil {
		return "", err
	}
	var names []string
	if err := where(s.db.WithContext(ctx).Model(model), tenantID, directory.ByID(kind, id)).
		Limit(1).Pluck("name", &names).Error; err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", shared.ErrNotFound
	}
	return names[0], nil
}

func pluckID(query *gorm.DB) (int64, error) {
	var ids []int64
	if err := query.Limit(1).Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, gorm.ErrRecordNotFound
	}
	return ids[0], nil
}

// List returns one page of entities of a kind and the total count
func (s *GormDirectoryStore) List(ctx context.Context, tenantID int64, kind directory.Kind, filter shared.Filter) ([]directory.Entity, int64, error) {
	model, err := modelFor(kind)
	if err != nil {
		return nil, 0, err
	}
	db := s.db.WithContext(ctx)

	// Count and Find each need a fresh statement
	base := func() *gorm.DB {
		query := db.Model(model).Scopes(tenant.Scope(tenantID))
		if filter.Search != "" {
			keyword := "%" + strings.ToLower(filter.Search) + "%"
			query = query.Where("(LOWER(name) LIKE ? OR LOWER(display_name) LIKE ?)", keyword, keyword)
		}
		return query
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query := base().Order(orderBy(filter, directorySortColumns)).Offset(filter.Offset()).Limit(filter.Limit())

	var out []directory.Entity
	switch kind {
	case directory.KindAccount:
		var rows []models.AccountModel
		if err := query.Find(&rows).Error; err != nil {
			return nil, 0, err
		}
		accounts := make([]*directory.Account, len(rows))
		for i := range rows {
			accounts[i] = rows[i].ToDomain()
		}
		if err := s.hydrateAccounts(db, tenantID, accounts); err != nil {
			return nil, 0, err
		}
		for _, a := range accounts {
			out = append(out, a)
		}
	case directory.KindGroup:
		var rows []models.GroupModel
		if err := query.Find(&rows).Error; err != nil {
			return nil, 0, err
		}
		groups := make([]*directory.Group, len(rows))
		for i := range rows {
			groups[i] = rows[i].ToDomain()
		}
		if err := s.hydrateGroups(db, tenantID, groups); err != nil {
			return nil, 0, err
		}
		for _, g := range groups {
			out = append(out, g)
		}
	case directory.KindResource:
		var rows []models.ResourceModel
		if err := query.Find(&rows).Error; err != nil {
			return nil, 0, err
		}
		for i := range rows {
			out = append(out, rows[i].ToDomain())
		}
	}
	return out, total, nil
}

// AccountByLogin returns the account ID and secret hash for a normalized login
func (s *GormDirectoryStore) AccountByLogin(ctx context.Context, tenantID int64, loginKey string) (int64, string, error) {
	var m models.AccountModel
	if err := s.db.WithContext(ctx).
		Select("id", "secret_hash").
		Where("tenant_id = ? AND login_key = ?", tenantID, loginKey).
		Take(&m).Error; err != nil {
		return 0, "", translate(err)
	}
	return m.ID, m.SecretHash, nil
}

// AddressOwner returns the entity that claims a mail address
func (s *GormDirectoryStore) AddressOwner(ctx context.Context, tenantID int64, address string) (directory.Ref, error) {
	var m models.MailAddressModel
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND address_key = ?", tenantID, models.AddressKey(address)).
		Take(&m).Error; err != nil {
		return directory.Ref{}, translate(err)
	}
	return directory.ByID(m.OwnerKind, m.OwnerID), nil
}

// GroupsOf returns the IDs of the groups an account is a member of
func (s *GormDirectoryStore) GroupsOf(ctx context.Context, tenantID int64, accountID int64) ([]int64, error) {
	var ids []int64
	if err := s.db.WithContext(ctx).Model(&models.GroupMemberModel{}).
		Where("tenant_id = ? AND account_id = ?", tenantID, accountID).
		Order("group_id").
		Pluck("group_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// replaceAddresses rewrites every address an entity claims. A duplicate
// address surfaces as gorm.ErrDuplicatedKey.
func replaceAddresses(tx *gorm.DB, tenantID int64, kind directory.Kind, id int64, primary string, aliases []string) error {
	if err := tx.Where("tenant_id = ? AND owner_kind = ? AND owner_id = ?", tenantID, kind, id).
		Delete(&models.MailAddressModel{}).Error; err != nil {
		return err
	}

	var rows []models.MailAddressModel
	if primary != "" {
		rows = append(rows, models.MailAddressModel{
			TenantID: tenantID, AddressKey: models.AddressKey(primary), Address: primary,
			OwnerKind: kind, OwnerID: id, IsPrimary: true,
		})
	}
	for i, alias := range aliases {
		rows = append(rows, models.MailAddressModel{
			TenantID: tenantID, AddressKey: models.AddressKey(alias), Address: alias,
			OwnerKind: kind, OwnerID: id, Position: i + 1,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return tx.Create(&rows).Error
}

// replaceMemberships rewrites the memberships on one side of group_members
func replaceMemberships(tx *gorm.DB, tenantID int64, column string, id int64, others []int64) error {
	if err := tx.Where("tenant_id = ? AND "+column+" = ?", tenantID, id).
		Delete(&models.GroupMemberModel{}).Error; err != nil {
		return err
	}

	seen := make(map[int64]bool, len(others))
	var rows []models.GroupMemberModel
	for _, other := range others {
		if other == 0 || seen[other] {
			continue
		}
		seen[other] = true
		row := models.GroupMemberModel{TenantID: tenantID}
		if column == "account_id" {
			row.AccountID, row.GroupID = id, other
		} else {
			row.GroupID, row.AccountID = id, other
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil
	}
	return tx.Create(&rows).Error
}

func (s *GormDirectoryStore) hydrateAccounts(db *gorm.DB, tenantID int64, accounts []*directory.Account) error {
	if len(accounts) == 0 {
		return nil
	}
	byID := make(map[int64]*directory.Account, len(accounts))
	ids := make([]int64, len(accounts))
	for i, a := range accounts {
		byID[a.ID] = a
		ids[i] = a.ID
	}

	var aliases []models.MailAddressModel
	if err := db.Where("tenant_id = ? AND owner_kind = ? AND owner_id IN ? AND is_primary = ?",
		tenantID, directory.KindAccount, ids, false).
		Order("owner_id, position").
		Find(&aliases).Error; err != nil {
		return err
	}
	for _, row := range aliases {
		a := byID[row.OwnerID]
		a.Aliases = append(a.Aliases, row.Address)
	}

	var memberships []models.GroupMemberModel
	if err := db.Where("tenant_id = ? AND account_id IN ?", tenantID, ids).
		Find(&memberships).Error; err != nil {
		return err
	}
	for _, row := range memberships {
		a := byID[row.AccountID]
		a.GroupIDs = append(a.GroupIDs, row.GroupID)
	}
	for _, a := range accounts {
		sort.Slice(a.GroupIDs, func(i, j int) bool { return a.GroupIDs[i] < a.GroupIDs[j] })
	}
	return nil
}

func (s *GormDirectoryStore) hydrateGroups(db *gorm.DB, tenantID int64, groups []*directory.Group) error {
	if len(groups) == 0 {
		return nil
	}
	byID := make(map[int64]*directory.Group, len(groups))
	ids := make([]int64, len(groups))
	for i, g := range groups {
		byID[g.ID] = g
		ids[i] = g.ID
	}

	var memberships []models.GroupMemberModel
	if err := db.Where("tenant_id = ? AND group_id IN ?", tenantID, ids).
		Order("account_id").
		Find(&memberships).Error; err != nil {
		return err
	}
	for _, row := range memberships {
		g := byID[row.GroupID]
		g.Members = append(g.Members, row.AccountID)
	}
	return nil
}

var _ directory.Store = (*GormDirectoryStore)(nil)
