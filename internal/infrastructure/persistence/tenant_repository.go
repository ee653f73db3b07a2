package persistence

import (
	"context"
	"errors"
	"strings"

	"github.com/collab/admin/internal/domain/shared"
	"github.com/collab/admin/internal/domain/tenancy"
	"github.com/collab/admin/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormTenantRepository implements tenancy.TenantRepository using GORM
type GormTenantRepository struct {
	db *gorm.DB
}

// NewGormTenantRepository creates a new GormTenantRepository
func NewGormTenantRepository(db *gorm.DB) *GormTenantRepository {
	return &GormTenantRepository{db: db}
}

// FindByID finds a tenant by its ID
func (r *GormTenantRepository) FindByID(ctx context.Context, id int64) (*tenancy.Tenant, error) {
	var model models.TenantModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByName finds a tenant by its unique name, ignoring case
func (r *GormTenantRepository) FindByName(ctx context.Context, name string) (*tenancy.Tenant, error) {
	var model models.TenantModel
	if err := r.db.WithContext(ctx).
		Where("LOWER(name) = ?", strings.ToLower(strings.TrimSpace(name))).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// List returns one page of tenants and the total count
func (r *GormTenantRepository) List(ctx context.Context, filter shared.Filter) ([]tenancy.Tenant, int64, error) {
	base := func() *gorm.DB {
		query := r.db.WithContext(ctx).Model(&models.TenantModel{})
		if filter.Search != "" {
			query = query.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(filter.Search)+"%")
		}
		return query
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.TenantModel
	if err := base().
		Order(orderBy(filter, tenantSortColumns)).
		Offset(filter.Offset()).
		Limit(filter.Limit()).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	tenants := make([]tenancy.Tenant, len(rows))
	for i := range rows {
		tenants[i] = *rows[i].ToDomain()
	}
	return tenants, total, nil
}

// Create persists a new tenant and assigns its ID
func (r *GormTenantRepository) Create(ctx context.Context, tenant *tenancy.Tenant) error {
	var model models.TenantModel
	model.FromDomain(tenant)
	model.ID = 0
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return translate(err)
	}
	tenant.ID = model.ID
	tenant.Status = model.Status
	tenant.CreatedAt = model.CreatedAt
	tenant.UpdatedAt = model.UpdatedAt
	return nil
}

// UpdateAdmin replaces the administrator login, secret hash and account link
func (r *GormTenantRepository) UpdateAdmin(ctx context.Context, id int64, login, secretHash string, accountID int64) error {
	result := r.db.WithContext(ctx).Model(&models.TenantModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"admin_login":       login,
			"admin_secret_hash": secretHash,
			"admin_account_id":  accountID,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// SetStatus enables or disables a tenant
func (r *GormTenantRepository) SetStatus(ctx context.Context, id int64, status tenancy.TenantStatus) error {
	result := r.db.WithContext(ctx).Model(&models.TenantModel{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

var _ tenancy.TenantRepository = (*GormTenantRepository)(nil)
