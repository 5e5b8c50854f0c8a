package repositories

import (
	"context"

	"clubpay/internal/models/db_models"
	"gorm.io/gorm"
)

type ITenantRepository interface {
	ListActiveTenants(ctx context.Context) ([]db_models.Tenant, error)
	ListTenants(ctx context.Context) ([]db_models.Tenant, error)
}

type TenantRepository struct {
	db *gorm.DB
}

func NewTenantRepository(db *gorm.DB) ITenantRepository {
	return &TenantRepository{db: db}
}

func (r TenantRepository) ListActiveTenants(ctx context.Context) ([]db_models.Tenant, error) {
	var tenants []db_models.Tenant
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("id").
		Find(&tenants).Error
	if err != nil {
		return nil, err
	}
	return tenants, nil
}

// ListTenants includes inactive tenants; a suspended club can still receive
// payments for charges issued before suspension.
func (r TenantRepository) ListTenants(ctx context.Context) ([]db_models.Tenant, error) {
	var tenants []db_models.Tenant
	if err := r.db.WithContext(ctx).Order("id").Find(&tenants).Error; err != nil {
		return nil, err
	}
	return tenants, nil
}
