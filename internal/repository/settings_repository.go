package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"merchantdesk/internal/models"
)

// GatewaySettingsRepository stores per-tenant gateway credential overrides.
// Tenant id 0 addresses the global row.
type GatewaySettingsRepository interface {
	// GetByTenant returns the tenant's row, or (nil, nil) when none exists
	GetByTenant(ctx context.Context, tenantID uint) (*models.GatewaySettings, error)
	Upsert(ctx context.Context, settings *models.GatewaySettings) error
}

type gormSettingsRepo struct {
	db *gorm.DB
}

func NewGormSettingsRepo(db *gorm.DB) GatewaySettingsRepository {
	return &gormSettingsRepo{db: db}
}

func (r *gormSettingsRepo) GetByTenant(ctx context.Context, tenantID uint) (*models.GatewaySettings, error) {
	var settings models.GatewaySettings
	err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&settings).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &settings, nil
}

func (r *gormSettingsRepo) Upsert(ctx context.Context, settings *models.GatewaySettings) error {
	existing, err := r.GetByTenant(ctx, settings.TenantID)
	if err != nil {
		return err
	}
	if existing != nil {
		settings.ID = existing.ID
		settings.CreatedAt = existing.CreatedAt
		return r.db.WithContext(ctx).Save(settings).Error
	}
	return r.db.WithContext(ctx).Create(settings).Error
}
