package repository

import (
	"context"

	"gorm.io/gorm"

	"merchantdesk/internal/models"
)

// CallbackHistoryRepository appends the audit trail of inbound gateway callbacks
type CallbackHistoryRepository interface {
	Record(ctx context.Context, entry *models.PaymentCallbackHistory) error
}

type gormCallbackRepo struct {
	db *gorm.DB
}

func NewGormCallbackRepo(db *gorm.DB) CallbackHistoryRepository {
	return &gormCallbackRepo{db: db}
}

func (r *gormCallbackRepo) Record(ctx context.Context, entry *models.PaymentCallbackHistory) error {
	return r.db.WithContext(ctx).Create(entry).Error
}
