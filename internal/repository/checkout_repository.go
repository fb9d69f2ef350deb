package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"merchantdesk/internal/apperrors"
	"merchantdesk/internal/models"
)

// CheckoutSessionRepository is the durable store for purchase attempts,
// keyed by transaction id
type CheckoutSessionRepository interface {
	Create(ctx context.Context, session *models.CheckoutSession) error
	GetByTransactionID(ctx context.Context, tranID string) (*models.CheckoutSession, error)
	// UpdateIfPending applies updates only while the session is still pending.
	// A session already in a terminal state yields ErrConflict so callers can
	// no-op instead of re-firing side effects.
	UpdateIfPending(ctx context.Context, tranID string, updates map[string]interface{}) error
	// UpdateVerifiedDetails upgrades the verified payment attribute fields of a
	// session without touching its status. Used when a later authoritative
	// verification arrives for an already-completed session.
	UpdateVerifiedDetails(ctx context.Context, tranID string, updates map[string]interface{}) error
	ListStalePending(ctx context.Context, olderThan time.Time) ([]models.CheckoutSession, error)
}

type gormCheckoutRepo struct {
	db *gorm.DB
}

func NewGormCheckoutRepo(db *gorm.DB) CheckoutSessionRepository {
	return &gormCheckoutRepo{db: db}
}

func (r *gormCheckoutRepo) Create(ctx context.Context, session *models.CheckoutSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *gormCheckoutRepo) GetByTransactionID(ctx context.Context, tranID string) (*models.CheckoutSession, error) {
	var session models.CheckoutSession
	err := r.db.WithContext(ctx).Where("transaction_id = ?", tranID).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("checkout session", tranID)
		}
		return nil, err
	}
	return &session, nil
}

func (r *gormCheckoutRepo) UpdateIfPending(ctx context.Context, tranID string, updates map[string]interface{}) error {
	res := r.db.WithContext(ctx).
		Model(&models.CheckoutSession{}).
		Where("transaction_id = ? AND status = ?", tranID, models.CheckoutStatusPending).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Distinguish a lost race from an unknown transaction
		if _, err := r.GetByTransactionID(ctx, tranID); err != nil {
			return err
		}
		return apperrors.New(apperrors.KindConflict, "checkout session already in terminal state")
	}
	return nil
}

func (r *gormCheckoutRepo) UpdateVerifiedDetails(ctx context.Context, tranID string, updates map[string]interface{}) error {
	delete(updates, "status")
	return r.db.WithContext(ctx).
		Model(&models.CheckoutSession{}).
		Where("transaction_id = ?", tranID).
		Updates(updates).Error
}

func (r *gormCheckoutRepo) ListStalePending(ctx context.Context, olderThan time.Time) ([]models.CheckoutSession, error) {
	var sessions []models.CheckoutSession
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.CheckoutStatusPending, olderThan).
		Find(&sessions).Error
	return sessions, err
}
