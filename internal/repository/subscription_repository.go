package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"merchantdesk/internal/apperrors"
	"merchantdesk/internal/models"
)

// SubscriptionRepository stores per-tenant billing-cycle state
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *models.Subscription) error
	// GetCurrentByTenant returns the tenant's non-terminal subscription, or
	// (nil, nil) when the tenant has none
	GetCurrentByTenant(ctx context.Context, tenantID uint) (*models.Subscription, error)
	GetByID(ctx context.Context, id uint) (*models.Subscription, error)
	// UpdateWithVersion writes the record conditionally on its version token
	// and bumps it; a stale version yields ErrConflict
	UpdateWithVersion(ctx context.Context, sub *models.Subscription) error
	// ListExpiring returns stored-active subscriptions whose period ends
	// within [now, now+daysAhead]
	ListExpiring(ctx context.Context, now time.Time, daysAhead int) ([]models.Subscription, error)
}

// nonTerminalStatuses are stored statuses that count as the tenant's one
// current subscription
var nonTerminalStatuses = []models.SubscriptionStatus{
	models.SubscriptionStatusActive,
	models.SubscriptionStatusTrial,
	models.SubscriptionStatusPastDue,
}

type gormSubscriptionRepo struct {
	db *gorm.DB
}

func NewGormSubscriptionRepo(db *gorm.DB) SubscriptionRepository {
	return &gormSubscriptionRepo{db: db}
}

func (r *gormSubscriptionRepo) Create(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *gormSubscriptionRepo) GetCurrentByTenant(ctx context.Context, tenantID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND status IN ?", tenantID, nonTerminalStatuses).
		Order("created_at desc").
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *gormSubscriptionRepo) GetByID(ctx context.Context, id uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).First(&sub, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.KindNotFound, "subscription not found")
		}
		return nil, err
	}
	return &sub, nil
}

func (r *gormSubscriptionRepo) UpdateWithVersion(ctx context.Context, sub *models.Subscription) error {
	oldVersion := sub.Version
	sub.Version++
	res := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ? AND version = ?", sub.ID, oldVersion).
		Updates(map[string]interface{}{
			"plan_id":              sub.PlanID,
			"billing_cycle_months": sub.BillingCycleMonths,
			"amount":               sub.Amount,
			"currency":             sub.Currency,
			"status":               sub.Status,
			"current_period_start": sub.CurrentPeriodStart,
			"current_period_end":   sub.CurrentPeriodEnd,
			"grace_period_ends_at": sub.GracePeriodEndsAt,
			"total_paid":           sub.TotalPaid,
			"renewal_count":        sub.RenewalCount,
			"auto_renew":           sub.AutoRenew,
			"cancel_at_period_end": sub.CancelAtPeriodEnd,
			"version":              sub.Version,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.New(apperrors.KindConflict, "subscription was modified concurrently")
	}
	return nil
}

func (r *gormSubscriptionRepo) ListExpiring(ctx context.Context, now time.Time, daysAhead int) ([]models.Subscription, error) {
	until := now.AddDate(0, 0, daysAhead)
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Where("status = ? AND current_period_end BETWEEN ? AND ?", models.SubscriptionStatusActive, now, until).
		Order("current_period_end asc").
		Find(&subs).Error
	return subs, err
}
