package services

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"merchantdesk/internal/apperrors"
	"merchantdesk/internal/models"
	"merchantdesk/internal/repository"
)

// DynamicStatus is the effective subscription status derived at read time
// from the stored period dates. It is never persisted.
type DynamicStatus struct {
	Status          string `json:"status"`
	IsExpired       bool   `json:"is_expired"`
	IsGracePeriod   bool   `json:"is_grace_period"`
	IsExpiringSoon  bool   `json:"is_expiring_soon"`
	RequiresPayment bool   `json:"requires_payment"`
	DaysRemaining   int    `json:"days_remaining"`
}

// ComputeDynamicStatus derives the effective status of a subscription at the
// given instant. All readers must go through this function instead of
// re-deriving the date arithmetic.
func ComputeDynamicStatus(sub *models.Subscription, now time.Time) DynamicStatus {
	if sub.Status != models.SubscriptionStatusActive {
		return DynamicStatus{Status: string(sub.Status)}
	}

	ds := DynamicStatus{Status: string(models.SubscriptionStatusActive)}
	switch {
	case !now.After(sub.CurrentPeriodEnd):
		ds.DaysRemaining = ceilDays(sub.CurrentPeriodEnd.Sub(now))
	case !now.After(sub.GracePeriodEndsAt):
		ds.Status = models.DerivedStatusGracePeriod
		ds.IsGracePeriod = true
		ds.DaysRemaining = ceilDays(sub.GracePeriodEndsAt.Sub(now))
	default:
		ds.Status = models.DerivedStatusExpired
		ds.IsExpired = true
	}

	ds.IsExpiringSoon = ds.DaysRemaining > 0 && ds.DaysRemaining <= 7
	ds.RequiresPayment = ds.IsExpired || ds.IsGracePeriod
	return ds
}

func ceilDays(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Hours() / 24))
}

// SubscriptionService is the billing-cycle ledger: it creates and renews
// per-tenant subscriptions and consumes completed checkouts
type SubscriptionService struct {
	repo   repository.SubscriptionRepository
	logger *zap.Logger
}

func NewSubscriptionService(repo repository.SubscriptionRepository, logger *zap.Logger) *SubscriptionService {
	return &SubscriptionService{repo: repo, logger: logger}
}

// CreateOrRenew ensures the tenant has exactly one current subscription:
// first payment creates it, subsequent payments extend it
func (s *SubscriptionService) CreateOrRenew(ctx context.Context, tenantID, planID uint, cycleMonths int, paidAmount float64, currency string) (*models.Subscription, error) {
	if tenantID == 0 {
		return nil, apperrors.Validation("tenant id is required", map[string]string{"tenant_id": "required"})
	}
	if cycleMonths <= 0 {
		return nil, apperrors.Validation("billing cycle must be positive", map[string]string{"billing_cycle_months": "must be positive"})
	}

	existing, err := s.repo.GetCurrentByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if existing == nil {
		sub := &models.Subscription{
			TenantID:           tenantID,
			PlanID:             planID,
			BillingCycleMonths: cycleMonths,
			Amount:             paidAmount,
			Currency:           currency,
			Status:             models.SubscriptionStatusActive,
			CurrentPeriodStart: now,
			CurrentPeriodEnd:   now.AddDate(0, cycleMonths, 0),
			TotalPaid:          paidAmount,
			AutoRenew:          true,
			Version:            1,
		}
		sub.GracePeriodEndsAt = sub.CurrentPeriodEnd.AddDate(0, 0, models.GracePeriodDays)
		if err := s.repo.Create(ctx, sub); err != nil {
			return nil, err
		}
		s.logger.Info("subscription created",
			zap.Uint("tenant_id", tenantID),
			zap.Uint("plan_id", planID),
			zap.Time("period_end", sub.CurrentPeriodEnd),
		)
		return sub, nil
	}

	existing.PlanID = planID
	return s.applyRenewal(ctx, existing, cycleMonths, paidAmount, now)
}

// Renew extends a subscription's paid window. Zero cycleMonths falls back to
// the stored cycle; zero paidAmount adds nothing to the accumulator.
func (s *SubscriptionService) Renew(ctx context.Context, subscriptionID uint, cycleMonths int, paidAmount float64) (*models.Subscription, error) {
	sub, err := s.repo.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if cycleMonths <= 0 {
		cycleMonths = sub.BillingCycleMonths
	}
	return s.applyRenewal(ctx, sub, cycleMonths, paidAmount, time.Now().UTC())
}

// applyRenewal extends the paid window without ever shrinking it: an early
// renewal starts counting from the current period end, not from now
func (s *SubscriptionService) applyRenewal(ctx context.Context, sub *models.Subscription, cycleMonths int, paidAmount float64, now time.Time) (*models.Subscription, error) {
	start := now
	if sub.CurrentPeriodEnd.After(now) {
		start = sub.CurrentPeriodEnd
	}

	sub.BillingCycleMonths = cycleMonths
	sub.CurrentPeriodStart = start
	sub.CurrentPeriodEnd = start.AddDate(0, cycleMonths, 0)
	sub.GracePeriodEndsAt = sub.CurrentPeriodEnd.AddDate(0, 0, models.GracePeriodDays)
	sub.TotalPaid += paidAmount
	if paidAmount > 0 {
		sub.Amount = paidAmount
	}
	sub.RenewalCount++
	sub.Status = models.SubscriptionStatusActive

	if err := s.repo.UpdateWithVersion(ctx, sub); err != nil {
		return nil, err
	}
	s.logger.Info("subscription renewed",
		zap.Uint("tenant_id", sub.TenantID),
		zap.Int("renewal_count", sub.RenewalCount),
		zap.Time("period_end", sub.CurrentPeriodEnd),
	)
	return sub, nil
}

// GetForTenant returns the tenant's current subscription together with its
// derived status
func (s *SubscriptionService) GetForTenant(ctx context.Context, tenantID uint) (*models.Subscription, DynamicStatus, error) {
	sub, err := s.repo.GetCurrentByTenant(ctx, tenantID)
	if err != nil {
		return nil, DynamicStatus{}, err
	}
	if sub == nil {
		return nil, DynamicStatus{}, apperrors.New(apperrors.KindNotFound, "tenant has no subscription")
	}
	return sub, ComputeDynamicStatus(sub, time.Now().UTC()), nil
}

// Cancel marks the tenant's subscription cancelled, either immediately or at
// the period end
func (s *SubscriptionService) Cancel(ctx context.Context, tenantID uint, atPeriodEnd bool) (*models.Subscription, error) {
	sub, err := s.repo.GetCurrentByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, apperrors.New(apperrors.KindNotFound, "tenant has no subscription")
	}

	if atPeriodEnd {
		sub.CancelAtPeriodEnd = true
		sub.AutoRenew = false
	} else {
		sub.Status = models.SubscriptionStatusCancelled
	}
	if err := s.repo.UpdateWithVersion(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// ListExpiring returns stored-active subscriptions whose period ends within
// the given number of days; consumed by the dunning sweep
func (s *SubscriptionService) ListExpiring(ctx context.Context, daysAhead int) ([]models.Subscription, error) {
	if daysAhead <= 0 {
		daysAhead = 7
	}
	return s.repo.ListExpiring(ctx, time.Now().UTC(), daysAhead)
}

// OnCheckoutCompleted turns a completed checkout into a subscription
// create-or-renew. Sessions without a tenant id belong to signups whose
// tenant is provisioned elsewhere; those are skipped.
func (s *SubscriptionService) OnCheckoutCompleted(ctx context.Context, session *models.CheckoutSession) error {
	if session.TenantID == 0 {
		s.logger.Info("checkout completed for unprovisioned tenant, ledger skipped",
			zap.String("transaction_id", session.TransactionID),
		)
		return nil
	}
	_, err := s.CreateOrRenew(ctx, session.TenantID, session.PlanID, session.BillingCycleMonths, session.PlanPrice, session.Currency)
	return err
}
