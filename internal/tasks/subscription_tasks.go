package tasks

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"merchantdesk/internal/models"
	"merchantdesk/internal/services"
)

const defaultExpiryScanDays = 7

// ScanExpiringSubscriptionsTaskDef finds subscriptions whose paid period
// ends soon. The result feeds the notification collaborator; delivery
// itself happens outside this service.
type ScanExpiringSubscriptionsTaskDef struct {
	subscriptions *services.SubscriptionService
	logger        *zap.Logger
}

// TaskID returns the unique identifier for this task
func (t *ScanExpiringSubscriptionsTaskDef) TaskID() string {
	return "scan_expiring_subscriptions"
}

// HandleExecution lists subscriptions expiring within days_ahead days
func (t *ScanExpiringSubscriptionsTaskDef) HandleExecution(ctx context.Context, db *gorm.DB, task models.ScheduledTask) (map[string]interface{}, error) {
	daysAhead := defaultExpiryScanDays
	if raw, ok := task.Arguments["days_ahead"].(float64); ok && raw > 0 {
		daysAhead = int(raw)
	}

	subs, err := t.subscriptions.ListExpiring(ctx, daysAhead)
	if err != nil {
		return nil, err
	}

	tenantIDs := make([]interface{}, 0, len(subs))
	for _, sub := range subs {
		tenantIDs = append(tenantIDs, sub.TenantID)
		t.logger.Info("subscription expiring soon",
			zap.Uint("tenant_id", sub.TenantID),
			zap.Time("period_end", sub.CurrentPeriodEnd),
		)
	}

	return map[string]interface{}{
		"status":     "success",
		"expiring":   len(subs),
		"days_ahead": daysAhead,
		"tenant_ids": tenantIDs,
	}, nil
}
