package tasks

import (
	"context"
	"time"

	"gorm.io/gorm"

	"merchantdesk/internal/models"
	"merchantdesk/internal/services"
)

const defaultStaleAfterHours = 24

// ExpireStaleCheckoutsTaskDef cancels pending checkout sessions whose buyer
// abandoned the gateway redirect
type ExpireStaleCheckoutsTaskDef struct {
	checkout *services.CheckoutService
}

// TaskID returns the unique identifier for this task
func (t *ExpireStaleCheckoutsTaskDef) TaskID() string {
	return "expire_stale_checkouts"
}

// HandleExecution cancels pending sessions older than older_than_hours
func (t *ExpireStaleCheckoutsTaskDef) HandleExecution(ctx context.Context, db *gorm.DB, task models.ScheduledTask) (map[string]interface{}, error) {
	staleAfter := defaultStaleAfterHours
	if raw, ok := task.Arguments["older_than_hours"].(float64); ok && raw > 0 {
		staleAfter = int(raw)
	}

	expired, err := t.checkout.ExpireStale(ctx, time.Duration(staleAfter)*time.Hour)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"status":           "success",
		"expired_sessions": expired,
		"older_than_hours": staleAfter,
	}, nil
}
