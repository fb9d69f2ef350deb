package tasks

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"merchantdesk/internal/models"
	"merchantdesk/internal/services"
)

const sweepMaxAttempt = 3

// DefineTasks registers all available tasks against the global registry
func DefineTasks(checkout *services.CheckoutService, subscriptions *services.SubscriptionService, logger *zap.Logger) {
	expire := &ExpireStaleCheckoutsTaskDef{checkout: checkout}
	RegisterHandler(expire.TaskID(), expire.HandleExecution)

	scan := &ScanExpiringSubscriptionsTaskDef{subscriptions: subscriptions, logger: logger}
	RegisterHandler(scan.TaskID(), scan.HandleExecution)
}

// sweepSeed describes one recurring sweep row
type sweepSeed struct {
	name  string
	args  map[string]interface{}
	rrule string
}

func (s sweepSeed) task() *models.ScheduledTask {
	rule := s.rrule
	return &models.ScheduledTask{
		TaskName:          s.name,
		Arguments:         s.args,
		Due:               time.Now(),
		RecurringInterval: &rule,
		Status:            models.ScheduledTaskStatusActive,
		TaskType:          models.ScheduledTaskTypeRecurring,
		MaxAttempt:        sweepMaxAttempt,
	}
}

// EnsureRecurringTasks seeds the recurring sweep rows if they do not exist yet
func EnsureRecurringTasks(db *gorm.DB) error {
	seeds := []sweepSeed{
		{"expire_stale_checkouts", map[string]interface{}{"older_than_hours": defaultStaleAfterHours}, "FREQ=HOURLY;INTERVAL=1"},
		{"scan_expiring_subscriptions", map[string]interface{}{"days_ahead": defaultExpiryScanDays}, "FREQ=DAILY;INTERVAL=1"},
	}

	for _, seed := range seeds {
		var existing models.ScheduledTask
		err := db.Where("task_name = ? AND status = ?", seed.name, models.ScheduledTaskStatusActive).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := db.Create(seed.task()).Error; err != nil {
			return err
		}
	}
	return nil
}
