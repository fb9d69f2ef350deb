package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"merchantdesk/internal/models"
	"merchantdesk/internal/repository"
	"merchantdesk/internal/services"
	"merchantdesk/internal/tasks"
)

const sweepInterval = 5 * time.Minute

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}

	logger, err := services.NewLogger()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		logger.Fatal("DATABASE_URL not set")
	}
	db, err := services.InitDB(databaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}

	appURL := os.Getenv("APP_URL")
	if appURL == "" {
		appURL = "http://localhost:8080"
	}

	// The worker runs the sweeps only; it needs no Redis lock and fires no
	// completion events
	sessionRepo := repository.NewGormCheckoutRepo(db)
	subscriptionRepo := repository.NewGormSubscriptionRepo(db)
	settingsRepo := repository.NewGormSettingsRepo(db)
	callbackRepo := repository.NewGormCallbackRepo(db)

	gateway := services.NewSSLCommerzService(logger)
	settingsService := services.NewSettingsService(settingsRepo, gateway, logger)
	subscriptionService := services.NewSubscriptionService(subscriptionRepo, logger)
	checkoutService := services.NewCheckoutService(
		sessionRepo, callbackRepo, gateway, settingsService, nil, nil, appURL, logger,
	)

	tasks.DefineTasks(checkoutService, subscriptionService, logger)
	if err := tasks.EnsureRecurringTasks(db); err != nil {
		logger.Fatal("Failed to seed recurring tasks", zap.Error(err))
	}

	logger.Info("Worker started")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Info("Shutting down worker")
		cancel()
	}()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	// Run once at startup, then on every tick
	processScheduledTasks(ctx, db, logger)

	for {
		select {
		case <-ticker.C:
			processScheduledTasks(ctx, db, logger)
		case <-ctx.Done():
			return
		}
	}
}

func processScheduledTasks(ctx context.Context, db *gorm.DB, logger *zap.Logger) {
	var pendingTasks []models.ScheduledTask
	now := time.Now()
	if err := db.Where("status = ? AND due <= ?", models.ScheduledTaskStatusActive, now).Find(&pendingTasks).Error; err != nil {
		logger.Error("Failed to fetch pending tasks", zap.Error(err))
		return
	}

	if len(pendingTasks) == 0 {
		return
	}
	logger.Info("Processing pending tasks", zap.Int("count", len(pendingTasks)))

	for _, task := range pendingTasks {
		if ctx.Err() != nil {
			return
		}
		executeTask(ctx, db, logger, task, 1)
	}
}

func executeTask(ctx context.Context, db *gorm.DB, logger *zap.Logger, task models.ScheduledTask, curAttempt int) {
	logger.Info("Running task", zap.String("task", task.TaskName), zap.Uint("id", task.ID), zap.Int("attempt", curAttempt))

	handler, found := tasks.GetHandler(task.TaskName)
	if !found {
		logger.Error("No handler registered for task", zap.String("task", task.TaskName))
		now := time.Now()
		db.Model(&task).Updates(map[string]interface{}{
			"status":   models.ScheduledTaskStatusFailure,
			"last_run": &now,
		})
		db.Create(&models.ScheduledTaskHistory{
			ScheduledTaskID: task.ID,
			TaskName:        task.TaskName,
			RunAt:           now,
			Status:          "handler_not_found",
			AttemptNumber:   curAttempt,
			Arguments:       task.Arguments,
			Result:          map[string]interface{}{"error": "handler not found"},
		})
		return
	}

	startTime := time.Now()
	result, err := handler(ctx, db, task)
	runtimeMs := int(time.Since(startTime).Milliseconds())

	status := "success"
	resultData := result
	if err != nil {
		status = "failure"
		resultData = map[string]interface{}{"error": err.Error()}
		logger.Error("Task failed", zap.String("task", task.TaskName), zap.Error(err))
	}

	db.Create(&models.ScheduledTaskHistory{
		ScheduledTaskID: task.ID,
		TaskName:        task.TaskName,
		RunAt:           startTime,
		RuntimeMs:       runtimeMs,
		Status:          status,
		AttemptNumber:   curAttempt,
		Arguments:       task.Arguments,
		Result:          resultData,
	})

	taskUpdates := map[string]interface{}{
		"last_run": &startTime,
	}

	if status != "success" {
		if curAttempt < task.MaxAttempt {
			executeTask(ctx, db, logger, task, curAttempt+1)
			return
		}
		taskUpdates["status"] = models.ScheduledTaskStatusFailure
	} else {
		switch task.TaskType {
		case models.ScheduledTaskTypeOneTime:
			taskUpdates["status"] = models.ScheduledTaskStatusDone
		case models.ScheduledTaskTypeRecurring:
			nextDue := task.NextDue()
			// Guard against a non-advancing rule re-running the task forever
			if nextDue.After(task.Due) {
				taskUpdates["status"] = models.ScheduledTaskStatusActive
				taskUpdates["due"] = nextDue
			} else {
				taskUpdates["status"] = models.ScheduledTaskStatusDone
			}
		}
	}

	db.Model(&task).Updates(taskUpdates)
}
