package main

import (
	"context"
	"log"
	"os"

	"firebase.google.com/go/v4/auth"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"merchantdesk/internal/handlers"
	appMiddleware "merchantdesk/internal/middleware"
	"merchantdesk/internal/repository"
	"merchantdesk/internal/services"
)

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

	// Initialize Database
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		logger.Fatal("DATABASE_URL not set")
	}
	db, err := services.InitDB(databaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := services.AutoMigrate(db); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Redis backs the per-transaction callback locks; the orchestrator
	// degrades to conditional updates alone without it
	var cache *services.RedisCache
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cache, err = services.NewRedisCache(redisURL)
		if err != nil {
			logger.Warn("Redis unavailable, callback locking disabled", zap.Error(err))
			cache = nil
		}
	} else {
		logger.Warn("REDIS_URL not set, callback locking disabled")
	}

	// Firebase gates the admin surface only
	var authClient *auth.Client
	credPath := os.Getenv("FIREBASE_CREDENTIALS_PATH")
	if credPath == "" {
		credPath = "./firebase-service-account.json"
	}
	authClient, err = services.InitFirebase(context.Background(), credPath)
	if err != nil {
		logger.Warn("Firebase initialization failed, admin API disabled", zap.Error(err))
		authClient = nil
	}

	appURL := os.Getenv("APP_URL")
	if appURL == "" {
		appURL = "http://localhost:8080"
	}

	// Wire repositories and services
	sessionRepo := repository.NewGormCheckoutRepo(db)
	subscriptionRepo := repository.NewGormSubscriptionRepo(db)
	settingsRepo := repository.NewGormSettingsRepo(db)
	callbackRepo := repository.NewGormCallbackRepo(db)

	gateway := services.NewSSLCommerzService(logger)
	settingsService := services.NewSettingsService(settingsRepo, gateway, logger)
	subscriptionService := services.NewSubscriptionService(subscriptionRepo, logger)
	checkoutService := services.NewCheckoutService(
		sessionRepo, callbackRepo, gateway, settingsService, cache,
		subscriptionService, appURL, logger,
	)

	checkoutHandler := handlers.NewCheckoutHandler(checkoutService, appURL, logger)
	subscriptionHandler := handlers.NewSubscriptionHandler(subscriptionService)
	settingsHandler := handlers.NewSettingsHandler(settingsService)

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMiddleware.Logger())
	e.Use(echoMiddleware.Recover())
	e.HTTPErrorHandler = appMiddleware.NewErrorHandler(logger)

	// Checkout API
	e.POST("/api/checkout/init", checkoutHandler.InitCheckout)
	e.GET("/api/checkout/session", checkoutHandler.GetSession)

	// Gateway return URLs accept both form posts and query-string redirects
	e.POST("/payment/success", checkoutHandler.SuccessReturn)
	e.GET("/payment/success", checkoutHandler.SuccessReturn)
	e.POST("/payment/fail", checkoutHandler.FailReturn)
	e.GET("/payment/fail", checkoutHandler.FailReturn)
	e.POST("/payment/cancel", checkoutHandler.CancelReturn)
	e.GET("/payment/cancel", checkoutHandler.CancelReturn)
	e.POST("/payment/ipn", checkoutHandler.IPN)

	// Admin API
	admin := e.Group("/api", appMiddleware.RequireAuth(authClient))
	admin.GET("/tenants/:tenantId/subscription", subscriptionHandler.GetTenantSubscription)
	admin.POST("/tenants/:tenantId/subscription/cancel", subscriptionHandler.CancelSubscription)
	admin.GET("/subscriptions/expiring", subscriptionHandler.ListExpiring)
	admin.GET("/tenants/:tenantId/gateway-settings", settingsHandler.GetSettings)
	admin.PUT("/tenants/:tenantId/gateway-settings", settingsHandler.PutSettings)
	admin.POST("/tenants/:tenantId/gateway-settings/test", settingsHandler.TestConnection)

	// Start server
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logger.Info("Server starting", zap.String("port", port))
	e.Logger.Fatal(e.Start(":" + port))
}
