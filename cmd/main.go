package main

import (
	"redscout/internal/command"
	"redscout/internal/handler"
	"redscout/internal/middleware"
	"redscout/internal/notify"
	"redscout/internal/oauth"
	"redscout/internal/quota"
	"redscout/internal/search"
	"redscout/internal/store"
	"redscout/pkg/config"
	"redscout/pkg/database"
	"redscout/pkg/jwtutil"
	"redscout/pkg/logger"
	"redscout/pkg/secret"
	"redscout/prometheus"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

func main() {
	// Load configuration from .env file and environment variables
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger with config
	if err := logger.InitLogger(cfg); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	log := logger.GetLogger()
	log.Info("Starting redscout...", zap.String("environment", cfg.Server.Env))

	// Credential vault; development falls back to a fixed key so local
	// runs work without configuration, production refuses to start
	// without one (enforced in config.Validate).
	secretKey := cfg.Crypto.SecretKey
	if secretKey == "" {
		log.Warn("SECRET_KEY not set, using development key; stored credentials will not survive a key change")
		secretKey = "redscout-development-key"
	}
	vault, err := secret.NewVault(secretKey)
	if err != nil {
		log.Fatal("Failed to initialize credential vault", zap.Error(err))
	}

	// Initialize database
	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	log.Info("Database connection established")

	// Workspace store and migrations
	workspaceStore := store.New(db, vault, log)
	if err := workspaceStore.Migrate(); err != nil {
		log.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Integration store for the notification path
	integrationStore, err := notify.NewFileStore(cfg.Notify.StorePath)
	if err != nil {
		log.Fatal("Failed to open integration store", zap.Error(err))
	}

	// Initialize JWT utility for admin sessions
	jwtutil.Initialize(&cfg.JWT)

	// Initialize Prometheus metrics
	prometheus.InitMetrics(cfg)
	log.Info("Prometheus metrics initialized")

	// Core services
	notifier := notify.NewNotifier(integrationStore, vault, cfg.Notify, log)
	defer notifier.Close()

	provider := search.NewRedditProvider(&cfg.Search)
	guard := quota.NewGuard(workspaceStore, cfg.RateLimit)
	dispatcher := command.NewDispatcher(workspaceStore, guard, provider, notifier, cfg.Search, log)
	installer := oauth.NewInstaller(cfg.Slack, workspaceStore, log)

	// Handlers
	slackHandler := handler.NewSlackHandler(installer, dispatcher)
	integrationHandler := handler.NewIntegrationHandler(notifier, integrationStore, vault)
	adminHandler := handler.NewAdminHandler(workspaceStore, cfg.Crypto.AdminKey)
	healthHandler := handler.NewHealthHandler(db)

	// Initialize Echo framework
	e := echo.New()
	e.HideBanner = true

	// Apply global middleware - order matters
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(middleware.RequestIDMiddleware)
	e.Use(logger.Middleware())
	e.Use(prometheus.MetricsMiddleware())

	// Public routes
	e.GET("/health", healthHandler.HealthCheck)
	e.GET("/metrics", prometheus.HandlerFunc())
	e.GET("/pricing", healthHandler.Pricing)

	// Slack surface
	e.GET("/slack/oauth/callback", slackHandler.OAuthCallback)
	e.POST("/api/slack/command", slackHandler.SlashCommand)

	// Integration CRUD
	integrations := e.Group("/api/integrations")
	integrations.POST("", integrationHandler.Create)
	integrations.GET("", integrationHandler.List)
	integrations.GET("/audit", integrationHandler.AuditLog)
	integrations.PUT("/:id", integrationHandler.Update)
	integrations.DELETE("/:id", integrationHandler.Delete)
	integrations.POST("/:id/test", integrationHandler.Test)

	// Admin surface - login is public, everything else requires the key
	e.POST("/admin/login", adminHandler.Login)
	admin := e.Group("/admin")
	admin.Use(middleware.AdminAuth(cfg.Crypto.AdminKey))
	admin.GET("/workspaces", adminHandler.ListWorkspaces)
	admin.GET("/workspaces/:id/logs", adminHandler.WorkspaceLogs)
	admin.POST("/workspaces/:team_id/active", adminHandler.SetActive)
	admin.POST("/workspaces/:team_id/reset", adminHandler.ResetUsage)
	admin.GET("/billing", adminHandler.Billing)

	// Start server
	port := cfg.Server.Port
	log.Info("Starting server", zap.String("port", port))
	if err := e.Start(":" + port); err != nil {
		log.Fatal("Failed to start server", zap.Error(err))
	}
}
