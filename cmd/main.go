package main

import (
	"predict-service/internal/handler"
	"predict-service/internal/middleware"
	"predict-service/internal/registry"
	"predict-service/internal/tenant"
	"predict-service/internal/trainer"
	"predict-service/pkg/config"
	"predict-service/pkg/database"
	"predict-service/pkg/jwtutil"
	"predict-service/pkg/logger"
	"predict-service/prometheus"

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
	logger.InitLogger(cfg)
	log := logger.GetLogger()
	log.Info("Starting prediction service...", zap.String("environment", cfg.Server.Env))

	// Initialize database
	if err := database.InitDB(cfg); err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	log.Info("Database connection established")

	// Initialize JWT utility
	jwtutil.Initialize(&cfg.JWT)
	log.Info("JWT utility initialized")

	db := database.GetDB()

	// Wire the model registry and training stack
	store := registry.NewFSArtifactStore(cfg.Artifact.Dir)
	reg := registry.New(db, store)
	dir := tenant.NewDirectory(db)
	train := trainer.New(db, reg, cfg.Training, log)

	regression := handler.NewRegressionHandler(train, reg, cfg.Training.Timeout)
	clustering := handler.NewClusteringHandler(train, reg, db, cfg.Training.Timeout)

	// Initialize Echo framework
	e := echo.New()

	// Apply global middleware - order matters
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(middleware.RequestIDMiddleware)
	e.Use(logger.Middleware(log))
	e.Use(prometheus.MetricsMiddleware())

	// Public routes - no authentication required
	e.GET("/health", handler.HealthCheck)
	e.GET("/metrics", handler.MetricsHandler)

	// Authentication routes - these don't belong under /api since they're for getting access to the API.
	// Registration is admin-provisioned, never self-service: an open register
	// endpoint would let anyone mint an admin into any company.
	auth := e.Group("/auth")
	auth.POST("/login", handler.Login)
	auth.POST("/register", handler.Register, middleware.Authenticate(dir), middleware.RequireAdmin)

	// API routes - all require authentication
	api := e.Group("/api")
	api.Use(middleware.Authenticate(dir))

	// Directory surface
	accounts := api.Group("/accounts")
	accounts.GET("", handler.ListAccounts(dir))
	accounts.POST("", handler.CreateAccount, middleware.RequireWriter)

	companies := api.Group("/companies", middleware.RequireAdmin)
	companies.GET("", handler.ListCompanies)
	companies.POST("", handler.CreateCompany)

	// Regression lifecycle - every route is scoped to one managed account
	reg1 := api.Group("/regression", middleware.RequireAccountAccess(dir))
	reg1.POST("/train/:username", regression.Train, middleware.RequireWriter)
	reg1.GET("/predict/:username", regression.Predict)
	reg1.GET("/metrics/:username", regression.Metrics)
	reg1.GET("/history/:username", regression.History)
	reg1.GET("/model-info/:username", regression.ModelInfo)
	reg1.GET("/compare-models/:username", regression.CompareModels)
	reg1.POST("/compare-models/:username", regression.CompareModels)
	reg1.POST("/activate/:username", regression.Activate, middleware.RequireWriter)
	reg1.DELETE("/model/:username", regression.Delete, middleware.RequireWriter)

	// Clustering lifecycle
	clu := api.Group("/clustering", middleware.RequireAccountAccess(dir))
	clu.POST("/train/:username", clustering.Train, middleware.RequireWriter)
	clu.GET("/clusters/:username", clustering.Clusters)
	clu.GET("/metrics/:username", clustering.Metrics)
	clu.GET("/history/:username", clustering.History)
	clu.GET("/model-info/:username", clustering.ModelInfo)
	clu.GET("/compare-models/:username", clustering.CompareModels)
	clu.POST("/compare-models/:username", clustering.CompareModels)
	clu.POST("/activate/:username", clustering.Activate, middleware.RequireWriter)
	clu.DELETE("/model/:username", clustering.Delete, middleware.RequireWriter)

	// Get server port from configuration
	port := cfg.Server.Port

	// Start server
	log.Info("Starting server", zap.String("port", port))
	if err := e.Start(":" + port); err != nil {
		log.Fatal("Failed to start server", zap.Error(err))
	}
}
