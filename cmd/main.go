package main

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/suteetoe/taskapp/internal/handler"
	"github.com/suteetoe/taskapp/internal/journal"
	"github.com/suteetoe/taskapp/internal/maintenance"
	"github.com/suteetoe/taskapp/internal/middleware"
	"github.com/suteetoe/taskapp/internal/service"
	"github.com/suteetoe/taskapp/internal/store"
	"github.com/suteetoe/taskapp/internal/store/memstore"
	"github.com/suteetoe/taskapp/internal/store/mongostore"
	"github.com/suteetoe/taskapp/internal/tenancy"
	"github.com/suteetoe/taskapp/pkg/config"
	"github.com/suteetoe/taskapp/pkg/database"
	"github.com/suteetoe/taskapp/pkg/jwtutil"
	"github.com/suteetoe/taskapp/pkg/logger"
	"github.com/suteetoe/taskapp/prometheus"
	"go.uber.org/zap"
)

func main() {
	// Load configuration from .env file and environment variables
	cfg, err := config.Load("task-service")
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger with config
	logger.InitLogger(cfg)
	log := logger.GetLogger()
	defer func() { _ = log.Sync() }()
	log.Info("Starting task service...", cfg.LogConfig()...)

	// Document store
	var client store.Client
	switch cfg.Mongo.Driver {
	case config.DriverMemory:
		log.Warn("Using in-memory store, data is lost on restart")
		client = memstore.New()
	default:
		mongoClient, err := database.ConnectMongo(&cfg.Mongo)
		if err != nil {
			log.Fatal("Failed to connect to MongoDB", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mongoClient.Disconnect(ctx)
		}()
		client = mongostore.New(mongoClient)
		log.Info("MongoDB connection established", zap.String("database", cfg.Mongo.Database))
	}

	// Migration journal
	var runs journal.Repository = journal.NewMemoryRepository()
	if cfg.Journal.Enabled {
		db, err := database.InitJournalDB(&cfg.Journal)
		if err != nil {
			log.Fatal("Failed to initialize journal database", zap.Error(err))
		}
		repo, err := journal.NewGormRepository(db)
		if err != nil {
			log.Fatal("Failed to migrate journal database", zap.Error(err))
		}
		runs = repo
		log.Info("Journal database connection established")
	}

	// Tenancy core and services
	resolver := tenancy.NewResolver(client, cfg.Mongo.Database, log.Named("resolver"))
	provisioner := tenancy.NewProvisioner(client, log.Named("provisioner"))
	migrator := tenancy.NewMigrator(client, cfg.Mongo.Database, provisioner, runs, log.Named("migrator"))
	ownership := tenancy.NewOwnershipVerifier(resolver.Apps())
	indexes := maintenance.NewIndexService(client, resolver, log.Named("indexes"))
	backfill := maintenance.NewBackfillService(resolver, indexes, log.Named("backfill"))
	reaper := maintenance.NewReaper(client, resolver, log.Named("reaper"))

	apps := service.NewAppService(resolver, provisioner, migrator, indexes, log.Named("apps"))
	todos := service.NewTodoService(resolver, ownership, log.Named("todos"))

	// Shared indexes are cheap to check and make every start consistent
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Mongo.Timeout)
	if result := indexes.EnsureIndexesForDatabase(ctx, ""); !result.Success {
		log.Warn("Failed to ensure shared indexes", zap.String("error", result.ErrorMessage))
	}
	cancel()

	jwtUtil := jwtutil.NewJWTUtil(&jwtutil.JWTConfig{
		SigningKey:      cfg.JWT.SigningKey,
		ExpirationHours: cfg.JWT.ExpirationHours,
	})
	log.Info("JWT utility initialized")

	// Initialize Echo framework
	e := echo.New()
	e.HideBanner = true

	// Apply global middleware - order matters
	e.Use(echomiddleware.Recover())
	e.Use(middleware.RequestIDMiddleware)
	e.Use(logger.Middleware(log))
	e.Use(prometheus.MetricsMiddleware())

	handler.RegisterRoutes(e, jwtUtil,
		handler.NewAppHandler(apps),
		handler.NewTodoHandler(todos),
		handler.NewMigrationHandler(backfill, indexes, reaper, runs),
	)

	// Start server
	port := cfg.Server.Port
	log.Info("Starting server", zap.String("port", port))
	if err := e.Start(":" + port); err != nil {
		log.Fatal("Failed to start server", zap.Error(err))
	}
}
