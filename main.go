package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
	"go.uber.org/zap"

	"github.com/ledgerline/merchant-engine/pkg/config"
	"github.com/ledgerline/merchant-engine/pkg/database"
	"github.com/ledgerline/merchant-engine/pkg/handlers"
	"github.com/ledgerline/merchant-engine/pkg/logging"
	"github.com/ledgerline/merchant-engine/pkg/middleware"
	"github.com/ledgerline/merchant-engine/pkg/repositories"
	"github.com/ledgerline/merchant-engine/pkg/retry"
	"github.com/ledgerline/merchant-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

const migrationsPath = "migrations"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	connStr := cfg.Database.ConnectionString()
	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", logging.SanitizeConnectionString(connStr)),
		zap.Float64("cluster_threshold", cfg.Engine.ClusterThreshold),
		zap.Int("lookback_months", cfg.Engine.LookbackMonths))

	ctx := context.Background()

	// The database may still be coming up alongside us; transient connection
	// failures retry with backoff, permanent ones fail fast.
	db, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*database.DB, error) {
		return database.NewConnection(ctx, &database.Config{
			URL:            connStr,
			MaxConnections: cfg.Database.MaxConnections,
		})
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.String("error", logging.SanitizeError(err)))
	}
	defer db.Close()

	sqlDB, err := sql.Open("pgx", connStr)
	if err != nil {
		logger.Fatal("Failed to open migration connection", zap.String("error", logging.SanitizeError(err)))
	}
	if err := database.RunMigrations(sqlDB, migrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.String("error", logging.SanitizeError(err)))
	}
	_ = sqlDB.Close()

	// Repositories and services.
	groupRepo := repositories.NewMerchantGroupRepository()
	mappingRepo := repositories.NewMerchantMappingRepository()
	transactionRepo := repositories.NewTransactionRepository()
	recurringRepo := repositories.NewRecurringTransactionRepository()

	merchantService := services.NewMerchantService(groupRepo, mappingRepo, transactionRepo, cfg.Engine, logger)
	recurrenceService := services.NewRecurrenceService(db, groupRepo, transactionRepo, recurringRepo, cfg.Engine, logger)

	// HTTP surface.
	mux := http.NewServeMux()
	accountMiddleware := handlers.AccountMiddleware(
		database.WithAccountContext(db, cfg.Database.StatementTimeout(), logger))

	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewMerchantHandler(merchantService, logger).RegisterRoutes(mux, accountMiddleware)
	handlers.NewRecurrenceHandler(recurrenceService, logger).RegisterRoutes(mux, accountMiddleware)

	handler := middleware.RequestLogger(logger)(mux)

	addr := cfg.BindAddr + ":" + cfg.Port
	logger.Info("Starting merchant-engine",
		zap.String("addr", addr),
		zap.String("version", cfg.Version))
	if err := http.ListenAndServe(addr, handler); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
