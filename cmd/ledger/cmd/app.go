package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ledger/internal/config"
	"ledger/internal/infrastructure/database"
	"ledger/internal/logger"
	"ledger/internal/repository/accounts_repo"
	"ledger/internal/repository/accounts_repo/memory"
	"ledger/internal/repository/accounts_repo/postgres"
	"ledger/internal/repository/accounts_repo/sqlite"
)

const (
	connectAttempts = 10
	connectDelay    = 5 * time.Second
)

// app carries the pieces every subcommand needs.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *sql.DB
	store  accounts_repo.Store
}

func newApp() (*app, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("error loading configuration: %w", err)
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: log}, nil
}

// openStore connects to the configured backend, applies migrations and
// wraps the store in the circuit breaker when enabled.
func (a *app) openStore(ctx context.Context) error {
	var store accounts_repo.Store

	switch a.cfg.Storage.Driver {
	case config.DriverMemory:
		a.logger.Warn("Using in-memory account store, data is lost on exit")
		store = memory.NewAccountRepository(a.cfg.Storage.LockTimeout)

	case config.DriverSQLite:
		dsn := sqlite.DSN(a.cfg.Storage.SQLitePath, a.cfg.Storage.LockTimeout)
		db, err := database.NewSQLiteDB(ctx, dsn)
		if err != nil {
			return err
		}
		a.db = db
		if err := a.migrate(database.DriverSQLite); err != nil {
			return err
		}
		store = sqlite.NewAccountRepository(db)

	case config.DriverPostgres:
		a.logger.Info("Waiting for database to be available...")
		dbConfig := database.DBConfig{
			Host:     a.cfg.DBConfig.Host,
			Port:     a.cfg.DBConfig.Port,
			User:     a.cfg.DBConfig.User,
			Password: a.cfg.DBConfig.Password,
			DBName:   a.cfg.DBConfig.Name,
			SSLMode:  a.cfg.DBConfig.SSLMode,
		}
		db, err := database.ConnectWithRetry(ctx, func(ctx context.Context) (*sql.DB, error) {
			return database.NewPostgresDB(ctx, dbConfig)
		}, connectAttempts, connectDelay, a.logger)
		if err != nil {
			return err
		}
		a.logger.Info("Successfully connected to PostgreSQL database!")
		a.db = db
		if err := a.migrate(database.DriverPostgres); err != nil {
			return err
		}
		store = postgres.NewAccountRepository(db, a.cfg.Storage.LockTimeout)

	default:
		return fmt.Errorf("unknown storage driver %q", a.cfg.Storage.Driver)
	}

	if a.cfg.Breaker.Enabled {
		store = accounts_repo.NewBreakerStore(store, accounts_repo.BreakerConfig{
			Name:                "account-store",
			MaxRequests:         uint32(a.cfg.Breaker.MaxRequests),
			Interval:            a.cfg.Breaker.Interval,
			Timeout:             a.cfg.Breaker.Timeout,
			ConsecutiveFailures: uint32(a.cfg.Breaker.ConsecutiveFailures),
		}, a.logger.With(zap.String("component", "AccountStoreBreaker")))
	}
	a.store = store
	return nil
}

func (a *app) migrate(driver string) error {
	a.logger.Info("Running database migrations...", zap.String("driver", driver))
	if err := database.Migrate(a.db, driver); err != nil {
		return err
	}
	a.logger.Info("Database migrations completed successfully (or no new migrations).")
	return nil
}

func (a *app) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("Error closing database connection", zap.Error(err))
		} else {
			a.logger.Info("Database connection closed.")
		}
	}
	_ = a.logger.Sync()
}
