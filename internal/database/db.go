package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/vaidashi/order-settlement-api/internal/config"
	"github.com/vaidashi/order-settlement-api/pkg/logger"
)

// Executor is satisfied by both *sqlx.DB and *sqlx.Tx
type Executor interface {
	sqlx.ExtContext
}

// Database represents a database connection
type Database struct {
	DB     *sqlx.DB
	logger logger.Logger
}

// New creates a new database connection from the application config
func New(cfg *config.Config, logger logger.Logger) (*Database, error) {
	db, err := Open(cfg.DB.Driver, cfg.GetDBConnString(), logger)
	if err != nil {
		return nil, err
	}

	logger.Info("Connected to database", "driver", cfg.DB.Driver, "host", cfg.DB.Host, "database", cfg.DB.Name)
	return db, nil
}

// Open connects with the given driver ("postgres" or "sqlite") and DSN
func Open(driver, dsn string, logger logger.Logger) (*Database, error) {
	switch driver {
	case "postgres":
		db, err := sqlx.Connect("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		return &Database{DB: db, logger: logger}, nil

	case "sqlite":
		db, err := sqlx.Connect(SQLiteDriverName, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}

		// Single writer; every statement in a unit of work must go through its tx
		db.SetMaxOpenConns(1)

		for _, pragma := range []string{
			"PRAGMA foreign_keys=ON",
			"PRAGMA busy_timeout=5000",
		} {
			if _, err := db.Exec(pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
			}
		}

		return &Database{DB: db, logger: logger}, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Ping checks the database connection
func (d *Database) Ping(ctx context.Context) error {
	return d.DB.PingContext(ctx)
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.DB.Close()
}

// Logger returns the logger the database was opened with
func (d *Database) Logger() logger.Logger {
	return d.logger
}
