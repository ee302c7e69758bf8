package migration

import (
	"database/sql"
	"fmt"
	"io/fs"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/erp/servicebus/internal/infrastructure/config"
)

// Open opens a dedicated connection for migrating the configured database
func Open(cfg *config.DatabaseConfig) (*sql.DB, error) {
	driverName, dsn := "postgres", cfg.DSN()
	if cfg.Driver == "sqlite" {
		driverName, dsn = "sqlite3", cfg.SQLitePath
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Apply brings the configured database up to the newest migration in files
// over its own connection
func Apply(cfg *config.DatabaseConfig, files fs.FS, logger *zap.Logger) error {
	db, err := Open(cfg)
	if err != nil {
		return err
	}
	m, err := New(db, cfg.Driver, files, logger)
	if err != nil {
		_ = db.Close()
		return err
	}
	if err := m.Up(); err != nil {
		_ = m.Close()
		return err
	}
	return m.Close()
}
