// Package postgres implements storage.Backend on PostgreSQL through the
// shared GORM backend.
package postgres

import (
	"fmt"
	"log/slog"

	"github.com/OCAP2/breakage/internal/database"
	gormstorage "github.com/OCAP2/breakage/internal/storage/gorm"
)

// Config holds the connection string. Empty means assemble it from the
// db.* configuration keys.
type Config struct {
	DSN string
}

// Backend is the postgres storage backend.
type Backend struct {
	*gormstorage.Backend
	cfg    Config
	logger *slog.Logger
}

// New creates the backend without connecting.
func New(cfg Config, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{cfg: cfg, logger: logger}
}

// Init connects and migrates.
func (b *Backend) Init() error {
	dsn := b.cfg.DSN
	if dsn == "" {
		dsn = database.PostgresDSN()
	}
	db, err := database.OpenPostgres(dsn)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to access sql interface: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("postgres unreachable: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)

	b.Backend = gormstorage.New(db, b.logger)
	if err := b.Backend.Init(); err != nil {
		_ = b.Backend.Close()
		return err
	}
	b.logger.Info("Postgres storage backend connected")
	return nil
}

// Close closes the connection if Init succeeded.
func (b *Backend) Close() error {
	if b.Backend == nil {
		return nil
	}
	return b.Backend.Close()
}
