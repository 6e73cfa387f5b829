package database

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/OCAP2/breakage/internal/model"
	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MemoryDSN is the shared in-memory sqlite database.
const MemoryDSN = "file::memory:?cache=shared"

var sqlitePragmas = []string{
	"user_version = 1",
	"journal_mode = MEMORY",
	"synchronous = OFF",
	"cache_size = -32000",
	"temp_store = MEMORY",
}

// Manager owns the schema database. It prefers Postgres and falls back to
// SQLite at SqlitePath, or in memory when that is empty.
type Manager struct {
	DB         *gorm.DB
	Fallback   bool
	SqlitePath string

	log zerolog.Logger
}

func NewManager(log zerolog.Logger, sqlitePath string) *Manager {
	return &Manager{SqlitePath: sqlitePath, log: log}
}

func (m *Manager) Connect() error {
	db, err := OpenPostgres(PostgresDSN())
	if err == nil {
		err = ping(db)
	}
	if err == nil {
		m.DB = db
		m.log.Info().Str("host", viper.GetString("db.host")).Msg("Connected to Postgres")
		return nil
	}

	m.log.Warn().Err(err).Msg("Postgres unavailable, falling back to SQLite")
	if db, err = OpenSqlite(m.SqlitePath); err != nil {
		return fmt.Errorf("sqlite fallback: %w", err)
	}
	m.DB, m.Fallback = db, true
	m.log.Info().Str("path", cmp.Or(m.SqlitePath, ":memory:")).Msg("Using SQLite")
	return nil
}

func ping(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(10)
	return sqlDB.Ping()
}

// Setup creates or updates every table in model.DatabaseModels.
func (m *Manager) Setup() error {
	if m.DB == nil {
		return errors.New("database not connected")
	}
	if err := m.DB.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	m.log.Info().Int("tables", len(model.DatabaseModels)).Bool("sqlite", m.Fallback).Msg("Schema up to date")
	return nil
}

func (m *Manager) Close() error {
	if m.DB == nil {
		return nil
	}
	sqlDB, err := m.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// PostgresDSN assembles the connection string from the db.* keys.
func PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		viper.GetString("db.host"),
		viper.GetString("db.port"),
		viper.GetString("db.username"),
		viper.GetString("db.password"),
		viper.GetString("db.database"),
	)
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        1000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	}
}

func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{DSN: dsn, PreferSimpleProtocol: true}), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	return db, nil
}

// OpenSqlite opens the database file at path, or the shared in-memory
// database when path is empty.
func OpenSqlite(path string) (*gorm.DB, error) {
	cfg := gormConfig()
	cfg.PrepareStmt = true
	db, err := gorm.Open(sqlite.Open(cmp.Or(path, MemoryDSN)), cfg)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	for _, p := range sqlitePragmas {
		if err := db.Exec("PRAGMA " + p).Error; err != nil {
			return nil, fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return db, nil
}

// VacuumInto writes a compacted copy of db to path, replacing any file
// already there.
func VacuumInto(db *gorm.DB, path string) error {
	if path == "" {
		return errors.New("sqlite file path not set")
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing old dump: %w", err)
	}
	if err := db.Exec("VACUUM INTO ?", path).Error; err != nil {
		return fmt.Errorf("vacuum into %s: %w", path, err)
	}
	return nil
}

// ListBackups returns the *.db files directly inside dir.
func ListBackups(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && filepath.Ext(e.Name()) == ".db" {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}
