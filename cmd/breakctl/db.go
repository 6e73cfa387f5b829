package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/OCAP2/breakage/internal/config"
	"github.com/OCAP2/breakage/internal/database"
	"github.com/OCAP2/breakage/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const migrateBatchSize = 500

// setupDB connects to the configured database and migrates the schema.
func setupDB() error {
	dbm := database.NewManager(ZLogger, config.GetStorageConfig().SQLite.Path)
	if err := dbm.Connect(); err != nil {
		return err
	}
	defer dbm.Close()
	return dbm.Setup()
}

// backupDirs lists the directories sqlite backups are written to.
func backupDirs() []string {
	dirs := []string{config.GetLoggingConfig().Dir}
	if p := config.GetStorageConfig().SQLite.Path; p != "" {
		if d := filepath.Dir(p); d != dirs[0] {
			dirs = append(dirs, d)
		}
	}
	return dirs
}

// migrateBackups copies every row of the sqlite backups into Postgres, one
// transaction per file. Migrated files are renamed with a .migrated suffix.
func migrateBackups(ctx context.Context) error {
	var sqlitePaths []string
	for _, dir := range backupDirs() {
		paths, err := database.ListBackups(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("error getting backup database paths: %w", err)
		}
		sqlitePaths = append(sqlitePaths, paths...)
	}
	if len(sqlitePaths) == 0 {
		Logger.Info("No sqlite backups found", "dirs", backupDirs())
		return nil
	}

	postgresDB, err := database.OpenPostgres(database.PostgresDSN())
	if err != nil {
		return fmt.Errorf("error getting postgres database: %w", err)
	}
	if err := postgresDB.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	successfulMigrations := make([]string, 0, len(sqlitePaths))
	for _, sqlitePath := range sqlitePaths {
		if err := migrateFile(ctx, sqlitePath, postgresDB); err != nil {
			return err
		}
		if err := os.Rename(sqlitePath, sqlitePath+".migrated"); err != nil {
			Logger.Error("Error renaming sqlite file", "error", err)
		}
		successfulMigrations = append(successfulMigrations, sqlitePath)
	}

	Logger.Info("Successfully migrated backups",
		"count", len(successfulMigrations),
		"paths", successfulMigrations)
	return nil
}

func migrateFile(ctx context.Context, sqlitePath string, postgresDB *gorm.DB) error {
	sqliteDB, err := database.OpenSqlite(sqlitePath)
	if err != nil {
		return fmt.Errorf("error getting sqlite database: %w", err)
	}
	defer func() {
		if conn, err := sqliteDB.DB(); err == nil {
			_ = conn.Close()
		}
	}()

	return postgresDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := migrateTable(sqliteDB, tx, "break_snapshots", func(*model.Snapshot) {}); err != nil {
			return fmt.Errorf("error migrating break_snapshots from %s: %w", sqlitePath, err)
		}
		// performance rows get fresh ids on the Postgres side
		if err := migrateTable(sqliteDB, tx, "tick_performances", func(r *model.TickPerformance) { r.ID = 0 }); err != nil {
			return fmt.Errorf("error migrating tick_performances from %s: %w", sqlitePath, err)
		}
		return nil
	})
}

// migrateTable copies every row of M from src to dst in batches. prepare
// runs on a copy of each row before insert. Rows that already exist are
// skipped.
func migrateTable[M any](src, dst *gorm.DB, tableName string, prepare func(*M)) error {
	var tableModel M
	if !src.Migrator().HasTable(&tableModel) {
		return nil
	}

	var rows []M
	total := 0
	res := src.Model(&tableModel).FindInBatches(&rows, migrateBatchSize, func(_ *gorm.DB, _ int) error {
		batch := make([]M, len(rows))
		copy(batch, rows)
		for i := range batch {
			prepare(&batch[i])
		}
		if err := dst.Clauses(clause.OnConflict{DoNothing: true}).Create(&batch).Error; err != nil {
			return err
		}
		total += len(batch)
		return nil
	})
	if res.Error != nil {
		return res.Error
	}
	Logger.Info("Migrated records", "count", total, "table", tableName)
	return nil
}
