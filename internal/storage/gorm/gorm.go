// Package gormstorage implements storage.Backend on any GORM dialect. The
// sqlite and postgres backends embed it and only differ in how the
// connection is opened.
package gormstorage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/OCAP2/breakage/internal/breaklog"
	"github.com/OCAP2/breakage/internal/model"
	"github.com/OCAP2/breakage/internal/storage"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Backend stores snapshots as rows of break_snapshots.
type Backend struct {
	db     *gorm.DB
	logger *slog.Logger
	host   string
}

// New wraps an open connection. The caller keeps ownership of db until
// Close.
func New(db *gorm.DB, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	host, _ := os.Hostname()
	return &Backend{db: db, logger: logger, host: host}
}

// DB exposes the connection.
func (b *Backend) DB() *gorm.DB {
	return b.db
}

// Init migrates the schema.
func (b *Backend) Init() error {
	if b.db == nil {
		return fmt.Errorf("gorm backend has no database")
	}
	if err := b.db.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (b *Backend) Close() error {
	if b.db == nil {
		return nil
	}
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveSnapshot inserts a new row for level.
func (b *Backend) SaveSnapshot(ctx context.Context, level string, data []byte) (string, error) {
	sum := sha256.Sum256(data)
	meta, err := json.Marshal(model.SnapshotMeta{SHA256: hex.EncodeToString(sum[:]), Host: b.host})
	if err != nil {
		return "", fmt.Errorf("marshal snapshot meta: %w", err)
	}
	row := model.Snapshot{
		ID:            uuid.NewString(),
		Level:         level,
		CreatedAt:     time.Now().UTC(),
		FormatVersion: breaklog.FormatVersion,
		Size:          len(data),
		Data:          data,
		Meta:          datatypes.JSON(meta),
	}
	if err := b.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", fmt.Errorf("insert snapshot for %s: %w", level, err)
	}
	b.logger.Debug("Snapshot saved", "level", level, "id", row.ID, "size", row.Size)
	return row.ID, nil
}

// LoadSnapshot returns the newest row for level.
func (b *Backend) LoadSnapshot(ctx context.Context, level string) ([]byte, error) {
	var row model.Snapshot
	err := b.db.WithContext(ctx).
		Where("level = ?", level).
		Order("created_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: level %s", storage.ErrNotFound, level)
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot for %s: %w", level, err)
	}
	return row.Data, nil
}

// ListSnapshots returns metadata for every row of level, newest first.
func (b *Backend) ListSnapshots(ctx context.Context, level string) ([]storage.SnapshotInfo, error) {
	var rows []model.Snapshot
	err := b.db.WithContext(ctx).
		Select("id", "level", "created_at", "size").
		Where("level = ?", level).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list snapshots for %s: %w", level, err)
	}
	out := make([]storage.SnapshotInfo, 0, len(rows))
	for _, r := range rows {
		out = append(out, storage.SnapshotInfo{ID: r.ID, Level: r.Level, CreatedAt: r.CreatedAt, Size: r.Size})
	}
	return out, nil
}

// RecordTick stores a performance sample.
func (b *Backend) RecordTick(ctx context.Context, s storage.TickSample) error {
	row := model.TickPerformance{
		Time:         s.Time,
		Level:        s.Level,
		Events:       s.Events,
		Objects:      s.Objects,
		Pending:      s.Pending,
		CacheKB:      s.CacheKB,
		BudgetKB:     s.BudgetKB,
		TreeCounter:  s.TreeCounter,
		GlassCounter: s.GlassCounter,
	}
	if err := b.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert tick sample: %w", err)
	}
	return nil
}
