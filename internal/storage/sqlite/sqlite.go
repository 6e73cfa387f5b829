// Package sqlitestorage implements the storage.Backend interface on SQLite.
// With a dump interval it keeps the database in memory and periodically
// copies it to Path via VACUUM INTO; otherwise it opens Path directly.
package sqlitestorage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/OCAP2/breakage/internal/database"
	gormstorage "github.com/OCAP2/breakage/internal/storage/gorm"

	"gorm.io/gorm"
)

// Config holds configuration for the SQLite storage backend.
type Config struct {
	Path         string
	DumpInterval time.Duration
}

// Backend is the gorm backend on SQLite plus the optional dump loop.
type Backend struct {
	*gormstorage.Backend
	db  *gorm.DB
	cfg Config
	log *slog.Logger

	stop context.CancelFunc
	done chan struct{}
}

func New(cfg Config, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	path := cfg.Path
	if cfg.DumpInterval > 0 {
		path = ""
	}
	db, err := database.OpenSqlite(path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite storage: %w", err)
	}
	return &Backend{Backend: gormstorage.New(db, logger), db: db, cfg: cfg, log: logger}, nil
}

func (b *Backend) dumping() bool {
	return b.cfg.Path != "" && b.cfg.DumpInterval > 0
}

func (b *Backend) Init() error {
	if err := b.Backend.Init(); err != nil {
		return err
	}
	if b.dumping() && b.stop == nil {
		ctx, stop := context.WithCancel(context.Background())
		b.stop, b.done = stop, make(chan struct{})
		go b.dumpEvery(ctx, b.cfg.DumpInterval)
	}
	return nil
}

// Close stops the dump loop, writes a last dump and closes the database.
func (b *Backend) Close() error {
	if b.stop != nil {
		b.stop()
		<-b.done
		b.stop = nil
	}
	if b.dumping() {
		if err := b.Dump(); err != nil {
			b.log.Error("Final SQLite dump failed", "path", b.cfg.Path, "error", err)
		}
	}
	return b.Backend.Close()
}

// Dump copies the in-memory database to Path.
func (b *Backend) Dump() error {
	return database.VacuumInto(b.db, b.cfg.Path)
}

func (b *Backend) dumpEvery(ctx context.Context, every time.Duration) {
	defer close(b.done)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		start := time.Now()
		if err := b.Dump(); err != nil {
			b.log.Error("SQLite dump failed", "path", b.cfg.Path, "error", err)
			continue
		}
		b.log.Debug("SQLite dumped", "path", b.cfg.Path, "took", time.Since(start))
	}
}
