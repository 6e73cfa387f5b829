package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a level has no stored snapshot.
var ErrNotFound = errors.New("snapshot not found")

// ErrUnsupported is returned by write-only backends for reads.
var ErrUnsupported = errors.New("operation not supported by backend")

// SnapshotInfo describes one stored snapshot.
type SnapshotInfo struct {
	ID        string    `json:"id"`
	Level     string    `json:"level"`
	CreatedAt time.Time `json:"createdAt"`
	Size      int       `json:"size"`
}

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// SaveSnapshot stores an encoded break snapshot and returns its id.
	SaveSnapshot(ctx context.Context, level string, data []byte) (string, error)
	// LoadSnapshot returns the newest snapshot for level.
	LoadSnapshot(ctx context.Context, level string) ([]byte, error)
	// ListSnapshots returns the snapshots for level, newest first.
	ListSnapshots(ctx context.Context, level string) ([]SnapshotInfo, error)
}

// TickSample is one periodic reading of session load.
type TickSample struct {
	Time         time.Time
	Level        string
	Events       int
	Objects      int
	Pending      int
	CacheKB      int
	BudgetKB     int
	TreeCounter  float64
	GlassCounter float64
}

// TickRecorder is an optional interface for backends that can keep
// performance samples.
type TickRecorder interface {
	RecordTick(ctx context.Context, s TickSample) error
}
