// Package worker owns the breakage session for the loaded level. Every call
// into the session goes through the Manager so physics callbacks, the tick
// loop and snapshot I/O never overlap.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/OCAP2/breakage/internal/breaklog"
	"github.com/OCAP2/breakage/internal/ingest"
	"github.com/OCAP2/breakage/internal/level"
	"github.com/OCAP2/breakage/internal/meshcache"
	"github.com/OCAP2/breakage/internal/storage"
	"github.com/OCAP2/breakage/pkg/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrNoBackend is returned by snapshot operations when no storage backend is
// configured.
var ErrNoBackend = errors.New("no storage backend")

// Dependencies holds all dependencies for the worker manager
type Dependencies struct {
	Session  *ingest.Session
	Physics  core.Physics
	Renderer core.Renderer
	// Backend is optional; snapshot operations fail with ErrNoBackend
	// without one.
	Backend storage.Backend
	Level   *level.Context
	Logger  *slog.Logger
}

// Manager serializes access to the session.
type Manager struct {
	mu      sync.Mutex
	session *ingest.Session
	deps    Dependencies
	log     *slog.Logger
	inst    instruments

	lastTick time.Duration
}

// NewManager creates a new worker manager
func NewManager(deps Dependencies) (*Manager, error) {
	switch {
	case deps.Session == nil:
		return nil, errors.Join(ingest.ErrMissingDependency, errors.New("session"))
	case deps.Physics == nil:
		return nil, errors.Join(ingest.ErrMissingDependency, errors.New("physics"))
	case deps.Renderer == nil:
		return nil, errors.Join(ingest.ErrMissingDependency, errors.New("renderer"))
	}
	if deps.Level == nil {
		deps.Level = level.NewContext()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		session: deps.Session,
		deps:    deps,
		log:     logger.With("component", "worker"),
		inst:    newInstruments(),
	}, nil
}

// Level returns the level context shared with the monitor.
func (m *Manager) Level() *level.Context {
	return m.deps.Level
}

// Backend returns the configured storage backend, or nil.
func (m *Manager) Backend() storage.Backend {
	return m.deps.Backend
}

// WithSession runs fn while holding the session lock.
func (m *Manager) WithSession(fn func(s *ingest.Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.session)
}

// Tick advances the session by dt.
func (m *Manager) Tick(ctx context.Context, dt time.Duration) {
	m.mu.Lock()
	start := time.Now()
	m.session.Tick(ctx, dt)
	took := time.Since(start)
	m.lastTick = took
	m.mu.Unlock()
	m.inst.tickDuration.Record(ctx, took.Seconds())
}

// Run ticks the session every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second / 60
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.log.Info("tick loop started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			m.log.Info("tick loop stopped")
			return
		case <-ticker.C:
			m.Tick(ctx, interval)
		}
	}
}

// LastTickDuration returns the wall time the previous Tick took.
func (m *Manager) LastTickDuration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastTick
}

// Stats summarizes the session.
func (m *Manager) Stats() ingest.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Stats()
}

// CacheItem is one broken mesh as seen by the monitor.
type CacheItem struct {
	meshcache.Entry
	Transform core.Transform
	BBox      core.BBox
	Visible   bool
	HasStatus bool
}

// CacheItems returns the broken-mesh cache with placement and visibility.
// When n is positive only the n largest entries are returned.
func (m *Manager) CacheItems(n int) []CacheItem {
	m.mu.Lock()
	defer m.mu.Unlock()

	cache := m.session.MeshCache()
	var entries []meshcache.Entry
	if n > 0 {
		entries = cache.Top(n)
	} else {
		entries = cache.Entries()
	}

	frames := m.session.Config().Mesh.VisibilityFrames
	frame := m.deps.Renderer.Frame()
	out := make([]CacheItem, 0, len(entries))
	for _, e := range entries {
		item := CacheItem{Entry: e}
		if st, ok := m.deps.Physics.Status(e.Owner, e.Part); ok {
			item.Transform = st.Transform
			item.BBox = st.BBox
			item.HasStatus = true
		}
		drawn := m.deps.Renderer.LastDrawFrame(e.Owner)
		item.Visible = drawn <= frame && frame-drawn < frames
		out = append(out, item)
	}
	return out
}

// Snapshot captures the current break history.
func (m *Manager) Snapshot(opts breaklog.SnapshotOptions) *breaklog.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Snapshot(opts)
}

// SaveSnapshot encodes the break history and stores it under the current
// level name.
func (m *Manager) SaveSnapshot(ctx context.Context, opts breaklog.SnapshotOptions) (string, error) {
	if m.deps.Backend == nil {
		return "", ErrNoBackend
	}
	snap := m.Snapshot(opts)
	data, err := breaklog.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	name := m.deps.Level.Name()
	id, err := m.deps.Backend.SaveSnapshot(ctx, name, data)
	if err != nil {
		return "", fmt.Errorf("save snapshot for %s: %w", name, err)
	}
	m.inst.snapshots.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", "save")))
	m.log.Info("snapshot saved", "level", name, "id", id, "events", len(snap.Events), "bytes", len(data))
	return id, nil
}

// LoadSnapshot fetches the newest snapshot for the current level and
// rebuilds the world from it.
func (m *Manager) LoadSnapshot(ctx context.Context) error {
	if m.deps.Backend == nil {
		return ErrNoBackend
	}
	name := m.deps.Level.Name()
	data, err := m.deps.Backend.LoadSnapshot(ctx, name)
	if err != nil {
		return fmt.Errorf("load snapshot for %s: %w", name, err)
	}
	return m.Load(ctx, data)
}

// Load decodes data and installs it into the session.
func (m *Manager) Load(ctx context.Context, data []byte) error {
	snap, err := breaklog.Unmarshal(data)
	if err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.session.Load(ctx, snap); err != nil {
		return err
	}
	m.inst.snapshots.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", "load")))
	return nil
}

// Close shuts the session down.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Close(ctx)
}
