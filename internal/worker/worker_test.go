package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/OCAP2/breakage/internal/breaklog"
	"github.com/OCAP2/breakage/internal/config"
	"github.com/OCAP2/breakage/internal/fade"
	"github.com/OCAP2/breakage/internal/ingest"
	"github.com/OCAP2/breakage/internal/level"
	"github.com/OCAP2/breakage/internal/sandbox"
	"github.com/OCAP2/breakage/internal/storage"
	"github.com/OCAP2/breakage/internal/storage/memory"
	"github.com/OCAP2/breakage/pkg/core"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorld() *sandbox.World {
	w := sandbox.New()
	w.AddStockMaterials()
	return w
}

func newSession(t *testing.T, w *sandbox.World, mutate func(*ingest.Config)) *ingest.Session {
	t.Helper()
	cfg := ingest.DefaultConfig()
	cfg.Fade = fade.Config{}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := ingest.New(cfg, ingest.Dependencies{
		Physics:   w,
		Renderer:  w,
		Effects:   w,
		Geometry:  w,
		Materials: w,
		Notifier:  w,
	})
	require.NoError(t, err)
	return s
}

func newManagerWith(t *testing.T, w *sandbox.World, backend storage.Backend, mutate func(*ingest.Config)) *Manager {
	t.Helper()
	m, err := NewManager(Dependencies{
		Session:  newSession(t, w, mutate),
		Physics:  w,
		Renderer: w,
		Backend:  backend,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m
}

func newManager(t *testing.T, mutate func(*ingest.Config)) (*Manager, *sandbox.World) {
	w := newWorld()
	return newManagerWith(t, w, nil, mutate), w
}

// shoot fires a light fast projectile into the -y face of a pane at x.
func shoot(pane core.PhysHandle, x float64) core.CollisionEvent {
	return sandbox.Impact(0, pane, sandbox.MatSteel, sandbox.MatGlass,
		core.V(x, -0.05, 1), core.V(0, -1, 0), 300, 0.01)
}

func hit(ctx context.Context, m *Manager, c core.CollisionEvent) {
	m.WithSession(func(s *ingest.Session) {
		s.HandleEvent(ctx, core.PhysicsEvent{Kind: core.EventCollision, Mode: core.Logged, Collision: &c})
	})
}

func TestNewManager_RequiresSession(t *testing.T) {
	w := newWorld()
	_, err := NewManager(Dependencies{Physics: w, Renderer: w})
	assert.ErrorIs(t, err, ingest.ErrMissingDependency)

	_, err = NewManager(Dependencies{Session: newSession(t, w, nil), Renderer: w})
	assert.ErrorIs(t, err, ingest.ErrMissingDependency)
}

func TestNewManager_DefaultsLevel(t *testing.T) {
	m, _ := newManager(t, nil)
	require.NotNil(t, m.Level())
	assert.Equal(t, "unloaded", m.Level().Name())
	assert.Nil(t, m.Backend())
}

func TestCacheItems_PlacementAndVisibility(t *testing.T) {
	ctx := context.Background()
	m, w := newManager(t, nil)
	near := w.AddPane(core.V(0, 0, 1))
	far := w.AddPane(core.V(50, 0, 1))
	hit(ctx, m, shoot(near, 0))
	hit(ctx, m, shoot(far, 50))

	w.AdvanceFrame(100)
	w.Draw(near)

	items := m.CacheItems(0)
	require.Len(t, items, 2)
	byOwner := map[core.PhysHandle]CacheItem{}
	for _, it := range items {
		byOwner[it.Owner] = it
	}
	assert.True(t, byOwner[near].Visible)
	assert.False(t, byOwner[far].Visible)
	assert.True(t, byOwner[far].HasStatus)
	assert.Equal(t, core.V(50, 0, 1), byOwner[far].Transform.Pos)
	assert.Positive(t, byOwner[near].SizeKB)

	assert.Len(t, m.CacheItems(1), 1)
}

func TestTick_RecordsDuration(t *testing.T) {
	m, _ := newManager(t, nil)
	m.Tick(context.Background(), time.Millisecond)
	m.WithSession(func(s *ingest.Session) {
		assert.Equal(t, time.Millisecond, s.Now())
	})
	assert.GreaterOrEqual(t, m.LastTickDuration(), time.Duration(0))
}

func TestRun_StopsOnCancel(t *testing.T) {
	m, _ := newManager(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		m.Run(ctx, time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		var now time.Duration
		m.WithSession(func(s *ingest.Session) { now = s.Now() })
		return now >= 3*time.Millisecond
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSnapshot_NoBackend(t *testing.T) {
	m, _ := newManager(t, nil)
	_, err := m.SaveSnapshot(context.Background(), breaklog.SnapshotOptions{})
	assert.ErrorIs(t, err, ErrNoBackend)
	assert.ErrorIs(t, m.LoadSnapshot(context.Background()), ErrNoBackend)
}

func TestSnapshot_SaveThenLoadIntoFreshWorld(t *testing.T) {
	ctx := context.Background()
	backend := memory.New(config.MemoryConfig{})
	require.NoError(t, backend.Init())

	w := newWorld()
	pane := w.AddPane(core.V(0, 0, 1))
	live := newManagerWith(t, w, backend, nil)
	live.Level().Set(level.Level{Name: "docks", Host: true})
	hit(ctx, live, shoot(pane, 0))

	id, err := live.SaveSnapshot(ctx, breaklog.SnapshotOptions{FreshWorld: true})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	list, err := backend.ListSnapshots(ctx, "docks")
	require.NoError(t, err)
	require.Len(t, list, 1)

	w2 := newWorld()
	pane2 := w2.AddPane(core.V(0, 0, 1))
	orig := w2.Geometry(pane2, 0)
	joined := newManagerWith(t, w2, backend, nil)
	joined.Level().Set(level.Level{Name: "docks"})
	require.NoError(t, joined.LoadSnapshot(ctx))

	assert.Equal(t, 1, joined.Stats().Events)
	assert.NotEqual(t, orig, w2.Geometry(pane2, 0))
	assert.Empty(t, w2.Broken())
}

func TestLoadSnapshot_MissingLevel(t *testing.T) {
	backend := memory.New(config.MemoryConfig{})
	require.NoError(t, backend.Init())
	m := newManagerWith(t, newWorld(), backend, nil)
	m.Level().Set(level.Level{Name: "nowhere"})

	err := m.LoadSnapshot(context.Background())
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestLoad_RejectsGarbage(t *testing.T) {
	m, _ := newManager(t, nil)
	assert.Error(t, m.Load(context.Background(), []byte("not a snapshot")))
}

type fakeWriter struct {
	mu     sync.Mutex
	points []*influxdb2_write.Point
	err    error
}

func (f *fakeWriter) WritePoint(_ context.Context, bucket string, p *influxdb2_write.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.points = append(f.points, p)
	return nil
}

func (f *fakeWriter) Bucket() string { return "breakage" }

func TestBreakRecorder_WritesPointPerBreak(t *testing.T) {
	ctx := context.Background()
	fw := &fakeWriter{}
	lvl := level.NewContext()
	lvl.Set(level.Level{Name: "docks"})

	w := newWorld()
	pane := w.AddPane(core.V(0, 0, 1))
	s := newSessionNotifying(t, w, Notifiers{w, &BreakRecorder{Writer: fw, Level: lvl}})
	m, err := NewManager(Dependencies{Session: s, Physics: w, Renderer: w, Level: lvl})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close(ctx) })

	hit(ctx, m, shoot(pane, 0))

	require.Len(t, w.Broken(), 1)
	fw.mu.Lock()
	defer fw.mu.Unlock()
	require.Len(t, fw.points, 1)
	assert.Equal(t, "breakage_event", fw.points[0].Name())
}

func TestBreakRecorder_WriteErrorIsLogged(t *testing.T) {
	fw := &fakeWriter{err: errors.New("down")}
	r := &BreakRecorder{Writer: fw, Level: level.NewContext()}
	assert.NotPanics(t, func() { r.ObjectBroke(core.BreakEvent{}, 0) })
	r.EntitySpawned(1, 2)
}

func newSessionNotifying(t *testing.T, w *sandbox.World, n core.Notifier) *ingest.Session {
	t.Helper()
	cfg := ingest.DefaultConfig()
	cfg.Fade = fade.Config{}
	s, err := ingest.New(cfg, ingest.Dependencies{
		Physics:   w,
		Renderer:  w,
		Effects:   w,
		Geometry:  w,
		Materials: w,
		Notifier:  n,
	})
	require.NoError(t, err)
	return s
}
