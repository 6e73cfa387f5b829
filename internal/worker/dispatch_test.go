package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/OCAP2/breakage/internal/dispatcher"
	"github.com/OCAP2/breakage/internal/fade"
	"github.com/OCAP2/breakage/internal/ingest"
	"github.com/OCAP2/breakage/internal/sandbox"
	"github.com/OCAP2/breakage/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements dispatcher.Logger for testing
type mockLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *mockLogger) Debug(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
}

func (l *mockLogger) Info(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
}

func (l *mockLogger) Error(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
}

func newDispatcher(t *testing.T, m *Manager) *dispatcher.Dispatcher {
	t.Helper()
	d, err := dispatcher.New(&mockLogger{})
	require.NoError(t, err)
	t.Cleanup(d.Close)
	m.RegisterHandlers(d)
	return d
}

func TestRegisterHandlers_AllKinds(t *testing.T) {
	m, _ := newManager(t, nil)
	d := newDispatcher(t, m)

	for _, kind := range EventKinds {
		assert.True(t, d.HasHandler(kind), kind.String())
	}
}

func TestDispatch_CollisionBreaksPane(t *testing.T) {
	m, w := newManager(t, nil)
	d := newDispatcher(t, m)
	pane := w.AddPane(core.V(0, 0, 1))
	orig := w.Geometry(pane, 0)

	c := shoot(pane, 0)
	veto, err := d.Dispatch(context.Background(), core.PhysicsEvent{Kind: core.EventCollision, Mode: core.Logged, Collision: &c})
	require.NoError(t, err)
	assert.False(t, veto)

	assert.Equal(t, 1, m.Stats().Events)
	assert.NotEqual(t, orig, w.Geometry(pane, 0))
}

func TestDispatch_ImmediateVetoReachesCaller(t *testing.T) {
	m, w := newManager(t, nil)
	d := newDispatcher(t, m)
	pane := w.AddPane(core.V(0, 0, 1))

	c := shoot(pane, 0)
	veto, err := d.Dispatch(context.Background(), core.PhysicsEvent{Kind: core.EventCollision, Mode: core.Immediate, Collision: &c})
	require.NoError(t, err)
	assert.True(t, veto)
	assert.Equal(t, 0, m.Stats().Events)
}

func TestDispatch_ImmediateWorkWaitsForTick(t *testing.T) {
	ctx := context.Background()
	m, w := newManager(t, nil)
	d := newDispatcher(t, m)
	pane := w.AddPane(core.V(0, 0, 1))
	g := w.NewGeometry(8 << 10)

	_, err := d.Dispatch(ctx, core.PhysicsEvent{
		Kind: core.EventUpdateMesh,
		Mode: core.Immediate,
		Part: &core.PartEvent{Handle: pane, Geometry: g},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Stats().Queued)

	m.Tick(ctx, time.Millisecond)
	assert.Equal(t, 0, m.Stats().Queued)
	assert.Equal(t, 1, m.Stats().CacheEntries)
}

func TestDispatch_JointBreakVetoedWhenDisabled(t *testing.T) {
	m, w := newManager(t, func(c *ingest.Config) { c.JointBreaking = false })
	d := newDispatcher(t, m)
	body := w.AddBody(core.PhysRigid, core.V(0, 0, 0), 0)

	veto, err := d.Dispatch(context.Background(), core.PhysicsEvent{
		Kind: core.EventStateChange,
		Mode: core.Immediate,
		Part: &core.PartEvent{Handle: body, Joint: true},
	})
	require.NoError(t, err)
	assert.True(t, veto)
}

// meshNotifyingWorld raises an immediate mesh update from inside
// SetPartGeometry, the way a physics engine reports the swap it just made.
type meshNotifyingWorld struct {
	*sandbox.World
	d      *dispatcher.Dispatcher
	raised []error
}

func (w *meshNotifyingWorld) SetPartGeometry(h core.PhysHandle, part int, g core.GeometryID) bool {
	ok := w.World.SetPartGeometry(h, part, g)
	_, err := w.d.Dispatch(context.Background(), core.PhysicsEvent{
		Kind: core.EventUpdateMesh,
		Mode: core.Immediate,
		Part: &core.PartEvent{Handle: h, PartID: part, Geometry: g},
	})
	w.raised = append(w.raised, err)
	return ok
}

func TestDispatch_ImmediateRaisedInsideSessionCall(t *testing.T) {
	ctx := context.Background()
	w := newWorld()
	phys := &meshNotifyingWorld{World: w}

	cfg := ingest.DefaultConfig()
	cfg.Fade = fade.Config{}
	s, err := ingest.New(cfg, ingest.Dependencies{
		Physics:   phys,
		Renderer:  w,
		Effects:   w,
		Geometry:  w,
		Materials: w,
	})
	require.NoError(t, err)
	m, err := NewManager(Dependencies{Session: s, Physics: phys, Renderer: w})
	require.NoError(t, err)
	phys.d = newDispatcher(t, m)

	pane := w.AddPane(core.V(0, 0, 1))
	c := shoot(pane, 0)
	done := make(chan error, 1)
	go func() {
		_, err := phys.d.Dispatch(ctx, core.PhysicsEvent{Kind: core.EventCollision, Mode: core.Logged, Collision: &c})
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("collision dispatch blocked on the session lock")
	}
	t.Cleanup(func() { _ = m.Close(ctx) })

	require.Len(t, phys.raised, 1)
	assert.NoError(t, phys.raised[0])
	assert.Equal(t, 1, m.Stats().Events)
	assert.Equal(t, 1, m.Stats().Queued)

	m.Tick(ctx, time.Millisecond)
	assert.Equal(t, 0, m.Stats().Queued)
	assert.Equal(t, 1, m.Stats().CacheEntries)
}

func TestNotifiers_FanOut(t *testing.T) {
	a, b := sandbox.New(), sandbox.New()
	n := Notifiers{a, nil, b}

	n.ObjectBroke(core.BreakEvent{Kind: core.BreakDeform}, 4)
	n.EntitySpawned(7, 3)

	for _, w := range []*sandbox.World{a, b} {
		require.Len(t, w.Broken(), 1)
		require.Len(t, w.Spawned(), 1)
		assert.Equal(t, [2]core.PhysHandle{7, 3}, w.Spawned()[0])
	}
}
