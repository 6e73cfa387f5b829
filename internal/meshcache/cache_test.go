package meshcache

import (
	"testing"
	"time"

	"github.com/OCAP2/breakage/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePart struct {
	entity   core.EntityID
	pos      core.Vec3
	drawn    uint64
	geometry core.GeometryID
	updating bool
}

type fakeWorld struct {
	frame    uint64
	parts    map[core.PhysHandle]*fakePart
	sizes    map[core.GeometryID]int
	reverted map[Key]core.GeometryID
	removed  []Key
	spawned  []string
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{
		frame:    100,
		parts:    make(map[core.PhysHandle]*fakePart),
		sizes:    make(map[core.GeometryID]int),
		reverted: make(map[Key]core.GeometryID),
	}
}

func (w *fakeWorld) add(h core.PhysHandle, dist float64, drawn uint64) {
	w.parts[h] = &fakePart{entity: core.EntityID(h * 10), pos: core.V(dist, 0, 0), drawn: drawn}
}

func (w *fakeWorld) Exists(h core.PhysHandle) bool { _, ok := w.parts[h]; return ok }

func (w *fakeWorld) Status(h core.PhysHandle, part int) (core.PartStatus, bool) {
	p, ok := w.parts[h]
	if !ok {
		return core.PartStatus{}, false
	}
	return core.PartStatus{
		Handle:       h,
		Entity:       p.entity,
		Transform:    core.Transform{Pos: p.pos, Rot: core.IdentityQuat(), Scale: 1},
		Geometry:     p.geometry,
		MeshUpdating: p.updating,
	}, true
}

func (w *fakeWorld) Resolve(id core.EntityID) (core.PhysHandle, bool) {
	for h, p := range w.parts {
		if p.entity == id {
			return h, true
		}
	}
	return 0, false
}

func (w *fakeWorld) SetPartGeometry(h core.PhysHandle, part int, g core.GeometryID) bool {
	w.reverted[Key{Owner: h, Part: part}] = g
	return true
}

func (w *fakeWorld) RemovePart(h core.PhysHandle, part int) bool {
	w.removed = append(w.removed, Key{Owner: h, Part: part})
	return true
}

func (w *fakeWorld) ViewerPosition() core.Vec3 { return core.Vec3{} }

func (w *fakeWorld) Frame() uint64 { return w.frame }

func (w *fakeWorld) LastDrawFrame(h core.PhysHandle) uint64 {
	if p, ok := w.parts[h]; ok {
		return p.drawn
	}
	return 0
}

func (w *fakeWorld) Footprint(g core.GeometryID) core.Footprint {
	return core.Footprint{MeshBytes: w.sizes[g] << 10}
}

func (w *fakeWorld) Spawn(name string, at, normal core.Vec3) {
	w.spawned = append(w.spawned, name)
}

func newTestCache(w *fakeWorld, cfg Config) *Cache {
	return New(cfg, Dependencies{World: w, View: w, Sizer: w, Effects: w})
}

// scenario: five static meshes with room for three
func registerFive(t *testing.T, c *Cache, w *fakeWorld) []Key {
	t.Helper()
	w.add(1, 10, 99) // visible
	w.add(2, 50, 10) // hidden, far
	w.add(3, 20, 10) // hidden, near
	w.add(4, 100, 99)
	w.add(5, 5, 10)
	var evicted []Key
	for h := core.PhysHandle(1); h <= 5; h++ {
		g := core.GeometryID(h + 100)
		w.sizes[g] = 10
		evicted = append(evicted, c.Register(h, 0, g, RegisterOptions{})...)
	}
	return evicted
}

func TestRegister_EvictsFarthestLeastVisibleFirst(t *testing.T) {
	w := newFakeWorld()
	c := newTestCache(w, Config{BudgetKB: 30, VisibilityFrames: 10, Order: OrderVisibility})

	evicted := registerFive(t, c, w)

	assert.Equal(t, []Key{{Owner: 2}, {Owner: 3}}, evicted)
	assert.Equal(t, 30, c.Total())
	assert.Equal(t, 3, c.Len())
	assert.Len(t, w.removed, 2)
}

func TestRegister_DistanceOrderIgnoresVisibility(t *testing.T) {
	w := newFakeWorld()
	c := newTestCache(w, Config{BudgetKB: 30, VisibilityFrames: 10, Order: OrderDistance})

	evicted := registerFive(t, c, w)

	assert.Equal(t, []Key{{Owner: 2}, {Owner: 4}}, evicted)
}

func TestRegister_TotalMatchesEntries(t *testing.T) {
	w := newFakeWorld()
	c := newTestCache(w, Config{BudgetKB: 25, VisibilityFrames: 10})
	for h := core.PhysHandle(1); h <= 8; h++ {
		w.add(h, float64(h), uint64(h*20))
		g := core.GeometryID(h)
		w.sizes[g] = int(h)*3 + 1
		c.Register(h, 0, g, RegisterOptions{})

		sum := 0
		for _, e := range c.Entries() {
			sum += e.SizeKB
		}
		assert.Equal(t, sum, c.Total())
		assert.LessOrEqual(t, c.Total(), 25)
	}
}

func TestRegister_NothingEvictableLeavesBudgetExceeded(t *testing.T) {
	w := newFakeWorld()
	c := newTestCache(w, Config{BudgetKB: 10, VisibilityFrames: 10})
	w.add(1, 10, 0)
	w.add(2, 10, 0)
	w.parts[1].updating = true
	w.sizes[1], w.sizes[2] = 10, 10

	c.Register(1, 0, 1, RegisterOptions{})
	evicted := c.Register(2, 0, 2, RegisterOptions{})

	assert.Empty(t, evicted)
	assert.Equal(t, 20, c.Total())
}

func TestRegister_SameSizeIsNoOpAndResizeSupersedes(t *testing.T) {
	w := newFakeWorld()
	c := newTestCache(w, Config{BudgetKB: 100})
	w.add(1, 0, 0)
	w.sizes[1], w.sizes[2], w.sizes[3] = 4, 4, 9

	var reasons []Reason
	c.OnFree(func(e Entry, r Reason) { reasons = append(reasons, r) })

	c.Register(1, 0, 1, RegisterOptions{})
	c.Register(1, 0, 2, RegisterOptions{})
	e, ok := c.Get(Key{Owner: 1})
	require.True(t, ok)
	assert.Equal(t, core.GeometryID(1), e.Geometry)
	assert.Empty(t, reasons)

	c.Register(1, 0, 3, RegisterOptions{})
	assert.Equal(t, 9, c.Total())
	assert.Equal(t, []Reason{Superseded}, reasons)

	c.Register(1, 0, 0, RegisterOptions{})
	assert.Equal(t, 0, c.Total())
	assert.Equal(t, 0, c.Len())
}

func TestRegister_DisabledWithoutBudgetOrTimeout(t *testing.T) {
	w := newFakeWorld()
	c := newTestCache(w, Config{})
	w.add(1, 0, 0)
	w.sizes[1] = 4
	c.Register(1, 0, 1, RegisterOptions{})
	assert.Equal(t, 0, c.Len())

	c.Register(1, 0, 1, RegisterOptions{Timeout: time.Second})
	assert.Equal(t, 1, c.Len())
}

func TestRegister_DropsStaleOwners(t *testing.T) {
	w := newFakeWorld()
	c := newTestCache(w, Config{BudgetKB: 10, VisibilityFrames: 10})
	w.add(1, 0, 0)
	w.add(2, 0, 0)
	w.sizes[1], w.sizes[2] = 8, 8
	c.Register(1, 0, 1, RegisterOptions{})
	delete(w.parts, 1)

	evicted := c.Register(2, 0, 2, RegisterOptions{})
	assert.Empty(t, evicted)
	assert.Equal(t, 8, c.Total())
	assert.Empty(t, w.removed)
}

func TestUpdate_ExpiresAndSpawnsFX(t *testing.T) {
	w := newFakeWorld()
	c := newTestCache(w, Config{})
	w.add(1, 0, 0)
	w.parts[1].geometry = 50
	w.sizes[1] = 2

	c.Register(1, 0, 1, RegisterOptions{Timeout: 2 * time.Second, FX: "glass_shards"})
	assert.Empty(t, c.Update(time.Second))
	assert.Equal(t, []Key{{Owner: 1}}, c.Update(1500*time.Millisecond))
	assert.Equal(t, []string{"glass_shards"}, w.spawned)
	assert.Equal(t, core.GeometryID(50), w.reverted[Key{Owner: 1}])
	assert.Equal(t, 0, c.Total())
}

func TestJournal_ReplayReproducesEvictions(t *testing.T) {
	w := newFakeWorld()
	c := newTestCache(w, Config{BudgetKB: 30, VisibilityFrames: 10})
	live := registerFive(t, c, w)
	journal := c.Journal()

	w2 := newFakeWorld()
	loaded := newTestCache(w2, Config{BudgetKB: 30, VisibilityFrames: 10})
	loaded.SetJournal(journal)
	for h := core.PhysHandle(1); h <= 5; h++ {
		w2.add(h, 0, 0) // scoring inputs differ; the journal decides
		g := core.GeometryID(h + 100)
		w2.sizes[g] = 10
	}
	var replayed []Key
	for h := core.PhysHandle(1); h <= 5; h++ {
		replayed = append(replayed, loaded.Register(h, 0, core.GeometryID(h+100), RegisterOptions{Loading: true, Authoritative: true})...)
	}
	assert.Equal(t, live, replayed)
}

func TestFreeOwnerAndTop(t *testing.T) {
	w := newFakeWorld()
	c := newTestCache(w, Config{BudgetKB: 100})
	w.add(1, 0, 0)
	w.add(2, 0, 0)
	w.sizes[1], w.sizes[2], w.sizes[3] = 3, 7, 5
	c.Register(1, 0, 1, RegisterOptions{})
	c.Register(2, 0, 2, RegisterOptions{})
	c.Register(1, 1, 3, RegisterOptions{})

	top := c.Top(2)
	require.Len(t, top, 2)
	assert.Equal(t, 7, top[0].SizeKB)
	assert.Equal(t, 5, top[1].SizeKB)

	assert.Equal(t, 2, c.FreeOwner(1))
	assert.Equal(t, 7, c.Total())
}

func TestParseOrder(t *testing.T) {
	o, err := ParseOrder("")
	require.NoError(t, err)
	assert.Equal(t, OrderVisibility, o)
	_, err = ParseOrder("random")
	assert.Error(t, err)
}
