// Package sandbox is a small deterministic world implementing every
// collaborator the breakage session drives. It backs the tests and the
// breakctl simulate command.
package sandbox

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/OCAP2/breakage/pkg/core"
)

// Body describes an entity to add.
type Body struct {
	Type       core.PhysType
	Transform  core.Transform
	BBox       core.BBox
	Volume     float64
	Wheels     int
	Vegetation bool
	// GeometryBytes sizes part 0. Zero gives a 4 KB mesh.
	GeometryBytes int
	// Geometry shares an existing mesh instead of creating one.
	Geometry core.GeometryID
	// Generated marks part 0 as produced by an earlier break.
	Generated bool
}

type part struct {
	geometry  core.GeometryID
	removed   bool
	generated bool
}

type entity struct {
	handle     core.PhysHandle
	id         core.EntityID
	body       Body
	parts      map[int]*part
	collisions bool
	opacity    float64
	updating   bool
}

// Broke is one ObjectBroke notification.
type Broke struct {
	Index int
	Event core.BreakEvent
}

// World is safe for concurrent use so extractions may run on workers.
type World struct {
	mu sync.Mutex

	nextHandle core.PhysHandle
	nextEntity core.EntityID
	nextGeom   core.GeometryID

	entities map[core.PhysHandle]*entity
	byID     map[core.EntityID]core.PhysHandle
	sizes    map[core.GeometryID]int
	released map[core.GeometryID]int
	hidden   map[core.GeometryID]bool
	mats     map[int]core.Material

	viewer   core.Vec3
	frame    uint64
	lastDraw map[core.PhysHandle]uint64

	effects []string
	broke   []Broke
	spawned [][2]core.PhysHandle
	deforms int
	clones  int

	extracts atomic.Int64
	// Gate, when set, blocks every extraction until it is closed.
	Gate chan struct{}
}

// New returns an empty world.
func New() *World {
	return &World{
		entities: make(map[core.PhysHandle]*entity),
		byID:     make(map[core.EntityID]core.PhysHandle),
		sizes:    make(map[core.GeometryID]int),
		released: make(map[core.GeometryID]int),
		hidden:   make(map[core.GeometryID]bool),
		mats:     make(map[int]core.Material),
		lastDraw: make(map[core.PhysHandle]uint64),
	}
}

func (w *World) newGeometry(size int) core.GeometryID {
	w.nextGeom++
	w.sizes[w.nextGeom] = size
	return w.nextGeom
}

// NewGeometry registers a mesh of the given byte size.
func (w *World) NewGeometry(size int) core.GeometryID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.newGeometry(size)
}

// Add creates an entity with one part and returns its handle.
func (w *World) Add(body Body) core.PhysHandle {
	w.mu.Lock()
	defer w.mu.Unlock()
	if body.Geometry != 0 {
		return w.add(body, body.Geometry, body.Generated)
	}
	if body.GeometryBytes == 0 {
		body.GeometryBytes = 4 << 10
	}
	return w.add(body, w.newGeometry(body.GeometryBytes), body.Generated)
}

func (w *World) add(body Body, g core.GeometryID, generated bool) core.PhysHandle {
	w.nextHandle++
	w.nextEntity++
	e := &entity{
		handle:     w.nextHandle,
		id:         w.nextEntity,
		body:       body,
		parts:      map[int]*part{0: {geometry: g, generated: generated}},
		collisions: true,
		opacity:    1,
	}
	w.entities[e.handle] = e
	w.byID[e.id] = e.handle
	return e.handle
}

// AddMaterial registers a material under its id.
func (w *World) AddMaterial(m core.Material) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.mats[m.ID] = m
}

// Material implements core.MaterialLibrary.
func (w *World) Material(id int) (core.Material, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	m, ok := w.mats[id]
	return m, ok
}

// Destroy removes an entity as if the game deleted it.
func (w *World) Destroy(h core.PhysHandle) {
	w.Remove(h)
}

// SetMeshUpdating flags an entity's parts as still being rebuilt.
func (w *World) SetMeshUpdating(h core.PhysHandle, updating bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e, ok := w.entities[h]; ok {
		e.updating = updating
	}
}

// Status implements core.Physics.
func (w *World) Status(h core.PhysHandle, partID int) (core.PartStatus, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entities[h]
	if !ok {
		return core.PartStatus{}, false
	}
	p, ok := e.parts[partID]
	if !ok || p.removed {
		return core.PartStatus{}, false
	}
	return core.PartStatus{
		Handle:       h,
		Entity:       e.id,
		Type:         e.body.Type,
		Transform:    e.body.Transform,
		BBox:         e.body.BBox,
		Geometry:     p.geometry,
		Volume:       e.body.Volume,
		Wheels:       e.body.Wheels,
		MeshUpdating: e.updating,
		Vegetation:   e.body.Vegetation,
		Generated:    p.generated,
	}, true
}

// Exists implements core.Physics.
func (w *World) Exists(h core.PhysHandle) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.entities[h]
	return ok
}

// Resolve implements core.Physics.
func (w *World) Resolve(id core.EntityID) (core.PhysHandle, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	h, ok := w.byID[id]
	return h, ok
}

// Deform replaces part 0 with a larger dented mesh.
func (w *World) Deform(h core.PhysHandle, point, dir core.Vec3, size float64, flags core.DeformFlags) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entities[h]
	if !ok {
		return false
	}
	p := e.parts[0]
	p.geometry = w.newGeometry(w.sizes[p.geometry] + 1<<10)
	w.deforms++
	return true
}

// SetPartGeometry implements core.Physics.
func (w *World) SetPartGeometry(h core.PhysHandle, partID int, g core.GeometryID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entities[h]
	if !ok {
		return false
	}
	p, ok := e.parts[partID]
	if !ok {
		p = &part{}
		e.parts[partID] = p
	}
	p.geometry = g
	p.removed = false
	return true
}

// RemovePart implements core.Physics.
func (w *World) RemovePart(h core.PhysHandle, partID int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entities[h]
	if !ok {
		return false
	}
	p, ok := e.parts[partID]
	if !ok {
		return false
	}
	p.removed = true
	return true
}

// SpawnFragment implements core.Physics.
func (w *World) SpawnFragment(src core.PhysHandle, partID int, g core.GeometryID, at core.Transform) (core.PhysHandle, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.entities[src]; !ok {
		return 0, false
	}
	return w.add(Body{Type: core.PhysRigid, Transform: at}, g, true), true
}

// ClonePieces copies the listed parts of src onto dst.
func (w *World) ClonePieces(src core.PhysHandle, pieces []int, dst core.PhysHandle) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.entities[src]
	if !ok {
		return false
	}
	d, ok := w.entities[dst]
	if !ok {
		return false
	}
	for _, id := range pieces {
		if p, ok := s.parts[id]; ok {
			d.parts[id] = &part{geometry: p.geometry, generated: true}
		}
	}
	w.clones++
	return true
}

// DisableCollisions implements core.Physics.
func (w *World) DisableCollisions(h core.PhysHandle) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e, ok := w.entities[h]; ok {
		e.collisions = false
	}
}

// Remove implements core.Physics.
func (w *World) Remove(h core.PhysHandle) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e, ok := w.entities[h]; ok {
		delete(w.byID, e.id)
		delete(w.entities, h)
	}
}

// ViewerPosition implements core.Renderer.
func (w *World) ViewerPosition() core.Vec3 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.viewer
}

// SetViewer moves the camera.
func (w *World) SetViewer(p core.Vec3) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.viewer = p
}

// Frame implements core.Renderer.
func (w *World) Frame() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frame
}

// AdvanceFrame moves the render clock by n frames.
func (w *World) AdvanceFrame(n uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frame += n
}

// Draw marks h as rendered in the current frame.
func (w *World) Draw(h core.PhysHandle) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastDraw[h] = w.frame
}

// LastDrawFrame implements core.Renderer.
func (w *World) LastDrawFrame(h core.PhysHandle) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastDraw[h]
}

// SetOpacity implements core.Renderer.
func (w *World) SetOpacity(h core.PhysHandle, alpha float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e, ok := w.entities[h]; ok {
		e.opacity = alpha
	}
}

// SetHidden implements core.Renderer.
func (w *World) SetHidden(g core.GeometryID, hidden bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if hidden {
		w.hidden[g] = true
	} else {
		delete(w.hidden, g)
	}
}

// Hidden reports whether g is hidden.
func (w *World) Hidden(g core.GeometryID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hidden[g]
}

// Spawn implements core.Effects.
func (w *World) Spawn(name string, at, normal core.Vec3) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.effects = append(w.effects, name)
}

// ExtractIsland splits a mesh deterministically: the remainder grows by
// 2 KB and the fragment is 1 KB. Auto-shatter yields no remainder.
func (w *World) ExtractIsland(ctx context.Context, req core.IslandRequest) (core.IslandResult, error) {
	w.extracts.Add(1)
	if gate := w.Gate; gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return core.IslandResult{}, ctx.Err()
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	size, ok := w.sizes[req.Geometry]
	if !ok || size == 0 {
		return core.IslandResult{Empty: true}, nil
	}
	res := core.IslandResult{Fragment: w.newGeometry(1 << 10)}
	if !req.AutoShatter {
		res.Remainder = w.newGeometry(size + 2<<10)
	}
	return res, nil
}

// ProcessPlaneImpact returns the precomputed island when present.
func (w *World) ProcessPlaneImpact(ctx context.Context, req core.PlaneImpact) (core.IslandResult, error) {
	if req.Island != nil {
		return *req.Island, nil
	}
	return w.ExtractIsland(ctx, req.IslandRequest)
}

// Footprint implements core.GeometryService.
func (w *World) Footprint(g core.GeometryID) core.Footprint {
	w.mu.Lock()
	defer w.mu.Unlock()
	return core.Footprint{MeshBytes: w.sizes[g]}
}

// Clone implements core.GeometryService.
func (w *World) Clone(g core.GeometryID) core.GeometryID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.newGeometry(w.sizes[g])
}

// Release implements core.GeometryService.
func (w *World) Release(g core.GeometryID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.released[g]++
}

// ObjectBroke implements core.Notifier.
func (w *World) ObjectBroke(e core.BreakEvent, index int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.broke = append(w.broke, Broke{Index: index, Event: e})
}

// EntitySpawned implements core.Notifier.
func (w *World) EntitySpawned(h, source core.PhysHandle) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.spawned = append(w.spawned, [2]core.PhysHandle{h, source})
}

// Extracts returns how many island extractions ran.
func (w *World) Extracts() int {
	return int(w.extracts.Load())
}

// Deforms returns how many structural deformations ran.
func (w *World) Deforms() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.deforms
}

// Clones returns how many piece clones ran.
func (w *World) Clones() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.clones
}

// Effects returns the names of spawned effects in order.
func (w *World) Effects() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.effects...)
}

// Broken returns the ObjectBroke notifications in order.
func (w *World) Broken() []Broke {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Broke(nil), w.broke...)
}

// Spawned returns (new, source) pairs in order.
func (w *World) Spawned() [][2]core.PhysHandle {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([][2]core.PhysHandle(nil), w.spawned...)
}

// Released returns how many times g was released.
func (w *World) Released(g core.GeometryID) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.released[g]
}

// Geometry returns the current geometry of a part, or 0.
func (w *World) Geometry(h core.PhysHandle, partID int) core.GeometryID {
	st, ok := w.Status(h, partID)
	if !ok {
		return 0
	}
	return st.Geometry
}

// Opacity returns an entity's opacity.
func (w *World) Opacity(h core.PhysHandle) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e, ok := w.entities[h]; ok {
		return e.opacity
	}
	return 0
}

// Collides reports whether an entity still collides.
func (w *World) Collides(h core.PhysHandle) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entities[h]
	return ok && e.collisions
}

// Handles returns every live handle in ascending order.
func (w *World) Handles() []core.PhysHandle {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]core.PhysHandle, 0, len(w.entities))
	for h := range w.entities {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
