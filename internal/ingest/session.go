// Package ingest turns physics callbacks into breaks. A Session owns every
// breakage subsystem for one loaded level and is driven from the simulation
// goroutine.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/OCAP2/breakage/internal/breaklog"
	"github.com/OCAP2/breakage/internal/fade"
	"github.com/OCAP2/breakage/internal/hitpoints"
	"github.com/OCAP2/breakage/internal/meshcache"
	"github.com/OCAP2/breakage/internal/queue"
	"github.com/OCAP2/breakage/internal/scheduler"
	"github.com/OCAP2/breakage/internal/throttle"
	"github.com/OCAP2/breakage/internal/treecache"
	"github.com/OCAP2/breakage/pkg/core"
)

// ErrMissingDependency is returned by New when a required collaborator is nil.
var ErrMissingDependency = errors.New("missing session dependency")

// Dependencies are the engine collaborators. Effects and Notifier are
// optional.
type Dependencies struct {
	Physics   core.Physics
	Renderer  core.Renderer
	Effects   core.Effects
	Geometry  core.GeometryService
	Materials core.MaterialLibrary
	Notifier  core.Notifier
	Logger    *slog.Logger
}

// Stats is a point-in-time summary for monitoring.
type Stats struct {
	Events       int
	Objects      int
	Pending      int
	Retries      int
	CacheKB      int
	BudgetKB     int
	CacheEntries int
	TreeHits     int
	TreeMisses   int
	HitRecords   int
	Fading       int
	TreeCounter  float64
	GlassCounter float64
	Queued       int
}

// Session is the breakage context for one level. It is not safe for
// concurrent use.
type Session struct {
	cfg  Config
	deps Dependencies
	log  *slog.Logger
	inst instruments

	history   *breaklog.History
	hits      *hitpoints.Pool
	throttles *throttle.Set
	trees     *treecache.Cache
	meshes    *meshcache.Cache
	sched     *scheduler.Scheduler
	fades     *fade.Tracker
	deferred  *queue.Queue[core.PhysicsEvent]

	rng     *rand.Rand
	retries []int
	// origins maps replacement geometry back to the pristine original.
	origins map[core.GeometryID]core.GeometryID
	now     time.Duration
	loading bool
}

// New builds a session.
func New(cfg Config, deps Dependencies) (*Session, error) {
	switch {
	case deps.Physics == nil:
		return nil, errors.Join(ErrMissingDependency, errors.New("physics"))
	case deps.Renderer == nil:
		return nil, errors.Join(ErrMissingDependency, errors.New("renderer"))
	case deps.Geometry == nil:
		return nil, errors.Join(ErrMissingDependency, errors.New("geometry"))
	case deps.Materials == nil:
		return nil, errors.Join(ErrMissingDependency, errors.New("materials"))
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "breakage")

	treeCfg := cfg.Tree
	treeCfg.Multiplayer = treeCfg.Multiplayer || cfg.Multiplayer

	var fx meshcache.Spawner
	if deps.Effects != nil {
		fx = deps.Effects
	}

	s := &Session{
		cfg:       cfg,
		deps:      deps,
		log:       logger,
		inst:      newInstruments(),
		history:   breaklog.NewHistory(),
		hits:      hitpoints.NewPool(),
		throttles: throttle.NewSet(cfg.Throttle),
		trees:     treecache.New(treeCfg, deps.Physics),
		fades:     fade.New(cfg.Fade),
		deferred:  queue.NewBounded[core.PhysicsEvent](cfg.QueueLimit),
		rng:       rand.New(rand.NewPCG(cfg.Seed, 0x5eed)),
		origins:   make(map[core.GeometryID]core.GeometryID),
	}
	s.meshes = meshcache.New(cfg.Mesh, meshcache.Dependencies{
		World:   deps.Physics,
		View:    deps.Renderer,
		Sizer:   deps.Geometry,
		Effects: fx,
		Logger:  logger,
	})
	s.meshes.OnFree(s.onMeshFreed)
	s.sched = scheduler.New(scheduler.Config{Slots: cfg.Slots, Role: cfg.Role}, deps.Geometry, logger)
	return s, nil
}

// Config returns the session configuration.
func (s *Session) Config() Config {
	return s.cfg
}

// SetRole switches between host and client behaviour.
func (s *Session) SetRole(r core.Role) {
	s.cfg.Role = r
	s.sched.SetRole(r)
}

// SetProceduralBreaking flips the global switch consulted by ModeObeyGlobal.
func (s *Session) SetProceduralBreaking(on bool) {
	s.cfg.ProceduralBreaking = on
}

// History exposes the event log, object table and remap tables.
func (s *Session) History() *breaklog.History {
	return s.history
}

// MeshCache exposes the broken-mesh cache.
func (s *Session) MeshCache() *meshcache.Cache {
	return s.meshes
}

// TreeCache exposes the tree reuse cache.
func (s *Session) TreeCache() *treecache.Cache {
	return s.trees
}

// Throttles exposes the rate controllers.
func (s *Session) Throttles() *throttle.Set {
	return s.throttles
}

// HitPoints exposes the hit accumulator.
func (s *Session) HitPoints() *hitpoints.Pool {
	return s.hits
}

// Now returns the simulation time advanced by Tick.
func (s *Session) Now() time.Duration {
	return s.now
}

// Stats summarizes the session.
func (s *Session) Stats() Stats {
	hits, misses := s.trees.Stats()
	return Stats{
		Events:       s.history.Events.Len(),
		Objects:      s.history.Objects.Len(),
		Pending:      s.sched.Pending(),
		Retries:      len(s.retries),
		CacheKB:      s.meshes.Total(),
		BudgetKB:     s.meshes.Budget(),
		CacheEntries: s.meshes.Len(),
		TreeHits:     hits,
		TreeMisses:   misses,
		HitRecords:   s.hits.Len(),
		Fading:       s.fades.Len(),
		TreeCounter:  s.throttles.Trees.Counter(),
		GlassCounter: s.throttles.Glass.Counter(),
		Queued:       s.deferred.Len(),
	}
}

// HandleEvent is the single entry point for physics callbacks.
func (s *Session) HandleEvent(ctx context.Context, ev core.PhysicsEvent) Verdict {
	if ev.Mode == core.Immediate {
		return s.immediate(ctx, ev)
	}
	switch ev.Kind {
	case core.EventCollision:
		if ev.Collision != nil {
			s.onCollision(ctx, *ev.Collision)
		}
		return Verdict{}
	case core.EventStateChange:
		return s.stateChange(ev)
	}
	if ev.Part == nil {
		return Verdict{}
	}
	switch ev.Kind {
	case core.EventPostStep:
		s.meshes.SetDeforming(meshcache.Key{Owner: ev.Part.Handle, Part: ev.Part.PartID}, false)
	case core.EventCreatePart:
		s.onCreatePart(*ev.Part)
	case core.EventUpdateMesh:
		s.onUpdateMesh(*ev.Part)
	case core.EventEntityDeleted:
		s.onEntityDeleted(ev.Part.Handle)
	}
	return Verdict{}
}

// immediate answers a callback raised inside the physics step. It reads
// state only; anything to record is queued for the next Tick.
func (s *Session) immediate(ctx context.Context, ev core.PhysicsEvent) Verdict {
	switch ev.Kind {
	case core.EventCollision:
		if ev.Collision == nil {
			return Verdict{}
		}
		if s.decide(*ev.Collision, false).decision == BreakNow {
			s.inst.vetoes.Add(ctx, 1)
			return Verdict{Veto: true}
		}
		return Verdict{}
	}
	return s.Offer(ev)
}

// Offer takes an immediate callback while another session call is running,
// including the call that raised it, and is safe for concurrent use. It
// reads only the work queue and fixed configuration, so collisions are never
// vetoed here. Other kinds behave as in immediate delivery.
func (s *Session) Offer(ev core.PhysicsEvent) Verdict {
	switch ev.Kind {
	case core.EventCollision:
		return Verdict{}
	case core.EventStateChange:
		return s.stateChange(ev)
	}
	ev.Mode = core.Logged
	if s.deferred.Push(ev) == 0 {
		s.log.Warn("immediate work queue full, dropping event", "kind", ev.Kind)
	}
	return Verdict{}
}

func (s *Session) stateChange(ev core.PhysicsEvent) Verdict {
	if ev.Part != nil && ev.Part.Joint && !s.cfg.JointBreaking {
		return Verdict{Veto: true}
	}
	return Verdict{}
}

func (s *Session) onCollision(ctx context.Context, c core.CollisionEvent) {
	p := s.decide(c, true)
	switch p.decision {
	case BreakNow:
		idx := s.history.Events.Append(s.newEvent(c, p, core.BreakPlane))
		s.PerformPlaneBreak(ctx, idx)
	case RecordAndBreak:
		idx := s.history.Events.Append(s.newEvent(c, p, core.BreakDeform))
		s.applyDeform(ctx, idx)
	}
}

func (s *Session) newEvent(c core.CollisionEvent, p plan, kind core.BreakKind) core.BreakEvent {
	participant := core.KindEntity
	if p.status.Type == core.PhysStatic {
		participant = core.KindStatic
	}
	return core.BreakEvent{
		Kind:        kind,
		Participant: participant,
		Target:      c.Handle[1],
		Entity:      p.status.Entity,
		Part:        c.PartID[1],
		Geometry:    p.status.Geometry,
		Transform:   p.status.Transform,
		Point:       c.Point,
		Normal:      c.Normal,
		Velocity:    c.Velocity,
		Mass:        c.Mass,
		MatID:       c.MatID,
		PartID:      c.PartID,
		Prim:        c.Prim[1],
		Penetration: c.Penetration,
		Energy:      p.energy,
		Radius:      c.Radius,
		Size:        p.size,
		AutoShatter: p.autoShatter,
		Seed:        s.rng.Int32(),
		State:       core.StateGenerated,
		ObjectIndex: core.NoObject,
		Time:        s.now,
	}
}

func (s *Session) onCreatePart(p core.PartEvent) {
	if !p.Generated || p.NewHandle == 0 {
		return
	}
	if s.deps.Notifier != nil && !s.loading {
		s.deps.Notifier.EntitySpawned(p.NewHandle, p.Handle)
	}
	if p.NewHandle != p.Handle {
		s.fades.Track(p.NewHandle, s.now)
	}
	src, ok := s.deps.Physics.Status(p.Handle, p.PartID)
	if !ok {
		return
	}
	dst, ok := s.deps.Physics.Status(p.NewHandle, p.NewPartID)
	if !ok {
		return
	}
	s.remapPart(src.Entity, p.PartID, dst.Entity)
	if src.Vegetation {
		if s.loading {
			s.history.Remap.UpdateVegetation(dst.Transform.Pos, dst.Volume, dst.Entity)
		} else {
			s.history.Remap.AddVegetation(dst.Transform.Pos, dst.Volume, dst.Entity)
		}
		if p.NewHandle == p.Handle {
			s.trees.AddPiece(p.Handle, p.NewPartID)
		}
	}
}

// remapPart records which entity a broken part became. While loading the
// persisted entry is patched to the freshly spawned entity instead.
func (s *Session) remapPart(src core.EntityID, part int, dst core.EntityID) {
	if s.loading && s.history.Remap.UpdatePart(src, part, dst) {
		return
	}
	s.history.Remap.AddPart(src, part, dst)
}

func (s *Session) onUpdateMesh(p core.PartEvent) {
	s.meshes.Register(p.Handle, p.PartID, p.Geometry, meshcache.RegisterOptions{
		Original:      p.Original,
		Deforming:     p.Deforming,
		Loading:       s.loading || p.Loading,
		Authoritative: s.cfg.Role == core.RoleAuthoritative,
	})
}

func (s *Session) onEntityDeleted(h core.PhysHandle) {
	s.sched.Cancel(h)
	s.trees.Invalidate(h, false)
	s.meshes.FreeOwner(h)
	s.hits.EraseHandle(h)
	s.fades.Forget(h)
}

func (s *Session) onMeshFreed(e meshcache.Entry, reason meshcache.Reason) {
	if reason == meshcache.Superseded {
		return
	}
	s.hits.Erase(hitpoints.Key{Handle: e.Owner, Part: e.Part})
	s.log.Debug("broken mesh freed", "owner", e.Owner, "part", e.Part, "sizeKB", e.SizeKB, "reason", reason)
}

// Tick advances the session by dt.
func (s *Session) Tick(ctx context.Context, dt time.Duration) {
	s.now += dt
	s.throttles.Tick()

	s.deferred.Drain(func(ev core.PhysicsEvent) {
		s.HandleEvent(ctx, ev)
	})

	for _, c := range s.sched.Poll() {
		s.merge(ctx, c)
	}

	if len(s.retries) > 0 {
		retries := s.retries
		s.retries = nil
		for _, idx := range retries {
			s.PerformPlaneBreak(ctx, idx)
		}
	}

	s.meshes.Update(dt)
	s.hits.Sweep(s.now)

	for _, step := range s.fades.Update(s.now) {
		if step.DisableCollisions {
			s.deps.Physics.DisableCollisions(step.Handle)
		}
		s.deps.Renderer.SetOpacity(step.Handle, step.Opacity)
		if step.Remove {
			s.onEntityDeleted(step.Handle)
			s.deps.Physics.Remove(step.Handle)
		}
	}
}

// ApplyReplicated applies a break event received from the authoritative
// host and returns its local log index.
func (s *Session) ApplyReplicated(ctx context.Context, ev core.BreakEvent) int {
	ev.State = core.StateGenerated
	ev.ObjectIndex = core.NoObject
	idx := s.history.Events.Append(ev)
	s.apply(ctx, idx)
	return idx
}

func (s *Session) apply(ctx context.Context, idx int) {
	ev, ok := s.history.Events.Get(idx)
	if !ok {
		return
	}
	switch ev.Kind {
	case core.BreakPlane:
		s.PerformPlaneBreak(ctx, idx)
	case core.BreakDeform:
		s.applyDeform(ctx, idx)
	}
}

// ClearHistory drops every record of past breaks without touching the world.
func (s *Session) ClearHistory() {
	s.sched.CancelAll()
	s.deferred.Clear()
	s.retries = nil
	s.history.Clear()
	s.meshes.Clear()
	s.trees.Clear()
	s.hits.Clear()
	s.throttles.Reset()
	s.fades.Clear()
	s.origins = make(map[core.GeometryID]core.GeometryID)
}

// Close cancels outstanding extractions, waits for the workers and releases
// every held geometry.
func (s *Session) Close(ctx context.Context) error {
	err := s.sched.Shutdown(ctx)
	s.ClearHistory()
	return err
}
