package ingest

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/OCAP2/breakage/internal/breaklog"
	"github.com/OCAP2/breakage/internal/geometry"
	"github.com/OCAP2/breakage/internal/hitpoints"
	"github.com/OCAP2/breakage/internal/meshcache"
	"github.com/OCAP2/breakage/internal/scheduler"
	"github.com/OCAP2/breakage/pkg/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// resolve finds the live handle for a logged event. Handles do not survive a
// reload, so the entity id is tried first, then the part remap table.
func (s *Session) resolve(ev core.BreakEvent) (core.PhysHandle, bool) {
	if ev.Entity != 0 {
		if h, ok := s.deps.Physics.Resolve(ev.Entity); ok {
			return h, true
		}
		if id, ok := s.history.Remap.Part(ev.Entity, ev.Part); ok {
			if h, ok := s.deps.Physics.Resolve(id); ok {
				return h, true
			}
		}
	}
	if ev.Target != 0 && s.deps.Physics.Exists(ev.Target) {
		return ev.Target, true
	}
	return 0, false
}

func (s *Session) originOf(g core.GeometryID) core.GeometryID {
	if o, ok := s.origins[g]; ok {
		return o
	}
	return g
}

// PerformPlaneBreak runs the glass path for the logged event at idx. The
// extraction runs inline when it is cheap, otherwise on a worker and the
// result is merged by a later Tick.
func (s *Session) PerformPlaneBreak(ctx context.Context, idx int) {
	ev, ok := s.history.Events.Get(idx)
	if !ok || ev.State == core.StateProcessed {
		return
	}
	h, ok := s.resolve(ev)
	if !ok {
		s.log.Debug("plane break target gone", "event", idx, "entity", ev.Entity)
		return
	}
	st, ok := s.deps.Physics.Status(h, ev.Part)
	if !ok {
		s.log.Debug("no status for plane break", "event", idx, "handle", h, "part", ev.Part)
		return
	}

	req := scheduler.Request{
		Island: core.IslandRequest{
			Geometry:    st.Geometry,
			Point:       st.Transform.ToLocal(ev.Point),
			Normal:      st.Transform.Rot.Conj().Rotate(ev.Normal),
			Seed:        ev.Seed,
			Prim:        ev.Prim,
			Radius:      ev.Radius,
			Energy:      ev.Energy,
			AutoShatter: ev.AutoShatter,
		},
		Event: idx,
		Owner: h,
		Cheap: ev.Prim < 0 || s.loading,
	}
	out, err := s.sched.Submit(ctx, req)
	switch {
	case errors.Is(err, scheduler.ErrRetryNextTick):
		s.retries = append(s.retries, idx)
		s.inst.retries.Add(ctx, 1)
		return
	case err != nil:
		s.log.Warn("plane break not scheduled", "event", idx, "error", err)
		return
	}
	if out.Sync {
		s.merge(ctx, out.Completion)
	}
}

// merge applies one finished extraction to every event waiting on it.
func (s *Session) merge(ctx context.Context, c scheduler.Completion) {
	if c.Err != nil {
		s.log.Warn("island extraction failed", "geometry", c.Key.Geometry, "events", c.Events, "error", c.Err)
		return
	}
	if s.stale(c) {
		// another break replaced the part's mesh while this one was in
		// flight; run it again on the current geometry
		s.release(c.Result)
		for _, idx := range c.Events {
			s.PerformPlaneBreak(ctx, idx)
		}
		return
	}
	res := c.Result
	if !res.Empty {
		island := c.Result
		var err error
		res, err = s.deps.Geometry.ProcessPlaneImpact(ctx, core.PlaneImpact{IslandRequest: c.Request, Island: &island})
		if err != nil {
			s.log.Warn("plane impact failed", "geometry", c.Key.Geometry, "events", c.Events, "error", err)
			return
		}
	}
	for i, idx := range c.Events {
		s.applyPlane(ctx, idx, res, i == 0)
	}
}

// stale reports whether the part a completion was extracted from no longer
// holds the geometry the extraction ran on.
func (s *Session) stale(c scheduler.Completion) bool {
	for _, idx := range c.Events {
		ev, ok := s.history.Events.Get(idx)
		if !ok || ev.State == core.StateProcessed {
			continue
		}
		h, ok := s.resolve(ev)
		if !ok {
			return false
		}
		st, ok := s.deps.Physics.Status(h, ev.Part)
		return ok && st.Geometry != c.Request.Geometry
	}
	return false
}

func (s *Session) release(res core.IslandResult) {
	if res.Remainder != 0 {
		s.deps.Geometry.Release(res.Remainder)
	}
	if res.Fragment != 0 {
		s.deps.Geometry.Release(res.Fragment)
	}
}

func (s *Session) applyPlane(ctx context.Context, idx int, res core.IslandResult, spawn bool) {
	ev, ok := s.history.Events.Get(idx)
	if !ok || ev.State == core.StateProcessed {
		return
	}
	h, ok := s.resolve(ev)
	if !ok {
		s.log.Debug("plane break target gone before merge", "event", idx)
		return
	}
	st, ok := s.deps.Physics.Status(h, ev.Part)
	if !ok {
		s.log.Debug("no status at merge", "event", idx, "handle", h)
		return
	}
	orig := s.originOf(st.Geometry)
	mat, _ := s.deps.Materials.Material(ev.MatID[1])
	authoritative := s.cfg.Role == core.RoleAuthoritative

	switch {
	case res.Empty || res.Remainder == 0:
		s.deps.Physics.RemovePart(h, ev.Part)
		s.meshes.Register(h, ev.Part, 0, meshcache.RegisterOptions{})
	case st.Geometry != res.Remainder:
		s.deps.Physics.SetPartGeometry(h, ev.Part, res.Remainder)
		s.origins[res.Remainder] = orig
		s.meshes.Register(h, ev.Part, res.Remainder, meshcache.RegisterOptions{
			Original:      orig,
			Timeout:       s.glassTimeout(mat, ev),
			FX:            mat.Glass.FractureFX,
			FXAt:          ev.Point,
			FXNormal:      ev.Normal,
			Loading:       s.loading,
			Authoritative: authoritative,
		})
	}

	if spawn && res.Fragment != 0 {
		if fh, ok := s.deps.Physics.SpawnFragment(h, ev.Part, res.Fragment, st.Transform); ok {
			s.fades.Track(fh, s.now)
			if s.deps.Notifier != nil && !s.loading {
				s.deps.Notifier.EntitySpawned(fh, h)
			}
			if fst, ok := s.deps.Physics.Status(fh, 0); ok {
				s.remapPart(st.Entity, ev.Part, fst.Entity)
			}
		}
	}

	s.hits.Erase(hitpoints.Key{Handle: h, Part: ev.Part})
	s.finish(ctx, idx, s.recordObject(ev, h, st, orig))
}

// glassTimeout picks the destroy timeout for a broken pane. The spread is
// drawn from the event seed so a replay lands on the same value.
func (s *Session) glassTimeout(mat core.Material, ev core.BreakEvent) time.Duration {
	base, spread := mat.Glass.DestroyTimeout, mat.Glass.DestroyTimeoutSpread
	if s.cfg.Glass.ForcedTimeout > 0 {
		base, spread = s.cfg.Glass.ForcedTimeout, s.cfg.Glass.ForcedTimeoutSpread
	}
	if base <= 0 {
		return 0
	}
	if spread > 0 {
		r := rand.New(rand.NewPCG(uint64(uint32(ev.Seed)), uint64(ev.Entity)))
		base += time.Duration((2*r.Float64() - 1) * float64(spread))
	}
	if base <= 0 {
		return time.Millisecond
	}
	return base
}

// applyDeform runs the structural path for the logged event at idx,
// reusing a cached tree cut when one matches.
func (s *Session) applyDeform(ctx context.Context, idx int) {
	ev, ok := s.history.Events.Get(idx)
	if !ok || ev.State == core.StateProcessed {
		return
	}
	h, ok := s.resolve(ev)
	if !ok {
		s.log.Debug("deform target gone", "event", idx, "entity", ev.Entity)
		return
	}
	st, ok := s.deps.Physics.Status(h, ev.Part)
	if !ok {
		s.log.Debug("no status for deform", "event", idx, "handle", h, "part", ev.Part)
		return
	}
	if !s.loading {
		s.throttles.Trees.Record()
	}

	scale := ev.Transform.EffectiveScale()
	height := ev.Point.Z - ev.Transform.Pos.Z
	reused := st.Vegetation && !st.MeshUpdating &&
		s.trees.Reuse(s.deps.Physics, st.Geometry, h, height, ev.Size, scale)
	if !reused {
		if !s.deps.Physics.Deform(h, ev.Point, ev.Normal.Neg(), ev.Size, deformFlags(ev)) {
			s.log.Debug("deform refused", "event", idx, "handle", h)
			return
		}
		s.trees.Invalidate(h, true)
		if st.Vegetation {
			s.trees.Register(st.Geometry, h, height, ev.Size, scale, ev.Part)
		}
	}

	orig := s.originOf(st.Geometry)
	if after, ok := s.deps.Physics.Status(h, ev.Part); ok && after.Geometry != st.Geometry && after.Geometry != 0 {
		s.origins[after.Geometry] = orig
		s.meshes.Register(h, ev.Part, after.Geometry, meshcache.RegisterOptions{
			Original:      orig,
			Loading:       s.loading,
			Authoritative: s.cfg.Role == core.RoleAuthoritative,
		})
	}
	s.finish(ctx, idx, s.recordObject(ev, h, st, orig))
}

// recordObject returns the object index for the original geometry, adding a
// record the first time it breaks. A precomputed index on the event wins.
func (s *Session) recordObject(ev core.BreakEvent, h core.PhysHandle, st core.PartStatus, orig core.GeometryID) int {
	if ev.ObjectIndex != core.NoObject {
		if r, ok := s.history.Objects.Get(ev.ObjectIndex); ok && r.Original != nil {
			return ev.ObjectIndex
		}
	} else if i, ok := s.history.Objects.Find(orig, st.Entity); ok {
		return i
	}
	rec := breaklog.ObjectRecord{
		Kind:     ev.Participant,
		Owner:    h,
		Entity:   st.Entity,
		Original: geometry.NewRef(orig, s.deps.Geometry),
		Mass:     ev.Mass[1],
		Slot:     ev.Part,
	}
	if ev.ObjectIndex != core.NoObject {
		return s.history.Objects.Put(ev.ObjectIndex, rec)
	}
	return s.history.Objects.Add(rec)
}

func (s *Session) finish(ctx context.Context, idx, obj int) {
	s.history.Events.SetObjectIndex(idx, obj)
	s.history.Events.MarkProcessed(idx)
	ev, _ := s.history.Events.Get(idx)
	s.inst.breaks.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", ev.Kind.String())))
	if s.deps.Notifier != nil && !s.loading {
		s.deps.Notifier.ObjectBroke(ev, idx)
	}
}
