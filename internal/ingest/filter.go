package ingest

import (
	"math"

	"github.com/OCAP2/breakage/internal/hitpoints"
	"github.com/OCAP2/breakage/pkg/core"
)

const (
	heavyMass          = 1500
	glassHeavyMass     = 10
	glassRadius        = 0.1
	maxStructuralScale = 10
	smallExplosiveVol  = 0.5
	maxClampedHoleSize = 1.5
	maxDamagePerHit    = 1e6
	noBreakSourceMatID = -2
	edgeMarginFraction = 0.15
	edgeMarginMinimum  = 0.5
)

type plan struct {
	decision    Decision
	status      core.PartStatus
	energy      float64
	size        float64
	autoShatter bool
}

// Filter classifies a logged collision. Accepted hits are charged to the
// hit-point accumulator and the throttles.
func (s *Session) Filter(c core.CollisionEvent) Decision {
	return s.decide(c, true).decision
}

func impactEnergy(v core.Vec3, mass float64) float64 {
	return math.Max(v.ManhattanLen(), v.LenSq()) * mass
}

func hitDamage(energy, breakEnergy float64) float64 {
	if breakEnergy <= 0 {
		return 1
	}
	return math.Round(math.Min(maxDamagePerHit, energy/breakEnergy))
}

// decide runs the filter. With mutate unset it only reads state, for
// immediate callbacks.
func (s *Session) decide(c core.CollisionEvent, mutate bool) plan {
	mat, ok := s.deps.Materials.Material(c.MatID[1])
	if !ok || mat.Breakability == core.BreakNone {
		return plan{}
	}
	if !s.cfg.Mode.Allows(mat.Breakability, s.cfg.ProceduralBreaking) {
		return plan{}
	}
	switch mat.Breakability {
	case core.BreakGlass:
		return s.decideGlass(c, mat, mutate)
	case core.BreakStructural:
		return s.decideStructural(c, mat, mutate)
	}
	return plan{}
}

func (s *Session) source(c core.CollisionEvent) (core.PartStatus, bool) {
	if c.Handle[0] == 0 {
		return core.PartStatus{}, false
	}
	return s.deps.Physics.Status(c.Handle[0], c.PartID[0])
}

func (s *Session) decideGlass(c core.CollisionEvent, mat core.Material, mutate bool) plan {
	st, ok := s.deps.Physics.Status(c.Handle[1], c.PartID[1])
	if !ok {
		s.log.Debug("no status for glass target", "handle", c.Handle[1], "part", c.PartID[1])
		return plan{}
	}
	src, hasSrc := s.source(c)
	rel := c.Velocity[0].Sub(c.Velocity[1])
	energy := impactEnergy(rel, c.Mass[0])

	brk := c.Mass[0] > glassHeavyMass ||
		(hasSrc && src.Type == core.PhysArticulated) ||
		c.Radius > glassRadius
	if !brk && rel.Dot(c.Normal) < 0 {
		switch {
		case c.Explosion():
			brk = true
		case mat.BreakEnergy > 0 && energy >= mat.BreakEnergy:
			if mat.HitPoints <= 0 {
				brk = true
			} else if mutate {
				brk = s.hits.Apply(hitpoints.Key{Handle: c.Handle[1], Part: c.PartID[1]},
					mat, st.Transform, c.Point, hitDamage(energy, mat.BreakEnergy), s.now)
			}
		}
	}
	if !brk {
		return plan{}
	}

	p := plan{decision: BreakNow, status: st, energy: energy}
	smashed := s.cfg.Glass.AutoShatter || (c.Explosion() && s.cfg.Glass.AutoShatterOnExplosions)
	p.autoShatter = smashed ||
		(s.cfg.Glass.AutoShatterMinArea > 0 && paneArea(st) < s.cfg.Glass.AutoShatterMinArea)
	if mutate && s.throttles.GlassPane(smashed) {
		p.autoShatter = true
	}
	return p
}

// paneArea is the area of the two largest faces' extents of the part box.
func paneArea(st core.PartStatus) float64 {
	h := st.BBox.Half()
	a, b, c := h.X, h.Y, h.Z
	if a < b {
		a, b = b, a
	}
	if b < c {
		b = c
	}
	if a < b {
		a, b = b, a
	}
	scale := st.Transform.EffectiveScale()
	return 4 * a * b * scale * scale
}

func (s *Session) decideStructural(c core.CollisionEvent, mat core.Material, mutate bool) plan {
	if s.cfg.Role != core.RoleAuthoritative {
		return plan{}
	}
	rel := c.Velocity[0].Sub(c.Velocity[1])
	if rel.Dot(c.Normal) >= 0 {
		return plan{}
	}
	if c.MatID[0] == c.MatID[1] || c.MatID[0] == noBreakSourceMatID || mat.BreakEnergy <= 0 {
		return plan{}
	}
	src, hasSrc := s.source(c)
	if hasSrc && (src.Type == core.PhysLiving || (src.Type == core.PhysWheeled && src.Wheels <= 4)) {
		return plan{}
	}
	energy := impactEnergy(rel, c.Mass[0])
	if energy < mat.BreakEnergy {
		return plan{}
	}
	if srcMat, ok := s.deps.Materials.Material(c.MatID[0]); ok && srcMat.NoCollide {
		return plan{}
	}

	st, ok := s.deps.Physics.Status(c.Handle[1], c.PartID[1])
	if !ok {
		s.log.Debug("no status for structural target", "handle", c.Handle[1], "part", c.PartID[1])
		return plan{}
	}
	switch st.Type {
	case core.PhysStatic, core.PhysRigid, core.PhysWheeled:
	default:
		return plan{}
	}
	if s.cfg.NoBreakingByObjects && hasSrc && src.Type != core.PhysParticle {
		return plan{}
	}
	if s.cfg.NoSecondaryBreaking && st.Generated {
		return plan{}
	}
	if s.throttles.Trees.Exceeded() && !(hasSrc && src.Type == core.PhysWheeled) {
		return plan{}
	}

	scale := st.Transform.EffectiveScale()
	if scale > maxStructuralScale {
		return plan{}
	}
	lowOnStatic := st.Type == core.PhysStatic &&
		c.Point.Z-st.Transform.Pos.Z < (st.BBox.Min.Z+st.BBox.Max.Z)/2
	if !lowOnStatic && nearEdge(st, c.Point) {
		return plan{}
	}

	size := mat.HoleSize * math.Max(1, scale)
	if c.Explosion() && mat.HoleSizeExplosion > 0 {
		size = mat.HoleSizeExplosion * math.Max(1, scale)
	}
	heavy := c.Mass[0] >= heavyMass
	if heavy || (c.Explosion() && st.Volume*scale*scale*scale < smallExplosiveVol) {
		size = math.Max(size, math.Min(4*size, maxClampedHoleSize))
	}

	if mat.HitPoints > 0 {
		if !mutate {
			return plan{}
		}
		key := hitpoints.Key{Handle: c.Handle[1], Part: c.PartID[1]}
		if !s.hits.Apply(key, mat, st.Transform, c.Point, hitDamage(energy, mat.BreakEnergy), s.now) {
			return plan{}
		}
	}
	return plan{decision: RecordAndBreak, status: st, energy: energy, size: size}
}

// nearEdge reports whether a world point is too close to the edge of the
// part box along its largest axis.
func nearEdge(st core.PartStatus, point core.Vec3) bool {
	local := st.Transform.ToLocal(point).Sub(st.BBox.Center())
	half := st.BBox.Half()
	a := st.BBox.LargestAxis()
	h := half.Axis(a)
	return math.Abs(local.Axis(a)) >= h-math.Max(h*edgeMarginFraction, edgeMarginMinimum)
}

func deformFlags(ev core.BreakEvent) core.DeformFlags {
	flags := core.DeformNone
	if ev.Mass[0] >= heavyMass {
		flags |= core.DeformVehicleCollision
	}
	if ev.Explosion() {
		flags |= core.DeformExplosion
	}
	return flags
}
