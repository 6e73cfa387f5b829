package sandbox

import (
	"time"

	"github.com/OCAP2/breakage/pkg/core"
)

// Stock material ids.
const (
	MatExplosion = -1
	MatGlass     = 1
	MatWood      = 2
	MatConcrete  = 3
	MatSteel     = 4
	MatRubber    = 5
)

// AddStockMaterials registers a small material set.
func (w *World) AddStockMaterials() {
	w.AddMaterial(core.Material{
		ID: MatGlass, Name: "glass", Breakability: core.BreakGlass,
		BreakEnergy: 10, HoleSize: 0.2,
		Glass: core.GlassParams{FractureFX: "glass_shatter"},
	})
	w.AddMaterial(core.Material{
		ID: MatWood, Name: "wood", Breakability: core.BreakStructural,
		BreakEnergy: 100, HoleSize: 0.5, HoleSizeExplosion: 1,
	})
	w.AddMaterial(core.Material{
		ID: MatConcrete, Name: "concrete", Breakability: core.BreakStructural,
		BreakEnergy: 1000, HoleSize: 0.3,
		HitPoints: 5, HitPointsSecondary: 3, HitMaxDamage: 2, HitRadius: 0.5,
		HitLifetime: 10 * time.Second,
	})
	w.AddMaterial(core.Material{ID: MatSteel, Name: "steel"})
	w.AddMaterial(core.Material{ID: MatRubber, Name: "rubber", NoCollide: true})
}

// AddPane adds a static 2 m by 2 m window centred on pos.
func (w *World) AddPane(pos core.Vec3) core.PhysHandle {
	return w.Add(Body{
		Type:      core.PhysStatic,
		Transform: core.Transform{Pos: pos, Rot: core.IdentityQuat(), Scale: 1},
		BBox:      core.BBox{Min: core.V(-1, -0.05, -1), Max: core.V(1, 0.05, 1)},
		Volume:    0.2,
	})
}

// AddWall adds a static 10 m wide, 4 m tall wall standing on pos.
func (w *World) AddWall(pos core.Vec3) core.PhysHandle {
	return w.Add(Body{
		Type:      core.PhysStatic,
		Transform: core.Transform{Pos: pos, Rot: core.IdentityQuat(), Scale: 1},
		BBox:      core.BBox{Min: core.V(-5, -0.5, 0), Max: core.V(5, 0.5, 4)},
		Volume:    40,
	})
}

// AddTree adds a 10 m tall tree standing on pos. Trees created with the same
// non-zero mesh share it, as instanced vegetation does.
func (w *World) AddTree(pos core.Vec3, mesh core.GeometryID) core.PhysHandle {
	return w.Add(Body{
		Type:       core.PhysStatic,
		Transform:  core.Transform{Pos: pos, Rot: core.IdentityQuat(), Scale: 1},
		BBox:       core.BBox{Min: core.V(-0.3, -0.3, 0), Max: core.V(0.3, 0.3, 10)},
		Volume:     2,
		Vegetation: true,
		Geometry:   mesh,
	})
}

// AddBody adds a dynamic entity of the given type.
func (w *World) AddBody(t core.PhysType, pos core.Vec3, wheels int) core.PhysHandle {
	return w.Add(Body{
		Type:      t,
		Transform: core.Transform{Pos: pos, Rot: core.IdentityQuat(), Scale: 1},
		BBox:      core.BBox{Min: core.V(-1, -1, -1), Max: core.V(1, 1, 1)},
		Volume:    8,
		Wheels:    wheels,
	})
}

// Impact builds a collision of source against part 0 of target. The source
// moves along -normal at speed. Prim is -1 on both sides so plane breaks run
// inline; set Prim[1] to defer them.
func Impact(source, target core.PhysHandle, srcMat, dstMat int, point, normal core.Vec3, speed, mass float64) core.CollisionEvent {
	return core.CollisionEvent{
		Handle:   [2]core.PhysHandle{source, target},
		Point:    point,
		Normal:   normal,
		Velocity: [2]core.Vec3{normal.Scale(-speed), {}},
		Mass:     [2]float64{mass, 0},
		MatID:    [2]int{srcMat, dstMat},
		Prim:     [2]int{-1, -1},
	}
}
