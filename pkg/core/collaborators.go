package core

import "context"

// PartStatus is the physics engine's view of one part of an entity.
type PartStatus struct {
	Handle       PhysHandle
	Entity       EntityID
	Type         PhysType
	Transform    Transform // part world transform
	BBox         BBox      // part bounding box in local space
	Geometry     GeometryID
	Volume       float64
	Wheels       int
	MeshUpdating bool
	Vegetation   bool
	Generated    bool // part was produced by an earlier break
}

// DeformFlags modify a structural deformation.
type DeformFlags uint8

const (
	DeformNone DeformFlags = 0
	// DeformVehicleCollision marks heavy-impact deformation.
	DeformVehicleCollision DeformFlags = 1 << iota
	DeformExplosion
)

// Physics is the subset of the physics engine the breakage system drives.
type Physics interface {
	// Status returns false when the handle or part is unknown.
	Status(h PhysHandle, part int) (PartStatus, bool)
	Exists(h PhysHandle) bool
	Resolve(id EntityID) (PhysHandle, bool)
	Deform(h PhysHandle, point, dir Vec3, size float64, flags DeformFlags) bool
	SetPartGeometry(h PhysHandle, part int, g GeometryID) bool
	RemovePart(h PhysHandle, part int) bool
	SpawnFragment(src PhysHandle, part int, g GeometryID, at Transform) (PhysHandle, bool)
	ClonePieces(src PhysHandle, pieces []int, dst PhysHandle) bool
	DisableCollisions(h PhysHandle)
	Remove(h PhysHandle)
}

// Renderer exposes what eviction and instant-replay need from rendering.
type Renderer interface {
	ViewerPosition() Vec3
	Frame() uint64
	LastDrawFrame(h PhysHandle) uint64
	SetOpacity(h PhysHandle, alpha float64)
	SetHidden(g GeometryID, hidden bool)
}

// Effects spawns particle effects.
type Effects interface {
	Spawn(name string, at Vec3, normal Vec3)
}

// IslandRequest describes an island extraction around an impact point.
type IslandRequest struct {
	Geometry    GeometryID
	Point       Vec3 // part-local
	Normal      Vec3
	Seed        int32
	Prim        int
	Radius      float64
	Energy      float64
	AutoShatter bool
}

// IslandResult is the outcome of an extraction. Empty means the mesh could
// not be split.
type IslandResult struct {
	Remainder GeometryID
	Fragment  GeometryID
	Empty     bool
}

// PlaneImpact asks the geometry service to turn an impact into fragments.
// When Island is set the extraction already ran on a worker.
type PlaneImpact struct {
	IslandRequest
	Island *IslandResult
}

// Footprint is the memory cost of one geometry.
type Footprint struct {
	MeshBytes     int
	RenderBytes   int
	SkeletonBytes int
}

// Total returns the sum of all byte counts.
func (f Footprint) Total() int {
	return f.MeshBytes + f.RenderBytes + f.SkeletonBytes
}

// GeometryService wraps mesh operations. ExtractIsland must be safe to call
// from worker goroutines; everything else is called on the simulation
// goroutine.
type GeometryService interface {
	ExtractIsland(ctx context.Context, req IslandRequest) (IslandResult, error)
	ProcessPlaneImpact(ctx context.Context, req PlaneImpact) (IslandResult, error)
	Footprint(g GeometryID) Footprint
	Clone(g GeometryID) GeometryID
	Release(g GeometryID)
}

// Notifier receives outbound breakage notifications.
type Notifier interface {
	ObjectBroke(e BreakEvent, index int)
	EntitySpawned(h PhysHandle, source PhysHandle)
}
