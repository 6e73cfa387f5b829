package core

import "time"

// EventKind enumerates the physics callbacks the breakage system listens to.
type EventKind uint8

const (
	EventCollision EventKind = iota
	EventPostStep
	EventStateChange
	EventCreatePart
	EventUpdateMesh
	EventEntityDeleted
)

var eventKindNames = [...]string{
	EventCollision:     "collision",
	EventPostStep:      "post_step",
	EventStateChange:   "state_change",
	EventCreatePart:    "create_part",
	EventUpdateMesh:    "update_mesh",
	EventEntityDeleted: "entity_deleted",
}

func (k EventKind) String() string {
	if int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return "unknown"
}

// DeliveryMode says whether a notification was queued by the physics engine
// (Logged) or raised during the physics step itself (Immediate). Immediate
// handlers may accept or veto the default response but must not mutate
// shared state.
type DeliveryMode uint8

const (
	Logged DeliveryMode = iota
	Immediate
)

func (m DeliveryMode) String() string {
	if m == Immediate {
		return "immediate"
	}
	return "logged"
}

// CollisionEvent is the contact payload. Index 0 is the striking source and
// index 1 the struck target. A negative source material id marks a bullet or
// explosion impact.
type CollisionEvent struct {
	Handle      [2]PhysHandle
	Point       Vec3
	Normal      Vec3
	Velocity    [2]Vec3
	Mass        [2]float64
	MatID       [2]int
	PartID      [2]int
	Prim        [2]int
	Penetration float64
	Radius      float64
}

// Explosion reports whether the source was a projectile or blast.
func (c *CollisionEvent) Explosion() bool {
	return c.MatID[0] < 0
}

// PartEvent carries create-part, update-mesh, state-change and deletion data.
type PartEvent struct {
	Handle    PhysHandle
	NewHandle PhysHandle // create-part: the spawned entity
	Entity    EntityID
	PartID    int
	NewPartID int
	Geometry  GeometryID // update-mesh: replacement geometry, zero when removed
	Original  GeometryID // update-mesh: geometry before the change
	Deforming bool       // update-mesh: part is still being deformed
	Generated bool       // create-part: entity comes from breakage
	Joint     bool       // state-change: a joint broke
	Loading   bool
}

// PhysicsEvent is the single internal event type routed through the
// dispatcher. Exactly one of Collision or Part is set, except for post-step
// which carries neither.
type PhysicsEvent struct {
	Kind      EventKind
	Mode      DeliveryMode
	Collision *CollisionEvent
	Part      *PartEvent
	Timestamp time.Time
}

// EventState is the lifecycle of a recorded break.
type EventState uint8

const (
	StateGenerated EventState = iota
	StateProcessed
)

func (s EventState) String() string {
	if s == StateProcessed {
		return "processed"
	}
	return "generated"
}

// BreakKind says which execution path applies a break event.
type BreakKind uint8

const (
	BreakPlane BreakKind = iota
	BreakDeform
)

func (k BreakKind) String() string {
	if k == BreakDeform {
		return "deform"
	}
	return "plane"
}

// NoObject marks an event without a broken object record.
const NoObject = -1

// BreakEvent is a recorded decision that a piece of geometry was breached.
// Fields are written once; only State and ObjectIndex change afterwards.
type BreakEvent struct {
	_msgpack    struct{}        `msgpack:",as_array"`
	Kind        BreakKind       `json:"kind"`
	Participant ParticipantKind `json:"participant"`
	Target      PhysHandle      `json:"target"`
	Entity      EntityID        `json:"entity"`
	Part        int             `json:"part"`
	Geometry    GeometryID      `json:"geometry"`
	Transform   Transform       `json:"transform"`
	Point       Vec3            `json:"point"`
	Normal      Vec3            `json:"normal"`
	Velocity    [2]Vec3         `json:"velocity"`
	Mass        [2]float64      `json:"mass"`
	MatID       [2]int          `json:"matId"`
	PartID      [2]int          `json:"partId"`
	Prim        int             `json:"prim"`
	Penetration float64         `json:"penetration"`
	Energy      float64         `json:"energy"`
	Radius      float64         `json:"radius"`
	Size        float64         `json:"size"`
	AutoShatter bool            `json:"autoShatter"`
	Seed        int32           `json:"seed"`
	State       EventState      `json:"state"`
	ObjectIndex int             `json:"objectIndex"`
	Time        time.Duration   `json:"time"`
}

// Explosion reports whether the source was a projectile or blast.
func (e *BreakEvent) Explosion() bool {
	return e.MatID[0] < 0
}

// Collision rebuilds the contact that produced the event.
func (e *BreakEvent) Collision() CollisionEvent {
	return CollisionEvent{
		Handle:      [2]PhysHandle{0, e.Target},
		Point:       e.Point,
		Normal:      e.Normal,
		Velocity:    e.Velocity,
		Mass:        e.Mass,
		MatID:       e.MatID,
		PartID:      e.PartID,
		Prim:        [2]int{-1, e.Prim},
		Penetration: e.Penetration,
		Radius:      e.Radius,
	}
}
