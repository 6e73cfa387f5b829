package core

// PhysHandle identifies a live physical entity. Zero means none.
type PhysHandle uint64

// EntityID is the stable game-side identity of an entity. It survives
// save/load and network join, unlike PhysHandle.
type EntityID uint32

// GeometryID identifies a mesh owned by the geometry service. Zero means none.
type GeometryID uint64

// ParticipantKind distinguishes dynamic entities from static world geometry.
type ParticipantKind uint8

const (
	KindEntity ParticipantKind = iota
	KindStatic
)

func (k ParticipantKind) String() string {
	if k == KindStatic {
		return "static"
	}
	return "entity"
}

// PhysType is the simulation class of a physical entity.
type PhysType uint8

const (
	PhysStatic PhysType = iota
	PhysRigid
	PhysWheeled
	PhysLiving
	PhysParticle
	PhysArticulated
)

// Role is the authority of this participant in a networked session.
type Role uint8

const (
	RoleAuthoritative Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "authoritative"
}
