package breaklog

import (
	"github.com/OCAP2/breakage/internal/geometry"
	"github.com/OCAP2/breakage/pkg/core"
)

// ObjectRecord is one original geometry that has been replaced by break
// products. The record holds a reference on the original until released.
type ObjectRecord struct {
	Kind     core.ParticipantKind
	Owner    core.PhysHandle
	Entity   core.EntityID
	Original *geometry.Ref
	Mass     float64
	Slot     int
}

// Geometry returns the original geometry id.
func (r ObjectRecord) Geometry() core.GeometryID {
	return r.Original.ID()
}

type objectKey struct {
	geometry core.GeometryID
	entity   core.EntityID
}

func keyOf(rec ObjectRecord) objectKey {
	return objectKey{geometry: rec.Geometry(), entity: rec.Entity}
}

// Objects is the broken object table, indexed by object index. Records are
// unique per original geometry and entity, since instanced meshes share a
// geometry across entities.
type Objects struct {
	records    []ObjectRecord
	byGeometry map[objectKey]int
}

// NewObjects returns an empty table.
func NewObjects() *Objects {
	return &Objects{byGeometry: make(map[objectKey]int)}
}

// Find returns the index of the record for an original geometry on entity.
func (o *Objects) Find(g core.GeometryID, entity core.EntityID) (int, bool) {
	i, ok := o.byGeometry[objectKey{geometry: g, entity: entity}]
	return i, ok
}

// Add appends a record, or returns the existing index when the original
// geometry is already recorded. The caller's reference is consumed either way.
func (o *Objects) Add(rec ObjectRecord) int {
	k := keyOf(rec)
	if i, ok := o.byGeometry[k]; ok && k.geometry != 0 {
		rec.Original.Release()
		return i
	}
	o.records = append(o.records, rec)
	i := len(o.records) - 1
	if k.geometry != 0 {
		o.byGeometry[k] = i
	}
	return i
}

// Put installs a record at a precomputed index, padding the table with empty
// records when needed. An occupied slot keeps its record.
func (o *Objects) Put(index int, rec ObjectRecord) int {
	if index < 0 {
		return o.Add(rec)
	}
	for len(o.records) <= index {
		o.records = append(o.records, ObjectRecord{})
	}
	if o.records[index].Original != nil {
		rec.Original.Release()
		return index
	}
	o.records[index] = rec
	if k := keyOf(rec); k.geometry != 0 {
		o.byGeometry[k] = index
	}
	return index
}

// Get returns the record at index.
func (o *Objects) Get(index int) (ObjectRecord, bool) {
	if index < 0 || index >= len(o.records) {
		return ObjectRecord{}, false
	}
	return o.records[index], true
}

// Len returns the table size.
func (o *Objects) Len() int {
	return len(o.records)
}

// Records returns a copy of the table.
func (o *Objects) Records() []ObjectRecord {
	return append([]ObjectRecord(nil), o.records...)
}

// Release drops every record and its geometry reference.
func (o *Objects) Release() {
	for _, r := range o.records {
		r.Original.Release()
	}
	o.records = nil
	o.byGeometry = make(map[objectKey]int)
}
