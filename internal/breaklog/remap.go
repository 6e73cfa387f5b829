package breaklog

import (
	"math"

	"github.com/OCAP2/breakage/pkg/core"
)

const (
	vegetationPosTolerance    = 0.03
	vegetationVolumeTolerance = 1e-4
)

// PartRemap maps a broken part of an entity to the entity spawned from it.
type PartRemap struct {
	_msgpack struct{}      `msgpack:",as_array"`
	Source   core.EntityID `json:"source"`
	Part     int           `json:"part"`
	New      core.EntityID `json:"new"`
}

// VegetationRemap maps a broken piece of vegetation, identified by where it
// was and how big it was, to the entity spawned from it.
type VegetationRemap struct {
	_msgpack struct{}      `msgpack:",as_array"`
	Pos      core.Vec3     `json:"pos"`
	Volume   float64       `json:"volume"`
	New      core.EntityID `json:"new"`
}

// Remap holds the id tables that let a loaded history find the entities it
// refers to.
type Remap struct {
	Parts      []PartRemap
	Vegetation []VegetationRemap
	Chunks     []int32
}

// NewRemap returns empty tables.
func NewRemap() *Remap {
	return &Remap{}
}

// AddPart records that part of source produced entity id.
func (r *Remap) AddPart(source core.EntityID, part int, id core.EntityID) {
	r.Parts = append(r.Parts, PartRemap{Source: source, Part: part, New: id})
}

// Part returns the entity spawned from part of source.
func (r *Remap) Part(source core.EntityID, part int) (core.EntityID, bool) {
	for i := len(r.Parts) - 1; i >= 0; i-- {
		p := r.Parts[i]
		if p.Source == source && p.Part == part {
			return p.New, true
		}
	}
	return 0, false
}

// UpdatePart rewrites the spawned entity id for part of source.
func (r *Remap) UpdatePart(source core.EntityID, part int, id core.EntityID) bool {
	for i := len(r.Parts) - 1; i >= 0; i-- {
		if r.Parts[i].Source == source && r.Parts[i].Part == part {
			r.Parts[i].New = id
			return true
		}
	}
	return false
}

// AddVegetation records a broken vegetation piece.
func (r *Remap) AddVegetation(pos core.Vec3, volume float64, id core.EntityID) {
	r.Vegetation = append(r.Vegetation, VegetationRemap{Pos: pos, Volume: volume, New: id})
}

func vegetationMatch(v VegetationRemap, pos core.Vec3, volume float64) bool {
	if v.Pos.Sub(pos).LenSq() > vegetationPosTolerance*vegetationPosTolerance {
		return false
	}
	return math.Abs(v.Volume-volume) <= vegetationVolumeTolerance*math.Max(math.Abs(volume), math.Abs(v.Volume))
}

// VegetationAt finds the entity spawned from vegetation at pos with volume.
func (r *Remap) VegetationAt(pos core.Vec3, volume float64) (core.EntityID, bool) {
	for _, v := range r.Vegetation {
		if vegetationMatch(v, pos, volume) {
			return v.New, true
		}
	}
	return 0, false
}

// UpdateVegetation rewrites the entity id of a matching vegetation piece.
func (r *Remap) UpdateVegetation(pos core.Vec3, volume float64, id core.EntityID) bool {
	for i := range r.Vegetation {
		if vegetationMatch(r.Vegetation[i], pos, volume) {
			r.Vegetation[i].New = id
			return true
		}
	}
	return false
}

// AddChunk records the id of a spawned 2D glass chunk.
func (r *Remap) AddChunk(id int32) {
	r.Chunks = append(r.Chunks, id)
}

// Clear drops every table.
func (r *Remap) Clear() {
	r.Parts = nil
	r.Vegetation = nil
	r.Chunks = nil
}
