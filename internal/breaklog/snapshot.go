package breaklog

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/OCAP2/breakage/internal/meshcache"
	"github.com/OCAP2/breakage/pkg/core"
	"github.com/vmihailenco/msgpack/v5"
)

// FormatVersion is written at the head of every snapshot.
const FormatVersion = 1

// ErrUnknownVersion is returned for snapshots written by an incompatible build.
var ErrUnknownVersion = errors.New("unknown snapshot version")

// ObjectEntry is the persisted form of an ObjectRecord.
type ObjectEntry struct {
	_msgpack struct{}             `msgpack:",as_array"`
	Kind     core.ParticipantKind `json:"kind"`
	Entity   core.EntityID        `json:"entity"`
	Geometry core.GeometryID      `json:"geometry"`
	Mass     float64              `json:"mass"`
	Slot     int                  `json:"slot"`
}

// Snapshot is everything needed to rebuild broken world state.
type Snapshot struct {
	_msgpack       struct{}            `msgpack:",as_array"`
	Version        int                 `json:"version"`
	Events         []core.BreakEvent   `json:"events"`
	Objects        []ObjectEntry       `json:"objects"`
	Parts          []PartRemap         `json:"parts"`
	Vegetation     []VegetationRemap   `json:"vegetation"`
	Chunks         []int32             `json:"chunks"`
	Removals       []meshcache.Removal `json:"removals"`
	MemoryBudgetKB int                 `json:"memoryBudgetKB"`
}

// SnapshotOptions control how history is captured.
type SnapshotOptions struct {
	// FreshWorld writes every event as generated, for loading into a world
	// that has never seen any of the breaks.
	FreshWorld bool
}

// History groups the log with the tables that accompany it.
type History struct {
	Events  *Log
	Objects *Objects
	Remap   *Remap
}

// NewHistory returns empty history.
func NewHistory() *History {
	return &History{
		Events:  NewLog(),
		Objects: NewObjects(),
		Remap:   NewRemap(),
	}
}

// Clear drops all history and releases object geometry.
func (h *History) Clear() {
	h.Events.Clear()
	h.Objects.Release()
	h.Remap.Clear()
}

// Install replaces the log and remap tables with a snapshot's. The object
// table is left empty for the caller to rebuild against the live world.
func (h *History) Install(s *Snapshot) {
	h.Clear()
	h.Events.Replace(s.Events)
	h.Remap.Parts = append([]PartRemap(nil), s.Parts...)
	h.Remap.Vegetation = append([]VegetationRemap(nil), s.Vegetation...)
	h.Remap.Chunks = append([]int32(nil), s.Chunks...)
}

// Snapshot captures the history with the mesh cache journal and budget.
func (h *History) Snapshot(journal []meshcache.Removal, budgetKB int, opts SnapshotOptions) *Snapshot {
	s := &Snapshot{
		Version:        FormatVersion,
		Events:         h.Events.Events(),
		Parts:          append([]PartRemap(nil), h.Remap.Parts...),
		Vegetation:     append([]VegetationRemap(nil), h.Remap.Vegetation...),
		Chunks:         append([]int32(nil), h.Remap.Chunks...),
		Removals:       append([]meshcache.Removal(nil), journal...),
		MemoryBudgetKB: budgetKB,
	}
	for _, r := range h.Objects.Records() {
		s.Objects = append(s.Objects, ObjectEntry{
			Kind:     r.Kind,
			Entity:   r.Entity,
			Geometry: r.Geometry(),
			Mass:     r.Mass,
			Slot:     r.Slot,
		})
	}
	if opts.FreshWorld {
		for i := range s.Events {
			s.Events[i].State = core.StateGenerated
		}
	}
	return s
}

// Write encodes s to w.
func Write(w io.Writer, s *Snapshot) error {
	enc := msgpack.NewEncoder(w)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encoding break snapshot: %w", err)
	}
	return nil
}

// Read decodes a snapshot from r.
func Read(r io.Reader) (*Snapshot, error) {
	var s Snapshot
	if err := msgpack.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("decoding break snapshot: %w", err)
	}
	if s.Version != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, s.Version)
	}
	return &s, nil
}

// Marshal encodes s to bytes.
func Marshal(s *Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a snapshot from bytes.
func Unmarshal(data []byte) (*Snapshot, error) {
	return Read(bytes.NewReader(data))
}
