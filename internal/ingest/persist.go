package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/OCAP2/breakage/internal/breaklog"
	"github.com/OCAP2/breakage/internal/geometry"
	"github.com/OCAP2/breakage/internal/replay"
	"github.com/OCAP2/breakage/pkg/core"
)

// Snapshot captures the break history for saving or for a joining peer.
func (s *Session) Snapshot(opts breaklog.SnapshotOptions) *breaklog.Snapshot {
	return s.history.Snapshot(s.meshes.Journal(), s.meshes.Budget(), opts)
}

// Restore reverts every broken object to its original geometry, then drops
// the history. It returns how many objects were reverted.
func (s *Session) Restore() int {
	s.sched.CancelAll()
	n := replay.Restore(s.deps.Physics, s.history.Objects.Records())
	s.ClearHistory()
	return n
}

// Load restores the world and rebuilds it from snap. Generated events run
// through the break pipeline in log order; processed events only get their
// object records back for the instant-replay view.
func (s *Session) Load(ctx context.Context, snap *breaklog.Snapshot) error {
	if snap == nil {
		return errors.New("nil snapshot")
	}
	if snap.Version != breaklog.FormatVersion {
		return fmt.Errorf("%w: %d", breaklog.ErrUnknownVersion, snap.Version)
	}
	reverted := s.Restore()

	s.history.Install(snap)
	s.meshes.SetJournal(snap.Removals)
	if snap.MemoryBudgetKB > 0 {
		s.meshes.SetBudget(snap.MemoryBudgetKB)
		defer s.meshes.SetBudget(s.cfg.Mesh.BudgetKB)
	}

	generated, processed := replay.Pending(snap.Events)
	for _, obj := range processed {
		if obj < 0 || obj >= len(snap.Objects) {
			continue
		}
		o := snap.Objects[obj]
		h, _ := s.deps.Physics.Resolve(o.Entity)
		s.history.Objects.Put(obj, breaklog.ObjectRecord{
			Kind:     o.Kind,
			Owner:    h,
			Entity:   o.Entity,
			Original: geometry.NewRef(o.Geometry, s.deps.Geometry),
			Mass:     o.Mass,
			Slot:     o.Slot,
		})
	}

	s.loading = true
	defer func() { s.loading = false }()
	for _, idx := range generated {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("loading break history: %w", err)
		}
		s.apply(ctx, idx)
	}

	s.log.Info("break history loaded",
		"events", len(snap.Events),
		"replayed", len(generated),
		"objects", s.history.Objects.Len(),
		"reverted", reverted)
	return nil
}

// ReplayObjects returns the object indices touched by events before until.
func (s *Session) ReplayObjects(until int) []int {
	seen := make(map[int]bool)
	var out []int
	for i, ev := range s.history.Events.Events() {
		if i >= until {
			break
		}
		if ev.ObjectIndex != core.NoObject && !seen[ev.ObjectIndex] {
			seen[ev.ObjectIndex] = true
			out = append(out, ev.ObjectIndex)
		}
	}
	return out
}

// Replay returns an instant-replay engine over this session's history.
func (s *Session) Replay() *replay.Engine {
	return replay.New(s.history, s.deps.Geometry, s.deps.Renderer, s.deps.Physics, s.log)
}
