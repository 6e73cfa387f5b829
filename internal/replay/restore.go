// Package replay reverts broken objects to their original geometry and
// rebuilds break results on cloned geometry for the instant-replay camera.
package replay

import (
	"github.com/OCAP2/breakage/internal/breaklog"
	"github.com/OCAP2/breakage/pkg/core"
)

// Reverter is the physics view Restore needs.
type Reverter interface {
	Exists(h core.PhysHandle) bool
	Resolve(id core.EntityID) (core.PhysHandle, bool)
	SetPartGeometry(h core.PhysHandle, part int, g core.GeometryID) bool
}

// Restore puts every recorded object back to its original geometry and
// returns how many were reverted. Records whose owner is gone are skipped.
func Restore(w Reverter, records []breaklog.ObjectRecord) int {
	n := 0
	for _, rec := range records {
		g := rec.Geometry()
		if g == 0 {
			continue
		}
		h := rec.Owner
		if h == 0 || !w.Exists(h) {
			var ok bool
			if h, ok = w.Resolve(rec.Entity); !ok {
				continue
			}
		}
		if w.SetPartGeometry(h, rec.Slot, g) {
			n++
		}
	}
	return n
}

// Pending splits a loaded log into the events that still have to run, in log
// order, and the object indices already produced by processed events.
func Pending(events []core.BreakEvent) (generated []int, processed []int) {
	seen := make(map[int]bool)
	for i, ev := range events {
		switch ev.State {
		case core.StateGenerated:
			generated = append(generated, i)
		case core.StateProcessed:
			if ev.ObjectIndex != core.NoObject && !seen[ev.ObjectIndex] {
				seen[ev.ObjectIndex] = true
				processed = append(processed, ev.ObjectIndex)
			}
		}
	}
	return generated, processed
}
