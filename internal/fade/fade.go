// Package fade tracks debris spawned by breakage and fades it out.
package fade

import (
	"sort"
	"time"

	"github.com/OCAP2/breakage/pkg/core"
)

// Config holds the fade timing. A zero Time disables fading.
type Config struct {
	Delay time.Duration
	Time  time.Duration
}

// Step is what the caller must do to one entity this tick.
type Step struct {
	Handle            core.PhysHandle
	Opacity           float64
	DisableCollisions bool
	Remove            bool
}

type entry struct {
	spawned  time.Duration
	disabled bool
}

// Tracker holds the entities being faded.
type Tracker struct {
	cfg     Config
	entries map[core.PhysHandle]*entry
}

// New returns an empty tracker.
func New(cfg Config) *Tracker {
	return &Tracker{cfg: cfg, entries: make(map[core.PhysHandle]*entry)}
}

// Track starts the fade clock for h.
func (t *Tracker) Track(h core.PhysHandle, now time.Duration) {
	if t.cfg.Time <= 0 || h == 0 {
		return
	}
	if _, ok := t.entries[h]; !ok {
		t.entries[h] = &entry{spawned: now}
	}
}

// Forget stops tracking h.
func (t *Tracker) Forget(h core.PhysHandle) {
	delete(t.entries, h)
}

// Len returns the number of tracked entities.
func (t *Tracker) Len() int {
	return len(t.entries)
}

// Update returns the steps due at now, ordered by handle. Entities whose
// fade completed are dropped from the tracker.
func (t *Tracker) Update(now time.Duration) []Step {
	var steps []Step
	for h, e := range t.entries {
		elapsed := now - e.spawned - t.cfg.Delay
		if elapsed <= 0 {
			continue
		}
		if elapsed >= t.cfg.Time {
			steps = append(steps, Step{Handle: h, Opacity: 0, Remove: true})
			delete(t.entries, h)
			continue
		}
		s := Step{
			Handle:  h,
			Opacity: 1 - elapsed.Seconds()/(t.cfg.Time.Seconds()+0.01),
		}
		if !e.disabled {
			s.DisableCollisions = true
			e.disabled = true
		}
		steps = append(steps, s)
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Handle < steps[j].Handle })
	return steps
}

// Clear stops tracking everything.
func (t *Tracker) Clear() {
	t.entries = make(map[core.PhysHandle]*entry)
}
