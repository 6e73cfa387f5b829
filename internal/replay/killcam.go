package replay

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/OCAP2/breakage/internal/breaklog"
	"github.com/OCAP2/breakage/internal/geometry"
	"github.com/OCAP2/breakage/pkg/core"
)

// StatusReader reads part state.
type StatusReader interface {
	Status(h core.PhysHandle, part int) (core.PartStatus, bool)
}

// Clone is the replay copy of one broken object.
type Clone struct {
	Object   int
	Original core.GeometryID
	Applied  int

	current   *geometry.Ref
	fragments []core.GeometryID
}

// Geometry returns the clone's current geometry, or 0 once it shattered.
func (c *Clone) Geometry() core.GeometryID {
	return c.current.ID()
}

// Fragments returns the fragment geometries produced so far.
func (c *Clone) Fragments() []core.GeometryID {
	return append([]core.GeometryID(nil), c.fragments...)
}

// Lookup maps object indices to their clones.
type Lookup struct {
	clones map[int]*Clone
	geo    core.GeometryService
}

// Get returns the clone of an object.
func (l *Lookup) Get(object int) (*Clone, bool) {
	c, ok := l.clones[object]
	return c, ok
}

// Len returns the number of clones.
func (l *Lookup) Len() int {
	return len(l.clones)
}

// Objects returns the cloned object indices in ascending order.
func (l *Lookup) Objects() []int {
	out := make([]int, 0, len(l.clones))
	for i := range l.clones {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Release frees every clone geometry.
func (l *Lookup) Release() {
	for _, c := range l.clones {
		c.current.Release()
		for _, f := range c.fragments {
			l.geo.Release(f)
		}
	}
	l.clones = map[int]*Clone{}
}

// Engine drives the instant-replay view from the break log.
type Engine struct {
	history  *breaklog.History
	geo      core.GeometryService
	renderer core.Renderer
	status   StatusReader
	log      *slog.Logger

	hidden map[int]core.GeometryID
}

// New returns an engine reading history.
func New(history *breaklog.History, geo core.GeometryService, renderer core.Renderer, status StatusReader, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		history:  history,
		geo:      geo,
		renderer: renderer,
		status:   status,
		log:      logger,
		hidden:   make(map[int]core.GeometryID),
	}
}

// HideByIndex hides the live broken geometry of the given objects so their
// clones can be shown in its place.
func (e *Engine) HideByIndex(objects []int) int {
	n := 0
	for _, i := range objects {
		if _, done := e.hidden[i]; done {
			continue
		}
		rec, ok := e.history.Objects.Get(i)
		if !ok || rec.Original == nil {
			continue
		}
		st, ok := e.status.Status(rec.Owner, rec.Slot)
		if !ok {
			continue
		}
		e.renderer.SetHidden(st.Geometry, true)
		e.hidden[i] = st.Geometry
		n++
	}
	return n
}

// UnhideByIndex reverses HideByIndex.
func (e *Engine) UnhideByIndex(objects []int) int {
	n := 0
	for _, i := range objects {
		g, ok := e.hidden[i]
		if !ok {
			continue
		}
		e.renderer.SetHidden(g, false)
		delete(e.hidden, i)
		n++
	}
	return n
}

// CloneByIndex copies the original geometry of each distinct object.
func (e *Engine) CloneByIndex(objects []int) *Lookup {
	l := &Lookup{clones: make(map[int]*Clone), geo: e.geo}
	for _, i := range objects {
		if _, ok := l.clones[i]; ok {
			continue
		}
		rec, ok := e.history.Objects.Get(i)
		if !ok || rec.Original == nil {
			continue
		}
		orig := rec.Geometry()
		l.clones[i] = &Clone{
			Object:   i,
			Original: orig,
			current:  geometry.NewRef(e.geo.Clone(orig), e.geo),
		}
	}
	return l
}

// ApplyUntil applies, in log order, every event in [first, until) whose
// object is in the lookup. It returns how many were applied.
func (e *Engine) ApplyUntil(ctx context.Context, first int, l *Lookup, until int) (int, error) {
	if until > e.history.Events.Len() {
		until = e.history.Events.Len()
	}
	n := 0
	for i := max(first, 0); i < until; i++ {
		ok, err := e.ApplySingle(ctx, i, l)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// ApplySingle reproduces one logged break on its clone.
func (e *Engine) ApplySingle(ctx context.Context, index int, l *Lookup) (bool, error) {
	ev, ok := e.history.Events.Get(index)
	if !ok || ev.ObjectIndex == core.NoObject {
		return false, nil
	}
	c, ok := l.clones[ev.ObjectIndex]
	if !ok || c.Geometry() == 0 {
		return false, nil
	}
	res, err := e.geo.ProcessPlaneImpact(ctx, core.PlaneImpact{IslandRequest: core.IslandRequest{
		Geometry:    c.Geometry(),
		Point:       ev.Transform.ToLocal(ev.Point),
		Normal:      ev.Transform.Rot.Conj().Rotate(ev.Normal),
		Seed:        ev.Seed,
		Prim:        ev.Prim,
		Radius:      ev.Radius,
		Energy:      ev.Energy,
		AutoShatter: ev.AutoShatter,
	}})
	if err != nil {
		return false, fmt.Errorf("replaying event %d: %w", index, err)
	}

	c.current.Release()
	if res.Empty || res.Remainder == 0 {
		c.current = nil
	} else {
		c.current = geometry.NewRef(res.Remainder, e.geo)
	}
	if res.Fragment != 0 {
		c.fragments = append(c.fragments, res.Fragment)
	}
	c.Applied++
	e.log.Debug("replayed break", "event", index, "object", ev.ObjectIndex, "geometry", c.Geometry())
	return true, nil
}
