// Package meshcache tracks the memory held by broken geometry and reverts the
// least relevant pieces when a budget is exceeded.
package meshcache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/OCAP2/breakage/pkg/core"
)

// Order selects how eviction candidates are ranked.
type Order string

const (
	// OrderVisibility evicts the farthest entry not drawn recently, and only
	// falls back to recently drawn entries when none remain.
	OrderVisibility Order = "visibility"
	// OrderDistance evicts the farthest entry regardless of visibility.
	OrderDistance Order = "distance"
)

// ParseOrder validates an order name.
func ParseOrder(s string) (Order, error) {
	switch Order(s) {
	case OrderVisibility, OrderDistance:
		return Order(s), nil
	case "":
		return OrderVisibility, nil
	}
	return "", fmt.Errorf("unknown eviction order %q", s)
}

// Reason says why an entry left the cache.
type Reason uint8

const (
	Evicted Reason = iota
	Expired
	Superseded
	Removed
	Stale
)

func (r Reason) String() string {
	switch r {
	case Evicted:
		return "evicted"
	case Expired:
		return "expired"
	case Superseded:
		return "superseded"
	case Stale:
		return "stale"
	default:
		return "removed"
	}
}

// Config holds the budget and eviction knobs.
type Config struct {
	BudgetKB         int
	VisibilityFrames uint64
	Order            Order
}

// World is the physics view the cache needs.
type World interface {
	Exists(h core.PhysHandle) bool
	Status(h core.PhysHandle, part int) (core.PartStatus, bool)
	Resolve(id core.EntityID) (core.PhysHandle, bool)
	SetPartGeometry(h core.PhysHandle, part int, g core.GeometryID) bool
	RemovePart(h core.PhysHandle, part int) bool
}

// View is the rendering view the cache needs.
type View interface {
	ViewerPosition() core.Vec3
	Frame() uint64
	LastDrawFrame(h core.PhysHandle) uint64
}

// Sizer estimates geometry memory.
type Sizer interface {
	Footprint(g core.GeometryID) core.Footprint
}

// Spawner plays the fracture effect of an entry when it is freed.
type Spawner interface {
	Spawn(name string, at core.Vec3, normal core.Vec3)
}

// Dependencies are the collaborators of a Cache. Effects may be nil.
type Dependencies struct {
	World   World
	View    View
	Sizer   Sizer
	Effects Spawner
	Logger  *slog.Logger
}

// Key identifies one broken part.
type Key struct {
	Owner core.PhysHandle
	Part  int
}

// Entry is one tracked broken mesh.
type Entry struct {
	Key
	Entity     core.EntityID
	Geometry   core.GeometryID
	Original   core.GeometryID
	SizeKB     int
	Timeout    time.Duration
	hadTimeout bool
	FX         string
	FXAt       core.Vec3
	FXNormal   core.Vec3
	Deforming  bool
	Registered uint64
}

// Removal is one journaled eviction. A Removal with Part -1 separates the
// batches produced by successive registrations.
type Removal struct {
	_msgpack struct{}      `msgpack:",as_array"`
	Entity   core.EntityID `json:"entity"`
	Part     int           `json:"part"`
}

// Separator marks the end of one registration's evictions.
var Separator = Removal{Part: -1}

// IsSeparator reports whether r ends a batch.
func (r Removal) IsSeparator() bool {
	return r.Part < 0
}

// RegisterOptions carry the optional parts of a registration.
type RegisterOptions struct {
	Original core.GeometryID
	Timeout  time.Duration
	FX       string
	FXAt     core.Vec3
	FXNormal core.Vec3
	// Deforming marks a part whose mesh is still being updated.
	Deforming bool
	// Loading with Authoritative replays the journal instead of scoring.
	Loading       bool
	Authoritative bool
}

// FreeFunc observes entries leaving the cache.
type FreeFunc func(e Entry, reason Reason)

// Cache is the broken-mesh memory cache. It is owned by the simulation
// goroutine.
type Cache struct {
	cfg  Config
	deps Dependencies
	log  *slog.Logger

	entries map[Key]*Entry
	total   int
	seq     uint64

	journal       []Removal
	journalCursor int

	onFree FreeFunc
	inst   instruments
}

// New returns an empty cache.
func New(cfg Config, deps Dependencies) *Cache {
	if cfg.Order == "" {
		cfg.Order = OrderVisibility
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		cfg:     cfg,
		deps:    deps,
		log:     logger,
		entries: make(map[Key]*Entry),
		inst:    newInstruments(),
	}
}

// OnFree installs a hook called for every entry that leaves the cache.
func (c *Cache) OnFree(fn FreeFunc) {
	c.onFree = fn
}

// SetBudget changes the budget. The next registration enforces it.
func (c *Cache) SetBudget(kb int) {
	c.cfg.BudgetKB = kb
}

// Budget returns the budget in KB.
func (c *Cache) Budget() int {
	return c.cfg.BudgetKB
}

// Total returns the tracked size in KB.
func (c *Cache) Total() int {
	return c.total
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	return len(c.entries)
}

// Get returns the entry for key.
func (c *Cache) Get(key Key) (Entry, bool) {
	e, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// SizeKB converts a footprint to tracked kilobytes.
func SizeKB(f core.Footprint) int {
	return (f.Total() + 512) >> 10
}

// Register tracks the geometry now attached to (owner, part) and enforces the
// budget. A zero geometry only removes the existing entry. It returns the
// keys evicted to make room.
func (c *Cache) Register(owner core.PhysHandle, part int, g core.GeometryID, opts RegisterOptions) []Key {
	if c.cfg.BudgetKB <= 0 && opts.Timeout <= 0 {
		return nil
	}
	key := Key{Owner: owner, Part: part}

	size := 0
	if g != 0 {
		size = SizeKB(c.deps.Sizer.Footprint(g))
	}
	if old, ok := c.entries[key]; ok {
		if g != 0 && old.SizeKB == size {
			return nil
		}
		c.remove(old, Superseded, false)
	}
	if g == 0 {
		return nil
	}

	c.seq++
	e := &Entry{
		Key:        key,
		Geometry:   g,
		Original:   opts.Original,
		SizeKB:     size,
		Timeout:    opts.Timeout,
		hadTimeout: opts.Timeout > 0,
		FX:         opts.FX,
		FXAt:       opts.FXAt,
		FXNormal:   opts.FXNormal,
		Deforming:  opts.Deforming,
		Registered: c.seq,
	}
	if st, ok := c.deps.World.Status(owner, part); ok {
		e.Entity = st.Entity
		if e.Original == 0 && st.Geometry != g {
			e.Original = st.Geometry
		}
	}
	c.entries[key] = e
	c.total += size

	var evicted []Key
	if opts.Loading && opts.Authoritative {
		evicted = c.replayJournal()
	} else if c.cfg.BudgetKB > 0 {
		evicted = c.evict(key)
		c.journal = append(c.journal, Separator)
	}
	c.recordSize()
	return evicted
}

// SetDeforming flags whether an entry's mesh is still being updated.
// Deforming entries are never evicted.
func (c *Cache) SetDeforming(key Key, deforming bool) {
	if e, ok := c.entries[key]; ok {
		e.Deforming = deforming
	}
}

type candidate struct {
	entry *Entry
	dist  float64
}

func (c *Cache) evict(just Key) []Key {
	var evicted []Key
	for c.total > c.cfg.BudgetKB {
		frame := c.deps.View.Frame()
		viewer := c.deps.View.ViewerPosition()

		var visible, hidden candidate
		foundVisible, foundHidden := false, false

		for _, e := range c.sorted() {
			if !c.deps.World.Exists(e.Owner) {
				c.remove(e, Stale, false)
				continue
			}
			if e.Key == just || e.Deforming {
				continue
			}
			st, ok := c.deps.World.Status(e.Owner, e.Part)
			if !ok {
				continue
			}
			if st.MeshUpdating {
				continue
			}
			d := st.Transform.Pos.Sub(viewer).LenSq()
			lastDraw := c.deps.View.LastDrawFrame(e.Owner)
			isVisible := e.Owner == just.Owner || (lastDraw <= frame && frame-lastDraw < c.cfg.VisibilityFrames)
			if c.cfg.Order == OrderDistance {
				isVisible = false
			}
			if isVisible {
				if !foundVisible || d > visible.dist {
					visible, foundVisible = candidate{entry: e, dist: d}, true
				}
			} else if !foundHidden || d > hidden.dist {
				hidden, foundHidden = candidate{entry: e, dist: d}, true
			}
		}

		var victim *Entry
		switch {
		case foundHidden:
			victim = hidden.entry
		case foundVisible:
			victim = visible.entry
		default:
			if c.total > c.cfg.BudgetKB {
				c.log.Debug("broken mesh budget exceeded with nothing evictable",
					"totalKB", c.total, "budgetKB", c.cfg.BudgetKB)
			}
			return evicted
		}
		c.journal = append(c.journal, Removal{Entity: victim.Entity, Part: victim.Part})
		evicted = append(evicted, victim.Key)
		c.remove(victim, Evicted, true)
		c.inst.evictions.Add(context.Background(), 1)
	}
	return evicted
}

func (c *Cache) replayJournal() []Key {
	var evicted []Key
	for c.journalCursor < len(c.journal) {
		r := c.journal[c.journalCursor]
		c.journalCursor++
		if r.IsSeparator() {
			break
		}
		h, ok := c.deps.World.Resolve(r.Entity)
		if !ok {
			continue
		}
		if e, ok := c.entries[Key{Owner: h, Part: r.Part}]; ok {
			evicted = append(evicted, e.Key)
			c.remove(e, Evicted, true)
		}
	}
	return evicted
}

// remove drops an entry. With revert set the part is put back to its
// original geometry, or hidden when there is none.
func (c *Cache) remove(e *Entry, reason Reason, revert bool) {
	delete(c.entries, e.Key)
	c.total -= e.SizeKB

	if revert {
		if e.Original != 0 {
			c.deps.World.SetPartGeometry(e.Owner, e.Part, e.Original)
		} else {
			c.deps.World.RemovePart(e.Owner, e.Part)
		}
		if e.hadTimeout && e.FX != "" && c.deps.Effects != nil {
			c.deps.Effects.Spawn(e.FX, e.FXAt, e.FXNormal)
		}
	}
	if c.onFree != nil {
		c.onFree(*e, reason)
	}
}

// Update advances timeouts by dt and frees expired entries.
func (c *Cache) Update(dt time.Duration) []Key {
	var expired []Key
	for _, e := range c.sorted() {
		if e.Timeout <= 0 {
			continue
		}
		e.Timeout -= dt
		if e.Timeout <= 0 {
			expired = append(expired, e.Key)
			c.remove(e, Expired, true)
			c.inst.expired.Add(context.Background(), 1)
		}
	}
	if len(expired) > 0 {
		c.recordSize()
	}
	return expired
}

// FreeOwner drops every entry owned by a destroyed entity without reverting.
func (c *Cache) FreeOwner(owner core.PhysHandle) int {
	n := 0
	for _, e := range c.sorted() {
		if e.Owner == owner {
			c.remove(e, Removed, false)
			n++
		}
	}
	if n > 0 {
		c.recordSize()
	}
	return n
}

// Free reverts one entry.
func (c *Cache) Free(key Key) bool {
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	c.remove(e, Removed, true)
	c.recordSize()
	return true
}

// Entries returns a copy of every entry ordered by registration.
func (c *Cache) Entries() []Entry {
	list := c.sorted()
	out := make([]Entry, len(list))
	for i, e := range list {
		out[i] = *e
	}
	return out
}

// Top returns the n largest entries, for the debug overlay.
func (c *Cache) Top(n int) []Entry {
	out := c.Entries()
	sort.SliceStable(out, func(i, j int) bool { return out[i].SizeKB > out[j].SizeKB })
	if n >= 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// Journal returns the eviction journal for persistence.
func (c *Cache) Journal() []Removal {
	return append([]Removal(nil), c.journal...)
}

// SetJournal installs a persisted journal and rewinds the replay cursor.
func (c *Cache) SetJournal(j []Removal) {
	c.journal = append([]Removal(nil), j...)
	c.journalCursor = 0
}

// Clear drops every entry without reverting and empties the journal.
func (c *Cache) Clear() {
	for _, e := range c.sorted() {
		c.remove(e, Removed, false)
	}
	c.total = 0
	c.journal = nil
	c.journalCursor = 0
	c.recordSize()
}

func (c *Cache) sorted() []*Entry {
	list := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Registered < list[j].Registered })
	return list
}

func (c *Cache) recordSize() {
	c.inst.sizeKB.Record(context.Background(), int64(c.total))
}
