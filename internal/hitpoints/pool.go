// Package hitpoints accumulates per-part impact damage so that repeated small
// hits can eventually break a surface.
package hitpoints

import (
	"time"

	"github.com/OCAP2/breakage/pkg/core"
)

const (
	// BlockSize is how many records the arena grows by when the free list is empty.
	BlockSize = 32
	// MaxClusters bounds the impact clusters tracked per record.
	MaxClusters = 64
)

// Key identifies the part a record accumulates damage for.
type Key struct {
	Handle core.PhysHandle
	Part   int
}

// Handle addresses a pooled record. A handle from a released record fails
// lookups because its generation no longer matches.
type Handle struct {
	index uint32
	gen   uint32
}

// Cluster is a group of nearby impacts in part-local space.
type Cluster struct {
	Pos    core.Vec3
	Damage float64
}

type record struct {
	key   Key
	gen   uint32
	inUse bool
	next  int32

	clusters  []Cluster
	hitPoints float64
	secondary float64
	maxDamage float64
	radius    float64
	lifetime  time.Duration
	lastHit   time.Duration
}

// Pool owns every hit record. It is not safe for concurrent use; it lives on
// the simulation goroutine.
type Pool struct {
	records []record
	free    int32
	byKey   map[Key]Handle
}

// NewPool returns an empty pool. The first allocation grows it by one block.
func NewPool() *Pool {
	return &Pool{
		free:  -1,
		byKey: make(map[Key]Handle),
	}
}

func (p *Pool) grow() {
	base := len(p.records)
	for i := 0; i < BlockSize; i++ {
		p.records = append(p.records, record{next: p.free})
		p.free = int32(base + i)
	}
}

func (p *Pool) acquire(key Key) Handle {
	if p.free < 0 {
		p.grow()
	}
	idx := p.free
	r := &p.records[idx]
	p.free = r.next
	r.inUse = true
	r.key = key
	r.next = -1
	r.clusters = r.clusters[:0]
	h := Handle{index: uint32(idx), gen: r.gen}
	p.byKey[key] = h
	return h
}

func (p *Pool) release(h Handle) {
	r, ok := p.lookup(h)
	if !ok {
		return
	}
	delete(p.byKey, r.key)
	r.inUse = false
	r.gen++
	r.clusters = r.clusters[:0]
	r.next = p.free
	p.free = int32(h.index)
}

func (p *Pool) lookup(h Handle) (*record, bool) {
	if int(h.index) >= len(p.records) {
		return nil, false
	}
	r := &p.records[h.index]
	if !r.inUse || r.gen != h.gen {
		return nil, false
	}
	return r, true
}

// Find returns the handle of the record for key, if any.
func (p *Pool) Find(key Key) (Handle, bool) {
	h, ok := p.byKey[key]
	return h, ok
}

// Valid reports whether h still addresses a live record.
func (p *Pool) Valid(h Handle) bool {
	_, ok := p.lookup(h)
	return ok
}

// Apply adds damage at a world-space point on the part described by xform.
// It returns true when a cluster reaches the record's threshold; the cluster
// is consumed and the threshold drops to the material's secondary value.
// Materials without hit points always break.
func (p *Pool) Apply(key Key, mat core.Material, xform core.Transform, point core.Vec3, damage float64, now time.Duration) bool {
	if mat.HitPoints <= 0 {
		return true
	}

	h, ok := p.byKey[key]
	if !ok {
		h = p.acquire(key)
		r := &p.records[h.index]
		r.hitPoints = mat.HitPoints
		r.secondary = mat.SecondaryHitPoints()
		r.maxDamage = mat.HitMaxDamage
		r.radius = mat.HitRadius
		r.lifetime = mat.HitLifetime
	}
	r := &p.records[h.index]
	r.lastHit = now

	local := xform.ToLocal(point)
	dmg := damage
	if r.maxDamage > 0 && dmg > r.maxDamage {
		dmg = r.maxDamage
	}

	best, found := -1, false
	bestDist := 0.0
	for i, c := range r.clusters {
		d := c.Pos.Sub(local).LenSq()
		if !found || d < bestDist {
			best, bestDist, found = i, d, true
		}
	}

	if !found || (bestDist > r.radius*r.radius && len(r.clusters) < MaxClusters) {
		r.clusters = append(r.clusters, Cluster{Pos: local, Damage: dmg})
		best = len(r.clusters) - 1
	} else {
		c := &r.clusters[best]
		total := c.Damage + dmg
		if total > 0 {
			c.Pos = c.Pos.Scale(c.Damage).Add(local.Scale(dmg)).Scale(1 / total)
		}
		c.Damage = total
	}

	if r.clusters[best].Damage >= r.hitPoints {
		last := len(r.clusters) - 1
		r.clusters[best] = r.clusters[last]
		r.clusters = r.clusters[:last]
		r.hitPoints = r.secondary
		return true
	}
	return false
}

// Erase drops the record for key.
func (p *Pool) Erase(key Key) {
	if h, ok := p.byKey[key]; ok {
		p.release(h)
	}
}

// EraseHandle drops every record belonging to a physical entity.
func (p *Pool) EraseHandle(handle core.PhysHandle) {
	for key, h := range p.byKey {
		if key.Handle == handle {
			p.release(h)
		}
	}
}

// Sweep recycles records idle for longer than their lifetime and returns how
// many were released.
func (p *Pool) Sweep(now time.Duration) int {
	n := 0
	for _, h := range p.byKey {
		r := &p.records[h.index]
		if r.lifetime > 0 && now-r.lastHit > r.lifetime {
			p.release(h)
			n++
		}
	}
	return n
}

// Threshold returns the current break threshold for key.
func (p *Pool) Threshold(key Key) (float64, bool) {
	h, ok := p.byKey[key]
	if !ok {
		return 0, false
	}
	return p.records[h.index].hitPoints, true
}

// Clusters returns a copy of the clusters tracked for key.
func (p *Pool) Clusters(key Key) []Cluster {
	h, ok := p.byKey[key]
	if !ok {
		return nil
	}
	out := make([]Cluster, len(p.records[h.index].clusters))
	copy(out, p.records[h.index].clusters)
	return out
}

// Len returns the number of live records.
func (p *Pool) Len() int {
	return len(p.byKey)
}

// Cap returns the arena size.
func (p *Pool) Cap() int {
	return len(p.records)
}

// Clear releases every record but keeps the arena.
func (p *Pool) Clear() {
	for _, h := range p.byKey {
		p.release(h)
	}
}
