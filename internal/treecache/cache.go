// Package treecache remembers cuts already computed on vegetation so a
// similar hit on the same source geometry can clone the pieces instead of
// running island extraction again.
package treecache

import (
	"math"

	"github.com/OCAP2/breakage/pkg/core"
)

// Config tunes lookups. A non-positive HeightTolerance disables reuse.
type Config struct {
	HeightTolerance float64
	SizeTolerance   float64
	Multiplayer     bool
}

// Liveness reports whether a physical entity still exists.
type Liveness interface {
	Exists(h core.PhysHandle) bool
}

// Cloner copies cut pieces from one entity onto another.
type Cloner interface {
	ClonePieces(src core.PhysHandle, pieces []int, dst core.PhysHandle) bool
}

// Instance is one cached cut. Height and size are stored divided by the
// object scale at registration.
type Instance struct {
	Source    core.GeometryID
	Owner     core.PhysHandle
	CutHeight float64
	CutSize   float64
	Pieces    []int
	Secondary bool
}

// Cache indexes instances by source geometry and by owner.
type Cache struct {
	cfg      Config
	live     Liveness
	bySource map[core.GeometryID][]*Instance
	byOwner  map[core.PhysHandle][]*Instance
	hits     int
	misses   int
}

// New returns an empty cache.
func New(cfg Config, live Liveness) *Cache {
	return &Cache{
		cfg:      cfg,
		live:     live,
		bySource: make(map[core.GeometryID][]*Instance),
		byOwner:  make(map[core.PhysHandle][]*Instance),
	}
}

// Enabled reports whether lookups can ever succeed.
func (c *Cache) Enabled() bool {
	return c.cfg.HeightTolerance > 0 && !c.cfg.Multiplayer
}

// Register records a freshly computed cut.
func (c *Cache) Register(src core.GeometryID, owner core.PhysHandle, height, size, scale float64, pieces ...int) *Instance {
	if scale <= 0 {
		scale = 1
	}
	inst := &Instance{
		Source:    src,
		Owner:     owner,
		CutHeight: height / scale,
		CutSize:   size / scale,
		Pieces:    append([]int(nil), pieces...),
	}
	c.bySource[src] = append(c.bySource[src], inst)
	c.byOwner[owner] = append(c.byOwner[owner], inst)
	return inst
}

// AddPiece attaches a generated part to the newest instance owned by owner.
func (c *Cache) AddPiece(owner core.PhysHandle, part int) bool {
	list := c.byOwner[owner]
	if len(list) == 0 {
		return false
	}
	inst := list[len(list)-1]
	inst.Pieces = append(inst.Pieces, part)
	return true
}

func (c *Cache) matches(inst *Instance, height, size, scale float64) bool {
	if math.Abs(inst.CutHeight*scale-height) > c.cfg.HeightTolerance {
		return false
	}
	return math.Abs(inst.CutSize*scale-size) <= size*scale*c.cfg.SizeTolerance
}

// Lookup returns a live instance on src within tolerance of height and size.
// Instances whose owner no longer exists are dropped as they are found.
func (c *Cache) Lookup(src core.GeometryID, height, size, scale float64) (*Instance, bool) {
	if !c.Enabled() {
		return nil, false
	}
	if scale <= 0 {
		scale = 1
	}
	list := c.bySource[src]
	for i := 0; i < len(list); i++ {
		inst := list[i]
		if c.live != nil && !c.live.Exists(inst.Owner) {
			c.Invalidate(inst.Owner, false)
			list = c.bySource[src]
			i = -1
			continue
		}
		if c.matches(inst, height, size, scale) {
			c.hits++
			return inst, true
		}
	}
	c.misses++
	return nil, false
}

// Reuse clones a matching instance onto dst. The clone is recorded as a
// secondary instance directly after the one it was copied from.
func (c *Cache) Reuse(cl Cloner, src core.GeometryID, dst core.PhysHandle, height, size, scale float64) bool {
	inst, ok := c.Lookup(src, height, size, scale)
	if !ok || len(inst.Pieces) == 0 {
		return false
	}
	if !cl.ClonePieces(inst.Owner, inst.Pieces, dst) {
		return false
	}
	clone := &Instance{
		Source:    src,
		Owner:     dst,
		CutHeight: inst.CutHeight,
		CutSize:   inst.CutSize,
		Pieces:    append([]int(nil), inst.Pieces...),
		Secondary: true,
	}
	list := c.bySource[src]
	at := len(list)
	for i, in := range list {
		if in == inst {
			at = i + 1
			break
		}
	}
	list = append(list, nil)
	copy(list[at+1:], list[at:])
	list[at] = clone
	c.bySource[src] = list
	c.byOwner[dst] = append(c.byOwner[dst], clone)
	return true
}

// Invalidate removes instances owned by owner. With onlyIfSecondary set,
// only cloned instances are removed.
func (c *Cache) Invalidate(owner core.PhysHandle, onlyIfSecondary bool) int {
	owned := c.byOwner[owner]
	if len(owned) == 0 {
		return 0
	}
	removed := 0
	keep := owned[:0]
	for _, inst := range owned {
		if onlyIfSecondary && !inst.Secondary {
			keep = append(keep, inst)
			continue
		}
		c.dropFromSource(inst)
		removed++
	}
	if len(keep) == 0 {
		delete(c.byOwner, owner)
	} else {
		c.byOwner[owner] = keep
	}
	return removed
}

func (c *Cache) dropFromSource(inst *Instance) {
	list := c.bySource[inst.Source]
	for i, in := range list {
		if in == inst {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(c.bySource, inst.Source)
	} else {
		c.bySource[inst.Source] = list
	}
}

// Instances returns the instances cached for src in lookup order.
func (c *Cache) Instances(src core.GeometryID) []*Instance {
	return append([]*Instance(nil), c.bySource[src]...)
}

// Len returns the number of cached instances.
func (c *Cache) Len() int {
	n := 0
	for _, list := range c.bySource {
		n += len(list)
	}
	return n
}

// Stats returns lookup hit and miss counts.
func (c *Cache) Stats() (hits, misses int) {
	return c.hits, c.misses
}

// Clear drops everything.
func (c *Cache) Clear() {
	c.bySource = make(map[core.GeometryID][]*Instance)
	c.byOwner = make(map[core.PhysHandle][]*Instance)
}
