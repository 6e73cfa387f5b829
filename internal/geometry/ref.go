// Package geometry provides shared-ownership handles over meshes owned by the
// geometry service.
package geometry

import (
	"sync/atomic"

	"github.com/OCAP2/breakage/pkg/core"
)

// Releaser gives a geometry back to its owner once no record references it.
type Releaser interface {
	Release(g core.GeometryID)
}

// Ref is a reference-counted handle to one geometry. Every holder calls
// Release exactly once; the last release returns the geometry to the service.
type Ref struct {
	id       core.GeometryID
	refs     atomic.Int32
	releaser Releaser
}

// NewRef wraps id with a count of one. A nil releaser makes release a no-op.
func NewRef(id core.GeometryID, r Releaser) *Ref {
	ref := &Ref{id: id, releaser: r}
	ref.refs.Store(1)
	return ref
}

// ID returns the wrapped geometry, or zero after the final release.
func (r *Ref) ID() core.GeometryID {
	if r == nil || r.refs.Load() <= 0 {
		return 0
	}
	return r.id
}

// Acquire adds a holder and returns the same handle.
func (r *Ref) Acquire() *Ref {
	if r == nil {
		return nil
	}
	r.refs.Add(1)
	return r
}

// Release drops one holder. It reports whether this was the last one.
func (r *Ref) Release() bool {
	if r == nil {
		return false
	}
	n := r.refs.Add(-1)
	if n == 0 {
		if r.releaser != nil && r.id != 0 {
			r.releaser.Release(r.id)
		}
		return true
	}
	if n < 0 {
		r.refs.Store(0)
	}
	return false
}

// Refs returns the current holder count.
func (r *Ref) Refs() int {
	if r == nil {
		return 0
	}
	return int(r.refs.Load())
}
