package geometry

import (
	"testing"

	"github.com/OCAP2/breakage/pkg/core"
	"github.com/stretchr/testify/assert"
)

type countingReleaser struct {
	released []core.GeometryID
}

func (c *countingReleaser) Release(g core.GeometryID) {
	c.released = append(c.released, g)
}

func TestRef_LastReleaseReturnsGeometry(t *testing.T) {
	rel := &countingReleaser{}
	ref := NewRef(7, rel)
	ref.Acquire()
	assert.Equal(t, 2, ref.Refs())

	assert.False(t, ref.Release())
	assert.Empty(t, rel.released)
	assert.Equal(t, core.GeometryID(7), ref.ID())

	assert.True(t, ref.Release())
	assert.Equal(t, []core.GeometryID{7}, rel.released)
	assert.Equal(t, core.GeometryID(0), ref.ID())
}

func TestRef_OverReleaseIsHarmless(t *testing.T) {
	rel := &countingReleaser{}
	ref := NewRef(3, rel)
	ref.Release()
	ref.Release()
	assert.Len(t, rel.released, 1)
	assert.Equal(t, 0, ref.Refs())
}

func TestRef_Nil(t *testing.T) {
	var ref *Ref
	assert.Nil(t, ref.Acquire())
	assert.False(t, ref.Release())
	assert.Equal(t, core.GeometryID(0), ref.ID())
}
