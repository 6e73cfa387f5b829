// pkg/core/vector.go
package core

import "math"

// Vec3 is a position or direction in world or part-local space, in metres.
type Vec3 struct {
	_msgpack struct{} `msgpack:",as_array"`
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
	Z        float64  `json:"z"`
}

// V builds a Vec3.
func V(x, y, z float64) Vec3 {
	return Vec3{X: x, Y: y, Z: z}
}

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }

func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z} }

func (v Vec3) Scale(s float64) Vec3 { return Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s} }

func (v Vec3) Neg() Vec3 { return Vec3{X: -v.X, Y: -v.Y, Z: -v.Z} }

func (v Vec3) Dot(o Vec3) float64 { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }

func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		X: v.Y*o.Z - v.Z*o.Y,
		Y: v.Z*o.X - v.X*o.Z,
		Z: v.X*o.Y - v.Y*o.X,
	}
}

// LenSq returns the squared length.
func (v Vec3) LenSq() float64 { return v.Dot(v) }

// Len returns the length.
func (v Vec3) Len() float64 { return math.Sqrt(v.LenSq()) }

// ManhattanLen returns |x|+|y|+|z|.
func (v Vec3) ManhattanLen() float64 {
	return math.Abs(v.X) + math.Abs(v.Y) + math.Abs(v.Z)
}

// Axis returns the component at index 0, 1 or 2.
func (v Vec3) Axis(i int) float64 {
	switch i {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

// Quat is a unit rotation quaternion. The zero value is treated as identity.
type Quat struct {
	_msgpack struct{} `msgpack:",as_array"`
	W        float64  `json:"w"`
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
	Z        float64  `json:"z"`
}

// IdentityQuat returns the identity rotation.
func IdentityQuat() Quat {
	return Quat{W: 1}
}

// QuatAxisAngle builds a rotation of angle radians about axis.
func QuatAxisAngle(axis Vec3, angle float64) Quat {
	l := axis.Len()
	if l == 0 {
		return IdentityQuat()
	}
	s := math.Sin(angle/2) / l
	return Quat{W: math.Cos(angle / 2), X: axis.X * s, Y: axis.Y * s, Z: axis.Z * s}
}

func (q Quat) normalized() Quat {
	if q.W == 0 && q.X == 0 && q.Y == 0 && q.Z == 0 {
		return IdentityQuat()
	}
	return q
}

// Conj returns the inverse of a unit quaternion.
func (q Quat) Conj() Quat {
	q = q.normalized()
	return Quat{W: q.W, X: -q.X, Y: -q.Y, Z: -q.Z}
}

// Rotate applies the rotation to v.
func (q Quat) Rotate(v Vec3) Vec3 {
	q = q.normalized()
	u := Vec3{X: q.X, Y: q.Y, Z: q.Z}
	t := u.Cross(v).Scale(2)
	return v.Add(t.Scale(q.W)).Add(u.Cross(t))
}

// Transform places a part in the world.
type Transform struct {
	_msgpack struct{} `msgpack:",as_array"`
	Pos      Vec3     `json:"pos"`
	Rot      Quat     `json:"rot"`
	Scale    float64  `json:"scale"`
}

// Identity returns a transform at the origin with unit scale.
func Identity() Transform {
	return Transform{Rot: IdentityQuat(), Scale: 1}
}

// EffectiveScale treats a zero scale as 1.
func (t Transform) EffectiveScale() float64 {
	if t.Scale == 0 {
		return 1
	}
	return t.Scale
}

// ToLocal maps a world point into the transform's local frame.
func (t Transform) ToLocal(p Vec3) Vec3 {
	return t.Rot.Conj().Rotate(p.Sub(t.Pos)).Scale(1 / t.EffectiveScale())
}

// ToWorld maps a local point into world space.
func (t Transform) ToWorld(p Vec3) Vec3 {
	return t.Rot.Rotate(p.Scale(t.EffectiveScale())).Add(t.Pos)
}

// BBox is an axis-aligned box.
type BBox struct {
	_msgpack struct{} `msgpack:",as_array"`
	Min      Vec3     `json:"min"`
	Max      Vec3     `json:"max"`
}

// Center returns the midpoint of the box.
func (b BBox) Center() Vec3 {
	return b.Min.Add(b.Max).Scale(0.5)
}

// Half returns the half extents.
func (b BBox) Half() Vec3 {
	return b.Max.Sub(b.Min).Scale(0.5)
}

// LargestAxis returns the index of the longest side.
func (b BBox) LargestAxis() int {
	h := b.Half()
	axis := 0
	if h.Y > h.Axis(axis) {
		axis = 1
	}
	if h.Z > h.Axis(axis) {
		axis = 2
	}
	return axis
}

// Volume returns the box volume.
func (b BBox) Volume() float64 {
	d := b.Max.Sub(b.Min)
	return d.X * d.Y * d.Z
}
