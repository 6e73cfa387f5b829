package geo

import (
	"errors"
	"strconv"
	"strings"

	"github.com/OCAP2/breakage/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

// Geometry here is in engine-local metres. X and Y span the ground plane and
// Z is height, so a GeoJSON viewer shows a top-down map of the level.

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// Vec3FromString parses "x,y" or "x,y,z".
func Vec3FromString(coords string) (core.Vec3, error) {
	parts := strings.Split(coords, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return core.Vec3{}, ErrInvalidCoordinates
	}
	var v [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return core.Vec3{}, ErrInvalidCoordinates
		}
		v[i] = f
	}
	return core.V(v[0], v[1], v[2]), nil
}

// PointFromVec3 returns an XYZ point.
func PointFromVec3(v core.Vec3) geom.Point {
	return geom.NewPoint(
		geom.Coordinates{
			XY:   geom.XY{X: v.X, Y: v.Y},
			Z:    v.Z,
			Type: geom.DimXYZ,
		},
	)
}

// FootprintRing returns the closed ground outline of a box placed by t: the
// four corners of its lowest local face, in world XY.
func FootprintRing(b core.BBox, t core.Transform) geom.LineString {
	corners := [4]core.Vec3{
		core.V(b.Min.X, b.Min.Y, b.Min.Z),
		core.V(b.Max.X, b.Min.Y, b.Min.Z),
		core.V(b.Max.X, b.Max.Y, b.Min.Z),
		core.V(b.Min.X, b.Max.Y, b.Min.Z),
	}
	flat := make([]float64, 0, 10)
	for _, c := range corners {
		w := t.ToWorld(c)
		flat = append(flat, w.X, w.Y)
	}
	flat = append(flat, flat[0], flat[1])
	return geom.NewLineString(geom.NewSequence(flat, geom.DimXY))
}
