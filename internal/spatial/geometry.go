package spatial

import (
	"math"

	"github.com/paulmach/orb"
)

// Point represents a GPS fix with latitude and longitude in degrees.
// Two points are equal only when both coordinates match exactly.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Orb converts the point to an orb point (lon, lat order)
func (p Point) Orb() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

// FromOrb converts an orb point (lon, lat order) to a Point
func FromOrb(p orb.Point) Point {
	return Point{Lat: p.Lat(), Lon: p.Lon()}
}

// LineString converts a sequence of points to an orb line string
func LineString(points []Point) orb.LineString {
	ls := make(orb.LineString, len(points))
	for i, p := range points {
		ls[i] = p.Orb()
	}
	return ls
}

// PathLength calculates the total length of a path (sequence of points) in meters
func PathLength(points []Point) float64 {
	if len(points) < 2 {
		return 0
	}

	var totalDist float64
	for i := 1; i < len(points); i++ {
		totalDist += Distance(points[i-1], points[i])
	}

	return totalDist
}

// BoundingBox calculates the bounding box of a set of points
func BoundingBox(points []Point) orb.Bound {
	if len(points) == 0 {
		return orb.Bound{}
	}

	bound := points[0].Orb().Bound()
	for _, p := range points[1:] {
		bound = bound.Extend(p.Orb())
	}
	return bound
}

// PadBound grows a bounding box by padding meters on every side.
// The longitude padding is scaled by the cosine of the box's mean latitude.
func PadBound(b orb.Bound, padding float64) orb.Bound {
	avgLat := (b.Min.Lat() + b.Max.Lat()) / 2 * math.Pi / 180
	latPad := padding / MetersPerDegree
	lonPad := padding / (MetersPerDegree * math.Cos(avgLat))

	return orb.Bound{
		Min: orb.Point{b.Min.Lon() - lonPad, b.Min.Lat() - latPad},
		Max: orb.Point{b.Max.Lon() + lonPad, b.Max.Lat() + latPad},
	}
}

// PaddedBoundingBox returns the bounding box of points grown by padding meters
func PaddedBoundingBox(points []Point, padding float64) orb.Bound {
	return PadBound(BoundingBox(points), padding)
}

// MergeBounds returns the smallest bound containing every input bound
func MergeBounds(bounds ...orb.Bound) orb.Bound {
	if len(bounds) == 0 {
		return orb.Bound{}
	}

	merged := bounds[0]
	for _, b := range bounds[1:] {
		merged = merged.Union(b)
	}
	return merged
}
