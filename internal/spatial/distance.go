package spatial

import (
	"github.com/golang/geo/s2"
	"github.com/paulmach/orb/planar"
)

// HaversineDistance calculates the great-circle distance between two points in meters
func HaversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

// Distance returns the great-circle distance between two points in meters
func Distance(a, b Point) float64 {
	return HaversineDistance(a.Lat, a.Lon, b.Lat, b.Lon)
}

// PlanarDistance returns the Euclidean distance between two points measured
// directly in degrees. The cleaning thresholds of the trip corpus are expressed
// in this unit.
func PlanarDistance(a, b Point) float64 {
	return planar.Distance(a.Orb(), b.Orb())
}

// Constants
const (
	EarthRadiusMeters = 6371000.0 // Earth's mean radius in meters
	MetersPerDegree   = 111320.0  // length of one degree of latitude
)
