package spatial

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHaversineDistance(t *testing.T) {
	// Porto Trindade to Aliados, roughly 400 m apart
	d := HaversineDistance(41.1527, -8.6092, 41.1486, -8.6110)
	assert.InDelta(t, 480, d, 60)

	assert.Zero(t, Distance(Point{Lat: 41.15, Lon: -8.61}, Point{Lat: 41.15, Lon: -8.61}))
}

func TestPlanarDistance(t *testing.T) {
	d := PlanarDistance(Point{Lat: 0, Lon: 0}, Point{Lat: 4, Lon: 3})
	assert.InDelta(t, 5.0, d, 1e-12)
}

func TestPathLengthOnEquatorIsProportional(t *testing.T) {
	long := PathLength([]Point{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 0.002}})
	short := PathLength([]Point{{Lat: 0, Lon: 0.002}, {Lat: 0, Lon: 0.003}})
	require.Greater(t, short, 0.0)
	assert.InDelta(t, 2.0, long/short, 1e-6)

	assert.Zero(t, PathLength([]Point{{Lat: 1, Lon: 1}}))
}

func TestBoundingBoxAndPadding(t *testing.T) {
	b := BoundingBox([]Point{{Lat: 41.1, Lon: -8.7}, {Lat: 41.2, Lon: -8.6}, {Lat: 41.15, Lon: -8.65}})
	assert.Equal(t, orb.Point{-8.7, 41.1}, b.Min)
	assert.Equal(t, orb.Point{-8.6, 41.2}, b.Max)

	padded := PadBound(b, 100)
	assert.InDelta(t, 41.1-100/MetersPerDegree, padded.Min.Lat(), 1e-9)
	assert.Less(t, padded.Min.Lon(), b.Min.Lon())
	assert.Greater(t, padded.Max.Lon(), b.Max.Lon())

	merged := MergeBounds(
		orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}},
		orb.Bound{Min: orb.Point{-1, 0.5}, Max: orb.Point{0.5, 2}},
	)
	assert.Equal(t, orb.Bound{Min: orb.Point{-1, 0}, Max: orb.Point{1, 2}}, merged)
}

func TestTileMath(t *testing.T) {
	tile := DegToTile(41.1496, -8.6109, 16)
	bound := TileBounds(tile)
	assert.True(t, bound.Contains(orb.Point{-8.6109, 41.1496}))

	tiles := TileRange(PadBound(bound, -1), 16)
	require.Len(t, tiles, 1)
	assert.Equal(t, tile, tiles[0])

	wide := TileRange(orb.Bound{Min: orb.Point{-8.70, 41.10}, Max: orb.Point{-8.55, 41.20}}, 13)
	assert.Greater(t, len(wide), 1)
	assert.Equal(t, 13, wide[0].Z)

	assert.Zero(t, MercatorY(0))
	assert.Greater(t, MercatorY(bound.Max.Lat()), MercatorY(bound.Min.Lat()))
}

func TestPolylineRoundTrip(t *testing.T) {
	points := []Point{{Lat: 41.148522, Lon: -8.585676}, {Lat: 41.148639, Lon: -8.585712}, {Lat: 41.14863, Lon: -8.5858}}

	decoded, err := DecodePolyline(EncodePolyline(points))
	require.NoError(t, err)
	require.Len(t, decoded, len(points))
	for i := range points {
		assert.InDelta(t, points[i].Lat, decoded[i].Lat, 1e-6)
		assert.InDelta(t, points[i].Lon, decoded[i].Lon, 1e-6)
	}

	empty, err := DecodePolyline("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
