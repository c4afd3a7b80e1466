package spatial

import (
	"math"

	"github.com/paulmach/orb"
)

// Tile addresses a slippy-map tile
type Tile struct {
	Z int
	X int
	Y int
}

// DegToTile returns the tile containing the given coordinate at the zoom level
// https://wiki.openstreetmap.org/wiki/Slippy_map_tilenames
func DegToTile(lat, lon float64, zoom int) Tile {
	latRad := lat * math.Pi / 180
	n := float64(int(1) << zoom)
	x := int((lon + 180.0) / 360.0 * n)
	y := int((1.0 - math.Asinh(math.Tan(latRad))/math.Pi) / 2.0 * n)
	return Tile{Z: zoom, X: x, Y: y}
}

// TileBounds returns the geographic bound covered by a tile
func TileBounds(t Tile) orb.Bound {
	n := math.Pow(2, float64(t.Z))
	lonLeft := float64(t.X)/n*360.0 - 180.0
	lonRight := float64(t.X+1)/n*360.0 - 180.0
	latTop := math.Atan(math.Sinh(math.Pi*(1-2*float64(t.Y)/n))) * 180 / math.Pi
	latBottom := math.Atan(math.Sinh(math.Pi*(1-2*float64(t.Y+1)/n))) * 180 / math.Pi

	return orb.Bound{
		Min: orb.Point{lonLeft, latBottom},
		Max: orb.Point{lonRight, latTop},
	}
}

// TileRange returns every tile intersecting the bound at the zoom level,
// row by row from north to south
func TileRange(b orb.Bound, zoom int) []Tile {
	t1 := DegToTile(b.Min.Lat(), b.Min.Lon(), zoom)
	t2 := DegToTile(b.Max.Lat(), b.Max.Lon(), zoom)

	minX, maxX := min(t1.X, t2.X), max(t1.X, t2.X)
	minY, maxY := min(t1.Y, t2.Y), max(t1.Y, t2.Y)

	tiles := make([]Tile, 0, (maxX-minX+1)*(maxY-minY+1))
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			tiles = append(tiles, Tile{Z: zoom, X: x, Y: y})
		}
	}
	return tiles
}

// MercatorY returns the spherical web-mercator ordinate of a latitude,
// in radians of the projected plane
func MercatorY(lat float64) float64 {
	return math.Asinh(math.Tan(lat * math.Pi / 180))
}
