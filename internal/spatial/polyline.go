package spatial

import (
	"fmt"

	"github.com/twpayne/go-polyline"
)

// Porto fixes carry six decimals, so the default 1e5 polyline scale would
// lose precision.
var polylineCodec = polyline.Codec{Dim: 2, Scale: 1e6}

// EncodePolyline encodes points as an encoded polyline string
func EncodePolyline(points []Point) string {
	coords := make([][]float64, len(points))
	for i, p := range points {
		coords[i] = []float64{p.Lat, p.Lon}
	}
	return string(polylineCodec.EncodeCoords(nil, coords))
}

// DecodePolyline decodes a string produced by EncodePolyline
func DecodePolyline(s string) ([]Point, error) {
	if s == "" {
		return nil, nil
	}

	coords, rest, err := polylineCodec.DecodeCoords([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("failed to decode polyline: %w", err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("failed to decode polyline: %d trailing bytes", len(rest))
	}

	points := make([]Point, len(coords))
	for i, c := range coords {
		points[i] = Point{Lat: c[0], Lon: c[1]}
	}
	return points, nil
}
