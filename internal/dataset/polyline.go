package dataset

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/jengzang/porto-trajectory-go/internal/spatial"
)

// ParseError reports a malformed coordinate or polyline encoding
type ParseError struct {
	TripID string
	Field  string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("trip %s: malformed %s: %v", e.TripID, e.Field, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParsePolyline parses a polyline column: a JSON array of [longitude, latitude] pairs
func ParsePolyline(tripID, text string) ([]spatial.Point, error) {
	var raw [][]float64
	dec := json.NewDecoder(strings.NewReader(text))
	if err := dec.Decode(&raw); err != nil {
		return nil, &ParseError{TripID: tripID, Field: "POLYLINE", Err: err}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &ParseError{TripID: tripID, Field: "POLYLINE", Err: fmt.Errorf("trailing data")}
	}
	if raw == nil {
		return nil, &ParseError{TripID: tripID, Field: "POLYLINE", Err: fmt.Errorf("not an array")}
	}

	points := make([]spatial.Point, 0, len(raw))
	for i, pair := range raw {
		if len(pair) != 2 {
			return nil, &ParseError{TripID: tripID, Field: "POLYLINE", Err: fmt.Errorf("fix %d has %d coordinates", i, len(pair))}
		}
		lon, lat := pair[0], pair[1]
		if math.Abs(lon) > 180 || math.Abs(lat) > 90 {
			return nil, &ParseError{TripID: tripID, Field: "POLYLINE", Err: fmt.Errorf("fix %d out of range: [%v, %v]", i, lon, lat)}
		}
		points = append(points, spatial.Point{Lat: lat, Lon: lon})
	}
	return points, nil
}

// FormatPolyline renders fixes in the corpus' [[lon,lat],...] layout
func FormatPolyline(points []spatial.Point) string {
	raw := make([][2]float64, len(points))
	for i, p := range points {
		raw[i] = [2]float64{p.Lon, p.Lat}
	}
	b, _ := json.Marshal(raw)
	return string(b)
}

// parseIntList parses "[1, 2, 3]" or a bare "7" into integers
func parseIntList(tripID, field, text string) ([]int64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if !strings.HasPrefix(text, "[") {
		text = "[" + text + "]"
	}

	var values []int64
	if err := json.Unmarshal([]byte(text), &values); err != nil {
		return nil, &ParseError{TripID: tripID, Field: field, Err: err}
	}
	return values, nil
}

func parseFloatList(tripID, text string) ([]float64, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "[") {
		text = "[" + text + "]"
	}

	var values []float64
	if err := json.Unmarshal([]byte(text), &values); err != nil {
		return nil, &ParseError{TripID: tripID, Field: "offsets", Err: err}
	}
	return values, nil
}
