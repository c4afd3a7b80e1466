package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/osm"

	"github.com/jengzang/porto-trajectory-go/internal/models"
	"github.com/jengzang/porto-trajectory-go/internal/spatial"
)

// Accepted header names per network column. FMM shapefile exports use fid/u/v.
var networkAliases = map[string][]string{
	"edge_id":  {"edge_id", "fid", "id"},
	"source":   {"source", "u"},
	"target":   {"target", "v"},
	"geometry": {"geometry", "geom", "wkt"},
	"osmid":    {"osmid", "way_id", "way_ids"},
}

// ReadNetwork reads a road network edge table with a WKT LINESTRING geometry
// column. Unlike trips, a malformed row is fatal for the whole table.
func ReadNetwork(r io.Reader) ([]models.Edge, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read network header: %w", err)
	}
	cols, err := resolveAliases(header, networkAliases, "edge_id", "geometry")
	if err != nil {
		return nil, err
	}

	var edges []models.Edge
	seen := make(map[models.EdgeID]struct{})
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read network row %d: %w", line, err)
		}

		edge, err := parseEdge(record, cols)
		if err != nil {
			return nil, fmt.Errorf("network row %d: %w", line, err)
		}
		if _, dup := seen[edge.ID]; dup {
			return nil, fmt.Errorf("network row %d: duplicate edge id %d", line, edge.ID)
		}
		seen[edge.ID] = struct{}{}
		edges = append(edges, edge)
	}

	return edges, nil
}

func parseEdge(record []string, cols map[string]int) (models.Edge, error) {
	field := func(name string) string {
		if i, ok := cols[name]; ok && i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}

	id, err := strconv.ParseInt(field("edge_id"), 10, 64)
	if err != nil {
		return models.Edge{}, &ParseError{TripID: field("edge_id"), Field: "edge_id", Err: err}
	}
	edge := models.Edge{ID: models.EdgeID(id)}

	if s := field("source"); s != "" {
		if edge.Source, err = strconv.ParseInt(s, 10, 64); err != nil {
			return models.Edge{}, &ParseError{TripID: field("edge_id"), Field: "source", Err: err}
		}
	}
	if s := field("target"); s != "" {
		if edge.Target, err = strconv.ParseInt(s, 10, 64); err != nil {
			return models.Edge{}, &ParseError{TripID: field("edge_id"), Field: "target", Err: err}
		}
	}

	edge.Geometry, err = parseLineString(field("geometry"))
	if err != nil {
		return models.Edge{}, &ParseError{TripID: field("edge_id"), Field: "geometry", Err: err}
	}

	wayIDs, err := parseIntList(field("edge_id"), "osmid", field("osmid"))
	if err != nil {
		return models.Edge{}, err
	}
	for _, w := range wayIDs {
		edge.WayIDs = append(edge.WayIDs, osm.WayID(w))
	}

	return edge, nil
}

// parseLineString decodes a WKT LINESTRING. A MULTILINESTRING is flattened in order.
func parseLineString(text string) ([]spatial.Point, error) {
	geom, err := wkt.Unmarshal(text)
	if err != nil {
		return nil, err
	}

	var ls orb.LineString
	switch g := geom.(type) {
	case orb.LineString:
		ls = g
	case orb.MultiLineString:
		for _, part := range g {
			ls = append(ls, part...)
		}
	default:
		return nil, fmt.Errorf("unsupported geometry %s", geom.GeoJSONType())
	}
	if len(ls) < 2 {
		return nil, fmt.Errorf("linestring needs at least two points, got %d", len(ls))
	}

	points := make([]spatial.Point, len(ls))
	for i, p := range ls {
		points[i] = spatial.FromOrb(p)
	}
	return points, nil
}

func resolveAliases(header []string, aliases map[string][]string, required ...string) (map[string]int, error) {
	raw := make(map[string]int, len(header))
	for i, name := range header {
		raw[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\uFEFF")))] = i
	}

	cols := make(map[string]int, len(aliases))
	for canonical, names := range aliases {
		for _, name := range names {
			if i, ok := raw[name]; ok {
				cols[canonical] = i
				break
			}
		}
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}
	return cols, nil
}
