package report

import (
	"fmt"
	"io"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/jengzang/porto-trajectory-go/internal/spatial"
)

// GeometryFunc returns the geometry of a key, or false when it is unknown
type GeometryFunc func(key int64) ([]spatial.Point, bool)

// FeatureCollection renders rows as line features. Rows without geometry are
// left out. The collection's bbox covers every feature.
func FeatureCollection(rows []Row, geometry GeometryFunc) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	var bounds []orb.Bound
	for _, r := range rows {
		points, ok := geometry(r.Key)
		if !ok || len(points) < 2 {
			continue
		}

		line := spatial.LineString(points)
		f := geojson.NewFeature(line)
		f.ID = r.Key
		f.Properties["rank"] = r.Rank
		f.Properties["display_name"] = r.DisplayName
		f.Properties["edge_or_way_id"] = r.Key
		f.Properties["metric"] = r.Metric
		f.Properties["metric_value"] = r.MetricValue
		f.Properties["traversal_count"] = r.TraversalCount
		if r.Kind != "" {
			f.Properties["kind"] = r.Kind
		}
		fc.Append(f)
		bounds = append(bounds, line.Bound())
	}

	if len(bounds) > 0 {
		fc.BBox = geojson.NewBBox(spatial.MergeBounds(bounds...))
	}
	return fc
}

// WriteGeoJSON writes rows as a GeoJSON FeatureCollection
func WriteGeoJSON(w io.Writer, rows []Row, geometry GeometryFunc) error {
	data, err := FeatureCollection(rows, geometry).MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode feature collection: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write feature collection: %w", err)
	}
	return nil
}
