package report

import (
	"bytes"
	"encoding/csv"
	"image"
	"image/png"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengzang/porto-trajectory-go/internal/models"
	"github.com/jengzang/porto-trajectory-go/internal/spatial"
)

var ranked = []models.RankedEdge{
	{Rank: 1, Key: 100, Kind: models.StatKindWay, Name: "Rua de Cedofeita", Count: 3, AvgTime: 11.5, TotalTime: 34.5},
	{Rank: 2, Key: 101, Kind: models.StatKindWay, Count: 2, AvgTime: 5, TotalTime: 10},
}

func geometry(key int64) ([]spatial.Point, bool) {
	switch key {
	case 100:
		return []spatial.Point{{Lat: 41.150, Lon: -8.615}, {Lat: 41.155, Lon: -8.615}}, true
	case 101:
		return []spatial.Point{{Lat: 41.155, Lon: -8.615}, {Lat: 41.155, Lon: -8.605}}, true
	}
	return nil, false
}

func TestBuild(t *testing.T) {
	rows, err := Build(ranked, models.RankByCount, nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, Row{Rank: 1, DisplayName: "Rua de Cedofeita", Key: 100, Kind: models.StatKindWay, Metric: "count", MetricValue: 3, TraversalCount: 3}, rows[0])
	assert.Equal(t, models.UnnamedRoad, rows[1].DisplayName)

	rows, err = Build(ranked, models.RankByAvgTime, func(key int64) string {
		if key == 101 {
			return "Avenida dos Aliados"
		}
		return ""
	})
	require.NoError(t, err)
	assert.Equal(t, 11.5, rows[0].MetricValue)
	assert.Equal(t, models.UnnamedRoad, rows[0].DisplayName)
	assert.Equal(t, "Avenida dos Aliados", rows[1].DisplayName)

	_, err = Build(ranked, "speed", nil)
	assert.Error(t, err)
}

func TestWriteCSV(t *testing.T) {
	rows, err := Build(ranked, models.RankByAvgTime, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, rows))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		Columns,
		{"1", "Rua de Cedofeita", "100", "11.5", "3"},
		{"2", "Unnamed", "101", "5", "2"},
	}, records)
}

func TestWriteGeoJSON(t *testing.T) {
	rows, err := Build(ranked, models.RankByCount, nil)
	require.NoError(t, err)
	rows = append(rows, Row{Rank: 3, Key: 999, MetricValue: 1, TraversalCount: 1})

	var buf bytes.Buffer
	require.NoError(t, WriteGeoJSON(&buf, rows, geometry))

	fc, err := geojson.UnmarshalFeatureCollection(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, fc.Features, 2, "rows without geometry are left out")

	f := fc.Features[0]
	assert.Equal(t, "LineString", f.Geometry.GeoJSONType())
	assert.Equal(t, "Rua de Cedofeita", f.Properties.MustString("display_name"))
	assert.Equal(t, 3.0, f.Properties.MustFloat64("metric_value"))
	assert.Equal(t, 1, f.Properties.MustInt("rank"))

	require.Len(t, fc.BBox, 4)
	assert.InDelta(t, -8.615, fc.BBox[0], 1e-9)
	assert.InDelta(t, 41.155, fc.BBox[3], 1e-9)
}

func TestOverlay(t *testing.T) {
	extent := orb.Bound{Min: orb.Point{-8.62, 41.14}, Max: orb.Point{-8.60, 41.16}}
	base := image.NewRGBA(image.Rect(0, 0, 200, 200))
	o := NewOverlay(base, extent)

	x, y := o.Project(spatial.Point{Lat: 41.14, Lon: -8.62})
	assert.Equal(t, 0, x)
	assert.Equal(t, 199, y)
	x, y = o.Project(spatial.Point{Lat: 41.16, Lon: -8.60})
	assert.Equal(t, 199, x)
	assert.Equal(t, 0, y)

	rows, err := Build(ranked, models.RankByCount, nil)
	require.NoError(t, err)
	o.DrawRows(rows, geometry, 10)

	lx, ly := o.Project(spatial.Point{Lat: 41.152, Lon: -8.615})
	assert.Equal(t, LineColor, o.Image().RGBAAt(lx, ly))
	assert.Equal(t, uint8(0), base.RGBAAt(lx, ly).A, "the base image is not modified")

	var buf bytes.Buffer
	require.NoError(t, WritePNG(&buf, o.Image()))
	decoded, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, base.Bounds(), decoded.Bounds())
}
