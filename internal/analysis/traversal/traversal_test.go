package traversal

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/paulmach/osm"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengzang/porto-trajectory-go/internal/analysis"
	"github.com/jengzang/porto-trajectory-go/internal/database"
	"github.com/jengzang/porto-trajectory-go/internal/metrics"
	"github.com/jengzang/porto-trajectory-go/internal/models"
	"github.com/jengzang/porto-trajectory-go/internal/osmdata"
	"github.com/jengzang/porto-trajectory-go/internal/repository"
	"github.com/jengzang/porto-trajectory-go/internal/spatial"
)

// fixedResolver ranks edges with hand-picked lengths
type fixedResolver map[int64]float64

func (r fixedResolver) Segments(edges []int64) []int64 { return append([]int64(nil), edges...) }

func (r fixedResolver) Length(key int64) (float64, bool) {
	l, ok := r[key]
	return l, ok
}

func (r fixedResolver) Kind() string { return models.StatKindEdge }

func statByKey(stats []models.EdgeStat) map[int64]models.EdgeStat {
	m := make(map[int64]models.EdgeStat, len(stats))
	for _, s := range stats {
		m[s.Key] = s
	}
	return m
}

func TestAggregateTwoTripsSplitByLength(t *testing.T) {
	paths := []models.MatchedPath{
		{TripID: "t1", Edges: []int64{1, 2}, EdgeIndex: []int{0, 1}},
		{TripID: "t2", Edges: []int64{1, 2}, EdgeIndex: []int{0, 1}},
	}

	agg, errs := Aggregate(paths, fixedResolver{1: 200, 2: 100}, 15)
	require.Empty(t, errs)
	assert.Equal(t, 2, agg.Trips())

	stats := statByKey(agg.Stats())
	e1, e2 := stats[1], stats[2]
	assert.Equal(t, 2, e1.Count)
	assert.InDelta(t, 20.0, e1.TotalTime, 1e-9)
	assert.InDelta(t, 10.0, e1.AvgTime(), 1e-9)
	assert.Equal(t, 2, e2.Count)
	assert.InDelta(t, 5.0, e2.AvgTime(), 1e-9)
	assert.Equal(t, models.StatKindEdge, e1.Kind)
}

func TestAddCountsOnceButDwellsPerOccurrence(t *testing.T) {
	agg := NewAggregator(fixedResolver{1: 200, 2: 100}, 15)

	// The trip leaves edge 1, takes edge 2 and comes back onto edge 1
	c, err := agg.Add(models.MatchedPath{TripID: "loop", Edges: []int64{1, 2, 1}, EdgeIndex: []int{0, 2, 2}})
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2}, c.Keys)
	assert.InDelta(t, 15*400.0/500+15, c.Dwell[1], 1e-9)
	assert.InDelta(t, 15*100.0/500, c.Dwell[2], 1e-9)

	stats := statByKey(agg.Stats())
	assert.Equal(t, 1, stats[1].Count, "a revisited edge is counted once per trip")
	assert.InDelta(t, 27.0, stats[1].TotalTime, 1e-9, "dwell time is not deduplicated")
	assert.InDelta(t, 3.0, stats[2].TotalTime, 1e-9)

	var counted int
	for _, s := range stats {
		counted += s.Count
	}
	assert.LessOrEqual(t, counted, 2)
}

func TestDwellPerIntervalSumsToInterval(t *testing.T) {
	agg := NewAggregator(fixedResolver{1: 37, 2: 11, 3: 0, 4: 250}, 15)
	c, err := agg.Add(models.MatchedPath{TripID: "x", Edges: []int64{1, 2, 3, 4}, EdgeIndex: []int{0, 1, 1, 3}})
	require.NoError(t, err)

	var total float64
	for _, d := range c.Dwell {
		total += d
	}
	assert.InDelta(t, 3*15.0, total, 1e-9)
	assert.Zero(t, c.ZeroLengthSpans)
}

func TestZeroLengthSpanIsSkipped(t *testing.T) {
	agg := NewAggregator(fixedResolver{1: 0, 2: 100}, 15)

	c, err := agg.Add(models.MatchedPath{TripID: "z", Edges: []int64{1, 2}, EdgeIndex: []int{0, 0, 1}})
	require.NoError(t, err)
	assert.Equal(t, 1, c.ZeroLengthSpans)
	assert.Equal(t, 1, agg.ZeroLengthSpans())

	stats := statByKey(agg.Stats())
	assert.Equal(t, 1, stats[1].Count, "a zero-length edge is still traversed")
	assert.InDelta(t, 0.0, stats[1].TotalTime, 1e-9)
	assert.InDelta(t, 15.0, stats[2].TotalTime, 1e-9)
}

func TestBackwardsSpanContributesNothing(t *testing.T) {
	agg := NewAggregator(fixedResolver{1: 10, 2: 10}, 15)

	c, err := agg.Add(models.MatchedPath{TripID: "back", Edges: []int64{1, 2}, EdgeIndex: []int{1, 0}})
	require.NoError(t, err)
	assert.Empty(t, c.Keys)
	assert.Equal(t, 1, c.ZeroLengthSpans)
	assert.Empty(t, agg.Stats())
}

func TestInvalidPathLeavesStatsUntouched(t *testing.T) {
	agg := NewAggregator(fixedResolver{1: 10}, 15)

	_, err := agg.Add(models.MatchedPath{TripID: "bad", Edges: []int64{1}, EdgeIndex: []int{0, 1}})
	assert.ErrorIs(t, err, ErrInvalidPath)
	_, err = agg.Add(models.MatchedPath{TripID: "neg", Edges: []int64{1}, EdgeIndex: []int{-1, 0}})
	assert.ErrorIs(t, err, ErrInvalidPath)

	assert.Empty(t, agg.Stats())
	assert.Zero(t, agg.Trips())

	_, errs := Aggregate([]models.MatchedPath{
		{TripID: "ok", Edges: []int64{1}, EdgeIndex: []int{0, 0}},
		{TripID: "bad", Edges: []int64{1}, EdgeIndex: []int{2}},
	}, fixedResolver{1: 10}, 15)
	require.Len(t, errs, 1)
	assert.ErrorContains(t, errs[0], "trip bad")
}

func meridian(lat0, lat1 float64) []spatial.Point {
	return []spatial.Point{{Lat: lat0, Lon: -8.6}, {Lat: lat1, Lon: -8.6}}
}

func TestEdgeResolver(t *testing.T) {
	r := NewEdgeResolver([]models.Edge{
		{ID: 1, Geometry: meridian(41.0, 41.002)},
		{ID: 2, Geometry: meridian(41.002, 41.003)},
	})

	assert.Equal(t, []int64{1, 2, 1}, r.Segments([]int64{1, 9, 2, 1}))
	l1, ok := r.Length(1)
	require.True(t, ok)
	l2, _ := r.Length(2)
	assert.InDelta(t, 2.0, l1/l2, 1e-6)
	_, ok = r.Length(9)
	assert.False(t, ok)
}

func TestWayResolver(t *testing.T) {
	ways := map[osm.WayID]models.Way{
		100: {ID: 100, Tags: osm.Tags{{Key: "name", Value: "Avenida da Boavista"}}, Geometry: meridian(41.0, 41.002)},
		101: {ID: 101, Geometry: meridian(41.002, 41.003)},
	}
	edgeWays := map[int64][]osm.WayID{10: {100, 101}, 11: {101, 102}}

	r := NewWayResolver(edgeWays, ways)
	assert.Equal(t, []int64{100, 101, 101}, r.Segments([]int64{10, 11}), "way 102 has no geometry")
	assert.Equal(t, []osm.WayID{100, 101, 102}, r.WayIDs([]int64{10, 11, 10}))
	assert.Equal(t, "Avenida da Boavista", r.Name(100))
	assert.Equal(t, models.UnnamedRoad, r.Name(101))
	assert.Equal(t, models.StatKindWay, r.Kind())

	direct := NewWayResolver(nil, ways)
	assert.Equal(t, []int64{100}, direct.Segments([]int64{100, 102}))

	assert.Equal(t, map[int64][]osm.WayID{1: {100}}, EdgeWays([]models.Edge{{ID: 1, WayIDs: []osm.WayID{100}}, {ID: 2}}))
}

func TestTopK(t *testing.T) {
	stats := []models.EdgeStat{
		{Key: 5, Count: 3, TotalTime: 30},
		{Key: 1, Count: 0, TotalTime: 0},
		{Key: 4, Count: 3, TotalTime: 90},
		{Key: 2, Count: 1, TotalTime: 40},
		{Key: 3, Count: 7, TotalTime: 70},
	}

	byCount := TopKByCount(stats, 3)
	require.Len(t, byCount, 3)
	assert.Equal(t, []int64{3, 4, 5}, []int64{byCount[0].Key, byCount[1].Key, byCount[2].Key})
	assert.Equal(t, []int{1, 2, 3}, []int{byCount[0].Rank, byCount[1].Rank, byCount[2].Rank})

	byTime := TopKByAvgTime(stats, 10)
	require.Len(t, byTime, 4, "zero-count edges are never ranked")
	assert.Equal(t, int64(2), byTime[0].Key)
	assert.InDelta(t, 40.0, byTime[0].AvgTime, 1e-9)
	for i := 1; i < len(byTime); i++ {
		assert.GreaterOrEqual(t, byTime[i-1].AvgTime, byTime[i].AvgTime)
		assert.Positive(t, byTime[i].Count)
	}
	assert.Equal(t, int64(4), byTime[1].Key)
	assert.Equal(t, 90.0, byTime[1].TotalTime)

	assert.Empty(t, TopKByCount(stats, 0))
	assert.Empty(t, TopKByCount(nil, 5))

	ranked, err := TopK(stats, 1, models.RankByAvgTime)
	require.NoError(t, err)
	assert.Equal(t, int64(2), ranked[0].Key)
	_, err = TopK(stats, 1, "speed")
	assert.Error(t, err)
}

// fakeWays serves fixed ways and fails for the rest
type fakeWays struct {
	ways      map[osm.WayID]models.Way
	requested []osm.WayID
}

func (f *fakeWays) Ways(_ context.Context, ids []osm.WayID) (map[osm.WayID]models.Way, error) {
	f.requested = append(f.requested, ids...)
	out := make(map[osm.WayID]models.Way)
	fetchErr := &osmdata.ExternalFetchError{Source: "overpass", Err: fmt.Errorf("timeout")}
	for _, id := range ids {
		if w, ok := f.ways[id]; ok {
			out[id] = w
		} else {
			fetchErr.Keys = append(fetchErr.Keys, fmt.Sprint(id))
		}
	}
	if len(fetchErr.Keys) > 0 {
		return out, fetchErr
	}
	return out, nil
}

func TestTraversalAnalyzer(t *testing.T) {
	ctx := context.Background()
	conn, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "traversal.db")})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, repository.NewEdgeRepository(conn).ReplaceAll(ctx, []models.Edge{
		{ID: 1, Source: 1, Target: 2, Geometry: meridian(41.0, 41.002), WayIDs: []osm.WayID{100}},
		{ID: 2, Source: 2, Target: 3, Geometry: meridian(41.002, 41.003), WayIDs: []osm.WayID{101, 102}},
	}))
	require.NoError(t, repository.NewMatchedPathRepository(conn).SaveBatch(ctx, []models.MatchedPath{
		{TripID: "t1", Edges: []int64{1, 2}, EdgeIndex: []int{0, 1}, Source: models.MatchSourceTable},
		{TripID: "t2", Edges: []int64{1, 2}, EdgeIndex: []int{0, 1}, Source: models.MatchSourceTable},
		{TripID: "v1", Edges: []int64{100}, EdgeIndex: []int{0, 0}, Source: models.MatchSourceValhalla},
		{TripID: "bad", Edges: []int64{1}, EdgeIndex: []int{0, 3}, Source: models.MatchSourceTable},
	}))

	source := &fakeWays{ways: map[osm.WayID]models.Way{
		100: {ID: 100, Tags: osm.Tags{{Key: "name", Value: "Rua de Cedofeita"}}, Geometry: meridian(41.0, 41.002)},
		101: {ID: 101, Geometry: meridian(41.002, 41.003)},
	}}
	m := metrics.NewCollector()
	analyzer := NewTraversalAnalyzerWith(&analysis.Env{DB: conn, Metrics: m}, source)

	tasks := repository.NewAnalysisTaskRepository(conn)
	task := &models.AnalysisTask{SkillName: models.SkillEdgeTraversal, TaskType: models.TaskTypeFullRecompute, Status: models.TaskStatusPending}
	require.NoError(t, tasks.Create(ctx, task))
	require.NoError(t, analyzer.Analyze(ctx, task.ID, analysis.ModeFull))
	assert.ElementsMatch(t, []osm.WayID{100, 101, 102}, source.requested)

	statsRepo := repository.NewEdgeStatRepository(conn)
	edgeStats, err := statsRepo.ListByKind(ctx, models.StatKindEdge)
	require.NoError(t, err)
	require.Len(t, edgeStats, 2)
	assert.Equal(t, 2, edgeStats[0].Count)
	assert.InDelta(t, 20.0, edgeStats[0].TotalTime, 1e-3)
	assert.InDelta(t, 10.0, edgeStats[1].TotalTime, 1e-3)

	wayStats, err := statsRepo.ListByKind(ctx, models.StatKindWay)
	require.NoError(t, err)
	require.Len(t, wayStats, 2, "way 102 could not be fetched")
	assert.Equal(t, int64(100), wayStats[0].Key)
	assert.Equal(t, "Rua de Cedofeita", wayStats[0].Name)
	assert.Equal(t, 3, wayStats[0].Count)
	assert.InDelta(t, 35.0, wayStats[0].TotalTime, 1e-3)
	assert.Equal(t, models.UnnamedRoad, wayStats[1].Name)

	done, err := tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, done.Status)
	assert.Equal(t, 1, done.FailedItems)

	var summary TraversalSummary
	require.NoError(t, json.Unmarshal([]byte(*done.ResultSummary), &summary))
	assert.Equal(t, TraversalSummary{Paths: 4, Folded: 3, Invalid: 1, Edges: 2, Ways: 2, MissingWays: 1}, summary)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.TripsFolded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TripsSkipped.WithLabelValues(metrics.ReasonInvalidPath)))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.EdgesTracked))
}

func TestFoldWithoutNetworkOrWays(t *testing.T) {
	analyzer := NewTraversalAnalyzerWith(&analysis.Env{}, nil)

	res, err := analyzer.Fold(context.Background(), []models.MatchedPath{
		{TripID: "t", Edges: []int64{1}, EdgeIndex: []int{0, 0}, Source: models.MatchSourceTable},
	}, nil)
	require.NoError(t, err)
	assert.Nil(t, res.Edges)
	assert.Nil(t, res.Ways)
	assert.Equal(t, 1, res.Summary.Folded)
}
