package matching

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengzang/porto-trajectory-go/internal/analysis"
	"github.com/jengzang/porto-trajectory-go/internal/database"
	"github.com/jengzang/porto-trajectory-go/internal/metrics"
	"github.com/jengzang/porto-trajectory-go/internal/models"
	"github.com/jengzang/porto-trajectory-go/internal/repository"
	"github.com/jengzang/porto-trajectory-go/internal/spatial"
)

var trace = []spatial.Point{{Lat: 41.141, Lon: -8.611}, {Lat: 41.142, Lon: -8.612}, {Lat: 41.143, Lon: -8.613}}

func TestValhallaMatcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/trace_attributes", r.URL.Path)

		var req valhallaRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "map_snap", req.ShapeMatch)
		assert.Equal(t, 30.0, req.TraceOptions.SearchRadius)
		if assert.Len(t, req.Shape, 3) {
			assert.Equal(t, int64(1000), req.Shape[0].Time)
			assert.Equal(t, int64(1030), req.Shape[2].Time)
		}

		_, _ = w.Write([]byte(`{
			"edges": [{"way_id": 11, "length": 0.1}, {"way_id": 12, "length": 0.05}],
			"matched_points": [
				{"type": "matched", "edge_index": 0, "distance_from_trace_point": 1.5},
				{"type": "unmatched"},
				{"type": "interpolated", "edge_index": 1, "distance_from_trace_point": 0.5}
			]
		}`))
	}))
	defer srv.Close()

	m := NewValhallaMatcher(srv.URL+"/", time.Second)
	path, err := m.Match(context.Background(), MatchRequest{
		TripID: "t1", Fixes: trace, StartTime: 1000, Interval: 15, SearchRadius: 30, GPSAccuracy: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{11, 12}, path.Edges)
	assert.Equal(t, []int{0, 0, 1}, path.EdgeIndex)
	assert.Equal(t, []float64{1.5, 0, 0.5}, path.Offsets)
	assert.Equal(t, models.MatchSourceValhalla, path.Source)
}

func TestMatchRequestFixTimeUsesRawIndexes(t *testing.T) {
	req := MatchRequest{Fixes: trace, FixIndexes: []int{0, 3, 7}, StartTime: 1000, Interval: 15}
	assert.Equal(t, int64(1000), req.FixTime(0).Unix())
	assert.Equal(t, int64(1045), req.FixTime(1).Unix())
	assert.Equal(t, int64(1105), req.FixTime(2).Unix())

	req.FixIndexes = nil
	assert.Equal(t, int64(1030), req.FixTime(2).Unix())
}

func TestValhallaMatcherErrors(t *testing.T) {
	status, body := http.StatusBadRequest, `{"error_code": 442, "error": "No suitable edges near location"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	m := NewValhallaMatcher(srv.URL, time.Second)
	req := MatchRequest{TripID: "t1", Fixes: trace, Interval: 15}

	_, err := m.Match(context.Background(), req)
	assert.ErrorIs(t, err, ErrNoMatch)

	status, body = http.StatusOK, `{"edges": [], "matched_points": []}`
	_, err = m.Match(context.Background(), req)
	assert.ErrorIs(t, err, ErrNoMatch)

	status, body = http.StatusInternalServerError, `oops`
	_, err = m.Match(context.Background(), req)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoMatch)
}

func TestTableMatcher(t *testing.T) {
	m := NewTableMatcher([]models.MatchedPath{
		{TripID: "a", Edges: []int64{1, 2}, EdgeIndex: []int{0, 1}},
		{TripID: "empty"},
	})
	assert.Equal(t, 2, m.Len())

	path, err := m.Match(context.Background(), MatchRequest{TripID: "a"})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, path.Edges)
	assert.Equal(t, models.MatchSourceTable, path.Source)

	path.Edges[0] = 99
	again, _ := m.Match(context.Background(), MatchRequest{TripID: "a"})
	assert.Equal(t, int64(1), again.Edges[0])

	_, err = m.Match(context.Background(), MatchRequest{TripID: "empty"})
	assert.ErrorIs(t, err, ErrNoMatch)
	_, err = m.Match(context.Background(), MatchRequest{TripID: "missing"})
	assert.ErrorIs(t, err, ErrNoMatch)
}

type matcherFunc func(ctx context.Context, req MatchRequest) (*models.MatchedPath, error)

func (f matcherFunc) Match(ctx context.Context, req MatchRequest) (*models.MatchedPath, error) {
	return f(ctx, req)
}

func TestMatchingAnalyzerSkipsFailedTrips(t *testing.T) {
	ctx := context.Background()
	conn, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "match.db")})
	require.NoError(t, err)
	defer conn.Close()

	trips := repository.NewTripRepository(conn)
	var batch []models.Trip
	for _, id := range []string{"good", "nomatch", "broken"} {
		batch = append(batch, models.Trip{ID: id, Timestamp: 1, Fixes: trace, CleanedFixes: trace, CleanStatus: models.CleanStatusOK})
	}
	require.NoError(t, trips.UpsertBatch(ctx, batch))
	require.NoError(t, trips.SaveCleaned(ctx, batch))

	matcher := matcherFunc(func(_ context.Context, req MatchRequest) (*models.MatchedPath, error) {
		switch req.TripID {
		case "good":
			return &models.MatchedPath{TripID: req.TripID, Edges: []int64{7}, EdgeIndex: []int{0, 0, 0}}, nil
		case "nomatch":
			return nil, ErrNoMatch
		default:
			return nil, errors.New("connection refused")
		}
	})

	m := metrics.NewCollector()
	analyzer := NewMatchingAnalyzerWith(&analysis.Env{DB: conn, Metrics: m}, matcher)
	analyzer.Workers = 2

	tasks := repository.NewAnalysisTaskRepository(conn)
	task := &models.AnalysisTask{SkillName: models.SkillMapMatching, TaskType: models.TaskTypeFullRecompute, Status: models.TaskStatusPending}
	require.NoError(t, tasks.Create(ctx, task))
	require.NoError(t, analyzer.Analyze(ctx, task.ID, analysis.ModeFull))

	paths, err := repository.NewMatchedPathRepository(conn).All(ctx)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, "good", paths[0].TripID)

	done, err := tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, done.Status)
	assert.Equal(t, 2, done.FailedItems)

	var summary MatchingSummary
	require.NoError(t, json.Unmarshal([]byte(*done.ResultSummary), &summary))
	assert.Equal(t, MatchingSummary{Trips: 3, Matched: 1, NoMatch: 1, Errors: 1}, summary)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MatchRequests.WithLabelValues(metrics.ResultError)))

	// Incremental mode only retries unmatched trips
	var seen []string
	analyzer.Matcher = matcherFunc(func(_ context.Context, req MatchRequest) (*models.MatchedPath, error) {
		seen = append(seen, req.TripID)
		return nil, ErrNoMatch
	})
	analyzer.Workers = 1
	next := &models.AnalysisTask{SkillName: models.SkillMapMatching, TaskType: models.TaskTypeIncremental, Status: models.TaskStatusPending}
	require.NoError(t, tasks.Create(ctx, next))
	require.NoError(t, analyzer.Analyze(ctx, next.ID, analysis.ModeIncremental))
	assert.ElementsMatch(t, []string{"nomatch", "broken"}, seen)
}

func TestMatchTripsSendsRawFixTimes(t *testing.T) {
	var got MatchRequest
	matcher := matcherFunc(func(_ context.Context, req MatchRequest) (*models.MatchedPath, error) {
		got = req
		return &models.MatchedPath{TripID: req.TripID, Edges: []int64{1}, EdgeIndex: []int{0, 0, 0}}, nil
	})

	// the second and fourth raw fixes were dropped by cleaning
	raw := []spatial.Point{trace[0], {Lat: 41.5, Lon: -8.9}, trace[1], {Lat: 41.5, Lon: -8.9}, trace[2]}
	analyzer := NewMatchingAnalyzerWith(&analysis.Env{}, matcher)
	paths, summary, err := analyzer.MatchTrips(context.Background(), []models.Trip{
		{ID: "x", Timestamp: 1000, Fixes: raw, CleanedFixes: trace},
	})
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, 1, summary.Matched)

	assert.Equal(t, []int{0, 2, 4}, got.FixIndexes)
	assert.Equal(t, int64(1030), got.FixTime(1).Unix())
	assert.Equal(t, int64(1060), got.FixTime(2).Unix())
}

func TestMatchTripsStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	matcher := matcherFunc(func(ctx context.Context, req MatchRequest) (*models.MatchedPath, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	})

	analyzer := NewMatchingAnalyzerWith(&analysis.Env{}, matcher)
	_, _, err := analyzer.MatchTrips(ctx, []models.Trip{{ID: "x", CleanedFixes: trace}})
	assert.ErrorIs(t, err, context.Canceled)
}
