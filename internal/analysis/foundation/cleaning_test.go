package foundation

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

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

func TestCleanTrip(t *testing.T) {
	trip := models.Trip{ID: "a", Fixes: []spatial.Point{pt(0, 0), pt(0, 0), pt(0, 0.001), pt(0, 5)}}

	res := CleanTrip(trip, testThresholds)
	assert.NoError(t, res.Err)
	assert.Equal(t, models.CleanStatusOK, res.Trip.CleanStatus)
	assert.Equal(t, 2, res.Dropped)
	assert.Len(t, trip.Fixes, 4, "raw fixes are left untouched")

	res = CleanTrip(models.Trip{ID: "b", Fixes: []spatial.Point{pt(1, 1), pt(1, 1)}}, testThresholds)
	assert.ErrorIs(t, res.Err, ErrEmptyTrajectory)
	assert.Equal(t, models.CleanStatusEmpty, res.Trip.CleanStatus)
}

func TestCleaningAnalyzer(t *testing.T) {
	ctx := context.Background()
	conn, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "clean.db")})
	require.NoError(t, err)
	defer conn.Close()

	trips := repository.NewTripRepository(conn)
	require.NoError(t, trips.UpsertBatch(ctx, []models.Trip{
		{ID: "ok", Timestamp: 1, Fixes: []spatial.Point{
			{Lat: 41.14, Lon: -8.61}, {Lat: 41.141, Lon: -8.611}, {Lat: 41.142, Lon: -8.612},
		}},
		{ID: "single", Timestamp: 2, Fixes: []spatial.Point{{Lat: 41.14, Lon: -8.61}}},
		{ID: "stuck", Timestamp: 3, Fixes: []spatial.Point{{Lat: 41.14, Lon: -8.61}, {Lat: 41.14, Lon: -8.61}}},
	}))

	tasks := repository.NewAnalysisTaskRepository(conn)
	task := &models.AnalysisTask{SkillName: models.SkillTrajectoryCleaning, TaskType: models.TaskTypeFullRecompute, Status: models.TaskStatusPending}
	require.NoError(t, tasks.Create(ctx, task))

	m := metrics.NewCollector()
	analyzer := analysis.GetAnalyzer(models.SkillTrajectoryCleaning, &analysis.Env{DB: conn, Metrics: m})
	require.NotNil(t, analyzer)
	require.NoError(t, analyzer.Analyze(ctx, task.ID, analysis.ModeFull))

	ok, err := trips.GetTripByID(ctx, "ok")
	require.NoError(t, err)
	assert.Equal(t, models.CleanStatusOK, ok.CleanStatus)
	assert.Len(t, ok.CleanedFixes, 3)

	for _, id := range []string{"single", "stuck"} {
		trip, err := trips.GetTripByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.CleanStatusEmpty, trip.CleanStatus, id)
	}

	done, err := tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, done.Status)
	assert.Equal(t, 3, done.TotalItems)
	assert.Equal(t, 2, done.FailedItems)
	require.NotNil(t, done.ResultSummary)

	var summary CleaningSummary
	require.NoError(t, json.Unmarshal([]byte(*done.ResultSummary), &summary))
	assert.Equal(t, 3, summary.Trips)
	assert.Equal(t, 1, summary.Cleaned)
	assert.Equal(t, 2, summary.Empty)
	assert.Equal(t, 6, summary.FixesBefore)
	assert.Equal(t, 5, summary.FixesAfter)
	assert.Len(t, summary.DistanceBefore, len(DistanceBins)-1)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.TripsSanitized))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TripsSkipped.WithLabelValues(metrics.ReasonEmpty)))

	// Nothing is left for an incremental run
	again := &models.AnalysisTask{SkillName: models.SkillTrajectoryCleaning, TaskType: models.TaskTypeIncremental, Status: models.TaskStatusPending}
	require.NoError(t, tasks.Create(ctx, again))
	require.NoError(t, analyzer.Analyze(ctx, again.ID, analysis.ModeIncremental))
	progress, err := analyzer.GetProgress(again.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, progress.Status)
	assert.Zero(t, progress.Total)
}
