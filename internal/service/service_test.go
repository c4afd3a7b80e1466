package service

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengzang/porto-trajectory-go/internal/analysis"
	"github.com/jengzang/porto-trajectory-go/internal/database"
	"github.com/jengzang/porto-trajectory-go/internal/models"
	"github.com/jengzang/porto-trajectory-go/internal/repository"
)

// fakeAnalyzer runs fn between the usual running/completed bookkeeping
type fakeAnalyzer struct {
	*analysis.BaseAnalyzer
	fn func(ctx context.Context) error
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, taskID int64, _ string) error {
	if err := a.MarkTaskAsRunning(taskID); err != nil {
		return err
	}
	if err := a.fn(ctx); err != nil {
		return err
	}
	return a.MarkTaskAsCompleted(taskID, map[string]int{"ok": 1})
}

func register(skill string, fn func(ctx context.Context) error) {
	analysis.RegisterAnalyzer(skill, func(env *analysis.Env) analysis.Analyzer {
		return &fakeAnalyzer{BaseAnalyzer: analysis.NewBaseAnalyzer(env, skill), fn: fn}
	})
}

func succeed(context.Context) error { return nil }

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "service.db")})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func newTaskService(t *testing.T) (*AnalysisTaskService, *sql.DB) {
	conn := openTestDB(t)
	return NewAnalysisTaskService(repository.NewAnalysisTaskRepository(conn), &analysis.Env{DB: conn}), conn
}

func TestCreateTaskRunsInBackground(t *testing.T) {
	register(models.SkillTrajectoryCleaning, succeed)
	s, _ := newTaskService(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, models.SkillTrajectoryCleaning, models.TaskTypeIncremental, map[string]interface{}{"batch": 10}, "tester")
	require.NoError(t, err)
	require.NotNil(t, task.ParamsJSON)
	assert.JSONEq(t, `{"batch": 10}`, *task.ParamsJSON)
	s.Wait()

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.Equal(t, "tester", got.CreatedBy)

	tasks, err := s.ListTasks(ctx, models.SkillTrajectoryCleaning, "", 0, -1)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestCreateTaskValidation(t *testing.T) {
	register(models.SkillTrajectoryCleaning, succeed)
	s, _ := newTaskService(t)
	ctx := context.Background()

	_, err := s.CreateTask(ctx, "heatmap", models.TaskTypeIncremental, nil, "")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = s.CreateTask(ctx, models.SkillTrajectoryCleaning, "SOMETIMES", nil, "")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = s.GetTask(ctx, 42)
	assert.ErrorIs(t, err, repository.ErrTaskNotFound)
}

func TestCancelTask(t *testing.T) {
	started := make(chan struct{})
	register(models.SkillMapMatching, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	s, _ := newTaskService(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, models.SkillMapMatching, models.TaskTypeFullRecompute, nil, "")
	require.NoError(t, err)

	_, err = s.CreateTask(ctx, models.SkillMapMatching, models.TaskTypeFullRecompute, nil, "")
	assert.ErrorIs(t, err, ErrConflict, "one active task per skill")

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("analyzer did not start")
	}
	require.NoError(t, s.CancelTask(ctx, task.ID))
	s.Wait()

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "Task cancelled by user", *got.ErrorMessage)

	assert.ErrorIs(t, s.CancelTask(ctx, task.ID), ErrConflict)
}

func TestTriggerAnalysisChain(t *testing.T) {
	var order []string
	register(models.SkillTrajectoryCleaning, func(context.Context) error {
		order = append(order, models.SkillTrajectoryCleaning)
		return nil
	})
	register(models.SkillMapMatching, func(context.Context) error {
		order = append(order, models.SkillMapMatching)
		return errors.New("valhalla unreachable")
	})
	register(models.SkillEdgeTraversal, func(context.Context) error {
		order = append(order, models.SkillEdgeTraversal)
		return nil
	})
	s, _ := newTaskService(t)
	ctx := context.Background()

	ids, err := s.TriggerAnalysisChain(ctx, models.TaskTypeIncremental, "tester")
	require.NoError(t, err)
	require.Len(t, ids, 3)
	s.Wait()

	assert.Equal(t, []string{models.SkillTrajectoryCleaning, models.SkillMapMatching}, order)

	statuses := make([]string, len(ids))
	for i, id := range ids {
		task, err := s.GetTask(ctx, id)
		require.NoError(t, err)
		statuses[i] = task.Status
	}
	assert.Equal(t, []string{models.TaskStatusCompleted, models.TaskStatusFailed, models.TaskStatusFailed}, statuses)

	last, err := s.GetTask(ctx, ids[2])
	require.NoError(t, err)
	require.NotNil(t, last.ErrorMessage)
	assert.Contains(t, *last.ErrorMessage, "Upstream task")

	_, err = s.TriggerAnalysisChain(ctx, "NEVER", "tester")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestTopEdgesValidation(t *testing.T) {
	conn := openTestDB(t)
	repo := repository.NewEdgeStatRepository(conn)
	ctx := context.Background()
	require.NoError(t, repo.ReplaceKind(ctx, models.StatKindEdge, []models.EdgeStat{
		{Key: 1, Count: 3, TotalTime: 30},
		{Key: 2, Count: 5, TotalTime: 25},
		{Key: 3, Count: 5, TotalTime: 60},
	}))
	s := NewEdgeStatService(repo, 2)

	ranked, err := s.TopEdges(ctx, models.TopEdgesFilter{Kind: "edge"})
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, []int64{2, 3}, []int64{ranked[0].Key, ranked[1].Key}, "ties broken by ascending key")

	ranked, err = s.TopEdges(ctx, models.TopEdgesFilter{Kind: "EDGE", By: models.RankByAvgTime, K: 1})
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, int64(3), ranked[0].Key)

	ranked, err = s.TopEdges(ctx, models.TopEdgesFilter{})
	require.NoError(t, err)
	assert.Empty(t, ranked, "no way statistics stored")

	_, err = s.TopEdges(ctx, models.TopEdgesFilter{K: 5000})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestTripServiceOverview(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()
	trips := repository.NewTripRepository(conn)
	s := NewTripService(trips, repository.NewMatchedPathRepository(conn))

	detail, err := s.GetTripDetail(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, detail)

	counts, err := s.CleaningOverview(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts)
}
