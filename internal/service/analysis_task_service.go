package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/jengzang/porto-trajectory-go/internal/analysis"
	"github.com/jengzang/porto-trajectory-go/internal/models"
	"github.com/jengzang/porto-trajectory-go/internal/repository"
)

// PipelineSkills is the order in which skills depend on each other
var PipelineSkills = []string{
	models.SkillTrajectoryCleaning,
	models.SkillMapMatching,
	models.SkillEdgeTraversal,
}

// AnalysisTaskService runs analysis skills in-process
type AnalysisTaskService struct {
	repo *repository.AnalysisTaskRepository
	env  *analysis.Env

	mu      sync.Mutex
	cancels map[int64]context.CancelFunc
	wg      sync.WaitGroup
}

// NewAnalysisTaskService creates a new analysis task service
func NewAnalysisTaskService(repo *repository.AnalysisTaskRepository, env *analysis.Env) *AnalysisTaskService {
	return &AnalysisTaskService{
		repo:    repo,
		env:     env,
		cancels: make(map[int64]context.CancelFunc),
	}
}

// CreateTask creates a new analysis task and runs it in the background
func (s *AnalysisTaskService) CreateTask(ctx context.Context, skillName string, taskType string, params map[string]interface{}, createdBy string) (*models.AnalysisTask, error) {
	task, err := s.newTask(ctx, skillName, taskType, params, createdBy)
	if err != nil {
		return nil, err
	}

	runCtx := s.track(task.ID)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runTask(runCtx, task.ID, skillName, taskType)
	}()

	return task, nil
}

// TriggerAnalysisChain creates one task per pipeline skill and runs them in
// order. A failed task fails the ones after it.
func (s *AnalysisTaskService) TriggerAnalysisChain(ctx context.Context, taskType string, createdBy string) ([]int64, error) {
	var tasks []*models.AnalysisTask
	for _, skill := range PipelineSkills {
		task, err := s.newTask(ctx, skill, taskType, nil, createdBy)
		if err != nil {
			for _, created := range tasks {
				_ = s.repo.MarkAsFailed(ctx, created.ID, "Analysis chain aborted")
			}
			return nil, fmt.Errorf("failed to create task for %s: %w", skill, err)
		}
		tasks = append(tasks, task)
	}

	ids := make([]int64, len(tasks))
	ctxs := make([]context.Context, len(tasks))
	for i, task := range tasks {
		ids[i] = task.ID
		ctxs[i] = s.track(task.ID)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for i, task := range tasks {
			if err := s.runTask(ctxs[i], task.ID, task.SkillName, taskType); err != nil {
				for _, rest := range tasks[i+1:] {
					s.finish(rest.ID)
					_ = s.repo.MarkAsFailed(context.Background(), rest.ID, fmt.Sprintf("Upstream task %d failed", task.ID))
				}
				return
			}
		}
	}()

	return ids, nil
}

func (s *AnalysisTaskService) newTask(ctx context.Context, skillName string, taskType string, params map[string]interface{}, createdBy string) (*models.AnalysisTask, error) {
	if !analysis.IsRegistered(skillName) {
		return nil, fmt.Errorf("%w: invalid skill name: %s", ErrInvalidArgument, skillName)
	}
	if taskType != models.TaskTypeIncremental && taskType != models.TaskTypeFullRecompute {
		return nil, fmt.Errorf("%w: invalid task type: %s", ErrInvalidArgument, taskType)
	}

	active, err := s.repo.HasActive(ctx, skillName)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, fmt.Errorf("%w: skill %s already has an active task", ErrConflict, skillName)
	}

	// Serialize params to JSON
	var paramsJSON *string
	if params != nil {
		paramsBytes, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to serialize params: %v", ErrInvalidArgument, err)
		}
		jsonStr := string(paramsBytes)
		paramsJSON = &jsonStr
	}

	task := &models.AnalysisTask{
		SkillName:  skillName,
		TaskType:   taskType,
		Status:     models.TaskStatusPending,
		ParamsJSON: paramsJSON,
		CreatedBy:  createdBy,
	}
	if err := s.repo.Create(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// runTask executes a registered analyzer and marks the task failed on error
func (s *AnalysisTaskService) runTask(ctx context.Context, taskID int64, skillName string, taskType string) error {
	defer s.finish(taskID)
	log.Printf("Executing analysis for task %d (skill: %s, type: %s)", taskID, skillName, taskType)

	if s.env.Metrics != nil {
		s.env.Metrics.TasksRunning.Inc()
		defer s.env.Metrics.TasksRunning.Dec()
	}

	analyzer := analysis.GetAnalyzer(skillName, s.env)
	if analyzer == nil {
		err := fmt.Errorf("unknown skill: %s", skillName)
		_ = s.repo.MarkAsFailed(context.Background(), taskID, err.Error())
		return err
	}

	mode := analysis.ModeIncremental
	if taskType == models.TaskTypeFullRecompute {
		mode = analysis.ModeFull
	}

	if err := analyzer.Analyze(ctx, taskID, mode); err != nil {
		log.Printf("Analysis failed for task %d: %v", taskID, err)
		msg := fmt.Sprintf("Analysis failed: %v", err)
		if errors.Is(err, context.Canceled) {
			msg = "Task cancelled by user"
		}
		_ = s.repo.MarkAsFailed(context.Background(), taskID, msg)
		return err
	}

	log.Printf("Analysis completed for task %d", taskID)
	return nil
}

func (s *AnalysisTaskService) track(taskID int64) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[taskID] = cancel
	s.mu.Unlock()
	return ctx
}

func (s *AnalysisTaskService) finish(taskID int64) {
	s.mu.Lock()
	if cancel, ok := s.cancels[taskID]; ok {
		cancel()
		delete(s.cancels, taskID)
	}
	s.mu.Unlock()
}

// CancelAll cancels every tracked task context
func (s *AnalysisTaskService) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cancel := range s.cancels {
		cancel()
	}
}

// Wait blocks until every background task has returned
func (s *AnalysisTaskService) Wait() {
	s.wg.Wait()
}

// GetTask retrieves a task by ID
func (s *AnalysisTaskService) GetTask(ctx context.Context, id int64) (*models.AnalysisTask, error) {
	return s.repo.GetByID(ctx, id)
}

// ListTasks retrieves all tasks with optional filters
func (s *AnalysisTaskService) ListTasks(ctx context.Context, skillName string, status string, limit int, offset int) ([]*models.AnalysisTask, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	return s.repo.List(ctx, skillName, status, limit, offset)
}

// CancelTask stops a pending or running task
func (s *AnalysisTaskService) CancelTask(ctx context.Context, id int64) error {
	task, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if task.IsTerminal() {
		return fmt.Errorf("%w: task is not running (status: %s)", ErrConflict, task.Status)
	}

	s.mu.Lock()
	cancel, running := s.cancels[id]
	s.mu.Unlock()
	if running {
		cancel()
	}
	return s.repo.MarkAsFailed(ctx, id, "Task cancelled by user")
}

// Skills returns the registered skill names
func (s *AnalysisTaskService) Skills() []string {
	return analysis.Skills()
}
