package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jengzang/porto-trajectory-go/internal/models"
)

// ErrTaskNotFound is returned when an analysis task id does not exist
var ErrTaskNotFound = errors.New("analysis task not found")

// AnalysisTaskRepository handles database operations for analysis tasks
type AnalysisTaskRepository struct {
	db *sql.DB
}

// NewAnalysisTaskRepository creates a new analysis task repository
func NewAnalysisTaskRepository(db *sql.DB) *AnalysisTaskRepository {
	return &AnalysisTaskRepository{db: db}
}

const taskColumns = `id, skill_name, task_type, status, progress_percent, params_json,
		total_items, processed_items, failed_items, result_summary, error_message,
		created_by, created_at, updated_at, started_at, completed_at`

func scanTask(row rowScanner) (*models.AnalysisTask, error) {
	task := &models.AnalysisTask{}
	var params, summary, errMsg sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&task.ID,
		&task.SkillName,
		&task.TaskType,
		&task.Status,
		&task.ProgressPercent,
		&params,
		&task.TotalItems,
		&task.ProcessedItems,
		&task.FailedItems,
		&summary,
		&errMsg,
		&task.CreatedBy,
		&task.CreatedAt,
		&task.UpdatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if params.Valid {
		task.ParamsJSON = &params.String
	}
	if summary.Valid {
		task.ResultSummary = &summary.String
	}
	if errMsg.Valid {
		task.ErrorMessage = &errMsg.String
	}
	if startedAt.Valid {
		task.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	return task, nil
}

// Create creates a new analysis task
func (r *AnalysisTaskRepository) Create(ctx context.Context, task *models.AnalysisTask) error {
	query := `
		INSERT INTO analysis_tasks (skill_name, task_type, status, params_json, created_by)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		task.SkillName,
		task.TaskType,
		task.Status,
		task.ParamsJSON,
		task.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to create analysis task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	task.ID = id
	return nil
}

// GetByID retrieves an analysis task by ID
func (r *AnalysisTaskRepository) GetByID(ctx context.Context, id int64) (*models.AnalysisTask, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM analysis_tasks WHERE id = ?", id)

	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis task: %w", err)
	}
	return task, nil
}

// List retrieves analysis tasks with optional filters
func (r *AnalysisTaskRepository) List(ctx context.Context, skillName string, status string, limit int, offset int) ([]*models.AnalysisTask, error) {
	var conditions []string
	var args []interface{}

	if skillName != "" {
		conditions = append(conditions, "skill_name = ?")
		args = append(args, skillName)
	}
	if status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, status)
	}

	query := "SELECT " + taskColumns + " FROM analysis_tasks"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list analysis tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.AnalysisTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis task: %w", err)
		}
		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

// HasActive reports whether a skill has a pending or running task
func (r *AnalysisTaskRepository) HasActive(ctx context.Context, skillName string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM analysis_tasks WHERE skill_name = ? AND status IN (?, ?)",
		skillName, models.TaskStatusPending, models.TaskStatusRunning,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check active tasks: %w", err)
	}
	return n > 0, nil
}

// MarkAsFailed marks a task as failed with an error message
func (r *AnalysisTaskRepository) MarkAsFailed(ctx context.Context, id int64, errorMessage string) error {
	query := `
		UPDATE analysis_tasks
		SET status = ?, error_message = ?, completed_at = CURRENT_TIMESTAMP,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	if _, err := r.db.ExecContext(ctx, query, models.TaskStatusFailed, errorMessage, id); err != nil {
		return fmt.Errorf("failed to mark task as failed: %w", err)
	}
	return nil
}
