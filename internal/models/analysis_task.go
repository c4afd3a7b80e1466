package models

import "time"

// AnalysisTask represents a run of one analysis skill
type AnalysisTask struct {
	ID int64 `json:"id" db:"id"`

	// Task identification
	SkillName string `json:"skill_name" db:"skill_name"` // Which skill to run
	TaskType  string `json:"task_type" db:"task_type"`   // INCREMENTAL, FULL_RECOMPUTE

	// Status
	Status          string  `json:"status" db:"status"` // pending, running, completed, failed
	ProgressPercent float64 `json:"progress_percent" db:"progress_percent"`

	// Input parameters
	ParamsJSON *string `json:"params_json,omitempty" db:"params_json"`

	// Execution info
	TotalItems     int `json:"total_items" db:"total_items"`
	ProcessedItems int `json:"processed_items" db:"processed_items"`
	FailedItems    int `json:"failed_items" db:"failed_items"`

	// Results
	ResultSummary *string `json:"result_summary,omitempty" db:"result_summary"` // JSON object with summary statistics
	ErrorMessage  *string `json:"error_message,omitempty" db:"error_message"`

	// Metadata
	CreatedBy   string     `json:"created_by,omitempty" db:"created_by"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// IsTerminal reports whether the task has finished
func (t *AnalysisTask) IsTerminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}

// TaskType constants
const (
	TaskTypeIncremental   = "INCREMENTAL"
	TaskTypeFullRecompute = "FULL_RECOMPUTE"
)

// TaskStatus constants
const (
	TaskStatusPending   = "pending"
	TaskStatusRunning   = "running"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
)

// Skill names
const (
	SkillTrajectoryCleaning = "trajectory_cleaning"
	SkillMapMatching        = "map_matching"
	SkillEdgeTraversal      = "edge_traversal"
)
