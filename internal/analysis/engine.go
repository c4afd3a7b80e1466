package analysis

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jengzang/porto-trajectory-go/internal/config"
	"github.com/jengzang/porto-trajectory-go/internal/metrics"
)

// Run modes accepted by Analyze
const (
	ModeIncremental = "incremental"
	ModeFull        = "full"
)

// Analyzer is the interface that all analysis skills must implement
type Analyzer interface {
	// Analyze performs the analysis for a given task
	// taskID: the analysis task ID
	// mode: "incremental" or "full"
	Analyze(ctx context.Context, taskID int64, mode string) error

	// GetProgress returns the current progress of the analysis
	GetProgress(taskID int64) (*Progress, error)

	// GetName returns the name of the analyzer
	GetName() string
}

// Progress represents the progress of an analysis task
type Progress struct {
	Processed int     `json:"processed"`
	Total     int     `json:"total"`
	Failed    int     `json:"failed"`
	Percent   float64 `json:"percent"`
	Status    string  `json:"status"`
}

// Env carries the shared dependencies handed to analyzer factories
type Env struct {
	DB      *sql.DB
	Config  *config.Config
	Metrics *metrics.Collector
}

// BaseAnalyzer provides common functionality for all analyzers
type BaseAnalyzer struct {
	DB      *sql.DB
	Config  *config.Config
	Metrics *metrics.Collector
	Name    string
}

// NewBaseAnalyzer creates a new base analyzer. Missing config or metrics are
// replaced by defaults so analyzers can be built in tests with only a DB.
func NewBaseAnalyzer(env *Env, name string) *BaseAnalyzer {
	a := &BaseAnalyzer{DB: env.DB, Config: env.Config, Metrics: env.Metrics, Name: name}
	if a.Config == nil {
		a.Config = config.Default()
	}
	if a.Metrics == nil {
		a.Metrics = metrics.NewCollector()
	}
	return a
}

// GetName returns the analyzer name
func (a *BaseAnalyzer) GetName() string {
	return a.Name
}

// UpdateTaskProgress updates the progress of an analysis task in the database
func (a *BaseAnalyzer) UpdateTaskProgress(taskID int64, total, processed, failed int) error {
	percent := 0.0
	if total > 0 {
		percent = float64(processed) / float64(total) * 100.0
	}

	query := `
		UPDATE analysis_tasks
		SET processed_items = ?,
		    total_items = ?,
		    failed_items = ?,
		    progress_percent = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	_, err := a.DB.Exec(query, processed, total, failed, percent, taskID)
	return err
}

// MarkTaskAsRunning marks a task as running
func (a *BaseAnalyzer) MarkTaskAsRunning(taskID int64) error {
	query := `
		UPDATE analysis_tasks
		SET status = 'running',
		    started_at = CURRENT_TIMESTAMP,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	_, err := a.DB.Exec(query, taskID)
	return err
}

// MarkTaskAsCompleted marks a task as completed with a JSON result summary
func (a *BaseAnalyzer) MarkTaskAsCompleted(taskID int64, summary any) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode result summary: %w", err)
	}

	query := `
		UPDATE analysis_tasks
		SET status = 'completed',
		    progress_percent = 100,
		    result_summary = ?,
		    completed_at = CURRENT_TIMESTAMP,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	_, err = a.DB.Exec(query, string(summaryJSON), taskID)
	return err
}

// MarkTaskAsFailed marks a task as failed with an error message
func (a *BaseAnalyzer) MarkTaskAsFailed(taskID int64, errorMsg string) error {
	query := `
		UPDATE analysis_tasks
		SET status = 'failed',
		    error_message = ?,
		    completed_at = CURRENT_TIMESTAMP,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	_, err := a.DB.Exec(query, errorMsg, taskID)
	return err
}

// GetProgress returns the current progress from the database
func (a *BaseAnalyzer) GetProgress(taskID int64) (*Progress, error) {
	query := `
		SELECT processed_items, total_items, failed_items, progress_percent, status
		FROM analysis_tasks
		WHERE id = ?
	`

	var progress Progress
	err := a.DB.QueryRow(query, taskID).Scan(
		&progress.Processed,
		&progress.Total,
		&progress.Failed,
		&progress.Percent,
		&progress.Status,
	)
	if err != nil {
		return nil, err
	}

	return &progress, nil
}

// AnalyzerFactory is a function that creates an analyzer instance
type AnalyzerFactory func(env *Env) Analyzer

// AnalyzerRegistry maps skill names to analyzer factories
var AnalyzerRegistry = make(map[string]AnalyzerFactory)

// RegisterAnalyzer registers an analyzer factory for a skill name
func RegisterAnalyzer(skillName string, factory AnalyzerFactory) {
	AnalyzerRegistry[skillName] = factory
}

// GetAnalyzer retrieves an analyzer instance for a skill name
func GetAnalyzer(skillName string, env *Env) Analyzer {
	factory, ok := AnalyzerRegistry[skillName]
	if !ok {
		return nil
	}
	return factory(env)
}

// IsRegistered reports whether a skill has an analyzer
func IsRegistered(skillName string) bool {
	_, ok := AnalyzerRegistry[skillName]
	return ok
}

// Skills lists the registered skill names in order
func Skills() []string {
	names := make([]string, 0, len(AnalyzerRegistry))
	for name := range AnalyzerRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
