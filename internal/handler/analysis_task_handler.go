package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/porto-trajectory-go/internal/repository"
	"github.com/jengzang/porto-trajectory-go/internal/service"
	"github.com/jengzang/porto-trajectory-go/pkg/response"
)

// AnalysisTaskHandler handles HTTP requests for analysis tasks
type AnalysisTaskHandler struct {
	service *service.AnalysisTaskService
}

// NewAnalysisTaskHandler creates a new analysis task handler
func NewAnalysisTaskHandler(service *service.AnalysisTaskService) *AnalysisTaskHandler {
	return &AnalysisTaskHandler{service: service}
}

// CreateTaskRequest represents the request body for creating an analysis task
type CreateTaskRequest struct {
	SkillName string                 `json:"skill_name" binding:"required"`
	TaskType  string                 `json:"task_type" binding:"required"` // INCREMENTAL or FULL_RECOMPUTE
	Params    map[string]interface{} `json:"params"`
}

// CreateTask creates a new analysis task
// POST /api/v1/analysis/tasks
func (h *AnalysisTaskHandler) CreateTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	task, err := h.service.CreateTask(c.Request.Context(), req.SkillName, req.TaskType, req.Params, createdBy(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, task)
}

// GetTask retrieves a task by ID
// GET /api/v1/analysis/tasks/:id
func (h *AnalysisTaskHandler) GetTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}

	task, err := h.service.GetTask(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, task)
}

// ListTasks retrieves all tasks
// GET /api/v1/analysis/tasks
func (h *AnalysisTaskHandler) ListTasks(c *gin.Context) {
	skillName := c.Query("skill_name")
	status := c.Query("status")

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil {
		limit = 20
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil {
		offset = 0
	}

	tasks, err := h.service.ListTasks(c.Request.Context(), skillName, status, limit, offset)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "Failed to list tasks", err)
		return
	}

	response.Success(c, gin.H{
		"tasks":  tasks,
		"skills": h.service.Skills(),
		"limit":  limit,
		"offset": offset,
	})
}

// CancelTask cancels a running task
// DELETE /api/v1/analysis/tasks/:id
func (h *AnalysisTaskHandler) CancelTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}

	if err := h.service.CancelTask(c.Request.Context(), id); err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "Task cancelled successfully"})
}

// TriggerAnalysisChainRequest represents the request body for triggering an analysis chain
type TriggerAnalysisChainRequest struct {
	TaskType string `json:"task_type" binding:"required"` // INCREMENTAL or FULL_RECOMPUTE
}

// TriggerAnalysisChain runs cleaning, matching and traversal in order
// POST /api/v1/analysis/trigger-chain
func (h *AnalysisTaskHandler) TriggerAnalysisChain(c *gin.Context) {
	var req TriggerAnalysisChainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	taskIDs, err := h.service.TriggerAnalysisChain(c.Request.Context(), req.TaskType, createdBy(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, gin.H{
		"message":  "Analysis chain triggered successfully",
		"task_ids": taskIDs,
	})
}

func taskID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "Invalid task ID", err)
		return 0, false
	}
	return id, true
}

// createdBy reads the user set by the auth middleware
func createdBy(c *gin.Context) string {
	if user := c.GetString("user"); user != "" {
		return user
	}
	return "admin"
}

func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidArgument):
		response.BadRequest(c, err.Error())
	case errors.Is(err, service.ErrConflict):
		response.Error(c, http.StatusConflict, err.Error())
	case errors.Is(err, repository.ErrTaskNotFound):
		response.NotFound(c, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, "Internal error", err)
	}
}
