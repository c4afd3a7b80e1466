package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/porto-trajectory-go/internal/models"
	"github.com/jengzang/porto-trajectory-go/internal/service"
	"github.com/jengzang/porto-trajectory-go/pkg/response"
)

// EdgeHandler serves traversal rankings
type EdgeHandler struct {
	service *service.EdgeStatService
}

// NewEdgeHandler creates a new edge handler
func NewEdgeHandler(service *service.EdgeStatService) *EdgeHandler {
	return &EdgeHandler{service: service}
}

// GetTopEdges handles GET /api/v1/edges/top?by=count|avg_time&k=10&kind=WAY|EDGE
func (h *EdgeHandler) GetTopEdges(c *gin.Context) {
	var filter models.TopEdgesFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.Error(c, http.StatusBadRequest, "Invalid query parameters", err)
		return
	}

	ranked, err := h.service.TopEdges(c.Request.Context(), filter)
	if errors.Is(err, service.ErrInvalidArgument) {
		response.BadRequest(c, err.Error())
		return
	}
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "Failed to rank edges", err)
		return
	}

	response.Success(c, ranked)
}
