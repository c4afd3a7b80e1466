package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/porto-trajectory-go/internal/models"
	"github.com/jengzang/porto-trajectory-go/internal/service"
	"github.com/jengzang/porto-trajectory-go/pkg/response"
)

// TripHandler handles HTTP requests for trips
type TripHandler struct {
	service *service.TripService
}

// NewTripHandler creates a new trip handler
func NewTripHandler(service *service.TripService) *TripHandler {
	return &TripHandler{service: service}
}

// GetTrips handles GET /api/v1/trips
func (h *TripHandler) GetTrips(c *gin.Context) {
	var filter models.TripFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.Error(c, http.StatusBadRequest, "Invalid query parameters", err)
		return
	}

	trips, err := h.service.GetTrips(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "Failed to get trips", err)
		return
	}

	response.Success(c, trips)
}

// GetTripByID handles GET /api/v1/trips/:id
func (h *TripHandler) GetTripByID(c *gin.Context) {
	trip, err := h.service.GetTripDetail(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "Failed to get trip", err)
		return
	}

	if trip == nil {
		response.NotFound(c, "Trip not found")
		return
	}

	response.Success(c, trip)
}

// GetCleaningOverview handles GET /api/v1/overview
func (h *TripHandler) GetCleaningOverview(c *gin.Context) {
	counts, err := h.service.CleaningOverview(c.Request.Context())
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "Failed to count trips", err)
		return
	}

	response.Success(c, counts)
}
