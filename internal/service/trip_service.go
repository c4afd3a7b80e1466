package service

import (
	"context"
	"fmt"

	"github.com/jengzang/porto-trajectory-go/internal/models"
	"github.com/jengzang/porto-trajectory-go/internal/repository"
	"github.com/jengzang/porto-trajectory-go/internal/spatial"
)

// TripService handles business logic for trips
type TripService struct {
	repo  *repository.TripRepository
	paths *repository.MatchedPathRepository
}

// NewTripService creates a new trip service
func NewTripService(repo *repository.TripRepository, paths *repository.MatchedPathRepository) *TripService {
	return &TripService{repo: repo, paths: paths}
}

// GetTrips retrieves trips with filtering and pagination
func (s *TripService) GetTrips(ctx context.Context, filter models.TripFilter) (*models.TripsResponse, error) {
	trips, total, err := s.repo.GetTrips(ctx, filter)
	if err != nil {
		return nil, err
	}

	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = 100
	}
	if filter.PageSize > 1000 {
		filter.PageSize = 1000
	}
	totalPages := int(total) / filter.PageSize
	if int(total)%filter.PageSize > 0 {
		totalPages++
	}

	data := make([]models.TripDetail, len(trips))
	for i, t := range trips {
		data[i] = toDetail(t)
		// raw fixes are only served by the detail endpoint
		data[i].Fixes = nil
	}

	return &models.TripsResponse{
		Data:       data,
		Total:      total,
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalPages: totalPages,
	}, nil
}

// GetTripDetail retrieves one trip with its cleaned polyline and match state.
// A missing trip yields nil, nil.
func (s *TripService) GetTripDetail(ctx context.Context, id string) (*models.TripDetail, error) {
	trip, err := s.repo.GetTripByID(ctx, id)
	if err != nil || trip == nil {
		return nil, err
	}

	detail := toDetail(*trip)
	path, err := s.paths.GetByTripID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get matched path: %w", err)
	}
	detail.Matched = path != nil
	return &detail, nil
}

// CleaningOverview returns trip counts per cleaning status
func (s *TripService) CleaningOverview(ctx context.Context) (map[string]int64, error) {
	counts, err := s.repo.CountByCleanStatus(ctx)
	if err != nil {
		return nil, err
	}
	if n, ok := counts[""]; ok {
		delete(counts, "")
		counts["PENDING"] = n
	}
	return counts, nil
}

func toDetail(t models.Trip) models.TripDetail {
	d := models.TripDetail{
		Trip:              t,
		PointCount:        len(t.Fixes),
		CleanedPointCount: len(t.CleanedFixes),
	}
	if len(t.CleanedFixes) > 0 {
		d.CleanedEncodedPolyline = spatial.EncodePolyline(t.CleanedFixes)
	}
	return d
}
