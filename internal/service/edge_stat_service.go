package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/jengzang/porto-trajectory-go/internal/analysis/traversal"
	"github.com/jengzang/porto-trajectory-go/internal/models"
	"github.com/jengzang/porto-trajectory-go/internal/repository"
)

// EdgeStatService serves traversal rankings
type EdgeStatService struct {
	repo     *repository.EdgeStatRepository
	defaultK int
}

// NewEdgeStatService creates a new edge statistics service
func NewEdgeStatService(repo *repository.EdgeStatRepository, defaultK int) *EdgeStatService {
	if defaultK < 1 {
		defaultK = 10
	}
	return &EdgeStatService{repo: repo, defaultK: defaultK}
}

// TopEdges ranks stored statistics of one kind, ways by default
func (s *EdgeStatService) TopEdges(ctx context.Context, filter models.TopEdgesFilter) ([]models.RankedEdge, error) {
	if filter.By == "" {
		filter.By = models.RankByCount
	}
	if filter.By != models.RankByCount && filter.By != models.RankByAvgTime {
		return nil, fmt.Errorf("%w: unknown ranking metric %q", ErrInvalidArgument, filter.By)
	}
	if filter.K <= 0 {
		filter.K = s.defaultK
	}
	if filter.K > 1000 {
		return nil, fmt.Errorf("%w: k must not exceed 1000", ErrInvalidArgument)
	}
	kind := strings.ToUpper(filter.Kind)
	if kind == "" {
		kind = models.StatKindWay
	}
	if kind != models.StatKindWay && kind != models.StatKindEdge {
		return nil, fmt.Errorf("%w: unknown statistics kind %q", ErrInvalidArgument, filter.Kind)
	}

	stats, err := s.repo.ListByKind(ctx, kind)
	if err != nil {
		return nil, err
	}
	return traversal.TopK(stats, filter.K, filter.By)
}
