package matching

import (
	"context"
	"fmt"
	"slices"

	"github.com/jengzang/porto-trajectory-go/internal/models"
)

// TableMatcher serves matches from a precomputed table, such as the output
// of an offline FMM run
type TableMatcher struct {
	paths map[string]models.MatchedPath
}

func NewTableMatcher(paths []models.MatchedPath) *TableMatcher {
	m := &TableMatcher{paths: make(map[string]models.MatchedPath, len(paths))}
	for _, p := range paths {
		m.paths[p.TripID] = p
	}
	return m
}

// Len returns the number of trips in the table
func (m *TableMatcher) Len() int {
	return len(m.paths)
}

// Match implements Matcher. The request fixes are not consulted.
func (m *TableMatcher) Match(_ context.Context, req MatchRequest) (*models.MatchedPath, error) {
	p, ok := m.paths[req.TripID]
	if !ok || len(p.Edges) == 0 {
		return nil, fmt.Errorf("trip %s: %w", req.TripID, ErrNoMatch)
	}

	p.Edges = slices.Clone(p.Edges)
	p.EdgeIndex = slices.Clone(p.EdgeIndex)
	p.Offsets = slices.Clone(p.Offsets)
	p.Source = models.MatchSourceTable
	return &p, nil
}
