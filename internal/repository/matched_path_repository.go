package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jengzang/porto-trajectory-go/internal/database"
	"github.com/jengzang/porto-trajectory-go/internal/models"
)

// MatchedPathRepository stores map matching results
type MatchedPathRepository struct {
	db *sql.DB
}

// NewMatchedPathRepository creates a new matched path repository
func NewMatchedPathRepository(db *sql.DB) *MatchedPathRepository {
	return &MatchedPathRepository{db: db}
}

// SaveBatch inserts or replaces matched paths in one transaction
func (r *MatchedPathRepository) SaveBatch(ctx context.Context, paths []models.MatchedPath) error {
	return database.Transaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO matched_paths (trip_id, edges, edge_index, offsets, source, matched_at)
			VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare matched path insert: %w", err)
		}
		defer stmt.Close()

		for _, p := range paths {
			edges, _ := json.Marshal(p.Edges)
			index, _ := json.Marshal(p.EdgeIndex)
			var offsets *string
			if len(p.Offsets) > 0 {
				b, _ := json.Marshal(p.Offsets)
				s := string(b)
				offsets = &s
			}
			if _, err := stmt.ExecContext(ctx, p.TripID, string(edges), string(index), offsets, p.Source); err != nil {
				return fmt.Errorf("failed to insert matched path %s: %w", p.TripID, err)
			}
		}
		return nil
	})
}

func scanMatchedPath(row rowScanner) (models.MatchedPath, error) {
	var p models.MatchedPath
	var edges, index string
	var offsets sql.NullString

	if err := row.Scan(&p.TripID, &edges, &index, &offsets, &p.Source, &p.MatchedAt); err != nil {
		return p, err
	}
	if err := json.Unmarshal([]byte(edges), &p.Edges); err != nil {
		return p, fmt.Errorf("matched path %s: failed to decode edges: %w", p.TripID, err)
	}
	if err := json.Unmarshal([]byte(index), &p.EdgeIndex); err != nil {
		return p, fmt.Errorf("matched path %s: failed to decode edge index: %w", p.TripID, err)
	}
	if offsets.Valid {
		if err := json.Unmarshal([]byte(offsets.String), &p.Offsets); err != nil {
			return p, fmt.Errorf("matched path %s: failed to decode offsets: %w", p.TripID, err)
		}
	}
	return p, nil
}

// All returns every matched path ordered by trip id
func (r *MatchedPathRepository) All(ctx context.Context) ([]models.MatchedPath, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT trip_id, edges, edge_index, offsets, source, matched_at
		FROM matched_paths
		ORDER BY trip_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query matched paths: %w", err)
	}
	defer rows.Close()

	var paths []models.MatchedPath
	for rows.Next() {
		p, err := scanMatchedPath(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan matched path: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// GetByTripID returns the matched path of a trip, or nil when the trip is unmatched
func (r *MatchedPathRepository) GetByTripID(ctx context.Context, tripID string) (*models.MatchedPath, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT trip_id, edges, edge_index, offsets, source, matched_at
		FROM matched_paths
		WHERE trip_id = ?
	`, tripID)

	p, err := scanMatchedPath(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get matched path: %w", err)
	}
	return &p, nil
}

// DeleteAll removes every matched path before a full recompute
func (r *MatchedPathRepository) DeleteAll(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM matched_paths"); err != nil {
		return fmt.Errorf("failed to delete matched paths: %w", err)
	}
	return nil
}
