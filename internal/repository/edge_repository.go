package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/paulmach/osm"

	"github.com/jengzang/porto-trajectory-go/internal/database"
	"github.com/jengzang/porto-trajectory-go/internal/models"
	"github.com/jengzang/porto-trajectory-go/internal/spatial"
)

// EdgeRepository stores the road network
type EdgeRepository struct {
	db *sql.DB
}

// NewEdgeRepository creates a new road edge repository
func NewEdgeRepository(db *sql.DB) *EdgeRepository {
	return &EdgeRepository{db: db}
}

// ReplaceAll swaps the stored network for edges
func (r *EdgeRepository) ReplaceAll(ctx context.Context, edges []models.Edge) error {
	return database.Transaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM road_edges"); err != nil {
			return fmt.Errorf("failed to clear road edges: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO road_edges (id, source, target, geometry, length_m, way_ids)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare edge insert: %w", err)
		}
		defer stmt.Close()

		for _, e := range edges {
			wayIDs, err := json.Marshal(e.WayIDs)
			if err != nil {
				return fmt.Errorf("failed to encode way ids of edge %d: %w", e.ID, err)
			}
			if _, err := stmt.ExecContext(ctx, e.ID, e.Source, e.Target, spatial.EncodePolyline(e.Geometry), e.Length(), string(wayIDs)); err != nil {
				return fmt.Errorf("failed to insert edge %d: %w", e.ID, err)
			}
		}
		return nil
	})
}

// All returns the stored network ordered by id
func (r *EdgeRepository) All(ctx context.Context) ([]models.Edge, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, source, target, geometry, way_ids FROM road_edges ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query road edges: %w", err)
	}
	defer rows.Close()

	var edges []models.Edge
	for rows.Next() {
		var e models.Edge
		var geometry, wayIDs string
		if err := rows.Scan(&e.ID, &e.Source, &e.Target, &geometry, &wayIDs); err != nil {
			return nil, fmt.Errorf("failed to scan road edge: %w", err)
		}
		if e.Geometry, err = spatial.DecodePolyline(geometry); err != nil {
			return nil, fmt.Errorf("edge %d: %w", e.ID, err)
		}
		var ids []osm.WayID
		if err := json.Unmarshal([]byte(wayIDs), &ids); err != nil {
			return nil, fmt.Errorf("edge %d: failed to decode way ids: %w", e.ID, err)
		}
		e.WayIDs = ids
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// Count returns the number of stored edges
func (r *EdgeRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM road_edges").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count road edges: %w", err)
	}
	return n, nil
}
