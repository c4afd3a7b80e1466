package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jengzang/porto-trajectory-go/internal/database"
	"github.com/jengzang/porto-trajectory-go/internal/models"
)

// EdgeStatRepository stores aggregated traversal statistics
type EdgeStatRepository struct {
	db *sql.DB
}

// NewEdgeStatRepository creates a new edge statistics repository
func NewEdgeStatRepository(db *sql.DB) *EdgeStatRepository {
	return &EdgeStatRepository{db: db}
}

// ReplaceKind replaces all statistics of one key kind
func (r *EdgeStatRepository) ReplaceKind(ctx context.Context, kind string, stats []models.EdgeStat) error {
	return database.Transaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM edge_stats WHERE key_kind = ?", kind); err != nil {
			return fmt.Errorf("failed to clear edge stats: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO edge_stats (key, key_kind, name, traversal_count, total_time_s, avg_time_s, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare edge stat insert: %w", err)
		}
		defer stmt.Close()

		for _, s := range stats {
			if _, err := stmt.ExecContext(ctx, s.Key, kind, s.Name, s.Count, s.TotalTime, s.AvgTime()); err != nil {
				return fmt.Errorf("failed to insert edge stat %d: %w", s.Key, err)
			}
		}
		return nil
	})
}

// ListByKind returns all statistics of one key kind ordered by key
func (r *EdgeStatRepository) ListByKind(ctx context.Context, kind string) ([]models.EdgeStat, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT key, key_kind, name, traversal_count, total_time_s, updated_at
		FROM edge_stats
		WHERE key_kind = ?
		ORDER BY key
	`, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to query edge stats: %w", err)
	}
	defer rows.Close()

	var stats []models.EdgeStat
	for rows.Next() {
		var s models.EdgeStat
		if err := rows.Scan(&s.Key, &s.Kind, &s.Name, &s.Count, &s.TotalTime, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan edge stat: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
