package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jengzang/porto-trajectory-go/internal/database"
	"github.com/jengzang/porto-trajectory-go/internal/models"
	"github.com/jengzang/porto-trajectory-go/internal/spatial"
)

// TripRepository handles database operations for trips
type TripRepository struct {
	db *sql.DB
}

// NewTripRepository creates a new trip repository
func NewTripRepository(db *sql.DB) *TripRepository {
	return &TripRepository{db: db}
}

const tripColumns = `id, call_type, origin_call, origin_stand, taxi_id, timestamp,
		day_type, missing_data, raw_polyline, cleaned_polyline, clean_status,
		created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(row rowScanner) (models.Trip, error) {
	var t models.Trip
	var raw string
	var cleaned, status sql.NullString

	err := row.Scan(
		&t.ID, &t.CallType, &t.OriginCall, &t.OriginStand, &t.TaxiID, &t.Timestamp,
		&t.DayType, &t.MissingData, &raw, &cleaned, &status,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return t, err
	}

	if t.Fixes, err = spatial.DecodePolyline(raw); err != nil {
		return t, fmt.Errorf("trip %s: failed to decode raw polyline: %w", t.ID, err)
	}
	if cleaned.Valid {
		if t.CleanedFixes, err = spatial.DecodePolyline(cleaned.String); err != nil {
			return t, fmt.Errorf("trip %s: failed to decode cleaned polyline: %w", t.ID, err)
		}
	}
	t.CleanStatus = status.String
	return t, nil
}

// UpsertBatch inserts or replaces trips. Re-imported trips lose their
// cleaning result.
func (r *TripRepository) UpsertBatch(ctx context.Context, trips []models.Trip) error {
	return database.Transaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO trips (
				id, call_type, origin_call, origin_stand, taxi_id, timestamp,
				day_type, missing_data, raw_polyline, point_count
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				call_type = excluded.call_type,
				origin_call = excluded.origin_call,
				origin_stand = excluded.origin_stand,
				taxi_id = excluded.taxi_id,
				timestamp = excluded.timestamp,
				day_type = excluded.day_type,
				missing_data = excluded.missing_data,
				raw_polyline = excluded.raw_polyline,
				point_count = excluded.point_count,
				cleaned_polyline = NULL,
				cleaned_point_count = 0,
				clean_status = NULL,
				updated_at = CURRENT_TIMESTAMP
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare trip insert: %w", err)
		}
		defer stmt.Close()

		for _, t := range trips {
			_, err := stmt.ExecContext(ctx,
				t.ID, t.CallType, t.OriginCall, t.OriginStand, t.TaxiID, t.Timestamp,
				t.DayType, t.MissingData, spatial.EncodePolyline(t.Fixes), len(t.Fixes),
			)
			if err != nil {
				return fmt.Errorf("failed to insert trip %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

// GetTrips retrieves trips with filtering and pagination
func (r *TripRepository) GetTrips(ctx context.Context, filter models.TripFilter) ([]models.Trip, int64, error) {
	var conditions []string
	var args []interface{}

	if filter.TaxiID != "" {
		conditions = append(conditions, "taxi_id = ?")
		args = append(args, filter.TaxiID)
	}
	if filter.StartTime > 0 {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, filter.StartTime)
	}
	if filter.EndTime > 0 {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, filter.EndTime)
	}
	if filter.CallType != "" {
		conditions = append(conditions, "call_type = ?")
		args = append(args, filter.CallType)
	}
	if filter.CleanStatus != "" {
		conditions = append(conditions, "clean_status = ?")
		args = append(args, filter.CleanStatus)
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM trips"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count trips: %w", err)
	}

	// Add pagination
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = 100
	}
	if filter.PageSize > 1000 {
		filter.PageSize = 1000
	}

	offset := (filter.Page - 1) * filter.PageSize
	query := "SELECT " + tripColumns + " FROM trips" + where + " ORDER BY timestamp, id LIMIT ? OFFSET ?"
	args = append(args, filter.PageSize, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query trips: %w", err)
	}
	defer rows.Close()

	var trips []models.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan trip: %w", err)
		}
		trips = append(trips, t)
	}

	return trips, total, rows.Err()
}

// GetTripByID retrieves a single trip by ID. A missing trip yields nil, nil.
func (r *TripRepository) GetTripByID(ctx context.Context, id string) (*models.Trip, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+tripColumns+" FROM trips WHERE id = ?", id)
	t, err := scanTrip(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trip: %w", err)
	}
	return &t, nil
}

// CountForCleaning counts trips awaiting cleaning, or all trips when onlyPending is false
func (r *TripRepository) CountForCleaning(ctx context.Context, onlyPending bool) (int, error) {
	query := "SELECT COUNT(*) FROM trips"
	if onlyPending {
		query += " WHERE clean_status IS NULL"
	}

	var n int
	if err := r.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count trips: %w", err)
	}
	return n, nil
}

// NextForCleaning returns up to limit trips with an id greater than afterID.
// Paging by id keeps the cursor stable while earlier rows are updated.
func (r *TripRepository) NextForCleaning(ctx context.Context, afterID string, limit int, onlyPending bool) ([]models.Trip, error) {
	query := "SELECT " + tripColumns + " FROM trips WHERE id > ?"
	if onlyPending {
		query += " AND clean_status IS NULL"
	}
	query += " ORDER BY id LIMIT ?"

	rows, err := r.db.QueryContext(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trips: %w", err)
	}
	defer rows.Close()

	var trips []models.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trip: %w", err)
		}
		trips = append(trips, t)
	}
	return trips, rows.Err()
}

// SaveCleaned stores cleaning results for a batch of trips
func (r *TripRepository) SaveCleaned(ctx context.Context, trips []models.Trip) error {
	return database.Transaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			UPDATE trips
			SET cleaned_polyline = ?,
			    cleaned_point_count = ?,
			    clean_status = ?,
			    updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare cleaning update: %w", err)
		}
		defer stmt.Close()

		for _, t := range trips {
			if _, err := stmt.ExecContext(ctx, spatial.EncodePolyline(t.CleanedFixes), len(t.CleanedFixes), t.CleanStatus, t.ID); err != nil {
				return fmt.Errorf("failed to update trip %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

// ResetCleaning clears every cleaning result before a full recompute
func (r *TripRepository) ResetCleaning(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE trips
		SET cleaned_polyline = NULL, cleaned_point_count = 0, clean_status = NULL,
		    updated_at = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return fmt.Errorf("failed to reset cleaning results: %w", err)
	}
	return nil
}

// ListMatchable returns cleaned trips with at least two fixes. With
// onlyUnmatched set, trips that already have a matched path are skipped.
func (r *TripRepository) ListMatchable(ctx context.Context, onlyUnmatched bool) ([]models.Trip, error) {
	query := "SELECT " + tripColumns + " FROM trips WHERE clean_status = ?"
	if onlyUnmatched {
		query += " AND id NOT IN (SELECT trip_id FROM matched_paths)"
	}
	query += " ORDER BY timestamp, id"

	rows, err := r.db.QueryContext(ctx, query, models.CleanStatusOK)
	if err != nil {
		return nil, fmt.Errorf("failed to query matchable trips: %w", err)
	}
	defer rows.Close()

	var trips []models.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trip: %w", err)
		}
		trips = append(trips, t)
	}
	return trips, rows.Err()
}

// CountByCleanStatus returns trip counts keyed by cleaning status ("" = not cleaned)
func (r *TripRepository) CountByCleanStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT COALESCE(clean_status, ''), COUNT(*) FROM trips GROUP BY 1")
	if err != nil {
		return nil, fmt.Errorf("failed to count trips by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
