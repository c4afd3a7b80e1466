package models

import "time"

// MatchedPath is the inferred edge sequence of one trip.
// Fix i lies between edge positions EdgeIndex[i] and EdgeIndex[i+1].
type MatchedPath struct {
	TripID    string    `json:"trip_id" db:"trip_id"`
	Edges     []int64   `json:"edges" db:"edges"`           // edge or way ids, in travel order
	EdgeIndex []int     `json:"edge_index" db:"edge_index"` // one entry per matched fix
	Offsets   []float64 `json:"offsets,omitempty" db:"offsets"`
	Source    string    `json:"source,omitempty" db:"source"`
	MatchedAt time.Time `json:"matched_at" db:"matched_at"`
}

// MatchSource constants
const (
	MatchSourceValhalla = "VALHALLA"
	MatchSourceTable    = "TABLE"
)
