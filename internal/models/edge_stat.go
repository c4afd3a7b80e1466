package models

import "time"

// EdgeStat accumulates traversal statistics for one edge or way
type EdgeStat struct {
	Key       int64   `json:"key" db:"key"`
	Kind      string  `json:"kind,omitempty" db:"key_kind"` // EDGE or WAY
	Name      string  `json:"name,omitempty" db:"name"`
	Count     int     `json:"traversal_count" db:"traversal_count"` // distinct trips
	TotalTime float64 `json:"total_time_s" db:"total_time_s"`

	UpdatedAt time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// AvgTime returns the average dwell time per traversing trip
func (s EdgeStat) AvgTime() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.TotalTime / float64(s.Count)
}

// StatKind constants
const (
	StatKindEdge = "EDGE"
	StatKindWay  = "WAY"
)

// RankMetric constants
const (
	RankByCount   = "count"
	RankByAvgTime = "avg_time"
)

// RankedEdge is one entry of a top-K ranking
type RankedEdge struct {
	Rank      int     `json:"rank"`
	Key       int64   `json:"key"`
	Kind      string  `json:"kind,omitempty"`
	Name      string  `json:"name,omitempty"`
	Count     int     `json:"traversal_count"`
	AvgTime   float64 `json:"avg_time_s"`
	TotalTime float64 `json:"total_time_s"`
}
