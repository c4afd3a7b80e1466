package models

import (
	"time"

	"github.com/jengzang/porto-trajectory-go/internal/spatial"
)

// SamplingIntervalSeconds is the fixed gap between consecutive fixes of a trip
const SamplingIntervalSeconds = 15

// Trip represents one taxi trip of the Porto corpus
type Trip struct {
	ID string `json:"id" db:"id"`

	// Dataset attributes
	CallType    string `json:"call_type,omitempty" db:"call_type"` // A, B, C
	OriginCall  string `json:"origin_call,omitempty" db:"origin_call"`
	OriginStand string `json:"origin_stand,omitempty" db:"origin_stand"`
	TaxiID      string `json:"taxi_id" db:"taxi_id"`
	Timestamp   int64  `json:"timestamp" db:"timestamp"` // Unix timestamp of the first fix
	DayType     string `json:"day_type,omitempty" db:"day_type"`
	MissingData bool   `json:"missing_data" db:"missing_data"`

	// Raw fixes in recording order
	Fixes []spatial.Point `json:"fixes,omitempty" db:"-"`

	// Cleaning result
	CleanedFixes []spatial.Point `json:"-" db:"-"`
	CleanStatus  string          `json:"clean_status,omitempty" db:"clean_status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// FixTime returns the Unix timestamp of the k-th fix
func (t *Trip) FixTime(k int) int64 {
	return t.Timestamp + int64(SamplingIntervalSeconds*k)
}

// CleanStatus constants
const (
	CleanStatusOK    = "OK"
	CleanStatusEmpty = "EMPTY" // <= 1 usable fix after cleaning
)

// TripDetail is the API view of a trip with its cleaned polyline encoded
type TripDetail struct {
	Trip
	PointCount             int    `json:"point_count"`
	CleanedPointCount      int    `json:"cleaned_point_count"`
	CleanedEncodedPolyline string `json:"cleaned_encoded_polyline,omitempty"`
	Matched                bool   `json:"matched"`
}
