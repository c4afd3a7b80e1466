package matching

import (
	"context"
	"errors"
	"time"

	"github.com/jengzang/porto-trajectory-go/internal/models"
	"github.com/jengzang/porto-trajectory-go/internal/spatial"
)

// ErrNoMatch is returned when no road candidates are found near any fix.
// The trip is excluded from aggregation and the batch continues.
var ErrNoMatch = errors.New("no match candidates")

// MatchRequest describes one trace to match
type MatchRequest struct {
	TripID       string
	Fixes        []spatial.Point
	FixIndexes   []int   // raw position of each fix; nil means consecutive
	StartTime    int64   // Unix timestamp of the first raw fix
	Interval     float64 // seconds between raw fixes
	SearchRadius float64 // meters
	KNeighbors   int
	GPSAccuracy  float64 // meters
}

// FixTime returns the timestamp of the k-th fix
func (r MatchRequest) FixTime(k int) time.Time {
	if len(r.FixIndexes) == len(r.Fixes) {
		k = r.FixIndexes[k]
	}
	return time.Unix(r.StartTime, 0).Add(time.Duration(float64(k) * r.Interval * float64(time.Second)))
}

// Matcher infers the road edges traversed by a trace. Implementations must be
// safe for concurrent use.
type Matcher interface {
	Match(ctx context.Context, req MatchRequest) (*models.MatchedPath, error)
}
