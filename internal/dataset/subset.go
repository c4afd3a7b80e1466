package dataset

import (
	"sort"

	"github.com/jengzang/porto-trajectory-go/internal/analysis/foundation"
	"github.com/jengzang/porto-trajectory-go/internal/models"
	"github.com/jengzang/porto-trajectory-go/internal/stats"
)

// SubsetOptions controls trip selection
type SubsetOptions struct {
	Limit              int  // number of distinct trip ids to keep
	SortByTimestamp    bool // select the earliest trips instead of the first in file order
	CollapseDuplicates bool // merge repeated fixes before the single-fix filter
}

// SubsetStats summarizes a subsetting run
type SubsetStats struct {
	TripsBefore         int     `json:"trips_before"`
	TaxisBefore         int     `json:"taxis_before"`
	TripsSelected       int     `json:"trips_selected"`
	TaxisAfter          int     `json:"taxis_after"`
	SinglePointRemoved  int     `json:"single_point_removed"`
	MaxPoints           int     `json:"max_points"`
	TotalPoints         int     `json:"total_points"`
	ValidTrips          int     `json:"valid_trips"`
	AveragePoints       float64 `json:"average_points"`
	StdDevPoints        float64 `json:"std_dev_points"`
	PointsPerTripCounts []int   `json:"-"`
}

// Subset selects the first opts.Limit distinct trips. Records sharing a trip
// id are kept together. A trip's selection time is that of its first record.
func Subset(records []models.Trip, opts SubsetOptions) ([]models.Trip, SubsetStats) {
	var st SubsetStats

	type entry struct {
		id        string
		timestamp int64
	}
	byID := make(map[string][]int)
	var order []entry
	taxisBefore := make(map[string]struct{})

	for i, r := range records {
		taxisBefore[r.TaxiID] = struct{}{}
		if _, seen := byID[r.ID]; !seen {
			order = append(order, entry{id: r.ID, timestamp: r.Timestamp})
		}
		byID[r.ID] = append(byID[r.ID], i)
	}
	st.TripsBefore = len(order)
	st.TaxisBefore = len(taxisBefore)

	if opts.SortByTimestamp {
		sort.SliceStable(order, func(i, j int) bool { return order[i].timestamp < order[j].timestamp })
	}
	if opts.Limit > 0 && opts.Limit < len(order) {
		order = order[:opts.Limit]
	}
	st.TripsSelected = len(order)

	taxisAfter := make(map[string]struct{})
	var out []models.Trip
	var pointCounts []float64

	for _, e := range order {
		for _, i := range byID[e.id] {
			trip := records[i]
			if opts.CollapseDuplicates {
				trip.Fixes = foundation.CollapseDuplicates(trip.Fixes)
			}
			if len(trip.Fixes) <= 1 {
				st.SinglePointRemoved++
				continue
			}

			out = append(out, trip)
			n := len(trip.Fixes)
			st.ValidTrips++
			st.TotalPoints += n
			st.MaxPoints = max(st.MaxPoints, n)
			st.PointsPerTripCounts = append(st.PointsPerTripCounts, n)
			pointCounts = append(pointCounts, float64(n))
			taxisAfter[trip.TaxiID] = struct{}{}
		}
	}

	st.TaxisAfter = len(taxisAfter)
	st.AveragePoints = stats.Mean(pointCounts)
	st.StdDevPoints = stats.PopulationStdDev(pointCounts)
	return out, st
}
