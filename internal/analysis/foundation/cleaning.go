package foundation

import (
	"context"
	"fmt"
	"log"

	"github.com/jengzang/porto-trajectory-go/internal/analysis"
	"github.com/jengzang/porto-trajectory-go/internal/config"
	"github.com/jengzang/porto-trajectory-go/internal/metrics"
	"github.com/jengzang/porto-trajectory-go/internal/models"
	"github.com/jengzang/porto-trajectory-go/internal/repository"
	"github.com/jengzang/porto-trajectory-go/internal/stats"
)

// DistanceBins are the histogram edges, in degrees, for consecutive fix distances
var DistanceBins = []float64{0, 0.0001, 0.0002, 0.0005, 0.001, 0.002, 0.005, 0.01, 0.05, 0.1, 1}

// ThresholdsFromConfig builds sanitizer thresholds from the service configuration
func ThresholdsFromConfig(cfg *config.Config) Thresholds {
	return Thresholds{
		Noise:   cfg.NoiseThreshold,
		GapMin:  cfg.GapMin,
		GapMax:  cfg.GapMax,
		GapStep: cfg.GapStep,
	}
}

// CleaningSummary is stored as the task result
type CleaningSummary struct {
	Trips          int           `json:"trips"`
	Cleaned        int           `json:"cleaned"`
	Empty          int           `json:"empty_trajectories"`
	FixesBefore    int           `json:"fixes_before"`
	FixesAfter     int           `json:"fixes_after"`
	PointsPerTrip  stats.Summary `json:"points_per_trip"`
	DistanceBefore []stats.Bin   `json:"distance_histogram_before"`
	DistanceAfter  []stats.Bin   `json:"distance_histogram_after"`
}

// CleaningResult is the outcome of sanitizing one trip
type CleaningResult struct {
	Trip    models.Trip
	Dropped int
	Err     error // ErrEmptyTrajectory when the trip cannot be matched
}

// CleanTrip sanitizes a trip's raw fixes and sets its cleaning status
func CleanTrip(trip models.Trip, t Thresholds) CleaningResult {
	trip.CleanedFixes = Sanitize(trip.Fixes, t)
	res := CleaningResult{Trip: trip, Dropped: len(trip.Fixes) - len(trip.CleanedFixes)}

	if err := Usable(trip.CleanedFixes); err != nil {
		res.Trip.CleanStatus = models.CleanStatusEmpty
		res.Err = fmt.Errorf("trip %s: %w", trip.ID, err)
		return res
	}
	res.Trip.CleanStatus = models.CleanStatusOK
	return res
}

// CleaningAnalyzer implements the trajectory cleaning skill
// Skill: 轨迹清洗 (Trajectory Cleaning)
// Drops noise and implausible jumps from raw trip polylines
type CleaningAnalyzer struct {
	*analysis.IncrementalAnalyzer
	Thresholds Thresholds
	trips      *repository.TripRepository
}

// NewCleaningAnalyzer creates a new trajectory cleaning analyzer
func NewCleaningAnalyzer(env *analysis.Env) analysis.Analyzer {
	base := analysis.NewIncrementalAnalyzer(env, "CleaningAnalyzer", 500)
	return &CleaningAnalyzer{
		IncrementalAnalyzer: base,
		Thresholds:          ThresholdsFromConfig(base.Config),
		trips:               repository.NewTripRepository(env.DB),
	}
}

// Analyze cleans every trip (full) or the trips not cleaned yet (incremental)
func (a *CleaningAnalyzer) Analyze(ctx context.Context, taskID int64, mode string) error {
	log.Printf("[CleaningAnalyzer] Starting analysis (task_id=%d, mode=%s)", taskID, mode)

	if err := a.Thresholds.Validate(); err != nil {
		return err
	}
	if err := a.MarkTaskAsRunning(taskID); err != nil {
		return fmt.Errorf("failed to mark task as running: %w", err)
	}

	if mode == analysis.ModeFull {
		if err := a.trips.ResetCleaning(ctx); err != nil {
			return err
		}
		log.Printf("[CleaningAnalyzer] Reset previous cleaning results")
	}

	total, err := a.trips.CountForCleaning(ctx, true)
	if err != nil {
		return err
	}
	if total == 0 {
		log.Printf("[CleaningAnalyzer] No trips to process")
		return a.MarkTaskAsCompleted(taskID, CleaningSummary{})
	}
	log.Printf("[CleaningAnalyzer] Processing %d trips", total)

	summary := CleaningSummary{}
	var before, after, counts []float64
	cursor := ""

	_, _, err = a.ProcessInBatches(ctx, taskID, total, func(ctx context.Context, limit int) (int, int, error) {
		batch, err := a.trips.NextForCleaning(ctx, cursor, limit, true)
		if err != nil {
			return 0, 0, err
		}
		if len(batch) == 0 {
			return 0, 0, nil
		}
		cursor = batch[len(batch)-1].ID

		cleaned := make([]models.Trip, len(batch))
		empty := 0
		for i, trip := range batch {
			res := CleanTrip(trip, a.Thresholds)
			cleaned[i] = res.Trip

			summary.Trips++
			summary.FixesBefore += len(trip.Fixes)
			summary.FixesAfter += len(res.Trip.CleanedFixes)
			before = append(before, ConsecutiveDistances(trip.Fixes)...)
			after = append(after, ConsecutiveDistances(res.Trip.CleanedFixes)...)
			counts = append(counts, float64(len(res.Trip.CleanedFixes)))

			a.Metrics.TripsSanitized.Inc()
			a.Metrics.FixesDropped.Add(float64(res.Dropped))
			if res.Err != nil {
				empty++
				a.Metrics.TripsSkipped.WithLabelValues(metrics.ReasonEmpty).Inc()
			}
		}
		summary.Empty += empty
		summary.Cleaned += len(batch) - empty

		if err := a.trips.SaveCleaned(ctx, cleaned); err != nil {
			return 0, 0, err
		}
		return len(batch), empty, nil
	})
	if err != nil {
		return err
	}

	summary.PointsPerTrip = stats.Summarize(counts)
	summary.DistanceBefore = stats.Histogram(before, DistanceBins)
	summary.DistanceAfter = stats.Histogram(after, DistanceBins)

	if err := a.MarkTaskAsCompleted(taskID, summary); err != nil {
		return fmt.Errorf("failed to mark task as completed: %w", err)
	}

	log.Printf("[CleaningAnalyzer] Analysis completed: %d trips cleaned, %d empty, %d -> %d fixes",
		summary.Cleaned, summary.Empty, summary.FixesBefore, summary.FixesAfter)
	return nil
}

func init() {
	analysis.RegisterAnalyzer(models.SkillTrajectoryCleaning, NewCleaningAnalyzer)
}
