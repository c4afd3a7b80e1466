package matching

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jengzang/porto-trajectory-go/internal/analysis"
	"github.com/jengzang/porto-trajectory-go/internal/analysis/foundation"
	"github.com/jengzang/porto-trajectory-go/internal/metrics"
	"github.com/jengzang/porto-trajectory-go/internal/models"
	"github.com/jengzang/porto-trajectory-go/internal/repository"
)

// MatchingSummary is stored as the task result
type MatchingSummary struct {
	Trips   int `json:"trips"`
	Matched int `json:"matched"`
	NoMatch int `json:"no_match"`
	Errors  int `json:"errors"`
	Empty   int `json:"empty_trajectories"`
}

// MatchingAnalyzer implements the map matching skill
// Skill: 地图匹配 (Map Matching)
// Matches cleaned trips against the road network through an external matcher
type MatchingAnalyzer struct {
	*analysis.BaseAnalyzer
	Matcher Matcher
	Workers int

	trips *repository.TripRepository
	paths *repository.MatchedPathRepository
}

// NewMatchingAnalyzer creates a map matching analyzer backed by Valhalla
func NewMatchingAnalyzer(env *analysis.Env) analysis.Analyzer {
	a := NewMatchingAnalyzerWith(env, nil)
	a.Matcher = NewValhallaMatcher(a.Config.ValhallaURL, a.Config.HTTPTimeout)
	return a
}

// NewMatchingAnalyzerWith creates a map matching analyzer with a custom matcher
func NewMatchingAnalyzerWith(env *analysis.Env, matcher Matcher) *MatchingAnalyzer {
	base := analysis.NewBaseAnalyzer(env, "MatchingAnalyzer")
	return &MatchingAnalyzer{
		BaseAnalyzer: base,
		Matcher:      matcher,
		Workers:      base.Config.MatchWorkers,
		trips:        repository.NewTripRepository(env.DB),
		paths:        repository.NewMatchedPathRepository(env.DB),
	}
}

// Analyze matches every cleaned trip (full) or the ones without a path (incremental)
func (a *MatchingAnalyzer) Analyze(ctx context.Context, taskID int64, mode string) error {
	log.Printf("[MatchingAnalyzer] Starting analysis (task_id=%d, mode=%s)", taskID, mode)

	if err := a.MarkTaskAsRunning(taskID); err != nil {
		return fmt.Errorf("failed to mark task as running: %w", err)
	}

	if mode == analysis.ModeFull {
		if err := a.paths.DeleteAll(ctx); err != nil {
			return err
		}
		log.Printf("[MatchingAnalyzer] Cleared previous matched paths")
	}

	trips, err := a.trips.ListMatchable(ctx, mode != analysis.ModeFull)
	if err != nil {
		return err
	}
	if len(trips) == 0 {
		log.Printf("[MatchingAnalyzer] No trips to process")
		return a.MarkTaskAsCompleted(taskID, MatchingSummary{})
	}
	log.Printf("[MatchingAnalyzer] Matching %d trips with %d workers", len(trips), a.Workers)

	if err := a.UpdateTaskProgress(taskID, len(trips), 0, 0); err != nil {
		return fmt.Errorf("failed to update task progress: %w", err)
	}

	paths, summary, err := a.MatchTrips(ctx, trips)
	if err != nil {
		return err
	}

	// Persist in one serialized phase after all workers finished
	if err := a.paths.SaveBatch(ctx, paths); err != nil {
		return err
	}

	failed := summary.Trips - summary.Matched
	if err := a.UpdateTaskProgress(taskID, summary.Trips, summary.Trips, failed); err != nil {
		return fmt.Errorf("failed to update task progress: %w", err)
	}
	if err := a.MarkTaskAsCompleted(taskID, summary); err != nil {
		return fmt.Errorf("failed to mark task as completed: %w", err)
	}

	log.Printf("[MatchingAnalyzer] Analysis completed: %d/%d trips matched (%d no match, %d errors, %d empty)",
		summary.Matched, summary.Trips, summary.NoMatch, summary.Errors, summary.Empty)
	return nil
}

// MatchTrips matches trips concurrently. Per-trip failures are logged and
// counted; only cancellation of ctx aborts the run. Paths are returned in
// input order.
func (a *MatchingAnalyzer) MatchTrips(ctx context.Context, trips []models.Trip) ([]models.MatchedPath, MatchingSummary, error) {
	cfg := a.Config
	results := make([]*models.MatchedPath, len(trips))
	outcomes := make([]string, len(trips))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(a.Workers, 1))

	for i := range trips {
		trip := trips[i]
		g.Go(func() error {
			if err := foundation.Usable(trip.CleanedFixes); err != nil {
				outcomes[i] = metrics.ReasonEmpty
				a.Metrics.TripsSkipped.WithLabelValues(metrics.ReasonEmpty).Inc()
				return nil
			}

			start := time.Now()
			path, err := a.Matcher.Match(gctx, MatchRequest{
				TripID:       trip.ID,
				Fixes:        trip.CleanedFixes,
				FixIndexes:   foundation.RawIndexes(trip.Fixes, trip.CleanedFixes),
				StartTime:    trip.Timestamp,
				Interval:     cfg.SamplingInterval,
				SearchRadius: cfg.SearchRadius,
				KNeighbors:   cfg.KNeighbors,
				GPSAccuracy:  cfg.GPSAccuracy,
			})
			a.Metrics.MatchDuration.Observe(time.Since(start).Seconds())

			switch {
			case err == nil:
				results[i] = path
				outcomes[i] = metrics.ResultMatched
				a.Metrics.MatchRequests.WithLabelValues(metrics.ResultMatched).Inc()
			case gctx.Err() != nil:
				return gctx.Err()
			case errors.Is(err, ErrNoMatch):
				outcomes[i] = metrics.ResultNoMatch
				a.Metrics.MatchRequests.WithLabelValues(metrics.ResultNoMatch).Inc()
				a.Metrics.TripsSkipped.WithLabelValues(metrics.ReasonNoMatch).Inc()
				log.Printf("[MatchingAnalyzer] No match for trip %s", trip.ID)
			default:
				outcomes[i] = metrics.ResultError
				a.Metrics.MatchRequests.WithLabelValues(metrics.ResultError).Inc()
				a.Metrics.TripsSkipped.WithLabelValues(metrics.ReasonMatchError).Inc()
				log.Printf("[MatchingAnalyzer] Failed to match trip %s: %v", trip.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, MatchingSummary{}, err
	}

	summary := MatchingSummary{Trips: len(trips)}
	var paths []models.MatchedPath
	for i, outcome := range outcomes {
		switch outcome {
		case metrics.ResultMatched:
			summary.Matched++
			paths = append(paths, *results[i])
		case metrics.ResultNoMatch:
			summary.NoMatch++
		case metrics.ReasonEmpty:
			summary.Empty++
		default:
			summary.Errors++
		}
	}
	return paths, summary, nil
}

func init() {
	analysis.RegisterAnalyzer(models.SkillMapMatching, NewMatchingAnalyzer)
}
