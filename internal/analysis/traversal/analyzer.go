package traversal

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/paulmach/osm"

	"github.com/jengzang/porto-trajectory-go/internal/analysis"
	"github.com/jengzang/porto-trajectory-go/internal/metrics"
	"github.com/jengzang/porto-trajectory-go/internal/models"
	"github.com/jengzang/porto-trajectory-go/internal/osmdata"
	"github.com/jengzang/porto-trajectory-go/internal/repository"
)

// WaySource looks up way geometry and tags. A partial result may come with
// an *osmdata.ExternalFetchError naming the ways that could not be fetched.
type WaySource interface {
	Ways(ctx context.Context, ids []osm.WayID) (map[osm.WayID]models.Way, error)
}

// TraversalSummary is stored as the task result
type TraversalSummary struct {
	Paths           int `json:"paths"`
	Folded          int `json:"folded"`
	Invalid         int `json:"invalid"`
	ZeroLengthSpans int `json:"zero_length_spans"`
	Edges           int `json:"edges"`
	Ways            int `json:"ways"`
	MissingWays     int `json:"missing_ways"`
}

// FoldResult holds both aggregates of one run
type FoldResult struct {
	Edges   *Aggregator // nil without a road network
	Ways    *Aggregator // nil without a way source
	Summary TraversalSummary
}

// TraversalAnalyzer 边通行统计分析器
// Skill: 边通行统计 (Edge Traversal)
// Folds matched paths into per-edge and per-way traversal counts and dwell times
type TraversalAnalyzer struct {
	*analysis.BaseAnalyzer
	Ways WaySource

	paths *repository.MatchedPathRepository
	edges *repository.EdgeRepository
	stats *repository.EdgeStatRepository
}

// NewTraversalAnalyzer creates a traversal analyzer that looks ways up on Overpass
func NewTraversalAnalyzer(env *analysis.Env) analysis.Analyzer {
	a := NewTraversalAnalyzerWith(env, nil)
	cfg := a.Config
	a.Ways = osmdata.NewWayFetcher(cfg.OverpassURL, cfg.UserAgent, cfg.HTTPTimeout, osmdata.NewWayCache(cfg), a.Metrics)
	return a
}

// NewTraversalAnalyzerWith creates a traversal analyzer with a custom way
// source. A nil source disables way statistics.
func NewTraversalAnalyzerWith(env *analysis.Env, ways WaySource) *TraversalAnalyzer {
	return &TraversalAnalyzer{
		BaseAnalyzer: analysis.NewBaseAnalyzer(env, "TraversalAnalyzer"),
		Ways:         ways,
		paths:        repository.NewMatchedPathRepository(env.DB),
		edges:        repository.NewEdgeRepository(env.DB),
		stats:        repository.NewEdgeStatRepository(env.DB),
	}
}

// Analyze recomputes all traversal statistics. Statistics are replaced as a
// whole, so incremental mode runs a full recompute as well.
func (a *TraversalAnalyzer) Analyze(ctx context.Context, taskID int64, mode string) error {
	log.Printf("[TraversalAnalyzer] Starting analysis (task_id=%d, mode=%s)", taskID, mode)
	if mode == analysis.ModeIncremental {
		log.Printf("[TraversalAnalyzer] Incremental mode recomputes all statistics")
	}

	if err := a.MarkTaskAsRunning(taskID); err != nil {
		return fmt.Errorf("failed to mark task as running: %w", err)
	}

	paths, err := a.paths.All(ctx)
	if err != nil {
		return err
	}
	edges, err := a.edges.All(ctx)
	if err != nil {
		return err
	}
	log.Printf("[TraversalAnalyzer] Folding %d matched paths over %d network edges", len(paths), len(edges))

	if err := a.UpdateTaskProgress(taskID, len(paths), 0, 0); err != nil {
		return fmt.Errorf("failed to update task progress: %w", err)
	}

	res, err := a.Fold(ctx, paths, edges)
	if err != nil {
		return err
	}

	var edgeStats, wayStats []models.EdgeStat
	if res.Edges != nil {
		edgeStats = res.Edges.Stats()
	}
	if res.Ways != nil {
		wayStats = res.Ways.Stats()
	}
	if err := a.stats.ReplaceKind(ctx, models.StatKindEdge, edgeStats); err != nil {
		return err
	}
	if err := a.stats.ReplaceKind(ctx, models.StatKindWay, wayStats); err != nil {
		return err
	}
	a.Metrics.EdgesTracked.Set(float64(len(edgeStats) + len(wayStats)))

	s := res.Summary
	if err := a.UpdateTaskProgress(taskID, s.Paths, s.Paths, s.Invalid); err != nil {
		return fmt.Errorf("failed to update task progress: %w", err)
	}
	if err := a.MarkTaskAsCompleted(taskID, s); err != nil {
		return fmt.Errorf("failed to mark task as completed: %w", err)
	}

	log.Printf("[TraversalAnalyzer] Analysis completed: %d/%d paths folded, %d edges, %d ways (%d missing), %d zero-length spans",
		s.Folded, s.Paths, s.Edges, s.Ways, s.MissingWays, s.ZeroLengthSpans)
	return nil
}

// Fold aggregates paths into edge statistics (table matches over the network)
// and way statistics (every path). Invalid paths are skipped and counted.
func (a *TraversalAnalyzer) Fold(ctx context.Context, paths []models.MatchedPath, edges []models.Edge) (*FoldResult, error) {
	interval := a.Config.SamplingInterval
	res := &FoldResult{Summary: TraversalSummary{Paths: len(paths)}}

	if len(edges) > 0 {
		res.Edges = NewAggregator(NewEdgeResolver(edges), interval)
	}

	var viaNetwork, direct *WayResolver
	if a.Ways != nil {
		ways, missing, err := a.fetchWays(ctx, paths, EdgeWays(edges))
		if err != nil {
			return nil, err
		}
		viaNetwork = NewWayResolver(EdgeWays(edges), ways)
		direct = NewWayResolver(nil, ways)
		res.Ways = NewAggregator(viaNetwork, interval)
		res.Summary.MissingWays = missing
	}

	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Valhalla paths carry way ids, table paths carry network edge ids
		fromValhalla := p.Source == models.MatchSourceValhalla

		var err error
		if res.Edges != nil && !fromValhalla {
			_, err = res.Edges.Add(p)
		}
		if err == nil && res.Ways != nil {
			r := viaNetwork
			if fromValhalla {
				r = direct
			}
			_, err = res.Ways.AddWith(p, r)
		}

		if err != nil {
			res.Summary.Invalid++
			a.Metrics.TripsSkipped.WithLabelValues(metrics.ReasonInvalidPath).Inc()
			log.Printf("[TraversalAnalyzer] Skipping trip: %v", err)
			continue
		}
		res.Summary.Folded++
		a.Metrics.TripsFolded.Inc()
	}

	for _, agg := range []*Aggregator{res.Edges, res.Ways} {
		if agg == nil {
			continue
		}
		res.Summary.ZeroLengthSpans += agg.ZeroLengthSpans()
		a.Metrics.ZeroLengthSpans.Add(float64(agg.ZeroLengthSpans()))
	}
	if res.Edges != nil {
		res.Summary.Edges = len(res.Edges.stats)
	}
	if res.Ways != nil {
		res.Summary.Ways = len(res.Ways.stats)
	}
	return res, nil
}

// fetchWays looks up every way referenced by paths. Ways that fail to load
// are reported as missing and left out of the result.
func (a *TraversalAnalyzer) fetchWays(ctx context.Context, paths []models.MatchedPath, edgeWays map[int64][]osm.WayID) (map[osm.WayID]models.Way, int, error) {
	viaNetwork := NewWayResolver(edgeWays, nil)
	direct := NewWayResolver(nil, nil)

	seen := make(map[osm.WayID]struct{})
	var ids []osm.WayID
	for _, p := range paths {
		r := viaNetwork
		if p.Source == models.MatchSourceValhalla {
			r = direct
		}
		for _, id := range r.WayIDs(p.Edges) {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return nil, 0, nil
	}

	log.Printf("[TraversalAnalyzer] Resolving %d ways", len(ids))
	ways, err := a.Ways.Ways(ctx, ids)
	if err != nil {
		var fetchErr *osmdata.ExternalFetchError
		if !errors.As(err, &fetchErr) {
			return nil, 0, fmt.Errorf("failed to resolve ways: %w", err)
		}
		log.Printf("[TraversalAnalyzer] %d ways unavailable, omitting them: %v", len(fetchErr.Keys), err)
	}
	return ways, len(ids) - len(ways), nil
}

func init() {
	analysis.RegisterAnalyzer(models.SkillEdgeTraversal, NewTraversalAnalyzer)
}
