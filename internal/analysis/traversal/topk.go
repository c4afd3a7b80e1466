package traversal

import (
	"fmt"
	"sort"

	"github.com/jengzang/porto-trajectory-go/internal/models"
)

// TopKByCount ranks keys by the number of distinct trips traversing them
func TopKByCount(stats []models.EdgeStat, k int) []models.RankedEdge {
	return topK(stats, k, func(s models.EdgeStat) float64 { return float64(s.Count) })
}

// TopKByAvgTime ranks keys by average dwell time per traversing trip
func TopKByAvgTime(stats []models.EdgeStat, k int) []models.RankedEdge {
	return topK(stats, k, models.EdgeStat.AvgTime)
}

// TopK ranks by the named metric, models.RankByCount or models.RankByAvgTime
func TopK(stats []models.EdgeStat, k int, by string) ([]models.RankedEdge, error) {
	switch by {
	case models.RankByCount:
		return TopKByCount(stats, k), nil
	case models.RankByAvgTime:
		return TopKByAvgTime(stats, k), nil
	default:
		return nil, fmt.Errorf("unknown ranking metric %q", by)
	}
}

// topK excludes zero-count keys before ranking. Ties are broken by ascending
// key so rankings are reproducible.
func topK(stats []models.EdgeStat, k int, metric func(models.EdgeStat) float64) []models.RankedEdge {
	if k <= 0 {
		return []models.RankedEdge{}
	}

	candidates := make([]models.EdgeStat, 0, len(stats))
	for _, s := range stats {
		if s.Count > 0 {
			candidates = append(candidates, s)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		mi, mj := metric(candidates[i]), metric(candidates[j])
		if mi != mj {
			return mi > mj
		}
		return candidates[i].Key < candidates[j].Key
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	ranked := make([]models.RankedEdge, len(candidates))
	for i, s := range candidates {
		ranked[i] = models.RankedEdge{
			Rank:      i + 1,
			Key:       s.Key,
			Kind:      s.Kind,
			Name:      s.Name,
			Count:     s.Count,
			AvgTime:   s.AvgTime(),
			TotalTime: s.TotalTime,
		}
	}
	return ranked
}
