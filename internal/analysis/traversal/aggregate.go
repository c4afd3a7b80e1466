package traversal

import (
	"errors"
	"fmt"
	"sort"

	"github.com/jengzang/porto-trajectory-go/internal/models"
)

var (
	// ErrInvalidPath is returned for a matched path whose per-fix indexes
	// point outside its edge sequence. The trip is skipped.
	ErrInvalidPath = errors.New("invalid matched path")

	// ErrZeroLengthSpan marks a fix interval whose edges have no length.
	// It never leaves this package; the interval is skipped and counted.
	ErrZeroLengthSpan = errors.New("zero-length span")
)

// Contribution is what one trip added to the aggregate
type Contribution struct {
	TripID string
	// Keys traversed by the trip, each counted once, ascending
	Keys []int64
	// Dwell seconds per key, summed over every occurrence
	Dwell map[int64]float64
	// Intervals skipped because their span had no length
	ZeroLengthSpans int
}

// Aggregator folds matched paths into per-key traversal statistics. It is
// not safe for concurrent use; paths are folded one at a time.
type Aggregator struct {
	resolver Resolver
	interval float64

	stats           map[int64]*models.EdgeStat
	trips           int
	zeroLengthSpans int
}

// NewAggregator creates an aggregator that distributes interval seconds
// between consecutive fixes
func NewAggregator(resolver Resolver, interval float64) *Aggregator {
	return &Aggregator{
		resolver: resolver,
		interval: interval,
		stats:    make(map[int64]*models.EdgeStat),
	}
}

// Add folds one trip using the aggregator's resolver
func (a *Aggregator) Add(path models.MatchedPath) (*Contribution, error) {
	return a.AddWith(path, a.resolver)
}

// AddWith folds one trip using r to expand its edges. The path is validated
// before any statistic changes, so a rejected trip leaves no trace.
func (a *Aggregator) AddWith(path models.MatchedPath, r Resolver) (*Contribution, error) {
	for i, idx := range path.EdgeIndex {
		if idx < 0 || idx >= len(path.Edges) {
			return nil, fmt.Errorf("trip %s: %w: fix %d has edge index %d of %d edges",
				path.TripID, ErrInvalidPath, i, idx, len(path.Edges))
		}
	}

	c := &Contribution{TripID: path.TripID, Dwell: make(map[int64]float64)}
	traversed := make(map[int64]struct{})

	for i := 0; i+1 < len(path.EdgeIndex); i++ {
		from, to := path.EdgeIndex[i], path.EdgeIndex[i+1]
		var keys []int64
		if from <= to {
			keys = r.Segments(path.Edges[from : to+1])
		}
		for _, k := range keys {
			traversed[k] = struct{}{}
		}

		if err := a.apportion(r, keys, c.Dwell); err != nil {
			c.ZeroLengthSpans++
		}
	}

	c.Keys = make([]int64, 0, len(traversed))
	for k := range traversed {
		c.Keys = append(c.Keys, k)
	}
	sort.Slice(c.Keys, func(i, j int) bool { return c.Keys[i] < c.Keys[j] })

	for _, k := range c.Keys {
		a.stat(k).Count++
	}
	for k, d := range c.Dwell {
		a.stat(k).TotalTime += d
	}
	a.trips++
	a.zeroLengthSpans += c.ZeroLengthSpans

	return c, nil
}

// apportion splits the interval across keys by length, once per occurrence
func (a *Aggregator) apportion(r Resolver, keys []int64, dwell map[int64]float64) error {
	lengths := make([]float64, len(keys))
	var total float64
	for i, k := range keys {
		l, _ := r.Length(k)
		lengths[i] = l
		total += l
	}
	if total <= 0 {
		return ErrZeroLengthSpan
	}

	for i, k := range keys {
		dwell[k] += a.interval * lengths[i] / total
	}
	return nil
}

func (a *Aggregator) stat(key int64) *models.EdgeStat {
	s, ok := a.stats[key]
	if !ok {
		s = &models.EdgeStat{Key: key, Kind: a.resolver.Kind()}
		a.stats[key] = s
	}
	return s
}

// Stats returns a snapshot of the statistics ordered by key. When the
// resolver can name keys, names are filled in.
func (a *Aggregator) Stats() []models.EdgeStat {
	namer, _ := a.resolver.(Namer)

	out := make([]models.EdgeStat, 0, len(a.stats))
	for _, s := range a.stats {
		stat := *s
		if namer != nil {
			stat.Name = namer.Name(stat.Key)
		}
		out = append(out, stat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Trips returns the number of trips folded so far
func (a *Aggregator) Trips() int { return a.trips }

// ZeroLengthSpans returns the number of intervals skipped for lack of length
func (a *Aggregator) ZeroLengthSpans() int { return a.zeroLengthSpans }

// Aggregate folds every path with one resolver. Invalid paths are skipped
// and returned as errors.
func Aggregate(paths []models.MatchedPath, resolver Resolver, interval float64) (*Aggregator, []error) {
	agg := NewAggregator(resolver, interval)
	var errs []error
	for _, p := range paths {
		if _, err := agg.Add(p); err != nil {
			errs = append(errs, err)
		}
	}
	return agg, errs
}
