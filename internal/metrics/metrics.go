package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Skip reasons for TripsSkipped
const (
	ReasonEmpty       = "empty_trajectory"
	ReasonNoMatch     = "no_match"
	ReasonMatchError  = "match_error"
	ReasonInvalidPath = "invalid_path"
	ReasonParse       = "parse_error"
)

// Match results for MatchRequests
const (
	ResultMatched = "matched"
	ResultNoMatch = "no_match"
	ResultError   = "error"
)

type Collector struct {
	reg *prometheus.Registry

	TripsSanitized prometheus.Counter
	FixesDropped   prometheus.Counter
	TripsSkipped   *prometheus.CounterVec // reason label

	MatchRequests *prometheus.CounterVec // result label
	MatchDuration prometheus.Histogram

	TripsFolded       prometheus.Counter
	ZeroLengthSpans   prometheus.Counter
	EdgesTracked      prometheus.Gauge
	ExternalFetchErrs *prometheus.CounterVec // source label: overpass|tiles

	CacheHits   *prometheus.CounterVec // cache label
	CacheMisses *prometheus.CounterVec

	TasksRunning prometheus.Gauge
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		TripsSanitized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "porto_trips_sanitized_total",
			Help: "Total trips run through the polyline sanitizer.",
		}),
		FixesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "porto_fixes_dropped_total",
			Help: "Total GPS fixes removed by the sanitizer.",
		}),
		TripsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "porto_trips_skipped_total",
			Help: "Trips excluded from a pipeline stage.",
		}, []string{"reason"}),
		MatchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "porto_match_requests_total",
			Help: "Map matching requests by result.",
		}, []string{"result"}),
		MatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "porto_match_duration_seconds",
			Help:    "Duration of a single trip match.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		TripsFolded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "porto_traversal_trips_folded_total",
			Help: "Matched trips folded into edge statistics.",
		}),
		ZeroLengthSpans: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "porto_traversal_zero_length_spans_total",
			Help: "Fix intervals skipped because their edges have zero total length.",
		}),
		EdgesTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "porto_traversal_edges_tracked",
			Help: "Edges or ways with statistics after the last aggregation.",
		}),
		ExternalFetchErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "porto_external_fetch_errors_total",
			Help: "Failed lookups against external geometry or tile services.",
		}, []string{"source"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "porto_cache_hits_total",
			Help: "Cache hits by cache name.",
		}, []string{"cache"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "porto_cache_misses_total",
			Help: "Cache misses by cache name.",
		}, []string{"cache"}),
		TasksRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "porto_analysis_tasks_running",
			Help: "Analysis tasks currently executing.",
		}),
	}

	reg.MustRegister(
		c.TripsSanitized, c.FixesDropped, c.TripsSkipped,
		c.MatchRequests, c.MatchDuration,
		c.TripsFolded, c.ZeroLengthSpans, c.EdgesTracked, c.ExternalFetchErrs,
		c.CacheHits, c.CacheMisses, c.TasksRunning,
	)

	return c
}

// Registry exposes the private registry, mostly for tests
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }
