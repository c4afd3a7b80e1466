package traversal

import (
	"github.com/paulmach/osm"

	"github.com/jengzang/porto-trajectory-go/internal/models"
)

// Resolver maps matched edge ids to ranking keys and their lengths
type Resolver interface {
	// Segments expands an edge sub-sequence into ranking keys. Repeated keys
	// are kept, one entry per occurrence.
	Segments(edges []int64) []int64
	// Length returns the length of a key in meters
	Length(key int64) (float64, bool)
	// Kind is models.StatKindEdge or models.StatKindWay
	Kind() string
}

// Namer resolves a display name for a ranking key
type Namer interface {
	Name(key int64) string
}

// EdgeResolver ranks road-network edges directly
type EdgeResolver struct {
	lengths map[int64]float64
}

// NewEdgeResolver indexes the network by edge id
func NewEdgeResolver(edges []models.Edge) *EdgeResolver {
	lengths := make(map[int64]float64, len(edges))
	for i := range edges {
		lengths[int64(edges[i].ID)] = edges[i].Length()
	}
	return &EdgeResolver{lengths: lengths}
}

// Segments drops edge ids that are not part of the network
func (r *EdgeResolver) Segments(edges []int64) []int64 {
	keys := make([]int64, 0, len(edges))
	for _, id := range edges {
		if _, ok := r.lengths[id]; ok {
			keys = append(keys, id)
		}
	}
	return keys
}

func (r *EdgeResolver) Length(key int64) (float64, bool) {
	l, ok := r.lengths[key]
	return l, ok
}

func (r *EdgeResolver) Kind() string { return models.StatKindEdge }

// WayResolver ranks map-provider ways. Each edge expands to the ways it
// spans; ways without fetched geometry are omitted.
type WayResolver struct {
	edgeWays map[int64][]osm.WayID
	ways     map[osm.WayID]models.Way
}

// NewWayResolver builds a resolver from an edge to way mapping. A nil
// mapping treats matched edge ids as way ids, which is what Valhalla returns.
func NewWayResolver(edgeWays map[int64][]osm.WayID, ways map[osm.WayID]models.Way) *WayResolver {
	if ways == nil {
		ways = make(map[osm.WayID]models.Way)
	}
	return &WayResolver{edgeWays: edgeWays, ways: ways}
}

// EdgeWays extracts the edge to way mapping of a road network
func EdgeWays(edges []models.Edge) map[int64][]osm.WayID {
	m := make(map[int64][]osm.WayID, len(edges))
	for i := range edges {
		if len(edges[i].WayIDs) > 0 {
			m[int64(edges[i].ID)] = edges[i].WayIDs
		}
	}
	return m
}

// WayIDs returns the distinct ways referenced by the given edges
func (r *WayResolver) WayIDs(edges []int64) []osm.WayID {
	seen := make(map[osm.WayID]struct{})
	var ids []osm.WayID
	for _, e := range edges {
		for _, w := range r.expand(e) {
			if _, ok := seen[w]; !ok {
				seen[w] = struct{}{}
				ids = append(ids, w)
			}
		}
	}
	return ids
}

func (r *WayResolver) expand(edge int64) []osm.WayID {
	if r.edgeWays == nil {
		return []osm.WayID{osm.WayID(edge)}
	}
	return r.edgeWays[edge]
}

func (r *WayResolver) Segments(edges []int64) []int64 {
	var keys []int64
	for _, e := range edges {
		for _, w := range r.expand(e) {
			if _, ok := r.ways[w]; ok {
				keys = append(keys, int64(w))
			}
		}
	}
	return keys
}

func (r *WayResolver) Length(key int64) (float64, bool) {
	way, ok := r.ways[osm.WayID(key)]
	if !ok {
		return 0, false
	}
	return way.Length(), true
}

func (r *WayResolver) Kind() string { return models.StatKindWay }

// Name returns the way's name tag or the unnamed placeholder
func (r *WayResolver) Name(key int64) string {
	way, ok := r.ways[osm.WayID(key)]
	if !ok {
		return models.UnnamedRoad
	}
	return way.Name()
}

// Way returns the fetched way for key
func (r *WayResolver) Way(key int64) (models.Way, bool) {
	way, ok := r.ways[osm.WayID(key)]
	return way, ok
}
