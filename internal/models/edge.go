package models

import (
	"github.com/paulmach/osm"

	"github.com/jengzang/porto-trajectory-go/internal/spatial"
)

// EdgeID identifies a directed road-network edge
type EdgeID int64

// Edge represents a road-network segment. Edges are read-only inputs.
type Edge struct {
	ID       EdgeID          `json:"id" db:"id"`
	Source   int64           `json:"source" db:"source"`
	Target   int64           `json:"target" db:"target"`
	Geometry []spatial.Point `json:"geometry" db:"-"`

	// One edge may span several map-provider ways
	WayIDs []osm.WayID `json:"way_ids,omitempty" db:"-"`
}

// Length returns the great-circle length of the edge geometry in meters
func (e *Edge) Length() float64 {
	return spatial.PathLength(e.Geometry)
}

// Way is a map-provider road with its geometry
type Way struct {
	ID       osm.WayID       `json:"id"`
	Tags     osm.Tags        `json:"tags,omitempty"`
	Geometry []spatial.Point `json:"geometry"`
}

// Name returns the display name of the way
func (w *Way) Name() string {
	if name := w.Tags.Find("name"); name != "" {
		return name
	}
	return UnnamedRoad
}

// Length returns the great-circle length of the way geometry in meters
func (w *Way) Length() float64 {
	return spatial.PathLength(w.Geometry)
}

// UnnamedRoad is the display name for roads without a name tag
const UnnamedRoad = "Unnamed"
