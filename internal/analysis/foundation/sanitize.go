package foundation

import (
	"errors"
	"fmt"

	"github.com/jengzang/porto-trajectory-go/internal/spatial"
)

// ErrEmptyTrajectory marks a trip left with 0 or 1 usable fixes.
// It excludes the trip from matching and is never fatal for a batch.
var ErrEmptyTrajectory = errors.New("trajectory has fewer than two usable fixes")

// Thresholds configures the distance-threshold walk. Distances are planar, in degrees.
type Thresholds struct {
	Noise   float64 // fixes at or below this distance from the last kept fix are noise
	GapMin  float64 // initial upper bound for an accepted step
	GapMax  float64 // ceiling for the relaxed upper bound
	GapStep float64 // relaxation applied after every rejected fix
}

// DefaultThresholds are tuned for the 15 s Porto taxi feed
var DefaultThresholds = Thresholds{
	Noise:   0.0002,
	GapMin:  0.005,
	GapMax:  0.1,
	GapStep: 0.005,
}

// Validate checks that the thresholds describe a usable walk
func (t Thresholds) Validate() error {
	if t.GapMin <= 0 || t.GapMax < t.GapMin || t.GapStep < 0 {
		return fmt.Errorf("invalid gap thresholds: min=%v max=%v step=%v", t.GapMin, t.GapMax, t.GapStep)
	}
	if t.Noise < 0 || t.Noise >= t.GapMin {
		return fmt.Errorf("invalid noise threshold: %v", t.Noise)
	}
	return nil
}

// Sanitize drops fixes that are implausibly close to or far from the last
// retained fix. A fix p is kept when Noise < d(last, p) < current; keeping it
// resets current to GapMin. Every rejection relaxes current by GapStep up to
// GapMax so a sparse continuation is eventually accepted. The first fix is
// always kept and inputs of length 0 or 1 are returned unchanged.
func Sanitize(fixes []spatial.Point, t Thresholds) []spatial.Point {
	if len(fixes) < 2 {
		return fixes
	}

	out := make([]spatial.Point, 1, len(fixes))
	out[0] = fixes[0]
	last, current := fixes[0], t.GapMin

	for _, p := range fixes[1:] {
		d := spatial.PlanarDistance(last, p)
		if d > t.Noise && d < current {
			out = append(out, p)
			last, current = p, t.GapMin
			continue
		}
		current = min(current+t.GapStep, t.GapMax)
	}

	return out
}

// CollapseDuplicates merges immediately repeated identical fixes. Unlike
// Sanitize it never drops a fix that differs from its predecessor, however far
// it is.
func CollapseDuplicates(fixes []spatial.Point) []spatial.Point {
	if len(fixes) < 2 {
		return fixes
	}

	out := make([]spatial.Point, 1, len(fixes))
	out[0] = fixes[0]
	for _, p := range fixes[1:] {
		if p != out[len(out)-1] {
			out = append(out, p)
		}
	}
	return out
}

// ConsecutiveDistances returns the planar distance between every pair of
// neighbouring fixes
func ConsecutiveDistances(fixes []spatial.Point) []float64 {
	if len(fixes) < 2 {
		return nil
	}

	distances := make([]float64, len(fixes)-1)
	for i := 1; i < len(fixes); i++ {
		distances[i-1] = spatial.PlanarDistance(fixes[i-1], fixes[i])
	}
	return distances
}

// RawIndexes maps every cleaned fix to its position in the raw trace, so the
// k-th cleaned fix was recorded at Timestamp + 15*RawIndexes[k]. Cleaned fixes
// are a subsequence of the raw ones; nil is returned when they are not.
func RawIndexes(raw, cleaned []spatial.Point) []int {
	idx := make([]int, 0, len(cleaned))
	j := 0
	for _, p := range cleaned {
		for j < len(raw) && raw[j] != p {
			j++
		}
		if j == len(raw) {
			return nil
		}
		idx = append(idx, j)
		j++
	}
	return idx
}

// Usable reports whether a cleaned trajectory can be sent to the matcher
func Usable(fixes []spatial.Point) error {
	if len(fixes) < 2 {
		return ErrEmptyTrajectory
	}
	return nil
}
