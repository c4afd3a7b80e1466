package stats

import "sort"

// Summary describes a sample of non-negative measurements such as fix
// counts per trip or seconds per edge
type Summary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	P50    float64 `json:"p50"`
	P95    float64 `json:"p95"`
	Max    float64 `json:"max"`
}

// Summarize computes a Summary. StdDev is the population deviation.
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}
	return Summary{
		Count:  len(values),
		Mean:   Mean(values),
		StdDev: PopulationStdDev(values),
		Min:    Min(values),
		P50:    Percentile(values, 50),
		P95:    Percentile(values, 95),
		Max:    Max(values),
	}
}

// Bin is one histogram bucket covering [Lower, Upper)
type Bin struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Count int     `json:"count"`
}

// Histogram counts values into buckets delimited by ascending edges.
// Values below the first edge are dropped and values at or above the last
// edge land in the final bucket.
func Histogram(values []float64, edges []float64) []Bin {
	if len(edges) < 2 {
		return nil
	}

	bins := make([]Bin, len(edges)-1)
	for i := range bins {
		bins[i] = Bin{Lower: edges[i], Upper: edges[i+1]}
	}

	for _, v := range values {
		if v < edges[0] {
			continue
		}
		i := sort.SearchFloat64s(edges, v)
		// SearchFloat64s returns the first edge >= v
		if i < len(edges) && edges[i] == v {
			i++
		}
		i--
		if i >= len(bins) {
			i = len(bins) - 1
		}
		bins[i].Count++
	}
	return bins
}
