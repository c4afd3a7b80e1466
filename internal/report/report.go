package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/jengzang/porto-trajectory-go/internal/models"
)

// Columns of the ranked table
var Columns = []string{"rank", "display_name", "edge_or_way_id", "metric_value", "traversal_count"}

// Row is one entry of a top-K report
type Row struct {
	Rank           int     `json:"rank"`
	DisplayName    string  `json:"display_name"`
	Key            int64   `json:"edge_or_way_id"`
	Kind           string  `json:"kind,omitempty"`
	Metric         string  `json:"metric"`
	MetricValue    float64 `json:"metric_value"`
	TraversalCount int     `json:"traversal_count"`
}

// Namer resolves a display name for a key. It may be nil.
type Namer func(key int64) string

// Build turns a ranking into report rows. The metric value is the traversal
// count for models.RankByCount and the average dwell seconds for
// models.RankByAvgTime.
func Build(ranked []models.RankedEdge, metric string, namer Namer) ([]Row, error) {
	if metric != models.RankByCount && metric != models.RankByAvgTime {
		return nil, fmt.Errorf("unknown ranking metric %q", metric)
	}

	rows := make([]Row, len(ranked))
	for i, r := range ranked {
		name := r.Name
		if namer != nil {
			name = namer(r.Key)
		}
		if name == "" {
			name = models.UnnamedRoad
		}

		value := r.AvgTime
		if metric == models.RankByCount {
			value = float64(r.Count)
		}

		rows[i] = Row{
			Rank:           r.Rank,
			DisplayName:    name,
			Key:            r.Key,
			Kind:           r.Kind,
			Metric:         metric,
			MetricValue:    value,
			TraversalCount: r.Count,
		}
	}
	return rows, nil
}

// WriteCSV writes rows as a columnar table with a header
func WriteCSV(w io.Writer, rows []Row) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(Columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, r := range rows {
		record := []string{
			strconv.Itoa(r.Rank),
			r.DisplayName,
			strconv.FormatInt(r.Key, 10),
			strconv.FormatFloat(r.MetricValue, 'f', -1, 64),
			strconv.Itoa(r.TraversalCount),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write row %d: %w", r.Rank, err)
		}
	}

	writer.Flush()
	return writer.Error()
}
