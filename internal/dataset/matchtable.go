package dataset

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/jengzang/porto-trajectory-go/internal/models"
)

var matchAliases = map[string][]string{
	"id":         {"id", "trip_id"},
	"match_path": {"match_path", "mpath", "cpath"},
	"edge_index": {"match_edge_by_idx", "edge_index", "indices"},
	"offsets":    {"offset", "offsets"},
}

// ReadMatchTable reads a precomputed match table in the FMM output layout:
// id, the matched edge path and the per-fix edge position. Both ',' and FMM's
// native ';' separators are accepted. Rows with an empty path are unmatched
// trips and are skipped; malformed rows are collected in rowErrs.
func ReadMatchTable(r io.Reader) (paths []models.MatchedPath, rowErrs []error, err error) {
	br := bufio.NewReader(r)
	line, err := br.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return nil, nil, fmt.Errorf("failed to read match table header: %w", err)
	}

	comma := ','
	if strings.Contains(line, ";") {
		comma = ';'
	}
	header := strings.Split(strings.TrimRight(line, "\r\n"), string(comma))
	cols, err := resolveAliases(header, matchAliases, "id", "match_path", "edge_index")
	if err != nil {
		return nil, nil, err
	}

	reader := csv.NewReader(br)
	reader.Comma = comma
	reader.FieldsPerRecord = -1

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return paths, rowErrs, fmt.Errorf("failed to read match table row: %w", err)
		}

		field := func(name string) string {
			if i, ok := cols[name]; ok && i < len(record) {
				return strings.TrimSpace(record[i])
			}
			return ""
		}

		id := field("id")
		edges, perr := parseIntList(id, "match_path", field("match_path"))
		if perr != nil {
			rowErrs = append(rowErrs, perr)
			continue
		}
		if len(edges) == 0 {
			continue
		}
		idx, perr := parseIntList(id, "match_edge_by_idx", field("edge_index"))
		if perr != nil {
			rowErrs = append(rowErrs, perr)
			continue
		}

		path := models.MatchedPath{
			TripID:    id,
			Edges:     edges,
			EdgeIndex: make([]int, len(idx)),
			Source:    models.MatchSourceTable,
		}
		for i, v := range idx {
			path.EdgeIndex[i] = int(v)
		}
		if raw := field("offsets"); raw != "" {
			offsets, perr := parseFloatList(id, raw)
			if perr != nil {
				rowErrs = append(rowErrs, perr)
				continue
			}
			path.Offsets = offsets
		}
		paths = append(paths, path)
	}

	return paths, rowErrs, nil
}
