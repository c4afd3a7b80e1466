package matching

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jengzang/porto-trajectory-go/internal/models"
)

// Valhalla error codes meaning no road was found near the trace
var valhallaNoMatchCodes = map[int]bool{171: true, 442: true, 443: true, 444: true}

// ValhallaMatcher matches traces with a Valhalla trace_attributes endpoint.
// KNeighbors has no Valhalla equivalent and is ignored.
type ValhallaMatcher struct {
	baseURL string
	client  *http.Client
}

func NewValhallaMatcher(baseURL string, timeout time.Duration) *ValhallaMatcher {
	return &ValhallaMatcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type valhallaShapePoint struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Time int64   `json:"time"`
}

type valhallaRequest struct {
	Shape        []valhallaShapePoint `json:"shape"`
	Costing      string               `json:"costing"`
	ShapeMatch   string               `json:"shape_match"`
	TraceOptions struct {
		SearchRadius float64 `json:"search_radius,omitempty"`
		GPSAccuracy  float64 `json:"gps_accuracy,omitempty"`
	} `json:"trace_options"`
	Filters struct {
		Attributes []string `json:"attributes"`
		Action     string   `json:"action"`
	} `json:"filters"`
}

type valhallaResponse struct {
	Edges []struct {
		WayID  int64   `json:"way_id"`
		Length float64 `json:"length"`
	} `json:"edges"`
	MatchedPoints []struct {
		Type                   string  `json:"type"`
		EdgeIndex              *int    `json:"edge_index"`
		DistanceFromTracePoint float64 `json:"distance_from_trace_point"`
	} `json:"matched_points"`
}

type valhallaError struct {
	ErrorCode int    `json:"error_code"`
	Error     string `json:"error"`
}

// Match implements Matcher
func (m *ValhallaMatcher) Match(ctx context.Context, req MatchRequest) (*models.MatchedPath, error) {
	body := valhallaRequest{Costing: "auto", ShapeMatch: "map_snap"}
	body.TraceOptions.SearchRadius = req.SearchRadius
	body.TraceOptions.GPSAccuracy = req.GPSAccuracy
	body.Filters.Action = "include"
	body.Filters.Attributes = []string{
		"edge.way_id", "edge.length",
		"matched.type", "matched.edge_index", "matched.distance_from_trace_point",
	}
	for i, p := range req.Fixes {
		body.Shape = append(body.Shape, valhallaShapePoint{Lat: p.Lat, Lon: p.Lon, Time: req.FixTime(i).Unix()})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode match request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/trace_attributes", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build match request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("trip %s: match request failed: %w", req.TripID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var verr valhallaError
		if json.Unmarshal(raw, &verr) == nil && valhallaNoMatchCodes[verr.ErrorCode] {
			return nil, fmt.Errorf("trip %s: %w: %s", req.TripID, ErrNoMatch, verr.Error)
		}
		return nil, fmt.Errorf("trip %s: valhalla returned %d: %s", req.TripID, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out valhallaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("trip %s: failed to decode match response: %w", req.TripID, err)
	}
	return toMatchedPath(req.TripID, &out)
}

func toMatchedPath(tripID string, out *valhallaResponse) (*models.MatchedPath, error) {
	if len(out.Edges) == 0 {
		return nil, fmt.Errorf("trip %s: %w", tripID, ErrNoMatch)
	}

	path := &models.MatchedPath{
		TripID:    tripID,
		Edges:     make([]int64, len(out.Edges)),
		EdgeIndex: make([]int, len(out.MatchedPoints)),
		Offsets:   make([]float64, len(out.MatchedPoints)),
		Source:    models.MatchSourceValhalla,
		MatchedAt: time.Now(),
	}
	for i, e := range out.Edges {
		path.Edges[i] = e.WayID
	}

	// Unmatched points have no edge index and inherit the previous one
	matched, last := 0, 0
	for i, p := range out.MatchedPoints {
		if p.EdgeIndex != nil && p.Type != "unmatched" {
			last = *p.EdgeIndex
			matched++
		}
		path.EdgeIndex[i] = last
		path.Offsets[i] = p.DistanceFromTracePoint
	}
	if matched == 0 {
		return nil, fmt.Errorf("trip %s: %w", tripID, ErrNoMatch)
	}

	return path, nil
}
