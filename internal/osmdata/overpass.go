package osmdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/osm"

	"github.com/jengzang/porto-trajectory-go/internal/metrics"
	"github.com/jengzang/porto-trajectory-go/internal/models"
	"github.com/jengzang/porto-trajectory-go/internal/spatial"
)

const (
	DefaultOverpassURL = "https://overpass-api.de/api/interpreter"
	overpassBatchSize  = 200
)

// WayFetcher resolves way geometry and tags from an Overpass endpoint.
// Only cache misses are requested.
type WayFetcher struct {
	baseURL   string
	userAgent string
	client    *http.Client
	cache     Cache[osm.WayID, models.Way]
	metrics   *metrics.Collector
}

func NewWayFetcher(baseURL, userAgent string, timeout time.Duration, cache Cache[osm.WayID, models.Way], m *metrics.Collector) *WayFetcher {
	if baseURL == "" {
		baseURL = DefaultOverpassURL
	}
	if cache == nil {
		cache = NewMemoryCache[osm.WayID, models.Way](0)
	}
	return &WayFetcher{
		baseURL:   baseURL,
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
		cache:     cache,
		metrics:   m,
	}
}

type overpassResponse struct {
	Elements []struct {
		Type     string            `json:"type"`
		ID       int64             `json:"id"`
		Tags     map[string]string `json:"tags"`
		Geometry []struct {
			Lat float64 `json:"lat"`
			Lon float64 `json:"lon"`
		} `json:"geometry"`
	} `json:"elements"`
}

// Ways returns the ways that could be resolved. When part of the lookup fails
// the resolved subset is still returned together with an *ExternalFetchError.
func (f *WayFetcher) Ways(ctx context.Context, ids []osm.WayID) (map[osm.WayID]models.Way, error) {
	result := make(map[osm.WayID]models.Way, len(ids))
	var missing []osm.WayID
	seen := make(map[osm.WayID]struct{}, len(ids))

	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		way, ok, err := f.cache.Get(ctx, id)
		if err != nil {
			log.Printf("[WayFetcher] cache read failed for way %d: %v", id, err)
		}
		if ok {
			result[id] = way
			countCache(f.metrics, "ways", true)
			continue
		}
		countCache(f.metrics, "ways", false)
		missing = append(missing, id)
	}

	var fetchErr *ExternalFetchError
	for start := 0; start < len(missing); start += overpassBatchSize {
		batch := missing[start:min(start+overpassBatchSize, len(missing))]
		ways, err := f.fetch(ctx, batch)
		if err != nil {
			if fetchErr == nil {
				fetchErr = &ExternalFetchError{Source: "overpass", Err: err}
			}
			for _, id := range batch {
				fetchErr.Keys = append(fetchErr.Keys, strconv.FormatInt(int64(id), 10))
			}
			if f.metrics != nil {
				f.metrics.ExternalFetchErrs.WithLabelValues("overpass").Inc()
			}
			log.Printf("[WayFetcher] overpass batch of %d ways failed: %v", len(batch), err)
			continue
		}

		for _, way := range ways {
			result[way.ID] = way
			if err := f.cache.Set(ctx, way.ID, way); err != nil {
				log.Printf("[WayFetcher] cache write failed for way %d: %v", way.ID, err)
			}
		}
	}

	if fetchErr != nil {
		return result, fetchErr
	}
	return result, nil
}

func (f *WayFetcher) fetch(ctx context.Context, ids []osm.WayID) ([]models.Way, error) {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(int64(id), 10)
	}
	query := fmt.Sprintf("[out:json];way(id:%s);out geom;", strings.Join(parts, ","))

	form := url.Values{"data": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query overpass: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("overpass returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload overpassResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode overpass response: %w", err)
	}

	ways := make([]models.Way, 0, len(payload.Elements))
	for _, el := range payload.Elements {
		if el.Type != "way" {
			continue
		}
		way := models.Way{ID: osm.WayID(el.ID)}
		for k, v := range el.Tags {
			way.Tags = append(way.Tags, osm.Tag{Key: k, Value: v})
		}
		sort.Slice(way.Tags, func(i, j int) bool { return way.Tags[i].Key < way.Tags[j].Key })
		for _, g := range el.Geometry {
			way.Geometry = append(way.Geometry, spatial.Point{Lat: g.Lat, Lon: g.Lon})
		}
		ways = append(ways, way)
	}
	return ways, nil
}
