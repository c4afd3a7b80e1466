package osmdata

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/jengzang/porto-trajectory-go/internal/metrics"
	"github.com/jengzang/porto-trajectory-go/internal/spatial"
)

const (
	DefaultTileURL = "https://tile.openstreetmap.org/{z}/{x}/{y}.png"
	tileSize       = 256
)

// TileFetcher downloads slippy-map raster tiles through a cache
type TileFetcher struct {
	urlTemplate string
	userAgent   string
	client      *http.Client
	cache       Cache[spatial.Tile, []byte]
	metrics     *metrics.Collector
}

func NewTileFetcher(urlTemplate, userAgent string, timeout time.Duration, cache Cache[spatial.Tile, []byte], m *metrics.Collector) *TileFetcher {
	if urlTemplate == "" {
		urlTemplate = DefaultTileURL
	}
	if cache == nil {
		cache = NewMemoryCache[spatial.Tile, []byte](0)
	}
	return &TileFetcher{
		urlTemplate: urlTemplate,
		userAgent:   userAgent,
		client:      &http.Client{Timeout: timeout},
		cache:       cache,
		metrics:     m,
	}
}

func (f *TileFetcher) tileURL(t spatial.Tile) string {
	return strings.NewReplacer(
		"{z}", strconv.Itoa(t.Z),
		"{x}", strconv.Itoa(t.X),
		"{y}", strconv.Itoa(t.Y),
	).Replace(f.urlTemplate)
}

// Tile returns the encoded PNG for a tile. Failures are *ExternalFetchError.
func (f *TileFetcher) Tile(ctx context.Context, t spatial.Tile) ([]byte, error) {
	if data, ok, err := f.cache.Get(ctx, t); err == nil && ok {
		countCache(f.metrics, "tiles", true)
		return data, nil
	}
	countCache(f.metrics, "tiles", false)

	data, err := f.download(ctx, t)
	if err != nil {
		if f.metrics != nil {
			f.metrics.ExternalFetchErrs.WithLabelValues("tiles").Inc()
		}
		return nil, &ExternalFetchError{Source: "tiles", Keys: []string{fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)}, Err: err}
	}

	if err := f.cache.Set(ctx, t, data); err != nil {
		log.Printf("[TileFetcher] cache write failed for %d/%d/%d: %v", t.Z, t.X, t.Y, err)
	}
	return data, nil
}

func (f *TileFetcher) download(ctx context.Context, t spatial.Tile) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.tileURL(t), nil)
	if err != nil {
		return nil, err
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tile server returned %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Stitch fetches every tile covering the bound and draws them onto one image.
// It returns the image and the geographic extent the image spans. Missing
// tiles are left blank and reported through the returned error.
func (f *TileFetcher) Stitch(ctx context.Context, b orb.Bound, zoom int) (image.Image, orb.Bound, error) {
	tiles := spatial.TileRange(b, zoom)
	if len(tiles) == 0 {
		return nil, orb.Bound{}, fmt.Errorf("empty tile range")
	}

	first, last := tiles[0], tiles[len(tiles)-1]
	extent := spatial.MergeBounds(spatial.TileBounds(first), spatial.TileBounds(last))
	cols := last.X - first.X + 1
	rows := last.Y - first.Y + 1
	canvas := image.NewRGBA(image.Rect(0, 0, cols*tileSize, rows*tileSize))

	var fetchErr *ExternalFetchError
	for _, t := range tiles {
		data, err := f.Tile(ctx, t)
		if err == nil {
			var img image.Image
			if img, err = png.Decode(bytes.NewReader(data)); err == nil {
				at := image.Pt((t.X-first.X)*tileSize, (t.Y-first.Y)*tileSize)
				draw.Draw(canvas, image.Rectangle{Min: at, Max: at.Add(img.Bounds().Size())}, img, img.Bounds().Min, draw.Src)
				continue
			}
		}
		if fetchErr == nil {
			fetchErr = &ExternalFetchError{Source: "tiles", Err: err}
		}
		fetchErr.Keys = append(fetchErr.Keys, fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y))
	}

	if fetchErr != nil {
		return canvas, extent, fetchErr
	}
	return canvas, extent, nil
}
