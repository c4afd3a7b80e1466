package report

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"

	"github.com/paulmach/orb"

	"github.com/jengzang/porto-trajectory-go/internal/spatial"
)

var (
	LineColor  = color.RGBA{R: 0, G: 0, B: 255, A: 255}
	FrameColor = color.RGBA{R: 255, G: 0, B: 0, A: 255}
)

// Overlay draws ranked geometries over a stitched tile image. The image spans
// extent in web-mercator projection.
type Overlay struct {
	img    *image.RGBA
	extent orb.Bound
	minY   float64
	maxY   float64
}

// NewOverlay copies base so it can be drawn on
func NewOverlay(base image.Image, extent orb.Bound) *Overlay {
	img := image.NewRGBA(base.Bounds())
	draw.Draw(img, img.Bounds(), base, base.Bounds().Min, draw.Src)
	return &Overlay{
		img:    img,
		extent: extent,
		minY:   spatial.MercatorY(extent.Min.Lat()),
		maxY:   spatial.MercatorY(extent.Max.Lat()),
	}
}

// Image returns the drawn image
func (o *Overlay) Image() *image.RGBA {
	return o.img
}

// Project maps a coordinate to pixel space
func (o *Overlay) Project(p spatial.Point) (x, y int) {
	b := o.img.Bounds()
	fx := (p.Lon - o.extent.Min.Lon()) / (o.extent.Max.Lon() - o.extent.Min.Lon())
	fy := (o.maxY - spatial.MercatorY(p.Lat)) / (o.maxY - o.minY)
	return b.Min.X + int(math.Round(fx*float64(b.Dx()-1))), b.Min.Y + int(math.Round(fy*float64(b.Dy()-1)))
}

// DrawPolyline draws consecutive segments between points
func (o *Overlay) DrawPolyline(points []spatial.Point, c color.Color) {
	if len(points) < 2 {
		return
	}
	lastX, lastY := o.Project(points[0])
	for _, p := range points[1:] {
		x, y := o.Project(p)
		bresenham(o.img, lastX, lastY, x, y, c)
		lastX, lastY = x, y
	}
}

// DrawBound draws the outline of a geographic bound
func (o *Overlay) DrawBound(b orb.Bound, c color.Color) {
	x0, y0 := o.Project(spatial.FromOrb(b.Min))
	x1, y1 := o.Project(spatial.FromOrb(b.Max))
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	for x := x0; x <= x1; x++ {
		o.img.Set(x, y0, c)
		o.img.Set(x, y1, c)
	}
	for y := y0 + 1; y < y1; y++ {
		o.img.Set(x0, y, c)
		o.img.Set(x1, y, c)
	}
}

// DrawRows draws every row's geometry framed by a padded box
func (o *Overlay) DrawRows(rows []Row, geometry GeometryFunc, padding float64) {
	for _, r := range rows {
		points, ok := geometry(r.Key)
		if !ok {
			continue
		}
		o.DrawBound(spatial.PaddedBoundingBox(points, padding), FrameColor)
		o.DrawPolyline(points, LineColor)
	}
}

// WritePNG encodes img as PNG
func WritePNG(w io.Writer, img image.Image) error {
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("failed to encode png: %w", err)
	}
	return nil
}

// bresenham sets every pixel on the line; pixels outside the image are ignored
func bresenham(img draw.Image, x0, y0, x1, y1 int, c color.Color) {
	dx := x1 - x0
	if dx < 0 {
		dx = -dx
	}
	dy := y1 - y0
	if dy < 0 {
		dy = -dy
	}
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx - dy

	for {
		img.Set(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x0 += sx
		}
		if e2 < dx {
			err += dx
			y0 += sy
		}
	}
}
