// Package preview renders a front orthographic view of a grown tree to PNG.
package preview

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"cogentcore.org/core/math32"

	"arbor/internal/config"
	"arbor/internal/growth"
	"arbor/internal/simulation"
)

const (
	defaultWidth  = 512
	defaultHeight = 768
	margin        = 16
	leafRadius    = 1
	nearLight     = 1.0
	farLight      = 0.45
)

var (
	defaultBackground = color.NRGBA{R: 10, G: 10, B: 18, A: 255}
	defaultBranch     = color.NRGBA{R: 196, G: 164, B: 120, A: 255}
	defaultLeaf       = color.NRGBA{R: 96, G: 200, B: 110, A: 255}
)

// Scene is what gets drawn. X runs right, Y runs up and Z toward the viewer;
// nearer geometry is drawn brighter. Empty colours fall back to defaults.
type Scene struct {
	Segments []growth.Segment
	Leaves   []math32.Vector3

	Width  int
	Height int

	Background  string
	BranchColor string
	LeafColor   string
}

// projection maps world X/Y into pixels, fitted to the scene bounds.
type projection struct {
	bounds math32.Box3
	scale  float32
	offX   float32
	offY   float32
	height int
}

func newProjection(scene Scene, width, height int) projection {
	p := projection{bounds: math32.B3Empty(), height: height, scale: 1}
	for _, s := range scene.Segments {
		p.bounds.ExpandByPoint(s.From)
		p.bounds.ExpandByPoint(s.To)
	}
	p.bounds.ExpandByPoints(scene.Leaves)

	span := p.bounds.Size()
	availW := float32(width - 2*margin)
	availH := float32(height - 2*margin)
	if span.X > 0 || span.Y > 0 {
		sx, sy := math32.Inf(1), math32.Inf(1)
		if span.X > 0 {
			sx = availW / span.X
		}
		if span.Y > 0 {
			sy = availH / span.Y
		}
		p.scale = math32.Min(sx, sy)
	}
	p.offX = float32(margin) + (availW-span.X*p.scale)/2
	p.offY = float32(margin) + (availH-span.Y*p.scale)/2
	return p
}

func (p projection) point(v math32.Vector3) image.Point {
	x := p.offX + (v.X-p.bounds.Min.X)*p.scale
	y := p.offY + (v.Y-p.bounds.Min.Y)*p.scale
	return image.Point{X: int(math32.Round(x)), Y: p.height - 1 - int(math32.Round(y))}
}

// light is the brightness factor for depth z.
func (p projection) light(z float32) float64 {
	depth := p.bounds.Max.Z - p.bounds.Min.Z
	if depth <= 0 {
		return nearLight
	}
	t := float64((z - p.bounds.Min.Z) / depth)
	return farLight + (nearLight-farLight)*t
}

// Render draws the scene. Non-positive dimensions use 512x768.
func Render(scene Scene) *image.NRGBA {
	width, height := scene.Width, scene.Height
	if width <= 0 || height <= 0 {
		width, height = defaultWidth, defaultHeight
	}
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	background := resolveColor(scene.Background, defaultBackground)
	draw.Draw(img, img.Bounds(), &image.Uniform{background}, image.Point{}, draw.Src)

	if len(scene.Segments) == 0 && len(scene.Leaves) == 0 {
		return img
	}
	proj := newProjection(scene, width, height)

	branch := resolveColor(scene.BranchColor, defaultBranch)
	for _, s := range scene.Segments {
		z := (s.From.Z + s.To.Z) / 2
		drawLine(img, proj.point(s.From), proj.point(s.To), applyLighting(branch, proj.light(z)))
	}

	leaf := resolveColor(scene.LeafColor, defaultLeaf)
	for _, l := range scene.Leaves {
		c := proj.point(l)
		fillPolygon(img, []image.Point{
			{X: c.X - leafRadius, Y: c.Y - leafRadius},
			{X: c.X + leafRadius + 1, Y: c.Y - leafRadius},
			{X: c.X + leafRadius + 1, Y: c.Y + leafRadius + 1},
			{X: c.X - leafRadius, Y: c.Y + leafRadius + 1},
		}, applyLighting(leaf, proj.light(l.Z)))
	}
	return img
}

// Encode renders the scene and writes it as PNG.
func Encode(w io.Writer, scene Scene) error {
	if err := png.Encode(w, Render(scene)); err != nil {
		return fmt.Errorf("encode preview: %w", err)
	}
	return nil
}

// SceneFor builds the scene for a frame using the configured size and colours.
func SceneFor(frame simulation.Frame, cfg config.PreviewConfig) Scene {
	return Scene{
		Segments:    frame.Segments,
		Leaves:      frame.Leaves,
		Width:       cfg.Width,
		Height:      cfg.Height,
		Background:  cfg.Background,
		BranchColor: cfg.BranchColor,
		LeafColor:   cfg.LeafColor,
	}
}

// Save writes the rendered scene to path, creating parent directories.
func Save(path string, scene Scene) error {
	if path == "" {
		return fmt.Errorf("preview path is empty")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create preview dir: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create preview: %w", err)
	}
	defer file.Close()
	return Encode(file, scene)
}

func resolveColor(value string, fallback color.NRGBA) color.NRGBA {
	if col, ok := parseHexColor(value); ok {
		return col
	}
	return fallback
}

func parseHexColor(value string) (color.NRGBA, bool) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "#")
	if len(trimmed) != 6 {
		return color.NRGBA{}, false
	}
	v, err := strconv.ParseUint(trimmed, 16, 32)
	if err != nil {
		return color.NRGBA{}, false
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, true
}

func applyLighting(base color.NRGBA, factor float64) color.NRGBA {
	factor = clamp(factor, 0, 1)
	return color.NRGBA{
		R: uint8(float64(base.R)*factor + 0.5),
		G: uint8(float64(base.G)*factor + 0.5),
		B: uint8(float64(base.B)*factor + 0.5),
		A: 255,
	}
}

func clamp(value, lo, hi float64) float64 {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

func setPixel(img *image.NRGBA, x, y int, col color.NRGBA) {
	if !(image.Point{X: x, Y: y}).In(img.Bounds()) {
		return
	}
	idx := img.PixOffset(x, y)
	img.Pix[idx] = col.R
	img.Pix[idx+1] = col.G
	img.Pix[idx+2] = col.B
	img.Pix[idx+3] = col.A
}

// drawLine is Bresenham's algorithm, clipped per pixel.
func drawLine(img *image.NRGBA, a, b image.Point, col color.NRGBA) {
	dx := abs(b.X - a.X)
	dy := -abs(b.Y - a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	err := dx + dy
	x, y := a.X, a.Y
	for {
		setPixel(img, x, y, col)
		if x == b.X && y == b.Y {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

// fillPolygon scanline-fills the convex polygon pts. Edges are inclusive at
// the top and exclusive at the bottom.
func fillPolygon(img *image.NRGBA, pts []image.Point, col color.NRGBA) {
	if len(pts) < 3 {
		return
	}
	minY, maxY := pts[0].Y, pts[0].Y
	for _, p := range pts[1:] {
		minY = min(minY, p.Y)
		maxY = max(maxY, p.Y)
	}
	bounds := img.Bounds()
	minY = max(minY, bounds.Min.Y)
	maxY = min(maxY, bounds.Max.Y-1)

	xs := make([]int, 0, len(pts))
	for y := minY; y <= maxY; y++ {
		xs = xs[:0]
		for i := range pts {
			j := (i + 1) % len(pts)
			x1, y1 := pts[i].X, pts[i].Y
			x2, y2 := pts[j].X, pts[j].Y
			if y1 == y2 || y < min(y1, y2) || y >= max(y1, y2) {
				continue
			}
			xs = append(xs, x1+(y-y1)*(x2-x1)/(y2-y1))
		}
		if len(xs) < 2 {
			continue
		}
		lo, hi := xs[0], xs[0]
		for _, x := range xs[1:] {
			lo = min(lo, x)
			hi = max(hi, x)
		}
		for x := lo; x < hi; x++ {
			setPixel(img, x, y, col)
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
