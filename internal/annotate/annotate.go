// Package annotate draws what the autopilot saw and decided on top of a camera frame.
// It only observes: nothing here feeds back into control.
package annotate

import (
	"fmt"
	"image"
	"image/color"

	"github.com/andresmejia3/truckpilot/internal/nav"
	"github.com/andresmejia3/truckpilot/internal/vision"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	EdgeColor      = color.RGBA{0, 200, 255, 255}
	ObstacleColor  = color.RGBA{255, 0, 200, 255}
	RouteColor     = color.RGBA{0, 255, 0, 255}
	ObstacleRoute  = color.RGBA{255, 255, 0, 255}
	StopColor      = color.RGBA{255, 0, 0, 255}
	ComponentColor = color.RGBA{255, 200, 0, 255}
	TextColor      = color.RGBA{255, 255, 255, 255}
	BailTextColor  = color.RGBA{255, 80, 80, 255}
)

// Options controls the rendering.
type Options struct {
	// Scale enlarges the frame (nearest neighbour) before the HUD is drawn. 0 or 1 keeps the size.
	Scale      int
	Masks      bool
	Components bool
	HUD        bool
}

func DefaultOptions() Options {
	return Options{Scale: 4, Masks: true, Components: true, HUD: true}
}

// Render returns a new image of f with the perception and the decision drawn over it.
func Render(f *vision.Frame, per nav.Perception, d nav.Decision, opts Options) *image.RGBA {
	base := f.ToRGBA()
	if opts.Masks {
		tint(base, per.Edge, EdgeColor)
		tint(base, per.Obstacle, ObstacleColor)
	}

	scale := opts.Scale
	if scale < 1 {
		scale = 1
	}
	out := base
	if scale > 1 {
		out = image.NewRGBA(image.Rect(0, 0, f.Width*scale, f.Height*scale))
		draw.NearestNeighbor.Scale(out, out.Bounds(), base, base.Bounds(), draw.Src, nil)
	}

	if opts.Components {
		for _, c := range per.Components {
			if c.Class == vision.ClassObstacle {
				outline(out, scaleRect(c.Bounds(), scale), ComponentColor)
			}
		}
	}

	for _, e := range per.Route.Entries {
		col := RouteColor
		if e.Obstacle {
			col = ObstacleRoute
		}
		fill(out, image.Rect(e.X*scale, e.Row*scale, (e.X+1)*scale, (e.Row+1)*scale), col)
	}
	if per.Route.Stop != nav.StopTop && per.Route.StopRow >= 0 {
		y := per.Route.StopRow * scale
		fill(out, image.Rect(0, y, out.Bounds().Dx(), y+scale), StopColor)
	}

	if opts.HUD {
		col := TextColor
		if d.Bail || d.Stalled {
			col = BailTextColor
		}
		drawText(out, 2, 12, HUDLine(per, d), col)
	}
	return out
}

// HUDLine is the one-line status drawn in the corner of annotated frames.
func HUDLine(per nav.Perception, d nav.Decision) string {
	s := fmt.Sprintf("%s dir %+d spd %+d depth %d", d.State, d.Direction, d.Speed, per.Estimate.Depth)
	switch {
	case d.Stalled:
		s += " STALLED"
	case per.Route.Block != nil:
		s += " BLOCK"
	case per.Estimate.NoPath:
		s += " NOPATH"
	}
	return s
}

func tint(img *image.RGBA, m *vision.Mask, c color.RGBA) {
	if m == nil {
		return
	}
	for i, set := range m.Bits {
		if !set {
			continue
		}
		o := i * 4
		img.Pix[o] = uint8((uint16(img.Pix[o]) + uint16(c.R)) / 2)
		img.Pix[o+1] = uint8((uint16(img.Pix[o+1]) + uint16(c.G)) / 2)
		img.Pix[o+2] = uint8((uint16(img.Pix[o+2]) + uint16(c.B)) / 2)
	}
}

func fill(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	draw.Draw(img, r.Intersect(img.Bounds()), image.NewUniform(c), image.Point{}, draw.Src)
}

func outline(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	fill(img, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+1), c)
	fill(img, image.Rect(r.Min.X, r.Max.Y-1, r.Max.X, r.Max.Y), c)
	fill(img, image.Rect(r.Min.X, r.Min.Y, r.Min.X+1, r.Max.Y), c)
	fill(img, image.Rect(r.Max.X-1, r.Min.Y, r.Max.X, r.Max.Y), c)
}

func scaleRect(r image.Rectangle, s int) image.Rectangle {
	return image.Rect(r.Min.X*s, r.Min.Y*s, r.Max.X*s, r.Max.Y*s)
}

func drawText(img *image.RGBA, x, y int, s string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}
