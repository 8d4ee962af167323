package vision

import (
	"fmt"
	"image"
	"image/color"
)

// Frame is a packed RGB image, three bytes per pixel, row-major.
// A frame is treated as immutable once it leaves the capture source.
type Frame struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewFrame allocates a black frame.
func NewFrame(width, height int) *Frame {
	return &Frame{Width: width, Height: height, Pix: make([]uint8, width*height*3)}
}

// FrameFromRGB wraps raw rgb24 bytes (as produced by ffmpeg -pix_fmt rgb24) without copying.
func FrameFromRGB(width, height int, pix []uint8) (*Frame, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	if len(pix) != width*height*3 {
		return nil, fmt.Errorf("expected %d bytes for %dx%d rgb24, got %d", width*height*3, width, height, len(pix))
	}
	return &Frame{Width: width, Height: height, Pix: pix}, nil
}

// FrameFromImage copies any decoded image into a Frame.
func FrameFromImage(img image.Image) *Frame {
	b := img.Bounds()
	f := NewFrame(b.Dx(), b.Dy())
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			c := color.RGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
			f.SetRGB(x, y, c.R, c.G, c.B)
		}
	}
	return f
}

// RGB returns the pixel at (x, y).
func (f *Frame) RGB(x, y int) (r, g, b uint8) {
	off := (y*f.Width + x) * 3
	return f.Pix[off], f.Pix[off+1], f.Pix[off+2]
}

// SetRGB writes the pixel at (x, y).
func (f *Frame) SetRGB(x, y int, r, g, b uint8) {
	off := (y*f.Width + x) * 3
	f.Pix[off] = r
	f.Pix[off+1] = g
	f.Pix[off+2] = b
}

// Fill paints a rectangle, clipped to the frame.
func (f *Frame) Fill(rect image.Rectangle, r, g, b uint8) {
	rect = rect.Intersect(f.Bounds())
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			f.SetRGB(x, y, r, g, b)
		}
	}
}

// Bounds returns the frame rectangle.
func (f *Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}

// ToRGBA expands the frame into a new RGBA image.
func (f *Frame) ToRGBA() *image.RGBA {
	img := image.NewRGBA(f.Bounds())
	for i, j := 0, 0; i < len(f.Pix); i, j = i+3, j+4 {
		img.Pix[j] = f.Pix[i]
		img.Pix[j+1] = f.Pix[i+1]
		img.Pix[j+2] = f.Pix[i+2]
		img.Pix[j+3] = 255
	}
	return img
}

// Mask is a per-pixel boolean classification with the same size as its Frame.
type Mask struct {
	Width  int
	Height int
	Bits   []bool
}

// NewMask allocates an empty mask.
func NewMask(width, height int) *Mask {
	return &Mask{Width: width, Height: height, Bits: make([]bool, width*height)}
}

// At reports whether (x, y) is set. Coordinates outside the mask are never set.
func (m *Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	return m.Bits[y*m.Width+x]
}

// Set marks (x, y).
func (m *Mask) Set(x, y int, v bool) {
	m.Bits[y*m.Width+x] = v
}

// FillRect sets every pixel of rect, clipped to the mask.
func (m *Mask) FillRect(rect image.Rectangle) {
	rect = rect.Intersect(image.Rect(0, 0, m.Width, m.Height))
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			m.Bits[y*m.Width+x] = true
		}
	}
}

// Count returns the number of set pixels.
func (m *Mask) Count() int {
	return m.CountRows(0, m.Height)
}

// CountRows returns the number of set pixels in rows [y0, y1).
func (m *Mask) CountRows(y0, y1 int) int {
	if y0 < 0 {
		y0 = 0
	}
	if y1 > m.Height {
		y1 = m.Height
	}
	n := 0
	for i := y0 * m.Width; i < y1*m.Width; i++ {
		if m.Bits[i] {
			n++
		}
	}
	return n
}
