package camera

import (
	"bufio"
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/truckpilot/internal/utils"
)

// MockCloser wraps a bytes.Buffer so it can stand in for the ffmpeg stdout pipe.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

func TestRawFramesUntilEOF(t *testing.T) {
	const w, h = 4, 2
	pipe := &MockCloser{Buffer: new(bytes.Buffer)}
	for i := 0; i < 2; i++ {
		pipe.Write(bytes.Repeat([]byte{byte(i + 1)}, w*h*3))
	}
	pipe.Write([]byte{9, 9, 9}) // truncated trailing frame

	s := &FFmpegSource{out: pipe, width: w, height: h, buf: make([]byte, w*h*3)}
	for i := 0; i < 2; i++ {
		f, err := s.Next()
		if err != nil {
			t.Fatalf("Frame %d: %v", i, err)
		}
		if r, _, _ := f.RGB(3, 1); r != byte(i+1) {
			t.Errorf("Frame %d: expected pixel value %d, got %d", i, i+1, r)
		}
	}
	if _, err := s.Next(); err != io.EOF {
		t.Errorf("Expected io.EOF after the last full frame, got %v", err)
	}
}

func TestRawFramesAreIndependent(t *testing.T) {
	pipe := &MockCloser{Buffer: new(bytes.Buffer)}
	pipe.Write([]byte{1, 1, 1, 2, 2, 2})
	s := &FFmpegSource{out: pipe, width: 1, height: 1, buf: make([]byte, 3)}

	a, _ := s.Next()
	b, _ := s.Next()
	if a.Pix[0] != 1 || b.Pix[0] != 2 {
		t.Errorf("Expected frames to keep their own pixels, got %d and %d", a.Pix[0], b.Pix[0])
	}
}

func TestMJPEGFrames(t *testing.T) {
	pipe := &MockCloser{Buffer: new(bytes.Buffer)}
	img := image.NewRGBA(image.Rect(0, 0, 16, 8))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	for i := 0; i < 3; i++ {
		if err := jpeg.Encode(pipe, img, nil); err != nil {
			t.Fatal(err)
		}
	}

	scanner := bufio.NewScanner(pipe)
	scanner.Split(utils.SplitJpeg)
	s := &FFmpegSource{out: pipe, jpegs: scanner}

	n := 0
	for {
		f, err := s.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if f.Width != 16 || f.Height != 8 {
			t.Errorf("Unexpected frame size %dx%d", f.Width, f.Height)
		}
		n++
	}
	if n != 3 {
		t.Errorf("Expected 3 frames, got %d", n)
	}
}

func TestImageSourceScales(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "still.png")
	img := image.NewRGBA(image.Rect(0, 0, 320, 180))
	for y := 0; y < 180; y++ {
		for x := 0; x < 320; x++ {
			img.Set(x, y, color.RGBA{R: 0, G: 153, B: 255, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	f.Close()

	s := NewImageSource([]string{path}, 160, 90)
	frame, err := s.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if frame.Width != 160 || frame.Height != 90 {
		t.Errorf("Expected a 160x90 frame, got %dx%d", frame.Width, frame.Height)
	}
	if r, g, b := frame.RGB(80, 45); r != 0 || g != 153 || b != 255 {
		t.Errorf("Expected the fill color to survive scaling, got (%d,%d,%d)", r, g, b)
	}
	if _, err := s.Next(); err != io.EOF {
		t.Errorf("Expected io.EOF after the last image, got %v", err)
	}
}

func TestImageSourceMissingFile(t *testing.T) {
	s := NewImageSource([]string{filepath.Join(t.TempDir(), "nope.png")}, 0, 0)
	if _, err := s.Next(); err == nil {
		t.Error("Expected an error for a missing file")
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("Default config invalid: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Format = "h264"
	if err := cfg.Validate(); err == nil {
		t.Error("Expected unknown format to be rejected")
	}
}

func TestIsDevice(t *testing.T) {
	if !IsDevice("/dev/video0") || IsDevice("runs/lap1.mp4") {
		t.Error("IsDevice misclassified its input")
	}
}
