package annotate

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"strings"
	"testing"

	"github.com/andresmejia3/truckpilot/internal/nav"
	"github.com/andresmejia3/truckpilot/internal/vision"
)

type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

func testPerception() nav.Perception {
	obstacle := vision.NewMask(20, 10)
	obstacle.FillRect(image.Rect(2, 6, 6, 10))
	return nav.Perception{
		Edge:       vision.NewMask(20, 10),
		Obstacle:   obstacle,
		Components: vision.Components(obstacle, vision.ClassObstacle),
		Route: nav.Route{
			Width: 20, Height: 10,
			Entries: []nav.RouteEntry{{Row: 9, X: 10}, {Row: 8, X: 12, Obstacle: true}},
			Stop:    nav.StopNarrow, StopRow: 7,
		},
		Estimate: nav.Estimate{Direction: 30, Speed: 55, Depth: 2},
	}
}

func TestRenderDrawsRoute(t *testing.T) {
	f := vision.NewFrame(20, 10)
	per := testPerception()

	img := Render(f, per, nav.Decision{Direction: 30, Speed: 55}, Options{Scale: 2})
	if img.Bounds().Dx() != 40 || img.Bounds().Dy() != 20 {
		t.Fatalf("Expected a 40x20 image, got %v", img.Bounds())
	}
	if got := img.RGBAAt(20, 18); got != RouteColor {
		t.Errorf("Expected route color at the first entry, got %v", got)
	}
	if got := img.RGBAAt(24, 16); got != ObstacleRoute {
		t.Errorf("Expected obstacle route color at the second entry, got %v", got)
	}
	if got := img.RGBAAt(0, 14); got != StopColor {
		t.Errorf("Expected the stop row to be marked, got %v", got)
	}
	if got := img.RGBAAt(30, 2); got != (color.RGBA{0, 0, 0, 255}) {
		t.Errorf("Expected untouched pixels to stay black, got %v", got)
	}
}

func TestRenderTintsMasks(t *testing.T) {
	f := vision.NewFrame(20, 10)
	img := Render(f, testPerception(), nav.Decision{}, Options{Masks: true})
	if got := img.RGBAAt(3, 8); got.R == 0 || got.B == 0 {
		t.Errorf("Expected obstacle pixels to be tinted, got %v", got)
	}
}

func TestRenderHUD(t *testing.T) {
	f := vision.NewFrame(160, 90)
	with := Render(f, testPerception(), nav.Decision{}, Options{Scale: 1, HUD: true})
	without := Render(f, testPerception(), nav.Decision{}, Options{Scale: 1})
	if bytes.Equal(with.Pix[:160*4*14], without.Pix[:160*4*14]) {
		t.Error("Expected the HUD to draw text in the top rows")
	}
}

func TestHUDLine(t *testing.T) {
	per := testPerception()
	line := HUDLine(per, nav.Decision{State: nav.StateBailTurn, Direction: -50, Speed: -40, Bail: true})
	for _, want := range []string{"BAIL_TURN", "dir -50", "spd -40"} {
		if !strings.Contains(line, want) {
			t.Errorf("Expected %q in %q", want, line)
		}
	}
	if !strings.Contains(HUDLine(per, nav.Decision{Stalled: true}), "STALLED") {
		t.Error("Expected stalled sessions to be flagged")
	}
}

func TestDebugWriter(t *testing.T) {
	w, err := NewDebugWriter(t.TempDir(), 5)
	if err != nil {
		t.Fatalf("NewDebugWriter failed: %v", err)
	}
	if !w.Due(0) || w.Due(3) || !w.Due(10) {
		t.Error("Unexpected sampling")
	}

	path, err := w.Write(10, image.NewRGBA(image.Rect(0, 0, 8, 8)))
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := jpeg.Decode(f); err != nil {
		t.Errorf("Written frame is not a valid JPEG: %v", err)
	}
}

func TestVideoRecorderPacksRGB(t *testing.T) {
	pipe := &MockCloser{Buffer: new(bytes.Buffer)}
	r := newVideoRecorder(nil, pipe, 2, 1)

	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.SetRGBA(0, 0, color.RGBA{1, 2, 3, 255})
	img.SetRGBA(1, 0, color.RGBA{4, 5, 6, 255})
	if err := r.Write(img); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if !bytes.Equal(pipe.Bytes(), []byte{1, 2, 3, 4, 5, 6}) {
		t.Errorf("Unexpected rgb24 payload %v", pipe.Bytes())
	}
	if err := r.Write(image.NewRGBA(image.Rect(0, 0, 3, 3))); err == nil {
		t.Error("Expected a size mismatch error")
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
