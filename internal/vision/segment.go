package vision

import "fmt"

// Class labels a segmented pixel.
type Class int

const (
	ClassBackground Class = iota
	ClassEdge
	ClassObstacle
)

func (c Class) String() string {
	switch c {
	case ClassBackground:
		return "background"
	case ClassEdge:
		return "edge"
	case ClassObstacle:
		return "obstacle"
	default:
		return fmt.Sprintf("Class(%d)", int(c))
	}
}

// SegmenterConfig holds the color calibration for course edges and obstacles.
type SegmenterConfig struct {
	Edge     Band `yaml:"edge"`
	Obstacle Band `yaml:"obstacle"`
	// SwapRB exchanges red and blue before the HSV conversion. The default bands
	// were measured on frames with the two channels exchanged.
	SwapRB bool `yaml:"swap_rb"`
	// DespeckleArea drops obstacle blobs smaller than this many pixels. 0 disables it.
	DespeckleArea int `yaml:"despeckle_area"`
}

// DefaultSegmenterConfig returns the calibration used on the competition course.
func DefaultSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{
		Edge:     Band{Hue: 18, HueRange: 14, SatMin: 100, ValMin: 50},
		Obstacle: Band{Hue: 116, HueRange: 8, SatMin: 175, ValMin: 40},
		SwapRB:   true,
	}
}

// Validate checks the thresholds are on the 8-bit HSV scale.
func (c SegmenterConfig) Validate() error {
	for name, b := range map[string]Band{"edge": c.Edge, "obstacle": c.Obstacle} {
		if b.Hue < 0 || b.Hue >= HueScale {
			return fmt.Errorf("%s hue %d outside [0,%d)", name, b.Hue, HueScale)
		}
		if b.HueRange < 0 || b.HueRange > HueScale/2 {
			return fmt.Errorf("%s hue range %d outside [0,%d]", name, b.HueRange, HueScale/2)
		}
		if b.SatMin < 0 || b.SatMin > 255 || b.ValMin < 0 || b.ValMin > 255 {
			return fmt.Errorf("%s saturation/value minimums must be within [0,255]", name)
		}
	}
	if c.DespeckleArea < 0 {
		return fmt.Errorf("despeckle area must be >= 0, got %d", c.DespeckleArea)
	}
	return nil
}

// Segmenter splits a frame into course-edge and obstacle masks.
type Segmenter interface {
	Segment(f *Frame) (edge, obstacle *Mask)
}

// HSVSegmenter classifies pixels with fixed HSV bands.
type HSVSegmenter struct {
	cfg SegmenterConfig
}

// NewHSVSegmenter builds a segmenter from a calibration.
func NewHSVSegmenter(cfg SegmenterConfig) *HSVSegmenter {
	return &HSVSegmenter{cfg: cfg}
}

// Classify returns the class of a single RGB pixel. Edge membership wins over obstacle.
func (s *HSVSegmenter) Classify(r, g, b uint8) Class {
	if s.cfg.SwapRB {
		r, b = b, r
	}
	h, sat, v := ToHSV(r, g, b)
	if s.cfg.Edge.Contains(h, sat, v) {
		return ClassEdge
	}
	if s.cfg.Obstacle.Contains(h, sat, v) {
		return ClassObstacle
	}
	return ClassBackground
}

// Segment implements Segmenter.
func (s *HSVSegmenter) Segment(f *Frame) (*Mask, *Mask) {
	edge := NewMask(f.Width, f.Height)
	obstacle := NewMask(f.Width, f.Height)
	for i, p := 0, 0; i < len(f.Pix); i, p = i+3, p+1 {
		switch s.Classify(f.Pix[i], f.Pix[i+1], f.Pix[i+2]) {
		case ClassEdge:
			edge.Bits[p] = true
		case ClassObstacle:
			obstacle.Bits[p] = true
		}
	}
	if s.cfg.DespeckleArea > 0 {
		RemoveSmall(obstacle, s.cfg.DespeckleArea)
	}
	return edge, obstacle
}
