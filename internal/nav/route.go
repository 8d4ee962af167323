package nav

import (
	"fmt"

	"github.com/andresmejia3/truckpilot/internal/vision"
)

// Bound classifies what stopped a horizontal scan.
type Bound int

const (
	BoundImage Bound = iota
	BoundEdge
	BoundObstacle
)

func (b Bound) String() string {
	switch b {
	case BoundImage:
		return "IMAGE"
	case BoundEdge:
		return "EDGE"
	case BoundObstacle:
		return "OBSTACLE"
	default:
		return fmt.Sprintf("Bound(%d)", int(b))
	}
}

// StopReason records why tracing ended.
type StopReason int

const (
	StopTop      StopReason = iota // reached row 0
	StopEdge                       // target landed on a course edge
	StopObstacle                   // obstacle far ahead with no corridor around it
	StopNarrow                     // gap narrower than the vehicle footprint
	StopBlind                      // no edge or obstacle visible on either side
	StopBlocked                    // hard block near the vehicle, see Route.Block
)

func (r StopReason) String() string {
	switch r {
	case StopTop:
		return "top"
	case StopEdge:
		return "edge"
	case StopObstacle:
		return "obstacle"
	case StopNarrow:
		return "narrow"
	case StopBlind:
		return "blind"
	case StopBlocked:
		return "blocked"
	default:
		return fmt.Sprintf("StopReason(%d)", int(r))
	}
}

// RouteEntry is the target column chosen for one row.
type RouteEntry struct {
	Row      int
	X        int
	Obstacle bool
}

// Block describes a hard blocking condition close to the vehicle.
type Block struct {
	Row       int
	BailRight bool
}

// Route is the traced path from the nearest row upward. Rows are strictly decreasing.
type Route struct {
	Width   int
	Height  int
	Entries []RouteEntry
	Stop    StopReason
	StopRow int
	Block   *Block

	// Obstructed is set when an obstacle ended the trace. Edge-only stops leave it false.
	Obstructed bool
}

// Midpoint is the image column the vehicle is heading along.
func (r Route) Midpoint() int {
	return r.Width / 2
}

func (r *Route) stop(reason StopReason, row int) {
	r.Stop = reason
	r.StopRow = row
}

// Tracer turns the segmentation masks into a Route.
type Tracer interface {
	Trace(edge, obstacle *vision.Mask) Route
}

// Strategy names accepted by NewTracer.
const (
	StrategyCorridor = "corridor"
	StrategyCombined = "combined"
)

// TracerConfig tunes boundary weighting and the clearance model.
type TracerConfig struct {
	Strategy       string  `yaml:"strategy"`
	EdgeWeight     float64 `yaml:"edge_weight"`
	ObstacleWeight float64 `yaml:"obstacle_weight"`
	ImageWeight    float64 `yaml:"image_weight"`
	// Clearance at the top and bottom row, as a fraction of the frame width.
	TopClearance    float64 `yaml:"top_clearance"`
	BottomClearance float64 `yaml:"bottom_clearance"`
	// BailRows is the fraction of the frame height, from the bottom, where a narrow obstacle gap is a hard block.
	BailRows float64 `yaml:"bail_rows"`
}

// DefaultTracerConfig returns the corridor strategy tuned for a 160x90 camera.
func DefaultTracerConfig() TracerConfig {
	return TracerConfig{
		Strategy:        StrategyCorridor,
		EdgeWeight:      9,
		ObstacleWeight:  6,
		ImageWeight:     10,
		TopClearance:    1.0 / 6,
		BottomClearance: 0.75,
		BailRows:        0.4,
	}
}

// Validate checks weights and fractions.
func (c TracerConfig) Validate() error {
	if c.EdgeWeight <= 0 || c.ObstacleWeight <= 0 || c.ImageWeight <= 0 {
		return fmt.Errorf("boundary weights must be > 0")
	}
	if c.TopClearance <= 0 || c.BottomClearance <= 0 || c.TopClearance > 1 || c.BottomClearance > 1 {
		return fmt.Errorf("clearance fractions must be within (0,1]")
	}
	if c.BailRows < 0 || c.BailRows > 1 {
		return fmt.Errorf("bail_rows must be within [0,1], got %v", c.BailRows)
	}
	return nil
}

// MinClearance is the narrowest gap the vehicle fits through at row y, interpolated
// linearly between the top and bottom footprint widths.
func (c TracerConfig) MinClearance(y, width, height int) int {
	top := int(c.TopClearance * float64(width))
	bottom := int(c.BottomClearance * float64(width))
	return top + y*(bottom-top)/height
}

// NewTracer selects a tracing strategy by name.
func NewTracer(cfg TracerConfig) (Tracer, error) {
	switch cfg.Strategy {
	case "", StrategyCorridor:
		return NewCorridorTracer(cfg), nil
	case StrategyCombined:
		return NewCombinedTracer(cfg), nil
	default:
		return nil, fmt.Errorf("unknown tracer strategy %q (want %s or %s)", cfg.Strategy, StrategyCorridor, StrategyCombined)
	}
}
