package nav

import (
	"fmt"
	"math"
)

// SpeedBand maps a confidence depth strictly above MinDepth to a speed.
type SpeedBand struct {
	MinDepth int `yaml:"min_depth"`
	Speed    int `yaml:"speed"`
}

// EstimatorConfig tunes the steering and speed estimate.
type EstimatorConfig struct {
	Gain               float64     `yaml:"gain"`
	Decay              float64     `yaml:"decay"`
	ObstacleMultiplier int         `yaml:"obstacle_multiplier"`
	Sensitivity        float64     `yaml:"sensitivity"`
	CenterThreshold    int         `yaml:"center_threshold"`
	Bands              []SpeedBand `yaml:"speed_bands"`
	CautiousSpeed      int         `yaml:"cautious_speed"`
	PowerFactor        float64     `yaml:"power_factor"`
	TurnBoost          float64     `yaml:"turn_boost"`
	TurnBoostAbove     int         `yaml:"turn_boost_above"`
	NoPathRows         float64     `yaml:"no_path_rows"`
	NoPathSpeed        int         `yaml:"no_path_speed"`
}

// DefaultEstimatorConfig returns the tuning used on the course.
func DefaultEstimatorConfig() EstimatorConfig {
	return EstimatorConfig{
		Gain:               9,
		Decay:              0.06,
		ObstacleMultiplier: 2,
		Sensitivity:        10,
		CenterThreshold:    9,
		Bands: []SpeedBand{
			{MinDepth: 70, Speed: 100},
			{MinDepth: 50, Speed: 85},
			{MinDepth: 20, Speed: 70},
			{MinDepth: 10, Speed: 55},
		},
		CautiousSpeed:  40,
		PowerFactor:    1.0,
		TurnBoost:      1.0 / 3,
		TurnBoostAbove: 50,
		NoPathRows:     0.15,
		NoPathSpeed:    40,
	}
}

// Validate checks the estimator tuning.
func (c EstimatorConfig) Validate() error {
	if c.Sensitivity <= 0 {
		return fmt.Errorf("sensitivity must be > 0, got %v", c.Sensitivity)
	}
	if c.ObstacleMultiplier < 1 {
		return fmt.Errorf("obstacle_multiplier must be >= 1, got %d", c.ObstacleMultiplier)
	}
	if c.PowerFactor <= 0 || c.PowerFactor > 1 {
		return fmt.Errorf("power_factor must be within (0,1], got %v", c.PowerFactor)
	}
	for i := 1; i < len(c.Bands); i++ {
		if c.Bands[i].MinDepth >= c.Bands[i-1].MinDepth {
			return fmt.Errorf("speed_bands must be ordered by descending min_depth")
		}
	}
	for _, b := range c.Bands {
		if b.Speed < 0 || b.Speed > 100 {
			return fmt.Errorf("band speed %d out of range [0,100]", b.Speed)
		}
	}
	if c.CautiousSpeed < 0 || c.CautiousSpeed > 100 || c.NoPathSpeed < 0 || c.NoPathSpeed > 100 {
		return fmt.Errorf("cautious_speed and no_path_speed must be within [0,100]")
	}
	if c.NoPathRows < 0 || c.NoPathRows > 1 {
		return fmt.Errorf("no_path_rows must be within [0,1], got %v", c.NoPathRows)
	}
	return nil
}

// Estimate is the per-frame steering and speed proposal.
type Estimate struct {
	Direction int
	Speed     int
	Depth     int
	NoPath    bool
	// Collision is set when there is no path because something is physically in the way.
	Collision bool
}

// Estimator converts a Route into a direction and speed. It is stateless.
type Estimator struct {
	cfg EstimatorConfig
}

// NewEstimator builds an Estimator.
func NewEstimator(cfg EstimatorConfig) *Estimator {
	return &Estimator{cfg: cfg}
}

// Weight is the contribution of the i-th route entry counted from the vehicle.
func (e *Estimator) Weight(i int, obstacle bool) int {
	w := int(math.Round(e.cfg.Gain/math.Exp(e.cfg.Decay*float64(i)))) + 1
	if obstacle {
		w *= e.cfg.ObstacleMultiplier
	}
	return w
}

// Estimate computes the direction and speed for r.
func (e *Estimator) Estimate(r Route) Estimate {
	if e.noPath(r) {
		return Estimate{
			Speed:     e.cfg.NoPathSpeed,
			NoPath:    true,
			Collision: r.Obstructed,
		}
	}

	mid := r.Midpoint()
	var sum, total float64
	depth := len(r.Entries)
	for i, entry := range r.Entries {
		w := float64(e.Weight(i, entry.Obstacle))
		dev := entry.X - mid
		sum += w * float64(dev)
		total += w
		if depth == len(r.Entries) && absInt(dev) > e.cfg.CenterThreshold {
			depth = i
		}
	}

	dir := clampInt(int(math.Round(sum/total*100/e.cfg.Sensitivity)), -100, 100)

	speed := e.cfg.CautiousSpeed
	for _, b := range e.cfg.Bands {
		if depth > b.MinDepth {
			speed = b.Speed
			break
		}
	}
	speed = int(math.Round(float64(speed) * e.cfg.PowerFactor))
	if absInt(dir) > e.cfg.TurnBoostAbove {
		speed = int(math.Round(float64(speed) * (1 + e.cfg.TurnBoost)))
	}

	return Estimate{Direction: dir, Speed: clampInt(speed, 0, 100), Depth: depth}
}

func (e *Estimator) noPath(r Route) bool {
	if len(r.Entries) == 0 {
		return true
	}
	if r.Stop == StopTop {
		return false
	}
	return r.StopRow >= r.Height-int(math.Round(e.cfg.NoPathRows*float64(r.Height)))
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
