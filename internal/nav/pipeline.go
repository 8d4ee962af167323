package nav

import "github.com/andresmejia3/truckpilot/internal/vision"

// Perception is everything derived from one frame before the session acts on it.
type Perception struct {
	Edge       *vision.Mask
	Obstacle   *vision.Mask
	Components []vision.Component
	Route      Route
	Estimate   Estimate
}

// Pipeline runs segmentation, tracing and estimation for one frame.
type Pipeline struct {
	seg       vision.Segmenter
	tracer    Tracer
	estimator *Estimator
}

func NewPipeline(seg vision.Segmenter, tracer Tracer, estimator *Estimator) *Pipeline {
	return &Pipeline{seg: seg, tracer: tracer, estimator: estimator}
}

// Perceive is pure: the same frame always yields the same Perception.
func (p *Pipeline) Perceive(f *vision.Frame) Perception {
	edge, obstacle := p.seg.Segment(f)
	route := p.tracer.Trace(edge, obstacle)
	comps := append(vision.Components(edge, vision.ClassEdge), vision.Components(obstacle, vision.ClassObstacle)...)
	return Perception{
		Edge:       edge,
		Obstacle:   obstacle,
		Components: comps,
		Route:      route,
		Estimate:   p.estimator.Estimate(route),
	}
}

// Process perceives f and advances s by one frame.
func (p *Pipeline) Process(f *vision.Frame, s *Session) (Decision, Perception) {
	per := p.Perceive(f)
	d := s.Step(Observation{Route: per.Route, Estimate: per.Estimate, Obstacle: per.Obstacle})
	return d, per
}
