package nav

import "github.com/andresmejia3/truckpilot/internal/vision"

// CombinedTracer is the earlier single-mask strategy: edges and obstacles are merged,
// the cursor slides left out of blocked pixels and each row targets the plain midpoint
// of the free gap. It never reports a hard block.
type CombinedTracer struct {
	cfg TracerConfig
}

// NewCombinedTracer builds the single-mask strategy.
func NewCombinedTracer(cfg TracerConfig) *CombinedTracer {
	return &CombinedTracer{cfg: cfg}
}

// Trace implements Tracer.
func (t *CombinedTracer) Trace(edge, obstacle *vision.Mask) Route {
	w, h := edge.Width, edge.Height
	route := Route{Width: w, Height: h, Stop: StopTop, StopRow: -1}
	blocked := func(x, y int) bool { return edge.At(x, y) || obstacle.At(x, y) }
	prevX := w / 2

	for y := h - 1; y >= 0; y-- {
		for prevX >= 0 && blocked(prevX, y) {
			prevX--
		}
		if prevX < 0 {
			route.stop(StopEdge, y)
			return route
		}

		left, right := prevX, prevX
		for left > 0 && !blocked(left, y) {
			left--
		}
		for right < w-1 && !blocked(right, y) {
			right++
		}

		prevX = (left + right) / 2
		if right-left < t.cfg.MinClearance(y, w, h) && y != h-1 {
			route.stop(StopNarrow, y)
			route.Obstructed = obstacle.At(left, y) || obstacle.At(right, y)
			return route
		}
		route.Entries = append(route.Entries, RouteEntry{
			Row:      y,
			X:        prevX,
			Obstacle: obstacle.At(left, y) || obstacle.At(right, y),
		})
	}
	return route
}
