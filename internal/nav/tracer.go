package nav

import (
	"math"

	"github.com/andresmejia3/truckpilot/internal/vision"
)

// CorridorTracer follows the center of the free corridor between course edges and
// obstacles, weighting each side by what bounds it.
type CorridorTracer struct {
	cfg TracerConfig
}

// NewCorridorTracer builds the default tracing strategy.
func NewCorridorTracer(cfg TracerConfig) *CorridorTracer {
	return &CorridorTracer{cfg: cfg}
}

// Trace implements Tracer.
func (t *CorridorTracer) Trace(edge, obstacle *vision.Mask) Route {
	w, h := edge.Width, edge.Height
	route := Route{Width: w, Height: h, Stop: StopTop, StopRow: -1}
	prevX := w / 2
	bailFrom := h - int(math.Round(t.cfg.BailRows*float64(h)))

	for y := h - 1; y >= 0; y-- {
		clearance := t.cfg.MinClearance(y, w, h)

		if edge.At(prevX, y) {
			route.stop(StopEdge, y)
			return route
		}

		if obstacle.At(prevX, y) {
			left, right, ok := nearestCorridor(edge, obstacle, y, prevX, clearance)
			if !ok {
				if y >= h/2 {
					route.Block = &Block{Row: y, BailRight: obstacleRunLeftOfCenter(obstacle, y, prevX, w/2)}
					route.stop(StopBlocked, y)
				} else {
					route.stop(StopObstacle, y)
				}
				route.Obstructed = true
				return route
			}
			prevX = (left + right) / 2
			route.Entries = append(route.Entries, RouteEntry{Row: y, X: prevX, Obstacle: true})
			continue
		}

		left, lb := scanRow(edge, obstacle, y, prevX, -1)
		right, rb := scanRow(edge, obstacle, y, prevX, 1)
		if lb == BoundImage && rb == BoundImage {
			route.stop(StopBlind, y)
			return route
		}

		wl, wr := t.weight(lb), t.weight(rb)
		target := int(math.Round((wl*float64(left) + wr*float64(right)) / (wl + wr)))
		hasObstacle := lb == BoundObstacle || rb == BoundObstacle

		if right-left < clearance && y != h-1 {
			switch {
			case hasObstacle:
				if y >= bailFrom {
					route.Block = &Block{Row: y, BailRight: bailSide(lb, rb)}
					route.stop(StopBlocked, y)
				} else {
					route.stop(StopNarrow, y)
				}
				route.Obstructed = true
				return route
			case lb == BoundImage:
				target = clampInt(right-clearance/2, 0, w-1)
			case rb == BoundImage:
				target = clampInt(left+clearance/2, 0, w-1)
			default:
				route.Entries = append(route.Entries, RouteEntry{Row: y, X: (left + right) / 2})
				route.stop(StopNarrow, y)
				return route
			}
		}

		route.Entries = append(route.Entries, RouteEntry{Row: y, X: target, Obstacle: hasObstacle})
		prevX = target
	}
	return route
}

func (t *CorridorTracer) weight(b Bound) float64 {
	switch b {
	case BoundEdge:
		return t.cfg.EdgeWeight
	case BoundObstacle:
		return t.cfg.ObstacleWeight
	default:
		return t.cfg.ImageWeight
	}
}

// scanRow walks from x in direction dir until it hits an edge, an obstacle or the image border.
func scanRow(edge, obstacle *vision.Mask, y, x, dir int) (int, Bound) {
	for x+dir >= 0 && x+dir < edge.Width {
		x += dir
		if edge.At(x, y) {
			return x, BoundEdge
		}
		if obstacle.At(x, y) {
			return x, BoundObstacle
		}
	}
	return x, BoundImage
}

// nearestCorridor finds the free run of row y closest to x that is at least minWidth wide.
// Only the span between the course edges nearest to x is searched. Equal distances prefer
// the run on the right.
func nearestCorridor(edge, obstacle *vision.Mask, y, x, minWidth int) (int, int, bool) {
	lo, hi := x, x
	for lo > 0 && !edge.At(lo-1, y) {
		lo--
	}
	for hi < edge.Width-1 && !edge.At(hi+1, y) {
		hi++
	}

	bestL, bestR, bestDist := -1, -1, math.MaxInt
	runStart := -1
	for i := lo; i <= hi+1; i++ {
		free := i <= hi && !obstacle.At(i, y)
		if free {
			if runStart < 0 {
				runStart = i
			}
			continue
		}
		if runStart < 0 {
			continue
		}
		a, b := runStart, i-1
		runStart = -1
		if b-a+1 < minWidth {
			continue
		}
		dist := 0
		if x < a {
			dist = a - x
		} else if x > b {
			dist = x - b
		}
		if dist <= bestDist {
			bestL, bestR, bestDist = a, b, dist
		}
	}
	return bestL, bestR, bestL >= 0
}

// obstacleRunLeftOfCenter reports whether the obstacle run covering x sits at or left of mid,
// in which case the vehicle should bail to the right.
func obstacleRunLeftOfCenter(obstacle *vision.Mask, y, x, mid int) bool {
	a, b := x, x
	for a > 0 && obstacle.At(a-1, y) {
		a--
	}
	for b < obstacle.Width-1 && obstacle.At(b+1, y) {
		b++
	}
	return a+b <= 2*mid
}

// bailSide picks the side away from the obstacle boundary. Two obstacles fall back to the right.
func bailSide(left, right Bound) bool {
	if right == BoundObstacle && left != BoundObstacle {
		return false
	}
	return true
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
