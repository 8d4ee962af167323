package vision

import "image"

// Component is one 4-connected blob of a mask.
type Component struct {
	Class  Class
	Left   int
	Top    int
	Width  int
	Height int
	Area   int
	CX     float64
	CY     float64
}

// Bounds returns the bounding box as a rectangle.
func (c Component) Bounds() image.Rectangle {
	return image.Rect(c.Left, c.Top, c.Left+c.Width, c.Top+c.Height)
}

// Components labels every blob of m, in row-major order of their first pixel.
func Components(m *Mask, class Class) []Component {
	_, comps := label(m, class)
	return comps
}

// RemoveSmall clears blobs with fewer than minArea pixels.
func RemoveSmall(m *Mask, minArea int) {
	labels, comps := label(m, ClassBackground)
	for i, l := range labels {
		if l > 0 && comps[l-1].Area < minArea {
			m.Bits[i] = false
		}
	}
}

// label flood-fills m with an explicit stack. labels[i] is the 1-based component index, 0 for unset pixels.
func label(m *Mask, class Class) ([]int32, []Component) {
	w, h := m.Width, m.Height
	labels := make([]int32, w*h)
	var comps []Component
	var stack []int

	for start := range m.Bits {
		if !m.Bits[start] || labels[start] != 0 {
			continue
		}
		id := int32(len(comps) + 1)
		minX, minY := w, h
		maxX, maxY := -1, -1
		var sumX, sumY, area int

		labels[start] = id
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := p%w, p/w

			area++
			sumX += x
			sumY += y
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}

			if x > 0 && m.Bits[p-1] && labels[p-1] == 0 {
				labels[p-1] = id
				stack = append(stack, p-1)
			}
			if x < w-1 && m.Bits[p+1] && labels[p+1] == 0 {
				labels[p+1] = id
				stack = append(stack, p+1)
			}
			if y > 0 && m.Bits[p-w] && labels[p-w] == 0 {
				labels[p-w] = id
				stack = append(stack, p-w)
			}
			if y < h-1 && m.Bits[p+w] && labels[p+w] == 0 {
				labels[p+w] = id
				stack = append(stack, p+w)
			}
		}

		comps = append(comps, Component{
			Class:  class,
			Left:   minX,
			Top:    minY,
			Width:  maxX - minX + 1,
			Height: maxY - minY + 1,
			Area:   area,
			CX:     float64(sumX) / float64(area),
			CY:     float64(sumY) / float64(area),
		})
	}
	return labels, comps
}
