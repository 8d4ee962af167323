package vision

import (
	"image"
	"math"
)

// HueScale is the exclusive upper bound of the 8-bit hue scale (half degrees).
const HueScale = 180

// ToHSV converts one RGB pixel to 8-bit HSV: hue in [0,180), saturation and value in [0,255].
func ToHSV(r, g, b uint8) (h, s, v uint8) {
	rf, gf, bf := float64(r), float64(g), float64(b)
	hi := math.Max(rf, math.Max(gf, bf))
	lo := math.Min(rf, math.Min(gf, bf))
	delta := hi - lo

	v = uint8(hi)
	if hi == 0 {
		return 0, 0, v
	}
	s = uint8(math.Round(255 * delta / hi))
	if delta == 0 {
		return 0, s, v
	}

	var deg float64
	switch hi {
	case rf:
		deg = 60 * (gf - bf) / delta
	case gf:
		deg = 120 + 60*(bf-rf)/delta
	default:
		deg = 240 + 60*(rf-gf)/delta
	}
	if deg < 0 {
		deg += 360
	}
	hue := int(math.Round(deg / 2))
	if hue >= HueScale {
		hue -= HueScale
	}
	return uint8(hue), s, v
}

// Band is an inclusive HSV threshold window around a hue center.
type Band struct {
	Hue      int `yaml:"hue"`
	HueRange int `yaml:"hue_range"`
	SatMin   int `yaml:"sat_min"`
	ValMin   int `yaml:"val_min"`
}

// Contains reports whether the HSV triple falls inside the band. Hue wraps around the scale.
func (b Band) Contains(h, s, v uint8) bool {
	if int(s) < b.SatMin || int(v) < b.ValMin {
		return false
	}
	d := int(h) - b.Hue
	if d < 0 {
		d = -d
	}
	if d > HueScale/2 {
		d = HueScale - d
	}
	return d <= b.HueRange
}

// HSVStats summarises the HSV distribution of a frame region.
type HSVStats struct {
	Pixels int
	Min    [3]uint8
	Max    [3]uint8
	Mean   [3]float64
}

// SampleHSV computes HSV statistics over rect, using the same channel order the segmenter uses.
func SampleHSV(f *Frame, rect image.Rectangle, swapRB bool) HSVStats {
	rect = rect.Intersect(f.Bounds())
	st := HSVStats{Min: [3]uint8{255, 255, 255}}
	var sum [3]float64
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			r, g, b := f.RGB(x, y)
			if swapRB {
				r, b = b, r
			}
			h, s, v := ToHSV(r, g, b)
			for i, c := range [3]uint8{h, s, v} {
				if c < st.Min[i] {
					st.Min[i] = c
				}
				if c > st.Max[i] {
					st.Max[i] = c
				}
				sum[i] += float64(c)
			}
			st.Pixels++
		}
	}
	if st.Pixels == 0 {
		st.Min = [3]uint8{}
		return st
	}
	for i := range sum {
		st.Mean[i] = sum[i] / float64(st.Pixels)
	}
	return st
}

// BandFromStats proposes a band covering a sampled region, widened by margin on every axis.
// Hue is centered on the sampled range; a range wider than half the scale is taken to wrap.
func BandFromStats(st HSVStats, margin int) Band {
	lo, hi := int(st.Min[0]), int(st.Max[0])
	center := (lo + hi) / 2
	half := (hi - lo) / 2
	if hi-lo > HueScale/2 {
		// Samples straddle 0: the short arc runs from hi up through the wrap to lo.
		arc := HueScale - (hi - lo)
		center = (hi + arc/2) % HueScale
		half = arc / 2
	}
	return Band{
		Hue:      center,
		HueRange: min(half+margin, HueScale/2),
		SatMin:   max(int(st.Min[1])-margin, 0),
		ValMin:   max(int(st.Min[2])-margin, 0),
	}
}
