package patchmatch

import "math"

// hsl converts hue (degrees), saturation and lightness (0-1) to RGB
// components in [0, 1].
func hsl(h, s, l float64) (r, g, b float64) {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	h /= 360

	c := (1 - math.Abs(2*l-1)) * s
	x := c * (1 - math.Abs(math.Mod(h*6, 2)-1))
	m := l - c/2

	switch {
	case h < 1.0/6:
		r, g, b = c, x, 0
	case h < 2.0/6:
		r, g, b = x, c, 0
	case h < 3.0/6:
		r, g, b = 0, c, x
	case h < 4.0/6:
		r, g, b = 0, x, c
	case h < 5.0/6:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	return r + m, g + m, b + m
}

// to8 maps [0, 1] to [0, 255] with rounding and clamping.
func to8(v float64) uint8 {
	return uint8(math.Round(min(max(v, 0), 1) * 255))
}
