package patchmatch

import (
	"fmt"
	"math"
)

// Reconstruct rebuilds the source image from b: every output pixel is the
// pixel of b at the match stored for that position. The output has the
// field's dimensions.
func Reconstruct(f *Field, b *Image) (*Image, error) {
	if b.empty() {
		return nil, fmt.Errorf("%w: target image", ErrEmptyImage)
	}
	if tw, th := f.TargetSize(); tw != b.width || th != b.height {
		return nil, fmt.Errorf("%w: field targets %dx%d, image is %dx%d",
			ErrInvalidParameter, tw, th, b.width, b.height)
	}

	out := newImage(f.width, f.height)
	for y := range f.height {
		for x := range f.width {
			m, _ := f.At(x, y)
			r, g, bl, a := b.RGBA(int(m.X), int(m.Y))
			out.set(x, y, r, g, bl, a)
		}
	}
	return out, nil
}

// Flow renders the match offsets of f as an opaque image with the field's
// dimensions.
//
// FlowHue encodes the direction of (dx, dy) as hue and its length,
// relative to the larger target dimension, as lightness; a zero offset is
// black. FlowBiaxial maps dx from [-targetWidth, targetWidth] to red and dy
// from [-targetHeight, targetHeight] to green, leaving blue at zero, so a
// zero offset is (128, 128, 0).
func Flow(f *Field, enc FlowEncoding) (*Image, error) {
	if f.width <= 0 || f.height <= 0 {
		return nil, fmt.Errorf("%w: field", ErrEmptyImage)
	}
	tw, th := f.TargetSize()
	out := newImage(f.width, f.height)

	switch enc {
	case FlowHue:
		scale := float64(max(tw, th))
		for y := range f.height {
			for x := range f.width {
				dx, dy := f.Offset(x, y)
				mag := min(math.Hypot(float64(dx), float64(dy))/scale, 1)
				hue := math.Atan2(float64(dy), float64(dx)) * 180 / math.Pi
				r, g, b := hsl(hue, 1, mag/2)
				out.set(x, y, to8(r), to8(g), to8(b), 255)
			}
		}
	case FlowBiaxial:
		for y := range f.height {
			for x := range f.width {
				dx, dy := f.Offset(x, y)
				r := float64(dx+tw) / float64(2*tw)
				g := float64(dy+th) / float64(2*th)
				out.set(x, y, to8(r), to8(g), 0, 255)
			}
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidParameter, enc)
	}
	return out, nil
}
