package patchmatch

import "github.com/gogpu/patchmatch/internal/parallel"

// propagateRegion runs one propagation sub-step at distance jump for the
// positions of reg.
//
// The neighbours (x-jump, y), (x+jump, y), (x, y-jump) and (x, y+jump) are
// visited in that order. A neighbour inside a proposes its own match moved
// by the same displacement; the proposal is kept when it lies inside b and
// is strictly better. src is only read and dst only written, so every
// region sees the field as it was when the sub-step started.
func propagateRegion(a, b *Image, src, dst *Field, reg parallel.Region, jump, r int) {
	offsets := [4][2]int{{-jump, 0}, {jump, 0}, {0, -jump}, {0, jump}}

	for y := reg.Y0; y < reg.Y1; y++ {
		for x := reg.X0; x < reg.X1; x++ {
			best, bestD := src.At(x, y)

			for _, o := range offsets {
				nx, ny := x+o[0], y+o[1]
				if !a.contains(nx, ny) {
					continue
				}
				nm, _ := src.At(nx, ny)
				cx, cy := int(nm.X)-o[0], int(nm.Y)-o[1]
				if !b.contains(cx, cy) {
					continue
				}
				if d := patchDistance(a, b, x, y, cx, cy, r); d < bestD {
					best, bestD = Match{X: int32(cx), Y: int32(cy)}, d
				}
			}

			dst.Set(x, y, best, bestD)
		}
	}
}
