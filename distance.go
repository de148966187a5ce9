package patchmatch

import "math"

// PatchDistance returns the dissimilarity between the patch of a centred on
// (ax, ay) and the patch of b centred on (bx, by).
//
// For every offset in the patchW x patchW window the pixel pair is used only
// when both pixels lie inside their images. The result is the sum of
// squared R, G and B differences over the used pairs divided by their
// number, so patches clipped by an image edge stay comparable with interior
// ones. With no usable pair the result is +Inf.
//
// An even patchW behaves like patchW-1.
func PatchDistance(a, b *Image, ax, ay, bx, by, patchW int) float32 {
	return patchDistance(a, b, ax, ay, bx, by, patchW/2)
}

// patchDistance is PatchDistance with the patch radius precomputed.
func patchDistance(a, b *Image, ax, ay, bx, by, r int) float32 {
	// Offset range where both pixels are in bounds.
	x0 := max(-r, -ax, -bx)
	x1 := min(r, a.width-1-ax, b.width-1-bx)
	y0 := max(-r, -ay, -by)
	y1 := min(r, a.height-1-ay, b.height-1-by)
	if x0 > x1 || y0 > y1 {
		return float32(math.Inf(1))
	}

	n := (x1 - x0 + 1) * 4
	var sum int64
	for dy := y0; dy <= y1; dy++ {
		ai := ((ay+dy)*a.width + ax + x0) * 4
		bi := ((by+dy)*b.width + bx + x0) * 4
		ap := a.pix[ai : ai+n : ai+n]
		bp := b.pix[bi : bi+n : bi+n]
		for i := 0; i < n; i += 4 {
			dr := int64(ap[i]) - int64(bp[i])
			dg := int64(ap[i+1]) - int64(bp[i+1])
			db := int64(ap[i+2]) - int64(bp[i+2])
			sum += dr*dr + dg*dg + db*db
		}
	}

	count := (x1 - x0 + 1) * (y1 - y0 + 1)
	return float32(float64(sum) / float64(count))
}
