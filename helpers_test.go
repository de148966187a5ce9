package patchmatch

import (
	"testing"

	"github.com/gogpu/patchmatch/internal/rng"
)

// mustImage builds a w x h image from fn, which returns R, G, B.
func mustImage(t testing.TB, w, h int, fn func(x, y int) (r, g, b uint8)) *Image {
	t.Helper()
	pix := make([]uint8, 0, w*h*4)
	for y := range h {
		for x := range w {
			r, g, b := fn(x, y)
			pix = append(pix, r, g, b, 255)
		}
	}
	im, err := NewImage(w, h, pix)
	if err != nil {
		t.Fatalf("NewImage(%d, %d) error = %v", w, h, err)
	}
	return im
}

// noiseImage returns an image whose patches are all distinct.
func noiseImage(t testing.TB, w, h int) *Image {
	t.Helper()
	return mustImage(t, w, h, func(x, y int) (uint8, uint8, uint8) {
		v := rng.Hash(uint32(y*w + x))
		return uint8(v), uint8(v >> 8), uint8(v >> 16)
	})
}

// solidImage returns an image filled with one colour.
func solidImage(t testing.TB, w, h int, r, g, b uint8) *Image {
	t.Helper()
	return mustImage(t, w, h, func(int, int) (uint8, uint8, uint8) { return r, g, b })
}

// checkFieldInvariants verifies bounds and that every stored distance is the
// patch distance of its match.
func checkFieldInvariants(t *testing.T, a, b *Image, f *Field, patchSize int) {
	t.Helper()
	if f.Width() != a.Width() || f.Height() != a.Height() {
		t.Fatalf("field size = %dx%d, want %dx%d", f.Width(), f.Height(), a.Width(), a.Height())
	}
	for y := range f.Height() {
		for x := range f.Width() {
			m, d := f.At(x, y)
			if m.X < 0 || m.Y < 0 || int(m.X) >= b.Width() || int(m.Y) >= b.Height() {
				t.Fatalf("match at (%d, %d) = %v, outside %dx%d", x, y, m, b.Width(), b.Height())
			}
			if d < 0 {
				t.Fatalf("distance at (%d, %d) = %v, want >= 0", x, y, d)
			}
			want := PatchDistance(a, b, x, y, int(m.X), int(m.Y), patchSize)
			if d != want {
				t.Fatalf("distance at (%d, %d) = %v, want PatchDistance = %v", x, y, d, want)
			}
		}
	}
}
