package patchmatch

import (
	"github.com/gogpu/patchmatch/internal/parallel"
	"github.com/gogpu/patchmatch/internal/rng"
)

// searchRegion runs one random search round for the positions of reg.
//
// Candidates are drawn from square windows centred on the match each
// position held when the round started, with half-width radius, radius/2,
// ... down to 1, each window clamped to b. A candidate replaces the best
// match only when strictly better. Positions only touch their own entry,
// so f is updated in place.
func searchRegion(a, b *Image, f *Field, reg parallel.Region, seed uint64, round, radius, r int) {
	for y := reg.Y0; y < reg.Y1; y++ {
		for x := reg.X0; x < reg.X1; x++ {
			m0, bestD := f.At(x, y)
			best := m0
			cx0, cy0 := int(m0.X), int(m0.Y)

			s := rng.New(seed, rng.StageSearch, round, x, y)
			for rad := radius; rad >= 1; rad /= 2 {
				cx := s.Range(max(cx0-rad, 0), min(cx0+rad, b.width-1))
				cy := s.Range(max(cy0-rad, 0), min(cy0+rad, b.height-1))
				if d := patchDistance(a, b, x, y, cx, cy, r); d < bestD {
					best, bestD = Match{X: int32(cx), Y: int32(cy)}, d
				}
			}

			f.Set(x, y, best, bestD)
		}
	}
}
