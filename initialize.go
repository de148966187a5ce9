package patchmatch

import (
	"github.com/gogpu/patchmatch/internal/parallel"
	"github.com/gogpu/patchmatch/internal/rng"
)

// initializeRegion assigns every position of reg a uniformly random match
// in b and stores its distance in f. Each position draws from its own
// stream, so the result does not depend on how regions are scheduled.
func initializeRegion(a, b *Image, f *Field, reg parallel.Region, seed uint64, r int) {
	for y := reg.Y0; y < reg.Y1; y++ {
		for x := reg.X0; x < reg.X1; x++ {
			s := rng.New(seed, rng.StageInit, 0, x, y)
			bx := s.Intn(b.width)
			by := s.Intn(b.height)
			f.Set(x, y, Match{X: int32(bx), Y: int32(by)}, patchDistance(a, b, x, y, bx, by, r))
		}
	}
}
