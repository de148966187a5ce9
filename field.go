package patchmatch

import (
	"fmt"
	"math"
)

// Match is a position in the target image.
type Match struct {
	X, Y int32
}

// Field is an approximate nearest-neighbour field: for every position of a
// source image, the best known match in a target image and its patch
// distance. Distances are never negative and lower is better; +Inf marks a
// pair of patches with no overlapping pixels.
type Field struct {
	width, height             int
	targetWidth, targetHeight int
	patchSize                 int

	matches []Match
	dist    []float32
}

// NewField allocates a width x height field whose matches point into a
// targetWidth x targetHeight image. Every entry starts at (0, 0) with
// distance +Inf.
func NewField(width, height, targetWidth, targetHeight, patchSize int) *Field {
	n := width * height
	f := &Field{
		width:        width,
		height:       height,
		targetWidth:  targetWidth,
		targetHeight: targetHeight,
		patchSize:    patchSize,
		matches:      make([]Match, n),
		dist:         make([]float32, n),
	}
	inf := float32(math.Inf(1))
	for i := range f.dist {
		f.dist[i] = inf
	}
	return f
}

// Width returns the source width.
func (f *Field) Width() int { return f.width }

// Height returns the source height.
func (f *Field) Height() int { return f.height }

// TargetSize returns the dimensions of the image the matches point into.
func (f *Field) TargetSize() (width, height int) { return f.targetWidth, f.targetHeight }

// PatchSize returns the patch size the distances were computed with.
func (f *Field) PatchSize() int { return f.patchSize }

// At returns the match and distance stored for (x, y).
func (f *Field) At(x, y int) (Match, float32) {
	i := y*f.width + x
	return f.matches[i], f.dist[i]
}

// Set stores the match and distance for (x, y).
func (f *Field) Set(x, y int, m Match, d float32) {
	i := y*f.width + x
	f.matches[i] = m
	f.dist[i] = d
}

// Offset returns the displacement from (x, y) to its match.
func (f *Field) Offset(x, y int) (dx, dy int) {
	m := f.matches[y*f.width+x]
	return int(m.X) - x, int(m.Y) - y
}

// Matches returns the matches in row-major order. Callers must not modify it.
func (f *Field) Matches() []Match { return f.matches }

// Distances returns the distances in row-major order. Callers must not
// modify it.
func (f *Field) Distances() []float32 { return f.dist }

// MeanDistance returns the mean of the finite distances, or +Inf when none
// is finite.
func (f *Field) MeanDistance() float64 {
	var sum float64
	n := 0
	for _, d := range f.dist {
		if !math.IsInf(float64(d), 1) {
			sum += float64(d)
			n++
		}
	}
	if n == 0 {
		return math.Inf(1)
	}
	return sum / float64(n)
}

// Clone returns a deep copy of f.
func (f *Field) Clone() *Field {
	c := *f
	c.matches = append([]Match(nil), f.matches...)
	c.dist = append([]float32(nil), f.dist...)
	return &c
}

// Equal reports whether f and g hold bit-identical contents.
func (f *Field) Equal(g *Field) bool {
	if f.width != g.width || f.height != g.height ||
		f.targetWidth != g.targetWidth || f.targetHeight != g.targetHeight ||
		f.patchSize != g.patchSize {
		return false
	}
	for i := range f.matches {
		if f.matches[i] != g.matches[i] ||
			math.Float32bits(f.dist[i]) != math.Float32bits(g.dist[i]) {
			return false
		}
	}
	return true
}

// validate checks every match lies inside the target.
func (f *Field) validate() error {
	for i, m := range f.matches {
		if m.X < 0 || m.Y < 0 || int(m.X) >= f.targetWidth || int(m.Y) >= f.targetHeight {
			return fmt.Errorf("match (%d, %d) at (%d, %d) outside %dx%d target",
				m.X, m.Y, i%f.width, i/f.width, f.targetWidth, f.targetHeight)
		}
		if d := f.dist[i]; d < 0 || math.IsNaN(float64(d)) {
			return fmt.Errorf("distance %v at (%d, %d)", d, i%f.width, i/f.width)
		}
	}
	return nil
}

// fieldPair is the double buffer used by propagation. Within a propagation
// stage current is read-only and scratch is the exclusive write target;
// swap flips them once every region has finished.
type fieldPair struct {
	buf    [2]*Field
	active int
}

func newFieldPair(width, height, targetWidth, targetHeight, patchSize int) *fieldPair {
	return &fieldPair{buf: [2]*Field{
		NewField(width, height, targetWidth, targetHeight, patchSize),
		NewField(width, height, targetWidth, targetHeight, patchSize),
	}}
}

func (p *fieldPair) current() *Field { return p.buf[p.active] }
func (p *fieldPair) scratch() *Field { return p.buf[1-p.active] }
func (p *fieldPair) swap()           { p.active = 1 - p.active }
