// Package parallel dispatches per-position stage work over a worker pool.
//
// A stage (initialisation, one propagation sub-step, one random-search round)
// touches every position of the source image exactly once. The positions are
// split into fixed-size regions; each region becomes one work item and
// ExecuteAll provides the barrier that separates stages.
package parallel

// RegionSize is the edge length of a region in positions.
const RegionSize = 64

// Region is a half-open rectangle of positions [X0, X1) x [Y0, Y1).
type Region struct {
	X0, Y0 int
	X1, Y1 int
}

// Width returns the number of columns in the region.
func (r Region) Width() int { return r.X1 - r.X0 }

// Height returns the number of rows in the region.
func (r Region) Height() int { return r.Y1 - r.Y0 }

// Len returns the number of positions in the region.
func (r Region) Len() int { return r.Width() * r.Height() }

// Grid partitions a width x height position space into regions.
// Edge regions are smaller when the dimensions are not multiples of
// RegionSize.
type Grid struct {
	width, height int
	regions       []Region
}

// NewGrid splits a width x height space into RegionSize x RegionSize
// regions in row-major order. Non-positive dimensions produce an empty grid.
func NewGrid(width, height int) *Grid {
	g := &Grid{width: max(width, 0), height: max(height, 0)}
	if g.width == 0 || g.height == 0 {
		return g
	}

	cols := (g.width + RegionSize - 1) / RegionSize
	rows := (g.height + RegionSize - 1) / RegionSize
	g.regions = make([]Region, 0, cols*rows)

	for ry := range rows {
		y0 := ry * RegionSize
		y1 := min(y0+RegionSize, g.height)
		for rx := range cols {
			x0 := rx * RegionSize
			x1 := min(x0+RegionSize, g.width)
			g.regions = append(g.regions, Region{X0: x0, Y0: y0, X1: x1, Y1: y1})
		}
	}
	return g
}

// Width returns the width of the position space.
func (g *Grid) Width() int { return g.width }

// Height returns the height of the position space.
func (g *Grid) Height() int { return g.height }

// Regions returns the regions in row-major order.
// The returned slice must not be modified.
func (g *Grid) Regions() []Region { return g.regions }

// ForEach calls fn once per region and returns after every call has
// completed.
//
// With a nil pool or a single-worker pool the regions run in order on the
// calling goroutine. Otherwise each region is one work item on the pool.
// fn must only write state owned by positions inside its region.
func ForEach(pool *WorkerPool, g *Grid, fn func(Region)) {
	regions := g.Regions()
	if len(regions) == 0 {
		return
	}

	if pool == nil || pool.Workers() <= 1 || len(regions) == 1 {
		for _, r := range regions {
			fn(r)
		}
		return
	}

	work := make([]func(), len(regions))
	for i, r := range regions {
		work[i] = func() { fn(r) }
	}
	pool.ExecuteAll(work)
}
