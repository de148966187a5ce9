// Package rng provides counter-keyed pseudo-random streams for per-position
// sampling.
//
// Every grid position owns an independent stream derived from
// (seed, stage, round, x, y), so stages can run positions in any order and
// on any number of workers while staying bit-reproducible. The generator is
// a 32-bit PCG (RXS-M-XS output) that maps one-to-one onto WGSL u32
// arithmetic; the GPU kernel in internal/gpu implements the same functions
// and must stay in sync with this file.
package rng

// Stage identifies the algorithm stage that owns a stream.
type Stage uint32

const (
	// StageInit keys the streams used for random initialization.
	StageInit Stage = 1

	// StageSearch keys the streams used by random search.
	StageSearch Stage = 2
)

// PCG constants (O'Neill, PCG-RXS-M-XS 32/32).
const (
	multiplier = 747796405
	increment  = 2891336453
	permute    = 277803737
)

// Hash is a stateless PCG hash of v.
func Hash(v uint32) uint32 {
	state := v*multiplier + increment
	word := ((state >> ((state >> 28) + 4)) ^ state) * permute
	return (word >> 22) ^ word
}

// Stream is a small value-type generator. The zero value is valid but every
// caller should obtain streams from New.
type Stream struct {
	state uint32
}

// New returns the stream for position (x, y) of the given stage and round.
func New(seed uint64, stage Stage, round, x, y int) Stream {
	//nolint:gosec // intentional truncation, coordinates and rounds fit 32 bits
	h := Hash(uint32(y))
	h = Hash(h ^ uint32(x))
	h = Hash(h ^ (uint32(stage)<<24 | uint32(round)&0xFFFFFF))
	h = Hash(h ^ uint32(seed>>32))
	h = Hash(h ^ uint32(seed))
	return Stream{state: h}
}

// Uint32 advances the stream and returns the next value.
func (s *Stream) Uint32() uint32 {
	old := s.state
	s.state = old*multiplier + increment
	word := ((old >> ((old >> 28) + 4)) ^ old) * permute
	return (word >> 22) ^ word
}

// Intn returns a value in [0, n). It returns 0 when n <= 0.
// It reduces with a plain modulo, as the GPU kernel does, so the result
// carries a bias of at most n/2^32.
func (s *Stream) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return int(s.Uint32() % uint32(n)) //nolint:gosec // n is a positive image dimension
}

// Range returns a value in the inclusive range [lo, hi].
// It returns lo when hi <= lo.
func (s *Stream) Range(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + s.Intn(hi-lo+1)
}
