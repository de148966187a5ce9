package patchmatch

import (
	"fmt"
	"math/bits"
	"strings"
)

// Target selects where the field search runs.
type Target uint8

const (
	// TargetAuto uses the registered accelerator when it can run the job
	// and the CPU otherwise.
	TargetAuto Target = iota
	// TargetCPU always runs on the CPU worker pool.
	TargetCPU
	// TargetGPU requires a compute accelerator and fails with
	// ErrUnsupportedExecutionTarget when none is usable.
	TargetGPU
)

var targetNames = [...]string{TargetAuto: "auto", TargetCPU: "cpu", TargetGPU: "gpu"}

func (t Target) String() string {
	if int(t) < len(targetNames) {
		return targetNames[t]
	}
	return fmt.Sprintf("Target(%d)", uint8(t))
}

// ParseTarget maps "auto", "cpu" or "gpu" (any case) to a Target.
func ParseTarget(s string) (Target, error) {
	for i, name := range targetNames {
		if strings.EqualFold(s, name) {
			return Target(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown target %q", ErrInvalidParameter, s)
}

// FlowEncoding selects how match offsets are rendered by Flow.
type FlowEncoding uint8

const (
	// FlowHue maps the offset angle to hue and its length to lightness.
	FlowHue FlowEncoding = iota
	// FlowBiaxial stores the x offset in red and the y offset in green,
	// both scaled from [-size, size] of the target image to [0, 255].
	FlowBiaxial
)

var flowNames = [...]string{FlowHue: "hue", FlowBiaxial: "biaxial"}

func (e FlowEncoding) String() string {
	if int(e) < len(flowNames) {
		return flowNames[e]
	}
	return fmt.Sprintf("FlowEncoding(%d)", uint8(e))
}

// ParseFlowEncoding maps "hue" or "biaxial" (any case) to a FlowEncoding.
func ParseFlowEncoding(s string) (FlowEncoding, error) {
	for i, name := range flowNames {
		if strings.EqualFold(s, name) {
			return FlowEncoding(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown flow encoding %q", ErrInvalidParameter, s)
}

// Params holds the algorithm configuration.
type Params struct {
	// PatchSize is the patch edge length. Odd, at least 1.
	PatchSize int

	// Iterations is the number of propagation + random search rounds.
	Iterations int

	// SearchRadius is the starting half-width of the random search window.
	// 0 means unbounded: the larger dimension of the target image.
	SearchRadius int

	// Jump is the first propagation distance of each round. Every round
	// propagates at Jump, Jump/2, ..., 1. Must be a power of two.
	Jump int

	// Seed makes runs reproducible.
	Seed uint64

	// Workers is the CPU worker count. 0 means GOMAXPROCS; 1 runs every
	// stage in line on the calling goroutine.
	Workers int

	// Target selects the execution target.
	Target Target

	// FlowEncoding selects the flow visualisation.
	FlowEncoding FlowEncoding
}

// DefaultParams returns the defaults: 3x3 patches, 5 rounds, unbounded
// search radius, jump 8, seed 0, all CPUs, automatic target, hue flow.
func DefaultParams() Params {
	return Params{
		PatchSize:  3,
		Iterations: 5,
		Jump:       8,
	}
}

// Validate checks the parameters that do not depend on the images.
func (p Params) Validate() error {
	switch {
	case p.PatchSize < 1 || p.PatchSize%2 == 0:
		return fmt.Errorf("%w: patch size %d must be odd and positive", ErrInvalidParameter, p.PatchSize)
	case p.Iterations < 0:
		return fmt.Errorf("%w: iterations %d must not be negative", ErrInvalidParameter, p.Iterations)
	case p.SearchRadius < 0:
		return fmt.Errorf("%w: search radius %d must not be negative", ErrInvalidParameter, p.SearchRadius)
	case p.Jump < 1 || bits.OnesCount(uint(p.Jump)) != 1:
		return fmt.Errorf("%w: jump %d must be a positive power of two", ErrInvalidParameter, p.Jump)
	case p.Workers < 0:
		return fmt.Errorf("%w: workers %d must not be negative", ErrInvalidParameter, p.Workers)
	case int(p.Target) >= len(targetNames):
		return fmt.Errorf("%w: %s", ErrInvalidParameter, p.Target)
	case int(p.FlowEncoding) >= len(flowNames):
		return fmt.Errorf("%w: %s", ErrInvalidParameter, p.FlowEncoding)
	}
	return nil
}

// validateFor runs Validate and checks the patch fits both images.
func (p Params) validateFor(a, b *Image) error {
	if err := p.Validate(); err != nil {
		return err
	}
	for _, im := range [...]*Image{a, b} {
		if p.PatchSize > im.width || p.PatchSize > im.height {
			return fmt.Errorf("%w: patch size %d exceeds %dx%d image",
				ErrInvalidParameter, p.PatchSize, im.width, im.height)
		}
	}
	return nil
}

// searchRadius returns the effective starting radius for a target image.
func (p Params) searchRadius(b *Image) int {
	limit := max(b.width, b.height)
	if p.SearchRadius == 0 || p.SearchRadius > limit {
		return limit
	}
	return p.SearchRadius
}

// AutoJump returns the largest power of two not exceeding max(w, h)/2,
// and at least 1. Passing it to WithJump lets the first propagation pass of
// every round reach across the whole image.
func AutoJump(w, h int) int {
	m := max(w, h) / 2
	if m < 1 {
		return 1
	}
	return 1 << (bits.Len(uint(m)) - 1)
}
