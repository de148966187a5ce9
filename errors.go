package patchmatch

import (
	"errors"

	"github.com/gogpu/patchmatch/internal/fieldio"
)

var (
	// ErrInvalidParameter is returned when a parameter is out of range:
	// an even or non-positive patch size, a negative iteration count or
	// search radius, a jump that is not a positive power of two, a patch
	// larger than either image, or an unknown target or flow encoding.
	ErrInvalidParameter = errors.New("patchmatch: invalid parameter")

	// ErrEmptyImage is returned for a nil image or one with no pixels.
	ErrEmptyImage = errors.New("patchmatch: empty image")

	// ErrUnsupportedExecutionTarget is returned when TargetGPU is requested
	// and no usable compute accelerator is available. Use TargetCPU or
	// TargetAuto instead.
	ErrUnsupportedExecutionTarget = errors.New("patchmatch: unsupported execution target")

	// ErrFallbackToCPU is returned by an accelerator that declines a job.
	// Compute handles it and never returns it to the caller.
	ErrFallbackToCPU = errors.New("patchmatch: falling back to CPU")

	// ErrInvalidFieldData is returned by ReadField for malformed input.
	ErrInvalidFieldData = fieldio.ErrInvalidData
)
