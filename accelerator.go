package patchmatch

import (
	"context"
	"errors"
	"sync"
)

// Job is the input handed to an accelerator.
// Params has already been validated against both images.
type Job struct {
	A, B   *Image
	Params Params
}

// Schedule returns the stages the job runs before reconstruction, in order.
func (j Job) Schedule() []Stage {
	stages := make([]Stage, 0, stageCount(j.Params.Iterations, j.Params.Jump))
	for s := nextStage(Stage{}, j.Params.Iterations, j.Params.Jump); s.State != StateReconstructing; s = nextStage(s, j.Params.Iterations, j.Params.Jump) {
		stages = append(stages, s)
	}
	return stages
}

// StartRadius returns the half-width of the first random search window.
func (j Job) StartRadius() int { return j.Params.searchRadius(j.B) }

// GPUAccelerator is an optional compute provider for the field search.
//
// An accelerator runs initialisation, propagation and random search and
// returns the finished field; reconstruction always happens on the CPU.
// Implementations live in backend packages and register themselves from a
// blank import:
//
//	import _ "github.com/gogpu/patchmatch/gpu"
type GPUAccelerator interface {
	// Name returns the accelerator name (e.g., "wgpu").
	Name() string

	// Init initializes GPU resources. Called once during registration.
	Init() error

	// Close releases GPU resources.
	Close()

	// CanCompute reports whether a usable compute device is present and
	// p is within what the accelerator supports. It must be cheap.
	CanCompute(p Params) bool

	// ComputeField runs every search stage for job.
	// Returns ErrFallbackToCPU to decline the job.
	ComputeField(ctx context.Context, job Job) (*Field, error)
}

// DeviceProviderAware is implemented by accelerators that can share a GPU
// device owned by the host instead of creating their own.
type DeviceProviderAware interface {
	SetDeviceProvider(provider any) error
}

var (
	accelMu sync.RWMutex
	accel   GPUAccelerator
)

// RegisterAccelerator registers the compute accelerator.
//
// Only one accelerator can be registered; a later call replaces and closes
// the previous one. Init is called first and a failing accelerator is not
// registered.
func RegisterAccelerator(a GPUAccelerator) error {
	if a == nil {
		return errors.New("patchmatch: accelerator must not be nil")
	}
	if err := a.Init(); err != nil {
		return err
	}
	propagateLogger(a, Logger())

	accelMu.Lock()
	old := accel
	accel = a
	accelMu.Unlock()
	if old != nil && old != a {
		old.Close()
	}
	return nil
}

// Accelerator returns the registered accelerator, or nil if none.
func Accelerator() GPUAccelerator {
	accelMu.RLock()
	a := accel
	accelMu.RUnlock()
	return a
}

// SetAcceleratorDeviceProvider passes a device provider to the registered
// accelerator. It is a no-op when no accelerator is registered or the
// accelerator cannot share devices.
func SetAcceleratorDeviceProvider(provider any) error {
	a := Accelerator()
	if a == nil {
		return nil
	}
	if dpa, ok := a.(DeviceProviderAware); ok {
		return dpa.SetDeviceProvider(provider)
	}
	return nil
}
