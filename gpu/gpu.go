//go:build !nogpu

// Package gpu registers the wgpu compute accelerator.
//
// Import this package to let Compute run initialization, propagation and
// random search as GPU compute passes:
//
//	import _ "github.com/gogpu/patchmatch/gpu"
//
// If GPU initialization fails (no Vulkan device available), the accelerator
// stays registered but reports that it cannot compute: TargetAuto runs on
// the CPU and TargetGPU fails with ErrUnsupportedExecutionTarget.
package gpu

import (
	"github.com/gogpu/patchmatch"
	gpuimpl "github.com/gogpu/patchmatch/internal/gpu"
)

func init() {
	if err := patchmatch.RegisterAccelerator(&gpuimpl.Accelerator{}); err != nil {
		patchmatch.Logger().Warn("GPU accelerator not available", "err", err)
	}
}

// SetDeviceProvider configures the GPU accelerator to use a shared GPU device
// from an external provider (e.g., gogpu). This avoids creating a separate
// GPU instance.
//
// The provider should be a gpucontext.DeviceProvider that also exposes
// HalDevice() and HalQueue() for direct HAL access.
func SetDeviceProvider(provider any) error {
	return patchmatch.SetAcceleratorDeviceProvider(provider)
}
