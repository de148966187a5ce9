//go:build !nogpu

// Package gpu runs the PatchMatch stages on a GPU through wgpu/hal.
//
// This is an internal package; applications enable it with a blank import
// of github.com/gogpu/patchmatch/gpu. The Accelerator opens a Vulkan device
// through the Pure Go gogpu/wgpu HAL (zero CGO) and compiles the WGSL
// kernels in shaders/patchmatch.wgsl.
//
// # Kernels
//
//   - init_field: random initialization, one invocation per source position
//   - propagate_field: one propagation sub-step at the uniform's jump
//   - search_field: one random search round around the round-start match
//
// Each stage is its own compute pass, so the pass boundary is the barrier
// between stages. Stages read one field buffer and write the other.
//
// # Determinism
//
// The kernels implement the same counter-keyed PCG streams as
// internal/rng and compute patch distances with integer sums and an
// exactly rounded division, so a GPU run returns the field a CPU run with
// the same parameters returns. Patches larger than MaxPatchSize are
// declined.
//
// # Build Tags
//
// Build with -tags nogpu to leave the package out.
package gpu
