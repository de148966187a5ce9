//go:build !nogpu

package gpu

import (
	_ "embed"
)

// patchMatchShaderSource holds the init, propagate and search kernels.
//
//go:embed shaders/patchmatch.wgsl
var patchMatchShaderSource string

// Kernel entry points in patchMatchShaderSource.
const (
	entryInit      = "init_field"
	entryPropagate = "propagate_field"
	entrySearch    = "search_field"
)

// Layout of the shader's Params uniform and Entry storage element.
const (
	paramsSize = 48
	entrySize  = 16
)

// workgroupSize is the edge of the 2D workgroup declared by every kernel.
const workgroupSize = 8
