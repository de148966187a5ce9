// Package patchmatch computes approximate nearest-neighbour fields between
// two images with the PatchMatch algorithm.
//
// # Overview
//
// For every pixel of a source image A, PatchMatch finds a pixel of a target
// image B whose surrounding patch looks alike. The result is a Field of
// matches plus two derived images: A rebuilt from B's pixels, and a flow
// visualisation of the match offsets.
//
// # Quick Start
//
//	a, _ := patchmatch.FromImage(srcImg)
//	b, _ := patchmatch.FromImage(dstImg)
//
//	res, err := patchmatch.Compute(ctx, a, b,
//	    patchmatch.WithPatchSize(7),
//	    patchmatch.WithIterations(5),
//	)
//	if err != nil {
//	    return err
//	}
//	png.Encode(w, res.Reconstructed)
//
// # Algorithm
//
// A run initialises every position with a random match, then repeats a
// round of propagation and random search:
//
//   - Propagation lets each position adopt a neighbour's match shifted by the
//     neighbour displacement. Each round propagates at distance Jump, Jump/2,
//     ..., 1.
//   - Random search samples windows of shrinking radius around the current
//     match.
//
// A candidate replaces the current match only when its patch distance is
// strictly lower. Patches clipped by an image edge compare only the pixels
// present in both images and are normalised by their count.
//
// # Determinism
//
// Every position draws from its own random stream keyed by the seed, the
// stage, the round and its coordinates, and propagation reads a snapshot of
// the field. The result for a fixed seed is identical for any worker count.
//
// # Execution Targets
//
// Stages run on a work-stealing CPU worker pool. Importing the gpu package
// registers a wgpu compute accelerator:
//
//	import _ "github.com/gogpu/patchmatch/gpu"
//
// TargetAuto uses it when available; TargetGPU fails with
// ErrUnsupportedExecutionTarget when no compute device is usable.
//
// # Logging
//
// The package is silent by default. See SetLogger.
package patchmatch
