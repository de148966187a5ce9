//go:build !nogpu

package gpu

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"
	"unsafe"

	"github.com/gogpu/naga"
	"github.com/gogpu/patchmatch"
	"github.com/gogpu/wgpu/hal"
)

// TestPatchMatchShaderCompilation tests that the WGSL kernels compile to SPIR-V.
func TestPatchMatchShaderCompilation(t *testing.T) {
	if patchMatchShaderSource == "" {
		t.Fatal("patchmatch shader source is empty")
	}
	for _, entry := range []string{entryInit, entryPropagate, entrySearch} {
		if !strings.Contains(patchMatchShaderSource, "fn "+entry+"(") {
			t.Errorf("shader has no entry point %q", entry)
		}
	}

	spirv, err := naga.Compile(patchMatchShaderSource)
	if err != nil {
		if strings.Contains(err.Error(), "not yet implemented") || strings.Contains(err.Error(), "not supported") {
			t.Skipf("Skipping: naga feature not yet implemented: %v", err)
		}
		t.Fatalf("failed to compile patchmatch shader: %v", err)
	}
	if len(spirv) < 4 {
		t.Fatal("SPIR-V too short")
	}
	if magic := binary.LittleEndian.Uint32(spirv); magic != 0x07230203 {
		t.Errorf("invalid SPIR-V magic: 0x%08X, want 0x07230203", magic)
	}
	t.Logf("patchmatch shader compiled to %d bytes of SPIR-V", len(spirv))
}

func testImage(t *testing.T, w, h int, seed uint8) *patchmatch.Image {
	t.Helper()
	pix := make([]uint8, w*h*4)
	for i := range pix {
		pix[i] = uint8(i*31) ^ seed
	}
	im, err := patchmatch.NewImage(w, h, pix)
	if err != nil {
		t.Fatal(err)
	}
	return im
}

func TestStageParams(t *testing.T) {
	job := patchmatch.Job{
		A:      testImage(t, 10, 6, 1),
		B:      testImage(t, 7, 9, 2),
		Params: patchmatch.Params{PatchSize: 5, Iterations: 2, Jump: 4, Seed: 0x0000000A_0000000B},
	}
	buf := stageParams(job, patchmatch.Stage{State: patchmatch.StatePropagating, Round: 1, Jump: 2}, 9)
	if len(buf) != paramsSize {
		t.Fatalf("len = %d, want %d", len(buf), paramsSize)
	}

	want := []uint32{10, 6, 7, 9, 2, 2, 1, 9, 0xA, 0xB, 0, 0}
	for i, w := range want {
		if got := binary.LittleEndian.Uint32(buf[i*4:]); got != w {
			t.Errorf("word %d = %d, want %d", i, got, w)
		}
	}
}

func TestPackPixels(t *testing.T) {
	im, err := patchmatch.NewImage(2, 1, []uint8{1, 2, 3, 4, 250, 251, 252, 253})
	if err != nil {
		t.Fatal(err)
	}
	out := packPixels(im)
	if got := binary.LittleEndian.Uint32(out); got != 0x04030201 {
		t.Errorf("pixel 0 = 0x%08X, want 0x04030201", got)
	}
	if got := binary.LittleEndian.Uint32(out[4:]); got != 0xFDFCFBFA {
		t.Errorf("pixel 1 = 0x%08X, want 0xFDFCFBFA", got)
	}
}

func TestDecodeField(t *testing.T) {
	job := patchmatch.Job{
		A:      testImage(t, 2, 1, 0),
		B:      testImage(t, 3, 3, 0),
		Params: patchmatch.Params{PatchSize: 3},
	}
	data := make([]byte, 2*entrySize)
	binary.LittleEndian.PutUint32(data[0:], 2)
	binary.LittleEndian.PutUint32(data[4:], 1)
	binary.LittleEndian.PutUint32(data[8:], math.Float32bits(12.5))
	binary.LittleEndian.PutUint32(data[16:], 0)
	binary.LittleEndian.PutUint32(data[20:], 2)
	binary.LittleEndian.PutUint32(data[24:], math.Float32bits(0))

	f, err := decodeField(job, data)
	if err != nil {
		t.Fatalf("decodeField() error = %v", err)
	}
	if m, d := f.At(0, 0); m != (patchmatch.Match{X: 2, Y: 1}) || d != 12.5 {
		t.Errorf("At(0, 0) = %v, %v, want {2 1}, 12.5", m, d)
	}
	if m, d := f.At(1, 0); m != (patchmatch.Match{X: 0, Y: 2}) || d != 0 {
		t.Errorf("At(1, 0) = %v, %v, want {0 2}, 0", m, d)
	}
	if tw, th := f.TargetSize(); tw != 3 || th != 3 {
		t.Errorf("TargetSize() = %dx%d, want 3x3", tw, th)
	}

	if _, err := decodeField(job, data[:entrySize]); !errors.Is(err, errShortReadback) {
		t.Errorf("decodeField(short) error = %v, want errShortReadback", err)
	}
}

func TestAcceleratorWithoutDevice(t *testing.T) {
	a := &Accelerator{}
	if a.Name() != "wgpu" {
		t.Errorf("Name() = %q, want wgpu", a.Name())
	}
	if a.CanCompute(patchmatch.DefaultParams()) {
		t.Error("CanCompute() = true before Init")
	}
	job := patchmatch.Job{A: testImage(t, 4, 4, 0), B: testImage(t, 4, 4, 1), Params: patchmatch.DefaultParams()}
	if _, err := a.ComputeField(context.Background(), job); !errors.Is(err, patchmatch.ErrFallbackToCPU) {
		t.Errorf("ComputeField() error = %v, want ErrFallbackToCPU", err)
	}
	a.Close()
	a.Close()
}

func TestSetDeviceProviderRejectsNonHAL(t *testing.T) {
	a := &Accelerator{}
	if err := a.SetDeviceProvider(struct{}{}); err == nil {
		t.Error("SetDeviceProvider accepted a provider without HAL access")
	}
}

// The device must produce exactly the field the CPU produces.
func TestAcceleratorMatchesCPU(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping GPU test in short mode")
	}
	a := &Accelerator{}
	if err := a.Init(); err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	p := patchmatch.DefaultParams()
	p.Seed = 11
	p.Iterations = 2
	if !a.CanCompute(p) {
		t.Skip("no GPU compute device available")
	}

	img := testImage(t, 37, 21, 3)
	target := testImage(t, 29, 33, 5)
	job := patchmatch.Job{A: img, B: target, Params: p}
	got, err := a.ComputeField(context.Background(), job)
	if err != nil {
		t.Fatalf("ComputeField() error = %v", err)
	}

	want, err := patchmatch.Compute(context.Background(), img, target,
		patchmatch.WithParams(p), patchmatch.WithTarget(patchmatch.TargetCPU))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(want.Field) {
		t.Error("GPU field differs from the CPU field")
	}
}

func TestCopyMapping(t *testing.T) {
	src := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	got, err := copyMapping(hal.BufferMapping{Ptr: unsafe.Pointer(&src[0]), IsCoherent: true}, 8)
	if err != nil {
		t.Fatalf("copyMapping(coherent) error = %v", err)
	}
	if string(got) != string(src) {
		t.Errorf("copyMapping(coherent) = %v, want %v", got, src)
	}
	src[0] = 99
	if got[0] != 1 {
		t.Error("copyMapping returned a view of the mapping, want a copy")
	}

	// Without an invalidate call the mapping may hold stale data.
	_, err = copyMapping(hal.BufferMapping{Ptr: unsafe.Pointer(&src[0])}, 8)
	if !errors.Is(err, patchmatch.ErrFallbackToCPU) {
		t.Errorf("copyMapping(non-coherent) error = %v, want ErrFallbackToCPU", err)
	}
}
