//go:build !nogpu

package gpu

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
	"unsafe"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/patchmatch"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// MaxPatchSize is the largest patch the kernels accept. Larger patches
// could overflow the u32 distance sum and are left to the CPU.
const MaxPatchSize = 147

// pollInterval is how often ComputeField checks for GPU completion.
const pollInterval = time.Millisecond

// Accelerator runs the PatchMatch stages as wgpu/hal compute passes.
// It implements patchmatch.GPUAccelerator.
//
// A job records every stage into one command encoder, one compute pass
// per stage, with the field ping-ponging between two storage buffers.
// The passes end with a copy of the final field into a staging buffer
// that is mapped and read back after the submission completes.
type Accelerator struct {
	mu sync.Mutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue

	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipelines  map[patchmatch.State]hal.ComputePipeline

	limits         gputypes.Limits
	adapterName    string
	gpuReady       bool
	externalDevice bool // true when using shared device (don't destroy on Close)
}

var _ patchmatch.GPUAccelerator = (*Accelerator)(nil)

func (a *Accelerator) Name() string { return "wgpu" }

// Init opens a Vulkan device. A machine without one is not an error:
// the accelerator stays registered and reports CanCompute false.
func (a *Accelerator) Init() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.initGPU(); err != nil {
		slogger().Warn("wgpu: GPU init failed, compute unavailable", "err", err)
	}
	return nil
}

func (a *Accelerator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.destroyPipelines()
	if !a.externalDevice {
		if a.device != nil {
			a.device.Destroy()
		}
		if a.instance != nil {
			a.instance.Destroy()
		}
	}
	a.device = nil
	a.instance = nil
	a.queue = nil
	a.gpuReady = false
	a.externalDevice = false
}

// SetLogger receives the logger from patchmatch.SetLogger.
func (a *Accelerator) SetLogger(l *slog.Logger) { setLogger(l) }

// CanCompute reports whether a device is open and p fits the kernels.
func (a *Accelerator) CanCompute(p patchmatch.Params) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gpuReady && p.PatchSize <= MaxPatchSize
}

// SetDeviceProvider switches the accelerator to a GPU device owned by the
// host. The provider must implement HalDevice() any and HalQueue() any
// returning hal.Device and hal.Queue. When it is also a
// gpucontext.DeviceProvider backed by a software adapter it is rejected:
// the kernels would run on the CPU anyway, slower than the CPU target.
func (a *Accelerator) SetDeviceProvider(provider any) error {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return fmt.Errorf("wgpu: provider does not expose HAL types")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return fmt.Errorf("wgpu: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return fmt.Errorf("wgpu: provider HalQueue is not hal.Queue")
	}

	name := "shared"
	if dp, ok := provider.(gpucontext.DeviceProvider); ok {
		info := dp.AdapterInfo()
		if info.Name != "" {
			name = info.Name
		}
		if info.Type == gpucontext.AdapterTypeSoftware {
			return fmt.Errorf("wgpu: shared device %q is a software adapter, use the CPU target", name)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.destroyPipelines()
	if !a.externalDevice && a.device != nil {
		a.device.Destroy()
	}
	if a.instance != nil {
		a.instance.Destroy()
		a.instance = nil
	}

	a.device = device
	a.queue = queue
	a.externalDevice = true
	a.adapterName = name
	a.limits = gputypes.DefaultLimits()

	if err := a.createPipelines(); err != nil {
		a.gpuReady = false
		return fmt.Errorf("wgpu: create pipelines with shared device: %w", err)
	}
	a.gpuReady = true
	slogger().Info("wgpu: switched to shared GPU device", "adapter", name)
	return nil
}

// ComputeField runs every stage of job on the device and reads the field
// back. It returns patchmatch.ErrFallbackToCPU when no device is open or
// the images exceed the device's buffer limits.
func (a *Accelerator) ComputeField(ctx context.Context, job patchmatch.Job) (*patchmatch.Field, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.gpuReady {
		return nil, patchmatch.ErrFallbackToCPU
	}
	if job.Params.PatchSize > MaxPatchSize || !a.fits(job) {
		return nil, patchmatch.ErrFallbackToCPU
	}

	start := time.Now()
	r, err := a.newRun(job)
	if err != nil {
		r.release()
		return nil, err
	}
	defer r.release()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.encodeAndWait(ctx); err != nil {
		return nil, err
	}
	f, err := r.readField()
	if err != nil {
		return nil, err
	}
	slogger().Debug("wgpu: field computed",
		"adapter", a.adapterName,
		"stages", len(r.stages),
		"elapsed", time.Since(start))
	return f, nil
}

// fits reports whether every buffer of job stays within the device limits.
func (a *Accelerator) fits(job patchmatch.Job) bool {
	maxBinding := a.limits.MaxStorageBufferBindingSize
	maxDispatch := uint64(a.limits.MaxComputeWorkgroupsPerDimension)
	aw, ah := uint64(job.A.Width()), uint64(job.A.Height()) //nolint:gosec // image dimensions are positive
	bw, bh := uint64(job.B.Width()), uint64(job.B.Height()) //nolint:gosec // image dimensions are positive
	groupsX, groupsY := (aw+workgroupSize-1)/workgroupSize, (ah+workgroupSize-1)/workgroupSize
	return aw*ah*entrySize <= maxBinding &&
		aw*ah*4 <= maxBinding &&
		bw*bh*4 <= maxBinding &&
		groupsX <= maxDispatch && groupsY <= maxDispatch
}

// run holds the per-job GPU resources.
type run struct {
	a      *Accelerator
	job    patchmatch.Job
	stages []patchmatch.Stage

	imgA, imgB hal.Buffer
	fields     [2]hal.Buffer
	staging    hal.Buffer
	uniforms   []hal.Buffer
	groups     []hal.BindGroup

	fieldSize uint64
	final     int // index of the buffer holding the finished field
}

func (a *Accelerator) newRun(job patchmatch.Job) (*run, error) {
	r := &run{a: a, job: job, stages: job.Schedule()}
	w, h := job.A.Width(), job.A.Height()
	r.fieldSize = uint64(w) * uint64(h) * entrySize //nolint:gosec // dimensions are positive

	var err error
	aBytes := packPixels(job.A)
	bBytes := packPixels(job.B)
	if r.imgA, err = a.createBuffer("pm_image_a", uint64(len(aBytes)),
		gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst); err != nil {
		return r, err
	}
	if r.imgB, err = a.createBuffer("pm_image_b", uint64(len(bBytes)),
		gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst); err != nil {
		return r, err
	}
	for i := range r.fields {
		if r.fields[i], err = a.createBuffer("pm_field", r.fieldSize,
			gputypes.BufferUsageStorage|gputypes.BufferUsageCopySrc); err != nil {
			return r, err
		}
	}
	if r.staging, err = a.createBuffer("pm_staging", r.fieldSize,
		gputypes.BufferUsageMapRead|gputypes.BufferUsageCopyDst); err != nil {
		return r, err
	}

	if err := a.queue.WriteBuffer(r.imgA, 0, aBytes); err != nil {
		return r, fmt.Errorf("upload source image: %w", err)
	}
	if err := a.queue.WriteBuffer(r.imgB, 0, bBytes); err != nil {
		return r, fmt.Errorf("upload target image: %w", err)
	}

	if err := r.createStageBindings(); err != nil {
		return r, err
	}
	return r, nil
}

// createStageBindings creates one uniform buffer and one bind group per
// stage. Stage i reads fields[i%2] and writes fields[(i+1)%2].
func (r *run) createStageBindings() error {
	a := r.a
	radius := r.job.StartRadius()
	r.uniforms = make([]hal.Buffer, 0, len(r.stages))
	r.groups = make([]hal.BindGroup, 0, len(r.stages))

	cur := 0
	for i, s := range r.stages {
		ub, err := a.createBuffer("pm_params", paramsSize,
			gputypes.BufferUsageUniform|gputypes.BufferUsageCopyDst)
		if err != nil {
			return fmt.Errorf("create uniform buffer %d: %w", i, err)
		}
		r.uniforms = append(r.uniforms, ub)
		if err := a.queue.WriteBuffer(ub, 0, stageParams(r.job, s, radius)); err != nil {
			return fmt.Errorf("upload stage %s params: %w", s, err)
		}

		bg, err := a.device.CreateBindGroup(&hal.BindGroupDescriptor{
			Label: "pm_bind", Layout: a.bindLayout,
			Entries: []gputypes.BindGroupEntry{
				{Binding: 0, Resource: gputypes.BufferBinding{Buffer: ub.NativeHandle(), Size: paramsSize}},
				{Binding: 1, Resource: gputypes.BufferBinding{Buffer: r.imgA.NativeHandle()}},
				{Binding: 2, Resource: gputypes.BufferBinding{Buffer: r.imgB.NativeHandle()}},
				{Binding: 3, Resource: gputypes.BufferBinding{Buffer: r.fields[cur].NativeHandle(), Size: r.fieldSize}},
				{Binding: 4, Resource: gputypes.BufferBinding{Buffer: r.fields[1-cur].NativeHandle(), Size: r.fieldSize}},
			},
		})
		if err != nil {
			return fmt.Errorf("create bind group %d: %w", i, err)
		}
		r.groups = append(r.groups, bg)
		cur = 1 - cur
	}
	r.final = cur
	return nil
}

// encodeAndWait records one compute pass per stage, copies the result to
// the staging buffer and waits for the submission to finish.
func (r *run) encodeAndWait(ctx context.Context) error {
	a := r.a
	encoder, err := a.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "pm_encoder"})
	if err != nil {
		return fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("patchmatch"); err != nil {
		return fmt.Errorf("begin encoding: %w", err)
	}

	w, h := uint32(r.job.A.Width()), uint32(r.job.A.Height()) //nolint:gosec // checked by fits
	for i, s := range r.stages {
		pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "pm_" + s.State.String()})
		pass.SetPipeline(a.pipelines[s.State])
		pass.SetBindGroup(0, r.groups[i], nil)
		pass.Dispatch((w+workgroupSize-1)/workgroupSize, (h+workgroupSize-1)/workgroupSize, 1)
		pass.End()
	}

	encoder.CopyBufferToBuffer(r.fields[r.final], r.staging, []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: r.fieldSize},
	})
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("end encoding: %w", err)
	}
	defer a.device.FreeCommandBuffer(cmdBuf)

	idx, err := a.queue.Submit([]hal.CommandBuffer{cmdBuf})
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	return a.waitSubmission(ctx, idx)
}

// waitSubmission polls until submission idx has completed. On
// cancellation it still drains the queue so the job's buffers can be freed.
func (a *Accelerator) waitSubmission(ctx context.Context, idx uint64) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for a.queue.PollCompleted() < idx {
		select {
		case <-ctx.Done():
			if err := a.device.WaitIdle(); err != nil {
				slogger().Warn("wgpu: wait idle after cancel", "err", err)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// readField maps the staging buffer and decodes it into a field.
func (r *run) readField() (*patchmatch.Field, error) {
	a := r.a
	m, err := a.device.MapBuffer(r.staging, 0, r.fieldSize)
	if err != nil {
		return nil, fmt.Errorf("map staging buffer: %w", err)
	}
	data, copyErr := copyMapping(m, r.fieldSize)
	if err := a.device.UnmapBuffer(r.staging); err != nil {
		return nil, fmt.Errorf("unmap staging buffer: %w", err)
	}
	if copyErr != nil {
		slogger().Warn("wgpu: staging memory is not host coherent, using the CPU", "adapter", a.adapterName)
		return nil, copyErr
	}
	return decodeField(r.job, data)
}

// errNonCoherent reports a mapping whose contents may predate the GPU's
// writes. hal exposes no invalidate call, so such a readback is declined.
var errNonCoherent = fmt.Errorf("wgpu: non-coherent staging memory: %w", patchmatch.ErrFallbackToCPU)

// copyMapping copies size bytes out of a mapped range.
func copyMapping(m hal.BufferMapping, size uint64) ([]byte, error) {
	if !m.IsCoherent {
		return nil, errNonCoherent
	}
	data := make([]byte, size)
	copy(data, unsafe.Slice((*byte)(m.Ptr), size)) //nolint:gosec // mapping covers size bytes
	return data, nil
}

func (r *run) release() {
	if r == nil {
		return
	}
	d := r.a.device
	for _, bg := range r.groups {
		if bg != nil {
			d.DestroyBindGroup(bg)
		}
	}
	for _, ub := range r.uniforms {
		if ub != nil {
			d.DestroyBuffer(ub)
		}
	}
	for _, b := range []hal.Buffer{r.imgA, r.imgB, r.fields[0], r.fields[1], r.staging} {
		if b != nil {
			d.DestroyBuffer(b)
		}
	}
}

func (a *Accelerator) createBuffer(label string, size uint64, usage gputypes.BufferUsage) (hal.Buffer, error) {
	buf, err := a.device.CreateBuffer(&hal.BufferDescriptor{Label: label, Size: size, Usage: usage})
	if err != nil {
		return nil, fmt.Errorf("create %s buffer: %w", label, err)
	}
	return buf, nil
}

func (a *Accelerator) initGPU() error {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return fmt.Errorf("vulkan backend not available")
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return fmt.Errorf("create instance: %w", err)
	}
	a.instance = instance
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		return fmt.Errorf("no GPU adapters found")
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	a.limits = gputypes.DefaultLimits()
	openDev, err := selected.Adapter.Open(gputypes.Features(0), a.limits)
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	a.device = openDev.Device
	a.queue = openDev.Queue
	if err := a.createPipelines(); err != nil {
		a.device.Destroy()
		a.device = nil
		a.queue = nil
		return fmt.Errorf("create pipelines: %w", err)
	}
	a.adapterName = selected.Info.Name
	a.gpuReady = true
	slogger().Info("wgpu: compute accelerator initialized", "adapter", selected.Info.Name)
	return nil
}

func (a *Accelerator) createPipelines() error {
	if err := validateShader(); err != nil {
		return err
	}
	shader, err := a.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "patchmatch",
		Source: hal.ShaderSource{WGSL: patchMatchShaderSource},
	})
	if err != nil {
		return fmt.Errorf("compile patchmatch shader: %w", err)
	}
	a.shader = shader

	storage := func(binding uint32, t gputypes.BufferBindingType) gputypes.BindGroupLayoutEntry {
		return gputypes.BindGroupLayoutEntry{
			Binding: binding, Visibility: gputypes.ShaderStageCompute,
			Buffer: &gputypes.BufferBindingLayout{Type: t},
		}
	}
	bindLayout, err := a.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "pm_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			storage(0, gputypes.BufferBindingTypeUniform),
			storage(1, gputypes.BufferBindingTypeReadOnlyStorage),
			storage(2, gputypes.BufferBindingTypeReadOnlyStorage),
			storage(3, gputypes.BufferBindingTypeReadOnlyStorage),
			storage(4, gputypes.BufferBindingTypeStorage),
		},
	})
	if err != nil {
		return fmt.Errorf("create bind group layout: %w", err)
	}
	a.bindLayout = bindLayout

	pipeLayout, err := a.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: "pm_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{a.bindLayout},
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}
	a.pipeLayout = pipeLayout

	a.pipelines = make(map[patchmatch.State]hal.ComputePipeline, 3)
	for state, entry := range map[patchmatch.State]string{
		patchmatch.StateInitialized: entryInit,
		patchmatch.StatePropagating: entryPropagate,
		patchmatch.StateSearching:   entrySearch,
	} {
		p, err := a.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
			Label: "pm_" + entry, Layout: a.pipeLayout,
			Compute: hal.ComputeState{Module: a.shader, EntryPoint: entry},
		})
		if err != nil {
			return fmt.Errorf("create %s pipeline: %w", entry, err)
		}
		a.pipelines[state] = p
	}
	return nil
}

func (a *Accelerator) destroyPipelines() {
	if a.device == nil {
		return
	}
	for _, p := range a.pipelines {
		a.device.DestroyComputePipeline(p)
	}
	a.pipelines = nil
	if a.pipeLayout != nil {
		a.device.DestroyPipelineLayout(a.pipeLayout)
		a.pipeLayout = nil
	}
	if a.bindLayout != nil {
		a.device.DestroyBindGroupLayout(a.bindLayout)
		a.bindLayout = nil
	}
	if a.shader != nil {
		a.device.DestroyShaderModule(a.shader)
		a.shader = nil
	}
}

// validateShader compiles the kernels with naga so WGSL errors surface
// with naga's diagnostics instead of a driver failure.
func validateShader() error {
	if _, err := naga.Compile(patchMatchShaderSource); err != nil {
		return fmt.Errorf("validate patchmatch shader: %w", err)
	}
	return nil
}

// stageParams encodes the Params uniform for stage s.
//
//nolint:gosec // dimensions, radii and rounds are small positive ints
func stageParams(job patchmatch.Job, s patchmatch.Stage, radius int) []byte {
	p := job.Params
	vals := [paramsSize / 4]uint32{
		uint32(job.A.Width()), uint32(job.A.Height()),
		uint32(job.B.Width()), uint32(job.B.Height()),
		uint32(p.PatchSize / 2),
		uint32(s.Jump),
		uint32(s.Round),
		uint32(radius),
		uint32(p.Seed >> 32), uint32(p.Seed),
	}
	buf := make([]byte, paramsSize)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	return buf
}

// packPixels packs RGBA bytes into little-endian u32 words, R in the low byte.
func packPixels(im *patchmatch.Image) []byte {
	pix := im.Pix()
	out := make([]byte, len(pix))
	for i := 0; i+3 < len(pix); i += 4 {
		v := uint32(pix[i]) | uint32(pix[i+1])<<8 | uint32(pix[i+2])<<16 | uint32(pix[i+3])<<24
		binary.LittleEndian.PutUint32(out[i:], v)
	}
	return out
}

var errShortReadback = errors.New("wgpu: short field readback")

// decodeField converts Entry records into a patchmatch.Field.
func decodeField(job patchmatch.Job, data []byte) (*patchmatch.Field, error) {
	w, h := job.A.Width(), job.A.Height()
	if len(data) < w*h*entrySize {
		return nil, errShortReadback
	}
	f := patchmatch.NewField(w, h, job.B.Width(), job.B.Height(), job.Params.PatchSize)
	off := 0
	for y := range h {
		for x := range w {
			m := patchmatch.Match{
				X: int32(binary.LittleEndian.Uint32(data[off:])),   //nolint:gosec // bounded by target width
				Y: int32(binary.LittleEndian.Uint32(data[off+4:])), //nolint:gosec // bounded by target height
			}
			d := math.Float32frombits(binary.LittleEndian.Uint32(data[off+8:]))
			f.Set(x, y, m, d)
			off += entrySize
		}
	}
	return f, nil
}
