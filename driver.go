package patchmatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/gogpu/patchmatch/internal/parallel"
)

// State is a phase of the iteration driver.
type State uint8

// Driver states, in execution order. Propagating and searching repeat once
// per round.
const (
	StateUninitialized State = iota
	StateInitialized
	StatePropagating
	StateSearching
	StateReconstructing
	StateDone
)

var stateNames = [...]string{
	StateUninitialized:  "uninitialized",
	StateInitialized:    "initialized",
	StatePropagating:    "propagating",
	StateSearching:      "searching",
	StateReconstructing: "reconstructing",
	StateDone:           "done",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Stage identifies one step of a run. Round is meaningful while propagating
// and searching; Jump only while propagating.
type Stage struct {
	State State
	Round int
	Jump  int
}

func (s Stage) String() string {
	switch s.State {
	case StatePropagating:
		return fmt.Sprintf("%s(round=%d, jump=%d)", s.State, s.Round, s.Jump)
	case StateSearching:
		return fmt.Sprintf("%s(round=%d)", s.State, s.Round)
	default:
		return s.State.String()
	}
}

// nextStage returns the stage that follows s for a run of iterations rounds
// whose propagation starts at jump.
//
//	uninitialized -> initialized
//	initialized   -> propagating(0, jump), or reconstructing without rounds
//	propagating   -> propagating(round, jump/2) until jump 1, then searching(round)
//	searching     -> propagating(round+1, jump), or reconstructing after the last round
//	reconstructing -> done
func nextStage(s Stage, iterations, jump int) Stage {
	switch s.State {
	case StateUninitialized:
		return Stage{State: StateInitialized}
	case StateInitialized:
		if iterations == 0 {
			return Stage{State: StateReconstructing}
		}
		return Stage{State: StatePropagating, Round: 0, Jump: jump}
	case StatePropagating:
		if s.Jump > 1 {
			return Stage{State: StatePropagating, Round: s.Round, Jump: s.Jump / 2}
		}
		return Stage{State: StateSearching, Round: s.Round}
	case StateSearching:
		if s.Round+1 < iterations {
			return Stage{State: StatePropagating, Round: s.Round + 1, Jump: jump}
		}
		return Stage{State: StateReconstructing}
	default:
		return Stage{State: StateDone}
	}
}

// lastSearchStage returns the final stage before reconstruction.
func lastSearchStage(iterations int) Stage {
	if iterations == 0 {
		return Stage{State: StateInitialized}
	}
	return Stage{State: StateSearching, Round: iterations - 1}
}

// Stats describes a finished run.
type Stats struct {
	// Target is where the field search ran: TargetCPU or TargetGPU.
	Target Target
	// Accelerator is the accelerator name when Target is TargetGPU.
	Accelerator string
	// Workers is the number of CPU workers used (1 on an accelerator).
	Workers int
	// Stages is the number of stages executed before reconstruction.
	Stages int
	// InitialMean is the mean finite distance after initialisation.
	// It is NaN on an accelerator.
	InitialMean float64
	// RoundMeans holds the mean finite distance after each round's random
	// search. On an accelerator only the last entry is filled; the others
	// are NaN.
	RoundMeans []float64
	// Elapsed is the wall time of the whole Compute call.
	Elapsed time.Duration
}

// Result is the output of Compute.
type Result struct {
	Field         *Field
	Reconstructed *Image
	Flow          *Image
	Stats         Stats
}

// Compute builds the nearest-neighbour field from a to b and reconstructs a
// from b's pixels.
//
// The run is deterministic for a fixed seed: the field does not depend on
// the worker count. a and b may differ in size. ctx is checked between
// stages; a cancelled run returns the context error and no result.
func Compute(ctx context.Context, a, b *Image, opts ...Option) (*Result, error) {
	start := time.Now()

	cfg := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	if a.empty() {
		return nil, fmt.Errorf("%w: source image", ErrEmptyImage)
	}
	if b.empty() {
		return nil, fmt.Errorf("%w: target image", ErrEmptyImage)
	}
	p := cfg.params
	if err := p.validateFor(a, b); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("patchmatch: canceled before %s: %w", StateInitialized, err)
	}

	accel, err := selectAccelerator(p)
	if err != nil {
		return nil, err
	}

	log := Logger()
	res := &Result{}

	if accel != nil {
		f, err := runAccelerator(ctx, accel, a, b, p)
		switch {
		case err == nil:
			res.Field = f
			res.Stats = Stats{
				Target:      TargetGPU,
				Accelerator: accel.Name(),
				Workers:     1,
				InitialMean: math.NaN(),
				RoundMeans:  acceleratorRoundMeans(f, p.Iterations),
				Stages:      stageCount(p.Iterations, p.Jump),
			}
			if cfg.hook != nil {
				cfg.hook(lastSearchStage(p.Iterations), f)
			}
		case ctx.Err() != nil || p.Target == TargetGPU:
			return nil, err
		default:
			log.Warn("patchmatch: accelerator failed, falling back to CPU",
				"accelerator", accel.Name(), "err", err)
		}
	}

	if res.Field == nil {
		d := newDriver(a, b, p, cfg.hook)
		defer d.close()
		if err := d.run(ctx); err != nil {
			return nil, err
		}
		res.Field = d.pair.current()
		res.Stats = d.stats
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("patchmatch: canceled before %s: %w", StateReconstructing, err)
	}
	if res.Reconstructed, err = Reconstruct(res.Field, b); err != nil {
		return nil, err
	}
	if res.Flow, err = Flow(res.Field, p.FlowEncoding); err != nil {
		return nil, err
	}
	if cfg.hook != nil {
		cfg.hook(Stage{State: StateDone}, res.Field)
	}

	res.Stats.Elapsed = time.Since(start)
	log.Debug("patchmatch: done",
		"target", res.Stats.Target,
		"mean", res.Field.MeanDistance(),
		"elapsed", res.Stats.Elapsed)
	return res, nil
}

// selectAccelerator resolves p.Target to an accelerator, or nil for the CPU.
func selectAccelerator(p Params) (GPUAccelerator, error) {
	log := Logger()
	if p.Target == TargetCPU {
		return nil, nil
	}

	a := Accelerator()
	usable := a != nil && a.CanCompute(p)

	switch {
	case usable:
		log.Info("patchmatch: using accelerator", "name", a.Name())
		return a, nil
	case p.Target == TargetGPU:
		return nil, fmt.Errorf("%w: no usable compute accelerator, use the CPU target", ErrUnsupportedExecutionTarget)
	case a != nil:
		log.Warn("patchmatch: accelerator cannot run this job, using CPU", "name", a.Name())
	}
	return nil, nil
}

// runAccelerator runs the search stages on a and checks the returned field.
func runAccelerator(ctx context.Context, a GPUAccelerator, img, target *Image, p Params) (*Field, error) {
	f, err := a.ComputeField(ctx, Job{A: img, B: target, Params: p})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("patchmatch: canceled on %s: %w", a.Name(), ctxErr)
		}
		if errors.Is(err, ErrFallbackToCPU) {
			return nil, fmt.Errorf("%w: %s declined the job", ErrUnsupportedExecutionTarget, a.Name())
		}
		return nil, fmt.Errorf("patchmatch: %s: %w", a.Name(), err)
	}
	if f == nil || f.width != img.width || f.height != img.height {
		return nil, fmt.Errorf("patchmatch: %s returned a malformed field", a.Name())
	}
	if tw, th := f.TargetSize(); tw != target.width || th != target.height {
		return nil, fmt.Errorf("patchmatch: %s returned a field for a %dx%d target", a.Name(), tw, th)
	}
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("patchmatch: %s: %w", a.Name(), err)
	}
	return f, nil
}

func acceleratorRoundMeans(f *Field, iterations int) []float64 {
	means := make([]float64, iterations)
	for i := range means {
		means[i] = math.NaN()
	}
	if iterations > 0 {
		means[iterations-1] = f.MeanDistance()
	}
	return means
}

// stageCount returns the number of stages before reconstruction.
func stageCount(iterations, jump int) int {
	n := 0
	for s := nextStage(Stage{}, iterations, jump); s.State != StateReconstructing; s = nextStage(s, iterations, jump) {
		n++
	}
	return n
}

// driver runs the CPU state machine for one Compute call.
type driver struct {
	a, b   *Image
	p      Params
	r      int // patch radius
	radius int // random search start radius
	hook   StageHook

	pair  *fieldPair
	grid  *parallel.Grid
	pool  *parallel.WorkerPool
	stage Stage
	stats Stats
}

func newDriver(a, b *Image, p Params, hook StageHook) *driver {
	d := &driver{
		a:      a,
		b:      b,
		p:      p,
		r:      p.PatchSize / 2,
		radius: p.searchRadius(b),
		hook:   hook,
		pair:   newFieldPair(a.width, a.height, b.width, b.height, p.PatchSize),
		grid:   parallel.NewGrid(a.width, a.height),
		stats: Stats{
			Target:     TargetCPU,
			Workers:    1,
			RoundMeans: make([]float64, 0, p.Iterations),
		},
	}
	if p.Workers != 1 {
		d.pool = parallel.NewWorkerPool(p.Workers)
		d.stats.Workers = d.pool.Workers()
	}
	return d
}

func (d *driver) close() {
	if d.pool != nil {
		d.pool.Close()
	}
}

// run executes every stage up to reconstruction.
func (d *driver) run(ctx context.Context) error {
	log := Logger()
	debug := log.Enabled(ctx, slog.LevelDebug)

	for {
		next := nextStage(d.stage, d.p.Iterations, d.p.Jump)
		if next.State == StateReconstructing {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("patchmatch: canceled before %s: %w", next, err)
		}

		d.execute(next)
		d.stage = next
		d.stats.Stages++

		if debug {
			log.Debug("patchmatch: stage",
				"state", next.State,
				"round", next.Round,
				"jump", next.Jump,
				"mean", d.pair.current().MeanDistance())
		}
		if d.hook != nil {
			d.hook(next, d.pair.current())
		}
	}
}

// execute runs one stage over every region. ForEach returns only after
// all regions are done, which is the barrier between stages.
func (d *driver) execute(s Stage) {
	a, b, p, r := d.a, d.b, d.p, d.r

	switch s.State {
	case StateInitialized:
		cur := d.pair.current()
		parallel.ForEach(d.pool, d.grid, func(reg parallel.Region) {
			initializeRegion(a, b, cur, reg, p.Seed, r)
		})
		d.stats.InitialMean = cur.MeanDistance()

	case StatePropagating:
		src, dst := d.pair.current(), d.pair.scratch()
		parallel.ForEach(d.pool, d.grid, func(reg parallel.Region) {
			propagateRegion(a, b, src, dst, reg, s.Jump, r)
		})
		d.pair.swap()

	case StateSearching:
		cur := d.pair.current()
		parallel.ForEach(d.pool, d.grid, func(reg parallel.Region) {
			searchRegion(a, b, cur, reg, p.Seed, s.Round, d.radius, r)
		})
		d.stats.RoundMeans = append(d.stats.RoundMeans, cur.MeanDistance())
	}
}
