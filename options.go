package patchmatch

// Option configures a Compute call.
//
// Example:
//
//	res, err := patchmatch.Compute(ctx, a, b,
//	    patchmatch.WithPatchSize(7),
//	    patchmatch.WithIterations(4),
//	    patchmatch.WithSeed(42),
//	)
type Option func(*config)

// config holds everything a Compute call needs beyond the images.
type config struct {
	params Params
	hook   StageHook
}

func defaultConfig() config {
	return config{params: DefaultParams()}
}

// StageHook observes the current field after each stage.
//
// The hook runs on the goroutine that called Compute, between stages, so
// the field is stable while it runs. It must not modify or retain f; use
// f.Clone to keep a snapshot.
type StageHook func(s Stage, f *Field)

// WithParams replaces every parameter at once.
// Options applied after it still take effect.
func WithParams(p Params) Option {
	return func(c *config) { c.params = p }
}

// WithPatchSize sets the patch edge length (odd, at least 1).
func WithPatchSize(n int) Option {
	return func(c *config) { c.params.PatchSize = n }
}

// WithIterations sets the number of propagation + search rounds.
func WithIterations(n int) Option {
	return func(c *config) { c.params.Iterations = n }
}

// WithSearchRadius sets the starting random search radius; 0 is unbounded.
func WithSearchRadius(r int) Option {
	return func(c *config) { c.params.SearchRadius = r }
}

// WithJump sets the first propagation distance of each round.
func WithJump(d int) Option {
	return func(c *config) { c.params.Jump = d }
}

// WithSeed sets the random seed.
func WithSeed(seed uint64) Option {
	return func(c *config) { c.params.Seed = seed }
}

// WithWorkers sets the CPU worker count; 0 uses GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(c *config) { c.params.Workers = n }
}

// WithTarget selects the execution target.
func WithTarget(t Target) Option {
	return func(c *config) { c.params.Target = t }
}

// WithFlowEncoding selects the flow visualisation.
func WithFlowEncoding(e FlowEncoding) Option {
	return func(c *config) { c.params.FlowEncoding = e }
}

// WithStageHook installs a hook that observes every stage boundary.
// An accelerator runs all search stages in one submission, so on an
// accelerator the hook is called once, with the last search stage and the
// finished field.
func WithStageHook(h StageHook) Option {
	return func(c *config) { c.hook = h }
}
