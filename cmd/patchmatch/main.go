// Command patchmatch computes the nearest-neighbour field between two images
// and writes the reconstructed image and a flow visualisation.
//
// Usage:
//
//	patchmatch [flags] source target
//
// The reconstructed image rebuilds source from target's pixels. The flow
// image colours every source pixel by the offset to its match.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/patchmatch"
	_ "github.com/gogpu/patchmatch/gpu" // enable the GPU target
	pmimage "github.com/gogpu/patchmatch/internal/image"
)

// errUsage reports bad command-line arguments.
var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "patchmatch: %v\n", err)
		}
		os.Exit(2)
	}
}

type options struct {
	out         string
	flowOut     string
	fieldOut    string
	compression string
	scale       float64
	patch       int
	iters       int
	radius      int
	jump        int
	seed        int64
	workers     int
	target      string
	flow        string
	lang        string
	verbose     bool
}

func parseFlags(args []string, stderr io.Writer) (options, []string, error) {
	var o options
	fs := flag.NewFlagSet("patchmatch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: patchmatch [flags] source target")
		fs.PrintDefaults()
	}

	def := patchmatch.DefaultParams()
	fs.StringVar(&o.out, "out", "reconstructed.png", "reconstructed image output (.png, .jpg)")
	fs.StringVar(&o.flowOut, "flowmap", "flow.png", "flow visualisation output (.png, .jpg), empty to skip")
	fs.StringVar(&o.fieldOut, "field", "", "write the field in NNF format to this file")
	fs.StringVar(&o.compression, "compression", "zstd", "NNF block compression: none, lz4, zstd")
	fs.Float64Var(&o.scale, "scale", 1, "resample both images by this factor before matching")
	fs.IntVar(&o.patch, "patch", def.PatchSize, "patch edge length (odd)")
	fs.IntVar(&o.iters, "iters", def.Iterations, "propagation and search rounds")
	fs.IntVar(&o.radius, "radius", def.SearchRadius, "random search start radius, 0 for the target's larger side")
	fs.IntVar(&o.jump, "jump", 0, "first propagation distance (power of two), 0 to derive it from the source size")
	fs.Int64Var(&o.seed, "seed", -1, "random seed, -1 for a time-based seed")
	fs.IntVar(&o.workers, "workers", def.Workers, "CPU workers, 0 for all CPUs")
	fs.StringVar(&o.target, "target", def.Target.String(), "execution target: auto, cpu, gpu")
	fs.StringVar(&o.flow, "flow", def.FlowEncoding.String(), "flow encoding: hue, biaxial")
	fs.StringVar(&o.lang, "lang", "en", "language tag for the summary's number formatting")
	fs.BoolVar(&o.verbose, "v", false, "log every stage")

	if err := fs.Parse(args); err != nil {
		return o, nil, errUsage
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return o, nil, errUsage
	}
	return o, fs.Args(), nil
}

// params maps the flags onto Params. jump 0 is resolved once the source
// size is known.
func (o options) params() (patchmatch.Params, error) {
	p := patchmatch.DefaultParams()
	p.PatchSize = o.patch
	p.Iterations = o.iters
	p.SearchRadius = o.radius
	p.Workers = o.workers
	if o.seed < 0 {
		p.Seed = uint64(time.Now().UnixNano()) //nolint:gosec // any bit pattern is a valid seed
	} else {
		p.Seed = uint64(o.seed)
	}

	var err error
	if p.Target, err = patchmatch.ParseTarget(o.target); err != nil {
		return p, err
	}
	if p.FlowEncoding, err = patchmatch.ParseFlowEncoding(o.flow); err != nil {
		return p, err
	}
	return p, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	o, files, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	patchmatch.SetLogger(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))
	defer patchmatch.SetLogger(nil)

	p, err := o.params()
	if err != nil {
		return err
	}
	compression, err := patchmatch.ParseCompression(o.compression)
	if err != nil {
		return err
	}
	tag, err := language.Parse(o.lang)
	if err != nil {
		return fmt.Errorf("-lang: %w", err)
	}

	a, b, err := loadPair(ctx, files[0], files[1], o.scale)
	if err != nil {
		return err
	}
	if o.jump == 0 {
		p.Jump = patchmatch.AutoJump(a.Width(), a.Height())
	} else {
		p.Jump = o.jump
	}

	res, err := patchmatch.Compute(ctx, a, b, patchmatch.WithParams(p))
	if err != nil {
		return err
	}

	if err := writeOutputs(o, res, compression); err != nil {
		return err
	}
	printSummary(message.NewPrinter(tag), stdout, a, b, p, res)
	return nil
}

// loadPair decodes the source and target images concurrently.
func loadPair(ctx context.Context, source, target string, scale float64) (*patchmatch.Image, *patchmatch.Image, error) {
	var imgs [2]*patchmatch.Image
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range []string{source, target} {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			nrgba, err := pmimage.Load(path)
			if err != nil {
				return fmt.Errorf("load %s: %w", path, err)
			}
			if scale != 1 {
				if nrgba, err = pmimage.Resize(nrgba, scale); err != nil {
					return fmt.Errorf("scale %s: %w", path, err)
				}
			}
			im, err := patchmatch.FromImage(nrgba)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			imgs[i] = im
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return imgs[0], imgs[1], nil
}

func writeOutputs(o options, res *patchmatch.Result, c patchmatch.Compression) error {
	if err := pmimage.Save(o.out, res.Reconstructed); err != nil {
		return err
	}
	if o.flowOut != "" {
		if err := pmimage.Save(o.flowOut, res.Flow); err != nil {
			return err
		}
	}
	if o.fieldOut == "" {
		return nil
	}

	f, err := os.Create(o.fieldOut)
	if err != nil {
		return err
	}
	if err := patchmatch.WriteField(f, res.Field, c); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", o.fieldOut, err)
	}
	return f.Close()
}

func printSummary(pr *message.Printer, w io.Writer, a, b *patchmatch.Image, p patchmatch.Params, res *patchmatch.Result) {
	s := res.Stats
	pr.Fprintf(w, "source %dx%d, target %dx%d, %d positions\n",
		a.Width(), a.Height(), b.Width(), b.Height(), a.Width()*a.Height())
	pr.Fprintf(w, "target %s", s.Target)
	if s.Accelerator != "" {
		pr.Fprintf(w, " (%s)", s.Accelerator)
	} else {
		pr.Fprintf(w, ", %d workers", s.Workers)
	}
	pr.Fprintf(w, ", %d stages, seed %d, jump %d\n", s.Stages, p.Seed, p.Jump)
	for i, m := range s.RoundMeans {
		pr.Fprintf(w, "round %d: mean distance %.2f\n", i, m)
	}
	pr.Fprintf(w, "final mean distance %.2f in %v\n", res.Field.MeanDistance(), s.Elapsed.Round(time.Millisecond))
}
