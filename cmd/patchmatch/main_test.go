package main

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gogpu/patchmatch"
	pmimage "github.com/gogpu/patchmatch/internal/image"
)

func writeTestImage(t *testing.T, path string, w, h int, shift int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8((x + shift) * 13), G: uint8(y * 29), B: uint8((x ^ y) * 7), A: 255,
			})
		}
	}
	if err := pmimage.Save(path, img); err != nil {
		t.Fatal(err)
	}
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.png")
	dst := filepath.Join(dir, "b.png")
	writeTestImage(t, src, 24, 16, 0)
	writeTestImage(t, dst, 20, 18, 3)

	out := filepath.Join(dir, "rec.png")
	flow := filepath.Join(dir, "flow.jpg")
	field := filepath.Join(dir, "out.nnf")

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{
		"-out", out, "-flowmap", flow, "-field", field, "-compression", "lz4",
		"-iters", "2", "-seed", "9", "-target", "cpu", "-flow", "biaxial",
		src, dst,
	}, &stdout, &stderr)
	if err != nil {
		t.Fatalf("run() error = %v\nstderr: %s", err, stderr.String())
	}

	rec, err := pmimage.Load(out)
	if err != nil {
		t.Fatalf("load reconstructed image: %v", err)
	}
	if b := rec.Bounds(); b.Dx() != 24 || b.Dy() != 16 {
		t.Errorf("reconstructed size = %v, want 24x16", b.Size())
	}
	if _, err := pmimage.Load(flow); err != nil {
		t.Errorf("load flow image: %v", err)
	}

	fh, err := os.Open(field)
	if err != nil {
		t.Fatal(err)
	}
	defer fh.Close()
	f, err := patchmatch.ReadField(fh)
	if err != nil {
		t.Fatalf("ReadField() error = %v", err)
	}
	if tw, th := f.TargetSize(); f.Width() != 24 || f.Height() != 16 || tw != 20 || th != 18 {
		t.Errorf("field %dx%d -> %dx%d, want 24x16 -> 20x18", f.Width(), f.Height(), tw, th)
	}

	summary := stdout.String()
	for _, want := range []string{"384 positions", "target cpu", "seed 9", "jump 8", "round 1:"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}
}

func TestRun_Scale(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.png")
	writeTestImage(t, src, 40, 20, 0)
	out := filepath.Join(dir, "rec.png")

	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{
		"-out", out, "-flowmap", "", "-scale", "0.5", "-iters", "1", "-target", "cpu", src, src,
	}, &stdout, &stderr); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	rec, err := pmimage.Load(out)
	if err != nil {
		t.Fatal(err)
	}
	if b := rec.Bounds(); b.Dx() != 20 || b.Dy() != 10 {
		t.Errorf("reconstructed size = %v, want 20x10", b.Size())
	}
}

func TestRun_Errors(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.png")
	writeTestImage(t, src, 8, 8, 0)

	tests := []struct {
		name string
		args []string
		want error
	}{
		{"missing operand", []string{src}, errUsage},
		{"unknown flag", []string{"-bogus", src, src}, errUsage},
		{"even patch", []string{"-patch", "4", "-target", "cpu", src, src}, patchmatch.ErrInvalidParameter},
		{"bad target", []string{"-target", "tpu", src, src}, patchmatch.ErrInvalidParameter},
		{"bad compression", []string{"-compression", "gzip", src, src}, patchmatch.ErrInvalidParameter},
		{"missing file", []string{"-target", "cpu", src, filepath.Join(dir, "nope.png")}, os.ErrNotExist},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			args := append([]string{"-out", filepath.Join(dir, "o.png")}, tt.args...)
			if err := run(context.Background(), args, &stdout, &stderr); !errors.Is(err, tt.want) {
				t.Errorf("run() error = %v, want %v", err, tt.want)
			}
		})
	}
}
