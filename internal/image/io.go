// Package image loads, saves and resamples the images a PatchMatch host
// feeds to the core.
//
// Every decoded image is normalised to *image.NRGBA (non-premultiplied,
// 4 bytes per pixel, row-major), which is the layout the core samples.
// Decoding understands PNG, JPEG, GIF, BMP, TIFF and WebP; encoding writes
// PNG or JPEG chosen by file extension.
package image

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif" // register GIF decoder
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	xdraw "golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WebP decoder
)

// I/O errors.
var (
	// ErrUnsupportedFormat is returned when an output extension has no encoder.
	ErrUnsupportedFormat = errors.New("image: unsupported format")

	// ErrEmptyData is returned when image data is empty.
	ErrEmptyData = errors.New("image: empty data")

	// ErrInvalidScale is returned by Resize for a non-positive scale.
	ErrInvalidScale = errors.New("image: invalid scale")
)

// DefaultJPEGQuality is used by Save for .jpg/.jpeg outputs.
const DefaultJPEGQuality = 95

// Load decodes the image file at path, detecting the format from content.
func Load(path string) (*image.NRGBA, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("image: open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return Decode(f)
}

// LoadFromBytes decodes an image held in memory.
func LoadFromBytes(data []byte) (*image.NRGBA, error) {
	if len(data) == 0 {
		return nil, ErrEmptyData
	}
	return Decode(bytes.NewReader(data))
}

// Decode decodes an image from r and converts it to NRGBA.
func Decode(r io.Reader) (*image.NRGBA, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("image: decode: %w", err)
	}
	return ToNRGBA(img), nil
}

// ToNRGBA returns img as an NRGBA image whose bounds start at (0, 0).
// An NRGBA input already anchored at the origin is returned as is.
func ToNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	if n, ok := img.(*image.NRGBA); ok && b.Min == (image.Point{}) {
		return n
	}

	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	// Fast path: row copies for NRGBA sub-images.
	if n, ok := img.(*image.NRGBA); ok {
		for y := range b.Dy() {
			src := n.Pix[n.PixOffset(b.Min.X, b.Min.Y+y):]
			copy(dst.Pix[y*dst.Stride:(y+1)*dst.Stride], src)
		}
		return dst
	}

	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// Save encodes img to path. The format follows the extension:
// .png, or .jpg/.jpeg at DefaultJPEGQuality.
func Save(path string, img image.Image) error {
	var encode func(io.Writer) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		encode = func(w io.Writer) error { return EncodePNG(w, img) }
	case ".jpg", ".jpeg":
		encode = func(w io.Writer) error { return EncodeJPEG(w, img, DefaultJPEGQuality) }
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}

	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("image: create file: %w", err)
	}
	if err := encode(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// EncodePNG encodes img as PNG to w.
func EncodePNG(w io.Writer, img image.Image) error {
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("image: encode PNG: %w", err)
	}
	return nil
}

// EncodeJPEG encodes img as JPEG to w with the given quality (clamped to 1-100).
func EncodeJPEG(w io.Writer, img image.Image, quality int) error {
	quality = min(max(quality, 1), 100)
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: quality}); err != nil {
		return fmt.Errorf("image: encode JPEG: %w", err)
	}
	return nil
}

// Resize scales img by factor using Catmull-Rom resampling.
// A factor of 1 returns the NRGBA form of img without resampling.
// Each output dimension is at least one pixel.
func Resize(img image.Image, factor float64) (*image.NRGBA, error) {
	if !(factor > 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScale, factor)
	}
	if factor == 1 {
		return ToNRGBA(img), nil
	}

	b := img.Bounds()
	w := max(int(float64(b.Dx())*factor+0.5), 1)
	h := max(int(float64(b.Dy())*factor+0.5), 1)

	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst, nil
}
