package patchmatch

import (
	"fmt"
	"image"
	"image/color"

	pmimage "github.com/gogpu/patchmatch/internal/image"
)

// Image is an immutable width x height grid of non-premultiplied RGBA8
// pixels in row-major order. Patch distances compare R, G and B; alpha is
// carried but not compared.
//
// Image implements image.Image, so it can be encoded with the standard
// library codecs directly.
type Image struct {
	width, height int
	pix           []uint8
}

// NewImage creates an image from a copy of pix, which must hold exactly
// width*height*4 bytes.
func NewImage(width, height int, pix []uint8) (*Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrEmptyImage, width, height)
	}
	if len(pix) != width*height*4 {
		return nil, fmt.Errorf("%w: %d bytes for a %dx%d image", ErrInvalidParameter, len(pix), width, height)
	}
	im := newImage(width, height)
	copy(im.pix, pix)
	return im, nil
}

// FromImage converts any image.Image to an Image.
func FromImage(img image.Image) (*Image, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrEmptyImage)
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("%w: %dx%d", ErrEmptyImage, b.Dx(), b.Dy())
	}
	n := pmimage.ToNRGBA(img)
	im := newImage(b.Dx(), b.Dy())
	for y := range im.height {
		copy(im.pix[y*im.width*4:(y+1)*im.width*4], n.Pix[y*n.Stride:])
	}
	return im, nil
}

// newImage allocates a zeroed image. Only this package mutates the pixels,
// and only before the image is handed out.
func newImage(width, height int) *Image {
	return &Image{width: width, height: height, pix: make([]uint8, width*height*4)}
}

// Width returns the image width in pixels.
func (im *Image) Width() int { return im.width }

// Height returns the image height in pixels.
func (im *Image) Height() int { return im.height }

// Pix returns the pixel data. Callers must not modify it.
func (im *Image) Pix() []uint8 { return im.pix }

// RGBA returns the components of the pixel at (x, y).
// (x, y) must be inside the image.
func (im *Image) RGBA(x, y int) (r, g, b, a uint8) {
	i := (y*im.width + x) * 4
	p := im.pix[i : i+4 : i+4]
	return p[0], p[1], p[2], p[3]
}

func (im *Image) set(x, y int, r, g, b, a uint8) {
	i := (y*im.width + x) * 4
	p := im.pix[i : i+4 : i+4]
	p[0], p[1], p[2], p[3] = r, g, b, a
}

func (im *Image) contains(x, y int) bool {
	return x >= 0 && y >= 0 && x < im.width && y < im.height
}

func (im *Image) empty() bool {
	return im == nil || im.width <= 0 || im.height <= 0
}

// ColorModel implements image.Image.
func (im *Image) ColorModel() color.Model { return color.NRGBAModel }

// Bounds implements image.Image.
func (im *Image) Bounds() image.Rectangle { return image.Rect(0, 0, im.width, im.height) }

// At implements image.Image. Points outside the image are transparent black.
func (im *Image) At(x, y int) color.Color {
	if !im.contains(x, y) {
		return color.NRGBA{}
	}
	r, g, b, a := im.RGBA(x, y)
	return color.NRGBA{R: r, G: g, B: b, A: a}
}

// NRGBA returns a copy of the image as *image.NRGBA.
func (im *Image) NRGBA() *image.NRGBA {
	out := image.NewNRGBA(im.Bounds())
	copy(out.Pix, im.pix)
	return out
}
