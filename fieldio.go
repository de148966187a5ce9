package patchmatch

import (
	"fmt"
	"io"

	"github.com/gogpu/patchmatch/internal/fieldio"
)

// Compression selects the block compression used by WriteField.
type Compression = fieldio.Compression

// Field compressions.
const (
	CompressionNone = fieldio.CompressionNone
	CompressionLZ4  = fieldio.CompressionLZ4
	CompressionZSTD = fieldio.CompressionZSTD
)

// ParseCompression maps "none", "lz4" or "zstd" to a Compression.
func ParseCompression(s string) (Compression, error) {
	c, err := fieldio.ParseCompression(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidParameter, err)
	}
	return c, nil
}

// WriteField stores f in the binary field format.
func WriteField(w io.Writer, f *Field, c Compression) error {
	entries := make([]fieldio.Entry, len(f.matches))
	for i, m := range f.matches {
		entries[i] = fieldio.Entry{X: m.X, Y: m.Y, Distance: f.dist[i]}
	}
	h := fieldio.Header{
		Width:        f.width,
		Height:       f.height,
		TargetWidth:  f.targetWidth,
		TargetHeight: f.targetHeight,
		PatchSize:    f.patchSize,
		Compression:  c,
	}
	if err := fieldio.Encode(w, h, entries); err != nil {
		return fmt.Errorf("patchmatch: write field: %w", err)
	}
	return nil
}

// ReadField loads a field written by WriteField. Malformed input, including
// matches outside the recorded target size, yields ErrInvalidFieldData.
func ReadField(r io.Reader) (*Field, error) {
	h, entries, err := fieldio.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("patchmatch: read field: %w", err)
	}

	f := NewField(h.Width, h.Height, h.TargetWidth, h.TargetHeight, h.PatchSize)
	for i, e := range entries {
		f.matches[i] = Match{X: e.X, Y: e.Y}
		f.dist[i] = e.Distance
	}
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("patchmatch: read field: %w: %w", ErrInvalidFieldData, err)
	}
	return f, nil
}
