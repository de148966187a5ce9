// Package fieldio implements the binary nearest-neighbour field format.
//
// Layout (little endian):
//
//	magic        [4]byte  "PMNF"
//	version      uint16
//	compression  uint8
//	reserved     uint8
//	width        uint32   source image width
//	height       uint32   source image height
//	targetWidth  uint32   target image width
//	targetHeight uint32   target image height
//	patchSize    uint32
//	blocks       ...      entry payload split into framed blocks
//
// The payload holds width*height entries in row-major order, 12 bytes each:
// match x (int32), match y (int32), distance (float32 bits).
package fieldio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// ErrInvalidData is returned when a stream is not a well-formed field.
var ErrInvalidData = errors.New("fieldio: invalid field data")

const (
	// Version is the format version written by Encode.
	Version = 1

	headerSize = 28
	entrySize  = 12

	// BlockSize is the uncompressed payload size of a full block.
	BlockSize = 64 * 1024

	// maxEntries bounds allocations while decoding untrusted input.
	maxEntries = 1 << 28
)

var magic = [4]byte{'P', 'M', 'N', 'F'}

// Header describes a stored field.
type Header struct {
	Width, Height             int
	TargetWidth, TargetHeight int
	PatchSize                 int
	Compression               Compression
}

// Entry is one field position.
type Entry struct {
	X, Y     int32
	Distance float32
}

func (h Header) validate() error {
	switch {
	case h.Width <= 0 || h.Height <= 0:
		return fmt.Errorf("%w: source size %dx%d", ErrInvalidData, h.Width, h.Height)
	case h.TargetWidth <= 0 || h.TargetHeight <= 0:
		return fmt.Errorf("%w: target size %dx%d", ErrInvalidData, h.TargetWidth, h.TargetHeight)
	case h.PatchSize <= 0:
		return fmt.Errorf("%w: patch size %d", ErrInvalidData, h.PatchSize)
	case !h.Compression.Valid():
		return fmt.Errorf("%w: compression %d", ErrInvalidData, uint8(h.Compression))
	case uint64(h.Width)*uint64(h.Height) > maxEntries:
		return fmt.Errorf("%w: %dx%d entries exceeds limit", ErrInvalidData, h.Width, h.Height)
	}
	return nil
}

// Encode writes h and entries to w. len(entries) must equal h.Width*h.Height.
func Encode(w io.Writer, h Header, entries []Entry) error {
	if err := h.validate(); err != nil {
		return err
	}
	if len(entries) != h.Width*h.Height {
		return fmt.Errorf("fieldio: %d entries for a %dx%d field", len(entries), h.Width, h.Height)
	}

	out := make([]byte, headerSize, headerSize+len(entries)*entrySize/2)
	copy(out[0:4], magic[:])
	binary.LittleEndian.PutUint16(out[4:], Version)
	out[6] = byte(h.Compression)
	binary.LittleEndian.PutUint32(out[8:], uint32(h.Width))
	binary.LittleEndian.PutUint32(out[12:], uint32(h.Height))
	binary.LittleEndian.PutUint32(out[16:], uint32(h.TargetWidth))
	binary.LittleEndian.PutUint32(out[20:], uint32(h.TargetHeight))
	binary.LittleEndian.PutUint32(out[24:], uint32(h.PatchSize))

	block := make([]byte, 0, BlockSize)
	var err error
	for _, e := range entries {
		block = binary.LittleEndian.AppendUint32(block, uint32(e.X))
		block = binary.LittleEndian.AppendUint32(block, uint32(e.Y))
		block = binary.LittleEndian.AppendUint32(block, math.Float32bits(e.Distance))
		if len(block)+entrySize > BlockSize {
			if out, err = appendBlock(out, block, h.Compression); err != nil {
				return err
			}
			block = block[:0]
		}
	}
	if len(block) > 0 {
		if out, err = appendBlock(out, block, h.Compression); err != nil {
			return err
		}
	}

	if _, err := w.Write(out); err != nil {
		return fmt.Errorf("fieldio: write: %w", err)
	}
	return nil
}

// Decode reads a field written by Encode.
func Decode(r io.Reader) (Header, []Entry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Header{}, nil, fmt.Errorf("fieldio: read: %w", err)
	}
	return DecodeBytes(data)
}

// DecodeBytes decodes a field held in memory.
func DecodeBytes(data []byte) (Header, []Entry, error) {
	if len(data) < headerSize {
		return Header{}, nil, fmt.Errorf("%w: truncated header", ErrInvalidData)
	}
	if !bytes.Equal(data[0:4], magic[:]) {
		return Header{}, nil, fmt.Errorf("%w: bad magic %q", ErrInvalidData, data[0:4])
	}
	if v := binary.LittleEndian.Uint16(data[4:]); v != Version {
		return Header{}, nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidData, v)
	}

	h := Header{
		Compression:  Compression(data[6]),
		Width:        int(binary.LittleEndian.Uint32(data[8:])),
		Height:       int(binary.LittleEndian.Uint32(data[12:])),
		TargetWidth:  int(binary.LittleEndian.Uint32(data[16:])),
		TargetHeight: int(binary.LittleEndian.Uint32(data[20:])),
		PatchSize:    int(binary.LittleEndian.Uint32(data[24:])),
	}
	if err := h.validate(); err != nil {
		return Header{}, nil, err
	}

	// The header's size is untrusted until the blocks deliver it, so the
	// payload grows block by block.
	n := h.Width * h.Height
	want := n * entrySize
	payload := make([]byte, 0, min(want, BlockSize))
	for rest := data[headerSize:]; len(rest) > 0; {
		if len(payload) == want {
			return Header{}, nil, fmt.Errorf("%w: payload longer than %d entries", ErrInvalidData, n)
		}
		block, used, err := readBlock(rest, h.Compression, want-len(payload))
		if err != nil {
			return Header{}, nil, err
		}
		payload = append(payload, block...)
		rest = rest[used:]
	}
	if len(payload) != want {
		return Header{}, nil, fmt.Errorf("%w: payload has %d bytes, want %d", ErrInvalidData, len(payload), want)
	}

	entries := make([]Entry, n)
	for i := range entries {
		off := i * entrySize
		entries[i] = Entry{
			X:        int32(binary.LittleEndian.Uint32(payload[off:])),
			Y:        int32(binary.LittleEndian.Uint32(payload[off+4:])),
			Distance: math.Float32frombits(binary.LittleEndian.Uint32(payload[off+8:])),
		}
	}
	return h, entries, nil
}
