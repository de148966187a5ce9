package fieldio

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the block compression applied to the entry payload.
type Compression uint8

const (
	// CompressionNone stores blocks as is.
	CompressionNone Compression = 0
	// CompressionLZ4 uses LZ4 block compression (fast).
	CompressionLZ4 Compression = 1
	// CompressionZSTD uses ZSTD (better ratio).
	CompressionZSTD Compression = 2
)

// String returns the lower-case name of the compression.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("Compression(%d)", uint8(c))
	}
}

// Valid reports whether c is a known compression.
func (c Compression) Valid() bool {
	return c <= CompressionZSTD
}

// ParseCompression maps a name ("none", "lz4", "zstd") to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "none", "":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	default:
		return 0, fmt.Errorf("fieldio: unknown compression %q", s)
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil, zstd.WithDecoderMaxMemory(BlockSize))
}

// Block layout: [uncompressed uint32][compressed uint32][data...].
// A compressed size of 0 marks a stored block.
const blockHeaderSize = 8

// appendBlock compresses data and appends the framed block to dst.
// Data that does not shrink below 90% of its size is stored.
func appendBlock(dst, data []byte, c Compression) ([]byte, error) {
	var compressed []byte
	switch c {
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, fmt.Errorf("fieldio: lz4 compress: %w", err)
		}
		compressed = buf[:n]
	case CompressionZSTD:
		enc, err := getZstdEncoder()
		if err != nil {
			return nil, fmt.Errorf("fieldio: zstd encoder: %w", err)
		}
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	}

	var hdr [blockHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], uint32(len(data)))

	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		dst = append(dst, hdr[:]...)
		return append(dst, data...), nil
	}

	binary.LittleEndian.PutUint32(hdr[4:], uint32(len(compressed)))
	dst = append(dst, hdr[:]...)
	return append(dst, compressed...), nil
}

// readBlock decodes the block at the start of src and returns its payload
// plus the number of bytes consumed. A block may not hold more than limit
// bytes or BlockSize, whichever is smaller; the limit is checked before
// anything is allocated.
func readBlock(src []byte, c Compression, limit int) ([]byte, int, error) {
	if len(src) < blockHeaderSize {
		return nil, 0, fmt.Errorf("%w: truncated block header", ErrInvalidData)
	}
	size := int(binary.LittleEndian.Uint32(src[0:]))
	csize := int(binary.LittleEndian.Uint32(src[4:]))
	if size > min(limit, BlockSize) {
		return nil, 0, fmt.Errorf("%w: block of %d bytes exceeds %d", ErrInvalidData, size, min(limit, BlockSize))
	}

	if csize == 0 {
		if len(src)-blockHeaderSize < size {
			return nil, 0, fmt.Errorf("%w: truncated block", ErrInvalidData)
		}
		return src[blockHeaderSize : blockHeaderSize+size], blockHeaderSize + size, nil
	}

	if len(src)-blockHeaderSize < csize {
		return nil, 0, fmt.Errorf("%w: truncated compressed block", ErrInvalidData)
	}
	payload := src[blockHeaderSize : blockHeaderSize+csize]
	out := make([]byte, size)

	switch c {
	case CompressionLZ4:
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: lz4: %w", ErrInvalidData, err)
		}
		if n != size {
			return nil, 0, fmt.Errorf("%w: decompressed size mismatch", ErrInvalidData)
		}
	case CompressionZSTD:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, 0, fmt.Errorf("fieldio: zstd decoder: %w", err)
		}
		decoded, err := dec.DecodeAll(payload, out[:0])
		zstdDecoderPool.Put(dec)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: zstd: %w", ErrInvalidData, err)
		}
		if len(decoded) != size {
			return nil, 0, fmt.Errorf("%w: decompressed size mismatch", ErrInvalidData)
		}
		out = decoded
	default:
		return nil, 0, fmt.Errorf("%w: compressed block in an uncompressed stream", ErrInvalidData)
	}

	return out, blockHeaderSize + csize, nil
}
