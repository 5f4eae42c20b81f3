// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/zrp-foundation/zrp/lib/codec"
)

// CompressionTag identifies the algorithm used for a compressed
// snapshot payload. Tags are wire constants — changing them breaks
// protocol compatibility.
type CompressionTag uint8

const (
	// CompressionNone indicates an uncompressed payload.
	CompressionNone CompressionTag = 0

	// CompressionLZ4 indicates LZ4 block compression. Fast default
	// when the snapshot is mostly sparse default cells.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd indicates zstd at the default level. Better
	// ratio on text-dense screens.
	CompressionZstd CompressionTag = 2
)

// String returns the human-readable name of a compression tag.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// CompressedSnapshot wraps an encoded ScreenSnapshot whose CBOR bytes
// were compressed before framing. Only sent when both sides negotiated
// SupportsCompression and the snapshot exceeds the compression
// threshold; always on the reliable stream.
type CompressedSnapshot struct {
	Tag              CompressionTag `cbor:"1,keyasint"`
	UncompressedSize uint32         `cbor:"2,keyasint"`
	Payload          []byte         `cbor:"3,keyasint"`
}

// errIncompressible is returned when compressed output would not be
// smaller than the input. The caller falls back to the plain snapshot.
var errIncompressible = errors.New("wire: data is incompressible")

// IsIncompressible reports whether err indicates that compression did
// not shrink the payload.
func IsIncompressible(err error) bool {
	return errors.Is(err, errIncompressible)
}

// zstdEncoder and zstdDecoder are reused across calls to avoid
// repeated initialization. Both are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("wire: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("wire: zstd decoder initialization failed: " + err.Error())
	}
}

// CompressSnapshot encodes snapshot to CBOR and compresses it with the
// given algorithm. Returns errIncompressible (check with
// IsIncompressible) when compression would not shrink the encoding —
// send the plain ScreenSnapshot instead.
func CompressSnapshot(snapshot *ScreenSnapshot, tag CompressionTag) (*CompressedSnapshot, error) {
	encoded, err := codec.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}

	var compressed []byte
	switch tag {
	case CompressionLZ4:
		bound := lz4.CompressBlockBound(len(encoded))
		destination := make([]byte, bound)
		written, err := lz4.CompressBlock(encoded, destination, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		// CompressBlock returns 0 when it determines the data is
		// incompressible.
		if written == 0 || written >= len(encoded) {
			return nil, errIncompressible
		}
		compressed = destination[:written]

	case CompressionZstd:
		compressed = zstdEncoder.EncodeAll(encoded, nil)
		if len(compressed) >= len(encoded) {
			return nil, errIncompressible
		}

	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}

	return &CompressedSnapshot{
		Tag:              tag,
		UncompressedSize: uint32(len(encoded)),
		Payload:          compressed,
	}, nil
}

// DecompressSnapshot reverses CompressSnapshot. The embedded
// UncompressedSize must match the decompressed length exactly.
func DecompressSnapshot(cs *CompressedSnapshot) (*ScreenSnapshot, error) {
	size := int(cs.UncompressedSize)

	var encoded []byte
	switch cs.Tag {
	case CompressionLZ4:
		destination := make([]byte, size)
		read, err := lz4.UncompressBlock(cs.Payload, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
		}
		encoded = destination

	case CompressionZstd:
		result, err := zstdDecoder.DecodeAll(cs.Payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), size)
		}
		encoded = result

	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", cs.Tag)
	}

	var snapshot ScreenSnapshot
	if err := codec.Unmarshal(encoded, &snapshot); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &snapshot, nil
}
