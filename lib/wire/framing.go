// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/zrp-foundation/zrp/lib/codec"
)

// ErrFrameTooLarge is returned when a stream frame declares a length
// above the reader's maximum. The connection must be torn down: the
// stream position is no longer trustworthy.
var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")

// EncodeFrame encodes a stream envelope as varint(length) || body.
func EncodeFrame(envelope *StreamEnvelope) ([]byte, error) {
	body, err := codec.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encoding stream envelope: %w", err)
	}
	frame := binary.AppendUvarint(make([]byte, 0, len(body)+binary.MaxVarintLen32), uint64(len(body)))
	return append(frame, body...), nil
}

// StreamReader reads length-prefixed envelopes from a reliable byte
// stream. It is not safe for concurrent use.
type StreamReader struct {
	reader       *bufio.Reader
	maxFrameSize int
}

// NewStreamReader wraps r. maxFrameSize bounds the declared length of
// a single frame; zero selects DefaultMaxFrameSize.
func NewStreamReader(r io.Reader, maxFrameSize int) *StreamReader {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &StreamReader{
		reader:       bufio.NewReader(r),
		maxFrameSize: maxFrameSize,
	}
}

// Next reads one complete envelope. It blocks until a full frame is
// available. Returns io.EOF on clean stream end, ErrFrameTooLarge on
// an oversized declared length, and a decode error on malformed CBOR;
// all three are fatal to the stream.
func (sr *StreamReader) Next() (*StreamEnvelope, error) {
	length, err := binary.ReadUvarint(sr.reader)
	if err != nil {
		return nil, err
	}
	if length > uint64(sr.maxFrameSize) {
		return nil, fmt.Errorf("%w: declared %d, maximum %d", ErrFrameTooLarge, length, sr.maxFrameSize)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(sr.reader, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("reading frame body: %w", err)
	}

	var envelope StreamEnvelope
	if err := codec.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decoding stream envelope: %w", err)
	}
	return &envelope, nil
}

// StreamWriter writes length-prefixed envelopes to a reliable byte
// stream. It is not safe for concurrent use; the per-client send task
// is the single writer.
type StreamWriter struct {
	writer io.Writer
}

// NewStreamWriter wraps w.
func NewStreamWriter(w io.Writer) *StreamWriter {
	return &StreamWriter{writer: w}
}

// Write encodes and writes one envelope.
func (sw *StreamWriter) Write(envelope *StreamEnvelope) error {
	frame, err := EncodeFrame(envelope)
	if err != nil {
		return err
	}
	if _, err := sw.writer.Write(frame); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}
