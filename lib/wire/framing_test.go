// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func makeClientHello() *StreamEnvelope {
	return &StreamEnvelope{
		ClientHello: &ClientHello{
			Version: ProtocolVersion{Major: VersionMajor, Minor: VersionMinor},
			Capabilities: Capabilities{
				SupportsDatagrams:  true,
				MaxDatagramBytes:   DefaultMaxDatagramBytes,
				SupportsPrediction: true,
			},
			ClientName: "test-client",
		},
	}
}

func TestFrameRoundTrip(t *testing.T) {
	original := makeClientHello()
	frame, err := EncodeFrame(original)
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}

	reader := NewStreamReader(bytes.NewReader(frame), 0)
	decoded, err := reader.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if decoded.ClientHello == nil {
		t.Fatalf("decoded envelope kind %q, want client_hello", decoded.Kind())
	}
	if decoded.ClientHello.ClientName != "test-client" {
		t.Errorf("client name = %q, want %q", decoded.ClientHello.ClientName, "test-client")
	}
	if !decoded.ClientHello.Capabilities.SupportsDatagrams {
		t.Error("datagram capability lost in round trip")
	}

	// The stream is exhausted after one frame.
	if _, err := reader.Next(); err != io.EOF {
		t.Errorf("second Next = %v, want io.EOF", err)
	}
}

func TestMultipleFramesInStream(t *testing.T) {
	first := makeClientHello()
	second := &StreamEnvelope{
		ServerHello: &ServerHello{
			NegotiatedVersion: ProtocolVersion{Major: 1},
			ClientID:          42,
			SessionName:       "test",
			RenderWindow:      DefaultRenderWindow,
		},
	}

	var stream bytes.Buffer
	writer := NewStreamWriter(&stream)
	if err := writer.Write(first); err != nil {
		t.Fatalf("writing first frame: %v", err)
	}
	if err := writer.Write(second); err != nil {
		t.Fatalf("writing second frame: %v", err)
	}

	reader := NewStreamReader(&stream, 0)
	decoded, err := reader.Next()
	if err != nil {
		t.Fatalf("first Next failed: %v", err)
	}
	if decoded.Kind() != "client_hello" {
		t.Errorf("first frame kind = %q, want client_hello", decoded.Kind())
	}

	decoded, err = reader.Next()
	if err != nil {
		t.Fatalf("second Next failed: %v", err)
	}
	if decoded.ServerHello == nil || decoded.ServerHello.ClientID != 42 {
		t.Errorf("second frame = %q, want server_hello with client_id 42", decoded.Kind())
	}
}

func TestFrameTooLargeRejected(t *testing.T) {
	original := makeClientHello()
	frame, err := EncodeFrame(original)
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}

	// A max frame size below the actual body length must reject the
	// frame before reading the body.
	reader := NewStreamReader(bytes.NewReader(frame), 4)
	if _, err := reader.Next(); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("Next = %v, want ErrFrameTooLarge", err)
	}
}

func TestTruncatedBodyIsError(t *testing.T) {
	original := makeClientHello()
	frame, err := EncodeFrame(original)
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}

	reader := NewStreamReader(bytes.NewReader(frame[:len(frame)/2]), 0)
	if _, err := reader.Next(); err == nil {
		t.Fatal("Next on truncated frame succeeded, want error")
	}
}

func TestDatagramRoundTrip(t *testing.T) {
	original := &DatagramEnvelope{
		StateAck: &StateAck{
			LastAppliedStateID:  7,
			LastReceivedStateID: 9,
			SRTTMS:              23,
		},
	}
	encoded, err := EncodeDatagram(original)
	if err != nil {
		t.Fatalf("EncodeDatagram failed: %v", err)
	}

	decoded, err := DecodeDatagram(encoded)
	if err != nil {
		t.Fatalf("DecodeDatagram failed: %v", err)
	}
	if decoded.StateAck == nil {
		t.Fatalf("decoded kind %q, want state_ack", decoded.Kind())
	}
	if decoded.StateAck.LastAppliedStateID != 7 {
		t.Errorf("last applied = %d, want 7", decoded.StateAck.LastAppliedStateID)
	}
}

func TestEmptyDatagramRejected(t *testing.T) {
	encoded, err := EncodeDatagram(&DatagramEnvelope{})
	if err != nil {
		t.Fatalf("EncodeDatagram failed: %v", err)
	}
	if _, err := DecodeDatagram(encoded); !errors.Is(err, ErrEmptyEnvelope) {
		t.Fatalf("DecodeDatagram = %v, want ErrEmptyEnvelope", err)
	}
}

func TestGarbageDatagramRejected(t *testing.T) {
	if _, err := DecodeDatagram([]byte{0xff, 0x00, 0xff}); err == nil {
		t.Fatal("DecodeDatagram on garbage succeeded, want error")
	}
}

func TestKeystrokeDeltaFitsDatagram(t *testing.T) {
	// A single-cell change — the keystroke case the datagram path
	// exists for — must encode well under the conservative cap.
	delta := &ScreenDelta{
		BaseStateID: 41,
		StateID:     42,
		RowPatches: []RowPatch{{
			Row: 3,
			Runs: []CellRun{{
				ColStart:   7,
				Codepoints: []uint32{'X'},
				Widths:     []uint8{1},
				StyleIDs:   []uint16{0},
			}},
		}},
		Cursor:                  CursorState{Row: 3, Col: 8, Visible: true},
		DeliveredInputWatermark: 12,
	}
	encoded, err := EncodeDatagram(&DatagramEnvelope{ScreenDelta: delta})
	if err != nil {
		t.Fatalf("EncodeDatagram failed: %v", err)
	}
	if len(encoded) > int(DefaultMaxDatagramBytes) {
		t.Fatalf("keystroke delta encodes to %d bytes, exceeds %d", len(encoded), DefaultMaxDatagramBytes)
	}
}

func TestCapabilitiesIntersect(t *testing.T) {
	client := Capabilities{
		SupportsDatagrams:   true,
		MaxDatagramBytes:    1400,
		SupportsPrediction:  true,
		SupportsCompression: true,
	}
	server := Capabilities{
		SupportsDatagrams:  true,
		MaxDatagramBytes:   1200,
		SupportsPrediction: false,
		SupportsClipboard:  true,
	}

	negotiated := client.Intersect(server)
	if !negotiated.SupportsDatagrams {
		t.Error("datagrams should survive intersection")
	}
	if negotiated.MaxDatagramBytes != 1200 {
		t.Errorf("max datagram = %d, want min 1200", negotiated.MaxDatagramBytes)
	}
	if negotiated.SupportsPrediction || negotiated.SupportsClipboard || negotiated.SupportsCompression {
		t.Error("one-sided capabilities must not survive intersection")
	}
}
