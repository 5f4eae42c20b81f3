// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"errors"

	"github.com/zrp-foundation/zrp/lib/codec"
)

// ErrEmptyEnvelope is returned when an envelope decodes with no
// payload field set.
var ErrEmptyEnvelope = errors.New("wire: envelope carries no message")

// StreamEnvelope is the one-of container for every reliable-stream
// message. Exactly one field is non-nil.
type StreamEnvelope struct {
	ClientHello        *ClientHello              `cbor:"1,keyasint,omitempty"`
	ServerHello        *ServerHello              `cbor:"2,keyasint,omitempty"`
	AttachRequest      *AttachRequest            `cbor:"3,keyasint,omitempty"`
	AttachResponse     *AttachResponse           `cbor:"4,keyasint,omitempty"`
	RequestControl     *RequestControl           `cbor:"5,keyasint,omitempty"`
	GrantControl       *GrantControl             `cbor:"6,keyasint,omitempty"`
	DenyControl        *DenyControl              `cbor:"7,keyasint,omitempty"`
	ReleaseControl     *ReleaseControl           `cbor:"8,keyasint,omitempty"`
	SetControllerSize  *SetControllerSize        `cbor:"9,keyasint,omitempty"`
	KeepAliveLease     *KeepAliveLease           `cbor:"10,keyasint,omitempty"`
	LeaseRevoked       *LeaseRevoked             `cbor:"11,keyasint,omitempty"`
	RequestSnapshot    *RequestSnapshot          `cbor:"12,keyasint,omitempty"`
	ProtocolError      *ProtocolError            `cbor:"13,keyasint,omitempty"`
	Ping               *Ping                     `cbor:"14,keyasint,omitempty"`
	Pong               *Pong                     `cbor:"15,keyasint,omitempty"`
	Unsupported        *UnsupportedFeatureNotice `cbor:"16,keyasint,omitempty"`
	ScreenSnapshot     *ScreenSnapshot           `cbor:"17,keyasint,omitempty"`
	ScreenDelta        *ScreenDelta              `cbor:"18,keyasint,omitempty"`
	InputEvent         *InputEvent               `cbor:"19,keyasint,omitempty"`
	InputAck           *InputAck                 `cbor:"20,keyasint,omitempty"`
	StateAck           *StateAck                 `cbor:"21,keyasint,omitempty"`
	CompressedSnapshot *CompressedSnapshot       `cbor:"22,keyasint,omitempty"`
}

// Kind returns a short name for the payload the envelope carries,
// for logging. Returns "empty" when no field is set.
func (e *StreamEnvelope) Kind() string {
	switch {
	case e.ClientHello != nil:
		return "client_hello"
	case e.ServerHello != nil:
		return "server_hello"
	case e.AttachRequest != nil:
		return "attach_request"
	case e.AttachResponse != nil:
		return "attach_response"
	case e.RequestControl != nil:
		return "request_control"
	case e.GrantControl != nil:
		return "grant_control"
	case e.DenyControl != nil:
		return "deny_control"
	case e.ReleaseControl != nil:
		return "release_control"
	case e.SetControllerSize != nil:
		return "set_controller_size"
	case e.KeepAliveLease != nil:
		return "keep_alive_lease"
	case e.LeaseRevoked != nil:
		return "lease_revoked"
	case e.RequestSnapshot != nil:
		return "request_snapshot"
	case e.ProtocolError != nil:
		return "protocol_error"
	case e.Ping != nil:
		return "ping"
	case e.Pong != nil:
		return "pong"
	case e.Unsupported != nil:
		return "unsupported_feature"
	case e.ScreenSnapshot != nil:
		return "screen_snapshot"
	case e.ScreenDelta != nil:
		return "screen_delta"
	case e.InputEvent != nil:
		return "input_event"
	case e.InputAck != nil:
		return "input_ack"
	case e.StateAck != nil:
		return "state_ack"
	case e.CompressedSnapshot != nil:
		return "compressed_snapshot"
	default:
		return "empty"
	}
}

// DatagramEnvelope is the one-of container for datagram messages.
// Datagrams are unreliable and unordered; only messages that tolerate
// loss, duplication, and reordering belong here.
type DatagramEnvelope struct {
	ScreenDelta *ScreenDelta `cbor:"1,keyasint,omitempty"`
	StateAck    *StateAck    `cbor:"2,keyasint,omitempty"`
	Ping        *Ping        `cbor:"3,keyasint,omitempty"`
	Pong        *Pong        `cbor:"4,keyasint,omitempty"`
}

// Kind returns a short payload name for logging.
func (e *DatagramEnvelope) Kind() string {
	switch {
	case e.ScreenDelta != nil:
		return "screen_delta"
	case e.StateAck != nil:
		return "state_ack"
	case e.Ping != nil:
		return "ping"
	case e.Pong != nil:
		return "pong"
	default:
		return "empty"
	}
}

// EncodeDatagram encodes a datagram envelope with no length prefix.
func EncodeDatagram(envelope *DatagramEnvelope) ([]byte, error) {
	return codec.Marshal(envelope)
}

// DecodeDatagram decodes a bare datagram envelope. An envelope with no
// payload decodes to ErrEmptyEnvelope so callers can discard it.
func DecodeDatagram(data []byte) (*DatagramEnvelope, error) {
	var envelope DatagramEnvelope
	if err := codec.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}
	if envelope.Kind() == "empty" {
		return nil, ErrEmptyEnvelope
	}
	return &envelope, nil
}
