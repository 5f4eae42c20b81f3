// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the ZRP protocol messages and their framing.
//
// Two envelope types carry every message. [StreamEnvelope] travels on
// the reliable bidirectional stream, length-prefixed with a varint so
// the reader can reassemble frames from an arbitrary byte stream.
// [DatagramEnvelope] travels in best-effort datagrams, bare-encoded
// with no prefix because a datagram is already a delimited unit.
//
// Envelopes are one-of structs: exactly one pointer field is non-nil.
// Payloads are CBOR with integer field keys (lib/codec, Core
// Deterministic Encoding), so a keystroke-scale [ScreenDelta] encodes
// small enough to fit a conservative QUIC datagram.
//
// Field numbers are the wire contract. They are never reused, and new
// fields only append.
package wire
