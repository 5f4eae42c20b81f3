// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides ZRP's standard CBOR encoding configuration.
//
// Every protocol message — stream envelopes, datagram envelopes, and
// resume-token payloads — is encoded as CBOR through this package so
// that the whole module encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC
// 8949 §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes, which matters for wire messages whose encoded size determines
// datagram-vs-stream routing and for style reverse-map keys that must
// be stable across lookups.
//
// For buffer-oriented operations (envelopes, tokens):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// # Struct Tag Rules
//
// Wire messages use `cbor:"N,keyasint"` tags: integer keys keep
// keystroke-scale deltas small enough to fit a conservative QUIC
// datagram, and the explicit numbering is the wire contract — renaming
// a Go field never changes the encoding, and field numbers are never
// reused.
package codec
