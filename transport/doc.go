// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport provides the network endpoint the sync core runs
// over: one reliable ordered byte stream plus best-effort bounded
// datagrams per client, carried on WebRTC data channels.
//
// Each peer connection carries exactly two channels. The stream
// channel ("zrp-stream") is ordered and reliable; detached from pion,
// it behaves like a TCP connection and carries the length-prefixed
// envelopes of lib/wire. The datagram channel ("zrp-datagram") is
// unordered with zero retransmits; each SCTP message is one bare
// DatagramEnvelope, and loss, duplication, and reordering are the
// application's problem — which is exactly the contract the sync core
// is built for.
//
// Signaling is a single plain-HTTP round trip: the client POSTs a complete
// SDP offer (vanilla ICE, candidates gathered before publishing) and
// the response body is the complete answer.
//
// [Router] decides, per outgoing render update, whether it rides the
// datagram path or the per-client bounded stream queue.
package transport
