// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

// Package input implements the reliable input pipeline.
//
// [Receiver] is the server side: a per-client strictly monotonic
// sequence gate that delivers each input exactly once and in order,
// buffers bounded reorderings, and produces cumulative acks.
// [Sender] is the client side: it assigns sequence numbers, bounds the
// in-flight window, and extracts RTT samples from acks. [Estimator]
// smooths those samples into srtt/rttvar and derives a retransmission
// timeout whose floor adapts to the observed link state.
package input
