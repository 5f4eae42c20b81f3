// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

package input

import (
	"time"

	"github.com/zrp-foundation/zrp/lib/clock"
	"github.com/zrp-foundation/zrp/lib/wire"
)

// inflightInput is one sent-but-unacked event.
type inflightInput struct {
	seq          uint64
	clientTimeMS uint32
	sentAt       time.Time
}

// RTTSample is one round-trip measurement extracted from an ack.
type RTTSample struct {
	RTT time.Duration
	Seq uint64
}

// Sender is the client-side input pipeline: it assigns strictly
// increasing sequence numbers starting at 1, bounds the unacked
// window, and matches acks back to send times for RTT measurement.
type Sender struct {
	clk         clock.Clock
	nextSeq     uint64
	inflight    []inflightInput
	maxInflight int
}

// NewSender creates a sender. maxInflight <= 0 selects
// wire.DefaultMaxInflightInputs.
func NewSender(maxInflight int, clk clock.Clock) *Sender {
	if maxInflight <= 0 {
		maxInflight = int(wire.DefaultMaxInflightInputs)
	}
	return &Sender{
		clk:         clk,
		nextSeq:     1,
		maxInflight: maxInflight,
	}
}

// CanSend reports whether the unacked window has room.
func (s *Sender) CanSend() bool {
	return len(s.inflight) < s.maxInflight
}

// NextSeq returns the sequence number the next event will carry.
func (s *Sender) NextSeq() uint64 {
	return s.nextSeq
}

// Prepare stamps event with the next sequence number and the current
// client time in place and records it in flight, leaving it ready to
// send. Returns false, leaving event untouched, when the window is full.
func (s *Sender) Prepare(event *wire.InputEvent) bool {
	if !s.CanSend() {
		return false
	}
	now := s.clk.Now()
	event.InputSeq = s.nextSeq
	event.ClientTimeMS = uint32(now.UnixMilli())
	s.inflight = append(s.inflight, inflightInput{
		seq:          event.InputSeq,
		clientTimeMS: event.ClientTimeMS,
		sentAt:       now,
	})
	s.nextSeq++
	return true
}

// ProcessAck retires every in-flight event the cumulative ack covers.
// When the ack's RTT echo matches a retired event exactly (both seq
// and echoed timestamp), the measured round trip is returned.
func (s *Sender) ProcessAck(ack *wire.InputAck) *RTTSample {
	if ack.AckedSeq == 0 {
		return nil
	}

	var sample *RTTSample
	retired := 0
	for retired < len(s.inflight) && s.inflight[retired].seq <= ack.AckedSeq {
		entry := s.inflight[retired]
		if entry.seq == ack.RTTSampleSeq && entry.clientTimeMS == ack.EchoedClientTimeMS {
			sample = &RTTSample{
				RTT: s.clk.Now().Sub(entry.sentAt),
				Seq: entry.seq,
			}
		}
		retired++
	}
	if retired > 0 {
		s.inflight = append(s.inflight[:0], s.inflight[retired:]...)
	}
	return sample
}

// InflightCount returns the number of sent-but-unacked events.
func (s *Sender) InflightCount() int {
	return len(s.inflight)
}
