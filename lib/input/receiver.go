// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

package input

import (
	"errors"
	"time"

	"github.com/zrp-foundation/zrp/lib/clock"
	"github.com/zrp-foundation/zrp/lib/wire"
)

// DefaultMaxBuffered bounds the reorder buffer: inputs arriving ahead
// of a gap are held until the gap fills or the limit trips.
const DefaultMaxBuffered = 256

// DefaultGapTimeout is how long a sequence gap may stand before the
// client is disconnected for resync.
const DefaultGapTimeout = 2 * time.Second

// Errors surfaced by the receiver. Both are fatal to the client: the
// session answers with ProtocolError{flow_control} and disconnects.
var (
	// ErrBufferOverflow means more than the allowed number of inputs
	// arrived ahead of an unfilled gap.
	ErrBufferOverflow = errors.New("input: reorder buffer overflow")

	// ErrGapTimeout means a sequence gap stood longer than the
	// configured timeout.
	ErrGapTimeout = errors.New("input: sequence gap timeout")
)

// ErrInvalidSeq rejects sequence number 0, which is never valid: the
// first input of a connection is seq 1.
var ErrInvalidSeq = errors.New("input: sequence number 0 is invalid")

// Receiver is the server-side per-client input gate. Sequence numbers
// at or below the contiguous ack are duplicates and are discarded;
// the next expected number is delivered immediately (draining any
// buffered successors); numbers further ahead are buffered.
type Receiver struct {
	clk             clock.Clock
	contiguousAcked uint64
	buffered        map[uint64]*wire.InputEvent
	maxBuffered     int
	gapTimeout      time.Duration

	// gapSince is the time the current gap opened; zero when no gap
	// is outstanding.
	gapSince time.Time

	// pendingRTTSeq/pendingRTTTime echo the most recently delivered
	// event into the next ack for the client's RTT estimator.
	pendingRTTSeq  uint64
	pendingRTTTime uint32
}

// NewReceiver creates a receiver. maxBuffered <= 0 selects
// DefaultMaxBuffered; gapTimeout <= 0 selects DefaultGapTimeout.
func NewReceiver(maxBuffered int, gapTimeout time.Duration, clk clock.Clock) *Receiver {
	if maxBuffered <= 0 {
		maxBuffered = DefaultMaxBuffered
	}
	if gapTimeout <= 0 {
		gapTimeout = DefaultGapTimeout
	}
	return &Receiver{
		clk:         clk,
		buffered:    make(map[uint64]*wire.InputEvent),
		maxBuffered: maxBuffered,
		gapTimeout:  gapTimeout,
	}
}

// Process handles one incoming event. It returns the events now
// deliverable in order (possibly several when the event fills a gap,
// possibly none when it was buffered or a duplicate) and the
// cumulative ack to send when at least one event was delivered.
//
// ErrBufferOverflow and ErrInvalidSeq are fatal to the client.
func (r *Receiver) Process(event *wire.InputEvent) ([]*wire.InputEvent, *wire.InputAck, error) {
	seq := event.InputSeq
	if seq == 0 {
		return nil, nil, ErrInvalidSeq
	}

	// Duplicate: already delivered (or buffered a copy). Dropped
	// silently per the error design — no ack, no error.
	if seq <= r.contiguousAcked {
		return nil, nil, nil
	}

	if seq > r.contiguousAcked+1 {
		if _, exists := r.buffered[seq]; !exists {
			if len(r.buffered) >= r.maxBuffered {
				return nil, nil, ErrBufferOverflow
			}
			r.buffered[seq] = event
		}
		if r.gapSince.IsZero() {
			r.gapSince = r.clk.Now()
		}
		return nil, nil, nil
	}

	// seq == contiguousAcked+1: deliver, then drain the buffer while
	// it stays contiguous.
	delivered := []*wire.InputEvent{event}
	r.contiguousAcked = seq
	for {
		next, ok := r.buffered[r.contiguousAcked+1]
		if !ok {
			break
		}
		delete(r.buffered, r.contiguousAcked+1)
		r.contiguousAcked++
		delivered = append(delivered, next)
	}

	if len(r.buffered) == 0 {
		r.gapSince = time.Time{}
	} else {
		// A gap still stands beyond the drained prefix; restart the
		// clock from this delivery.
		r.gapSince = r.clk.Now()
	}

	last := delivered[len(delivered)-1]
	r.pendingRTTSeq = last.InputSeq
	r.pendingRTTTime = last.ClientTimeMS

	return delivered, r.makeAck(), nil
}

// makeAck builds the cumulative ack echoing the latest delivery's
// timing.
func (r *Receiver) makeAck() *wire.InputAck {
	return &wire.InputAck{
		AckedSeq:           r.contiguousAcked,
		RTTSampleSeq:       r.pendingRTTSeq,
		EchoedClientTimeMS: r.pendingRTTTime,
	}
}

// CheckGapTimeout reports ErrGapTimeout when a sequence gap has stood
// longer than the configured timeout. Called from the session's
// periodic tick.
func (r *Receiver) CheckGapTimeout() error {
	if r.gapSince.IsZero() {
		return nil
	}
	if r.clk.Now().Sub(r.gapSince) > r.gapTimeout {
		return ErrGapTimeout
	}
	return nil
}

// ContiguousAcked returns the highest sequence number such that every
// number up to it has been delivered.
func (r *Receiver) ContiguousAcked() uint64 {
	return r.contiguousAcked
}

// BufferedCount returns the number of out-of-order events held.
func (r *Receiver) BufferedCount() int {
	return len(r.buffered)
}
