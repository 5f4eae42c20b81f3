// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/zrp-foundation/zrp/lib/render"
	"github.com/zrp-foundation/zrp/lib/wire"
)

// DefaultSendQueueDepth bounds the per-client stream send queue.
const DefaultSendQueueDepth = 32

// maxConsecutiveDrops is how many consecutive full-queue drops mark a
// client dead. A dead client must not accrue memory; it gets
// disconnected instead.
const maxConsecutiveDrops = 3

// compressThreshold is the encoded snapshot size above which
// compression is attempted when negotiated.
const compressThreshold = 4096

// DatagramSender is the lossy path a Router routes small deltas onto.
// *Peer implements it.
type DatagramSender interface {
	SendDatagram(payload []byte) error
}

// RouterConfig carries the per-client negotiation results the routing
// policy depends on.
type RouterConfig struct {
	ClientID          uint64
	SupportsDatagrams bool
	MaxDatagramBytes  int
	ConservativeLimit int
	QueueDepth        int
	Compression       bool
	Logger            *slog.Logger
}

// Router owns one client's outgoing path: a bounded stream send queue
// drained by a single task, and the datagram-vs-stream decision for
// every render update.
//
// Snapshots always ride the stream (they must arrive). A delta rides
// the datagram path when it fits under both the negotiated and the
// conservative cap; otherwise, or when the datagram send fails, it is
// wrapped in a stream envelope.
type Router struct {
	cfg       RouterConfig
	logger    *slog.Logger
	datagrams DatagramSender

	queue chan *wire.StreamEnvelope

	mu              sync.Mutex
	consecutiveFull int

	dead     chan struct{}
	deadOnce sync.Once
}

// NewRouter creates a router for one client.
func NewRouter(cfg RouterConfig, datagrams DatagramSender) *Router {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultSendQueueDepth
	}
	if cfg.ConservativeLimit <= 0 {
		cfg.ConservativeLimit = int(wire.DefaultMaxDatagramBytes)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:       cfg,
		logger:    logger.With("client_id", cfg.ClientID),
		datagrams: datagrams,
		queue:     make(chan *wire.StreamEnvelope, cfg.QueueDepth),
		dead:      make(chan struct{}),
	}
}

// Run drains the stream queue onto the client's reliable stream. One
// Run per router; it returns when ctx is cancelled or a write fails
// (the stream is broken, so the client is marked dead).
func (r *Router) Run(ctx context.Context, stream io.Writer) {
	writer := wire.NewStreamWriter(stream)
	for {
		select {
		case <-ctx.Done():
			return
		case envelope := <-r.queue:
			if err := writer.Write(envelope); err != nil {
				r.logger.Debug("stream write failed", "error", err, "kind", envelope.Kind())
				r.markDead()
				return
			}
		}
	}
}

// Dead is closed after three consecutive full-queue drops or a broken
// stream. The session disconnects the client when it fires.
func (r *Router) Dead() <-chan struct{} {
	return r.dead
}

func (r *Router) markDead() {
	r.deadOnce.Do(func() { close(r.dead) })
}

// TrySendStream enqueues an envelope without blocking the caller. On
// a full queue the envelope is dropped and the drop counted; three in
// a row mark the client dead. Returns whether the envelope was
// enqueued.
func (r *Router) TrySendStream(envelope *wire.StreamEnvelope) bool {
	select {
	case r.queue <- envelope:
		r.mu.Lock()
		r.consecutiveFull = 0
		r.mu.Unlock()
		return true
	default:
	}

	r.mu.Lock()
	r.consecutiveFull++
	full := r.consecutiveFull
	r.mu.Unlock()

	r.logger.Debug("send queue full, dropping",
		"kind", envelope.Kind(), "consecutive", full)
	if full >= maxConsecutiveDrops {
		r.markDead()
	}
	return false
}

// SendRenderUpdate routes one render update.
func (r *Router) SendRenderUpdate(update *render.Update) {
	switch {
	case update.Snapshot != nil:
		r.sendSnapshot(update.Snapshot)
	case update.Delta != nil:
		r.sendDelta(update.Delta)
	}
}

// sendSnapshot always takes the stream, compressed when negotiated
// and worthwhile.
func (r *Router) sendSnapshot(snapshot *wire.ScreenSnapshot) {
	if r.cfg.Compression {
		if encoded, err := wire.EncodeFrame(&wire.StreamEnvelope{ScreenSnapshot: snapshot}); err == nil && len(encoded) > compressThreshold {
			compressed, err := wire.CompressSnapshot(snapshot, wire.CompressionZstd)
			if err == nil {
				r.TrySendStream(&wire.StreamEnvelope{CompressedSnapshot: compressed})
				return
			}
			if !wire.IsIncompressible(err) {
				r.logger.Debug("snapshot compression failed", "error", err)
			}
		}
	}
	r.TrySendStream(&wire.StreamEnvelope{ScreenSnapshot: snapshot})
}

// sendDelta prefers the datagram path for anything that fits.
func (r *Router) sendDelta(delta *wire.ScreenDelta) {
	if r.cfg.SupportsDatagrams {
		encoded, err := wire.EncodeDatagram(&wire.DatagramEnvelope{ScreenDelta: delta})
		if err == nil && len(encoded) <= r.datagramLimit() {
			if sendErr := r.datagrams.SendDatagram(encoded); sendErr == nil {
				return
			}
			// Datagram send failure falls back to the stream.
		}
	}
	r.TrySendStream(&wire.StreamEnvelope{ScreenDelta: delta})
}

// datagramLimit is the effective datagram payload cap: the smaller of
// the negotiated maximum and the conservative limit.
func (r *Router) datagramLimit() int {
	limit := r.cfg.ConservativeLimit
	if r.cfg.MaxDatagramBytes > 0 && r.cfg.MaxDatagramBytes < limit {
		limit = r.cfg.MaxDatagramBytes
	}
	return limit
}
