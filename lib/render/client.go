// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

package render

import (
	"github.com/zrp-foundation/zrp/lib/screen"
	"github.com/zrp-foundation/zrp/lib/wire"
)

// Update is one outgoing render emission: exactly one of Snapshot or
// Delta is set.
type Update struct {
	Snapshot *wire.ScreenSnapshot
	Delta    *wire.ScreenDelta
}

// ClientState is the server's render bookkeeping for one attached
// client.
//
// The acked baseline is the frame the client has confirmed applying —
// deltas are always rooted there, never at a merely sent state, so a
// lost datagram can never leave the client on a baseline the server
// does not know about. The pending fields remember the most recently
// sent update; when an ack covers it, the baseline advances.
type ClientState struct {
	window *Window
	engine screen.Engine

	ackedBaseline           *screen.Frame
	ackedBaselineStateID    uint64
	ackedBaselineStyleCount int

	pendingFrame      *screen.Frame
	pendingStateID    uint64
	pendingStyleCount int

	needsSnapshot bool
}

// NewClientState creates the render state for a freshly attached
// client. The first emission is always a snapshot.
func NewClientState(windowSize int) *ClientState {
	return &ClientState{
		window:        NewWindow(windowSize),
		needsSnapshot: true,
	}
}

// Window exposes the backpressure window.
func (cs *ClientState) Window() *Window {
	return cs.window
}

// BaselineStateID returns the acked baseline's state id, 0 when no
// baseline is established.
func (cs *ClientState) BaselineStateID() uint64 {
	return cs.ackedBaselineStateID
}

// HasBaseline reports whether an acked baseline exists.
func (cs *ClientState) HasBaseline() bool {
	return cs.ackedBaseline != nil
}

// ForceSnapshot makes the next emission a snapshot. Used for
// client-requested resyncs, style epoch bumps, and resize.
func (cs *ClientState) ForceSnapshot() {
	cs.needsSnapshot = true
}

// PrepareUpdate decides what, if anything, to send for the committed
// frame current/currentStateID.
//
// A snapshot goes out when one is owed (needsSnapshot), when the
// window is exhausted, when no acked baseline exists, when the
// baseline is no longer retained by history (baselineRetained false),
// or when the baseline's style epoch differs from the current frame's.
// Otherwise a delta from the acked baseline goes out if the window has
// room. dirtyRows, when non-nil, is the covered dirty-row union from
// the baseline to current; nil falls back to row-pointer comparison.
//
// Returns nil when nothing should be sent (the client already
// confirmed this state, or it was already emitted). A full window
// never yields nil: it forces a snapshot.
func (cs *ClientState) PrepareUpdate(
	current screen.Frame,
	currentStateID uint64,
	table *screen.StyleTable,
	dirtyRows []int,
	baselineRetained bool,
	deliveredInputWatermark uint64,
) *Update {
	needSnapshot := cs.needsSnapshot ||
		cs.window.IsExhausted() ||
		cs.ackedBaseline == nil ||
		!baselineRetained ||
		cs.ackedBaseline.StyleEpoch != current.StyleEpoch

	if needSnapshot {
		snapshot := cs.engine.CreateSnapshot(current, currentStateID, table, deliveredInputWatermark)
		cs.pendingFrame = &current
		cs.pendingStateID = currentStateID
		cs.pendingStyleCount = table.Count()
		cs.needsSnapshot = false
		// The snapshot supersedes every in-flight delta.
		cs.window.Clear()
		cs.window.MarkSent(currentStateID)
		return &Update{Snapshot: snapshot}
	}

	if !cs.window.CanSend() {
		return nil
	}
	if currentStateID <= cs.ackedBaselineStateID {
		// The client already confirmed this state.
		return nil
	}
	if cs.pendingFrame != nil && currentStateID <= cs.pendingStateID {
		// Nothing new since the last emission.
		return nil
	}

	delta := cs.engine.ComputeDelta(
		*cs.ackedBaseline, current, table,
		cs.ackedBaselineStateID, currentStateID,
		dirtyRows, cs.ackedBaselineStyleCount,
		deliveredInputWatermark,
	)
	cs.pendingFrame = &current
	cs.pendingStateID = currentStateID
	cs.pendingStyleCount = table.Count()
	cs.window.MarkSent(currentStateID)
	return &Update{Delta: delta}
}

// OnStateAck processes a client StateAck: opens the window and, when
// the ack covers the pending emission, advances the acked baseline to
// it. This is the only place the baseline moves forward.
func (cs *ClientState) OnStateAck(lastApplied uint64) {
	cs.window.OnStateAck(lastApplied)

	if cs.pendingFrame != nil && lastApplied >= cs.pendingStateID {
		cs.ackedBaseline = cs.pendingFrame
		cs.ackedBaselineStateID = cs.pendingStateID
		cs.ackedBaselineStyleCount = cs.pendingStyleCount
		cs.pendingFrame = nil
	}
}
