// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"testing"
	"time"

	"github.com/zrp-foundation/zrp/lib/clock"
	"github.com/zrp-foundation/zrp/lib/screen"
	"github.com/zrp-foundation/zrp/lib/wire"
)

// recordingSink collects forwarded input events.
type recordingSink struct {
	events []*wire.InputEvent
}

func (rs *recordingSink) HandleInput(event *wire.InputEvent) {
	rs.events = append(rs.events, event)
}

// recordingViewport collects viewport change notifications.
type recordingViewport struct {
	sizes []wire.DisplaySize
}

func (rv *recordingViewport) HandleViewportChange(size wire.DisplaySize) {
	rv.sizes = append(rv.sizes, size)
}

type fixture struct {
	session  *Session
	sink     *recordingSink
	viewport *recordingViewport
	clk      *clock.FakeClock
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	clk := clock.Fake(time.UnixMilli(1_000_000))
	cfg := Config{
		SessionID:    1,
		SessionName:  "test",
		Cols:         80,
		Rows:         24,
		ResumeSecret: []byte("resume-secret"),
		Policy:       wire.ControllerPolicyExplicitOnly,
		Clock:        clk,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	sink := &recordingSink{}
	viewport := &recordingViewport{}
	s, err := New(cfg, sink, viewport)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return &fixture{session: s, sink: sink, viewport: viewport, clk: clk}
}

func (f *fixture) attach(t *testing.T, name string) AddClientResult {
	t.Helper()
	result, err := f.session.AddClient(AddClientParams{
		WindowSize:        wire.DisplaySize{Cols: 80, Rows: 24},
		SupportsDatagrams: true,
		MaxDatagramBytes:  wire.DefaultMaxDatagramBytes,
		ClientName:        name,
	})
	if err != nil {
		t.Fatalf("AddClient(%s) failed: %v", name, err)
	}
	return result
}

func (f *fixture) takeControl(t *testing.T, clientID uint64) *wire.ControllerLease {
	t.Helper()
	outcome := f.session.RequestControl(clientID, &wire.RequestControl{})
	if outcome.Reply == nil || outcome.Reply.GrantControl == nil {
		t.Fatalf("client %d control request not granted", clientID)
	}
	return &outcome.Reply.GrantControl.Lease
}

func inputText(seq uint64, text string) *wire.InputEvent {
	return &wire.InputEvent{InputSeq: seq, ClientTimeMS: uint32(seq), Text: text}
}

func TestBearerTokenGate(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.BearerSecret = []byte("hunter2")
	})

	if _, err := f.session.AddClient(AddClientParams{BearerToken: []byte("wrong")}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("wrong token err = %v, want ErrUnauthorized", err)
	}
	if _, err := f.session.AddClient(AddClientParams{BearerToken: []byte("hunter2")}); err != nil {
		t.Fatalf("correct token rejected: %v", err)
	}
}

func TestMaxClientsEnforced(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.MaxClients = 1
	})
	f.attach(t, "first")
	if _, err := f.session.AddClient(AddClientParams{}); !errors.Is(err, ErrSessionFull) {
		t.Fatalf("over-capacity err = %v, want ErrSessionFull", err)
	}
}

func TestControllerInputReachesSink(t *testing.T) {
	f := newFixture(t, nil)
	controller := f.attach(t, "controller")
	f.takeControl(t, controller.ClientID)

	ack, err := f.session.ProcessInput(controller.ClientID, inputText(1, "x"))
	if err != nil {
		t.Fatalf("ProcessInput failed: %v", err)
	}
	if ack == nil || ack.AckedSeq != 1 {
		t.Fatalf("ack = %+v, want acked_seq 1", ack)
	}
	if len(f.sink.events) != 1 || f.sink.events[0].Text != "x" {
		t.Fatalf("sink events = %v, want the delivered text", f.sink.events)
	}
}

func TestViewerInputAckedButNotForwarded(t *testing.T) {
	f := newFixture(t, nil)
	controller := f.attach(t, "controller")
	viewer := f.attach(t, "viewer")
	f.takeControl(t, controller.ClientID)

	ack, err := f.session.ProcessInput(viewer.ClientID, inputText(1, "x"))
	if err != nil {
		t.Fatalf("viewer input errored: %v", err)
	}
	if ack == nil || ack.AckedSeq != 1 {
		t.Fatalf("viewer ack = %+v, want cumulative ack 1", ack)
	}
	if len(f.sink.events) != 0 {
		t.Fatal("viewer input must never reach the PTY sink")
	}
}

func TestInputExactlyOnceInOrder(t *testing.T) {
	f := newFixture(t, nil)
	controller := f.attach(t, "controller")
	f.takeControl(t, controller.ClientID)

	// Reordered with duplicates: 1, 3, 3, 2, 2, 4.
	for _, seq := range []uint64{1, 3, 3, 2, 2, 4} {
		if _, err := f.session.ProcessInput(controller.ClientID, inputText(seq, "k")); err != nil {
			t.Fatalf("seq %d: %v", seq, err)
		}
	}
	if len(f.sink.events) != 4 {
		t.Fatalf("sink saw %d events, want 4", len(f.sink.events))
	}
	for i, event := range f.sink.events {
		if event.InputSeq != uint64(i+1) {
			t.Fatalf("sink order %v, want strictly increasing seqs", f.sink.events)
		}
	}
}

func TestLeaseTakeoverFlow(t *testing.T) {
	f := newFixture(t, nil)
	a := f.attach(t, "a")
	b := f.attach(t, "b")
	f.takeControl(t, a.ClientID)

	// Unforced request under explicit_only is denied.
	outcome := f.session.RequestControl(b.ClientID, &wire.RequestControl{})
	if outcome.Reply == nil || outcome.Reply.DenyControl == nil {
		t.Fatal("unforced takeover should be denied")
	}

	// Forced takeover grants B, revokes A, and propagates B's size.
	outcome = f.session.RequestControl(b.ClientID, &wire.RequestControl{
		DesiredSize: &wire.DisplaySize{Cols: 100, Rows: 30},
		Force:       true,
	})
	if outcome.Reply == nil || outcome.Reply.GrantControl == nil {
		t.Fatal("forced takeover should be granted")
	}
	if outcome.Revocation == nil || outcome.Revocation.ClientID != a.ClientID {
		t.Fatalf("revocation = %+v, want notice to client A", outcome.Revocation)
	}
	if outcome.Revocation.Message.Reason != "takeover" {
		t.Errorf("revocation reason = %q, want takeover", outcome.Revocation.Message.Reason)
	}

	last := f.viewport.sizes[len(f.viewport.sizes)-1]
	if last.Cols != 100 || last.Rows != 30 {
		t.Errorf("viewport = %+v, want 100x30 propagated", last)
	}
	if !f.session.IsController(b.ClientID) || f.session.IsController(a.ClientID) {
		t.Error("ownership did not transfer to B")
	}
}

func TestDisconnectReleasesLease(t *testing.T) {
	f := newFixture(t, nil)
	a := f.attach(t, "a")
	f.takeControl(t, a.ClientID)

	f.session.RemoveClient(a.ClientID)
	if f.session.CurrentLease() != nil {
		t.Fatal("lease should be free after owner disconnect")
	}
	if f.session.HasClient(a.ClientID) {
		t.Fatal("client record should be gone")
	}
}

func TestRenderRoundTripSingleKeystroke(t *testing.T) {
	f := newFixture(t, nil)
	client := f.attach(t, "viewer")

	// Initial attach: snapshot at state 0.
	update := f.session.GetRenderUpdate(client.ClientID)
	if update == nil || update.Snapshot == nil {
		t.Fatal("first update must be a snapshot")
	}
	if update.Snapshot.StateID != 0 {
		t.Fatalf("initial snapshot state = %d, want 0", update.Snapshot.StateID)
	}
	f.session.ApplyStateAck(client.ClientID, &wire.StateAck{LastAppliedStateID: 0})

	// One keystroke commits state 1.
	id := f.session.CommitFrameUpdate(func(store *screen.FrameStore, styles *screen.StyleTable) {
		store.SetCell(3, 7, screen.Cell{Codepoint: 'X', Width: 1})
	})
	if id != 1 {
		t.Fatalf("commit id = %d, want 1", id)
	}

	update = f.session.GetRenderUpdate(client.ClientID)
	if update == nil || update.Delta == nil {
		t.Fatalf("update = %+v, want a delta", update)
	}
	delta := update.Delta
	if delta.BaseStateID != 0 || delta.StateID != 1 {
		t.Fatalf("delta ids = (%d,%d), want (0,1)", delta.BaseStateID, delta.StateID)
	}
	if len(delta.RowPatches) != 1 || delta.RowPatches[0].Row != 3 {
		t.Fatalf("patches = %+v, want single patch for row 3", delta.RowPatches)
	}
	run := delta.RowPatches[0].Runs[0]
	if run.ColStart != 7 || run.Codepoints[0] != 'X' {
		t.Fatalf("run = %+v, want 'X' at col 7", run)
	}
}

func TestWatermarkAdvancesWithControllerInput(t *testing.T) {
	f := newFixture(t, nil)
	controller := f.attach(t, "c")
	f.takeControl(t, controller.ClientID)
	f.session.ProcessInput(controller.ClientID, inputText(1, "a"))
	f.session.ProcessInput(controller.ClientID, inputText(2, "b"))

	f.session.GetRenderUpdate(controller.ClientID) // initial snapshot
	f.session.ApplyStateAck(controller.ClientID, &wire.StateAck{LastAppliedStateID: 0})
	f.session.CommitFrameUpdate(func(store *screen.FrameStore, styles *screen.StyleTable) {
		store.SetCell(0, 0, screen.Cell{Codepoint: 'a', Width: 1})
	})

	update := f.session.GetRenderUpdate(controller.ClientID)
	if update == nil || update.Delta == nil {
		t.Fatal("expected delta")
	}
	if update.Delta.DeliveredInputWatermark != 2 {
		t.Fatalf("watermark = %d, want 2", update.Delta.DeliveredInputWatermark)
	}
}

func TestResumeTokenReclaimsClientID(t *testing.T) {
	f := newFixture(t, nil)
	original := f.attach(t, "mobile")
	if len(original.ResumeToken) == 0 {
		t.Fatal("attach should mint a resume token")
	}
	f.takeControl(t, original.ClientID)
	f.session.RemoveClient(original.ClientID)

	resumed, err := f.session.AddClient(AddClientParams{
		ClientName:  "mobile",
		ResumeToken: original.ResumeToken,
	})
	if err != nil {
		t.Fatalf("resume attach failed: %v", err)
	}
	if resumed.ClientID != original.ClientID {
		t.Fatalf("resumed client id = %d, want %d", resumed.ClientID, original.ClientID)
	}
	if resumed.SessionState != wire.SessionStateResurrected {
		t.Errorf("session state = %v, want resurrected", resumed.SessionState)
	}
	// The lease is not regranted automatically.
	if f.session.IsController(resumed.ClientID) {
		t.Error("resume must not silently regrant the lease")
	}
	// The resumed client starts with a fresh snapshot, never a delta.
	update := f.session.GetRenderUpdate(resumed.ClientID)
	if update == nil || update.Snapshot == nil {
		t.Fatal("resumed client must be re-seeded with a snapshot")
	}
}

func TestResumeTokenForActiveClientIgnored(t *testing.T) {
	f := newFixture(t, nil)
	original := f.attach(t, "mobile")

	// The original is still attached; replaying its token must mint a
	// fresh id instead of hijacking the live record.
	replayed, err := f.session.AddClient(AddClientParams{ResumeToken: original.ResumeToken})
	if err != nil {
		t.Fatalf("replay attach failed: %v", err)
	}
	if replayed.ClientID == original.ClientID {
		t.Fatal("token replay reclaimed an in-use client id")
	}
}

func TestResizeForcesSnapshotsToAllClients(t *testing.T) {
	f := newFixture(t, nil)
	a := f.attach(t, "a")
	b := f.attach(t, "b")
	for _, id := range []uint64{a.ClientID, b.ClientID} {
		f.session.GetRenderUpdate(id)
		f.session.ApplyStateAck(id, &wire.StateAck{LastAppliedStateID: 0})
	}

	f.session.ResizeViewport(100, 30)
	f.session.CommitFrameUpdate(func(store *screen.FrameStore, styles *screen.StyleTable) {})

	for _, id := range []uint64{a.ClientID, b.ClientID} {
		update := f.session.GetRenderUpdate(id)
		if update == nil || update.Snapshot == nil {
			t.Fatalf("client %d: resize must force a snapshot", id)
		}
		if update.Snapshot.Size.Cols != 100 || update.Snapshot.Size.Rows != 30 {
			t.Fatalf("snapshot size = %+v, want 100x30", update.Snapshot.Size)
		}
	}
}

func TestGapTimeoutFlagsClient(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.InputGapTimeout = 2 * time.Second
	})
	client := f.attach(t, "laggy")
	f.session.ProcessInput(client.ClientID, inputText(1, "a"))
	f.session.ProcessInput(client.ClientID, inputText(3, "c")) // gap at 2

	if timedOut := f.session.TickInputGaps(); len(timedOut) != 0 {
		t.Fatal("gap should not time out immediately")
	}
	f.clk.Advance(3 * time.Second)
	timedOut := f.session.TickInputGaps()
	if len(timedOut) != 1 || timedOut[0] != client.ClientID {
		t.Fatalf("timed out = %v, want the laggy client", timedOut)
	}
}

func TestLeaseTimeoutTick(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.LeaseDuration = 5 * time.Second
	})
	a := f.attach(t, "a")
	f.takeControl(t, a.ClientID)

	f.clk.Advance(6 * time.Second)
	notice := f.session.TickLease()
	if notice == nil || notice.ClientID != a.ClientID || notice.Message.Reason != "timeout" {
		t.Fatalf("notice = %+v, want timeout revocation to A", notice)
	}
}

func TestStateAckFromOneClientDoesNotMoveAnother(t *testing.T) {
	f := newFixture(t, nil)
	a := f.attach(t, "a")
	b := f.attach(t, "b")
	f.session.GetRenderUpdate(a.ClientID)
	f.session.GetRenderUpdate(b.ClientID)

	f.session.ApplyStateAck(a.ClientID, &wire.StateAck{LastAppliedStateID: 0})
	f.session.CommitFrameUpdate(func(store *screen.FrameStore, styles *screen.StyleTable) {
		store.SetCell(0, 0, screen.Cell{Codepoint: 'z', Width: 1})
	})

	// A has a baseline and gets a delta; B never acked and must get
	// another snapshot.
	if update := f.session.GetRenderUpdate(a.ClientID); update == nil || update.Delta == nil {
		t.Fatal("client A should get a delta")
	}
	if update := f.session.GetRenderUpdate(b.ClientID); update == nil || update.Snapshot == nil {
		t.Fatal("client B should still get snapshots")
	}
}
