// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

package lease

import (
	"testing"
	"time"

	"github.com/zrp-foundation/zrp/lib/clock"
	"github.com/zrp-foundation/zrp/lib/wire"
)

func newManager(policy wire.ControllerPolicy) (*Manager, *clock.FakeClock) {
	clk := clock.Fake(time.Unix(0, 0))
	return NewManager(policy, 30*time.Second, clk), clk
}

func TestFreeLeaseGranted(t *testing.T) {
	manager, _ := newManager(wire.ControllerPolicyExplicitOnly)
	decision := manager.RequestControl(1, &wire.DisplaySize{Cols: 80, Rows: 24}, false)
	if !decision.Granted || decision.Lease == nil {
		t.Fatal("free lease not granted")
	}
	if decision.Lease.OwnerClientID != 1 {
		t.Errorf("owner = %d, want 1", decision.Lease.OwnerClientID)
	}
	if decision.Revoked != nil {
		t.Error("grant from free state produced a revocation")
	}
	if !manager.IsController(1) {
		t.Error("client 1 should be controller")
	}
}

func TestOwnerRerequestRefreshes(t *testing.T) {
	manager, clk := newManager(wire.ControllerPolicyExplicitOnly)
	first := manager.RequestControl(1, nil, false)
	clk.Advance(20 * time.Second)

	second := manager.RequestControl(1, nil, false)
	if !second.Granted {
		t.Fatal("owner re-request denied")
	}
	if second.Lease.LeaseID != first.Lease.LeaseID {
		t.Error("owner re-request minted a new lease id")
	}
	// Refreshed: another 25s does not expire a 30s lease.
	clk.Advance(25 * time.Second)
	if revoked := manager.Tick(); revoked != nil {
		t.Fatal("refreshed lease expired prematurely")
	}
}

func TestExplicitOnlyDeniesUnforcedTakeover(t *testing.T) {
	manager, _ := newManager(wire.ControllerPolicyExplicitOnly)
	manager.RequestControl(1, nil, false)

	decision := manager.RequestControl(2, nil, false)
	if decision.Granted {
		t.Fatal("explicit_only granted unforced takeover")
	}
	if decision.CurrentLease == nil || decision.CurrentLease.OwnerClientID != 1 {
		t.Error("denial should report the standing lease")
	}
	if !manager.IsController(1) {
		t.Error("denial changed the owner")
	}
}

func TestExplicitOnlyForcedTakeover(t *testing.T) {
	manager, _ := newManager(wire.ControllerPolicyExplicitOnly)
	first := manager.RequestControl(1, &wire.DisplaySize{Cols: 80, Rows: 24}, false)

	decision := manager.RequestControl(2, &wire.DisplaySize{Cols: 100, Rows: 30}, true)
	if !decision.Granted {
		t.Fatal("forced takeover denied")
	}
	if decision.Revoked == nil || decision.Revoked.Owner != 1 ||
		decision.Revoked.LeaseID != first.Lease.LeaseID ||
		decision.Revoked.Reason != "takeover" {
		t.Fatalf("revocation = %+v, want takeover of client 1's lease", decision.Revoked)
	}
	if !manager.IsController(2) || manager.IsController(1) {
		t.Error("ownership did not transfer")
	}
	size, ok := manager.CurrentSize()
	if !ok || size.Cols != 100 || size.Rows != 30 {
		t.Errorf("lease size = %+v, want the taker's desired 100x30", size)
	}
}

func TestLastWriterWinsTakeover(t *testing.T) {
	manager, _ := newManager(wire.ControllerPolicyLastWriterWins)
	manager.RequestControl(1, nil, false)

	decision := manager.RequestControl(2, nil, false)
	if !decision.Granted || decision.Revoked == nil {
		t.Fatal("last_writer_wins should grant unforced takeover with revocation")
	}
	if !manager.IsController(2) {
		t.Error("client 2 should own the lease")
	}
}

func TestKeepAliveOnlyFromOwner(t *testing.T) {
	manager, clk := newManager(wire.ControllerPolicyExplicitOnly)
	granted := manager.RequestControl(1, nil, false)
	leaseID := granted.Lease.LeaseID

	if manager.KeepAlive(2, leaseID) {
		t.Error("keepalive from non-owner accepted")
	}
	if manager.KeepAlive(1, leaseID+1) {
		t.Error("keepalive with wrong lease id accepted")
	}

	clk.Advance(20 * time.Second)
	if !manager.KeepAlive(1, leaseID) {
		t.Fatal("owner keepalive rejected")
	}
	clk.Advance(20 * time.Second)
	if revoked := manager.Tick(); revoked != nil {
		t.Fatal("lease expired despite keepalive")
	}
}

func TestTimeoutRevokes(t *testing.T) {
	manager, clk := newManager(wire.ControllerPolicyExplicitOnly)
	granted := manager.RequestControl(1, nil, false)

	clk.Advance(31 * time.Second)
	revoked := manager.Tick()
	if revoked == nil || revoked.Reason != "timeout" || revoked.LeaseID != granted.Lease.LeaseID {
		t.Fatalf("revocation = %+v, want timeout of granted lease", revoked)
	}
	if manager.CurrentLease() != nil {
		t.Error("lease should be free after timeout")
	}
	// A later tick is a no-op.
	if manager.Tick() != nil {
		t.Error("tick on free lease produced a revocation")
	}
}

func TestReleaseThenKeepAliveIgnored(t *testing.T) {
	manager, _ := newManager(wire.ControllerPolicyExplicitOnly)
	granted := manager.RequestControl(1, nil, false)
	leaseID := granted.Lease.LeaseID

	if !manager.Release(1, leaseID) {
		t.Fatal("owner release rejected")
	}
	// A keepalive arriving after the release in the same batch is a
	// non-owner no-op: the lease is free.
	if manager.KeepAlive(1, leaseID) {
		t.Error("keepalive after release accepted")
	}
	if manager.CurrentLease() != nil {
		t.Error("lease should be free after release")
	}
}

func TestDisconnectRevokes(t *testing.T) {
	manager, _ := newManager(wire.ControllerPolicyExplicitOnly)
	manager.RequestControl(1, nil, false)

	if revoked := manager.RemoveClient(2); revoked != nil {
		t.Error("removing a viewer revoked the lease")
	}
	revoked := manager.RemoveClient(1)
	if revoked == nil || revoked.Reason != "disconnect" {
		t.Fatalf("revocation = %+v, want disconnect", revoked)
	}
	if manager.CurrentLease() != nil {
		t.Error("lease should be free after owner disconnect")
	}
}

func TestSetSizeUpdatesViewport(t *testing.T) {
	manager, _ := newManager(wire.ControllerPolicyExplicitOnly)
	granted := manager.RequestControl(1, nil, false)

	if manager.SetSize(2, granted.Lease.LeaseID, wire.DisplaySize{Cols: 1, Rows: 1}) {
		t.Error("non-owner resize accepted")
	}
	if !manager.SetSize(1, granted.Lease.LeaseID, wire.DisplaySize{Cols: 132, Rows: 43}) {
		t.Fatal("owner resize rejected")
	}
	size, _ := manager.CurrentSize()
	if size.Cols != 132 || size.Rows != 43 {
		t.Errorf("size = %+v, want 132x43", size)
	}
}

func TestRemainingDecreasesWithTime(t *testing.T) {
	manager, clk := newManager(wire.ControllerPolicyExplicitOnly)
	manager.RequestControl(1, nil, false)

	clk.Advance(10 * time.Second)
	lease := manager.CurrentLease()
	if lease.RemainingMS != 20000 {
		t.Errorf("remaining = %d ms, want 20000", lease.RemainingMS)
	}
	if lease.DurationMS != 30000 {
		t.Errorf("duration = %d ms, want 30000", lease.DurationMS)
	}
}
