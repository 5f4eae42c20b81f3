// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

// Package lease arbitrates write access among attached clients.
//
// At most one client holds the controller lease at any instant; only
// the holder's input reaches the PTY and only the holder drives the
// session viewport. The manager is exclusively owned by the session
// task, so no locking happens here — transitions are totally ordered
// by arrival order at the session.
package lease

import (
	"fmt"
	"time"

	"github.com/zrp-foundation/zrp/lib/clock"
	"github.com/zrp-foundation/zrp/lib/wire"
)

// DefaultDuration is the lease lifetime when the configuration does
// not say otherwise. The owner refreshes with keepalives well inside
// this interval.
const DefaultDuration = 30 * time.Second

// Revocation describes a lease that ended for a reason other than the
// owner releasing it. The session notifies the previous owner.
type Revocation struct {
	LeaseID uint64
	Owner   uint64
	Reason  string
}

// Decision is the outcome of a RequestControl call. When Granted is
// false, DenyReason and CurrentLease describe the standing lease so
// the requester can retry with force. When a grant displaced a
// previous owner, Revoked carries the notification to send them.
type Decision struct {
	Granted      bool
	Lease        *wire.ControllerLease
	DenyReason   string
	CurrentLease *wire.ControllerLease
	Revoked      *Revocation
}

// heldLease is the manager's record of the active lease.
type heldLease struct {
	leaseID       uint64
	owner         uint64
	size          wire.DisplaySize
	lastKeepalive time.Time
}

// Manager is the controller-lease state machine: Free, or Held by
// exactly one client.
type Manager struct {
	clk         clock.Clock
	policy      wire.ControllerPolicy
	duration    time.Duration
	nextLeaseID uint64
	held        *heldLease
}

// NewManager creates a free lease manager. duration <= 0 selects
// DefaultDuration.
func NewManager(policy wire.ControllerPolicy, duration time.Duration, clk clock.Clock) *Manager {
	if duration <= 0 {
		duration = DefaultDuration
	}
	return &Manager{
		clk:         clk,
		policy:      policy,
		duration:    duration,
		nextLeaseID: 1,
	}
}

// Policy returns the configured takeover policy.
func (m *Manager) Policy() wire.ControllerPolicy {
	return m.policy
}

// RequestControl processes a control request per the policy table:
// a free lease is always granted; the owner re-requesting refreshes;
// a non-owner takes over when the policy is last_writer_wins or the
// request is forced, and is denied otherwise.
func (m *Manager) RequestControl(clientID uint64, desired *wire.DisplaySize, force bool) Decision {
	size := wire.DisplaySize{Cols: 80, Rows: 24}
	if desired != nil {
		size = *desired
	}

	if m.held == nil {
		lease := m.grant(clientID, size)
		return Decision{Granted: true, Lease: lease}
	}

	if m.held.owner == clientID {
		m.held.lastKeepalive = m.clk.Now()
		if desired != nil {
			m.held.size = *desired
		}
		return Decision{Granted: true, Lease: m.CurrentLease()}
	}

	takeover := force
	if m.policy == wire.ControllerPolicyLastWriterWins {
		takeover = true
	}
	if !takeover {
		return Decision{
			DenyReason: fmt.Sprintf("lease held by client %d (policy: %s)",
				m.held.owner, m.policy),
			CurrentLease: m.CurrentLease(),
		}
	}

	revoked := &Revocation{
		LeaseID: m.held.leaseID,
		Owner:   m.held.owner,
		Reason:  "takeover",
	}
	lease := m.grant(clientID, size)
	return Decision{Granted: true, Lease: lease, Revoked: revoked}
}

// grant installs a fresh lease for clientID and returns its wire form.
func (m *Manager) grant(clientID uint64, size wire.DisplaySize) *wire.ControllerLease {
	m.held = &heldLease{
		leaseID:       m.nextLeaseID,
		owner:         clientID,
		size:          size,
		lastKeepalive: m.clk.Now(),
	}
	m.nextLeaseID++
	return m.CurrentLease()
}

// KeepAlive refreshes the lease. Keepalives from anyone but the owner
// of the named lease are ignored.
func (m *Manager) KeepAlive(clientID, leaseID uint64) bool {
	if m.held == nil || m.held.owner != clientID || m.held.leaseID != leaseID {
		return false
	}
	m.held.lastKeepalive = m.clk.Now()
	return true
}

// Release frees the lease if clientID owns the named lease.
func (m *Manager) Release(clientID, leaseID uint64) bool {
	if m.held == nil || m.held.owner != clientID || m.held.leaseID != leaseID {
		return false
	}
	m.held = nil
	return true
}

// SetSize updates the authoritative viewport of a held lease. Only the
// owner of the named lease may resize.
func (m *Manager) SetSize(clientID, leaseID uint64, size wire.DisplaySize) bool {
	if m.held == nil || m.held.owner != clientID || m.held.leaseID != leaseID {
		return false
	}
	m.held.size = size
	return true
}

// Tick checks for keepalive timeout. Returns the revocation to deliver
// when the lease expired, nil otherwise.
func (m *Manager) Tick() *Revocation {
	if m.held == nil {
		return nil
	}
	if m.clk.Now().Sub(m.held.lastKeepalive) <= m.duration {
		return nil
	}
	revoked := &Revocation{LeaseID: m.held.leaseID, Owner: m.held.owner, Reason: "timeout"}
	m.held = nil
	return revoked
}

// RemoveClient releases the lease when the departing client owns it.
func (m *Manager) RemoveClient(clientID uint64) *Revocation {
	if m.held == nil || m.held.owner != clientID {
		return nil
	}
	revoked := &Revocation{LeaseID: m.held.leaseID, Owner: m.held.owner, Reason: "disconnect"}
	m.held = nil
	return revoked
}

// IsController reports whether clientID currently holds the lease.
func (m *Manager) IsController(clientID uint64) bool {
	return m.held != nil && m.held.owner == clientID
}

// CurrentLease returns the wire form of the held lease with its
// remaining time, or nil when free.
func (m *Manager) CurrentLease() *wire.ControllerLease {
	if m.held == nil {
		return nil
	}
	remaining := m.duration - m.clk.Now().Sub(m.held.lastKeepalive)
	if remaining < 0 {
		remaining = 0
	}
	return &wire.ControllerLease{
		LeaseID:       m.held.leaseID,
		OwnerClientID: m.held.owner,
		Policy:        m.policy,
		CurrentSize:   m.held.size,
		DurationMS:    uint32(m.duration / time.Millisecond),
		RemainingMS:   uint32(remaining / time.Millisecond),
	}
}

// CurrentSize returns the lease's authoritative viewport. The second
// return is false when the lease is free.
func (m *Manager) CurrentSize() (wire.DisplaySize, bool) {
	if m.held == nil {
		return wire.DisplaySize{}, false
	}
	return m.held.size, true
}
