// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability.
//
// Production code injects [Real]; tests inject [Fake] and drive time
// with Advance. Lease expiry, input gap detection, state-history
// pruning, and the snapshot keepalive interval all depend on elapsed
// time, and all of them take a Clock so their tests are deterministic
// and run without wall-clock sleeps.
//
// The [FakeClock.WaitForTimers] synchronization primitive eliminates
// the race between a goroutine registering a timer and the test
// advancing the clock past its deadline.
package clock
