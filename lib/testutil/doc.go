// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for ZRP packages.
//
// [RequireReceive], [RequireSend], and [RequireClosed] encapsulate the
// timeout safety valve pattern (select with time.After fallback) so
// that individual tests do not need direct time.After calls. Apart from
// lib/clock's own tests, these are the only place in the test suite
// where real wall-clock timeouts are used. The sync core's timing goes
// through lib/clock; the transport and the server's handshake deadline
// use real time.
//
// [UniqueID] generates monotonically increasing identifiers for test
// disambiguation. Use it instead of time.Now() when tests need unique
// session names or client labels.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no ZRP-internal dependencies.
package testutil
