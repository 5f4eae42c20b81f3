// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"sync/atomic"
)

var uniqueCounter atomic.Uint64

// UniqueID returns a string of the form "prefix-N" where N is a
// monotonically increasing integer. Use this instead of time.Now() when
// tests need unique identifiers for session names or client labels that
// must be distinguishable in shared logs.
//
//	session := testutil.UniqueID("session")  // "session-1", "session-2", ...
//	client := testutil.UniqueID("viewer")    // "viewer-3", ...
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, uniqueCounter.Add(1))
}
