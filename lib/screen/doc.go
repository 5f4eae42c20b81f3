// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

// Package screen holds the authoritative terminal state and computes
// the updates that ship to clients.
//
// The data model is built around structurally shared rows: a [Row] is
// immutable once it appears in a committed [Frame], and frames alias
// row pointers rather than copying cells. Pointer equality between a
// baseline row and a current row is the O(1) unchanged-row test the
// [Engine] relies on; mutation always goes through [FrameStore] which
// clones a row before its first change in a commit interval.
//
// [FrameStore] accumulates mutations, assigns monotonic state ids on
// commit, and records each committed frame (with its dirty-row set) in
// a bounded [StateHistory]. [StyleTable] interns cell styles to 16-bit
// ids under a generation counter; (epoch, id) is the true style
// identity. [Engine] turns a (baseline, current) frame pair into a
// sparse ScreenDelta, or any frame into a self-contained
// ScreenSnapshot.
package screen
