// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

package screen

import (
	"time"

	"github.com/zrp-foundation/zrp/lib/clock"
)

// DefaultHistorySize is the number of committed frames the history
// ring retains when the configuration does not say otherwise.
const DefaultHistorySize = 32

// HistoryEntry is one committed frame together with the rows that
// changed since the previous commit. Dirty rows are stored sorted so
// every consumer sees a stable patch order.
type HistoryEntry struct {
	StateID   uint64
	Frame     Frame
	DirtyRows []int
	At        time.Time
}

// StateHistory is a bounded ring of recent committed frames, oldest
// evicted first. It serves two needs: validating that a client's
// acked baseline is still known (otherwise the client must be
// re-snapshotted), and providing the dirty-row union for delta
// candidate selection.
type StateHistory struct {
	entries []HistoryEntry
	maxSize int
	clk     clock.Clock
}

// NewStateHistory returns an empty history retaining at most maxSize
// entries. maxSize <= 0 selects DefaultHistorySize.
func NewStateHistory(maxSize int, clk clock.Clock) *StateHistory {
	if maxSize <= 0 {
		maxSize = DefaultHistorySize
	}
	return &StateHistory{
		entries: make([]HistoryEntry, 0, maxSize),
		maxSize: maxSize,
		clk:     clk,
	}
}

// Push appends a committed frame, evicting the oldest entry when full.
func (h *StateHistory) Push(stateID uint64, frame Frame, dirtyRows []int) {
	if len(h.entries) >= h.maxSize {
		copy(h.entries, h.entries[1:])
		h.entries = h.entries[:len(h.entries)-1]
	}
	h.entries = append(h.entries, HistoryEntry{
		StateID:   stateID,
		Frame:     frame,
		DirtyRows: dirtyRows,
		At:        h.clk.Now(),
	})
}

// Get returns the frame committed at stateID.
func (h *StateHistory) Get(stateID uint64) (Frame, bool) {
	for i := range h.entries {
		if h.entries[i].StateID == stateID {
			return h.entries[i].Frame, true
		}
	}
	return Frame{}, false
}

// Contains reports whether stateID is still retained.
func (h *StateHistory) Contains(stateID uint64) bool {
	_, ok := h.Get(stateID)
	return ok
}

// DirtyRowsSince returns the sorted union of dirty rows for every
// retained state in (baseStateID, newestStateID]. The second return is
// false when the range is not fully covered by the ring — the caller
// must fall back to a snapshot or full row comparison.
func (h *StateHistory) DirtyRowsSince(baseStateID uint64) ([]int, bool) {
	if len(h.entries) == 0 {
		return nil, false
	}
	// The base itself does not need to be retained, but every state
	// after it does: the entry immediately following the base must be
	// base+1, otherwise evicted commits hide dirty rows.
	union := make(map[int]struct{})
	expected := baseStateID + 1
	covered := false
	for i := range h.entries {
		entry := &h.entries[i]
		if entry.StateID <= baseStateID {
			continue
		}
		if entry.StateID != expected {
			return nil, false
		}
		expected++
		covered = true
		for _, row := range entry.DirtyRows {
			union[row] = struct{}{}
		}
	}
	if !covered {
		return nil, false
	}
	rows := make([]int, 0, len(union))
	for row := range union {
		rows = append(rows, row)
	}
	sortInts(rows)
	return rows, true
}

// OldestStateID returns the oldest retained state id.
func (h *StateHistory) OldestStateID() (uint64, bool) {
	if len(h.entries) == 0 {
		return 0, false
	}
	return h.entries[0].StateID, true
}

// NewestStateID returns the newest retained state id.
func (h *StateHistory) NewestStateID() (uint64, bool) {
	if len(h.entries) == 0 {
		return 0, false
	}
	return h.entries[len(h.entries)-1].StateID, true
}

// PruneOlderThan drops entries committed more than maxAge ago.
func (h *StateHistory) PruneOlderThan(maxAge time.Duration) {
	cutoff := h.clk.Now().Add(-maxAge)
	kept := 0
	for kept < len(h.entries) && h.entries[kept].At.Before(cutoff) {
		kept++
	}
	if kept > 0 {
		copy(h.entries, h.entries[kept:])
		h.entries = h.entries[:len(h.entries)-kept]
	}
}

// Len returns the number of retained entries.
func (h *StateHistory) Len() int {
	return len(h.entries)
}

// Clear drops every entry. Used on resize, when historical frames can
// no longer serve as delta baselines.
func (h *StateHistory) Clear() {
	h.entries = h.entries[:0]
}

// sortInts is an insertion sort: dirty-row sets are small (bounded by
// screen height) and usually nearly sorted.
func sortInts(values []int) {
	for i := 1; i < len(values); i++ {
		for j := i; j > 0 && values[j] < values[j-1]; j-- {
			values[j], values[j-1] = values[j-1], values[j]
		}
	}
}
