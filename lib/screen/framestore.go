// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

package screen

import (
	"github.com/zrp-foundation/zrp/lib/clock"
	"github.com/zrp-foundation/zrp/lib/wire"
)

// FrameStore owns the authoritative screen. The renderer mutates it
// between commits; AdvanceState seals the accumulated mutations into
// an immutable frame with the next monotonic state id.
//
// Copy-on-write discipline: after a commit every row handle is shared
// with the committed frame (and possibly older frames). The first
// mutation of a row in a new commit interval replaces the handle with
// a fresh clone, so committed frames never change underneath a client
// baseline. The dirty set doubles as the uniquely-owned set — a row
// marked dirty this interval has already been cloned.
type FrameStore struct {
	rows    []*Row
	cols    int
	cursor  wire.CursorState
	stateID uint64
	dirty   map[int]struct{}
	history *StateHistory
	resized bool
}

// NewFrameStore creates a store with a default-filled cols x rows
// screen at state id 0. historySize bounds the committed-frame ring.
func NewFrameStore(cols, rows, historySize int, clk clock.Clock) *FrameStore {
	frame := NewFrame(cols, rows)
	store := &FrameStore{
		rows:    frame.Rows,
		cols:    cols,
		cursor:  frame.Cursor,
		dirty:   make(map[int]struct{}),
		history: NewStateHistory(historySize, clk),
	}
	// Seed history with the pristine frame at state 0 so a client
	// snapshotted at attach time has a retained baseline before the
	// first commit. The row slice is copied: the store mutates its
	// own slice in place, and the seeded frame must not see that.
	initialRows := make([]*Row, len(frame.Rows))
	copy(initialRows, frame.Rows)
	store.history.Push(0, Frame{Rows: initialRows, Cols: cols, Cursor: frame.Cursor}, nil)
	return store
}

// CurrentStateID returns the id of the most recent commit, 0 before
// the first.
func (fs *FrameStore) CurrentStateID() uint64 {
	return fs.stateID
}

// Rows returns the screen height.
func (fs *FrameStore) Rows() int {
	return len(fs.rows)
}

// Cols returns the screen width.
func (fs *FrameStore) Cols() int {
	return fs.cols
}

// History exposes the committed-frame ring.
func (fs *FrameStore) History() *StateHistory {
	return fs.history
}

// UpdateRow applies mutate to the cells of row idx, cloning the row
// first if it is still shared with a committed frame. Out-of-range
// indices are ignored.
func (fs *FrameStore) UpdateRow(idx int, mutate func(cells []Cell)) {
	if idx < 0 || idx >= len(fs.rows) {
		return
	}
	if _, alreadyOwned := fs.dirty[idx]; !alreadyOwned {
		fs.rows[idx] = fs.rows[idx].clone()
		fs.dirty[idx] = struct{}{}
	}
	mutate(fs.rows[idx].cells)
}

// SetCell replaces a single cell.
func (fs *FrameStore) SetCell(row, col int, cell Cell) {
	if col < 0 || col >= fs.cols {
		return
	}
	fs.UpdateRow(row, func(cells []Cell) {
		cells[col] = cell
	})
}

// SetRow replaces the whole row with the given cells, truncating or
// padding with defaults to the screen width.
func (fs *FrameStore) SetRow(idx int, cells []Cell) {
	fs.UpdateRow(idx, func(target []Cell) {
		n := copy(target, cells)
		for i := n; i < len(target); i++ {
			target[i] = DefaultCell()
		}
	})
}

// SetCursor replaces the cursor. Cursor changes are always carried by
// the next update regardless of the dirty set.
func (fs *FrameStore) SetCursor(cursor wire.CursorState) {
	fs.cursor = cursor
}

// AdvanceState seals the accumulated mutations into an immutable frame
// tagged with the next state id and the given style epoch, records it
// (with its sorted dirty-row set) in history, clears the dirty set,
// and returns the new id.
func (fs *FrameStore) AdvanceState(styleEpoch uint32) uint64 {
	fs.stateID++

	// Alias the row handles — this is the structural sharing that
	// keeps per-session memory bounded and makes pointer-equality
	// delta candidate selection work. Never deep-copy here.
	rows := make([]*Row, len(fs.rows))
	copy(rows, fs.rows)
	frame := Frame{Rows: rows, Cols: fs.cols, Cursor: fs.cursor, StyleEpoch: styleEpoch}

	dirtyRows := make([]int, 0, len(fs.dirty))
	for idx := range fs.dirty {
		dirtyRows = append(dirtyRows, idx)
	}
	sortInts(dirtyRows)

	fs.history.Push(fs.stateID, frame, dirtyRows)
	clear(fs.dirty)
	fs.resized = false
	return fs.stateID
}

// CurrentFrame returns a frame view of the uncommitted working state.
// The caller must not retain it across further mutations; committed
// frames come from AdvanceState and History.
func (fs *FrameStore) CurrentFrame(styleEpoch uint32) Frame {
	rows := make([]*Row, len(fs.rows))
	copy(rows, fs.rows)
	return Frame{Rows: rows, Cols: fs.cols, Cursor: fs.cursor, StyleEpoch: styleEpoch}
}

// LatestFrame returns the most recently committed frame; before the
// first commit that is the pristine frame seeded at state 0. It
// returns false when history no longer holds the current state (after
// Resize, until the next commit).
func (fs *FrameStore) LatestFrame() (Frame, bool) {
	return fs.history.Get(fs.stateID)
}

// Resized reports whether the screen changed dimensions since the last
// commit. The session uses this to force-snapshot every client on the
// commit that carries a resize.
func (fs *FrameStore) Resized() bool {
	return fs.resized
}

// Resize changes the screen dimensions. Rows are truncated or extended
// with default-filled rows; width changes clone every surviving row.
// All rows become dirty, and history is cleared — frames with the old
// geometry cannot serve as delta baselines, so every client will be
// re-snapshotted.
func (fs *FrameStore) Resize(newCols, newRows int) {
	if newCols == fs.cols && newRows == len(fs.rows) {
		return
	}

	rows := make([]*Row, newRows)
	for i := 0; i < newRows; i++ {
		if i < len(fs.rows) {
			if newCols != fs.cols {
				rows[i] = fs.rows[i].cloneResized(newCols)
			} else {
				rows[i] = fs.rows[i].clone()
			}
		} else {
			rows[i] = NewRow(newCols)
		}
	}
	fs.rows = rows
	fs.cols = newCols

	clear(fs.dirty)
	for i := range rows {
		fs.dirty[i] = struct{}{}
	}
	fs.history.Clear()
	fs.resized = true

	// Clamp the cursor into the new geometry.
	if fs.cursor.Row >= uint32(newRows) && newRows > 0 {
		fs.cursor.Row = uint32(newRows - 1)
	}
	if fs.cursor.Col >= uint32(newCols) && newCols > 0 {
		fs.cursor.Col = uint32(newCols - 1)
	}
}
