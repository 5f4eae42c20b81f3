// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

package screen

import (
	"testing"
	"time"

	"github.com/zrp-foundation/zrp/lib/clock"
	"github.com/zrp-foundation/zrp/lib/wire"
)

func storeCursor(row, col uint32) wire.CursorState {
	return wire.CursorState{Row: row, Col: col, Visible: true}
}

func newTestStore(cols, rows int) *FrameStore {
	return NewFrameStore(cols, rows, DefaultHistorySize, clock.Fake(time.Unix(0, 0)))
}

func TestStateIDStrictlyIncreases(t *testing.T) {
	store := newTestStore(80, 24)
	previous := store.CurrentStateID()
	if previous != 0 {
		t.Fatalf("initial state id = %d, want 0", previous)
	}
	for i := 0; i < 100; i++ {
		store.SetCell(i%24, i%80, Cell{Codepoint: 'x', Width: 1})
		id := store.AdvanceState(0)
		if id != previous+1 {
			t.Fatalf("state id %d after %d, want strict +1 increments", id, previous)
		}
		previous = id
	}
}

func TestCommittedFramesAreImmutable(t *testing.T) {
	store := newTestStore(10, 3)
	store.SetCell(1, 1, Cell{Codepoint: 'a', Width: 1})
	store.AdvanceState(0)
	committed, ok := store.LatestFrame()
	if !ok {
		t.Fatal("no latest frame after commit")
	}

	// Mutating the same row after the commit must not change the
	// committed frame: the store clones before the first write of a
	// new interval.
	store.SetCell(1, 1, Cell{Codepoint: 'b', Width: 1})
	store.AdvanceState(0)

	cell, _ := committed.Row(1).Cell(1)
	if cell.Codepoint != 'a' {
		t.Fatalf("committed frame changed under mutation: codepoint %c", cell.Codepoint)
	}
}

func TestUnchangedRowsAreShared(t *testing.T) {
	store := newTestStore(10, 3)
	store.SetCell(0, 0, Cell{Codepoint: 'a', Width: 1})
	store.AdvanceState(0)
	first, _ := store.LatestFrame()

	store.SetCell(2, 0, Cell{Codepoint: 'b', Width: 1})
	store.AdvanceState(0)
	second, _ := store.LatestFrame()

	if first.Rows[0] != second.Rows[0] || first.Rows[1] != second.Rows[1] {
		t.Error("untouched rows should alias the same handle across commits")
	}
	if first.Rows[2] == second.Rows[2] {
		t.Error("mutated row must be a fresh allocation")
	}
}

func TestDirtyRowsRecordedPerCommit(t *testing.T) {
	store := newTestStore(10, 5)
	store.SetCell(4, 0, Cell{Codepoint: 'z', Width: 1})
	store.SetCell(1, 2, Cell{Codepoint: 'y', Width: 1})
	store.AdvanceState(0)

	rows, ok := store.History().DirtyRowsSince(0)
	if !ok {
		t.Fatal("dirty rows since 0 not covered by history")
	}
	if len(rows) != 2 || rows[0] != 1 || rows[1] != 4 {
		t.Fatalf("dirty rows = %v, want [1 4] sorted", rows)
	}

	// A second commit touching row 0 unions with nothing older when
	// asked from state 1.
	store.SetCell(0, 0, Cell{Codepoint: 'x', Width: 1})
	store.AdvanceState(0)
	rows, ok = store.History().DirtyRowsSince(1)
	if !ok || len(rows) != 1 || rows[0] != 0 {
		t.Fatalf("dirty rows since 1 = %v ok=%v, want [0]", rows, ok)
	}

	// From state 0 the union covers both commits.
	rows, ok = store.History().DirtyRowsSince(0)
	if !ok || len(rows) != 3 {
		t.Fatalf("dirty rows since 0 = %v ok=%v, want union of both commits", rows, ok)
	}
}

func TestDirtyRowsUncoveredAfterEviction(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	store := NewFrameStore(10, 2, 2, clk)
	for i := 0; i < 5; i++ {
		store.SetCell(0, 0, Cell{Codepoint: uint32('a' + i), Width: 1})
		store.AdvanceState(0)
	}
	// States 1..3 are evicted (ring holds 2); the union from base 1
	// is no longer reconstructible.
	if _, ok := store.History().DirtyRowsSince(1); ok {
		t.Fatal("DirtyRowsSince should report uncovered after eviction")
	}
	// From base 3 both remaining entries (4, 5) cover the range.
	if _, ok := store.History().DirtyRowsSince(3); !ok {
		t.Fatal("DirtyRowsSince(3) should be covered by retained entries")
	}
}

func TestResizeClearsHistoryAndDirtiesAllRows(t *testing.T) {
	store := newTestStore(10, 3)
	store.SetCell(0, 0, Cell{Codepoint: 'a', Width: 1})
	store.AdvanceState(0)

	store.Resize(8, 5)
	if store.History().Len() != 0 {
		t.Error("resize should clear history")
	}
	if !store.Resized() {
		t.Error("Resized should report true before the next commit")
	}

	id := store.AdvanceState(0)
	if id != 2 {
		t.Fatalf("state id after resize commit = %d, want 2", id)
	}
	if store.Resized() {
		t.Error("Resized should reset on commit")
	}

	frame, _ := store.LatestFrame()
	if frame.Cols != 8 || len(frame.Rows) != 5 {
		t.Fatalf("frame geometry = %dx%d, want 8x5", frame.Cols, len(frame.Rows))
	}
	// Content within the surviving region is preserved.
	cell, _ := frame.Row(0).Cell(0)
	if cell.Codepoint != 'a' {
		t.Error("resize lost surviving cell content")
	}
	// Extended rows are default-filled.
	cell, _ = frame.Row(4).Cell(7)
	if cell != DefaultCell() {
		t.Errorf("extended cell = %+v, want default", cell)
	}
}

func TestResizeClampsCursor(t *testing.T) {
	store := newTestStore(80, 24)
	store.SetCursor(storeCursor(23, 79))
	store.Resize(10, 5)
	frame := store.CurrentFrame(0)
	if frame.Cursor.Row != 4 || frame.Cursor.Col != 9 {
		t.Fatalf("cursor = (%d,%d), want clamped to (4,9)", frame.Cursor.Row, frame.Cursor.Col)
	}
}

func TestHistoryPruneOlderThan(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	store := NewFrameStore(10, 2, 8, clk)
	store.AdvanceState(0)
	clk.Advance(10 * time.Second)
	store.AdvanceState(0)

	store.History().PruneOlderThan(5 * time.Second)
	if store.History().Len() != 1 {
		t.Fatalf("history length after prune = %d, want 1", store.History().Len())
	}
	if oldest, _ := store.History().OldestStateID(); oldest != 2 {
		t.Fatalf("oldest retained = %d, want 2", oldest)
	}
}
