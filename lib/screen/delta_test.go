// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

package screen

import (
	"testing"
	"time"

	"github.com/zrp-foundation/zrp/lib/clock"
	"github.com/zrp-foundation/zrp/lib/wire"
)

func TestSingleKeystrokeDelta(t *testing.T) {
	store := newTestStore(80, 24)
	table := NewStyleTable()
	store.AdvanceState(table.Epoch())
	baseline, _ := store.LatestFrame()

	store.SetCell(3, 7, Cell{Codepoint: 'X', Width: 1, StyleID: 0})
	store.AdvanceState(table.Epoch())
	current, _ := store.LatestFrame()

	dirty, ok := store.History().DirtyRowsSince(1)
	if !ok {
		t.Fatal("dirty rows not covered")
	}

	delta := Engine{}.ComputeDelta(baseline, current, table, 1, 2, dirty, table.Count(), 0)
	if delta.BaseStateID != 1 || delta.StateID != 2 {
		t.Fatalf("delta ids = (%d,%d), want (1,2)", delta.BaseStateID, delta.StateID)
	}
	if len(delta.RowPatches) != 1 {
		t.Fatalf("row patches = %d, want exactly 1", len(delta.RowPatches))
	}
	patch := delta.RowPatches[0]
	if patch.Row != 3 || len(patch.Runs) != 1 {
		t.Fatalf("patch row %d with %d runs, want row 3 with 1 run", patch.Row, len(patch.Runs))
	}
	run := patch.Runs[0]
	if run.ColStart != 7 || len(run.Codepoints) != 1 || run.Codepoints[0] != 'X' ||
		run.Widths[0] != 1 || run.StyleIDs[0] != 0 {
		t.Fatalf("run = %+v, want single 'X' at col 7", run)
	}
	if len(delta.StylesAdded) != 0 {
		t.Errorf("styles added = %d, want 0 for known table", len(delta.StylesAdded))
	}
}

func TestMultipleRunsInOneRow(t *testing.T) {
	store := newTestStore(20, 2)
	table := NewStyleTable()
	store.AdvanceState(0)
	baseline, _ := store.LatestFrame()

	store.SetCell(0, 2, Cell{Codepoint: 'a', Width: 1})
	store.SetCell(0, 3, Cell{Codepoint: 'b', Width: 1})
	store.SetCell(0, 10, Cell{Codepoint: 'c', Width: 1})
	store.AdvanceState(0)
	current, _ := store.LatestFrame()

	dirty, _ := store.History().DirtyRowsSince(1)
	delta := Engine{}.ComputeDelta(baseline, current, table, 1, 2, dirty, table.Count(), 0)
	if len(delta.RowPatches) != 1 {
		t.Fatalf("row patches = %d, want 1", len(delta.RowPatches))
	}
	runs := delta.RowPatches[0].Runs
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2 (cols 2-3 and col 10)", len(runs))
	}
	if runs[0].ColStart != 2 || len(runs[0].Codepoints) != 2 {
		t.Errorf("first run = %+v, want 2 cells at col 2", runs[0])
	}
	if runs[1].ColStart != 10 || len(runs[1].Codepoints) != 1 {
		t.Errorf("second run = %+v, want 1 cell at col 10", runs[1])
	}
}

func TestDirtyFalsePositiveEmitsNothing(t *testing.T) {
	store := newTestStore(10, 3)
	table := NewStyleTable()
	store.AdvanceState(0)
	baseline, _ := store.LatestFrame()

	// Write the value that is already there: the row is marked dirty
	// but no cell differs.
	store.SetCell(1, 1, DefaultCell())
	store.AdvanceState(0)
	current, _ := store.LatestFrame()

	dirty, _ := store.History().DirtyRowsSince(1)
	if len(dirty) != 1 {
		t.Fatalf("dirty rows = %v, want the false-positive row", dirty)
	}
	delta := Engine{}.ComputeDelta(baseline, current, table, 1, 2, dirty, table.Count(), 0)
	if len(delta.RowPatches) != 0 {
		t.Fatalf("row patches = %d, want 0 for identical content", len(delta.RowPatches))
	}
}

func TestDeltaWithoutDirtyRowsUsesPointerEquality(t *testing.T) {
	store := newTestStore(10, 4)
	table := NewStyleTable()
	store.AdvanceState(0)
	baseline, _ := store.LatestFrame()

	store.SetCell(2, 5, Cell{Codepoint: 'q', Width: 1})
	store.AdvanceState(0)
	current, _ := store.LatestFrame()

	delta := Engine{}.ComputeDelta(baseline, current, table, 1, 2, nil, table.Count(), 0)
	if len(delta.RowPatches) != 1 || delta.RowPatches[0].Row != 2 {
		t.Fatalf("patches = %+v, want single patch for row 2", delta.RowPatches)
	}
}

func TestDeltaCoversRowsAddedByGrowth(t *testing.T) {
	table := NewStyleTable()
	baseline := NewFrame(10, 2)
	current := NewFrame(10, 4)
	// Reuse the baseline's handles for the overlap so only the new
	// rows differ.
	current.Rows[0] = baseline.Rows[0]
	current.Rows[1] = baseline.Rows[1]

	delta := Engine{}.ComputeDelta(baseline, current, table, 1, 2, nil, table.Count(), 0)
	if len(delta.RowPatches) != 2 {
		t.Fatalf("patches = %d, want the 2 added rows", len(delta.RowPatches))
	}
	if delta.RowPatches[0].Row != 2 || delta.RowPatches[1].Row != 3 {
		t.Errorf("patched rows = %d,%d, want 2,3", delta.RowPatches[0].Row, delta.RowPatches[1].Row)
	}
	// New rows have no baseline: the single run covers the full width.
	if run := delta.RowPatches[0].Runs[0]; run.ColStart != 0 || len(run.Codepoints) != 10 {
		t.Errorf("new-row run = %+v, want full-width run", run)
	}
}

func TestDeltaAttachesStylesAboveKnownCount(t *testing.T) {
	store := newTestStore(10, 2)
	table := NewStyleTable()
	store.AdvanceState(0)
	baseline, _ := store.LatestFrame()
	knownCount := table.Count()

	boldID := table.GetOrInsert(wire.Style{Bold: true})
	store.SetCell(0, 0, Cell{Codepoint: 'B', Width: 1, StyleID: boldID})
	store.AdvanceState(0)
	current, _ := store.LatestFrame()

	dirty, _ := store.History().DirtyRowsSince(1)
	delta := Engine{}.ComputeDelta(baseline, current, table, 1, 2, dirty, knownCount, 0)
	if len(delta.StylesAdded) != 1 {
		t.Fatalf("styles added = %d, want 1", len(delta.StylesAdded))
	}
	if delta.StylesAdded[0].StyleID != boldID || !delta.StylesAdded[0].Style.Bold {
		t.Errorf("attached style = %+v, want bold at id %d", delta.StylesAdded[0], boldID)
	}
}

func TestCreateSnapshotIsSelfContained(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	store := NewFrameStore(5, 2, 8, clk)
	table := NewStyleTable()
	boldID := table.GetOrInsert(wire.Style{Bold: true})
	store.SetCell(1, 2, Cell{Codepoint: 'S', Width: 1, StyleID: boldID})
	stateID := store.AdvanceState(table.Epoch())
	frame, _ := store.LatestFrame()

	snapshot := Engine{}.CreateSnapshot(frame, stateID, table, 7)
	if snapshot.StateID != stateID {
		t.Fatalf("snapshot state id = %d, want %d", snapshot.StateID, stateID)
	}
	if !snapshot.StyleTableReset {
		t.Error("snapshot must set StyleTableReset")
	}
	if snapshot.Size.Cols != 5 || snapshot.Size.Rows != 2 {
		t.Errorf("snapshot size = %+v, want 5x2", snapshot.Size)
	}
	if len(snapshot.Rows) != 2 {
		t.Fatalf("snapshot rows = %d, want every row", len(snapshot.Rows))
	}
	if len(snapshot.Styles) != table.Count() {
		t.Errorf("snapshot styles = %d, want full table %d", len(snapshot.Styles), table.Count())
	}
	if snapshot.Rows[1].Codepoints[2] != 'S' || snapshot.Rows[1].StyleIDs[2] != boldID {
		t.Error("snapshot lost cell content")
	}
	if snapshot.DeliveredInputWatermark != 7 {
		t.Errorf("watermark = %d, want 7", snapshot.DeliveredInputWatermark)
	}
}
