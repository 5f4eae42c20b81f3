// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

package screen

import (
	"github.com/zrp-foundation/zrp/lib/wire"
)

// Engine computes render updates. It is stateless; per-client state
// (baseline, window, known style count) lives in lib/render.
type Engine struct{}

// ComputeDelta builds the sparse delta from baseline to current.
//
// Candidate rows are the provided dirtyRows (sorted, filtered to the
// current height) when available; otherwise the rows whose handles
// differ between the two frames over the overlap, plus any rows the
// current frame added beyond the baseline's height. A candidate row
// that turns out identical emits no patch, which absorbs dirty-row
// false positives.
//
// knownStyleCount is the style-table length the client had at its
// baseline; every style with an id at or above it is attached so the
// client can resolve the delta's runs.
func (Engine) ComputeDelta(
	baseline, current Frame,
	table *StyleTable,
	baseStateID, currentStateID uint64,
	dirtyRows []int,
	knownStyleCount int,
	deliveredInputWatermark uint64,
) *wire.ScreenDelta {
	var candidates []int
	if dirtyRows != nil {
		candidates = make([]int, 0, len(dirtyRows))
		for _, idx := range dirtyRows {
			if idx < len(current.Rows) {
				candidates = append(candidates, idx)
			}
		}
	} else {
		overlap := min(len(baseline.Rows), len(current.Rows))
		for idx := 0; idx < overlap; idx++ {
			if baseline.Rows[idx] != current.Rows[idx] {
				candidates = append(candidates, idx)
			}
		}
		for idx := len(baseline.Rows); idx < len(current.Rows); idx++ {
			candidates = append(candidates, idx)
		}
	}

	var patches []wire.RowPatch
	for _, idx := range candidates {
		if patch := encodeRowPatch(idx, baseline.Row(idx), current.Rows[idx]); patch != nil {
			patches = append(patches, *patch)
		}
	}

	return &wire.ScreenDelta{
		BaseStateID:             baseStateID,
		StateID:                 currentStateID,
		StyleEpoch:              table.Epoch(),
		StylesAdded:             table.StylesSince(knownStyleCount),
		RowPatches:              patches,
		Cursor:                  current.Cursor,
		DeliveredInputWatermark: deliveredInputWatermark,
	}
}

// CreateSnapshot builds a self-contained snapshot of frame: every row
// in full, every interned style, and StyleTableReset so the client
// replaces its style table wholesale.
func (Engine) CreateSnapshot(
	frame Frame,
	stateID uint64,
	table *StyleTable,
	deliveredInputWatermark uint64,
) *wire.ScreenSnapshot {
	rows := make([]wire.RowData, len(frame.Rows))
	for idx, row := range frame.Rows {
		rows[idx] = encodeRowData(idx, row)
	}

	return &wire.ScreenSnapshot{
		StateID:                 stateID,
		Size:                    wire.DisplaySize{Cols: uint32(frame.Cols), Rows: uint32(len(frame.Rows))},
		StyleEpoch:              table.Epoch(),
		StyleTableReset:         true,
		Styles:                  table.AllStyles(),
		Rows:                    rows,
		Cursor:                  frame.Cursor,
		DeliveredInputWatermark: deliveredInputWatermark,
	}
}

// cellChanged reports whether the cell at col differs between the
// baseline row (nil when the row is new) and the current row.
func cellChanged(baseline, current *Row, col int) bool {
	currentCell, currentOK := current.Cell(col)
	if baseline == nil {
		return currentOK
	}
	baselineCell, baselineOK := baseline.Cell(col)
	if baselineOK != currentOK {
		return true
	}
	if !currentOK {
		return false
	}
	return baselineCell != currentCell
}

// encodeRowPatch walks the row and emits one CellRun per maximal
// stretch of changed cells. Returns nil when nothing changed.
func encodeRowPatch(rowIdx int, baseline, current *Row) *wire.RowPatch {
	cols := current.Cols()
	var runs []wire.CellRun

	col := 0
	for col < cols {
		for col < cols && !cellChanged(baseline, current, col) {
			col++
		}
		if col >= cols {
			break
		}

		start := col
		var codepoints []uint32
		var widths []uint8
		var styleIDs []uint16
		for col < cols && cellChanged(baseline, current, col) {
			cell, _ := current.Cell(col)
			codepoints = append(codepoints, cell.Codepoint)
			widths = append(widths, cell.Width)
			styleIDs = append(styleIDs, cell.StyleID)
			col++
		}

		runs = append(runs, wire.CellRun{
			ColStart:   uint32(start),
			Codepoints: codepoints,
			Widths:     widths,
			StyleIDs:   styleIDs,
		})
	}

	if len(runs) == 0 {
		return nil
	}
	return &wire.RowPatch{Row: uint32(rowIdx), Runs: runs}
}

// encodeRowData emits a full row for a snapshot.
func encodeRowData(rowIdx int, row *Row) wire.RowData {
	cols := row.Cols()
	codepoints := make([]uint32, cols)
	widths := make([]uint8, cols)
	styleIDs := make([]uint16, cols)
	for col := 0; col < cols; col++ {
		cell, _ := row.Cell(col)
		codepoints[col] = cell.Codepoint
		widths[col] = cell.Width
		styleIDs[col] = cell.StyleID
	}
	return wire.RowData{
		Row:        uint32(rowIdx),
		Codepoints: codepoints,
		Widths:     widths,
		StyleIDs:   styleIDs,
	}
}
