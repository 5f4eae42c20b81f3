// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

package screen

import (
	"github.com/zrp-foundation/zrp/lib/wire"
)

// Cell is one character cell. Width 0 marks the continuation half of a
// wide glyph; widths 1 and 2 are normal and wide.
type Cell struct {
	Codepoint uint32
	Width     uint8
	StyleID   uint16
}

// DefaultCell is a blank: a space in the default style.
func DefaultCell() Cell {
	return Cell{Codepoint: ' ', Width: 1}
}

// Row is an ordered sequence of cells. A Row is immutable once it is
// referenced by a committed frame; frames alias *Row handles, and
// pointer equality between two handles is the fast path for
// unchanged-row detection. Mutation happens only through
// FrameStore.UpdateRow, which clones a shared row first.
type Row struct {
	cells []Cell
}

// NewRow returns a row of cols default cells.
func NewRow(cols int) *Row {
	cells := make([]Cell, cols)
	for i := range cells {
		cells[i] = DefaultCell()
	}
	return &Row{cells: cells}
}

// Cols returns the number of cells in the row.
func (r *Row) Cols() int {
	return len(r.cells)
}

// Cell returns the cell at col. Columns outside the row report false.
func (r *Row) Cell(col int) (Cell, bool) {
	if col < 0 || col >= len(r.cells) {
		return Cell{}, false
	}
	return r.cells[col], true
}

// clone returns a freshly allocated copy whose cells can be mutated
// without affecting frames that alias the original.
func (r *Row) clone() *Row {
	cells := make([]Cell, len(r.cells))
	copy(cells, r.cells)
	return &Row{cells: cells}
}

// cloneResized returns a copy truncated or extended with default cells
// to cols.
func (r *Row) cloneResized(cols int) *Row {
	cells := make([]Cell, cols)
	n := copy(cells, r.cells)
	for i := n; i < cols; i++ {
		cells[i] = DefaultCell()
	}
	return &Row{cells: cells}
}

// Frame is an immutable snapshot of the screen: row handles (shared
// with other frames), dimensions, cursor, and the style epoch the
// cell style ids belong to.
type Frame struct {
	Rows       []*Row
	Cols       int
	Cursor     wire.CursorState
	StyleEpoch uint32
}

// NewFrame returns a frame of default cells.
func NewFrame(cols, rows int) Frame {
	frameRows := make([]*Row, rows)
	for i := range frameRows {
		frameRows[i] = NewRow(cols)
	}
	return Frame{Rows: frameRows, Cols: cols, Cursor: wire.CursorState{Visible: true, Blink: true}}
}

// Row returns the row handle at idx, or nil when idx is out of range.
func (f Frame) Row(idx int) *Row {
	if idx < 0 || idx >= len(f.Rows) {
		return nil
	}
	return f.Rows[idx]
}

// Equal reports cell-for-cell equality of two frames, including cursor
// and style epoch. Used by tests asserting pixel equivalence.
func (f Frame) Equal(other Frame) bool {
	if f.Cols != other.Cols || len(f.Rows) != len(other.Rows) {
		return false
	}
	if f.Cursor != other.Cursor || f.StyleEpoch != other.StyleEpoch {
		return false
	}
	for i, row := range f.Rows {
		otherRow := other.Rows[i]
		if row == otherRow {
			continue
		}
		if len(row.cells) != len(otherRow.cells) {
			return false
		}
		for c := range row.cells {
			if row.cells[c] != otherRow.cells[c] {
				return false
			}
		}
	}
	return true
}
