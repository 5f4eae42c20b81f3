// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

package syncclient

import (
	"github.com/zrp-foundation/zrp/lib/screen"
	"github.com/zrp-foundation/zrp/lib/wire"
)

// Prediction bounds and the misprediction budget: each misprediction
// raises a counter that each confirmed reconcile lowers by one; when
// it reaches the threshold the engine turns itself off rather than
// keep flashing wrong glyphs at the user.
const (
	maxPendingPredictions  = 100
	mispredictionThreshold = 5
)

// Confidence tiers a predicted character.
type Confidence uint8

const (
	// ConfidenceNone means the character must not be predicted
	// (control characters, or the engine is disabled).
	ConfidenceNone Confidence = iota
	// ConfidenceMedium covers non-ASCII printable characters.
	ConfidenceMedium
	// ConfidenceHigh covers printable ASCII.
	ConfidenceHigh
)

// ReconcileResult classifies a watermark reconciliation.
type ReconcileResult uint8

const (
	// ReconcileNoChange means the watermark confirmed nothing new.
	ReconcileNoChange ReconcileResult = iota
	// ReconcileConfirmed means predictions matched the server.
	ReconcileConfirmed
	// ReconcileMisprediction means the overlay was wrong and has been
	// cleared; render the confirmed frame.
	ReconcileMisprediction
)

// predictedCell is one speculative cell placement.
type predictedCell struct {
	row, col int
	cell     screen.Cell
}

// prediction is the speculative effect of one input event.
type prediction struct {
	inputSeq uint64
	cursor   wire.CursorState
	cells    []predictedCell
}

// Predictor overlays unconfirmed keystrokes on the confirmed frame
// for local-echo latency hiding. It is an optional client-side
// overlay; correctness never depends on it.
type Predictor struct {
	pending            []prediction
	lastConfirmedSeq   uint64
	enabled            bool
	mispredictionCount int
}

// NewPredictor returns an enabled predictor with no pending overlay.
func NewPredictor() *Predictor {
	return &Predictor{enabled: true}
}

// Confidence classifies ch for prediction.
func (p *Predictor) Confidence(ch rune) Confidence {
	if !p.enabled {
		return ConfidenceNone
	}
	switch {
	case ch >= ' ' && ch <= '~':
		return ConfidenceHigh
	case ch < ' ' || ch == 0x7f:
		return ConfidenceNone
	default:
		return ConfidenceMedium
	}
}

// PredictChar records the speculative effect of typing ch at the
// given cursor: the glyph lands at the cursor and the cursor advances
// by the glyph width (clamped to the last column). Returns false when
// the character is not predictable or the pending budget is spent.
func (p *Predictor) PredictChar(ch rune, inputSeq uint64, cursor wire.CursorState, cols int) bool {
	if len(p.pending) >= maxPendingPredictions {
		return false
	}
	if p.Confidence(ch) == ConfidenceNone {
		return false
	}

	width := runeDisplayWidth(ch)
	cells := []predictedCell{{
		row:  int(cursor.Row),
		col:  int(cursor.Col),
		cell: screen.Cell{Codepoint: uint32(ch), Width: width},
	}}
	for i := 1; i < int(width); i++ {
		cells = append(cells, predictedCell{
			row:  int(cursor.Row),
			col:  int(cursor.Col) + i,
			cell: screen.Cell{Codepoint: 0, Width: 0},
		})
	}

	newCol := int(cursor.Col) + int(width)
	if maxCol := cols - 1; newCol > maxCol && maxCol >= 0 {
		newCol = maxCol
	}
	next := cursor
	next.Col = uint32(newCol)

	p.pending = append(p.pending, prediction{
		inputSeq: inputSeq,
		cursor:   next,
		cells:    cells,
	})
	return true
}

// Overlay paints the pending predictions onto a copy of the confirmed
// cells and returns the overlaid grid and cursor. With no pending
// predictions the originals are returned unchanged.
func (p *Predictor) Overlay(cells [][]screen.Cell, cursor wire.CursorState) ([][]screen.Cell, wire.CursorState) {
	if len(p.pending) == 0 {
		return cells, cursor
	}

	overlaid := make([][]screen.Cell, len(cells))
	for r := range cells {
		overlaid[r] = make([]screen.Cell, len(cells[r]))
		copy(overlaid[r], cells[r])
	}

	overlayCursor := cursor
	for _, pred := range p.pending {
		for _, pc := range pred.cells {
			if pc.row < len(overlaid) && pc.col < len(overlaid[pc.row]) {
				overlaid[pc.row][pc.col] = pc.cell
			}
		}
		overlayCursor = pred.cursor
	}
	return overlaid, overlayCursor
}

// Reconcile consumes the server's delivered-input watermark. Pending
// predictions at or below it are confirmed; if the last confirmed
// prediction's cursor disagrees with the server cursor, the whole
// overlay was wrong and is cleared. Mispredictions raise a counter and
// confirmations lower it by one; reaching the threshold disables the
// engine.
func (p *Predictor) Reconcile(deliveredWatermark uint64, serverCursor wire.CursorState) ReconcileResult {
	if deliveredWatermark <= p.lastConfirmedSeq {
		return ReconcileNoChange
	}
	p.lastConfirmedSeq = deliveredWatermark

	confirmed := 0
	var lastCursor *wire.CursorState
	for len(p.pending) > 0 && p.pending[0].inputSeq <= deliveredWatermark {
		lastCursor = &p.pending[0].cursor
		p.pending = p.pending[1:]
		confirmed++
	}
	if confirmed == 0 {
		return ReconcileNoChange
	}

	if lastCursor.Col != serverCursor.Col || lastCursor.Row != serverCursor.Row {
		p.mispredictionCount++
		p.pending = nil
		if p.mispredictionCount >= mispredictionThreshold {
			p.enabled = false
		}
		return ReconcileMisprediction
	}

	if p.mispredictionCount > 0 {
		p.mispredictionCount--
	}
	return ReconcileConfirmed
}

// Enabled reports whether the engine is predicting.
func (p *Predictor) Enabled() bool {
	return p.enabled
}

// PendingCount returns the number of unconfirmed predictions.
func (p *Predictor) PendingCount() int {
	return len(p.pending)
}

// Clear drops the overlay without touching the enable state. Used
// when a snapshot replaces the frame wholesale.
func (p *Predictor) Clear() {
	p.pending = nil
}

// runeDisplayWidth returns the terminal cell width of ch: 2 for East
// Asian wide ranges, 1 otherwise.
func runeDisplayWidth(ch rune) uint8 {
	switch {
	case ch >= 0x1100 && ch <= 0x115F,
		ch >= 0x2E80 && ch <= 0x303E,
		ch >= 0x3040 && ch <= 0xA4CF,
		ch >= 0xAC00 && ch <= 0xD7A3,
		ch >= 0xF900 && ch <= 0xFAFF,
		ch >= 0xFE30 && ch <= 0xFE6F,
		ch >= 0xFF00 && ch <= 0xFF60,
		ch >= 0xFFE0 && ch <= 0xFFE6,
		ch >= 0x20000 && ch <= 0x2FFFD,
		ch >= 0x30000 && ch <= 0x3FFFD:
		return 2
	default:
		return 1
	}
}
