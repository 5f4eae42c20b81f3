// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

package syncclient

import (
	"testing"

	"github.com/zrp-foundation/zrp/lib/screen"
	"github.com/zrp-foundation/zrp/lib/wire"
)

func blankGrid(cols, rows int) [][]screen.Cell {
	grid := make([][]screen.Cell, rows)
	for r := range grid {
		grid[r] = make([]screen.Cell, cols)
		for c := range grid[r] {
			grid[r][c] = screen.DefaultCell()
		}
	}
	return grid
}

func predCursor(row, col uint32) wire.CursorState {
	return wire.CursorState{Row: row, Col: col, Visible: true}
}

func TestPredictCharOverlays(t *testing.T) {
	predictor := NewPredictor()
	if !predictor.PredictChar('a', 1, predCursor(0, 5), 80) {
		t.Fatal("printable ASCII should predict")
	}

	grid, cursor := predictor.Overlay(blankGrid(80, 24), predCursor(0, 5))
	if grid[0][5].Codepoint != 'a' {
		t.Errorf("overlay cell = %+v, want 'a'", grid[0][5])
	}
	if cursor.Col != 6 {
		t.Errorf("overlay cursor col = %d, want 6", cursor.Col)
	}
}

func TestControlCharactersNotPredicted(t *testing.T) {
	predictor := NewPredictor()
	if predictor.PredictChar('\x1b', 1, predCursor(0, 0), 80) {
		t.Fatal("escape must not be predicted")
	}
	if predictor.Confidence('\x03') != ConfidenceNone {
		t.Error("control characters are unpredictable")
	}
	if predictor.Confidence('é') != ConfidenceMedium {
		t.Error("non-ASCII printable should be medium confidence")
	}
}

func TestWideGlyphPredictsContinuation(t *testing.T) {
	predictor := NewPredictor()
	if !predictor.PredictChar('語', 1, predCursor(0, 0), 80) {
		t.Fatal("wide glyph should predict")
	}
	grid, cursor := predictor.Overlay(blankGrid(80, 24), predCursor(0, 0))
	if grid[0][0].Width != 2 {
		t.Errorf("lead cell width = %d, want 2", grid[0][0].Width)
	}
	if grid[0][1].Width != 0 {
		t.Errorf("continuation cell width = %d, want 0", grid[0][1].Width)
	}
	if cursor.Col != 2 {
		t.Errorf("cursor col = %d, want 2", cursor.Col)
	}
}

func TestReconcileConfirms(t *testing.T) {
	predictor := NewPredictor()
	predictor.PredictChar('a', 1, predCursor(0, 0), 80)
	predictor.PredictChar('b', 2, predCursor(0, 1), 80)
	predictor.PredictChar('c', 3, predCursor(0, 2), 80)

	// Server confirms through seq 2; its cursor matches prediction 2.
	result := predictor.Reconcile(2, predCursor(0, 2))
	if result != ReconcileConfirmed {
		t.Fatalf("reconcile = %v, want confirmed", result)
	}
	if predictor.PendingCount() != 1 {
		t.Errorf("pending = %d, want 1", predictor.PendingCount())
	}
}

func TestReconcileMispredictionClearsOverlay(t *testing.T) {
	predictor := NewPredictor()
	predictor.PredictChar('a', 1, predCursor(0, 0), 80)

	// Server cursor disagrees with the predicted landing spot.
	result := predictor.Reconcile(1, predCursor(5, 40))
	if result != ReconcileMisprediction {
		t.Fatalf("reconcile = %v, want misprediction", result)
	}
	if predictor.PendingCount() != 0 {
		t.Error("misprediction must clear the overlay")
	}
}

func TestRepeatedMispredictionsDisable(t *testing.T) {
	predictor := NewPredictor()
	for i := 0; i < mispredictionThreshold; i++ {
		seq := uint64(i + 1)
		predictor.PredictChar('a', seq, predCursor(0, 0), 80)
		predictor.Reconcile(seq, predCursor(5, 40))
	}
	if predictor.Enabled() {
		t.Fatal("predictor should disable after repeated mispredictions")
	}
	if predictor.PredictChar('a', 99, predCursor(0, 0), 80) {
		t.Fatal("disabled predictor accepted a prediction")
	}
}

func TestStaleWatermarkIsNoChange(t *testing.T) {
	predictor := NewPredictor()
	predictor.PredictChar('a', 1, predCursor(0, 0), 80)
	predictor.Reconcile(1, predCursor(0, 1))

	if result := predictor.Reconcile(1, predCursor(0, 1)); result != ReconcileNoChange {
		t.Fatalf("repeat reconcile = %v, want no_change", result)
	}
}
