// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

// Package syncclient mirrors the server's screen on the client.
//
// [State] applies snapshots and deltas with latest-wins semantics:
// stale or duplicated datagrams drop on state-id monotonicity, and a
// delta whose base disagrees with the local state is rejected without
// touching the frame. Three consecutive base mismatches escalate to a
// snapshot request on the reliable stream.
//
// [Predictor] is the optional speculative-echo overlay: pending
// keystrokes paint onto the confirmed frame immediately and are
// reconciled against the server's delivered-input watermark.
package syncclient

import (
	"log/slog"

	"github.com/zrp-foundation/zrp/lib/screen"
	"github.com/zrp-foundation/zrp/lib/wire"
)

// baseMismatchResyncThreshold is how many consecutive base mismatches
// the client tolerates before requesting a snapshot resync.
const baseMismatchResyncThreshold = 3

// ApplyResult classifies the outcome of applying a delta.
type ApplyResult int

const (
	// Applied means the delta advanced the local frame.
	Applied ApplyResult = iota
	// AlreadyApplied means the delta was stale or duplicated and was
	// dropped without touching state.
	AlreadyApplied
	// BaseMismatch means the delta was rooted at a state the client
	// is not on; state is unchanged.
	BaseMismatch
)

// String returns the result name used in logs.
func (r ApplyResult) String() string {
	switch r {
	case Applied:
		return "applied"
	case AlreadyApplied:
		return "already_applied"
	default:
		return "base_mismatch"
	}
}

// State is the client's mirror of the server screen: a cell grid, a
// style table keyed by (epoch, id), the cursor, and the id of the
// last applied state.
type State struct {
	cells  [][]screen.Cell
	cols   int
	cursor wire.CursorState

	styles     map[uint16]wire.Style
	styleEpoch uint32

	lastApplied       uint64
	baseMismatchCount int

	logger *slog.Logger
}

// NewState returns an empty mirror awaiting its first snapshot.
func NewState(logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	return &State{
		styles: make(map[uint16]wire.Style),
		logger: logger,
	}
}

// LastAppliedStateID returns the id of the last applied update.
func (s *State) LastAppliedStateID() uint64 {
	return s.lastApplied
}

// Size returns the mirrored geometry.
func (s *State) Size() wire.DisplaySize {
	return wire.DisplaySize{Cols: uint32(s.cols), Rows: uint32(len(s.cells))}
}

// Cursor returns the mirrored cursor.
func (s *State) Cursor() wire.CursorState {
	return s.cursor
}

// Cell returns the cell at (row, col), reporting false out of range.
func (s *State) Cell(row, col int) (screen.Cell, bool) {
	if row < 0 || row >= len(s.cells) || col < 0 || col >= s.cols {
		return screen.Cell{}, false
	}
	return s.cells[row][col], true
}

// Style resolves a style id against the mirrored table.
func (s *State) Style(id uint16) (wire.Style, bool) {
	style, ok := s.styles[id]
	return style, ok
}

// StyleEpoch returns the mirrored style generation.
func (s *State) StyleEpoch() uint32 {
	return s.styleEpoch
}

// ApplySnapshot replaces the mirror wholesale: geometry, styles (when
// StyleTableReset, the table is cleared first and the epoch adopted),
// every listed row, and the cursor. Snapshots older than the local
// state are dropped — a reliable-stream snapshot can still race a
// datagram delta that already advanced us past it.
func (s *State) ApplySnapshot(snapshot *wire.ScreenSnapshot) ApplyResult {
	if snapshot.StateID < s.lastApplied {
		return AlreadyApplied
	}

	cols := int(snapshot.Size.Cols)
	rows := int(snapshot.Size.Rows)
	s.cols = cols
	s.cells = make([][]screen.Cell, rows)
	for r := range s.cells {
		s.cells[r] = make([]screen.Cell, cols)
		for c := range s.cells[r] {
			s.cells[r][c] = screen.DefaultCell()
		}
	}

	if snapshot.StyleTableReset {
		clear(s.styles)
		s.styleEpoch = snapshot.StyleEpoch
	}
	for _, def := range snapshot.Styles {
		s.styles[def.StyleID] = def.Style
	}

	for _, rowData := range snapshot.Rows {
		r := int(rowData.Row)
		if r >= rows {
			continue
		}
		for c := 0; c < cols && c < len(rowData.Codepoints); c++ {
			s.cells[r][c] = screen.Cell{
				Codepoint: rowData.Codepoints[c],
				Width:     rowData.Widths[c],
				StyleID:   rowData.StyleIDs[c],
			}
		}
	}

	s.cursor = snapshot.Cursor
	s.lastApplied = snapshot.StateID
	s.baseMismatchCount = 0
	return Applied
}

// ApplyDelta paints a delta's runs over the mirror. Stale deltas drop
// silently; a delta rooted at any state other than the local one is
// rejected and counted toward the resync threshold.
func (s *State) ApplyDelta(delta *wire.ScreenDelta) ApplyResult {
	if delta.StateID <= s.lastApplied {
		return AlreadyApplied
	}
	if delta.BaseStateID != s.lastApplied || delta.StyleEpoch != s.styleEpoch {
		s.baseMismatchCount++
		s.logger.Debug("delta base mismatch",
			"expected", s.lastApplied,
			"got", delta.BaseStateID,
			"count", s.baseMismatchCount,
		)
		return BaseMismatch
	}

	for _, def := range delta.StylesAdded {
		s.styles[def.StyleID] = def.Style
	}

	for _, patch := range delta.RowPatches {
		r := int(patch.Row)
		if r >= len(s.cells) {
			continue
		}
		for _, run := range patch.Runs {
			for i := range run.Codepoints {
				c := int(run.ColStart) + i
				if c >= s.cols {
					break
				}
				s.cells[r][c] = screen.Cell{
					Codepoint: run.Codepoints[i],
					Width:     run.Widths[i],
					StyleID:   run.StyleIDs[i],
				}
			}
		}
	}

	s.cursor = delta.Cursor
	s.lastApplied = delta.StateID
	s.baseMismatchCount = 0
	return Applied
}

// NeedsResync reports whether accumulated base mismatches warrant a
// RequestSnapshot, and resets the counter when they do. The caller
// sends the request on the reliable stream.
func (s *State) NeedsResync() bool {
	if s.baseMismatchCount < baseMismatchResyncThreshold {
		return false
	}
	s.baseMismatchCount = 0
	return true
}

// MakeStateAck builds the acknowledgment for the current state.
func (s *State) MakeStateAck(lastReceived uint64, clientTimeMS, lossPPM, srttMS uint32) *wire.StateAck {
	return &wire.StateAck{
		LastAppliedStateID:  s.lastApplied,
		LastReceivedStateID: lastReceived,
		ClientTimeMS:        clientTimeMS,
		EstimatedLossPPM:    lossPPM,
		SRTTMS:              srttMS,
	}
}
