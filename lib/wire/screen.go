// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

package wire

// DisplaySize is a terminal viewport in character cells.
type DisplaySize struct {
	Cols uint32 `cbor:"1,keyasint"`
	Rows uint32 `cbor:"2,keyasint"`
}

// CursorShape enumerates the cursor glyph shapes.
type CursorShape uint8

const (
	CursorShapeBlock     CursorShape = 0
	CursorShapeBeam      CursorShape = 1
	CursorShapeUnderline CursorShape = 2
)

// CursorState is the cursor position and appearance.
type CursorState struct {
	Row     uint32      `cbor:"1,keyasint"`
	Col     uint32      `cbor:"2,keyasint"`
	Visible bool        `cbor:"3,keyasint,omitempty"`
	Blink   bool        `cbor:"4,keyasint,omitempty"`
	Shape   CursorShape `cbor:"5,keyasint,omitempty"`
}

// ColorKind discriminates the Color encoding.
type ColorKind uint8

const (
	ColorDefault ColorKind = 0
	ColorANSI256 ColorKind = 1
	ColorRGB     ColorKind = 2
)

// Color is a terminal color: the default, a 256-palette index, or a
// 24-bit RGB triple.
type Color struct {
	Kind  ColorKind `cbor:"1,keyasint,omitempty"`
	Index uint8     `cbor:"2,keyasint,omitempty"`
	R     uint8     `cbor:"3,keyasint,omitempty"`
	G     uint8     `cbor:"4,keyasint,omitempty"`
	B     uint8     `cbor:"5,keyasint,omitempty"`
}

// UnderlineStyle enumerates underline renderings.
type UnderlineStyle uint8

const (
	UnderlineNone   UnderlineStyle = 0
	UnderlineSingle UnderlineStyle = 1
	UnderlineDouble UnderlineStyle = 2
	UnderlineDotted UnderlineStyle = 3
	UnderlineDashed UnderlineStyle = 4
	UnderlineCurly  UnderlineStyle = 5
)

// Style is a full cell style. It contains only value fields so it is
// comparable; equivalence for style-table interning is field-wise over
// all of them. The zero value is the default style (table id 0).
type Style struct {
	Foreground     Color          `cbor:"1,keyasint,omitempty"`
	Background     Color          `cbor:"2,keyasint,omitempty"`
	UnderlineColor Color          `cbor:"3,keyasint,omitempty"`
	Bold           bool           `cbor:"4,keyasint,omitempty"`
	Dim            bool           `cbor:"5,keyasint,omitempty"`
	Italic         bool           `cbor:"6,keyasint,omitempty"`
	Reverse        bool           `cbor:"7,keyasint,omitempty"`
	Hidden         bool           `cbor:"8,keyasint,omitempty"`
	Strike         bool           `cbor:"9,keyasint,omitempty"`
	BlinkSlow      bool           `cbor:"10,keyasint,omitempty"`
	BlinkFast      bool           `cbor:"11,keyasint,omitempty"`
	Underline      UnderlineStyle `cbor:"12,keyasint,omitempty"`
}

// StyleDef binds a style id to its definition for transmission.
type StyleDef struct {
	StyleID uint16 `cbor:"1,keyasint"`
	Style   Style  `cbor:"2,keyasint"`
}

// CellRun is a horizontal run of changed cells within one row. The
// three slices are parallel, one entry per cell starting at ColStart.
type CellRun struct {
	ColStart   uint32   `cbor:"1,keyasint"`
	Codepoints []uint32 `cbor:"2,keyasint"`
	Widths     []uint8  `cbor:"3,keyasint"`
	StyleIDs   []uint16 `cbor:"4,keyasint"`
}

// RowPatch carries the changed runs of a single row, ordered by
// ColStart. A row that did not change emits no patch at all.
type RowPatch struct {
	Row  uint32    `cbor:"1,keyasint"`
	Runs []CellRun `cbor:"2,keyasint"`
}

// RowData is a full row, used by snapshots. The slices are parallel,
// one entry per column.
type RowData struct {
	Row        uint32   `cbor:"1,keyasint"`
	Codepoints []uint32 `cbor:"2,keyasint"`
	Widths     []uint8  `cbor:"3,keyasint"`
	StyleIDs   []uint16 `cbor:"4,keyasint"`
}

// ScreenDelta describes the change from the frame at BaseStateID to
// the frame at StateID. The client must reject it unless its last
// applied state equals BaseStateID.
type ScreenDelta struct {
	BaseStateID             uint64      `cbor:"1,keyasint"`
	StateID                 uint64      `cbor:"2,keyasint"`
	StyleEpoch              uint32      `cbor:"3,keyasint,omitempty"`
	StylesAdded             []StyleDef  `cbor:"4,keyasint,omitempty"`
	RowPatches              []RowPatch  `cbor:"5,keyasint,omitempty"`
	Cursor                  CursorState `cbor:"6,keyasint"`
	DeliveredInputWatermark uint64      `cbor:"7,keyasint,omitempty"`
}

// ScreenSnapshot is a self-contained frame: every row, every style in
// the table, and the cursor. Applying it requires no prior state.
type ScreenSnapshot struct {
	StateID                 uint64      `cbor:"1,keyasint"`
	Size                    DisplaySize `cbor:"2,keyasint"`
	StyleEpoch              uint32      `cbor:"3,keyasint,omitempty"`
	StyleTableReset         bool        `cbor:"4,keyasint,omitempty"`
	Styles                  []StyleDef  `cbor:"5,keyasint,omitempty"`
	Rows                    []RowData   `cbor:"6,keyasint,omitempty"`
	Cursor                  CursorState `cbor:"7,keyasint"`
	DeliveredInputWatermark uint64      `cbor:"8,keyasint,omitempty"`
}

// StateAck acknowledges applied render state. Sent by the client as a
// datagram when datagrams are negotiated, on the stream otherwise.
type StateAck struct {
	LastAppliedStateID  uint64 `cbor:"1,keyasint"`
	LastReceivedStateID uint64 `cbor:"2,keyasint,omitempty"`
	ClientTimeMS        uint32 `cbor:"3,keyasint,omitempty"`
	EstimatedLossPPM    uint32 `cbor:"4,keyasint,omitempty"`
	SRTTMS              uint32 `cbor:"5,keyasint,omitempty"`
}
