// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

package screen

import (
	"github.com/zrp-foundation/zrp/lib/codec"
	"github.com/zrp-foundation/zrp/lib/wire"
)

// styleReserveSlots is the headroom kept below the 16-bit id ceiling.
// The reset triggers early so a burst of new styles arriving in the
// same frame as the trigger cannot overflow the id space before the
// epoch bump takes effect.
const styleReserveSlots = 1000

// styleResetThreshold is the table length at which ResetIfExhausted
// bumps the epoch.
const styleResetThreshold = 0xFFFF - styleReserveSlots

// StyleTable interns cell styles to 16-bit ids. Id 0 is the default
// style and is never reused. Consumers treat (epoch, id) as the true
// style identity: when the id space nears exhaustion the table is
// cleared and the epoch bumped, and every client must be re-seeded
// with a snapshot carrying StyleTableReset.
type StyleTable struct {
	styles []wire.Style
	ids    map[string]uint16
	epoch  uint32
}

// NewStyleTable returns a table containing only the default style at
// id 0, epoch 0.
func NewStyleTable() *StyleTable {
	table := &StyleTable{
		ids: make(map[string]uint16),
	}
	table.insert(wire.Style{})
	return table
}

// styleKey is the deterministic serialization of a style used for
// reverse lookup. Core Deterministic Encoding guarantees equivalent
// styles produce identical bytes.
func styleKey(style wire.Style) string {
	encoded, err := codec.Marshal(style)
	if err != nil {
		// wire.Style contains only value fields; encoding cannot fail.
		panic("screen: style encoding failed: " + err.Error())
	}
	return string(encoded)
}

func (t *StyleTable) insert(style wire.Style) uint16 {
	id := uint16(len(t.styles))
	t.styles = append(t.styles, style)
	t.ids[styleKey(style)] = id
	return id
}

// GetOrInsert returns the id of an equivalent style, allocating a new
// id when the style is unseen. Equivalence is field-wise over every
// style attribute.
func (t *StyleTable) GetOrInsert(style wire.Style) uint16 {
	if id, ok := t.ids[styleKey(style)]; ok {
		return id
	}
	return t.insert(style)
}

// Get returns the style for id.
func (t *StyleTable) Get(id uint16) (wire.Style, bool) {
	if int(id) >= len(t.styles) {
		return wire.Style{}, false
	}
	return t.styles[id], true
}

// Count returns the number of interned styles (including the default).
func (t *StyleTable) Count() int {
	return len(t.styles)
}

// Epoch returns the current style generation.
func (t *StyleTable) Epoch() uint32 {
	return t.epoch
}

// StylesSince returns the styles with ids >= baseline, in id order.
// A delta attaches StylesSince(count known to the client at baseline)
// so the client can resolve every id the delta's runs reference.
func (t *StyleTable) StylesSince(baseline int) []wire.StyleDef {
	if baseline < 0 {
		baseline = 0
	}
	if baseline >= len(t.styles) {
		return nil
	}
	defs := make([]wire.StyleDef, 0, len(t.styles)-baseline)
	for id := baseline; id < len(t.styles); id++ {
		defs = append(defs, wire.StyleDef{StyleID: uint16(id), Style: t.styles[id]})
	}
	return defs
}

// AllStyles returns every interned style in id order, for snapshots.
func (t *StyleTable) AllStyles() []wire.StyleDef {
	return t.StylesSince(0)
}

// ResetIfExhausted clears the table and bumps the epoch when the id
// space is nearly exhausted. Returns true when a reset happened; the
// caller must then force a snapshot with StyleTableReset to every
// client.
func (t *StyleTable) ResetIfExhausted() bool {
	if len(t.styles) < styleResetThreshold {
		return false
	}
	t.styles = t.styles[:0]
	clear(t.ids)
	t.epoch++
	t.insert(wire.Style{})
	return true
}
