// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"fmt"
	"unicode/utf8"

	"github.com/zrp-foundation/zrp/lib/wire"
)

// TranslateInput converts a delivered input event into the byte
// sequence the PTY expects. Text and raw payloads pass through; key
// events encode as conventional xterm sequences; mouse events encode
// as SGR reports. Returns nil for events with no byte representation.
func TranslateInput(event *wire.InputEvent) []byte {
	switch {
	case event.Text != "":
		return []byte(event.Text)
	case len(event.Raw) > 0:
		return event.Raw
	case event.Key != nil:
		return translateKey(event.Key)
	case event.Mouse != nil:
		return translateMouse(event.Mouse)
	default:
		return nil
	}
}

// specialKeyBytes maps special keys to their unmodified sequences.
var specialKeyBytes = map[wire.SpecialKey]string{
	wire.KeyEnter:     "\r",
	wire.KeyTab:       "\t",
	wire.KeyBackspace: "\x7f",
	wire.KeyEscape:    "\x1b",
	wire.KeyUp:        "\x1b[A",
	wire.KeyDown:      "\x1b[B",
	wire.KeyRight:     "\x1b[C",
	wire.KeyLeft:      "\x1b[D",
	wire.KeyHome:      "\x1b[H",
	wire.KeyEnd:       "\x1b[F",
	wire.KeyPageUp:    "\x1b[5~",
	wire.KeyPageDown:  "\x1b[6~",
	wire.KeyInsert:    "\x1b[2~",
	wire.KeyDelete:    "\x1b[3~",
	wire.KeyF1:        "\x1bOP",
	wire.KeyF2:        "\x1bOQ",
	wire.KeyF3:        "\x1bOR",
	wire.KeyF4:        "\x1bOS",
	wire.KeyF5:        "\x1b[15~",
	wire.KeyF6:        "\x1b[17~",
	wire.KeyF7:        "\x1b[18~",
	wire.KeyF8:        "\x1b[19~",
	wire.KeyF9:        "\x1b[20~",
	wire.KeyF10:       "\x1b[21~",
	wire.KeyF11:       "\x1b[23~",
	wire.KeyF12:       "\x1b[24~",
}

func translateKey(key *wire.KeyInput) []byte {
	if key.Special != wire.KeyNone {
		sequence, ok := specialKeyBytes[key.Special]
		if !ok {
			return nil
		}
		// Alt prefixes the sequence with ESC, the traditional meta
		// encoding.
		if key.Mods&wire.ModAlt != 0 {
			return append([]byte{0x1b}, sequence...)
		}
		return []byte(sequence)
	}

	ch := rune(key.Unicode)
	if ch == 0 {
		return nil
	}

	if key.Mods&wire.ModCtrl != 0 && ch >= 'a' && ch <= 'z' {
		return []byte{byte(ch) - 'a' + 1}
	}
	if key.Mods&wire.ModCtrl != 0 && ch >= 'A' && ch <= 'Z' {
		return []byte{byte(ch) - 'A' + 1}
	}

	var buffer [utf8.UTFMax + 1]byte
	n := 0
	if key.Mods&wire.ModAlt != 0 {
		buffer[0] = 0x1b
		n = 1
	}
	n += utf8.EncodeRune(buffer[n:], ch)
	return buffer[:n]
}

// translateMouse encodes SGR (1006) mouse reports.
func translateMouse(mouse *wire.MouseInput) []byte {
	button := int(mouse.Button)
	switch mouse.Kind {
	case wire.MouseScroll:
		// Scroll overrides the button entirely: 64 up, 65 down.
		if mouse.ScrollDelta < 0 {
			button = 64
		} else {
			button = 65
		}
	case wire.MouseMotion:
		button += 32
	}
	if mouse.Mods&wire.ModShift != 0 {
		button += 4
	}
	if mouse.Mods&wire.ModAlt != 0 {
		button += 8
	}
	if mouse.Mods&wire.ModCtrl != 0 {
		button += 16
	}

	final := "M"
	if mouse.Kind == wire.MouseRelease {
		final = "m"
	}
	// SGR coordinates are 1-based.
	return []byte(fmt.Sprintf("\x1b[<%d;%d;%d%s", button, mouse.Col+1, mouse.Row+1, final))
}
