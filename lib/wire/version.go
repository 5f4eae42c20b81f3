// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

package wire

// Protocol version constants. Major must match exactly between client
// and server; minor is advisory.
const (
	VersionMajor uint32 = 1
	VersionMinor uint32 = 0
)

// Wire defaults. These are negotiated or advertised during handshake;
// the constants are the server's starting points.
const (
	// DefaultMaxDatagramBytes is the conservative datagram payload
	// cap. QUIC guarantees at least ~1200 bytes of datagram room on
	// any conformant path; staying at or under it avoids depending on
	// path MTU discovery.
	DefaultMaxDatagramBytes uint32 = 1200

	// DefaultRenderWindow is the number of unacked state_ids that may
	// be in flight to a client; once it is reached, the next emission
	// is a full snapshot.
	DefaultRenderWindow uint32 = 4

	// DefaultSnapshotIntervalMS is how often the server refreshes every
	// attached client with a full snapshot, busy or idle.
	DefaultSnapshotIntervalMS uint32 = 5000

	// DefaultMaxInflightInputs bounds the client-side input send
	// queue and the server-side reorder buffer.
	DefaultMaxInflightInputs uint32 = 256

	// DefaultMaxFrameSize is the largest stream frame a reader will
	// accept. A declared length above this is a fatal protocol error.
	DefaultMaxFrameSize = 1 << 20
)

// ProtocolVersion identifies a protocol revision.
type ProtocolVersion struct {
	Major uint32 `cbor:"1,keyasint"`
	Minor uint32 `cbor:"2,keyasint"`
}

// Compatible reports whether a peer speaking other can talk to this
// version. Only the major number gates compatibility.
func (v ProtocolVersion) Compatible(other ProtocolVersion) bool {
	return v.Major == other.Major
}

// Capabilities is the feature set a peer advertises in its hello. The
// negotiated set is the field-wise intersection, with MaxDatagramBytes
// taken as the minimum of both sides.
type Capabilities struct {
	SupportsDatagrams        bool   `cbor:"1,keyasint,omitempty"`
	MaxDatagramBytes         uint32 `cbor:"2,keyasint,omitempty"`
	SupportsStyleDictionary  bool   `cbor:"3,keyasint,omitempty"`
	SupportsStyledUnderlines bool   `cbor:"4,keyasint,omitempty"`
	SupportsPrediction       bool   `cbor:"5,keyasint,omitempty"`
	SupportsImages           bool   `cbor:"6,keyasint,omitempty"`
	SupportsClipboard        bool   `cbor:"7,keyasint,omitempty"`
	SupportsHyperlinks       bool   `cbor:"8,keyasint,omitempty"`
	SupportsCompression      bool   `cbor:"9,keyasint,omitempty"`
}

// Intersect returns the capability set both sides support.
func (c Capabilities) Intersect(other Capabilities) Capabilities {
	return Capabilities{
		SupportsDatagrams:        c.SupportsDatagrams && other.SupportsDatagrams,
		MaxDatagramBytes:         min(c.MaxDatagramBytes, other.MaxDatagramBytes),
		SupportsStyleDictionary:  c.SupportsStyleDictionary && other.SupportsStyleDictionary,
		SupportsStyledUnderlines: c.SupportsStyledUnderlines && other.SupportsStyledUnderlines,
		SupportsPrediction:       c.SupportsPrediction && other.SupportsPrediction,
		SupportsImages:           c.SupportsImages && other.SupportsImages,
		SupportsClipboard:        c.SupportsClipboard && other.SupportsClipboard,
		SupportsHyperlinks:       c.SupportsHyperlinks && other.SupportsHyperlinks,
		SupportsCompression:      c.SupportsCompression && other.SupportsCompression,
	}
}

// SessionState describes the server session's lifecycle phase at
// handshake time.
type SessionState uint8

const (
	SessionStateUnspecified SessionState = 0
	SessionStateRunning     SessionState = 1
	SessionStateCreated     SessionState = 2
	SessionStateResurrected SessionState = 3
)

// ControllerPolicy selects how controller-lease takeover behaves.
type ControllerPolicy uint8

const (
	ControllerPolicyUnspecified    ControllerPolicy = 0
	ControllerPolicyExplicitOnly   ControllerPolicy = 1
	ControllerPolicyLastWriterWins ControllerPolicy = 2
)

// String returns the policy name used in config files and logs.
func (p ControllerPolicy) String() string {
	switch p {
	case ControllerPolicyExplicitOnly:
		return "explicit_only"
	case ControllerPolicyLastWriterWins:
		return "last_writer_wins"
	default:
		return "unspecified"
	}
}
