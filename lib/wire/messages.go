// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

package wire

// ClientHello opens the handshake on the first bidirectional stream.
type ClientHello struct {
	Version      ProtocolVersion `cbor:"1,keyasint"`
	Capabilities Capabilities    `cbor:"2,keyasint"`
	ClientName   string          `cbor:"3,keyasint,omitempty"`
	BearerToken  []byte          `cbor:"4,keyasint,omitempty"`
	ResumeToken  []byte          `cbor:"5,keyasint,omitempty"`
}

// ServerHello answers a valid ClientHello and completes the handshake.
type ServerHello struct {
	NegotiatedVersion      ProtocolVersion  `cbor:"1,keyasint"`
	NegotiatedCapabilities Capabilities     `cbor:"2,keyasint"`
	ClientID               uint64           `cbor:"3,keyasint"`
	SessionName            string           `cbor:"4,keyasint,omitempty"`
	SessionState           SessionState     `cbor:"5,keyasint,omitempty"`
	Lease                  *ControllerLease `cbor:"6,keyasint,omitempty"`
	ResumeToken            []byte           `cbor:"7,keyasint,omitempty"`
	SnapshotIntervalMS     uint32           `cbor:"8,keyasint,omitempty"`
	MaxInflightInputs      uint32           `cbor:"9,keyasint,omitempty"`
	RenderWindow           uint32           `cbor:"10,keyasint,omitempty"`
}

// AttachRequest asks to attach to a named session on a multiplexed
// endpoint. A single-session server treats an empty name as "the"
// session.
type AttachRequest struct {
	SessionName string `cbor:"1,keyasint,omitempty"`
}

// AttachResponse answers an AttachRequest.
type AttachResponse struct {
	Accepted bool   `cbor:"1,keyasint"`
	Reason   string `cbor:"2,keyasint,omitempty"`
}

// ControllerLease describes the current write lease.
type ControllerLease struct {
	LeaseID       uint64           `cbor:"1,keyasint"`
	OwnerClientID uint64           `cbor:"2,keyasint"`
	Policy        ControllerPolicy `cbor:"3,keyasint,omitempty"`
	CurrentSize   DisplaySize      `cbor:"4,keyasint"`
	DurationMS    uint32           `cbor:"5,keyasint,omitempty"`
	RemainingMS   uint32           `cbor:"6,keyasint,omitempty"`
}

// RequestControl asks for the controller lease. Force requests
// takeover under the explicit_only policy.
type RequestControl struct {
	DesiredSize *DisplaySize `cbor:"1,keyasint,omitempty"`
	Force       bool         `cbor:"2,keyasint,omitempty"`
}

// GrantControl confirms a lease grant to the requesting client.
type GrantControl struct {
	Lease ControllerLease `cbor:"1,keyasint"`
}

// DenyControl refuses a RequestControl, reporting the standing lease
// so the client can decide whether to retry with Force.
type DenyControl struct {
	Reason       string           `cbor:"1,keyasint,omitempty"`
	CurrentLease *ControllerLease `cbor:"2,keyasint,omitempty"`
}

// ReleaseControl gives up a held lease.
type ReleaseControl struct {
	LeaseID uint64 `cbor:"1,keyasint"`
}

// KeepAliveLease refreshes a held lease before it times out.
type KeepAliveLease struct {
	LeaseID uint64 `cbor:"1,keyasint"`
}

// SetControllerSize updates the authoritative viewport of a held
// lease.
type SetControllerSize struct {
	LeaseID uint64      `cbor:"1,keyasint"`
	Size    DisplaySize `cbor:"2,keyasint"`
}

// LeaseRevoked notifies the previous owner that its lease ended.
type LeaseRevoked struct {
	LeaseID uint64 `cbor:"1,keyasint"`
	Reason  string `cbor:"2,keyasint,omitempty"`
}

// SnapshotReason says why a client is requesting a full snapshot.
type SnapshotReason uint8

const (
	SnapshotReasonUnspecified  SnapshotReason = 0
	SnapshotReasonBaseMismatch SnapshotReason = 1
	SnapshotReasonReconnect    SnapshotReason = 2
	SnapshotReasonStyleEpoch   SnapshotReason = 3
)

// RequestSnapshot asks the server to resync this client with a full
// snapshot on the reliable stream.
type RequestSnapshot struct {
	Reason       SnapshotReason `cbor:"1,keyasint,omitempty"`
	KnownStateID uint64         `cbor:"2,keyasint,omitempty"`
}

// InputEvent carries one unit of user input. Exactly one of Text, Key,
// Raw, Mouse is set.
type InputEvent struct {
	InputSeq     uint64      `cbor:"1,keyasint"`
	ClientTimeMS uint32      `cbor:"2,keyasint,omitempty"`
	Text         string      `cbor:"3,keyasint,omitempty"`
	Key          *KeyInput   `cbor:"4,keyasint,omitempty"`
	Raw          []byte      `cbor:"5,keyasint,omitempty"`
	Mouse        *MouseInput `cbor:"6,keyasint,omitempty"`
}

// KeyModifiers is a bitmask of held modifier keys.
type KeyModifiers uint8

const (
	ModShift KeyModifiers = 1 << iota
	ModAlt
	ModCtrl
	ModSuper
)

// SpecialKey enumerates non-unicode keys. Zero means the Unicode field
// carries the key.
type SpecialKey uint8

const (
	KeyNone SpecialKey = iota
	KeyEnter
	KeyTab
	KeyBackspace
	KeyEscape
	KeyUp
	KeyDown
	KeyLeft
	KeyRight
	KeyHome
	KeyEnd
	KeyPageUp
	KeyPageDown
	KeyInsert
	KeyDelete
	KeyF1
	KeyF2
	KeyF3
	KeyF4
	KeyF5
	KeyF6
	KeyF7
	KeyF8
	KeyF9
	KeyF10
	KeyF11
	KeyF12
)

// KeyInput is a decoded key press.
type KeyInput struct {
	Mods    KeyModifiers `cbor:"1,keyasint,omitempty"`
	Unicode uint32       `cbor:"2,keyasint,omitempty"`
	Special SpecialKey   `cbor:"3,keyasint,omitempty"`
}

// MouseEventKind discriminates mouse events.
type MouseEventKind uint8

const (
	MousePress MouseEventKind = iota
	MouseRelease
	MouseMotion
	MouseScroll
)

// MouseInput is a decoded mouse event at a cell position.
type MouseInput struct {
	Kind        MouseEventKind `cbor:"1,keyasint"`
	Col         uint32         `cbor:"2,keyasint"`
	Row         uint32         `cbor:"3,keyasint"`
	Button      uint8          `cbor:"4,keyasint,omitempty"`
	ScrollDelta int32          `cbor:"5,keyasint,omitempty"`
	Mods        KeyModifiers   `cbor:"6,keyasint,omitempty"`
}

// InputAck acknowledges delivered input cumulatively and echoes timing
// for the client's RTT estimator.
type InputAck struct {
	AckedSeq           uint64 `cbor:"1,keyasint"`
	RTTSampleSeq       uint64 `cbor:"2,keyasint,omitempty"`
	EchoedClientTimeMS uint32 `cbor:"3,keyasint,omitempty"`
}

// ErrorCode classifies protocol errors.
type ErrorCode uint8

const (
	ErrorUnspecified     ErrorCode = 0
	ErrorUnauthorized    ErrorCode = 1
	ErrorBadVersion      ErrorCode = 2
	ErrorBadMessage      ErrorCode = 3
	ErrorFlowControl     ErrorCode = 4
	ErrorSessionNotFound ErrorCode = 5
	ErrorLeaseDenied     ErrorCode = 6
	ErrorInternal        ErrorCode = 7
)

// String returns the snake_case code name used in logs.
func (c ErrorCode) String() string {
	switch c {
	case ErrorUnauthorized:
		return "unauthorized"
	case ErrorBadVersion:
		return "bad_version"
	case ErrorBadMessage:
		return "bad_message"
	case ErrorFlowControl:
		return "flow_control"
	case ErrorSessionNotFound:
		return "session_not_found"
	case ErrorLeaseDenied:
		return "lease_denied"
	case ErrorInternal:
		return "internal"
	default:
		return "unspecified"
	}
}

// ProtocolError reports a protocol violation or server condition.
// Fatal errors are followed by connection close.
type ProtocolError struct {
	Code    ErrorCode `cbor:"1,keyasint"`
	Message string    `cbor:"2,keyasint,omitempty"`
	Fatal   bool      `cbor:"3,keyasint,omitempty"`
}

// Ping probes liveness on either the stream or the datagram path.
type Ping struct {
	Nonce        uint64 `cbor:"1,keyasint"`
	ClientTimeMS uint32 `cbor:"2,keyasint,omitempty"`
}

// Pong answers a Ping, echoing its nonce and timestamp.
type Pong struct {
	Nonce              uint64 `cbor:"1,keyasint"`
	EchoedClientTimeMS uint32 `cbor:"2,keyasint,omitempty"`
}

// UnsupportedFeatureNotice tells a peer that a requested optional
// feature is not available. Informational, never fatal.
type UnsupportedFeatureNotice struct {
	Feature string `cbor:"1,keyasint"`
}
