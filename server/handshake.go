// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"fmt"

	"github.com/zrp-foundation/zrp/lib/session"
	"github.com/zrp-foundation/zrp/lib/wire"
)

// Attacher is the slice of the session the handshake needs. The
// server adapts it so AddClient executes on the session task.
type Attacher interface {
	AddClient(params session.AddClientParams) (session.AddClientResult, error)
}

// HandshakeOptions parameterizes the server side of the handshake.
type HandshakeOptions struct {
	SessionName        string
	ServerCapabilities wire.Capabilities
	SnapshotIntervalMS uint32
	MaxInflightInputs  uint32
	RenderWindow       uint32
}

// HandshakeResult is the accepted client's negotiated identity.
type HandshakeResult struct {
	ClientHello *wire.ClientHello
	Negotiated  wire.Capabilities
	Attached    session.AddClientResult
}

// handshakeError wraps the ProtocolError already reported to the
// peer, so callers close without sending a second error.
type handshakeError struct {
	protocolError *wire.ProtocolError
}

func (e *handshakeError) Error() string {
	return fmt.Sprintf("handshake failed: %s: %s", e.protocolError.Code, e.protocolError.Message)
}

// RunHandshake performs the server side of the wire handshake on a
// fresh stream: read ClientHello, check version and authorization,
// register the client, reply ServerHello. On failure a fatal
// ProtocolError is written before the error returns; the caller
// closes the stream.
func RunHandshake(reader *wire.StreamReader, writer *wire.StreamWriter, attacher Attacher, opts HandshakeOptions) (*HandshakeResult, error) {
	envelope, err := reader.Next()
	if err != nil {
		return nil, fmt.Errorf("reading hello: %w", err)
	}
	hello := envelope.ClientHello
	if hello == nil {
		return nil, failHandshake(writer, wire.ErrorBadMessage,
			fmt.Sprintf("expected client_hello, got %s", envelope.Kind()))
	}

	serverVersion := wire.ProtocolVersion{Major: wire.VersionMajor, Minor: wire.VersionMinor}
	if !serverVersion.Compatible(hello.Version) {
		return nil, failHandshake(writer, wire.ErrorBadVersion,
			fmt.Sprintf("protocol major %d required, client speaks %d",
				wire.VersionMajor, hello.Version.Major))
	}

	negotiated := opts.ServerCapabilities.Intersect(hello.Capabilities)

	attached, err := attacher.AddClient(session.AddClientParams{
		WindowSize:        wire.DisplaySize{Cols: 80, Rows: 24},
		SupportsDatagrams: negotiated.SupportsDatagrams,
		MaxDatagramBytes:  negotiated.MaxDatagramBytes,
		ClientName:        hello.ClientName,
		BearerToken:       hello.BearerToken,
		ResumeToken:       hello.ResumeToken,
	})
	if err != nil {
		switch {
		case errors.Is(err, session.ErrUnauthorized):
			return nil, failHandshake(writer, wire.ErrorUnauthorized, "bearer token rejected")
		case errors.Is(err, session.ErrSessionFull):
			return nil, failHandshake(writer, wire.ErrorSessionNotFound, "session full")
		default:
			return nil, failHandshake(writer, wire.ErrorInternal, "attach failed")
		}
	}

	serverHello := &wire.ServerHello{
		NegotiatedVersion:      serverVersion,
		NegotiatedCapabilities: negotiated,
		ClientID:               attached.ClientID,
		SessionName:            opts.SessionName,
		SessionState:           attached.SessionState,
		Lease:                  attached.Lease,
		ResumeToken:            attached.ResumeToken,
		SnapshotIntervalMS:     opts.SnapshotIntervalMS,
		MaxInflightInputs:      opts.MaxInflightInputs,
		RenderWindow:           opts.RenderWindow,
	}
	if err := writer.Write(&wire.StreamEnvelope{ServerHello: serverHello}); err != nil {
		return nil, fmt.Errorf("writing server hello: %w", err)
	}

	return &HandshakeResult{
		ClientHello: hello,
		Negotiated:  negotiated,
		Attached:    attached,
	}, nil
}

// failHandshake reports a fatal protocol error to the peer and
// returns the matching error.
func failHandshake(writer *wire.StreamWriter, code wire.ErrorCode, message string) error {
	protocolError := &wire.ProtocolError{Code: code, Message: message, Fatal: true}
	// Best effort: the peer may already be gone.
	_ = writer.Write(&wire.StreamEnvelope{ProtocolError: protocolError})
	return &handshakeError{protocolError: protocolError}
}
