// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

// zrp-attach is a minimal terminal client: it attaches to a ZRP
// server, mirrors the session screen into the local terminal, and
// forwards keystrokes as input events.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/zrp-foundation/zrp/lib/clock"
	"github.com/zrp-foundation/zrp/lib/input"
	"github.com/zrp-foundation/zrp/lib/syncclient"
	"github.com/zrp-foundation/zrp/lib/wire"
	"github.com/zrp-foundation/zrp/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "zrp-attach: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	signalingURL := pflag.String("url", "http://127.0.0.1:8443/connect", "server signaling URL")
	bearerToken := pflag.String("token", "", "bearer token")
	clientName := pflag.String("name", "zrp-attach", "client name reported at handshake")
	requestControl := pflag.Bool("control", true, "request the controller lease after attach")
	forceControl := pflag.Bool("force", false, "force lease takeover")
	pflag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	peer, err := transport.Dial(ctx, *signalingURL)
	if err != nil {
		return err
	}
	defer peer.Close()

	client, err := attach(peer, *bearerToken, *clientName)
	if err != nil {
		return err
	}
	defer client.close()

	if *requestControl {
		client.send(&wire.StreamEnvelope{RequestControl: &wire.RequestControl{
			DesiredSize: client.localSize(),
			Force:       *forceControl,
		}})
	}

	restore, err := rawMode()
	if err != nil {
		return err
	}
	defer restore()

	go client.readStdin(ctx)
	go client.receiveDatagrams(ctx)
	return client.receiveStream(ctx)
}

// attach performs the client side of the handshake.
func attach(peer *transport.Peer, bearerToken, clientName string) (*attachedClient, error) {
	reader := wire.NewStreamReader(peer.Stream(), 0)
	writer := wire.NewStreamWriter(peer.Stream())

	hello := &wire.ClientHello{
		Version: wire.ProtocolVersion{Major: wire.VersionMajor, Minor: wire.VersionMinor},
		Capabilities: wire.Capabilities{
			SupportsDatagrams:       true,
			MaxDatagramBytes:        wire.DefaultMaxDatagramBytes,
			SupportsStyleDictionary: true,
			SupportsPrediction:      true,
			SupportsCompression:     true,
		},
		ClientName:  clientName,
		BearerToken: []byte(bearerToken),
	}
	if err := writer.Write(&wire.StreamEnvelope{ClientHello: hello}); err != nil {
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	reply, err := reader.Next()
	if err != nil {
		return nil, fmt.Errorf("reading server hello: %w", err)
	}
	if reply.ProtocolError != nil {
		return nil, fmt.Errorf("server refused: %s: %s",
			reply.ProtocolError.Code, reply.ProtocolError.Message)
	}
	if reply.ServerHello == nil {
		return nil, fmt.Errorf("expected server_hello, got %s", reply.Kind())
	}

	serverHello := reply.ServerHello
	return &attachedClient{
		peer:      peer,
		reader:    reader,
		writer:    writer,
		state:     syncclient.NewState(slog.Default()),
		sender:    input.NewSender(int(serverHello.MaxInflightInputs), clock.Real()),
		estimator: input.NewEstimator(),
		clientID:  serverHello.ClientID,
		session:   serverHello.SessionName,
		datagrams: serverHello.NegotiatedCapabilities.SupportsDatagrams,
	}, nil
}

type attachedClient struct {
	peer      *transport.Peer
	reader    *wire.StreamReader
	writer    *wire.StreamWriter
	state     *syncclient.State
	sender    *input.Sender
	estimator *input.Estimator
	clientID  uint64
	session   string
	datagrams bool

	// writeMu serializes stream writes: the stdin pump and the
	// receive loop both send.
	writeMu sync.Mutex

	// stateMu guards state, sender, and estimator, which are touched
	// by the stream loop, the datagram loop, and the stdin pump.
	stateMu sync.Mutex
}

func (c *attachedClient) close() {
	c.peer.Close()
}

// send writes a stream envelope.
func (c *attachedClient) send(envelope *wire.StreamEnvelope) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.writer.Write(envelope); err != nil {
		slog.Warn("stream send failed", "error", err)
	}
}

func (c *attachedClient) localSize() *wire.DisplaySize {
	cols, rows, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return nil
	}
	return &wire.DisplaySize{Cols: uint32(cols), Rows: uint32(rows)}
}

// receiveStream is the main loop: it applies render updates and
// handles control messages until the stream closes.
func (c *attachedClient) receiveStream(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		envelope, err := c.reader.Next()
		if err != nil {
			return fmt.Errorf("stream closed: %w", err)
		}

		switch {
		case envelope.ScreenSnapshot != nil:
			c.applySnapshot(envelope.ScreenSnapshot)

		case envelope.CompressedSnapshot != nil:
			snapshot, err := wire.DecompressSnapshot(envelope.CompressedSnapshot)
			if err != nil {
				slog.Warn("bad compressed snapshot", "error", err)
				continue
			}
			c.applySnapshot(snapshot)

		case envelope.ScreenDelta != nil:
			c.applyDelta(envelope.ScreenDelta)

		case envelope.InputAck != nil:
			c.stateMu.Lock()
			if sample := c.sender.ProcessAck(envelope.InputAck); sample != nil {
				c.estimator.RecordSample(uint32(sample.RTT.Milliseconds()))
			}
			c.stateMu.Unlock()

		case envelope.GrantControl != nil:
			c.paintStatus(fmt.Sprintf("controller (lease %d)", envelope.GrantControl.Lease.LeaseID))

		case envelope.DenyControl != nil:
			c.paintStatus("view only: " + envelope.DenyControl.Reason)

		case envelope.LeaseRevoked != nil:
			c.paintStatus("control lost: " + envelope.LeaseRevoked.Reason)

		case envelope.Ping != nil:
			c.send(&wire.StreamEnvelope{Pong: &wire.Pong{
				Nonce:              envelope.Ping.Nonce,
				EchoedClientTimeMS: envelope.Ping.ClientTimeMS,
			}})

		case envelope.ProtocolError != nil:
			if envelope.ProtocolError.Fatal {
				return fmt.Errorf("server error: %s: %s",
					envelope.ProtocolError.Code, envelope.ProtocolError.Message)
			}
			slog.Warn("server error",
				"code", envelope.ProtocolError.Code,
				"message", envelope.ProtocolError.Message)
		}
	}
}

// receiveDatagrams applies lossy-path deltas.
func (c *attachedClient) receiveDatagrams(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.peer.Done():
			return
		case payload := <-c.peer.Datagrams():
			envelope, err := wire.DecodeDatagram(payload)
			if err != nil {
				continue
			}
			if envelope.ScreenDelta != nil {
				c.applyDelta(envelope.ScreenDelta)
			}
		}
	}
}

func (c *attachedClient) applySnapshot(snapshot *wire.ScreenSnapshot) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.state.ApplySnapshot(snapshot) == syncclient.Applied {
		c.paint()
	}
	c.sendStateAck(snapshot.StateID)
}

func (c *attachedClient) applyDelta(delta *wire.ScreenDelta) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	switch c.state.ApplyDelta(delta) {
	case syncclient.Applied:
		c.paint()
		c.sendStateAck(delta.StateID)
	case syncclient.BaseMismatch:
		if c.state.NeedsResync() {
			c.send(&wire.StreamEnvelope{RequestSnapshot: &wire.RequestSnapshot{
				Reason:       wire.SnapshotReasonBaseMismatch,
				KnownStateID: c.state.LastAppliedStateID(),
			}})
		}
	}
}

// sendStateAck prefers the datagram path, falling back to the
// stream. Callers hold stateMu.
func (c *attachedClient) sendStateAck(lastReceived uint64) {
	ack := c.state.MakeStateAck(
		lastReceived,
		uint32(time.Now().UnixMilli()),
		c.estimator.LossPPM(),
		c.estimator.SRTTMS(),
	)
	if c.datagrams {
		if encoded, err := wire.EncodeDatagram(&wire.DatagramEnvelope{StateAck: ack}); err == nil {
			if c.peer.SendDatagram(encoded) == nil {
				return
			}
		}
	}
	c.send(&wire.StreamEnvelope{StateAck: ack})
}

// readStdin forwards raw keyboard bytes as input events.
func (c *attachedClient) readStdin(ctx context.Context) {
	buffer := make([]byte, 1024)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := os.Stdin.Read(buffer)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}
		raw := make([]byte, n)
		copy(raw, buffer[:n])

		event := &wire.InputEvent{Raw: raw}
		c.stateMu.Lock()
		prepared := c.sender.Prepare(event)
		c.stateMu.Unlock()
		if !prepared {
			// Window full; shed input rather than block the terminal.
			continue
		}
		c.send(&wire.StreamEnvelope{InputEvent: event})
	}
}

// paint redraws the mirrored screen with plain escape sequences.
func (c *attachedClient) paint() {
	size := c.state.Size()
	var builder strings.Builder
	builder.Grow(int(size.Cols*size.Rows) * 2)
	builder.WriteString("\x1b[H\x1b[2J")

	for row := 0; row < int(size.Rows); row++ {
		if row > 0 {
			builder.WriteString("\r\n")
		}
		currentStyle := uint16(0)
		builder.WriteString("\x1b[0m")
		for col := 0; col < int(size.Cols); col++ {
			cell, ok := c.state.Cell(row, col)
			if !ok || cell.Width == 0 {
				continue
			}
			if cell.StyleID != currentStyle {
				builder.WriteString(sgrFor(c.styleOf(cell.StyleID)))
				currentStyle = cell.StyleID
			}
			builder.WriteRune(rune(cell.Codepoint))
		}
	}

	cursor := c.state.Cursor()
	builder.WriteString("\x1b[0m")
	fmt.Fprintf(&builder, "\x1b[%d;%dH", cursor.Row+1, cursor.Col+1)
	if cursor.Visible {
		builder.WriteString("\x1b[?25h")
	} else {
		builder.WriteString("\x1b[?25l")
	}
	os.Stdout.WriteString(builder.String())
}

// paintStatus writes a one-line status into the terminal title-safe
// bottom row, truncated to the terminal width.
func (c *attachedClient) paintStatus(status string) {
	cols, rows, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return
	}
	line := fmt.Sprintf("[%s] %s", c.session, status)
	if ansi.StringWidth(line) > cols {
		line = ansi.Truncate(line, cols-1, "…")
	}
	fmt.Fprintf(os.Stdout, "\x1b7\x1b[%d;1H\x1b[7m%s\x1b[0m\x1b8", rows, line)
}

func (c *attachedClient) styleOf(id uint16) wire.Style {
	style, _ := c.state.Style(id)
	return style
}

// sgrFor builds the SGR sequence for a style.
func sgrFor(style wire.Style) string {
	var parameters []string
	parameters = append(parameters, "0")
	if style.Bold {
		parameters = append(parameters, "1")
	}
	if style.Dim {
		parameters = append(parameters, "2")
	}
	if style.Italic {
		parameters = append(parameters, "3")
	}
	if style.Underline != wire.UnderlineNone {
		parameters = append(parameters, "4")
	}
	if style.BlinkSlow {
		parameters = append(parameters, "5")
	}
	if style.BlinkFast {
		parameters = append(parameters, "6")
	}
	if style.Reverse {
		parameters = append(parameters, "7")
	}
	if style.Hidden {
		parameters = append(parameters, "8")
	}
	if style.Strike {
		parameters = append(parameters, "9")
	}
	parameters = append(parameters, colorParameters(style.Foreground, 38, 30)...)
	parameters = append(parameters, colorParameters(style.Background, 48, 40)...)
	return "\x1b[" + strings.Join(parameters, ";") + "m"
}

// colorParameters encodes one color as SGR parameters. extended is
// the 38/48 prefix for palette and RGB forms; basic is the 30/40 base
// for the first eight palette entries.
func colorParameters(color wire.Color, extended, basic int) []string {
	switch color.Kind {
	case wire.ColorANSI256:
		if color.Index < 8 {
			return []string{fmt.Sprintf("%d", basic+int(color.Index))}
		}
		return []string{fmt.Sprintf("%d;5;%d", extended, color.Index)}
	case wire.ColorRGB:
		return []string{fmt.Sprintf("%d;2;%d;%d;%d", extended, color.R, color.G, color.B)}
	default:
		return nil
	}
}

// rawMode switches the local terminal to raw input and returns the
// restore function.
func rawMode() (func(), error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return func() {}, nil
	}
	previous, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("entering raw mode: %w", err)
	}
	return func() {
		term.Restore(fd, previous)
		os.Stdout.WriteString("\x1b[0m\x1b[?25h\n")
	}, nil
}
