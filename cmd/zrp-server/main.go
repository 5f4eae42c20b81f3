// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

// zrp-server runs a ZRP session server with a built-in line-echo
// host: controller input is echoed onto the shared screen. It
// exercises the full synchronization pipeline (frame commits, deltas,
// datagram routing, leases, resume) without embedding a terminal
// emulator; a real deployment feeds the session from a PTY renderer
// instead.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/zrp-foundation/zrp/lib/config"
	"github.com/zrp-foundation/zrp/lib/screen"
	"github.com/zrp-foundation/zrp/lib/wire"
	"github.com/zrp-foundation/zrp/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "zrp-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := pflag.String("config", "", "path to zrp.yaml (overrides ZRP_CONFIG)")
	listenAddress := pflag.String("listen", "", "override listen address")
	logLevel := pflag.String("log-level", "info", "log level: debug, info, warn, error")
	pflag.Parse()

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *listenAddress != "" {
		cfg.ListenAddress = *listenAddress
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	host := newEchoHost(cfg.Session.Cols, cfg.Session.Rows)
	srv, err := server.New(cfg, host, host, logger, nil)
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}
	go host.run(ctx, srv)

	<-ctx.Done()
	logger.Info("shutting down")
	srv.Stop()
	return nil
}

// loadConfig resolves the config path: explicit flag, then
// ZRP_CONFIG, then defaults (loudly).
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if os.Getenv("ZRP_CONFIG") != "" {
		return config.Load()
	}
	slog.Warn("no config file; running with defaults (unauthenticated, loopback)")
	return config.Default(), nil
}

func newLogger(level string) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel}))
}

// hostEvent is one unit of work for the echo host's goroutine.
type hostEvent struct {
	input  *wire.InputEvent
	resize *wire.DisplaySize
}

// echoHost is the demo PTY stand-in: it consumes decoded input and
// echoes printable bytes onto the screen at a tracked cursor. It
// implements session.InputSink and session.ViewportSink.
//
// Sink callbacks run on the session task, so they only enqueue; the
// mutation happens on the host goroutine via Server.Commit.
type echoHost struct {
	events chan hostEvent

	cols, rows int
	col, row   int
}

func newEchoHost(cols, rows int) *echoHost {
	return &echoHost{
		events: make(chan hostEvent, 64),
		cols:   cols,
		rows:   rows,
	}
}

func (h *echoHost) HandleInput(event *wire.InputEvent) {
	select {
	case h.events <- hostEvent{input: event}:
	default:
		// The host is a demo; shedding under overload beats
		// blocking the session task.
	}
}

func (h *echoHost) HandleViewportChange(size wire.DisplaySize) {
	select {
	case h.events <- hostEvent{resize: &size}:
	default:
	}
}

func (h *echoHost) run(ctx context.Context, srv *server.Server) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-h.events:
			switch {
			case event.resize != nil:
				h.cols = int(event.resize.Cols)
				h.rows = int(event.resize.Rows)
				srv.Resize(ctx, h.cols, h.rows)
				srv.Commit(ctx, func(store *screen.FrameStore, styles *screen.StyleTable) {})
			case event.input != nil:
				h.echo(ctx, srv, server.TranslateInput(event.input))
			}
		}
	}
}

// echo paints bytes at the cursor with line wrapping, one commit per
// event.
func (h *echoHost) echo(ctx context.Context, srv *server.Server, data []byte) {
	if len(data) == 0 {
		return
	}
	srv.Commit(ctx, func(store *screen.FrameStore, styles *screen.StyleTable) {
		for _, b := range data {
			switch {
			case b == '\r':
				h.col = 0
			case b == '\n':
				h.advanceRow()
			case b == 0x7f || b == '\b':
				if h.col > 0 {
					h.col--
					store.SetCell(h.row, h.col, screen.DefaultCell())
				}
			case b >= 0x20 && b < 0x7f:
				store.SetCell(h.row, h.col, screen.Cell{Codepoint: uint32(b), Width: 1})
				h.col++
				if h.col >= h.cols {
					h.col = 0
					h.advanceRow()
				}
			}
			store.SetCursor(wire.CursorState{
				Row: uint32(h.row), Col: uint32(h.col), Visible: true, Blink: true,
			})
		}
	})
}

func (h *echoHost) advanceRow() {
	if h.row < h.rows-1 {
		h.row++
	}
}
