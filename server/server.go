// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

// Package server wires the synchronization core to the transport: it
// accepts peers, runs the handshake, and drives one cooperative
// session task per process.
//
// The session task is the single owner of the RemoteSession. Per-peer
// receive goroutines and the periodic tickers never touch session
// state directly; they post closures onto the task's bounded command
// channel, so every core operation is serialized by arrival order and
// the core stays lock-free. Outgoing traffic goes through each
// client's Router, whose bounded queue and try-send keep a dead
// client from blocking the session.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/zrp-foundation/zrp/lib/clock"
	"github.com/zrp-foundation/zrp/lib/config"
	"github.com/zrp-foundation/zrp/lib/screen"
	"github.com/zrp-foundation/zrp/lib/session"
	"github.com/zrp-foundation/zrp/lib/wire"
	"github.com/zrp-foundation/zrp/transport"
)

// commandQueueDepth bounds the session task's inbox.
const commandQueueDepth = 256

// tickInterval drives lease expiry and input-gap checks.
const tickInterval = 500 * time.Millisecond

// Server owns the transport listener and the session task.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	clk    clock.Clock

	session  *session.Session
	listener *transport.Listener

	// commands is the session task's inbox. Everything that touches
	// session state or the clients map runs as a posted closure.
	commands chan func()

	// clients is owned by the session task.
	clients map[uint64]*serverClient

	cancel context.CancelFunc
	done   chan struct{}
}

// serverClient couples an attached client's transport objects.
type serverClient struct {
	id     uint64
	peer   *transport.Peer
	router *transport.Router
	cancel context.CancelFunc
}

// New builds a server from runtime configuration. inputSink receives
// the controller's input; viewportSink is told when the controller
// resizes.
func New(cfg *config.Config, inputSink session.InputSink, viewportSink session.ViewportSink, logger *slog.Logger, clk clock.Clock) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("server: invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real()
	}

	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}

	sess, err := session.New(session.Config{
		SessionID:       1,
		SessionName:     cfg.SessionName,
		Cols:            cfg.Session.Cols,
		Rows:            cfg.Session.Rows,
		BearerSecret:    []byte(cfg.Auth.BearerTokenSecret),
		ResumeSecret:    []byte(cfg.Auth.ResumeTokenSecret),
		ResumeTTL:       cfg.Auth.ResumeTokenTTL(),
		MaxClockSkew:    cfg.Auth.MaxClockSkew(),
		MaxClients:      cfg.Session.MaxClientsPerSession,
		HistorySize:     cfg.Session.StateHistorySize,
		RenderWindow:    cfg.Session.RenderWindowSize,
		Policy:          policy,
		LeaseDuration:   cfg.Session.LeaseDuration(),
		MaxInputBuffer:  cfg.Session.MaxInflightInputs,
		InputGapTimeout: cfg.Session.InputGapTimeout(),
		Logger:          logger,
		Clock:           clk,
	}, inputSink, viewportSink)
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:      cfg,
		logger:   logger,
		clk:      clk,
		session:  sess,
		commands: make(chan func(), commandQueueDepth),
		clients:  make(map[uint64]*serverClient),
		done:     make(chan struct{}),
	}, nil
}

// Start binds the listener and launches the session task and accept
// loop. It returns once the listener is bound.
func (s *Server) Start(ctx context.Context) error {
	listener, err := transport.Listen(s.cfg.ListenAddress, s.logger)
	if err != nil {
		return err
	}
	s.listener = listener

	ctx, s.cancel = context.WithCancel(ctx)
	go s.sessionLoop(ctx)
	go s.acceptLoop(ctx)

	s.logger.Info("server started",
		"listen_address", listener.Addr(),
		"session", s.cfg.SessionName,
	)
	return nil
}

// Stop shuts the server down and waits for the session task to
// drain.
func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.listener != nil {
		s.listener.Close()
	}
	<-s.done
}

// Addr returns the bound signaling address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// post hands a closure to the session task, blocking if the inbox is
// full (backpressure on the producer, never on the session).
func (s *Server) post(ctx context.Context, command func()) {
	select {
	case s.commands <- command:
	case <-ctx.Done():
	}
}

// call posts a closure and waits for it to run.
func call[T any](ctx context.Context, s *Server, fn func() T) (T, error) {
	result := make(chan T, 1)
	s.post(ctx, func() { result <- fn() })
	select {
	case value := <-result:
		return value, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// sessionLoop is the session task: the sole goroutine that touches
// session state. It suspends only at channel receives.
func (s *Server) sessionLoop(ctx context.Context) {
	defer close(s.done)

	ticker := s.clk.NewTicker(tickInterval)
	defer ticker.Stop()
	snapshotTicker := s.clk.NewTicker(s.cfg.Session.SnapshotInterval())
	defer snapshotTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdownClients()
			return
		case command := <-s.commands:
			command()
		case <-ticker.C:
			s.tick()
		case <-snapshotTicker.C:
			s.refreshAllClients()
		}
	}
}

// tick runs lease expiry and input-gap checks.
func (s *Server) tick() {
	if notice := s.session.TickLease(); notice != nil {
		if client, ok := s.clients[notice.ClientID]; ok {
			client.router.TrySendStream(&wire.StreamEnvelope{LeaseRevoked: notice.Message})
		}
	}
	for _, clientID := range s.session.TickInputGaps() {
		s.disconnectClient(clientID, &wire.ProtocolError{
			Code:    wire.ErrorFlowControl,
			Message: "input sequence gap timeout",
			Fatal:   true,
		})
	}
}

// refreshAllClients re-seeds every client with a snapshot. The
// periodic refresh bounds how stale a client that lost every datagram
// can get even when it never asks for a resync.
func (s *Server) refreshAllClients() {
	for clientID, client := range s.clients {
		s.session.ApplyRequestSnapshot(clientID, &wire.RequestSnapshot{
			Reason: wire.SnapshotReasonUnspecified,
		})
		if update := s.session.GetRenderUpdate(clientID); update != nil {
			client.router.SendRenderUpdate(update)
		}
	}
}

// shutdownClients notifies and closes every client. Session shutdown
// is a clean close after a terminal error envelope.
func (s *Server) shutdownClients() {
	for clientID, client := range s.clients {
		client.router.TrySendStream(&wire.StreamEnvelope{ProtocolError: &wire.ProtocolError{
			Code:    wire.ErrorInternal,
			Message: "session shutting down",
			Fatal:   true,
		}})
		client.cancel()
		client.peer.Close()
		delete(s.clients, clientID)
	}
}

// Commit applies renderer mutations on the session task, advances the
// state id, and fans the resulting update out to every client.
func (s *Server) Commit(ctx context.Context, apply func(store *screen.FrameStore, styles *screen.StyleTable)) (uint64, error) {
	return call(ctx, s, func() uint64 {
		stateID := s.session.CommitFrameUpdate(apply)
		s.broadcast()
		return stateID
	})
}

// Resize resizes the authoritative screen on the session task.
func (s *Server) Resize(ctx context.Context, cols, rows int) {
	s.post(ctx, func() {
		s.session.ResizeViewport(cols, rows)
	})
}

// broadcast emits the freshest update to every client that is not
// already caught up; a client with a full window gets a snapshot.
// Runs on the session task.
func (s *Server) broadcast() {
	for clientID, client := range s.clients {
		if update := s.session.GetRenderUpdate(clientID); update != nil {
			client.router.SendRenderUpdate(update)
		}
	}
}

// acceptLoop accepts transport peers and hands each to a handshake
// goroutine.
func (s *Server) acceptLoop(ctx context.Context) {
	for {
		peer, err := s.listener.Accept(ctx)
		if err != nil {
			return
		}
		go s.handlePeer(ctx, peer)
	}
}

// handlePeer runs the handshake and, on success, registers the client
// and starts its pump goroutines.
func (s *Server) handlePeer(ctx context.Context, peer *transport.Peer) {
	stream := peer.Stream()
	reader := wire.NewStreamReader(stream, s.cfg.Transport.MaxFrameSizeBytes)
	writer := wire.NewStreamWriter(stream)

	// The handshake must complete within its deadline or the stream
	// is torn down.
	stream.SetDeadline(time.Now().Add(s.cfg.Auth.HandshakeTimeout()))

	serverCaps := wire.Capabilities{
		SupportsDatagrams:       true,
		MaxDatagramBytes:        uint32(s.cfg.Transport.DatagramConservativeLimit),
		SupportsStyleDictionary: true,
		SupportsPrediction:      true,
		SupportsCompression:     s.cfg.Transport.EnableCompression,
	}

	attacher := attacherFunc(func(params session.AddClientParams) (session.AddClientResult, error) {
		type outcome struct {
			result session.AddClientResult
			err    error
		}
		value, err := call(ctx, s, func() outcome {
			result, addErr := s.session.AddClient(params)
			return outcome{result: result, err: addErr}
		})
		if err != nil {
			return session.AddClientResult{}, err
		}
		return value.result, value.err
	})

	result, err := RunHandshake(reader, writer, attacher, HandshakeOptions{
		SessionName:        s.cfg.SessionName,
		ServerCapabilities: serverCaps,
		SnapshotIntervalMS: s.cfg.Session.SnapshotIntervalMS,
		MaxInflightInputs:  uint32(s.cfg.Session.MaxInflightInputs),
		RenderWindow:       uint32(s.cfg.Session.RenderWindowSize),
	})
	if err != nil {
		s.logger.Info("handshake failed", "error", err)
		peer.Close()
		return
	}
	stream.SetDeadline(time.Time{})

	clientID := result.Attached.ClientID
	clientCtx, clientCancel := context.WithCancel(ctx)

	router := transport.NewRouter(transport.RouterConfig{
		ClientID:          clientID,
		SupportsDatagrams: result.Negotiated.SupportsDatagrams,
		MaxDatagramBytes:  int(result.Negotiated.MaxDatagramBytes),
		ConservativeLimit: s.cfg.Transport.DatagramConservativeLimit,
		QueueDepth:        s.cfg.Transport.ClientSendQueueDepth,
		Compression:       result.Negotiated.SupportsCompression,
		Logger:            s.logger,
	}, peer)

	client := &serverClient{
		id:     clientID,
		peer:   peer,
		router: router,
		cancel: clientCancel,
	}

	// Register and send the initial snapshot from the session task.
	s.post(ctx, func() {
		s.clients[clientID] = client
		if update := s.session.GetRenderUpdate(clientID); update != nil {
			router.SendRenderUpdate(update)
		}
	})

	go router.Run(clientCtx, stream)
	go s.watchClient(clientCtx, client)
	go s.receiveStream(clientCtx, client, reader)
	go s.receiveDatagrams(clientCtx, client)
}

// watchClient disconnects a client whose router died or whose peer
// closed underneath it.
func (s *Server) watchClient(ctx context.Context, client *serverClient) {
	select {
	case <-ctx.Done():
	case <-client.router.Dead():
		s.post(ctx, func() { s.disconnectClient(client.id, nil) })
	case <-client.peer.Done():
		s.post(ctx, func() { s.disconnectClient(client.id, nil) })
	}
}

// receiveStream pumps the client's reliable stream into the session
// task. A read or decode error is fatal to this client only.
func (s *Server) receiveStream(ctx context.Context, client *serverClient, reader *wire.StreamReader) {
	for {
		envelope, err := reader.Next()
		if err != nil {
			s.post(ctx, func() {
				s.disconnectClient(client.id, fatalReadError(err))
			})
			return
		}
		s.post(ctx, func() { s.handleStreamEnvelope(client, envelope) })
	}
}

// receiveDatagrams pumps the client's datagram channel into the
// session task. Undecodable datagrams are logged and discarded.
func (s *Server) receiveDatagrams(ctx context.Context, client *serverClient) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-client.peer.Datagrams():
			envelope, err := wire.DecodeDatagram(payload)
			if err != nil {
				s.logger.Debug("discarding undecodable datagram",
					"client_id", client.id, "error", err)
				continue
			}
			s.post(ctx, func() { s.handleDatagramEnvelope(client, envelope) })
		}
	}
}

// handleStreamEnvelope dispatches one reliable-stream message. Runs
// on the session task.
func (s *Server) handleStreamEnvelope(client *serverClient, envelope *wire.StreamEnvelope) {
	if _, attached := s.clients[client.id]; !attached {
		return
	}

	switch {
	case envelope.InputEvent != nil:
		s.handleInput(client, envelope.InputEvent)

	case envelope.StateAck != nil:
		s.handleStateAck(client, envelope.StateAck)

	case envelope.RequestControl != nil:
		outcome := s.session.RequestControl(client.id, envelope.RequestControl)
		if outcome.Reply != nil {
			client.router.TrySendStream(outcome.Reply)
		}
		if outcome.Revocation != nil {
			if previous, ok := s.clients[outcome.Revocation.ClientID]; ok {
				previous.router.TrySendStream(&wire.StreamEnvelope{
					LeaseRevoked: outcome.Revocation.Message,
				})
			}
		}

	case envelope.KeepAliveLease != nil:
		s.session.KeepAliveLease(client.id, envelope.KeepAliveLease)

	case envelope.ReleaseControl != nil:
		s.session.ReleaseControl(client.id, envelope.ReleaseControl)

	case envelope.SetControllerSize != nil:
		s.session.SetControllerSize(client.id, envelope.SetControllerSize)

	case envelope.RequestSnapshot != nil:
		s.session.ApplyRequestSnapshot(client.id, envelope.RequestSnapshot)
		if update := s.session.GetRenderUpdate(client.id); update != nil {
			client.router.SendRenderUpdate(update)
		}

	case envelope.Ping != nil:
		client.router.TrySendStream(&wire.StreamEnvelope{Pong: &wire.Pong{
			Nonce:              envelope.Ping.Nonce,
			EchoedClientTimeMS: envelope.Ping.ClientTimeMS,
		}})

	case envelope.ProtocolError != nil:
		s.logger.Info("client reported protocol error",
			"client_id", client.id,
			"code", envelope.ProtocolError.Code,
			"message", envelope.ProtocolError.Message,
		)
		if envelope.ProtocolError.Fatal {
			s.disconnectClient(client.id, nil)
		}

	default:
		s.logger.Debug("ignoring stream envelope",
			"client_id", client.id, "kind", envelope.Kind())
	}
}

// handleDatagramEnvelope dispatches one datagram. Runs on the session
// task.
func (s *Server) handleDatagramEnvelope(client *serverClient, envelope *wire.DatagramEnvelope) {
	if _, attached := s.clients[client.id]; !attached {
		return
	}

	switch {
	case envelope.StateAck != nil:
		s.handleStateAck(client, envelope.StateAck)
	case envelope.Ping != nil:
		pong := &wire.DatagramEnvelope{Pong: &wire.Pong{
			Nonce:              envelope.Ping.Nonce,
			EchoedClientTimeMS: envelope.Ping.ClientTimeMS,
		}}
		if encoded, err := wire.EncodeDatagram(pong); err == nil {
			_ = client.peer.SendDatagram(encoded)
		}
	default:
		s.logger.Debug("ignoring datagram",
			"client_id", client.id, "kind", envelope.Kind())
	}
}

// handleInput runs the sequence gate and answers with an InputAck on
// the stream. Flow-control violations disconnect the client.
func (s *Server) handleInput(client *serverClient, event *wire.InputEvent) {
	ack, err := s.session.ProcessInput(client.id, event)
	if err != nil {
		s.disconnectClient(client.id, &wire.ProtocolError{
			Code:    wire.ErrorFlowControl,
			Message: err.Error(),
			Fatal:   true,
		})
		return
	}
	if ack != nil {
		client.router.TrySendStream(&wire.StreamEnvelope{InputAck: ack})
	}
}

// handleStateAck opens the client's render window and immediately
// offers a fresh update if one is pending.
func (s *Server) handleStateAck(client *serverClient, ack *wire.StateAck) {
	s.session.ApplyStateAck(client.id, ack)
	if update := s.session.GetRenderUpdate(client.id); update != nil {
		client.router.SendRenderUpdate(update)
	}
}

// disconnectClient tears one client down: optional terminal error,
// task cancellation, transport close, record removal. Other clients
// are untouched. Runs on the session task.
func (s *Server) disconnectClient(clientID uint64, terminal *wire.ProtocolError) {
	client, ok := s.clients[clientID]
	if !ok {
		return
	}
	if terminal != nil {
		client.router.TrySendStream(&wire.StreamEnvelope{ProtocolError: terminal})
	}
	delete(s.clients, clientID)
	client.cancel()
	client.peer.Close()
	s.session.RemoveClient(clientID)
}

// fatalReadError classifies a stream read failure. Oversized frames
// and malformed envelopes earn a bad_message before close; a plain
// EOF or closed connection gets a silent close.
func fatalReadError(err error) *wire.ProtocolError {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return &wire.ProtocolError{
		Code:    wire.ErrorBadMessage,
		Message: err.Error(),
		Fatal:   true,
	}
}

// attacherFunc adapts a function to the Attacher interface.
type attacherFunc func(params session.AddClientParams) (session.AddClientResult, error)

func (f attacherFunc) AddClient(params session.AddClientParams) (session.AddClientResult, error) {
	return f(params)
}
