// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

// Package session is the server-side aggregate: one Session owns the
// frame store, style table, lease manager, and per-client render and
// input state for a single terminal session.
//
// A Session is not safe for concurrent use. The transport layer runs
// one session task per session and funnels every call through it over
// bounded channels; within the session everything is sequential, so
// the core needs no locks.
package session

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zrp-foundation/zrp/lib/clock"
	"github.com/zrp-foundation/zrp/lib/input"
	"github.com/zrp-foundation/zrp/lib/lease"
	"github.com/zrp-foundation/zrp/lib/render"
	"github.com/zrp-foundation/zrp/lib/resume"
	"github.com/zrp-foundation/zrp/lib/screen"
	"github.com/zrp-foundation/zrp/lib/wire"
)

// Errors returned by session operations.
var (
	ErrUnauthorized   = errors.New("session: bearer token rejected")
	ErrSessionFull    = errors.New("session: maximum client count reached")
	ErrClientNotFound = errors.New("session: unknown client id")
)

// DefaultMaxClients bounds attached clients per session.
const DefaultMaxClients = 16

// Config carries everything a Session needs at construction.
type Config struct {
	SessionID   uint64
	SessionName string
	Cols, Rows  int

	// BearerSecret authorizes attaching clients. Empty means the
	// server runs without authentication; New logs a warning.
	BearerSecret []byte

	// ResumeSecret keys resume-token sealing. Empty disables resume
	// tokens.
	ResumeSecret    []byte
	ResumeTTL       time.Duration
	MaxClockSkew    time.Duration
	MaxClients      int
	HistorySize     int
	RenderWindow    int
	Policy          wire.ControllerPolicy
	LeaseDuration   time.Duration
	MaxInputBuffer  int
	InputGapTimeout time.Duration

	Logger *slog.Logger
	Clock  clock.Clock
}

// InputSink receives decoded input events that passed the sequence
// gate and the lease gate, in order. The PTY host implements it.
type InputSink interface {
	HandleInput(event *wire.InputEvent)
}

// ViewportSink is told when the authoritative viewport changes (lease
// grant with a new size, or SetControllerSize). The renderer resizes
// the PTY and eventually calls Session.ResizeViewport.
type ViewportSink interface {
	HandleViewportChange(size wire.DisplaySize)
}

// clientRecord is the server-side state for one attached client.
type clientRecord struct {
	id                uint64
	name              string
	render            *render.ClientState
	input             *input.Receiver
	windowSize        wire.DisplaySize
	supportsDatagrams bool
	maxDatagramBytes  uint32
}

// RevocationNotice is a LeaseRevoked that must be delivered to a
// specific client (usually not the one whose request triggered it).
type RevocationNotice struct {
	ClientID uint64
	Message  *wire.LeaseRevoked
}

// LeaseOutcome is the result of a lease message: an optional reply to
// the requesting client and an optional revocation to a third party.
type LeaseOutcome struct {
	Reply      *wire.StreamEnvelope
	Revocation *RevocationNotice
}

// Session aggregates the synchronization core for one terminal.
type Session struct {
	cfg    Config
	logger *slog.Logger
	clk    clock.Clock

	frames *screen.FrameStore
	styles *screen.StyleTable
	leases *lease.Manager
	minter *resume.Minter

	clients      map[uint64]*clientRecord
	nextClientID uint64

	inputSink    InputSink
	viewportSink ViewportSink

	// watermark is the highest delivered-input seq of any lease owner
	// so far. It never regresses, even across ownership changes.
	watermark uint64
}

// New creates a session with a default-filled cols x rows screen at
// state id 0.
func New(cfg Config, inputSink InputSink, viewportSink ViewportSink) (*Session, error) {
	if cfg.Cols <= 0 || cfg.Rows <= 0 {
		return nil, fmt.Errorf("session: invalid geometry %dx%d", cfg.Cols, cfg.Rows)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultMaxClients
	}
	if cfg.Policy == wire.ControllerPolicyUnspecified {
		cfg.Policy = wire.ControllerPolicyLastWriterWins
	}

	var minter *resume.Minter
	if len(cfg.ResumeSecret) > 0 {
		var err error
		minter, err = resume.NewMinter(cfg.ResumeSecret, cfg.ResumeTTL, cfg.MaxClockSkew, cfg.Clock)
		if err != nil {
			return nil, err
		}
	}

	if len(cfg.BearerSecret) == 0 {
		cfg.Logger.Warn("session running without authentication - any client can attach",
			"session", cfg.SessionName)
	}

	return &Session{
		cfg:          cfg,
		logger:       cfg.Logger,
		clk:          cfg.Clock,
		frames:       screen.NewFrameStore(cfg.Cols, cfg.Rows, cfg.HistorySize, cfg.Clock),
		styles:       screen.NewStyleTable(),
		leases:       lease.NewManager(cfg.Policy, cfg.LeaseDuration, cfg.Clock),
		minter:       minter,
		clients:      make(map[uint64]*clientRecord),
		nextClientID: 1,
		inputSink:    inputSink,
		viewportSink: viewportSink,
	}, nil
}

// AddClientParams is the handshake-derived identity of an attaching
// client.
type AddClientParams struct {
	WindowSize        wire.DisplaySize
	SupportsDatagrams bool
	MaxDatagramBytes  uint32
	ClientName        string
	BearerToken       []byte
	ResumeToken       []byte
}

// AddClientResult is what the handshake needs to build a ServerHello.
type AddClientResult struct {
	ClientID     uint64
	SessionState wire.SessionState
	Lease        *wire.ControllerLease
	ResumeToken  []byte
}

// AddClient authorizes and registers a client. A valid resume token
// reclaims the previous client id (unless it is in use) and reports
// the session as resurrected; the lease is never regranted
// automatically. The bearer token is compared in constant time.
func (s *Session) AddClient(params AddClientParams) (AddClientResult, error) {
	if len(s.cfg.BearerSecret) > 0 {
		if subtle.ConstantTimeCompare(params.BearerToken, s.cfg.BearerSecret) != 1 {
			return AddClientResult{}, ErrUnauthorized
		}
	}
	if len(s.clients) >= s.cfg.MaxClients {
		return AddClientResult{}, ErrSessionFull
	}

	state := wire.SessionStateRunning
	var clientID uint64
	if s.minter != nil && len(params.ResumeToken) > 0 {
		payload, err := s.minter.Validate(params.ResumeToken, s.cfg.SessionID)
		switch {
		case err != nil:
			// Invalid resume tokens are treated as absent.
			s.logger.Debug("resume token rejected", "error", err)
		case s.clients[payload.ClientID] != nil:
			s.logger.Warn("resume token for client id already in use",
				"client_id", payload.ClientID)
		default:
			clientID = payload.ClientID
			state = wire.SessionStateResurrected
		}
	}
	if clientID == 0 {
		clientID = s.nextClientID
		s.nextClientID++
	} else if clientID >= s.nextClientID {
		s.nextClientID = clientID + 1
	}

	record := &clientRecord{
		id:                clientID,
		name:              params.ClientName,
		render:            render.NewClientState(s.cfg.RenderWindow),
		input:             input.NewReceiver(s.cfg.MaxInputBuffer, s.cfg.InputGapTimeout, s.clk),
		windowSize:        params.WindowSize,
		supportsDatagrams: params.SupportsDatagrams,
		maxDatagramBytes:  params.MaxDatagramBytes,
	}
	s.clients[clientID] = record

	result := AddClientResult{
		ClientID:     clientID,
		SessionState: state,
		Lease:        s.leases.CurrentLease(),
	}
	if s.minter != nil {
		token, err := s.minter.Mint(resume.Payload{
			SessionID: s.cfg.SessionID,
			ClientID:  clientID,
		})
		if err != nil {
			s.logger.Error("minting resume token failed", "error", err)
		} else {
			result.ResumeToken = token
		}
	}

	s.logger.Info("client attached",
		"client_id", clientID,
		"client_name", params.ClientName,
		"resumed", state == wire.SessionStateResurrected,
	)
	return result, nil
}

// RemoveClient drops a client's record and releases its lease if it
// held one. The release is logged; no revocation is returned or sent.
func (s *Session) RemoveClient(clientID uint64) {
	if _, ok := s.clients[clientID]; !ok {
		return
	}
	delete(s.clients, clientID)
	if revoked := s.leases.RemoveClient(clientID); revoked != nil {
		s.logger.Info("lease released by disconnect",
			"client_id", clientID, "lease_id", revoked.LeaseID)
	}
	s.logger.Info("client detached", "client_id", clientID)
}

// HasClient reports whether clientID is attached.
func (s *Session) HasClient(clientID uint64) bool {
	_, ok := s.clients[clientID]
	return ok
}

// ClientCount returns the number of attached clients.
func (s *Session) ClientCount() int {
	return len(s.clients)
}

// ProcessInput runs one input event through the client's sequence
// gate. Delivered events are forwarded to the PTY sink only when the
// client holds the lease; a viewer's events are consumed and acked
// but never forwarded, and no per-message lease-denied reply is sent.
//
// The returned ack is nil when the event was buffered or a duplicate.
// A non-nil error is fatal to the client (flow control violation).
func (s *Session) ProcessInput(clientID uint64, event *wire.InputEvent) (*wire.InputAck, error) {
	record, ok := s.clients[clientID]
	if !ok {
		return nil, ErrClientNotFound
	}

	delivered, ack, err := record.input.Process(event)
	if err != nil {
		return nil, err
	}

	if s.leases.IsController(clientID) {
		if s.inputSink != nil {
			for _, deliveredEvent := range delivered {
				s.inputSink.HandleInput(deliveredEvent)
			}
		}
		if acked := record.input.ContiguousAcked(); acked > s.watermark {
			s.watermark = acked
		}
	}
	return ack, nil
}

// GetRenderUpdate produces the next snapshot or delta for a client,
// or nil when the client is unknown or fully caught up. A full render
// window yields a snapshot, not nil.
func (s *Session) GetRenderUpdate(clientID uint64) *render.Update {
	record, ok := s.clients[clientID]
	if !ok {
		return nil
	}

	currentStateID := s.frames.CurrentStateID()
	currentFrame, committed := s.frames.LatestFrame()
	if !committed {
		// History no longer holds the current state (a resize cleared
		// it): serve the working frame under the current state id.
		currentFrame = s.frames.CurrentFrame(s.styles.Epoch())
	}

	var dirtyRows []int
	baselineRetained := true
	if record.render.HasBaseline() {
		baseID := record.render.BaselineStateID()
		baselineRetained = baseID == currentStateID || s.frames.History().Contains(baseID)
		if baselineRetained {
			if rows, covered := s.frames.History().DirtyRowsSince(baseID); covered {
				dirtyRows = rows
			}
		}
	}

	return record.render.PrepareUpdate(
		currentFrame, currentStateID, s.styles,
		dirtyRows, baselineRetained, s.watermark,
	)
}

// ApplyStateAck advances a client's render window and baseline. Acks
// from one client never affect another client's baseline.
func (s *Session) ApplyStateAck(clientID uint64, ack *wire.StateAck) {
	record, ok := s.clients[clientID]
	if !ok {
		return
	}
	record.render.OnStateAck(ack.LastAppliedStateID)
}

// ApplyRequestSnapshot forces the client's next emission to be a
// snapshot.
func (s *Session) ApplyRequestSnapshot(clientID uint64, request *wire.RequestSnapshot) {
	record, ok := s.clients[clientID]
	if !ok {
		return
	}
	s.logger.Debug("snapshot requested",
		"client_id", clientID,
		"reason", request.Reason,
		"known_state_id", request.KnownStateID,
	)
	record.render.ForceSnapshot()
}

// RequestControl processes a lease request.
func (s *Session) RequestControl(clientID uint64, request *wire.RequestControl) LeaseOutcome {
	if _, ok := s.clients[clientID]; !ok {
		return LeaseOutcome{}
	}

	decision := s.leases.RequestControl(clientID, request.DesiredSize, request.Force)
	if !decision.Granted {
		return LeaseOutcome{
			Reply: &wire.StreamEnvelope{DenyControl: &wire.DenyControl{
				Reason:       decision.DenyReason,
				CurrentLease: decision.CurrentLease,
			}},
		}
	}

	outcome := LeaseOutcome{
		Reply: &wire.StreamEnvelope{GrantControl: &wire.GrantControl{Lease: *decision.Lease}},
	}
	if decision.Revoked != nil {
		outcome.Revocation = &RevocationNotice{
			ClientID: decision.Revoked.Owner,
			Message: &wire.LeaseRevoked{
				LeaseID: decision.Revoked.LeaseID,
				Reason:  decision.Revoked.Reason,
			},
		}
	}
	s.notifyViewport(decision.Lease.CurrentSize)
	return outcome
}

// KeepAliveLease refreshes the lease. Non-owner keepalives are
// silently ignored.
func (s *Session) KeepAliveLease(clientID uint64, message *wire.KeepAliveLease) {
	s.leases.KeepAlive(clientID, message.LeaseID)
}

// ReleaseControl frees the lease when the caller owns it.
func (s *Session) ReleaseControl(clientID uint64, message *wire.ReleaseControl) {
	s.leases.Release(clientID, message.LeaseID)
}

// SetControllerSize updates the authoritative viewport and notifies
// the renderer.
func (s *Session) SetControllerSize(clientID uint64, message *wire.SetControllerSize) {
	if s.leases.SetSize(clientID, message.LeaseID, message.Size) {
		s.notifyViewport(message.Size)
	}
}

func (s *Session) notifyViewport(size wire.DisplaySize) {
	if s.viewportSink != nil {
		s.viewportSink.HandleViewportChange(size)
	}
}

// NotifyClientResize records a client's own window size. It never
// changes the lease's authoritative viewport.
func (s *Session) NotifyClientResize(clientID uint64, size wire.DisplaySize) {
	if record, ok := s.clients[clientID]; ok {
		record.windowSize = size
	}
}

// StyleTable exposes the style table to the renderer adapter, which
// interns styles while converting renderer output to cells.
func (s *Session) StyleTable() *screen.StyleTable {
	return s.styles
}

// CommitFrameUpdate applies renderer mutations and advances the state
// id. When the mutations included a style-table epoch bump or a
// resize, every client is forced to snapshot. Returns the new id.
func (s *Session) CommitFrameUpdate(apply func(store *screen.FrameStore, styles *screen.StyleTable)) uint64 {
	apply(s.frames, s.styles)

	if s.styles.ResetIfExhausted() {
		s.logger.Info("style table epoch bump", "epoch", s.styles.Epoch())
		s.forceSnapshotAll()
	}
	if s.frames.Resized() {
		s.forceSnapshotAll()
	}
	return s.frames.AdvanceState(s.styles.Epoch())
}

// ResizeViewport resizes the authoritative screen. Every client's next
// emission becomes a snapshot; history is cleared by the store.
func (s *Session) ResizeViewport(cols, rows int) {
	s.frames.Resize(cols, rows)
	s.forceSnapshotAll()
}

func (s *Session) forceSnapshotAll() {
	for _, record := range s.clients {
		record.render.ForceSnapshot()
	}
}

// CurrentStateID returns the id of the latest commit.
func (s *Session) CurrentStateID() uint64 {
	return s.frames.CurrentStateID()
}

// IsController reports whether clientID holds the lease.
func (s *Session) IsController(clientID uint64) bool {
	return s.leases.IsController(clientID)
}

// CurrentLease returns the standing lease, nil when free.
func (s *Session) CurrentLease() *wire.ControllerLease {
	return s.leases.CurrentLease()
}

// TickLease checks for lease keepalive timeout. The returned notice,
// if any, goes to the expired owner.
func (s *Session) TickLease() *RevocationNotice {
	revoked := s.leases.Tick()
	if revoked == nil {
		return nil
	}
	s.logger.Info("lease expired", "owner", revoked.Owner, "lease_id", revoked.LeaseID)
	return &RevocationNotice{
		ClientID: revoked.Owner,
		Message:  &wire.LeaseRevoked{LeaseID: revoked.LeaseID, Reason: revoked.Reason},
	}
}

// TickInputGaps returns the clients whose input gap timed out. The
// caller disconnects them with a flow_control protocol error.
func (s *Session) TickInputGaps() []uint64 {
	var timedOut []uint64
	for id, record := range s.clients {
		if err := record.input.CheckGapTimeout(); err != nil {
			timedOut = append(timedOut, id)
		}
	}
	return timedOut
}

// ClientUsesDatagrams reports whether the client negotiated datagram
// transport, and its negotiated datagram cap.
func (s *Session) ClientUsesDatagrams(clientID uint64) (bool, uint32) {
	record, ok := s.clients[clientID]
	if !ok {
		return false, 0
	}
	return record.supportsDatagrams, record.maxDatagramBytes
}
