// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// signalGatherTimeout bounds ICE candidate gathering before the SDP
// is published. Vanilla ICE: the complete description travels in one
// signaling round trip.
const signalGatherTimeout = 15 * time.Second

// channelOpenTimeout bounds how long the listener waits for a newly
// signaled peer to open its two channels.
const channelOpenTimeout = 30 * time.Second

// signalMessage is the JSON body exchanged on the signaling endpoint.
type signalMessage struct {
	SDP string `json:"sdp"`
}

// Listener accepts inbound peers. Signaling is an HTTP POST of the
// client's complete SDP offer to /connect; the response body carries
// the complete answer. The WebRTC handshake then proceeds directly
// between the endpoints.
type Listener struct {
	logger *slog.Logger

	httpListener net.Listener
	httpServer   *http.Server

	accepted chan *Peer

	closed    chan struct{}
	closeOnce sync.Once
}

// Listen binds the signaling endpoint on address.
func Listen(address string, logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	httpListener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("transport: listening on %s: %w", address, err)
	}

	listener := &Listener{
		logger:       logger,
		httpListener: httpListener,
		accepted:     make(chan *Peer, 16),
		closed:       make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /connect", listener.handleConnect)
	listener.httpServer = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := listener.httpServer.Serve(httpListener); err != nil && err != http.ErrServerClosed {
			logger.Error("signaling server failed", "error", err)
		}
	}()

	logger.Info("transport listening", "address", httpListener.Addr())
	return listener, nil
}

// Addr returns the bound signaling address, useful when binding
// port 0.
func (l *Listener) Addr() net.Addr {
	return l.httpListener.Addr()
}

// Accept returns the next fully established peer.
func (l *Listener) Accept(ctx context.Context) (*Peer, error) {
	select {
	case peer := <-l.accepted:
		return peer, nil
	case <-l.closed:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting and shuts the signaling endpoint down.
func (l *Listener) Close() {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.httpServer.Close()
	})
}

// handleConnect answers one SDP offer and hands the resulting peer to
// Accept once its channels open.
func (l *Listener) handleConnect(w http.ResponseWriter, r *http.Request) {
	var offer signalMessage
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "malformed signaling body", http.StatusBadRequest)
		return
	}

	answerSDP, connection, err := l.answerOffer(offer.SDP)
	if err != nil {
		l.logger.Error("answering offer failed", "error", err)
		http.Error(w, "signaling failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(signalMessage{SDP: answerSDP}); err != nil {
		connection.Close()
		return
	}
}

// answerOffer builds the PeerConnection for one inbound offer and
// registers the channel-open handlers that complete the peer.
func (l *Listener) answerOffer(offerSDP string) (string, *webrtc.PeerConnection, error) {
	connection, err := newPeerConnection()
	if err != nil {
		return "", nil, fmt.Errorf("creating PeerConnection: %w", err)
	}

	// The client opens both channels; collect them as they arrive and
	// publish the peer when the pair is complete.
	assembly := &peerAssembly{
		listener:   l,
		connection: connection,
		datagramIn: make(chan []byte, datagramInboundDepth),
	}
	connection.OnDataChannel(assembly.onChannel)

	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := connection.SetRemoteDescription(remote); err != nil {
		connection.Close()
		return "", nil, fmt.Errorf("setting remote description: %w", err)
	}

	answer, err := connection.CreateAnswer(nil)
	if err != nil {
		connection.Close()
		return "", nil, fmt.Errorf("creating answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(connection)
	if err := connection.SetLocalDescription(answer); err != nil {
		connection.Close()
		return "", nil, fmt.Errorf("setting local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-time.After(signalGatherTimeout):
		connection.Close()
		return "", nil, fmt.Errorf("ICE gathering timed out after %s", signalGatherTimeout)
	case <-l.closed:
		connection.Close()
		return "", nil, net.ErrClosed
	}

	// Abandon the connection if the channels never open.
	time.AfterFunc(channelOpenTimeout, func() {
		if !assembly.completed() {
			l.logger.Warn("peer channels did not open in time")
			connection.Close()
		}
	})

	return connection.LocalDescription().SDP, connection, nil
}

// peerAssembly collects the stream and datagram channels of one
// inbound connection.
type peerAssembly struct {
	listener   *Listener
	connection *webrtc.PeerConnection

	mu         sync.Mutex
	stream     net.Conn
	datagram   *webrtc.DataChannel
	datagramIn chan []byte
	complete   bool
}

func (a *peerAssembly) completed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.complete
}

func (a *peerAssembly) onChannel(channel *webrtc.DataChannel) {
	switch channel.Label() {
	case streamChannelLabel:
		channel.OnOpen(func() {
			raw, err := channel.Detach()
			if err != nil {
				a.listener.logger.Error("detaching stream channel failed", "error", err)
				a.connection.Close()
				return
			}
			a.mu.Lock()
			a.stream = NewDataChannelConn(raw, "server/"+streamChannelLabel, "client/"+streamChannelLabel)
			a.tryCompleteLocked()
			a.mu.Unlock()
		})

	case datagramChannelLabel:
		channel.OnOpen(func() {
			a.mu.Lock()
			a.datagram = channel
			a.tryCompleteLocked()
			a.mu.Unlock()
		})

	default:
		a.listener.logger.Warn("unexpected data channel", "label", channel.Label())
	}
}

// tryCompleteLocked publishes the peer once both channels are open.
// Must be called with a.mu held.
func (a *peerAssembly) tryCompleteLocked() {
	if a.complete || a.stream == nil || a.datagram == nil {
		return
	}
	a.complete = true

	peer := newPeer(a.connection, a.stream, a.datagram, a.datagramIn)
	pumpDatagrams(a.datagram, a.datagramIn, peer.closed)

	select {
	case a.listener.accepted <- peer:
	case <-a.listener.closed:
		peer.Close()
	}
}
