// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"net"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Channel labels. The client creates both channels; the server
// accepts them by label.
const (
	streamChannelLabel   = "zrp-stream"
	datagramChannelLabel = "zrp-datagram"
)

// datagramInboundDepth bounds buffered inbound datagrams. Datagrams
// are best-effort; when the consumer falls behind, dropping is
// correct and cheaper than queueing.
const datagramInboundDepth = 64

// ErrPeerClosed is returned by sends on a closed peer.
var ErrPeerClosed = errors.New("transport: peer closed")

// Peer is one established connection: a reliable ordered stream and a
// lossy datagram path over the same PeerConnection.
type Peer struct {
	connection *webrtc.PeerConnection
	stream     net.Conn
	datagram   *webrtc.DataChannel

	datagramIn chan []byte

	closed    chan struct{}
	closeOnce sync.Once
}

// newPeer assembles a Peer once both channels are open.
func newPeer(connection *webrtc.PeerConnection, stream net.Conn, datagram *webrtc.DataChannel, datagramIn chan []byte) *Peer {
	peer := &Peer{
		connection: connection,
		stream:     stream,
		datagram:   datagram,
		datagramIn: datagramIn,
		closed:     make(chan struct{}),
	}

	connection.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		if state == webrtc.ICEConnectionStateFailed || state == webrtc.ICEConnectionStateClosed {
			peer.Close()
		}
	})
	return peer
}

// Stream returns the reliable ordered byte stream.
func (p *Peer) Stream() net.Conn {
	return p.stream
}

// SendDatagram sends one bare-encoded datagram envelope. Delivery is
// best-effort: the channel is unordered with zero retransmits.
func (p *Peer) SendDatagram(payload []byte) error {
	select {
	case <-p.closed:
		return ErrPeerClosed
	default:
	}
	return p.datagram.Send(payload)
}

// Datagrams returns the inbound datagram channel. Messages arriving
// while the buffer is full are dropped.
func (p *Peer) Datagrams() <-chan []byte {
	return p.datagramIn
}

// Done is closed when the peer is torn down.
func (p *Peer) Done() <-chan struct{} {
	return p.closed
}

// Close tears down the peer connection and both channels. Idempotent.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.stream.Close()
		p.connection.Close()
	})
}

// newPeerConnection creates a pion PeerConnection configured for ZRP:
// data channel detach enabled (stream-oriented access) and loopback
// candidates included (same-machine sessions and tests).
func newPeerConnection() (*webrtc.PeerConnection, error) {
	settingEngine := webrtc.SettingEngine{}
	settingEngine.DetachDataChannels()
	settingEngine.SetIncludeLoopbackCandidate(true)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(webrtc.Configuration{})
}

// pumpDatagrams registers the OnMessage handler that copies inbound
// datagram payloads into a bounded channel, dropping on overflow.
func pumpDatagrams(datagram *webrtc.DataChannel, inbound chan []byte, closed <-chan struct{}) {
	datagram.OnMessage(func(message webrtc.DataChannelMessage) {
		payload := make([]byte, len(message.Data))
		copy(payload, message.Data)
		select {
		case inbound <- payload:
		case <-closed:
		default:
			// Receiver is behind; the datagram contract allows loss.
		}
	})
}
