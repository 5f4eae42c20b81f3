// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/pion/webrtc/v4"
)

// Dial establishes a peer to the server's signaling URL (e.g.
// "http://host:8443/connect"). It creates both channels, publishes a
// complete SDP offer in one POST, applies the answer, and returns
// once the stream and datagram channels are open.
func Dial(ctx context.Context, signalingURL string) (*Peer, error) {
	connection, err := newPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("transport: creating PeerConnection: %w", err)
	}

	succeeded := false
	defer func() {
		if !succeeded {
			connection.Close()
		}
	}()

	// The stream channel is ordered and reliable (the defaults); the
	// datagram channel is unordered with zero retransmits, which is
	// what makes it datagram-shaped.
	ordered := true
	streamChannel, err := connection.CreateDataChannel(streamChannelLabel, &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: creating stream channel: %w", err)
	}

	unordered := false
	zeroRetransmits := uint16(0)
	datagramChannel, err := connection.CreateDataChannel(datagramChannelLabel, &webrtc.DataChannelInit{
		Ordered:        &unordered,
		MaxRetransmits: &zeroRetransmits,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: creating datagram channel: %w", err)
	}

	streamOpen := make(chan net.Conn, 1)
	streamChannel.OnOpen(func() {
		raw, detachErr := streamChannel.Detach()
		if detachErr != nil {
			return
		}
		streamOpen <- NewDataChannelConn(raw, "client/"+streamChannelLabel, "server/"+streamChannelLabel)
	})

	datagramOpen := make(chan struct{}, 1)
	datagramChannel.OnOpen(func() {
		datagramOpen <- struct{}{}
	})

	offer, err := connection.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("transport: creating offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(connection)
	if err := connection.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("transport: setting local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-time.After(signalGatherTimeout):
		return nil, fmt.Errorf("transport: ICE gathering timed out after %s", signalGatherTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	answerSDP, err := postOffer(ctx, signalingURL, connection.LocalDescription().SDP)
	if err != nil {
		return nil, err
	}
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}
	if err := connection.SetRemoteDescription(answer); err != nil {
		return nil, fmt.Errorf("transport: setting remote description: %w", err)
	}

	var stream net.Conn
	select {
	case stream = <-streamOpen:
	case <-time.After(channelOpenTimeout):
		return nil, fmt.Errorf("transport: stream channel did not open within %s", channelOpenTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case <-datagramOpen:
	case <-time.After(channelOpenTimeout):
		return nil, fmt.Errorf("transport: datagram channel did not open within %s", channelOpenTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	datagramIn := make(chan []byte, datagramInboundDepth)
	peer := newPeer(connection, stream, datagramChannel, datagramIn)
	pumpDatagrams(datagramChannel, datagramIn, peer.closed)

	succeeded = true
	return peer, nil
}

// postOffer performs the single signaling round trip.
func postOffer(ctx context.Context, signalingURL, offerSDP string) (string, error) {
	body, err := json.Marshal(signalMessage{SDP: offerSDP})
	if err != nil {
		return "", fmt.Errorf("transport: encoding offer: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, signalingURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("transport: building signaling request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := http.DefaultClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("transport: signaling request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transport: signaling returned %s", response.Status)
	}

	var answer signalMessage
	if err := json.NewDecoder(response.Body).Decode(&answer); err != nil {
		return "", fmt.Errorf("transport: decoding answer: %w", err)
	}
	return answer.SDP, nil
}
