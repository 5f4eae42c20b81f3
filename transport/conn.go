// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"io"
	"net"
	"sync"
	"time"
)

// DataChannelConn wraps a detached pion data channel ReadWriteCloser
// as a net.Conn. The underlying ReadWriteCloser is stream-oriented
// (SCTP handles fragmentation and reassembly), so this behaves like a
// TCP connection from the perspective of the wire framing layer.
//
// Deadline support uses timer-based cancellation: when a deadline
// fires, the underlying stream is closed, causing any blocked
// Read/Write to return an error. Once closed, the conn is permanently
// broken — that matches how the handshake uses deadlines (a stalled
// handshake tears the connection down).
type DataChannelConn struct {
	rwc        io.ReadWriteCloser
	localLabel string
	peerLabel  string

	mu             sync.Mutex
	readTimer      *time.Timer
	writeTimer     *time.Timer
	deadlineClosed bool
}

// Compile-time interface check.
var _ net.Conn = (*DataChannelConn)(nil)

// NewDataChannelConn wraps a detached pion data channel as a
// net.Conn. The labels identify the endpoints for logging and Addr.
func NewDataChannelConn(rwc io.ReadWriteCloser, localLabel, peerLabel string) *DataChannelConn {
	return &DataChannelConn{
		rwc:        rwc,
		localLabel: localLabel,
		peerLabel:  peerLabel,
	}
}

func (c *DataChannelConn) Read(buffer []byte) (int, error) {
	return c.rwc.Read(buffer)
}

func (c *DataChannelConn) Write(buffer []byte) (int, error) {
	return c.rwc.Write(buffer)
}

func (c *DataChannelConn) Close() error {
	c.mu.Lock()
	c.stopTimersLocked()
	c.mu.Unlock()
	return c.rwc.Close()
}

// LocalAddr returns a synthetic address for the local endpoint.
func (c *DataChannelConn) LocalAddr() net.Addr {
	return &dataChannelAddr{label: c.localLabel}
}

// RemoteAddr returns a synthetic address for the remote endpoint.
func (c *DataChannelConn) RemoteAddr() net.Addr {
	return &dataChannelAddr{label: c.peerLabel}
}

// SetDeadline sets both read and write deadlines. A zero value clears
// the deadline.
func (c *DataChannelConn) SetDeadline(deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setReadDeadlineLocked(deadline)
	c.setWriteDeadlineLocked(deadline)
	return nil
}

// SetReadDeadline sets the read deadline.
func (c *DataChannelConn) SetReadDeadline(deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setReadDeadlineLocked(deadline)
	return nil
}

// SetWriteDeadline sets the write deadline.
func (c *DataChannelConn) SetWriteDeadline(deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setWriteDeadlineLocked(deadline)
	return nil
}

func (c *DataChannelConn) setReadDeadlineLocked(deadline time.Time) {
	if c.readTimer != nil {
		c.readTimer.Stop()
		c.readTimer = nil
	}
	if deadline.IsZero() || c.deadlineClosed {
		return
	}
	duration := time.Until(deadline)
	if duration <= 0 {
		c.closeFromDeadline()
		return
	}
	c.readTimer = time.AfterFunc(duration, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.closeFromDeadline()
	})
}

func (c *DataChannelConn) setWriteDeadlineLocked(deadline time.Time) {
	if c.writeTimer != nil {
		c.writeTimer.Stop()
		c.writeTimer = nil
	}
	if deadline.IsZero() || c.deadlineClosed {
		return
	}
	duration := time.Until(deadline)
	if duration <= 0 {
		c.closeFromDeadline()
		return
	}
	c.writeTimer = time.AfterFunc(duration, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.closeFromDeadline()
	})
}

// closeFromDeadline closes the underlying stream to unblock pending
// I/O. Must be called with c.mu held.
func (c *DataChannelConn) closeFromDeadline() {
	if c.deadlineClosed {
		return
	}
	c.deadlineClosed = true
	c.rwc.Close()
}

func (c *DataChannelConn) stopTimersLocked() {
	if c.readTimer != nil {
		c.readTimer.Stop()
		c.readTimer = nil
	}
	if c.writeTimer != nil {
		c.writeTimer.Stop()
		c.writeTimer = nil
	}
}

// dataChannelAddr is a synthetic net.Addr for data channel
// connections.
type dataChannelAddr struct {
	label string
}

func (a *dataChannelAddr) Network() string { return "webrtc" }
func (a *dataChannelAddr) String() string  { return a.label }
