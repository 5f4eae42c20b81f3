// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

// Package resume mints and validates resume tokens.
//
// A resume token is an opaque blob the server hands a client at
// handshake; presenting it on reconnect lets the client reclaim its
// client id without redoing authorization. Tokens are authenticated-
// encrypted (XChaCha20-Poly1305), not merely signed: the payload
// carries the session id, and encryption keeps it from leaking to
// anyone who observes the token. The key is derived from the
// configured secret with BLAKE3 and lives only in server memory.
package resume

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/zrp-foundation/zrp/lib/clock"
	"github.com/zrp-foundation/zrp/lib/codec"
)

// keyDerivationContext namespaces the BLAKE3 key derivation. Changing
// it invalidates every outstanding token.
const keyDerivationContext = "zrp resume token v1"

// DefaultTTL is how long a token stays valid after minting.
const DefaultTTL = 5 * time.Minute

// DefaultMaxClockSkew tolerates the issuing and validating clock
// disagreeing by this much before a token is considered future-dated.
const DefaultMaxClockSkew = 30 * time.Second

// Errors returned by Validate. All of them are treated by the
// handshake as "token absent": the client attaches fresh.
var (
	ErrMalformed       = errors.New("resume: token too short")
	ErrInvalidToken    = errors.New("resume: token failed authentication")
	ErrExpired         = errors.New("resume: token expired")
	ErrFutureDated     = errors.New("resume: token issued in the future")
	ErrSessionMismatch = errors.New("resume: token bound to a different session")
)

// Payload is the identity a token binds. The state and input
// watermarks let a resuming server seed its bookkeeping, though the
// first render after resume is always a fresh snapshot.
type Payload struct {
	SessionID          uint64 `cbor:"1,keyasint"`
	ClientID           uint64 `cbor:"2,keyasint"`
	LastAppliedStateID uint64 `cbor:"3,keyasint,omitempty"`
	LastAckedInputSeq  uint64 `cbor:"4,keyasint,omitempty"`
	IssuedAtMS         uint64 `cbor:"5,keyasint"`
}

// Minter seals and opens resume tokens under one process-wide key.
// Safe for use from a single session task; the key is never mutated
// after construction.
type Minter struct {
	aead    cipher.AEAD
	clk     clock.Clock
	ttl     time.Duration
	maxSkew time.Duration
}

// NewMinter derives the sealing key from secret. ttl <= 0 selects
// DefaultTTL; maxSkew <= 0 selects DefaultMaxClockSkew.
func NewMinter(secret []byte, ttl, maxSkew time.Duration, clk clock.Clock) (*Minter, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("resume: secret must not be empty")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSkew <= 0 {
		maxSkew = DefaultMaxClockSkew
	}

	var key [chacha20poly1305.KeySize]byte
	blake3.DeriveKey(keyDerivationContext, secret, key[:])

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("resume: creating AEAD: %w", err)
	}
	return &Minter{aead: aead, clk: clk, ttl: ttl, maxSkew: maxSkew}, nil
}

// Mint issues a token for the given identity, stamped with the
// current time. The token layout is nonce || ciphertext.
func (m *Minter) Mint(payload Payload) ([]byte, error) {
	payload.IssuedAtMS = uint64(m.clk.Now().UnixMilli())

	plaintext, err := codec.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("resume: encoding payload: %w", err)
	}

	nonce := make([]byte, m.aead.NonceSize(), m.aead.NonceSize()+len(plaintext)+m.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("resume: generating nonce: %w", err)
	}
	return m.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Validate opens a token and checks it against the current session
// and clock. On success the embedded payload is returned.
func (m *Minter) Validate(token []byte, sessionID uint64) (Payload, error) {
	if len(token) < m.aead.NonceSize()+m.aead.Overhead() {
		return Payload{}, ErrMalformed
	}

	nonce := token[:m.aead.NonceSize()]
	ciphertext := token[m.aead.NonceSize():]
	plaintext, err := m.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return Payload{}, ErrInvalidToken
	}

	var payload Payload
	if err := codec.Unmarshal(plaintext, &payload); err != nil {
		return Payload{}, ErrInvalidToken
	}

	now := uint64(m.clk.Now().UnixMilli())
	skewMS := uint64(m.maxSkew / time.Millisecond)
	if payload.IssuedAtMS > now+skewMS {
		return Payload{}, ErrFutureDated
	}
	if now-min(payload.IssuedAtMS, now) > uint64(m.ttl/time.Millisecond) {
		return Payload{}, ErrExpired
	}
	if payload.SessionID != sessionID {
		return Payload{}, ErrSessionMismatch
	}
	return payload, nil
}
