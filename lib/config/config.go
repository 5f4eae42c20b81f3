// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the ZRP server.
//
// Configuration is loaded from a single YAML file specified by:
//   - ZRP_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zrp-foundation/zrp/lib/wire"
)

// Config is the master configuration for a ZRP server process.
type Config struct {
	// ListenAddress is the address the signaling endpoint binds
	// (e.g. "127.0.0.1:8443").
	ListenAddress string `yaml:"listen_address"`

	// SessionName identifies the session in handshakes and logs.
	SessionName string `yaml:"session_name"`

	// Auth configures client authorization.
	Auth AuthConfig `yaml:"auth"`

	// Session configures the synchronization core.
	Session SessionConfig `yaml:"session"`

	// Transport configures framing and send queues.
	Transport TransportConfig `yaml:"transport"`
}

// AuthConfig configures the handshake's authorization checks.
type AuthConfig struct {
	// BearerTokenSecret is the shared secret clients present in
	// ClientHello. Empty runs the server without authentication
	// (logged loudly).
	BearerTokenSecret string `yaml:"bearer_token_secret"`

	// ResumeTokenSecret keys resume-token sealing. Empty disables
	// resume tokens.
	ResumeTokenSecret string `yaml:"resume_token_secret"`

	// ResumeTokenTTLMS bounds resume-token age.
	ResumeTokenTTLMS uint32 `yaml:"resume_token_ttl_ms"`

	// MaxClockSkewMS tolerates minting/validating clock disagreement.
	MaxClockSkewMS uint32 `yaml:"max_clock_skew_ms"`

	// HandshakeTimeoutMS bounds how long a connection may sit in
	// handshake before it is cancelled.
	HandshakeTimeoutMS uint32 `yaml:"handshake_timeout_ms"`
}

// SessionConfig configures the per-session synchronization core.
type SessionConfig struct {
	// Cols and Rows are the initial screen geometry.
	Cols int `yaml:"cols"`
	Rows int `yaml:"rows"`

	// MaxClientsPerSession bounds concurrent attachments.
	MaxClientsPerSession int `yaml:"max_clients_per_session"`

	// RenderWindowSize bounds unacked state ids per client.
	RenderWindowSize int `yaml:"render_window_size"`

	// StateHistorySize bounds the committed-frame ring.
	StateHistorySize int `yaml:"state_history_size"`

	// ControllerPolicy is "explicit_only" or "last_writer_wins".
	ControllerPolicy string `yaml:"controller_policy"`

	// ControllerLeaseDurationMS is the lease keepalive deadline.
	ControllerLeaseDurationMS uint32 `yaml:"controller_lease_duration_ms"`

	// SnapshotIntervalMS is the period at which every attached client
	// is refreshed with a snapshot.
	SnapshotIntervalMS uint32 `yaml:"snapshot_interval_ms"`

	// MaxInflightInputs bounds the input reorder buffer.
	MaxInflightInputs int `yaml:"max_inflight_inputs"`

	// InputGapTimeoutMS disconnects a client whose input sequence
	// gap stands this long.
	InputGapTimeoutMS uint32 `yaml:"input_gap_timeout_ms"`
}

// TransportConfig configures framing limits and send queues.
type TransportConfig struct {
	// MaxFrameSizeBytes is the largest accepted stream frame.
	MaxFrameSizeBytes int `yaml:"max_frame_size_bytes"`

	// ClientSendQueueDepth is the bounded per-client stream queue.
	ClientSendQueueDepth int `yaml:"client_send_queue_depth"`

	// DatagramConservativeLimit caps datagram payloads regardless of
	// what the path advertises.
	DatagramConservativeLimit int `yaml:"datagram_conservative_limit"`

	// EnableCompression offers snapshot compression during
	// capability negotiation.
	EnableCompression bool `yaml:"enable_compression"`
}

// Default returns the default configuration. These defaults are a
// base for the config file, which remains the source of truth.
func Default() *Config {
	return &Config{
		ListenAddress: "127.0.0.1:8443",
		SessionName:   "zrp",
		Auth: AuthConfig{
			ResumeTokenTTLMS:   300_000,
			MaxClockSkewMS:     30_000,
			HandshakeTimeoutMS: 10_000,
		},
		Session: SessionConfig{
			Cols:                      80,
			Rows:                      24,
			MaxClientsPerSession:      16,
			RenderWindowSize:          int(wire.DefaultRenderWindow),
			StateHistorySize:          32,
			ControllerPolicy:          "last_writer_wins",
			ControllerLeaseDurationMS: 30_000,
			SnapshotIntervalMS:        wire.DefaultSnapshotIntervalMS,
			MaxInflightInputs:         int(wire.DefaultMaxInflightInputs),
			InputGapTimeoutMS:         2_000,
		},
		Transport: TransportConfig{
			MaxFrameSizeBytes:         wire.DefaultMaxFrameSize,
			ClientSendQueueDepth:      32,
			DatagramConservativeLimit: int(wire.DefaultMaxDatagramBytes),
			EnableCompression:         true,
		},
	}
}

// Load loads configuration from the ZRP_CONFIG environment variable.
// There are no fallbacks — if ZRP_CONFIG is not set, this fails.
func Load() (*Config, error) {
	path := os.Getenv("ZRP_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("ZRP_CONFIG environment variable not set; " +
			"set it to the path of your zrp.yaml config file, or use --config flag")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, merging
// over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Policy parses the controller policy name.
func (c *Config) Policy() (wire.ControllerPolicy, error) {
	switch c.Session.ControllerPolicy {
	case "explicit_only":
		return wire.ControllerPolicyExplicitOnly, nil
	case "last_writer_wins", "":
		return wire.ControllerPolicyLastWriterWins, nil
	default:
		return wire.ControllerPolicyUnspecified,
			fmt.Errorf("invalid controller_policy: %q", c.Session.ControllerPolicy)
	}
}

// Durations converted from their millisecond config fields.

func (c *AuthConfig) ResumeTokenTTL() time.Duration {
	return time.Duration(c.ResumeTokenTTLMS) * time.Millisecond
}

func (c *AuthConfig) MaxClockSkew() time.Duration {
	return time.Duration(c.MaxClockSkewMS) * time.Millisecond
}

func (c *AuthConfig) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutMS) * time.Millisecond
}

func (c *SessionConfig) LeaseDuration() time.Duration {
	return time.Duration(c.ControllerLeaseDurationMS) * time.Millisecond
}

func (c *SessionConfig) SnapshotInterval() time.Duration {
	return time.Duration(c.SnapshotIntervalMS) * time.Millisecond
}

func (c *SessionConfig) InputGapTimeout() time.Duration {
	return time.Duration(c.InputGapTimeoutMS) * time.Millisecond
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.ListenAddress == "" {
		errs = append(errs, fmt.Errorf("listen_address is required"))
	}
	if c.Session.Cols <= 0 || c.Session.Rows <= 0 {
		errs = append(errs, fmt.Errorf("session geometry %dx%d is invalid",
			c.Session.Cols, c.Session.Rows))
	}
	if c.Session.MaxClientsPerSession <= 0 {
		errs = append(errs, fmt.Errorf("max_clients_per_session must be positive"))
	}
	if c.Session.SnapshotIntervalMS == 0 {
		errs = append(errs, fmt.Errorf("snapshot_interval_ms must be positive"))
	}
	if c.Transport.ClientSendQueueDepth <= 0 {
		errs = append(errs, fmt.Errorf("client_send_queue_depth must be positive"))
	}
	if c.Transport.DatagramConservativeLimit <= 0 {
		errs = append(errs, fmt.Errorf("datagram_conservative_limit must be positive"))
	}
	if _, err := c.Policy(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
