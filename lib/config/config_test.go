// Copyright 2026 The ZRP Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/zrp-foundation/zrp/lib/wire"
)

func TestDefaultsValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadFileMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zrp.yaml")
	content := []byte(`
listen_address: "0.0.0.0:9000"
session_name: "work"
auth:
  bearer_token_secret: "hunter2"
session:
  cols: 120
  controller_policy: "explicit_only"
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.ListenAddress != "0.0.0.0:9000" || cfg.SessionName != "work" {
		t.Errorf("top-level fields not loaded: %+v", cfg)
	}
	if cfg.Auth.BearerTokenSecret != "hunter2" {
		t.Error("auth secret not loaded")
	}
	if cfg.Session.Cols != 120 {
		t.Errorf("cols = %d, want 120", cfg.Session.Cols)
	}
	// Unset fields keep defaults.
	if cfg.Session.Rows != 24 {
		t.Errorf("rows = %d, want default 24", cfg.Session.Rows)
	}
	if cfg.Transport.ClientSendQueueDepth != 32 {
		t.Errorf("queue depth = %d, want default 32", cfg.Transport.ClientSendQueueDepth)
	}

	policy, err := cfg.Policy()
	if err != nil || policy != wire.ControllerPolicyExplicitOnly {
		t.Errorf("policy = %v (%v), want explicit_only", policy, err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("loaded config invalid: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.ListenAddress = ""
	cfg.Session.Cols = 0
	cfg.Session.ControllerPolicy = "dictatorship"
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid config passed validation")
	}
}

func TestLoadRequiresEnv(t *testing.T) {
	t.Setenv("ZRP_CONFIG", "")
	if _, err := Load(); err == nil {
		t.Fatal("Load without ZRP_CONFIG should fail")
	}
}
