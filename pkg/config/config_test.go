package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestDefaultConfig tests the baked-in defaults
func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.ListenAddr != ":8420" {
		t.Errorf("listen addr = %q", cfg.ListenAddr)
	}
	if cfg.AuditCapacity != 4096 {
		t.Errorf("audit capacity = %d", cfg.AuditCapacity)
	}
	if cfg.AuditDenied {
		t.Error("audit_denied on by default")
	}
	if cfg.HeartbeatTimeout != 90*time.Second || cfg.ProbeTimeout != 30*time.Second {
		t.Errorf("timeouts = %v/%v", cfg.HeartbeatTimeout, cfg.ProbeTimeout)
	}
}

// TestLoadMissingFile tests that an absent config file yields defaults
func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Errorf("listen addr = %q", cfg.ListenAddr)
	}
}

// TestLoadAppliesDefaults tests that unset fields fall back while set ones
// are honored
func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub.yaml")
	content := `
listen_addr: ":9999"
hub_secret: "a-long-enough-hub-secret"
audit_denied: true
probe_timeout: 5s
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9999" {
		t.Errorf("listen addr = %q", cfg.ListenAddr)
	}
	if !cfg.AuditDenied {
		t.Error("audit_denied not honored")
	}
	if cfg.ProbeTimeout != 5*time.Second {
		t.Errorf("probe timeout = %v", cfg.ProbeTimeout)
	}
	// Unset fields keep defaults
	if cfg.AuditCapacity != 4096 || cfg.SessionTTL != 12*time.Hour {
		t.Errorf("defaults not applied: capacity=%d ttl=%v", cfg.AuditCapacity, cfg.SessionTTL)
	}
}

// TestLoadRejectsBadYAML tests parse failures surface
func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub.yaml")
	if err := os.WriteFile(path, []byte("listen_addr: [not a string"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("malformed yaml accepted")
	}
}

// TestValidate tests secret requirements and data dir creation
func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.DataDir = filepath.Join(t.TempDir(), "nested", "data")

	cfg.HubSecret = ""
	if err := cfg.Validate(); err == nil {
		t.Error("empty secret accepted")
	}
	cfg.HubSecret = "short"
	if err := cfg.Validate(); err == nil {
		t.Error("short secret accepted")
	}

	cfg.HubSecret = "a-long-enough-hub-secret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if _, err := os.Stat(cfg.DataDir); err != nil {
		t.Errorf("data dir not created: %v", err)
	}

	if got := cfg.DatabasePath(); got != filepath.Join(cfg.DataDir, "outpost.db") {
		t.Errorf("database path = %q", got)
	}
}
