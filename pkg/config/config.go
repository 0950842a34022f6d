package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultDataDir is where the hub keeps its bolt database and CA material
	DefaultDataDir = "/var/lib/outpost"

	// DefaultListenAddr is the hub's HTTP and websocket bind address
	DefaultListenAddr = ":8420"
)

// Config holds the hub's configuration, loaded from YAML with defaults
// applied for anything unset.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	DataDir    string `yaml:"data_dir"`

	// HubSecret encrypts the CA private key at rest and signs session
	// tokens. Required.
	HubSecret string `yaml:"hub_secret"`

	Log LogConfig `yaml:"log"`

	// AuditCapacity bounds the in-memory audit ring. Zero means the default.
	AuditCapacity int `yaml:"audit_capacity"`

	// AuditDenied controls whether authorization denials are written to the
	// audit chain. Off by default; the chain records dispatched work.
	AuditDenied bool `yaml:"audit_denied"`

	// HeartbeatTimeout is how long an agent may go silent before it is
	// marked degraded.
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`

	// ProbeTimeout is the default per-request deadline when a caller sets
	// none.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// SessionTTL is the sliding expiry applied to operator sessions.
	SessionTTL time.Duration `yaml:"session_ttl"`

	// EnrollmentTokenTTL is the default validity of newly minted enrollment
	// tokens.
	EnrollmentTokenTTL time.Duration `yaml:"enrollment_token_ttl"`
}

// LogConfig configures the hub's structured logging
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns a Config populated with defaults
func Default() *Config {
	return &Config{
		ListenAddr:         DefaultListenAddr,
		DataDir:            DefaultDataDir,
		Log:                LogConfig{Level: "info", JSON: true},
		AuditCapacity:      4096,
		HeartbeatTimeout:   90 * time.Second,
		ProbeTimeout:       30 * time.Second,
		SessionTTL:         12 * time.Hour,
		EnrollmentTokenTTL: 24 * time.Hour,
	}
}

// Load reads a YAML config file and applies defaults for unset fields.
// A missing file is not an error; defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.ListenAddr == "" {
		c.ListenAddr = d.ListenAddr
	}
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.AuditCapacity <= 0 {
		c.AuditCapacity = d.AuditCapacity
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = d.SessionTTL
	}
	if c.EnrollmentTokenTTL <= 0 {
		c.EnrollmentTokenTTL = d.EnrollmentTokenTTL
	}
}

// Validate checks required fields and directory accessibility
func (c *Config) Validate() error {
	if c.HubSecret == "" {
		return fmt.Errorf("hub_secret is required")
	}
	if len(c.HubSecret) < 16 {
		return fmt.Errorf("hub_secret must be at least 16 characters")
	}
	if err := os.MkdirAll(c.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}

// DatabasePath returns the bolt database location under DataDir
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "outpost.db")
}
