// Package config loads the daemon configuration from YAML.
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ScopeConfig declares one authorization scope to register at startup.
type ScopeConfig struct {
	Type       string   `yaml:"type"`
	ID         string   `yaml:"id"`
	Parent     string   `yaml:"parent,omitempty"`
	Authorized []string `yaml:"authorized"`
}

// StoreConfig selects the node storage backend.
type StoreConfig struct {
	// Backend names a registered storage backend (localfs, mem).
	Backend string `yaml:"backend"`
	// Dir is the root directory for file-backed backends.
	Dir string `yaml:"dir,omitempty"`
	// Replicas lists directories for additional replicated localfs stores.
	Replicas []string `yaml:"replicas,omitempty"`
}

// CapabilityConfig controls manifest index verification.
type CapabilityConfig struct {
	VerifySignatures       bool     `yaml:"verify_signatures"`
	RequireValidSignatures bool     `yaml:"require_valid_signatures"`
	TrustedDIDs            []string `yaml:"trusted_dids,omitempty"`
}

// Config is the daemon configuration.
type Config struct {
	// Listen is the gRPC listen address.
	Listen string `yaml:"listen"`
	// MetricsListen serves Prometheus metrics when non-empty.
	MetricsListen string `yaml:"metrics_listen,omitempty"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level,omitempty"`

	Store      StoreConfig      `yaml:"store"`
	Scopes     []ScopeConfig    `yaml:"scopes"`
	Capability CapabilityConfig `yaml:"capability"`

	// TrustPolicyPath points at a framed trust policy file.
	TrustPolicyPath string `yaml:"trust_policy_path,omitempty"`

	// SchedulerKeyName and SchedulerKeyRole select the keystore entry the
	// daemon signs dispatch receipts with. Empty disables the scheduler.
	SchedulerKeyName string `yaml:"scheduler_key_name,omitempty"`
	SchedulerKeyRole string `yaml:"scheduler_key_role,omitempty"`

	// SchedulerBidWindowSecs is how long after seeing a task request the
	// scheduler waits for bids before dispatching.
	SchedulerBidWindowSecs int64 `yaml:"scheduler_bid_window_secs,omitempty"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Listen:                 "127.0.0.1:7410",
		LogLevel:               "info",
		Store:                  StoreConfig{Backend: "localfs", Dir: "./meshdata"},
		SchedulerBidWindowSecs: 10,
	}
}

// Load reads and validates a configuration file. Missing fields keep their
// defaults; unknown fields are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses configuration bytes.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("config: listen must be set")
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}
	if c.Store.Backend == "" {
		return fmt.Errorf("config: store.backend must be set")
	}
	if c.Store.Backend == "localfs" && c.Store.Dir == "" {
		return fmt.Errorf("config: store.dir required for localfs backend")
	}
	seen := make(map[string]bool, len(c.Scopes))
	for _, sc := range c.Scopes {
		if sc.ID == "" {
			return fmt.Errorf("config: scope with empty id")
		}
		if seen[sc.ID] {
			return fmt.Errorf("config: duplicate scope %q", sc.ID)
		}
		seen[sc.ID] = true
		if sc.Parent != "" && !seen[sc.Parent] {
			return fmt.Errorf("config: scope %q declared before its parent %q", sc.ID, sc.Parent)
		}
	}
	if c.Capability.RequireValidSignatures && !c.Capability.VerifySignatures {
		return fmt.Errorf("config: capability.require_valid_signatures needs verify_signatures")
	}
	if (c.SchedulerKeyName == "") != (c.SchedulerKeyRole == "") {
		return fmt.Errorf("config: scheduler_key_name and scheduler_key_role must be set together")
	}
	return nil
}
