package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `
listen: "0.0.0.0:7410"
metrics_listen: "127.0.0.1:9090"
log_level: debug
store:
  backend: localfs
  dir: /var/lib/mesh
  replicas:
    - /mnt/replica-a
scopes:
  - type: federation
    id: icn.fed
    authorized:
      - did:icn:ed25519:abc
  - type: cooperative
    id: solar.coop
    parent: icn.fed
    authorized:
      - did:icn:ed25519:abc
      - did:icn:ed25519:def
capability:
  verify_signatures: true
  require_valid_signatures: true
  trusted_dids:
    - did:icn:ed25519:abc
trust_policy_path: /etc/mesh/policy.txt
scheduler_key_name: sched
scheduler_key_role: scheduler
scheduler_bid_window_secs: 30
`

func TestParseFull(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Listen != "0.0.0.0:7410" || cfg.LogLevel != "debug" {
		t.Fatalf("top level = %+v", cfg)
	}
	if cfg.Store.Backend != "localfs" || cfg.Store.Dir != "/var/lib/mesh" || len(cfg.Store.Replicas) != 1 {
		t.Fatalf("store = %+v", cfg.Store)
	}
	if len(cfg.Scopes) != 2 || cfg.Scopes[1].Parent != "icn.fed" || len(cfg.Scopes[1].Authorized) != 2 {
		t.Fatalf("scopes = %+v", cfg.Scopes)
	}
	if !cfg.Capability.RequireValidSignatures || len(cfg.Capability.TrustedDIDs) != 1 {
		t.Fatalf("capability = %+v", cfg.Capability)
	}
	if cfg.SchedulerKeyName != "sched" || cfg.SchedulerBidWindowSecs != 30 {
		t.Fatalf("scheduler = %+v", cfg)
	}
}

func TestParseKeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte("log_level: warn\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	def := Default()
	if cfg.Listen != def.Listen || cfg.Store.Backend != def.Store.Backend {
		t.Fatalf("defaults not preserved: %+v", cfg)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("LogLevel = %s", cfg.LogLevel)
	}
	if cfg.SchedulerBidWindowSecs != def.SchedulerBidWindowSecs {
		t.Fatalf("SchedulerBidWindowSecs = %d", cfg.SchedulerBidWindowSecs)
	}
}

func TestParseRejectsUnknownField(t *testing.T) {
	if _, err := Parse([]byte("listen: \":7410\"\nsurprise: true\n")); err == nil {
		t.Fatalf("unknown field accepted")
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"MissingListen", strings.Replace(validYAML, `listen: "0.0.0.0:7410"`, `listen: ""`, 1)},
		{"BadLogLevel", strings.Replace(validYAML, "log_level: debug", "log_level: verbose", 1)},
		{"MissingBackend", strings.Replace(validYAML, "backend: localfs", `backend: ""`, 1)},
		{"LocalfsWithoutDir", strings.Replace(validYAML, "dir: /var/lib/mesh", `dir: ""`, 1)},
		{"EmptyScopeID", strings.Replace(validYAML, "id: solar.coop", `id: ""`, 1)},
		{"DuplicateScope", strings.Replace(validYAML, "id: solar.coop", "id: icn.fed", 1)},
		{"ParentDeclaredAfterChild", strings.Replace(validYAML, "parent: icn.fed", "parent: makers.community", 1)},
		{"RequireWithoutVerify", strings.Replace(validYAML, "verify_signatures: true", "verify_signatures: false", 1)},
		{"SchedulerNameWithoutRole", strings.Replace(validYAML, "scheduler_key_role: scheduler", `scheduler_key_role: ""`, 1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse([]byte(tc.yaml)); err == nil {
				t.Fatalf("malformed configuration accepted")
			}
		})
	}
}

func TestMemBackendNeedsNoDir(t *testing.T) {
	cfg, err := Parse([]byte("listen: \":7410\"\nstore:\n  backend: mem\n  dir: \"\"\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Store.Backend != "mem" {
		t.Fatalf("backend = %s", cfg.Store.Backend)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mesh.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != "0.0.0.0:7410" {
		t.Fatalf("Listen = %s", cfg.Listen)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("Load accepted a missing file")
	}
}
