package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Capture.Source != "tzsp" {
		t.Fatalf("expected default capture source, got %q", cfg.Capture.Source)
	}
	if cfg.Tables.Bits != 20 || cfg.Tables.Count != 2 {
		t.Fatalf("unexpected table defaults: %+v", cfg.Tables)
	}
	if !cfg.Logging.Console.Enabled {
		t.Fatal("expected console logging enabled by default when nothing is configured")
	}
	wantNetworks := []string{"10.0.0.0/8/1", "172.16.0.0/12/2", "192.168.0.0/16/3"}
	if len(cfg.Trie.Networks) != len(wantNetworks) {
		t.Fatalf("expected default networks %v, got %v", wantNetworks, cfg.Trie.Networks)
	}
	for i, want := range wantNetworks {
		if cfg.Trie.Networks[i] != want {
			t.Fatalf("expected default networks %v, got %v", wantNetworks, cfg.Trie.Networks)
		}
	}
}

func TestLoadParsesYAMLAndKeepsExplicitValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pnaflowd.yaml")
	data := []byte(`
capture:
  source: tzsp
  listen_addr: "0.0.0.0:9999"
  source_name: edge-1
trie:
  networks_file: /etc/pnaflowd/networks.txt
tables:
  bits: 16
  count: 4
sinks:
  netflow:
    enabled: true
    collector_addr: 10.1.1.1:2055
logging:
  file:
    enabled: true
    path: /var/log/pnaflowd/pnaflowd.log
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Capture.ListenAddr != "0.0.0.0:9999" || cfg.Capture.SourceName != "edge-1" {
		t.Fatalf("unexpected capture config: %+v", cfg.Capture)
	}
	if cfg.Tables.Bits != 16 || cfg.Tables.Count != 4 {
		t.Fatalf("unexpected table config: %+v", cfg.Tables)
	}
	if !cfg.Sinks.NetFlow.Enabled || cfg.Sinks.NetFlow.CollectorAddr != "10.1.1.1:2055" {
		t.Fatalf("unexpected netflow sink config: %+v", cfg.Sinks.NetFlow)
	}
	// defaulted even though only collector_addr/enabled were set explicitly
	if cfg.Sinks.NetFlow.FlowTimeout != 60 || cfg.Sinks.NetFlow.ActiveTimeout != 120 {
		t.Fatalf("expected netflow timeout defaults to fill in, got %+v", cfg.Sinks.NetFlow)
	}
	if !cfg.Logging.File.Enabled || cfg.Logging.File.Path != "/var/log/pnaflowd/pnaflowd.log" {
		t.Fatalf("unexpected file logging config: %+v", cfg.Logging.File)
	}
	// file logging was explicitly enabled, so console should NOT be force-defaulted on
	if cfg.Logging.Console.Enabled {
		t.Fatal("did not expect console logging to be auto-enabled when file logging is explicit")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(envNetworksFile, "/tmp/override-networks.txt")
	t.Setenv(envLogDir, "/tmp/override-logs")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Trie.NetworksFile != "/tmp/override-networks.txt" {
		t.Fatalf("expected env override for networks file, got %q", cfg.Trie.NetworksFile)
	}
	if cfg.LogDir != "/tmp/override-logs" {
		t.Fatalf("expected env override for log dir, got %q", cfg.LogDir)
	}
	if len(cfg.Trie.Networks) != 0 {
		t.Fatalf("did not expect default inline networks once a networks file is set via env, got %v", cfg.Trie.Networks)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("capture: [this is not a map"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for malformed YAML")
	}
}
