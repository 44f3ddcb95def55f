// Package config loads pnaflowd's YAML configuration file and applies
// defaults and environment overrides.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Capture CaptureConfig `yaml:"capture"`
	Trie    TrieConfig    `yaml:"trie"`
	Tables  TablesConfig  `yaml:"tables"`
	LogDir  string        `yaml:"log_dir"`
	Sinks   SinksConfig   `yaml:"sinks"`
	Logging LoggingConfig `yaml:"logging"`
}

// CaptureConfig selects and configures the packet source.
type CaptureConfig struct {
	// Source names the capture.Source implementation to use. "tzsp"
	// is the only one built in today.
	Source     string `yaml:"source"`
	ListenAddr string `yaml:"listen_addr"`
	BufferSize int    `yaml:"buffer_size"`
	// SourceName identifies this capture point in dump filenames.
	SourceName string `yaml:"source_name"`
}

// TrieConfig configures the domain trie.
type TrieConfig struct {
	// NetworksFile, if set, is loaded with domaintrie.Build.
	NetworksFile string `yaml:"networks_file"`
	// Networks are additional inline "ip/mask[/netid]" entries. Entries
	// without a netid are assigned sequential netids continuing from the
	// highest netid already assigned (1 when nothing precedes them).
	// When neither NetworksFile nor Networks is configured, applyDefaults
	// seeds the standard RFC 1918 split (10/8->1, 172.16/12->2, 192.168/16->3)
	// so a zero-config run still accounts traffic instead of dropping it all.
	Networks []string `yaml:"networks"`
}

// TablesConfig configures the flow table pool.
type TablesConfig struct {
	Bits  uint `yaml:"bits"`
	Count int  `yaml:"count"`
}

// SinksConfig groups the optional secondary sinks. All are disabled
// unless their Enabled flag is set.
type SinksConfig struct {
	NetFlow      NetFlowSinkConfig      `yaml:"netflow"`
	Webhook      WebhookSinkConfig      `yaml:"webhook"`
	PCAP         PCAPSinkConfig         `yaml:"pcap"`
	MetadataFile MetadataFileSinkConfig `yaml:"metadata_file"`
}

// NetFlowSinkConfig configures the NetFlow v5 exporter.
type NetFlowSinkConfig struct {
	Enabled       bool   `yaml:"enabled"`
	CollectorAddr string `yaml:"collector_addr"`
	Version       int    `yaml:"version"`
	FlowTimeout   int    `yaml:"flow_timeout"`
	ActiveTimeout int    `yaml:"active_timeout"`
}

// WebhookFilterConfig restricts which packets the webhook sink forwards.
type WebhookFilterConfig struct {
	SrcIP    string `yaml:"src_ip"`
	DstIP    string `yaml:"dst_ip"`
	DstPort  uint16 `yaml:"dst_port"`
	Protocol string `yaml:"protocol"`
}

// WebhookSinkConfig configures the generic HTTP forwarding sink.
type WebhookSinkConfig struct {
	Enabled          bool                `yaml:"enabled"`
	Filter           WebhookFilterConfig `yaml:"filter"`
	UpstreamURL      string              `yaml:"upstream_url"`
	IgnoreSSL        bool                `yaml:"ignore_ssl"`
	IgnoreHTTPErrors bool                `yaml:"ignore_http_errors"`
}

// PCAPSinkConfig configures the PCAP mirror.
type PCAPSinkConfig struct {
	Enabled    bool   `yaml:"enabled"`
	OutputFile string `yaml:"output_file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// MetadataFileSinkConfig configures the packet-metadata log sink.
type MetadataFileSinkConfig struct {
	Enabled    bool   `yaml:"enabled"`
	OutputFile string `yaml:"output_file"`
	Format     string `yaml:"format"`
}

// ConsoleConfig configures console logging.
type ConsoleConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
}

// FileConfig configures file logging.
type FileConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains application logging settings.
type LoggingConfig struct {
	Console ConsoleConfig `yaml:"console"`
	File    FileConfig    `yaml:"file"`
}

// envNetworksFile overrides Trie.NetworksFile when set.
const envNetworksFile = "PNA_NETWORKS"

// envLogDir overrides LogDir when set.
const envLogDir = "PNA_LOGDIR"

// Load reads and parses the configuration file, applying defaults. A
// missing file is not an error: the daemon runs on defaults, matching
// how it is meant to work from a bare `-config` flag pointing nowhere
// in particular.
func Load(path string) (*Config, error) {
	var cfg Config

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Capture.Source == "" {
		cfg.Capture.Source = "tzsp"
	}
	if cfg.Capture.ListenAddr == "" {
		cfg.Capture.ListenAddr = ":37008"
	}
	if cfg.Capture.BufferSize == 0 {
		cfg.Capture.BufferSize = 65536
	}
	if cfg.Capture.SourceName == "" {
		cfg.Capture.SourceName = "pnaflowd"
	}
	if cfg.Tables.Bits == 0 {
		cfg.Tables.Bits = 20
	}
	if cfg.Tables.Count == 0 {
		cfg.Tables.Count = 2
	}
	if cfg.LogDir == "" {
		cfg.LogDir = "./logs"
	}
	if cfg.Sinks.NetFlow.FlowTimeout == 0 {
		cfg.Sinks.NetFlow.FlowTimeout = 60
	}
	if cfg.Sinks.NetFlow.ActiveTimeout == 0 {
		cfg.Sinks.NetFlow.ActiveTimeout = 120
	}
	if cfg.Sinks.NetFlow.Version == 0 {
		cfg.Sinks.NetFlow.Version = 5
	}
	if cfg.Logging.Console.Level == "" {
		cfg.Logging.Console.Level = "info"
	}
	if cfg.Logging.File.Level == "" {
		cfg.Logging.File.Level = "info"
	}
	if !cfg.Logging.Console.Enabled && !cfg.Logging.File.Enabled {
		cfg.Logging.Console.Enabled = true
	}
	if cfg.Trie.NetworksFile == "" && len(cfg.Trie.Networks) == 0 {
		cfg.Trie.Networks = []string{
			"10.0.0.0/8/1",
			"172.16.0.0/12/2",
			"192.168.0.0/16/3",
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(envNetworksFile); v != "" {
		cfg.Trie.NetworksFile = v
	}
	if v := os.Getenv(envLogDir); v != "" {
		cfg.LogDir = v
	}
}
