// Command pnaflowd is a passive network flow accounting daemon. It
// receives TZSP-encapsulated packets, localizes and accounts each one
// into a rotating set of flow tables, and periodically dumps those
// tables to disk in a fixed binary format.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/obsrvbl/pnaflowd/internal/capture"
	"github.com/obsrvbl/pnaflowd/internal/config"
	"github.com/obsrvbl/pnaflowd/internal/domaintrie"
	"github.com/obsrvbl/pnaflowd/internal/dumper"
	"github.com/obsrvbl/pnaflowd/internal/engine"
	"github.com/obsrvbl/pnaflowd/internal/flowtable"
	"github.com/obsrvbl/pnaflowd/internal/logger"
	"github.com/obsrvbl/pnaflowd/internal/metadatalog"
	"github.com/obsrvbl/pnaflowd/internal/netflow"
	"github.com/obsrvbl/pnaflowd/internal/packetinfo"
	"github.com/obsrvbl/pnaflowd/internal/pcapmirror"
	"github.com/obsrvbl/pnaflowd/internal/tzspsource"
	"github.com/obsrvbl/pnaflowd/internal/version"
	"github.com/obsrvbl/pnaflowd/internal/webhook"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("pnaflowd version %s\n", version.GetVersion())
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(&logger.Config{
		Console: logger.ConsoleConfig{
			Enabled: cfg.Logging.Console.Enabled,
			Level:   cfg.Logging.Console.Level,
			Format:  cfg.Logging.Console.Format,
		},
		File: logger.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Level:   cfg.Logging.File.Level,
			Format:  cfg.Logging.File.Format,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	log.Info("========================================")
	log.Info("Starting pnaflowd", "version", version.GetVersion())
	log.Info("========================================")
	log.Info("Configuration loaded", "file", *configPath)

	trie := domaintrie.New(log)
	if cfg.Trie.NetworksFile != "" {
		if err := trie.Build(cfg.Trie.NetworksFile); err != nil {
			log.Error("Failed to load networks file", "file", cfg.Trie.NetworksFile, "error", err)
			os.Exit(1)
		}
		log.Info("[OK] Domain trie loaded from file", "file", cfg.Trie.NetworksFile)
	}
	nextNetID := trie.MaxNetID() + 1
	for _, line := range cfg.Trie.Networks {
		explicit := -1
		if strings.Count(line, "/") < 2 {
			explicit = nextNetID
		}
		if err := trie.Parse(line, explicit); err != nil {
			log.Error("Failed to parse inline network entry", "entry", line, "error", err)
			os.Exit(1)
		}
		nextNetID = trie.MaxNetID() + 1
	}

	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		log.Error("Failed to create log directory", "dir", cfg.LogDir, "error", err)
		os.Exit(1)
	}
	dmp := dumper.New(cfg.LogDir, cfg.Capture.SourceName)

	pool := flowtable.NewPool(cfg.Tables.Count, cfg.Tables.Bits, func(t *flowtable.Table) error {
		path, err := dmp.Dump(t)
		if err != nil {
			return err
		}
		log.Info("flow table dumped", "table", t.ID, "path", path, "flows", t.NFlows, "flows_missed", t.NFlowsMissed)
		return nil
	}, log)

	eng := engine.New(trie, pool, nil)

	src := tzspsource.New(tzspsource.Config{
		ListenAddr: cfg.Capture.ListenAddr,
		BufferSize: cfg.Capture.BufferSize,
		Logger:     log,
	})

	sinks := buildSinks(cfg, log)
	defer sinks.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- src.Run(ctx, func(frame capture.Frame) {
			eng.Process(frame)
			sinks.Handle(frame)
		})
	}()

	go reportStats(ctx, log, eng)

	select {
	case <-sigChan:
		log.Info("Received shutdown signal, shutting down gracefully...")
	case err := <-errChan:
		if err != nil {
			log.Error("Capture source stopped with error", "error", err)
		}
	}

	cancel()
	src.Stop()
	eng.Shutdown()
	log.Info("pnaflowd terminated")
}

func reportStats(ctx context.Context, log *logger.Logger, eng *engine.Engine) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := eng.Stats()
			log.Info("stats", "received", s.Received, "accepted", s.Accepted, "dropped", s.Dropped)
		}
	}
}

// sinkSet bundles the optional secondary sinks that consume
// packetinfo.Info alongside the primary accounting engine.
type sinkSet struct {
	log     *logger.Logger
	decoder *packetinfo.Decoder
	netflow *netflow.Exporter
	webhook *webhook.Exporter
	pcap    *pcapmirror.Writer
	meta    *metadatalog.Writer
}

func buildSinks(cfg *config.Config, log *logger.Logger) *sinkSet {
	s := &sinkSet{log: log}

	anyDecodeSink := cfg.Sinks.NetFlow.Enabled || cfg.Sinks.Webhook.Enabled || cfg.Sinks.MetadataFile.Enabled
	if anyDecodeSink {
		s.decoder = packetinfo.NewDecoder()
	}

	if cfg.Sinks.NetFlow.Enabled {
		exp, err := netflow.NewExporter(
			cfg.Sinks.NetFlow.CollectorAddr,
			cfg.Sinks.NetFlow.Version,
			cfg.Sinks.NetFlow.FlowTimeout,
			cfg.Sinks.NetFlow.ActiveTimeout,
		)
		if err != nil {
			log.Error("Failed to initialize NetFlow exporter", "error", err)
		} else {
			s.netflow = exp
			log.Info("[OK] NetFlow exporter initialized", "collector", cfg.Sinks.NetFlow.CollectorAddr)
		}
	}

	if cfg.Sinks.Webhook.Enabled {
		exp, err := webhook.NewExporter(webhook.Config{
			Enabled: cfg.Sinks.Webhook.Enabled,
			Filter: webhook.Filter{
				SrcIP:    cfg.Sinks.Webhook.Filter.SrcIP,
				DstIP:    cfg.Sinks.Webhook.Filter.DstIP,
				DstPort:  cfg.Sinks.Webhook.Filter.DstPort,
				Protocol: cfg.Sinks.Webhook.Filter.Protocol,
			},
			UpstreamURL:      cfg.Sinks.Webhook.UpstreamURL,
			IgnoreSSL:        cfg.Sinks.Webhook.IgnoreSSL,
			IgnoreHTTPErrors: cfg.Sinks.Webhook.IgnoreHTTPErrors,
			Logger:           log,
		})
		if err != nil {
			log.Error("Failed to initialize webhook exporter", "error", err)
		} else {
			s.webhook = exp
			log.Info("[OK] Webhook exporter initialized", "upstream", cfg.Sinks.Webhook.UpstreamURL)
		}
	}

	if cfg.Sinks.PCAP.Enabled {
		w, err := pcapmirror.NewWriter(cfg.Sinks.PCAP.OutputFile, cfg.Sinks.PCAP.MaxSizeMB, cfg.Sinks.PCAP.MaxBackups)
		if err != nil {
			log.Error("Failed to initialize PCAP mirror", "error", err)
		} else {
			s.pcap = w
			log.Info("[OK] PCAP mirror initialized", "file", cfg.Sinks.PCAP.OutputFile)
		}
	}

	if cfg.Sinks.MetadataFile.Enabled {
		w, err := metadatalog.NewWriter(cfg.Sinks.MetadataFile.Enabled, cfg.Sinks.MetadataFile.OutputFile, cfg.Sinks.MetadataFile.Format)
		if err != nil {
			log.Error("Failed to initialize metadata log", "error", err)
		} else {
			s.meta = w
			log.Info("[OK] Metadata log initialized", "file", cfg.Sinks.MetadataFile.OutputFile)
		}
	}

	return s
}

// Handle mirrors and/or decodes frame for whichever secondary sinks
// are enabled. It never touches the primary accounting path.
func (s *sinkSet) Handle(frame capture.Frame) {
	if s.pcap != nil {
		if err := s.pcap.WriteFrame(frame); err != nil {
			s.log.Error("pcap mirror write failed", "error", err)
		}
	}

	if s.decoder == nil {
		return
	}
	info, err := s.decoder.Decode(frame.Data, frame.Timestamp.UnixNano())
	if err != nil {
		return
	}

	if s.netflow != nil {
		s.netflow.ProcessPacket(info)
	}
	if s.webhook != nil {
		s.webhook.Export(info)
	}
	if s.meta != nil {
		s.meta.WritePacket(info)
	}
}

func (s *sinkSet) Close() {
	if s.netflow != nil {
		s.netflow.Close()
	}
	if s.webhook != nil {
		s.webhook.Close()
	}
	if s.pcap != nil {
		s.pcap.Close()
	}
	if s.meta != nil {
		s.meta.Close()
	}
}
