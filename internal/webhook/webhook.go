// Package webhook forwards matching packets to an HTTP endpoint as a
// JSON envelope. It generalizes the domain-specific MQTT/JSON
// scraping the daemon's sensor-export sink used to do into a plain
// packet-metadata forwarder any downstream HTTP service can consume.
package webhook

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/obsrvbl/pnaflowd/internal/logger"
	"github.com/obsrvbl/pnaflowd/internal/packetinfo"
)

// Filter restricts which packets are forwarded. An empty field
// matches anything.
type Filter struct {
	SrcIP    string
	DstIP    string
	DstPort  uint16
	Protocol string // tcp, udp, icmpv4, icmpv6
}

// Config configures a webhook Exporter.
type Config struct {
	Enabled          bool
	Filter           Filter
	UpstreamURL      string
	IgnoreSSL        bool
	IgnoreHTTPErrors bool
	Logger           *logger.Logger
}

// Exporter forwards packetinfo.Info summaries that match its filter
// to an HTTP endpoint.
type Exporter struct {
	config     Config
	httpClient *http.Client
	logger     *logger.Logger
}

// NewExporter builds an Exporter, or returns (nil, nil) if disabled.
func NewExporter(config Config) (*Exporter, error) {
	if !config.Enabled {
		return nil, nil
	}
	if config.UpstreamURL == "" {
		return nil, fmt.Errorf("webhook: upstream URL is required")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("webhook: logger is required")
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: config.IgnoreSSL},
		MaxIdleConns:    10,
		IdleConnTimeout: 30 * time.Second,
	}
	client := &http.Client{Transport: transport, Timeout: 10 * time.Second}

	e := &Exporter{config: config, httpClient: client, logger: config.Logger}
	e.logger.Info("webhook exporter initialized",
		"upstream_url", config.UpstreamURL,
		"ignore_ssl", config.IgnoreSSL,
		"ignore_http_errors", config.IgnoreHTTPErrors)
	return e, nil
}

func (e *Exporter) matchesFilter(info *packetinfo.Info) bool {
	if e.config.Filter.SrcIP != "" && info.SrcIP != e.config.Filter.SrcIP {
		return false
	}
	if e.config.Filter.DstIP != "" && info.DstIP != e.config.Filter.DstIP {
		return false
	}
	if e.config.Filter.DstPort != 0 && info.DstPort != e.config.Filter.DstPort {
		return false
	}
	if e.config.Filter.Protocol != "" && !strings.EqualFold(e.config.Filter.Protocol, info.Protocol) {
		return false
	}
	return true
}

// envelope is the JSON body posted to the upstream URL.
type envelope struct {
	Timestamp int64  `json:"timestamp"`
	SrcIP     string `json:"src_ip"`
	DstIP     string `json:"dst_ip"`
	SrcPort   uint16 `json:"src_port"`
	DstPort   uint16 `json:"dst_port"`
	Protocol  string `json:"protocol"`
	TCPFlags  string `json:"tcp_flags,omitempty"`
	Length    int    `json:"length"`
	Payload   string `json:"payload,omitempty"`
}

// Export posts info to the upstream URL if it matches the configured
// filter.
func (e *Exporter) Export(info *packetinfo.Info) error {
	if !e.matchesFilter(info) {
		e.logger.Debug("webhook filter did not match", "src_ip", info.SrcIP, "dst_ip", info.DstIP, "outcome", "skipped")
		return nil
	}

	env := envelope{
		Timestamp: info.Timestamp,
		SrcIP:     info.SrcIP,
		DstIP:     info.DstIP,
		SrcPort:   info.SrcPort,
		DstPort:   info.DstPort,
		Protocol:  info.Protocol,
		TCPFlags:  info.TCPFlags,
		Length:    info.Length,
	}
	if len(info.PacketData) > 0 {
		env.Payload = string(info.PacketData)
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("webhook: marshal envelope: %w", err)
	}

	if err := e.submit(body); err != nil {
		if e.config.IgnoreHTTPErrors {
			e.logger.Warn("webhook submit failed (ignored)", "error", err, "outcome", "upstream_failed_ignored")
			return nil
		}
		e.logger.Error("webhook submit failed", "error", err, "outcome", "failed_upstream")
		return err
	}

	e.logger.Debug("webhook packet forwarded", "src_ip", info.SrcIP, "dst_ip", info.DstIP, "outcome", "success")
	return nil
}

func (e *Exporter) submit(body []byte) error {
	req, err := http.NewRequest(http.MethodPost, e.config.UpstreamURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "pnaflowd-webhook/1.0")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upstream returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Close releases idle HTTP connections.
func (e *Exporter) Close() error {
	if e == nil {
		return nil
	}
	e.httpClient.CloseIdleConnections()
	e.logger.Info("webhook exporter closed")
	return nil
}
