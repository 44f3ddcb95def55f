// Package metadatalog writes one structured log line per decoded
// packet to a dedicated file, independent of the daemon's own
// operational logging.
package metadatalog

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/obsrvbl/pnaflowd/internal/packetinfo"
)

// Writer appends packet metadata as structured log lines.
type Writer struct {
	logger  *logrus.Logger
	file    *os.File
	enabled bool
}

// NewWriter builds a Writer. If !enabled or outputFile == "", it
// returns a disabled Writer whose WritePacket is a no-op.
func NewWriter(enabled bool, outputFile, format string) (*Writer, error) {
	if !enabled || outputFile == "" {
		return &Writer{enabled: false}, nil
	}

	log := logrus.New()
	if format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
	}

	f, err := os.OpenFile(outputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("metadatalog: open %s: %w", outputFile, err)
	}
	log.SetOutput(f)
	log.SetLevel(logrus.InfoLevel)

	return &Writer{logger: log, file: f, enabled: true}, nil
}

// WritePacket logs one packet's metadata. A no-op on a disabled
// Writer.
func (w *Writer) WritePacket(info *packetinfo.Info) {
	if !w.enabled {
		return
	}

	fields := logrus.Fields{
		"protocol":    info.Protocol,
		"src_ip":      info.SrcIP,
		"dst_ip":      info.DstIP,
		"src_port":    info.SrcPort,
		"dst_port":    info.DstPort,
		"src_mac":     info.SrcMAC,
		"dst_mac":     info.DstMAC,
		"length":      info.Length,
		"payload_len": info.PayloadLen,
	}
	if info.TCPFlags != "" {
		fields["tcp_flags"] = info.TCPFlags
	}

	w.logger.WithFields(fields).Info("packet")
}

// Close closes the underlying log file, if any.
func (w *Writer) Close() error {
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}
