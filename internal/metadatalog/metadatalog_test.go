package metadatalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/obsrvbl/pnaflowd/internal/packetinfo"
)

func TestDisabledWriterIsNoOp(t *testing.T) {
	w, err := NewWriter(false, "", "")
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.WritePacket(&packetinfo.Info{SrcIP: "10.0.0.1"})
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestWritePacketAppendsLogLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.log")
	w, err := NewWriter(true, path, "json")
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	w.WritePacket(&packetinfo.Info{SrcIP: "10.0.0.1", DstIP: "10.0.0.2", Protocol: "TCP"})
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected a non-empty metadata log file")
	}
}
