package netflow

import (
	"net"
	"testing"
	"time"

	"github.com/obsrvbl/pnaflowd/internal/packetinfo"
)

func listenUDP(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	return conn
}

func TestProcessPacketAggregatesBeforeExport(t *testing.T) {
	collector := listenUDP(t)
	defer collector.Close()

	exp, err := NewExporter(collector.LocalAddr().String(), 5, 60, 120)
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	defer exp.Close()

	info := &packetinfo.Info{
		SrcIP: "10.0.0.1", DstIP: "10.0.0.2",
		SrcPort: 1234, DstPort: 80,
		Protocol: "TCP", TCPFlags: "S",
		Length: 60, Timestamp: time.Now().UnixNano(),
	}
	if err := exp.ProcessPacket(info); err != nil {
		t.Fatalf("ProcessPacket: %v", err)
	}

	exp.mu.Lock()
	defer exp.mu.Unlock()
	if len(exp.flows) != 1 {
		t.Fatalf("expected one in-progress flow, got %d", len(exp.flows))
	}
	for _, f := range exp.flows {
		if f.Packets != 1 || f.Bytes != 60 {
			t.Fatalf("unexpected flow counters: %+v", f)
		}
	}
}

func TestProcessPacketSkipsNonIP(t *testing.T) {
	collector := listenUDP(t)
	defer collector.Close()

	exp, err := NewExporter(collector.LocalAddr().String(), 5, 60, 120)
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	defer exp.Close()

	if err := exp.ProcessPacket(&packetinfo.Info{}); err != nil {
		t.Fatalf("ProcessPacket: %v", err)
	}
	exp.mu.Lock()
	defer exp.mu.Unlock()
	if len(exp.flows) != 0 {
		t.Fatal("expected non-IP packet to be skipped")
	}
}

func TestCloseFlushesPendingFlows(t *testing.T) {
	collector := listenUDP(t)
	defer collector.Close()

	exp, err := NewExporter(collector.LocalAddr().String(), 5, 60, 120)
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}

	info := &packetinfo.Info{
		SrcIP: "10.0.0.1", DstIP: "10.0.0.2",
		SrcPort: 1234, DstPort: 80,
		Protocol: "UDP", Length: 60, Timestamp: time.Now().UnixNano(),
	}
	if err := exp.ProcessPacket(info); err != nil {
		t.Fatalf("ProcessPacket: %v", err)
	}
	if err := exp.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	collector.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 128)
	n, err := collector.Read(buf)
	if err != nil {
		t.Fatalf("expected a NetFlow v5 datagram on close, got error: %v", err)
	}
	if n != 72 {
		t.Fatalf("expected 72-byte NetFlow v5 datagram, got %d bytes", n)
	}
}
