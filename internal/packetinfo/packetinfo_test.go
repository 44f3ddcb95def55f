package packetinfo

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

func buildTCPFrame(t *testing.T, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolTCP,
		SrcIP: net.IPv4(10, 0, 0, 1), DstIP: net.IPv4(10, 0, 0, 2)}
	tcp := &layers.TCP{SrcPort: 4000, DstPort: 443, SYN: true, ACK: true, Window: 1024}
	tcp.SetNetworkLayerForChecksum(ip)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	var err error
	if len(payload) > 0 {
		err = gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(payload))
	} else {
		err = gopacket.SerializeLayers(buf, opts, eth, ip, tcp)
	}
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeTCPFields(t *testing.T) {
	data := buildTCPFrame(t, []byte(`{"hello":"world"}`))
	info, err := NewDecoder().Decode(data, 1234)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if info.Protocol != "TCP" {
		t.Fatalf("expected TCP, got %q", info.Protocol)
	}
	if info.SrcIP != "10.0.0.1" || info.DstIP != "10.0.0.2" {
		t.Fatalf("unexpected IPs: %+v", info)
	}
	if info.SrcPort != 4000 || info.DstPort != 443 {
		t.Fatalf("unexpected ports: %+v", info)
	}
	if info.TCPFlags != "SA" {
		t.Fatalf("expected flags SA, got %q", info.TCPFlags)
	}
	if string(info.PacketData) != `{"hello":"world"}` {
		t.Fatalf("unexpected payload: %q", info.PacketData)
	}
}

func TestDecodeRejectsEmptyFrame(t *testing.T) {
	if _, err := NewDecoder().Decode(nil, 0); err == nil {
		t.Fatal("expected an error for an empty frame")
	}
}
